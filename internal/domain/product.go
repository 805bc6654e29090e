package domain

import "github.com/shopspring/decimal"

// Product — товар каталога. Ядро читает цену и остаток и условно меняет сток.
type Product struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	StockQuantity int32
	IsActive      bool
}

// Available сообщает, можно ли продать qty единиц товара.
func (p Product) Available(qty int32) bool {
	return p.IsActive && p.StockQuantity >= qty
}
