package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrency — валюта витрины по умолчанию.
const DefaultCurrency = "INR"

var minorUnitsFactor = decimal.NewFromInt(100)

// ToMinorUnits переводит сумму в минимальные единицы шлюза (пайсы, центы)
// с округлением half away from zero: 1999.00 -> 199900.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitsFactor).Round(0).IntPart()
}

// FromMinorUnits — обратное преобразование.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FormatAmount печатает сумму в виде "1999.00 INR".
func FormatAmount(amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
}
