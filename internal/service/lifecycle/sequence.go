package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CountSequence выдаёт номер как число заказов с начала года плюс один.
// Два параллельных создания могут получить один номер; уникальный индекс
// отвергает второе, и CreateOrder повторяет единицу работы.
type CountSequence struct{}

// NewCountSequence создаёт последовательность на подсчёте заказов.
func NewCountSequence() CountSequence {
	return CountSequence{}
}

// Next возвращает номер вида ORD-<год>-<NNNN>.
func (CountSequence) Next(ctx context.Context, tx domain.Tx, at time.Time) (string, error) {
	count, err := tx.Orders().CountSince(ctx, domain.YearStart(at))
	if err != nil {
		return "", fmt.Errorf("count orders since year start: %w", err)
	}
	return domain.FormatOrderNumber(at.UTC().Year(), count+1), nil
}

var _ domain.OrderNumberSequence = CountSequence{}
