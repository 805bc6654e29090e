package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const selectPaymentColumns = `
	SELECT id, order_id, gateway_order_ref, gateway_payment_ref, amount, amount_minor,
	       currency, status, method, card_network, card_last4, bank, wallet,
	       paid_at, version, created_at, updated_at
	FROM payments
`

type paymentRow struct {
	ID                string          `db:"id"`
	OrderID           string          `db:"order_id"`
	GatewayOrderRef   sql.NullString  `db:"gateway_order_ref"`
	GatewayPaymentRef sql.NullString  `db:"gateway_payment_ref"`
	Amount            decimal.Decimal `db:"amount"`
	AmountMinor       int64           `db:"amount_minor"`
	Currency          string          `db:"currency"`
	Status            string          `db:"status"`
	Method            string          `db:"method"`
	CardNetwork       string          `db:"card_network"`
	CardLast4         string          `db:"card_last4"`
	Bank              string          `db:"bank"`
	Wallet            string          `db:"wallet"`
	PaidAt            sql.NullTime    `db:"paid_at"`
	Version           int64           `db:"version"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r paymentRow) toDomain() domain.Payment {
	payment := domain.Payment{
		ID:                r.ID,
		OrderID:           r.OrderID,
		GatewayOrderRef:   r.GatewayOrderRef.String,
		GatewayPaymentRef: r.GatewayPaymentRef.String,
		Amount:            r.Amount,
		AmountMinor:       r.AmountMinor,
		Currency:          r.Currency,
		Status:            domain.PaymentStatus(r.Status),
		Details: domain.PaymentDetails{
			Method:      r.Method,
			CardNetwork: r.CardNetwork,
			CardLast4:   r.CardLast4,
			Bank:        r.Bank,
			Wallet:      r.Wallet,
		},
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.PaidAt.Valid {
		paidAt := r.PaidAt.Time.UTC()
		payment.PaidAt = &paidAt
	}
	return payment
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type paymentRepository struct {
	q queryer
}

func (r *paymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if payment.Version == 0 {
		payment.Version = 1
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, gateway_order_ref, gateway_payment_ref, amount, amount_minor,
			currency, status, method, card_network, card_last4, bank, wallet,
			paid_at, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		payment.ID, payment.OrderID, nullString(payment.GatewayOrderRef), nullString(payment.GatewayPaymentRef),
		payment.Amount, payment.AmountMinor, payment.Currency, string(payment.Status),
		payment.Details.Method, payment.Details.CardNetwork, payment.Details.CardLast4,
		payment.Details.Bank, payment.Details.Wallet,
		payment.PaidAt, payment.Version, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrPaymentAlreadyExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.getOne(ctx, selectPaymentColumns+` WHERE order_id = $1`, orderID)
}

func (r *paymentRepository) GetByOrderForUpdate(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.getOne(ctx, selectPaymentColumns+` WHERE order_id = $1 FOR UPDATE`, orderID)
}

func (r *paymentRepository) GetByGatewayOrderRef(ctx context.Context, ref string) (domain.Payment, error) {
	if ref == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.getOne(ctx, selectPaymentColumns+` WHERE gateway_order_ref = $1`, ref)
}

func (r *paymentRepository) getOne(ctx context.Context, query string, arg string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row paymentRow
	if err := r.q.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return row.toDomain(), nil
}

// Save обновляет платёж. Ссылка шлюза на заказ задаётся один раз: COALESCE
// не даёт перезаписать уже сохранённое значение.
func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row paymentRow
	err := r.q.GetContext(ctx, &row, `
		UPDATE payments
		SET gateway_order_ref = COALESCE(gateway_order_ref, $1),
		    gateway_payment_ref = $2,
		    amount = $3,
		    amount_minor = $4,
		    status = $5,
		    method = $6,
		    card_network = $7,
		    card_last4 = $8,
		    bank = $9,
		    wallet = $10,
		    paid_at = $11,
		    updated_at = $12,
		    version = version + 1
		WHERE id = $13
		  AND version = $14
		RETURNING id, order_id, gateway_order_ref, gateway_payment_ref, amount, amount_minor,
		          currency, status, method, card_network, card_last4, bank, wallet,
		          paid_at, version, created_at, updated_at
	`,
		nullString(payment.GatewayOrderRef),
		nullString(payment.GatewayPaymentRef),
		payment.Amount,
		payment.AmountMinor,
		string(payment.Status),
		payment.Details.Method,
		payment.Details.CardNetwork,
		payment.Details.CardLast4,
		payment.Details.Bank,
		payment.Details.Wallet,
		payment.PaidAt,
		payment.UpdatedAt,
		payment.ID,
		payment.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Payment{}, domain.ErrPaymentAlreadyExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, fmt.Errorf("update payment: %w", err)
		}

		var exists bool
		if err := r.q.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, payment.ID); err != nil {
			return domain.Payment{}, fmt.Errorf("check payment exists: %w", err)
		}
		if !exists {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, domain.ErrPaymentVersionConflict
	}

	updated := row.toDomain()
	if payment.GatewayOrderRef != "" && updated.GatewayOrderRef != payment.GatewayOrderRef {
		return domain.Payment{}, fmt.Errorf("%w: gateway order reference is immutable", domain.ErrInvalidState)
	}
	return updated, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
