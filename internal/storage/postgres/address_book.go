package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type addressBook struct {
	q queryer
}

func (b *addressBook) Owns(ctx context.Context, userID, addressID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var owns bool
	if err := b.q.GetContext(ctx, &owns, `
		SELECT EXISTS (SELECT 1 FROM addresses WHERE id = $1 AND user_id = $2)
	`, addressID, userID); err != nil {
		return false, fmt.Errorf("check address owner: %w", err)
	}
	return owns, nil
}

// AddAddress регистрирует адрес пользователя.
func (s *Store) AddAddress(ctx context.Context, userID, addressID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO addresses (id, user_id) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, addressID, userID); err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

var _ domain.AddressBook = (*addressBook)(nil)
