package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type addressBook struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
}

func newAddressBook() *addressBook {
	return &addressBook{byUser: make(map[string]map[string]struct{})}
}

func (b *addressBook) add(userID, addressID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	addresses, ok := b.byUser[userID]
	if !ok {
		addresses = make(map[string]struct{})
		b.byUser[userID] = addresses
	}
	addresses[addressID] = struct{}{}
}

func (b *addressBook) Owns(_ context.Context, userID, addressID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.byUser[userID][addressID]
	return ok, nil
}

var _ domain.AddressBook = (*addressBook)(nil)
