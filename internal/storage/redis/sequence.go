// Package redis содержит счётчики на Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mediocregopher/radix/v3"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultPoolSize = 10

// Sequence выдаёт номера заказов атомарным INCR по ключу года. Перед первым
// INCR ключ засевается числом уже оформленных в этом году заказов, поэтому
// счётчик не отстаёт от базы после потери данных Redis.
type Sequence struct {
	client radix.Client
	prefix string
}

// NewPool открывает пул соединений к Redis.
func NewPool(addr string) (*radix.Pool, error) {
	pool, err := radix.NewPool("tcp", addr, defaultPoolSize)
	if err != nil {
		return nil, fmt.Errorf("open redis pool: %w", err)
	}
	return pool, nil
}

// NewSequence создаёт последовательность поверх клиента radix.
func NewSequence(client radix.Client) *Sequence {
	return &Sequence{client: client, prefix: "orders:seq"}
}

func (s *Sequence) key(year int) string {
	return fmt.Sprintf("%s:%d", s.prefix, year)
}

// Next возвращает следующий номер заказа для года момента at.
func (s *Sequence) Next(ctx context.Context, tx domain.Tx, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	year := at.UTC().Year()
	key := s.key(year)

	count, err := tx.Orders().CountSince(ctx, domain.YearStart(at))
	if err != nil {
		return "", fmt.Errorf("count orders for sequence seed: %w", err)
	}
	if err := s.client.Do(radix.FlatCmd(nil, "SET", key, count, "NX")); err != nil {
		return "", fmt.Errorf("seed order sequence: %w", err)
	}

	var seq int64
	if err := s.client.Do(radix.Cmd(&seq, "INCR", key)); err != nil {
		return "", fmt.Errorf("incr order sequence: %w", err)
	}
	return domain.FormatOrderNumber(year, seq), nil
}

// Ping проверяет доступность Redis.
func Ping(ctx context.Context, client radix.Client) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var pong string
	if err := client.Do(radix.Cmd(&pong, "PING")); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if pong != "PONG" {
		return fmt.Errorf("redis ping: unexpected reply %q", pong)
	}
	return nil
}

var _ domain.OrderNumberSequence = (*Sequence)(nil)
