package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront-live/internal/aggregate"
	"storefront-live/internal/event"
	"storefront-live/internal/observability"
	"storefront-live/internal/realtime"
	"storefront-live/internal/storage"
)

// Wallet credits reward coins from the bound user's orders to the persisted
// balance.
type Wallet struct {
	store   storage.StateStore
	userID  string
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	credited *aggregate.Deduper
}

// NewWallet creates a wallet for userID backed by store.
func NewWallet(store storage.StateStore, userID string, logger *slog.Logger) *Wallet {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wallet{
		store:    store,
		userID:   userID,
		timeout:  5 * time.Second,
		logger:   logger.With("component", "wallet", "user", userID),
		credited: aggregate.NewDeduper(0),
	}
}

// Options returns the binding for this wallet: the user's order channel.
func (w *Wallet) Options() realtime.Options {
	return realtime.Options{
		Channels:       []string{event.Order.String()},
		Scope:          w.userID,
		Filters:        map[string]any{"userId": w.userID},
		OnOrderCreated: w.Handle,
	}
}

// Handle credits the coins of an order placed by the wallet's user. Each
// order is credited once; a failed write is retried on redelivery.
func (w *Wallet) Handle(ev event.Event) error {
	var p event.OrderPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.UserID != w.userID || p.CoinsEarned <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	id := p.Key()
	if w.credited.Contains(id) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	balance, err := w.store.Add(ctx, w.userID, storage.FieldCoins, p.CoinsEarned)
	if err != nil {
		return fmt.Errorf("credit order %s: %w", id, err)
	}
	w.credited.Observe(id)

	observability.RecordWalletCredit(p.CoinsEarned)
	w.logger.Info("coins credited", "order", id, "coins", p.CoinsEarned, "balance", balance)
	return nil
}

// Balance returns the persisted coin balance, zero if none.
func (w *Wallet) Balance(ctx context.Context) (int64, error) {
	v, err := w.store.Get(ctx, w.userID, storage.FieldCoins)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	return v, err
}
