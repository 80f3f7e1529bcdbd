// Package account holds per-sub-account trading state for the relay.
package account

import (
	"context"
	"fmt"
	"sync"

	"trade-relay/internal/signal"
	"trade-relay/pkg/exchanges/common"
)

// Config identifies one sub-account and its pattern-alert defaults.
type Config struct {
	Name          string
	DefaultSymbol string
	DefaultAmount float64
}

// OrderState is the remembered last order. The zero value means no prior
// order has been observed since startup; it is a client-side hint only, never
// authoritative for what the exchange holds.
type OrderState struct {
	Type     signal.OrderType
	Side     common.Side
	Position signal.Target
	OrderID  string
}

// Account is one configured sub-account: its gateway, its defaults and its
// remembered last-order state. The engine serializes all reconciliations for
// an account by holding its lock for the whole cancel/close/create sequence;
// accounts never block each other.
type Account struct {
	mu      sync.Mutex
	cfg     Config
	gateway common.Gateway
	last    OrderState
}

// New creates an account around its exchange gateway.
func New(cfg Config, gateway common.Gateway) *Account {
	return &Account{cfg: cfg, gateway: gateway}
}

func (a *Account) Name() string            { return a.cfg.Name }
func (a *Account) Gateway() common.Gateway { return a.gateway }

func (a *Account) Defaults() signal.Defaults {
	return signal.Defaults{Symbol: a.cfg.DefaultSymbol, Amount: a.cfg.DefaultAmount}
}

// Lock serializes reconciliations for this account. Held for the duration of
// one full reconcile call.
func (a *Account) Lock() { a.mu.Lock() }

// Unlock releases the reconciliation lock.
func (a *Account) Unlock() { a.mu.Unlock() }

// LastOrder returns the remembered state. The caller must hold the account
// lock.
func (a *Account) LastOrder() OrderState { return a.last }

// SetLastOrder records the new remembered state. The caller must hold the
// account lock.
func (a *Account) SetLastOrder(state OrderState) { a.last = state }

// Status is a point-in-time view of the account for the status API.
type Status struct {
	Name          string  `json:"name"`
	DefaultSymbol string  `json:"default_symbol"`
	DefaultAmount float64 `json:"default_amount"`
	LastOrderType string  `json:"last_order_type"`
	LastOrderSide string  `json:"last_order_side"`
	LastPosition  string  `json:"last_position"`
	LastOrderID   string  `json:"last_order_id"`
}

// Snapshot takes the account lock and returns the current view. It waits for
// any in-flight reconciliation to finish.
func (a *Account) Snapshot() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Name:          a.cfg.Name,
		DefaultSymbol: a.cfg.DefaultSymbol,
		DefaultAmount: a.cfg.DefaultAmount,
		LastOrderType: string(a.last.Type),
		LastOrderSide: string(a.last.Side),
		LastPosition:  string(a.last.Position),
		LastOrderID:   a.last.OrderID,
	}
}

// VerifyTradableInstruments is the startup health gate: the account is ready
// only when both the spot and linear instrument categories list at least one
// tradable symbol. Not called at request time.
func (a *Account) VerifyTradableInstruments(ctx context.Context) error {
	for _, category := range []common.Category{common.CategorySpot, common.CategoryLinear} {
		instruments, err := a.gateway.FetchInstruments(ctx, category)
		if err != nil {
			return fmt.Errorf("fetch %s instruments: %w", category, err)
		}
		if len(instruments) == 0 {
			return fmt.Errorf("no %s instruments returned", category)
		}
	}
	return nil
}
