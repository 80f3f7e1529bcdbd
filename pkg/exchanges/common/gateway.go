package common

import "context"

// Gateway abstracts the exchange account operations the relay depends on.
// Implementations return either a result or an error; callers treat any error
// uniformly as "this step failed" and record the message.
type Gateway interface {
	// FetchPositions returns the open positions for a symbol. An empty slice
	// means no position is held.
	FetchPositions(ctx context.Context, symbol string) ([]Position, error)
	// FetchInstruments lists tradable instruments for a market category.
	FetchInstruments(ctx context.Context, category Category) ([]Instrument, error)
	// CreateMarketOrder places a market order and returns the exchange ack.
	CreateMarketOrder(ctx context.Context, symbol string, side Side, amount float64) (OrderRef, error)
	// CreateLimitOrder places a limit order and returns the exchange ack.
	CreateLimitOrder(ctx context.Context, symbol string, side Side, amount, price float64) (OrderRef, error)
	// CancelAllOrders cancels every resting order for a symbol.
	CancelAllOrders(ctx context.Context, symbol string) error
}
