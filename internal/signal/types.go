// Package signal normalizes inbound webhook payloads into order intents.
package signal

import (
	"errors"

	"trade-relay/pkg/exchanges/common"
)

// Target is the desired position after the order is worked.
type Target string

const (
	TargetLong  Target = "long"
	TargetShort Target = "short"
	TargetFlat  Target = "flat"
	// TargetUnset marks "no prior order observed" in account state.
	TargetUnset Target = ""
)

// OrderType selects how the order is priced.
type OrderType string

const (
	OrderMarket      OrderType = "market"
	OrderLimit       OrderType = "limit"
	OrderMarketLimit OrderType = "market-limit"
	// OrderUnset marks "no prior order observed" in account state.
	OrderUnset OrderType = ""
)

// Intent is the normalized description of a desired trading action.
// Symbol and Amount are always set; Price is meaningful only when HasPrice.
type Intent struct {
	Symbol    string
	Amount    float64
	Side      common.Side
	Position  Target
	OrderType OrderType
	Price     float64
	HasPrice  bool
}

// Parse error kinds. Callers match with errors.Is; the wrapped message names
// the offending field.
var (
	// ErrNotApplicable means the payload is neither a JSON command nor a
	// pattern alert; the request must degrade to a no-op.
	ErrNotApplicable       = errors.New("payload is not a recognized signal")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrMissingField        = errors.New("missing field")
	ErrInvalidNumber       = errors.New("invalid number")
	ErrUnrecognizedPattern = errors.New("unrecognized pattern keyword")
)
