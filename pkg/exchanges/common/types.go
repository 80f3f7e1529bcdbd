package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionSide denotes the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionNone  PositionSide = ""
)

// Category distinguishes instrument categories on the venue.
type Category string

const (
	CategorySpot   Category = "spot"
	CategoryLinear Category = "linear"
)

// Position is an ephemeral snapshot of one open position. It is re-fetched
// every time it is needed; the exchange holds the authoritative state.
type Position struct {
	Symbol    string
	Side      PositionSide
	Contracts float64
}

// Instrument describes one tradable symbol in a category.
type Instrument struct {
	Symbol   string
	Category Category
	Status   string
}

// OrderRef is the exchange ack for a placed order.
type OrderRef struct {
	OrderID       string
	ClientOrderID string
}
