package signal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"trade-relay/pkg/exchanges/common"
)

// Kind is the request variant a payload belongs to.
type Kind int

const (
	// KindNone means neither variant applies; the caller must no-op.
	KindNone Kind = iota
	// KindJSON is a structured command from the charting tool.
	KindJSON
	// KindPattern is a delimiter-separated free-text alert.
	KindPattern
)

// PatternDelimiter separates fields of a pattern alert. The charting tool
// emits the fullwidth vertical bar, not the ASCII pipe.
const PatternDelimiter = "｜"

// patternTargets maps alert keywords to the position they request.
var patternTargets = map[string]Target{
	"多方進場": TargetLong, // entry
	"多方停損": TargetFlat, // stop-loss
	"多方平倉": TargetFlat, // close
}

// Classify decides the request variant with a single explicit predicate:
// a JSON object body is a structured command; a body containing one of the
// configured marker tokens is a pattern alert; anything else is not a signal.
func Classify(body []byte, markers []string) Kind {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") && json.Valid(body) {
		return KindJSON
	}
	for _, marker := range markers {
		if marker != "" && strings.Contains(trimmed, marker) {
			return KindPattern
		}
	}
	return KindNone
}

// jsonCommand is the structured webhook shape.
type jsonCommand struct {
	APISec   string   `json:"apiSec"`
	Symbol   string   `json:"symbol"`
	Amount   *float64 `json:"amount"`
	Side     string   `json:"side"`
	Position string   `json:"position"`
	OrdType  string   `json:"ordType"`
	Price    *float64 `json:"price"`
}

// ParseJSON validates a structured command and returns the intent. The shared
// secret is re-checked here even though the HTTP layer already gates it.
func ParseJSON(body []byte, apiSec string) (Intent, error) {
	var cmd jsonCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if cmd.APISec != apiSec {
		return Intent{}, ErrPermissionDenied
	}
	if cmd.Symbol == "" {
		return Intent{}, fmt.Errorf("%w: symbol", ErrMissingField)
	}
	if cmd.Amount == nil {
		return Intent{}, fmt.Errorf("%w: amount", ErrMissingField)
	}
	if cmd.Side == "" {
		return Intent{}, fmt.Errorf("%w: side", ErrMissingField)
	}

	side := common.Side(strings.ToLower(cmd.Side))
	if side != common.SideBuy && side != common.SideSell {
		return Intent{}, fmt.Errorf("%w: side %q", ErrInvalidNumber, cmd.Side)
	}

	intent := Intent{
		Symbol:    cmd.Symbol,
		Amount:    *cmd.Amount,
		Side:      side,
		Position:  Target(strings.ToLower(cmd.Position)),
		OrderType: OrderType(strings.ToLower(cmd.OrdType)),
	}
	// Optional fields fall back to the side's natural direction and to a
	// market order, keeping minimal webhook bodies valid.
	if intent.Position == TargetUnset {
		if side == common.SideBuy {
			intent.Position = TargetLong
		} else {
			intent.Position = TargetShort
		}
	}
	if intent.OrderType == OrderUnset {
		intent.OrderType = OrderMarket
	}
	if cmd.Price != nil {
		intent.Price = *cmd.Price
		intent.HasPrice = true
	}
	return intent, nil
}

// Defaults supplies the per-account symbol and amount a pattern alert does
// not carry itself.
type Defaults struct {
	Symbol string
	Amount float64
}

// ParsePattern parses a delimiter-separated alert. Side is fixed to buy: the
// pattern strategy only trades the long side and flattens via position target.
func ParsePattern(body []byte, markers []string, defaults Defaults) (Intent, error) {
	fields := strings.Split(strings.TrimSpace(string(body)), PatternDelimiter)

	if !containsMarker(fields, markers) {
		return Intent{}, ErrNotApplicable
	}

	intent := Intent{
		Symbol:    defaults.Symbol,
		Amount:    defaults.Amount,
		Side:      common.SideBuy,
		OrderType: OrderMarket,
	}

	target, ok := findTarget(fields)
	if !ok {
		return Intent{}, fmt.Errorf("%w: %s", ErrUnrecognizedPattern, strings.Join(fields, "|"))
	}
	intent.Position = target

	priceField, ok := findPriceField(fields)
	if !ok {
		return Intent{}, fmt.Errorf("%w: price", ErrMissingField)
	}
	price, err := strconv.ParseFloat(strings.TrimPrefix(priceField, "$"), 64)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: price %q", ErrInvalidNumber, priceField)
	}
	intent.Price = price
	intent.HasPrice = true

	return intent, nil
}

func containsMarker(fields, markers []string) bool {
	for _, f := range fields {
		for _, m := range markers {
			if m != "" && f == m {
				return true
			}
		}
	}
	return false
}

func findTarget(fields []string) (Target, bool) {
	for _, f := range fields {
		if target, ok := patternTargets[f]; ok {
			return target, true
		}
	}
	return TargetUnset, false
}

func findPriceField(fields []string) (string, bool) {
	for _, f := range fields {
		if strings.HasPrefix(f, "$") && len(f) > 1 {
			return f, true
		}
	}
	return "", false
}
