// Package engine implements the order/position reconciliation state machine:
// given an intent and an account's remembered last-order state, it issues the
// ordered cancel / close / create sequence against the exchange gateway.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"trade-relay/internal/account"
	"trade-relay/internal/monitor"
	"trade-relay/internal/signal"
	"trade-relay/pkg/exchanges/common"
)

// Policy holds the reconciliation knobs shared by all accounts.
type Policy struct {
	// SingleReset closes the whole position whenever the intent's side or
	// position differs from the remembered last order.
	SingleReset bool
	// MinOrderAmount is the create-order floor. It never applies to closes.
	MinOrderAmount float64
	// CallTimeout bounds each gateway call so a hung exchange request cannot
	// hold the account lock indefinitely. Zero disables the bound.
	CallTimeout time.Duration
}

// Engine executes reconciliations. Safe for concurrent use; per-account
// serialization comes from the account lock held across one Reconcile call.
type Engine struct {
	policy  Policy
	metrics *monitor.SystemMetrics
}

// New creates an engine. metrics may be nil.
func New(policy Policy, metrics *monitor.SystemMetrics) *Engine {
	return &Engine{policy: policy, metrics: metrics}
}

// Reconcile runs the four-step pipeline for one intent. Every step is
// best-effort: a gateway failure is recorded in the result and later steps
// still run, except where their own precondition is unmet. The method always
// returns a result, never panics the request.
//
// Step order: (1) cancel resting orders, unconditionally first; (2) close the
// open position when the reset-on-change policy or a flat target asks for it,
// at most once per reconciliation; (3) terminal branch: flat update / amount
// floor / create order.
func (e *Engine) Reconcile(ctx context.Context, acct *account.Account, intent signal.Intent) Result {
	start := time.Now()
	acct.Lock()
	defer acct.Unlock()

	res := Result{AccountName: acct.Name()}
	gw := acct.Gateway()

	// Step 1: cancel. Always attempted, regardless of what follows, so no
	// stale resting order can interact with the position change below.
	if err := e.cancelAll(ctx, gw, intent.Symbol); err != nil {
		log.Printf("[engine] %s cancel orders %s: %v", acct.Name(), intent.Symbol, err)
		res.CancelLastOrder = StepFailed
	} else {
		res.CancelLastOrder = StepSucceeded
	}

	last := acct.LastOrder()

	// Step 2: reset-on-change close. With no prior order observed the unset
	// side/position differ from any intent, so the trigger fires on the
	// first signal after startup when the policy is on.
	if e.policy.SingleReset && (last.Side != intent.Side || last.Position != intent.Position) {
		res.ClosedPosition = e.closePosition(ctx, acct.Name(), gw, intent.Symbol, &res)
	}

	// Step 3: terminal branch, mutually exclusive.
	switch {
	case intent.Position == signal.TargetFlat:
		// Flat trigger. The close runs at most once per reconciliation: skip
		// it when the reset trigger above already recorded an attempt,
		// whatever its outcome.
		if res.ClosedPosition == StepNotAttempted {
			res.ClosedPosition = e.closePosition(ctx, acct.Name(), gw, intent.Symbol, &res)
		}
		acct.SetLastOrder(account.OrderState{
			Type:     intent.OrderType,
			Side:     intent.Side,
			Position: intent.Position,
			OrderID:  last.OrderID,
		})
		if res.Message == "" {
			res.Message = "position flattened"
		}

	case intent.Amount < e.policy.MinOrderAmount:
		// The floor gates only order creation, never closes. A skipped
		// create leaves the remembered state untouched: it still describes
		// the last real order.
		res.Message = "Amount is too small. Please increase amount."

	default:
		ref, err := e.createOrder(ctx, gw, intent)
		switch {
		case isValidation(err):
			// No exchange call was made, so the create step stays
			// not-attempted rather than failed.
			log.Printf("[engine] %s rejected order %s: %v", acct.Name(), intent.Symbol, err)
			res.Message = err.Error()
		case err != nil:
			log.Printf("[engine] %s create order %s: %v", acct.Name(), intent.Symbol, err)
			res.CreateOrder = StepFailed
			res.Message = err.Error()
		default:
			res.CreateOrder = StepSucceeded
			res.Message = fmt.Sprintf("create order successfully, orderId:%s", ref.OrderID)
		}
		// Remembered state reflects intent, not confirmed fill.
		// Updated even when the create was rejected or failed.
		state := account.OrderState{
			Type:     intent.OrderType,
			Side:     intent.Side,
			Position: intent.Position,
			OrderID:  last.OrderID,
		}
		if err == nil {
			state.OrderID = ref.OrderID
		}
		acct.SetLastOrder(state)
	}

	if e.metrics != nil {
		e.metrics.IncrementReconciles()
		e.metrics.ReconcileLatency.RecordDuration(time.Since(start))
	}
	return res
}

// closePosition flattens the symbol's open position: fetch the authoritative
// snapshot, and either no-op (no contracts held) or issue exactly one
// opposite-side market order of full size. The result message captures any
// failure; the returned status feeds ClosedPosition.
func (e *Engine) closePosition(ctx context.Context, accountName string, gw common.Gateway, symbol string, res *Result) StepStatus {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	fetchStart := time.Now()
	positions, err := gw.FetchPositions(callCtx, symbol)
	e.observeGateway(fetchStart)
	if err != nil {
		e.recordGatewayError()
		log.Printf("[engine] %s fetch positions %s: %v", accountName, symbol, err)
		res.Message = fmt.Sprintf("close position failed: %v", err)
		return StepFailed
	}

	for _, p := range positions {
		if p.Contracts <= 0 {
			continue
		}
		side := common.SideBuy
		if p.Side == common.PositionLong {
			side = common.SideSell
		}

		orderCtx, cancelOrder := e.callContext(ctx)
		orderStart := time.Now()
		ref, err := gw.CreateMarketOrder(orderCtx, symbol, side, p.Contracts)
		e.observeGateway(orderStart)
		cancelOrder()
		if err != nil {
			e.recordGatewayError()
			log.Printf("[engine] %s unwind %s %s %v: %v", accountName, symbol, side, p.Contracts, err)
			res.Message = fmt.Sprintf("close position failed: %v", err)
			return StepFailed
		}
		log.Printf("[engine] %s closed %s: %s %v contracts, orderId:%s", accountName, symbol, side, p.Contracts, ref.OrderID)
		return StepSucceeded
	}

	// No open contracts: trivially closed, no order issued.
	return StepSucceeded
}

// createOrder dispatches on the intent's order type. Validation failures are
// returned before any exchange call is made.
func (e *Engine) createOrder(ctx context.Context, gw common.Gateway, intent signal.Intent) (common.OrderRef, error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	switch intent.OrderType {
	case signal.OrderLimit:
		if !intent.HasPrice {
			return common.OrderRef{}, ErrInvalidPrice
		}
		defer e.observeGateway(time.Now())
		ref, err := gw.CreateLimitOrder(callCtx, intent.Symbol, intent.Side, intent.Amount, intent.Price)
		if err != nil {
			e.recordGatewayError()
		}
		return ref, err
	case signal.OrderMarket:
		defer e.observeGateway(time.Now())
		ref, err := gw.CreateMarketOrder(callCtx, intent.Symbol, intent.Side, intent.Amount)
		if err != nil {
			e.recordGatewayError()
		}
		return ref, err
	case signal.OrderMarketLimit:
		return common.OrderRef{}, ErrUnsupportedOrderType
	default:
		return common.OrderRef{}, fmt.Errorf("%w %q", ErrUnknownOrderType, intent.OrderType)
	}
}

// Validation errors precede any exchange call; the create step is considered
// not-attempted when one occurs.
var (
	ErrInvalidPrice         = errors.New("price is not valid")
	ErrUnsupportedOrderType = errors.New("market-limit not support yet")
	ErrUnknownOrderType     = errors.New("unsupported order type")
)

func isValidation(err error) bool {
	return errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrUnsupportedOrderType) ||
		errors.Is(err, ErrUnknownOrderType)
}

func (e *Engine) cancelAll(ctx context.Context, gw common.Gateway, symbol string) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	defer e.observeGateway(time.Now())
	if err := gw.CancelAllOrders(callCtx, symbol); err != nil {
		e.recordGatewayError()
		return err
	}
	return nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.policy.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.policy.CallTimeout)
}

func (e *Engine) recordGatewayError() {
	if e.metrics != nil {
		e.metrics.IncrementGatewayErrors()
	}
}

func (e *Engine) observeGateway(start time.Time) {
	if e.metrics != nil {
		e.metrics.GatewayLatency.RecordDuration(time.Since(start))
	}
}
