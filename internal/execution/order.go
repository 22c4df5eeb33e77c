package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// OrderEvent triggers a state transition.
type OrderEvent string

const (
	EventValidate    OrderEvent = "VALIDATE"
	EventSubmit      OrderEvent = "SUBMIT"
	EventAck         OrderEvent = "ACK"
	EventReject      OrderEvent = "REJECT"
	EventPartialFill OrderEvent = "PARTIAL_FILL"
	EventFill        OrderEvent = "FILL"
	EventCancel      OrderEvent = "CANCEL"
)

// transition defines an allowed state machine edge.
type transition struct {
	from event.OrderStatus
	ev   OrderEvent
}

// transitions is the authoritative transition table. Every valid
// (currentStatus, event) pair maps to exactly one target status.
// CANCELED is reachable from every non-terminal status via the kill switch.
var transitions = map[transition]event.OrderStatus{
	{event.OrderCreated, EventValidate}:    event.OrderValidated,
	{event.OrderValidated, EventSubmit}:    event.OrderSent,
	{event.OrderValidated, EventReject}:    event.OrderRejected,
	{event.OrderSent, EventAck}:            event.OrderAcked,
	{event.OrderSent, EventReject}:         event.OrderRejected,
	{event.OrderAcked, EventReject}:        event.OrderRejected,
	{event.OrderAcked, EventPartialFill}:   event.OrderPartial,
	{event.OrderAcked, EventFill}:          event.OrderFilled,
	{event.OrderPartial, EventPartialFill}: event.OrderPartial,
	{event.OrderPartial, EventFill}:        event.OrderFilled,
	{event.OrderCreated, EventCancel}:      event.OrderCanceled,
	{event.OrderValidated, EventCancel}:    event.OrderCanceled,
	{event.OrderSent, EventCancel}:         event.OrderCanceled,
	{event.OrderAcked, EventCancel}:        event.OrderCanceled,
	{event.OrderPartial, EventCancel}:      event.OrderCanceled,
}

// tracked pairs an order snapshot with the cancel function of its
// in-flight execution context, if any.
type tracked struct {
	order  event.Order
	cancel context.CancelFunc
}

// Tracker owns the lifecycle state of every order in the pipeline. All
// transitions go through the table above; an invalid transition is
// rejected with an error and leaves the order unchanged.
type Tracker struct {
	mu     sync.Mutex
	orders map[string]*tracked // client order id -> tracked
}

// NewTracker creates an empty order tracker.
func NewTracker() *Tracker {
	return &Tracker{orders: make(map[string]*tracked)}
}

// Add starts tracking an order. The client order id must be unique for
// the lifetime of the tracker.
func (t *Tracker) Add(ord event.Order) error {
	if ord.ClientOrderID == "" {
		return fmt.Errorf("execution: order without client order id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.orders[ord.ClientOrderID]; exists {
		return fmt.Errorf("order %s: %w", ord.ClientOrderID, ErrDuplicateClientOrderID)
	}
	t.orders[ord.ClientOrderID] = &tracked{order: ord}
	return nil
}

// Transition advances an order through the state machine and returns the
// updated snapshot with a fresh event id, ready for re-publication.
func (t *Tracker) Transition(clientOrderID string, ev OrderEvent) (event.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(clientOrderID, ev)
}

func (t *Tracker) transitionLocked(clientOrderID string, ev OrderEvent) (event.Order, error) {
	tr, ok := t.orders[clientOrderID]
	if !ok {
		return event.Order{}, fmt.Errorf("order %s: %w", clientOrderID, ErrUnknownOrder)
	}

	prev := tr.order.Status
	next, valid := transitions[transition{from: prev, ev: ev}]
	if !valid {
		return event.Order{}, fmt.Errorf("order %s: invalid transition: status=%s event=%s",
			clientOrderID, prev, ev)
	}

	tr.order.Status = next
	tr.order.EventID = uuid.New().String()
	tr.order.At = time.Now()

	if next == event.OrderCanceled && tr.cancel != nil {
		tr.cancel()
	}

	log.Info().
		Str("client_order_id", clientOrderID).
		Str("broker_order_id", tr.order.BrokerOrderID).
		Str("symbol", tr.order.Symbol).
		Str("prev_status", string(prev)).
		Str("event", string(ev)).
		Str("new_status", string(next)).
		Str("filled_qty", tr.order.FilledQty.String()).
		Msg("order state transition")

	return tr.order, nil
}

// Ack transitions the order to ACK and records the broker-assigned id.
func (t *Tracker) Ack(clientOrderID, brokerOrderID string) (event.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.orders[clientOrderID]
	if !ok {
		return event.Order{}, fmt.Errorf("order %s: %w", clientOrderID, ErrUnknownOrder)
	}
	tr.order.BrokerOrderID = brokerOrderID
	return t.transitionLocked(clientOrderID, EventAck)
}

// RecordFill applies a fill quantity to the order, recalculating the
// running weighted average fill price, and transitions to PARTIAL or
// FILLED. complete is true when the order's full quantity has executed.
func (t *Tracker) RecordFill(clientOrderID string, qty, price decimal.Decimal) (ord event.Order, complete bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.orders[clientOrderID]
	if !ok {
		return event.Order{}, false, fmt.Errorf("order %s: %w", clientOrderID, ErrUnknownOrder)
	}
	if qty.IsZero() || qty.IsNegative() {
		return event.Order{}, false, fmt.Errorf("order %s: fill qty must be positive, got %s",
			clientOrderID, qty.String())
	}

	newFilled := tr.order.FilledQty.Add(qty)
	if newFilled.GreaterThan(tr.order.Qty) {
		return event.Order{}, false, fmt.Errorf("order %s: fill would exceed qty: filled=%s + fill=%s > order=%s",
			clientOrderID, tr.order.FilledQty.String(), qty.String(), tr.order.Qty.String())
	}

	ev := EventPartialFill
	complete = newFilled.Equal(tr.order.Qty)
	if complete {
		ev = EventFill
	}

	// Validate the edge before mutating fill accounting.
	if _, valid := transitions[transition{from: tr.order.Status, ev: ev}]; !valid {
		return event.Order{}, false, fmt.Errorf("order %s: invalid transition: status=%s event=%s",
			clientOrderID, tr.order.Status, ev)
	}

	// Weighted average: (prev_avg*prev_qty + price*qty) / new_total.
	totalCost := tr.order.AvgFillPrice.Mul(tr.order.FilledQty).Add(price.Mul(qty))
	tr.order.AvgFillPrice = totalCost.Div(newFilled)
	tr.order.FilledQty = newFilled

	updated, terr := t.transitionLocked(clientOrderID, ev)
	return updated, complete, terr
}

// BindCancel attaches the cancel function of the order's execution
// context, so a kill command can abort in-flight work.
func (t *Tracker) BindCancel(clientOrderID string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.orders[clientOrderID]; ok {
		tr.cancel = cancel
	}
}

// Get returns a snapshot of the tracked order.
func (t *Tracker) Get(clientOrderID string) (event.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.orders[clientOrderID]
	if !ok {
		return event.Order{}, false
	}
	return tr.order, true
}

// Active returns snapshots of all orders not in a terminal status.
func (t *Tracker) Active() []event.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]event.Order, 0, len(t.orders))
	for _, tr := range t.orders {
		if !tr.order.Status.Terminal() {
			out = append(out, tr.order)
		}
	}
	return out
}

// CancelAll synchronously transitions every active order matching the
// scope to CANCELED and cancels its in-flight execution context. Strategies
// for which exempt returns true are skipped. It returns the canceled
// snapshots; the count equals exactly the matching active set at call time.
func (t *Tracker) CancelAll(scope Scope, exempt func(strategyID string) bool) []event.Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	var canceled []event.Order
	for id, tr := range t.orders {
		if tr.order.Status.Terminal() || !scope.Matches(tr.order) {
			continue
		}
		if exempt != nil && exempt(tr.order.StrategyID) {
			log.Info().
				Str("client_order_id", id).
				Str("strategy_id", tr.order.StrategyID).
				Msg("kill switch: strategy exempt, order kept")
			continue
		}
		ord, err := t.transitionLocked(id, EventCancel)
		if err != nil {
			// Every non-terminal status has a CANCEL edge; this would
			// mean table corruption.
			log.Error().Err(err).Str("client_order_id", id).Msg("kill switch: cancel transition failed")
			continue
		}
		canceled = append(canceled, ord)
	}
	return canceled
}
