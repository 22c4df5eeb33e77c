package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sunil0809/nautier-tradetron/internal/broker"
	"github.com/Sunil0809/nautier-tradetron/internal/event"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LiveExecutor submits orders through the broker client and observes their
// status until a terminal or partial state, and only then emits a Fill.
//
// Client order ids are unique for the lifetime of the process; a collision
// is a fatal submission error, never a silent retry. An order is never
// assumed filled on a transport-ambiguous response: ambiguity is reconciled
// by an explicit status lookup, not by replaying the placement call.
type LiveExecutor struct {
	client       broker.Client
	pollInterval time.Duration

	mu      sync.Mutex
	usedIDs map[string]struct{}
}

// NewLiveExecutor creates a live executor polling at the given interval.
func NewLiveExecutor(client broker.Client, pollInterval time.Duration) *LiveExecutor {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &LiveExecutor{
		client:       client,
		pollInterval: pollInterval,
		usedIDs:      make(map[string]struct{}),
	}
}

// Execute submits the order and waits for a fill.
func (l *LiveExecutor) Execute(ctx context.Context, ord event.Order, ack AckFunc) (event.Fill, error) {
	clientID := ord.ClientOrderID
	if clientID == "" {
		clientID = uuid.New().String()
		log.Warn().
			Str("generated_client_order_id", clientID).
			Str("symbol", ord.Symbol).
			Msg("live: order arrived without client order id, generated one")
	}

	l.mu.Lock()
	if _, dup := l.usedIDs[clientID]; dup {
		l.mu.Unlock()
		return event.Fill{}, fmt.Errorf("live: client order id %q already submitted this process: %w",
			clientID, ErrDuplicateClientOrderID)
	}
	l.usedIDs[clientID] = struct{}{}
	l.mu.Unlock()

	req := broker.PlaceRequest{
		ClientOrderID: clientID,
		Symbol:        ord.Symbol,
		Side:          string(ord.Side),
		OrderType:     string(ord.OrderType),
		Qty:           ord.Qty,
		Price:         ord.Price,
	}

	resp, err := l.client.PlaceOrder(ctx, req)
	if err != nil {
		var se *broker.StatusError
		if errors.As(err, &se) {
			// The broker answered: the order was definitively refused.
			return event.Fill{}, fmt.Errorf("live: order %s rejected by broker: %w", clientID, err)
		}
		// Transport-ambiguous: the placement may or may not have landed.
		// Reconcile by status lookup on the client order id; never re-place.
		st, lerr := l.client.GetOrderStatus(ctx, clientID)
		if lerr != nil {
			if broker.IsNotFound(lerr) {
				// Placement never landed; safe to report rejection.
				return event.Fill{}, fmt.Errorf("live: order %s submission failed: %w", clientID, err)
			}
			return event.Fill{}, fmt.Errorf("live: order %s placement ambiguous (%v), reconcile failed: %w",
				clientID, err, lerr)
		}
		log.Warn().
			Str("client_order_id", clientID).
			Str("broker_order_id", st.BrokerOrderID).
			Str("status", st.Status).
			Msg("live: ambiguous placement reconciled by status lookup")
		return l.await(ctx, ord, clientID, st.BrokerOrderID, ack)
	}

	if !resp.Accepted {
		return event.Fill{}, fmt.Errorf("live: order %s rejected by broker: %s", clientID, resp.Reason)
	}
	return l.await(ctx, ord, clientID, resp.BrokerOrderID, ack)
}

// await polls the broker until the order reaches a partial or terminal
// state.
func (l *LiveExecutor) await(ctx context.Context, ord event.Order, clientID, brokerID string, ack AckFunc) (event.Fill, error) {
	if ack != nil {
		ack(brokerID)
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		st, err := l.client.GetOrderStatus(ctx, brokerID)
		switch {
		case err == nil:
			switch st.Status {
			case broker.StatusFilled:
				return l.fillFrom(ord, clientID, brokerID, st, false), nil
			case broker.StatusPartial:
				return l.fillFrom(ord, clientID, brokerID, st, true), nil
			case broker.StatusRejected:
				return event.Fill{}, fmt.Errorf("live: order %s rejected: %s", clientID, st.Reason)
			case broker.StatusCanceled:
				return event.Fill{}, fmt.Errorf("live: order %s canceled at broker", clientID)
			}
			// Still working (accepted); keep polling.
		case broker.IsNotFound(err):
			// The broker no longer recognizes an id it assigned. Manual
			// review, never auto-cancel or auto-fill.
			return event.Fill{}, fmt.Errorf("live: order %s (broker id %s): %w",
				clientID, brokerID, ErrUnknownBrokerOrder)
		default:
			log.Warn().Err(err).
				Str("client_order_id", clientID).
				Str("broker_order_id", brokerID).
				Msg("live: status lookup failed, will retry")
		}

		select {
		case <-ctx.Done():
			return event.Fill{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// fillFrom maps a broker status into the Fill contract.
func (l *LiveExecutor) fillFrom(ord event.Order, clientID, brokerID string, st *broker.OrderStatus, partial bool) event.Fill {
	log.Info().
		Str("client_order_id", clientID).
		Str("broker_order_id", brokerID).
		Str("fill_qty", st.FilledQty.String()).
		Str("avg_price", st.AvgPrice.String()).
		Bool("partial", partial).
		Msg("live: order filled")

	return event.Fill{
		Base:          event.NewBase(event.TypeFill, ord.UserID, ord.StrategyID, ord.Symbol),
		OrderID:       clientID,
		BrokerOrderID: brokerID,
		Qty:           st.FilledQty,
		Price:         st.AvgPrice,
		Commission:    st.Commission,
		Partial:       partial,
	}
}
