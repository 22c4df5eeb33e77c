package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sunil0809/nautier-tradetron/internal/broker"
	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

// fakeBroker scripts broker behavior for the live executor tests.
type fakeBroker struct {
	mu sync.Mutex

	placeErr  error
	placeResp *broker.PlaceResponse
	places    []broker.PlaceRequest

	statuses   []*broker.OrderStatus // consumed in order; last repeats
	statusErrs []error
	statusIdx  int
}

func (f *fakeBroker) PlaceOrder(_ context.Context, req broker.PlaceRequest) (*broker.PlaceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.places = append(f.places, req)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return f.placeResp, nil
}

func (f *fakeBroker) GetOrderStatus(_ context.Context, _ string) (*broker.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.statusIdx
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.statusIdx++
	if i < len(f.statusErrs) && f.statusErrs[i] != nil {
		return nil, f.statusErrs[i]
	}
	return f.statuses[i], nil
}

func (f *fakeBroker) CancelOrder(context.Context, string) error { return nil }

func (f *fakeBroker) placeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.places)
}

func liveOrder(clientID string) event.Order {
	return event.Order{
		Base:          event.NewBase(event.TypeOrder, 1, "s1", "BTC/USD"),
		OrderType:     event.OrderTypeMarket,
		Side:          event.SideBuy,
		Qty:           decimal.NewFromInt(10),
		Price:         decimal.NewFromInt(100),
		ClientOrderID: clientID,
		Status:        event.OrderSent,
	}
}

func filledStatus(brokerID string) *broker.OrderStatus {
	return &broker.OrderStatus{
		BrokerOrderID: brokerID,
		Status:        broker.StatusFilled,
		FilledQty:     decimal.NewFromInt(10),
		AvgPrice:      decimal.NewFromInt(101),
		Commission:    decimal.NewFromFloat(0.5),
	}
}

func TestLiveHappyPath(t *testing.T) {
	fb := &fakeBroker{
		placeResp: &broker.PlaceResponse{Accepted: true, BrokerOrderID: "BRK-1"},
		statuses:  []*broker.OrderStatus{filledStatus("BRK-1")},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	var acked string
	fill, err := l.Execute(context.Background(), liveOrder("c1"), func(id string) { acked = id })
	require.NoError(t, err)

	assert.Equal(t, "BRK-1", acked)
	assert.Equal(t, "c1", fill.OrderID)
	assert.Equal(t, "BRK-1", fill.BrokerOrderID)
	assert.Equal(t, "10", fill.Qty.String())
	assert.Equal(t, "101", fill.Price.String())
	assert.False(t, fill.Partial)
}

func TestLiveDuplicateClientOrderID(t *testing.T) {
	fb := &fakeBroker{
		placeResp: &broker.PlaceResponse{Accepted: true, BrokerOrderID: "BRK-1"},
		statuses:  []*broker.OrderStatus{filledStatus("BRK-1")},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	_, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	require.NoError(t, err)

	_, err = l.Execute(context.Background(), liveOrder("c1"), nil)
	require.ErrorIs(t, err, ErrDuplicateClientOrderID)
	assert.Equal(t, 1, fb.placeCount(), "a duplicate id must never reach the broker")
}

func TestLiveGeneratesMissingClientOrderID(t *testing.T) {
	fb := &fakeBroker{
		placeResp: &broker.PlaceResponse{Accepted: true, BrokerOrderID: "BRK-1"},
		statuses:  []*broker.OrderStatus{filledStatus("BRK-1")},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	_, err := l.Execute(context.Background(), liveOrder(""), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, fb.places[0].ClientOrderID)
}

func TestLiveRejectedPlacement(t *testing.T) {
	fb := &fakeBroker{
		placeResp: &broker.PlaceResponse{Accepted: false, Reason: "insufficient margin"},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	_, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient margin")
}

func TestLiveStatusErrorPlacement(t *testing.T) {
	fb := &fakeBroker{
		placeErr: &broker.StatusError{Code: 422, Message: "bad qty"},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	_, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	require.Error(t, err)
	assert.Equal(t, 1, fb.placeCount(), "definitive rejection is never retried")
}

func TestLiveAmbiguousPlacementReconciled(t *testing.T) {
	// Transport error on placement, but the order actually landed: the
	// status lookup finds it and execution resumes without re-placing.
	fb := &fakeBroker{
		placeErr: errors.New("connection reset"),
		statuses: []*broker.OrderStatus{
			{BrokerOrderID: "BRK-9", ClientOrderID: "c1", Status: broker.StatusAccepted},
			filledStatus("BRK-9"),
		},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	fill, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "BRK-9", fill.BrokerOrderID)
	assert.Equal(t, 1, fb.placeCount(), "ambiguity is resolved by lookup, never by replay")
}

func TestLiveAmbiguousPlacementNeverLanded(t *testing.T) {
	fb := &fakeBroker{
		placeErr:   errors.New("connection reset"),
		statuses:   []*broker.OrderStatus{nil},
		statusErrs: []error{&broker.StatusError{Code: 404, Message: "not found"}},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	_, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	require.Error(t, err)
	assert.Equal(t, 1, fb.placeCount())
}

func TestLivePollsUntilTerminal(t *testing.T) {
	fb := &fakeBroker{
		placeResp: &broker.PlaceResponse{Accepted: true, BrokerOrderID: "BRK-1"},
		statuses: []*broker.OrderStatus{
			{BrokerOrderID: "BRK-1", Status: broker.StatusAccepted},
			{BrokerOrderID: "BRK-1", Status: broker.StatusAccepted},
			filledStatus("BRK-1"),
		},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	fill, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "10", fill.Qty.String())
}

func TestLivePartialIsReturned(t *testing.T) {
	fb := &fakeBroker{
		placeResp: &broker.PlaceResponse{Accepted: true, BrokerOrderID: "BRK-1"},
		statuses: []*broker.OrderStatus{
			{
				BrokerOrderID: "BRK-1",
				Status:        broker.StatusPartial,
				FilledQty:     decimal.NewFromInt(4),
				AvgPrice:      decimal.NewFromInt(100),
			},
		},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	fill, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	require.NoError(t, err)
	assert.True(t, fill.Partial)
	assert.Equal(t, "4", fill.Qty.String())
}

func TestLiveUnknownBrokerOrder(t *testing.T) {
	fb := &fakeBroker{
		placeResp:  &broker.PlaceResponse{Accepted: true, BrokerOrderID: "BRK-1"},
		statuses:   []*broker.OrderStatus{nil},
		statusErrs: []error{&broker.StatusError{Code: 404, Message: "not found"}},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	_, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	assert.ErrorIs(t, err, ErrUnknownBrokerOrder)
}

func TestLiveBrokerRejectionDuringPoll(t *testing.T) {
	fb := &fakeBroker{
		placeResp: &broker.PlaceResponse{Accepted: true, BrokerOrderID: "BRK-1"},
		statuses: []*broker.OrderStatus{
			{BrokerOrderID: "BRK-1", Status: broker.StatusRejected, Reason: "risk check"},
		},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	_, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk check")
}

func TestLiveTransientLookupErrorRetries(t *testing.T) {
	fb := &fakeBroker{
		placeResp:  &broker.PlaceResponse{Accepted: true, BrokerOrderID: "BRK-1"},
		statuses:   []*broker.OrderStatus{nil, filledStatus("BRK-1")},
		statusErrs: []error{errors.New("timeout"), nil},
	}
	l := NewLiveExecutor(fb, time.Millisecond)

	fill, err := l.Execute(context.Background(), liveOrder("c1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "10", fill.Qty.String())
}

func TestLiveContextCancelDuringPoll(t *testing.T) {
	fb := &fakeBroker{
		placeResp: &broker.PlaceResponse{Accepted: true, BrokerOrderID: "BRK-1"},
		statuses: []*broker.OrderStatus{
			{BrokerOrderID: "BRK-1", Status: broker.StatusAccepted},
		},
	}
	l := NewLiveExecutor(fb, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := l.Execute(ctx, liveOrder("c1"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
