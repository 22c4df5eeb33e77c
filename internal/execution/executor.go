package execution

import (
	"context"
	"errors"
	"strconv"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

var (
	// ErrDuplicateClientOrderID is returned when a client order id has
	// already been used. Reuse is a duplicate-submission error, never a
	// silent re-send.
	ErrDuplicateClientOrderID = errors.New("execution: duplicate client order id")

	// ErrUnknownOrder is returned for operations on an untracked order.
	ErrUnknownOrder = errors.New("execution: unknown order")

	// ErrUnknownBrokerOrder flags a broker order id the boundary does not
	// recognize. Flagged for manual review, never auto-cancelled or
	// auto-filled.
	ErrUnknownBrokerOrder = errors.New("execution: broker reported unknown order id")
)

// AckFunc is invoked by an executor once the order has been acknowledged,
// carrying the broker-assigned order id.
type AckFunc func(brokerOrderID string)

// Executor turns an order into a fill. The two variants, simulated and
// live, share this one contract; an error outcome means the order was
// rejected, not filled. Implementations may block only within their own
// call (simulated delay, live polling) and honour ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, ord event.Order, ack AckFunc) (event.Fill, error)
}

// Scope selects the orders a kill command applies to. Zero values widen
// the match: a zero UserID matches every user, an empty StrategyID every
// strategy; both zero means a global kill.
type Scope struct {
	UserID     int64
	StrategyID string
}

// Matches reports whether an order falls inside the scope.
func (s Scope) Matches(o event.Order) bool {
	if s.UserID != 0 && s.UserID != o.UserID {
		return false
	}
	if s.StrategyID != "" && s.StrategyID != o.StrategyID {
		return false
	}
	return true
}

// String renders the scope for logs and alerts.
func (s Scope) String() string {
	if s.UserID == 0 && s.StrategyID == "" {
		return "all"
	}
	out := ""
	if s.UserID != 0 {
		out = "user=" + strconv.FormatInt(s.UserID, 10)
	}
	if s.StrategyID != "" {
		if out != "" {
			out += " "
		}
		out += "strategy=" + s.StrategyID
	}
	return out
}
