package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Order statuses reported by the broker.
const (
	StatusAccepted = "accepted"
	StatusPartial  = "partial"
	StatusFilled   = "filled"
	StatusRejected = "rejected"
	StatusCanceled = "canceled"
)

// Client is the broker collaborator the execution boundary submits live
// orders through. OAuth/token exchange is out of scope: the bearer token
// arrives via configuration. Timeout policy for status lookups lives here,
// not in the execution boundary.
type Client interface {
	PlaceOrder(ctx context.Context, req PlaceRequest) (*PlaceResponse, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// PlaceRequest is an order submission.
type PlaceRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	OrderType     string          `json:"order_type"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price,omitempty"`
}

// PlaceResponse is the broker's answer to a placement.
type PlaceResponse struct {
	Accepted      bool   `json:"accepted"`
	BrokerOrderID string `json:"broker_order_id"`
	Reason        string `json:"reason,omitempty"`
}

// OrderStatus is the broker's view of an order. Lookup accepts either the
// broker order id or the client order id.
type OrderStatus struct {
	BrokerOrderID string          `json:"broker_order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Status        string          `json:"status"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	Commission    decimal.Decimal `json:"commission"`
	Reason        string          `json:"reason,omitempty"`
}

// StatusError is a definitive non-2xx answer from the broker. Unlike a
// transport error, the broker was reached and responded.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("broker: HTTP %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether the error is a broker 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}
