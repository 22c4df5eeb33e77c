package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type identifies the event variant carried on the bus.
type Type string

const (
	TypeMarket    Type = "market"
	TypeSignal    Type = "signal"
	TypeOrder     Type = "order"
	TypeFill      Type = "fill"
	TypeRiskBlock Type = "risk_block"
)

// Action is the directional decision produced by rule evaluation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionNone Action = "NONE"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderValidated OrderStatus = "VALIDATED"
	OrderSent      OrderStatus = "SENT"
	OrderAcked     OrderStatus = "ACK"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCanceled  OrderStatus = "CANCELED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCanceled:
		return true
	default:
		return false
	}
}

// Base carries the identity fields common to every event.
type Base struct {
	EventID    string    `json:"event_id"`
	Type       Type      `json:"type"`
	At         time.Time `json:"at"`
	UserID     int64     `json:"user_id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
}

// NewBase creates a Base with a generated event ID and the current time.
func NewBase(t Type, userID int64, strategyID, symbol string) Base {
	return Base{
		EventID:    uuid.New().String(),
		Type:       t,
		At:         time.Now(),
		UserID:     userID,
		StrategyID: strategyID,
		Symbol:     symbol,
	}
}

// Event is the tagged union over the five variants. Events are immutable
// once published: a status change is a fresh value re-published.
type Event interface {
	Meta() Base
}

// Market is one tick for a symbol. Indicators carries pre-computed
// indicator values keyed NAME_period; the engine never computes them.
type Market struct {
	Base
	LastPrice  decimal.Decimal    `json:"last_price"`
	Volume     decimal.Decimal    `json:"volume"`
	Bid        decimal.Decimal    `json:"bid"`
	Ask        decimal.Decimal    `json:"ask"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

func (m Market) Meta() Base { return m.Base }

// Signal is a directional trading opinion, not yet risk-checked.
// Produced only by the rule evaluator. Strength is in [0, 1].
type Signal struct {
	Base
	Action   Action  `json:"action"`
	Strength float64 `json:"strength"`
	RuleName string  `json:"rule_name"`
}

func (s Signal) Meta() Base { return s.Base }

// RiskBlock is the terminal outcome of a signal the risk gate refused.
// It never produces a downstream order.
type RiskBlock struct {
	Base
	Reason string  `json:"reason"`
	Signal *Signal `json:"signal,omitempty"`
}

func (r RiskBlock) Meta() Base { return r.Base }

// Order is a broker-bound order. Price is the limit price for LIMIT
// orders and the reference price for simulated MARKET fills.
type Order struct {
	Base
	OrderType     OrderType       `json:"order_type"`
	Side          Side            `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	ClientOrderID string          `json:"client_order_id"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	Status        OrderStatus     `json:"status"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
}

func (o Order) Meta() Base { return o.Base }

// Fill confirms that some or all of an order's quantity executed.
type Fill struct {
	Base
	OrderID       string          `json:"order_id"` // client order id of the filled order
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Commission    decimal.Decimal `json:"commission"`
	Partial       bool            `json:"partial"`
}

func (f Fill) Meta() Base { return f.Base }
