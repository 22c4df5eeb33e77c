// Package store persists the pipeline's durable events: orders, fills,
// and risk blocks. Two implementations exist, a SQLite store for real
// runs and a capped in-memory store for tests and ephemeral setups.
package store

import (
	"context"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

// Store is the persistence boundary. SaveOrder upserts by client order id
// so every state transition overwrites the previous row; fills and risk
// blocks are append-only.
type Store interface {
	SaveOrder(ctx context.Context, o event.Order) error
	SaveFill(ctx context.Context, f event.Fill) error
	SaveRiskBlock(ctx context.Context, rb event.RiskBlock) error

	// OpenOrders returns every persisted order not in a terminal state,
	// used at startup to rebuild in-flight tracking.
	OpenOrders(ctx context.Context) ([]event.Order, error)

	Close() error
}
