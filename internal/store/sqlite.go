package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	client_order_id TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL,
	user_id         INTEGER NOT NULL,
	strategy_id     TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	order_type      TEXT NOT NULL,
	side            TEXT NOT NULL,
	qty             TEXT NOT NULL,
	price           TEXT NOT NULL,
	broker_order_id TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	filled_qty      TEXT NOT NULL DEFAULT '0',
	avg_fill_price  TEXT NOT NULL DEFAULT '0',
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS fills (
	event_id        TEXT PRIMARY KEY,
	order_id        TEXT NOT NULL,
	broker_order_id TEXT NOT NULL DEFAULT '',
	user_id         INTEGER NOT NULL,
	strategy_id     TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	qty             TEXT NOT NULL,
	price           TEXT NOT NULL,
	commission      TEXT NOT NULL DEFAULT '0',
	partial         INTEGER NOT NULL DEFAULT 0,
	at              INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);

CREATE TABLE IF NOT EXISTS risk_blocks (
	event_id    TEXT PRIMARY KEY,
	user_id     INTEGER NOT NULL,
	strategy_id TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	reason      TEXT NOT NULL,
	at          INTEGER NOT NULL
);
`

// SQLite persists pipeline events in a single-file database. WAL mode
// keeps readers from blocking the write path.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	// A single writer connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	log.Info().Str("path", path).Msg("sqlite store opened")
	return &SQLite{db: db}, nil
}

// SaveOrder upserts the order keyed by client order id.
func (s *SQLite) SaveOrder(ctx context.Context, o event.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (
			client_order_id, event_id, user_id, strategy_id, symbol,
			order_type, side, qty, price, broker_order_id, status,
			filled_qty, avg_fill_price, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			event_id = excluded.event_id,
			broker_order_id = excluded.broker_order_id,
			status = excluded.status,
			filled_qty = excluded.filled_qty,
			avg_fill_price = excluded.avg_fill_price,
			updated_at = excluded.updated_at`,
		o.ClientOrderID, o.EventID, o.UserID, o.StrategyID, o.Symbol,
		string(o.OrderType), string(o.Side), o.Qty.String(), o.Price.String(),
		o.BrokerOrderID, string(o.Status),
		o.FilledQty.String(), o.AvgFillPrice.String(), o.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

// SaveFill appends a fill row.
func (s *SQLite) SaveFill(ctx context.Context, f event.Fill) error {
	partial := 0
	if f.Partial {
		partial = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills (
			event_id, order_id, broker_order_id, user_id, strategy_id,
			symbol, qty, price, commission, partial, at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.EventID, f.OrderID, f.BrokerOrderID, f.UserID, f.StrategyID,
		f.Symbol, f.Qty.String(), f.Price.String(), f.Commission.String(),
		partial, f.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save fill %s: %w", f.EventID, err)
	}
	return nil
}

// SaveRiskBlock appends a risk block row.
func (s *SQLite) SaveRiskBlock(ctx context.Context, rb event.RiskBlock) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO risk_blocks (
			event_id, user_id, strategy_id, symbol, reason, at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		rb.EventID, rb.UserID, rb.StrategyID, rb.Symbol, rb.Reason, rb.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save risk block %s: %w", rb.EventID, err)
	}
	return nil
}

// OpenOrders returns every order whose status is not terminal.
func (s *SQLite) OpenOrders(ctx context.Context) ([]event.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_order_id, event_id, user_id, strategy_id, symbol,
		       order_type, side, qty, price, broker_order_id, status,
		       filled_qty, avg_fill_price, updated_at
		FROM orders
		WHERE status NOT IN (?, ?, ?)`,
		string(event.OrderFilled), string(event.OrderRejected), string(event.OrderCanceled),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query open orders: %w", err)
	}
	defer rows.Close()

	var out []event.Order
	for rows.Next() {
		var (
			o                       event.Order
			orderType, side, status string
			qty, price, fq, afp     string
			updatedAt               int64
		)
		if err := rows.Scan(
			&o.ClientOrderID, &o.EventID, &o.UserID, &o.StrategyID, &o.Symbol,
			&orderType, &side, &qty, &price, &o.BrokerOrderID, &status,
			&fq, &afp, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan order: %w", err)
		}
		o.Type = event.TypeOrder
		o.OrderType = event.OrderType(orderType)
		o.Side = event.Side(side)
		o.Status = event.OrderStatus(status)
		o.At = time.UnixMilli(updatedAt)
		if o.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("store: order %s qty: %w", o.ClientOrderID, err)
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("store: order %s price: %w", o.ClientOrderID, err)
		}
		if o.FilledQty, err = decimal.NewFromString(fq); err != nil {
			return nil, fmt.Errorf("store: order %s filled qty: %w", o.ClientOrderID, err)
		}
		if o.AvgFillPrice, err = decimal.NewFromString(afp); err != nil {
			return nil, fmt.Errorf("store: order %s avg fill price: %w", o.ClientOrderID, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
