package store

import (
	"context"
	"sync"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

// DefaultMemoryCap bounds the append-only fill and risk-block logs.
const DefaultMemoryCap = 10_000

// Memory is an in-process Store for tests and ephemeral runs. Orders are
// keyed by client order id; fills and risk blocks are kept as capped
// FIFO logs, dropping the oldest entries past the cap.
type Memory struct {
	mu     sync.RWMutex
	cap    int
	orders map[string]event.Order
	fills  []event.Fill
	blocks []event.RiskBlock
}

// NewMemory creates an in-memory store with the given log cap; cap <= 0
// uses DefaultMemoryCap.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCap
	}
	return &Memory{
		cap:    capacity,
		orders: make(map[string]event.Order),
	}
}

func (m *Memory) SaveOrder(_ context.Context, o event.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ClientOrderID] = o
	return nil
}

func (m *Memory) SaveFill(_ context.Context, f event.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, f)
	if len(m.fills) > m.cap {
		m.fills = m.fills[len(m.fills)-m.cap:]
	}
	return nil
}

func (m *Memory) SaveRiskBlock(_ context.Context, rb event.RiskBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, rb)
	if len(m.blocks) > m.cap {
		m.blocks = m.blocks[len(m.blocks)-m.cap:]
	}
	return nil
}

func (m *Memory) OpenOrders(_ context.Context) ([]event.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []event.Order
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

// Fills returns a copy of the fill log, oldest first.
func (m *Memory) Fills() []event.Fill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]event.Fill, len(m.fills))
	copy(out, m.fills)
	return out
}

// RiskBlocks returns a copy of the risk-block log, oldest first.
func (m *Memory) RiskBlocks() []event.RiskBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]event.RiskBlock, len(m.blocks))
	copy(out, m.blocks)
	return out
}

func (m *Memory) Close() error { return nil }
