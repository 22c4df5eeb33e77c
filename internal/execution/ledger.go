package execution

import (
	"sync"
	"time"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
	"github.com/shopspring/decimal"
)

// Position is one ledger entry: a signed quantity per strategy+symbol,
// plus a netted per-symbol view across strategies.
type Position struct {
	StrategyID  string          `json:"strategy_id"`
	Symbol      string          `json:"symbol"`
	Qty         decimal.Decimal `json:"qty"` // signed: positive=long, negative=short
	AvgEntry    decimal.Decimal `json:"avg_entry"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Commissions decimal.Decimal `json:"commissions"`
	TradeCount  int             `json:"trade_count"`
	OpenedAt    time.Time       `json:"opened_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Ledger tracks per-strategy and netted (cross-strategy) positions. Owned
// exclusively by the orchestrator; mutated only through ApplyFill.
type Ledger struct {
	mu         sync.RWMutex
	byStrategy map[string]*Position // "strategy|symbol"
	netted     map[string]*Position // symbol
}

// NewLedger creates an empty position ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byStrategy: make(map[string]*Position),
		netted:     make(map[string]*Position),
	}
}

func strategyKey(strategyID, symbol string) string {
	return strategyID + "|" + symbol
}

// ApplyFill adds the signed fill quantity to both the strategy-level and
// netted positions, updating the weighted-average entry and realizing PnL
// on reduce/close/flip. It returns the realized PnL delta for the
// strategy-level position, which the orchestrator feeds back into the
// risk gate when negative.
func (l *Ledger) ApplyFill(strategyID, symbol string, side event.Side, qty, price, commission decimal.Decimal) decimal.Decimal {
	signedQty := qty
	if side == event.SideSell {
		signedQty = signedQty.Neg()
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	sKey := strategyKey(strategyID, symbol)
	sPos, ok := l.byStrategy[sKey]
	if !ok {
		sPos = &Position{StrategyID: strategyID, Symbol: symbol}
		l.byStrategy[sKey] = sPos
	}
	realized := applyToPosition(sPos, price, signedQty, commission, now)

	nPos, ok := l.netted[symbol]
	if !ok {
		nPos = &Position{StrategyID: "_net", Symbol: symbol}
		l.netted[symbol] = nPos
	}
	applyToPosition(nPos, price, signedQty, commission, now)

	return realized
}

// applyToPosition is the core update. It handles opening from flat,
// adding in the same direction (weighted-average entry), and reducing,
// closing, or flipping against the position (realized PnL on the closed
// portion). Returns the realized PnL delta of this fill.
func applyToPosition(pos *Position, fillPrice, signedQty, commission decimal.Decimal, ts time.Time) decimal.Decimal {
	oldQty := pos.Qty
	newQty := oldQty.Add(signedQty)
	absOld := oldQty.Abs()
	absFill := signedQty.Abs()

	pos.Commissions = pos.Commissions.Add(commission)
	pos.TradeCount++
	pos.UpdatedAt = ts

	// Opening from flat.
	if oldQty.IsZero() {
		pos.AvgEntry = fillPrice
		pos.Qty = newQty
		pos.OpenedAt = ts
		return decimal.Zero
	}

	// Adding in the same direction.
	sameDirection := oldQty.Sign() == signedQty.Sign()
	if sameDirection {
		totalCost := pos.AvgEntry.Mul(absOld).Add(fillPrice.Mul(absFill))
		pos.AvgEntry = totalCost.Div(absOld.Add(absFill))
		pos.Qty = newQty
		return decimal.Zero
	}

	// Reducing, closing, or flipping.
	closeQty := absOld
	if absFill.LessThan(absOld) {
		closeQty = absFill
	}

	var realized decimal.Decimal
	if oldQty.Sign() > 0 {
		// Closing long: (fillPrice - avgEntry) * closeQty.
		realized = fillPrice.Sub(pos.AvgEntry).Mul(closeQty)
	} else {
		// Closing short: (avgEntry - fillPrice) * closeQty.
		realized = pos.AvgEntry.Sub(fillPrice).Mul(closeQty)
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.Qty = newQty

	if newQty.IsZero() {
		pos.AvgEntry = decimal.Zero
	} else if newQty.Sign() != oldQty.Sign() {
		// Flipped: the excess quantity enters at the fill price.
		pos.AvgEntry = fillPrice
		pos.OpenedAt = ts
	}
	// Merely reduced: avgEntry unchanged.

	return realized
}

// Position returns the netted signed quantity for a symbol.
func (l *Ledger) Position(symbol string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.netted[symbol]; ok {
		return p.Qty
	}
	return decimal.Zero
}

// PositionFor returns a copy of the strategy-level position.
func (l *Ledger) PositionFor(strategyID, symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.byStrategy[strategyKey(strategyID, symbol)]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// All returns copies of every strategy-level position.
func (l *Ledger) All() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.byStrategy))
	for _, p := range l.byStrategy {
		out = append(out, *p)
	}
	return out
}

// RealizedPnL returns the total realized PnL for a strategy across all
// its positions.
func (l *Ledger) RealizedPnL(strategyID string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, p := range l.byStrategy {
		if p.StrategyID == strategyID {
			total = total.Add(p.RealizedPnL)
		}
	}
	return total
}
