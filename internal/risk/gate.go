package risk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
	"github.com/rs/zerolog/log"
)

// Config holds the per-strategy risk limits. One per strategy, supplied by
// the collaborator that owns strategy configuration.
type Config struct {
	MaxDailyLoss      float64 `yaml:"max_daily_loss"`
	MaxTradesPerDay   int     `yaml:"max_trades_per_day"`
	MaxPositionSize   float64 `yaml:"max_position_size"`
	MaxLeverage       float64 `yaml:"max_leverage"`
	KillSwitchEnabled bool    `yaml:"kill_switch_enabled"`
}

// ReasonCode classifies why a signal was blocked.
type ReasonCode string

const (
	ReasonUnregistered ReasonCode = "UNREGISTERED"
	ReasonDailyLoss    ReasonCode = "DAILY_LOSS_LIMIT"
	ReasonTradeLimit   ReasonCode = "TRADE_LIMIT"
)

// Decision is the outcome of validating one signal. A block is not an
// error: it is a first-class terminal outcome the caller must surface.
type Decision struct {
	Allowed bool
	Code    ReasonCode
	Reason  string
}

// state is the mutable per-strategy counter state. Reset only through
// ResetDaily, which an external daily-boundary collaborator invokes; the
// gate holds no calendar logic itself.
type state struct {
	cfg        Config
	dailyLoss  float64
	tradeCount int
}

// Gate is the mandatory, stateful validator between a signal and an order.
type Gate struct {
	mu         sync.RWMutex
	strategies map[string]*state

	allowed atomic.Int64
	blocked atomic.Int64
}

// NewGate creates an empty risk gate.
func NewGate() *Gate {
	return &Gate{strategies: make(map[string]*state)}
}

// Register installs a fresh zeroed counter state for the strategy.
// Re-registration resets counters; that side effect is explicit and logged.
func (g *Gate) Register(strategyID string, cfg Config) {
	g.mu.Lock()
	_, existed := g.strategies[strategyID]
	g.strategies[strategyID] = &state{cfg: cfg}
	g.mu.Unlock()

	lg := log.Info().
		Str("strategy_id", strategyID).
		Float64("max_daily_loss", cfg.MaxDailyLoss).
		Int("max_trades_per_day", cfg.MaxTradesPerDay).
		Bool("kill_switch_enabled", cfg.KillSwitchEnabled)
	if existed {
		lg.Msg("risk: strategy re-registered, daily counters reset")
	} else {
		lg.Msg("risk: strategy registered")
	}
}

// Unregister removes a strategy. Subsequent signals from it are blocked.
func (g *Gate) Unregister(strategyID string) {
	g.mu.Lock()
	delete(g.strategies, strategyID)
	g.mu.Unlock()
}

// Validate checks a signal against the strategy's limits. Checks run in
// fixed priority order and short-circuit on first failure:
//  1. the strategy must be registered,
//  2. accumulated daily loss must be strictly below MaxDailyLoss,
//  3. today's trade count must be strictly below MaxTradesPerDay.
func (g *Gate) Validate(sig event.Signal) Decision {
	g.mu.RLock()
	st, ok := g.strategies[sig.StrategyID]
	if !ok {
		g.mu.RUnlock()
		return g.block(sig, ReasonUnregistered, "Strategy not registered")
	}

	if st.dailyLoss >= st.cfg.MaxDailyLoss {
		reason := fmt.Sprintf("Daily loss limit reached: loss=%.2f limit=%.2f",
			st.dailyLoss, st.cfg.MaxDailyLoss)
		g.mu.RUnlock()
		return g.block(sig, ReasonDailyLoss, reason)
	}

	if st.tradeCount >= st.cfg.MaxTradesPerDay {
		reason := fmt.Sprintf("Daily trade limit reached: trades=%d limit=%d",
			st.tradeCount, st.cfg.MaxTradesPerDay)
		g.mu.RUnlock()
		return g.block(sig, ReasonTradeLimit, reason)
	}
	g.mu.RUnlock()

	g.allowed.Add(1)
	log.Debug().
		Str("strategy_id", sig.StrategyID).
		Str("symbol", sig.Symbol).
		Str("action", string(sig.Action)).
		Msg("risk: signal allowed")
	return Decision{Allowed: true}
}

func (g *Gate) block(sig event.Signal, code ReasonCode, reason string) Decision {
	g.blocked.Add(1)
	log.Warn().
		Str("strategy_id", sig.StrategyID).
		Str("symbol", sig.Symbol).
		Str("action", string(sig.Action)).
		Str("code", string(code)).
		Str("reason", reason).
		Msg("risk: signal blocked")
	return Decision{Allowed: false, Code: code, Reason: reason}
}

// RecordTrade increments the day's trade counter. Called only by the
// fill-handling stage, never speculatively.
func (g *Gate) RecordTrade(strategyID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.strategies[strategyID]
	if !ok {
		log.Warn().Str("strategy_id", strategyID).Msg("risk: trade recorded for unknown strategy")
		return
	}
	st.tradeCount++
}

// RecordLoss accumulates realized loss for the day. Amount must be a
// positive loss; gains are not recorded here.
func (g *Gate) RecordLoss(strategyID string, amount float64) {
	if amount <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.strategies[strategyID]
	if !ok {
		log.Warn().Str("strategy_id", strategyID).Msg("risk: loss recorded for unknown strategy")
		return
	}
	st.dailyLoss += amount
}

// ResetDaily zeroes the strategy's counters. Invoked by an external
// scheduling collaborator at the session boundary.
func (g *Gate) ResetDaily(strategyID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.strategies[strategyID]
	if !ok {
		return
	}
	log.Info().
		Str("strategy_id", strategyID).
		Float64("daily_loss", st.dailyLoss).
		Int("trade_count", st.tradeCount).
		Msg("risk: daily counters reset")
	st.dailyLoss = 0
	st.tradeCount = 0
}

// Snapshot returns the strategy's accumulated daily loss and trade count.
func (g *Gate) Snapshot(strategyID string) (dailyLoss float64, trades int, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, found := g.strategies[strategyID]
	if !found {
		return 0, 0, false
	}
	return st.dailyLoss, st.tradeCount, true
}

// ConfigFor returns the registered config for a strategy.
func (g *Gate) ConfigFor(strategyID string) (Config, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.strategies[strategyID]
	if !ok {
		return Config{}, false
	}
	return st.cfg, true
}

// KillSwitchEnabled reports whether the kill switch applies to a strategy.
// Unknown strategies are treated as enabled.
func (g *Gate) KillSwitchEnabled(strategyID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.strategies[strategyID]
	if !ok {
		return true
	}
	return st.cfg.KillSwitchEnabled
}

// Allowed returns the total number of signals passed through the gate.
func (g *Gate) Allowed() int64 { return g.allowed.Load() }

// Blocked returns the total number of signals blocked by the gate.
func (g *Gate) Blocked() int64 { return g.blocked.Load() }
