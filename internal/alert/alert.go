// Package alert routes operator-facing notifications out of the hot
// path. The pipeline never blocks on a notifier.
package alert

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Alerter receives conditions an operator should know about.
// Implementations must be cheap and non-blocking.
type Alerter interface {
	BrokerUnreachable(err error)
	KillSwitchActivated(scope string, canceled int)
	DailyLossLimitReached(strategyID string, loss float64)
	UnknownOrder(brokerOrderID string)
	StrategyError(strategyID string, err error)
}

// LogNotifier writes alerts to the structured log. The default sink when
// no external channel is wired.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (LogNotifier) BrokerUnreachable(err error) {
	log.Error().Err(err).Msg("ALERT: broker unreachable")
}

func (LogNotifier) KillSwitchActivated(scope string, canceled int) {
	log.Warn().
		Str("scope", scope).
		Int("canceled", canceled).
		Msg("ALERT: kill switch activated")
}

func (LogNotifier) DailyLossLimitReached(strategyID string, loss float64) {
	log.Warn().
		Str("strategy_id", strategyID).
		Float64("daily_loss", loss).
		Msg("ALERT: daily loss limit reached")
}

func (LogNotifier) UnknownOrder(brokerOrderID string) {
	log.Error().
		Str("broker_order_id", brokerOrderID).
		Msg("ALERT: broker no longer recognizes order, manual review required")
}

func (LogNotifier) StrategyError(strategyID string, err error) {
	log.Error().Err(err).
		Str("strategy_id", strategyID).
		Msg("ALERT: strategy error")
}

// Recorder captures alerts for assertions in tests.
type Recorder struct {
	mu sync.Mutex

	BrokerErrors   []error
	KillSwitches   []string
	LossLimits     []string
	UnknownOrders  []string
	StrategyErrors map[string]error
}

func NewRecorder() *Recorder {
	return &Recorder{StrategyErrors: make(map[string]error)}
}

func (r *Recorder) BrokerUnreachable(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BrokerErrors = append(r.BrokerErrors, err)
}

func (r *Recorder) KillSwitchActivated(scope string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.KillSwitches = append(r.KillSwitches, scope)
}

func (r *Recorder) DailyLossLimitReached(strategyID string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LossLimits = append(r.LossLimits, strategyID)
}

func (r *Recorder) UnknownOrder(brokerOrderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UnknownOrders = append(r.UnknownOrders, brokerOrderID)
}

func (r *Recorder) StrategyError(strategyID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StrategyErrors[strategyID] = err
}

// LossLimitCount returns how many loss-limit alerts fired for a strategy.
func (r *Recorder) LossLimitCount(strategyID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.LossLimits {
		if id == strategyID {
			n++
		}
	}
	return n
}
