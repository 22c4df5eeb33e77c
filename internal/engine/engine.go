// Package engine wires the pipeline together: market data in, rule
// evaluation, risk gating, order execution, position accounting, and
// persistence of everything durable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Sunil0809/nautier-tradetron/internal/alert"
	"github.com/Sunil0809/nautier-tradetron/internal/broker"
	"github.com/Sunil0809/nautier-tradetron/internal/bus"
	"github.com/Sunil0809/nautier-tradetron/internal/event"
	"github.com/Sunil0809/nautier-tradetron/internal/execution"
	"github.com/Sunil0809/nautier-tradetron/internal/observability"
	"github.com/Sunil0809/nautier-tradetron/internal/risk"
	"github.com/Sunil0809/nautier-tradetron/internal/rules"
	"github.com/Sunil0809/nautier-tradetron/internal/store"
)

// defaultStrength is the signal strength for rule-derived signals; the
// grammar has no strength dimension, so every match carries the same
// conviction.
const defaultStrength = 0.8

// persistFailureLimit is the consecutive-save-failure streak that stops
// the engine. Trading blind against a dead store is worse than stopping.
const persistFailureLimit = 5

// Config tunes the orchestrator.
type Config struct {
	Workers        int
	OrderQueueSize int
	// DefaultQty is the order quantity for strategies that do not set one.
	DefaultQty decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.OrderQueueSize <= 0 {
		c.OrderQueueSize = 1024
	}
	if c.DefaultQty.IsZero() || c.DefaultQty.IsNegative() {
		c.DefaultQty = decimal.NewFromInt(10)
	}
	return c
}

// Deps are the engine's collaborators. Paper is required; Live and
// Broker may be nil when every strategy runs on paper.
type Deps struct {
	Bus     *bus.Bus
	Rules   *rules.Engine
	Gate    *risk.Gate
	Paper   execution.Executor
	Live    execution.Executor
	Broker  broker.Client
	Store   store.Store
	Alerter alert.Alerter
	Metrics *observability.Pipeline
}

// binding is the per-strategy execution setup.
type binding struct {
	userID int64
	paper  bool
	qty    decimal.Decimal
}

// Engine is the orchestrator. All cross-stage flow goes through the bus;
// the engine's handlers are the only writers of orders and positions.
type Engine struct {
	cfg     Config
	bus     *bus.Bus
	rules   *rules.Engine
	gate    *risk.Gate
	paper   execution.Executor
	live    execution.Executor
	broker  broker.Client
	store   store.Store
	alerter alert.Alerter
	metrics *observability.Pipeline

	tracker *execution.Tracker
	ledger  *execution.Ledger

	mu        sync.RWMutex
	bindings  map[string]*binding
	lastPrice map[string]decimal.Decimal

	orderCh chan event.Order

	running   atomic.Bool
	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds an engine. Call Start before injecting events.
func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	if deps.Alerter == nil {
		deps.Alerter = alert.NewLogNotifier()
	}
	return &Engine{
		cfg:       cfg,
		bus:       deps.Bus,
		rules:     deps.Rules,
		gate:      deps.Gate,
		paper:     deps.Paper,
		live:      deps.Live,
		broker:    deps.Broker,
		store:     deps.Store,
		alerter:   deps.Alerter,
		metrics:   deps.Metrics,
		tracker:   execution.NewTracker(),
		ledger:    execution.NewLedger(),
		bindings:  make(map[string]*binding),
		lastPrice: make(map[string]decimal.Decimal),
		orderCh:   make(chan event.Order, cfg.OrderQueueSize),
	}
}

// RegisterStrategy binds a strategy: its rule source, risk limits, and
// execution mode. A parse failure leaves nothing registered.
func (e *Engine) RegisterStrategy(id string, userID int64, riskCfg risk.Config, ruleSrc []byte, paper bool, qty decimal.Decimal) error {
	if err := e.rules.Register(id, ruleSrc); err != nil {
		return fmt.Errorf("engine: register strategy %s: %w", id, err)
	}
	e.gate.Register(id, riskCfg)

	if qty.IsZero() || qty.IsNegative() {
		qty = e.cfg.DefaultQty
	}
	e.mu.Lock()
	e.bindings[id] = &binding{userID: userID, paper: paper, qty: qty}
	e.mu.Unlock()

	log.Info().
		Str("strategy_id", id).
		Int64("user_id", userID).
		Bool("paper", paper).
		Str("qty", qty.String()).
		Msg("strategy registered")
	return nil
}

// UnregisterStrategy removes a strategy from evaluation and gating.
// In-flight orders are untouched.
func (e *Engine) UnregisterStrategy(id string) {
	e.rules.Unregister(id)
	e.gate.Unregister(id)
	e.mu.Lock()
	delete(e.bindings, id)
	e.mu.Unlock()
}

// Start subscribes the handlers, spawns the worker pool and the
// persistence loop. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)

		e.bus.Subscribe(event.TypeMarket, func(ev event.Event) {
			if m, ok := ev.(event.Market); ok {
				e.onMarket(m)
			}
		})
		e.bus.Subscribe(event.TypeSignal, func(ev event.Event) {
			if s, ok := ev.(event.Signal); ok {
				e.onSignal(s)
			}
		})
		e.bus.Subscribe(event.TypeOrder, func(ev event.Event) {
			if o, ok := ev.(event.Order); ok {
				e.onOrder(o)
			}
		})
		e.bus.Subscribe(event.TypeFill, func(ev event.Event) {
			if f, ok := ev.(event.Fill); ok {
				e.onFill(f)
			}
		})

		for i := 0; i < e.cfg.Workers; i++ {
			e.wg.Add(1)
			go e.worker(ctx)
		}
		e.wg.Add(1)
		go e.consumeLoop(ctx)

		e.running.Store(true)
		log.Info().Int("workers", e.cfg.Workers).Msg("engine started")
	})
}

// Stop cancels in-flight work and waits for the workers to drain.
func (e *Engine) Stop() {
	if !e.running.Swap(false) {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	log.Info().Msg("engine stopped")
}

// InjectMarket publishes a market event into the pipeline.
func (e *Engine) InjectMarket(m event.Market) {
	if m.Type == "" {
		m.Type = event.TypeMarket
	}
	if m.EventID == "" {
		m.EventID = uuid.New().String()
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	e.bus.Publish(m)
}

// InjectTick is the convenience form for sources that carry only prices.
// An empty strategyID makes the tick visible to every strategy.
func (e *Engine) InjectTick(symbol string, price, volume decimal.Decimal, userID int64, strategyID string) {
	e.InjectMarket(event.Market{
		Base:      event.NewBase(event.TypeMarket, userID, strategyID, symbol),
		LastPrice: price,
		Volume:    volume,
	})
}

// onMarket evaluates rules against the tick and emits signals.
func (e *Engine) onMarket(m event.Market) {
	e.mu.Lock()
	e.lastPrice[m.Symbol] = m.LastPrice
	e.mu.Unlock()

	snapshot := make(map[string]float64, len(m.Indicators)+4)
	for k, v := range m.Indicators {
		snapshot[k] = v
	}
	snapshot["PRICE"] = m.LastPrice.InexactFloat64()
	snapshot["VOLUME"] = m.Volume.InexactFloat64()
	if !m.Bid.IsZero() {
		snapshot["BID"] = m.Bid.InexactFloat64()
	}
	if !m.Ask.IsZero() {
		snapshot["ASK"] = m.Ask.InexactFloat64()
	}

	// A targeted tick evaluates one strategy; an open tick evaluates all.
	if m.StrategyID != "" {
		e.emitSignal(m, m.StrategyID, e.rules.Evaluate(m.StrategyID, snapshot))
		return
	}
	for id, action := range e.rules.EvaluateAll(snapshot) {
		e.emitSignal(m, id, action)
	}
}

func (e *Engine) emitSignal(m event.Market, strategyID string, action event.Action) {
	if action == event.ActionNone || action == "" {
		return
	}
	e.mu.RLock()
	b, bound := e.bindings[strategyID]
	e.mu.RUnlock()
	if !bound {
		return
	}

	ruleName := strategyID
	if r, ok := e.rules.Rule(strategyID); ok {
		ruleName = r.Name
	}

	sig := event.Signal{
		Base:     event.NewBase(event.TypeSignal, b.userID, strategyID, m.Symbol),
		Action:   action,
		Strength: defaultStrength,
		RuleName: ruleName,
	}
	if e.metrics != nil {
		e.metrics.Signals.Inc()
	}
	e.bus.Publish(sig)
}

// onSignal runs the risk gate and, when allowed, creates and validates
// an order.
func (e *Engine) onSignal(s event.Signal) {
	if s.Action == event.ActionNone {
		return
	}

	decision := e.gate.Validate(s)
	if !decision.Allowed {
		if e.metrics != nil {
			e.metrics.Blocks.Inc()
		}
		if decision.Code == risk.ReasonDailyLoss {
			if loss, _, ok := e.gate.Snapshot(s.StrategyID); ok {
				e.alerter.DailyLossLimitReached(s.StrategyID, loss)
			}
		}
		e.bus.Publish(event.RiskBlock{
			Base:   event.NewBase(event.TypeRiskBlock, s.UserID, s.StrategyID, s.Symbol),
			Reason: decision.Reason,
			Signal: &s,
		})
		return
	}

	e.mu.RLock()
	b, bound := e.bindings[s.StrategyID]
	refPrice := e.lastPrice[s.Symbol]
	e.mu.RUnlock()
	if !bound {
		log.Warn().Str("strategy_id", s.StrategyID).Msg("signal for unbound strategy dropped")
		return
	}
	if refPrice.IsZero() {
		log.Warn().
			Str("strategy_id", s.StrategyID).
			Str("symbol", s.Symbol).
			Msg("no reference price for symbol, signal dropped")
		return
	}

	side := event.SideBuy
	if s.Action == event.ActionSell {
		side = event.SideSell
	}

	ord := event.Order{
		Base:          event.NewBase(event.TypeOrder, s.UserID, s.StrategyID, s.Symbol),
		OrderType:     event.OrderTypeMarket,
		Side:          side,
		Qty:           b.qty,
		Price:         refPrice,
		ClientOrderID: uuid.New().String(),
		Status:        event.OrderCreated,
	}
	if err := e.tracker.Add(ord); err != nil {
		log.Error().Err(err).Str("client_order_id", ord.ClientOrderID).Msg("track order")
		return
	}
	validated, err := e.tracker.Transition(ord.ClientOrderID, execution.EventValidate)
	if err != nil {
		log.Error().Err(err).Str("client_order_id", ord.ClientOrderID).Msg("validate order")
		return
	}
	e.bus.Publish(validated)
}

// onOrder queues validated orders for execution. Re-published status
// updates pass through untouched.
func (e *Engine) onOrder(o event.Order) {
	if o.Status != event.OrderValidated {
		return
	}
	select {
	case e.orderCh <- o:
	default:
		log.Warn().
			Str("client_order_id", o.ClientOrderID).
			Msg("order queue full, rejecting")
		if rejected, err := e.tracker.Transition(o.ClientOrderID, execution.EventReject); err == nil {
			if e.metrics != nil {
				e.metrics.OrdersRejected.Inc()
			}
			e.bus.Publish(rejected)
		}
	}
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-e.orderCh:
			e.executeOrder(ctx, o)
		}
	}
}

// executeOrder drives one order through its executor, re-publishing
// every state change.
func (e *Engine) executeOrder(ctx context.Context, o event.Order) {
	e.mu.RLock()
	b, bound := e.bindings[o.StrategyID]
	e.mu.RUnlock()
	if !bound {
		log.Warn().Str("strategy_id", o.StrategyID).Msg("order for unbound strategy dropped")
		return
	}

	exec := e.paper
	if !b.paper && e.live != nil {
		exec = e.live
	}

	octx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.tracker.BindCancel(o.ClientOrderID, cancel)

	sent, err := e.tracker.Transition(o.ClientOrderID, execution.EventSubmit)
	if err != nil {
		// Canceled between queueing and pickup.
		log.Info().Err(err).Str("client_order_id", o.ClientOrderID).Msg("order not submittable")
		return
	}
	if e.metrics != nil {
		e.metrics.OrdersSubmitted.Inc()
	}
	e.bus.Publish(sent)

	start := time.Now()
	fill, err := exec.Execute(octx, sent, func(brokerOrderID string) {
		if acked, aerr := e.tracker.Ack(o.ClientOrderID, brokerOrderID); aerr == nil {
			e.bus.Publish(acked)
		}
	})
	if e.metrics != nil {
		e.metrics.ExecLatency.Observe(float64(time.Since(start).Milliseconds()))
	}

	if err != nil {
		e.handleExecError(o, b, err)
		return
	}

	updated, _, ferr := e.tracker.RecordFill(o.ClientOrderID, fill.Qty, fill.Price)
	if ferr != nil {
		// A fill that landed after cancellation still happened at the
		// broker; the position and the log must reflect it.
		log.Warn().Err(ferr).
			Str("client_order_id", o.ClientOrderID).
			Msg("fill arrived for order outside fillable state")
	} else {
		e.bus.Publish(updated)
	}
	e.bus.Publish(fill)
}

func (e *Engine) handleExecError(o event.Order, b *binding, err error) {
	cur, ok := e.tracker.Get(o.ClientOrderID)
	if ok && cur.Status == event.OrderCanceled {
		// Kill switch won the race; the executor error is the cancellation.
		log.Info().Str("client_order_id", o.ClientOrderID).Msg("execution aborted by cancel")
		return
	}

	if rejected, terr := e.tracker.Transition(o.ClientOrderID, execution.EventReject); terr == nil {
		if e.metrics != nil {
			e.metrics.OrdersRejected.Inc()
		}
		e.bus.Publish(rejected)
	}

	switch {
	case errors.Is(err, execution.ErrUnknownBrokerOrder):
		e.alerter.UnknownOrder(cur.BrokerOrderID)
	case errors.Is(err, context.Canceled):
		// Shutdown path, nothing to alert.
	case !b.paper:
		var se *broker.StatusError
		if !errors.As(err, &se) {
			e.alerter.BrokerUnreachable(err)
		}
	}
	log.Error().Err(err).
		Str("client_order_id", o.ClientOrderID).
		Str("strategy_id", o.StrategyID).
		Msg("order execution failed")
}

// onFill applies the fill to the position ledger and feeds realized
// losses back into the risk gate.
func (e *Engine) onFill(f event.Fill) {
	if e.metrics != nil {
		e.metrics.Fills.Inc()
	}

	ord, ok := e.tracker.Get(f.OrderID)
	if !ok {
		log.Warn().Str("order_id", f.OrderID).Msg("fill for untracked order, ledger skipped")
		return
	}

	realized := e.ledger.ApplyFill(f.StrategyID, f.Symbol, ord.Side, f.Qty, f.Price, f.Commission)
	e.gate.RecordTrade(f.StrategyID)

	if realized.IsNegative() {
		loss := realized.Neg().InexactFloat64()
		e.gate.RecordLoss(f.StrategyID, loss)

		if cfg, ok := e.gate.ConfigFor(f.StrategyID); ok && cfg.MaxDailyLoss > 0 {
			if dailyLoss, _, ok := e.gate.Snapshot(f.StrategyID); ok && dailyLoss >= cfg.MaxDailyLoss {
				e.alerter.DailyLossLimitReached(f.StrategyID, dailyLoss)
			}
		}
	}
}

// consumeLoop drains the bus and persists the durable variants. A streak
// of save failures stops the engine.
func (e *Engine) consumeLoop(ctx context.Context) {
	defer e.wg.Done()
	failures := 0

	for {
		ev, err := e.bus.ConsumeWait(ctx)
		if err != nil {
			return
		}
		if e.metrics != nil {
			e.metrics.BusDepth.Set(float64(e.bus.Depth()))
			e.metrics.BusEvicted.Set(float64(e.bus.Evicted()))
		}
		if e.store == nil {
			continue
		}

		var saveErr error
		switch v := ev.(type) {
		case event.Order:
			saveErr = e.store.SaveOrder(ctx, v)
		case event.Fill:
			saveErr = e.store.SaveFill(ctx, v)
		case event.RiskBlock:
			saveErr = e.store.SaveRiskBlock(ctx, v)
		default:
			continue
		}

		if saveErr != nil {
			failures++
			log.Error().Err(saveErr).Int("streak", failures).Msg("persist event")
			if failures >= persistFailureLimit {
				log.Error().Msg("persistence failing repeatedly, stopping engine")
				e.running.Store(false)
				if e.cancel != nil {
					e.cancel()
				}
				return
			}
			continue
		}
		failures = 0
	}
}

// ActivateKillSwitch cancels every active order matching the scope,
// skipping strategies whose risk config opts out. Live orders already at
// the broker get an out-of-band cancel request. Returns the number of
// orders canceled locally.
func (e *Engine) ActivateKillSwitch(scope execution.Scope) int {
	canceled := e.tracker.CancelAll(scope, func(strategyID string) bool {
		return !e.gate.KillSwitchEnabled(strategyID)
	})

	for _, ord := range canceled {
		if e.metrics != nil {
			e.metrics.OrdersCanceled.Inc()
		}
		e.bus.Publish(ord)

		e.mu.RLock()
		b, bound := e.bindings[ord.StrategyID]
		e.mu.RUnlock()
		if bound && !b.paper && ord.BrokerOrderID != "" && e.broker != nil {
			go func(brokerOrderID string) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := e.broker.CancelOrder(ctx, brokerOrderID); err != nil {
					log.Error().Err(err).
						Str("broker_order_id", brokerOrderID).
						Msg("kill switch: broker cancel failed")
				}
			}(ord.BrokerOrderID)
		}
	}

	e.alerter.KillSwitchActivated(scope.String(), len(canceled))
	return len(canceled)
}

// RestoreOpenOrders loads persisted non-terminal orders back into the
// tracker at startup. VALIDATED orders are re-published so they resume
// the execution path; orders further along are held for the kill switch
// and manual review. Call after Start: re-publication fans out through
// the bus and needs the handlers subscribed.
func (e *Engine) RestoreOpenOrders(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	orders, err := e.store.OpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: restore open orders: %w", err)
	}
	restored := 0
	for _, o := range orders {
		if err := e.tracker.Add(o); err != nil {
			log.Warn().Err(err).Str("client_order_id", o.ClientOrderID).Msg("restore order")
			continue
		}
		restored++
		if o.Status == event.OrderValidated {
			e.bus.Publish(o)
		} else {
			log.Warn().
				Str("client_order_id", o.ClientOrderID).
				Str("status", string(o.Status)).
				Msg("restored in-flight order, review required")
		}
	}
	if restored > 0 {
		log.Info().Int("restored", restored).Msg("open orders restored")
	}
	return restored, nil
}

// ResetDaily zeroes the risk gate counters for every bound strategy.
func (e *Engine) ResetDaily() {
	e.mu.RLock()
	ids := make([]string, 0, len(e.bindings))
	for id := range e.bindings {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	for _, id := range ids {
		e.gate.ResetDaily(id)
	}
}

// Position returns the netted signed position for a symbol.
func (e *Engine) Position(symbol string) decimal.Decimal {
	return e.ledger.Position(symbol)
}

// Positions returns every strategy-level position.
func (e *Engine) Positions() []execution.Position {
	return e.ledger.All()
}

// ActiveOrders returns the non-terminal tracked orders.
func (e *Engine) ActiveOrders() []event.Order {
	return e.tracker.Active()
}

// Health reports the engine's current operational state.
func (e *Engine) Health() observability.HealthReport {
	return observability.HealthReport{
		Running:      e.running.Load(),
		BusDepth:     e.bus.Depth(),
		BusCapacity:  e.bus.Capacity(),
		ActiveOrders: len(e.tracker.Active()),
		Evicted:      e.bus.Evicted(),
	}
}
