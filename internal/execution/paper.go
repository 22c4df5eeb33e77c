package execution

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PaperConfig controls the simulated execution model.
type PaperConfig struct {
	// SlippagePct is applied against the requested price, worse for the
	// taker direction: BUY pays more, SELL receives less.
	SlippagePct float64
	// MinDelay/MaxDelay bound the random fill latency.
	MinDelay time.Duration
	MaxDelay time.Duration
	// PartialFillProb is the probability of a partial fill at a uniformly
	// sampled fraction of the requested quantity.
	PartialFillProb float64
	// CommissionBps is a fixed basis-point rate on notional.
	CommissionBps float64
}

// PaperExecutor simulates fills entirely in-process. It is side-effect-free
// with respect to any live broker. Deterministic under an injected rand
// source.
type PaperExecutor struct {
	cfg PaperConfig

	mu  sync.Mutex // guards rng
	rng *rand.Rand
	seq atomic.Int64
}

// NewPaperExecutor creates a paper executor. Pass a seeded rng for
// deterministic tests; nil uses a time-seeded source.
func NewPaperExecutor(cfg PaperConfig, rng *rand.Rand) *PaperExecutor {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	log.Info().
		Float64("slippage_pct", cfg.SlippagePct).
		Dur("min_delay", cfg.MinDelay).
		Dur("max_delay", cfg.MaxDelay).
		Float64("partial_fill_prob", cfg.PartialFillProb).
		Float64("commission_bps", cfg.CommissionBps).
		Msg("paper executor initialized")
	return &PaperExecutor{cfg: cfg, rng: rng}
}

// Execute simulates the order: synthetic broker id, bounded random delay,
// slippage against the reference price, optional partial fill, and a
// basis-point commission on notional.
func (p *PaperExecutor) Execute(ctx context.Context, ord event.Order, ack AckFunc) (event.Fill, error) {
	if ord.Price.IsZero() {
		return event.Fill{}, fmt.Errorf("paper: order %s has no reference price", ord.ClientOrderID)
	}

	brokerID := fmt.Sprintf("PAPER-%d", p.seq.Add(1))
	if ack != nil {
		ack(brokerID)
	}

	if delay := p.randDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return event.Fill{}, ctx.Err()
		}
	}

	price := p.applySlippage(ord.Price, ord.Side)

	qty := ord.Qty
	partial := false
	p.mu.Lock()
	roll := p.rng.Float64()
	frac := 0.5 + p.rng.Float64()*0.4
	p.mu.Unlock()
	if p.cfg.PartialFillProb > 0 && roll < p.cfg.PartialFillProb {
		qty = ord.Qty.Mul(decimal.NewFromFloat(frac))
		partial = true
	}

	commission := price.Mul(qty).
		Mul(decimal.NewFromFloat(p.cfg.CommissionBps)).
		Div(decimal.NewFromInt(10_000))

	fill := event.Fill{
		Base:          event.NewBase(event.TypeFill, ord.UserID, ord.StrategyID, ord.Symbol),
		OrderID:       ord.ClientOrderID,
		BrokerOrderID: brokerID,
		Qty:           qty,
		Price:         price,
		Commission:    commission,
		Partial:       partial,
	}

	log.Info().
		Str("client_order_id", ord.ClientOrderID).
		Str("broker_order_id", brokerID).
		Str("side", string(ord.Side)).
		Str("fill_price", price.String()).
		Str("fill_qty", qty.String()).
		Bool("partial", partial).
		Msg("paper: order filled")

	return fill, nil
}

// randDelay samples a fill latency within [MinDelay, MaxDelay].
func (p *PaperExecutor) randDelay() time.Duration {
	if p.cfg.MaxDelay <= 0 {
		return p.cfg.MinDelay
	}
	if p.cfg.MaxDelay <= p.cfg.MinDelay {
		return p.cfg.MinDelay
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.MinDelay + time.Duration(p.rng.Int63n(int64(p.cfg.MaxDelay-p.cfg.MinDelay)))
}

// applySlippage adjusts the price against the taker: buyers pay more,
// sellers receive less.
func (p *PaperExecutor) applySlippage(price decimal.Decimal, side event.Side) decimal.Decimal {
	if p.cfg.SlippagePct == 0 {
		return price
	}
	factor := decimal.NewFromFloat(p.cfg.SlippagePct).Div(decimal.NewFromInt(100))
	if side == event.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(factor))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(factor))
}
