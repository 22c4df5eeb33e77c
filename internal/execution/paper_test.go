package execution

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

func paperOrder(side event.Side) event.Order {
	return event.Order{
		Base:          event.NewBase(event.TypeOrder, 1, "s1", "BTC/USD"),
		OrderType:     event.OrderTypeMarket,
		Side:          side,
		Qty:           decimal.NewFromInt(10),
		Price:         decimal.NewFromInt(100),
		ClientOrderID: "c1",
		Status:        event.OrderSent,
	}
}

func TestPaperFullFillWithSlippage(t *testing.T) {
	p := NewPaperExecutor(PaperConfig{SlippagePct: 1}, rand.New(rand.NewSource(1)))

	fill, err := p.Execute(context.Background(), paperOrder(event.SideBuy), nil)
	require.NoError(t, err)

	assert.Equal(t, "c1", fill.OrderID)
	assert.Equal(t, "10", fill.Qty.String())
	assert.False(t, fill.Partial)
	// Buyer pays 1% worse: 100 * 1.01.
	assert.Equal(t, "101", fill.Price.String())
}

func TestPaperSlippageAgainstSeller(t *testing.T) {
	p := NewPaperExecutor(PaperConfig{SlippagePct: 2}, rand.New(rand.NewSource(1)))

	fill, err := p.Execute(context.Background(), paperOrder(event.SideSell), nil)
	require.NoError(t, err)
	// Seller receives 2% worse: 100 * 0.98.
	assert.Equal(t, "98", fill.Price.String())
}

func TestPaperCommission(t *testing.T) {
	p := NewPaperExecutor(PaperConfig{CommissionBps: 10}, rand.New(rand.NewSource(1)))

	fill, err := p.Execute(context.Background(), paperOrder(event.SideBuy), nil)
	require.NoError(t, err)
	// 10 bps of 100*10 notional = 1.
	assert.Equal(t, "1", fill.Commission.String())
}

func TestPaperPartialFillFraction(t *testing.T) {
	p := NewPaperExecutor(PaperConfig{PartialFillProb: 1}, rand.New(rand.NewSource(42)))

	fill, err := p.Execute(context.Background(), paperOrder(event.SideBuy), nil)
	require.NoError(t, err)

	assert.True(t, fill.Partial)
	// Fraction is uniform in [0.5, 0.9).
	frac := fill.Qty.Div(decimal.NewFromInt(10)).InexactFloat64()
	assert.GreaterOrEqual(t, frac, 0.5)
	assert.Less(t, frac, 0.9)
}

func TestPaperNeverPartialAtZeroProb(t *testing.T) {
	p := NewPaperExecutor(PaperConfig{PartialFillProb: 0}, rand.New(rand.NewSource(7)))

	for i := 0; i < 20; i++ {
		fill, err := p.Execute(context.Background(), paperOrder(event.SideBuy), nil)
		require.NoError(t, err)
		assert.False(t, fill.Partial)
		assert.Equal(t, "10", fill.Qty.String())
	}
}

func TestPaperAckCarriesSyntheticBrokerID(t *testing.T) {
	p := NewPaperExecutor(PaperConfig{}, rand.New(rand.NewSource(1)))

	var acked string
	fill, err := p.Execute(context.Background(), paperOrder(event.SideBuy), func(brokerOrderID string) {
		acked = brokerOrderID
	})
	require.NoError(t, err)
	assert.NotEmpty(t, acked)
	assert.Equal(t, acked, fill.BrokerOrderID)
}

func TestPaperRequiresReferencePrice(t *testing.T) {
	p := NewPaperExecutor(PaperConfig{}, rand.New(rand.NewSource(1)))

	ord := paperOrder(event.SideBuy)
	ord.Price = decimal.Zero
	_, err := p.Execute(context.Background(), ord, nil)
	assert.Error(t, err)
}

func TestPaperHonorsContextDuringDelay(t *testing.T) {
	p := NewPaperExecutor(PaperConfig{
		MinDelay: 5 * time.Second,
		MaxDelay: 10 * time.Second,
	}, rand.New(rand.NewSource(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Execute(ctx, paperOrder(event.SideBuy), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPaperDeterministicUnderSeed(t *testing.T) {
	cfg := PaperConfig{SlippagePct: 0.5, PartialFillProb: 0.5, CommissionBps: 5}

	a := NewPaperExecutor(cfg, rand.New(rand.NewSource(99)))
	b := NewPaperExecutor(cfg, rand.New(rand.NewSource(99)))

	fa, err := a.Execute(context.Background(), paperOrder(event.SideBuy), nil)
	require.NoError(t, err)
	fb, err := b.Execute(context.Background(), paperOrder(event.SideBuy), nil)
	require.NoError(t, err)

	assert.Equal(t, fa.Qty.String(), fb.Qty.String())
	assert.Equal(t, fa.Price.String(), fb.Price.String())
	assert.Equal(t, fa.Partial, fb.Partial)
}
