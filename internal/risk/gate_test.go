package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

func sig(strategyID string) event.Signal {
	return event.Signal{
		Base:   event.NewBase(event.TypeSignal, 1, strategyID, "BTC/USD"),
		Action: event.ActionBuy,
	}
}

func TestValidateUnregistered(t *testing.T) {
	g := NewGate()

	d := g.Validate(sig("ghost"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnregistered, d.Code)
	assert.Equal(t, "Strategy not registered", d.Reason)
	assert.Equal(t, int64(1), g.Blocked())
}

func TestValidateAllowsWithinLimits(t *testing.T) {
	g := NewGate()
	g.Register("s1", Config{MaxDailyLoss: 100, MaxTradesPerDay: 5})

	d := g.Validate(sig("s1"))
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
	assert.Equal(t, int64(1), g.Allowed())
}

func TestValidateDailyLossLimit(t *testing.T) {
	g := NewGate()
	g.Register("s1", Config{MaxDailyLoss: 100, MaxTradesPerDay: 5})

	g.RecordLoss("s1", 60)
	assert.True(t, g.Validate(sig("s1")).Allowed, "strictly below the limit still trades")

	g.RecordLoss("s1", 40)
	d := g.Validate(sig("s1"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLoss, d.Code)
	assert.Contains(t, d.Reason, "Daily loss limit reached")
}

func TestValidateTradeLimit(t *testing.T) {
	g := NewGate()
	g.Register("s1", Config{MaxDailyLoss: 1000, MaxTradesPerDay: 2})

	g.RecordTrade("s1")
	assert.True(t, g.Validate(sig("s1")).Allowed)

	g.RecordTrade("s1")
	d := g.Validate(sig("s1"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonTradeLimit, d.Code)
	assert.Contains(t, d.Reason, "Daily trade limit reached")
}

func TestLossCheckPrecedesTradeCheck(t *testing.T) {
	g := NewGate()
	g.Register("s1", Config{MaxDailyLoss: 50, MaxTradesPerDay: 1})

	g.RecordLoss("s1", 50)
	g.RecordTrade("s1")

	d := g.Validate(sig("s1"))
	assert.Equal(t, ReasonDailyLoss, d.Code, "both limits hit, loss reported first")
}

func TestRecordLossIgnoresGains(t *testing.T) {
	g := NewGate()
	g.Register("s1", Config{MaxDailyLoss: 100, MaxTradesPerDay: 5})

	g.RecordLoss("s1", -20)
	g.RecordLoss("s1", 0)

	loss, _, ok := g.Snapshot("s1")
	require.True(t, ok)
	assert.Zero(t, loss)
}

func TestResetDaily(t *testing.T) {
	g := NewGate()
	g.Register("s1", Config{MaxDailyLoss: 100, MaxTradesPerDay: 1})

	g.RecordLoss("s1", 100)
	g.RecordTrade("s1")
	assert.False(t, g.Validate(sig("s1")).Allowed)

	g.ResetDaily("s1")

	d := g.Validate(sig("s1"))
	assert.True(t, d.Allowed)
	loss, trades, ok := g.Snapshot("s1")
	require.True(t, ok)
	assert.Zero(t, loss)
	assert.Zero(t, trades)
}

func TestReRegisterResetsCounters(t *testing.T) {
	g := NewGate()
	g.Register("s1", Config{MaxDailyLoss: 100, MaxTradesPerDay: 5})
	g.RecordLoss("s1", 80)

	g.Register("s1", Config{MaxDailyLoss: 200, MaxTradesPerDay: 5})

	loss, _, ok := g.Snapshot("s1")
	require.True(t, ok)
	assert.Zero(t, loss)

	cfg, ok := g.ConfigFor("s1")
	require.True(t, ok)
	assert.Equal(t, 200.0, cfg.MaxDailyLoss)
}

func TestUnregisterBlocksFurtherSignals(t *testing.T) {
	g := NewGate()
	g.Register("s1", Config{MaxDailyLoss: 100, MaxTradesPerDay: 5})
	g.Unregister("s1")

	d := g.Validate(sig("s1"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnregistered, d.Code)
}

func TestKillSwitchEnabled(t *testing.T) {
	g := NewGate()
	g.Register("on", Config{KillSwitchEnabled: true})
	g.Register("off", Config{KillSwitchEnabled: false})

	assert.True(t, g.KillSwitchEnabled("on"))
	assert.False(t, g.KillSwitchEnabled("off"))
	assert.True(t, g.KillSwitchEnabled("unknown"), "unknown strategies default to covered")
}
