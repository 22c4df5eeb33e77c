package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "tradetron-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
general:
  instance_id: "test-node"
  environment: "development"
  log_level: "debug"

bus:
  capacity: 512

engine:
  workers: 2
  default_qty: 5
  daily_reset: true

broker:
  base_url: "https://broker.test"
  token: "tok"
  rate_limit_rps: 2

store:
  driver: sqlite
  path: "/tmp/test.db"

feed:
  enabled: true
  url: "wss://feed.test/ws"
  symbols:
    - "BTC/USD"
    - "ETH/USD"

strategies:
  - id: momentum
    user_id: 7
    live: true
    qty: 3
    rule: '{"name":"m","conditions":[{"left":"PRICE","op":">","right":"1"}],"action":"BUY"}'
    risk:
      max_daily_loss: 500
      max_trades_per_day: 20
      kill_switch_enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, 512, cfg.Bus.Capacity)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.True(t, cfg.Engine.DailyReset)
	assert.Equal(t, "https://broker.test", cfg.Broker.BaseURL)
	assert.Equal(t, 2.0, cfg.Broker.RateLimitRPS)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, cfg.Feed.Symbols)

	require.Len(t, cfg.Strategies, 1)
	s := cfg.Strategies[0]
	assert.Equal(t, "momentum", s.ID)
	assert.Equal(t, int64(7), s.UserID)
	assert.True(t, s.Live)
	assert.Equal(t, 500.0, s.Risk.MaxDailyLoss)
	assert.Equal(t, 20, s.Risk.MaxTradesPerDay)
	assert.True(t, s.Risk.KillSwitchEnabled)

	src, err := s.RuleSource()
	require.NoError(t, err)
	assert.Contains(t, string(src), `"action":"BUY"`)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
general: {}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tradetron-1", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "json", cfg.General.LogFormat)
	assert.Equal(t, 10_000, cfg.Bus.Capacity)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 1024, cfg.Engine.OrderQueueSize)
	assert.Equal(t, 10.0, cfg.Engine.DefaultQty)
	assert.Equal(t, 500, cfg.Execution.PollIntervalMs)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, ":8090", cfg.Ops.ListenAddr)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("BROKER_TOKEN", "from-env")
	path := writeConfig(t, `
broker:
  base_url: "https://broker.test"
  token: "${BROKER_TOKEN}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Broker.Token)
}

func TestRuleSourceFromFile(t *testing.T) {
	ruleFile, err := os.CreateTemp("", "rule-*.json")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(ruleFile.Name()) })
	_, err = ruleFile.WriteString(`{"name":"f","conditions":[],"action":"BUY"}`)
	require.NoError(t, err)
	ruleFile.Close()

	s := StrategyConfig{ID: "s1", RuleFile: ruleFile.Name()}
	src, err := s.RuleSource()
	require.NoError(t, err)
	assert.Contains(t, string(src), `"name":"f"`)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown store driver",
			yaml: `
store:
  driver: redis
`,
			want: "store driver",
		},
		{
			name: "duplicate strategy id",
			yaml: `
strategies:
  - id: s1
    rule: '{"name":"r","conditions":[{"left":"PRICE","op":">","right":"1"}],"action":"BUY"}'
  - id: s1
    rule: '{"name":"r","conditions":[{"left":"PRICE","op":">","right":"1"}],"action":"BUY"}'
`,
			want: "duplicate strategy id",
		},
		{
			name: "rule and rule_file both set",
			yaml: `
strategies:
  - id: s1
    rule: '{}'
    rule_file: "rules/s1.json"
`,
			want: "exactly one of rule or rule_file",
		},
		{
			name: "live without broker",
			yaml: `
strategies:
  - id: s1
    live: true
    rule: '{"name":"r","conditions":[{"left":"PRICE","op":">","right":"1"}],"action":"BUY"}'
`,
			want: "broker.base_url",
		},
		{
			name: "feed without url",
			yaml: `
feed:
  enabled: true
`,
			want: "feed.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
