// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Sunil0809/nautier-tradetron/internal/risk"
)

// Config is the root configuration structure.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Bus        BusConfig        `yaml:"bus"`
	Engine     EngineConfig     `yaml:"engine"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Broker     BrokerConfig     `yaml:"broker"`
	Store      StoreConfig      `yaml:"store"`
	Feed       FeedConfig       `yaml:"feed"`
	Ops        OpsConfig        `yaml:"ops"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type BusConfig struct {
	Capacity int `yaml:"capacity"`
}

type EngineConfig struct {
	Workers        int     `yaml:"workers"`
	OrderQueueSize int     `yaml:"order_queue_size"`
	DefaultQty     float64 `yaml:"default_qty"`
	// DailyReset enables the UTC-midnight risk counter reset.
	DailyReset bool `yaml:"daily_reset"`
}

type ExecutionConfig struct {
	Paper          PaperConfig `yaml:"paper"`
	PollIntervalMs int         `yaml:"poll_interval_ms"`
}

type PaperConfig struct {
	SlippagePct     float64 `yaml:"slippage_pct"`
	MinDelayMs      int     `yaml:"min_delay_ms"`
	MaxDelayMs      int     `yaml:"max_delay_ms"`
	PartialFillProb float64 `yaml:"partial_fill_prob"`
	CommissionBps   float64 `yaml:"commission_bps"`
}

type BrokerConfig struct {
	BaseURL      string  `yaml:"base_url"`
	Token        string  `yaml:"token"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	TimeoutMs    int     `yaml:"timeout_ms"`
}

type StoreConfig struct {
	Driver    string `yaml:"driver"` // sqlite|memory
	Path      string `yaml:"path"`
	MemoryCap int    `yaml:"memory_cap"`
}

type FeedConfig struct {
	Enabled bool     `yaml:"enabled"`
	URL     string   `yaml:"url"`
	Symbols []string `yaml:"symbols"`
	UserID  int64    `yaml:"user_id"`
}

type OpsConfig struct {
	ListenAddr       string `yaml:"listen_addr"`
	HealthIntervalMs int    `yaml:"health_interval_ms"`
}

// StrategyConfig binds one strategy: its rule, limits, and execution
// mode. Rule and RuleFile are mutually exclusive.
type StrategyConfig struct {
	ID       string      `yaml:"id"`
	UserID   int64       `yaml:"user_id"`
	Live     bool        `yaml:"live"`
	Qty      float64     `yaml:"qty"`
	Rule     string      `yaml:"rule"`
	RuleFile string      `yaml:"rule_file"`
	Risk     risk.Config `yaml:"risk"`
}

// RuleSource returns the rule JSON, reading RuleFile if set.
func (s StrategyConfig) RuleSource() ([]byte, error) {
	if s.RuleFile != "" {
		data, err := os.ReadFile(s.RuleFile)
		if err != nil {
			return nil, fmt.Errorf("read rule file %s: %w", s.RuleFile, err)
		}
		return data, nil
	}
	return []byte(s.Rule), nil
}

// Load reads, env-expands, parses, defaults, and validates the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "tradetron-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Bus.Capacity == 0 {
		cfg.Bus.Capacity = 10_000
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Engine.OrderQueueSize == 0 {
		cfg.Engine.OrderQueueSize = 1024
	}
	if cfg.Engine.DefaultQty == 0 {
		cfg.Engine.DefaultQty = 10
	}
	if cfg.Execution.PollIntervalMs == 0 {
		cfg.Execution.PollIntervalMs = 500
	}
	if cfg.Broker.RateLimitRPS == 0 {
		cfg.Broker.RateLimitRPS = 5
	}
	if cfg.Broker.TimeoutMs == 0 {
		cfg.Broker.TimeoutMs = 10_000
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = "tradetron.db"
	}
	if cfg.Ops.ListenAddr == "" {
		cfg.Ops.ListenAddr = ":8090"
	}
	if cfg.Ops.HealthIntervalMs == 0 {
		cfg.Ops.HealthIntervalMs = 15_000
	}
}

// Validate rejects configurations that cannot run.
func (cfg *Config) Validate() error {
	switch cfg.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown store driver %q", cfg.Store.Driver)
	}

	anyLive := false
	seen := make(map[string]struct{}, len(cfg.Strategies))
	for i, s := range cfg.Strategies {
		if s.ID == "" {
			return fmt.Errorf("config: strategies[%d]: id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("config: duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = struct{}{}

		if (s.Rule == "") == (s.RuleFile == "") {
			return fmt.Errorf("config: strategy %s: exactly one of rule or rule_file is required", s.ID)
		}
		if s.Live {
			anyLive = true
		}
	}

	if anyLive {
		if cfg.Broker.BaseURL == "" {
			return fmt.Errorf("config: live strategies configured but broker.base_url is empty")
		}
		if cfg.Broker.Token == "" {
			return fmt.Errorf("config: live strategies configured but broker.token is empty")
		}
	}

	if cfg.Feed.Enabled && cfg.Feed.URL == "" {
		return fmt.Errorf("config: feed enabled but feed.url is empty")
	}
	return nil
}
