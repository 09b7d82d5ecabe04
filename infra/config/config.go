// Package config loads the server configuration from YAML, with environment
// overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type PoolConfig struct {
	Base              string        `yaml:"base"`
	Quote             string        `yaml:"quote"`
	BaseDecimals      uint8         `yaml:"base_decimals"`
	Owner             string        `yaml:"owner"`
	MinTradeAmount    int64         `yaml:"min_trade_amount"`
	MinAmountMovement int64         `yaml:"min_amount_movement"`
	MinOrderSize      int64         `yaml:"min_order_size"`
	MinPriceMovement  int64         `yaml:"min_price_movement"`
	SlippageThreshold int64         `yaml:"slippage_threshold"`
	OrderTTL          time.Duration `yaml:"order_ttl"`
}

type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
		AuthToken  string `yaml:"auth_token"`
		RouterAddr string `yaml:"router_addr"`
	} `yaml:"server"`

	Fees struct {
		Receiver  string `yaml:"receiver"`
		MakerRate int64  `yaml:"maker_rate"` // per-mille
		TakerRate int64  `yaml:"taker_rate"` // per-mille
	} `yaml:"fees"`

	Pools []PoolConfig `yaml:"pools"`

	Journal struct {
		Dir         string `yaml:"dir"`
		SegmentSize int64  `yaml:"segment_size"`
	} `yaml:"journal"`

	Outbox struct {
		Dir string `yaml:"dir"`
	} `yaml:"outbox"`

	Kafka struct {
		Brokers     []string `yaml:"brokers"`
		TradesTopic string   `yaml:"trades_topic"`
		DepthTopic  string   `yaml:"depth_topic"`
	} `yaml:"kafka"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("CLOB_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("CLOB_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("CLOB_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = []string{v}
	}
}

func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.RouterAddr == "" {
		return fmt.Errorf("server.router_addr is required")
	}
	if c.Fees.Receiver == "" {
		return fmt.Errorf("fees.receiver is required")
	}
	if c.Fees.MakerRate < 0 || c.Fees.MakerRate >= 1000 ||
		c.Fees.TakerRate < 0 || c.Fees.TakerRate >= 1000 {
		return fmt.Errorf("fee rates must be in [0, 1000)")
	}
	if len(c.Pools) == 0 {
		return fmt.Errorf("at least one pool is required")
	}
	for i, p := range c.Pools {
		if p.Base == "" || p.Quote == "" {
			return fmt.Errorf("pool %d: base and quote are required", i)
		}
		if p.Owner == "" {
			return fmt.Errorf("pool %d: owner is required", i)
		}
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "./data/journal"
	}
	if c.Journal.SegmentSize == 0 {
		c.Journal.SegmentSize = 2 * 1024 * 1024
	}
	if c.Outbox.Dir == "" {
		c.Outbox.Dir = "./data/outbox"
	}
	return nil
}
