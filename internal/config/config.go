// Package config loads the server's YAML configuration, shaped after
// tradSys's pkg/config.Config nested-section convention.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the top-level server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	WAL     WALConfig     `yaml:"wal"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig covers listener and admin-surface settings.
type ServerConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	AdminAddr     string `yaml:"admin_addr"`
	RateLimitRPS  float64 `yaml:"rate_limit_rps"`
}

// EngineConfig covers shard partitioning and market-data cadence.
type EngineConfig struct {
	Symbols          []string `yaml:"symbols"`
	ShardCount       int      `yaml:"shard_count"`
	CommandBuffer    int      `yaml:"command_buffer"`
	BookCapacity     int      `yaml:"book_capacity"`
	MarketDataHz     float64  `yaml:"market_data_hz"`
}

// WALConfig covers journal placement and segment sizing.
type WALConfig struct {
	Directory   string `yaml:"directory"`
	SegmentSize int    `yaml:"segment_size"`
}

// AuthConfig covers token validation.
type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	MinProtocolVersion string `yaml:"min_protocol_version"`
}

// LoggingConfig covers the zap logger's mode.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with the seed values a fresh deployment
// should start from.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:   ":7300",
			AdminAddr:    ":7301",
			RateLimitRPS: 200,
		},
		Engine: EngineConfig{
			ShardCount:    1,
			CommandBuffer: 1024,
			BookCapacity:  1 << 16,
			MarketDataHz:  1,
		},
		WAL: WALConfig{
			Directory:   "./wal-data",
			SegmentSize: 10 * 1024 * 1024,
		},
		Auth: AuthConfig{
			MinProtocolVersion: "1.0.0",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and parses the YAML file at path, filling any fields it
// omits from Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
