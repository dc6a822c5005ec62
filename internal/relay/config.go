package relay

import (
	"os"
	"strconv"
	"time"

	"github.com/Tyrowin/gochat-broker/internal/protocol"
)

// Config holds the relay configuration.
type Config struct {
	ListenAddr      string
	UpstreamAddr    string
	DialTimeout     time.Duration
	MaxFrameSize    int
	StatsInterval   time.Duration
	MetricsAddr     string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFile         string
}

func defaultConfig() Config {
	return Config{
		ListenAddr:      ":8900",
		UpstreamAddr:    "localhost:8800",
		DialTimeout:     5 * time.Second,
		MaxFrameSize:    protocol.DefaultMaxFrameSize,
		StatsInterval:   30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// NewConfig creates a Config populated with default values.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize replaces unusable values with their defaults.
func (c Config) Sanitize() Config {
	def := defaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.UpstreamAddr == "" {
		c.UpstreamAddr = def.UpstreamAddr
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = def.StatsInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return c
}

// NewConfigFromEnv creates a Config from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("RELAY_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	if addr := os.Getenv("UPSTREAM_ADDR"); addr != "" {
		cfg.UpstreamAddr = addr
	}

	if timeout := os.Getenv("DIAL_TIMEOUT"); timeout != "" {
		cfg.DialTimeout = parseSeconds(timeout, cfg.DialTimeout)
	}

	if size := os.Getenv("MAX_FRAME_SIZE"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil && parsed > 0 {
			cfg.MaxFrameSize = parsed
		}
	}

	if interval := os.Getenv("STATS_INTERVAL"); interval != "" {
		cfg.StatsInterval = parseSeconds(interval, cfg.StatsInterval)
	}

	if addr := os.Getenv("RELAY_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}

	if level := os.Getenv("CHAT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if file := os.Getenv("CHAT_LOG_FILE"); file != "" {
		cfg.LogFile = file
	}

	return &cfg
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
