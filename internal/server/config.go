package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/gochat-broker/internal/protocol"
)

// RateLimitConfig defines the sliding window applied to each nickname.
type RateLimitConfig struct {
	MaxMessages int
	Window      time.Duration
}

// Config holds the broker configuration.
type Config struct {
	ChatAddr        string
	StatusAddr      string
	AllowedOrigins  []string
	MaxFrameSize    int
	SendQueueSize   int
	WriteTimeout    time.Duration
	RateLimit       RateLimitConfig
	FeedSize        int
	StatsInterval   time.Duration
	TrustedRelays   []string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFile         string
}

func defaultConfig() Config {
	return Config{
		ChatAddr:   ":8800",
		StatusAddr: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxFrameSize:  protocol.DefaultMaxFrameSize,
		SendQueueSize: 256,
		WriteTimeout:  10 * time.Second,
		RateLimit: RateLimitConfig{
			MaxMessages: 10,
			Window:      60 * time.Second,
		},
		FeedSize:        1000,
		StatsInterval:   30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// Sanitize replaces unusable values with their defaults.
func (c Config) Sanitize() Config {
	def := defaultConfig()

	if c.ChatAddr == "" {
		c.ChatAddr = def.ChatAddr
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.RateLimit.MaxMessages <= 0 {
		c.RateLimit.MaxMessages = def.RateLimit.MaxMessages
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = def.RateLimit.Window
	}
	if c.FeedSize <= 0 {
		c.FeedSize = def.FeedSize
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

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	c.TrustedRelays = append([]string(nil), c.TrustedRelays...)
	return c
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("CHAT_ADDR"); addr != "" {
		cfg.ChatAddr = addr
	}

	// An explicitly empty STATUS_ADDR disables the status server.
	if addr, ok := os.LookupEnv("STATUS_ADDR"); ok {
		cfg.StatusAddr = addr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}

	if size := os.Getenv("MAX_FRAME_SIZE"); size != "" {
		cfg.MaxFrameSize = parseIntValue(size, cfg.MaxFrameSize)
	}

	if size := os.Getenv("SEND_QUEUE_SIZE"); size != "" {
		cfg.SendQueueSize = parseIntValue(size, cfg.SendQueueSize)
	}

	if timeout := os.Getenv("WRITE_TIMEOUT"); timeout != "" {
		cfg.WriteTimeout = parseSeconds(timeout, cfg.WriteTimeout)
	}

	if limit := os.Getenv("RATE_LIMIT_MESSAGES"); limit != "" {
		cfg.RateLimit.MaxMessages = parseIntValue(limit, cfg.RateLimit.MaxMessages)
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		cfg.RateLimit.Window = parseSeconds(window, cfg.RateLimit.Window)
	}

	if size := os.Getenv("FEED_SIZE"); size != "" {
		cfg.FeedSize = parseIntValue(size, cfg.FeedSize)
	}

	if interval := os.Getenv("STATS_INTERVAL"); interval != "" {
		cfg.StatsInterval = parseSeconds(interval, cfg.StatsInterval)
	}

	if relays := os.Getenv("TRUSTED_RELAYS"); relays != "" {
		cfg.TrustedRelays = parseList(relays)
	}

	if level := os.Getenv("CHAT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if file := os.Getenv("CHAT_LOG_FILE"); file != "" {
		cfg.LogFile = file
	}

	return &cfg
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts either a plain number of seconds or a Go duration.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
