package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-broker/internal/logging"
	"github.com/Tyrowin/gochat-broker/internal/server"
)

func main() {
	config := server.NewConfigFromEnv()

	flag.StringVar(&config.ChatAddr, "addr", config.ChatAddr, "chat listen address")
	flag.StringVar(&config.StatusAddr, "status-addr", config.StatusAddr, "status HTTP address, empty to disable")
	flag.IntVar(&config.RateLimit.MaxMessages, "rate-limit", config.RateLimit.MaxMessages, "messages allowed per window")
	flag.DurationVar(&config.RateLimit.Window, "rate-window", config.RateLimit.Window, "rate limit window")
	flag.IntVar(&config.MaxFrameSize, "max-frame", config.MaxFrameSize, "largest accepted frame payload in bytes")
	flag.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error")
	flag.StringVar(&config.LogFile, "log-file", config.LogFile, "also append logs to this file")
	trusted := flag.String("trusted-relays", strings.Join(config.TrustedRelays, ","), "comma-separated relay IPs allowed to use '*' nicknames")
	flag.Parse()

	config.TrustedRelays = config.TrustedRelays[:0]
	for _, ip := range strings.Split(*trusted, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			config.TrustedRelays = append(config.TrustedRelays, ip)
		}
	}

	logger, err := logging.New(config.LogLevel, config.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting chat broker",
		zap.String("addr", config.ChatAddr),
		zap.String("status_addr", config.StatusAddr),
		zap.Int("rate_limit", config.RateLimit.MaxMessages),
		zap.Duration("rate_window", config.RateLimit.Window))

	app := fx.New(
		fx.Supply(*config),
		fx.Supply(logger),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		server.Module,
	)
	app.Run()
}
