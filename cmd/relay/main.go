package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-broker/internal/logging"
	"github.com/Tyrowin/gochat-broker/internal/relay"
)

func main() {
	config := relay.NewConfigFromEnv()

	flag.StringVar(&config.ListenAddr, "addr", config.ListenAddr, "relay listen address")
	flag.StringVar(&config.UpstreamAddr, "upstream", config.UpstreamAddr, "broker address")
	flag.DurationVar(&config.DialTimeout, "dial-timeout", config.DialTimeout, "upstream dial timeout")
	flag.StringVar(&config.MetricsAddr, "metrics-addr", config.MetricsAddr, "Prometheus metrics address, empty to disable")
	flag.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error")
	flag.StringVar(&config.LogFile, "log-file", config.LogFile, "also append logs to this file")
	flag.Parse()

	logger, err := logging.New(config.LogLevel, config.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting chat relay",
		zap.String("addr", config.ListenAddr),
		zap.String("upstream", config.UpstreamAddr))

	app := fx.New(
		fx.Supply(*config),
		fx.Supply(logger),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		relay.Module,
	)
	app.Run()
}
