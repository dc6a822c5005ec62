package server

import (
	"context"
	"net"
	"net/http"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Module provides the Hub, Feed, Metrics and StatusServer and ties the chat
// listener and status server to the fx lifecycle. It needs a Config and a
// *zap.Logger from the surrounding application.
var Module = fx.Module("broker",
	fx.Provide(
		NewMetrics,
		newFeedFromConfig,
		newHubFromConfig,
		NewStatusServer,
	),
	fx.Invoke(registerHooks),
)

func newFeedFromConfig(cfg Config, metrics *Metrics) *Feed {
	return NewFeed(cfg.Sanitize().FeedSize, clock.New(), metrics)
}

func newHubFromConfig(cfg Config, feed *Feed, metrics *Metrics, log *zap.Logger) *Hub {
	return NewHub(cfg, feed, metrics, log)
}

// Listeners records the addresses actually bound at start.
type Listeners struct {
	Chat   net.Addr
	Status net.Addr
}

type hookParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     Config
	Hub        *Hub
	Status     *StatusServer
	Logger     *zap.Logger
	Listeners  *Listeners `optional:"true"`
}

func registerHooks(p hookParams) {
	cfg := p.Config.Sanitize()
	var httpServer *http.Server

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			chatLn, err := net.Listen("tcp", cfg.ChatAddr)
			if err != nil {
				return err
			}

			if cfg.StatusAddr != "" {
				statusLn, err := net.Listen("tcp", cfg.StatusAddr)
				if err != nil {
					_ = chatLn.Close()
					return err
				}
				httpServer = CreateServer(cfg.StatusAddr, p.Status.Routes())
				if p.Listeners != nil {
					p.Listeners.Status = statusLn.Addr()
				}
				go func() {
					if err := StartServer(httpServer, statusLn, p.Logger); err != nil {
						p.Logger.Error("status server failed", zap.Error(err))
					}
				}()
			}
			if p.Listeners != nil {
				p.Listeners.Chat = chatLn.Addr()
			}

			go p.Hub.Run()
			go func() {
				if err := p.Hub.Serve(chatLn); err != nil {
					p.Logger.Error("chat listener failed", zap.Error(err))
					_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			var err error
			if httpServer != nil {
				err = multierr.Append(err, ShutdownServer(httpServer, cfg.ShutdownTimeout, p.Logger))
			}
			return multierr.Append(err, p.Hub.Shutdown(cfg.ShutdownTimeout))
		},
	})
}
