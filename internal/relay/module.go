package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Module provides the Proxy and its Metrics and binds the relay listener to
// the fx lifecycle. It needs a Config and a *zap.Logger.
var Module = fx.Module("relay",
	fx.Provide(
		NewMetrics,
		NewProxy,
	),
	fx.Invoke(registerHooks),
)

// Listeners records the addresses actually bound at start.
type Listeners struct {
	Relay   net.Addr
	Metrics net.Addr
}

type hookParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     Config
	Proxy      *Proxy
	Metrics    *Metrics
	Logger     *zap.Logger
	Listeners  *Listeners `optional:"true"`
}

func registerHooks(p hookParams) {
	cfg := p.Config.Sanitize()
	var metricsServer *http.Server

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return err
			}

			if cfg.MetricsAddr != "" {
				metricsLn, err := net.Listen("tcp", cfg.MetricsAddr)
				if err != nil {
					_ = ln.Close()
					return err
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", p.Metrics.Handler())
				metricsServer = &http.Server{
					Addr:              cfg.MetricsAddr,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}
				if p.Listeners != nil {
					p.Listeners.Metrics = metricsLn.Addr()
				}
				go func() {
					if err := metricsServer.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
						p.Logger.Error("metrics server failed", zap.Error(err))
					}
				}()
			}
			if p.Listeners != nil {
				p.Listeners.Relay = ln.Addr()
			}

			go func() {
				if err := p.Proxy.Serve(ln); err != nil {
					p.Logger.Error("relay listener failed", zap.Error(err))
					_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			var err error
			if metricsServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				err = metricsServer.Shutdown(ctx)
				cancel()
			}
			return multierr.Append(err, p.Proxy.Close())
		},
	})
}
