// Package relay implements the forwarding proxy that sits in front of the
// broker. Each client connection is paired with its own upstream connection
// and frames are copied verbatim in both directions, except that the first
// client handshake has its nickname marked as relayed.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gochat-broker/internal/protocol"
)

// Stats is a point-in-time view of the relay.
type Stats struct {
	ActivePairings int64
	FramesRelayed  uint64
}

// pairing is one client connection and the upstream connection opened for
// it. Both are closed together, exactly once.
type pairing struct {
	id       string
	client   net.Conn
	upstream net.Conn
	log      *zap.Logger
	once     sync.Once
}

func (p *pairing) close() error {
	var err error
	p.once.Do(func() {
		err = multierr.Combine(p.client.Close(), p.upstream.Close())
	})
	return err
}

// Proxy accepts client connections and relays them to the broker.
type Proxy struct {
	cfg     Config
	log     *zap.Logger
	metrics *Metrics
	clock   clock.Clock
	dialer  net.Dialer

	// pairings is only written by a pairing's own goroutine, at setup and
	// at teardown.
	pairings sync.Map
	active   atomic.Int64
	relayed  atomic.Uint64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewProxy creates a Proxy. metrics may be nil.
func NewProxy(cfg Config, metrics *Metrics, log *zap.Logger) *Proxy {
	ctx, cancel := context.WithCancel(context.Background())
	return &Proxy{
		cfg:     cfg.Sanitize(),
		log:     log.Named("relay"),
		metrics: metrics,
		clock:   clock.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Serve accepts clients on ln until Close is called. Any other accept
// failure is returned.
func (p *Proxy) Serve(ln net.Listener) error {
	p.wg.Add(1)
	defer p.wg.Done()

	go func() {
		<-p.ctx.Done()
		_ = ln.Close()
	}()

	p.log.Info("relay listening",
		zap.Stringer("addr", ln.Addr()),
		zap.String("upstream", p.cfg.UpstreamAddr))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runStats()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handle(conn)
		}()
	}
}

// handle pairs client with a fresh upstream connection and runs both
// forwarding flows until either one stops.
func (p *Proxy) handle(client net.Conn) {
	addr := client.RemoteAddr().String()
	log := p.log.With(zap.String("addr", addr))

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.DialTimeout)
	upstream, err := p.dialer.DialContext(ctx, "tcp", p.cfg.UpstreamAddr)
	cancel()
	if err != nil {
		log.Warn("cannot reach broker, dropping client", zap.Error(err))
		p.metrics.incDialFailures()
		_ = client.Close()
		return
	}

	pr := &pairing{
		id:       uuid.NewString(),
		client:   client,
		upstream: upstream,
		log:      log,
	}
	pr.log = log.With(zap.String("pairing", pr.id))

	p.pairings.Store(pr.id, pr)
	p.metrics.setPairings(p.active.Add(1))
	pr.log.Info("relay established")

	// A pairing registered after Close started its sweep still has to go.
	if p.ctx.Err() != nil {
		_ = pr.close()
	}

	var g errgroup.Group
	g.Go(func() error {
		defer pr.close()
		return p.forward(pr, client, upstream, dirClientToUpstream)
	})
	g.Go(func() error {
		defer pr.close()
		return p.forward(pr, upstream, client, dirUpstreamToClient)
	})
	err = g.Wait()

	p.pairings.Delete(pr.id)
	p.metrics.setPairings(p.active.Add(-1))
	pr.log.Info("relay closed", zap.NamedError("cause", err))
}

// forward copies frames from src to dst. Only the first frame of the
// client-to-upstream direction is inspected.
func (p *Proxy) forward(pr *pairing, src, dst net.Conn, direction string) error {
	first := direction == dirClientToUpstream
	for {
		payload, err := protocol.ReadFrame(src, p.cfg.MaxFrameSize)
		if err != nil {
			if errors.Is(err, protocol.ErrPeerClosed) {
				return nil
			}
			return fmt.Errorf("%s read: %w", direction, err)
		}

		if first {
			first = false
			payload = p.rewriteHandshake(pr, payload)
		}

		if err := protocol.WriteFrame(dst, payload); err != nil {
			return fmt.Errorf("%s write: %w", direction, err)
		}
		p.relayed.Add(1)
		p.metrics.incFrames(direction)
	}
}

// rewriteHandshake returns payload with its nickname marked as relayed, or
// payload untouched when it is not an unmarked handshake.
func (p *Proxy) rewriteHandshake(pr *pairing, payload []byte) []byte {
	text, err := protocol.DecodeEnvelope(payload)
	if err != nil {
		return payload
	}
	rewritten, ok := protocol.RewriteHandshake(text)
	if !ok {
		return payload
	}
	pr.log.Info("nickname rewrite", zap.String("from", text), zap.String("to", rewritten))
	p.metrics.incRewrites()
	return protocol.EncodeEnvelope(rewritten)
}

func (p *Proxy) runStats() {
	ticker := p.clock.Ticker(p.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			stats := p.Stats()
			p.log.Info("relay stats",
				zap.Int64("active_pairings", stats.ActivePairings),
				zap.Uint64("frames_relayed", stats.FramesRelayed))
		}
	}
}

func (p *Proxy) Stats() Stats {
	return Stats{
		ActivePairings: p.active.Load(),
		FramesRelayed:  p.relayed.Load(),
	}
}

// Close stops accepting, tears down every pairing and waits for their
// goroutines to finish.
func (p *Proxy) Close() error {
	p.log.Info("shutting down relay")
	p.cancel()

	var errs error
	p.pairings.Range(func(_, v any) bool {
		if err := v.(*pairing).close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
		return true
	})

	p.wg.Wait()
	return errs
}
