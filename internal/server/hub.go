package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-broker/internal/protocol"
)

// Hub is the dispatcher. Run is the only goroutine that touches the
// registry, the rate limiter, the mailbox and the client set.
type Hub struct {
	cfg     Config
	log     *zap.Logger
	clock   clock.Clock
	feed    *Feed
	metrics *Metrics

	registry *Registry
	limiter  *rateLimiter
	mailbox  *mailbox
	trusted  map[string]struct{}

	clients map[*Client]struct{}
	failed  []*Client

	register chan net.Conn
	events   chan event

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// HubOption customises a Hub at construction.
type HubOption func(*Hub)

// WithClock replaces the wall clock used for timestamps, rate windows and
// the stats tick.
func WithClock(clk clock.Clock) HubOption {
	return func(h *Hub) { h.clock = clk }
}

// WithNicknameSuffix replaces the random collision suffix generator.
func WithNicknameSuffix(fn func(digits int) string) HubOption {
	return func(h *Hub) { h.registry.suffix = fn }
}

// NewHub creates a Hub publishing to feed. metrics may be nil.
func NewHub(cfg Config, feed *Feed, metrics *Metrics, log *zap.Logger, opts ...HubOption) *Hub {
	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		cfg:      cfg,
		log:      log.Named("hub"),
		clock:    clock.New(),
		feed:     feed,
		metrics:  metrics,
		registry: NewRegistry(),
		mailbox:  newMailbox(),
		trusted:  make(map[string]struct{}, len(cfg.TrustedRelays)),
		clients:  make(map[*Client]struct{}),
		register: make(chan net.Conn),
		events:   make(chan event, 256),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, ip := range cfg.TrustedRelays {
		h.trusted[ip] = struct{}{}
	}
	for _, opt := range opts {
		opt(h)
	}
	h.limiter = newRateLimiter(h.clock, cfg.RateLimit)
	return h
}

// Register hands an accepted connection to the Hub. It returns false once
// the Hub is shutting down.
func (h *Hub) Register(conn net.Conn) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) deliver(ev event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run is the dispatcher loop. Besides connection events it wakes up every
// StatsInterval to publish statistics.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := h.clock.Ticker(h.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case conn := <-h.register:
			h.handleRegister(conn)

		case ev := <-h.events:
			h.handleEvent(ev)

		case <-ticker.C:
			h.logStats()
		}

		h.reapFailed()
	}
}

func (h *Hub) handleRegister(conn net.Conn) {
	client := newClient(conn, h)
	h.clients[client] = struct{}{}
	client.log.Debug("connection accepted")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleEvent(ev event) {
	c := ev.client
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch ev.kind {
	case eventFrame:
		if c.state == stateConnecting {
			h.handshake(c, ev.text)
			return
		}
		h.route(c, ev.text)
	case eventClosed, eventWriteFailed:
		h.disconnect(c, ev.err)
	}
}

// handshake turns a CONNECTING client into an ACTIVE session, or discards it.
func (h *Hub) handshake(c *Client, text string) {
	requested, ok := protocol.ParseHandshake(text)
	if !ok {
		c.log.Info("discarding connection without handshake")
		h.metrics.incRejected("handshake")
		h.discard(c, false)
		return
	}

	name, err := h.claim(c, requested)
	if err != nil {
		reason := rejectionReason(err)
		h.send(c, protocol.Error(reason))
		h.feed.Log(fmt.Sprintf("Connection rejected from %s: %s", c.addr, reason))
		c.log.Info("handshake rejected", zap.String("requested", requested), zap.Error(err))
		if errors.Is(err, ErrReservedIdentity) {
			h.metrics.incRejected("reserved")
		} else {
			h.metrics.incRejected("invalid")
		}
		h.discard(c, false)
		return
	}

	c.state = stateActive
	c.nickname = name
	c.joinedAt = h.clock.Now()

	h.send(c, protocol.Assigned(name))
	h.send(c, protocol.UserList(h.registry.Names()))
	h.deliverOffline(c)

	total := h.registry.Len()
	h.feed.SetClients(total)

	joined := protocol.Joined(name, total)
	c.log.Info("client joined",
		zap.String("nickname", name),
		zap.String("requested", requested),
		zap.Int("total", total))
	h.feed.Log(joined)
	h.broadcast(joined, c)
	h.publishUserList()
}

func (h *Hub) claim(c *Client, requested string) (string, error) {
	if h.isTrustedRelay(c) && strings.HasPrefix(requested, protocol.ReservedMarker) {
		return h.registry.ClaimRelayed(requested, c)
	}
	return h.registry.Claim(requested, c)
}

func (h *Hub) isTrustedRelay(c *Client) bool {
	if len(h.trusted) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(c.addr)
	if err != nil {
		return false
	}
	_, ok := h.trusted[host]
	return ok
}

func rejectionReason(err error) string {
	var nickErr *NicknameError
	switch {
	case errors.Is(err, ErrReservedIdentity):
		return protocol.ReservedReason
	case errors.As(err, &nickErr):
		return nickErr.Reason
	default:
		return err.Error()
	}
}

func (h *Hub) deliverOffline(c *Client) {
	entries := h.mailbox.drain(c.nickname)
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		h.send(c, protocol.Offline(e.At, e.From, e.Text))
	}
	h.metrics.addOfflineDelivered(len(entries))
	h.feed.Log(fmt.Sprintf("Delivered %d offline messages to %s", len(entries), c.nickname))
}

// route handles one frame from an ACTIVE session.
func (h *Hub) route(c *Client, text string) {
	if !h.limiter.admit(c.nickname) {
		h.send(c, protocol.RateLimited(protocol.RateLimitNotice))
		h.metrics.incRateLimited()
		h.feed.Log("Rate limit triggered for " + c.nickname)
		return
	}

	if protocol.IsPrivateCommand(text) {
		target, body, ok := protocol.ParsePrivateCommand(text)
		if !ok {
			h.send(c, protocol.PrivateUsage)
			return
		}
		h.sendPrivate(c, target, body)
		return
	}

	msg := protocol.Public(h.clock.Now(), c.nickname, text)
	h.feed.Log(msg)
	h.broadcast(msg, c)
	h.feed.IncPublic()
}

func (h *Hub) sendPrivate(from *Client, target, body string) {
	now := h.clock.Now()

	to, online := h.registry.Lookup(target)
	if !online {
		h.mailbox.enqueue(target, MailboxEntry{From: from.nickname, Text: body, At: now})
		h.send(from, protocol.OfflineQueued(target))
		h.metrics.incOfflineQueued()
		h.feed.Log(fmt.Sprintf("OFFLINE MESSAGE [%s -> %s]: %s", from.nickname, target, body))
		return
	}

	h.send(to, protocol.PrivateFrom(now, from.nickname, body))
	h.send(from, protocol.PrivateTo(now, target, body))
	h.feed.Log(fmt.Sprintf("PRIVATE [%s -> %s]: %s", from.nickname, target, body))
	h.feed.IncPrivate()
}

// send queues text for c. A client that cannot take it is torn down after
// the current event, exactly as if it had disconnected.
func (h *Hub) send(c *Client, text string) {
	if c.enqueue(text) {
		return
	}
	if c.state != stateClosed && !c.failed {
		c.failed = true
		h.failed = append(h.failed, c)
	}
}

// broadcast delivers text to every ACTIVE session except exclude.
func (h *Hub) broadcast(text string, exclude *Client) {
	for c := range h.clients {
		if c == exclude || c.state != stateActive {
			continue
		}
		h.send(c, text)
	}
}

func (h *Hub) publishUserList() {
	h.broadcast(protocol.UserList(h.registry.Names()), nil)
}

func (h *Hub) reapFailed() {
	for len(h.failed) > 0 {
		c := h.failed[0]
		h.failed = h.failed[1:]
		h.disconnect(c, errSendQueueFull)
	}
}

// disconnect moves c to CLOSED. An ACTIVE session also releases its
// nickname and rate window, and the remaining sessions are told.
func (h *Hub) disconnect(c *Client, cause error) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	wasActive := c.state == stateActive
	h.discard(c, c.failed)
	if !wasActive {
		return
	}

	h.registry.Release(c.nickname)
	h.limiter.forget(c.nickname)

	total := h.registry.Len()
	h.feed.SetClients(total)

	left := protocol.Left(c.nickname, total)
	c.log.Info("client left",
		zap.String("nickname", c.nickname),
		zap.Duration("connected", h.clock.Since(c.joinedAt)),
		zap.Int("total", total),
		zap.NamedError("cause", cause))
	h.feed.Log(left)
	h.broadcast(left, nil)
	h.publishUserList()
}

// discard drops c from the client set and stops its write pump. Queued
// frames are still flushed unless closeNow is set.
func (h *Hub) discard(c *Client, closeNow bool) {
	delete(h.clients, c)
	prev := c.state
	c.state = stateClosed
	close(c.send)
	if closeNow {
		c.closeConnection()
	}
	c.log.Debug("connection discarded", zap.Stringer("state", prev))
}

func (h *Hub) logStats() {
	stats := h.feed.Stats()
	h.log.Info("server stats",
		zap.Int("clients", stats.Clients),
		zap.Int64("public_messages", stats.PublicMessages),
		zap.Int64("private_messages", stats.PrivateMessages),
		zap.Int("push_subscribers", h.feed.Subscribers()),
		zap.Int("connections", len(h.clients)))
}

// shutdownClients closes every open connection.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	var errs error
	for c := range h.clients {
		c.state = stateClosed
		close(c.send)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		h.log.Warn("errors while closing connections", zap.Error(errs))
	}

	h.log.Info("closed client connections", zap.Int("count", len(h.clients)))
	clear(h.clients)
}

// Shutdown stops the Hub and waits for every pump to finish or for the
// timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
