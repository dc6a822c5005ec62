package relay

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-broker/internal/protocol"
	"github.com/Tyrowin/gochat-broker/internal/server"
	"github.com/Tyrowin/gochat-broker/internal/testhelpers"
)

// fakeUpstream records every frame it receives, per accepted connection.
type fakeUpstream struct {
	addr     string
	accepted chan net.Conn
	frames   chan []byte

	mu    sync.Mutex
	conns []net.Conn
}

func startUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	ln := testhelpers.Listen(t)
	u := &fakeUpstream{
		addr:     ln.Addr().String(),
		accepted: make(chan net.Conn, 8),
		frames:   make(chan []byte, 64),
	}
	t.Cleanup(func() {
		_ = ln.Close()
		u.mu.Lock()
		defer u.mu.Unlock()
		for _, c := range u.conns {
			_ = c.Close()
		}
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			u.mu.Lock()
			u.conns = append(u.conns, conn)
			u.mu.Unlock()
			u.accepted <- conn
			go func() {
				for {
					payload, err := protocol.ReadFrame(conn, protocol.DefaultMaxFrameSize)
					if err != nil {
						return
					}
					u.frames <- payload
				}
			}()
		}
	}()
	return u
}

func (u *fakeUpstream) conn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-u.accepted:
		return c
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("relay never dialed upstream")
		return nil
	}
}

func (u *fakeUpstream) next(t *testing.T) []byte {
	t.Helper()
	select {
	case f := <-u.frames:
		return f
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("no frame reached upstream")
		return nil
	}
}

func (u *fakeUpstream) nextText(t *testing.T) string {
	t.Helper()
	text, err := protocol.DecodeEnvelope(u.next(t))
	require.NoError(t, err)
	return text
}

func startProxy(t *testing.T, upstream string) (*Proxy, *Metrics, string) {
	t.Helper()
	metrics := NewMetrics()
	p := NewProxy(Config{UpstreamAddr: upstream, DialTimeout: time.Second}, metrics, zaptest.NewLogger(t))
	ln := testhelpers.Listen(t)
	go func() { _ = p.Serve(ln) }()
	t.Cleanup(func() { _ = p.Close() })
	return p, metrics, ln.Addr().String()
}

func TestProxyRewritesFirstHandshakeOnly(t *testing.T) {
	up := startUpstream(t)
	p, metrics, addr := startProxy(t, up.addr)

	client := testhelpers.Dial(t, addr)
	client.Send("NAME: dan")
	client.Send("hello")
	client.Send("NAME: again")

	assert.Equal(t, "NAME: *dan", up.nextText(t))
	assert.Equal(t, "hello", up.nextText(t))
	assert.Equal(t, "NAME: again", up.nextText(t))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.rewrites))
	require.Eventually(t, func() bool { return p.Stats().FramesRelayed == 3 }, time.Second, 10*time.Millisecond)
}

func TestProxyLeavesMarkedHandshake(t *testing.T) {
	up := startUpstream(t)
	_, metrics, addr := startProxy(t, up.addr)

	client := testhelpers.Dial(t, addr)
	client.Send("NAME: *dan")

	assert.Equal(t, "NAME: *dan", up.nextText(t))
	assert.Zero(t, testutil.ToFloat64(metrics.rewrites))
}

func TestProxyOnlyInspectsFirstFrame(t *testing.T) {
	up := startUpstream(t)
	_, _, addr := startProxy(t, up.addr)

	client := testhelpers.Dial(t, addr)
	client.Send("hi there")
	client.Send("NAME: dan")

	assert.Equal(t, "hi there", up.nextText(t))
	assert.Equal(t, "NAME: dan", up.nextText(t))
}

func TestProxyForwardsBytesVerbatim(t *testing.T) {
	up := startUpstream(t)
	_, _, addr := startProxy(t, up.addr)

	client := testhelpers.Dial(t, addr)
	client.Send("NAME: dan")
	up.next(t)

	raw := []byte{0xff, 0x00, 0x13, 0x37}
	require.NoError(t, protocol.WriteFrame(client.Conn, raw))
	assert.Equal(t, raw, up.next(t))

	conn := up.conn(t)
	require.NoError(t, protocol.Send(conn, "CLIENT: *dan"))
	assert.Equal(t, "CLIENT: *dan", client.Next())
}

func TestProxyClientCloseTearsDownPairing(t *testing.T) {
	up := startUpstream(t)
	p, _, addr := startProxy(t, up.addr)

	client := testhelpers.Dial(t, addr)
	conn := up.conn(t)
	require.Eventually(t, func() bool { return p.Stats().ActivePairings == 1 }, time.Second, 10*time.Millisecond)

	client.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testhelpers.DefaultTimeout)))
	_, err := protocol.ReadFrame(conn, protocol.DefaultMaxFrameSize)
	assert.Error(t, err)
	require.Eventually(t, func() bool { return p.Stats().ActivePairings == 0 }, time.Second, 10*time.Millisecond)
}

func TestProxyUpstreamCloseTearsDownPairing(t *testing.T) {
	up := startUpstream(t)
	p, _, addr := startProxy(t, up.addr)

	client := testhelpers.Dial(t, addr)
	conn := up.conn(t)
	require.NoError(t, protocol.Send(conn, "goodbye"))
	require.NoError(t, conn.Close())

	assert.Equal(t, "goodbye", client.Next())
	client.ExpectClosed()
	require.Eventually(t, func() bool { return p.Stats().ActivePairings == 0 }, time.Second, 10*time.Millisecond)
}

func TestProxyDropsClientWhenUpstreamDown(t *testing.T) {
	ln := testhelpers.Listen(t)
	dead := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, metrics, addr := startProxy(t, dead)

	client := testhelpers.Dial(t, addr)
	client.ExpectClosed()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.dialFailures) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestProxyCloseDropsPairings(t *testing.T) {
	up := startUpstream(t)
	p, _, addr := startProxy(t, up.addr)

	client := testhelpers.Dial(t, addr)
	up.conn(t)

	require.NoError(t, p.Close())
	client.ExpectClosed()
	assert.Zero(t, p.Stats().ActivePairings)
}

func startBroker(t *testing.T, trusted []string) string {
	t.Helper()
	cfg := server.Config{TrustedRelays: trusted}
	log := zaptest.NewLogger(t)
	hub := server.NewHub(cfg, server.NewFeed(100, nil, nil), nil, log)
	ln := testhelpers.Listen(t)
	go hub.Run()
	go func() { _ = hub.Serve(ln) }()
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })
	return ln.Addr().String()
}

func TestRelayThroughTrustingBroker(t *testing.T) {
	broker := startBroker(t, []string{"127.0.0.1"})
	_, _, relayAddr := startProxy(t, broker)

	alice := testhelpers.Dial(t, broker)
	assert.Equal(t, "alice", alice.Join("alice"))
	alice.Expect(protocol.UserListPrefix)
	alice.Expect(protocol.UserListPrefix)

	dan := testhelpers.Dial(t, relayAddr)
	assert.Equal(t, "*dan", dan.Join("dan"))
	assert.Equal(t, "*dan joined (Total Clients: 2)", alice.Next())

	dan.Send("hi from the relay")
	got := alice.ExpectContaining("hi from the relay")
	assert.True(t, strings.HasSuffix(got, "*dan: hi from the relay"), got)
}

func TestRelayRejectedByUntrustingBroker(t *testing.T) {
	broker := startBroker(t, nil)
	_, _, relayAddr := startProxy(t, broker)

	dan := testhelpers.Dial(t, relayAddr)
	dan.Send(protocol.Handshake("dan"))

	assert.Equal(t, protocol.Error(protocol.ReservedReason), dan.Next())
	dan.ExpectClosed()
}
