// Package testhelpers provides utilities shared by the broker and relay
// tests: a framed chat client that speaks the wire protocol over TCP, and
// small wrappers for the HTTP status surface.
package testhelpers

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-broker/internal/protocol"
)

// DefaultTimeout bounds every blocking read a test makes.
const DefaultTimeout = 2 * time.Second

// ChatClient is a raw framed connection to a broker or relay.
type ChatClient struct {
	t    testing.TB
	Conn net.Conn
}

// Dial connects to addr and closes the connection when the test ends.
func Dial(t testing.TB, addr string) *ChatClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	require.NoError(t, err, "dial %s", addr)
	t.Cleanup(func() { _ = conn.Close() })
	return &ChatClient{t: t, Conn: conn}
}

// Send writes one text frame.
func (c *ChatClient) Send(text string) {
	c.t.Helper()
	require.NoError(c.t, protocol.Send(c.Conn, text), "send %q", text)
}

// Receive reads the next frame, waiting at most timeout.
func (c *ChatClient) Receive(timeout time.Duration) (string, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	return protocol.Receive(c.Conn, protocol.DefaultMaxFrameSize)
}

// Next reads the next frame and fails the test when none arrives.
func (c *ChatClient) Next() string {
	c.t.Helper()
	text, err := c.Receive(DefaultTimeout)
	require.NoError(c.t, err, "waiting for frame")
	return text
}

// Expect reads frames until one starts with prefix and returns it. Frames
// read on the way are returned as skipped.
func (c *ChatClient) Expect(prefix string) (text string, skipped []string) {
	c.t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no frame starting with %q; saw %q", prefix, skipped)
		}
		got, err := c.Receive(remaining)
		if err != nil {
			c.t.Fatalf("no frame starting with %q: %v; saw %q", prefix, err, skipped)
		}
		if strings.HasPrefix(got, prefix) {
			return got, skipped
		}
		skipped = append(skipped, got)
	}
}

// ExpectContaining reads frames until one contains substr.
func (c *ChatClient) ExpectContaining(substr string) string {
	c.t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	var seen []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no frame containing %q; saw %q", substr, seen)
		}
		got, err := c.Receive(remaining)
		if err != nil {
			c.t.Fatalf("no frame containing %q: %v; saw %q", substr, err, seen)
		}
		if strings.Contains(got, substr) {
			return got
		}
		seen = append(seen, got)
	}
}

// ExpectNone fails the test if any frame satisfying match arrives within
// wait.
func (c *ChatClient) ExpectNone(wait time.Duration, match func(string) bool) {
	c.t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		got, err := c.Receive(remaining)
		if err != nil {
			if IsTimeout(err) || errors.Is(err, protocol.ErrPeerClosed) {
				return
			}
			c.t.Fatalf("unexpected read error: %v", err)
		}
		if match(got) {
			c.t.Fatalf("unexpected frame %q", got)
		}
	}
}

// ExpectClosed waits for the peer to close the connection, discarding any
// frames still in flight.
func (c *ChatClient) ExpectClosed() {
	c.t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatal("connection still open")
		}
		_, err := c.Receive(remaining)
		if err == nil {
			continue
		}
		if IsTimeout(err) {
			c.t.Fatal("connection still open")
		}
		return
	}
}

// Join performs the handshake and returns the assigned nickname. It leaves
// the frames that follow CLIENT: unread.
func (c *ChatClient) Join(name string) string {
	c.t.Helper()
	c.Send(protocol.Handshake(name))
	text, _ := c.Expect(protocol.AssignedPrefix)
	return strings.TrimPrefix(text, protocol.AssignedPrefix)
}

// Close closes the connection.
func (c *ChatClient) Close() {
	_ = c.Conn.Close()
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Listen opens a loopback listener on an ephemeral port.
func Listen(t testing.TB) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t testing.TB, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t testing.TB, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "make request")
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// ConnectWebSocket opens a WebSocket connection to url sending origin as
// the Origin header. An empty origin sends no header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// WebSocketURL turns an httptest server URL into a ws:// URL for path.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}
