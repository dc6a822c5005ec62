package server

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-broker/internal/testhelpers"
)

func newTestStatus(t *testing.T) (*Feed, string) {
	t.Helper()
	feed, _ := newTestFeed(10)
	status := NewStatusServer(Config{AllowedOrigins: []string{"http://localhost:8080"}}, feed, feed.metrics, zaptest.NewLogger(t))
	srv := testhelpers.CreateTestServer(status.Routes())
	t.Cleanup(srv.Close)
	return feed, srv.URL
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHealthHandler(t *testing.T) {
	_, url := newTestStatus(t)

	resp := testhelpers.MakeRequest(t, http.MethodGet, url+"/healthz")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	assert.Equal(t, "Chat broker is running!", readBody(t, resp))
}

func TestStatusRoutesRejectOtherMethods(t *testing.T) {
	_, url := newTestStatus(t)

	for _, path := range []string{"/", "/healthz", "/api/messages", "/api/stats"} {
		t.Run(path, func(t *testing.T) {
			resp := testhelpers.MakeRequest(t, http.MethodPost, url+path)
			testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
		})
	}
}

func TestMessagesHandler(t *testing.T) {
	feed, url := newTestStatus(t)
	feed.Log("alice joined (Total Clients: 1)")

	resp := testhelpers.MakeRequest(t, http.MethodGet, url+"/api/messages")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Messages []string `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"[2024-03-09 14:30:00] alice joined (Total Clients: 1)"}, body.Messages)
}

func TestStatsHandler(t *testing.T) {
	feed, url := newTestStatus(t)
	feed.SetClients(2)
	feed.IncPublic()
	feed.IncPrivate()

	resp := testhelpers.MakeRequest(t, http.MethodGet, url+"/api/stats")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	assert.JSONEq(t, `{"clients":2,"total_messages":1,"private_messages":1}`, readBody(t, resp))
}

func TestIndexHandler(t *testing.T) {
	feed, url := newTestStatus(t)
	feed.Log("<b>bob</b> joined")

	resp := testhelpers.MakeRequest(t, http.MethodGet, url+"/")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	body := readBody(t, resp)
	assert.Contains(t, body, "Chat Broker Monitor")
	assert.Contains(t, body, "&lt;b&gt;bob&lt;/b&gt; joined")

	resp = testhelpers.MakeRequest(t, http.MethodGet, url+"/missing")
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}

func TestMetricsRoute(t *testing.T) {
	feed, url := newTestStatus(t)
	feed.SetClients(4)

	resp := testhelpers.MakeRequest(t, http.MethodGet, url+"/metrics")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	assert.Contains(t, readBody(t, resp), "chat_active_clients 4")
}

func TestPushHandlerStreamsFeed(t *testing.T) {
	feed, url := newTestStatus(t)
	feed.Log("backlog line")

	conn, _, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(url, "/ws"), "http://localhost:8080")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(data), "backlog line")

	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	feed.Log("live line")

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "live line")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return feed.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPushHandlerChecksOrigin(t *testing.T) {
	_, url := newTestStatus(t)
	wsURL := testhelpers.WebSocketURL(url, "/ws")

	tests := []struct {
		name   string
		origin string
	}{
		{"disallowed origin", "http://evil.example"},
		{"missing origin", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := testhelpers.ConnectWebSocket(wsURL, tt.origin)
			if conn != nil {
				_ = conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"HTTP://Example.COM", "not a url", " "}, zaptest.NewLogger(t))

	req := func(origin string) *http.Request {
		r, _ := http.NewRequest(http.MethodGet, "/ws", http.NoBody)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, policy.allows(req("http://example.com")))
	assert.False(t, policy.allows(req("https://example.com")))
	assert.False(t, policy.allows(req("")))

	open := newOriginPolicy([]string{"*"}, zaptest.NewLogger(t))
	assert.True(t, open.allows(req("http://anything.example")))
	assert.False(t, open.allows(req("")))
}
