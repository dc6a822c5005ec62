package relay

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-broker/internal/testhelpers"
)

func TestModuleLifecycle(t *testing.T) {
	up := startUpstream(t)
	listeners := &Listeners{}

	app := fxtest.New(t,
		fx.Supply(Config{
			ListenAddr:   "127.0.0.1:0",
			UpstreamAddr: up.addr,
			MetricsAddr:  "127.0.0.1:0",
		}),
		fx.Supply(zaptest.NewLogger(t)),
		fx.Supply(listeners),
		Module,
	)
	app.RequireStart()

	client := testhelpers.Dial(t, listeners.Relay.String())
	client.Send("NAME: dan")
	assert.Equal(t, "NAME: *dan", up.nextText(t))

	resp := testhelpers.MakeRequest(t, http.MethodGet, "http://"+listeners.Metrics.String()+"/metrics")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chat_relay_handshake_rewrites_total 1")

	app.RequireStop()
	client.ExpectClosed()
}
