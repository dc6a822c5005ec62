package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pushWriteWait  = 10 * time.Second
	pushPongWait   = 60 * time.Second
	pushPingPeriod = 54 * time.Second
)

// StatusServer exposes the Feed and Metrics over HTTP: a monitor page, JSON
// endpoints, a WebSocket push channel and Prometheus metrics.
type StatusServer struct {
	feed     *Feed
	metrics  *Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewStatusServer creates a StatusServer. metrics may be nil.
func NewStatusServer(cfg Config, feed *Feed, metrics *Metrics, log *zap.Logger) *StatusServer {
	log = log.Named("status")
	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	return &StatusServer{
		feed:    feed,
		metrics: metrics,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *StatusServer) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat broker is running!")
}

// MessagesHandler returns the retained feed lines.
func (s *StatusServer) MessagesHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string][]string{"messages": s.feed.Lines()})
}

// StatsHandler returns the broker counters.
func (s *StatusServer) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.feed.Stats())
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("error writing JSON response", zap.Error(err))
	}
}

// IndexHandler renders the monitor page.
func (s *StatusServer) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	data := struct {
		Stats
		Lines []string
	}{s.feed.Stats(), s.feed.Lines()}
	if err := monitorPage.Execute(w, data); err != nil {
		s.log.Warn("error writing HTML response", zap.Error(err))
	}
}

// PushHandler upgrades to a WebSocket, replays the retained lines and then
// streams every new line until the consumer goes away.
func (s *StatusServer) PushHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("push upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	backlog, lines, cancel := s.feed.Subscribe()
	defer cancel()
	s.log.Debug("push subscriber connected", zap.String("addr", r.RemoteAddr))

	// The consumer never sends anything meaningful; reading only detects
	// the close and answers pings.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pushPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pushPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, line := range backlog {
		if !s.writePush(conn, websocket.TextMessage, []byte(line)) {
			return
		}
	}

	ticker := time.NewTicker(pushPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !s.writePush(conn, websocket.TextMessage, []byte(line)) {
				return
			}
		case <-ticker.C:
			if !s.writePush(conn, websocket.PingMessage, nil) {
				return
			}
		case <-gone:
			s.log.Debug("push subscriber disconnected", zap.String("addr", r.RemoteAddr))
			return
		}
	}
}

func (s *StatusServer) writePush(conn *websocket.Conn, messageType int, data []byte) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(pushWriteWait)); err != nil {
		return false
	}
	if err := conn.WriteMessage(messageType, data); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Info("push write failed", zap.Error(err))
		}
		return false
	}
	return true
}

var monitorPage = template.Must(template.New("monitor").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Chat Broker Monitor</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .stats span { display: inline-block; margin-right: 20px; font-weight: bold; }
        #messages {
            border: 1px solid #ccc;
            height: 400px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
    </style>
</head>
<body>
    <h1>Chat Broker Monitor</h1>
    <div class="stats">
        <span>Clients: <em id="clients">{{.Clients}}</em></span>
        <span>Messages: <em id="public">{{.PublicMessages}}</em></span>
        <span>Private: <em id="private">{{.PrivateMessages}}</em></span>
    </div>
    <div id="messages">{{range .Lines}}<div>{{.}}</div>{{end}}</div>

    <script>
        const messagesDiv = document.getElementById('messages');

        function addLine(text) {
            const el = document.createElement('div');
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function refreshStats() {
            fetch('/api/stats').then(r => r.json()).then(s => {
                document.getElementById('clients').textContent = s.clients;
                document.getElementById('public').textContent = s.total_messages;
                document.getElementById('private').textContent = s.private_messages;
            });
        }

        const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(scheme + location.host + '/ws');
        ws.onopen = function() { messagesDiv.innerHTML = ''; };
        ws.onmessage = function(event) { addLine(event.data); refreshStats(); };
        ws.onclose = function() { addLine('-- feed disconnected --'); };
    </script>
</body>
</html>`))
