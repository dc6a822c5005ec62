package server

import "net/http"

// Routes configures and returns an HTTP ServeMux with all status routes.
func (s *StatusServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", getOnly(s.IndexHandler))
	mux.HandleFunc("/healthz", getOnly(s.HealthHandler))
	mux.HandleFunc("/api/messages", getOnly(s.MessagesHandler))
	mux.HandleFunc("/api/stats", getOnly(s.StatsHandler))
	mux.HandleFunc("/ws", getOnly(s.PushHandler))
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}
