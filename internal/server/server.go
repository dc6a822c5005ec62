package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Serve accepts connections on ln and registers them with the Hub until the
// Hub shuts down. Any other accept failure is returned; it is fatal for the
// broker.
func (h *Hub) Serve(ln net.Listener) error {
	go func() {
		<-h.ctx.Done()
		_ = ln.Close()
	}()

	h.log.Info("chat server listening", zap.Stringer("addr", ln.Addr()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if h.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !h.Register(conn) {
			_ = conn.Close()
			return nil
		}
	}
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer serves HTTP on ln until the server is shut down.
func StartServer(server *http.Server, ln net.Listener, log *zap.Logger) error {
	log.Info("status server listening", zap.Stringer("addr", ln.Addr()))
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, log *zap.Logger) error {
	log.Info("shutting down status server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("status server shutdown error", zap.Error(err))
		return err
	}

	log.Info("status server shutdown completed")
	return nil
}
