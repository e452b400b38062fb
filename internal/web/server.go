// Package web serves the HTTP control API and the websocket event stream
// used by external UIs.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server wraps the HTTP server lifecycle.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	port       int
}

// NewServer creates an HTTP server for the given handler on port.
func NewServer(port int, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		port: port,
	}
}

// Start listens and serves. Blocks until Stop or a listener error.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on :%d: %w", s.port, err)
	}
	s.listener = listener
	return s.httpServer.Serve(listener)
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// BaseURL returns the server's base URL.
func (s *Server) BaseURL() string {
	if s.listener != nil {
		return fmt.Sprintf("http://%s", s.listener.Addr().String())
	}
	return fmt.Sprintf("http://localhost:%d", s.port)
}
