// Package api provides the admin HTTP server for tutorbot.
//
// It exposes RESTful endpoints for the live-chat bridge, conversation
// inspection, and the student/homework/payment/transcript records.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/dialog"
	"github.com/tutorlinkhq/tutorbot/internal/messaging"
	"github.com/tutorlinkhq/tutorbot/internal/store"
)

// DefaultAddr is the default listen address for the admin API.
const DefaultAddr = ":8080"

// Server is the admin API server. All state lives in the injected
// collaborators; the server itself only routes and encodes.
type Server struct {
	addr       string
	bridge     *dialog.Bridge
	convStore  *dialog.Store
	st         store.Store
	msgService messaging.Service

	mux        *http.ServeMux
	httpServer *http.Server
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// NewServer creates the admin API server and registers its routes.
func NewServer(bridge *dialog.Bridge, convStore *dialog.Store, st store.Store, msgService messaging.Service, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		addr:       cfg.Addr,
		bridge:     bridge,
		convStore:  convStore,
		st:         st,
		msgService: msgService,
		mux:        http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/chat/", s.chatHandler)
	s.mux.HandleFunc("/conversations", s.conversationsHandler)
	s.mux.HandleFunc("/students", s.studentsHandler)
	s.mux.HandleFunc("/students/", s.studentsHandler)
	s.mux.HandleFunc("/homework", s.homeworkHandler)
	s.mux.HandleFunc("/payments", s.paymentsHandler)
	s.mux.HandleFunc("/transcripts", s.transcriptsHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
}

// Mux exposes the underlying mux so transports can attach extra routes
// (the Twilio inbound webhook).
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Admin API listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Admin API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
