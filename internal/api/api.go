// Package api provides the HTTP server for CartPipe.
//
// It exposes the chat endpoint and conversation history management on top of
// the conversation flow, and owns the process wiring: store, language model,
// FAQ search, lead notifications and the outbox sender.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/CartPipe/internal/faq"
	"github.com/BTreeMap/CartPipe/internal/flow"
	"github.com/BTreeMap/CartPipe/internal/genai"
	"github.com/BTreeMap/CartPipe/internal/notify"
	"github.com/BTreeMap/CartPipe/internal/seed"
	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/gorilla/mux"
)

const (
	DefaultAddr           = ":8080"
	DefaultRequestTimeout = 60 * time.Second
	DefaultHistoryPage    = 200
	shutdownTimeout       = 10 * time.Second
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr           string
	SeedFile       string
	HistoryLimit   int
	OutboxPoll     time.Duration
	RequestTimeout time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSeedFile loads a YAML catalog into the store at startup.
func WithSeedFile(path string) Option {
	return func(o *Opts) { o.SeedFile = path }
}

// WithHistoryLimit sets how many past messages the flow sees per turn.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) { o.HistoryLimit = n }
}

// WithOutboxPoll sets the outbox sender poll interval.
func WithOutboxPoll(d time.Duration) Option {
	return func(o *Opts) { o.OutboxPoll = d }
}

// WithRequestTimeout bounds the time spent processing one chat turn.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RequestTimeout = d }
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{
		Addr:           DefaultAddr,
		HistoryLimit:   flow.DefaultHistoryLimit,
		RequestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return cfg
}

// Server routes HTTP requests to the conversation flow.
type Server struct {
	Router         *mux.Router
	flow           *flow.ConversationFlow
	requestTimeout time.Duration
}

// NewServer creates a server for f and registers its routes.
func NewServer(f *flow.ConversationFlow, opts ...Option) *Server {
	cfg := buildOpts(opts)
	s := &Server{
		Router:         mux.NewRouter(),
		flow:           f,
		requestTimeout: cfg.RequestTimeout,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Router.HandleFunc("/", s.healthHandler).Methods(http.MethodGet)
	s.Router.HandleFunc("/chat", s.chatHandler).Methods(http.MethodPost)
	s.Router.HandleFunc("/conversations/{id}", s.historyHandler).Methods(http.MethodGet)
	s.Router.HandleFunc("/conversations/{id}", s.resetHandler).Methods(http.MethodDelete)
	s.Router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	s.Router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Run builds every component from the given options and serves until
// SIGINT or SIGTERM.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := buildOpts(apiOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(storeOpts...)
	if err != nil {
		slog.Error("Run: failed to open store", "error", err)
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if cfg.SeedFile != "" {
		if _, err := seed.LoadPath(ctx, st, cfg.SeedFile); err != nil {
			slog.Error("Run: failed to seed catalog", "error", err, "file", cfg.SeedFile)
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}

	deps := flow.Deps{Catalog: st, Outbox: st}
	if client, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("Run: language model disabled, using deterministic replies", "error", err)
	} else {
		deps.GenAI = client
		searcher, err := faq.NewEmbeddingSearcher(st, client)
		if err != nil {
			slog.Warn("Run: embedding FAQ search unavailable, using keyword search", "error", err)
		} else {
			deps.FAQ = searcher
		}
	}

	sender := store.NewOutboxSender(st, notify.SendFunc(buildNotifier()), cfg.OutboxPoll)
	if err := sender.RecoverStaleMessages(); err != nil {
		slog.Warn("Run: failed to recover stale outbox messages", "error", err)
	}
	go sender.Run(ctx)

	f := flow.NewConversationFlow(flow.NewStoreBasedStateManager(st), deps, cfg.HistoryLimit)
	srv := NewServer(f, apiOpts...)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("CartPipe API listening", "addr", cfg.Addr, "llm", deps.GenAI != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Run: HTTP server failed", "error", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// buildNotifier always logs leads and adds SMS and email when configured.
func buildNotifier() notify.Notifier {
	notifiers := notify.MultiNotifier{notify.LogNotifier{}}
	if sms, err := notify.NewTwilioNotifier(); err != nil {
		slog.Debug("Run: SMS lead notifications disabled", "reason", err)
	} else {
		notifiers = append(notifiers, sms)
	}
	if mail, err := notify.NewSMTPNotifier(); err != nil {
		slog.Debug("Run: email lead notifications disabled", "reason", err)
	} else {
		notifiers = append(notifiers, mail)
	}
	return notifiers
}
