// Copyright 2025, 2026 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package console

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/novatechflow/topicview/internal/metrics"
	"github.com/novatechflow/topicview/pkg/metadata"
	"github.com/novatechflow/topicview/pkg/window"
)

// WindowOptions tunes the windowing sessions served by the console.
type WindowOptions struct {
	Limit            int64
	DefaultPageLimit int
	MaxPageLimit     int
	BatchDelay       time.Duration
	SessionTTL       time.Duration
	ReadTimeout      time.Duration
}

type ServerOptions struct {
	Store   metadata.Store
	Reader  window.PageReader
	Metrics MetricsProvider
	Logger  *slog.Logger
	Auth    AuthConfig
	Window  WindowOptions
	Backend string
	Version string
}

// StartServer launches the HTTP console on the provided address and stops it
// when ctx ends.
func StartServer(ctx context.Context, addr string, opts ServerOptions) error {
	s, err := newServer(opts)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go s.sessions.Run(ctx, 0)
	go s.auth.run(ctx, time.Minute)
	go func() {
		s.logger.Info("console listening", "addr", addr, "backend", opts.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("console server error", "error", err)
		}
	}()
	return nil
}

// NewMux constructs the console HTTP mux with the supplied dependencies.
func NewMux(opts ServerOptions) (http.Handler, error) {
	s, err := newServer(opts)
	if err != nil {
		return nil, err
	}
	return s.routes(), nil
}

type server struct {
	opts     ServerOptions
	logger   *slog.Logger
	auth     *authManager
	sessions *SessionRegistry
}

func newServer(opts ServerOptions) (*server, error) {
	if opts.Store == nil {
		return nil, errors.New("console requires a metadata store")
	}
	if opts.Reader == nil {
		return nil, errors.New("console requires a page reader")
	}
	if opts.Window.DefaultPageLimit <= 0 {
		opts.Window.DefaultPageLimit = 50
	}
	if opts.Window.MaxPageLimit <= 0 {
		opts.Window.MaxPageLimit = 1000
	}
	if opts.Window.ReadTimeout <= 0 {
		opts.Window.ReadTimeout = 15 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{
		opts:   opts,
		logger: logger,
		auth:   newAuthManager(opts.Auth, logger.With("component", "auth")),
	}
	s.sessions = NewSessionRegistry(opts.Reader, opts.Store, window.Config{
		WindowLimit: opts.Window.Limit,
		Logger:      logger.With("component", "window"),
		Observer:    metrics.Observer{},
	}, opts.Window.BatchDelay, opts.Window.SessionTTL)
	s.auth.onEnd = s.sessions.Drop
	return s, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ui/api/auth/config", s.auth.handleConfig)
	mux.HandleFunc("GET /ui/api/auth/session", s.auth.handleSession)
	mux.HandleFunc("POST /ui/api/auth/login", s.auth.handleLogin)
	mux.HandleFunc("POST /ui/api/auth/logout", s.auth.handleLogout)
	mux.Handle("GET /ui/api/status", s.route("status", s.handleStatus))
	mux.Handle("GET /ui/api/topics", s.route("topics", s.handleTopics))
	mux.Handle("GET /ui/api/topics/{topic}/partitions", s.route("partitions", s.handlePartitions))
	mux.Handle("GET /ui/api/topics/{topic}/data", s.route("data", s.handleData))
	mux.Handle("GET /ui/api/topics/{topic}/window", s.route("window", s.handleWindow))
	mux.Handle("GET /ui/api/topics/{topic}/scroll", s.route("scroll", s.handleScroll))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *server) route(name string, h func(w http.ResponseWriter, r *http.Request, token string)) http.Handler {
	return metrics.InstrumentRoute(name, s.auth.requireAuth(h))
}

type statusResponse struct {
	Backend  string   `json:"backend"`
	Version  string   `json:"version"`
	Topics   int      `json:"topics"`
	Sessions int      `json:"sessions"`
	S3       s3Status `json:"s3"`
	Alerts   []alert  `json:"alerts"`
}

type s3Status struct {
	State     string  `json:"state"`
	LatencyMS int     `json:"latency_ms"`
	ErrorRate float64 `json:"error_rate"`
}

type alert struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request, _ string) {
	resp := statusResponse{
		Backend:  s.opts.Backend,
		Version:  s.opts.Version,
		Sessions: s.sessions.Size(),
		S3:       s3Status{State: "unknown"},
		Alerts:   []alert{},
	}
	topics, err := s.opts.Store.Topics(r.Context())
	if err != nil {
		resp.Alerts = append(resp.Alerts, alert{Level: "critical", Message: "metadata unavailable: " + err.Error()})
	}
	resp.Topics = len(topics)
	if s.opts.Metrics != nil {
		snap, err := s.opts.Metrics.Snapshot(r.Context())
		switch {
		case err != nil:
			resp.Alerts = append(resp.Alerts, alert{Level: "warning", Message: "broker metrics unavailable: " + err.Error()})
		case snap != nil:
			if snap.S3State != "" {
				resp.S3.State = snap.S3State
			}
			resp.S3.LatencyMS = snap.S3LatencyMS
			resp.S3.ErrorRate = snap.S3ErrorRate
			if snap.S3State != "" && snap.S3State != "healthy" {
				resp.Alerts = append(resp.Alerts, alert{Level: "warning", Message: "S3 " + snap.S3State + ", recent segments may be missing"})
			}
		}
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
