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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/novatechflow/topicview/internal/backend"
	"github.com/novatechflow/topicview/internal/config"
	"github.com/novatechflow/topicview/internal/mcpserver"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "topicview mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, logOut io.Writer) error {
	var path string
	cmd := &cobra.Command{
		Use:           "topicview-mcp",
		Short:         "Serve topic windows as MCP tools over streamable HTTP",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logOut)
		},
	}
	cmd.Flags().StringVar(&path, "config", os.Getenv("TOPICVIEW_CONFIG"), "path to the YAML configuration file")
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func serve(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	logger := cfg.Log.NewLogger(logOut)
	slog.SetDefault(logger)

	be, err := backend.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("backend init failed: %w", err)
	}
	defer be.Close()

	srv := &http.Server{
		Addr:              cfg.MCP.Listen,
		Handler:           newHandler(cfg, be, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcp server listening", "addr", cfg.MCP.Listen, "backend", be.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("mcp server failed: %w", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), backend.ShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("topicview mcp shutting down")
	return nil
}

func newHandler(cfg config.Config, be *backend.Backend, logger *slog.Logger) http.Handler {
	metricsProvider := backend.MetricsProvider(cfg, be)
	if metricsProvider == nil {
		logger.Warn("no metrics source for this backend; broker_metrics tool will be unavailable")
	}
	server := mcpserver.NewServer(mcpserver.Options{
		Store:   be.Store,
		Reader:  be.Reader,
		Metrics: metricsProvider,
		Logger:  logger,
		Version: version,
		Window:  backend.WindowOptions(cfg.Window),
	})

	var handler http.Handler = mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{
		SessionTimeout: cfg.MCP.SessionTimeout,
		Logger:         logger,
	})
	if cfg.MCP.AuthToken == "" {
		logger.Warn("mcp auth token not set; MCP server is unauthenticated")
	}
	handler = mcpserver.RequireBearerToken(cfg.MCP.AuthToken, handler)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.Handle("/mcp/", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
