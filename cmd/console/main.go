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
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/novatechflow/topicview/internal/backend"
	"github.com/novatechflow/topicview/internal/config"
	consolepkg "github.com/novatechflow/topicview/internal/console"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "topicview console: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, logOut io.Writer) error {
	var path string
	cmd := &cobra.Command{
		Use:           "topicview-console",
		Short:         "Serve the topic window console API",
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

	opts := consoleOptions(cfg, be, logger)
	if opts.Metrics == nil {
		logger.Warn("no metrics source for this backend; status will report metrics unavailable")
	}
	if err := consolepkg.StartServer(ctx, cfg.Server.Listen, opts); err != nil {
		return fmt.Errorf("console server failed: %w", err)
	}

	<-ctx.Done()
	logger.Info("topicview console shutting down")
	return nil
}

func consoleOptions(cfg config.Config, be *backend.Backend, logger *slog.Logger) consolepkg.ServerOptions {
	return consolepkg.ServerOptions{
		Store:   be.Store,
		Reader:  be.Reader,
		Metrics: backend.MetricsProvider(cfg, be),
		Logger:  logger,
		Auth: consolepkg.AuthConfig{
			Username: cfg.Server.Username,
			Password: cfg.Server.Password,
		},
		Window:  backend.WindowOptions(cfg.Window),
		Backend: be.Name,
		Version: version,
	}
}
