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

package mcpserver

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/novatechflow/topicview/internal/console"
	"github.com/novatechflow/topicview/internal/metrics"
	"github.com/novatechflow/topicview/pkg/metadata"
	"github.com/novatechflow/topicview/pkg/window"
)

type Options struct {
	Store   metadata.Store
	Reader  window.PageReader
	Metrics console.MetricsProvider
	Logger  *slog.Logger
	Version string
	Window  console.WindowOptions
}

// NewServer builds the MCP server exposing the topic browsing tools.
func NewServer(opts Options) *mcp.Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Window.DefaultPageLimit <= 0 {
		opts.Window.DefaultPageLimit = 50
	}
	if opts.Window.MaxPageLimit <= 0 {
		opts.Window.MaxPageLimit = 1000
	}
	if opts.Window.SessionTTL <= 0 {
		opts.Window.SessionTTL = 30 * time.Minute
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "topicview-mcp",
		Version: version,
	}, nil)
	t := &tools{opts: opts}
	if opts.Reader != nil && opts.Store != nil {
		// MCP calls are one at a time per session, so there is nothing to batch.
		t.sessions = console.NewSessionRegistry(opts.Reader, opts.Store, window.Config{
			WindowLimit: opts.Window.Limit,
			Logger:      opts.Logger.With("component", "window"),
			Observer:    metrics.Observer{},
		}, 0, opts.Window.SessionTTL)
	}
	t.register(server)
	return server
}
