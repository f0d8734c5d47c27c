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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/novatechflow/topicview/internal/backend"
	"github.com/novatechflow/topicview/internal/config"
)

func TestRunLoadsConfigFlag(t *testing.T) {
	t.Setenv("TOPICVIEW_CONFIG", "")
	path := filepath.Join(t.TempDir(), "topicview.yaml")
	if err := os.WriteFile(path, []byte("backend: ftp\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	err := run(context.Background(), []string{"--config", path}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Fatalf("expected config file to be loaded, got %v", err)
	}
}

func TestRunLoadsConfigFromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topicview.yaml")
	if err := os.WriteFile(path, []byte("backend: ftp\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TOPICVIEW_CONFIG", path)
	err := run(context.Background(), nil, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Fatalf("expected TOPICVIEW_CONFIG to be used, got %v", err)
	}
}

func TestRunRejectsUnknownFlagAndArgs(t *testing.T) {
	if err := run(context.Background(), []string{"--nope"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected flag error")
	}
	if err := run(context.Background(), []string{"extra"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected positional argument error")
	}
}

func TestConsoleOptions(t *testing.T) {
	t.Setenv("TOPICVIEW_USE_MEMORY_S3", "1")
	t.Setenv("TOPICVIEW_UI_USERNAME", "user")
	t.Setenv("TOPICVIEW_UI_PASSWORD", "pass")
	t.Setenv("TOPICVIEW_BROKER_METRICS_URL", "http://127.0.0.1:9093/metrics")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	be, err := backend.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer be.Close()

	opts := consoleOptions(cfg, be, nil)
	if opts.Auth.Username != "user" || opts.Auth.Password != "pass" {
		t.Fatalf("unexpected auth config: %+v", opts.Auth)
	}
	if opts.Metrics == nil {
		t.Fatalf("expected metrics provider when url set")
	}
	if opts.Backend != config.BackendS3 || opts.Window.Limit != cfg.Window.Limit {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	t.Setenv("TOPICVIEW_CONFIG", "")
	t.Setenv("TOPICVIEW_USE_MEMORY_S3", "1")
	t.Setenv("TOPICVIEW_SERVER_LISTEN", "127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	var logs bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- run(ctx, nil, &logs) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestRunFailsOnInvalidConfig(t *testing.T) {
	t.Setenv("TOPICVIEW_CONFIG", "")
	t.Setenv("TOPICVIEW_BACKEND", "ftp")
	err := run(context.Background(), nil, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}
