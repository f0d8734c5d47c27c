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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/novatechflow/topicview/internal/backend"
	"github.com/novatechflow/topicview/internal/config"
)

func testBackend(t *testing.T) (config.Config, *backend.Backend) {
	t.Helper()
	t.Setenv("TOPICVIEW_USE_MEMORY_S3", "1")
	t.Setenv("TOPICVIEW_MCP_AUTH_TOKEN", "secret")
	t.Setenv("TOPICVIEW_MCP_SESSION_TIMEOUT", "3s")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	be, err := backend.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(be.Close)
	return cfg, be
}

func TestHandlerHealthAndAuth(t *testing.T) {
	cfg, be := testBackend(t)
	if cfg.MCP.SessionTimeout != 3*time.Second {
		t.Fatalf("expected session timeout override, got %s", cfg.MCP.SessionTimeout)
	}
	srv := httptest.NewServer(newHandler(cfg, be, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/mcp", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("mcp: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (b bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(req)
}

func TestHandlerServesTools(t *testing.T) {
	cfg, be := testBackend(t)
	srv := httptest.NewServer(newHandler(cfg, be, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   srv.URL + "/mcp",
		HTTPClient: &http.Client{Transport: bearerTransport{token: "secret", next: http.DefaultTransport}},
	}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	// segment backends report their own S3 health without a broker url
	for _, want := range []string{"list_topics", "list_partitions", "read_topic_page", "browse_topic_window", "broker_metrics"} {
		if !names[want] {
			t.Fatalf("missing tool %s in %v", want, names)
		}
	}

	metrics, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "broker_metrics", Arguments: map[string]any{}})
	if err != nil || metrics.IsError {
		t.Fatalf("broker_metrics: %v %+v", err, metrics)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	t.Setenv("TOPICVIEW_CONFIG", "")
	t.Setenv("TOPICVIEW_USE_MEMORY_S3", "1")
	t.Setenv("TOPICVIEW_MCP_LISTEN", "127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, nil, &bytes.Buffer{}) }()
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

func TestRunRejectsBadConfig(t *testing.T) {
	t.Setenv("TOPICVIEW_CONFIG", "")
	t.Setenv("TOPICVIEW_BACKEND", "kafka")
	t.Setenv("TOPICVIEW_KAFKA_BROKERS", "")
	if err := run(context.Background(), nil, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected config error for kafka without brokers")
	}
}
