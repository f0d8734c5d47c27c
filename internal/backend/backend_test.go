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

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"

	"github.com/novatechflow/topicview/internal/config"
	"github.com/novatechflow/topicview/pkg/metadata"
	"github.com/novatechflow/topicview/pkg/storage"
	"github.com/novatechflow/topicview/pkg/window"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Backend = config.BackendS3
	cfg.S3.UseMemory = true
	cfg.S3.Namespace = "default"
	cfg.S3.CacheBytes = 1 << 20
	cfg.S3.ListTTL = -1
	cfg.Window.ReadTimeout = time.Second
	return cfg
}

func seedSegment(t *testing.T, s3 storage.S3Client) {
	t.Helper()
	writer := storage.NewSegmentWriter(s3, "default", storage.SegmentWriterConfig{IndexIntervalMessages: 5}, nil)
	records := make([]storage.Record, 10)
	for i := range records {
		records[i] = storage.Record{Timestamp: int64(i), Value: []byte(fmt.Sprintf("v%d", i))}
	}
	batch, err := storage.EncodeRecordBatch(0, records, storage.BatchOptions{Codec: storage.CodecNone})
	if err != nil {
		t.Fatalf("EncodeRecordBatch: %v", err)
	}
	if _, err := writer.WriteSegment(context.Background(), "orders", 0, []storage.RecordBatch{batch}, time.Now()); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
}

func TestBuildMemoryS3(t *testing.T) {
	b, err := Build(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer b.Close()
	if b.Name != config.BackendS3 {
		t.Fatalf("unexpected backend name %q", b.Name)
	}
	topics, err := b.Store.Topics(context.Background())
	if err != nil {
		t.Fatalf("Topics: %v", err)
	}
	if len(topics) != 0 {
		t.Fatalf("expected empty bucket, got %v", topics)
	}
	if _, err := b.Store.ConsumerOffsets(context.Background(), "g", "orders"); !errors.Is(err, metadata.ErrNoConsumerState) {
		t.Fatalf("expected ErrNoConsumerState, got %v", err)
	}
}

func TestBuildRejectsBadBackends(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown":    func(c *config.Config) { c.Backend = "ftp" },
		"kafka":      func(c *config.Config) { c.Backend = config.BackendKafka },
		"viewer url": func(c *config.Config) { c.Backend = config.BackendViewer; c.Viewer.URL = "not a url" },
	}
	for name, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := Build(context.Background(), cfg, nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestBuildViewer(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = config.BackendViewer
	cfg.Viewer.URL = "http://127.0.0.1:8080"
	b, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if b.Name != config.BackendViewer || b.Store == nil || b.Reader == nil {
		t.Fatalf("unexpected backend %+v", b)
	}
}

func TestSegmentBackendReadsWithoutEtcd(t *testing.T) {
	s3 := storage.NewMemoryS3Client()
	seedSegment(t, s3)
	b, err := NewSegmentBackend(context.Background(), s3, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewSegmentBackend: %v", err)
	}
	defer b.Close()

	parts, err := b.Store.Partitions(context.Background(), "orders")
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(parts) != 1 || parts[0].EndOffset != 10 {
		t.Fatalf("unexpected partitions %+v", parts)
	}
	resp, err := b.Reader.ReadPage(context.Background(), window.ReadRequest{Topic: "orders", Partition: "0", Offset: 4, Limit: 3})
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(resp.Messages) != 3 || resp.Messages[0].Offset != 4 {
		t.Fatalf("unexpected page %+v", resp.Messages)
	}
}

func TestSegmentBackendUsesEtcd(t *testing.T) {
	e, endpoints := startEmbeddedEtcd(t)
	defer e.Close()

	cli, err := clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("etcd client: %v", err)
	}
	defer cli.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for key, val := range map[string]string{
		metadata.NextOffsetKey("orders", 0):                "10",
		metadata.ConsumerOffsetKey("billing", "orders", 0): `{"offset":4}`,
	} {
		if _, err := cli.Put(ctx, key, val); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	s3 := storage.NewMemoryS3Client()
	seedSegment(t, s3)
	cfg := testConfig()
	cfg.Etcd.Endpoints = endpoints
	b, err := NewSegmentBackend(context.Background(), s3, cfg, nil)
	if err != nil {
		t.Fatalf("NewSegmentBackend: %v", err)
	}
	defer b.Close()
	if _, ok := b.Store.(*metadata.EtcdStore); !ok {
		t.Fatalf("expected etcd store when endpoints are configured, got %T", b.Store)
	}
	offsets, err := b.Store.ConsumerOffsets(ctx, "billing", "orders")
	if err != nil {
		t.Fatalf("ConsumerOffsets: %v", err)
	}
	if offsets["0"] != 4 {
		t.Fatalf("unexpected offsets %v", offsets)
	}
}

func TestMetricsProvider(t *testing.T) {
	cfg := testConfig()
	if got := MetricsProvider(cfg, &Backend{}); got != nil {
		t.Fatalf("expected nil metrics provider without url or S3 monitor")
	}
	cfg.Server.BrokerMetricsURL = "http://127.0.0.1:9093/metrics"
	if got := MetricsProvider(cfg, nil); got == nil {
		t.Fatalf("expected metrics provider when url set")
	}
}

func TestLocalMetricsFollowSegmentReads(t *testing.T) {
	s3 := storage.NewMemoryS3Client()
	seedSegment(t, s3)
	b, err := NewSegmentBackend(context.Background(), s3, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewSegmentBackend: %v", err)
	}
	provider := MetricsProvider(testConfig(), b)
	if provider == nil {
		t.Fatalf("expected a local provider for the segment backend")
	}
	if _, err := b.Reader.ReadPage(context.Background(), window.ReadRequest{Topic: "orders", Partition: "0", Limit: 5}); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if b.Health.Snapshot().Samples == 0 {
		t.Fatalf("expected S3 operations to reach the monitor")
	}
	snap, err := provider.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.S3State != "healthy" || snap.S3ErrorRate != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestWindowOptions(t *testing.T) {
	opts := WindowOptions(config.WindowConfig{Limit: 10, DefaultPageLimit: 5, MaxPageLimit: 7, BatchDelay: time.Millisecond})
	if opts.Limit != 10 || opts.DefaultPageLimit != 5 || opts.MaxPageLimit != 7 || opts.BatchDelay != time.Millisecond {
		t.Fatalf("unexpected window options %+v", opts)
	}
}

func startEmbeddedEtcd(t *testing.T) (*embed.Etcd, []string) {
	t.Helper()
	for _, addr := range []string{"127.0.0.1:22379", "127.0.0.1:22380"} {
		if err := portAvailable(addr); err != nil {
			t.Skipf("skipping embedded etcd test: %v", err)
		}
	}
	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.LogLevel = "error"
	cfg.Logger = "zap"
	clientURL, _ := url.Parse("http://127.0.0.1:22379")
	peerURL, _ := url.Parse("http://127.0.0.1:22380")
	cfg.ListenClientUrls = []url.URL{*clientURL}
	cfg.AdvertiseClientUrls = []url.URL{*clientURL}
	cfg.ListenPeerUrls = []url.URL{*peerURL}
	cfg.AdvertisePeerUrls = []url.URL{*peerURL}
	cfg.Name = "default"
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping embedded etcd test: %v", err)
		}
		t.Fatalf("start embedded etcd: %v", err)
	}
	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		e.Server.Stop()
		t.Fatalf("etcd server took too long to start")
	}
	return e, []string{fmt.Sprintf("http://%s", e.Clients[0].Addr().String())}
}

func portAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %s already in use", addr)
	}
	_ = ln.Close()
	return nil
}
