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

// Package backend turns a loaded configuration into the metadata store and
// page reader the console and MCP servers browse.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/novatechflow/topicview/internal/config"
	"github.com/novatechflow/topicview/internal/console"
	"github.com/novatechflow/topicview/internal/health"
	"github.com/novatechflow/topicview/internal/metrics"
	"github.com/novatechflow/topicview/pkg/cache"
	"github.com/novatechflow/topicview/pkg/kafka"
	"github.com/novatechflow/topicview/pkg/metadata"
	"github.com/novatechflow/topicview/pkg/storage"
	"github.com/novatechflow/topicview/pkg/viewer"
	"github.com/novatechflow/topicview/pkg/window"
)

// Backend bundles what a server needs to browse topics.
type Backend struct {
	Name   string
	Store  metadata.Store
	Reader window.PageReader
	// Health follows the S3 calls of segment backends; nil otherwise.
	Health *health.S3Monitor

	closers []func()
}

// Close releases clients in reverse construction order.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Build connects the backend selected by cfg.Backend. Reads are wrapped with
// the prometheus read instruments.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		b   *Backend
		err error
	)
	switch cfg.Backend {
	case config.BackendS3:
		b, err = buildS3(ctx, cfg, logger)
	case config.BackendKafka:
		b, err = buildKafka(ctx, cfg, logger)
	case config.BackendViewer:
		b, err = buildViewer(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	b.Name = cfg.Backend
	b.Reader = metrics.InstrumentReader(cfg.Backend, b.Reader)
	return b, nil
}

func buildS3(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	var client storage.S3Client
	if cfg.S3.UseMemory {
		logger.Warn("using in-memory S3 client; nothing is read from a real bucket")
		client = storage.NewMemoryS3Client()
	} else {
		c, err := storage.NewS3Client(ctx, cfg.S3.S3Config)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		client = c
	}
	return NewSegmentBackend(ctx, client, cfg, logger)
}

// NewSegmentBackend serves topics from the segments stored behind client.
// With etcd endpoints configured, end offsets and consumer commits come from
// etcd; otherwise the segment listing is the only source of truth.
func NewSegmentBackend(ctx context.Context, client storage.S3Reader, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s3Logger := logger.With("component", "s3-health")
	monitor := health.NewS3Monitor(health.Config{
		Benign: func(err error) bool { return errors.Is(err, storage.ErrObjectNotFound) },
		OnChange: func(from, to health.State, snap health.Snapshot) {
			args := []any{"from", from, "to", to, "error_rate", snap.ErrorRate, "avg_latency", snap.AvgLatency}
			for op, stats := range snap.Ops {
				args = append(args, op+"_errors", stats.Errors)
			}
			if to == health.StateHealthy {
				s3Logger.Info("s3 health changed", args...)
				return
			}
			s3Logger.Warn("s3 health changed", args...)
		},
	})
	segCache := cache.NewSegmentCache(int(cfg.S3.CacheBytes))
	if err := metrics.RegisterSegmentCache(segCache); err != nil {
		return nil, fmt.Errorf("register segment cache metrics: %w", err)
	}
	reader := storage.NewSegmentReader(client, segCache, storage.ReaderConfig{
		Namespace:              cfg.S3.Namespace,
		ListTTL:                cfg.S3.ListTTL,
		MaxConcurrentDownloads: cfg.S3.MaxDownloads,
		MaxResponseBytes:       int(cfg.S3.MaxResponseBytes),
		VerifyChecksums:        cfg.S3.VerifyChecksums,
		Logger:                 logger.With("component", "storage"),
		OnS3Op: func(op string, d time.Duration, err error) {
			metrics.ObserveS3(op, d, err)
			monitor.Record(op, d, err)
		},
	})
	logger.Info("segment backend ready", "namespace", cfg.S3.Namespace, "cache", cfg.S3.CacheBytes.String(), "max_response", cfg.S3.MaxResponseBytes.String())
	b := &Backend{Reader: reader, Store: metadata.WithoutConsumers(reader), Health: monitor}
	if len(cfg.Etcd.Endpoints) == 0 {
		return b, nil
	}
	store, err := newEtcdStore(ctx, cfg.Etcd, reader, logger)
	if err != nil {
		return nil, err
	}
	b.Store = store
	b.closers = append(b.closers, func() { _ = store.Close() })
	return b, nil
}

func buildKafka(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	reader, err := kafka.NewReader(kafka.Config{
		Brokers:     cfg.Kafka.Brokers,
		ClientID:    cfg.Kafka.ClientID,
		PollTimeout: cfg.Kafka.PollTimeout,
		LogLevel:    cfg.Kafka.LogLevel,
		Logger:      logger.With("component", "kafka"),
	})
	if err != nil {
		return nil, fmt.Errorf("kafka reader: %w", err)
	}
	b := &Backend{Reader: reader, Store: reader}
	b.closers = append(b.closers, reader.Close)
	if len(cfg.Etcd.Endpoints) == 0 {
		return b, nil
	}
	// Brokers stay authoritative for bounds; etcd only adds the commits of
	// groups the brokers persisted there.
	store, err := newEtcdStore(ctx, cfg.Etcd, nil, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Store = etcdConsumers{Store: reader, commits: store}
	b.closers = append(b.closers, func() { _ = store.Close() })
	return b, nil
}

func buildViewer(cfg config.Config) (*Backend, error) {
	client, err := viewer.NewClient(viewer.ClientConfig{
		BaseURL:  cfg.Viewer.URL,
		Username: cfg.Viewer.Username,
		Password: cfg.Viewer.Password,
		Timeout:  cfg.Window.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{Reader: client, Store: client}, nil
}

func newEtcdStore(ctx context.Context, cfg config.EtcdConfig, starts metadata.StartOffsetSource, logger *slog.Logger) (*metadata.EtcdStore, error) {
	store, err := metadata.NewEtcdStore(ctx, metadata.EtcdStoreConfig{
		Endpoints: cfg.Endpoints,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Logger:    logger.With("component", "etcd"),
	}, starts)
	if err != nil {
		return nil, fmt.Errorf("etcd store: %w", err)
	}
	return store, nil
}

type etcdConsumers struct {
	metadata.Store
	commits metadata.Store
}

func (s etcdConsumers) ConsumerOffsets(ctx context.Context, group, topic string) (map[string]int64, error) {
	return s.commits.ConsumerOffsets(ctx, group, topic)
}

// MetricsProvider prefers the broker's prometheus endpoint. Without one,
// segment backends report their own view of S3 and other backends return nil.
func MetricsProvider(cfg config.Config, b *Backend) console.MetricsProvider {
	if url := strings.TrimSpace(cfg.Server.BrokerMetricsURL); url != "" {
		return console.NewPromMetricsClient(url)
	}
	if b != nil && b.Health != nil {
		return localMetrics{monitor: b.Health}
	}
	return nil
}

// localMetrics has no broker throughput to report.
type localMetrics struct {
	monitor *health.S3Monitor
}

func (m localMetrics) Snapshot(ctx context.Context) (*console.MetricsSnapshot, error) {
	snap := m.monitor.Snapshot()
	return &console.MetricsSnapshot{
		S3State:     string(snap.State),
		S3LatencyMS: int(snap.AvgLatency.Milliseconds()),
		S3ErrorRate: snap.ErrorRate,
	}, nil
}

// WindowOptions maps the window section onto the server options.
func WindowOptions(cfg config.WindowConfig) console.WindowOptions {
	return console.WindowOptions{
		Limit:            cfg.Limit,
		DefaultPageLimit: cfg.DefaultPageLimit,
		MaxPageLimit:     cfg.MaxPageLimit,
		BatchDelay:       cfg.BatchDelay,
		SessionTTL:       cfg.SessionTTL,
		ReadTimeout:      cfg.ReadTimeout,
	}
}

// ShutdownTimeout bounds graceful HTTP shutdown in the entry points.
const ShutdownTimeout = 5 * time.Second
