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

// Command demo-workload fills a topic with browsable demo data, either by
// producing to Kafka brokers or by writing segments straight into S3.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/novatechflow/topicview/internal/config"
	"github.com/novatechflow/topicview/pkg/metadata"
	"github.com/novatechflow/topicview/pkg/storage"
)

type options struct {
	topics     []string
	partitions int
	count      int
	segment    int
	codec      storage.Codec
	group      string
	commit     int
	gapEvery   int
	rate       int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "demo-workload: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var (
		path   string
		topics string
		codec  string
		opts   options
	)
	cmd := &cobra.Command{
		Use:           "demo-workload",
		Short:         "Fill topics with browsable demo records",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.topics = parseTopics(topics)
			if len(opts.topics) == 0 {
				return fmt.Errorf("no topics configured")
			}
			c, err := storage.ParseCodec(codec)
			if err != nil {
				return err
			}
			opts.codec = c
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return seed(cmd.Context(), cfg, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&path, "config", os.Getenv("TOPICVIEW_CONFIG"), "path to the YAML configuration file")
	flags.StringVar(&topics, "topics", "demo-topic-1,demo-topic-2", "comma separated topics to fill")
	flags.StringVar(&codec, "codec", "snappy", "batch compression for segments: none, gzip, snappy, lz4 or zstd")
	flags.IntVar(&opts.partitions, "partitions", 1, "partitions per topic (s3 backend)")
	flags.IntVar(&opts.count, "count", 500, "records per partition")
	flags.IntVar(&opts.segment, "segment-records", 100, "records per segment (s3 backend)")
	flags.StringVar(&opts.group, "group", "topicview-demo", "consumer group that commits part of each partition")
	flags.IntVar(&opts.commit, "commit", 50, "records the demo group consumes and commits")
	flags.IntVar(&opts.gapEvery, "gap-every", 3, "delete every n-th segment to leave gaps, 0 keeps all (s3 backend)")
	flags.IntVar(&opts.rate, "rate", 0, "records per second when producing to kafka, 0 for unthrottled")
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func seed(ctx context.Context, cfg config.Config, opts options) error {
	logger := cfg.Log.NewLogger(os.Stderr)

	switch cfg.Backend {
	case config.BackendKafka:
		return seedKafka(ctx, cfg.Kafka, opts, logger)
	case config.BackendS3:
		if cfg.S3.UseMemory {
			return fmt.Errorf("refusing to seed the in-memory S3 client; nothing could read it")
		}
		s3, err := storage.NewS3Client(ctx, cfg.S3.S3Config)
		if err != nil {
			return fmt.Errorf("s3 client: %w", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		var etcd *clientv3.Client
		if len(cfg.Etcd.Endpoints) > 0 {
			etcd, err = clientv3.New(clientv3.Config{
				Endpoints:   cfg.Etcd.Endpoints,
				Username:    cfg.Etcd.Username,
				Password:    cfg.Etcd.Password,
				DialTimeout: 5 * time.Second,
			})
			if err != nil {
				return fmt.Errorf("etcd client: %w", err)
			}
			defer etcd.Close()
		}
		return seedSegments(ctx, s3, etcd, cfg.S3.Namespace, opts, logger)
	default:
		return fmt.Errorf("backend %q cannot be seeded", cfg.Backend)
	}
}

func seedKafka(ctx context.Context, cfg config.KafkaConfig, opts options, logger *slog.Logger) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.AllowAutoTopicCreation(),
		kgo.ConsumeTopics(opts.topics...),
		kgo.ConsumerGroup(opts.group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return fmt.Errorf("init client: %w", err)
	}
	defer client.Close()

	logger.Info("producing demo records", "brokers", strings.Join(cfg.Brokers, ","), "topics", strings.Join(opts.topics, ","), "count", opts.count)
	if err := produceLoop(ctx, client, opts); err != nil {
		return err
	}
	consumed, err := consumeAndCommit(ctx, client, opts.commit*len(opts.topics))
	if err != nil {
		return err
	}
	logger.Info("demo group committed", "group", opts.group, "records", consumed)
	return nil
}

func produceLoop(ctx context.Context, client *kgo.Client, opts options) error {
	var tick <-chan time.Time
	if opts.rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(opts.rate))
		defer ticker.Stop()
		tick = ticker.C
	}
	for i := 0; i < opts.count; i++ {
		for _, topic := range opts.topics {
			if tick != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-tick:
				}
			}
			rec := demoRecord(topic, i)
			if err := client.ProduceSync(ctx, &kgo.Record{Topic: topic, Key: rec.Key, Value: rec.Value}).FirstErr(); err != nil {
				return fmt.Errorf("produce to %s: %w", topic, err)
			}
		}
	}
	return nil
}

func consumeAndCommit(ctx context.Context, client *kgo.Client, want int) (int, error) {
	consumed := 0
	for consumed < want {
		fetches := client.PollRecords(ctx, want-consumed)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return consumed, ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return consumed, fmt.Errorf("consume %s[%d]: %w", errs[0].Topic, errs[0].Partition, errs[0].Err)
		}
		consumed += fetches.NumRecords()
	}
	if err := client.CommitUncommittedOffsets(ctx); err != nil {
		return consumed, fmt.Errorf("commit: %w", err)
	}
	return consumed, nil
}

func seedSegments(ctx context.Context, s3 storage.S3Client, etcd *clientv3.Client, namespace string, opts options, logger *slog.Logger) error {
	if opts.segment < 1 {
		return fmt.Errorf("segment-records must be positive")
	}
	writer := storage.NewSegmentWriter(s3, namespace, storage.SegmentWriterConfig{IndexIntervalMessages: 16}, nil)
	for _, topic := range opts.topics {
		for p := 0; p < opts.partitions; p++ {
			partition := int32(p)
			segments, err := writePartition(ctx, writer, topic, partition, opts)
			if err != nil {
				return err
			}
			if etcd == nil {
				logger.Info("seeded partition", "topic", topic, "partition", partition, "segments", segments)
				continue
			}
			if err := publishOffsets(ctx, etcd, topic, partition, opts); err != nil {
				return err
			}
			logger.Info("seeded partition", "topic", topic, "partition", partition, "segments", segments, "group", opts.group)
		}
	}
	return nil
}

// writePartition writes opts.count records in segments of opts.segment and
// then deletes every opts.gapEvery-th segment except the last.
func writePartition(ctx context.Context, writer *storage.SegmentWriter, topic string, partition int32, opts options) (int, error) {
	start := time.Now().Add(-time.Duration(opts.count) * time.Second)
	var bases []int64
	for base := 0; base < opts.count; base += opts.segment {
		n := min(opts.segment, opts.count-base)
		records := make([]storage.Record, n)
		for i := range records {
			offset := base + i
			records[i] = demoRecord(topic, offset)
			records[i].Timestamp = start.Add(time.Duration(offset) * time.Second).UnixMilli()
		}
		batch, err := storage.EncodeRecordBatch(int64(base), records, storage.BatchOptions{Codec: opts.codec})
		if err != nil {
			return 0, fmt.Errorf("encode %s[%d]@%d: %w", topic, partition, base, err)
		}
		if _, err := writer.WriteSegment(ctx, topic, partition, []storage.RecordBatch{batch}, time.Now()); err != nil {
			return 0, err
		}
		bases = append(bases, int64(base))
	}
	if opts.gapEvery <= 0 {
		return len(bases), nil
	}
	for i := opts.gapEvery - 1; i < len(bases)-1; i += opts.gapEvery {
		// the first segment stays so gaps show up inside the log, not as retention
		if i == 0 {
			continue
		}
		if err := writer.DeleteSegment(ctx, topic, partition, bases[i]); err != nil {
			return 0, err
		}
	}
	return len(bases), nil
}

// publishOffsets writes the keys brokers maintain in etcd so consumer
// anchors work against seeded segments.
func publishOffsets(ctx context.Context, etcd *clientv3.Client, topic string, partition int32, opts options) error {
	if _, err := etcd.Put(ctx, metadata.NextOffsetKey(topic, partition), fmt.Sprint(opts.count)); err != nil {
		return fmt.Errorf("publish next offset: %w", err)
	}
	if opts.group == "" || opts.commit <= 0 {
		return nil
	}
	commit := fmt.Sprintf(`{"offset":%d,"committed_at":%q}`, min(opts.commit, opts.count), time.Now().UTC().Format(time.RFC3339))
	if _, err := etcd.Put(ctx, metadata.ConsumerOffsetKey(opts.group, topic, partition), commit); err != nil {
		return fmt.Errorf("publish consumer offset: %w", err)
	}
	return nil
}

func demoRecord(topic string, i int) storage.Record {
	return storage.Record{
		Key:   []byte(fmt.Sprintf("%s-%d", topic, i)),
		Value: []byte(fmt.Sprintf(`{"seq":%d,"topic":%q}`, i, topic)),
		Headers: []storage.Header{
			{Key: "source", Value: []byte("demo-workload")},
		},
	}
}

func parseTopics(raw string) []string {
	parts := strings.Split(raw, ",")
	topics := make([]string, 0, len(parts))
	for _, part := range parts {
		topic := strings.TrimSpace(part)
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	return topics
}
