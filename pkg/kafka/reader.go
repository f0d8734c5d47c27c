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

// Package kafka reads topic pages from any Kafka protocol broker, KafScale
// brokers included, using franz-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/novatechflow/topicview/pkg/window"
)

const (
	defaultPollTimeout   = 2 * time.Second
	defaultFetchMaxBytes = 8 << 20

	listOffsetsLatest   int64 = -1
	listOffsetsEarliest int64 = -2
)

var (
	// ErrUnknownTopic is returned when the broker does not know the topic.
	ErrUnknownTopic = window.ErrUnknownTopic
	// ErrInvalidPartition is returned for partition ids that are not numbers.
	ErrInvalidPartition = window.ErrInvalidPartition
)

// Config configures a Reader.
type Config struct {
	Brokers       []string
	ClientID      string
	PollTimeout   time.Duration
	FetchMaxBytes int32
	LogLevel      string
	Logger        *slog.Logger
}

// Reader serves pages straight from the brokers. Metadata and offset lookups
// share one long lived client; each read uses its own direct partition
// consumer so overlapping reads of the same partition never interfere.
type Reader struct {
	cfg    Config
	client *kgo.Client
	logger *slog.Logger
}

// NewReader connects a metadata client to cfg.Brokers.
func NewReader(cfg Config) (*Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.FetchMaxBytes <= 0 {
		cfg.FetchMaxBytes = defaultFetchMaxBytes
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "topicview"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := kgo.NewClient(cfg.baseOpts(logger)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Reader{cfg: cfg, client: client, logger: logger}, nil
}

func (c Config) baseOpts(logger *slog.Logger) []kgo.Opt {
	return []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.ClientID(c.ClientID),
		kgo.WithLogger(newSlogLogger(logger, parseLogLevel(strings.ToLower(c.LogLevel)))),
	}
}

// Close releases the metadata client.
func (r *Reader) Close() {
	r.client.Close()
}

// Ping checks that at least one broker answers.
func (r *Reader) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// Partitions implements window.PartitionStore.
func (r *Reader) Partitions(ctx context.Context, topic string) ([]window.Partition, error) {
	ids, err := r.partitionIDs(ctx, topic)
	if err != nil {
		return nil, err
	}
	starts, err := r.listOffsets(ctx, topic, ids, listOffsetsEarliest)
	if err != nil {
		return nil, err
	}
	ends, err := r.listOffsets(ctx, topic, ids, listOffsetsLatest)
	if err != nil {
		return nil, err
	}
	out := make([]window.Partition, 0, len(ids))
	for _, id := range ids {
		out = append(out, window.Partition{
			ID:          strconv.Itoa(int(id)),
			StartOffset: starts[id],
			EndOffset:   ends[id],
		})
	}
	return out, nil
}

// Topics lists the non-internal topics known to the cluster.
func (r *Reader) Topics(ctx context.Context) ([]string, error) {
	req := kmsg.NewPtrMetadataRequest()
	resp, err := req.RequestWith(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	topics := make([]string, 0, len(resp.Topics))
	for _, t := range resp.Topics {
		if t.Topic == nil || t.IsInternal || t.ErrorCode != 0 {
			continue
		}
		topics = append(topics, *t.Topic)
	}
	sort.Strings(topics)
	return topics, nil
}

// ConsumerOffsets returns the offsets group committed for topic, keyed by
// partition id. Partitions without a commit are left out.
func (r *Reader) ConsumerOffsets(ctx context.Context, group, topic string) (map[string]int64, error) {
	if group == "" {
		return nil, fmt.Errorf("consumer group required")
	}
	ids, err := r.partitionIDs(ctx, topic)
	if err != nil {
		return nil, err
	}
	req := kmsg.NewPtrOffsetFetchRequest()
	req.Group = group
	reqTopic := kmsg.NewOffsetFetchRequestTopic()
	reqTopic.Topic = topic
	reqTopic.Partitions = ids
	req.Topics = append(req.Topics, reqTopic)
	resp, err := req.RequestWith(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("offset fetch %s/%s: %w", group, topic, err)
	}
	if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
		return nil, fmt.Errorf("offset fetch %s/%s: %w", group, topic, err)
	}
	out := make(map[string]int64, len(ids))
	for _, t := range resp.Topics {
		if t.Topic != topic {
			continue
		}
		for _, p := range t.Partitions {
			if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
				return nil, fmt.Errorf("offset fetch %s/%s[%d]: %w", group, topic, p.Partition, err)
			}
			if p.Offset < 0 {
				continue
			}
			out[strconv.Itoa(int(p.Partition))] = p.Offset
		}
	}
	return out, nil
}

// ReadPage implements window.PageReader.
func (r *Reader) ReadPage(ctx context.Context, req window.ReadRequest) (*window.ReadResponse, error) {
	partition, err := parsePartition(req.Partition)
	if err != nil {
		return nil, err
	}
	ids := []int32{partition}
	starts, err := r.listOffsets(ctx, req.Topic, ids, listOffsetsEarliest)
	if err != nil {
		return nil, err
	}
	ends, err := r.listOffsets(ctx, req.Topic, ids, listOffsetsLatest)
	if err != nil {
		return nil, err
	}
	resp := &window.ReadResponse{StartOffset: starts[partition], EndOffset: ends[partition]}

	from := req.Offset
	if req.ReadTimestamp != 0 {
		byTime, err := r.listOffsets(ctx, req.Topic, ids, req.ReadTimestamp)
		if err != nil {
			return nil, err
		}
		from = byTime[partition]
		if from < 0 {
			from = resp.EndOffset
		}
	}
	upper := from + int64(req.Limit)
	if from < resp.StartOffset {
		from = resp.StartOffset
	}
	stopAt := min(upper, resp.EndOffset)
	if req.Limit <= 0 || from >= stopAt {
		return resp, nil
	}

	msgs, complete, err := r.consume(ctx, req.Topic, partition, from, upper, stopAt, req.Limit)
	if err != nil {
		return nil, err
	}
	resp.Messages = msgs
	resp.Truncated = !complete
	return resp, nil
}

// consume polls a direct partition consumer starting at from until it has
// seen stopAt-1 or limit records, or the poll timeout expires.
func (r *Reader) consume(ctx context.Context, topic string, partition int32, from, upper, stopAt int64, limit int) ([]window.Message, bool, error) {
	opts := append(r.cfg.baseOpts(r.logger),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			topic: {partition: kgo.NewOffset().At(from)},
		}),
		kgo.FetchMaxBytes(r.cfg.FetchMaxBytes),
		kgo.FetchMaxWait(250*time.Millisecond),
	)
	consumer, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, false, fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	pollCtx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
	defer cancel()

	var msgs []window.Message
	next := from
	for next < stopAt && len(msgs) < limit {
		fetches := consumer.PollFetches(pollCtx)
		if fetches.IsClientClosed() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			if allTransientFetchErrors(errs) {
				if pollCtx.Err() != nil {
					break
				}
				continue
			}
			return nil, false, fmt.Errorf("fetch %s[%d]: %w", topic, partition, errs[0].Err)
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			if rec.Offset >= next {
				next = rec.Offset + 1
			}
			if rec.Offset < from || rec.Offset >= upper || len(msgs) >= limit {
				return
			}
			msgs = append(msgs, toMessage(rec))
		})
		if pollCtx.Err() != nil {
			break
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Offset < msgs[j].Offset })
	complete := next >= stopAt || len(msgs) >= limit
	if !complete {
		r.logger.Debug("kafka read stopped early", "topic", topic, "partition", partition, "from", from, "reached", next, "target", stopAt)
	}
	return msgs, complete, nil
}

func allTransientFetchErrors(errs []kgo.FetchError) bool {
	for _, fetchErr := range errs {
		err := fetchErr.Err
		if err == nil {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			continue
		}
		return false
	}
	return true
}

func (r *Reader) partitionIDs(ctx context.Context, topic string) ([]int32, error) {
	req := kmsg.NewPtrMetadataRequest()
	reqTopic := kmsg.NewMetadataRequestTopic()
	reqTopic.Topic = kmsg.StringPtr(topic)
	req.Topics = append(req.Topics, reqTopic)
	resp, err := req.RequestWith(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", topic, err)
	}
	for _, t := range resp.Topics {
		if t.Topic == nil || *t.Topic != topic {
			continue
		}
		if err := kerr.ErrorForCode(t.ErrorCode); err != nil {
			if errors.Is(err, kerr.UnknownTopicOrPartition) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
			}
			return nil, fmt.Errorf("metadata %s: %w", topic, err)
		}
		ids := make([]int32, 0, len(t.Partitions))
		for _, p := range t.Partitions {
			ids = append(ids, p.Partition)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return ids, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

// listOffsets resolves one ListOffsets timestamp (or the earliest/latest
// sentinels) for each partition. A partition without a matching record maps
// to -1.
func (r *Reader) listOffsets(ctx context.Context, topic string, partitions []int32, timestamp int64) (map[int32]int64, error) {
	req := kmsg.NewPtrListOffsetsRequest()
	req.ReplicaID = -1
	reqTopic := kmsg.NewListOffsetsRequestTopic()
	reqTopic.Topic = topic
	for _, p := range partitions {
		reqPart := kmsg.NewListOffsetsRequestTopicPartition()
		reqPart.Partition = p
		reqPart.Timestamp = timestamp
		reqTopic.Partitions = append(reqTopic.Partitions, reqPart)
	}
	req.Topics = append(req.Topics, reqTopic)

	resp, err := req.RequestWith(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("list offsets %s: %w", topic, err)
	}
	out := make(map[int32]int64, len(partitions))
	for _, t := range resp.Topics {
		for _, p := range t.Partitions {
			if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
				if errors.Is(err, kerr.UnknownTopicOrPartition) {
					return nil, fmt.Errorf("%w: %s[%d]", ErrUnknownTopic, topic, p.Partition)
				}
				return nil, fmt.Errorf("list offsets %s[%d]: %w", topic, p.Partition, err)
			}
			out[p.Partition] = p.Offset
		}
	}
	for _, p := range partitions {
		if _, ok := out[p]; !ok {
			return nil, fmt.Errorf("list offsets %s[%d]: missing from response", topic, p)
		}
	}
	return out, nil
}

func toMessage(rec *kgo.Record) window.Message {
	ts := rec.Timestamp.UnixMilli()
	msg := window.Message{
		Offset:          rec.Offset,
		CreateTimestamp: ts,
		WriteTimestamp:  ts,
		Key:             rec.Key,
		Value:           rec.Value,
		StorageSize:     len(rec.Key) + len(rec.Value),
		OriginalSize:    len(rec.Value),
		Codec:           int(rec.Attrs.CompressionType()),
		SeqNo:           -1,
	}
	if rec.ProducerID >= 0 {
		msg.ProducerID = strconv.FormatInt(rec.ProducerID, 10)
	}
	for _, h := range rec.Headers {
		msg.Headers = append(msg.Headers, window.Header{Key: h.Key, Value: h.Value})
		msg.StorageSize += len(h.Key) + len(h.Value)
	}
	return msg
}

func parsePartition(id string) (int32, error) {
	p, err := strconv.ParseInt(id, 10, 32)
	if err != nil || p < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPartition, id)
	}
	return int32(p), nil
}
