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

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/novatechflow/topicview/pkg/window"
)

// EtcdStoreConfig defines how we connect to etcd for metadata/offsets.
type EtcdStoreConfig struct {
	Endpoints      []string
	Username       string
	Password       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// EtcdStore reads partition end offsets and committed consumer offsets from
// the keys KafScale brokers maintain. End offsets are cached per topic and
// dropped whenever a watch reports a change below the topic.
type EtcdStore struct {
	client  *clientv3.Client
	starts  StartOffsetSource
	timeout time.Duration
	logger  *slog.Logger
	cancel  context.CancelFunc

	mu   sync.RWMutex
	ends map[string]map[int32]int64
}

type consumerOffsetRecord struct {
	Offset      int64  `json:"offset"`
	Metadata    string `json:"metadata"`
	CommittedAt string `json:"committed_at"`
}

// NewEtcdStore connects to etcd. starts may be nil, in which case every
// partition starts at offset 0.
func NewEtcdStore(ctx context.Context, cfg EtcdStoreConfig, starts StartOffsetSource) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 3 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := &EtcdStore{
		client:  cli,
		starts:  starts,
		timeout: cfg.RequestTimeout,
		logger:  logger,
		ends:    make(map[string]map[int32]int64),
	}
	store.startWatchers()
	return store, nil
}

// Close stops the watcher and closes the etcd client.
func (s *EtcdStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.client.Close()
}

// Partitions implements window.PartitionStore.
func (s *EtcdStore) Partitions(ctx context.Context, topic string) ([]window.Partition, error) {
	ends, err := s.endOffsets(ctx, topic)
	if err != nil {
		return nil, err
	}
	return buildPartitions(ctx, topic, ends, s.starts)
}

func (s *EtcdStore) endOffsets(ctx context.Context, topic string) (map[int32]int64, error) {
	s.mu.RLock()
	cached, ok := s.ends[topic]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.client.Get(ctx, TopicPartitionsPrefix(topic), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list partitions %s: %w", topic, err)
	}
	ends := make(map[int32]int64)
	for _, kv := range resp.Kvs {
		partition, isNext, ok := ParsePartitionKey(topic, string(kv.Key))
		if !ok {
			continue
		}
		if _, seen := ends[partition]; !seen {
			ends[partition] = 0
		}
		if !isNext {
			continue
		}
		next, err := parseNextOffset(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("parse offset for %s: %w", kv.Key, err)
		}
		ends[partition] = next
	}
	if len(ends) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	s.mu.Lock()
	s.ends[topic] = ends
	s.mu.Unlock()
	return ends, nil
}

func parseNextOffset(raw []byte) (int64, error) {
	val := strings.TrimSpace(string(raw))
	if val == "" {
		return 0, nil
	}
	return strconv.ParseInt(val, 10, 64)
}

// Topics implements Store.
func (s *EtcdStore) Topics(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.client.Get(ctx, topicPrefix+"/", clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	seen := make(map[string]bool)
	for _, kv := range resp.Kvs {
		if name, ok := ParseTopicKey(string(kv.Key)); ok {
			seen[name] = true
		}
	}
	topics := make([]string, 0, len(seen))
	for name := range seen {
		topics = append(topics, name)
	}
	sort.Strings(topics)
	return topics, nil
}

// ConsumerOffsets implements Store.
func (s *EtcdStore) ConsumerOffsets(ctx context.Context, group, topic string) (map[string]int64, error) {
	if group == "" {
		return nil, errors.New("consumer group required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.client.Get(ctx, ConsumerTopicOffsetsPrefix(group, topic), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list consumer offsets %s/%s: %w", group, topic, err)
	}
	out := make(map[string]int64, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		_, _, partition, ok := ParseConsumerOffsetKey(string(kv.Key))
		if !ok {
			continue
		}
		var rec consumerOffsetRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			s.logger.Warn("skipping malformed consumer offset", "key", string(kv.Key), "error", err)
			continue
		}
		out[strconv.Itoa(int(partition))] = rec.Offset
	}
	return out, nil
}

// UpdateOffsets stores the next offset (last + 1) the way brokers do after a flush.
func (s *EtcdStore) UpdateOffsets(ctx context.Context, topic string, partition int32, lastOffset int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	next := lastOffset + 1
	_, err := s.client.Put(ctx, NextOffsetKey(topic, partition), strconv.FormatInt(next, 10))
	if err == nil {
		s.invalidate(topic)
	}
	return err
}

// CommitConsumerOffset writes a committed offset in the broker's record format.
func (s *EtcdStore) CommitConsumerOffset(ctx context.Context, group, topic string, partition int32, offset int64, metadata string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rec := consumerOffsetRecord{
		Offset:      offset,
		Metadata:    metadata,
		CommittedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, ConsumerOffsetKey(group, topic, partition), string(payload))
	return err
}

func (s *EtcdStore) invalidate(topic string) {
	s.mu.Lock()
	delete(s.ends, topic)
	s.mu.Unlock()
}

func (s *EtcdStore) startWatchers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.watchTopics(ctx)
}

func (s *EtcdStore) watchTopics(ctx context.Context) {
	watchChan := s.client.Watch(ctx, topicPrefix+"/", clientv3.WithPrefix())
	for resp := range watchChan {
		if err := resp.Err(); err != nil {
			s.logger.Debug("etcd watch error", "error", err)
			continue
		}
		for _, ev := range resp.Events {
			if name, ok := ParseTopicKey(string(ev.Kv.Key)); ok {
				s.invalidate(name)
			}
		}
	}
}
