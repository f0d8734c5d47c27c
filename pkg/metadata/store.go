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

// Package metadata exposes the partition and consumer metadata KafScale
// brokers keep in etcd.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/novatechflow/topicview/pkg/window"
)

// Store is the metadata view used when browsing a topic.
type Store interface {
	window.PartitionStore
	// Topics lists the known topic names in lexical order.
	Topics(ctx context.Context) ([]string, error)
	// ConsumerOffsets returns the committed offsets of group for topic keyed
	// by partition id. Partitions without a commit are omitted.
	ConsumerOffsets(ctx context.Context, group, topic string) (map[string]int64, error)
}

// StartOffsetSource reports the earliest offset still stored for a
// partition, e.g. the segment reader.
type StartOffsetSource interface {
	StartOffset(ctx context.Context, topic string, partition int32) (int64, error)
}

var (
	// ErrUnknownTopic indicates the topic does not exist.
	ErrUnknownTopic = window.ErrUnknownTopic
	// ErrNoConsumerState is returned by stores that cannot see consumer groups.
	ErrNoConsumerState = errors.New("consumer offsets unavailable")
)

// TopicSource lists topics and their partitions, e.g. the segment reader.
type TopicSource interface {
	window.PartitionStore
	Topics(ctx context.Context) ([]string, error)
}

// WithoutConsumers turns src into a Store whose ConsumerOffsets always fails
// with ErrNoConsumerState.
func WithoutConsumers(src TopicSource) Store {
	return topicOnlyStore{src}
}

type topicOnlyStore struct {
	TopicSource
}

func (topicOnlyStore) ConsumerOffsets(context.Context, string, string) (map[string]int64, error) {
	return nil, ErrNoConsumerState
}

// InMemoryStore is a Store backed by in-process state. Useful for development and tests.
type InMemoryStore struct {
	mu              sync.RWMutex
	nextOffsets     map[string]map[int32]int64
	consumerOffsets map[string]int64
	starts          StartOffsetSource
}

// NewInMemoryStore builds an empty in-memory store. starts may be nil.
func NewInMemoryStore(starts StartOffsetSource) *InMemoryStore {
	return &InMemoryStore{
		nextOffsets:     make(map[string]map[int32]int64),
		consumerOffsets: make(map[string]int64),
		starts:          starts,
	}
}

// UpdateOffsets records lastOffset as the latest offset written to a
// partition, creating the topic and partition on first use.
func (s *InMemoryStore) UpdateOffsets(ctx context.Context, topic string, partition int32, lastOffset int64) error {
	if topic == "" || partition < 0 {
		return fmt.Errorf("invalid partition %s[%d]", topic, partition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	parts, ok := s.nextOffsets[topic]
	if !ok {
		parts = make(map[int32]int64)
		s.nextOffsets[topic] = parts
	}
	parts[partition] = lastOffset + 1
	return nil
}

// CommitConsumerOffset stores a consumer group offset.
func (s *InMemoryStore) CommitConsumerOffset(ctx context.Context, group, topic string, partition int32, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumerOffsets[ConsumerOffsetKey(group, topic, partition)] = offset
	return nil
}

// Partitions implements window.PartitionStore.
func (s *InMemoryStore) Partitions(ctx context.Context, topic string) ([]window.Partition, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	parts, ok := s.nextOffsets[topic]
	ends := make(map[int32]int64, len(parts))
	for p, next := range parts {
		ends[p] = next
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return buildPartitions(ctx, topic, ends, s.starts)
}

// Topics implements Store.
func (s *InMemoryStore) Topics(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topics := make([]string, 0, len(s.nextOffsets))
	for name := range s.nextOffsets {
		topics = append(topics, name)
	}
	sort.Strings(topics)
	return topics, nil
}

// ConsumerOffsets implements Store.
func (s *InMemoryStore) ConsumerOffsets(ctx context.Context, group, topic string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64)
	for key, offset := range s.consumerOffsets {
		g, t, p, ok := ParseConsumerOffsetKey(key)
		if ok && g == group && t == topic {
			out[strconv.Itoa(int(p))] = offset
		}
	}
	return out, nil
}

// buildPartitions turns per partition end offsets into sorted window
// partitions, asking starts for the earliest retained offset.
func buildPartitions(ctx context.Context, topic string, ends map[int32]int64, starts StartOffsetSource) ([]window.Partition, error) {
	ids := make([]int32, 0, len(ends))
	for id := range ends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]window.Partition, 0, len(ids))
	for _, id := range ids {
		end := ends[id]
		var start int64
		if starts != nil {
			var err error
			start, err = starts.StartOffset(ctx, topic, id)
			if err != nil {
				return nil, fmt.Errorf("start offset %s[%d]: %w", topic, id, err)
			}
		}
		if start > end {
			start = end
		}
		out = append(out, window.Partition{ID: strconv.Itoa(int(id)), StartOffset: start, EndOffset: end})
	}
	return out, nil
}
