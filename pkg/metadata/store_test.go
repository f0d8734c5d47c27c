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
	"errors"
	"testing"
)

type fixedStarts map[int32]int64

func (f fixedStarts) StartOffset(ctx context.Context, topic string, partition int32) (int64, error) {
	if start, ok := f[partition]; ok {
		return start, nil
	}
	return 0, errors.New("no segments")
}

func TestInMemoryStorePartitions(t *testing.T) {
	store := NewInMemoryStore(fixedStarts{0: 40, 1: 500})
	ctx := context.Background()
	if err := store.UpdateOffsets(ctx, "orders", 1, 99); err != nil {
		t.Fatalf("UpdateOffsets: %v", err)
	}
	if err := store.UpdateOffsets(ctx, "orders", 0, 149); err != nil {
		t.Fatalf("UpdateOffsets: %v", err)
	}

	parts, err := store.Partitions(ctx, "orders")
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 partitions got %d", len(parts))
	}
	if parts[0].ID != "0" || parts[0].StartOffset != 40 || parts[0].EndOffset != 150 {
		t.Fatalf("unexpected partition 0: %+v", parts[0])
	}
	// a start past the end is clamped
	if parts[1].ID != "1" || parts[1].StartOffset != 100 || parts[1].EndOffset != 100 {
		t.Fatalf("unexpected partition 1: %+v", parts[1])
	}
}

func TestInMemoryStoreUnknownTopic(t *testing.T) {
	store := NewInMemoryStore(nil)
	if _, err := store.Partitions(context.Background(), "missing"); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected unknown topic, got %v", err)
	}
}

func TestInMemoryStoreStartOffsetError(t *testing.T) {
	store := NewInMemoryStore(fixedStarts{})
	ctx := context.Background()
	_ = store.UpdateOffsets(ctx, "orders", 0, 1)
	if _, err := store.Partitions(ctx, "orders"); err == nil {
		t.Fatalf("expected start offset error to propagate")
	}
}

func TestInMemoryStoreContextCancel(t *testing.T) {
	store := NewInMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Partitions(ctx, "orders"); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestInMemoryStoreConsumerOffsets(t *testing.T) {
	store := NewInMemoryStore(nil)
	ctx := context.Background()
	_ = store.UpdateOffsets(ctx, "orders", 0, 10)
	_ = store.UpdateOffsets(ctx, "payments", 0, 10)
	_ = store.CommitConsumerOffset(ctx, "group-a", "orders", 0, 7)
	_ = store.CommitConsumerOffset(ctx, "group-a", "orders", 2, 3)
	_ = store.CommitConsumerOffset(ctx, "group-a", "payments", 0, 1)
	_ = store.CommitConsumerOffset(ctx, "group-b", "orders", 0, 9)

	offsets, err := store.ConsumerOffsets(ctx, "group-a", "orders")
	if err != nil {
		t.Fatalf("ConsumerOffsets: %v", err)
	}
	if len(offsets) != 2 || offsets["0"] != 7 || offsets["2"] != 3 {
		t.Fatalf("unexpected offsets %v", offsets)
	}
	topics, err := store.Topics(ctx)
	if err != nil || len(topics) != 2 || topics[0] != "orders" {
		t.Fatalf("unexpected topics %v %v", topics, err)
	}
}

func TestWithoutConsumers(t *testing.T) {
	mem := NewInMemoryStore(nil)
	ctx := context.Background()
	if err := mem.UpdateOffsets(ctx, "orders", 0, 9); err != nil {
		t.Fatalf("UpdateOffsets: %v", err)
	}
	if err := mem.CommitConsumerOffset(ctx, "billing", "orders", 0, 5); err != nil {
		t.Fatalf("CommitConsumerOffset: %v", err)
	}
	store := WithoutConsumers(mem)
	parts, err := store.Partitions(ctx, "orders")
	if err != nil || len(parts) != 1 || parts[0].EndOffset != 10 {
		t.Fatalf("unexpected partitions %+v %v", parts, err)
	}
	if _, err := store.ConsumerOffsets(ctx, "billing", "orders"); !errors.Is(err, ErrNoConsumerState) {
		t.Fatalf("expected ErrNoConsumerState, got %v", err)
	}
}
