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

package window

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// memLog is an in-memory partition log. Message timestamps are offset*1000.
type memLog struct {
	mu        sync.Mutex
	partition Partition
	present   map[int64]bool
	calls     []ReadRequest
	err       error
	// gate, when set, blocks reads until it is closed.
	gate chan struct{}
}

func newMemLog(id string, start, end int64) *memLog {
	l := &memLog{
		partition: Partition{ID: id, StartOffset: start, EndOffset: end},
		present:   make(map[int64]bool),
	}
	for o := start; o < end; o++ {
		l.present[o] = true
	}
	return l
}

func (l *memLog) drop(offsets ...int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range offsets {
		delete(l.present, o)
	}
}

func (l *memLog) expireBelow(start int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for o := range l.present {
		if o < start {
			delete(l.present, o)
		}
	}
	l.partition.StartOffset = start
}

func (l *memLog) Partitions(ctx context.Context, topic string) ([]Partition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return []Partition{l.partition}, nil
}

func (l *memLog) ReadPage(ctx context.Context, req ReadRequest) (*ReadResponse, error) {
	l.mu.Lock()
	gate := l.gate
	l.calls = append(l.calls, req)
	err := l.err
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	offsets := make([]int64, 0, len(l.present))
	for o := range l.present {
		offsets = append(offsets, o)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	from := req.Offset
	if req.ReadTimestamp != 0 {
		from = l.partition.EndOffset
		for _, o := range offsets {
			if o*1000 >= req.ReadTimestamp {
				from = o
				break
			}
		}
	}
	resp := &ReadResponse{StartOffset: l.partition.StartOffset, EndOffset: l.partition.EndOffset}
	for _, o := range offsets {
		if o < from {
			continue
		}
		if len(resp.Messages) == req.Limit || o >= from+int64(req.Limit) {
			break
		}
		resp.Messages = append(resp.Messages, Message{Offset: o, CreateTimestamp: o * 1000})
	}
	return resp, nil
}

func (l *memLog) readCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *memLog) lastCall() ReadRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[len(l.calls)-1]
}

var errBackend = errors.New("backend down")

func offsetsOf(rows []Row) []int64 {
	out := make([]int64, len(rows))
	for i, row := range rows {
		out[i] = row.Offset
	}
	return out
}
