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
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBatchDelay is how long the batcher waits for more page requests
// before issuing a read.
const DefaultBatchDelay = 50 * time.Millisecond

// Fetcher answers page requests. *Session implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req PageRequest) (Page, error)
}

// Batcher collects page requests that arrive within a short delay and merges
// runs of consecutive pages (same filters, same limit, TableOffset advancing
// by Limit) into a single fetch, splitting the rows back per request.
type Batcher struct {
	fetcher Fetcher
	delay   time.Duration

	mu      sync.Mutex
	pending map[batchKey][]*pendingRequest
	timer   *time.Timer
}

type batchKey struct {
	topic     string
	partition string
	empty     bool
	anchor    Anchor
	limit     int
}

type pendingRequest struct {
	ctx  context.Context
	req  PageRequest
	done chan batchResult
}

type batchResult struct {
	page Page
	err  error
}

// NewBatcher wraps fetcher. A non-positive delay disables batching.
func NewBatcher(fetcher Fetcher, delay time.Duration) *Batcher {
	return &Batcher{fetcher: fetcher, delay: delay}
}

// Fetch queues req and waits for its slice of the merged result.
func (b *Batcher) Fetch(ctx context.Context, req PageRequest) (Page, error) {
	if b.delay <= 0 || req.Limit <= 0 {
		return b.fetcher.Fetch(ctx, req)
	}
	p := &pendingRequest{ctx: ctx, req: req, done: make(chan batchResult, 1)}
	key := batchKey{
		topic:     req.Filters.Topic,
		partition: req.Filters.Partition,
		empty:     req.Filters.Empty,
		anchor:    req.Filters.Anchor,
		limit:     req.Limit,
	}

	b.mu.Lock()
	if b.pending == nil {
		b.pending = make(map[batchKey][]*pendingRequest)
	}
	b.pending[key] = append(b.pending[key], p)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.flush)
	b.mu.Unlock()

	select {
	case res := <-p.done:
		return res.page, res.err
	case <-ctx.Done():
		return Page{}, ctx.Err()
	}
}

func (b *Batcher) flush() {
	b.mu.Lock()
	batches := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, reqs := range batches {
		for _, group := range groupConsecutive(reqs) {
			go b.run(group)
		}
	}
}

// groupConsecutive splits requests sharing a key into runs of adjacent
// pages. Duplicate pages join the run of their twin.
func groupConsecutive(reqs []*pendingRequest) [][]*pendingRequest {
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].req.TableOffset < reqs[j].req.TableOffset
	})
	var groups [][]*pendingRequest
	var current []*pendingRequest
	for _, p := range reqs {
		if len(current) > 0 {
			last := current[len(current)-1].req
			if p.req.TableOffset == last.TableOffset || p.req.TableOffset == last.TableOffset+int64(last.Limit) {
				current = append(current, p)
				continue
			}
			groups = append(groups, current)
		}
		current = []*pendingRequest{p}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func (b *Batcher) run(group []*pendingRequest) {
	first := group[0].req
	last := group[len(group)-1].req
	limit := first.Limit
	pages := (last.TableOffset-first.TableOffset)/int64(limit) + 1

	merged := first
	merged.Limit = int(pages) * limit

	// The merged read lives until every waiter has gone away.
	ctx, cancel := context.WithCancel(context.WithoutCancel(group[0].ctx))
	defer cancel()
	var remaining atomic.Int32
	remaining.Store(int32(len(group)))
	for _, p := range group {
		stop := context.AfterFunc(p.ctx, func() {
			if remaining.Add(-1) == 0 {
				cancel()
			}
		})
		defer stop()
	}

	page, err := b.fetcher.Fetch(ctx, merged)
	for _, p := range group {
		if err != nil {
			p.done <- batchResult{err: err}
			continue
		}
		p.done <- batchResult{page: slicePage(page, p.req.TableOffset-first.TableOffset, limit)}
	}
}

// slicePage extracts rows [from, from+limit) of a merged page.
func slicePage(page Page, from int64, limit int) Page {
	out := page
	lo := min(int(from), len(page.Data))
	hi := min(lo+limit, len(page.Data))
	out.Data = page.Data[lo:hi:hi]
	out.Requested = page.Requested + from
	return out
}
