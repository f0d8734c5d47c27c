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
	"sync"
	"testing"
	"time"
)

type countingFetcher struct {
	mu    sync.Mutex
	inner Fetcher
	reqs  []PageRequest
}

func (c *countingFetcher) Fetch(ctx context.Context, req PageRequest) (Page, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	return c.inner.Fetch(ctx, req)
}

func TestGroupConsecutive(t *testing.T) {
	mk := func(offsets ...int64) []*pendingRequest {
		out := make([]*pendingRequest, len(offsets))
		for i, o := range offsets {
			out[i] = &pendingRequest{req: PageRequest{TableOffset: o, Limit: 10}}
		}
		return out
	}
	groups := groupConsecutive(mk(20, 0, 10, 50, 60, 60, 100))
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if len(groups[0]) != 3 || groups[0][0].req.TableOffset != 0 || groups[0][2].req.TableOffset != 20 {
		t.Fatalf("unexpected first group")
	}
	if len(groups[1]) != 3 || len(groups[2]) != 1 {
		t.Fatalf("unexpected group sizes %d %d", len(groups[1]), len(groups[2]))
	}
}

func TestSlicePage(t *testing.T) {
	page := Page{Requested: 100, Total: 30}
	for o := int64(100); o < 125; o++ {
		page.Data = append(page.Data, Row{Offset: o})
	}
	part := slicePage(page, 10, 10)
	if len(part.Data) != 10 || part.Data[0].Offset != 110 || part.Requested != 110 || part.Total != 30 {
		t.Fatalf("unexpected slice %+v", part)
	}
	tail := slicePage(page, 20, 10)
	if len(tail.Data) != 5 {
		t.Fatalf("expected short tail, got %d", len(tail.Data))
	}
	if empty := slicePage(page, 40, 10); len(empty.Data) != 0 {
		t.Fatalf("expected empty slice")
	}
}

func TestBatcherMergesConsecutivePages(t *testing.T) {
	log := newMemLog("0", 0, 1000)
	fetcher := &countingFetcher{inner: NewSession(log, log, Config{})}
	b := NewBatcher(fetcher, 100*time.Millisecond)

	var wg sync.WaitGroup
	pages := make([]Page, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pages[i], errs[i] = b.Fetch(context.Background(), PageRequest{TableOffset: int64(i * 10), Limit: 10, Filters: offsetFilters(100)})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if len(pages[i].Data) != 10 || pages[i].Data[0].Offset != 100+int64(i*10) {
			t.Fatalf("page %d starts at %d with %d rows", i, pages[i].Data[0].Offset, len(pages[i].Data))
		}
	}
	if len(fetcher.reqs) != 1 || fetcher.reqs[0].Limit != 30 || fetcher.reqs[0].TableOffset != 0 {
		t.Fatalf("expected one merged fetch, got %+v", fetcher.reqs)
	}
}

func TestBatcherDisabled(t *testing.T) {
	log := newMemLog("0", 0, 100)
	fetcher := &countingFetcher{inner: NewSession(log, log, Config{})}
	b := NewBatcher(fetcher, 0)
	page, err := b.Fetch(context.Background(), PageRequest{Limit: 5, Filters: offsetFilters(0)})
	if err != nil || len(page.Data) != 5 {
		t.Fatalf("unexpected result %+v %v", page, err)
	}
}

func TestBatcherHonoursCallerContext(t *testing.T) {
	log := newMemLog("0", 0, 100)
	b := NewBatcher(NewSession(log, log, Config{}), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Fetch(ctx, PageRequest{Limit: 5, Filters: offsetFilters(0)}); err != context.Canceled {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
