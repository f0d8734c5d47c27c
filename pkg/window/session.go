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
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoSelection is returned by Refresh before any partition was selected.
var ErrNoSelection = errors.New("no partition selected")

// Config tunes a Session.
type Config struct {
	// WindowLimit overrides the default base window size.
	WindowLimit int64
	Logger      *slog.Logger
	Observer    Observer
	// OnBounds is called with the live partition bounds after every
	// successful fetch.
	OnBounds func(topic, partition string, start, end int64)
}

// Session is the windowing state of one table: the selected partition, its
// base window, the anchor and the drift state of the current generation.
// It is safe for concurrent use; overlapping fetches of different pages run
// concurrently.
type Session struct {
	reader PageReader
	store  PartitionStore
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	generation uint64
	selected   bool
	topic      string
	partition  string
	anchor     Anchor
	window     BaseWindow
	drift      DriftState
	liveStart  int64
	liveEnd    int64

	resolving singleflight.Group
}

// NewSession builds a session reading pages from reader and partition bounds
// from store.
func NewSession(reader PageReader, store PartitionStore, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Session{
		reader: reader,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Select makes partition of topic the active selection with the given
// anchor. The base window is recomputed only when the partition changes; an
// anchor change on the same partition starts a new generation and resets the
// drift state. A timestamp anchor without a time continues the selected
// timestamp anchor and keeps its generation.
func (s *Session) Select(ctx context.Context, topic, partition string, anchor Anchor) (BaseWindow, error) {
	s.mu.Lock()
	if s.selected && s.topic == topic && s.partition == partition {
		if s.anchor != anchor && !continues(s.anchor, anchor) {
			s.anchor = anchor
			s.drift.Reset()
			s.generation++
		}
		w := s.window
		s.mu.Unlock()
		return w, nil
	}
	s.mu.Unlock()

	p, err := s.lookup(ctx, topic, partition)
	if err != nil {
		return BaseWindow{}, err
	}
	w, _ := ResolveWithLimit(&p, s.cfg.WindowLimit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected && s.topic == topic && s.partition == partition && s.anchor == anchor {
		// A concurrent Select got here first.
		return s.window, nil
	}
	s.generation++
	s.selected = true
	s.topic = topic
	s.partition = partition
	s.anchor = anchor
	s.window = w
	s.drift.Reset()
	s.liveStart, s.liveEnd = p.StartOffset, p.EndOffset
	s.logger.Debug("window selected",
		"topic", topic,
		"partition", partition,
		"base_offset", w.BaseOffset,
		"base_end_offset", w.BaseEndOffset,
		"truncated", w.Truncated,
		"generation", s.generation)
	return w, nil
}

// Refresh recomputes the base window of the selected partition from the
// partition store. Row positions change, so it starts a new generation.
func (s *Session) Refresh(ctx context.Context) (BaseWindow, error) {
	s.mu.Lock()
	if !s.selected {
		s.mu.Unlock()
		return BaseWindow{}, ErrNoSelection
	}
	topic, partition := s.topic, s.partition
	s.mu.Unlock()

	p, err := s.lookup(ctx, topic, partition)
	if err != nil {
		return BaseWindow{}, err
	}
	w, _ := ResolveWithLimit(&p, s.cfg.WindowLimit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topic != topic || s.partition != partition {
		return BaseWindow{}, ErrStaleGeneration
	}
	s.generation++
	s.window = w
	s.drift.Reset()
	s.liveStart, s.liveEnd = p.StartOffset, p.EndOffset
	return w, nil
}

func (s *Session) lookup(ctx context.Context, topic, partition string) (Partition, error) {
	parts, err := s.store.Partitions(ctx, topic)
	if err != nil {
		return Partition{}, fmt.Errorf("list partitions of %s: %w", topic, err)
	}
	p, ok := PartitionSet(parts).Find(partition)
	if !ok {
		return Partition{}, fmt.Errorf("%w: %s/%s", ErrUnknownPartition, topic, partition)
	}
	return p, nil
}

// Fetch answers one table page request. Filters naming a different partition
// or anchor than the current selection select it first.
func (s *Session) Fetch(ctx context.Context, req PageRequest) (Page, error) {
	f := req.Filters
	if f.Partition == "" || f.Empty {
		return Page{}, nil
	}
	if req.Limit <= 0 {
		return Page{}, ErrInvalidLimit
	}
	if s.needsSelect(f) {
		if _, err := s.Select(ctx, f.Topic, f.Partition, f.Anchor); err != nil {
			return Page{}, err
		}
	}

	started := time.Now()
	s.mu.Lock()
	gen, w, drift, anchor := s.generation, s.window, s.drift, s.anchor
	topic, partition := s.topic, s.partition
	s.mu.Unlock()

	event := FetchEvent{Topic: topic, Partition: partition, Anchor: KindOf(anchor)}
	requested, byTimestamp := drift.RequestedOffset(anchor, w, req.TableOffset)
	var (
		resp *ReadResponse
		err  error
	)
	if byTimestamp {
		resp, requested, err = s.fetchByTimestamp(ctx, gen, topic, partition, anchor.(TimestampAnchor), w, req)
	} else {
		resp, err = s.read(ctx, ReadRequest{Topic: topic, Partition: partition, Offset: requested, Limit: req.Limit})
	}
	if err != nil {
		event.Duration = time.Since(started)
		event.Err = err
		event.Stale = errors.Is(err, ErrStaleGeneration)
		s.cfg.Observer.ObserveFetch(event)
		return Page{}, err
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		event.Duration = time.Since(started)
		event.Stale = true
		event.Err = ErrStaleGeneration
		s.cfg.Observer.ObserveFetch(event)
		return Page{}, ErrStaleGeneration
	}
	if resp.EndOffset > s.window.BaseEndOffset {
		s.window.BaseEndOffset = resp.EndOffset
	}
	w = s.window
	rows := Densify(*resp, requested, req.Limit, min(w.BaseEndOffset, resp.EndOffset))
	s.drift.observe(rows)
	s.liveStart, s.liveEnd = resp.StartOffset, resp.EndOffset
	s.mu.Unlock()

	if s.cfg.OnBounds != nil {
		s.cfg.OnBounds(topic, partition, resp.StartOffset, resp.EndOffset)
	}
	event.Duration = time.Since(started)
	event.Rows = len(rows)
	event.Placeholders = countPlaceholders(rows)
	s.cfg.Observer.ObserveFetch(event)
	s.logger.Debug("window fetch",
		"topic", topic,
		"partition", partition,
		"table_offset", req.TableOffset,
		"requested", requested,
		"rows", len(rows),
		"generation", gen)

	return Page{
		Data:        rows,
		Total:       w.Size(),
		Found:       w.Size(),
		StartOffset: resp.StartOffset,
		EndOffset:   resp.EndOffset,
		Requested:   requested,
		Window:      w,
		Generation:  gen,
	}, nil
}

func (s *Session) needsSelect(f Filters) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected || s.topic != f.Topic || s.partition != f.Partition {
		return true
	}
	return s.anchor != f.Anchor && !continues(s.anchor, f.Anchor)
}

func (s *Session) read(ctx context.Context, req ReadRequest) (*ReadResponse, error) {
	resp, err := s.reader.ReadPage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", req.Topic, req.Partition, err)
	}
	if resp == nil {
		resp = &ReadResponse{}
	}
	return resp, nil
}

type resolution struct {
	resp        *ReadResponse
	from        int64
	tableOffset int64
	limit       int
}

// fetchByTimestamp issues the first read of a timestamp anchor. Concurrent
// first pages of the same generation share one timestamp read; the page that
// led it keeps its rows, the others read by offset once the origin is known.
func (s *Session) fetchByTimestamp(ctx context.Context, gen uint64, topic, partition string, anchor TimestampAnchor, w BaseWindow, req PageRequest) (*ReadResponse, int64, error) {
	v, err, _ := s.resolving.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		s.mu.Lock()
		resolved := s.drift.Resolved
		s.mu.Unlock()
		if resolved {
			return &resolution{}, nil
		}
		resp, err := s.read(ctx, ReadRequest{
			Topic:         topic,
			Partition:     partition,
			ReadTimestamp: anchor.Millis,
			Limit:         req.Limit,
		})
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != gen {
			return nil, ErrStaleGeneration
		}
		if s.drift.Resolved {
			return &resolution{}, nil
		}
		from := s.drift.resolveTimestamp(resp, req.TableOffset, w.BaseOffset+req.TableOffset)
		s.logger.Debug("timestamp anchor resolved",
			"topic", topic,
			"partition", partition,
			"timestamp", anchor.Millis,
			"from_offset", from,
			"generation", gen)
		return &resolution{resp: resp, from: from, tableOffset: req.TableOffset, limit: req.Limit}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	res := v.(*resolution)
	if res.resp != nil && res.tableOffset == req.TableOffset && res.limit == req.Limit {
		return res.resp, res.from, nil
	}

	s.mu.Lock()
	drift, current := s.drift, s.generation
	s.mu.Unlock()
	if current != gen {
		return nil, 0, ErrStaleGeneration
	}
	offset, _ := drift.RequestedOffset(anchor, w, req.TableOffset)
	resp, err := s.read(ctx, ReadRequest{Topic: topic, Partition: partition, Offset: offset, Limit: req.Limit})
	return resp, offset, err
}

// Generation returns the current anchor generation.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Window returns the base window of the selection.
func (s *Session) Window() (BaseWindow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window, s.selected
}

// Drift returns a copy of the current drift state.
func (s *Session) Drift() DriftState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drift
}

// Bounds returns the latest live bounds seen for the selected partition.
func (s *Session) Bounds() (start, end int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveStart, s.liveEnd
}

// Selection returns the selected topic, partition and anchor.
func (s *Session) Selection() (topic, partition string, anchor Anchor, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic, s.partition, s.anchor, s.selected
}

// Origin returns the real offset shown by table row 0. Before a timestamp
// anchor is resolved this is the base offset.
func (s *Session) Origin() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, byTimestamp := s.drift.RequestedOffset(s.anchor, s.window, 0)
	if byTimestamp {
		return s.window.BaseOffset
	}
	return offset
}

// ScrollTop returns the scroll position bringing target to the top of the
// table.
func (s *Session) ScrollTop(target int64, rowHeight int) int64 {
	return OffsetToScrollTop(target, s.Origin(), rowHeight)
}
