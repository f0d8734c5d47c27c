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

// Package health tracks how the object store behaves for this process, from
// the S3 calls the segment reader makes.
package health

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the reader's view of S3 availability. The values match the state
// label brokers export on kafscale_s3_health_state.
type State string

const (
	StateHealthy     State = "healthy"
	StateDegraded    State = "degraded"
	StateUnavailable State = "unavailable"
)

// Config holds the thresholds between states. Zero fields take defaults.
type Config struct {
	Window      time.Duration
	LatencyWarn time.Duration
	LatencyCrit time.Duration
	ErrorWarn   float64
	ErrorCrit   float64
	MaxSamples  int
	// Benign reports errors that say nothing about the store, such as a
	// segment that retention deleted between listing and download. They are
	// recorded as successful operations.
	Benign func(error) bool
	// OnChange runs after every state transition, outside the monitor lock.
	OnChange func(from, to State, snap Snapshot)
}

// OpStats aggregates one kind of S3 operation inside the window.
type OpStats struct {
	Count      int
	Errors     int
	AvgLatency time.Duration
}

// Snapshot captures the monitor's aggregates.
type Snapshot struct {
	State      State
	Since      time.Time
	AvgLatency time.Duration
	ErrorRate  float64
	Samples    int
	Ops        map[string]OpStats
}

type sample struct {
	ts      time.Time
	op      string
	latency time.Duration
	failed  bool
}

// S3Monitor folds the reader's recent S3 operations into a State. Samples
// live in a fixed ring of MaxSamples entries and age out after Window.
type S3Monitor struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	ring  []sample
	head  int
	n     int
	state State
	since time.Time
}

// NewS3Monitor builds a monitor.
func NewS3Monitor(cfg Config) *S3Monitor {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.LatencyWarn <= 0 {
		cfg.LatencyWarn = 500 * time.Millisecond
	}
	if cfg.LatencyCrit <= 0 {
		cfg.LatencyCrit = 3 * time.Second
	}
	if cfg.ErrorWarn <= 0 {
		cfg.ErrorWarn = 0.2
	}
	if cfg.ErrorCrit <= 0 {
		cfg.ErrorCrit = 0.6
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 512
	}
	return &S3Monitor{
		cfg:   cfg,
		now:   time.Now,
		ring:  make([]sample, cfg.MaxSamples),
		state: StateHealthy,
		since: time.Now(),
	}
}

// Record matches the storage OnS3Op hook. Canceled operations are dropped:
// a page read abandoned by its caller tells nothing about S3.
func (m *S3Monitor) Record(op string, latency time.Duration, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	failed := err != nil && (m.cfg.Benign == nil || !m.cfg.Benign(err))

	m.mu.Lock()
	now := m.now()
	m.push(sample{ts: now, op: op, latency: latency, failed: failed})
	m.expire(now)
	snap, from, changed := m.evaluate(now)
	m.mu.Unlock()

	if changed && m.cfg.OnChange != nil {
		m.cfg.OnChange(from, snap.State, snap)
	}
}

// Snapshot ages out samples older than the window before reporting, so an
// idle monitor recovers to healthy.
func (m *S3Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	now := m.now()
	m.expire(now)
	snap, from, changed := m.evaluate(now)
	m.mu.Unlock()

	if changed && m.cfg.OnChange != nil {
		m.cfg.OnChange(from, snap.State, snap)
	}
	return snap
}

func (m *S3Monitor) State() State {
	return m.Snapshot().State
}

func (m *S3Monitor) push(s sample) {
	size := len(m.ring)
	if m.n < size {
		m.ring[(m.head+m.n)%size] = s
		m.n++
		return
	}
	m.ring[m.head] = s
	m.head = (m.head + 1) % size
}

func (m *S3Monitor) expire(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	for m.n > 0 && !m.ring[m.head].ts.After(cutoff) {
		m.ring[m.head] = sample{}
		m.head = (m.head + 1) % len(m.ring)
		m.n--
	}
}

// evaluate recomputes the aggregates and moves the state. It reports the
// previous state when a transition happened.
func (m *S3Monitor) evaluate(now time.Time) (Snapshot, State, bool) {
	snap := Snapshot{Samples: m.n, Ops: make(map[string]OpStats)}
	var (
		total    time.Duration
		failures int
	)
	opLatency := make(map[string]time.Duration)
	for i := 0; i < m.n; i++ {
		s := m.ring[(m.head+i)%len(m.ring)]
		total += s.latency
		stats := snap.Ops[s.op]
		stats.Count++
		if s.failed {
			failures++
			stats.Errors++
		}
		snap.Ops[s.op] = stats
		opLatency[s.op] += s.latency
	}
	for op, stats := range snap.Ops {
		stats.AvgLatency = opLatency[op] / time.Duration(stats.Count)
		snap.Ops[op] = stats
	}

	next := StateHealthy
	if m.n > 0 {
		snap.AvgLatency = total / time.Duration(m.n)
		snap.ErrorRate = float64(failures) / float64(m.n)
		switch {
		case snap.AvgLatency >= m.cfg.LatencyCrit || snap.ErrorRate >= m.cfg.ErrorCrit:
			next = StateUnavailable
		case snap.AvgLatency >= m.cfg.LatencyWarn || snap.ErrorRate >= m.cfg.ErrorWarn:
			next = StateDegraded
		}
	}

	from := m.state
	changed := next != m.state
	if changed {
		m.state = next
		m.since = now
	}
	snap.State = m.state
	snap.Since = m.since
	return snap, from, changed
}
