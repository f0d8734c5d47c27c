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

package console

import (
	"context"
	"sync"
	"time"

	"github.com/novatechflow/topicview/internal/metrics"
	"github.com/novatechflow/topicview/pkg/window"
)

// View is the windowing state of one table of one client.
type View struct {
	Session *window.Session
	Batcher *window.Batcher

	lastUsed time.Time
}

type viewKey struct {
	owner string
	name  string
}

// SessionRegistry owns the window sessions of all clients and drops the ones
// idle for longer than its ttl. A client is identified by an owner token and
// may keep several named views.
type SessionRegistry struct {
	reader     window.PageReader
	store      window.PartitionStore
	cfg        window.Config
	batchDelay time.Duration
	ttl        time.Duration
	now        func() time.Time

	mu    sync.Mutex
	views map[viewKey]*View
}

// NewSessionRegistry builds sessions over reader and store. A zero ttl keeps
// views until they are dropped.
func NewSessionRegistry(reader window.PageReader, store window.PartitionStore, cfg window.Config, batchDelay, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		reader:     reader,
		store:      store,
		cfg:        cfg,
		batchDelay: batchDelay,
		ttl:        ttl,
		now:        time.Now,
		views:      make(map[viewKey]*View),
	}
}

// Get returns the view of owner called name, creating it on first use.
func (r *SessionRegistry) Get(owner, name string) *View {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)
	key := viewKey{owner: owner, name: name}
	v, ok := r.views[key]
	if !ok {
		session := window.NewSession(r.reader, r.store, r.cfg)
		v = &View{Session: session, Batcher: window.NewBatcher(session, r.batchDelay)}
		r.views[key] = v
		metrics.ActiveSessions.Set(float64(len(r.views)))
	}
	v.lastUsed = now
	return v
}

// Lookup returns an existing view without creating one.
func (r *SessionRegistry) Lookup(owner, name string) (*View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[viewKey{owner: owner, name: name}]
	if ok {
		v.lastUsed = r.now()
	}
	return v, ok
}

// Drop removes every view of owner.
func (r *SessionRegistry) Drop(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.views {
		if key.owner == owner {
			delete(r.views, key)
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.views)))
}

// Sweep removes idle views and reports how many went.
func (r *SessionRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

func (r *SessionRegistry) sweepLocked(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	removed := 0
	for key, v := range r.views {
		if now.Sub(v.lastUsed) > r.ttl {
			delete(r.views, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.ActiveSessions.Set(float64(len(r.views)))
	}
	return removed
}

// Size is the number of live views.
func (r *SessionRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Run sweeps idle views every interval until ctx ends. A non-positive
// interval sweeps at half the ttl.
func (r *SessionRegistry) Run(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = r.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
