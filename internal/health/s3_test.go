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

package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestS3MonitorStateTransitions(t *testing.T) {
	monitor := NewS3Monitor(Config{
		Window:      time.Second,
		LatencyWarn: time.Millisecond,
		LatencyCrit: time.Hour,
		ErrorWarn:   0.5,
		ErrorCrit:   0.8,
		MaxSamples:  64,
	})
	now := time.Unix(1_700_000_000, 0)
	monitor.now = func() time.Time { return now }

	if got := monitor.State(); got != StateHealthy {
		t.Fatalf("expected initial state healthy got %s", got)
	}

	monitor.Record("download", 2*time.Millisecond, nil)
	if got := monitor.State(); got != StateDegraded {
		t.Fatalf("expected degraded after high latency got %s", got)
	}

	for i := 0; i < 10; i++ {
		monitor.Record("list", 100*time.Microsecond, errors.New("boom"))
	}
	snap := monitor.Snapshot()
	if snap.State != StateUnavailable {
		t.Fatalf("expected unavailable after repeated errors got %s", snap.State)
	}
	if snap.Samples != 11 || snap.ErrorRate < 0.9 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.Since.Equal(now) {
		t.Fatalf("expected state change time %v, got %v", now, snap.Since)
	}

	now = now.Add(2 * time.Second)
	monitor.Record("download", 100*time.Microsecond, nil)
	if got := monitor.State(); got != StateHealthy {
		t.Fatalf("expected healthy once old samples aged out got %s", got)
	}
}

func TestS3MonitorIdleSnapshotRecovers(t *testing.T) {
	monitor := NewS3Monitor(Config{Window: time.Second})
	now := time.Unix(1_700_000_000, 0)
	monitor.now = func() time.Time { return now }
	monitor.Record("download", 0, errors.New("boom"))
	if got := monitor.State(); got != StateUnavailable {
		t.Fatalf("expected unavailable got %s", got)
	}
	now = now.Add(time.Minute)
	snap := monitor.Snapshot()
	if snap.State != StateHealthy || snap.Samples != 0 {
		t.Fatalf("expected an idle monitor to report healthy, got %+v", snap)
	}
}

func TestS3MonitorCapsSamples(t *testing.T) {
	monitor := NewS3Monitor(Config{MaxSamples: 4})
	for i := 0; i < 10; i++ {
		monitor.Record("download", time.Millisecond, nil)
	}
	if got := monitor.Snapshot().Samples; got != 4 {
		t.Fatalf("expected 4 samples kept, got %d", got)
	}
}

var errGone = errors.New("object not found")

func TestS3MonitorClassifiesErrors(t *testing.T) {
	monitor := NewS3Monitor(Config{
		Benign: func(err error) bool { return errors.Is(err, errGone) },
	})
	monitor.Record("download_segment", time.Millisecond, fmt.Errorf("segment 40: %w", errGone))
	monitor.Record("download_segment", time.Millisecond, context.Canceled)
	monitor.Record("list", time.Millisecond, nil)

	snap := monitor.Snapshot()
	if snap.State != StateHealthy || snap.ErrorRate != 0 {
		t.Fatalf("expected benign errors to keep the store healthy, got %+v", snap)
	}
	if snap.Samples != 2 {
		t.Fatalf("expected canceled reads to be dropped, got %d samples", snap.Samples)
	}
}

func TestS3MonitorPerOperation(t *testing.T) {
	monitor := NewS3Monitor(Config{})
	monitor.Record("list", 2*time.Millisecond, nil)
	monitor.Record("list", 4*time.Millisecond, nil)
	monitor.Record("download_index", 10*time.Millisecond, errors.New("throttled"))

	ops := monitor.Snapshot().Ops
	if got := ops["list"]; got.Count != 2 || got.Errors != 0 || got.AvgLatency != 3*time.Millisecond {
		t.Fatalf("unexpected list stats %+v", got)
	}
	if got := ops["download_index"]; got.Count != 1 || got.Errors != 1 {
		t.Fatalf("unexpected index stats %+v", got)
	}
}

func TestS3MonitorRingKeepsNewest(t *testing.T) {
	monitor := NewS3Monitor(Config{MaxSamples: 3, ErrorWarn: 0.5, ErrorCrit: 0.9})
	for i := 0; i < 3; i++ {
		monitor.Record("list", 0, errors.New("boom"))
	}
	if got := monitor.State(); got != StateUnavailable {
		t.Fatalf("expected unavailable got %s", got)
	}
	for i := 0; i < 3; i++ {
		monitor.Record("list", 0, nil)
	}
	snap := monitor.Snapshot()
	if snap.State != StateHealthy || snap.Samples != 3 || snap.Ops["list"].Errors != 0 {
		t.Fatalf("expected failures overwritten by newer samples, got %+v", snap)
	}
}

func TestS3MonitorReportsTransitions(t *testing.T) {
	type change struct{ from, to State }
	var changes []change
	monitor := NewS3Monitor(Config{
		Window: time.Second,
		OnChange: func(from, to State, _ Snapshot) {
			changes = append(changes, change{from, to})
		},
	})
	now := time.Unix(1_700_000_000, 0)
	monitor.now = func() time.Time { return now }

	monitor.Record("list", 0, errors.New("boom"))
	monitor.Record("list", 0, errors.New("boom"))
	now = now.Add(time.Minute)
	monitor.Snapshot()

	want := []change{{StateHealthy, StateUnavailable}, {StateUnavailable, StateHealthy}}
	if len(changes) != len(want) || changes[0] != want[0] || changes[1] != want[1] {
		t.Fatalf("unexpected transitions %+v", changes)
	}
}
