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

package storage

import "testing"

func TestIndexBuilder(t *testing.T) {
	builder := NewIndexBuilder(2)
	builder.MaybeAdd(0, 32, 1)
	builder.MaybeAdd(5, 64, 1) // within interval, skipped
	builder.MaybeAdd(6, 96, 1)

	entries := builder.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries got %d", len(entries))
	}
	if entries[1].Offset != 6 {
		t.Fatalf("unexpected offset %d", entries[1].Offset)
	}

	data, err := builder.BuildBytes()
	if err != nil {
		t.Fatalf("BuildBytes: %v", err)
	}
	parsed, err := ParseIndex(data)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if len(parsed) != 2 || parsed[0].Offset != 0 || parsed[1].Position != 96 {
		t.Fatalf("parsed entries mismatch: %#v", parsed)
	}
	if _, err := ParseIndex(data[:len(data)-4]); err == nil {
		t.Fatalf("expected truncated index error")
	}
	if _, err := ParseIndex([]byte("garbage-garbage-")); err == nil {
		t.Fatalf("expected magic error")
	}
}

func TestFindIndexEntry(t *testing.T) {
	entries := []*IndexEntry{{Offset: 10, Position: 32}, {Offset: 20, Position: 100}, {Offset: 30, Position: 200}}
	cases := map[int64]int32{0: 32, 10: 32, 15: 32, 20: 100, 29: 100, 30: 200, 99: 200}
	for offset, want := range cases {
		if got := findIndexEntry(entries, offset).Position; got != want {
			t.Fatalf("offset %d: position %d, want %d", offset, got, want)
		}
	}
	if got := findIndexEntry(nil, 5).Position; got != segmentHeaderLen {
		t.Fatalf("empty index should start after the header, got %d", got)
	}
}
