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
	"math/rand"
	"testing"
)

func msgs(offsets ...int64) []Message {
	out := make([]Message, len(offsets))
	for i, o := range offsets {
		out[i] = Message{Offset: o}
	}
	return out
}

func TestDensifyFillsGapsAndUnconfirmedTail(t *testing.T) {
	resp := ReadResponse{StartOffset: 1000, EndOffset: 1100, Messages: msgs(1050, 1051, 1053)}
	rows := Densify(resp, 1050, 10, 1100)
	if len(rows) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Offset != 1050+int64(i) {
			t.Fatalf("row %d has offset %d", i, row.Offset)
		}
	}
	for _, i := range []int{0, 1, 3} {
		if rows[i].Removed || rows[i].Message == nil || rows[i].Message.Offset != rows[i].Offset {
			t.Fatalf("row %d should be real: %+v", i, rows[i])
		}
	}
	if !rows[2].Removed || rows[2].Reason != ReasonGap {
		t.Fatalf("row 2 should be a gap placeholder: %+v", rows[2])
	}
	for i := 4; i < 10; i++ {
		if !rows[i].Removed || rows[i].Reason != ReasonUnconfirmed || rows[i].Message != nil {
			t.Fatalf("row %d should be an unconfirmed placeholder: %+v", i, rows[i])
		}
	}
}

func TestDensifyClampsToLiveEnd(t *testing.T) {
	resp := ReadResponse{StartOffset: 1000, EndOffset: 1100}
	if got := len(Densify(resp, 1050, 300, 1100)); got != 50 {
		t.Fatalf("expected 50 rows, got %d", got)
	}
	if got := len(Densify(resp, 1100, 10, 1100)); got != 0 {
		t.Fatalf("expected no rows at end, got %d", got)
	}
	if got := len(Densify(resp, 1200, 10, 1100)); got != 0 {
		t.Fatalf("expected no rows past end, got %d", got)
	}
	if got := len(Densify(resp, 1050, 0, 1100)); got != 0 {
		t.Fatalf("expected no rows for zero limit, got %d", got)
	}
}

func TestDensifyNoRemovedMessages(t *testing.T) {
	resp := ReadResponse{StartOffset: 100, EndOffset: 120, Messages: msgs(100, 101, 102)}
	rows := Densify(resp, 100, 3, 120)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Removed {
			t.Fatalf("row %d unexpectedly removed", i)
		}
	}
}

func TestDensifyExpiredPrefix(t *testing.T) {
	resp := ReadResponse{StartOffset: 105, EndOffset: 120, Messages: msgs(105, 106, 107)}
	rows := Densify(resp, 100, 8, 120)
	if len(rows) != 8 {
		t.Fatalf("expected 8 rows, got %d", len(rows))
	}
	for i := 0; i < 5; i++ {
		if !rows[i].Removed || rows[i].Reason != ReasonExpired || rows[i].Offset != int64(100+i) {
			t.Fatalf("row %d should be expired: %+v", i, rows[i])
		}
	}
	for i := 5; i < 8; i++ {
		if rows[i].Removed {
			t.Fatalf("row %d should be real", i)
		}
	}
}

func TestDensifyAllExpiredWithinLimit(t *testing.T) {
	resp := ReadResponse{StartOffset: 150, EndOffset: 170, Messages: msgs(150, 151, 152)}
	rows := Densify(resp, 100, 20, 170)
	if len(rows) != 20 {
		t.Fatalf("expected 20 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if !row.Removed || row.Reason != ReasonExpired || row.Offset != int64(100+i) {
			t.Fatalf("row %d should be expired: %+v", i, row)
		}
	}
}

func TestDensifyMoreMessagesThanLimit(t *testing.T) {
	var offsets []int64
	for o := int64(100); o < 121; o++ {
		offsets = append(offsets, o)
	}
	resp := ReadResponse{StartOffset: 100, EndOffset: 130, Messages: msgs(offsets...)}
	rows := Densify(resp, 100, 20, 130)
	if len(rows) != 20 {
		t.Fatalf("expected 20 rows, got %d", len(rows))
	}
	if rows[19].Offset != 119 || rows[19].Removed {
		t.Fatalf("unexpected last row %+v", rows[19])
	}
}

func TestDensifyEmptyPartition(t *testing.T) {
	rows := Densify(ReadResponse{StartOffset: 100, EndOffset: 100}, 100, 20, 100)
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestDensifyIgnoresMessagesBelowRequested(t *testing.T) {
	resp := ReadResponse{StartOffset: 0, EndOffset: 20, Messages: msgs(3, 4, 5, 6)}
	rows := Densify(resp, 5, 3, 20)
	if rows[0].Removed || rows[0].Message.Offset != 5 || rows[1].Message.Offset != 6 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if !rows[2].Removed || rows[2].Reason != ReasonUnconfirmed {
		t.Fatalf("expected unconfirmed tail, got %+v", rows[2])
	}
}

func TestDensifyProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		start := rng.Int63n(1000)
		end := start + rng.Int63n(500)
		requested := start - 50 + rng.Int63n(end-start+100)
		limit := rng.Intn(120)

		var present []int64
		for o := max(requested, start); o < end && o < requested+int64(limit); o++ {
			if rng.Intn(4) != 0 {
				present = append(present, o)
			}
		}
		resp := ReadResponse{StartOffset: start, EndOffset: end, Messages: msgs(present...)}
		rows := Densify(resp, requested, limit, end)

		want := EffectiveLimit(requested, limit, end)
		if len(rows) != want {
			t.Fatalf("iter %d: expected %d rows, got %d", iter, want, len(rows))
		}
		isPresent := make(map[int64]bool, len(present))
		for _, o := range present {
			isPresent[o] = true
		}
		for i, row := range rows {
			if row.Offset != requested+int64(i) {
				t.Fatalf("iter %d: row %d has offset %d", iter, i, row.Offset)
			}
			if row.Removed == isPresent[row.Offset] {
				t.Fatalf("iter %d: row %d removed=%v but present=%v", iter, i, row.Removed, isPresent[row.Offset])
			}
			if row.Offset < start && row.Reason != ReasonExpired {
				t.Fatalf("iter %d: row %d below start not expired", iter, i)
			}
		}
	}
}
