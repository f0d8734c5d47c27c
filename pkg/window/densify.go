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

// EffectiveLimit bounds limit so a page never extends past liveEnd.
func EffectiveLimit(requested int64, limit int, liveEnd int64) int {
	if limit <= 0 {
		return 0
	}
	remaining := liveEnd - requested
	if remaining <= 0 {
		return 0
	}
	if remaining < int64(limit) {
		return int(remaining)
	}
	return limit
}

// Densify turns the sparse messages of resp into one row per offset in
// [requested, requested+EffectiveLimit). Offsets without a message become
// removed placeholders so row i always maps to offset requested+i.
func Densify(resp ReadResponse, requested int64, limit int, liveEnd int64) []Row {
	n := EffectiveLimit(requested, limit, liveEnd)
	rows := make([]Row, 0, n)
	msgs := resp.Messages
	last := int64(-1)
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].Offset
	}

	cursor := 0
	for i := 0; i < n; i++ {
		offset := requested + int64(i)
		if offset < resp.StartOffset {
			rows = append(rows, placeholder(offset, ReasonExpired))
			continue
		}
		// Skip anything the backend returned below the offset we are filling.
		for cursor < len(msgs) && msgs[cursor].Offset < offset {
			cursor++
		}
		if cursor < len(msgs) && msgs[cursor].Offset == offset {
			msg := msgs[cursor]
			rows = append(rows, Row{Offset: offset, Message: &msg})
			cursor++
			continue
		}
		if offset > last {
			rows = append(rows, placeholder(offset, ReasonUnconfirmed))
			continue
		}
		rows = append(rows, placeholder(offset, ReasonGap))
	}
	return rows
}

func placeholder(offset int64, reason PlaceholderReason) Row {
	return Row{Offset: offset, Removed: true, Reason: reason}
}

// countPlaceholders tallies placeholder rows by reason.
func countPlaceholders(rows []Row) map[PlaceholderReason]int {
	counts := make(map[PlaceholderReason]int)
	for _, row := range rows {
		if row.Removed {
			counts[row.Reason]++
		}
	}
	return counts
}

// trailingUnconfirmed counts placeholder rows at the tail of rows that the
// backend never confirmed.
func trailingUnconfirmed(rows []Row) int64 {
	var n int64
	for i := len(rows) - 1; i >= 0; i-- {
		if !rows[i].Removed || rows[i].Reason != ReasonUnconfirmed {
			break
		}
		n++
	}
	return n
}
