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

// DriftState keeps the virtual row to real offset mapping of one anchor
// generation stable.
//
// The mapping is: row i shows offset origin+i, where origin is fixed once per
// generation. Expired or missing offsets become placeholders in place, so
// retention never shifts rows that were already shown. LostOffsets only
// carries the alignment of a timestamp anchor: when the first timestamp read
// happened at table offset t0 and returned its first message at R, then
// FromOffset = R and LostOffsets = -t0, so row t0 keeps showing R.
type DriftState struct {
	LostOffsets int64
	FromOffset  int64
	// Resolved is set once FromOffset was captured for a timestamp anchor.
	Resolved bool
	// Unconfirmed is the number of tail rows of the latest page that the
	// backend did not confirm. It never feeds back into the mapping.
	Unconfirmed int64
}

// Reset clears the state for a new anchor generation.
func (d *DriftState) Reset() {
	*d = DriftState{}
}

// RequestedOffset returns the real offset of tableOffset under anchor. It
// reports byTimestamp when the read must be issued by timestamp because the
// anchor has not been resolved to an offset yet.
func (d DriftState) RequestedOffset(anchor Anchor, w BaseWindow, tableOffset int64) (offset int64, byTimestamp bool) {
	switch a := anchor.(type) {
	case OffsetAnchor:
		return max(a.Offset, w.BaseOffset) + tableOffset + d.LostOffsets, false
	case TimestampAnchor:
		if d.Resolved {
			return d.FromOffset + tableOffset + d.LostOffsets, false
		}
		if a.Millis != 0 {
			return 0, true
		}
	case ContinuationAnchor:
		return a.FromOffset + tableOffset + d.LostOffsets, false
	}
	return w.BaseOffset + tableOffset + d.LostOffsets, false
}

// resolveTimestamp captures the origin of a timestamp anchor from the first
// timestamp read, issued for tableOffset. nominal is used when the read
// returned nothing.
func (d *DriftState) resolveTimestamp(resp *ReadResponse, tableOffset, nominal int64) int64 {
	from := nominal
	if resp != nil && len(resp.Messages) > 0 {
		from = resp.Messages[0].Offset
	}
	d.FromOffset = from
	d.LostOffsets = -tableOffset
	d.Resolved = true
	return from
}

// observe records what the latest page confirmed.
func (d *DriftState) observe(rows []Row) {
	d.Unconfirmed = trailingUnconfirmed(rows)
}
