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

import (
	"encoding/binary"
	"fmt"
)

const (
	indexMagic     = "IDX\x00"
	indexHeaderLen = 16
	indexEntryLen  = 12
)

// IndexBuilder tracks offsets and file positions for sparse indexing.
type IndexBuilder struct {
	interval  int32
	sinceLast int32
	entries   []*IndexEntry
}

// NewIndexBuilder creates a builder that emits an entry every interval messages.
func NewIndexBuilder(interval int32) *IndexBuilder {
	if interval <= 0 {
		interval = 1
	}
	return &IndexBuilder{interval: interval}
}

// MaybeAdd records an index entry when the interval has elapsed or no entry exists yet.
func (b *IndexBuilder) MaybeAdd(offset int64, position int32, batchMessages int32) {
	if len(b.entries) == 0 || b.sinceLast >= b.interval {
		b.entries = append(b.entries, &IndexEntry{Offset: offset, Position: position})
		b.sinceLast = 0
	}
	b.sinceLast += batchMessages
}

// Entries returns the recorded index entries.
func (b *IndexBuilder) Entries() []*IndexEntry {
	out := make([]*IndexEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// BuildBytes encodes the index header and entries.
func (b *IndexBuilder) BuildBytes() ([]byte, error) {
	buf := make([]byte, indexHeaderLen, indexHeaderLen+len(b.entries)*indexEntryLen)
	copy(buf[0:4], indexMagic)
	binary.BigEndian.PutUint16(buf[4:6], 1)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(b.entries)))
	binary.BigEndian.PutUint32(buf[10:14], uint32(b.interval))
	for _, entry := range b.entries {
		buf = binary.BigEndian.AppendUint64(buf, uint64(entry.Offset))
		buf = binary.BigEndian.AppendUint32(buf, uint32(entry.Position))
	}
	return buf, nil
}

// ParseIndex validates and returns entries from serialized bytes.
func ParseIndex(data []byte) ([]*IndexEntry, error) {
	if len(data) < indexHeaderLen {
		return nil, fmt.Errorf("index too small")
	}
	if string(data[:4]) != indexMagic {
		return nil, fmt.Errorf("invalid index magic")
	}
	if version := binary.BigEndian.Uint16(data[4:6]); version != 1 {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}
	count := int(int32(binary.BigEndian.Uint32(data[6:10])))
	if count < 0 || indexHeaderLen+count*indexEntryLen > len(data) {
		return nil, fmt.Errorf("index truncated: %d entries in %d bytes", count, len(data))
	}
	entries := make([]*IndexEntry, count)
	pos := indexHeaderLen
	for i := range entries {
		entries[i] = &IndexEntry{
			Offset:   int64(binary.BigEndian.Uint64(data[pos : pos+8])),
			Position: int32(binary.BigEndian.Uint32(data[pos+8 : pos+12])),
		}
		pos += indexEntryLen
	}
	return entries, nil
}

// findIndexEntry returns the last entry at or below offset, or the first
// entry when offset precedes them all.
func findIndexEntry(entries []*IndexEntry, offset int64) *IndexEntry {
	if len(entries) == 0 {
		return &IndexEntry{Position: segmentHeaderLen}
	}
	lo, hi := 0, len(entries)-1
	if offset <= entries[0].Offset {
		return entries[0]
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if entries[mid].Offset <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return entries[lo]
}
