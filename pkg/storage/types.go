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

import "time"

// RecordBatch carries a Kafka record batch blob plus metadata required for indexing.
type RecordBatch struct {
	BaseOffset      int64
	LastOffsetDelta int32
	MessageCount    int32
	Bytes           []byte
}

// SegmentWriterConfig controls serialization.
type SegmentWriterConfig struct {
	IndexIntervalMessages int32
}

// SegmentArtifact contains serialized segment + index bytes ready for upload.
type SegmentArtifact struct {
	BaseOffset    int64
	LastOffset    int64
	MessageCount  int32
	CreatedAt     time.Time
	SegmentBytes  []byte
	IndexBytes    []byte
	RelativeIndex []*IndexEntry
}

// IndexEntry mirrors a sparse index row.
type IndexEntry struct {
	Offset   int64
	Position int32
}

// Header is a record header.
type Header struct {
	Key   string
	Value []byte
}

// Record is one decoded Kafka record.
type Record struct {
	Offset    int64
	Timestamp int64
	Key       []byte
	Value     []byte
	Headers   []Header
	// Size is the encoded size of the record inside its batch.
	Size int
}

// BatchHeader holds the fixed fields of a v2 record batch.
type BatchHeader struct {
	BaseOffset      int64
	Length          int32
	Attributes      int16
	LastOffsetDelta int32
	FirstTimestamp  int64
	MaxTimestamp    int64
	ProducerID      int64
	ProducerEpoch   int16
	BaseSequence    int32
	RecordCount     int32
}

// LastOffset is the offset of the final record in the batch.
func (h BatchHeader) LastOffset() int64 {
	return h.BaseOffset + int64(h.LastOffsetDelta)
}

// Codec returns the compression codec of the batch.
func (h BatchHeader) Codec() Codec {
	return Codec(h.Attributes & 0x07)
}

// LogAppendTime reports whether MaxTimestamp carries the broker append time.
func (h BatchHeader) LogAppendTime() bool {
	return h.Attributes&0x08 != 0
}

type segmentRange struct {
	key        string
	baseOffset int64
	lastOffset int64
	size       int64
}
