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

// Package window maps the rows of a virtualized table onto the offsets of a
// partition log that may have lost messages to retention or compaction.
//
// A Session owns the selected partition, the anchor the user picked and the
// drift state that keeps row N pointing at the same real offset while the
// table scrolls. Backends plug in through PageReader and PartitionStore.
package window

import (
	"context"
)

// Partition is the live offset range [StartOffset, EndOffset) of one
// partition. EndOffset is the next offset to be written.
type Partition struct {
	ID          string
	StartOffset int64
	EndOffset   int64
}

// Header is a single record header.
type Header struct {
	Key   string
	Value []byte
}

// Message is a record returned by a backend read.
type Message struct {
	Offset          int64
	CreateTimestamp int64
	WriteTimestamp  int64
	Key             []byte
	Value           []byte
	Headers         []Header
	StorageSize     int
	OriginalSize    int
	Codec           int
	ProducerID      string
	SeqNo           int64
}

// ReadRequest asks a backend for up to Limit messages of one partition. When
// ReadTimestamp (unix millis) is non-zero the read starts at the first message
// written at or after it and Offset is ignored.
type ReadRequest struct {
	Topic         string
	Partition     string
	Offset        int64
	ReadTimestamp int64
	Limit         int
}

// ReadResponse carries the messages found in ascending offset order together
// with the partition's live bounds at read time.
type ReadResponse struct {
	StartOffset int64
	EndOffset   int64
	Messages    []Message
	Truncated   bool
}

// PageReader reads raw messages from a partition.
type PageReader interface {
	ReadPage(ctx context.Context, req ReadRequest) (*ReadResponse, error)
}

// PartitionStore lists the partitions of a topic with their live bounds.
type PartitionStore interface {
	Partitions(ctx context.Context, topic string) ([]Partition, error)
}

// PartitionSet is a snapshot of a topic's partitions.
type PartitionSet []Partition

// Find returns the partition with the given id.
func (s PartitionSet) Find(id string) (Partition, bool) {
	for _, p := range s {
		if p.ID == id {
			return p, true
		}
	}
	return Partition{}, false
}

// PlaceholderReason explains why a row has no message.
type PlaceholderReason string

const (
	// ReasonExpired marks offsets below the partition's live start.
	ReasonExpired PlaceholderReason = "expired"
	// ReasonGap marks offsets missing between two returned messages.
	ReasonGap PlaceholderReason = "gap"
	// ReasonUnconfirmed marks offsets past the last message the backend returned.
	ReasonUnconfirmed PlaceholderReason = "unconfirmed"
)

// Row is one dense table row. Exactly one of Message and Removed is set.
type Row struct {
	Offset  int64
	Removed bool
	Reason  PlaceholderReason
	Message *Message
}

// Filters select what a page request reads. A request without a partition,
// or with Empty set, yields an empty page without touching the backend.
type Filters struct {
	Topic     string
	Partition string
	Empty     bool
	Anchor    Anchor
}

// PageRequest is issued by the table for rows [TableOffset, TableOffset+Limit).
type PageRequest struct {
	TableOffset int64
	Limit       int
	Filters     Filters
}

// Page is the answer to a PageRequest. Total and Found are the size of the
// base window, not the number of real messages in Data.
type Page struct {
	Data        []Row
	Total       int64
	Found       int64
	StartOffset int64
	EndOffset   int64
	Requested   int64
	Window      BaseWindow
	Generation  uint64
}
