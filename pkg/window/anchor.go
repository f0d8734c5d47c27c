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
	"time"
)

// AnchorKind names the variant of an Anchor.
type AnchorKind string

const (
	KindOffset       AnchorKind = "offset"
	KindTimestamp    AnchorKind = "timestamp"
	KindContinuation AnchorKind = "continuation"
)

// Anchor fixes which real offset the first table row maps to. It is one of
// OffsetAnchor, TimestampAnchor or ContinuationAnchor. All variants are
// comparable so two anchors can be checked with ==.
type Anchor interface {
	Kind() AnchorKind
}

// OffsetAnchor starts the table at an explicit offset, clamped to the base
// window.
type OffsetAnchor struct {
	Offset int64
}

func (OffsetAnchor) Kind() AnchorKind { return KindOffset }

// TimestampAnchor starts the table at the first message written at or after
// Millis. The resulting offset is only known after the first read. A zero
// Millis carries no time: it continues the timestamp anchor already selected
// on the partition, or starts at the base offset when there is none.
type TimestampAnchor struct {
	Millis int64
}

func (TimestampAnchor) Kind() AnchorKind { return KindTimestamp }

// AtTime builds a TimestampAnchor from t. The zero time yields a zero anchor.
func AtTime(t time.Time) TimestampAnchor {
	if t.IsZero() {
		return TimestampAnchor{}
	}
	return TimestampAnchor{Millis: t.UnixMilli()}
}

// Time returns the anchor instant.
func (a TimestampAnchor) Time() time.Time {
	return time.UnixMilli(a.Millis)
}

// ContinuationAnchor continues a scroll whose origin was already resolved to
// a real offset.
type ContinuationAnchor struct {
	FromOffset int64
}

func (ContinuationAnchor) Kind() AnchorKind { return KindContinuation }

// KindOf reports the kind of a, treating nil as an offset anchor.
func KindOf(a Anchor) AnchorKind {
	if a == nil {
		return KindOffset
	}
	return a.Kind()
}

// continues reports whether next only keeps scrolling under current instead
// of anchoring anew: a timestamp anchor without a time following any
// timestamp anchor.
func continues(current, next Anchor) bool {
	n, ok := next.(TimestampAnchor)
	if !ok || n.Millis != 0 {
		return false
	}
	_, ok = current.(TimestampAnchor)
	return ok
}
