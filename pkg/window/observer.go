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

import "time"

// FetchEvent describes one completed Session.Fetch.
type FetchEvent struct {
	Topic        string
	Partition    string
	Anchor       AnchorKind
	Duration     time.Duration
	Rows         int
	Placeholders map[PlaceholderReason]int
	Stale        bool
	Err          error
}

// Observer receives fetch events, typically to feed metrics.
type Observer interface {
	ObserveFetch(FetchEvent)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(FetchEvent) {}
