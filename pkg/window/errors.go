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

import "errors"

var (
	// ErrStaleGeneration is returned for a fetch whose anchor was replaced
	// while the read was in flight. Its rows must be dropped.
	ErrStaleGeneration = errors.New("stale anchor generation")
	// ErrUnknownPartition is returned when the selected partition is not
	// listed by the partition store.
	ErrUnknownPartition = errors.New("unknown partition")
	// ErrUnknownTopic is returned by backends for topics they hold no data for.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrInvalidPartition is returned for partition ids that are not numeric.
	ErrInvalidPartition = errors.New("invalid partition")
	// ErrInvalidLimit is returned for page requests with a non-positive limit.
	ErrInvalidLimit = errors.New("page limit must be positive")
)
