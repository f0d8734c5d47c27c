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

// WindowLimit caps how many offsets below the end of a partition the table
// materializes.
const WindowLimit int64 = 50000

// BaseWindow is the offset range [BaseOffset, BaseEndOffset) backing the
// table. Truncated is set when older messages exist below BaseOffset.
type BaseWindow struct {
	BaseOffset    int64
	BaseEndOffset int64
	Truncated     bool
}

// Size is the number of virtual rows in the window.
func (w BaseWindow) Size() int64 {
	return w.BaseEndOffset - w.BaseOffset
}

// Resolve computes the base window of p with the default WindowLimit. It
// reports false when p is nil, in which case no table should be shown.
func Resolve(p *Partition) (BaseWindow, bool) {
	return ResolveWithLimit(p, WindowLimit)
}

// ResolveWithLimit is Resolve with a custom window size. A non-positive limit
// falls back to WindowLimit.
func ResolveWithLimit(p *Partition, limit int64) (BaseWindow, bool) {
	if p == nil {
		return BaseWindow{}, false
	}
	if limit <= 0 {
		limit = WindowLimit
	}
	start, end := p.StartOffset, p.EndOffset
	if end < start {
		end = start
	}
	base := max(end-limit, start)
	return BaseWindow{
		BaseOffset:    base,
		BaseEndOffset: end,
		Truncated:     base != start,
	}, true
}
