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

// OffsetToScrollTop returns the pixel scroll position that brings target to
// the top of a table whose first row shows base.
func OffsetToScrollTop(target, base int64, rowHeight int) int64 {
	if rowHeight <= 0 || target <= base {
		return 0
	}
	return (target - base) * int64(rowHeight)
}

// ScrollTopToRow is the inverse of OffsetToScrollTop, returning the row index
// at the top of the viewport.
func ScrollTopToRow(scrollTop int64, rowHeight int) int64 {
	if rowHeight <= 0 || scrollTop <= 0 {
		return 0
	}
	return scrollTop / int64(rowHeight)
}
