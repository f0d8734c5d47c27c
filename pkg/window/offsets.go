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
	"strconv"
	"strings"
)

// ParseOffset parses a decimal offset. Anything malformed yields 0.
func ParseOffset(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Offset is an int64 that travels as a decimal string in JSON so it never
// passes through a float. Numbers are accepted on input as well.
type Offset int64

func (o Offset) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatInt(int64(o), 10) + `"`), nil
}

func (o *Offset) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*o = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	*o = Offset(ParseOffset(s))
	return nil
}

// Int64 returns o as an int64.
func (o Offset) Int64() int64 { return int64(o) }
