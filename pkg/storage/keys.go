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
	"fmt"
	"path"
	"strconv"
	"strings"
)

const defaultNamespace = "default"

func topicPrefix(namespace, topic string) string {
	return path.Join(namespace, topic) + "/"
}

func partitionPrefix(namespace, topic string, partition int32) string {
	return path.Join(namespace, topic, strconv.Itoa(int(partition))) + "/"
}

func segmentKey(namespace, topic string, partition int32, baseOffset int64) string {
	return path.Join(namespace, topic, strconv.Itoa(int(partition)), fmt.Sprintf("segment-%020d.kfs", baseOffset))
}

func indexKeyFor(segment string) string {
	return strings.TrimSuffix(segment, ".kfs") + ".index"
}

func parseSegmentBaseOffset(key string) (int64, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, "segment-") || !strings.HasSuffix(name, ".kfs") {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, "segment-"), ".kfs")
	if raw == "" {
		return 0, false
	}
	base, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return base, true
}

// splitSegmentKey extracts topic and partition from a key below namespace.
func splitSegmentKey(namespace, key string) (topic string, partition int32, ok bool) {
	rel := strings.TrimPrefix(key, strings.TrimSuffix(namespace, "/")+"/")
	parts := strings.Split(rel, "/")
	if len(parts) != 3 {
		return "", 0, false
	}
	if _, ok := parseSegmentBaseOffset(parts[2]); !ok {
		return "", 0, false
	}
	p, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil || p < 0 {
		return "", 0, false
	}
	return parts[0], int32(p), true
}
