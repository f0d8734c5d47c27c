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

package metadata

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	topicPrefix         = "/kafscale/topics"
	consumerGroupPrefix = "/kafscale/consumers"
)

// NextOffsetKey returns the etcd key holding the next offset brokers assign
// for a partition.
func NextOffsetKey(topic string, partition int32) string {
	return fmt.Sprintf("%s/%s/partitions/%d/next_offset", topicPrefix, topic, partition)
}

// TopicPartitionsPrefix returns the prefix below which a topic's partition
// state and offsets live.
func TopicPartitionsPrefix(topic string) string {
	return fmt.Sprintf("%s/%s/partitions/", topicPrefix, topic)
}

// ParsePartitionKey extracts the partition id from a key below
// TopicPartitionsPrefix. Both the partition state key and its next_offset
// child are accepted; isNextOffset reports which one matched.
func ParsePartitionKey(topic, key string) (partition int32, isNextOffset bool, ok bool) {
	rest, found := strings.CutPrefix(key, TopicPartitionsPrefix(topic))
	if !found || rest == "" {
		return 0, false, false
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
	case len(parts) == 2 && parts[1] == "next_offset":
		isNextOffset = true
	default:
		return 0, false, false
	}
	p, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil || p < 0 {
		return 0, false, false
	}
	return int32(p), isNextOffset, true
}

// ParseTopicKey extracts the topic name from any key below /kafscale/topics.
func ParseTopicKey(key string) (string, bool) {
	rest, found := strings.CutPrefix(key, topicPrefix+"/")
	if !found {
		return "", false
	}
	name, _, _ := strings.Cut(rest, "/")
	return name, name != ""
}

// ConsumerOffsetKey returns the etcd key holding the committed offset for a partition.
func ConsumerOffsetKey(groupID, topic string, partition int32) string {
	return fmt.Sprintf("%s/%s/offsets/%s/%d", consumerGroupPrefix, groupID, topic, partition)
}

// ConsumerTopicOffsetsPrefix returns the prefix holding a group's committed
// offsets for one topic.
func ConsumerTopicOffsetsPrefix(groupID, topic string) string {
	return fmt.Sprintf("%s/%s/offsets/%s/", consumerGroupPrefix, groupID, topic)
}

// ParseConsumerOffsetKey extracts group, topic, and partition from an offset key.
func ParseConsumerOffsetKey(key string) (string, string, int32, bool) {
	prefix := consumerGroupPrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", "", 0, false
	}
	trimmed := strings.TrimPrefix(key, prefix)
	parts := strings.Split(trimmed, "/")
	if len(parts) != 4 {
		return "", "", 0, false
	}
	groupID := parts[0]
	if parts[1] != "offsets" || groupID == "" || parts[2] == "" {
		return "", "", 0, false
	}
	partition, err := strconv.ParseInt(parts[3], 10, 32)
	if err != nil {
		return "", "", 0, false
	}
	return groupID, parts[2], int32(partition), true
}
