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

import "testing"

func TestParsePartitionKey(t *testing.T) {
	cases := []struct {
		key       string
		partition int32
		next      bool
		ok        bool
	}{
		{key: "/kafscale/topics/orders/partitions/3", partition: 3, ok: true},
		{key: NextOffsetKey("orders", 7), partition: 7, next: true, ok: true},
		{key: "/kafscale/topics/orders/partitions/x"},
		{key: "/kafscale/topics/orders/partitions/1/leader"},
		{key: "/kafscale/topics/payments/partitions/1"},
		{key: "/kafscale/topics/orders/partitions/"},
	}
	for _, tc := range cases {
		p, next, ok := ParsePartitionKey("orders", tc.key)
		if ok != tc.ok || p != tc.partition || next != tc.next {
			t.Fatalf("%s: got (%d, %v, %v)", tc.key, p, next, ok)
		}
	}
}

func TestParseTopicKey(t *testing.T) {
	if name, ok := ParseTopicKey("/kafscale/topics/orders/config"); !ok || name != "orders" {
		t.Fatalf("unexpected topic %q %v", name, ok)
	}
	if _, ok := ParseTopicKey("/kafscale/consumers/g/metadata"); ok {
		t.Fatalf("expected non-topic key to be rejected")
	}
}

func TestConsumerOffsetKeyRoundTrip(t *testing.T) {
	key := ConsumerOffsetKey("group-a", "orders", 4)
	group, topic, partition, ok := ParseConsumerOffsetKey(key)
	if !ok || group != "group-a" || topic != "orders" || partition != 4 {
		t.Fatalf("unexpected parse of %s: %s %s %d %v", key, group, topic, partition, ok)
	}
	if _, _, _, ok := ParseConsumerOffsetKey("/kafscale/consumers/group-a/metadata"); ok {
		t.Fatalf("expected metadata key to be rejected")
	}
	if got := ConsumerTopicOffsetsPrefix("group-a", "orders"); got+"4" != key {
		t.Fatalf("prefix %s does not match key %s", got, key)
	}
}
