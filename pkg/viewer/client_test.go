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

package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/novatechflow/topicview/pkg/window"
)

type fakeConsole struct {
	logins   atomic.Int32
	lastData atomic.Value
}

func (f *fakeConsole) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ui/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "admin" || body["password"] != "secret" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		f.logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		_, _ = w.Write([]byte(`{"authenticated":true}`))
	})
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/ui/api/topics", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["orders","payments"]`))
	}))
	mux.HandleFunc("/ui/api/topics/orders/partitions", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("consumer") == "billing" {
			_, _ = w.Write([]byte(`{"topic":"orders","partitions":[{"id":"0","start_offset":"0","end_offset":"9007199254740993","committed_offset":"9007199254740990"},{"id":"1","start_offset":"4","end_offset":"9"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"topic":"orders","partitions":[{"id":"0","start_offset":"0","end_offset":"9007199254740993"},{"id":"1","start_offset":"4","end_offset":"9"}]}`))
	}))
	mux.HandleFunc("/ui/api/topics/orders/data", authed(func(w http.ResponseWriter, r *http.Request) {
		f.lastData.Store(r.URL.RawQuery)
		resp := DataResponse{
			StartOffset: 4,
			EndOffset:   9,
			Messages: []MessageInfo{
				{Offset: 5, Key: []byte("k5"), Value: []byte("v5"), Headers: []HeaderInfo{{Key: "h", Value: []byte("x")}}, SeqNo: -1},
				{Offset: 7, Key: []byte("k7"), Value: []byte("v7"), SeqNo: -1},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	return mux
}

func newTestClient(t *testing.T, fake *fakeConsole, password string) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", Username: "admin", Password: password})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestClientPartitionsKeepPrecision(t *testing.T) {
	fake := &fakeConsole{}
	c := newTestClient(t, fake, "secret")
	parts, err := c.Partitions(context.Background(), "orders")
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(parts) != 2 || parts[0].EndOffset != 9007199254740993 || parts[1].StartOffset != 4 {
		t.Fatalf("unexpected partitions %+v", parts)
	}
	offsets, err := c.ConsumerOffsets(context.Background(), "billing", "orders")
	if err != nil {
		t.Fatalf("ConsumerOffsets: %v", err)
	}
	if len(offsets) != 1 || offsets["0"] != 9007199254740990 {
		t.Fatalf("unexpected committed offsets %v", offsets)
	}
	topics, err := c.Topics(context.Background())
	if err != nil || len(topics) != 2 {
		t.Fatalf("unexpected topics %v %v", topics, err)
	}
	if got := fake.logins.Load(); got != 1 {
		t.Fatalf("expected a single login, got %d", got)
	}
}

func TestClientReadPage(t *testing.T) {
	fake := &fakeConsole{}
	c := newTestClient(t, fake, "secret")
	resp, err := c.ReadPage(context.Background(), window.ReadRequest{Topic: "orders", Partition: "1", Offset: 5, Limit: 4})
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if resp.StartOffset != 4 || resp.EndOffset != 9 || len(resp.Messages) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if string(resp.Messages[0].Value) != "v5" || resp.Messages[0].Headers[0].Key != "h" {
		t.Fatalf("unexpected message %+v", resp.Messages[0])
	}
	query := fake.lastData.Load().(string)
	if !strings.Contains(query, "offset=5") || !strings.Contains(query, "limit=4") || !strings.Contains(query, "partition=1") {
		t.Fatalf("unexpected query %s", query)
	}

	if _, err := c.ReadPage(context.Background(), window.ReadRequest{Topic: "orders", Partition: "1", ReadTimestamp: 1234, Limit: 4}); err != nil {
		t.Fatalf("ReadPage by timestamp: %v", err)
	}
	query = fake.lastData.Load().(string)
	if !strings.Contains(query, "read_timestamp=1234") || strings.Contains(query, "offset=") {
		t.Fatalf("unexpected timestamp query %s", query)
	}
}

func TestClientDrivesWindowSession(t *testing.T) {
	c := newTestClient(t, &fakeConsole{}, "secret")
	s := window.NewSession(c, c, window.Config{})
	page, err := s.Fetch(context.Background(), window.PageRequest{
		Limit:   5,
		Filters: window.Filters{Topic: "orders", Partition: "1", Anchor: window.OffsetAnchor{Offset: 5}},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	// rows 5..8: 5 and 7 are real, 6 is a gap, 8 was never confirmed
	if len(page.Data) != 4 || page.Data[0].Message == nil || page.Data[1].Reason != window.ReasonGap || page.Data[3].Reason != window.ReasonUnconfirmed {
		t.Fatalf("unexpected rows %+v", page.Data)
	}
}

func TestClientErrors(t *testing.T) {
	c := newTestClient(t, &fakeConsole{}, "secret")
	if _, err := c.Partitions(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	bad := newTestClient(t, &fakeConsole{}, "wrong")
	if _, err := bad.Partitions(context.Background(), "orders"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := NewClient(ClientConfig{BaseURL: "not a url"}); err == nil {
		t.Fatalf("expected invalid url error")
	}
}

func TestWireRoundTripKeepsOffsetsAsStrings(t *testing.T) {
	page := window.Page{
		Data: []window.Row{
			{Offset: 9007199254740993, Message: &window.Message{Offset: 9007199254740993, Value: []byte("v")}},
			{Offset: 9007199254740994, Removed: true, Reason: window.ReasonGap},
		},
		Total:  2,
		Found:  2,
		Window: window.BaseWindow{BaseOffset: 9007199254740993, BaseEndOffset: 9007199254740995, Truncated: true},
	}
	raw, err := json.Marshal(FromPage(page))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"offset":"9007199254740994"`) || !strings.Contains(string(raw), `"reason":"gap"`) {
		t.Fatalf("unexpected wire form %s", raw)
	}
	var decoded WindowResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.BaseOffset.Int64() != 9007199254740993 || !decoded.Truncated || decoded.Data[0].Message.Offset.Int64() != 9007199254740993 {
		t.Fatalf("unexpected decoded page %+v", decoded)
	}
}
