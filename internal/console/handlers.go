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

package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/novatechflow/topicview/pkg/metadata"
	"github.com/novatechflow/topicview/pkg/viewer"
	"github.com/novatechflow/topicview/pkg/window"
)

const defaultRowHeight = 32

// ErrBadRequest marks malformed client parameters.
var ErrBadRequest = errors.New("bad request")

func (s *server) handleTopics(w http.ResponseWriter, r *http.Request, _ string) {
	topics, err := s.opts.Store.Topics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, topics)
}

func (s *server) handlePartitions(w http.ResponseWriter, r *http.Request, _ string) {
	topic := r.PathValue("topic")
	consumer := r.URL.Query().Get("consumer")
	ctx, cancel := s.readContext(r)
	defer cancel()

	parts, err := s.opts.Store.Partitions(ctx, topic)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var committed map[string]int64
	if consumer != "" {
		committed, err = s.opts.Store.ConsumerOffsets(ctx, consumer, topic)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	resp := viewer.PartitionsResponse{
		Topic:      topic,
		Consumer:   consumer,
		Partitions: make([]viewer.PartitionInfo, 0, len(parts)),
	}
	for _, p := range parts {
		info := viewer.PartitionInfo{
			ID:          p.ID,
			StartOffset: window.Offset(p.StartOffset),
			EndOffset:   window.Offset(p.EndOffset),
		}
		if off, ok := committed[p.ID]; ok {
			c := window.Offset(off)
			info.CommittedOffset = &c
		}
		resp.Partitions = append(resp.Partitions, info)
	}
	writeJSON(w, resp)
}

func (s *server) handleData(w http.ResponseWriter, r *http.Request, _ string) {
	q := r.URL.Query()
	partition := q.Get("partition")
	if partition == "" {
		s.writeError(w, r, fmt.Errorf("%w: partition is required", ErrBadRequest))
		return
	}
	limit, err := s.pageLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req := window.ReadRequest{
		Topic:     r.PathValue("topic"),
		Partition: partition,
		Offset:    window.ParseOffset(q.Get("offset")),
		Limit:     limit,
	}
	if raw := q.Get("read_timestamp"); raw != "" {
		ts, err := ParseTimestamp(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.ReadTimestamp = ts
	}
	ctx, cancel := s.readContext(r)
	defer cancel()
	resp, err := s.opts.Reader.ReadPage(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, viewer.FromReadResponse(resp))
}

func (s *server) handleWindow(w http.ResponseWriter, r *http.Request, token string) {
	q := r.URL.Query()
	topic := r.PathValue("topic")
	limit, err := s.pageLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.readContext(r)
	defer cancel()

	filters := window.Filters{
		Topic:     topic,
		Partition: q.Get("partition"),
		Empty:     q.Get("empty") == "true",
	}
	filters.Anchor, err = AnchorQuery{
		Filter:    q.Get("filter"),
		Offset:    q.Get("offset"),
		Timestamp: q.Get("timestamp"),
		Consumer:  q.Get("consumer"),
	}.Anchor(ctx, s.opts.Store, topic, filters.Partition)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view := s.sessions.Get(token, q.Get("view"))
	page, err := view.Batcher.Fetch(ctx, window.PageRequest{
		TableOffset: window.ParseOffset(q.Get("table_offset")),
		Limit:       limit,
		Filters:     filters,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, viewer.FromPage(page))
}

// AnchorQuery is a window anchor as clients send it: a filter kind with its
// offset or timestamp, and optionally a consumer group whose committed offset
// anchors an OFFSET filter that carries no offset.
type AnchorQuery struct {
	Filter    string
	Offset    string
	Timestamp string
	Consumer  string
}

// Anchor resolves q for partition of topic. An OFFSET filter without offset
// or commit yields a nil anchor, which starts at the base offset.
func (q AnchorQuery) Anchor(ctx context.Context, store metadata.Store, topic, partition string) (window.Anchor, error) {
	switch strings.ToUpper(q.Filter) {
	case "", "OFFSET":
		if q.Offset != "" {
			return window.OffsetAnchor{Offset: window.ParseOffset(q.Offset)}, nil
		}
		if q.Consumer == "" || partition == "" {
			return nil, nil
		}
		committed, err := store.ConsumerOffsets(ctx, q.Consumer, topic)
		if err != nil {
			return nil, err
		}
		if off, ok := committed[partition]; ok {
			return window.OffsetAnchor{Offset: off}, nil
		}
		return nil, nil
	case "TIMESTAMP":
		if q.Timestamp == "" {
			return window.TimestampAnchor{}, nil
		}
		ts, err := ParseTimestamp(q.Timestamp)
		if err != nil {
			return nil, err
		}
		return window.TimestampAnchor{Millis: ts}, nil
	case "CONTINUATION":
		return window.ContinuationAnchor{FromOffset: window.ParseOffset(q.Offset)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", ErrBadRequest, q.Filter)
	}
}

func (s *server) handleScroll(w http.ResponseWriter, r *http.Request, token string) {
	q := r.URL.Query()
	view, ok := s.sessions.Lookup(token, q.Get("view"))
	if !ok {
		http.Error(w, "no window selected", http.StatusConflict)
		return
	}
	topic, partition, _, selected := view.Session.Selection()
	if !selected || topic != r.PathValue("topic") || (q.Get("partition") != "" && q.Get("partition") != partition) {
		http.Error(w, "partition is not the selected window", http.StatusConflict)
		return
	}
	rowHeight := defaultRowHeight
	if raw := q.Get("row_height"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: row_height must be a positive integer", ErrBadRequest))
			return
		}
		rowHeight = parsed
	}
	top := view.Session.ScrollTop(window.ParseOffset(q.Get("target")), rowHeight)
	writeJSON(w, viewer.ScrollResponse{ScrollTop: top, Row: window.ScrollTopToRow(top, rowHeight)})
}

func (s *server) pageLimit(raw string) (int, error) {
	if raw == "" {
		return s.opts.Window.DefaultPageLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest)
	}
	return min(limit, s.opts.Window.MaxPageLimit), nil
}

func (s *server) readContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.Window.ReadTimeout)
}

// ParseTimestamp accepts unix milliseconds or RFC 3339.
func ParseTimestamp(raw string) (int64, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp %q is neither unix millis nor RFC 3339", ErrBadRequest, raw)
	}
	return t.UnixMilli(), nil
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, window.ErrInvalidPartition),
		errors.Is(err, window.ErrInvalidLimit):
		status = http.StatusBadRequest
	case errors.Is(err, window.ErrUnknownTopic),
		errors.Is(err, window.ErrUnknownPartition),
		errors.Is(err, viewer.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, window.ErrStaleGeneration):
		status = http.StatusConflict
	case errors.Is(err, metadata.ErrNoConsumerState):
		status = http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("console request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	http.Error(w, err.Error(), status)
}
