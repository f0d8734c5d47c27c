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

package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/novatechflow/topicview/internal/console"
	"github.com/novatechflow/topicview/pkg/metadata"
	"github.com/novatechflow/topicview/pkg/window"
)

const (
	toolListTopics        = "list_topics"
	toolListPartitions    = "list_partitions"
	toolReadTopicPage     = "read_topic_page"
	toolBrowseTopicWindow = "browse_topic_window"
	toolBrokerMetrics     = "broker_metrics"
)

type emptyInput struct{}

type PartitionsInput struct {
	Topic    string `json:"topic" jsonschema:"Topic name"`
	Consumer string `json:"consumer,omitempty" jsonschema:"Optional consumer group whose committed offsets are included"`
}

type ReadPageInput struct {
	Topic         string `json:"topic" jsonschema:"Topic name"`
	Partition     string `json:"partition" jsonschema:"Partition id"`
	Offset        string `json:"offset,omitempty" jsonschema:"First offset to read, as a decimal string"`
	ReadTimestamp string `json:"read_timestamp,omitempty" jsonschema:"Read from the first record at or after this time (unix millis or RFC 3339); overrides offset"`
	Limit         int    `json:"limit,omitempty" jsonschema:"Maximum number of offsets to cover"`
}

type BrowseWindowInput struct {
	Topic       string `json:"topic" jsonschema:"Topic name"`
	Partition   string `json:"partition" jsonschema:"Partition id"`
	Filter      string `json:"filter,omitempty" jsonschema:"OFFSET (default), TIMESTAMP or CONTINUATION"`
	Offset      string `json:"offset,omitempty" jsonschema:"Anchor offset for OFFSET and CONTINUATION filters"`
	Timestamp   string `json:"timestamp,omitempty" jsonschema:"Anchor time for the TIMESTAMP filter (unix millis or RFC 3339)"`
	Consumer    string `json:"consumer,omitempty" jsonschema:"Anchor an OFFSET filter without offset at this group's committed offset"`
	TableOffset int64  `json:"table_offset,omitempty" jsonschema:"Row index of the first row to return"`
	Limit       int    `json:"limit,omitempty" jsonschema:"Number of rows to return"`
	View        string `json:"view,omitempty" jsonschema:"Name of the window to continue; separate names keep separate scroll state"`
}

type TopicList struct {
	Topics []string `json:"topics"`
}

type PartitionOutput struct {
	ID              string `json:"id"`
	StartOffset     string `json:"start_offset"`
	EndOffset       string `json:"end_offset"`
	CommittedOffset string `json:"committed_offset,omitempty"`
}

type PartitionList struct {
	Topic      string            `json:"topic"`
	Consumer   string            `json:"consumer,omitempty"`
	Partitions []PartitionOutput `json:"partitions"`
}

type HeaderOutput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MessageOutput carries key, value and header values as text when they are
// all valid UTF-8 and base64 otherwise, as named by Encoding.
type MessageOutput struct {
	Offset      string         `json:"offset"`
	Timestamp   string         `json:"timestamp"`
	Key         string         `json:"key,omitempty"`
	Value       string         `json:"value"`
	Encoding    string         `json:"encoding"`
	Headers     []HeaderOutput `json:"headers,omitempty"`
	StorageSize int            `json:"storage_size"`
	ProducerID  string         `json:"producer_id,omitempty"`
}

type PageOutput struct {
	StartOffset string          `json:"start_offset"`
	EndOffset   string          `json:"end_offset"`
	Messages    []MessageOutput `json:"messages"`
	Truncated   bool            `json:"truncated"`
}

type RowOutput struct {
	Offset  string         `json:"offset"`
	Removed bool           `json:"removed,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Message *MessageOutput `json:"message,omitempty"`
}

type WindowOutput struct {
	Rows            []RowOutput `json:"rows"`
	Total           int64       `json:"total"`
	BaseOffset      string      `json:"base_offset"`
	StartOffset     string      `json:"start_offset"`
	EndOffset       string      `json:"end_offset"`
	Truncated       bool        `json:"truncated"`
	Generation      uint64      `json:"generation"`
	NextTableOffset int64       `json:"next_table_offset,omitempty"`
}

type BrokerMetricsOutput struct {
	S3State     string  `json:"s3_state"`
	S3LatencyMS int     `json:"s3_latency_ms"`
	S3ErrorRate float64 `json:"s3_error_rate"`
	ProduceRPS  float64 `json:"produce_rps"`
	FetchRPS    float64 `json:"fetch_rps"`
	ObservedAt  string  `json:"observed_at"`
}

type tools struct {
	opts     Options
	sessions *console.SessionRegistry
}

func (t *tools) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolListTopics,
		Description: "List the topics that can be browsed",
	}, t.listTopics)

	mcp.AddTool(server, &mcp.Tool{
		Name:        toolListPartitions,
		Description: "List a topic's partitions with their live offset range and optional consumer commits",
	}, t.listPartitions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        toolReadTopicPage,
		Description: "Read raw records of one partition starting at an offset or timestamp",
	}, t.readTopicPage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        toolBrowseTopicWindow,
		Description: "Read dense table rows of a partition window; missing offsets come back as removed rows with a reason",
	}, t.browseTopicWindow)

	if t.opts.Metrics != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        toolBrokerMetrics,
			Description: "Return the S3 health and broker throughput snapshot",
		}, t.brokerMetrics)
	}
}

func (t *tools) listTopics(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, TopicList, error) {
	store, err := requireStore(t.opts.Store)
	if err != nil {
		return nil, TopicList{}, err
	}
	topics, err := store.Topics(ctx)
	if err != nil {
		return nil, TopicList{}, err
	}
	if topics == nil {
		topics = []string{}
	}
	return nil, TopicList{Topics: topics}, nil
}

func (t *tools) listPartitions(ctx context.Context, _ *mcp.CallToolRequest, input PartitionsInput) (*mcp.CallToolResult, PartitionList, error) {
	if input.Topic == "" {
		return nil, PartitionList{}, errors.New("topic is required")
	}
	store, err := requireStore(t.opts.Store)
	if err != nil {
		return nil, PartitionList{}, err
	}
	parts, err := store.Partitions(ctx, input.Topic)
	if err != nil {
		return nil, PartitionList{}, err
	}
	var committed map[string]int64
	if input.Consumer != "" {
		committed, err = store.ConsumerOffsets(ctx, input.Consumer, input.Topic)
		if err != nil {
			return nil, PartitionList{}, err
		}
	}
	out := PartitionList{Topic: input.Topic, Consumer: input.Consumer, Partitions: make([]PartitionOutput, 0, len(parts))}
	for _, p := range parts {
		item := PartitionOutput{ID: p.ID, StartOffset: formatOffset(p.StartOffset), EndOffset: formatOffset(p.EndOffset)}
		if off, ok := committed[p.ID]; ok {
			item.CommittedOffset = formatOffset(off)
		}
		out.Partitions = append(out.Partitions, item)
	}
	return nil, out, nil
}

func (t *tools) readTopicPage(ctx context.Context, _ *mcp.CallToolRequest, input ReadPageInput) (*mcp.CallToolResult, PageOutput, error) {
	if input.Topic == "" || input.Partition == "" {
		return nil, PageOutput{}, errors.New("topic and partition are required")
	}
	if t.opts.Reader == nil {
		return nil, PageOutput{}, errors.New("page reader not configured")
	}
	req := window.ReadRequest{
		Topic:     input.Topic,
		Partition: input.Partition,
		Offset:    window.ParseOffset(input.Offset),
		Limit:     t.pageLimit(input.Limit),
	}
	if input.ReadTimestamp != "" {
		ts, err := console.ParseTimestamp(input.ReadTimestamp)
		if err != nil {
			return nil, PageOutput{}, err
		}
		req.ReadTimestamp = ts
	}
	resp, err := t.opts.Reader.ReadPage(ctx, req)
	if err != nil {
		return nil, PageOutput{}, err
	}
	out := PageOutput{
		StartOffset: formatOffset(resp.StartOffset),
		EndOffset:   formatOffset(resp.EndOffset),
		Messages:    make([]MessageOutput, 0, len(resp.Messages)),
		Truncated:   resp.Truncated,
	}
	for _, m := range resp.Messages {
		out.Messages = append(out.Messages, toMessageOutput(m))
	}
	return nil, out, nil
}

func (t *tools) browseTopicWindow(ctx context.Context, req *mcp.CallToolRequest, input BrowseWindowInput) (*mcp.CallToolResult, WindowOutput, error) {
	if input.Topic == "" || input.Partition == "" {
		return nil, WindowOutput{}, errors.New("topic and partition are required")
	}
	if t.sessions == nil {
		return nil, WindowOutput{}, errors.New("window browsing requires a store and a page reader")
	}
	anchor, err := console.AnchorQuery{
		Filter:    input.Filter,
		Offset:    input.Offset,
		Timestamp: input.Timestamp,
		Consumer:  input.Consumer,
	}.Anchor(ctx, t.opts.Store, input.Topic, input.Partition)
	if err != nil {
		return nil, WindowOutput{}, err
	}
	limit := t.pageLimit(input.Limit)
	view := t.sessions.Get(sessionOwner(req), input.View)
	page, err := view.Session.Fetch(ctx, window.PageRequest{
		TableOffset: input.TableOffset,
		Limit:       limit,
		Filters:     window.Filters{Topic: input.Topic, Partition: input.Partition, Anchor: anchor},
	})
	if err != nil {
		return nil, WindowOutput{}, err
	}
	out := WindowOutput{
		Rows:        make([]RowOutput, 0, len(page.Data)),
		Total:       page.Total,
		BaseOffset:  formatOffset(page.Window.BaseOffset),
		StartOffset: formatOffset(page.StartOffset),
		EndOffset:   formatOffset(page.EndOffset),
		Truncated:   page.Window.Truncated,
		Generation:  page.Generation,
	}
	for _, row := range page.Data {
		item := RowOutput{Offset: formatOffset(row.Offset), Removed: row.Removed, Reason: string(row.Reason)}
		if row.Message != nil {
			m := toMessageOutput(*row.Message)
			item.Message = &m
		}
		out.Rows = append(out.Rows, item)
	}
	if n := len(page.Data); n == limit && page.Data[n-1].Offset+1 < page.Window.BaseEndOffset {
		out.NextTableOffset = input.TableOffset + int64(n)
	}
	return nil, out, nil
}

func (t *tools) brokerMetrics(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, BrokerMetricsOutput, error) {
	snap, err := t.opts.Metrics.Snapshot(ctx)
	if err != nil {
		return nil, BrokerMetricsOutput{}, err
	}
	if snap == nil {
		return nil, BrokerMetricsOutput{}, errors.New("metrics snapshot unavailable")
	}
	return nil, BrokerMetricsOutput{
		S3State:     snap.S3State,
		S3LatencyMS: snap.S3LatencyMS,
		S3ErrorRate: snap.S3ErrorRate,
		ProduceRPS:  snap.ProduceRPS,
		FetchRPS:    snap.FetchRPS,
		ObservedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (t *tools) pageLimit(limit int) int {
	if limit <= 0 {
		return t.opts.Window.DefaultPageLimit
	}
	return min(limit, t.opts.Window.MaxPageLimit)
}

func requireStore(store metadata.Store) (metadata.Store, error) {
	if store == nil {
		return nil, errors.New("metadata store not configured")
	}
	return store, nil
}

// sessionOwner keys window state by MCP session so clients never share
// scroll positions.
func sessionOwner(req *mcp.CallToolRequest) string {
	if req == nil || req.Session == nil {
		return ""
	}
	return req.Session.ID()
}

func formatOffset(offset int64) string {
	return strconv.FormatInt(offset, 10)
}

func toMessageOutput(m window.Message) MessageOutput {
	out := MessageOutput{
		Offset:      formatOffset(m.Offset),
		Timestamp:   time.UnixMilli(m.CreateTimestamp).UTC().Format(time.RFC3339Nano),
		StorageSize: m.StorageSize,
		ProducerID:  m.ProducerID,
		Encoding:    "utf8",
	}
	text := utf8.Valid(m.Key) && utf8.Valid(m.Value)
	for _, h := range m.Headers {
		text = text && utf8.Valid(h.Value)
	}
	encode := func(b []byte) string { return string(b) }
	if !text {
		out.Encoding = "base64"
		encode = base64.StdEncoding.EncodeToString
	}
	out.Key = encode(m.Key)
	out.Value = encode(m.Value)
	for _, h := range m.Headers {
		out.Headers = append(out.Headers, HeaderOutput{Key: h.Key, Value: encode(h.Value)})
	}
	return out
}
