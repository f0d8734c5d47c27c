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

// Package viewer holds the JSON shapes of the console topic API and a client
// that reads pages through it.
package viewer

import (
	"github.com/novatechflow/topicview/pkg/window"
)

// PartitionInfo is one partition in a partitions listing.
type PartitionInfo struct {
	ID              string         `json:"id"`
	StartOffset     window.Offset  `json:"start_offset"`
	EndOffset       window.Offset  `json:"end_offset"`
	CommittedOffset *window.Offset `json:"committed_offset,omitempty"`
}

// PartitionsResponse lists a topic's partitions.
type PartitionsResponse struct {
	Topic      string          `json:"topic"`
	Consumer   string          `json:"consumer,omitempty"`
	Partitions []PartitionInfo `json:"partitions"`
}

// HeaderInfo is a record header. Values are base64 in JSON.
type HeaderInfo struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// MessageInfo is one record. Key and Value are base64 in JSON.
type MessageInfo struct {
	Offset          window.Offset `json:"offset"`
	CreateTimestamp int64         `json:"create_timestamp"`
	WriteTimestamp  int64         `json:"write_timestamp"`
	Key             []byte        `json:"key"`
	Value           []byte        `json:"value"`
	Headers         []HeaderInfo  `json:"headers,omitempty"`
	StorageSize     int           `json:"storage_size"`
	OriginalSize    int           `json:"original_size"`
	Codec           int           `json:"codec"`
	ProducerID      string        `json:"producer_id,omitempty"`
	SeqNo           int64         `json:"seq_no"`
}

// DataResponse is a raw page as returned by a backend read.
type DataResponse struct {
	StartOffset window.Offset `json:"start_offset"`
	EndOffset   window.Offset `json:"end_offset"`
	Messages    []MessageInfo `json:"messages"`
	Truncated   bool          `json:"truncated"`
}

// RowInfo is one dense table row.
type RowInfo struct {
	Offset  window.Offset `json:"offset"`
	Removed bool          `json:"removed,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Message *MessageInfo  `json:"message,omitempty"`
}

// WindowResponse is a dense page served through a windowing session.
type WindowResponse struct {
	Data        []RowInfo     `json:"data"`
	Total       int64         `json:"total"`
	Found       int64         `json:"found"`
	StartOffset window.Offset `json:"start_offset"`
	EndOffset   window.Offset `json:"end_offset"`
	BaseOffset  window.Offset `json:"base_offset"`
	Truncated   bool          `json:"truncated"`
	Generation  uint64        `json:"generation"`
}

// ScrollResponse locates a target offset in the current window.
type ScrollResponse struct {
	ScrollTop int64 `json:"scroll_top"`
	Row       int64 `json:"row"`
}

// FromMessage converts a backend message to its wire form.
func FromMessage(m window.Message) MessageInfo {
	info := MessageInfo{
		Offset:          window.Offset(m.Offset),
		CreateTimestamp: m.CreateTimestamp,
		WriteTimestamp:  m.WriteTimestamp,
		Key:             m.Key,
		Value:           m.Value,
		StorageSize:     m.StorageSize,
		OriginalSize:    m.OriginalSize,
		Codec:           m.Codec,
		ProducerID:      m.ProducerID,
		SeqNo:           m.SeqNo,
	}
	for _, h := range m.Headers {
		info.Headers = append(info.Headers, HeaderInfo{Key: h.Key, Value: h.Value})
	}
	return info
}

// Message converts the wire form back to a backend message.
func (m MessageInfo) Message() window.Message {
	msg := window.Message{
		Offset:          m.Offset.Int64(),
		CreateTimestamp: m.CreateTimestamp,
		WriteTimestamp:  m.WriteTimestamp,
		Key:             m.Key,
		Value:           m.Value,
		StorageSize:     m.StorageSize,
		OriginalSize:    m.OriginalSize,
		Codec:           m.Codec,
		ProducerID:      m.ProducerID,
		SeqNo:           m.SeqNo,
	}
	for _, h := range m.Headers {
		msg.Headers = append(msg.Headers, window.Header{Key: h.Key, Value: h.Value})
	}
	return msg
}

// FromReadResponse converts a raw backend page.
func FromReadResponse(resp *window.ReadResponse) DataResponse {
	out := DataResponse{
		StartOffset: window.Offset(resp.StartOffset),
		EndOffset:   window.Offset(resp.EndOffset),
		Messages:    make([]MessageInfo, 0, len(resp.Messages)),
		Truncated:   resp.Truncated,
	}
	for _, m := range resp.Messages {
		out.Messages = append(out.Messages, FromMessage(m))
	}
	return out
}

// ReadResponse converts the wire form back to a backend page.
func (d DataResponse) ReadResponse() *window.ReadResponse {
	resp := &window.ReadResponse{
		StartOffset: d.StartOffset.Int64(),
		EndOffset:   d.EndOffset.Int64(),
		Truncated:   d.Truncated,
	}
	for _, m := range d.Messages {
		resp.Messages = append(resp.Messages, m.Message())
	}
	return resp
}

// FromPage converts a dense session page.
func FromPage(p window.Page) WindowResponse {
	out := WindowResponse{
		Data:        make([]RowInfo, 0, len(p.Data)),
		Total:       p.Total,
		Found:       p.Found,
		StartOffset: window.Offset(p.StartOffset),
		EndOffset:   window.Offset(p.EndOffset),
		BaseOffset:  window.Offset(p.Window.BaseOffset),
		Truncated:   p.Window.Truncated,
		Generation:  p.Generation,
	}
	for _, row := range p.Data {
		info := RowInfo{Offset: window.Offset(row.Offset), Removed: row.Removed, Reason: string(row.Reason)}
		if row.Message != nil {
			m := FromMessage(*row.Message)
			info.Message = &m
		}
		out.Data = append(out.Data, info)
	}
	return out
}
