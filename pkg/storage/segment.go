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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

const (
	segmentMagic     = "KAFS"
	footerMagic      = "END!"
	segmentHeaderLen = 32
	segmentFooterLen = 16
)

var (
	crcTable = crc32.MakeTable(crc32.Castagnoli)

	// ErrCorruptSegment is returned for segments with a bad magic, footer or checksum.
	ErrCorruptSegment = errors.New("corrupt segment")
)

// SegmentHeader is the fixed header written in front of every segment.
type SegmentHeader struct {
	Version      uint16
	Flags        uint16
	BaseOffset   int64
	MessageCount int32
	CreatedAt    time.Time
}

// BuildSegment assembles segment + index bytes from buffered batches.
func BuildSegment(cfg SegmentWriterConfig, batches []RecordBatch, created time.Time) (*SegmentArtifact, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("no batches to serialize")
	}
	body := &bytes.Buffer{}
	index := NewIndexBuilder(cfg.IndexIntervalMessages)

	var totalMessages int32
	last := batches[len(batches)-1]
	lastOffset := last.BaseOffset + int64(last.LastOffsetDelta)

	for _, batch := range batches {
		if len(batch.Bytes) == 0 {
			return nil, fmt.Errorf("batch payload empty")
		}
		index.MaybeAdd(batch.BaseOffset, int32(segmentHeaderLen+body.Len()), batch.MessageCount)
		body.Write(batch.Bytes)
		totalMessages += batch.MessageCount
	}

	bodyBytes := body.Bytes()
	header := buildHeader(batches[0].BaseOffset, totalMessages, created)
	footer := buildFooter(crc32.Checksum(bodyBytes, crcTable), lastOffset)

	segment := make([]byte, 0, len(header)+len(bodyBytes)+len(footer))
	segment = append(segment, header...)
	segment = append(segment, bodyBytes...)
	segment = append(segment, footer...)

	indexBytes, err := index.BuildBytes()
	if err != nil {
		return nil, err
	}

	return &SegmentArtifact{
		BaseOffset:    batches[0].BaseOffset,
		LastOffset:    lastOffset,
		MessageCount:  totalMessages,
		CreatedAt:     created,
		SegmentBytes:  segment,
		IndexBytes:    indexBytes,
		RelativeIndex: index.Entries(),
	}, nil
}

func buildHeader(baseOffset int64, messageCount int32, created time.Time) []byte {
	buf := make([]byte, segmentHeaderLen)
	copy(buf[0:4], segmentMagic)
	binary.BigEndian.PutUint16(buf[4:6], 1) // version
	binary.BigEndian.PutUint16(buf[6:8], 0) // flags
	binary.BigEndian.PutUint64(buf[8:16], uint64(baseOffset))
	binary.BigEndian.PutUint32(buf[16:20], uint32(messageCount))
	binary.BigEndian.PutUint64(buf[20:28], uint64(created.UnixMilli()))
	return buf
}

func buildFooter(crc uint32, lastOffset int64) []byte {
	buf := make([]byte, segmentFooterLen)
	binary.BigEndian.PutUint32(buf[0:4], crc)
	binary.BigEndian.PutUint64(buf[4:12], uint64(lastOffset))
	copy(buf[12:16], footerMagic)
	return buf
}

// ParseSegmentHeader decodes the first segmentHeaderLen bytes of a segment.
func ParseSegmentHeader(data []byte) (SegmentHeader, error) {
	if len(data) < segmentHeaderLen || string(data[:4]) != segmentMagic {
		return SegmentHeader{}, fmt.Errorf("%w: invalid header", ErrCorruptSegment)
	}
	return SegmentHeader{
		Version:      binary.BigEndian.Uint16(data[4:6]),
		Flags:        binary.BigEndian.Uint16(data[6:8]),
		BaseOffset:   int64(binary.BigEndian.Uint64(data[8:16])),
		MessageCount: int32(binary.BigEndian.Uint32(data[16:20])),
		CreatedAt:    time.UnixMilli(int64(binary.BigEndian.Uint64(data[20:28]))),
	}, nil
}

// parseSegmentFooter returns the checksum and last offset stored in a footer.
func parseSegmentFooter(data []byte) (uint32, int64, error) {
	if len(data) < segmentFooterLen {
		return 0, 0, fmt.Errorf("%w: footer too small", ErrCorruptSegment)
	}
	footer := data[len(data)-segmentFooterLen:]
	if string(footer[12:16]) != footerMagic {
		return 0, 0, fmt.Errorf("%w: invalid footer magic", ErrCorruptSegment)
	}
	return binary.BigEndian.Uint32(footer[0:4]), int64(binary.BigEndian.Uint64(footer[4:12])), nil
}

// segmentBody strips header and footer, optionally checking the body checksum.
func segmentBody(data []byte, verify bool) ([]byte, error) {
	if len(data) < segmentHeaderLen+segmentFooterLen {
		return nil, fmt.Errorf("%w: segment too small", ErrCorruptSegment)
	}
	if _, err := ParseSegmentHeader(data); err != nil {
		return nil, err
	}
	crc, _, err := parseSegmentFooter(data)
	if err != nil {
		return nil, err
	}
	body := data[segmentHeaderLen : len(data)-segmentFooterLen]
	if verify && crc32.Checksum(body, crcTable) != crc {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSegment)
	}
	return body, nil
}
