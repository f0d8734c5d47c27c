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
	"io"
)

const (
	recordBatchHeaderMinSize = 61
	batchFrameHeaderLen      = 12
	recordBatchMagic         = 2
)

// ErrCorruptBatch is returned when a record batch cannot be decoded.
var ErrCorruptBatch = errors.New("corrupt record batch")

// NewRecordBatchFromBytes parses Kafka record batch metadata and returns a RecordBatch struct.
func NewRecordBatchFromBytes(data []byte) (RecordBatch, error) {
	if len(data) < recordBatchHeaderMinSize {
		return RecordBatch{}, fmt.Errorf("record batch too small: %d", len(data))
	}
	baseOffset := int64(binary.BigEndian.Uint64(data[0:8]))
	lastOffsetDelta := int32(binary.BigEndian.Uint32(data[23:27]))
	messageCount := int32(binary.BigEndian.Uint32(data[57:61]))
	return RecordBatch{
		BaseOffset:      baseOffset,
		LastOffsetDelta: lastOffsetDelta,
		MessageCount:    messageCount,
		Bytes:           append([]byte(nil), data...),
	}, nil
}

// BatchOptions tune EncodeRecordBatch.
type BatchOptions struct {
	Codec         Codec
	ProducerID    int64
	BaseSequence  int32
	LogAppendTime bool
}

// EncodeRecordBatch serializes records as a v2 Kafka record batch starting at
// baseOffset. Record offsets are ignored; records get consecutive offsets.
func EncodeRecordBatch(baseOffset int64, records []Record, opts BatchOptions) (RecordBatch, error) {
	if len(records) == 0 {
		return RecordBatch{}, fmt.Errorf("no records to encode")
	}
	firstTs := records[0].Timestamp
	maxTs := firstTs
	var body []byte
	for i, rec := range records {
		if rec.Timestamp > maxTs {
			maxTs = rec.Timestamp
		}
		body = appendRecord(body, rec, rec.Timestamp-firstTs, int64(i))
	}
	payload, err := compress(opts.Codec, body)
	if err != nil {
		return RecordBatch{}, err
	}

	attributes := int16(opts.Codec)
	if opts.LogAppendTime {
		attributes |= 0x08
	}
	producerID := opts.ProducerID
	baseSequence := opts.BaseSequence
	if producerID == 0 {
		producerID = -1
		baseSequence = -1
	}

	buf := make([]byte, recordBatchHeaderMinSize, recordBatchHeaderMinSize+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(baseOffset))
	binary.BigEndian.PutUint32(buf[12:16], 0) // partition leader epoch
	buf[16] = recordBatchMagic
	binary.BigEndian.PutUint16(buf[21:23], uint16(attributes))
	binary.BigEndian.PutUint32(buf[23:27], uint32(len(records)-1))
	binary.BigEndian.PutUint64(buf[27:35], uint64(firstTs))
	binary.BigEndian.PutUint64(buf[35:43], uint64(maxTs))
	binary.BigEndian.PutUint64(buf[43:51], uint64(producerID))
	binary.BigEndian.PutUint16(buf[51:53], 0xffff)
	binary.BigEndian.PutUint32(buf[53:57], uint32(baseSequence))
	binary.BigEndian.PutUint32(buf[57:61], uint32(len(records)))
	buf = append(buf, payload...)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(buf)-batchFrameHeaderLen))
	binary.BigEndian.PutUint32(buf[17:21], crc32.Checksum(buf[21:], crcTable))

	return NewRecordBatchFromBytes(buf)
}

func appendRecord(dst []byte, rec Record, tsDelta, offsetDelta int64) []byte {
	var body []byte
	body = append(body, 0) // attributes
	body = binary.AppendVarint(body, tsDelta)
	body = binary.AppendVarint(body, offsetDelta)
	body = appendNullableBytes(body, rec.Key)
	body = appendNullableBytes(body, rec.Value)
	body = binary.AppendVarint(body, int64(len(rec.Headers)))
	for _, h := range rec.Headers {
		body = binary.AppendVarint(body, int64(len(h.Key)))
		body = append(body, h.Key...)
		body = appendNullableBytes(body, h.Value)
	}
	dst = binary.AppendVarint(dst, int64(len(body)))
	return append(dst, body...)
}

func appendNullableBytes(dst, b []byte) []byte {
	if b == nil {
		return binary.AppendVarint(dst, -1)
	}
	dst = binary.AppendVarint(dst, int64(len(b)))
	return append(dst, b...)
}

// ParseBatchHeader decodes the fixed header of a framed record batch.
func ParseBatchHeader(batch []byte) (BatchHeader, error) {
	if len(batch) < recordBatchHeaderMinSize {
		return BatchHeader{}, fmt.Errorf("%w: %d bytes", ErrCorruptBatch, len(batch))
	}
	if batch[16] != recordBatchMagic {
		return BatchHeader{}, fmt.Errorf("%w: magic %d", ErrCorruptBatch, batch[16])
	}
	return BatchHeader{
		BaseOffset:      int64(binary.BigEndian.Uint64(batch[0:8])),
		Length:          int32(binary.BigEndian.Uint32(batch[8:12])),
		Attributes:      int16(binary.BigEndian.Uint16(batch[21:23])),
		LastOffsetDelta: int32(binary.BigEndian.Uint32(batch[23:27])),
		FirstTimestamp:  int64(binary.BigEndian.Uint64(batch[27:35])),
		MaxTimestamp:    int64(binary.BigEndian.Uint64(batch[35:43])),
		ProducerID:      int64(binary.BigEndian.Uint64(batch[43:51])),
		ProducerEpoch:   int16(binary.BigEndian.Uint16(batch[51:53])),
		BaseSequence:    int32(binary.BigEndian.Uint32(batch[53:57])),
		RecordCount:     int32(binary.BigEndian.Uint32(batch[57:61])),
	}, nil
}

// forEachBatch walks the framed record batches of a segment body.
func forEachBatch(data []byte, fn func(batch []byte) (bool, error)) error {
	pos := 0
	for pos+batchFrameHeaderLen <= len(data) {
		batchLen := int(binary.BigEndian.Uint32(data[pos+8 : pos+12]))
		if batchLen <= 0 {
			return nil
		}
		frameLen := batchFrameHeaderLen + batchLen
		if pos+frameLen > len(data) {
			return fmt.Errorf("%w: frame at %d exceeds segment", ErrCorruptBatch, pos)
		}
		more, err := fn(data[pos : pos+frameLen])
		if err != nil || !more {
			return err
		}
		pos += frameLen
	}
	return nil
}

// DecodeRecords decodes every record of a framed batch, decompressing when needed.
func DecodeRecords(batch []byte) (BatchHeader, []Record, error) {
	header, err := ParseBatchHeader(batch)
	if err != nil {
		return BatchHeader{}, nil, err
	}
	if header.RecordCount <= 0 {
		return header, nil, nil
	}
	payload, err := decompress(header.Codec(), batch[recordBatchHeaderMinSize:])
	if err != nil {
		return header, nil, fmt.Errorf("batch at %d: %w", header.BaseOffset, err)
	}
	reader := bytes.NewReader(payload)
	records := make([]Record, 0, header.RecordCount)
	for i := int32(0); i < header.RecordCount; i++ {
		rec, err := decodeRecord(reader, header)
		if err != nil {
			return header, nil, fmt.Errorf("%w: record %d of batch %d: %v", ErrCorruptBatch, i, header.BaseOffset, err)
		}
		records = append(records, rec)
	}
	return header, records, nil
}

func decodeRecord(reader *bytes.Reader, header BatchHeader) (Record, error) {
	length, err := binary.ReadVarint(reader)
	if err != nil {
		return Record{}, err
	}
	if length < 0 || length > int64(reader.Len()) {
		return Record{}, fmt.Errorf("invalid record length %d", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return Record{}, err
	}
	buf := bytes.NewReader(data)
	if _, err := buf.ReadByte(); err != nil { // attributes
		return Record{}, err
	}
	tsDelta, err := binary.ReadVarint(buf)
	if err != nil {
		return Record{}, err
	}
	offsetDelta, err := binary.ReadVarint(buf)
	if err != nil {
		return Record{}, err
	}
	key, err := readNullableBytes(buf)
	if err != nil {
		return Record{}, err
	}
	value, err := readNullableBytes(buf)
	if err != nil {
		return Record{}, err
	}
	headerCount, err := binary.ReadVarint(buf)
	if err != nil {
		return Record{}, err
	}
	if headerCount < 0 || headerCount > int64(buf.Len()) {
		return Record{}, fmt.Errorf("invalid header count %d", headerCount)
	}
	var headers []Header
	for i := int64(0); i < headerCount; i++ {
		hk, err := readNullableBytes(buf)
		if err != nil {
			return Record{}, err
		}
		hv, err := readNullableBytes(buf)
		if err != nil {
			return Record{}, err
		}
		headers = append(headers, Header{Key: string(hk), Value: hv})
	}
	return Record{
		Offset:    header.BaseOffset + offsetDelta,
		Timestamp: header.FirstTimestamp + tsDelta,
		Key:       key,
		Value:     value,
		Headers:   headers,
		Size:      int(length),
	}, nil
}

func readNullableBytes(reader *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadVarint(reader)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if n > int64(reader.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d", n, reader.Len())
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
