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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/novatechflow/topicview/pkg/cache"
	"github.com/novatechflow/topicview/pkg/window"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultListTTL       = 2 * time.Second
	defaultMaxDownloads  = 8
	footerFetchParallism = 8
)

var (
	// ErrUnknownTopic is returned when no segments exist for a topic.
	ErrUnknownTopic = window.ErrUnknownTopic
	// ErrInvalidPartition is returned for partition ids that are not numbers.
	ErrInvalidPartition = window.ErrInvalidPartition
)

// ReaderConfig tunes a SegmentReader.
type ReaderConfig struct {
	Namespace string
	// ListTTL is how long a partition's segment listing is reused. Negative
	// values list on every read.
	ListTTL time.Duration
	// MaxConcurrentDownloads bounds parallel segment downloads.
	MaxConcurrentDownloads int64
	// MaxResponseBytes truncates a page once key and value bytes exceed it.
	MaxResponseBytes int
	VerifyChecksums  bool
	Logger           *slog.Logger
	OnS3Op           func(op string, d time.Duration, err error)
}

// SegmentReader serves partition pages straight from the segments brokers
// flushed to S3. Retention deletes whole segments, so the earliest remaining
// segment defines the start offset and deleted segments in the middle of the
// log show up as gaps.
type SegmentReader struct {
	s3     S3Reader
	cache  *cache.SegmentCache
	cfg    ReaderConfig
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu      sync.Mutex
	layouts map[partitionKey]partitionLayout
	footers map[string]int64
	indexes map[string][]*IndexEntry
}

type partitionKey struct {
	topic     string
	partition int32
}

type partitionLayout struct {
	segments []segmentRange
	loadedAt time.Time
}

func (l partitionLayout) bounds() (int64, int64) {
	if len(l.segments) == 0 {
		return 0, 0
	}
	return l.segments[0].baseOffset, l.segments[len(l.segments)-1].lastOffset + 1
}

// NewSegmentReader builds a reader over s3. segCache may be nil.
func NewSegmentReader(s3 S3Reader, segCache *cache.SegmentCache, cfg ReaderConfig) *SegmentReader {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.ListTTL == 0 {
		cfg.ListTTL = defaultListTTL
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = defaultMaxDownloads
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentReader{
		s3:      s3,
		cache:   segCache,
		cfg:     cfg,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentDownloads),
		layouts: make(map[partitionKey]partitionLayout),
		footers: make(map[string]int64),
		indexes: make(map[string][]*IndexEntry),
	}
}

// Topics lists the topics that have at least one segment.
func (r *SegmentReader) Topics(ctx context.Context) ([]string, error) {
	objs, err := r.list(ctx, r.cfg.Namespace+"/")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, obj := range objs {
		if topic, _, ok := splitSegmentKey(r.cfg.Namespace, obj.Key); ok {
			seen[topic] = true
		}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics, nil
}

// Partitions lists the partitions of topic with their live bounds.
func (r *SegmentReader) Partitions(ctx context.Context, topic string) ([]window.Partition, error) {
	objs, err := r.list(ctx, topicPrefix(r.cfg.Namespace, topic))
	if err != nil {
		return nil, err
	}
	byPartition := make(map[int32][]S3Object)
	for _, obj := range objs {
		t, p, ok := splitSegmentKey(r.cfg.Namespace, obj.Key)
		if !ok || t != topic {
			continue
		}
		byPartition[p] = append(byPartition[p], obj)
	}
	if len(byPartition) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	ids := make([]int32, 0, len(byPartition))
	for id := range byPartition {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]window.Partition, 0, len(ids))
	for _, id := range ids {
		layout, err := r.buildLayout(ctx, topic, id, byPartition[id])
		if err != nil {
			return nil, err
		}
		start, end := layout.bounds()
		out = append(out, window.Partition{ID: strconv.Itoa(int(id)), StartOffset: start, EndOffset: end})
	}
	return out, nil
}

// StartOffset returns the earliest offset still stored for a partition.
func (r *SegmentReader) StartOffset(ctx context.Context, topic string, partition int32) (int64, error) {
	layout, err := r.layout(ctx, topic, partition)
	if err != nil {
		return 0, err
	}
	start, _ := layout.bounds()
	return start, nil
}

// ReadPage implements window.PageReader.
func (r *SegmentReader) ReadPage(ctx context.Context, req window.ReadRequest) (*window.ReadResponse, error) {
	partition, err := parsePartition(req.Partition)
	if err != nil {
		return nil, err
	}
	layout, err := r.layout(ctx, req.Topic, partition)
	if err != nil {
		return nil, err
	}
	resp := &window.ReadResponse{}
	resp.StartOffset, resp.EndOffset = layout.bounds()
	if len(layout.segments) == 0 || req.Limit <= 0 {
		return resp, nil
	}

	from := req.Offset
	if req.ReadTimestamp != 0 {
		from, err = r.offsetForTimestamp(ctx, req.Topic, partition, layout, req.ReadTimestamp)
		if err != nil {
			return nil, err
		}
	}
	scan := pageScan{
		from:   from,
		upper:  from + int64(req.Limit),
		limit:  req.Limit,
		budget: r.cfg.MaxResponseBytes,
		resp:   resp,
	}
	for _, seg := range layout.segments {
		if seg.lastOffset < scan.from {
			continue
		}
		if seg.baseOffset >= scan.upper || scan.done {
			break
		}
		if err := r.scanSegment(ctx, req.Topic, partition, seg, &scan); err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				r.forget(req.Topic, partition)
				continue
			}
			return nil, err
		}
	}
	return resp, nil
}

type pageScan struct {
	from   int64
	upper  int64
	limit  int
	budget int
	done   bool
	resp   *window.ReadResponse
}

func (r *SegmentReader) scanSegment(ctx context.Context, topic string, partition int32, seg segmentRange, scan *pageScan) error {
	body, err := r.segmentBody(ctx, topic, partition, seg)
	if err != nil {
		return err
	}
	entry := findIndexEntry(r.segmentIndex(ctx, seg), scan.from)
	pos := int(entry.Position) - segmentHeaderLen
	if pos < 0 || pos > len(body) {
		pos = 0
	}
	return forEachBatch(body[pos:], func(batch []byte) (bool, error) {
		header, err := ParseBatchHeader(batch)
		if err != nil {
			return false, err
		}
		if header.LastOffset() < scan.from {
			return true, nil
		}
		if header.BaseOffset >= scan.upper {
			scan.done = true
			return false, nil
		}
		_, records, err := DecodeRecords(batch)
		if err != nil {
			return false, err
		}
		for _, rec := range records {
			if rec.Offset < scan.from || rec.Offset >= scan.upper {
				continue
			}
			scan.resp.Messages = append(scan.resp.Messages, toMessage(header, rec))
			if r.cfg.MaxResponseBytes > 0 {
				scan.budget -= len(rec.Key) + len(rec.Value)
				if scan.budget <= 0 {
					scan.resp.Truncated = true
					scan.done = true
					return false, nil
				}
			}
			if len(scan.resp.Messages) >= scan.limit {
				scan.done = true
				return false, nil
			}
		}
		return true, nil
	})
}

// offsetForTimestamp returns the offset of the first record written at or
// after ts, or the end offset when there is none.
func (r *SegmentReader) offsetForTimestamp(ctx context.Context, topic string, partition int32, layout partitionLayout, ts int64) (int64, error) {
	for _, seg := range layout.segments {
		body, err := r.segmentBody(ctx, topic, partition, seg)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				continue
			}
			return 0, err
		}
		found := int64(-1)
		err = forEachBatch(body, func(batch []byte) (bool, error) {
			header, err := ParseBatchHeader(batch)
			if err != nil {
				return false, err
			}
			if header.MaxTimestamp < ts {
				return true, nil
			}
			_, records, err := DecodeRecords(batch)
			if err != nil {
				return false, err
			}
			for _, rec := range records {
				if recordTimestamp(header, rec) >= ts {
					found = rec.Offset
					return false, nil
				}
			}
			return true, nil
		})
		if err != nil {
			return 0, err
		}
		if found >= 0 {
			return found, nil
		}
	}
	_, end := layout.bounds()
	return end, nil
}

func recordTimestamp(header BatchHeader, rec Record) int64 {
	if header.LogAppendTime() {
		return header.MaxTimestamp
	}
	return rec.Timestamp
}

func toMessage(header BatchHeader, rec Record) window.Message {
	msg := window.Message{
		Offset:          rec.Offset,
		CreateTimestamp: rec.Timestamp,
		WriteTimestamp:  recordTimestamp(header, rec),
		Key:             rec.Key,
		Value:           rec.Value,
		StorageSize:     rec.Size,
		OriginalSize:    len(rec.Value),
		Codec:           int(header.Codec()),
		SeqNo:           -1,
	}
	if header.ProducerID >= 0 {
		msg.ProducerID = strconv.FormatInt(header.ProducerID, 10)
	}
	if header.BaseSequence >= 0 {
		msg.SeqNo = int64(header.BaseSequence) + (rec.Offset - header.BaseOffset)
	}
	for _, h := range rec.Headers {
		msg.Headers = append(msg.Headers, window.Header{Key: h.Key, Value: h.Value})
	}
	return msg
}

func (r *SegmentReader) layout(ctx context.Context, topic string, partition int32) (partitionLayout, error) {
	key := partitionKey{topic: topic, partition: partition}
	r.mu.Lock()
	layout, ok := r.layouts[key]
	r.mu.Unlock()
	if ok && r.cfg.ListTTL > 0 && time.Since(layout.loadedAt) < r.cfg.ListTTL {
		return layout, nil
	}
	objs, err := r.list(ctx, partitionPrefix(r.cfg.Namespace, topic, partition))
	if err != nil {
		return partitionLayout{}, err
	}
	return r.buildLayout(ctx, topic, partition, objs)
}

func (r *SegmentReader) buildLayout(ctx context.Context, topic string, partition int32, objs []S3Object) (partitionLayout, error) {
	segments := make([]segmentRange, 0, len(objs))
	var missing []int
	for _, obj := range objs {
		base, ok := parseSegmentBaseOffset(obj.Key)
		if !ok || obj.Size < segmentHeaderLen+segmentFooterLen {
			continue
		}
		seg := segmentRange{key: obj.Key, baseOffset: base, size: obj.Size, lastOffset: -1}
		r.mu.Lock()
		if last, ok := r.footers[obj.Key]; ok {
			seg.lastOffset = last
		} else {
			missing = append(missing, len(segments))
		}
		r.mu.Unlock()
		segments = append(segments, seg)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(footerFetchParallism)
	for _, i := range missing {
		seg := &segments[i]
		g.Go(func() error {
			start := time.Now()
			footer, err := r.s3.DownloadSegment(gctx, seg.key, &ByteRange{Start: seg.size - segmentFooterLen, End: seg.size - 1})
			r.observe("download_segment_footer", start, err)
			if err != nil {
				if errors.Is(err, ErrObjectNotFound) {
					return nil
				}
				return err
			}
			_, last, err := parseSegmentFooter(footer)
			if err != nil {
				return fmt.Errorf("segment %s: %w", seg.key, err)
			}
			seg.lastOffset = last
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return partitionLayout{}, err
	}

	live := segments[:0]
	for _, seg := range segments {
		if seg.lastOffset >= seg.baseOffset {
			live = append(live, seg)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].baseOffset < live[j].baseOffset })

	layout := partitionLayout{segments: live, loadedAt: time.Now()}
	liveBases := make(map[int64]bool, len(live))
	liveKeys := make(map[string]bool, 2*len(live))
	r.mu.Lock()
	for _, seg := range live {
		r.footers[seg.key] = seg.lastOffset
		liveBases[seg.baseOffset] = true
		liveKeys[seg.key] = true
		liveKeys[indexKeyFor(seg.key)] = true
	}
	r.pruneLocked(partitionPrefix(r.cfg.Namespace, topic, partition), liveKeys)
	r.layouts[partitionKey{topic: topic, partition: partition}] = layout
	r.mu.Unlock()
	if r.cache != nil {
		r.cache.Retain(r.cacheTopic(topic), partition, liveBases)
	}
	return layout, nil
}

// pruneLocked drops footers and indexes of segments under prefix that are no
// longer listed.
func (r *SegmentReader) pruneLocked(prefix string, live map[string]bool) {
	for key := range r.footers {
		if strings.HasPrefix(key, prefix) && !live[key] {
			delete(r.footers, key)
		}
	}
	for key := range r.indexes {
		if strings.HasPrefix(key, prefix) && !live[key] {
			delete(r.indexes, key)
		}
	}
}

func (r *SegmentReader) forget(topic string, partition int32) {
	r.mu.Lock()
	delete(r.layouts, partitionKey{topic: topic, partition: partition})
	r.mu.Unlock()
}

func (r *SegmentReader) segmentBody(ctx context.Context, topic string, partition int32, seg segmentRange) ([]byte, error) {
	key := cache.Key{Topic: r.cacheTopic(topic), Partition: partition, BaseOffset: seg.baseOffset}
	if r.cache != nil {
		if data, ok := r.cache.Get(key); ok {
			return segmentBody(data, false)
		}
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := r.s3.DownloadSegment(ctx, seg.key, nil)
	r.sem.Release(1)
	r.observe("download_segment", start, err)
	if err != nil {
		return nil, err
	}
	body, err := segmentBody(data, r.cfg.VerifyChecksums)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", seg.key, err)
	}
	if r.cache != nil {
		r.cache.Put(key, data)
	}
	return body, nil
}

// segmentIndex returns the sparse index of seg, or nil when it cannot be
// loaded; callers then scan the segment from its first batch.
func (r *SegmentReader) segmentIndex(ctx context.Context, seg segmentRange) []*IndexEntry {
	key := indexKeyFor(seg.key)
	r.mu.Lock()
	entries, ok := r.indexes[key]
	r.mu.Unlock()
	if ok {
		return entries
	}
	start := time.Now()
	data, err := r.s3.DownloadIndex(ctx, key)
	r.observe("download_index", start, err)
	if err != nil {
		r.logger.Debug("segment index unavailable", "key", key, "error", err)
		return nil
	}
	entries, err = ParseIndex(data)
	if err != nil {
		r.logger.Warn("segment index invalid", "key", key, "error", err)
		entries = nil
	}
	r.mu.Lock()
	r.indexes[key] = entries
	r.mu.Unlock()
	return entries
}

func (r *SegmentReader) list(ctx context.Context, prefix string) ([]S3Object, error) {
	start := time.Now()
	objs, err := r.s3.ListSegments(ctx, prefix)
	r.observe("list_segments", start, err)
	return objs, err
}

func (r *SegmentReader) observe(op string, start time.Time, err error) {
	if r.cfg.OnS3Op != nil {
		r.cfg.OnS3Op(op, time.Since(start), err)
	}
}

func (r *SegmentReader) cacheTopic(topic string) string {
	return path.Join(r.cfg.Namespace, topic)
}

func parsePartition(id string) (int32, error) {
	p, err := strconv.ParseInt(id, 10, 32)
	if err != nil || p < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPartition, id)
	}
	return int32(p), nil
}
