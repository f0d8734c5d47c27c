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
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// SegmentWriter uploads segments in the broker layout. It is used to seed
// demo data and to simulate retention in tests.
type SegmentWriter struct {
	s3        S3Client
	namespace string
	cfg       SegmentWriterConfig
	onS3Op    func(string, time.Duration, error)
}

// NewSegmentWriter creates a writer below namespace.
func NewSegmentWriter(s3 S3Client, namespace string, cfg SegmentWriterConfig, onS3Op func(string, time.Duration, error)) *SegmentWriter {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &SegmentWriter{s3: s3, namespace: namespace, cfg: cfg, onS3Op: onS3Op}
}

// WriteSegment serializes batches into one segment and uploads it together
// with its index.
func (w *SegmentWriter) WriteSegment(ctx context.Context, topic string, partition int32, batches []RecordBatch, created time.Time) (*SegmentArtifact, error) {
	artifact, err := BuildSegment(w.cfg, batches, created)
	if err != nil {
		return nil, fmt.Errorf("build segment: %w", err)
	}
	key := segmentKey(w.namespace, topic, partition, artifact.BaseOffset)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		err := w.s3.UploadSegment(gctx, key, artifact.SegmentBytes)
		w.observe("upload_segment", start, err)
		return err
	})
	g.Go(func() error {
		start := time.Now()
		err := w.s3.UploadIndex(gctx, indexKeyFor(key), artifact.IndexBytes)
		w.observe("upload_index", start, err)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifact, nil
}

// DeleteSegment removes the segment starting at baseOffset and its index.
func (w *SegmentWriter) DeleteSegment(ctx context.Context, topic string, partition int32, baseOffset int64) error {
	key := segmentKey(w.namespace, topic, partition, baseOffset)
	for _, k := range []string{key, indexKeyFor(key)} {
		start := time.Now()
		err := w.s3.DeleteObject(ctx, k)
		w.observe("delete_object", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// ExpireBefore deletes every segment whose records all precede offset, the
// way size or time based retention drops whole segments. It returns how many
// segments were removed.
func (w *SegmentWriter) ExpireBefore(ctx context.Context, topic string, partition int32, offset int64) (int, error) {
	objs, err := w.s3.ListSegments(ctx, partitionPrefix(w.namespace, topic, partition))
	if err != nil {
		return 0, err
	}
	var bases []int64
	for _, obj := range objs {
		if base, ok := parseSegmentBaseOffset(obj.Key); ok {
			bases = append(bases, base)
		}
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })

	removed := 0
	for i := 0; i+1 < len(bases) && bases[i+1] <= offset; i++ {
		if err := w.DeleteSegment(ctx, topic, partition, bases[i]); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (w *SegmentWriter) observe(op string, start time.Time, err error) {
	if w.onS3Op != nil {
		w.onS3Op(op, time.Since(start), err)
	}
}
