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

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/novatechflow/topicview/pkg/cache"
	"github.com/novatechflow/topicview/pkg/window"
)

const namespace = "topicview"

var (
	WindowFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_fetches_total",
			Help:      "Window page fetches by anchor kind and status.",
		},
		[]string{"anchor", "status"},
	)
	WindowFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "window_fetch_duration_ms",
			Help:      "Window page fetch duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"anchor"},
	)
	WindowRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_rows_total",
			Help:      "Total dense rows served.",
		},
	)
	PlaceholderRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_placeholder_rows_total",
			Help:      "Placeholder rows served by reason.",
		},
		[]string{"reason"},
	)
	StaleDiscards = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_stale_discards_total",
			Help:      "Fetch results discarded because the anchor changed meanwhile.",
		},
	)
	BackendReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_reads_total",
			Help:      "Backend page reads by backend and status.",
		},
		[]string{"backend", "status"},
	)
	BackendReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_read_duration_ms",
			Help:      "Backend page read duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"backend"},
	)
	S3Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "s3_requests_total",
			Help:      "S3 requests by operation.",
		},
		[]string{"operation"},
	)
	S3Duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "s3_request_duration_ms",
			Help:      "S3 request duration in milliseconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	S3Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "s3_errors_total",
			Help:      "S3 errors by operation.",
		},
		[]string{"operation"},
	)
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Windowing sessions currently held by the console.",
		},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Console API request duration by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "code", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		WindowFetches,
		WindowFetchDuration,
		WindowRows,
		PlaceholderRows,
		StaleDiscards,
		BackendReads,
		BackendReadDuration,
		S3Requests,
		S3Duration,
		S3Errors,
		ActiveSessions,
		HTTPRequestDuration,
	)
}

// Observer feeds window fetch events into the package metrics.
type Observer struct{}

// ObserveFetch implements window.Observer.
func (Observer) ObserveFetch(ev window.FetchEvent) {
	anchor := string(ev.Anchor)
	status := "ok"
	switch {
	case ev.Stale:
		status = "stale"
		StaleDiscards.Inc()
	case ev.Err != nil:
		status = "error"
	}
	WindowFetches.WithLabelValues(anchor, status).Inc()
	WindowFetchDuration.WithLabelValues(anchor).Observe(float64(ev.Duration.Milliseconds()))
	if status != "ok" {
		return
	}
	WindowRows.Add(float64(ev.Rows))
	for reason, n := range ev.Placeholders {
		PlaceholderRows.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// ObserveS3 matches the storage OnS3Op hook.
func ObserveS3(op string, d time.Duration, err error) {
	S3Requests.WithLabelValues(op).Inc()
	S3Duration.WithLabelValues(op).Observe(float64(d.Milliseconds()))
	if err != nil {
		S3Errors.WithLabelValues(op).Inc()
	}
}

// InstrumentReader times every read of r under the backend label.
func InstrumentReader(backend string, r window.PageReader) window.PageReader {
	return instrumentedReader{backend: backend, next: r}
}

type instrumentedReader struct {
	backend string
	next    window.PageReader
}

func (r instrumentedReader) ReadPage(ctx context.Context, req window.ReadRequest) (*window.ReadResponse, error) {
	start := time.Now()
	resp, err := r.next.ReadPage(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	BackendReads.WithLabelValues(r.backend, status).Inc()
	BackendReadDuration.WithLabelValues(r.backend).Observe(float64(time.Since(start).Milliseconds()))
	return resp, err
}

// InstrumentRoute records request durations of h under route.
func InstrumentRoute(route string, h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(HTTPRequestDuration.MustCurryWith(prometheus.Labels{"route": route}), h)
}

// RegisterSegmentCache exposes the counters of c. Registering a second cache
// is a no-op.
func RegisterSegmentCache(c *cache.SegmentCache) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_cache_hits_total",
			Help:      "Segment cache hits.",
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_cache_misses_total",
			Help:      "Segment cache misses.",
		}, func() float64 { return float64(c.Stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_cache_evictions_total",
			Help:      "Segment cache evictions.",
		}, func() float64 { return float64(c.Stats().Evictions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "segment_cache_bytes",
			Help:      "Bytes held by the segment cache.",
		}, func() float64 { return float64(c.Stats().Bytes) }),
	}
	for _, col := range collectors {
		if err := prometheus.Register(col); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
