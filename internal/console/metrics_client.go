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
	"fmt"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// MetricsSnapshot is the broker health shown next to the browsed topics.
type MetricsSnapshot struct {
	S3State     string
	S3LatencyMS int
	S3ErrorRate float64
	ProduceRPS  float64
	FetchRPS    float64
}

// MetricsProvider reports broker health.
type MetricsProvider interface {
	Snapshot(ctx context.Context) (*MetricsSnapshot, error)
}

type promMetricsClient struct {
	url    string
	client *http.Client
}

// NewPromMetricsClient scrapes a KafScale broker's prometheus endpoint.
func NewPromMetricsClient(url string) MetricsProvider {
	return &promMetricsClient{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

func (c *promMetricsClient) Snapshot(ctx context.Context) (*MetricsSnapshot, error) {
	return fetchPromSnapshot(ctx, c.client, c.url)
}

func fetchPromSnapshot(ctx context.Context, client *http.Client, url string) (*MetricsSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics request failed: %s", resp.Status)
	}
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse broker metrics: %w", err)
	}
	snap := &MetricsSnapshot{
		S3State:     s3State(families["kafscale_s3_health_state"]),
		S3LatencyMS: int(sampleValue(families["kafscale_s3_latency_ms_avg"])),
		S3ErrorRate: sampleValue(families["kafscale_s3_error_rate"]),
		ProduceRPS:  sampleValue(families["kafscale_produce_rps"]),
		FetchRPS:    sampleValue(families["kafscale_fetch_rps"]),
	}
	return snap, nil
}

// s3State returns the state label of the health series that is set to 1.
func s3State(family *dto.MetricFamily) string {
	if family == nil {
		return ""
	}
	for _, m := range family.GetMetric() {
		if metricValue(m) != 1 {
			continue
		}
		for _, label := range m.GetLabel() {
			if label.GetName() == "state" {
				return label.GetValue()
			}
		}
	}
	return ""
}

func sampleValue(family *dto.MetricFamily) float64 {
	if family == nil || len(family.GetMetric()) == 0 {
		return 0
	}
	return metricValue(family.GetMetric()[0])
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}
