// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scrape implements §4.G: one full scrape fetches every
// endpoint concurrently under a bounded semaphore, extracts each
// response independently, then re-joins the output in configuration
// order and gzip-frames it.
package scrape

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/GoogleCloudPlatform/json-exporter/extract"
	"github.com/GoogleCloudPlatform/json-exporter/plan"
	"github.com/GoogleCloudPlatform/json-exporter/selector"
)

// Metrics is the orchestrator's self-instrumentation: per-endpoint
// scrape duration and error counts, grounded on the teacher's
// package-level queryCounter/queryHistogram pair in
// cmd/rule-evaluator/main.go, keyed here by endpoint id instead of
// HTTP code/method.
type Metrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewMetrics builds the endpoint scrape metrics and registers them on
// reg, if non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "json_exporter_endpoint_scrape_duration_seconds",
			Help:    "Duration of a single endpoint fetch+extract, by endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "json_exporter_endpoint_scrape_errors_total",
			Help: "Count of terminal errors encountered scraping an endpoint.",
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(m.duration, m.errors)
	}
	return m
}

// Fetcher is the outbound HTTP dependency; *httpfetch.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// JSONParseError wraps a malformed endpoint response (§7's JsonParse kind).
type JSONParseError struct {
	Endpoint string
	Err      error
}

func (e *JSONParseError) Error() string {
	return fmt.Sprintf("endpoint %s: parse JSON: %v", e.Endpoint, e.Err)
}
func (e *JSONParseError) Unwrap() error { return e.Err }

// Orchestrator runs one full scrape over a compiled plan.
type Orchestrator struct {
	cfg         *plan.PreparedConfig
	fetcher     Fetcher
	concurrency int64
	timeout     time.Duration
	metrics     *Metrics
}

// New returns an Orchestrator bounding fanout to concurrency concurrent
// fetches, each with the given per-request timeout. metrics may be nil,
// in which case per-endpoint scrape instrumentation is skipped.
func New(cfg *plan.PreparedConfig, fetcher Fetcher, concurrency int, timeout time.Duration, metrics *Metrics) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{cfg: cfg, fetcher: fetcher, concurrency: int64(concurrency), timeout: timeout, metrics: metrics}
}

// Result is one completed scrape: gzip-compressed Prometheus text plus
// every non-fatal warning collected while producing it.
type Result struct {
	Body     []byte
	Warnings []extract.Warning
}

// Scrape fetches and extracts every configured endpoint. Endpoint
// fetches run concurrently; extraction output is re-joined afterward
// in configuration order (§4.G "Order"). The first terminal error from
// any endpoint aborts the whole scrape — no partial output is emitted.
func (o *Orchestrator) Scrape(ctx context.Context) (Result, error) {
	sem := semaphore.NewWeighted(o.concurrency)
	bodies := make([][]byte, len(o.cfg.Endpoints))
	warningSets := make([][]extract.Warning, len(o.cfg.Endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range o.cfg.Endpoints {
		i, ep := i, ep
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("endpoint %s: %w", ep.Name, err)
			}
			defer sem.Release(1)

			body, warnings, err := o.scrapeOne(gctx, ep)
			if err != nil {
				return err
			}
			bodies[i] = body
			warningSets[i] = warnings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var combined bytes.Buffer
	var warnings []extract.Warning
	for i := range o.cfg.Endpoints {
		combined.Write(bodies[i])
		warnings = append(warnings, warningSets[i]...)
	}

	gz, err := gzipBytes(combined.Bytes())
	if err != nil {
		return Result{}, fmt.Errorf("gzip metrics output: %w", err)
	}
	return Result{Body: gz, Warnings: warnings}, nil
}

func (o *Orchestrator) scrapeOne(ctx context.Context, ep plan.PreparedEndpoint) ([]byte, []extract.Warning, error) {
	start := time.Now()
	body, warnings, err := o.doScrapeOne(ctx, ep)
	if o.metrics != nil {
		o.metrics.duration.WithLabelValues(ep.ID).Observe(time.Since(start).Seconds())
		if err != nil {
			o.metrics.errors.WithLabelValues(ep.ID).Inc()
		}
	}
	return body, warnings, err
}

func (o *Orchestrator) doScrapeOne(ctx context.Context, ep plan.PreparedEndpoint) ([]byte, []extract.Warning, error) {
	raw, err := o.fetcher.Get(ctx, ep.URL.String(), o.timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
	}

	doc, err := selector.Decode(raw)
	if err != nil {
		return nil, nil, &JSONParseError{Endpoint: ep.Name, Err: err}
	}

	var buf bytes.Buffer
	warnings, err := extract.Endpoint(o.cfg, ep, doc, &buf)
	if err != nil {
		return nil, nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
	}
	return buf.Bytes(), warnings, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
