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

package scrape

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/json-exporter/compiler"
	"github.com/GoogleCloudPlatform/json-exporter/config"
)

type fakeFetcher struct {
	byURL map[string]string
	err   map[string]error
}

func (f *fakeFetcher) Get(_ context.Context, u string, _ time.Duration) ([]byte, error) {
	if err, ok := f.err[u]; ok {
		return nil, err
	}
	return []byte(f.byURL[u]), nil
}

func gunzip(t *testing.T, b []byte) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(out)
}

func TestScrapeConcatenatesInConfigOrder(t *testing.T) {
	t.Parallel()
	c, err := config.Parse([]byte(`
endpoints:
  - id: a
    url: /a
    metrics: [{path: x}]
  - id: b
    url: /b
    metrics: [{path: y}]
`))
	require.NoError(t, err)
	base, err := url.Parse("http://example.invalid/")
	require.NoError(t, err)
	p, err := compiler.Compile(c, compiler.Options{BaseURL: base})
	require.NoError(t, err)

	fetcher := &fakeFetcher{byURL: map[string]string{
		"http://example.invalid/a": `{"x":1}`,
		"http://example.invalid/b": `{"y":2}`,
	}}

	o := New(p, fetcher, 2, time.Second, nil)
	result, err := o.Scrape(context.Background())
	require.NoError(t, err)
	out := gunzip(t, result.Body)

	idxX := bytes.Index([]byte(out), []byte("x "))
	idxY := bytes.Index([]byte(out), []byte("y "))
	assert.Less(t, idxX, idxY)
}

func TestScrapeAbortsOnFirstTerminalError(t *testing.T) {
	t.Parallel()
	c, err := config.Parse([]byte(`
endpoints:
  - id: a
    url: /a
    metrics: [{path: x}]
  - id: b
    url: /b
    metrics: [{path: y}]
`))
	require.NoError(t, err)
	base, err := url.Parse("http://example.invalid/")
	require.NoError(t, err)
	p, err := compiler.Compile(c, compiler.Options{BaseURL: base})
	require.NoError(t, err)

	boom := errors.New("connection refused")
	fetcher := &fakeFetcher{
		byURL: map[string]string{"http://example.invalid/a": `{"x":1}`},
		err:   map[string]error{"http://example.invalid/b": boom},
	}

	o := New(p, fetcher, 2, time.Second, nil)
	_, err = o.Scrape(context.Background())
	require.Error(t, err)
}

func TestScrapeParseErrorIsClassified(t *testing.T) {
	t.Parallel()
	c, err := config.Parse([]byte(`
endpoints:
  - id: a
    url: /a
    metrics: [{path: x}]
`))
	require.NoError(t, err)
	base, err := url.Parse("http://example.invalid/")
	require.NoError(t, err)
	p, err := compiler.Compile(c, compiler.Options{BaseURL: base})
	require.NoError(t, err)

	fetcher := &fakeFetcher{byURL: map[string]string{"http://example.invalid/a": `not json`}}
	o := New(p, fetcher, 1, time.Second, nil)
	_, err = o.Scrape(context.Background())
	require.Error(t, err)
	var perr *JSONParseError
	require.ErrorAs(t, err, &perr)
}

func TestScrapeRecordsPerEndpointMetrics(t *testing.T) {
	t.Parallel()
	c, err := config.Parse([]byte(`
endpoints:
  - id: a
    url: /a
    metrics: [{path: x}]
  - id: b
    url: /b
    metrics: [{path: y}]
`))
	require.NoError(t, err)
	base, err := url.Parse("http://example.invalid/")
	require.NoError(t, err)
	p, err := compiler.Compile(c, compiler.Options{BaseURL: base})
	require.NoError(t, err)

	boom := errors.New("connection refused")
	fetcher := &fakeFetcher{
		byURL: map[string]string{"http://example.invalid/a": `{"x":1}`},
		err:   map[string]error{"http://example.invalid/b": boom},
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := New(p, fetcher, 2, time.Second, metrics)
	_, err = o.Scrape(context.Background())
	require.Error(t, err)

	assert.Equal(t, float64(1), counterValue(t, metrics.errors.WithLabelValues("b")))
	assert.Equal(t, float64(0), counterValue(t, metrics.errors.WithLabelValues("a")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "json_exporter_endpoint_scrape_duration_seconds")
	assert.Contains(t, names, "json_exporter_endpoint_scrape_errors_total")
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
