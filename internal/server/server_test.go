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

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/json-exporter/internal/cache"
	"github.com/GoogleCloudPlatform/json-exporter/internal/httpfetch"
	"github.com/GoogleCloudPlatform/json-exporter/internal/scrape"
)

type fakeScraper struct {
	result scrape.Result
	err    error
}

func (f *fakeScraper) Scrape(context.Context) (scrape.Result, error) {
	return f.result, f.err
}

func newHandler(t *testing.T, s Scraper) *Handler {
	t.Helper()
	return New(Options{
		Logger:       log.NewNopLogger(),
		Scraper:      s,
		Cache:        cache.New(time.Minute),
		SelfRegistry: prometheus.NewRegistry(),
		ExporterName: "json_exporter_test",
	})
}

func TestHandleIndexServesHTML(t *testing.T) {
	t.Parallel()
	h := newHandler(t, &fakeScraper{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "JSON Exporter")
}

func TestHandleMetricsSuccess(t *testing.T) {
	t.Parallel()
	h := newHandler(t, &fakeScraper{result: scrape.Result{Body: []byte("compressed")}})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "compressed", rec.Body.String())
}

func TestHandleMetricsTimeout(t *testing.T) {
	t.Parallel()
	h := newHandler(t, &fakeScraper{err: &httpfetch.Error{Kind: httpfetch.KindTimeout, URL: "http://x", Err: errors.New("deadline exceeded")}})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHandleMetricsOtherError(t *testing.T) {
	t.Parallel()
	h := newHandler(t, &fakeScraper{err: errors.New("boom")})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleProbes(t *testing.T) {
	t.Parallel()
	h := newHandler(t, &fakeScraper{})
	for _, path := range []string{"/-/healthy", "/-/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.Mux().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestSelfMetricsExposed(t *testing.T) {
	t.Parallel()
	h := newHandler(t, &fakeScraper{})
	req := httptest.NewRequest(http.MethodGet, "/internal/metrics", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}
