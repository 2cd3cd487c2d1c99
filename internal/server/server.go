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

// Package server implements §4.H's handler surface: "/" (a static
// landing page), "/metrics" (one scrape through the orchestrator), and
// the supplemented "/-/healthy"/"/-/ready" probes, plus a self-metrics
// handler exposing the exporter's own process/build metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioninfo "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoogleCloudPlatform/json-exporter/internal/cache"
	"github.com/GoogleCloudPlatform/json-exporter/internal/httpfetch"
	"github.com/GoogleCloudPlatform/json-exporter/internal/scrape"
)

const landingPage = `<html>
<head><title>JSON Exporter</title></head>
<body>
<h1>JSON Exporter</h1>
<p><a href="/metrics">Metrics</a></p>
</body>
</html>
`

// Scraper is the subset of *scrape.Orchestrator the handler needs.
type Scraper interface {
	Scrape(ctx context.Context) (scrape.Result, error)
}

// Handler builds the exporter's HTTP surface.
type Handler struct {
	logger    log.Logger
	scraper   Scraper
	cache     *cache.Cache
	selfReg   *prometheus.Registry
	buildInfo string
}

// Options configures New.
type Options struct {
	Logger        log.Logger
	Scraper       Scraper
	Cache         *cache.Cache
	SelfRegistry  *prometheus.Registry
	ExporterName  string
	ExporterBuild string
}

// New registers the default self-instrumentation collectors on
// opts.SelfRegistry (if non-nil) and returns a ready-to-mount Handler.
func New(opts Options) *Handler {
	reg := opts.SelfRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioninfo.NewCollector(opts.ExporterName),
	)
	return &Handler{
		logger:    opts.Logger,
		scraper:   opts.Scraper,
		cache:     opts.Cache,
		selfReg:   reg,
		buildInfo: opts.ExporterBuild,
	}
}

// Mux returns the assembled http.ServeMux, grounded on the teacher's
// http.HandleFunc wiring in cmd/rule-evaluator/main.go.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleIndex)
	mux.HandleFunc("/metrics", h.handleMetrics)
	mux.HandleFunc("/-/healthy", h.handleHealthy)
	mux.HandleFunc("/-/ready", h.handleReady)
	mux.Handle("/internal/metrics", promhttp.HandlerFor(h.selfReg, promhttp.HandlerOpts{Registry: h.selfReg}))
	return mux
}

func (h *Handler) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(landingPage))
}

func (h *Handler) handleHealthy(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "json-exporter is Ready.")
}

// handleMetrics implements §4.H's three outcomes, routed through the
// response cache (§4.G).
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	result, err := h.cache.Get(r.Context(), func(ctx context.Context) ([]byte, error) {
		res, err := h.scraper.Scrape(ctx)
		if err != nil {
			return nil, err
		}
		for _, warn := range res.Warnings {
			_ = level.Warn(h.logger).Log("msg", warn.Message, "level", warn.Level)
		}
		return res.Body, nil
	})
	if err != nil {
		if errors.Is(err, cache.ErrNotInitialized) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var ferr *httpfetch.Error
		if errors.As(err, &ferr) && ferr.Kind == httpfetch.KindTimeout {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Header().Set("Content-Encoding", "gzip")
	_, _ = w.Write(result)
}

// NewOrchestratorCache returns the TTL'd response cache that
// handleMetrics routes every scrape through, matching §4.G's "single
// produced body per cache_ttl" contract.
func NewOrchestratorCache(ttl time.Duration) *cache.Cache {
	return cache.New(ttl)
}
