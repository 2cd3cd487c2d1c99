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

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"

	"github.com/GoogleCloudPlatform/json-exporter/compiler"
	"github.com/GoogleCloudPlatform/json-exporter/config"
	"github.com/GoogleCloudPlatform/json-exporter/internal/httpfetch"
	"github.com/GoogleCloudPlatform/json-exporter/internal/scrape"
	"github.com/GoogleCloudPlatform/json-exporter/internal/server"
)

// options holds every flag value, mirroring the teacher's
// evaluatorOptions-plus-setupFlags pattern in
// cmd/rule-evaluator/main.go.
type options struct {
	Host        string
	Port        int
	BaseURL     *url.URL
	Namespace   string
	TimeoutMs   int
	Concurrency int
	CacheTTL    time.Duration
	ConfigFile  string
	ConfigCheck bool

	endpointOverrides []string
}

func (o *options) setupFlags(a *kingpin.Application) {
	a.Flag("host", "Address to listen on for HTTP requests.").
		Default("127.0.0.1").StringVar(&o.Host)
	a.Flag("port", "Port to listen on for HTTP requests.").
		Default("9114").IntVar(&o.Port)
	a.Flag("base-url", "Absolute base URL every endpoint and global_labels URL is resolved against. No query string or fragment; a trailing '/' is added if missing.").
		Required().URLVar(&o.BaseURL)
	a.Flag("endpoint-url", "Override the URL DSL for endpoint <id>, given as id:dsl. Repeatable.").
		PlaceHolder("<id:dsl>").StringsVar(&o.endpointOverrides)
	a.Flag("timeout-ms", "Per-endpoint absolute fetch deadline, in milliseconds.").
		Default("10000").IntVar(&o.TimeoutMs)
	a.Flag("namespace", "Overrides the config file's namespace, if set.").
		StringVar(&o.Namespace)
	a.Flag("scrape.concurrency", "Maximum number of endpoint fetches in flight at once.").
		Default("10").IntVar(&o.Concurrency)
	a.Flag("scrape.cache-ttl", "How long a produced scrape response is served before being recomputed.").
		Default("5s").DurationVar(&o.CacheTTL)
	a.Flag("config.check", "Load and compile the config file, print 'Config file is ok', and exit without starting a server.").
		Default("false").BoolVar(&o.ConfigCheck)
	a.Arg("config.file", "Path to the YAML configuration file.").
		Required().StringVar(&o.ConfigFile)
}

// parseEndpointOverrides splits each --endpoint-url value at its first
// colon into (endpoint id, DSL override), per §6.
func parseEndpointOverrides(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, entry := range raw {
		idx := strings.Index(entry, ":")
		if idx < 0 {
			return nil, fmt.Errorf("--endpoint-url %q: expected <id:dsl>", entry)
		}
		out[entry[:idx]] = entry[idx+1:]
	}
	return out, nil
}

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	a := kingpin.New("json_exporter", "Exports arbitrary JSON HTTP endpoints as Prometheus metrics, driven by a declarative YAML config.")
	logLevel := a.Flag("log.level", "The level of logging. Can be one of 'debug', 'info', 'warn', 'error'.").
		Default("info").Enum("debug", "info", "warn", "error")
	a.HelpFlag.Short('h')
	a.Version(version.Print("json_exporter"))

	var opts options
	opts.setupFlags(a)

	if _, err := a.Parse(os.Args[1:]); err != nil {
		_ = level.Error(logger).Log("msg", "error parsing commandline arguments", "err", err)
		a.Usage(os.Args[1:])
		os.Exit(2)
	}

	switch strings.ToLower(*logLevel) {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	content, err := os.ReadFile(opts.ConfigFile)
	if err != nil {
		_ = level.Error(logger).Log("msg", "reading config file", "file", opts.ConfigFile, "err", err)
		os.Exit(1)
	}
	cfg, err := config.Parse(content)
	if err != nil {
		_ = level.Error(logger).Log("msg", "parsing config file", "file", opts.ConfigFile, "err", err)
		os.Exit(1)
	}

	overrides, err := parseEndpointOverrides(opts.endpointOverrides)
	if err != nil {
		_ = level.Error(logger).Log("msg", "invalid --endpoint-url", "err", err)
		os.Exit(1)
	}

	prepared, err := compiler.Compile(cfg, compiler.Options{
		BaseURL:           opts.BaseURL,
		EndpointOverrides: overrides,
		Namespace:         opts.Namespace,
	})
	if err != nil {
		_ = level.Error(logger).Log("msg", "compiling config", "err", err)
		os.Exit(1)
	}

	if opts.ConfigCheck {
		fmt.Println("Config file is ok")
		os.Exit(0)
	}

	reg := prometheus.NewRegistry()
	fetcher := httpfetch.New()
	scrapeMetrics := scrape.NewMetrics(reg)
	orchestrator := scrape.New(prepared, fetcher, opts.Concurrency, time.Duration(opts.TimeoutMs)*time.Millisecond, scrapeMetrics)

	handler := server.New(server.Options{
		Logger:        logger,
		Scraper:       orchestrator,
		Cache:         server.NewOrchestratorCache(opts.CacheTTL),
		SelfRegistry:  reg,
		ExporterName:  "json_exporter",
		ExporterBuild: version.Print("json_exporter"),
	})

	listenAddr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	httpServer := &http.Server{Addr: listenAddr, Handler: handler.Mux()}

	var g run.Group
	{
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case <-term:
				_ = level.Info(logger).Log("msg", "received SIGTERM, exiting gracefully...")
			case <-cancel:
			}
			return nil
		}, func(error) {
			close(cancel)
		})
	}
	{
		g.Add(func() error {
			_ = level.Info(logger).Log("msg", "starting web server", "listen", listenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				_ = level.Error(logger).Log("msg", "server failed to shut down gracefully", "err", err)
			}
		})
	}

	if err := g.Run(); err != nil {
		_ = level.Error(logger).Log("msg", "running json_exporter failed", "err", err)
		os.Exit(1)
	}
}
