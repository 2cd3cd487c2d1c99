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

package compiler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/json-exporter/config"
	"github.com/GoogleCloudPlatform/json-exporter/plan"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestCompileNamePresenceTracked(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
endpoints:
  - url: /stats
    name: es
    metrics:
      - _all.total
      - path: docs.count
        name: ""
`))
	require.NoError(t, err)

	p, err := Compile(cfg, Options{BaseURL: mustURL(t, "http://es:9200/")})
	require.NoError(t, err)
	require.Len(t, p.Endpoints, 1)
	metrics := p.Endpoints[0].Metrics
	require.Len(t, metrics, 2)
	assert.False(t, metrics[0].NamePresent)
	assert.True(t, metrics[1].NamePresent)
	assert.Empty(t, metrics[1].NameTemplate)
}

func TestCompileTypeInheritance(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
endpoints:
  - url: /stats
    name: es
    metrics:
      - path: _all
        type: counter
        metrics:
          - path: total
          - path: other
            type: gauge
`))
	require.NoError(t, err)

	p, err := Compile(cfg, Options{BaseURL: mustURL(t, "http://es:9200/")})
	require.NoError(t, err)

	parent := p.Endpoints[0].Metrics[0]
	assert.Equal(t, plan.Counter, parent.Type)
	assert.Equal(t, plan.Counter, parent.Children[0].Type)
	assert.Equal(t, plan.Gauge, parent.Children[1].Type)
}

func TestCompileEndpointURLOverride(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
endpoints:
  - id: es
    url: /_cluster/health
    name: es
    metrics: []
`))
	require.NoError(t, err)

	p, err := Compile(cfg, Options{
		BaseURL:           mustURL(t, "http://localhost:9200/"),
		EndpointOverrides: map[string]string{"es": "/?pretty=true"},
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9200/_cluster/health?pretty=true", p.Endpoints[0].URL.String())
}

func TestCompileFilterModifiers(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
endpoints:
  - url: /stats
    name: es
    metrics:
      - path: query_time_in_millis
        name: query_time_in_seconds
        modifiers:
          - name: mul
            args: 0.001
`))
	require.NoError(t, err)

	p, err := Compile(cfg, Options{BaseURL: mustURL(t, "http://es:9200/")})
	require.NoError(t, err)
	require.Len(t, p.Endpoints[0].Metrics[0].Filters, 1)
}

func TestCompileUnknownFilterFails(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
endpoints:
  - url: /stats
    name: es
    metrics:
      - path: foo
        modifiers:
          - name: bogus
            args: 1
`))
	require.NoError(t, err)

	_, err = Compile(cfg, Options{BaseURL: mustURL(t, "http://es:9200/")})
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindUnknownFilter, cerr.Kind)
}

func TestCompileRequiresBaseURL(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`endpoints: []`))
	require.NoError(t, err)

	_, err = Compile(cfg, Options{})
	require.Error(t, err)
}
