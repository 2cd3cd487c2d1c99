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

// Package config holds the raw, as-written-in-YAML configuration types
// of §3. Nothing in this package validates cross-references or compiles
// templates/selectors — that's compiler's job.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level document.
type Config struct {
	Namespace    string         `yaml:"namespace,omitempty"`
	GlobalLabels []GlobalLabels `yaml:"global_labels,omitempty"`
	Endpoints    []Endpoint     `yaml:"endpoints"`
}

// GlobalLabels binds a set of labels to every endpoint whose composed
// URL starts with url's composed form (matched at extraction time by
// extract.Endpoint).
type GlobalLabels struct {
	URL    string  `yaml:"url"`
	Labels []Label `yaml:"labels,omitempty"`
}

// Endpoint describes one scraped URL and the metric tree to extract
// from its JSON response.
type Endpoint struct {
	ID       string     `yaml:"id,omitempty"`
	URL      string     `yaml:"url"`
	URLParts URLParts   `yaml:"url_parts,omitempty"`
	Name     string     `yaml:"name"`
	Metrics  []Metric   `yaml:"metrics"`
}

// URLParts holds the named path segments and query parameters an
// endpoint's URL DSL (§4.F) may reference.
type URLParts struct {
	Paths  map[string]string     `yaml:"paths,omitempty"`
	Params map[string]QueryParam `yaml:"params,omitempty"`
}

// QueryParam is one entry of url_parts.params. A bare YAML scalar
// "foo: bar" decodes to QueryParam{Value: "bar"}, with Name defaulting
// to the map key "foo" at compile time.
type QueryParam struct {
	Name  string `yaml:"name,omitempty"`
	Value string `yaml:"value,omitempty"`
}

// UnmarshalYAML implements the scalar-or-mapping shorthand for QueryParam.
func (q *QueryParam) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		q.Value = value.Value
		return nil
	}
	type plain QueryParam
	var p plain
	if err := value.Decode(&p); err != nil {
		return fmt.Errorf("decode query param: %w", err)
	}
	*q = QueryParam(p)
	return nil
}

// Label is a name/template-value pair.
type Label struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// MetricType is the raw, as-configured Prometheus metric type.
type MetricType string

const (
	TypeUnset   MetricType = ""
	TypeGauge   MetricType = "gauge"
	TypeCounter MetricType = "counter"
	TypeUntyped MetricType = "untyped"
)

// Filter is one named modifier with its free-form YAML args.
type Filter struct {
	Name string    `yaml:"name"`
	Args yaml.Node `yaml:"args,omitempty"`
}

// Metric is one node of a configured metric tree. A bare YAML string
// "foo.bar" decodes as Metric{Path: "foo.bar"}.
//
// NamePresent distinguishes "name: \"\"" (present, empty string — still
// triggers the empty-template behavior, not auto-naming) from the field
// being entirely absent (NamePresent == false, auto-naming from path).
type Metric struct {
	Path        string     `yaml:"path"`
	Name        string     `yaml:"name"`
	NamePresent bool       `yaml:"-"`
	Type        MetricType `yaml:"type,omitempty"`
	Modifiers   []Filter   `yaml:"modifiers,omitempty"`
	Labels      []Label    `yaml:"labels,omitempty"`
	Metrics     []Metric   `yaml:"metrics,omitempty"`
}

// UnmarshalYAML implements the bare-string-or-mapping shorthand and
// tracks whether "name" was present in the mapping form.
func (m *Metric) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		m.Path = value.Value
		return nil
	}
	type plain Metric
	var p plain
	if err := value.Decode(&p); err != nil {
		return fmt.Errorf("decode metric: %w", err)
	}
	*m = Metric(p)
	for i := 0; i < len(value.Content)-1; i += 2 {
		if value.Content[i].Value == "name" {
			m.NamePresent = true
		}
	}
	return nil
}

// Load reads and parses a YAML config file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
