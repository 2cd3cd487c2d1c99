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

// Package compiler implements §4.D: it validates a raw config.Config
// and compiles it into an immutable plan.PreparedConfig — the only
// place in this module that may fail for reasons of configuration.
package compiler

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/GoogleCloudPlatform/json-exporter/config"
	"github.com/GoogleCloudPlatform/json-exporter/filter"
	"github.com/GoogleCloudPlatform/json-exporter/plan"
	"github.com/GoogleCloudPlatform/json-exporter/selector"
	"github.com/GoogleCloudPlatform/json-exporter/template"
	"github.com/GoogleCloudPlatform/json-exporter/urlcompose"
)

// Error kinds, the §7 subcases of ConfigError.
const (
	KindTemplateSyntax   = "TemplateSyntax"
	KindSelectorSyntax   = "SelectorSyntax"
	KindUnknownFilter    = "UnknownFilter"
	KindUnknownPathName  = "UnknownPathName"
	KindUnknownParamName = "UnknownParamName"
	KindPathRequired     = "PathRequired"
	KindNotABaseURL      = "NotABaseUrl"
	KindValidation       = "Validation"
)

// ConfigError is raised by the compiler; it always aborts startup.
type ConfigError struct {
	Kind string
	At   string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error [%s] at %s: %v", e.Kind, e.At, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func wrap(kind, at string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Kind: kind, At: at, Err: err}
}

// kindFromURLComposeErr classifies an urlcompose error into its §7 kind.
func kindFromURLComposeErr(err error) string {
	switch err.(type) {
	case *urlcompose.UnknownPathNameError:
		return KindUnknownPathName
	case *urlcompose.UnknownParamNameError:
		return KindUnknownParamName
	case *urlcompose.PathRequiredError:
		return KindPathRequired
	case *urlcompose.NotABaseURLError:
		return KindNotABaseURL
	default:
		return KindValidation
	}
}

// Options configures one compilation pass.
type Options struct {
	// BaseURL is the absolute base URL every endpoint and global_labels
	// entry composes against (§4.F).
	BaseURL *url.URL
	// EndpointOverrides maps an endpoint id to a --endpoint-url DSL
	// override applied on top of its configured URL.
	EndpointOverrides map[string]string
	// Namespace overrides config.Namespace when non-empty (§6 CLI).
	Namespace string
}

// Compile validates cfg and produces the immutable, sharable plan.
func Compile(cfg *config.Config, opts Options) (*plan.PreparedConfig, error) {
	if opts.BaseURL == nil {
		return nil, wrap(KindNotABaseURL, "base-url", fmt.Errorf("no base URL configured"))
	}

	registry := filter.NewRegistry()

	namespace := cfg.Namespace
	if opts.Namespace != "" {
		namespace = opts.Namespace
	}

	globalLabels := make([]plan.PreparedGlobalLabels, 0, len(cfg.GlobalLabels))
	for i, gl := range cfg.GlobalLabels {
		at := fmt.Sprintf("global_labels[%d]", i)
		compiled, err := compileGlobalLabels(gl, at, opts.BaseURL)
		if err != nil {
			return nil, err
		}
		globalLabels = append(globalLabels, compiled)
	}

	endpoints := make([]plan.PreparedEndpoint, 0, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		at := fmt.Sprintf("endpoints[%d]", i)
		compiled, err := compileEndpoint(ep, at, opts, registry)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, compiled)
	}

	return &plan.PreparedConfig{
		Namespace:    namespace,
		GlobalLabels: globalLabels,
		Endpoints:    endpoints,
	}, nil
}

func compileGlobalLabels(gl config.GlobalLabels, at string, base *url.URL) (plan.PreparedGlobalLabels, error) {
	res, err := urlcompose.Resolve(gl.URL, nil, nil, true)
	if err != nil {
		return plan.PreparedGlobalLabels{}, wrap(kindFromURLComposeErr(err), at+".url", err)
	}
	composed, err := urlcompose.Compose(base, res)
	if err != nil {
		return plan.PreparedGlobalLabels{}, wrap(kindFromURLComposeErr(err), at+".url", err)
	}
	labels, err := compileLabels(gl.Labels, at+".labels")
	if err != nil {
		return plan.PreparedGlobalLabels{}, err
	}
	return plan.PreparedGlobalLabels{URL: composed, Labels: labels}, nil
}

func compileEndpoint(ep config.Endpoint, at string, opts Options, registry *filter.Registry) (plan.PreparedEndpoint, error) {
	paths := urlcompose.PathParts(ep.URLParts.Paths)
	params := make(urlcompose.ParamParts, len(ep.URLParts.Params))
	for key, qp := range ep.URLParts.Params {
		name := qp.Name
		if name == "" {
			name = key
		}
		params[key] = urlcompose.ParamSpec{Name: name, Value: qp.Value}
	}

	res, err := urlcompose.Resolve(ep.URL, paths, params, true)
	if err != nil {
		return plan.PreparedEndpoint{}, wrap(kindFromURLComposeErr(err), at+".url", err)
	}

	if override, ok := opts.EndpointOverrides[ep.ID]; ok && ep.ID != "" {
		ores, err := urlcompose.Resolve(override, paths, params, false)
		if err != nil {
			return plan.PreparedEndpoint{}, wrap(kindFromURLComposeErr(err), at+".url(override)", err)
		}
		res = urlcompose.ApplyOverride(res, ores)
	}

	composed, err := urlcompose.Compose(opts.BaseURL, res)
	if err != nil {
		return plan.PreparedEndpoint{}, wrap(kindFromURLComposeErr(err), at+".url", err)
	}

	metrics := make([]plan.PreparedMetric, 0, len(ep.Metrics))
	for i, m := range ep.Metrics {
		childAt := fmt.Sprintf("%s.metrics[%d]", at, i)
		pm, err := compileMetric(m, childAt, plan.Unset, registry)
		if err != nil {
			return plan.PreparedEndpoint{}, err
		}
		metrics = append(metrics, pm)
	}

	return plan.PreparedEndpoint{ID: ep.ID, URL: composed, Name: ep.Name, Metrics: metrics}, nil
}

func compileMetric(m config.Metric, at string, parentType plan.MetricType, registry *filter.Registry) (plan.PreparedMetric, error) {
	sel, err := selector.Compile(m.Path)
	if err != nil {
		return plan.PreparedMetric{}, wrap(KindSelectorSyntax, at+".path", err)
	}

	var nameTmpl plan.CompiledTemplate
	if m.NamePresent {
		raw, err := template.Parse(m.Name)
		if err != nil {
			return plan.PreparedMetric{}, wrap(KindTemplateSyntax, at+".name", err)
		}
		nameTmpl, err = compileTemplate(raw)
		if err != nil {
			return plan.PreparedMetric{}, wrap(KindSelectorSyntax, at+".name", err)
		}
	}

	labels, err := compileLabels(m.Labels, at+".labels")
	if err != nil {
		return plan.PreparedMetric{}, err
	}

	effectiveType := plan.InheritType(parentType, mapConfigType(m.Type))

	filters := make([]filter.Filter, 0, len(m.Modifiers))
	for i, mod := range m.Modifiers {
		args, err := yamlNodeToJSON(&mod.Args)
		if err != nil {
			return plan.PreparedMetric{}, wrap(KindValidation, fmt.Sprintf("%s.modifiers[%d].args", at, i), err)
		}
		f, err := registry.Build(mod.Name, args)
		if err != nil {
			return plan.PreparedMetric{}, wrap(KindUnknownFilter, fmt.Sprintf("%s.modifiers[%d]", at, i), err)
		}
		filters = append(filters, f)
	}

	children := make([]plan.PreparedMetric, 0, len(m.Metrics))
	for i, child := range m.Metrics {
		childAt := fmt.Sprintf("%s.metrics[%d]", at, i)
		pm, err := compileMetric(child, childAt, effectiveType, registry)
		if err != nil {
			return plan.PreparedMetric{}, err
		}
		children = append(children, pm)
	}

	return plan.PreparedMetric{
		Selector:     sel,
		Type:         effectiveType,
		NamePresent:  m.NamePresent,
		NameTemplate: nameTmpl,
		Filters:      filters,
		Labels:       labels,
		Children:     children,
	}, nil
}

func compileLabels(labels []config.Label, at string) (plan.PreparedLabels, error) {
	out := make(plan.PreparedLabels, 0, len(labels))
	for i, l := range labels {
		raw, err := template.Parse(l.Value)
		if err != nil {
			return nil, wrap(KindTemplateSyntax, fmt.Sprintf("%s[%d].value", at, i), err)
		}
		tmpl, err := compileTemplate(raw)
		if err != nil {
			return nil, wrap(KindSelectorSyntax, fmt.Sprintf("%s[%d].value", at, i), err)
		}
		out = append(out, plan.PreparedLabel{Name: l.Name, Template: tmpl})
	}
	return out, nil
}

// compileTemplate resolves every SelectorRef node's raw expression into
// a compiled, validated *selector.Selector (§4.A/§4.B), so a malformed
// "${...}" selector fails ConfigError at compile time.
func compileTemplate(nodes []template.Node) (plan.CompiledTemplate, error) {
	out := make(plan.CompiledTemplate, 0, len(nodes))
	for _, n := range nodes {
		tn := plan.TemplateNode{Kind: n.Kind, Text: n.Text, Index: n.Index}
		if n.Kind == template.SelectorRef {
			sel, err := selector.Compile(n.Expr)
			if err != nil {
				return nil, err
			}
			tn.Selector = sel
		}
		out = append(out, tn)
	}
	return out, nil
}

func mapConfigType(t config.MetricType) plan.MetricType {
	switch t {
	case config.TypeGauge:
		return plan.Gauge
	case config.TypeCounter:
		return plan.Counter
	case config.TypeUntyped:
		return plan.Untyped
	default:
		return plan.Unset
	}
}

// yamlNodeToJSON re-encodes a parsed YAML args node as JSON so filter
// constructors (§4.C) can decode it with encoding/json regardless of
// whether it was written as a scalar, list or mapping in YAML.
func yamlNodeToJSON(n interface{ Decode(out interface{}) error }) (json.RawMessage, error) {
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode filter args: %w", err)
	}
	if v == nil {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal filter args: %w", err)
	}
	return b, nil
}
