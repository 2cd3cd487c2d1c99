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

// Package plan holds the prepared-plan types of §3: the immutable,
// compiled form of a configuration that the extraction engine walks
// against a JSON document. A PreparedConfig is safe to share, read-only,
// across concurrent scrapes.
package plan

import (
	"net/url"

	"github.com/GoogleCloudPlatform/json-exporter/filter"
	"github.com/GoogleCloudPlatform/json-exporter/selector"
	"github.com/GoogleCloudPlatform/json-exporter/template"
)

// TemplateNode is one element of a CompiledTemplate (§3). It mirrors
// template.Node but replaces a SelectorRef's raw expression with an
// already-compiled, already-validated *selector.Selector, so that a
// malformed selector inside "${...}" fails at config-compile time
// (SelectorSyntax) rather than on the first scrape.
type TemplateNode struct {
	Kind     template.Kind
	Text     string
	Index    uint32
	Selector *selector.Selector
}

// CompiledTemplate is a sequence of literal/positional/selector nodes,
// ready to interpret against a selector.Match.
type CompiledTemplate []TemplateNode

// MetricType is the effective Prometheus metric type. The zero value,
// Unset, means "not declared" — distinct from Untyped, which is a
// concrete declared type.
type MetricType int

const (
	Unset MetricType = iota
	Gauge
	Counter
	Untyped
)

func (t MetricType) String() string {
	switch t {
	case Gauge:
		return "gauge"
	case Counter:
		return "counter"
	case Untyped:
		return "untyped"
	default:
		return ""
	}
}

// PreparedLabel is one compiled label: a name plus a compiled template.
type PreparedLabel struct {
	Name     string
	Template CompiledTemplate
}

// PreparedLabels is an ordered set of compiled labels.
type PreparedLabels []PreparedLabel

// PreparedMetric is one compiled node of a metric tree.
type PreparedMetric struct {
	Selector     *selector.Selector
	Type         MetricType
	NamePresent  bool // whether a name template was configured at all
	NameTemplate CompiledTemplate
	Filters      []filter.Filter
	Labels       PreparedLabels
	Children     []PreparedMetric
}

// PreparedEndpoint is one compiled, URL-resolved endpoint.
type PreparedEndpoint struct {
	ID      string
	URL     *url.URL
	Name    string
	Metrics []PreparedMetric
}

// PreparedGlobalLabels binds a compiled label set to the absolute URL
// prefix it applies under.
type PreparedGlobalLabels struct {
	URL    *url.URL
	Labels PreparedLabels
}

// PreparedConfig is the full compiled plan.
type PreparedConfig struct {
	Namespace    string
	GlobalLabels []PreparedGlobalLabels
	Endpoints    []PreparedEndpoint
}

// LabelKV is one resolved, already-escaped label.
type LabelKV struct {
	Key   string
	Value string
}

// Labels is a resolved metric's label set prior to sorting. Order of
// entries does not matter; the extraction engine sorts by key at
// emission time (§3 Invariant 3 / §8.3).
type Labels []LabelKV

// Get returns the value bound to key, if any.
func (l Labels) Get(key string) (string, bool) {
	for _, kv := range l {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// WithDefault returns l with key set to value only if key is absent,
// implementing the child-inherits-absent-keys rule (§3 Invariant 4).
func (l Labels) WithDefault(key, value string) Labels {
	if _, ok := l.Get(key); ok {
		return l
	}
	out := make(Labels, len(l), len(l)+1)
	copy(out, l)
	return append(out, LabelKV{Key: key, Value: value})
}

// Set returns l with key set to value, overwriting any existing value.
// The extraction engine does not call it; a metric's own labels are
// combined with its parent's through Merge.
func (l Labels) Set(key, value string) Labels {
	out := make(Labels, 0, len(l)+1)
	replaced := false
	for _, kv := range l {
		if kv.Key == key {
			out = append(out, LabelKV{Key: key, Value: value})
			replaced = true
			continue
		}
		out = append(out, kv)
	}
	if !replaced {
		out = append(out, LabelKV{Key: key, Value: value})
	}
	return out
}

// Merge applies parent's labels as defaults beneath l (l's own entries
// always win), per the inherit-don't-override rule.
func (l Labels) Merge(parent Labels) Labels {
	out := l
	for _, kv := range parent {
		out = out.WithDefault(kv.Key, kv.Value)
	}
	return out
}

// ResolvedMetric is a metric instance with a concrete name, type and
// label set, ready for emission. Its lifetime is local to one
// extraction pass.
type ResolvedMetric struct {
	Name   string
	Type   MetricType
	Labels Labels
}

// JoinName implements §3 Invariant 3: the `_`-join of the ancestor
// chain's contributed names, absorbing empty segments so there is no
// leading/trailing or doubled underscore.
func JoinName(parent, segment string) string {
	switch {
	case parent == "":
		return segment
	case segment == "":
		return parent
	default:
		return parent + "_" + segment
	}
}

// InheritType implements §3 Invariant 2: a child inherits its parent's
// type when it does not declare one of its own; it never reverts to Unset.
func InheritType(parent, child MetricType) MetricType {
	if child != Unset {
		return child
	}
	return parent
}
