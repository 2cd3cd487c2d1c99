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

// Package extract implements §4.E: the stack-driven evaluator that walks
// a PreparedEndpoint against a decoded JSON document and writes
// Prometheus text-format output, one endpoint at a time. A failure here
// never aborts the scrape; it is recorded as a Warning and the
// offending sample is dropped.
package extract

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/GoogleCloudPlatform/json-exporter/plan"
	"github.com/GoogleCloudPlatform/json-exporter/selector"
	"github.com/GoogleCloudPlatform/json-exporter/template"
)

// Warning is a non-fatal diagnostic produced while extracting one
// endpoint's samples.
type Warning struct {
	Level   string
	Message string
}

func (w Warning) String() string { return fmt.Sprintf("%s: %s", w.Level, w.Message) }

// PathIndexOutOfRangeError is raised when a $N placeholder references a
// path step beyond the current match's depth.
type PathIndexOutOfRangeError struct{ Index uint32 }

func (e *PathIndexOutOfRangeError) Error() string {
	return fmt.Sprintf("Invalid path index: %d", e.Index)
}

// RootNotAllowedError is raised when a $N placeholder resolves to the
// document root step itself.
type RootNotAllowedError struct{ Index uint32 }

func (e *RootNotAllowedError) Error() string {
	return fmt.Sprintf("path index %d resolves to the document root", e.Index)
}

// Endpoint extracts one endpoint's samples from doc and writes
// Prometheus text-format output to w. cfg supplies the namespace and
// the global_labels bound to this endpoint by URL prefix (§3). The
// returned warnings never imply a failed write; err is non-nil only on
// an I/O failure of w itself.
func Endpoint(cfg *plan.PreparedConfig, ep plan.PreparedEndpoint, doc selector.Value, w io.Writer) ([]Warning, error) {
	bw := bufio.NewWriter(w)
	eng := &engine{seenTypes: make(map[string]plan.MetricType), w: bw}
	root := eng.rootResolvedMetric(cfg, ep, doc)
	eng.run(ep.Metrics, doc, root)
	if err := bw.Flush(); err != nil {
		return eng.warnings, fmt.Errorf("flush endpoint %s output: %w", ep.Name, err)
	}
	return eng.warnings, nil
}

type contextEntry struct {
	Value    selector.Value
	Resolved plan.ResolvedMetric
}

// frame is one level of the explicit walk stack (§9 "Recursion"). A nil
// parent means "match against the document itself using the root
// resolved metric" — true only for the initial frame.
type frame struct {
	metrics []plan.PreparedMetric
	idx     int
	parent  []contextEntry
}

type engine struct {
	seenTypes map[string]plan.MetricType
	warnings  []Warning
	w         *bufio.Writer
}

func (e *engine) warn(format string, args ...interface{}) {
	e.warnings = append(e.warnings, Warning{Level: "warn", Message: fmt.Sprintf(format, args...)})
}

// rootResolvedMetric seeds the root name as the namespace joined with
// the endpoint's own name (the same name-join every other Metric.name
// goes through, never a label write), and its labels as every
// global_labels entry whose url is a prefix of this endpoint's
// composed URL (first-matched label wins on conflicts).
func (e *engine) rootResolvedMetric(cfg *plan.PreparedConfig, ep plan.PreparedEndpoint, doc selector.Value) plan.ResolvedMetric {
	rootMatch := selector.Match{Value: doc, Path: []selector.Step{{Kind: selector.Root}}}

	var labels plan.Labels
	for _, gl := range cfg.GlobalLabels {
		if !urlUnderPrefix(gl.URL, ep.URL) {
			continue
		}
		glLabels, err := resolveLabels(gl.Labels, rootMatch)
		if err != nil {
			e.warn("global label at %s: %v", gl.URL, err)
			continue
		}
		for _, kv := range glLabels {
			labels = labels.WithDefault(kv.Key, kv.Value)
		}
	}

	name := plan.JoinName(cfg.Namespace, ep.Name)
	return plan.ResolvedMetric{Name: name, Type: plan.Unset, Labels: labels}
}

func urlUnderPrefix(prefix, target *url.URL) bool {
	return strings.HasPrefix(target.String(), prefix.String())
}

// run walks topMetrics against doc using an explicit stack of frames,
// each holding an iterator over one level's metrics and the parent
// context list it matches against — a depth-first walk that bounds
// call depth independent of config nesting (§9).
func (e *engine) run(topMetrics []plan.PreparedMetric, doc selector.Value, root plan.ResolvedMetric) {
	stack := []*frame{{metrics: topMetrics}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.idx >= len(top.metrics) {
			stack = stack[:len(stack)-1]
			continue
		}
		metric := top.metrics[top.idx]
		top.idx++

		parentEntries := top.parent
		if parentEntries == nil {
			parentEntries = []contextEntry{{Value: doc, Resolved: root}}
		}

		var ctxList []contextEntry
		for _, pe := range parentEntries {
			for _, m := range metric.Selector.Find(pe.Value) {
				resolved, err := resolveMatch(metric, m, pe.Resolved)
				if err != nil {
					e.warn("resolving %s: %v", metric.Selector.Expr(), err)
					continue
				}
				ctxList = append(ctxList, contextEntry{Value: m.Value, Resolved: resolved})
			}
		}

		if len(metric.Children) == 0 {
			for _, ce := range ctxList {
				e.emitLeaf(metric, ce)
			}
			continue
		}
		if len(ctxList) > 0 {
			stack = append(stack, &frame{metrics: metric.Children, parent: ctxList})
		}
	}
}

// resolveMatch turns one selector Match into a concrete ResolvedMetric,
// implementing §3 Invariants 3 (name join) and 4 (label inheritance).
func resolveMatch(metric plan.PreparedMetric, match selector.Match, parent plan.ResolvedMetric) (plan.ResolvedMetric, error) {
	name, err := resolveName(metric, match)
	if err != nil {
		return plan.ResolvedMetric{}, err
	}
	own, err := resolveLabels(metric.Labels, match)
	if err != nil {
		return plan.ResolvedMetric{}, err
	}
	return plan.ResolvedMetric{
		Name:   plan.JoinName(parent.Name, name),
		Type:   metric.Type,
		Labels: own.Merge(parent.Labels),
	}, nil
}

func resolveName(metric plan.PreparedMetric, match selector.Match) (string, error) {
	if !metric.NamePresent {
		return autoNameFromPath(match.Path), nil
	}
	return evalTemplate(metric.NameTemplate, match)
}

// autoNameFromPath implements the "template absent" naming rule: the
// `_`-join of every non-root path step, Key contributing its key and
// Index its decimal form.
func autoNameFromPath(path []selector.Step) string {
	name := ""
	for _, step := range path[1:] {
		name = plan.JoinName(name, step.String())
	}
	return name
}

func resolveLabels(labels plan.PreparedLabels, match selector.Match) (plan.Labels, error) {
	out := make(plan.Labels, 0, len(labels))
	for _, l := range labels {
		v, err := evalTemplate(l.Template, match)
		if err != nil {
			return nil, err
		}
		out = append(out, plan.LabelKV{Key: l.Name, Value: escapeLabelValue(v)})
	}
	return out, nil
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// escapeLabelValue implements §3 Invariant 6.
func escapeLabelValue(s string) string { return labelEscaper.Replace(s) }

func evalTemplate(tmpl plan.CompiledTemplate, match selector.Match) (string, error) {
	if len(tmpl) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, n := range tmpl {
		switch n.Kind {
		case template.Literal:
			sb.WriteString(n.Text)
		case template.Positional:
			s, err := positionalText(match.Path, n.Index)
			if err != nil {
				return "", err
			}
			sb.WriteString(s)
		case template.SelectorRef:
			sb.WriteString(selectorRefText(n.Selector, match.Value))
		}
	}
	return sb.String(), nil
}

func positionalText(path []selector.Step, index uint32) (string, error) {
	pos := int(index) + 1
	if pos >= len(path) {
		return "", &PathIndexOutOfRangeError{Index: index}
	}
	step := path[pos]
	if step.Kind == selector.Root {
		return "", &RootNotAllowedError{Index: index}
	}
	return step.String(), nil
}

// selectorRefText evaluates a nested selector against the current
// match's value; non-scalar or absent results silently contribute the
// empty string (§4.E, an explicit Open Question resolved this way).
func selectorRefText(sel *selector.Selector, value selector.Value) string {
	matches := sel.Find(value)
	if len(matches) == 0 {
		return ""
	}
	s, _ := matches[0].Value.Scalar()
	return s
}

func (e *engine) emitLeaf(metric plan.PreparedMetric, ce contextEntry) {
	value := ce.Value
	for i, f := range metric.Filters {
		nv, err := f.Apply(value)
		if err != nil {
			e.warn("metric %q: modifier %d: %v", ce.Resolved.Name, i, err)
			return
		}
		value = nv
	}
	e.emitSample(ce.Resolved, value)
}

// emitSample implements §4.E's sample-emission algorithm and §3
// Invariant 5's type-consistency rule.
func (e *engine) emitSample(resolved plan.ResolvedMetric, value selector.Value) {
	kind := value.Kind()

	effectiveType := resolved.Type
	if effectiveType == plan.Unset {
		if prev, ok := e.seenTypes[resolved.Name]; ok {
			effectiveType = prev
		} else {
			effectiveType = inferType(kind)
		}
	}
	if effectiveType == plan.Unset {
		e.warn("metric %q: cannot infer a type for value kind %v", resolved.Name, kind)
		return
	}
	if !compatibleType(effectiveType, kind) {
		e.warn("metric %q: value kind %v is not compatible with type %s", resolved.Name, kind, effectiveType)
		return
	}

	if prev, ok := e.seenTypes[resolved.Name]; ok {
		if prev != effectiveType {
			e.warn("metric %q: type %s conflicts with already-emitted type %s, dropping sample", resolved.Name, effectiveType, prev)
			return
		}
	} else {
		fmt.Fprintf(e.w, "# TYPE %s %s\n", resolved.Name, effectiveType)
		e.seenTypes[resolved.Name] = effectiveType
	}

	rendered, ok := renderValue(kind, value)
	if !ok {
		e.warn("metric %q: cannot render value kind %v", resolved.Name, kind)
		return
	}

	e.w.WriteString(resolved.Name)
	if len(resolved.Labels) > 0 {
		writeLabels(e.w, resolved.Labels)
	}
	e.w.WriteByte(' ')
	e.w.WriteString(rendered)
	e.w.WriteByte('\n')
}

func inferType(kind selector.ValueKind) plan.MetricType {
	switch kind {
	case selector.KindNumber, selector.KindBool:
		return plan.Gauge
	case selector.KindString:
		return plan.Untyped
	default:
		return plan.Unset
	}
}

func compatibleType(t plan.MetricType, kind selector.ValueKind) bool {
	switch t {
	case plan.Gauge:
		return kind == selector.KindNumber || kind == selector.KindBool
	case plan.Counter:
		return kind == selector.KindNumber
	case plan.Untyped:
		return kind == selector.KindNumber || kind == selector.KindBool || kind == selector.KindString
	default:
		return false
	}
}

func renderValue(kind selector.ValueKind, v selector.Value) (string, bool) {
	switch kind {
	case selector.KindNumber:
		return selector.FormatNumber(v.Number()), true
	case selector.KindBool:
		if v.Bool() {
			return "1", true
		}
		return "0", true
	case selector.KindString:
		return v.String(), true
	default:
		return "", false
	}
}

// writeLabels renders a label set in key-sorted order (§3 Invariant 3 /
// §8.3); values are already escaped by resolveLabels.
func writeLabels(w *bufio.Writer, labels plan.Labels) {
	keys := make([]string, 0, len(labels))
	values := make(map[string]string, len(labels))
	for _, kv := range labels {
		if _, ok := values[kv.Key]; !ok {
			keys = append(keys, kv.Key)
		}
		values[kv.Key] = kv.Value
	}
	sort.Strings(keys)

	w.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteString(k)
		w.WriteString(`="`)
		w.WriteString(values[k])
		w.WriteString(`"`)
	}
	w.WriteByte('}')
}
