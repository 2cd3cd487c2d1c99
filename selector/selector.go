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

// Package selector wraps a small JSONPath-like expression and enumerates
// (value, path) matches against a decoded JSON document, in document
// order. Supported grammar: ".key" access, ".*" wildcard over an object
// or array, and array indexing via ".N" or "[N]". See doc.go for the
// documented subset and why the rest is rejected at compile time.
package selector

import (
	"fmt"
	"strconv"
	"strings"
)

// StepKind identifies one element of a Match's Path.
type StepKind int

const (
	Root StepKind = iota
	Key
	Index
)

// Step is one element of the path from the document root to a Match.
type Step struct {
	Kind  StepKind
	Key   string
	Index uint64
}

func (s Step) String() string {
	switch s.Kind {
	case Root:
		return "$"
	case Key:
		return s.Key
	case Index:
		return strconv.FormatUint(s.Index, 10)
	default:
		return "?"
	}
}

// Match pairs a value found by a Selector with the path from the
// document root that led to it.
type Match struct {
	Value Value
	Path  []Step
}

type segmentKind int

const (
	segKey segmentKind = iota
	segWildcard
	segIndex
)

type segment struct {
	kind  segmentKind
	key   string
	index uint64
}

// Selector is an immutable, compiled, sharable match expression.
type Selector struct {
	expr     string
	segments []segment
}

// Expr returns the original expression, exactly as passed to Compile.
func (s *Selector) Expr() string { return s.expr }

// SyntaxError reports a selector expression this package cannot parse.
type SyntaxError struct {
	Expr string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("selector syntax error in %q: %s", e.Expr, e.Msg)
}

// Compile parses a selector expression. An empty expression compiles to
// the root selector, which matches exactly the document root.
func Compile(expr string) (*Selector, error) {
	orig := expr
	trimmed := strings.TrimSpace(expr)
	trimmed = strings.TrimPrefix(trimmed, ".")
	if trimmed == "" {
		return &Selector{expr: orig}, nil
	}

	var segs []segment
	for _, part := range strings.Split(trimmed, ".") {
		if part == "" {
			return nil, &SyntaxError{Expr: orig, Msg: "empty path segment"}
		}
		name := part
		var bracketIndex *uint64
		if b := strings.IndexByte(part, '['); b >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, &SyntaxError{Expr: orig, Msg: "unterminated '[' in " + part}
			}
			name = part[:b]
			idxStr := part[b+1 : len(part)-1]
			idx, err := strconv.ParseUint(idxStr, 10, 64)
			if err != nil {
				return nil, &SyntaxError{Expr: orig, Msg: "invalid array index " + idxStr}
			}
			v := idx
			bracketIndex = &v
		}

		switch {
		case name == "*":
			segs = append(segs, segment{kind: segWildcard})
		case name != "" && isAllDigits(name):
			idx, err := strconv.ParseUint(name, 10, 64)
			if err != nil {
				return nil, &SyntaxError{Expr: orig, Msg: "invalid array index " + name}
			}
			segs = append(segs, segment{kind: segIndex, index: idx})
		case name != "":
			segs = append(segs, segment{kind: segKey, key: name})
		}

		if bracketIndex != nil {
			segs = append(segs, segment{kind: segIndex, index: *bracketIndex})
		}
	}

	if err := validateSubset(orig, segs); err != nil {
		return nil, err
	}

	return &Selector{expr: orig, segments: segs}, nil
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Find enumerates every match of the selector within root, in document
// order.
func (s *Selector) Find(root Value) []Match {
	frontier := []Match{{Value: root, Path: []Step{{Kind: Root}}}}
	for _, seg := range s.segments {
		var next []Match
		for _, m := range frontier {
			next = append(next, expand(m, seg)...)
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return frontier
}

func expand(m Match, seg segment) []Match {
	switch seg.kind {
	case segKey:
		v, ok := m.Value.Get(seg.key)
		if !ok {
			return nil
		}
		return []Match{appendStep(m, v, Step{Kind: Key, Key: seg.key})}
	case segIndex:
		v, ok := m.Value.Index(seg.index)
		if !ok {
			return nil
		}
		return []Match{appendStep(m, v, Step{Kind: Index, Index: seg.index})}
	case segWildcard:
		switch m.Value.Kind() {
		case KindObject:
			out := make([]Match, 0, len(m.Value.Object()))
			for _, mem := range m.Value.Object() {
				out = append(out, appendStep(m, mem.Value, Step{Kind: Key, Key: mem.Key}))
			}
			return out
		case KindArray:
			arr := m.Value.Array()
			out := make([]Match, 0, len(arr))
			for i, v := range arr {
				out = append(out, appendStep(m, v, Step{Kind: Index, Index: uint64(i)}))
			}
			return out
		default:
			return nil
		}
	default:
		return nil
	}
}

func appendStep(parent Match, v Value, step Step) Match {
	path := make([]Step, len(parent.Path)+1)
	copy(path, parent.Path)
	path[len(parent.Path)] = step
	return Match{Value: v, Path: path}
}
