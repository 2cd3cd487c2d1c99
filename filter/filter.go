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

// Package filter implements the named value-transformer registry of
// §4.C: built-in filters (mul, div, const, eq, cel) plus an extensible
// registration point for more.
package filter

import (
	"encoding/json"
	"fmt"

	"github.com/GoogleCloudPlatform/json-exporter/selector"
)

// TypeMismatchError is returned when a filter receives a value of a
// kind it cannot operate on.
type TypeMismatchError struct {
	Filter string
	Got    selector.ValueKind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("filter %q: unsupported input kind %v", e.Filter, e.Got)
}

// Filter transforms one JSON value into another.
type Filter interface {
	Apply(v selector.Value) (selector.Value, error)
}

// Constructor builds a Filter instance from its raw YAML args.
type Constructor func(args json.RawMessage) (Filter, error)

// Registry resolves filter names to constructors. The zero value has no
// constructor map, so Register on it panics; construct with NewRegistry,
// which also seeds the built-ins.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a Registry seeded with the built-in filters.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(newMul, "mul", "multiply")
	r.Register(newDiv, "div", "divide")
	r.Register(newConst, "const")
	r.Register(newEq, "eq")
	r.Register(newCEL, "cel")
	return r
}

// Register adds a constructor under one or more names, allowing
// downstream callers to extend the registry with new filters.
func (r *Registry) Register(ctor Constructor, names ...string) {
	for _, n := range names {
		r.constructors[n] = ctor
	}
}

// UnknownFilterError reports a filter name with no registered constructor.
type UnknownFilterError struct {
	Name string
}

func (e *UnknownFilterError) Error() string {
	return fmt.Sprintf("unknown filter %q", e.Name)
}

// Build constructs a Filter instance for name from its raw args.
func (r *Registry) Build(name string, args json.RawMessage) (Filter, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, &UnknownFilterError{Name: name}
	}
	return ctor(args)
}

// numericArg decodes a filter's args as either a bare number, a
// single-element array, or an object with the given field name.
func numericArg(args json.RawMessage, field string) (float64, error) {
	var n float64
	if err := json.Unmarshal(args, &n); err == nil {
		return n, nil
	}
	var arr []float64
	if err := json.Unmarshal(args, &arr); err == nil && len(arr) == 1 {
		return arr[0], nil
	}
	var obj map[string]float64
	if err := json.Unmarshal(args, &obj); err == nil {
		if v, ok := obj[field]; ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("invalid numeric filter args %q: want number, [number] or {%q: number}", string(args), field)
}

type mulFilter struct{ factor float64 }

func newMul(args json.RawMessage) (Filter, error) {
	f, err := numericArg(args, "factor")
	if err != nil {
		return nil, err
	}
	return mulFilter{factor: f}, nil
}

func (f mulFilter) Apply(v selector.Value) (selector.Value, error) {
	if v.Kind() != selector.KindNumber {
		return selector.Value{}, &TypeMismatchError{Filter: "mul", Got: v.Kind()}
	}
	return selector.NewNumber(v.Number() * f.factor), nil
}

type divFilter struct{ divisor float64 }

func newDiv(args json.RawMessage) (Filter, error) {
	f, err := numericArg(args, "divisor")
	if err != nil {
		return nil, err
	}
	return divFilter{divisor: f}, nil
}

func (f divFilter) Apply(v selector.Value) (selector.Value, error) {
	if v.Kind() != selector.KindNumber {
		return selector.Value{}, &TypeMismatchError{Filter: "div", Got: v.Kind()}
	}
	return selector.NewNumber(v.Number() / f.divisor), nil
}

type constFilter struct{ value selector.Value }

func newConst(args json.RawMessage) (Filter, error) {
	v, err := scalarArg(args)
	if err != nil {
		return nil, err
	}
	return constFilter{value: v}, nil
}

func (f constFilter) Apply(selector.Value) (selector.Value, error) {
	return f.value, nil
}

type eqFilter struct{ value selector.Value }

func newEq(args json.RawMessage) (Filter, error) {
	v, err := scalarArg(args)
	if err != nil {
		return nil, err
	}
	return eqFilter{value: v}, nil
}

func (f eqFilter) Apply(v selector.Value) (selector.Value, error) {
	return selector.NewBool(scalarEqual(v, f.value)), nil
}

// scalarArg decodes args as either a bare scalar or a single-element
// array of one.
func scalarArg(args json.RawMessage) (selector.Value, error) {
	v, err := selector.DecodeScalar(args)
	if err == nil {
		return v, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(args, &arr); err == nil && len(arr) == 1 {
		return selector.DecodeScalar(arr[0])
	}
	return selector.Value{}, fmt.Errorf("invalid scalar filter args %q", string(args))
}

func scalarEqual(a, b selector.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case selector.KindString:
		return a.String() == b.String()
	case selector.KindNumber:
		return a.Number() == b.Number()
	case selector.KindBool:
		return a.Bool() == b.Bool()
	case selector.KindNull:
		return true
	default:
		return false
	}
}
