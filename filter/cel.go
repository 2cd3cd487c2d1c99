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

package filter

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/GoogleCloudPlatform/json-exporter/selector"
)

// celFilter evaluates a CEL expression with the input value bound to
// the variable "value". It is grounded on prometheus-community/
// json_exporter's extractValueCEL, reused here as one more filter
// rather than an alternate selector engine: the registry (§4.C) is
// explicitly extensible, and CEL is the ecosystem's existing answer to
// "let operators write a small value transform in config".
type celFilter struct {
	expr string
	prg  cel.Program
}

func newCEL(args json.RawMessage) (Filter, error) {
	var expr string
	if err := json.Unmarshal(args, &expr); err != nil {
		return nil, fmt.Errorf("cel filter args must be a string expression: %w", err)
	}

	env, err := cel.NewEnv(cel.Variable("value", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program %q: %w", expr, err)
	}
	return celFilter{expr: expr, prg: prg}, nil
}

func (f celFilter) Apply(v selector.Value) (selector.Value, error) {
	native, err := toNative(v)
	if err != nil {
		return selector.Value{}, err
	}
	out, _, err := f.prg.Eval(map[string]any{"value": native})
	if err != nil {
		return selector.Value{}, fmt.Errorf("cel eval %q: %w", f.expr, err)
	}
	return fromNative(out.Value())
}

func toNative(v selector.Value) (any, error) {
	switch v.Kind() {
	case selector.KindString:
		return v.String(), nil
	case selector.KindNumber:
		return v.Number(), nil
	case selector.KindBool:
		return v.Bool(), nil
	case selector.KindNull:
		return nil, nil
	default:
		return nil, &TypeMismatchError{Filter: "cel", Got: v.Kind()}
	}
}

func fromNative(val any) (selector.Value, error) {
	switch x := val.(type) {
	case string:
		return selector.NewString(x), nil
	case float64:
		return selector.NewNumber(x), nil
	case int64:
		return selector.NewNumber(float64(x)), nil
	case uint64:
		return selector.NewNumber(float64(x)), nil
	case bool:
		return selector.NewBool(x), nil
	case nil:
		return selector.NewNull(), nil
	default:
		return selector.Value{}, fmt.Errorf("cel filter produced unsupported result type %T", val)
	}
}
