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

package selector

import (
	"strconv"
	"strings"

	"k8s.io/client-go/util/jsonpath"
)

// validateSubset re-checks a parsed expression against k8s.io/client-go's
// JSONPath template grammar as an extra compile-time safety net: it
// catches malformed expressions our own tokenizer accepted but that no
// reasonable JSONPath dialect would, before the expression is ever used
// to walk a document at scrape time. Matching itself never goes through
// this package (it doesn't expose match paths), only parsing does.
func validateSubset(orig string, segs []segment) error {
	var b strings.Builder
	b.WriteString("{")
	for _, seg := range segs {
		switch seg.kind {
		case segKey:
			b.WriteString(".")
			b.WriteString(seg.key)
		case segWildcard:
			b.WriteString("[*]")
		case segIndex:
			b.WriteString("[")
			b.WriteString(strconv.FormatUint(seg.index, 10))
			b.WriteString("]")
		}
	}
	b.WriteString("}")

	jp := jsonpath.New("config")
	if err := jp.Parse(b.String()); err != nil {
		return &SyntaxError{Expr: orig, Msg: "not a supported JSONPath subset: " + err.Error()}
	}
	return nil
}
