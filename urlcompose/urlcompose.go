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

// Package urlcompose merges a base URL with an endpoint's URL DSL
// (§4.F) and optional per-id overrides into one absolute URL.
package urlcompose

import (
	"fmt"
	"net/url"
	"strings"
)

// PathParts maps a DSL path_name to its literal path segment.
type PathParts map[string]string

// ParamSpec is the resolved form of one url_parts.params entry: the
// actual query-string key to emit, and its literal value.
type ParamSpec struct {
	Name  string
	Value string
}

// ParamParts maps a DSL param_name to its ParamSpec.
type ParamParts map[string]ParamSpec

// Error kinds for §4.F.
type (
	// UnknownPathNameError reports a path_name absent from url_parts.paths.
	UnknownPathNameError struct{ Name string }
	// UnknownParamNameError reports a param_name absent from url_parts.params.
	UnknownParamNameError struct{ Name string }
	// PathRequiredError reports an endpoint URL DSL with no path_name
	// and no literal path.
	PathRequiredError struct{ DSL string }
	// NotABaseURLError reports a base URL unfit to resolve against.
	NotABaseURLError struct{ URL string }
)

func (e *UnknownPathNameError) Error() string  { return fmt.Sprintf("unknown path name %q", e.Name) }
func (e *UnknownParamNameError) Error() string { return fmt.Sprintf("unknown param name %q", e.Name) }
func (e *PathRequiredError) Error() string     { return fmt.Sprintf("path required in url %q", e.DSL) }
func (e *NotABaseURLError) Error() string       { return fmt.Sprintf("not a base url: %q", e.URL) }

// Resolution is the outcome of parsing one DSL string: the literal path
// segments to append, and the query parameters to set.
type Resolution struct {
	HasPath      bool
	PathSegments []string
	Query        url.Values
}

// Resolve parses a single URL DSL string (§4.F). pathRequired should be
// true for an endpoint's own (non-override) URL, and false for a
// per-id --endpoint-url override, which may omit the path entirely.
func Resolve(dsl string, paths PathParts, params ParamParts, pathRequired bool) (Resolution, error) {
	if strings.HasPrefix(dsl, "/") {
		return resolveLiteral(dsl), nil
	}
	return resolveNamed(dsl, paths, params, pathRequired)
}

func resolveLiteral(dsl string) Resolution {
	path, query, _ := strings.Cut(dsl, "?")
	path = strings.Trim(path, "/")
	res := Resolution{HasPath: path != "", Query: url.Values{}}
	if path != "" {
		res.PathSegments = strings.Split(path, "/")
	}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if k == "" {
			continue
		}
		res.Query.Add(k, v)
	}
	return res
}

func resolveNamed(dsl string, paths PathParts, params ParamParts, pathRequired bool) (Resolution, error) {
	pathName, query, _ := strings.Cut(dsl, "?")
	res := Resolution{Query: url.Values{}}

	if pathName != "" {
		seg, ok := paths[pathName]
		if !ok {
			return Resolution{}, &UnknownPathNameError{Name: pathName}
		}
		res.HasPath = true
		if seg != "" {
			res.PathSegments = []string{seg}
		}
	} else if pathRequired {
		return Resolution{}, &PathRequiredError{DSL: dsl}
	}

	if query != "" {
		for _, name := range strings.Split(query, "&") {
			if name == "" {
				continue
			}
			spec, ok := params[name]
			if !ok {
				return Resolution{}, &UnknownParamNameError{Name: name}
			}
			res.Query.Add(spec.Name, spec.Value)
		}
	}
	return res, nil
}

// ApplyOverride merges a per-id override atop a base resolution: the
// override's path replaces the base's only if the override specified
// one; query parameters are merged with the override taking precedence
// per key.
func ApplyOverride(base, override Resolution) Resolution {
	out := Resolution{Query: url.Values{}}
	if override.HasPath {
		out.HasPath = true
		out.PathSegments = override.PathSegments
	} else {
		out.HasPath = base.HasPath
		out.PathSegments = base.PathSegments
	}
	for k, v := range base.Query {
		out.Query[k] = append([]string(nil), v...)
	}
	for k, v := range override.Query {
		out.Query[k] = append([]string(nil), v...)
	}
	return out
}

// Compose clones base, strips a trailing empty path segment, appends
// every non-empty resolved path segment, and sets the query string
// from the resolved params.
func Compose(base *url.URL, res Resolution) (*url.URL, error) {
	if base == nil || base.Scheme == "" || base.Host == "" {
		s := ""
		if base != nil {
			s = base.String()
		}
		return nil, &NotABaseURLError{URL: s}
	}
	cloned := *base
	trimmed := strings.TrimSuffix(cloned.Path, "/")
	var segs []string
	if trimmed != "" {
		segs = strings.Split(strings.TrimPrefix(trimmed, "/"), "/")
	}
	for _, s := range res.PathSegments {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		cloned.Path = "/"
	} else {
		cloned.Path = "/" + strings.Join(segs, "/")
	}
	if res.Query != nil {
		cloned.RawQuery = res.Query.Encode()
	}
	return &cloned, nil
}
