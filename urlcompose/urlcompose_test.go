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

package urlcompose

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBase(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestResolveLiteralDSL(t *testing.T) {
	t.Parallel()
	res, err := Resolve("/cluster/_stats?level=shards", nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"cluster", "_stats"}, res.PathSegments)
	assert.Equal(t, "shards", res.Query.Get("level"))
}

func TestResolveNamedDSL(t *testing.T) {
	t.Parallel()
	paths := PathParts{"stats": "_stats"}
	params := ParamParts{"shards": {Name: "level", Value: "shards"}}

	res, err := Resolve("stats?shards", paths, params, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"_stats"}, res.PathSegments)
	assert.Equal(t, "shards", res.Query.Get("level"))
}

func TestResolveUnknownPathName(t *testing.T) {
	t.Parallel()
	_, err := Resolve("bogus", PathParts{}, nil, true)
	require.Error(t, err)
	var target *UnknownPathNameError
	require.ErrorAs(t, err, &target)
}

func TestResolveMissingPathRequired(t *testing.T) {
	t.Parallel()
	_, err := Resolve("?shards", nil, ParamParts{"shards": {Name: "level", Value: "shards"}}, true)
	require.Error(t, err)
	var target *PathRequiredError
	require.ErrorAs(t, err, &target)
}

func TestApplyOverrideKeepsBasePathWhenOmitted(t *testing.T) {
	t.Parallel()
	base, err := Resolve("/cluster/health", nil, nil, true)
	require.NoError(t, err)
	override, err := Resolve("/?pretty=true", nil, nil, false)
	require.NoError(t, err)

	merged := ApplyOverride(base, override)
	assert.Equal(t, []string{"cluster", "health"}, merged.PathSegments)
	assert.Equal(t, "true", merged.Query.Get("pretty"))
}

func TestComposePurity(t *testing.T) {
	t.Parallel()
	base := mustBase(t, "http://es:9200/")
	res, err := Resolve("/cluster/_stats?level=shards", nil, nil, true)
	require.NoError(t, err)

	u1, err := Compose(base, res)
	require.NoError(t, err)
	u2, err := Compose(base, res)
	require.NoError(t, err)
	assert.Equal(t, u1.String(), u2.String())
	assert.Equal(t, "http://es:9200/cluster/_stats?level=shards", u1.String())
}

func TestComposeNotABaseURL(t *testing.T) {
	t.Parallel()
	_, err := Compose(&url.URL{Path: "/x"}, Resolution{})
	require.Error(t, err)
	var target *NotABaseURLError
	require.ErrorAs(t, err, &target)
}
