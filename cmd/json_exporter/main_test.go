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

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointOverrides(t *testing.T) {
	t.Parallel()
	out, err := parseEndpointOverrides([]string{"es:/stats/{index}", "other:/health"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"es":    "/stats/{index}",
		"other": "/health",
	}, out)
}

func TestParseEndpointOverridesMissingColon(t *testing.T) {
	t.Parallel()
	_, err := parseEndpointOverrides([]string{"no-colon-here"})
	assert.Error(t, err)
}

func TestParseEndpointOverridesEmpty(t *testing.T) {
	t.Parallel()
	out, err := parseEndpointOverrides(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
