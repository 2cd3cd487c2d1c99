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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/json-exporter/selector"
)

func TestMulDiv(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	mul, err := r.Build("mul", []byte(`0.001`))
	require.NoError(t, err)
	out, err := mul.Apply(selector.NewNumber(112))
	require.NoError(t, err)
	assert.InDelta(t, 0.112, out.Number(), 1e-9)

	div, err := r.Build("divide", []byte(`{"divisor": 2}`))
	require.NoError(t, err)
	out, err = div.Apply(selector.NewNumber(10))
	require.NoError(t, err)
	assert.InDelta(t, 5, out.Number(), 1e-9)
}

func TestMulTypeMismatch(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	mul, err := r.Build("mul", []byte(`2`))
	require.NoError(t, err)

	_, err = mul.Apply(selector.NewString("nope"))
	require.Error(t, err)
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestConstAndEq(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	c, err := r.Build("const", []byte(`"green"`))
	require.NoError(t, err)
	out, err := c.Apply(selector.NewNumber(1))
	require.NoError(t, err)
	assert.Equal(t, "green", out.String())

	eq, err := r.Build("eq", []byte(`["green"]`))
	require.NoError(t, err)
	out, err = eq.Apply(selector.NewString("green"))
	require.NoError(t, err)
	assert.True(t, out.Bool())

	out, err = eq.Apply(selector.NewString("red"))
	require.NoError(t, err)
	assert.False(t, out.Bool())
}

func TestUnknownFilter(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Build("nope", []byte(`1`))
	require.Error(t, err)
	var unknown *UnknownFilterError
	require.ErrorAs(t, err, &unknown)
}

func TestCEL(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	f, err := r.Build("cel", []byte(`"value * 2.0"`))
	require.NoError(t, err)

	out, err := f.Apply(selector.NewNumber(21))
	require.NoError(t, err)
	assert.InDelta(t, 42, out.Number(), 1e-9)
}
