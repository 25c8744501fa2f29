// Copyright 2026 skein Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, id, src string) *Program {
	t.Helper()
	p, err := ParseProgram(id, []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestResolveFillsSizesAndDefaults(t *testing.T) {
	p := mustParse(t, "main", `{
		"nodes": [
			{"id": "x", "role": "input", "shape": [2, "N"]},
			{"id": "y", "role": "computed", "shape": ["N", 2], "op": {"kind": "neg", "inputs": ["x"]}}
		]
	}`)
	params := NewParams(map[string]float64{"N": 32})
	if err := Resolve(p, params); err != nil {
		t.Fatal(err)
	}

	x := p.Node("x")
	if x.DType != F32 {
		t.Errorf("default dtype = %q, want %q", x.DType, F32)
	}
	if got := x.Size.String(); got != "2*N" {
		t.Errorf("x size = %q, want %q", got, "2*N")
	}
	// [2 N] and [N 2] canonicalize identically, so neg is valid.
	if !x.Size.Equal(p.Node("y").Size) {
		t.Error("structurally different shapes with equal products must have equal sizes")
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		params  map[string]float64
		wantErr error
	}{
		{
			name: "unresolved shape parameter",
			src: `{"nodes": [
				{"id": "x", "role": "input", "shape": ["DEPTH"]}
			]}`,
			wantErr: ErrUnresolvedParameter,
		},
		{
			name: "elementwise operand size mismatch",
			src: `{"nodes": [
				{"id": "a", "role": "input", "shape": [64]},
				{"id": "b", "role": "input", "shape": [32]},
				{"id": "c", "role": "computed", "shape": [64], "op": {"kind": "add", "inputs": ["a", "b"]}}
			]}`,
			wantErr: ErrSizeMismatch,
		},
		{
			name: "initializer length mismatch",
			src: `{"nodes": [
				{"id": "x", "role": "input", "shape": [3], "init": [1, 2]}
			]}`,
			wantErr: ErrSizeMismatch,
		},
		{
			name: "feedback source size mismatch",
			src: `{"nodes": [
				{"id": "s", "role": "state", "shape": [8], "from": "c"},
				{"id": "c", "role": "computed", "shape": [4], "op": {"kind": "neg", "inputs": ["s"]}}
			]}`,
			wantErr: ErrSizeMismatch,
		},
		{
			name: "negative shape parameter",
			src: `{"nodes": [
				{"id": "s", "role": "state", "shape": ["N"], "from": "c"},
				{"id": "c", "role": "computed", "shape": ["N"], "op": {"kind": "neg", "inputs": ["s"]}}
			]}`,
			params:  map[string]float64{"N": -4},
			wantErr: ErrSizeMismatch,
		},
		{
			name: "zero dimension",
			src: `{"nodes": [
				{"id": "x", "role": "input", "shape": [0]}
			]}`,
			wantErr: ErrSizeMismatch,
		},
		{
			name: "negative extents cancelling in the product",
			src: `{"nodes": [
				{"id": "x", "role": "input", "shape": ["N", "N"]}
			]}`,
			params:  map[string]float64{"N": -2},
			wantErr: ErrSizeMismatch,
		},
		{
			name: "missing scalar parameter",
			src: `{"nodes": [
				{"id": "k", "role": "computed", "shape": [], "op": {"kind": "param", "param": "GAIN"}}
			]}`,
			wantErr: ErrUnresolvedParameter,
		},
		{
			name: "reduce result shape mismatch",
			src: `{"nodes": [
				{"id": "m", "role": "input", "shape": [4, 8]},
				{"id": "r", "role": "computed", "shape": [8], "op": {"kind": "reduce_sum", "inputs": ["m"], "axis": 1}}
			]}`,
			wantErr: ErrSizeMismatch,
		},
		{
			name: "conv result shape mismatch",
			src: `{"nodes": [
				{"id": "img", "role": "input", "shape": [8, 8]},
				{"id": "k", "role": "input", "shape": [3, 3]},
				{"id": "c", "role": "computed", "shape": [8, 8], "op": {"kind": "conv", "inputs": ["img", "k"]}}
			]}`,
			wantErr: ErrSizeMismatch,
		},
		{
			name: "matmul inner dimension mismatch",
			src: `{"nodes": [
				{"id": "l", "role": "input", "shape": [4, 8]},
				{"id": "r", "role": "input", "shape": [4, 8]},
				{"id": "d", "role": "computed", "shape": [4, 8], "op": {"kind": "matmul", "inputs": ["l", "r"]}}
			]}`,
			wantErr: ErrSizeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustParse(t, "main", tt.src)
			err := Resolve(p, NewParams(tt.params))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveAcceptsScalarBroadcast(t *testing.T) {
	p := mustParse(t, "main", `{
		"nodes": [
			{"id": "v", "role": "input", "shape": [64]},
			{"id": "k", "role": "computed", "shape": [], "op": {"kind": "param", "param": "GAIN"}},
			{"id": "out", "role": "computed", "shape": [64], "op": {"kind": "mul", "inputs": ["v", "k"]}}
		]
	}`)
	if err := Resolve(p, NewParams(map[string]float64{"GAIN": 2.5})); err != nil {
		t.Fatalf("scalar broadcast rejected: %v", err)
	}
}

func TestResolveMatMulShapes(t *testing.T) {
	p := mustParse(t, "main", `{
		"nodes": [
			{"id": "l", "role": "input", "shape": [4, "K"]},
			{"id": "r", "role": "input", "shape": ["K", 8]},
			{"id": "d", "role": "computed", "shape": [4, 8], "op": {"kind": "matmul", "inputs": ["l", "r"]}}
		]
	}`)
	if err := Resolve(p, NewParams(map[string]float64{"K": 16})); err != nil {
		t.Fatal(err)
	}
}

func TestResolveConvShapes(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			name: "kernel rank equals input rank",
			src: `{"nodes": [
				{"id": "img", "role": "input", "shape": [8, 8]},
				{"id": "k", "role": "input", "shape": [3, 3]},
				{"id": "c", "role": "computed", "shape": [6, 6], "op": {"kind": "conv", "inputs": ["img", "k"]}}
			]}`,
		},
		{
			name: "trailing axes pass through",
			src: `{"nodes": [
				{"id": "img", "role": "input", "shape": [8, 8, 3]},
				{"id": "k", "role": "input", "shape": [3, 3]},
				{"id": "c", "role": "computed", "shape": [6, 6, 3], "op": {"kind": "conv", "inputs": ["img", "k"]}}
			]}`,
		},
		{
			name: "symbolic extents fold before the check",
			src: `{"nodes": [
				{"id": "v", "role": "input", "shape": ["N"]},
				{"id": "k", "role": "input", "shape": [3]},
				{"id": "c", "role": "computed", "shape": [14], "op": {"kind": "conv", "inputs": ["v", "k"]}}
			]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustParse(t, "main", tt.src)
			if err := Resolve(p, NewParams(map[string]float64{"N": 16})); err != nil {
				t.Fatal(err)
			}
		})
	}

	t.Run("kernel rank above input rank", func(t *testing.T) {
		p := mustParse(t, "main", `{"nodes": [
			{"id": "v", "role": "input", "shape": [16]},
			{"id": "k", "role": "input", "shape": [3, 3]},
			{"id": "c", "role": "computed", "shape": [14], "op": {"kind": "conv", "inputs": ["v", "k"]}}
		]}`)
		if err := Resolve(p, NewParams(nil)); err == nil {
			t.Fatal("rank-2 kernel over a rank-1 input must be rejected")
		}
	})
}

func TestResolveReduceToScalar(t *testing.T) {
	p := mustParse(t, "main", `{
		"nodes": [
			{"id": "v", "role": "input", "shape": [100]},
			{"id": "total", "role": "computed", "shape": [1], "op": {"kind": "reduce_sum", "inputs": ["v"], "axis": 0}}
		]
	}`)
	if err := Resolve(p, NewParams(nil)); err != nil {
		t.Fatal(err)
	}
}
