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

package fusion

import (
	"testing"

	"github.com/skeinflow/skein/graph"
	"github.com/skeinflow/skein/ir"
)

func plan(t *testing.T, src string, params map[string]float64) []ir.LoopNest {
	t.Helper()
	p, err := graph.ParseProgram("main", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	pr := graph.NewParams(params)
	if err := graph.Resolve(p, pr); err != nil {
		t.Fatal(err)
	}
	deps, err := graph.BuildDeps(p)
	if err != nil {
		t.Fatal(err)
	}
	nests, err := Plan(p, deps, pr)
	if err != nil {
		t.Fatal(err)
	}
	return nests
}

func TestPlanFusesEqualSizes(t *testing.T) {
	// Three elementwise nodes over [64] collapse into one nest with one
	// rank-1 bound of 64.
	nests := plan(t, `{
		"nodes": [
			{"id": "a", "role": "input", "shape": [64]},
			{"id": "b", "role": "input", "shape": [64]},
			{"id": "sum", "role": "computed", "shape": [64], "op": {"kind": "add", "inputs": ["a", "b"]}},
			{"id": "scaled", "role": "computed", "shape": [64], "op": {"kind": "mul", "inputs": ["sum", "sum"]}},
			{"id": "out", "role": "computed", "shape": [64], "op": {"kind": "sqrt", "inputs": ["scaled"]}}
		]
	}`, nil)

	if len(nests) != 1 {
		t.Fatalf("got %d nests, want 1", len(nests))
	}
	n := nests[0]
	if n.Kind != ir.NestFused {
		t.Fatalf("nest kind = %q, want %q", n.Kind, ir.NestFused)
	}
	if len(n.Bounds) != 1 || n.Bounds[0].N != 64 {
		t.Fatalf("bounds = %+v, want one bound of 64", n.Bounds)
	}
	if len(n.Body) != 3 {
		t.Fatalf("body has %d statements, want 3", len(n.Body))
	}
	wantNodes := []string{"sum", "scaled", "out"}
	for i, id := range wantNodes {
		if n.Nodes[i] != id {
			t.Errorf("Nodes[%d] = %q, want %q", i, n.Nodes[i], id)
		}
	}
}

func TestPlanSplitsOnSizeChange(t *testing.T) {
	// A [64] node followed by a [32] node cannot share a loop.
	nests := plan(t, `{
		"nodes": [
			{"id": "a", "role": "input", "shape": [64]},
			{"id": "b", "role": "input", "shape": [32]},
			{"id": "x", "role": "computed", "shape": [64], "op": {"kind": "neg", "inputs": ["a"]}},
			{"id": "y", "role": "computed", "shape": [32], "op": {"kind": "neg", "inputs": ["b"]}}
		]
	}`, nil)

	if len(nests) != 2 {
		t.Fatalf("got %d nests, want 2", len(nests))
	}
	if nests[0].Bounds[0].N != 64 || nests[1].Bounds[0].N != 32 {
		t.Errorf("bounds = %d and %d, want 64 and 32",
			nests[0].Bounds[0].N, nests[1].Bounds[0].N)
	}
}

func TestPlanSymbolicSizesFuse(t *testing.T) {
	// [2 H W] and [W H 2] share a canonical size, so they fuse even
	// though the shapes differ structurally.
	nests := plan(t, `{
		"nodes": [
			{"id": "a", "role": "input", "shape": [2, "H", "W"]},
			{"id": "x", "role": "computed", "shape": [2, "H", "W"], "op": {"kind": "sin", "inputs": ["a"]}},
			{"id": "y", "role": "computed", "shape": ["W", "H", 2], "op": {"kind": "cos", "inputs": ["x"]}}
		]
	}`, map[string]float64{"H": 4, "W": 8})

	if len(nests) != 1 {
		t.Fatalf("got %d nests, want 1", len(nests))
	}
	total := int64(1)
	for _, b := range nests[0].Bounds {
		total *= b.N
	}
	if total != 64 {
		t.Errorf("iteration count = %d, want 64", total)
	}
}

func TestPlanReduceClosesGroup(t *testing.T) {
	// neg fuses, reduce_sum stands alone, abs opens a fresh group.
	nests := plan(t, `{
		"nodes": [
			{"id": "m", "role": "input", "shape": [4, 8]},
			{"id": "n", "role": "computed", "shape": [4, 8], "op": {"kind": "neg", "inputs": ["m"]}},
			{"id": "rows", "role": "computed", "shape": [4], "op": {"kind": "reduce_sum", "inputs": ["n"], "axis": 1}},
			{"id": "out", "role": "computed", "shape": [4], "op": {"kind": "abs", "inputs": ["rows"]}}
		]
	}`, nil)

	if len(nests) != 3 {
		t.Fatalf("got %d nests, want 3", len(nests))
	}
	kinds := []ir.NestKind{ir.NestFused, ir.NestReduce, ir.NestFused}
	for i, want := range kinds {
		if nests[i].Kind != want {
			t.Errorf("nest %d kind = %q, want %q", i, nests[i].Kind, want)
		}
	}
	r := nests[1].Reduce
	if r == nil || r.Axis != 1 || len(r.SrcDims) != 2 {
		t.Fatalf("reduce kernel = %+v, want axis 1 over two dims", r)
	}
}

func TestPlanMatMulIsSingleton(t *testing.T) {
	nests := plan(t, `{
		"nodes": [
			{"id": "l", "role": "input", "shape": [4, 16]},
			{"id": "r", "role": "input", "shape": [16, 8]},
			{"id": "d", "role": "computed", "shape": [4, 8], "op": {"kind": "matmul", "inputs": ["l", "r"]}}
		]
	}`, nil)

	if len(nests) != 1 {
		t.Fatalf("got %d nests, want 1", len(nests))
	}
	k := nests[0].MatMul
	if nests[0].Kind != ir.NestMatMul || k == nil {
		t.Fatalf("nest = %+v, want a matmul kernel", nests[0])
	}
	if k.M.N != 4 || k.K.N != 16 || k.N.N != 8 {
		t.Errorf("dims = %dx%dx%d, want 4x16x8", k.M.N, k.K.N, k.N.N)
	}
}

func TestPlanConvClosesGroup(t *testing.T) {
	// blur sits between two elementwise nodes, so the plan is
	// fused / conv / fused.
	nests := plan(t, `{
		"nodes": [
			{"id": "img", "role": "input", "shape": [8, 8]},
			{"id": "k", "role": "input", "shape": [3, 3], "init": [0, 0, 0, 0, 1, 0, 0, 0, 0]},
			{"id": "dark", "role": "computed", "shape": [8, 8], "op": {"kind": "sqrt", "inputs": ["img"]}},
			{"id": "blur", "role": "computed", "shape": [6, 6], "op": {"kind": "conv", "inputs": ["dark", "k"]}},
			{"id": "out", "role": "computed", "shape": [6, 6], "op": {"kind": "neg", "inputs": ["blur"]}}
		]
	}`, nil)

	kinds := []ir.NestKind{ir.NestFused, ir.NestConv, ir.NestFused}
	if len(nests) != len(kinds) {
		t.Fatalf("got %d nests, want %d", len(nests), len(kinds))
	}
	for i, want := range kinds {
		if nests[i].Kind != want {
			t.Errorf("nests[%d].Kind = %q, want %q", i, nests[i].Kind, want)
		}
	}
	c := nests[1].Conv
	if c == nil {
		t.Fatal("conv nest has no kernel")
	}
	if c.Src != "main.dark" || c.Ker != "main.k" || c.Dst != "main.blur" {
		t.Errorf("kernel buffers = %q * %q -> %q", c.Src, c.Ker, c.Dst)
	}
	if len(nests[1].Bounds) != 2 || nests[1].Bounds[0].N != 6 || nests[1].Bounds[1].N != 6 {
		t.Errorf("output bounds = %+v, want 6x6", nests[1].Bounds)
	}
	if len(c.KerDims) != 2 || c.KerDims[0].N != 3 || c.KerDims[1].N != 3 {
		t.Errorf("kernel dims = %+v, want 3x3", c.KerDims)
	}
}

func TestPlanScalarBroadcastReadsElementZero(t *testing.T) {
	nests := plan(t, `{
		"nodes": [
			{"id": "v", "role": "input", "shape": [64]},
			{"id": "k", "role": "computed", "shape": [], "op": {"kind": "param", "param": "GAIN"}},
			{"id": "out", "role": "computed", "shape": [64], "op": {"kind": "mul", "inputs": ["v", "k"]}}
		]
	}`, map[string]float64{"GAIN": 2})

	// k is scalar, out is [64]: different sizes, two nests.
	if len(nests) != 2 {
		t.Fatalf("got %d nests, want 2", len(nests))
	}
	mul := nests[1].Body[0].Expr
	if mul.Args[0].Scalar {
		t.Error("vector operand marked scalar")
	}
	if !mul.Args[1].Scalar {
		t.Error("scalar operand must broadcast from element zero")
	}
}
