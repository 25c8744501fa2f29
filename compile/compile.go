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

// Package compile drives the pipeline: resolve each program's shapes,
// build its dependency order, plan fusion, link the programs together,
// and assemble the Module handed to backends. The pipeline is a pure
// function of its inputs; compiling the same manifest twice produces a
// structurally identical Module.
package compile

import (
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"
	"k8s.io/klog/v2"

	"github.com/skeinflow/skein/fusion"
	"github.com/skeinflow/skein/graph"
	"github.com/skeinflow/skein/ir"
	"github.com/skeinflow/skein/link"
)

// File loads a manifest, its program graphs, and compiles them. Relative
// program paths resolve against the manifest's directory.
func File(path string) (*ir.Module, error) {
	m, err := graph.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	progs, err := m.LoadPrograms(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return Compile(m, progs)
}

// Compile runs the full pipeline over already-decoded inputs.
func Compile(m *graph.Manifest, progs []*graph.Program) (*ir.Module, error) {
	params := graph.NewParams(m.Parameters)

	type compiled struct {
		prog  *graph.Program
		nests []ir.LoopNest
	}
	byID := make(map[string]*compiled, len(progs))
	for _, ref := range m.Programs {
		found := false
		for _, p := range progs {
			if p.ID == ref.ID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("manifest program %q has no decoded graph", ref.ID)
		}
	}
	for _, p := range progs {
		if err := graph.Resolve(p, params); err != nil {
			return nil, fmt.Errorf("program %q: %w", p.ID, err)
		}
		deps, err := graph.BuildDeps(p)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", p.ID, err)
		}
		nests, err := fusion.Plan(p, deps, params)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", p.ID, err)
		}
		klog.V(1).InfoS("planned program", "program", p.ID,
			"nodes", len(p.Nodes), "nests", len(nests))
		byID[p.ID] = &compiled{prog: p, nests: nests}
	}

	plan, err := link.Link(m, progs, params)
	if err != nil {
		return nil, err
	}
	klog.V(1).InfoS("linked", "order", strings.Join(plan.Order, ","),
		"bindings", len(plan.Bindings), "resources", len(plan.Resources))

	mod := &ir.Module{
		Name:   m.Name,
		Window: m.Window,
		Params: paramValues(m.Parameters),
		Links:  ir.LinkPlan{Bindings: plan.Bindings, Display: plan.Display},
	}

	// Buffer table: one owned buffer per node, manifest program order then
	// declaration order, followed by stateful resources and aliases.
	for _, ref := range m.Programs {
		p := byID[ref.ID].prog
		for i := range p.Nodes {
			n := &p.Nodes[i]
			elems, err := n.Size.Eval(params)
			if err != nil {
				return nil, fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
			}
			mod.Buffers = append(mod.Buffers, ir.Buffer{
				Name:    ir.BufferName(p.ID, n.ID),
				Program: p.ID,
				Node:    n.ID,
				DType:   n.DType,
				Size:    ir.Bound{Expr: n.Size.String(), N: elems},
				Storage: ir.StorageOwned,
				Init:    n.Init,
			})
		}
	}
	for _, res := range plan.Resources {
		elems, err := res.Size.Eval(params)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", res.Name, err)
		}
		mod.Buffers = append(mod.Buffers, ir.Buffer{
			Name:    res.Name,
			Program: res.Program,
			Node:    res.State,
			DType:   res.DType,
			Size:    ir.Bound{Expr: res.Size.String(), N: elems},
			Storage: ir.StorageStatefulPair,
			Init:    res.Init,
		})
		mod.FrameEnd = append(mod.FrameEnd, ir.SwapStep{Buffer: res.Name})
	}
	mod.Buffers = append(mod.Buffers, plan.Aliases...)

	// Execution steps follow the global program order. All copy-outs for a
	// frame precede every swap in FrameEnd.
	for _, id := range plan.Order {
		mod.Steps = append(mod.Steps, ir.ProgramSteps{
			Program: id,
			CopyIn:  plan.CopyIn[id],
			Nests:   byID[id].nests,
			CopyOut: plan.CopyOut[id],
		})
	}
	return mod, nil
}

// paramValues sorts manifest parameters into the Module's stable order.
func paramValues(params map[string]float64) []ir.ParamValue {
	vals := lo.MapToSlice(params, func(name string, v float64) ir.ParamValue {
		return ir.ParamValue{Name: name, Value: v, Integer: v == math.Trunc(v)}
	})
	slices.SortFunc(vals, func(a, b ir.ParamValue) int {
		return strings.Compare(a.Name, b.Name)
	})
	return vals
}
