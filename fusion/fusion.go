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

// Package fusion groups a program's computed nodes into maximal fusible
// runs and synthesizes one loop nest per run. A node joins the open group
// iff it is elementwise, its canonical size expression equals the
// group's, and everything it reads is already materialized. Reductions,
// matrix products, and convolutions always close the open group and
// become singleton kernel nests. Input and state nodes never fuse; their
// bodies are plain copies, lowered later by the linker.
package fusion

import (
	"errors"
	"fmt"

	"github.com/skeinflow/skein/graph"
	"github.com/skeinflow/skein/ir"
)

// ErrShapeMismatch reports two members of one fusion group with differing
// canonical size expressions. Unreachable if the planner's equality test
// is sound; checked anyway at every group close.
var ErrShapeMismatch = errors.New("shape mismatch in fusion group")

// Plan walks the topological order once and returns the program's loop
// nests in execution order. The walk is deterministic: identical inputs
// yield identical nests.
func Plan(p *graph.Program, deps *graph.Deps, params *graph.Params) ([]ir.LoopNest, error) {
	var (
		nests []ir.LoopNest
		open  []*graph.Node
	)
	// Materialized values: sources (filled before any nest runs) and
	// members of closed nests. Members of the open group are readable too,
	// since statements within one iteration execute in group order.
	materialized := map[string]bool{}
	inOpen := map[string]bool{}

	flush := func() error {
		if len(open) == 0 {
			return nil
		}
		nest, err := fusedNest(p, open, params)
		if err != nil {
			return err
		}
		nests = append(nests, *nest)
		for _, m := range open {
			materialized[m.ID] = true
			delete(inOpen, m.ID)
		}
		open = nil
		return nil
	}

	for _, n := range deps.Order() {
		if n.Role != graph.RoleComputed {
			// Singleton source unit: materialized before any nest runs.
			materialized[n.ID] = true
			continue
		}

		// A consumer must never be fused ahead of a not-yet-produced value.
		// True by construction in topological order; verified regardless.
		for _, dep := range n.Op.Inputs {
			if !materialized[dep] && !inOpen[dep] {
				return nil, fmt.Errorf("program %q: node %q reads unmaterialized %q", p.ID, n.ID, dep)
			}
		}

		switch n.Op.Kind {
		case graph.OpReduceSum:
			if err := flush(); err != nil {
				return nil, err
			}
			nest, err := reduceNest(p, n, params)
			if err != nil {
				return nil, err
			}
			nests = append(nests, *nest)
			materialized[n.ID] = true

		case graph.OpMatMul:
			if err := flush(); err != nil {
				return nil, err
			}
			nest, err := matmulNest(p, n, params)
			if err != nil {
				return nil, err
			}
			nests = append(nests, *nest)
			materialized[n.ID] = true

		case graph.OpConv:
			if err := flush(); err != nil {
				return nil, err
			}
			nest, err := convNest(p, n, params)
			if err != nil {
				return nil, err
			}
			nests = append(nests, *nest)
			materialized[n.ID] = true

		default:
			if len(open) > 0 && !open[0].Size.Equal(n.Size) {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			open = append(open, n)
			inOpen[n.ID] = true
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return nests, nil
}

// fusedNest closes one run of elementwise nodes into a single nest. The
// iteration shape is the first member's; all members share its canonical
// size, so the row-major flat index is valid for every statement.
func fusedNest(p *graph.Program, members []*graph.Node, params *graph.Params) (*ir.LoopNest, error) {
	lead := members[0]
	for _, m := range members[1:] {
		if !m.Size.Equal(lead.Size) {
			return nil, fmt.Errorf("program %q: nodes %q (%s) and %q (%s): %w",
				p.ID, lead.ID, lead.Size, m.ID, m.Size, ErrShapeMismatch)
		}
	}

	bounds, err := dimBounds(lead.Shape, params)
	if err != nil {
		return nil, fmt.Errorf("program %q node %q: %w", p.ID, lead.ID, err)
	}

	nest := &ir.LoopNest{
		Kind:   ir.NestFused,
		Bounds: bounds,
	}
	for _, m := range members {
		expr, err := elementExpr(p, m)
		if err != nil {
			return nil, err
		}
		nest.Nodes = append(nest.Nodes, m.ID)
		nest.Body = append(nest.Body, ir.Stmt{
			Buffer: ir.BufferName(p.ID, m.ID),
			Expr:   expr,
		})
	}
	return nest, nil
}

// elementExpr builds the per-element expression for one computed node.
// Operand references use the shared iteration index; scalar operands
// broadcast by reading element zero.
func elementExpr(p *graph.Program, n *graph.Node) (*ir.Expr, error) {
	op := n.Op
	if op.Kind == graph.OpParam {
		return &ir.Expr{Kind: ir.ExprParamRef, Param: op.Param}, nil
	}

	args := make([]*ir.Expr, len(op.Inputs))
	for i, id := range op.Inputs {
		src := p.Node(id)
		if src == nil {
			return nil, fmt.Errorf("program %q node %q: operand %q not found", p.ID, n.ID, id)
		}
		args[i] = &ir.Expr{
			Kind:   ir.ExprRef,
			Buffer: ir.BufferName(p.ID, id),
			Scalar: src.Size.Scalar() && !n.Size.Scalar(),
		}
	}

	tok, unary, err := opToken(op.Kind)
	if err != nil {
		return nil, fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
	}
	kind := ir.ExprBinary
	if unary {
		kind = ir.ExprUnary
	}
	return &ir.Expr{Kind: kind, Op: tok, Args: args}, nil
}

// opToken maps an elementwise op kind to its expression token.
func opToken(k graph.OpKind) (tok string, unary bool, err error) {
	switch k {
	case graph.OpAdd:
		return "+", false, nil
	case graph.OpSub:
		return "-", false, nil
	case graph.OpMul:
		return "*", false, nil
	case graph.OpDiv:
		return "/", false, nil
	case graph.OpMin:
		return "min", false, nil
	case graph.OpMax:
		return "max", false, nil
	case graph.OpPow:
		return "pow", false, nil
	case graph.OpNeg:
		return "neg", true, nil
	case graph.OpAbs:
		return "abs", true, nil
	case graph.OpSqrt:
		return "sqrt", true, nil
	case graph.OpSquare:
		return "square", true, nil
	case graph.OpSin:
		return "sin", true, nil
	case graph.OpCos:
		return "cos", true, nil
	case graph.OpExp:
		return "exp", true, nil
	case graph.OpLog:
		return "log", true, nil
	}
	return "", false, fmt.Errorf("op %q is not elementwise", k)
}

// reduceNest emits a singleton axis-sum kernel. Outer loops iterate the
// output dimensions; the reduction axis is the inner accumulation loop.
func reduceNest(p *graph.Program, n *graph.Node, params *graph.Params) (*ir.LoopNest, error) {
	src := p.Node(n.Op.Inputs[0])
	srcDims, err := dimBounds(src.Shape, params)
	if err != nil {
		return nil, fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
	}
	outBounds, err := dimBounds(n.Shape, params)
	if err != nil {
		return nil, fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
	}
	return &ir.LoopNest{
		Kind:   ir.NestReduce,
		Nodes:  []string{n.ID},
		Bounds: outBounds,
		Reduce: &ir.ReduceKernel{
			Dst:     ir.BufferName(p.ID, n.ID),
			Src:     ir.BufferName(p.ID, src.ID),
			SrcDims: srcDims,
			Axis:    n.Op.Axis,
		},
	}, nil
}

// matmulNest emits a singleton rank-2 matrix product kernel.
func matmulNest(p *graph.Program, n *graph.Node, params *graph.Params) (*ir.LoopNest, error) {
	l := p.Node(n.Op.Inputs[0])
	r := p.Node(n.Op.Inputs[1])
	lDims, err := dimBounds(l.Shape, params)
	if err != nil {
		return nil, fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
	}
	rDims, err := dimBounds(r.Shape, params)
	if err != nil {
		return nil, fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
	}
	return &ir.LoopNest{
		Kind:   ir.NestMatMul,
		Nodes:  []string{n.ID},
		Bounds: []ir.Bound{lDims[0], rDims[1]},
		MatMul: &ir.MatMulKernel{
			Dst: ir.BufferName(p.ID, n.ID),
			L:   ir.BufferName(p.ID, l.ID),
			R:   ir.BufferName(p.ID, r.ID),
			M:   lDims[0],
			K:   lDims[1],
			N:   rDims[1],
		},
	}, nil
}

// convNest emits a singleton valid-correlation kernel. Outer loops iterate
// the output dimensions; each kernel dimension adds one accumulation loop.
func convNest(p *graph.Program, n *graph.Node, params *graph.Params) (*ir.LoopNest, error) {
	src := p.Node(n.Op.Inputs[0])
	ker := p.Node(n.Op.Inputs[1])
	srcDims, err := dimBounds(src.Shape, params)
	if err != nil {
		return nil, fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
	}
	kerDims, err := dimBounds(ker.Shape, params)
	if err != nil {
		return nil, fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
	}
	outBounds, err := dimBounds(n.Shape, params)
	if err != nil {
		return nil, fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
	}
	return &ir.LoopNest{
		Kind:   ir.NestConv,
		Nodes:  []string{n.ID},
		Bounds: outBounds,
		Conv: &ir.ConvKernel{
			Dst:     ir.BufferName(p.ID, n.ID),
			Src:     ir.BufferName(p.ID, src.ID),
			Ker:     ir.BufferName(p.ID, ker.ID),
			SrcDims: srcDims,
			KerDims: kerDims,
		},
	}, nil
}

// dimBounds folds a shape's dimensions into loop bounds, outermost first.
func dimBounds(s graph.Shape, params *graph.Params) ([]ir.Bound, error) {
	bounds := make([]ir.Bound, len(s))
	for i, d := range s {
		n, err := d.Eval(params)
		if err != nil {
			return nil, err
		}
		bounds[i] = ir.Bound{Expr: d.String(), N: n}
	}
	if len(bounds) == 0 {
		bounds = []ir.Bound{{Expr: "1", N: 1}}
	}
	return bounds, nil
}
