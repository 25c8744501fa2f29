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
	"fmt"
)

// Resolve is the shape/size resolver stage. It canonicalizes every node's
// size expression, folds it against the parameter set, and validates each
// node body against its operands. After Resolve succeeds, node sizes are
// the single source of truth for every later buffer allocation and loop
// bound: no later stage re-derives them.
func Resolve(p *Program, params *Params) error {
	for i := range p.Nodes {
		n := &p.Nodes[i]
		if n.DType == "" {
			n.DType = F32
		}
		n.Size = SizeOf(n.Shape)

		// Every dimension must fold to a positive extent. This is where a
		// missing, float-valued, or non-positive parameter surfaces, before
		// any allocation size or loop bound depends on it. Checking per
		// dimension also rejects shapes whose negative extents would cancel
		// in the product.
		elems := int64(1)
		for _, d := range n.Shape {
			v, err := d.Eval(params)
			if err != nil {
				return fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
			}
			if v <= 0 {
				return fmt.Errorf("program %q node %q: dimension %s folds to %d, want a positive extent: %w",
					p.ID, n.ID, d, v, ErrSizeMismatch)
			}
			elems *= v
		}

		if err := resolveRole(p, params, n, elems); err != nil {
			return err
		}
	}
	return nil
}

func resolveRole(p *Program, params *Params, n *Node, elems int64) error {
	switch n.Role {
	case RoleInput:
		if n.Op != nil {
			return fmt.Errorf("program %q node %q: input node must not have a body", p.ID, n.ID)
		}
		if n.Init != nil && int64(len(n.Init)) != elems {
			return fmt.Errorf("program %q node %q: %d initializer values for size %s (=%d): %w",
				p.ID, n.ID, len(n.Init), n.Size, elems, ErrSizeMismatch)
		}
	case RoleState:
		if n.Op != nil {
			return fmt.Errorf("program %q node %q: state node must not have a body", p.ID, n.ID)
		}
		if n.From != "" {
			src := p.Node(n.From)
			if src == nil {
				return fmt.Errorf("program %q node %q: feedback source %q not found", p.ID, n.ID, n.From)
			}
			// The source may be declared later, so canonicalize its shape
			// directly instead of reading its not-yet-filled Size.
			if srcSize := SizeOf(src.Shape); !srcSize.Equal(n.Size) {
				return fmt.Errorf("program %q node %q: feedback source %q has size %s, want %s: %w",
					p.ID, n.ID, n.From, srcSize, n.Size, ErrSizeMismatch)
			}
		}
		if n.Init != nil && int64(len(n.Init)) != elems {
			return fmt.Errorf("program %q node %q: %d initializer values for size %s (=%d): %w",
				p.ID, n.ID, len(n.Init), n.Size, elems, ErrSizeMismatch)
		}
	case RoleComputed:
		if n.Op == nil {
			return fmt.Errorf("program %q node %q: computed node has no body", p.ID, n.ID)
		}
		return resolveOp(p, params, n)
	default:
		return fmt.Errorf("program %q node %q: unknown role %q", p.ID, n.ID, n.Role)
	}
	return nil
}

func resolveOp(p *Program, params *Params, n *Node) error {
	op := n.Op
	want, ok := opArity[op.Kind]
	if !ok {
		return fmt.Errorf("program %q node %q: unknown op %q", p.ID, n.ID, op.Kind)
	}
	if len(op.Inputs) != want {
		return fmt.Errorf("program %q node %q: op %q wants %d operands, got %d",
			p.ID, n.ID, op.Kind, want, len(op.Inputs))
	}

	operands := make([]*Node, len(op.Inputs))
	for i, id := range op.Inputs {
		src := p.Node(id)
		if src == nil {
			return fmt.Errorf("program %q node %q: operand %q not found", p.ID, n.ID, id)
		}
		operands[i] = src
	}

	switch op.Kind {
	case OpParam:
		if _, ok := params.Float(op.Param); !ok {
			return fmt.Errorf("program %q node %q: parameter %q: %w",
				p.ID, n.ID, op.Param, ErrUnresolvedParameter)
		}
		if !n.Size.Scalar() {
			return fmt.Errorf("program %q node %q: param op must be scalar, shape is %s",
				p.ID, n.ID, n.Shape)
		}

	case OpReduceSum:
		in := operands[0]
		if op.Axis < 0 || op.Axis >= in.Shape.Rank() {
			return fmt.Errorf("program %q node %q: reduce axis %d out of range for shape %s",
				p.ID, n.ID, op.Axis, in.Shape)
		}
		want := reducedShape(in.Shape, op.Axis)
		if !n.Shape.Equal(want) {
			return fmt.Errorf("program %q node %q: reduce of %s along axis %d yields %s, declared %s: %w",
				p.ID, n.ID, in.Shape, op.Axis, want, n.Shape, ErrSizeMismatch)
		}

	case OpMatMul:
		l, r := operands[0], operands[1]
		if l.Shape.Rank() != 2 || r.Shape.Rank() != 2 || n.Shape.Rank() != 2 {
			return fmt.Errorf("program %q node %q: matmul needs rank-2 operands and result, got %s x %s -> %s",
				p.ID, n.ID, l.Shape, r.Shape, n.Shape)
		}
		if l.Shape[1] != r.Shape[0] {
			return fmt.Errorf("program %q node %q: matmul inner dimensions %s and %s differ: %w",
				p.ID, n.ID, l.Shape[1], r.Shape[0], ErrSizeMismatch)
		}
		if n.Shape[0] != l.Shape[0] || n.Shape[1] != r.Shape[1] {
			return fmt.Errorf("program %q node %q: matmul of %s x %s yields [%s %s], declared %s: %w",
				p.ID, n.ID, l.Shape, r.Shape, l.Shape[0], r.Shape[1], n.Shape, ErrSizeMismatch)
		}

	case OpConv:
		in, ker := operands[0], operands[1]
		if ker.Shape.Rank() > in.Shape.Rank() {
			return fmt.Errorf("program %q node %q: conv kernel rank %d exceeds input rank %d",
				p.ID, n.ID, ker.Shape.Rank(), in.Shape.Rank())
		}
		if n.Shape.Rank() != in.Shape.Rank() {
			return fmt.Errorf("program %q node %q: conv of rank-%d input yields rank %d, declared %s",
				p.ID, n.ID, in.Shape.Rank(), in.Shape.Rank(), n.Shape)
		}
		// Valid correlation, unit stride: kernel-covered axes shrink by the
		// kernel extent minus one, trailing axes pass through. Symbolic
		// dimensions are compared after folding.
		for d := range n.Shape {
			inN, err := in.Shape[d].Eval(params)
			if err != nil {
				return fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
			}
			want := inN
			if d < ker.Shape.Rank() {
				kerN, err := ker.Shape[d].Eval(params)
				if err != nil {
					return fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
				}
				want = inN - kerN + 1
			}
			outN, err := n.Shape[d].Eval(params)
			if err != nil {
				return fmt.Errorf("program %q node %q: %w", p.ID, n.ID, err)
			}
			if outN != want {
				return fmt.Errorf("program %q node %q: conv of %s by %s yields %d along axis %d, declared %s: %w",
					p.ID, n.ID, in.Shape, ker.Shape, want, d, n.Shape, ErrSizeMismatch)
			}
		}

	default:
		// Elementwise: each operand is either the node's own size or a
		// scalar broadcast into every iteration.
		for i, src := range operands {
			srcSize := SizeOf(src.Shape)
			if srcSize.Scalar() || srcSize.Equal(n.Size) {
				continue
			}
			return fmt.Errorf("program %q node %q: operand %d (%q) has size %s, want %s or scalar: %w",
				p.ID, n.ID, i, src.ID, srcSize, n.Size, ErrSizeMismatch)
		}
	}
	return nil
}

// reducedShape removes one axis; reducing a vector yields a scalar [1].
func reducedShape(s Shape, axis int) Shape {
	out := make(Shape, 0, len(s)-1)
	for i, d := range s {
		if i != axis {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		out = Shape{{Lit: 1}}
	}
	return out
}
