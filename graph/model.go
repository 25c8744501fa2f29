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
	"math"
)

// DataType is a tensor element type.
type DataType string

const (
	F32 DataType = "f32"
	I32 DataType = "i32"
	U32 DataType = "u32"
)

// CType returns the C99 spelling of the element type.
func (t DataType) CType() string {
	switch t {
	case I32:
		return "int32_t"
	case U32:
		return "uint32_t"
	default:
		return "float"
	}
}

// Role classifies a node within its program.
type Role string

const (
	// RoleInput marks an externally driven node with no body. It may carry
	// literal initializer values, in which case it doubles as a constant.
	RoleInput Role = "input"

	// RoleState marks a node that persists across frames. Its per-frame body
	// is a copy of the previous frame's value of the node named by From,
	// threaded through a stateful front/back resource.
	RoleState Role = "state"

	// RoleComputed marks a pure node whose body reads other nodes'
	// current-frame values.
	RoleComputed Role = "computed"
)

// OpKind identifies a computed node's operation.
type OpKind string

const (
	OpAdd OpKind = "add"
	OpSub OpKind = "sub"
	OpMul OpKind = "mul"
	OpDiv OpKind = "div"
	OpMin OpKind = "min"
	OpMax OpKind = "max"
	OpPow OpKind = "pow"

	OpNeg    OpKind = "neg"
	OpAbs    OpKind = "abs"
	OpSqrt   OpKind = "sqrt"
	OpSquare OpKind = "square"
	OpSin    OpKind = "sin"
	OpCos    OpKind = "cos"
	OpExp    OpKind = "exp"
	OpLog    OpKind = "log"

	// OpParam yields the scalar value of a named manifest parameter.
	OpParam OpKind = "param"

	// OpReduceSum sums its input along one axis. Never fused with neighbors.
	OpReduceSum OpKind = "reduce_sum"

	// OpMatMul is a rank-2 matrix product. Never fused with neighbors.
	OpMatMul OpKind = "matmul"

	// OpConv is a valid (no padding, unit stride) correlation of its first
	// operand with its second. Never fused with neighbors.
	OpConv OpKind = "conv"
)

// opArity maps each op kind to its operand count.
var opArity = map[OpKind]int{
	OpAdd: 2, OpSub: 2, OpMul: 2, OpDiv: 2, OpMin: 2, OpMax: 2, OpPow: 2,
	OpNeg: 1, OpAbs: 1, OpSqrt: 1, OpSquare: 1, OpSin: 1, OpCos: 1, OpExp: 1, OpLog: 1,
	OpParam: 0, OpReduceSum: 1, OpMatMul: 2, OpConv: 2,
}

// Elementwise reports whether the op kind may join a fusion group.
func (k OpKind) Elementwise() bool {
	return k != OpReduceSum && k != OpMatMul && k != OpConv
}

// Op is the body of a computed node.
type Op struct {
	Kind OpKind `json:"kind"`

	// Inputs names the operand nodes, in order.
	Inputs []string `json:"inputs,omitempty"`

	// Axis is the reduction axis for OpReduceSum.
	Axis int `json:"axis,omitempty"`

	// Param is the parameter name for OpParam.
	Param string `json:"param,omitempty"`
}

// Node is one tensor in a program.
type Node struct {
	ID    string   `json:"id"`
	Role  Role     `json:"role"`
	DType DataType `json:"dtype,omitempty"`
	Shape Shape    `json:"shape"`

	// Op is set only for RoleComputed.
	Op *Op `json:"op,omitempty"`

	// Init holds literal initializer values for RoleInput and RoleState.
	Init []float64 `json:"init,omitempty"`

	// From names the node whose previous-frame value this RoleState node
	// carries. It is the explicit feedback edge; it is never inferred.
	From string `json:"from,omitempty"`

	// Size is the canonical size expression, filled in by Resolve.
	Size SizeExpr `json:"-"`
}

// Program is an ordered set of nodes forming one fusible unit of work.
type Program struct {
	ID    string
	Nodes []Node

	// Outputs maps friendly port aliases to real node ids.
	Outputs map[string]string

	index map[string]int
}

// Node returns the node with the given id, or nil.
func (p *Program) Node(id string) *Node {
	if i, ok := p.index[id]; ok {
		return &p.Nodes[i]
	}
	return nil
}

// NodeIndex returns the declaration index of a node id, or -1.
func (p *Program) NodeIndex(id string) int {
	if i, ok := p.index[id]; ok {
		return i
	}
	return -1
}

// OutputNode resolves an output port alias to the real node id. A name
// that is itself a node id resolves to itself, so callers may pass either.
func (p *Program) OutputNode(port string) (string, bool) {
	if id, ok := p.Outputs[port]; ok {
		return id, true
	}
	if _, ok := p.index[port]; ok {
		return port, true
	}
	return "", false
}

// reindex rebuilds the id lookup table. Called once after decoding.
func (p *Program) reindex() error {
	p.index = make(map[string]int, len(p.Nodes))
	for i := range p.Nodes {
		id := p.Nodes[i].ID
		if id == "" {
			return fmt.Errorf("program %q: node %d has empty id", p.ID, i)
		}
		if _, dup := p.index[id]; dup {
			return fmt.Errorf("program %q: duplicate node id %q", p.ID, id)
		}
		p.index[id] = i
	}
	return nil
}

// Params is the immutable parameter set shared by all size expressions.
type Params struct {
	values map[string]float64
}

// NewParams copies the given values into a parameter set.
func NewParams(values map[string]float64) *Params {
	m := make(map[string]float64, len(values))
	for k, v := range values {
		m[k] = v
	}
	return &Params{values: m}
}

// Float returns the value of a parameter.
func (p *Params) Float(name string) (float64, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Int returns the value of an integer parameter. A parameter holding a
// non-integral value is reported as absent, so shapes cannot silently
// truncate it.
func (p *Params) Int(name string) (int64, bool) {
	v, ok := p.values[name]
	if !ok || v != math.Trunc(v) {
		return 0, false
	}
	return int64(v), true
}

// Names returns the parameter names in unspecified order.
func (p *Params) Names() []string {
	names := make([]string, 0, len(p.values))
	for k := range p.values {
		names = append(names, k)
	}
	return names
}

// Len returns the number of parameters.
func (p *Params) Len() int { return len(p.values) }
