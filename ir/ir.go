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

// Package ir is the stable data contract between the skein compiler and
// its rendering backends. A Module describes one compiled graph: the
// buffer table, the ordered per-program execution steps, the frame-end
// swap, and the link plan. Backends (the C generator, the in-process
// runtime) only read a Module; they make no decisions of their own.
//
// A Module is produced once per compilation and never mutated. Compiling
// the same graph twice yields structurally identical Modules.
package ir

import "github.com/skeinflow/skein/graph"

// BufferName is the canonical buffer-table name for a program's node.
func BufferName(program, node string) string {
	return program + "." + node
}

// StorageClass says how a buffer is backed at run time.
type StorageClass string

const (
	// StorageOwned is a plain per-node buffer, overwritten every frame.
	StorageOwned StorageClass = "owned"

	// StorageStatefulPair is a front/back pair. Reads within a frame see
	// the front slot, writes land in the back slot, and the frame-end swap
	// exchanges the two by indirection, never by copy.
	StorageStatefulPair StorageClass = "stateful-pair"

	// StorageAliased is a named indirection onto another buffer. Every
	// consumer reads through the alias; no storage is allocated.
	StorageAliased StorageClass = "aliased"
)

// Bound is a loop bound or byte-count source: the canonical size
// expression for symbolic rendering, plus its folded element count.
type Bound struct {
	Expr string
	N    int64
}

// Buffer is one row of the buffer table. Name is globally unique and has
// the form "program.node" (resources append a suffix).
type Buffer struct {
	Name    string
	Program string
	Node    string
	DType   graph.DataType
	Size    Bound
	Storage StorageClass

	// AliasOf names the real buffer when Storage is StorageAliased.
	AliasOf string

	// Init holds literal initializer values; for a stateful pair they seed
	// the initial front slot.
	Init []float64
}

// ExprKind discriminates scalar element expressions.
type ExprKind int

const (
	ExprRef ExprKind = iota
	ExprConst
	ExprParamRef
	ExprUnary
	ExprBinary
)

// Expr is one node's per-element expression. Refs are evaluated at the
// loop's shared flat iteration index, or at element zero for scalar
// broadcasts.
type Expr struct {
	Kind ExprKind

	Buffer string  // ExprRef: buffer name
	Scalar bool    // ExprRef: index element zero instead of the loop index
	Value  float64 // ExprConst
	Param  string  // ExprParamRef

	// Op is the operation token for ExprUnary/ExprBinary: one of
	// "+", "-", "*", "/", "min", "max", "pow", "neg", "abs", "sqrt",
	// "square", "sin", "cos", "exp", "log".
	Op   string
	Args []*Expr
}

// Stmt writes one element of Buffer at the shared iteration index.
type Stmt struct {
	Buffer string
	Expr   *Expr
}

// NestKind discriminates loop nests.
type NestKind string

const (
	NestFused  NestKind = "fused"
	NestReduce NestKind = "reduce"
	NestMatMul NestKind = "matmul"
	NestConv   NestKind = "conv"
)

// LoopNest is one closed fusion unit rendered as a single loop nest.
// Bounds are the outer loops, outermost first, one per iteration-shape
// dimension (row-major). Every nest is parallel-safe across its outermost
// bound: members write only their own buffer and read only already
// materialized values.
type LoopNest struct {
	Kind   NestKind
	Nodes  []string // member node ids, in execution order
	Bounds []Bound

	// Body is the concatenated member statements for NestFused.
	Body []Stmt

	Reduce *ReduceKernel
	MatMul *MatMulKernel
	Conv   *ConvKernel
}

// ReduceKernel sums Src along Axis into Dst. SrcDims are the full source
// dimensions; Bounds on the enclosing nest are SrcDims minus the axis.
type ReduceKernel struct {
	Dst     string
	Src     string
	SrcDims []Bound
	Axis    int
}

// MatMulKernel computes Dst[M,N] = L[M,K] x R[K,N]. The enclosing nest's
// Bounds are [M, N]; K is the inner accumulation loop.
type MatMulKernel struct {
	Dst string
	L   string
	R   string
	M   Bound
	K   Bound
	N   Bound
}

// ConvKernel is a valid correlation of Src with Ker at unit stride. The
// enclosing nest's Bounds are the output dimensions; each kernel
// dimension adds one inner accumulation loop. Kernel-covered source axes
// are read at the output coordinate plus the kernel coordinate, trailing
// axes at the output coordinate alone.
type ConvKernel struct {
	Dst     string
	Src     string
	Ker     string
	SrcDims []Bound
	KerDims []Bound
}

// Slot selects which half of a stateful pair a copy touches.
type Slot string

const (
	SlotDirect Slot = "direct"
	SlotFront  Slot = "front"
	SlotBack   Slot = "back"
)

// CopyStep is a sized copy between buffers. Source and destination sizes
// were proven identical at compile time; Size is that shared count.
type CopyStep struct {
	Dst     string
	DstSlot Slot
	Src     string
	SrcSlot Slot
	Size    Bound
}

// SwapStep exchanges a stateful pair's front and back pointers. O(1)
// regardless of buffer size.
type SwapStep struct {
	Buffer string
}

// ProgramSteps is everything one program does within a frame, in order:
// copy-ins, loop nests, copy-outs. Programs appear in Module.Steps in the
// link-derived global order; a later program may read what an earlier one
// just copied out.
type ProgramSteps struct {
	Program string
	CopyIn  []CopyStep
	Nests   []LoopNest
	CopyOut []CopyStep
}

// Binding is one resolved LinkPlan entry. For signal kinds the host fills
// Buffer before the frame entry point runs; link and feedback kinds are
// informational here, their data movement having been lowered into copy
// steps.
type Binding struct {
	Kind    graph.SourceKind
	Program string
	Port    string
	Node    string
	Buffer  string

	// SrcProgram and SrcNode locate the producer for link and feedback.
	SrcProgram string
	SrcNode    string

	Size Bound
}

// DisplaySink names the single output buffer a host presents: RGB in
// [0,1], row-major, Width*Height*3 elements.
type DisplaySink struct {
	Program string
	Node    string
	Buffer  string
	Width   int
	Height  int
}

// LinkPlan is the complete validated binding set for one compiled graph.
type LinkPlan struct {
	Bindings []Binding
	Display  *DisplaySink
}

// ParamValue is one manifest parameter, preserved for symbolic rendering.
type ParamValue struct {
	Name    string
	Value   float64
	Integer bool
}

// Module is the compiled program emitted to backends.
type Module struct {
	Name     string
	Window   *graph.WindowConfig
	Params   []ParamValue // sorted by name
	Buffers  []Buffer     // deterministic order: program, then node, then resources
	Steps    []ProgramSteps
	FrameEnd []SwapStep
	Links    LinkPlan
}

// BufferByName returns the named buffer row, or nil.
func (m *Module) BufferByName(name string) *Buffer {
	for i := range m.Buffers {
		if m.Buffers[i].Name == name {
			return &m.Buffers[i]
		}
	}
	return nil
}

// ResolveAlias follows alias indirections to the storage-owning buffer.
func (m *Module) ResolveAlias(name string) *Buffer {
	b := m.BufferByName(name)
	for b != nil && b.Storage == StorageAliased {
		b = m.BufferByName(b.AliasOf)
	}
	return b
}
