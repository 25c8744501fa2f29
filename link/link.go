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

// Package link resolves every declared input port against its source —
// an external host signal, another program's output, or the program's own
// prior-frame state — and decides resource storage. It produces the
// validated LinkPlan, the stateful front/back resources with their
// copy-in/copy-out contracts, and the global program execution order.
//
// All validation here is compile-time: a size mismatch between a binding's
// two ends is reported as an error, never deferred to a runtime fault.
package link

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/skeinflow/skein/graph"
	"github.com/skeinflow/skein/ir"
)

var (
	// ErrAmbiguousBinding reports an input port with more than one
	// incoming binding.
	ErrAmbiguousBinding = errors.New("ambiguous binding")

	// ErrMultipleDisplaySinks reports more than one display sink in a
	// compiled graph.
	ErrMultipleDisplaySinks = errors.New("multiple display sinks")

	// ErrUnboundInput reports an input port with no binding and no
	// literal initializer.
	ErrUnboundInput = errors.New("unbound input port")
)

// Resource is a stateful front/back pair owned by the orchestration
// layer. Program copies address its slots; the frame-end swap exchanges
// them by indirection.
type Resource struct {
	Name    string
	Program string
	State   string // the consuming state/input node
	Source  string // the producer node whose value is carried across frames
	DType   graph.DataType
	Size    graph.SizeExpr
	Init    []float64
}

// Plan is the linker's output for one compiled graph.
type Plan struct {
	// Order is the global program execution order: a topological order
	// over inter-program links, manifest order breaking ties.
	Order []string

	Bindings  []ir.Binding
	Display   *ir.DisplaySink
	Resources []Resource

	// Aliases are stateless resources: named indirections onto producer
	// buffers, one per distinct inter-program source.
	Aliases []ir.Buffer

	// CopyIn and CopyOut are the per-program copy contracts, keyed by
	// program id, in deterministic order.
	CopyIn  map[string][]ir.CopyStep
	CopyOut map[string][]ir.CopyStep
}

// resolved is one incoming binding for a port, before validation.
type resolved struct {
	kind       graph.SourceKind
	port       string // name used by the manifest (may be the node id)
	srcProgram string
	srcNode    string
	origin     string // human-readable provenance for error messages
}

// Link runs the cross-program linker over resolved programs.
func Link(m *graph.Manifest, progs []*graph.Program, params *graph.Params) (*Plan, error) {
	byID := make(map[string]*graph.Program, len(progs))
	for _, p := range progs {
		byID[p.ID] = p
	}

	incoming := map[string]map[string][]resolved{} // program -> node -> bindings
	add := func(prog, node string, r resolved) {
		if incoming[prog] == nil {
			incoming[prog] = map[string][]resolved{}
		}
		incoming[prog][node] = append(incoming[prog][node], r)
	}

	// Feedback edges declared in the graphs themselves. These are explicit
	// edge kinds, never inferred from program-id equality.
	for _, p := range progs {
		for i := range p.Nodes {
			n := &p.Nodes[i]
			if n.Role == graph.RoleState && n.From != "" {
				add(p.ID, n.ID, resolved{
					kind:       graph.SrcFeedback,
					port:       n.ID,
					srcProgram: p.ID,
					srcNode:    n.From,
					origin:     fmt.Sprintf("node %q from=%q", n.ID, n.From),
				})
			}
		}
	}

	// Manifest bindings.
	var display *ir.DisplaySink
	for _, b := range m.Bindings {
		p, ok := byID[b.Program]
		if !ok {
			return nil, fmt.Errorf("binding names unknown program %q", b.Program)
		}

		if b.Source.Kind == graph.SrcDisplay {
			node, ok := p.OutputNode(b.Output)
			if !ok {
				return nil, fmt.Errorf("display sink: program %q has no output port %q", b.Program, b.Output)
			}
			if display != nil {
				return nil, fmt.Errorf("display sinks %s.%s and %s.%s: %w",
					display.Program, display.Node, b.Program, node, ErrMultipleDisplaySinks)
			}
			sink, err := displaySink(m, p, node, params)
			if err != nil {
				return nil, err
			}
			display = sink
			continue
		}

		node := p.Node(b.Input)
		if node == nil {
			return nil, fmt.Errorf("binding for program %q names unknown input port %q", b.Program, b.Input)
		}
		if node.Role == graph.RoleComputed {
			return nil, fmt.Errorf("program %q port %q: computed nodes cannot be bound", b.Program, b.Input)
		}

		r := resolved{kind: b.Source.Kind, port: b.Input, origin: "manifest binding"}
		switch b.Source.Kind {
		case graph.SrcLink:
			src, ok := byID[b.Source.Program]
			if !ok {
				return nil, fmt.Errorf("program %q port %q: link names unknown program %q",
					b.Program, b.Input, b.Source.Program)
			}
			// Aliased output ports resolve to the real node id here, so an
			// alias can never create a distinct binding.
			srcNode, ok := src.OutputNode(b.Source.Output)
			if !ok {
				return nil, fmt.Errorf("program %q port %q: program %q has no output port %q",
					b.Program, b.Input, b.Source.Program, b.Source.Output)
			}
			r.srcProgram, r.srcNode = src.ID, srcNode

		case graph.SrcFeedback:
			srcNode, ok := p.OutputNode(b.Source.Output)
			if !ok {
				return nil, fmt.Errorf("program %q port %q: feedback names unknown output %q",
					b.Program, b.Input, b.Source.Output)
			}
			r.srcProgram, r.srcNode = p.ID, srcNode

		default:
			if !b.Source.Kind.Signal() {
				return nil, fmt.Errorf("program %q port %q: unknown source kind %q",
					b.Program, b.Input, b.Source.Kind)
			}
		}
		add(p.ID, node.ID, r)
	}

	plan := &Plan{
		Display: display,
		CopyIn:  map[string][]ir.CopyStep{},
		CopyOut: map[string][]ir.CopyStep{},
	}

	// Validate each port and lower bindings to copies and resources.
	// Programs in manifest order, nodes in declaration order: the output
	// is deterministic because every source of iteration is.
	aliasSeen := map[string]bool{}
	for _, ref := range m.Programs {
		p := byID[ref.ID]
		for i := range p.Nodes {
			n := &p.Nodes[i]
			if n.Role == graph.RoleComputed {
				continue
			}
			rs := incoming[p.ID][n.ID]
			if len(rs) > 1 {
				return nil, fmt.Errorf("program %q port %q has %d incoming bindings (%s): %w",
					p.ID, n.ID, len(rs), originList(rs), ErrAmbiguousBinding)
			}
			if len(rs) == 0 {
				if n.Init != nil {
					continue // literal-initialized constant
				}
				return nil, fmt.Errorf("program %q port %q: %w", p.ID, n.ID, ErrUnboundInput)
			}
			if err := lowerBinding(plan, m, byID, p, n, rs[0], params, aliasSeen); err != nil {
				return nil, err
			}
		}
	}

	order, err := programOrder(m, plan.Bindings)
	if err != nil {
		return nil, err
	}
	plan.Order = order
	return plan, nil
}

// lowerBinding validates one resolved binding and appends its link-plan
// entry, copy steps, and storage decisions.
func lowerBinding(plan *Plan, m *graph.Manifest, byID map[string]*graph.Program,
	p *graph.Program, n *graph.Node, r resolved, params *graph.Params, aliasSeen map[string]bool) error {

	elems, err := n.Size.Eval(params)
	if err != nil {
		return fmt.Errorf("program %q port %q: %w", p.ID, n.ID, err)
	}
	bound := ir.Bound{Expr: n.Size.String(), N: elems}
	entry := ir.Binding{
		Kind:    r.kind,
		Program: p.ID,
		Port:    r.port,
		Node:    n.ID,
		Buffer:  ir.BufferName(p.ID, n.ID),
		Size:    bound,
	}

	switch {
	case r.kind.Signal():
		want := int64(r.kind.SignalArity())
		if r.kind == graph.SrcScreenUV {
			if m.Window == nil {
				return fmt.Errorf("program %q port %q: screen_uv signal requires a window config", p.ID, n.ID)
			}
			want = int64(m.Window.Width) * int64(m.Window.Height) * 2
		}
		if elems != want {
			return fmt.Errorf("program %q port %q: signal %q supplies %d elements, port holds %s (=%d): %w",
				p.ID, n.ID, r.kind, want, n.Size, elems, graph.ErrSizeMismatch)
		}

	case r.kind == graph.SrcLink:
		src := byID[r.srcProgram]
		srcNode := src.Node(r.srcNode)
		if !srcNode.Size.Equal(n.Size) {
			return fmt.Errorf("link %s.%s -> %s.%s: source size %s, destination size %s: %w",
				r.srcProgram, r.srcNode, p.ID, n.ID, srcNode.Size, n.Size, graph.ErrSizeMismatch)
		}
		entry.SrcProgram, entry.SrcNode = r.srcProgram, r.srcNode

		// Stateless resource: an alias onto the producer's buffer, shared
		// by every consumer of the same source.
		alias := "res." + ir.BufferName(r.srcProgram, r.srcNode)
		if !aliasSeen[alias] {
			aliasSeen[alias] = true
			plan.Aliases = append(plan.Aliases, ir.Buffer{
				Name:    alias,
				Program: r.srcProgram,
				Node:    r.srcNode,
				DType:   srcNode.DType,
				Size:    ir.Bound{Expr: srcNode.Size.String(), N: elems},
				Storage: ir.StorageAliased,
				AliasOf: ir.BufferName(r.srcProgram, r.srcNode),
			})
		}
		plan.CopyIn[p.ID] = append(plan.CopyIn[p.ID], ir.CopyStep{
			Dst:     entry.Buffer,
			DstSlot: ir.SlotDirect,
			Src:     alias,
			SrcSlot: ir.SlotDirect,
			Size:    bound,
		})

	case r.kind == graph.SrcFeedback:
		srcNode := p.Node(r.srcNode)
		if srcNode == nil {
			return fmt.Errorf("program %q port %q: feedback source %q not found", p.ID, n.ID, r.srcNode)
		}
		if !srcNode.Size.Equal(n.Size) {
			return fmt.Errorf("feedback %s.%s -> %s.%s: source size %s, destination size %s: %w",
				p.ID, r.srcNode, p.ID, n.ID, srcNode.Size, n.Size, graph.ErrSizeMismatch)
		}
		entry.SrcProgram, entry.SrcNode = p.ID, r.srcNode

		res := Resource{
			Name:    "state." + ir.BufferName(p.ID, n.ID),
			Program: p.ID,
			State:   n.ID,
			Source:  r.srcNode,
			DType:   n.DType,
			Size:    n.Size,
			Init:    n.Init,
		}
		plan.Resources = append(plan.Resources, res)

		// Copy-in reads the front slot: what last frame's copy-out wrote
		// into the back slot, made visible by the frame-end swap. The live
		// buffer being written this frame is never read.
		plan.CopyIn[p.ID] = append(plan.CopyIn[p.ID], ir.CopyStep{
			Dst:     entry.Buffer,
			DstSlot: ir.SlotDirect,
			Src:     res.Name,
			SrcSlot: ir.SlotFront,
			Size:    bound,
		})
		plan.CopyOut[p.ID] = append(plan.CopyOut[p.ID], ir.CopyStep{
			Dst:     res.Name,
			DstSlot: ir.SlotBack,
			Src:     ir.BufferName(p.ID, r.srcNode),
			SrcSlot: ir.SlotDirect,
			Size:    bound,
		})
	}

	plan.Bindings = append(plan.Bindings, entry)
	return nil
}

// displaySink validates the display output against the host resolution.
func displaySink(m *graph.Manifest, p *graph.Program, node string, params *graph.Params) (*ir.DisplaySink, error) {
	if m.Window == nil {
		return nil, fmt.Errorf("display sink %s.%s: a window config is required", p.ID, node)
	}
	n := p.Node(node)
	elems, err := n.Size.Eval(params)
	if err != nil {
		return nil, fmt.Errorf("display sink %s.%s: %w", p.ID, node, err)
	}
	want := int64(m.Window.Width) * int64(m.Window.Height) * 3
	if elems != want {
		return nil, fmt.Errorf("display sink %s.%s holds %d elements, host presents %dx%d RGB (=%d): %w",
			p.ID, node, elems, m.Window.Width, m.Window.Height, want, graph.ErrSizeMismatch)
	}
	return &ir.DisplaySink{
		Program: p.ID,
		Node:    node,
		Buffer:  ir.BufferName(p.ID, node),
		Width:   m.Window.Width,
		Height:  m.Window.Height,
	}, nil
}

// programOrder topologically sorts programs over their non-feedback link
// edges, breaking ties by manifest declaration order. If program B reads
// program A's current-frame output, A executes first.
func programOrder(m *graph.Manifest, bindings []ir.Binding) ([]string, error) {
	n := len(m.Programs)
	idx := make(map[string]int, n)
	for i, ref := range m.Programs {
		idx[ref.ID] = i
	}
	consumers := make([][]int, n)
	indeg := make([]int, n)
	seen := map[[2]int]bool{}
	for _, b := range bindings {
		if b.Kind != graph.SrcLink || b.SrcProgram == b.Program {
			continue
		}
		e := [2]int{idx[b.SrcProgram], idx[b.Program]}
		if seen[e] {
			continue
		}
		seen[e] = true
		consumers[e[0]] = append(consumers[e[0]], e[1])
		indeg[e[1]]++
	}

	done := make([]bool, n)
	order := make([]string, 0, n)
	for len(order) < n {
		pick := -1
		for i := 0; i < n; i++ {
			if !done[i] && indeg[i] == 0 {
				pick = i
				break
			}
		}
		if pick < 0 {
			var blocked []string
			for i := 0; i < n; i++ {
				if !done[i] {
					blocked = append(blocked, m.Programs[i].ID)
				}
			}
			return nil, fmt.Errorf("programs {%s} link to each other in a loop: %w",
				strings.Join(blocked, ", "), graph.ErrCyclicDependency)
		}
		done[pick] = true
		order = append(order, m.Programs[pick].ID)
		for _, c := range consumers[pick] {
			indeg[c]--
		}
	}
	return order, nil
}

// originList formats binding provenances for an ambiguity error.
func originList(rs []resolved) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r.kind) + " via " + r.origin
	}
	slices.Sort(parts)
	return strings.Join(parts, "; ")
}
