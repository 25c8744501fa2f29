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
	"strings"
)

// FeedbackEdge records a state node's read of a prior-frame value. The
// edge targets a virtual prior-frame source rather than the live node, so
// it never participates in the per-frame acyclicity check.
type FeedbackEdge struct {
	// State is the consuming state node's id.
	State string
	// Source is the node whose previous-frame value the state node carries.
	Source string
}

// Deps is the per-program dependency graph: an edge from each producer to
// every node that reads its current-frame buffer, plus the feedback edges
// excluded from the cycle check.
type Deps struct {
	prog     *Program
	order    []int // declaration indices in topological order
	Feedback []FeedbackEdge
}

// BuildDeps constructs the dependency graph for a resolved program and
// computes its topological order. Ties are broken by declaration order so
// repeated compilations of one graph are byte-identical. A cycle that
// survives feedback-edge removal is an authoring error, never a runtime
// condition.
func BuildDeps(p *Program) (*Deps, error) {
	n := len(p.Nodes)
	consumers := make([][]int, n)
	indeg := make([]int, n)
	d := &Deps{prog: p}

	for i := range p.Nodes {
		node := &p.Nodes[i]
		switch node.Role {
		case RoleComputed:
			for _, dep := range node.Op.Inputs {
				j := p.NodeIndex(dep)
				if j < 0 {
					return nil, fmt.Errorf("program %q node %q: operand %q not found", p.ID, node.ID, dep)
				}
				consumers[j] = append(consumers[j], i)
				indeg[i]++
			}
		case RoleState:
			if node.From != "" {
				// Reads the previous frame's value: acyclic by construction.
				d.Feedback = append(d.Feedback, FeedbackEdge{State: node.ID, Source: node.From})
			}
		}
	}

	// Kahn's algorithm, always taking the lowest-numbered ready node. The
	// quadratic scan is deliberate: programs are small and the scan keeps
	// the tie-break rule obvious.
	done := make([]bool, n)
	d.order = make([]int, 0, n)
	for len(d.order) < n {
		pick := -1
		for i := 0; i < n; i++ {
			if !done[i] && indeg[i] == 0 {
				pick = i
				break
			}
		}
		if pick < 0 {
			return nil, fmt.Errorf("program %q: %s: %w", p.ID, cycleMembers(p, done, indeg), ErrCyclicDependency)
		}
		done[pick] = true
		d.order = append(d.order, pick)
		for _, c := range consumers[pick] {
			indeg[c]--
		}
	}
	return d, nil
}

// Order returns the nodes in topological order.
func (d *Deps) Order() []*Node {
	out := make([]*Node, len(d.order))
	for i, idx := range d.order {
		out[i] = &d.prog.Nodes[idx]
	}
	return out
}

// cycleMembers names the nodes still blocked when the sort stalls.
func cycleMembers(p *Program, done []bool, indeg []int) string {
	var ids []string
	for i := range p.Nodes {
		if !done[i] && indeg[i] > 0 {
			ids = append(ids, p.Nodes[i].ID)
		}
	}
	return "cycle through {" + strings.Join(ids, ", ") + "}"
}
