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

package cgen

import (
	"fmt"
	"strings"

	"github.com/skeinflow/skein/ir"
)

// nestLines renders one loop nest as C statements. Fused nests iterate a
// single flat index over the shared element count; the reduce, matmul,
// and conv kernels get explicit row-major index arithmetic.
func (g *generator) nestLines(n *ir.LoopNest) ([]string, error) {
	switch n.Kind {
	case ir.NestFused:
		return g.fusedLines(n), nil
	case ir.NestReduce:
		return g.reduceLines(n), nil
	case ir.NestMatMul:
		return g.matmulLines(n), nil
	case ir.NestConv:
		return g.convLines(n), nil
	}
	return nil, fmt.Errorf("unknown nest kind %q", n.Kind)
}

func (g *generator) fusedLines(n *ir.LoopNest) []string {
	total := int64(1)
	for _, b := range n.Bounds {
		total *= b.N
	}
	var lines []string
	if g.opts.Parallel {
		lines = append(lines, "#pragma omp parallel for")
	}
	lines = append(lines, fmt.Sprintf("for (size_t i = 0; i < %d; ++i) {", total))
	for _, st := range n.Body {
		lines = append(lines, fmt.Sprintf("    %s[i] = %s;", bufC(st.Buffer), g.exprC(st.Expr)))
	}
	lines = append(lines, "}")
	return lines
}

func (g *generator) reduceLines(n *ir.LoopNest) []string {
	k := n.Reduce
	dims := k.SrcDims

	// Row-major strides over the full source shape.
	strides := boundStrides(dims)

	// One loop variable per kept dimension; the axis gets the inner
	// accumulation loop.
	var kept []int
	for i := range dims {
		if i != k.Axis {
			kept = append(kept, i)
		}
	}
	outStrides := make([]int64, len(kept))
	acc := int64(1)
	for i := len(kept) - 1; i >= 0; i-- {
		outStrides[i] = acc
		acc *= dims[kept[i]].N
	}

	srcIdx := make([]string, 0, len(dims))
	dstIdx := make([]string, 0, len(kept))
	for i, d := range kept {
		v := fmt.Sprintf("d%d", i)
		srcIdx = append(srcIdx, fmt.Sprintf("%s * %d", v, strides[d]))
		dstIdx = append(dstIdx, fmt.Sprintf("%s * %d", v, outStrides[i]))
	}
	srcIdx = append(srcIdx, fmt.Sprintf("k * %d", strides[k.Axis]))
	if len(dstIdx) == 0 {
		dstIdx = append(dstIdx, "0")
	}

	var lines []string
	indent := ""
	for i, d := range kept {
		if i == 0 && g.opts.Parallel {
			lines = append(lines, "#pragma omp parallel for")
		}
		lines = append(lines, fmt.Sprintf("%sfor (size_t d%d = 0; d%d < %d; ++d%d) {",
			indent, i, i, dims[d].N, i))
		indent += "    "
	}
	lines = append(lines,
		indent+"float acc = 0.0f;",
		fmt.Sprintf("%sfor (size_t k = 0; k < %d; ++k) {", indent, dims[k.Axis].N),
		fmt.Sprintf("%s    acc += %s[%s];", indent, bufC(k.Src), strings.Join(srcIdx, " + ")),
		indent+"}",
		fmt.Sprintf("%s%s[%s] = acc;", indent, bufC(k.Dst), strings.Join(dstIdx, " + ")))
	for range kept {
		indent = indent[:len(indent)-4]
		lines = append(lines, indent+"}")
	}
	return lines
}

func (g *generator) matmulLines(n *ir.LoopNest) []string {
	k := n.MatMul
	var lines []string
	if g.opts.Parallel {
		lines = append(lines, "#pragma omp parallel for")
	}
	lines = append(lines,
		fmt.Sprintf("for (size_t m = 0; m < %d; ++m) {", k.M.N),
		fmt.Sprintf("    for (size_t n = 0; n < %d; ++n) {", k.N.N),
		"        float acc = 0.0f;",
		fmt.Sprintf("        for (size_t kk = 0; kk < %d; ++kk) {", k.K.N),
		fmt.Sprintf("            acc += %s[m * %d + kk] * %s[kk * %d + n];",
			bufC(k.L), k.K.N, bufC(k.R), k.N.N),
		"        }",
		fmt.Sprintf("        %s[m * %d + n] = acc;", bufC(k.Dst), k.N.N),
		"    }",
		"}")
	return lines
}

func (g *generator) convLines(n *ir.LoopNest) []string {
	k := n.Conv

	srcStrides := boundStrides(k.SrcDims)
	kerStrides := boundStrides(k.KerDims)
	outStrides := boundStrides(n.Bounds)

	srcIdx := make([]string, len(n.Bounds))
	dstIdx := make([]string, len(n.Bounds))
	for d := range n.Bounds {
		if d < len(k.KerDims) {
			srcIdx[d] = fmt.Sprintf("(i%d + k%d) * %d", d, d, srcStrides[d])
		} else {
			srcIdx[d] = fmt.Sprintf("i%d * %d", d, srcStrides[d])
		}
		dstIdx[d] = fmt.Sprintf("i%d * %d", d, outStrides[d])
	}
	kerIdx := make([]string, len(k.KerDims))
	for d := range k.KerDims {
		kerIdx[d] = fmt.Sprintf("k%d * %d", d, kerStrides[d])
	}

	var lines []string
	indent := ""
	for d, b := range n.Bounds {
		if d == 0 && g.opts.Parallel {
			lines = append(lines, "#pragma omp parallel for")
		}
		lines = append(lines, fmt.Sprintf("%sfor (size_t i%d = 0; i%d < %d; ++i%d) {",
			indent, d, d, b.N, d))
		indent += "    "
	}
	lines = append(lines, indent+"float acc = 0.0f;")
	for d, b := range k.KerDims {
		lines = append(lines, fmt.Sprintf("%sfor (size_t k%d = 0; k%d < %d; ++k%d) {",
			indent, d, d, b.N, d))
		indent += "    "
	}
	lines = append(lines, fmt.Sprintf("%sacc += %s[%s] * %s[%s];",
		indent, bufC(k.Src), strings.Join(srcIdx, " + "), bufC(k.Ker), strings.Join(kerIdx, " + ")))
	for range k.KerDims {
		indent = indent[:len(indent)-4]
		lines = append(lines, indent+"}")
	}
	lines = append(lines, fmt.Sprintf("%s%s[%s] = acc;", indent, bufC(k.Dst), strings.Join(dstIdx, " + ")))
	for range n.Bounds {
		indent = indent[:len(indent)-4]
		lines = append(lines, indent+"}")
	}
	return lines
}

// boundStrides is the row-major stride of each dimension.
func boundStrides(dims []ir.Bound) []int64 {
	strides := make([]int64, len(dims))
	acc := int64(1)
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i].N
	}
	return strides
}

// exprC renders a scalar element expression at the flat loop index i.
func (g *generator) exprC(e *ir.Expr) string {
	switch e.Kind {
	case ir.ExprRef:
		if e.Scalar {
			return bufC(e.Buffer) + "[0]"
		}
		return bufC(e.Buffer) + "[i]"
	case ir.ExprConst:
		return cfloat(e.Value)
	case ir.ExprParamRef:
		return g.paramMacro(e.Param)
	case ir.ExprUnary:
		a := g.exprC(e.Args[0])
		switch e.Op {
		case "neg":
			return "(-" + a + ")"
		case "abs":
			return "fabsf(" + a + ")"
		case "sqrt":
			return "sqrtf(" + a + ")"
		case "square":
			return "(" + a + " * " + a + ")"
		case "sin":
			return "sinf(" + a + ")"
		case "cos":
			return "cosf(" + a + ")"
		case "exp":
			return "expf(" + a + ")"
		case "log":
			return "logf(" + a + ")"
		}
	case ir.ExprBinary:
		a, b := g.exprC(e.Args[0]), g.exprC(e.Args[1])
		switch e.Op {
		case "+", "-", "*", "/":
			return "(" + a + " " + e.Op + " " + b + ")"
		case "min":
			return "fminf(" + a + ", " + b + ")"
		case "max":
			return "fmaxf(" + a + ", " + b + ")"
		case "pow":
			return "powf(" + a + ", " + b + ")"
		}
	}
	return "0.0f"
}
