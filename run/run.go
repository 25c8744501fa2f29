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

// Package run is the in-process reference runtime. It interprets a
// compiled Module directly over float32 buffers, frame by frame, with the
// same copy/execute/swap schedule the generated C follows. It exists for
// tests and for running graphs without a C toolchain; the parallel path
// produces bit-identical results to the sequential one.
package run

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/skeinflow/skein/graph"
	"github.com/skeinflow/skein/ir"
)

// Signals is the per-frame host input.
type Signals struct {
	Pointer     [2]float32
	PointerPrev [2]float32
	Button      float32
	Time        float32
}

// Options configures a Runtime.
type Options struct {
	// Parallel executes each loop nest across Workers goroutines. Nests
	// are parallel-safe by construction and per-element work is
	// unchanged, so results match the sequential path exactly.
	Parallel bool

	// Workers caps the goroutines per nest; 0 means GOMAXPROCS.
	Workers int
}

type statePair struct {
	front, back []float32
}

// Runtime holds the allocated buffers for one module instance.
type Runtime struct {
	mod    *ir.Module
	params map[string]float32
	bufs   map[string][]float32
	pairs  map[string]*statePair
	opts   Options
	frame  int64
}

// New allocates and initializes a runtime for the module.
func New(mod *ir.Module, opts Options) (*Runtime, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	r := &Runtime{
		mod:    mod,
		params: make(map[string]float32, len(mod.Params)),
		bufs:   map[string][]float32{},
		pairs:  map[string]*statePair{},
		opts:   opts,
	}
	for _, p := range mod.Params {
		r.params[p.Name] = float32(p.Value)
	}

	for i := range mod.Buffers {
		b := &mod.Buffers[i]
		switch b.Storage {
		case ir.StorageOwned:
			r.bufs[b.Name] = seeded(b)
		case ir.StorageStatefulPair:
			r.pairs[b.Name] = &statePair{
				front: seeded(b),
				back:  make([]float32, b.Size.N),
			}
		}
	}
	// Aliases share their owner's storage.
	for i := range mod.Buffers {
		b := &mod.Buffers[i]
		if b.Storage != ir.StorageAliased {
			continue
		}
		owner := mod.ResolveAlias(b.Name)
		if owner == nil {
			return nil, fmt.Errorf("alias %q resolves to no buffer", b.Name)
		}
		r.bufs[b.Name] = r.bufs[owner.Name]
	}

	// The screen-space coordinate field is constant per resolution.
	for _, bind := range mod.Links.Bindings {
		if bind.Kind != graph.SrcScreenUV {
			continue
		}
		if mod.Window == nil {
			return nil, fmt.Errorf("binding %s.%s: screen_uv requires a window config", bind.Program, bind.Node)
		}
		w, h := mod.Window.Width, mod.Window.Height
		dst := r.bufs[bind.Buffer]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst[(y*w+x)*2] = (float32(x) + 0.5) / float32(w)
				dst[(y*w+x)*2+1] = (float32(y) + 0.5) / float32(h)
			}
		}
	}
	return r, nil
}

func seeded(b *ir.Buffer) []float32 {
	s := make([]float32, b.Size.N)
	for i, v := range b.Init {
		s[i] = float32(v)
	}
	return s
}

// Frame advances the module by one frame.
func (r *Runtime) Frame(ctx context.Context, sig Signals) error {
	r.fillSignals(sig)
	for i := range r.mod.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runProgram(ctx, &r.mod.Steps[i]); err != nil {
			return fmt.Errorf("frame %d, program %q: %w", r.frame, r.mod.Steps[i].Program, err)
		}
	}
	// Every copy-out has landed in a back slot; the swaps publish them all
	// at once for the next frame.
	for _, sw := range r.mod.FrameEnd {
		p := r.pairs[sw.Buffer]
		p.front, p.back = p.back, p.front
	}
	r.frame++
	return nil
}

// FrameCount returns the number of completed frames.
func (r *Runtime) FrameCount() int64 { return r.frame }

// Display returns the display buffer, or nil without a display sink. The
// slice is live; it changes on the next Frame call.
func (r *Runtime) Display() []float32 {
	if r.mod.Links.Display == nil {
		return nil
	}
	return r.bufs[r.mod.Links.Display.Buffer]
}

// Buffer returns a node's current buffer contents.
func (r *Runtime) Buffer(program, node string) []float32 {
	return r.bufs[ir.BufferName(program, node)]
}

func (r *Runtime) fillSignals(sig Signals) {
	for _, b := range r.mod.Links.Bindings {
		dst := r.bufs[b.Buffer]
		switch b.Kind {
		case graph.SrcPointer:
			dst[0], dst[1] = sig.Pointer[0], sig.Pointer[1]
		case graph.SrcPointerPrev:
			dst[0], dst[1] = sig.PointerPrev[0], sig.PointerPrev[1]
		case graph.SrcButton:
			dst[0] = sig.Button
		case graph.SrcTime:
			dst[0] = sig.Time
		}
	}
}

func (r *Runtime) runProgram(ctx context.Context, step *ir.ProgramSteps) error {
	for _, c := range step.CopyIn {
		r.copyStep(c)
	}
	for i := range step.Nests {
		if err := r.runNest(ctx, &step.Nests[i]); err != nil {
			return err
		}
	}
	for _, c := range step.CopyOut {
		r.copyStep(c)
	}
	return nil
}

func (r *Runtime) copyStep(c ir.CopyStep) {
	copy(r.slot(c.Dst, c.DstSlot), r.slot(c.Src, c.SrcSlot))
}

func (r *Runtime) slot(name string, s ir.Slot) []float32 {
	if p, ok := r.pairs[name]; ok {
		if s == ir.SlotBack {
			return p.back
		}
		return p.front
	}
	return r.bufs[name]
}

func (r *Runtime) runNest(ctx context.Context, n *ir.LoopNest) error {
	switch n.Kind {
	case ir.NestFused:
		total := int64(1)
		for _, b := range n.Bounds {
			total *= b.N
		}
		return r.forRange(ctx, total, func(lo, hi int64) {
			for _, st := range n.Body {
				dst := r.bufs[st.Buffer]
				for i := lo; i < hi; i++ {
					dst[i] = r.eval(st.Expr, i)
				}
			}
		})

	case ir.NestReduce:
		return r.reduce(ctx, n.Reduce)

	case ir.NestMatMul:
		return r.matmul(ctx, n.MatMul)

	case ir.NestConv:
		return r.conv(ctx, n)
	}
	return fmt.Errorf("unknown nest kind %q", n.Kind)
}

// forRange runs fn over [0,total), split across workers when parallel.
// Chunk boundaries never change per-element results: each element's value
// depends only on its own index.
func (r *Runtime) forRange(ctx context.Context, total int64, fn func(lo, hi int64)) error {
	if !r.opts.Parallel || total < 2 {
		fn(0, total)
		return nil
	}
	workers := int64(r.opts.Workers)
	if workers > total {
		workers = total
	}
	chunk := (total + workers - 1) / workers
	g, _ := errgroup.WithContext(ctx)
	for lo := int64(0); lo < total; lo += chunk {
		lo := lo
		hi := min(lo+chunk, total)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runtime) reduce(ctx context.Context, k *ir.ReduceKernel) error {
	src, dst := r.bufs[k.Src], r.bufs[k.Dst]
	dims := make([]int64, len(k.SrcDims))
	for i, d := range k.SrcDims {
		dims[i] = d.N
	}
	strides := rowMajor(dims)
	axisN, axisStride := dims[k.Axis], strides[k.Axis]

	var kept []int
	for i := range dims {
		if i != k.Axis {
			kept = append(kept, i)
		}
	}
	outDims := make([]int64, len(kept))
	for i, d := range kept {
		outDims[i] = dims[d]
	}
	outStrides := rowMajor(outDims)

	total := int64(1)
	for _, d := range outDims {
		total *= d
	}
	return r.forRange(ctx, total, func(lo, hi int64) {
		for out := lo; out < hi; out++ {
			// Decompose the flat output index into the kept coordinates
			// and rebuild the source base offset.
			rem, base := out, int64(0)
			for i := range kept {
				c := rem / outStrides[i]
				rem -= c * outStrides[i]
				base += c * strides[kept[i]]
			}
			acc := float32(0)
			for kk := int64(0); kk < axisN; kk++ {
				acc += src[base+kk*axisStride]
			}
			dst[out] = acc
		}
	})
}

func (r *Runtime) matmul(ctx context.Context, k *ir.MatMulKernel) error {
	l, rr, dst := r.bufs[k.L], r.bufs[k.R], r.bufs[k.Dst]
	m, kn, n := k.M.N, k.K.N, k.N.N
	return r.forRange(ctx, m, func(lo, hi int64) {
		for i := lo; i < hi; i++ {
			for j := int64(0); j < n; j++ {
				acc := float32(0)
				for kk := int64(0); kk < kn; kk++ {
					acc += l[i*kn+kk] * rr[kk*n+j]
				}
				dst[i*n+j] = acc
			}
		}
	})
}

func (r *Runtime) conv(ctx context.Context, n *ir.LoopNest) error {
	k := n.Conv
	src, ker, dst := r.bufs[k.Src], r.bufs[k.Ker], r.bufs[k.Dst]

	outDims := make([]int64, len(n.Bounds))
	for i, b := range n.Bounds {
		outDims[i] = b.N
	}
	srcDims := make([]int64, len(k.SrcDims))
	for i, b := range k.SrcDims {
		srcDims[i] = b.N
	}
	kerDims := make([]int64, len(k.KerDims))
	for i, b := range k.KerDims {
		kerDims[i] = b.N
	}
	outStrides := rowMajor(outDims)
	srcStrides := rowMajor(srcDims)
	kerStrides := rowMajor(kerDims)

	kerTotal := int64(1)
	for _, d := range kerDims {
		kerTotal *= d
	}
	total := int64(1)
	for _, d := range outDims {
		total *= d
	}
	return r.forRange(ctx, total, func(lo, hi int64) {
		for out := lo; out < hi; out++ {
			// Decompose the flat output index into coordinates and rebuild
			// the source base offset of the correlation window.
			rem, base := out, int64(0)
			for i := range outDims {
				c := rem / outStrides[i]
				rem -= c * outStrides[i]
				base += c * srcStrides[i]
			}
			acc := float32(0)
			for kk := int64(0); kk < kerTotal; kk++ {
				krem, off := kk, int64(0)
				for i := range kerDims {
					c := krem / kerStrides[i]
					krem -= c * kerStrides[i]
					off += c * srcStrides[i]
				}
				acc += src[base+off] * ker[kk]
			}
			dst[out] = acc
		}
	})
}

func rowMajor(dims []int64) []int64 {
	strides := make([]int64, len(dims))
	acc := int64(1)
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i]
	}
	return strides
}

// eval computes one element of an expression at the flat index i.
func (r *Runtime) eval(e *ir.Expr, i int64) float32 {
	switch e.Kind {
	case ir.ExprRef:
		if e.Scalar {
			return r.bufs[e.Buffer][0]
		}
		return r.bufs[e.Buffer][i]
	case ir.ExprConst:
		return float32(e.Value)
	case ir.ExprParamRef:
		return r.params[e.Param]
	case ir.ExprUnary:
		a := r.eval(e.Args[0], i)
		switch e.Op {
		case "neg":
			return -a
		case "abs":
			return float32(math.Abs(float64(a)))
		case "sqrt":
			return float32(math.Sqrt(float64(a)))
		case "square":
			return a * a
		case "sin":
			return float32(math.Sin(float64(a)))
		case "cos":
			return float32(math.Cos(float64(a)))
		case "exp":
			return float32(math.Exp(float64(a)))
		case "log":
			return float32(math.Log(float64(a)))
		}
	case ir.ExprBinary:
		a, b := r.eval(e.Args[0], i), r.eval(e.Args[1], i)
		switch e.Op {
		case "+":
			return a + b
		case "-":
			return a - b
		case "*":
			return a * b
		case "/":
			return a / b
		case "min":
			return float32(math.Min(float64(a), float64(b)))
		case "max":
			return float32(math.Max(float64(a), float64(b)))
		case "pow":
			return float32(math.Pow(float64(a), float64(b)))
		}
	}
	return 0
}
