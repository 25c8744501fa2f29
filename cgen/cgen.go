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

// Package cgen renders a compiled Module as standalone C99 source: a
// kernel module with init/frame entry points, a header, a headless batch
// host, and (when a window is configured) an SDL2 host. The output has no
// dependency on this compiler; it builds with any C99 toolchain, plus
// SDL2 for the windowed host and OpenMP when parallel loops are enabled.
package cgen

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/skeinflow/skein/graph"
	"github.com/skeinflow/skein/ir"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Options selects code-generation variants.
type Options struct {
	// Parallel annotates every loop nest's outermost loop with an OpenMP
	// pragma. The nests are parallel-safe by construction, so this changes
	// schedule only, never results.
	Parallel bool
}

// File is one generated source file.
type File struct {
	Name string
	Data []byte
}

// Generate renders all output files for a module.
func Generate(mod *ir.Module, opts Options) ([]File, error) {
	g := newGenerator(mod, opts)
	data, err := g.build()
	if err != nil {
		return nil, err
	}

	files := []File{}
	render := func(name, tmpl string) error {
		var buf bytes.Buffer
		if err := templates.ExecuteTemplate(&buf, tmpl, data); err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		files = append(files, File{Name: name, Data: buf.Bytes()})
		return nil
	}
	if err := render(g.prefix+".h", "module.h.tmpl"); err != nil {
		return nil, err
	}
	if err := render(g.prefix+".c", "module.c.tmpl"); err != nil {
		return nil, err
	}
	if err := render(g.prefix+"_headless.c", "headless.c.tmpl"); err != nil {
		return nil, err
	}
	if mod.Window != nil {
		if err := render(g.prefix+"_sdl2.c", "sdl2.c.tmpl"); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// generator carries the naming tables shared by every render step.
type generator struct {
	mod    *ir.Module
	opts   Options
	prefix string
	macro  string
	pairs  map[string]*pairData // buffer name -> stateful pair
}

func newGenerator(mod *ir.Module, opts Options) *generator {
	prefix := csym(strings.ToLower(mod.Name))
	return &generator{
		mod:    mod,
		opts:   opts,
		prefix: prefix,
		macro:  cases.Upper(language.Und).String(prefix),
		pairs:  map[string]*pairData{},
	}
}

type paramData struct {
	Macro string
	Value string
}

type bufferData struct {
	CName    string
	CType    string
	N        int64
	Expr     string
	InitList string
}

type pairData struct {
	A, B        string
	Front, Back string
	CType       string
	N           int64
	Expr        string
	InitList    string
}

type aliasData struct {
	CName  string
	CType  string
	Target string
}

type stepData struct {
	Program string
	Lines   []string
}

type fileData struct {
	Name      string
	Prefix    string
	Macro     string
	Parallel  bool
	HasWindow bool
	Width     int
	Height    int
	Title     string

	Params    []paramData
	Buffers   []bufferData
	Pairs     []pairData
	Aliases   []aliasData
	InitLines []string
	Fills     []string
	Steps     []stepData
	Swaps     []pairData
	Display   string
}

func (g *generator) build() (*fileData, error) {
	d := &fileData{
		Name:     g.mod.Name,
		Prefix:   g.prefix,
		Macro:    g.macro,
		Parallel: g.opts.Parallel,
	}
	if w := g.mod.Window; w != nil {
		d.HasWindow = true
		d.Width, d.Height = w.Width, w.Height
		d.Title = w.Title
		if d.Title == "" {
			d.Title = g.mod.Name
		}
	}

	for _, p := range g.mod.Params {
		d.Params = append(d.Params, paramData{
			Macro: g.paramMacro(p.Name),
			Value: paramC(p),
		})
	}

	for i := range g.mod.Buffers {
		b := &g.mod.Buffers[i]
		switch b.Storage {
		case ir.StorageOwned:
			d.Buffers = append(d.Buffers, bufferData{
				CName:    bufC(b.Name),
				CType:    b.DType.CType(),
				N:        b.Size.N,
				Expr:     b.Size.Expr,
				InitList: initList(b.Init),
			})
		case ir.StorageStatefulPair:
			base := bufC(b.Name)
			pair := pairData{
				A: base + "_a", B: base + "_b",
				Front: base + "_front", Back: base + "_back",
				CType:    b.DType.CType(),
				N:        b.Size.N,
				Expr:     b.Size.Expr,
				InitList: initList(b.Init),
			}
			g.pairs[b.Name] = &pair
			d.Pairs = append(d.Pairs, pair)
		case ir.StorageAliased:
			d.Aliases = append(d.Aliases, aliasData{
				CName:  bufC(b.Name),
				CType:  b.DType.CType(),
				Target: bufC(b.AliasOf),
			})
		}
	}
	d.Swaps = d.Pairs

	// Host signal fills run at the top of the frame; the screen-space
	// coordinate field is constant per resolution, so it fills in init.
	for _, b := range g.mod.Links.Bindings {
		target := bufC(b.Buffer)
		switch b.Kind {
		case graph.SrcPointer:
			d.Fills = append(d.Fills,
				target+"[0] = sig->pointer_x;",
				target+"[1] = sig->pointer_y;")
		case graph.SrcPointerPrev:
			d.Fills = append(d.Fills,
				target+"[0] = sig->pointer_prev_x;",
				target+"[1] = sig->pointer_prev_y;")
		case graph.SrcButton:
			d.Fills = append(d.Fills, target+"[0] = sig->button;")
		case graph.SrcTime:
			d.Fills = append(d.Fills, target+"[0] = sig->time;")
		case graph.SrcScreenUV:
			d.InitLines = append(d.InitLines, screenUVFill(target, d.Width, d.Height)...)
		}
	}

	for i := range g.mod.Steps {
		step := &g.mod.Steps[i]
		lines, err := g.stepLines(step)
		if err != nil {
			return nil, err
		}
		d.Steps = append(d.Steps, stepData{Program: step.Program, Lines: lines})
	}

	if sink := g.mod.Links.Display; sink != nil {
		d.Display = bufC(sink.Buffer)
	}
	return d, nil
}

// stepLines renders one program's copies and loop nests.
func (g *generator) stepLines(step *ir.ProgramSteps) ([]string, error) {
	var lines []string
	for _, c := range step.CopyIn {
		lines = append(lines, g.copyLine(c))
	}
	for i := range step.Nests {
		nl, err := g.nestLines(&step.Nests[i])
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", step.Program, err)
		}
		lines = append(lines, nl...)
	}
	for _, c := range step.CopyOut {
		lines = append(lines, g.copyLine(c))
	}
	return lines, nil
}

func (g *generator) copyLine(c ir.CopyStep) string {
	ctype := "float"
	if b := g.mod.BufferByName(c.Dst); b != nil {
		ctype = b.DType.CType()
	}
	return fmt.Sprintf("memcpy(%s, %s, %d * sizeof(%s));",
		g.slotRef(c.Dst, c.DstSlot), g.slotRef(c.Src, c.SrcSlot), c.Size.N, ctype)
}

// slotRef names the C object a copy endpoint addresses.
func (g *generator) slotRef(name string, slot ir.Slot) string {
	if pair, ok := g.pairs[name]; ok {
		switch slot {
		case ir.SlotFront:
			return pair.Front
		case ir.SlotBack:
			return pair.Back
		}
	}
	return bufC(name)
}

// paramMacro is the preprocessor name of a manifest parameter. Parameters
// live in their own PARAM_ namespace so names like "width" cannot collide
// with the window macros {PREFIX}_WIDTH and {PREFIX}_HEIGHT.
func (g *generator) paramMacro(name string) string {
	return g.macro + "_PARAM_" + cases.Upper(language.Und).String(csym(name))
}

// bufC maps a buffer-table name to its C identifier.
func bufC(name string) string {
	return "buf_" + csym(name)
}

// csym folds an arbitrary name into a C identifier.
func csym(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// cfloat renders a float literal that is valid C99 in every case,
// including whole numbers.
func cfloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 32)
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "inf") {
		s += ".0"
	}
	return s + "f"
}

// paramC renders a parameter value: bare integer for whole values usable
// in array bounds, float literal otherwise.
func paramC(p ir.ParamValue) string {
	if p.Integer {
		return strconv.FormatInt(int64(p.Value), 10)
	}
	return cfloat(p.Value)
}

// initList renders a static-array initializer, or "" for zero-filled.
func initList(init []float64) string {
	if len(init) == 0 {
		return ""
	}
	parts := make([]string, len(init))
	for i, v := range init {
		parts[i] = cfloat(v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// screenUVFill writes the per-pixel normalized pixel-center coordinates.
func screenUVFill(target string, w, h int) []string {
	return []string{
		fmt.Sprintf("for (size_t y = 0; y < %d; ++y) {", h),
		fmt.Sprintf("    for (size_t x = 0; x < %d; ++x) {", w),
		fmt.Sprintf("        %s[(y * %d + x) * 2 + 0] = ((float)x + 0.5f) / %d.0f;", target, w, w),
		fmt.Sprintf("        %s[(y * %d + x) * 2 + 1] = ((float)y + 0.5f) / %d.0f;", target, w, h),
		"    }",
		"}",
	}
}
