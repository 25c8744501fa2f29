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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SourceKind names what drives a bound input port, or marks the display
// sink. The signal kinds form the fixed vocabulary the host environment
// must supply once per frame.
type SourceKind string

const (
	// SrcPointer is the normalized 2-D pointer position, current frame.
	SrcPointer SourceKind = "pointer"
	// SrcPointerPrev is the pointer position of the previous frame.
	SrcPointerPrev SourceKind = "pointer_prev"
	// SrcButton is the boolean pointer-button signal (0 or 1).
	SrcButton SourceKind = "button"
	// SrcTime is the monotonically increasing elapsed-time scalar.
	SrcTime SourceKind = "time"
	// SrcScreenUV is the per-pixel normalized-coordinate field, sized
	// width*height*2 at the host-supplied resolution.
	SrcScreenUV SourceKind = "screen_uv"

	// SrcLink reads another program's output port, current frame.
	SrcLink SourceKind = "link"
	// SrcFeedback reads the consuming program's own prior-frame output
	// through the stateful resource mechanism.
	SrcFeedback SourceKind = "feedback"

	// SrcDisplay marks a program output as the display sink: an
	// RGB-in-[0,1] per-pixel buffer consumed by the host, not by a program.
	SrcDisplay SourceKind = "display"
)

// Signal reports whether the kind is an external host signal.
func (k SourceKind) Signal() bool {
	switch k {
	case SrcPointer, SrcPointerPrev, SrcButton, SrcTime, SrcScreenUV:
		return true
	}
	return false
}

// SignalArity returns the element count of a fixed-arity signal kind, or
// -1 for SrcScreenUV, whose size depends on the host resolution.
func (k SourceKind) SignalArity() int {
	switch k {
	case SrcPointer, SrcPointerPrev:
		return 2
	case SrcButton, SrcTime:
		return 1
	case SrcScreenUV:
		return -1
	}
	return 0
}

// SourceDef is the manifest-side description of a binding source.
type SourceDef struct {
	Kind SourceKind `json:"kind"`

	// Program and Output locate the source port for SrcLink. SrcFeedback
	// uses Output only; its program is by definition the destination's own.
	Program string `json:"program,omitempty"`
	Output  string `json:"output,omitempty"`
}

// BindingDef pairs one program port with a source. Input is set for
// signal, link, and feedback bindings; Output is set for the display sink.
type BindingDef struct {
	Program string    `json:"program"`
	Input   string    `json:"input,omitempty"`
	Output  string    `json:"output,omitempty"`
	Source  SourceDef `json:"source"`
}

// WindowConfig is passed through to windowed hosts after a positivity
// check on its dimensions.
type WindowConfig struct {
	Title  string `json:"title"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ProgramRef names a program and the graph file that defines it.
type ProgramRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Manifest is the project description: global parameters, the programs to
// compile, and the bindings that link them to each other and to the host.
type Manifest struct {
	Name       string             `json:"name,omitempty"`
	Window     *WindowConfig      `json:"window,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Programs   []ProgramRef       `json:"programs"`
	Bindings   []BindingDef       `json:"bindings,omitempty"`
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Programs) == 0 {
		return nil, fmt.Errorf("manifest declares no programs")
	}
	if w := m.Window; w != nil && (w.Width <= 0 || w.Height <= 0) {
		return nil, fmt.Errorf("manifest window is %dx%d, want positive dimensions", w.Width, w.Height)
	}
	seen := map[string]bool{}
	for _, ref := range m.Programs {
		if ref.ID == "" || ref.Path == "" {
			return nil, fmt.Errorf("manifest program entry needs both id and path")
		}
		if seen[ref.ID] {
			return nil, fmt.Errorf("manifest declares program %q twice", ref.ID)
		}
		seen[ref.ID] = true
	}
	return &m, nil
}

// LoadManifest reads and decodes a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// programFile is the on-disk shape of one program graph.
type programFile struct {
	Nodes   []Node            `json:"nodes"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// ParseProgram decodes one program graph document.
func ParseProgram(id string, data []byte) (*Program, error) {
	var pf programFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse program %q: %w", id, err)
	}
	p := &Program{ID: id, Nodes: pf.Nodes, Outputs: pf.Outputs}
	if p.Outputs == nil {
		p.Outputs = map[string]string{}
	}
	if err := p.reindex(); err != nil {
		return nil, err
	}
	for alias, node := range p.Outputs {
		if p.Node(node) == nil {
			return nil, fmt.Errorf("program %q: output port %q names unknown node %q", id, alias, node)
		}
	}
	return p, nil
}

// LoadPrograms reads every program graph named by the manifest, resolving
// relative paths against baseDir. Programs come back in manifest order.
func (m *Manifest) LoadPrograms(baseDir string) ([]*Program, error) {
	progs := make([]*Program, 0, len(m.Programs))
	for _, ref := range m.Programs {
		path := ref.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", ref.ID, err)
		}
		p, err := ParseProgram(ref.ID, data)
		if err != nil {
			return nil, err
		}
		progs = append(progs, p)
	}
	return progs, nil
}
