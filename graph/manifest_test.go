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
	"os"
	"path/filepath"
	"testing"
)

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{
			name: "minimal",
			src:  `{"programs": [{"id": "p", "path": "p.json"}]}`,
		},
		{
			name:    "no programs",
			src:     `{"programs": []}`,
			wantErr: true,
		},
		{
			name: "duplicate program id",
			src: `{"programs": [
				{"id": "p", "path": "a.json"},
				{"id": "p", "path": "b.json"}
			]}`,
			wantErr: true,
		},
		{
			name:    "entry without path",
			src:     `{"programs": [{"id": "p"}]}`,
			wantErr: true,
		},
		{
			name: "non-positive window dimensions",
			src: `{
				"window": {"width": -64, "height": 48},
				"programs": [{"id": "p", "path": "p.json"}]
			}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.src))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseManifest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseProgramOutputAliases(t *testing.T) {
	p := mustParse(t, "p", `{
		"nodes": [{"id": "x", "role": "input", "shape": [1]}],
		"outputs": {"result": "x"}
	}`)

	if node, ok := p.OutputNode("result"); !ok || node != "x" {
		t.Errorf("OutputNode(result) = %q, %v; want x, true", node, ok)
	}
	// A raw node id passes through unchanged.
	if node, ok := p.OutputNode("x"); !ok || node != "x" {
		t.Errorf("OutputNode(x) = %q, %v; want x, true", node, ok)
	}
	if _, ok := p.OutputNode("missing"); ok {
		t.Error("OutputNode(missing) resolved unexpectedly")
	}
}

func TestParseProgramRejectsBadGraphs(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"duplicate node id", `{"nodes": [
			{"id": "x", "role": "input", "shape": [1]},
			{"id": "x", "role": "input", "shape": [1]}
		]}`},
		{"empty node id", `{"nodes": [{"id": "", "role": "input", "shape": [1]}]}`},
		{"alias to unknown node", `{
			"nodes": [{"id": "x", "role": "input", "shape": [1]}],
			"outputs": {"out": "y"}
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProgram("p", []byte(tt.src)); err == nil {
				t.Error("ParseProgram() accepted a malformed graph")
			}
		})
	}
}

func TestLoadManifestDefaultsName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ripple.json")
	if err := os.WriteFile(path, []byte(`{"programs": [{"id": "p", "path": "p.json"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "ripple" {
		t.Errorf("name = %q, want %q", m.Name, "ripple")
	}
}
