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
	"errors"
	"testing"
)

func TestSizeOfCanonicalizes(t *testing.T) {
	tests := []struct {
		name string
		a, b Shape
		same bool
	}{
		{
			name: "symbol order is irrelevant",
			a:    Shape{{Sym: "WIDTH"}, {Sym: "HEIGHT"}, {Lit: 2}},
			b:    Shape{{Lit: 2}, {Sym: "HEIGHT"}, {Sym: "WIDTH"}},
			same: true,
		},
		{
			name: "literals fold into one coefficient",
			a:    Shape{{Lit: 4}, {Lit: 16}},
			b:    Shape{{Lit: 8}, {Lit: 8}},
			same: true,
		},
		{
			name: "repeated symbols keep multiplicity",
			a:    Shape{{Sym: "N"}, {Sym: "N"}},
			b:    Shape{{Sym: "N"}},
			same: false,
		},
		{
			name: "different coefficient",
			a:    Shape{{Lit: 2}, {Sym: "N"}},
			b:    Shape{{Lit: 3}, {Sym: "N"}},
			same: false,
		},
		{
			name: "empty shape is scalar one",
			a:    Shape{},
			b:    Shape{{Lit: 1}},
			same: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SizeOf(tt.a).Equal(SizeOf(tt.b)); got != tt.same {
				t.Errorf("SizeOf(%v).Equal(SizeOf(%v)) = %v, want %v", tt.a, tt.b, got, tt.same)
			}
		})
	}
}

func TestSizeExprString(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		want  string
	}{
		{"literal only", Shape{{Lit: 64}}, "64"},
		{"scalar", Shape{}, "1"},
		{"coefficient and sorted symbols", Shape{{Sym: "WIDTH"}, {Sym: "HEIGHT"}, {Lit: 2}}, "2*HEIGHT*WIDTH"},
		{"unit coefficient omitted", Shape{{Sym: "N"}}, "N"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SizeOf(tt.shape).String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSizeExprEval(t *testing.T) {
	params := NewParams(map[string]float64{"WIDTH": 640, "HEIGHT": 480, "HALF": 0.5})

	tests := []struct {
		name    string
		shape   Shape
		want    int64
		wantErr error
	}{
		{"literal", Shape{{Lit: 64}}, 64, nil},
		{"symbolic product", Shape{{Lit: 2}, {Sym: "WIDTH"}, {Sym: "HEIGHT"}}, 614400, nil},
		{"unknown symbol", Shape{{Sym: "DEPTH"}}, 0, ErrUnresolvedParameter},
		{"non-integral parameter", Shape{{Sym: "HALF"}}, 0, ErrUnresolvedParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SizeOf(tt.shape).Eval(params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Eval() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDimJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Dim
	}{
		{"number", `64`, Dim{Lit: 64}},
		{"symbol", `"WIDTH"`, Dim{Sym: "WIDTH"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Dim
			if err := d.UnmarshalJSON([]byte(tt.in)); err != nil {
				t.Fatal(err)
			}
			if d != tt.want {
				t.Errorf("UnmarshalJSON(%s) = %+v, want %+v", tt.in, d, tt.want)
			}
		})
	}
}
