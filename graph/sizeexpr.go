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
	"slices"
	"strconv"
	"strings"
)

// Dim is one shape dimension: either a literal extent or a reference to a
// named integer parameter. Exactly one field is meaningful; Sym wins when
// non-empty.
type Dim struct {
	Lit int64
	Sym string
}

// String renders the dimension as it appears in size expressions.
func (d Dim) String() string {
	if d.Sym != "" {
		return d.Sym
	}
	return strconv.FormatInt(d.Lit, 10)
}

// Eval folds the dimension to its extent under the given parameters.
func (d Dim) Eval(params *Params) (int64, error) {
	if d.Sym == "" {
		return d.Lit, nil
	}
	v, ok := params.Int(d.Sym)
	if !ok {
		return 0, fmt.Errorf("dimension %q: %w", d.Sym, ErrUnresolvedParameter)
	}
	return v, nil
}

// UnmarshalJSON accepts either a JSON number (literal) or a JSON string
// (parameter reference).
func (d *Dim) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) || v < 0 {
			return fmt.Errorf("dimension %v is not a non-negative integer", v)
		}
		d.Lit = int64(v)
		return nil
	case string:
		if v == "" {
			return fmt.Errorf("empty dimension symbol")
		}
		d.Sym = v
		return nil
	default:
		return fmt.Errorf("dimension must be a number or a parameter name, got %T", raw)
	}
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (d Dim) MarshalJSON() ([]byte, error) {
	if d.Sym != "" {
		return json.Marshal(d.Sym)
	}
	return json.Marshal(d.Lit)
}

// Shape is an ordered sequence of dimensions, outermost first.
type Shape []Dim

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Equal reports structural equality.
func (s Shape) Equal(o Shape) bool { return slices.Equal(s, o) }

// String renders the shape as [d0 d1 ...].
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// SizeExpr is a canonical size expression: an integer coefficient times a
// sorted multiset of parameter symbols. Two structurally equal shapes
// always canonicalize to an identical SizeExpr, so expression equality is
// a sound shape test for fusion.
type SizeExpr struct {
	Coeff int64
	Syms  []string
}

// SizeOf canonicalizes the product of a shape's dimensions. The empty
// shape is a scalar of size one.
func SizeOf(s Shape) SizeExpr {
	e := SizeExpr{Coeff: 1}
	for _, d := range s {
		if d.Sym != "" {
			e.Syms = append(e.Syms, d.Sym)
		} else {
			e.Coeff *= d.Lit
		}
	}
	slices.Sort(e.Syms)
	return e
}

// Equal reports whether two canonical expressions are identical.
func (e SizeExpr) Equal(o SizeExpr) bool {
	return e.Coeff == o.Coeff && slices.Equal(e.Syms, o.Syms)
}

// Scalar reports whether the expression is the constant one.
func (e SizeExpr) Scalar() bool {
	return e.Coeff == 1 && len(e.Syms) == 0
}

// String renders the canonical product form, e.g. "64" or "2*HEIGHT*WIDTH".
// The rendering is syntactically stable: equal expressions render equal.
func (e SizeExpr) String() string {
	if len(e.Syms) == 0 {
		return strconv.FormatInt(e.Coeff, 10)
	}
	parts := make([]string, 0, len(e.Syms)+1)
	if e.Coeff != 1 {
		parts = append(parts, strconv.FormatInt(e.Coeff, 10))
	}
	parts = append(parts, e.Syms...)
	return strings.Join(parts, "*")
}

// Eval folds the expression to an element count.
func (e SizeExpr) Eval(params *Params) (int64, error) {
	n := e.Coeff
	for _, sym := range e.Syms {
		v, ok := params.Int(sym)
		if !ok {
			return 0, fmt.Errorf("size %s: parameter %q: %w", e, sym, ErrUnresolvedParameter)
		}
		n *= v
	}
	return n, nil
}
