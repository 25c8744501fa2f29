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

// Package graph defines the declarative dataflow model consumed by the
// skein compiler: parameters, shapes with symbolic dimensions, nodes,
// programs, and the project manifest. It also implements the first two
// compilation stages — the shape/size resolver, which canonicalizes every
// node's size into a normalized product form, and the per-program
// dependency graph, which produces a deterministic topological order and
// rejects cycles that are not broken by a feedback edge.
//
// Everything in this package is immutable once Resolve has run; later
// stages (fusion, link, compile) only read it.
package graph
