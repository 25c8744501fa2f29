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

import "errors"

// Compilation errors are fatal and carry the offending node, program, and
// port identifiers in their wrapped messages. There is no partial output:
// a stage either validates fully or returns one of these.
var (
	// ErrUnresolvedParameter reports a shape referencing a parameter that is
	// absent from the parameter set (or holds a non-integral value).
	ErrUnresolvedParameter = errors.New("unresolved parameter")

	// ErrCyclicDependency reports a dependency cycle that survives the
	// removal of feedback edges. Always a graph-authoring error.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrSizeMismatch reports a binding, operand, or initializer whose size
	// expression differs from its counterpart.
	ErrSizeMismatch = errors.New("size mismatch")
)
