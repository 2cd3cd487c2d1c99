// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package selector

// Supported expression subset:
//
//	""              the document root (matches exactly once)
//	"foo.bar"       object key access
//	"foo.*"         wildcard over all values of an object, or all
//	                elements of an array, in source/document order
//	"foo.0" / "foo[0]"
//	                array indexing
//
// Anything outside this subset (filter predicates, recursive descent,
// slices, unions) fails to Compile with a *SyntaxError rather than being
// silently accepted and failing later at scrape time, per spec.md §9's
// open question on pinning the JSONPath dialect.
