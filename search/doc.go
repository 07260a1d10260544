// Copyright 2025 Poiesic Systems
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



// Package search is the read path over the knowledge base.
//
// A Searcher embeds the query, asks the vector index for the closest
// points and hydrates them from the document store, so callers always see
// the system-of-record version of a hit. Points whose document is gone
// (drift the Reconciler has not pruned yet) are skipped. Hits whose text
// contains every query word get a small boost over pure similarity.
package search
