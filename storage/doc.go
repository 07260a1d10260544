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


// Package storage defines the persistence contracts of kbsync.
//
// Three stores are involved:
//
//   - DocumentStore: the system of record for normalized records
//   - VectorIndex: the similarity projection of embeddable records
//   - PendingRepository: the durable repair queue of the reconciler
//
// Bulk writes return one Outcome per input so that callers can tell a
// durable write from a superseded or failed one without guessing. The
// error return is reserved for failures of the whole call.
//
// # Backends
//
// Implementations live in sub-packages:
//
//	docs, err := badger.NewDocumentStore(backend)   // embedded, default
//	docs, err := sqldb.Open(cfg)                    // postgres or sqlite
//	index, err := qdrant.New(cfg)                   // remote vector index
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
//
// # Context Support
//
// All methods accept context.Context for cancellation and timeout support.
package storage
