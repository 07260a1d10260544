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


package badger

// Stores bundles the three badger stores over one backend.
type Stores struct {
	Backend   *Backend
	Documents *DocumentStore
	Index     *VectorIndex
	Pending   *PendingRepository
}

// Close closes the shared backend.
func (s *Stores) Close() error {
	return s.Backend.Close()
}

// NewMemoryStores creates in-memory stores for testing.
// Caller must close the returned Stores when done.
func NewMemoryStores(dimensions int) (*Stores, error) {
	backend, err := OpenBackend("", true, nil)
	if err != nil {
		return nil, err
	}
	return NewStores(backend, dimensions), nil
}

// NewStores creates all three stores over an open backend.
func NewStores(backend *Backend, dimensions int) *Stores {
	return &Stores{
		Backend:   backend,
		Documents: NewDocumentStore(backend),
		Index:     NewVectorIndex(backend, dimensions),
		Pending:   NewPendingRepository(backend),
	}
}
