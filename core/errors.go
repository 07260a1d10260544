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


package core

import "errors"

// Domain model errors
var (
	// ErrUnknownKind indicates an entity kind name that is not part of the model.
	ErrUnknownKind = errors.New("unknown entity kind")

	// ErrUnknownDomain indicates a domain code or name that is not recognized.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrInvalidDocID indicates a document ID that does not have the kind/domain/key shape.
	ErrInvalidDocID = errors.New("invalid document id")

	// ErrEmptyKey indicates a record without a natural key.
	ErrEmptyKey = errors.New("natural key cannot be empty")

	// ErrNilRecord indicates a nil record was passed where one is required.
	ErrNilRecord = errors.New("record cannot be nil")

	// ErrInvalidDocument indicates a stored document envelope that cannot be decoded.
	ErrInvalidDocument = errors.New("invalid document")
)
