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


// Package core defines the knowledge base's domain model.
//
// The model has six record kinds (Problem, Assessment, Suggestion,
// FeedbackPrompt, NextAction, TrainingExample). Each is a concrete type
// implementing the sealed Record interface, so code that switches over
// records can be checked for exhaustiveness instead of reaching into
// string-keyed maps.
//
// Records are addressed by their natural key within a domain. The
// DocID ("<kind>/<DOMAIN>/<key>") built from it is shared by the document
// store and the vector index, which is what makes the two stores line up
// one to one.
package core
