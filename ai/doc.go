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


// Package ai provides the embedding abstraction used by kbsync.
//
// The package defines the Embedder interface, its configuration, and
// helpers shared by every implementation:
//
//   - Limited: rate limiting and per-call timeouts around any Embedder
//   - NormalizeVector: unit-length vectors before they reach an index
//   - CheckVectors: count and dimension checks on batch results
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewEmbedder, Limited) return the ai.Embedder
// interface. Test utility constructors (mock.NewMockEmbedder) return
// concrete types so tests can inject failures and inspect call counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithEmbeddingModel("nomic-embed-text"), ai.WithDimensions(768))
//	embedder, err := openai.NewEmbedder(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	embedder = ai.Limited(embedder, cfg)
//	vector, err := embedder.EmbedText(ctx, "trouble sleeping before exams")
package ai
