// Package mock provides a test double for ai.Embedder.
//
// The mock lets tests run without external AI services and gives them
// controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Deterministic vectors of the configured length
//	embedder := mock.NewMockEmbedder(8)
//	vector, err := embedder.EmbedText(ctx, "test")
//
//	// Fail one text, whether it arrives alone or inside a batch
//	embedder.FailOn("broken text", errors.New("provider down"))
//
//	// Custom behavior injection
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, context.DeadlineExceeded
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
// The same text always yields the same unit-length vector. Distinct texts
// yield distinct vectors. The mock is safe for concurrent use.
package mock
