package ai

import (
	"context"
	"errors"
)

var (
	// ErrEmbeddingCount indicates the provider returned a different number of
	// vectors than texts were sent.
	ErrEmbeddingCount = errors.New("embedder returned wrong number of vectors")

	// ErrDimensionMismatch indicates a vector of an unexpected length.
	ErrDimensionMismatch = errors.New("embedding has unexpected dimensions")

	// ErrEmptyEmbedding indicates the provider returned an empty vector.
	ErrEmptyEmbedding = errors.New("embedder returned an empty vector")
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// CheckVectors verifies a batch result: one non-empty vector per text and,
// when dimensions is positive, every vector of that length.
func CheckVectors(vectors [][]float32, texts, dimensions int) error {
	if len(vectors) != texts {
		return ErrEmbeddingCount
	}
	for _, v := range vectors {
		if len(v) == 0 {
			return ErrEmptyEmbedding
		}
		if dimensions > 0 && len(v) != dimensions {
			return ErrDimensionMismatch
		}
	}
	return nil
}
