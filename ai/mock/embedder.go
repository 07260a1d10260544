package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/poiesic/kbsync/ai"
)

// DefaultDimensions is the vector length when none is configured.
const DefaultDimensions = 384

// MockEmbedder is a test double for ai.Embedder.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	dimensions int

	mu        sync.Mutex
	failures  map[string]error
	callCount int
	texts     int
}

// NewMockEmbedder creates a mock embedder producing vectors of the given
// length (DefaultDimensions when dim <= 0).
func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &MockEmbedder{dimensions: dim, failures: make(map[string]error)}
}

// Dimensions returns the vector length.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// FailOn makes every call that includes text fail with err. A nil err
// removes the failure.
func (m *MockEmbedder) FailOn(text string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, text)
		return
	}
	m.failures[text] = err
}

func (m *MockEmbedder) record(texts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.texts += len(texts)
	for _, t := range texts {
		if err, ok := m.failures[t]; ok {
			return fmt.Errorf("mock embedder: %q: %w", t, err)
		}
	}
	return nil
}

// EmbedText generates a deterministic embedding based on text hash.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := m.record([]string{text}); err != nil {
		return nil, err
	}
	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Vector(text, m.dimensions), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.record(texts); err != nil {
		return nil, err
	}
	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = Vector(text, m.dimensions)
	}
	return embeddings, nil
}

// CallCount returns the number of times any method was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// TextCount returns the number of texts embedded across all calls.
func (m *MockEmbedder) TextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

// Reset clears the counters, failures and injected functions.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.texts = 0
	m.failures = make(map[string]error)
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
}

// Vector creates the deterministic unit vector the mock returns for text.
// It uses FNV hash to ensure the same text always produces the same vector.
func Vector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := range vector {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000)/1000.0 - 0.5
	}
	return ai.NormalizeVector(vector)
}
