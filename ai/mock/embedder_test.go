package mock

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder(16)
	ctx := context.Background()

	a, err := m.EmbedText(ctx, "sleep hygiene")
	require.NoError(t, err)
	b, err := m.EmbedText(ctx, "sleep hygiene")
	require.NoError(t, err)
	c, err := m.EmbedText(ctx, "panic attacks")
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedder_DefaultDimensions(t *testing.T) {
	m := NewMockEmbedder(0)
	v, err := m.EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, v, DefaultDimensions)
}

func TestMockEmbedder_FailOn(t *testing.T) {
	m := NewMockEmbedder(4)
	boom := errors.New("provider down")
	m.FailOn("bad", boom)

	_, err := m.EmbedTexts(context.Background(), []string{"good", "bad"})
	assert.ErrorIs(t, err, boom)
	_, err = m.EmbedText(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)

	vs, err := m.EmbedTexts(context.Background(), []string{"good"})
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	m.FailOn("bad", nil)
	_, err = m.EmbedText(context.Background(), "bad")
	assert.NoError(t, err)
}

func TestMockEmbedder_ConcurrentCounts(t *testing.T) {
	m := NewMockEmbedder(4)
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.EmbedTexts(context.Background(), []string{"a", "b"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, m.CallCount())
	assert.Equal(t, 40, m.TextCount())

	m.Reset()
	assert.Zero(t, m.CallCount())
}

func TestMockEmbedder_InjectedFunc(t *testing.T) {
	m := NewMockEmbedder(4)
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, context.DeadlineExceeded
	}
	_, err := m.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
