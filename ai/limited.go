package ai

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// limitedEmbedder throttles and bounds calls to another Embedder.
type limitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
	timeout time.Duration
}

// Limited wraps embedder with the rate limit and per-call timeout of cfg.
// A batch call counts as one request. Waiting for the limiter honors ctx,
// so a cancelled caller never blocks on the rate.
func Limited(embedder Embedder, cfg *Config) Embedder {
	if cfg == nil || (cfg.RequestsPerSecond <= 0 && cfg.Timeout <= 0) {
		return embedder
	}
	l := &limitedEmbedder{next: embedder, timeout: cfg.Timeout}
	if cfg.RequestsPerSecond > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	return l
}

func (l *limitedEmbedder) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	if l.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

func (l *limitedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return l.next.EmbedText(ctx, text)
}

func (l *limitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return l.next.EmbedTexts(ctx, texts)
}
