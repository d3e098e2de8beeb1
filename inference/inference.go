// Package inference wraps the external generative-model client the spec
// treats as an opaque collaborator (spec.md §1 "the external generative-
// model client"). It exists only to give ProcessorService and SearchService
// a narrow, substitutable boundary plus the global concurrency limiter
// spec.md §4.7 requires ("this caps simultaneous outbound inference calls
// across all workers... lazy-initialized on first use").
package inference

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/inkvault/inkvault/metrics"
)

// Service is the narrow surface ProcessorService and SearchService need
// from the generative-model client: OCR transcription, embeddings for a
// page or a search query, and structured summarization over a transcript.
type Service interface {
	OCRPage(ctx context.Context, pngBytes []byte) (text string, err error)
	Embed(ctx context.Context, text string) (vector []float32, err error)
	Summarize(ctx context.Context, transcript string) (summaryJSON string, err error)
}

// Limited wraps a Service with a semaphore capping simultaneous outbound
// calls to permits regardless of how many callers invoke it concurrently.
// The semaphore is created lazily on first use per spec.md §4.7. Build a
// Limited with NewLimited: the zero value has no inner Service and zero
// permits.
type Limited struct {
	inner   Service
	permits int64

	once sync.Once
	sem  *semaphore.Weighted
}

func NewLimited(inner Service, permits int) *Limited {
	if permits <= 0 {
		permits = 2
	}
	return &Limited{inner: inner, permits: int64(permits)}
}

func (l *Limited) sema() *semaphore.Weighted {
	l.once.Do(func() { l.sem = semaphore.NewWeighted(l.permits) })
	return l.sem
}

func (l *Limited) acquire(ctx context.Context) error {
	start := time.Now()
	err := l.sema().Acquire(ctx, 1)
	metrics.InferenceWaitSeconds.Observe(time.Since(start).Seconds())
	return err
}

func (l *Limited) OCRPage(ctx context.Context, pngBytes []byte) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.sema().Release(1)
	return l.inner.OCRPage(ctx, pngBytes)
}

func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.sema().Release(1)
	return l.inner.Embed(ctx, text)
}

func (l *Limited) Summarize(ctx context.Context, transcript string) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.sema().Release(1)
	return l.inner.Summarize(ctx, transcript)
}

var _ Service = (*Limited)(nil)
