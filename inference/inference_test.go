package inference

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingStub struct {
	inFlight    int32
	maxInFlight int32
	release     chan struct{}
}

func (s *blockingStub) OCRPage(ctx context.Context, pngBytes []byte) (string, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		cur := atomic.LoadInt32(&s.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&s.maxInFlight, cur, n) {
			break
		}
	}
	<-s.release
	atomic.AddInt32(&s.inFlight, -1)
	return "text", nil
}

func (s *blockingStub) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (s *blockingStub) Summarize(ctx context.Context, transcript string) (string, error) {
	return "", nil
}

func TestLimitedCapsConcurrentCalls(t *testing.T) {
	stub := &blockingStub{release: make(chan struct{})}
	limited := NewLimited(stub, 2)

	ctx := context.Background()
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = limited.OCRPage(ctx, nil)
			done <- struct{}{}
		}()
	}

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 2, atomic.LoadInt32(&stub.maxInFlight), "at most 2 calls should run concurrently")

	close(stub.release)
	for i := 0; i < 5; i++ {
		<-done
	}
}

func TestLimitedDefaultsWhenPermitsNotPositive(t *testing.T) {
	stub := &blockingStub{release: make(chan struct{})}
	close(stub.release)
	l := NewLimited(stub, 0)
	_, err := l.OCRPage(context.Background(), nil)
	require.NoError(t, err)
}
