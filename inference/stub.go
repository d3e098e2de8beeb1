package inference

import (
	"context"
	"crypto/md5" //nolint:gosec // deterministic vector seed, not a security boundary
	"fmt"
	"strings"
)

// embeddingDims is the fixed vector length Stub produces, arbitrary beyond
// being consistent between the query and page embeddings SearchService
// compares (spec.md §4.8).
const embeddingDims = 32

// Stub is a deterministic stand-in for the external generative-model
// client spec.md §1 places out of scope ("treated as an opaque inference
// service"): it derives a repeatable vector from input bytes rather than
// calling out to any real model, so ProcessorService and SearchService have
// a concrete Service to run against end to end.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) OCRPage(_ context.Context, pngBytes []byte) (string, error) {
	sum := md5.Sum(pngBytes) //nolint:gosec
	return fmt.Sprintf("page content %x", sum[:4]), nil
}

func (s *Stub) Embed(_ context.Context, text string) ([]float32, error) {
	sum := md5.Sum([]byte(text)) //nolint:gosec
	vec := make([]float32, embeddingDims)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)]) / 255
	}
	return vec, nil
}

func (s *Stub) Summarize(_ context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return `{"summary":""}`, nil
	}
	return fmt.Sprintf(`{"summary":%q}`, truncate(transcript, 500)), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Service = (*Stub)(nil)
