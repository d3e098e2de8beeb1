package urlsign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/coordination"
)

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := New("test-secret", coordination.NewMapStore())
	require.NoError(t, err)
	return s
}

func TestSignThenVerifySucceedsOnce(t *testing.T) {
	ctx := context.Background()
	s := newSigner(t)
	path := "/api/oss/download/abc123"

	query, err := s.Sign(ctx, path, "user-1")
	require.NoError(t, err)

	sig, ts, nonce, user, err := ParseQuery(query)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user)

	require.NoError(t, s.Verify(ctx, path, sig, ts, nonce, user, VerifyOpts{ConsumeNonce: true}))

	err = s.Verify(ctx, path, sig, ts, nonce, user, VerifyOpts{ConsumeNonce: true})
	assert.Error(t, err, "a second verification of the same signed URL must fail")
}

func TestVerifyRejectsTamperedPath(t *testing.T) {
	ctx := context.Background()
	s := newSigner(t)
	query, err := s.Sign(ctx, "/api/oss/download/abc123", "user-1")
	require.NoError(t, err)
	sig, ts, nonce, user, err := ParseQuery(query)
	require.NoError(t, err)

	err = s.Verify(ctx, "/api/oss/download/xyz999", sig, ts, nonce, user, VerifyOpts{ConsumeNonce: true})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Forbidden), "a bad signature is FORBIDDEN, not UNAUTHORIZED")
}

func TestVerifyRejectsExpiredSignature(t *testing.T) {
	ctx := context.Background()
	s := newSigner(t).WithMaxAge(10 * time.Millisecond)
	path := "/api/oss/download/abc123"
	query, err := s.Sign(ctx, path, "user-1")
	require.NoError(t, err)
	sig, ts, nonce, user, err := ParseQuery(query)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	err = s.Verify(ctx, path, sig, ts, nonce, user, VerifyOpts{ConsumeNonce: true})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unauthorized), "an expired signed URL is UNAUTHORIZED per spec.md §7's table")
}

func TestChunkPartsDoNotConsumeNonceUntilFinal(t *testing.T) {
	ctx := context.Background()
	s := newSigner(t)
	path := "/api/oss/upload/part"
	query, err := s.Sign(ctx, path, "user-1")
	require.NoError(t, err)
	sig, ts, nonce, user, err := ParseQuery(query)
	require.NoError(t, err)

	totalChunks := 3
	for part := 1; part < totalChunks; part++ {
		opts := VerifyOpts{ConsumeNonce: IsFinalChunkPart(part, totalChunks)}
		require.NoError(t, s.Verify(ctx, path, sig, ts, nonce, user, opts), "intermediate part %d must not fail", part)
	}

	// the final part consumes the nonce
	require.NoError(t, s.Verify(ctx, path, sig, ts, nonce, user, VerifyOpts{ConsumeNonce: true}))
	err = s.Verify(ctx, path, sig, ts, nonce, user, VerifyOpts{ConsumeNonce: true})
	assert.Error(t, err, "the nonce must be single-use once the final part consumes it")
}
