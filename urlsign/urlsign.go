// Package urlsign implements the UrlSigner from spec.md §4.4: HMAC-signed
// URLs for the public OSS routes, authenticated solely by signature rather
// than a session cookie. Grounded on the original Python url_signer, which
// signs "<path>|<timestamp>|<nonce>" with HMAC-SHA256; this port additionally
// folds the user (callers pass the account email) into the signed message per spec.md's documented
// wire format and enforces single-use nonces through CoordinationService
// rather than leaving expiry as a soft warning.
package urlsign

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/coordination"
)

const (
	DefaultMaxAge    = 15 * time.Minute
	clockSkewAllow   = 5 * time.Second
	noncePrefix      = "nonce:"
	nonceHoldPadding = time.Minute // nonce TTL over max_age so a slow request can't outlive its own reservation
)

// Signer signs and verifies resource paths for the public OSS routes.
type Signer struct {
	secret []byte
	coord  coordination.Service
	maxAge time.Duration
}

func New(secret string, coord coordination.Service) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("urlsign: secret key cannot be empty")
	}
	return &Signer{secret: []byte(secret), coord: coord, maxAge: DefaultMaxAge}, nil
}

// WithMaxAge returns a copy of s using maxAge instead of DefaultMaxAge.
func (s *Signer) WithMaxAge(maxAge time.Duration) *Signer {
	cp := *s
	cp.maxAge = maxAge
	return &cp
}

func message(path string, timestampMS int64, nonce, user string) string {
	return fmt.Sprintf("%s|%d|%s|%s", path, timestampMS, nonce, user)
}

func (s *Signer) sign(path string, timestampMS int64, nonce, user string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, err := mac.Write([]byte(message(path, timestampMS, nonce, user)))
	cmn.AssertNoErr(err) // hash.Hash.Write never fails
	return hex.EncodeToString(mac.Sum(nil))
}

func randomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "urlsign: generate nonce")
	}
	return hex.EncodeToString(b), nil
}

// Sign produces a query string (without the leading "?") to append to path,
// and reserves the nonce in CoordinationService so a later Verify can pop it
// exactly once.
func (s *Signer) Sign(ctx context.Context, path, user string) (query string, err error) {
	nonce, err := randomNonce()
	if err != nil {
		return "", err
	}
	ts := time.Now().UnixMilli()
	sig := s.sign(path, ts, nonce, user)

	if err := s.coord.SetValue(ctx, noncePrefix+nonce, user, s.maxAge+nonceHoldPadding); err != nil {
		return "", errors.Wrap(err, "urlsign: reserve nonce")
	}

	v := url.Values{}
	v.Set("signature", sig)
	v.Set("timestamp", strconv.FormatInt(ts, 10))
	v.Set("nonce", nonce)
	v.Set("user", user)
	return v.Encode(), nil
}

// VerifyOpts controls nonce consumption for the chunk-upload exception
// (spec.md §4.4): intermediate parts must not burn the single-use nonce,
// only the final part does.
type VerifyOpts struct {
	// ConsumeNonce, when false, verifies the signature and freshness but
	// leaves the nonce reservation intact for a later, consuming Verify.
	ConsumeNonce bool
}

// Verify checks signature, freshness and (per opts) single-use consumption
// for a request against path. user and all other fields come from the
// request's query parameters as sent by the client.
func (s *Signer) Verify(ctx context.Context, path, signature string, timestampMS int64, nonce, user string, opts VerifyOpts) error {
	if signature == "" || nonce == "" || user == "" {
		return errs.Unauthorizedf("signed URL missing required field")
	}

	now := time.Now().UnixMilli()
	age := time.Duration(now-timestampMS) * time.Millisecond
	if age > s.maxAge || age < -clockSkewAllow {
		return errs.Unauthorizedf("signed URL expired or has an invalid timestamp")
	}

	expected := s.sign(path, timestampMS, nonce, user)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errs.ForbiddenF("signed URL has an invalid signature")
	}

	if !opts.ConsumeNonce {
		// Still confirm the reservation exists and belongs to this user,
		// without popping it, for the intermediate-chunk-part case.
		v, ok, err := s.coord.GetValue(ctx, noncePrefix+nonce)
		if err != nil {
			return errors.Wrap(err, "urlsign: check nonce")
		}
		if !ok || v != user {
			return errs.ForbiddenF("signed URL nonce is unknown or already used")
		}
		return nil
	}

	v, ok, err := s.coord.PopValue(ctx, noncePrefix+nonce)
	if err != nil {
		return errors.Wrap(err, "urlsign: pop nonce")
	}
	if !ok || v != user {
		return errs.ForbiddenF("signed URL nonce is unknown or already used")
	}
	return nil
}

// ParseQuery extracts the four signature fields from a raw query string,
// for handlers that only have the request URL in hand.
func ParseQuery(rawQuery string) (signature string, timestampMS int64, nonce, user string, err error) {
	v, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", 0, "", "", errs.BadRequestf("malformed query string")
	}
	signature = v.Get("signature")
	nonce = v.Get("nonce")
	user = v.Get("user")
	ts := v.Get("timestamp")
	if ts == "" {
		return "", 0, "", "", errs.Unauthorizedf("signed URL missing timestamp")
	}
	timestampMS, perr := strconv.ParseInt(ts, 10, 64)
	if perr != nil {
		return "", 0, "", "", errs.Unauthorizedf("signed URL has a malformed timestamp")
	}
	return signature, timestampMS, nonce, user, nil
}

// IsFinalChunkPart reports whether a chunk-upload part is the last one,
// i.e. whether this request must consume the signature's nonce.
func IsFinalChunkPart(partNumber, totalChunks int) bool {
	return partNumber >= totalChunks
}
