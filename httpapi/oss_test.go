package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkvault/inkvault/cmn/errs"
)

func TestParseRangeNoHeader(t *testing.T) {
	_, _, has, err := parseRange("", 100)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestParseRangeValid(t *testing.T) {
	start, end, has, err := parseRange("bytes=10-19", 100)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, int64(10), start)
	assert.Equal(t, int64(19), end)
}

func TestParseRangeSuffix(t *testing.T) {
	start, end, has, err := parseRange("bytes=-10", 100)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, int64(90), start)
	assert.Equal(t, int64(99), end)
}

func TestParseRangeMalformedIsBadRequest(t *testing.T) {
	cases := []string{"10-19", "bytes=", "bytes=abc-19", "bytes=10-abc", "bytes=1-2,5-6"}
	for _, h := range cases {
		_, _, _, err := parseRange(h, 100)
		require.Error(t, err, h)
		assert.True(t, errs.Is(err, errs.BadRequest), "%s should be BAD_REQUEST, got %v", h, err)
	}
}

func TestParseRangeOutOfBoundsIsUnsatisfiable(t *testing.T) {
	cases := []string{"bytes=200-300", "bytes=50-10"}
	for _, h := range cases {
		_, _, _, err := parseRange(h, 100)
		require.Error(t, err, h)
		assert.True(t, errs.Is(err, errs.RangeNotSatisfiable), "%s should be RANGE_NOT_SATISFIABLE, got %v", h, err)
	}
}
