package renderer

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleParsePages(t *testing.T) {
	r := NewSimple()
	note := bytes.Join([][]byte{[]byte("page one"), []byte("page two"), []byte("page three")}, pageDelimiter)

	pages, err := r.ParsePages(context.Background(), note)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.NotEmpty(t, p.PageID)
		assert.NotEmpty(t, p.ContentHash)
		idx, ok := pageIndex(p.PageID)
		assert.True(t, ok)
		assert.Equal(t, i, idx)
	}
}

func TestSimpleParsePagesDeterministic(t *testing.T) {
	r := NewSimple()
	note := bytes.Join([][]byte{[]byte("same"), []byte("same")}, pageDelimiter)

	pages, err := r.ParsePages(context.Background(), note)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, pages[0].ContentHash, pages[1].ContentHash)
	assert.NotEqual(t, pages[0].PageID, pages[1].PageID)
}

func TestSimpleRenderPagePNG(t *testing.T) {
	r := NewSimple()
	note := bytes.Join([][]byte{[]byte("alpha"), []byte("beta")}, pageDelimiter)

	pages, err := r.ParsePages(context.Background(), note)
	require.NoError(t, err)

	raster, err := r.RenderPagePNG(context.Background(), note, pages[1].PageID)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raster))
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dx())
	assert.Equal(t, 1, img.Bounds().Dy())
}

func TestSimpleRenderPagePNGUnknownPage(t *testing.T) {
	r := NewSimple()
	note := []byte("solo page")

	_, err := r.RenderPagePNG(context.Background(), note, "not-a-page-id")
	assert.Error(t, err)
}
