package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	in := OrderCursor{CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ID: 99}

	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestDecodeCursorEmptyStartsAtNewest(t *testing.T) {
	c, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.After(time.Now()))
}

func TestDecodeCursorGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.Error(t, err)
}

func TestNormalizePage(t *testing.T) {
	page, size := NormalizePage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageSize, size)

	page, size = NormalizePage(3, 500)
	assert.Equal(t, 3, page)
	assert.Equal(t, DefaultPageSize, size)
}

func TestNewOffsetPage(t *testing.T) {
	p := newOffsetPage([]int{1, 2}, 41, 2, 20)
	assert.Equal(t, 3, p.TotalPages)

	p = newOffsetPage([]int{}, 0, 1, 20)
	assert.Equal(t, 0, p.TotalPages)
}
