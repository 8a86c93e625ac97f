package binbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCopies(t *testing.T) {
	src := []byte{1, 2, 3}
	b := New(src)
	src[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, b.Bytes())
	assert.Equal(t, 3, b.Len())
}

func TestTakeAdopts(t *testing.T) {
	src := []byte{1, 2, 3}
	b := Take(src)

	assert.Equal(t, src, b.Bytes())
}

func TestBorrowCopyOnResize(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	b := Borrow(src)

	b.Resize(2)
	b.Bytes()[0] = 9

	assert.Equal(t, []byte{1, 2, 3, 4}, src)
	assert.Equal(t, []byte{9, 2}, b.Bytes())
}

func TestResizePreservesPrefix(t *testing.T) {
	b := New([]byte{1, 2, 3})

	b.Resize(5)
	require.Equal(t, 5, b.Len())
	assert.Equal(t, []byte{1, 2, 3, 0, 0}, b.Bytes())

	b.Resize(2)
	assert.Equal(t, []byte{1, 2}, b.Bytes())

	b.Resize(4)
	assert.Equal(t, []byte{1, 2, 0, 0}, b.Bytes())
}

func TestEqualByContent(t *testing.T) {
	a := New([]byte("abc"))
	b := Borrow([]byte("abc"))
	c := New([]byte("abd"))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, Buf{}.Equal(New(nil)))
}
