// Package binbuf provides the byte container shared by the boot image
// codec and the CPIO editor.
package binbuf

import "bytes"

// Buf holds a sized byte region. The zero value is an empty owned buffer.
type Buf struct {
	data  []byte
	owned bool
}

// New returns an owned copy of data.
func New(data []byte) Buf {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Buf{data: cp, owned: true}
}

// Take adopts data without copying. The caller must not use data afterwards.
func Take(data []byte) Buf {
	return Buf{data: data, owned: true}
}

// Borrow aliases data without copying. The region is copied on the first
// resize so the caller's slice is never mutated.
func Borrow(data []byte) Buf {
	return Buf{data: data, owned: false}
}

// Len returns the buffer size in bytes.
func (b Buf) Len() int {
	return len(b.data)
}

// Bytes returns the underlying region. Mutating the result of a borrowed
// buffer mutates the caller's slice.
func (b Buf) Bytes() []byte {
	return b.data
}

// IsEmpty reports whether the buffer holds no bytes.
func (b Buf) IsEmpty() bool {
	return len(b.data) == 0
}

// Clone returns an owned copy of the buffer.
func (b Buf) Clone() Buf {
	return New(b.data)
}

// Resize grows or shrinks the buffer to n bytes, preserving the prefix.
// Grown space is zero-filled.
func (b *Buf) Resize(n int) {
	switch {
	case !b.owned || n > cap(b.data):
		nd := make([]byte, n)
		copy(nd, b.data)
		b.data = nd
		b.owned = true
	default:
		old := len(b.data)
		b.data = b.data[:n]
		for i := old; i < n; i++ {
			b.data[i] = 0
		}
	}
}

// Equal reports whether both buffers hold the same content.
func (b Buf) Equal(other Buf) bool {
	return bytes.Equal(b.data, other.data)
}
