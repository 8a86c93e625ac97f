// Package cpio implements an in-memory editor for "new ASCII" (newc)
// CPIO archives, the container format of Android ramdisks.
package cpio

import (
	"errors"

	"github.com/hashicorp/errwrap"
)

// newc format constants
const (
	Magic      = "070701"
	MagicSize  = 6
	HeaderSize = 110

	// Trailer is the name of the sentinel entry terminating an archive.
	Trailer = "TRAILER!!!"

	// firstInode is the base for inode renumbering during serialization.
	firstInode = 300000
)

// Mode type bits
const (
	ModeRegular = 0100000
	ModeSymlink = 0120000
	ModeDir     = 0040000
)

// rawHeader mirrors the fixed-width hex ASCII newc header.
type rawHeader struct {
	Ino       uint32
	Mode      uint32
	UID       uint32
	GID       uint32
	Nlink     uint32
	Mtime     uint32
	FileSize  uint32
	DevMajor  uint32
	DevMinor  uint32
	RdevMajor uint32
	RdevMinor uint32
	NameSize  uint32
	Check     uint32
}

func eMsg(err error, msg string) error {
	return errwrap.Wrap(errors.New("failed "+msg), err)
}

// hexDigits holds the characters used for header field encoding.
var hexDigits = []byte("0123456789abcdef")

func putHex32(dst []byte, v uint32) {
	for i := 7; i >= 0; i-- {
		dst[i] = hexDigits[v&0xf]
		v >>= 4
	}
}

func parseHex32(src []byte) (uint32, error) {
	var v uint32
	for _, c := range src {
		var n uint32
		switch {
		case c >= '0' && c <= '9':
			n = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			n = uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			n = uint32(c-'A') + 10
		default:
			return 0, errors.New("non-hex character in header field")
		}
		v = v<<4 | n
	}
	return v, nil
}

// decodeHeader parses one 110-byte newc header block.
func decodeHeader(buf []byte) (*rawHeader, error) {
	if len(buf) < HeaderSize {
		return nil, errors.New("short header")
	}
	if string(buf[:MagicSize]) != Magic {
		return nil, errors.New("bad magic " + string(buf[:MagicSize]))
	}

	fields := make([]uint32, 13)
	for i := range fields {
		off := MagicSize + i*8
		v, err := parseHex32(buf[off : off+8])
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}

	return &rawHeader{
		Ino:       fields[0],
		Mode:      fields[1],
		UID:       fields[2],
		GID:       fields[3],
		Nlink:     fields[4],
		Mtime:     fields[5],
		FileSize:  fields[6],
		DevMajor:  fields[7],
		DevMinor:  fields[8],
		RdevMajor: fields[9],
		RdevMinor: fields[10],
		NameSize:  fields[11],
		Check:     fields[12],
	}, nil
}

// encode writes the header block into a 110-byte buffer.
func (h *rawHeader) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, Magic)

	fields := []uint32{
		h.Ino, h.Mode, h.UID, h.GID, h.Nlink, h.Mtime, h.FileSize,
		h.DevMajor, h.DevMinor, h.RdevMajor, h.RdevMinor, h.NameSize,
		h.Check,
	}
	for i, v := range fields {
		putHex32(buf[MagicSize+i*8:], v)
	}
	return buf
}

// align4 returns n rounded up to the next 4-byte boundary.
func align4(n int) int {
	return (n + 3) &^ 3
}
