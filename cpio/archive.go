package cpio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3liteking148/DualBootPatcher/binbuf"
)

// Entry is one file in a CPIO archive. Symlinks store the target path in
// Content.
type Entry struct {
	Name      string
	Mode      uint32
	UID       uint32
	GID       uint32
	Nlink     uint32
	Mtime     uint32
	DevMajor  uint32
	DevMinor  uint32
	RdevMajor uint32
	RdevMinor uint32
	Content   binbuf.Buf
}

// Archive is an ordered sequence of entries with unique names. Order is
// preserved across load, edit and save except when an operation appends.
type Archive struct {
	entries []*Entry
}

// ErrEntryMissing is returned when an operation names an absent entry.
var ErrEntryMissing = errors.New("no such entry in archive")

// New returns an empty archive.
func New() *Archive {
	return &Archive{}
}

// Load parses a newc archive from data up to the trailer entry.
func Load(data []byte) (*Archive, error) {
	ar := New()
	pos := 0

	for {
		if pos+HeaderSize > len(data) {
			return nil, eMsg(errors.New("short read at header"), "parsing archive")
		}

		hdr, err := decodeHeader(data[pos:])
		if err != nil {
			return nil, eMsg(err, fmt.Sprintf("parsing header at offset %d", pos))
		}

		nameEnd := pos + HeaderSize + int(hdr.NameSize)
		if hdr.NameSize == 0 || nameEnd > len(data) {
			return nil, eMsg(errors.New("short read at name"), "parsing archive")
		}
		if data[nameEnd-1] != 0 {
			return nil, eMsg(errors.New("name not NUL-terminated"), "parsing archive")
		}
		name := string(data[pos+HeaderSize : nameEnd-1])

		if name == Trailer {
			return ar, nil
		}

		dataStart := pos + align4(HeaderSize+int(hdr.NameSize))
		dataEnd := dataStart + int(hdr.FileSize)
		if dataEnd > len(data) {
			return nil, eMsg(errors.New("short read at content"), "parsing archive")
		}

		ar.entries = append(ar.entries, &Entry{
			Name:      name,
			Mode:      hdr.Mode,
			UID:       hdr.UID,
			GID:       hdr.GID,
			Nlink:     hdr.Nlink,
			Mtime:     hdr.Mtime,
			DevMajor:  hdr.DevMajor,
			DevMinor:  hdr.DevMinor,
			RdevMajor: hdr.RdevMajor,
			RdevMinor: hdr.RdevMinor,
			Content:   binbuf.New(data[dataStart:dataEnd]),
		})

		pos = align4(dataEnd)
	}
}

func (ar *Archive) find(name string) *Entry {
	for _, e := range ar.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Contents returns the content of the named entry, or ErrEntryMissing.
func (ar *Archive) Contents(name string) ([]byte, error) {
	e := ar.find(name)
	if e == nil {
		return nil, ErrEntryMissing
	}
	return e.Content.Bytes(), nil
}

// Exists reports whether the archive contains the named entry.
func (ar *Archive) Exists(name string) bool {
	return ar.find(name) != nil
}

// SetContents replaces the named entry's content in place, keeping its
// metadata. An absent entry is appended with default metadata.
func (ar *Archive) SetContents(name string, data []byte) {
	if e := ar.find(name); e != nil {
		e.Content = binbuf.New(data)
		return
	}

	ar.entries = append(ar.entries, &Entry{
		Name:    name,
		Mode:    ModeRegular | 0644,
		Nlink:   1,
		Content: binbuf.New(data),
	})
}

// AddSymlink appends a symlink entry pointing at target.
func (ar *Archive) AddSymlink(name, target string) {
	ar.entries = append(ar.entries, &Entry{
		Name:    name,
		Mode:    ModeSymlink | 0777,
		Nlink:   1,
		Content: binbuf.New([]byte(target)),
	})
}

// Remove deletes the named entry, reporting whether it was present.
func (ar *Archive) Remove(name string) bool {
	for i, e := range ar.entries {
		if e.Name == name {
			ar.entries = append(ar.entries[:i], ar.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Entries returns the entries in archive order. The slice is shared with
// the archive; callers must not reorder it.
func (ar *Archive) Entries() []*Entry {
	return ar.entries
}

// Serialize emits the archive in current order plus the trailer. Inode
// numbers are re-assigned sequentially from 300000 and the checksum field
// is always zero.
func (ar *Archive) Serialize() []byte {
	size := 0
	for _, e := range ar.entries {
		size += align4(HeaderSize+len(e.Name)+1) + align4(e.Content.Len())
	}
	size += align4(HeaderSize + len(Trailer) + 1)

	var sb strings.Builder
	sb.Grow(size)

	ino := uint32(firstInode)
	for _, e := range ar.entries {
		hdr := rawHeader{
			Ino:       ino,
			Mode:      e.Mode,
			UID:       e.UID,
			GID:       e.GID,
			Nlink:     e.Nlink,
			Mtime:     e.Mtime,
			FileSize:  uint32(e.Content.Len()),
			DevMajor:  e.DevMajor,
			DevMinor:  e.DevMinor,
			RdevMajor: e.RdevMajor,
			RdevMinor: e.RdevMinor,
			NameSize:  uint32(len(e.Name) + 1),
		}
		ino++

		sb.Write(hdr.encode())
		sb.WriteString(e.Name)
		sb.WriteByte(0)
		pad(&sb, HeaderSize+len(e.Name)+1)

		sb.Write(e.Content.Bytes())
		pad(&sb, e.Content.Len())
	}

	trailer := rawHeader{
		Nlink:    1,
		NameSize: uint32(len(Trailer) + 1),
	}
	sb.Write(trailer.encode())
	sb.WriteString(Trailer)
	sb.WriteByte(0)
	pad(&sb, HeaderSize+len(Trailer)+1)

	return []byte(sb.String())
}

func pad(sb *strings.Builder, n int) {
	for i := n; i < align4(n); i++ {
		sb.WriteByte(0)
	}
}
