package cpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArchive() *Archive {
	ar := New()
	ar.SetContents("init.rc", []byte("on boot\n    start adbd\n"))
	ar.SetContents("default.prop", []byte("ro.secure=1\n"))
	ar.AddSymlink("sbin/busybox", "/sbin/recovery")
	return ar
}

func TestHeaderRoundTrip(t *testing.T) {
	in := rawHeader{
		Ino:      300001,
		Mode:     ModeRegular | 0644,
		UID:      1000,
		GID:      1000,
		Nlink:    1,
		Mtime:    1420070400,
		FileSize: 42,
		NameSize: 8,
	}

	out, err := decodeHeader(in.encode())
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestLoadSerializeIdentity(t *testing.T) {
	first := sampleArchive().Serialize()

	ar, err := Load(first)
	require.NoError(t, err)
	assert.Equal(t, first, ar.Serialize())
}

func TestLoadPreservesOrder(t *testing.T) {
	ar, err := Load(sampleArchive().Serialize())
	require.NoError(t, err)

	var names []string
	for _, e := range ar.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"init.rc", "default.prop", "sbin/busybox"}, names)
}

func TestSetContentsReplacesInPlace(t *testing.T) {
	ar := sampleArchive()
	ar.SetContents("init.rc", []byte("on boot\n"))

	data, err := ar.Contents("init.rc")
	require.NoError(t, err)
	assert.Equal(t, []byte("on boot\n"), data)
	assert.Equal(t, "init.rc", ar.Entries()[0].Name)
}

func TestAddThenRemoveIsNoOp(t *testing.T) {
	ar := sampleArchive()
	before := ar.Serialize()

	ar.SetContents("foo", []byte("bar"))
	require.True(t, ar.Remove("foo"))

	assert.Equal(t, before, ar.Serialize())
}

func TestRemoveMissing(t *testing.T) {
	assert.False(t, sampleArchive().Remove("nonexistent"))
}

func TestContentsMissing(t *testing.T) {
	_, err := sampleArchive().Contents("nonexistent")
	assert.ErrorIs(t, err, ErrEntryMissing)
}

func TestSymlinkContent(t *testing.T) {
	ar, err := Load(sampleArchive().Serialize())
	require.NoError(t, err)

	e := ar.Entries()[2]
	assert.Equal(t, uint32(ModeSymlink|0777), e.Mode)
	assert.Equal(t, "/sbin/recovery", string(e.Content.Bytes()))
}

func TestLoadErrors(t *testing.T) {
	good := sampleArchive().Serialize()

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "070707")

	noTrailer := good[:len(good)-align4(HeaderSize+len(Trailer)+1)]

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated header", good[:50]},
		{"bad magic", badMagic},
		{"missing trailer", noTrailer},
		{"non-hex field", append([]byte(Magic+"zzzzzzzz"), make([]byte, HeaderSize)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestSerializeRenumbersInodes(t *testing.T) {
	data := sampleArchive().Serialize()

	hdr, err := decodeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(firstInode), hdr.Ino)
	assert.Equal(t, uint32(0), hdr.Check)
}
