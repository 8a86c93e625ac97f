package bootimg

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/3liteking148/DualBootPatcher/binbuf"
)

// androidHeader mirrors the packed little-endian Android boot image
// header.
type androidHeader struct {
	Magic       [BootMagicSize]byte
	KernelSize  uint32
	KernelAddr  uint32
	RamdiskSize uint32
	RamdiskAddr uint32
	SecondSize  uint32
	SecondAddr  uint32
	TagsAddr    uint32
	PageSize    uint32
	DtSize      uint32
	Unused      uint32
	Name        [BootNameSize]byte
	Cmdline     [BootArgsSize]byte
	ID          [8]uint32
}

const androidHeaderSize = BootMagicSize + 10*4 + BootNameSize + BootArgsSize + 32

// Header scan bounds. Some devices prepend a vendor blob before the
// real header, pushing the magic anywhere within the first page; the
// window never shrinks below 4 KiB, and 131072 is the largest page
// size a bootloader accepts.
const (
	androidMinSearchRange = 4096
	androidMaxSearchRange = 131072
)

// scanBootMagic returns the offset of the first Android magic within
// searchRange bytes of the start. A full header must fit after the
// magic.
func scanBootMagic(data []byte, searchRange int) (int, bool) {
	for i := 0; i <= searchRange && i+androidHeaderSize <= len(data); i++ {
		if bytes.HasPrefix(data[i:], []byte(BootMagic)) {
			return i, true
		}
	}
	return 0, false
}

// findAndroidHeader locates a decodable Android header. The magic may
// sit anywhere within the first page_size bytes, or the first 4 KiB
// when pages are smaller. The page size is only known once a candidate
// header decodes, so the scan runs to the widest possible window and
// each hit is checked against its own declared page size.
func findAndroidHeader(data []byte) (int, bool) {
	for i := 0; i <= androidMaxSearchRange && i+androidHeaderSize <= len(data); i++ {
		if !bytes.HasPrefix(data[i:], []byte(BootMagic)) {
			continue
		}
		hdr, err := decodeAndroidHeader(data[i:])
		if err != nil {
			continue
		}
		limit := androidMinSearchRange
		if int(hdr.PageSize) > limit {
			limit = int(hdr.PageSize)
		}
		if i <= limit {
			return i, true
		}
	}
	return 0, false
}

// skipPadding returns the number of padding bytes after a section of
// itemSize bytes in an image with the given page size.
func skipPadding(itemSize, pageSize uint32) uint32 {
	pageMask := pageSize - 1
	if itemSize&pageMask == 0 {
		return 0
	}
	return pageSize - (itemSize & pageMask)
}

func isAndroid(data []byte) bool {
	hdrIndex, ok := findAndroidHeader(data)
	if !ok {
		return false
	}
	hdr, err := decodeAndroidHeader(data[hdrIndex:])
	if err != nil {
		return false
	}

	// The declared payloads must fit within the buffer
	pos := uint32(hdrIndex) + androidHeaderSize
	pos += skipPadding(androidHeaderSize, hdr.PageSize)
	for _, size := range []uint32{hdr.KernelSize, hdr.RamdiskSize, hdr.SecondSize} {
		if uint64(pos)+uint64(size) > uint64(len(data)) {
			return false
		}
		pos += size
		pos += skipPadding(size, hdr.PageSize)
	}
	return true
}

func decodeAndroidHeader(data []byte) (*androidHeader, error) {
	if len(data) < androidHeaderSize {
		return nil, errors.New("buffer too small for Android header")
	}

	var hdr androidHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if !validPageSize(hdr.PageSize) {
		return nil, fmt.Errorf("invalid page size: %d", hdr.PageSize)
	}
	return &hdr, nil
}

// cString truncates b at the first NUL byte.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// loadAndroidHeader reads the header fields at hdrIndex into the image.
func (img *Image) loadAndroidHeader(data []byte, hdrIndex int) (*androidHeader, error) {
	hdr, err := decodeAndroidHeader(data[hdrIndex:])
	if err != nil {
		return nil, eMsg(err, "reading Android header")
	}

	img.KernelAddr = hdr.KernelAddr
	img.RamdiskAddr = hdr.RamdiskAddr
	img.SecondAddr = hdr.SecondAddr
	img.TagsAddr = hdr.TagsAddr
	img.PageSize = hdr.PageSize
	img.BoardName = cString(hdr.Name[:])
	img.Cmdline = cString(hdr.Cmdline[:])
	img.hdrKernelSize = hdr.KernelSize
	img.hdrRamdiskSize = hdr.RamdiskSize
	img.hdrSecondSize = hdr.SecondSize
	img.hdrDtSize = hdr.DtSize
	img.hdrUnused = hdr.Unused
	img.hdrID = hdr.ID

	return hdr, nil
}

// loadAndroid decodes a plain Android boot image.
func (img *Image) loadAndroid(data []byte) error {
	hdrIndex, ok := findAndroidHeader(data)
	if !ok {
		return eMsg(errors.New("no Android magic within search range"), "finding Android header")
	}

	log.Debugf("found Android boot image header at %d", hdrIndex)

	hdr, err := img.loadAndroidHeader(data, hdrIndex)
	if err != nil {
		return err
	}

	pos := uint32(hdrIndex) + androidHeaderSize
	pos += skipPadding(androidHeaderSize, hdr.PageSize)

	section := func(name string, size uint32) (binbuf.Buf, error) {
		if uint64(pos)+uint64(size) > uint64(len(data)) {
			return binbuf.Buf{}, eMsg(fmt.Errorf("%s exceeds image size by %d bytes",
				name, uint64(pos)+uint64(size)-uint64(len(data))), "reading "+name)
		}
		buf := binbuf.New(data[pos : pos+size])
		pos += size
		pos += skipPadding(size, hdr.PageSize)
		return buf, nil
	}

	if img.Kernel, err = section("kernel image", hdr.KernelSize); err != nil {
		return err
	}
	if img.Ramdisk, err = section("ramdisk image", hdr.RamdiskSize); err != nil {
		return err
	}
	if img.Second, err = section("second bootloader image", hdr.SecondSize); err != nil {
		return err
	}

	// A device tree that overruns the buffer is truncated rather than
	// rejected; some factory images declare a size past EOF.
	dtSize := hdr.DtSize
	if uint64(pos)+uint64(dtSize) > uint64(len(data)) {
		diff := uint64(pos) + uint64(dtSize) - uint64(len(data))
		dtSize -= uint32(diff)
		img.hdrDtSize = dtSize
		log.Warnf("device tree exceeds image size by %d bytes and has been truncated", diff)
	}
	img.DeviceTree = binbuf.New(data[pos : pos+dtSize])

	return nil
}

// androidHashID computes the identity digest the way AOSP's mkbootimg
// does: each payload followed by its 4-byte little-endian size. The
// second bootloader size is hashed even when zero; the device tree
// size only when nonzero.
func androidHashID(kernelPre, kernel, ramdiskPre, ramdisk []byte,
	kernelSize, ramdiskSize uint32, second, dt []byte) [8]uint32 {
	le32 := func(v uint32) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		return b[:]
	}

	h := sha1.New()
	h.Write(kernelPre)
	h.Write(kernel)
	h.Write(le32(kernelSize))
	h.Write(ramdiskPre)
	h.Write(ramdisk)
	h.Write(le32(ramdiskSize))
	if len(second) > 0 {
		h.Write(second)
	}
	h.Write(le32(uint32(len(second))))
	if len(dt) > 0 {
		h.Write(dt)
		h.Write(le32(uint32(len(dt))))
	}

	digest := h.Sum(nil)
	log.Debugf("computed new ID hash: %s", hex.EncodeToString(digest))

	// 20 digest bytes zero-padded to the 32-byte id field
	var padded [32]byte
	copy(padded[:], digest)

	var id [8]uint32
	for i := range id {
		id[i] = binary.LittleEndian.Uint32(padded[i*4:])
	}
	return id
}

// buildAndroidHeader assembles a header from the image with sizes
// recomputed from the payload lengths.
func (img *Image) buildAndroidHeader(kernelSize, ramdiskSize uint32) *androidHeader {
	hdr := &androidHeader{
		KernelSize:  kernelSize,
		KernelAddr:  img.KernelAddr,
		RamdiskSize: ramdiskSize,
		RamdiskAddr: img.RamdiskAddr,
		SecondSize:  uint32(img.Second.Len()),
		SecondAddr:  img.SecondAddr,
		TagsAddr:    img.TagsAddr,
		PageSize:    img.PageSize,
		DtSize:      uint32(img.DeviceTree.Len()),
		Unused:      img.hdrUnused,
	}
	copy(hdr.Magic[:], BootMagic)
	copy(hdr.Name[:BootNameSize-1], img.BoardName)
	copy(hdr.Cmdline[:BootArgsSize-1], img.Cmdline)
	return hdr
}

// writePaddedSection appends data plus zero padding to the next page
// boundary.
func writePaddedSection(out *bytes.Buffer, data []byte, declared, pageSize uint32) {
	out.Write(data)
	out.Write(make([]byte, skipPadding(declared, pageSize)))
}

// createAndroid encodes the image as a plain Android boot image.
func (img *Image) createAndroid() ([]byte, error) {
	if !validPageSize(img.PageSize) {
		return nil, eMsg(fmt.Errorf("invalid page size: %d", img.PageSize), "creating Android boot image")
	}

	kernelSize := uint32(img.Kernel.Len())
	ramdiskSize := uint32(img.Ramdisk.Len())

	hdr := img.buildAndroidHeader(kernelSize, ramdiskSize)
	hdr.ID = androidHashID(nil, img.Kernel.Bytes(), nil, img.Ramdisk.Bytes(),
		kernelSize, ramdiskSize, img.Second.Bytes(), img.DeviceTree.Bytes())

	img.hdrKernelSize = hdr.KernelSize
	img.hdrRamdiskSize = hdr.RamdiskSize
	img.hdrSecondSize = hdr.SecondSize
	img.hdrDtSize = hdr.DtSize
	img.hdrID = hdr.ID

	size := imageSize(img.PageSize, kernelSize, ramdiskSize,
		uint32(img.Second.Len()), uint32(img.DeviceTree.Len()))
	out := bytes.NewBuffer(make([]byte, 0, size))

	if err := binary.Write(out, binary.LittleEndian, hdr); err != nil {
		return nil, eMsg(err, "writing Android header")
	}
	out.Write(make([]byte, skipPadding(androidHeaderSize, img.PageSize)))

	writePaddedSection(out, img.Kernel.Bytes(), kernelSize, img.PageSize)
	writePaddedSection(out, img.Ramdisk.Bytes(), ramdiskSize, img.PageSize)
	if !img.Second.IsEmpty() {
		writePaddedSection(out, img.Second.Bytes(), uint32(img.Second.Len()), img.PageSize)
	}
	if !img.DeviceTree.IsEmpty() {
		writePaddedSection(out, img.DeviceTree.Bytes(), uint32(img.DeviceTree.Len()), img.PageSize)
	}

	return out.Bytes(), nil
}

// imageSize pre-computes the encoded size for buffer allocation.
func imageSize(pageSize uint32, sections ...uint32) int {
	size := uint32(androidHeaderSize) + skipPadding(androidHeaderSize, pageSize)
	for _, s := range sections {
		if s > 0 {
			size += s + skipPadding(s, pageSize)
		}
	}
	return int(size)
}
