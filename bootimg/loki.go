package bootimg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/3liteking148/DualBootPatcher/binbuf"
)

// Loki header constants. Loki reshapes a boot image so that locked
// LG/Samsung bootloaders accept it; the original layout is recorded in
// a side header at 0x400.
const (
	LokiMagic          = "LOKI"
	LokiMagicSize      = 4
	LokiHeaderStartPos = 0x400
	lokiHeaderSize     = LokiMagicSize + 4 + 128 + 3*4
)

// lokiShellcode is the Thumb-2 stub Loki injects into aboot. The last
// eight bytes are placeholders patched per-image, so matching stops
// before them; the patched ramdisk address sits in the final word.
var lokiShellcode = []byte(
	"\xfe\xb5" +
		"\x0d\x4d" +
		"\xd5\xf8" +
		"\x88\x04" +
		"\xab\x68" +
		"\x98\x42" +
		"\x12\xd0" +
		"\xd5\xf8" +
		"\x90\x64" +
		"\x0a\x4c" +
		"\xd5\xf8" +
		"\x8c\x74" +
		"\x07\xf5\x80\x57" +
		"\x0f\xce" +
		"\x0f\xc4" +
		"\x10\x3f" +
		"\xfb\xdc" +
		"\xd5\xf8" +
		"\x88\x04" +
		"\x04\x49" +
		"\xd5\xf8" +
		"\x8c\x24" +
		"\xa8\x60" +
		"\x69\x61" +
		"\x2a\x61" +
		"\x00\x20" +
		"\xfe\xbd" +
		"\xff\xff\xff\xff" +
		"\xee\xee\xee\xee")

var lokiShellcodeMatchLen = len(lokiShellcode) - 8

// lokiHeader mirrors the side header Loki writes at 0x400.
type lokiHeader struct {
	Magic           [LokiMagicSize]byte
	Recovery        uint32
	Build           [128]byte
	OrigKernelSize  uint32
	OrigRamdiskSize uint32
	RamdiskAddr     uint32
}

func isLoki(data []byte) bool {
	return len(data) >= LokiHeaderStartPos+lokiHeaderSize &&
		bytes.HasPrefix(data[LokiHeaderStartPos:], []byte(LokiMagic))
}

func decodeLokiHeader(data []byte) *lokiHeader {
	var hdr lokiHeader
	binary.Read(bytes.NewReader(data[LokiHeaderStartPos:]), binary.LittleEndian, &hdr)
	return &hdr
}

// loadLoki decodes a loki'd boot image, recovering the original kernel
// and ramdisk layout from the side header.
func (img *Image) loadLoki(data []byte) error {
	// Loki overwrites part of the first page, so the Android magic
	// must sit near the start.
	hdrIndex, ok := scanBootMagic(data, 32)
	if !ok {
		return eMsg(errors.New("no Android magic within search range"), "finding Android header")
	}
	if _, err := img.loadAndroidHeader(data, hdrIndex); err != nil {
		return err
	}

	if len(data) < LokiHeaderStartPos+lokiHeaderSize {
		return eMsg(errors.New("image too small for Loki header"), "reading Loki header")
	}
	loki := decodeLokiHeader(data)

	log.Debugf("loki build: %s", cString(loki.Build[:]))

	if loki.OrigKernelSize != 0 && loki.OrigRamdiskSize != 0 && loki.RamdiskAddr != 0 {
		return img.loadLokiNew(data, loki)
	}
	return img.loadLokiOld(data, loki)
}

// loadLokiNew handles images patched by newer Loki builds, which record
// the original sizes in the side header.
func (img *Image) loadLokiNew(data []byte, loki *lokiHeader) error {
	ramdiskAddr, err := lokiFindRamdiskAddress(data, loki)
	if err != nil {
		return err
	}

	pageSize := img.PageSize
	pageKernelSize := loki.OrigKernelSize + skipPadding(loki.OrigKernelSize, pageSize)

	kernelPos := uint64(pageSize)
	ramdiskPos := kernelPos + uint64(pageKernelSize)
	if ramdiskPos+uint64(loki.OrigRamdiskSize) > uint64(len(data)) {
		return eMsg(errors.New("original ramdisk exceeds image size"), "reading loki'd ramdisk")
	}

	img.hdrKernelSize = loki.OrigKernelSize
	img.hdrRamdiskSize = loki.OrigRamdiskSize
	img.RamdiskAddr = ramdiskAddr

	img.Kernel = binbuf.New(data[kernelPos : kernelPos+uint64(loki.OrigKernelSize)])
	img.Ramdisk = binbuf.New(data[ramdiskPos : ramdiskPos+uint64(loki.OrigRamdiskSize)])

	// Loki discards the device tree
	img.DeviceTree = binbuf.Buf{}
	img.hdrDtSize = 0

	return nil
}

// loadLokiOld handles images patched by old Loki builds, which zero the
// header sizes. The kernel/ramdisk boundary is found by locating the
// gzip magic and the layout is reconstructed from defaults.
func (img *Image) loadLokiOld(data []byte, loki *lokiHeader) error {
	// The tags address is invalid in old loki images
	img.TagsAddr = img.KernelAddr - DefaultKernelOffset + DefaultTagsOffset

	gzipOffset, err := lokiOldFindGzipOffset(data, LokiHeaderStartPos+lokiHeaderSize+0x200)
	if err != nil {
		return err
	}

	ramdiskSize := lokiOldFindRamdiskSize(data, img.PageSize, gzipOffset)
	kernelSize := gzipOffset - img.PageSize
	if gzipOffset < img.PageSize || uint64(gzipOffset)+uint64(ramdiskSize) > uint64(len(data)) {
		return eMsg(errors.New("implausible loki'd image layout"), "reading loki'd image")
	}

	img.hdrKernelSize = kernelSize
	img.hdrRamdiskSize = ramdiskSize
	img.RamdiskAddr = img.KernelAddr - DefaultKernelOffset + DefaultRamdiskOffset

	img.Kernel = binbuf.New(data[img.PageSize : img.PageSize+kernelSize])
	img.Ramdisk = binbuf.New(data[gzipOffset : gzipOffset+ramdiskSize])

	img.DeviceTree = binbuf.Buf{}
	img.hdrDtSize = 0

	return nil
}

// lokiFindRamdiskAddress recovers the original ramdisk address from
// the patched shellcode.
func lokiFindRamdiskAddress(data []byte, loki *lokiHeader) (uint32, error) {
	if loki.RamdiskAddr == 0 {
		return 0, eMsg(errors.New("loki header does not record a ramdisk address"),
			"finding ramdisk address")
	}

	for i := 0; i+len(lokiShellcode) <= len(data); i++ {
		if bytes.Equal(data[i:i+lokiShellcodeMatchLen], lokiShellcode[:lokiShellcodeMatchLen]) {
			return binary.LittleEndian.Uint32(data[i+len(lokiShellcode)-4:]), nil
		}
	}

	return 0, eMsg(errors.New("loki shellcode not found"), "finding ramdisk address")
}

// lokiOldFindGzipOffset finds the gzip header that begins the ramdisk.
// A header without the FNAME flag is preferred when several candidates
// exist.
func lokiOldFindGzipOffset(data []byte, startOffset uint32) (uint32, error) {
	// 0x1f 0x8b 0x08 is a gzip deflate header
	magic := []byte{0x1f, 0x8b, 0x08}

	var plain, flagged []uint32
	for i := startOffset; uint64(i)+4 <= uint64(len(data)); i++ {
		if bytes.HasPrefix(data[i:], magic) {
			if data[i+3] == 0x00 {
				plain = append(plain, i)
			} else if data[i+3] == 0x08 {
				flagged = append(flagged, i)
			}
		}
	}

	if len(plain) > 0 {
		return plain[0], nil
	}
	if len(flagged) > 0 {
		return flagged[0], nil
	}
	return 0, eMsg(fmt.Errorf("no gzip header after offset %d", startOffset),
		"finding loki'd ramdisk")
}

// lokiOldFindRamdiskSize guesses the ramdisk size for old loki images.
// Loki stores a copy of aboot in the last 0x200 bytes, and the gzip
// stream is zero padded, so the size is found by scanning backwards
// for the last non-zero byte.
func lokiOldFindRamdiskSize(data []byte, pageSize, ramdiskOffset uint32) uint32 {
	fallback := uint32(len(data)) - ramdiskOffset - 0x200

	begin := uint32(len(data)) - 0x200
	if begin < pageSize {
		return fallback
	}

	for i := begin; i > begin-pageSize && i > ramdiskOffset; i-- {
		if data[i] != 0 {
			return i - ramdiskOffset
		}
	}
	return fallback
}
