package bootimg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/3liteking148/DualBootPatcher/binbuf"
)

// MTK vendor header constants. MediaTek bootloaders prepend a 512-byte
// header to the kernel and ramdisk payloads.
const (
	MtkMagic      = "\x88\x16\x88\x58"
	MtkMagicSize  = 4
	MtkTypeSize   = 32
	MtkHeaderSize = 512
)

// mtkHeader mirrors the 512-byte MediaTek vendor header.
type mtkHeader struct {
	Magic  [MtkMagicSize]byte
	Size   uint32
	Type   [MtkTypeSize]byte
	Unused [MtkHeaderSize - MtkMagicSize - 4 - MtkTypeSize]byte
}

func hasMtkMagic(data []byte) bool {
	return len(data) >= MtkHeaderSize && bytes.HasPrefix(data, []byte(MtkMagic))
}

// isMtk reports whether data is an Android image whose kernel or
// ramdisk payload begins with the MTK magic.
func isMtk(data []byte) bool {
	hdrIndex, ok := findAndroidHeader(data)
	if !ok {
		return false
	}
	hdr, err := decodeAndroidHeader(data[hdrIndex:])
	if err != nil {
		return false
	}

	pos := uint32(hdrIndex) + androidHeaderSize
	pos += skipPadding(androidHeaderSize, hdr.PageSize)

	for _, size := range []uint32{hdr.KernelSize, hdr.RamdiskSize} {
		if uint64(pos)+uint64(size) > uint64(len(data)) {
			return false
		}
		if size >= MtkHeaderSize && hasMtkMagic(data[pos:]) {
			return true
		}
		pos += size
		pos += skipPadding(size, hdr.PageSize)
	}

	return false
}

func decodeMtkHeader(data []byte) *mtkHeader {
	var hdr mtkHeader
	binary.Read(bytes.NewReader(data[:MtkHeaderSize]), binary.LittleEndian, &hdr)
	return &hdr
}

func (h *mtkHeader) encode() []byte {
	var out bytes.Buffer
	out.Grow(MtkHeaderSize)
	binary.Write(&out, binary.LittleEndian, h)
	return out.Bytes()
}

// stripMtkHeader splits an MTK-prefixed payload into the vendor header
// and the bare payload. The header's stored size is zeroed so images
// compare equal regardless of payload length.
func stripMtkHeader(payload binbuf.Buf, what string, strict bool) (hdrBuf, rest binbuf.Buf, err error) {
	data := payload.Bytes()
	mtk := decodeMtkHeader(data)

	expected := uint64(MtkHeaderSize) + uint64(mtk.Size)
	actual := uint64(len(data))
	switch {
	case actual != expected && strict:
		return binbuf.Buf{}, binbuf.Buf{}, eMsg(fmt.Errorf(
			"expected %d byte %s image, but have %d bytes", expected, what, actual),
			"reading MTK "+what+" header")
	case actual != expected:
		log.Warnf("expected %d byte %s image, but have %d bytes", expected, what, actual)
		log.Warn("repacked boot image will not be byte-for-byte identical to original")
	}

	mtk.Size = 0
	return binbuf.Take(mtk.encode()), binbuf.New(data[MtkHeaderSize:]), nil
}

// loadMtk decodes an Android image with MTK vendor headers, moving the
// headers out of the kernel and ramdisk payloads.
func (img *Image) loadMtk(data []byte) error {
	if err := img.loadAndroid(data); err != nil {
		return err
	}

	if img.hdrKernelSize >= MtkHeaderSize && hasMtkMagic(img.Kernel.Bytes()) {
		// An on-device repack may have appended a DTB to the kernel,
		// so a kernel size mismatch is only a warning.
		hdr, rest, err := stripMtkHeader(img.Kernel, "kernel", false)
		if err != nil {
			return err
		}
		img.MtkKernelHdr = hdr
		img.Kernel = rest
		img.hdrKernelSize = uint32(rest.Len())
	}

	if img.hdrRamdiskSize >= MtkHeaderSize && hasMtkMagic(img.Ramdisk.Bytes()) {
		hdr, rest, err := stripMtkHeader(img.Ramdisk, "ramdisk", true)
		if err != nil {
			return err
		}
		img.MtkRamdiskHdr = hdr
		img.Ramdisk = rest
		img.hdrRamdiskSize = uint32(rest.Len())
	}

	return nil
}

// createMtk encodes the image with the MTK vendor headers prefixed
// back onto their payloads.
func (img *Image) createMtk() ([]byte, error) {
	if !validPageSize(img.PageSize) {
		return nil, eMsg(fmt.Errorf("invalid page size: %d", img.PageSize), "creating MTK boot image")
	}

	hasKernelHdr := !img.MtkKernelHdr.IsEmpty()
	hasRamdiskHdr := !img.MtkRamdiskHdr.IsEmpty()

	if hasKernelHdr && img.MtkKernelHdr.Len() != MtkHeaderSize {
		return nil, eMsg(fmt.Errorf("expected %d byte kernel MTK header, but have %d bytes",
			MtkHeaderSize, img.MtkKernelHdr.Len()), "creating MTK boot image")
	}
	if hasRamdiskHdr && img.MtkRamdiskHdr.Len() != MtkHeaderSize {
		return nil, eMsg(fmt.Errorf("expected %d byte ramdisk MTK header, but have %d bytes",
			MtkHeaderSize, img.MtkRamdiskHdr.Len()), "creating MTK boot image")
	}
	if !hasKernelHdr && !hasRamdiskHdr {
		return img.createAndroid()
	}

	var kernelPre, ramdiskPre []byte
	kernelSize := uint32(img.Kernel.Len())
	ramdiskSize := uint32(img.Ramdisk.Len())

	if hasKernelHdr {
		mtk := decodeMtkHeader(img.MtkKernelHdr.Bytes())
		mtk.Size = uint32(img.Kernel.Len())
		kernelPre = mtk.encode()
		kernelSize += MtkHeaderSize
	}
	if hasRamdiskHdr {
		mtk := decodeMtkHeader(img.MtkRamdiskHdr.Bytes())
		mtk.Size = uint32(img.Ramdisk.Len())
		ramdiskPre = mtk.encode()
		ramdiskSize += MtkHeaderSize
	}

	hdr := img.buildAndroidHeader(kernelSize, ramdiskSize)
	// The vendor headers occupy the same position in the hash stream
	// as they do in the file.
	hdr.ID = androidHashID(kernelPre, img.Kernel.Bytes(), ramdiskPre, img.Ramdisk.Bytes(),
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
		return nil, eMsg(err, "writing MTK boot image header")
	}
	out.Write(make([]byte, skipPadding(androidHeaderSize, img.PageSize)))

	out.Write(kernelPre)
	writePaddedSection(out, img.Kernel.Bytes(), kernelSize, img.PageSize)
	out.Write(ramdiskPre)
	writePaddedSection(out, img.Ramdisk.Bytes(), ramdiskSize, img.PageSize)
	if !img.Second.IsEmpty() {
		writePaddedSection(out, img.Second.Bytes(), uint32(img.Second.Len()), img.PageSize)
	}
	if !img.DeviceTree.IsEmpty() {
		writePaddedSection(out, img.DeviceTree.Bytes(), uint32(img.DeviceTree.Len()), img.PageSize)
	}

	return out.Bytes(), nil
}
