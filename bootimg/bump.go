package bootimg

import "bytes"

// Bump trailer constants. The signature satisfies the bootloader's
// signed-image check on bump-compatible LG devices.
const (
	BumpMagic     = "\x41\xa9\xe4\x67\x74\x4d\x1d\x1b\xa4"
	BumpMagicSize = 9
)

// isBump reports whether data is an Android image followed by the Bump
// signature. The Android layout is walked to its end so the signature
// is only matched after the final padded section.
func isBump(data []byte) bool {
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

	for _, size := range []uint32{hdr.KernelSize, hdr.RamdiskSize, hdr.SecondSize, hdr.DtSize} {
		if uint64(pos)+uint64(size) > uint64(len(data)) {
			return false
		}
		pos += size
		pos += skipPadding(size, hdr.PageSize)
	}

	return uint64(len(data)) >= uint64(pos)+BumpMagicSize &&
		bytes.HasPrefix(data[pos:], []byte(BumpMagic))
}

// createBump encodes the image as an Android boot image with the Bump
// signature appended.
func (img *Image) createBump() ([]byte, error) {
	data, err := img.createAndroid()
	if err != nil {
		return nil, err
	}
	return append(data, BumpMagic...), nil
}
