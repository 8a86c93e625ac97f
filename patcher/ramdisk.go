package patcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	gzip "github.com/klauspost/pgzip"

	"github.com/3liteking148/DualBootPatcher/binbuf"
	"github.com/3liteking148/DualBootPatcher/bootimg"
	"github.com/3liteking148/DualBootPatcher/cpio"
	"github.com/3liteking148/DualBootPatcher/devices"
)

// Ramdisk compression modes
const (
	CompNone = iota
	CompGzip
	CompUnknown
)

// detectCompression sniffs the ramdisk compression from its magic
// bytes. Uncompressed newc archives start with the cpio magic.
func detectCompression(data []byte) int {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && (data[1] == 0x8b || data[1] == 0x9e):
		return CompGzip
	case bytes.HasPrefix(data, []byte(cpio.Magic)):
		return CompNone
	default:
		return CompUnknown
	}
}

func inflate(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, newErr(CpioError, err, "preparing to extract ramdisk")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, newErr(CpioError, err, "extracting ramdisk")
	}
	if err := r.Close(); err != nil {
		return nil, newErr(CpioError, err, "cleaning up ramdisk extraction")
	}
	return out, nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, newErr(CpioError, err, "preparing to compress ramdisk")
	}
	if _, err := w.Write(data); err != nil {
		return nil, newErr(CpioError, err, "compressing ramdisk")
	}
	if err := w.Close(); err != nil {
		return nil, newErr(CpioError, err, "finishing up ramdisk compression")
	}
	return buf.Bytes(), nil
}

// patchRamdisk runs the transform over a possibly compressed cpio
// ramdisk and returns it re-compressed the same way.
func patchRamdisk(data []byte, t RamdiskTransform, dev *devices.Device, romID string) ([]byte, error) {
	comp := detectCompression(data)

	raw := data
	if comp == CompGzip {
		var err error
		if raw, err = inflate(data); err != nil {
			return nil, err
		}
	} else if comp == CompUnknown {
		return nil, newErr(CpioError, errors.New("unrecognized ramdisk compression"),
			"detecting ramdisk compression")
	}

	rd, err := cpio.Load(raw)
	if err != nil {
		return nil, newErr(CpioError, err, "loading ramdisk cpio archive")
	}
	if err := t.PatchRamdisk(rd, dev, romID); err != nil {
		return nil, newErr(RamdiskTransformError, err, "transforming ramdisk")
	}

	out := rd.Serialize()
	if comp == CompGzip {
		if out, err = deflate(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// patchBootImage decodes a boot image, patches its ramdisk and encodes
// it back in its target format.
func patchBootImage(data []byte, t RamdiskTransform, dev *devices.Device, romID string) ([]byte, error) {
	if !bootimg.IsValid(data) {
		return nil, newErr(OnlyBootImageSupported,
			fmt.Errorf("%d byte payload is not a boot image", len(data)), "detecting boot image format")
	}

	img, err := bootimg.Load(data)
	if err != nil {
		return nil, newErr(BootImageParseError, err, "decoding boot image")
	}

	rd, err := patchRamdisk(img.Ramdisk.Bytes(), t, dev, romID)
	if err != nil {
		return nil, err
	}
	img.Ramdisk = binbuf.Take(rd)

	out, err := img.Create()
	if err != nil {
		return nil, newErr(BootImageCreateError, err, "encoding boot image")
	}

	log.Debugf("boot image repacked: %016x -> %016x", xxhash.Sum64(data), xxhash.Sum64(out))
	return out, nil
}
