package bootimg

import "errors"

// Detect probes data and returns the first matching format. Loki, Bump
// and MTK wrap or extend a plain Android image, so they are probed
// before Android; Sony ELF is probed last.
func Detect(data []byte) Type {
	switch {
	case isLoki(data):
		return TypeLoki
	case isBump(data):
		return TypeBump
	case isMtk(data):
		return TypeMtk
	case isAndroid(data):
		return TypeAndroid
	case isSonyElf(data):
		return TypeSonyElf
	default:
		return TypeUnknown
	}
}

// IsValid reports whether data looks like a boot image in any
// supported format.
func IsValid(data []byte) bool {
	return Detect(data) != TypeUnknown
}

// Load detects the format of data and decodes it into an Image.
func Load(data []byte) (*Image, error) {
	img := &Image{}

	srcType := Detect(data)
	img.SourceType = srcType
	img.TargetType = srcType

	var err error
	switch srcType {
	case TypeLoki:
		// Repacking with Loki requires the device's aboot
		// partition, so loki'd images are written back as plain
		// Android images.
		img.TargetType = TypeAndroid
		err = img.loadLoki(data)
	case TypeBump:
		err = img.loadAndroid(data)
	case TypeMtk:
		err = img.loadMtk(data)
	case TypeAndroid:
		err = img.loadAndroid(data)
	case TypeSonyElf:
		err = img.loadSonyElf(data)
	default:
		return nil, eMsg(errors.New("unknown boot image format"), "detecting boot image format")
	}
	if err != nil {
		return nil, err
	}

	return img, nil
}

// Create encodes the image in its target format.
func (img *Image) Create() ([]byte, error) {
	switch img.TargetType {
	case TypeAndroid, TypeLoki:
		return img.createAndroid()
	case TypeBump:
		return img.createBump()
	case TypeMtk:
		return img.createMtk()
	case TypeSonyElf:
		return img.createSonyElf()
	default:
		return nil, eMsg(errors.New("unknown target format"), "creating boot image")
	}
}
