// Package bootimg decodes and encodes Android boot images. Plain
// Android images are supported along with the Loki, Bump, MTK and Sony
// ELF variants; every format round-trips through the same intermediate
// Image so a ramdisk edited in one format can be written back in
// another.
package bootimg

import (
	"errors"

	"github.com/hashicorp/errwrap"
	"github.com/sirupsen/logrus"

	"github.com/3liteking148/DualBootPatcher/binbuf"
)

// Type identifies a boot image format.
type Type int

// Supported boot image formats
const (
	TypeUnknown Type = iota
	TypeAndroid
	TypeLoki
	TypeBump
	TypeMtk
	TypeSonyElf
)

func (t Type) String() string {
	switch t {
	case TypeAndroid:
		return "Android"
	case TypeLoki:
		return "Loki"
	case TypeBump:
		return "Bump"
	case TypeMtk:
		return "MTK"
	case TypeSonyElf:
		return "Sony ELF"
	default:
		return "unknown"
	}
}

// Boot image format constants
const (
	BootMagic     = "ANDROID!"
	BootMagicSize = 8
	BootNameSize  = 16
	BootArgsSize  = 512
)

// Android-based boot image defaults
const (
	DefaultPageSize      = 2048
	DefaultBase          = 0x10000000
	DefaultKernelOffset  = 0x00008000
	DefaultRamdiskOffset = 0x01000000
	DefaultSecondOffset  = 0x00f00000
	DefaultTagsOffset    = 0x00000100
)

var log = logrus.WithField("pkg", "bootimg")

// Image is the intermediate representation shared by every format. It
// carries the union of all fields any supported format may use; fields
// not meaningful for the target format are ignored on encode.
type Image struct {
	// SourceType is the format the image was decoded from.
	SourceType Type
	// TargetType is the format Create encodes. It defaults to
	// SourceType, except Loki which downgrades to Android.
	TargetType Type

	BoardName string
	Cmdline   string

	KernelAddr     uint32
	RamdiskAddr    uint32
	SecondAddr     uint32
	TagsAddr       uint32
	IplAddr        uint32
	RpmAddr        uint32
	AppsblAddr     uint32
	EntrypointAddr uint32

	PageSize uint32

	Kernel        binbuf.Buf
	Ramdisk       binbuf.Buf
	Second        binbuf.Buf
	DeviceTree    binbuf.Buf
	Aboot         binbuf.Buf
	MtkKernelHdr  binbuf.Buf
	MtkRamdiskHdr binbuf.Buf
	Ipl           binbuf.Buf
	Rpm           binbuf.Buf
	Appsbl        binbuf.Buf
	SonySinHdr    binbuf.Buf
	SonySin       binbuf.Buf

	// Raw header fields cached at decode time
	hdrKernelSize  uint32
	hdrRamdiskSize uint32
	hdrSecondSize  uint32
	hdrDtSize      uint32
	hdrUnused      uint32
	hdrID          [8]uint32
}

// ID returns the identity field read at decode time or written by the
// last encode, as eight little-endian words.
func (img *Image) ID() [8]uint32 {
	return img.hdrID
}

// validPageSize reports whether ps is one of the page sizes an Android
// bootloader accepts.
func validPageSize(ps uint32) bool {
	switch ps {
	case 2048, 4096, 8192, 16384, 32768, 65536, 131072:
		return true
	}
	return false
}

// Equal reports whether both images describe the same boot image,
// ignoring the format tags and the unused header field.
func (img *Image) Equal(other *Image) bool {
	return img.BoardName == other.BoardName &&
		img.Cmdline == other.Cmdline &&
		img.KernelAddr == other.KernelAddr &&
		img.RamdiskAddr == other.RamdiskAddr &&
		img.SecondAddr == other.SecondAddr &&
		img.TagsAddr == other.TagsAddr &&
		img.IplAddr == other.IplAddr &&
		img.RpmAddr == other.RpmAddr &&
		img.AppsblAddr == other.AppsblAddr &&
		img.EntrypointAddr == other.EntrypointAddr &&
		img.PageSize == other.PageSize &&
		img.Kernel.Equal(other.Kernel) &&
		img.Ramdisk.Equal(other.Ramdisk) &&
		img.Second.Equal(other.Second) &&
		img.DeviceTree.Equal(other.DeviceTree) &&
		img.Aboot.Equal(other.Aboot) &&
		img.MtkKernelHdr.Equal(other.MtkKernelHdr) &&
		img.MtkRamdiskHdr.Equal(other.MtkRamdiskHdr) &&
		img.Ipl.Equal(other.Ipl) &&
		img.Rpm.Equal(other.Rpm) &&
		img.Appsbl.Equal(other.Appsbl) &&
		img.SonySinHdr.Equal(other.SonySinHdr) &&
		img.SonySin.Equal(other.SonySin)
}

func eMsg(err error, msg string) error {
	return errwrap.Wrap(errors.New("failed "+msg), err)
}
