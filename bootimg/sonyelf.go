package bootimg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/3liteking148/DualBootPatcher/binbuf"
)

// Sony ELF boot image constants. Sony devices wrap the payloads in an
// ELF32 container whose program segments are identified by their
// (type, flags) pair rather than by name.
const (
	sonyEIdentSize  = 8
	sonyEhdrSize    = 52
	sonyPhdrSize    = 32
	sonyPayloadBase = 4096
)

// SonyElfIdent is the e_ident prefix of a Sony ELF boot image.
var SonyElfIdent = []byte("\x7fELF\x01\x01\x01\x61")

// Program segment identifiers
const (
	sonyTypeKernel  = 2
	sonyTypeRamdisk = 2
	sonyTypeIpl     = 2
	sonyTypeCmdline = 4
	sonyTypeRpm     = 2
	sonyTypeAppsbl  = 2
	sonyTypeSin     = 0x80000000

	sonyFlagsKernel  = 0x00000000
	sonyFlagsRamdisk = 0x80000000
	sonyFlagsIpl     = 0x40000000
	sonyFlagsCmdline = 0x20000000
	sonyFlagsRpm     = 0x01000000
	sonyFlagsAppsbl  = 0x02000000
)

// sonyEhdr mirrors the ELF32 file header. Sony only uses the first
// eight identity bytes; the rest of e_ident is unused padding.
type sonyEhdr struct {
	Ident     [sonyEIdentSize]byte
	Unused    [8]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// sonyPhdr mirrors an ELF32 program segment header.
type sonyPhdr struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

func isSonyElf(data []byte) bool {
	return len(data) >= sonyEhdrSize && bytes.HasPrefix(data, SonyElfIdent)
}

func (p *sonyPhdr) encode(out *bytes.Buffer) {
	binary.Write(out, binary.LittleEndian, p)
}

// loadSonyElf decodes a Sony ELF boot image, extracting each program
// segment into its matching payload.
func (img *Image) loadSonyElf(data []byte) error {
	var hdr sonyEhdr
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return eMsg(err, "reading ELF32 header")
	}

	img.EntrypointAddr = hdr.Entry

	offset := sonyEhdrSize
	for i := uint16(0); i < hdr.Phnum; i++ {
		if offset+sonyPhdrSize > len(data) {
			return eMsg(fmt.Errorf("program segment header %d exceeds image size", i),
				"reading ELF32 program headers")
		}

		var phdr sonyPhdr
		binary.Read(bytes.NewReader(data[offset:]), binary.LittleEndian, &phdr)
		offset += sonyPhdrSize

		if uint64(phdr.Offset)+uint64(phdr.Memsz) > uint64(len(data)) {
			return eMsg(fmt.Errorf("program segment %d data exceeds image size", i),
				"reading ELF32 program segment")
		}

		seg := data[phdr.Offset : phdr.Offset+phdr.Memsz]

		switch {
		case phdr.Type == sonyTypeKernel && phdr.Flags == sonyFlagsKernel:
			img.Kernel = binbuf.New(seg)
			img.KernelAddr = phdr.Vaddr
		case phdr.Type == sonyTypeRamdisk && phdr.Flags == sonyFlagsRamdisk:
			img.Ramdisk = binbuf.New(seg)
			img.RamdiskAddr = phdr.Vaddr
		case phdr.Type == sonyTypeIpl && phdr.Flags == sonyFlagsIpl:
			img.Ipl = binbuf.New(seg)
			img.IplAddr = phdr.Vaddr
		case phdr.Type == sonyTypeCmdline && phdr.Flags == sonyFlagsCmdline:
			img.Cmdline = string(seg)
		case phdr.Type == sonyTypeRpm && phdr.Flags == sonyFlagsRpm:
			img.Rpm = binbuf.New(seg)
			img.RpmAddr = phdr.Vaddr
		case phdr.Type == sonyTypeAppsbl && phdr.Flags == sonyFlagsAppsbl:
			img.Appsbl = binbuf.New(seg)
			img.AppsblAddr = phdr.Vaddr
		case phdr.Type == sonyTypeSin:
			// Every image seen so far carries two extra bytes after
			// the SIN payload that p_filesz does not account for.
			end := uint64(phdr.Offset) + uint64(phdr.Memsz)
			if end+2 > uint64(len(data)) {
				log.Warn("trailing two bytes after SIN image are truncated")
			} else if data[end] == 0 && data[end+1] == 0 {
				log.Warn("trailing two bytes after SIN image are zero")
			} else {
				seg = data[phdr.Offset : end+2]
			}
			img.SonySin = binbuf.New(seg)

			// Keep the header with the offset cleared so images
			// compare equal regardless of segment order
			saved := phdr
			saved.Offset = 0
			var buf bytes.Buffer
			buf.Grow(sonyPhdrSize)
			saved.encode(&buf)
			img.SonySinHdr = binbuf.Take(buf.Bytes())
		default:
			return eMsg(fmt.Errorf("invalid type %#x and/or flags %#x in program segment header %d",
				phdr.Type, phdr.Flags, i), "reading ELF32 program segment")
		}
	}

	img.hdrKernelSize = uint32(img.Kernel.Len())
	img.hdrRamdiskSize = uint32(img.Ramdisk.Len())

	return nil
}

// createSonyElf encodes the image as a Sony ELF boot image. The SIN
// header and payload must fit within the first 4096 bytes; the other
// payloads follow from there.
func (img *Image) createSonyElf() ([]byte, error) {
	haveKernel := !img.Kernel.IsEmpty()
	haveRamdisk := !img.Ramdisk.IsEmpty()
	haveCmdline := len(img.Cmdline) > 0
	haveIpl := !img.Ipl.IsEmpty()
	haveRpm := !img.Rpm.IsEmpty()
	haveAppsbl := !img.Appsbl.IsEmpty()
	haveSin := !img.SonySin.IsEmpty() && !img.SonySinHdr.IsEmpty()

	var phnum uint16
	for _, have := range []bool{haveKernel, haveRamdisk, haveCmdline, haveIpl, haveRpm, haveAppsbl, haveSin} {
		if have {
			phnum++
		}
	}

	entrypoint := img.EntrypointAddr
	if entrypoint == 0 && haveKernel {
		entrypoint = img.KernelAddr
	}

	hdr := sonyEhdr{
		Type:      2,
		Machine:   40,
		Version:   1,
		Entry:     entrypoint,
		Phoff:     sonyEhdrSize,
		Ehsize:    sonyEhdrSize,
		Phentsize: sonyPhdrSize,
		Phnum:     phnum,
	}
	copy(hdr.Ident[:], SonyElfIdent)

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, &hdr)

	// Payload data starts at 4096 bytes
	offset := uint32(sonyPayloadBase)

	writePhdr := func(ptype, flags, vaddr, size uint32) {
		p := sonyPhdr{
			Type:   ptype,
			Offset: offset,
			Vaddr:  vaddr,
			Paddr:  vaddr,
			Filesz: size,
			Memsz:  size,
			Flags:  flags,
		}
		p.encode(&out)
		offset += size
	}

	if haveKernel {
		writePhdr(sonyTypeKernel, sonyFlagsKernel, img.KernelAddr, uint32(img.Kernel.Len()))
	}
	if haveRamdisk {
		writePhdr(sonyTypeRamdisk, sonyFlagsRamdisk, img.RamdiskAddr, uint32(img.Ramdisk.Len()))
	}
	if haveCmdline {
		writePhdr(sonyTypeCmdline, sonyFlagsCmdline, 0, uint32(len(img.Cmdline)))
	}
	if haveIpl {
		writePhdr(sonyTypeIpl, sonyFlagsIpl, img.IplAddr, uint32(img.Ipl.Len()))
	}
	if haveRpm {
		writePhdr(sonyTypeRpm, sonyFlagsRpm, img.RpmAddr, uint32(img.Rpm.Len()))
	}
	if haveAppsbl {
		writePhdr(sonyTypeAppsbl, sonyFlagsAppsbl, img.AppsblAddr, uint32(img.Appsbl.Len()))
	}

	if haveSin {
		if img.SonySinHdr.Len() != sonyPhdrSize {
			return nil, eMsg(fmt.Errorf("SIN header is %d bytes, not %d",
				img.SonySinHdr.Len(), sonyPhdrSize), "creating Sony ELF boot image")
		}

		var phdr sonyPhdr
		binary.Read(bytes.NewReader(img.SonySinHdr.Bytes()), binary.LittleEndian, &phdr)
		// The SIN payload directly follows the program headers
		phdr.Offset = sonyEhdrSize + uint32(phnum)*sonyPhdrSize

		switch {
		case uint64(phdr.Filesz)+2 == uint64(img.SonySin.Len()):
			log.Debug("SIN image carries the two unidentified trailing bytes")
		case phdr.Filesz != uint32(img.SonySin.Len()):
			return nil, eMsg(errors.New("SIN image size does not match its header"),
				"creating Sony ELF boot image")
		}
		if uint64(phdr.Offset)+uint64(img.SonySin.Len()) >= sonyPayloadBase {
			return nil, eMsg(errors.New("SIN image does not fit within the first 4096 bytes"),
				"creating Sony ELF boot image")
		}

		phdr.encode(&out)
		out.Write(img.SonySin.Bytes())
	}

	// Zero padding up to the payload area
	out.Write(make([]byte, sonyPayloadBase-out.Len()))

	out.Write(img.Kernel.Bytes())
	out.Write(img.Ramdisk.Bytes())
	if haveCmdline {
		out.WriteString(img.Cmdline)
	}
	out.Write(img.Ipl.Bytes())
	out.Write(img.Rpm.Bytes())
	out.Write(img.Appsbl.Bytes())

	return out.Bytes(), nil
}
