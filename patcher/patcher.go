// Package patcher rewrites flashable installer ZIPs so they install
// into a multi-boot layout. Boot images inside the archive are decoded,
// their ramdisks transformed and re-encoded; installer scripts are
// rewritten; the installer binary is replaced with the multi-boot
// aware one.
package patcher

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"

	"github.com/3liteking148/DualBootPatcher/devices"
)

var log = logrus.WithField("pkg", "patcher")

// Version is written into multiboot/info.prop.
const Version = "9.3.0"

// Well-known archive entry names
const (
	UpdateBinary = "META-INF/com/google/android/update-binary"
	BBWrapper    = "multiboot/bb-wrapper.sh"
	InfoProp     = "multiboot/info.prop"
)

// maxInlineSize caps how large an entry may be before the in-memory
// boot image patch path refuses it and the entry is copied unchanged.
const maxInlineSize = 30 << 20

// finalEntries is the number of entries appended after pass 2.
const finalEntries = 3

// Progress receives synchronous callbacks while patching. Callbacks run
// on the patching goroutine and must return quickly. Any field may be
// nil.
type Progress struct {
	// Bytes reports uncompressed bytes processed out of the expected
	// total. The total shifts when entries are re-encoded.
	Bytes func(cur, max uint64)
	// Files reports entries processed out of the expected total.
	Files func(cur, max uint64)
	// Details reports the name of the entry being processed.
	Details func(name string)
}

// Patcher rewrites one installer ZIP for one device and ROM id. Each
// instance handles a single job; concurrent jobs need separate
// instances.
type Patcher struct {
	// InputPath is the installer ZIP to rewrite.
	InputPath string
	// Device is the target device.
	Device *devices.Device
	// RomID names the installation slot, e.g. "dual" or "data-slot-1".
	RomID string
	// DataDir holds the helper binaries and scripts bundled into the
	// output.
	DataDir string
	// Catalog lists known devices for the info.prop table. May be nil.
	Catalog *devices.Catalog
	// Registry resolves the ramdisk transform. Nil selects the stock
	// registry.
	Registry *Registry
	// Progress receives callbacks during Patch.
	Progress Progress

	cancelled atomic.Bool

	curBytes, maxBytes uint64
	curFiles, maxFiles uint64
}

// New returns a patcher for one job.
func New(inputPath string, dev *devices.Device, romID string) *Patcher {
	return &Patcher{InputPath: inputPath, Device: dev, RomID: romID}
}

// Cancel requests that an in-flight Patch abort at its next polling
// boundary. Safe to call from any goroutine.
func (p *Patcher) Cancel() {
	p.cancelled.Store(true)
}

// OutputPath is where Patch writes the rewritten archive.
func (p *Patcher) OutputPath() string {
	stem := strings.TrimSuffix(p.InputPath, filepath.Ext(p.InputPath))
	return stem + "_" + p.RomID + ".zip"
}

func (p *Patcher) reportBytes(n uint64) {
	p.curBytes += n
	if p.Progress.Bytes != nil {
		p.Progress.Bytes(p.curBytes, p.maxBytes)
	}
}

func (p *Patcher) reportFile(name string) {
	p.curFiles++
	if p.Progress.Details != nil {
		p.Progress.Details(name)
	}
	if p.Progress.Files != nil {
		p.Progress.Files(p.curFiles, p.maxFiles)
	}
}

func cancelErr() error {
	return newErr(Cancelled, nil, "")
}

// Patch rewrites the input ZIP to OutputPath. On failure the output
// file must be treated as invalid; cancellation overrides any pending
// error.
func (p *Patcher) Patch() error {
	err := p.patch()
	if p.cancelled.Load() {
		return cancelErr()
	}
	return err
}

func (p *Patcher) patch() error {
	if !strings.EqualFold(filepath.Ext(p.InputPath), ".zip") {
		return newErr(OnlyZipSupported,
			fmt.Errorf("cannot patch %q", filepath.Base(p.InputPath)), "checking input type")
	}

	registry := p.Registry
	if registry == nil {
		registry = defaultRegistry
	}
	transform, ok := registry.Resolve(p.Device.ID)
	if !ok {
		return newErr(RamdiskTransformError,
			fmt.Errorf("no ramdisk transform registered for device %q", p.Device.ID),
			"resolving ramdisk transform")
	}

	zr, err := zip.OpenReader(p.InputPath)
	if err != nil {
		return newErr(ArchiveReadOpenError, err, "opening input archive")
	}
	defer zr.Close()

	tempDir, err := os.MkdirTemp("", "dbpatcher")
	if err != nil {
		return newErr(FileOpenError, err, "creating temporary directory")
	}
	defer os.RemoveAll(tempDir)

	p.curBytes, p.curFiles = 0, 0
	p.maxFiles = uint64(len(zr.File)) + finalEntries
	p.maxBytes = 0
	for _, f := range zr.File {
		p.maxBytes += f.UncompressedSize64
	}

	excluded := make(map[string]bool)
	for _, name := range transform.ExistingFiles() {
		excluded[name] = true
	}

	out, err := os.Create(p.OutputPath())
	if err != nil {
		return newErr(ArchiveWriteOpenError, err, "opening output archive")
	}
	defer out.Close()
	zw := zip.NewWriter(out)
	// Re-encoded entries deflate through klauspost's implementation
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	if err := p.passOne(zr, zw, tempDir, excluded, transform); err != nil {
		return err
	}
	if err := p.passTwo(zw, tempDir, transform); err != nil {
		return err
	}
	if err := p.finalize(zw); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return newErr(ArchiveWriteDataError, err, "finishing output archive")
	}
	if err := out.Close(); err != nil {
		return newErr(ArchiveWriteDataError, err, "closing output archive")
	}
	return nil
}

// passOne streams every input entry: excluded entries are extracted for
// pass 2, patchable payloads are rewritten in memory, everything else
// is copied without re-compression.
func (p *Patcher) passOne(zr *zip.ReadCloser, zw *zip.Writer, tempDir string,
	excluded map[string]bool, transform RamdiskTransform) error {
	for _, f := range zr.File {
		if p.cancelled.Load() {
			return cancelErr()
		}
		p.reportFile(f.Name)

		switch {
		case excluded[f.Name]:
			if err := extractEntry(f, tempDir); err != nil {
				return err
			}
			p.reportBytes(f.UncompressedSize64)

		case patchableEntry(f):
			n, err := p.patchEntry(f, zw, transform)
			if err != nil {
				return err
			}
			p.reportBytes(n)

		case f.Name == UpdateBinary:
			if err := copyRaw(zw, f, f.Name+".orig"); err != nil {
				return err
			}
			p.reportBytes(f.UncompressedSize64)

		default:
			if err := copyRaw(zw, f, f.Name); err != nil {
				return err
			}
			p.reportBytes(f.UncompressedSize64)
		}
	}
	return nil
}

// patchableEntry reports whether the entry should be rewritten in
// memory: boot images and gzipped ramdisks up to the size cap.
func patchableEntry(f *zip.File) bool {
	switch path.Ext(f.Name) {
	case ".img", ".lok", ".gz":
		return f.UncompressedSize64 <= maxInlineSize
	}
	return false
}

// patchEntry rewrites one boot image or gzipped ramdisk entry and
// returns the number of output bytes it accounts for.
func (p *Patcher) patchEntry(f *zip.File, zw *zip.Writer, transform RamdiskTransform) (uint64, error) {
	data, err := readEntry(f)
	if err != nil {
		return 0, err
	}

	if p.cancelled.Load() {
		return 0, cancelErr()
	}

	var patched []byte
	if path.Ext(f.Name) == ".gz" {
		// The entry may genuinely be a gzip of something other than a
		// ramdisk, so a patch failure passes the bytes through.
		patched, err = patchRamdisk(data, transform, p.Device, p.RomID)
		if err != nil {
			log.Debugf("%s does not patch as a ramdisk, storing unchanged: %v", f.Name, err)
			patched = data
		}
	} else {
		patched, err = patchBootImage(data, transform, p.Device, p.RomID)
		if err != nil {
			return 0, err
		}
	}

	if p.cancelled.Load() {
		return 0, cancelErr()
	}

	// The re-encoded entry may differ in size from the original
	p.maxBytes = p.maxBytes - f.UncompressedSize64 + uint64(len(patched))

	if err := writeEntry(zw, f.Name, patched, f.Modified); err != nil {
		return 0, err
	}
	return uint64(len(patched)), nil
}

// passTwo runs the transform over the extracted files and appends them
// to the output.
func (p *Patcher) passTwo(zw *zip.Writer, tempDir string, transform RamdiskTransform) error {
	if p.cancelled.Load() {
		return cancelErr()
	}
	if err := transform.PatchFiles(tempDir, p.Device, p.RomID); err != nil {
		var pe *PatchError
		if errors.As(err, &pe) {
			return err
		}
		return newErr(RamdiskTransformError, err, "running file transforms")
	}
	if p.cancelled.Load() {
		return cancelErr()
	}

	for _, name := range transform.ExistingFiles() {
		data, err := os.ReadFile(filepath.Join(tempDir, filepath.FromSlash(name)))
		if os.IsNotExist(err) {
			// Not every installer carries every declared entry
			continue
		}
		if err != nil {
			return newErr(FileReadError, err, "reading extracted "+name)
		}

		outName := name
		if name == UpdateBinary {
			outName += ".orig"
		}
		if err := writeEntry(zw, outName, data, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// finalize appends the new installer binary, the busybox wrapper and
// the generated installation metadata.
func (p *Patcher) finalize(zw *zip.Writer) error {
	installer := filepath.Join(p.DataDir, "binaries", "android",
		p.Device.Architecture, "mbtool_recovery")
	wrapper := filepath.Join(p.DataDir, "scripts", "bb-wrapper.sh")

	add := func(name string, load func() ([]byte, error)) error {
		if p.cancelled.Load() {
			return cancelErr()
		}
		p.reportFile(name)
		data, err := load()
		if err != nil {
			return err
		}
		if err := writeEntry(zw, name, data, time.Now()); err != nil {
			return err
		}
		p.maxBytes += uint64(len(data))
		p.reportBytes(uint64(len(data)))
		return nil
	}

	if err := add(UpdateBinary, func() ([]byte, error) {
		return readFile(installer, "installer binary")
	}); err != nil {
		return err
	}
	if err := add(BBWrapper, func() ([]byte, error) {
		return readFile(wrapper, "busybox wrapper script")
	}); err != nil {
		return err
	}
	return add(InfoProp, func() ([]byte, error) {
		return p.infoProp(), nil
	})
}

func readFile(path, what string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, newErr(FileOpenError, err, "opening "+what)
	}
	if err != nil {
		return nil, newErr(FileReadError, err, "reading "+what)
	}
	return data, nil
}

// infoProp renders multiboot/info.prop: the installer metadata followed
// by a commented table of every known device.
func (p *Patcher) infoProp() []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "mbtool.installer.version=%s\n", Version)
	fmt.Fprintf(&buf, "mbtool.installer.device=%s\n", p.Device.ID)
	fmt.Fprintf(&buf, "mbtool.installer.ignore-codename=false\n")
	fmt.Fprintf(&buf, "mbtool.installer.install-location=%s\n", p.RomID)

	if p.Catalog == nil || len(p.Catalog.All()) == 0 {
		return buf.Bytes()
	}

	devs := p.Catalog.All()
	idWidth, cnWidth := 0, 0
	rows := make([][2]string, len(devs))
	for i, d := range devs {
		rows[i] = [2]string{d.ID, strings.Join(d.Codenames, ", ")}
		if len(rows[i][0]) > idWidth {
			idWidth = len(rows[i][0])
		}
		if len(rows[i][1]) > cnWidth {
			cnWidth = len(rows[i][1])
		}
	}

	buf.WriteString("#\n# Known devices:\n#\n")
	for i, d := range devs {
		fmt.Fprintf(&buf, "#   %-*s  %-*s  %s\n",
			idWidth, rows[i][0], cnWidth, rows[i][1], d.Name)
	}
	return buf.Bytes()
}

// readEntry inflates one entry fully into memory.
func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, newErr(ArchiveReadHeaderError, err, "opening archive entry "+f.Name)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, newErr(ArchiveReadDataError, err, "reading archive entry "+f.Name)
	}
	return data, nil
}

// extractEntry writes one entry under dir, preserving its path.
func extractEntry(f *zip.File, dir string) error {
	dest := filepath.Join(dir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(dest, dir+string(os.PathSeparator)) {
		return newErr(ArchiveReadHeaderError,
			fmt.Errorf("entry name %q escapes the extraction directory", f.Name),
			"extracting archive entry")
	}

	data, err := readEntry(f)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return newErr(FileWriteError, err, "creating extraction directory")
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return newErr(FileWriteError, err, "extracting archive entry "+f.Name)
	}
	return nil
}

// copyRaw copies an entry's compressed stream into the output without
// re-compression, optionally under a new name.
func copyRaw(zw *zip.Writer, f *zip.File, name string) error {
	hdr := f.FileHeader
	hdr.Name = name

	w, err := zw.CreateRaw(&hdr)
	if err != nil {
		return newErr(ArchiveWriteDataError, err, "creating archive entry "+name)
	}
	r, err := f.OpenRaw()
	if err != nil {
		return newErr(ArchiveReadDataError, err, "opening archive entry "+f.Name)
	}
	if _, err := io.Copy(w, r); err != nil {
		return newErr(ArchiveWriteDataError, err, "copying archive entry "+name)
	}
	return nil
}

// writeEntry deflates data into a new entry.
func writeEntry(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return newErr(ArchiveWriteDataError, err, "creating archive entry "+name)
	}
	if _, err := w.Write(data); err != nil {
		return newErr(ArchiveWriteDataError, err, "writing archive entry "+name)
	}
	return nil
}
