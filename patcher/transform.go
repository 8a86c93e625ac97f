package patcher

import (
	"os"
	"path/filepath"
	"strings"

	"go4.org/bytereplacer"

	"github.com/3liteking148/DualBootPatcher/cpio"
	"github.com/3liteking148/DualBootPatcher/devices"
)

// RamdiskTransform adapts an installer for multi-boot. One transform is
// applied per patch job: it edits the ramdisk of every boot image found
// in the archive and rewrites the archive files it declared up front.
type RamdiskTransform interface {
	// ExistingFiles lists the archive entries the transform will edit
	// in PatchFiles. Pass 1 extracts them and defers writing until
	// after the transform has run.
	ExistingFiles() []string

	// PatchRamdisk edits an unpacked boot image ramdisk in place.
	PatchRamdisk(rd *cpio.Archive, dev *devices.Device, romID string) error

	// PatchFiles edits the extracted entries under dir. A declared
	// entry missing from dir is skipped with a warning.
	PatchFiles(dir string, dev *devices.Device, romID string) error
}

// Registry resolves ramdisk transforms by name. Lookup tries the
// device-specific entry "<device-id>/default" first and falls back to
// the global "default" entry.
type Registry struct {
	transforms map[string]RamdiskTransform
}

// NewRegistry returns a registry with no transforms.
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]RamdiskTransform)}
}

// Register adds or replaces the named transform.
func (r *Registry) Register(name string, t RamdiskTransform) {
	r.transforms[name] = t
}

// Resolve returns the transform for the given device.
func (r *Registry) Resolve(deviceID string) (RamdiskTransform, bool) {
	if t, ok := r.transforms[deviceID+"/default"]; ok {
		return t, true
	}
	t, ok := r.transforms["default"]
	return t, ok
}

// defaultRegistry carries the stock transform; Patcher falls back to it
// when no registry is configured.
var defaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register("default", defaultTransform{})
	return r
}()

// Register adds a transform to the registry used by default.
func Register(name string, t RamdiskTransform) {
	defaultRegistry.Register(name, t)
}

// UpdaterScript is the installer script entry the stock transform
// rewrites.
const UpdaterScript = "META-INF/com/google/android/updater-script"

// initRepl redirects the mount points of init scripts into the shared
// multi-boot layout.
var initRepl = bytereplacer.New(
	" /system ", " /raw/system ",
	" /cache ", " /raw/cache ",
	" /data ", " /raw/data ",
)

// updaterRepl redirects the mount targets named in updater-script.
var updaterRepl = bytereplacer.New(
	`"/system"`, `"/raw/system"`,
	`"/cache"`, `"/raw/cache"`,
	`"/data"`, `"/raw/data"`,
)

// defaultTransform is the stock multi-boot adaptation applied when no
// device-specific transform is registered.
type defaultTransform struct{}

func (defaultTransform) ExistingFiles() []string {
	return []string{UpdaterScript}
}

// isInitScript reports whether name is an init script at the ramdisk
// root, e.g. init.rc or init.hammerhead.rc.
func isInitScript(name string) bool {
	return name == "init.rc" ||
		(strings.HasPrefix(name, "init.") && strings.HasSuffix(name, ".rc"))
}

func (defaultTransform) PatchRamdisk(rd *cpio.Archive, dev *devices.Device, romID string) error {
	for _, e := range rd.Entries() {
		if !isInitScript(e.Name) {
			continue
		}
		data, err := rd.Contents(e.Name)
		if err != nil {
			return err
		}
		rd.SetContents(e.Name, initRepl.Replace(append([]byte(nil), data...)))
	}
	return nil
}

func (defaultTransform) PatchFiles(dir string, dev *devices.Device, romID string) error {
	path := filepath.Join(dir, filepath.FromSlash(UpdaterScript))

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Warnf("%s not present in archive; skipping rewrite", UpdaterScript)
		return nil
	}
	if err != nil {
		return newErr(FileReadError, err, "reading extracted updater-script")
	}

	patched := updaterRepl.Replace(data)
	if err := os.WriteFile(path, patched, 0644); err != nil {
		return newErr(FileWriteError, err, "writing patched updater-script")
	}
	return nil
}
