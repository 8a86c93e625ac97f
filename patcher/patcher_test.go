package patcher

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	gzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3liteking148/DualBootPatcher/binbuf"
	"github.com/3liteking148/DualBootPatcher/bootimg"
	"github.com/3liteking148/DualBootPatcher/cpio"
	"github.com/3liteking148/DualBootPatcher/devices"
)

func testDevice() *devices.Device {
	return &devices.Device{
		ID:           "hammerhead",
		Codenames:    []string{"hammerhead"},
		Name:         "Google Nexus 5",
		Architecture: devices.ArchArmeabiV7a,
	}
}

func makeDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	binDir := filepath.Join(dir, "binaries", "android", devices.ArchArmeabiV7a)
	require.NoError(t, os.MkdirAll(binDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "mbtool_recovery"),
		[]byte("installer binary"), 0755))

	scriptDir := filepath.Join(dir, "scripts")
	require.NoError(t, os.MkdirAll(scriptDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(scriptDir, "bb-wrapper.sh"),
		[]byte("#!/sbin/sh\n"), 0755))

	return dir
}

func writeTestZip(t *testing.T, path string, entries map[string][]byte, order []string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func readOutputZip(t *testing.T, path string) ([]string, map[string][]byte) {
	t.Helper()

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	contents := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()

		names = append(names, f.Name)
		contents[f.Name] = data
	}
	return names, contents
}

func newTestPatcher(t *testing.T, entries map[string][]byte, order []string) *Patcher {
	t.Helper()

	input := filepath.Join(t.TempDir(), "installer.zip")
	writeTestZip(t, input, entries, order)

	p := New(input, testDevice(), "dual")
	p.DataDir = makeDataDir(t)
	return p
}

func TestOutputPath(t *testing.T) {
	p := New("/sdcard/rom.zip", testDevice(), "dual")
	assert.Equal(t, "/sdcard/rom_dual.zip", p.OutputPath())
}

func TestOnlyZipSupported(t *testing.T) {
	p := New("/tmp/boot.img", testDevice(), "dual")
	err := p.Patch()
	assert.Equal(t, OnlyZipSupported, CodeOf(err))
}

func TestExcludedEntriesDeferredToPassTwo(t *testing.T) {
	p := newTestPatcher(t, map[string][]byte{
		"A":           []byte("entry a"),
		UpdaterScript: []byte(`format("/system");` + "\n"),
		"B":           []byte("entry b"),
	}, []string{"A", UpdaterScript, "B"})
	require.NoError(t, p.Patch())

	names, contents := readOutputZip(t, p.OutputPath())
	assert.Equal(t, []string{"A", "B", UpdaterScript, UpdateBinary, BBWrapper, InfoProp}, names)
	assert.Equal(t, []byte(`format("/raw/system");`+"\n"), contents[UpdaterScript])
}

func TestUpdateBinaryRenameChain(t *testing.T) {
	p := newTestPatcher(t, map[string][]byte{
		UpdateBinary: []byte("original installer"),
	}, []string{UpdateBinary})
	require.NoError(t, p.Patch())

	_, contents := readOutputZip(t, p.OutputPath())
	assert.Equal(t, []byte("original installer"), contents[UpdateBinary+".orig"])
	assert.Equal(t, []byte("installer binary"), contents[UpdateBinary])
}

func TestInfoProp(t *testing.T) {
	catalog, err := devices.Load([]byte(`
- id: hammerhead
  codenames: [hammerhead]
  name: Google Nexus 5
- id: klte
  codenames: [klte, kltecan]
  name: Samsung Galaxy S5
`))
	require.NoError(t, err)

	p := newTestPatcher(t, map[string][]byte{"A": []byte("a")}, []string{"A"})
	p.Catalog = catalog
	require.NoError(t, p.Patch())

	_, contents := readOutputZip(t, p.OutputPath())
	props := string(contents[InfoProp])
	assert.Contains(t, props, "mbtool.installer.version="+Version+"\n")
	assert.Contains(t, props, "mbtool.installer.device=hammerhead\n")
	assert.Contains(t, props, "mbtool.installer.ignore-codename=false\n")
	assert.Contains(t, props, "mbtool.installer.install-location=dual\n")
	assert.Contains(t, props, "#   hammerhead  hammerhead     Google Nexus 5\n")
	assert.Contains(t, props, "#   klte        klte, kltecan  Samsung Galaxy S5\n")
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func gunzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func testBootImage(t *testing.T) []byte {
	t.Helper()

	rd := cpio.New()
	rd.SetContents("init.rc", []byte("on fs\n    mount ext4 /dev/block/sda /data wait\n"))

	img := &bootimg.Image{
		TargetType: bootimg.TypeAndroid,
		PageSize:   2048,
		Kernel:     binbuf.New([]byte("kernel")),
		Ramdisk:    binbuf.Take(gzipBytes(t, rd.Serialize())),
	}
	data, err := img.Create()
	require.NoError(t, err)
	return data
}

func TestBootImageEntryPatched(t *testing.T) {
	p := newTestPatcher(t, map[string][]byte{
		"boot.img": testBootImage(t),
	}, []string{"boot.img"})
	require.NoError(t, p.Patch())

	_, contents := readOutputZip(t, p.OutputPath())
	img, err := bootimg.Load(contents["boot.img"])
	require.NoError(t, err)

	rd, err := cpio.Load(gunzipBytes(t, img.Ramdisk.Bytes()))
	require.NoError(t, err)
	initRC, err := rd.Contents("init.rc")
	require.NoError(t, err)
	assert.Contains(t, string(initRC), " /raw/data ")
}

func TestInvalidBootImageEntryFails(t *testing.T) {
	p := newTestPatcher(t, map[string][]byte{
		"boot.img": []byte("not a boot image"),
	}, []string{"boot.img"})

	err := p.Patch()
	assert.Equal(t, OnlyBootImageSupported, CodeOf(err))
}

func TestGzEntryPassthrough(t *testing.T) {
	payload := gzipBytes(t, []byte("just a text file, not a ramdisk"))
	p := newTestPatcher(t, map[string][]byte{
		"docs.gz": payload,
	}, []string{"docs.gz"})
	require.NoError(t, p.Patch())

	_, contents := readOutputZip(t, p.OutputPath())
	assert.Equal(t, payload, contents["docs.gz"])
}

func TestGzRamdiskEntryPatched(t *testing.T) {
	rd := cpio.New()
	rd.SetContents("init.rc", []byte("    mount ext4 /dev/block/sda /cache wait\n"))

	p := newTestPatcher(t, map[string][]byte{
		"ramdisk.gz": gzipBytes(t, rd.Serialize()),
	}, []string{"ramdisk.gz"})
	require.NoError(t, p.Patch())

	_, contents := readOutputZip(t, p.OutputPath())
	patched, err := cpio.Load(gunzipBytes(t, contents["ramdisk.gz"]))
	require.NoError(t, err)
	initRC, err := patched.Contents("init.rc")
	require.NoError(t, err)
	assert.Contains(t, string(initRC), " /raw/cache ")
}

func TestCancelMidStream(t *testing.T) {
	entries := make(map[string][]byte)
	var order []string
	for i := 0; i < 100; i++ {
		name := string(rune('a'+i%26)) + string(rune('0'+i/26))
		entries[name] = []byte("payload")
		order = append(order, name)
	}

	before, err := filepath.Glob(filepath.Join(os.TempDir(), "dbpatcher*"))
	require.NoError(t, err)

	p := newTestPatcher(t, entries, order)
	p.Progress.Files = func(cur, max uint64) {
		if cur == 1 {
			p.Cancel()
		}
	}

	err = p.Patch()
	assert.Equal(t, Cancelled, CodeOf(err))

	after, err := filepath.Glob(filepath.Join(os.TempDir(), "dbpatcher*"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProgressTotals(t *testing.T) {
	p := newTestPatcher(t, map[string][]byte{
		"A": []byte("aaaa"),
		"B": []byte("bbbb"),
	}, []string{"A", "B"})

	var lastFilesMax, lastBytesCur, lastBytesMax uint64
	p.Progress.Files = func(cur, max uint64) { lastFilesMax = max }
	p.Progress.Bytes = func(cur, max uint64) { lastBytesCur, lastBytesMax = cur, max }
	require.NoError(t, p.Patch())

	assert.Equal(t, uint64(2+finalEntries), lastFilesMax)
	assert.Equal(t, lastBytesMax, lastBytesCur)
}

func TestDeviceSpecificTransformPreferred(t *testing.T) {
	r := NewRegistry()
	r.Register("default", defaultTransform{})
	marker := &markerTransform{}
	r.Register("hammerhead/default", marker)

	p := newTestPatcher(t, map[string][]byte{"A": []byte("a")}, []string{"A"})
	p.Registry = r
	require.NoError(t, p.Patch())

	assert.True(t, marker.filesRan)
}

type markerTransform struct {
	filesRan bool
}

func (m *markerTransform) ExistingFiles() []string { return nil }

func (m *markerTransform) PatchRamdisk(rd *cpio.Archive, dev *devices.Device, romID string) error {
	return nil
}

func (m *markerTransform) PatchFiles(dir string, dev *devices.Device, romID string) error {
	m.filesRan = true
	return nil
}
