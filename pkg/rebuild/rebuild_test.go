package rebuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survival/pkg/firmware/simfw"
	"github.com/levkropp/survival/pkg/fs/fat32"
)

// sourceTree is a minimal self-consistent workstation source set the
// bundled compiler can build into a firmware image.
var sourceTree = map[string]string{
	"/src/main.c": `
#include "api.h"
int efi_main(int image, int systab) {
	boot_banner();
	return run_loop(image);
}
`,
	"/src/loop.c": `
int run_loop(int image) {
	int i;
	int acc = 0;
	for (i = 0; i < 4; i++) acc += i;
	return acc - 6 + image * 0;
}
`,
	"/src/banner.c": `
int banner_color = 0x00FF00;
int boot_banner(void) { return banner_color; }
`,
	"/src/tcc-headers/api.h": `
int boot_banner(void);
int run_loop(int image);
`,
	"/tools/tinycc/tcc_unity.c": `
int tcc_compile(int flags) { return flags & 0xFF; }
`,
	"/src/nlexit_x86_64.c": `
int nlexit_save(int ctx) { return 0; }
`,
	"/src/nlexit_arm64.c": `
int nlexit_save(int ctx) { return 0; }
`,
}

func newSourceVolume(t *testing.T) *fat32.Volume {
	t.Helper()
	dev := make([]byte, 64<<20)
	require.NoError(t, fat32.Format(dev, "SRC"))
	vol, err := fat32.Mount(dev)
	require.NoError(t, err)
	require.NoError(t, vol.MkdirAll("/src/tcc-headers"))
	require.NoError(t, vol.MkdirAll("/tools/tinycc"))
	for path, src := range sourceTree {
		require.NoError(t, vol.WriteFile(path, []byte(src)))
	}
	return vol
}

var testManifest = []string{"/src/main.c", "/src/loop.c", "/src/banner.c"}

func TestRebuildWritesBootBinary(t *testing.T) {
	vol := newSourceVolume(t)
	d := &Driver{Volume: vol, FW: simfw.New(nil), Arch: "amd64", Manifest: testManifest}

	res, err := d.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, "/EFI/BOOT/BOOTX64.EFI", res.BootPath)

	img, err := vol.ReadFile(res.BootPath)
	require.NoError(t, err)
	require.Equal(t, res.ImageSize, len(img))
	assert.Equal(t, "MZ", string(img[0:2]))
}

func TestRebuildARM64Path(t *testing.T) {
	vol := newSourceVolume(t)
	d := &Driver{Volume: vol, FW: simfw.New(nil), Arch: "arm64", Manifest: testManifest}

	res, err := d.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, "/EFI/BOOT/BOOTAA64.EFI", res.BootPath)
}

func TestRebuildFailureLeavesBinaryUntouched(t *testing.T) {
	vol := newSourceVolume(t)
	require.NoError(t, vol.MkdirAll("/EFI/BOOT"))
	existing := []byte("previous image, do not touch")
	require.NoError(t, vol.WriteFile("/EFI/BOOT/BOOTX64.EFI", existing))
	require.NoError(t, vol.WriteFile("/src/loop.c", []byte("int run_loop(int image) { return ; }")))

	d := &Driver{Volume: vol, FW: simfw.New(nil), Arch: "amd64", Manifest: testManifest}
	res, err := d.Rebuild()
	require.Error(t, err)
	assert.Contains(t, res.ErrorMsg, "/src/loop.c:1:")

	after, err := vol.ReadFile("/EFI/BOOT/BOOTX64.EFI")
	require.NoError(t, err)
	assert.Equal(t, existing, after)
}

func TestRebuildReportsEveryFailingFile(t *testing.T) {
	vol := newSourceVolume(t)
	require.NoError(t, vol.WriteFile("/src/main.c", []byte("int efi_main(int a, int b) { return }")))
	require.NoError(t, vol.WriteFile("/src/banner.c", []byte("int boot_banner(void) { oops }")))

	d := &Driver{Volume: vol, FW: simfw.New(nil), Arch: "amd64", Manifest: testManifest}
	res, err := d.Rebuild()
	require.Error(t, err)
	assert.Contains(t, res.ErrorMsg, "/src/main.c")
	assert.Contains(t, res.ErrorMsg, "/src/banner.c")
}

func TestRebuildAbortsWhenSaveFails(t *testing.T) {
	vol := newSourceVolume(t)
	d := &Driver{
		Volume: vol, FW: simfw.New(nil), Arch: "amd64", Manifest: testManifest,
		SaveModified: func() error { return assert.AnError },
	}
	_, err := d.Rebuild()
	require.Error(t, err)
	// Nothing was compiled or written.
	_, err = vol.ReadFile("/EFI/BOOT/BOOTX64.EFI")
	assert.Error(t, err)
}
