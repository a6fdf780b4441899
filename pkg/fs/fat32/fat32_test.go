package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClusterCountThreshold is Testable Property 4: for every listed
// disk size, the formatter selects sectors-per-cluster such that total
// data-cluster count is strictly greater than 65,525.
func TestClusterCountThreshold(t *testing.T) {
	sizes := []uint64{
		64 * 1024 * 1024,
		128 * 1024 * 1024,
		256 * 1024 * 1024,
		512 * 1024 * 1024,
		1024 * 1024 * 1024,
		4 * 1024 * 1024 * 1024,
	}
	for _, size := range sizes {
		totalSectors := uint32(size / sectorSize)
		spc := chooseSectorsPerCluster(totalSectors, 32)

		fatEntriesPerSector := uint32(sectorSize / 4)
		dataSectors := totalSectors - 32
		clusters := dataSectors / uint32(spc)
		fatSectors := (clusters + 2 + fatEntriesPerSector - 1) / fatEntriesPerSector
		dataSectors = totalSectors - 32 - fatSectors*fatCount
		clusters = dataSectors / uint32(spc)

		assert.Greaterf(t, clusters, uint32(minDataClusters),
			"size=%d spc=%d clusters=%d", size, spc, clusters)
	}
}

// TestFormatRoundTrip is Testable Property 9: after format(device),
// HasValidFAT32(device) returns true.
func TestFormatRoundTrip(t *testing.T) {
	dev := make(Device, 64*1024*1024)
	require.NoError(t, Format(dev, "SURVIVAL"))
	assert.True(t, HasValidFAT32(dev))
}

func TestHasValidFAT32RejectsGarbage(t *testing.T) {
	dev := make(Device, 64*1024*1024)
	for i := range dev {
		dev[i] = 0x42
	}
	assert.False(t, HasValidFAT32(dev))
}

func TestWriteReadFileRoundTrip(t *testing.T) {
	dev := make(Device, 64*1024*1024)
	require.NoError(t, Format(dev, "SURVIVAL"))
	v, err := Mount(dev)
	require.NoError(t, err)

	content := []byte("Hello, workstation!")
	require.NoError(t, v.WriteFile("/hello.txt", content))

	got, err := v.ReadFile("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	size, err := v.FileSize("/hello.txt")
	require.NoError(t, err)
	assert.EqualValues(t, len(content), size)
}

func TestWriteFileLongName(t *testing.T) {
	dev := make(Device, 64*1024*1024)
	require.NoError(t, Format(dev, "SURVIVAL"))
	v, err := Mount(dev)
	require.NoError(t, err)

	name := "a very long workstation source file name.c"
	require.NoError(t, v.WriteFile("/"+name, []byte("int main(void){return 0;}")))

	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, name, entries[0].Name)
}

func TestReadDirOrdering(t *testing.T) {
	dev := make(Device, 64*1024*1024)
	require.NoError(t, Format(dev, "SURVIVAL"))
	v, err := Mount(dev)
	require.NoError(t, err)

	for _, n := range []string{"zebra.txt", "banana.txt", "apple.txt"} {
		require.NoError(t, v.WriteFile("/"+n, []byte("x")))
	}

	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "apple.txt", entries[0].Name)
	assert.Equal(t, "banana.txt", entries[1].Name)
	assert.Equal(t, "zebra.txt", entries[2].Name)
}

func TestRename(t *testing.T) {
	dev := make(Device, 64*1024*1024)
	require.NoError(t, Format(dev, "SURVIVAL"))
	v, err := Mount(dev)
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("/old.txt", []byte("data")))
	require.NoError(t, v.Rename("/old.txt", "/new.txt"))

	_, err = v.ReadFile("/old.txt")
	require.Error(t, err)

	got, err := v.ReadFile("/new.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestMkdirAllAndNestedWrite(t *testing.T) {
	dev := make(Device, 64*1024*1024)
	require.NoError(t, Format(dev, "SURVIVAL"))
	v, err := Mount(dev)
	require.NoError(t, err)

	require.NoError(t, v.MkdirAll("/EFI/BOOT"))
	require.NoError(t, v.MkdirAll("/EFI/BOOT")) // idempotent
	require.NoError(t, v.WriteFile("/EFI/BOOT/BOOTX64.EFI", []byte("image")))

	got, err := v.ReadFile("/EFI/BOOT/BOOTX64.EFI")
	require.NoError(t, err)
	assert.Equal(t, []byte("image"), got)

	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "EFI", entries[0].Name)

	entries, err = v.ReadDir("/EFI/BOOT")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BOOTX64.EFI", entries[0].Name)

	// A file occupying the name refuses directory creation.
	require.NoError(t, v.WriteFile("/taken", []byte("x")))
	assert.Error(t, v.Mkdir("/taken"))
}

func TestOverwriteUpdatesContent(t *testing.T) {
	dev := make(Device, 64*1024*1024)
	require.NoError(t, Format(dev, "SURVIVAL"))
	v, err := Mount(dev)
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("/f.txt", []byte("short")))
	require.NoError(t, v.WriteFile("/f.txt", []byte("a much longer replacement body")))

	got, err := v.ReadFile("/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "a much longer replacement body", string(got))

	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
