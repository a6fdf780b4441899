package iso9660

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survival/pkg/blockdev"
	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/firmware/simfw"
	"github.com/levkropp/survival/pkg/fs/fat32"
)

// buildISO fabricates a minimal image with a valid PVD at sector 16.
func buildISO(t *testing.T, totalBlocks uint32) []byte {
	t.Helper()
	img := make([]byte, int(totalBlocks)*sectorSize)
	for i := range img {
		img[i] = byte(i % 251)
	}
	d := img[pvdLBA*sectorSize:]
	d[0] = 1
	copy(d[1:6], "CD001")
	d[6] = 1
	binary.LittleEndian.PutUint32(d[80:84], totalBlocks)
	binary.BigEndian.PutUint32(d[84:88], totalBlocks)
	return img
}

func TestWriteImageByteForByte(t *testing.T) {
	fw := simfw.New(nil)
	bootH := fw.AddDisk("boot", false, true, 512, make([]byte, 1<<20))
	targetData := make([]byte, 1<<20)
	fw.AddDisk("usb", true, false, 512, targetData)
	layer := blockdev.New(fw, bootH)

	srcDev := make([]byte, 64<<20)
	require.NoError(t, fat32.Format(srcDev, "SRC"))
	vol, err := fat32.Mount(srcDev)
	require.NoError(t, err)
	iso := buildISO(t, 20)
	require.NoError(t, vol.WriteFile("/image.iso", iso))

	devs, err := layer.Enumerate(0)
	require.NoError(t, err)
	var target blockdev.Device
	for _, d := range devs {
		if !d.Boot {
			target = d
		}
	}

	var lastWritten, lastTotal uint64
	w := &Writer{Layer: layer, BIO: fw, ChunkBytes: 4096,
		Progress: func(written, total uint64) { lastWritten, lastTotal = written, total }}
	require.NoError(t, w.WriteImage(vol, "/image.iso", target))

	assert.True(t, bytes.Equal(iso, targetData[:len(iso)]))
	assert.Equal(t, uint64(len(iso)), lastWritten)
	assert.Equal(t, uint64(len(iso)), lastTotal)
}

func TestWriteImageRefusesBootDevice(t *testing.T) {
	fw := simfw.New(nil)
	bootH := fw.AddDisk("boot", false, true, 512, make([]byte, 1<<20))
	layer := blockdev.New(fw, bootH)

	srcDev := make([]byte, 64<<20)
	require.NoError(t, fat32.Format(srcDev, "SRC"))
	vol, err := fat32.Mount(srcDev)
	require.NoError(t, err)
	require.NoError(t, vol.WriteFile("/image.iso", buildISO(t, 18)))

	devs, err := layer.Enumerate(0)
	require.NoError(t, err)
	w := &Writer{Layer: layer, BIO: fw}
	err = w.WriteImage(vol, "/image.iso", blockdev.Device{
		Handle: devs[0].Handle, Boot: true, BlockSize: 512, SizeBytes: 1 << 20,
	})
	require.Error(t, err)
	var fe *firmware.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, firmware.AccessDenied, fe.Code)
}

func TestVolumeInfoReadsPVD(t *testing.T) {
	iso := buildISO(t, 30)
	info, err := VolumeInfo(iso)
	require.NoError(t, err)
	assert.Equal(t, uint64(30*sectorSize), info.TotalBytes)
	assert.Zero(t, info.FreeBytes)

	iso[pvdLBA*sectorSize+1] = 'X'
	_, err = VolumeInfo(iso)
	assert.Error(t, err)

	_, err = VolumeInfo(make([]byte, 1024))
	assert.Error(t, err)
}
