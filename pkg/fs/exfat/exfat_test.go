package exfat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVolumeBytes = 64 * 1024 * 1024
const testBytesPerSector = 512
const testSectorsPerCluster = 8 // shift 3 -> 4096-byte clusters

func buildTestVolume(t *testing.T) []byte {
	t.Helper()
	dev := make([]byte, testVolumeBytes)

	bytesPerSectorShift := uint8(9) // 512
	sectorsPerClusterShift := uint8(3)
	bytesPerCluster := uint32(1) << (bytesPerSectorShift + sectorsPerClusterShift)

	totalSectors := uint64(len(dev)) / testBytesPerSector
	fatOffsetSectors := uint32(64)
	fatLengthSectors := uint32(64)
	clusterHeapOffsetSectors := fatOffsetSectors + fatLengthSectors
	clusterCount := uint32((uint64(len(dev)) - uint64(clusterHeapOffsetSectors)*testBytesPerSector) / uint64(bytesPerCluster))

	copy(dev[3:11], []byte("EXFAT   "))
	binary.LittleEndian.PutUint64(dev[64:72], 0)             // PartitionOffset
	binary.LittleEndian.PutUint64(dev[72:80], totalSectors)   // VolumeLength
	binary.LittleEndian.PutUint32(dev[80:84], fatOffsetSectors)
	binary.LittleEndian.PutUint32(dev[84:88], fatLengthSectors)
	binary.LittleEndian.PutUint32(dev[88:92], clusterHeapOffsetSectors)
	binary.LittleEndian.PutUint32(dev[92:96], clusterCount)
	binary.LittleEndian.PutUint32(dev[96:100], 2) // FirstClusterOfRootDirectory
	binary.LittleEndian.PutUint32(dev[100:104], 0x12345678)
	binary.LittleEndian.PutUint16(dev[104:106], 0x0100) // FileSystemRevision
	binary.LittleEndian.PutUint16(dev[106:108], 0)      // VolumeFlags
	dev[108] = bytesPerSectorShift
	dev[109] = sectorsPerClusterShift
	dev[110] = 1 // NumberOfFats
	dev[510] = 0x55
	dev[511] = 0xAA

	// Mark cluster 2 (root dir) as allocated+EOC in the FAT.
	fatByteOff := int(fatOffsetSectors) * testBytesPerSector
	binary.LittleEndian.PutUint32(dev[fatByteOff+8:fatByteOff+12], exfatEOC) // entry for cluster 2

	return dev
}

func TestMountParsesBootSector(t *testing.T) {
	dev := buildTestVolume(t)
	v, err := Mount(dev)
	require.NoError(t, err)
	assert.EqualValues(t, 512, v.bs.bytesPerSector())
	assert.EqualValues(t, 4096, v.bs.bytesPerCluster())
	assert.EqualValues(t, 2, v.bs.FirstClusterOfRootDirectory)
}

func TestMountRejectsBadSignature(t *testing.T) {
	dev := buildTestVolume(t)
	dev[511] = 0x00
	_, err := Mount(dev)
	assert.Error(t, err)
}

func TestWriteReadFileRoundTrip(t *testing.T) {
	dev := buildTestVolume(t)
	v, err := Mount(dev)
	require.NoError(t, err)

	content := []byte("exfat content body")
	require.NoError(t, v.WriteFile("/hello.txt", content))

	got, err := v.ReadFile("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	size, err := v.FileSize("/hello.txt")
	require.NoError(t, err)
	assert.EqualValues(t, len(content), size)
}

func TestReadDirListsWrittenFile(t *testing.T) {
	dev := buildTestVolume(t)
	v, err := Mount(dev)
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("/a.bin", []byte("one")))
	require.NoError(t, v.WriteFile("/b.bin", []byte("two")))

	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.bin", entries[0].Name)
	assert.Equal(t, "b.bin", entries[1].Name)
}

func TestRename(t *testing.T) {
	dev := buildTestVolume(t)
	v, err := Mount(dev)
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("/old.bin", []byte("payload")))
	require.NoError(t, v.Rename("/old.bin", "/new.bin"))

	_, err = v.ReadFile("/old.bin")
	assert.Error(t, err)

	got, err := v.ReadFile("/new.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestVolumeInfoReportsFreeBytes(t *testing.T) {
	dev := buildTestVolume(t)
	v, err := Mount(dev)
	require.NoError(t, err)

	info, err := v.VolumeInfo()
	require.NoError(t, err)
	assert.Greater(t, info.TotalBytes, uint64(0))
	assert.Greater(t, info.FreeBytes, uint64(0))

	require.NoError(t, v.WriteFile("/x.bin", make([]byte, 8192)))
	info2, err := v.VolumeInfo()
	require.NoError(t, err)
	assert.Less(t, info2.FreeBytes, info.FreeBytes)
}
