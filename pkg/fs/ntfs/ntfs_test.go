package ntfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survival/pkg/fs"
)

// imageBuilder synthesizes a minimal NTFS volume: boot sector, an MFT
// of 1 KiB records, and raw cluster data for non-resident runs.
type imageBuilder struct {
	img     []byte
	nextRec uint64
}

const (
	testMFTCluster = 8 // MFT at byte offset 8*512 = 4096
	mftByteOff     = testMFTCluster * 512
)

func newImage(t *testing.T) *imageBuilder {
	t.Helper()
	img := make([]byte, 32<<10)
	copy(img[3:11], "NTFS    ")
	binary.LittleEndian.PutUint16(img[11:13], 512) // bytes per sector
	img[13] = 1                                    // sectors per cluster
	binary.LittleEndian.PutUint64(img[45:53], uint64(len(img)/512))
	binary.LittleEndian.PutUint64(img[53:61], testMFTCluster)
	var mftRecordSizeCode int8 = -10
	img[69] = byte(mftRecordSizeCode) // 2^10 = 1 KiB MFT records
	return &imageBuilder{img: img}
}

// addRecord appends one FILE record under the given parent directory,
// with a resident $FILE_NAME and either a resident $DATA payload or a
// single-run non-resident one. It returns the new record's MFT index.
func (b *imageBuilder) addRecord(t *testing.T, parent uint64, name string, isDir bool, resident []byte, runLCN, runClusters, dataSize int) uint64 {
	t.Helper()
	index := b.nextRec
	rec := b.img[mftByteOff+int(index)*mftRecordSize:]
	b.nextRec++
	copy(rec[0:4], fileRecordMagic)
	binary.LittleEndian.PutUint16(rec[20:22], 56) // first attribute offset
	if isDir {
		binary.LittleEndian.PutUint16(rec[22:24], 0x02)
	}

	pos := 56

	// $FILE_NAME, resident: parent reference, then name.
	nameUTF16 := make([]byte, len(name)*2)
	for i, r := range name {
		binary.LittleEndian.PutUint16(nameUTF16[i*2:], uint16(r))
	}
	bodyLen := 66 + len(nameUTF16)
	attrLen := (24 + bodyLen + 7) &^ 7
	binary.LittleEndian.PutUint32(rec[pos:], attrTypeFileName)
	binary.LittleEndian.PutUint32(rec[pos+4:], uint32(attrLen))
	rec[pos+8] = 0                                  // resident
	binary.LittleEndian.PutUint16(rec[pos+20:], 24) // content offset
	body := rec[pos+24:]
	binary.LittleEndian.PutUint64(body[0:8], parent)
	body[64] = byte(len(name))
	copy(body[66:], nameUTF16)
	pos += attrLen

	// $DATA.
	if resident != nil {
		attrLen = (24 + len(resident) + 7) &^ 7
		binary.LittleEndian.PutUint32(rec[pos:], attrTypeData)
		binary.LittleEndian.PutUint32(rec[pos+4:], uint32(attrLen))
		rec[pos+8] = 0
		binary.LittleEndian.PutUint32(rec[pos+16:], uint32(len(resident)))
		binary.LittleEndian.PutUint16(rec[pos+20:], 24)
		copy(rec[pos+24:], resident)
		pos += attrLen
	} else if runClusters > 0 {
		attrLen = 72
		binary.LittleEndian.PutUint32(rec[pos:], attrTypeData)
		binary.LittleEndian.PutUint32(rec[pos+4:], uint32(attrLen))
		rec[pos+8] = 1                                  // non-resident
		binary.LittleEndian.PutUint16(rec[pos+32:], 64) // run list offset
		binary.LittleEndian.PutUint64(rec[pos+48:], uint64(dataSize))
		rec[pos+64] = 0x11 // 1 length byte, 1 offset byte
		rec[pos+65] = byte(runClusters)
		rec[pos+66] = byte(runLCN)
		pos += attrLen
	}

	binary.LittleEndian.PutUint32(rec[pos:], attrTypeEnd)
	return index
}

func TestMountAndReadResidentFile(t *testing.T) {
	b := newImage(t)
	b.addRecord(t, rootRecordIndex, "readme.txt", false, []byte("resident payload"), 0, 0, 0)

	v, err := Mount(b.img)
	require.NoError(t, err)

	data, err := v.ReadFile("/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "resident payload", string(data))

	size, err := v.FileSize("/readme.txt")
	require.NoError(t, err)
	assert.EqualValues(t, len("resident payload"), size)
}

func TestReadNonResidentFile(t *testing.T) {
	b := newImage(t)
	// Cluster 4 (byte offset 2048) holds the file body; only the first
	// 100 bytes belong to the file per its declared size.
	for i := 0; i < 512; i++ {
		b.img[2048+i] = byte('A' + i%26)
	}
	b.addRecord(t, rootRecordIndex, "big.bin", false, nil, 4, 1, 100)

	v, err := Mount(b.img)
	require.NoError(t, err)

	data, err := v.ReadFile("/big.bin")
	require.NoError(t, err)
	require.Len(t, data, 100)
	assert.Equal(t, b.img[2048:2148], data)
}

func TestReadDirOrderingAndKinds(t *testing.T) {
	b := newImage(t)
	b.addRecord(t, rootRecordIndex, "zfile.txt", false, []byte("z"), 0, 0, 0)
	b.addRecord(t, rootRecordIndex, "Adir", true, nil, 0, 0, 0)
	b.addRecord(t, rootRecordIndex, "afile.txt", false, []byte("a"), 0, 0, 0)

	v, err := Mount(b.img)
	require.NoError(t, err)
	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "Adir", entries[0].Name)
	assert.Equal(t, "afile.txt", entries[1].Name)
	assert.Equal(t, "zfile.txt", entries[2].Name)
}

func TestReadDirListsOnlyRequestedDirectory(t *testing.T) {
	b := newImage(t)
	sub := b.addRecord(t, rootRecordIndex, "sub", true, nil, 0, 0, 0)
	b.addRecord(t, sub, "inner.txt", false, []byte("inner"), 0, 0, 0)
	b.addRecord(t, rootRecordIndex, "top.txt", false, []byte("top"), 0, 0, 0)

	v, err := Mount(b.img)
	require.NoError(t, err)

	root, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, root, 2)
	assert.Equal(t, "sub", root[0].Name)
	assert.Equal(t, "top.txt", root[1].Name)

	inside, err := v.ReadDir("/sub")
	require.NoError(t, err)
	require.Len(t, inside, 1)
	assert.Equal(t, "inner.txt", inside[0].Name)

	data, err := v.ReadFile("/sub/inner.txt")
	require.NoError(t, err)
	assert.Equal(t, "inner", string(data))

	// The nested name does not exist at the root.
	_, err = v.ReadFile("/inner.txt")
	assert.Error(t, err)

	// Listing a file is rejected.
	_, err = v.ReadDir("/top.txt")
	assert.Error(t, err)
}

func TestReadDirHidesMetadataFiles(t *testing.T) {
	b := newImage(t)
	b.addRecord(t, rootRecordIndex, "$MFT", false, []byte("m"), 0, 0, 0)
	b.addRecord(t, rootRecordIndex, "visible.txt", false, []byte("v"), 0, 0, 0)

	v, err := Mount(b.img)
	require.NoError(t, err)
	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible.txt", entries[0].Name)
}

func TestMutationRefused(t *testing.T) {
	b := newImage(t)
	b.addRecord(t, rootRecordIndex, "f.txt", false, []byte("x"), 0, 0, 0)
	v, err := Mount(b.img)
	require.NoError(t, err)

	assert.ErrorIs(t, v.WriteFile("/new.txt", []byte("y")), fs.ErrReadOnly)
	assert.ErrorIs(t, v.Rename("/f.txt", "/g.txt"), fs.ErrReadOnly)
}

func TestMountRejectsForeignVolume(t *testing.T) {
	_, err := Mount(make([]byte, 32<<10))
	assert.Error(t, err)

	short := make([]byte, 100)
	_, err = Mount(short)
	assert.Error(t, err)
}
