package partition

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survival/pkg/guid"
)

func TestReadSector0Superfloppy(t *testing.T) {
	sector := make([]byte, 512) // no 0x55AA
	tbl, err := ReadSector0(sector)
	require.NoError(t, err)
	assert.Equal(t, Superfloppy, tbl.Kind)
	assert.Equal(t, uint64(0), tbl.FirstDataLBA())
}

func TestReadSector0ClassicMBR(t *testing.T) {
	sector := make([]byte, 512)
	sector[510], sector[511] = 0x55, 0xAA
	sector[mbrFirstEntryOff+mbrEntryTypeOff] = TypeFAT32LBA
	binary.LittleEndian.PutUint32(sector[mbrFirstEntryOff+mbrEntryLBAOff:], 63)

	tbl, err := ReadSector0(sector)
	require.NoError(t, err)
	assert.Equal(t, MBR, tbl.Kind)
	require.Len(t, tbl.Partitions, 1)
	assert.EqualValues(t, 63, tbl.FirstDataLBA())
}

const testGUID = "01234567-89AB-CDEF-0123-456789ABCDEF"

// TestGPTRoundTrip is Scenario 4: Create GPT on a synthetic 64MiB
// device, verify the exact byte layout the scenario names.
func TestGPTRoundTrip(t *testing.T) {
	const totalLBAs = 64 * 1024 * 1024 / sectorSize
	diskGUID := *guid.MustParse(testGUID)
	espGUID := *guid.MustParse(testGUID)

	l := BuildGPT(totalLBAs, diskGUID, espGUID)

	sector0 := l.ProtectiveMBR[:]
	assert.Equal(t, byte(0x55), sector0[510])
	assert.Equal(t, byte(0xAA), sector0[511])
	assert.Equal(t, byte(0xEE), sector0[450])

	sector1 := l.PrimaryHeader[:]
	assert.Equal(t, "EFI PART", string(sector1[0:8]))
	assert.EqualValues(t, 0x00010000, binary.LittleEndian.Uint32(sector1[8:12]))

	entry0 := l.EntryArray[0:GPTEntrySize]
	var gotType guid.GUID
	copy(gotType[:], entry0[0:16])
	assert.Equal(t, guid.ESP, gotType)
	assert.EqualValues(t, espFirstLBA, binary.LittleEndian.Uint64(entry0[32:40]))

	// Testable Property 3: CRC32 invariance.
	hdr, err := ParseGPTHeader(sector1)
	require.NoError(t, err)
	assert.Equal(t, HeaderCRC32(sector1, GPTHeaderSize), hdr.HeaderCRC32)

	mutated := append([]byte(nil), sector1...)
	mutated[40] ^= 0xFF
	assert.NotEqual(t, HeaderCRC32(sector1, GPTHeaderSize), HeaderCRC32(mutated, GPTHeaderSize))

	assert.Equal(t, EntryArrayCRC32(l.EntryArray), hdr.EntryArrayCRC32)

	parsedEntries, err := ParseGPTEntries(l.EntryArray, hdr)
	require.NoError(t, err)
	require.Len(t, parsedEntries, 1)
	assert.EqualValues(t, espFirstLBA, parsedEntries[0].StartLBA)
	assert.Equal(t, guid.ESP, parsedEntries[0].TypeGUID)
}

func TestParseFullTable(t *testing.T) {
	const totalLBAs = 64 * 1024 * 1024 / sectorSize
	diskGUID := *guid.MustParse(testGUID)
	espGUID := *guid.MustParse(testGUID)
	l := BuildGPT(totalLBAs, diskGUID, espGUID)

	tbl, err := Parse(l.ProtectiveMBR[:], l.PrimaryHeader[:], l.EntryArray)
	require.NoError(t, err)
	assert.Equal(t, GPT, tbl.Kind)
	require.Len(t, tbl.Partitions, 1)
	assert.EqualValues(t, espFirstLBA, tbl.FirstDataLBA())
}

func TestValidate(t *testing.T) {
	const totalLBAs = 64 * 1024 * 1024 / sectorSize
	l := BuildGPT(totalLBAs, *guid.MustParse(testGUID), *guid.MustParse(testGUID))
	tbl, err := Parse(l.ProtectiveMBR[:], l.PrimaryHeader[:], l.EntryArray)
	require.NoError(t, err)
	assert.NoError(t, tbl.Validate(totalLBAs))

	// A partition reaching into the backup GPT region must be rejected.
	bad := tbl
	bad.Partitions = append([]Partition(nil), tbl.Partitions...)
	bad.Partitions[0].SizeLBA = totalLBAs - bad.Partitions[0].StartLBA
	assert.Error(t, bad.Validate(totalLBAs))

	// A partition past the end of the disk must be rejected.
	bad.Partitions[0] = Partition{StartLBA: totalLBAs, SizeLBA: 16}
	assert.Error(t, bad.Validate(totalLBAs))
}
