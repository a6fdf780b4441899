package payload

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioSingleStoredFile(t *testing.T) {
	// Scenario 5: one architecture, one small file, stored uncompressed.
	blob, err := Pack([]Arch{{
		Name:  "aarch64",
		Files: []File{{Path: "/hello.txt", Data: []byte("Hello")}},
	}}, 0)
	require.NoError(t, err)

	// Header layout.
	assert.Equal(t, "SURV", string(blob[0:4]))
	assert.Equal(t, byte(1), blob[4])
	assert.Equal(t, byte(1), blob[5])

	r, err := Parse(blob)
	require.NoError(t, err)
	arches := r.Arches()
	require.Len(t, arches, 1)
	require.Len(t, arches[0].Files, 1)
	f := arches[0].Files[0]
	assert.Equal(t, "/hello.txt", f.Path)
	assert.Equal(t, uint32(0), f.CompressedSize)
	assert.Equal(t, uint32(5), f.OriginalSize)
	// Data begins right after the manifest within the arch data block.
	assert.Equal(t, "Hello", string(r.Raw(f)))

	data, err := r.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(data))
}

func TestRoundTripBothArchitectures(t *testing.T) {
	// Testable Property 5: packing then unpacking yields byte-identical
	// contents for every file in every architecture.
	rng := rand.New(rand.NewSource(1))
	mkData := func(n int, compressible bool) []byte {
		data := make([]byte, n)
		if compressible {
			for i := range data {
				data[i] = byte('A' + i%4)
			}
		} else {
			rng.Read(data)
		}
		return data
	}
	arches := []Arch{
		{Name: "x86_64", Files: []File{
			{Path: "/EFI/BOOT/BOOTX64.EFI", Data: mkData(200<<10, true)},
			{Path: "/src/main.c", Data: mkData(9000, true)},
			{Path: "/settings.cfg", Data: mkData(100, false)},
		}},
		{Name: "aarch64", Files: []File{
			{Path: "/EFI/BOOT/BOOTAA64.EFI", Data: mkData(150<<10, false)},
			{Path: "/empty", Data: nil},
		}},
	}

	blob, err := Pack(arches, 0)
	require.NoError(t, err)
	r, err := Parse(blob)
	require.NoError(t, err)

	for _, want := range arches {
		got, ok := r.FindArch(want.Name)
		require.True(t, ok, want.Name)
		require.Len(t, got.Files, len(want.Files))
		for i, wf := range want.Files {
			data, err := r.ReadAll(got.Files[i])
			require.NoError(t, err, wf.Path)
			assert.Equal(t, wf.Path, got.Files[i].Path)
			assert.True(t, bytes.Equal(wf.Data, data), "%s content mismatch", wf.Path)
		}
	}
}

func TestCompressionPolicy(t *testing.T) {
	small := make([]byte, compressThreshold-1)
	big := bytes.Repeat([]byte("abcd"), 4<<10) // highly compressible
	random := make([]byte, 16<<10)
	rand.New(rand.NewSource(7)).Read(random)

	blob, err := Pack([]Arch{{Name: "x86_64", Files: []File{
		{Path: "/small", Data: small},
		{Path: "/big", Data: big},
		{Path: "/random", Data: random},
	}}}, 0)
	require.NoError(t, err)
	r, err := Parse(blob)
	require.NoError(t, err)
	files := r.Arches()[0].Files

	assert.Zero(t, files[0].CompressedSize, "below-threshold file must be stored")
	assert.NotZero(t, files[1].CompressedSize, "compressible file must be compressed")
	assert.Less(t, int(files[1].CompressedSize), len(big))
	assert.Zero(t, files[2].CompressedSize, "incompressible file must fall back to stored")
}

func TestArchOffsetsMonotonic(t *testing.T) {
	blob, err := Pack([]Arch{
		{Name: "x86_64", Files: []File{{Path: "/a", Data: []byte("aa")}}},
		{Name: "aarch64", Files: []File{{Path: "/b", Data: []byte("bb")}}},
	}, 0)
	require.NoError(t, err)
	off0 := binary.LittleEndian.Uint32(blob[headerSize+16:])
	off1 := binary.LittleEndian.Uint32(blob[headerSize+archEntrySize+16:])
	assert.Less(t, off0, off1)
}

func TestPackCapacityEnforced(t *testing.T) {
	_, err := Pack([]Arch{{
		Name:  "x86_64",
		Files: []File{{Path: "/f", Data: make([]byte, compressThreshold-1)}},
	}}, 512)
	require.Error(t, err)
}

func TestParseRejectsCorruptHeaders(t *testing.T) {
	good, err := Pack([]Arch{{Name: "x86_64", Files: []File{{Path: "/f", Data: []byte("x")}}}}, 0)
	require.NoError(t, err)

	bad := append([]byte(nil), good...)
	copy(bad[0:4], "NOPE")
	_, err = Parse(bad)
	assert.Error(t, err, "bad magic")

	bad = append([]byte(nil), good...)
	bad[4] = 9
	_, err = Parse(bad)
	assert.Error(t, err, "bad version")

	bad = append([]byte(nil), good...)
	bad[5] = 3
	_, err = Parse(bad)
	assert.Error(t, err, "arch count out of range")

	_, err = Parse(good[:headerSize+4])
	assert.Error(t, err, "truncated arch table")
}

func TestPackRejectsLongPath(t *testing.T) {
	long := make([]byte, 140)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Pack([]Arch{{Name: "x86_64", Files: []File{{Path: "/" + string(long), Data: nil}}}}, 0)
	require.Error(t, err)
}
