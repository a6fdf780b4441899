package flasher

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
	"github.com/levkropp/survival/pkg/partition"
	"github.com/levkropp/survival/pkg/payload"
)

type rig struct {
	fw     *simfw.FW
	layer  *blockdev.Layer
	target blockdev.Device
	image  []byte
}

func newRig(t *testing.T, targetSize int) *rig {
	t.Helper()
	fw := simfw.New(nil)
	bootH := fw.AddDisk("boot", false, true, 512, make([]byte, 1<<20))
	image := make([]byte, targetSize)
	fw.AddDisk("usb", true, false, 512, image)
	layer := blockdev.New(fw, bootH)
	devs, err := layer.Enumerate(0)
	require.NoError(t, err)
	var target blockdev.Device
	for _, d := range devs {
		if !d.Boot {
			target = d
		}
	}
	require.NotZero(t, target.Handle)
	return &rig{fw: fw, layer: layer, target: target, image: image}
}

func testPayload(t *testing.T, files []payload.File) *payload.Reader {
	t.Helper()
	blob, err := payload.Pack([]payload.Arch{{Name: "x86_64", Files: files}}, 0)
	require.NoError(t, err)
	r, err := payload.Parse(blob)
	require.NoError(t, err)
	return r
}

func confirmYes(string) bool { return true }

func TestFlashRefusesBootDevice(t *testing.T) {
	r := newRig(t, 64<<20)
	f := New(r.layer, r.fw, nil, nil)
	devs, err := r.layer.Enumerate(0)
	require.NoError(t, err)
	var boot blockdev.Device
	for _, d := range devs {
		if d.Boot {
			boot = d
		}
	}
	err = f.Flash(Request{Target: boot, Image: make([]byte, boot.SizeBytes),
		Payload: testPayload(t, nil), ArchName: "x86_64", Confirm: confirmYes})
	require.Error(t, err)
	var fe *firmware.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, firmware.AccessDenied, fe.Code)
}

func TestFlashRequiresConfirmation(t *testing.T) {
	r := newRig(t, 64<<20)
	f := New(r.layer, r.fw, nil, nil)
	pay := testPayload(t, []payload.File{{Path: "/a", Data: []byte("x")}})

	err := f.Flash(Request{Target: r.target, Image: r.image, Payload: pay, ArchName: "x86_64"})
	require.Error(t, err, "nil Confirm must refuse")

	err = f.Flash(Request{Target: r.target, Image: r.image, Payload: pay,
		ArchName: "x86_64", Confirm: func(string) bool { return false }})
	require.Error(t, err, "declined confirmation must refuse")
	// A refused flash leaves the device untouched.
	assert.Equal(t, make([]byte, 1024), r.image[:1024])
}

func TestFlashGPTLayout(t *testing.T) {
	// Scenario 4: create GPT on a synthetic 64 MiB device, then verify
	// the on-disk bytes sector by sector.
	r := newRig(t, 64<<20)
	f := New(r.layer, r.fw, nil, nil)
	pay := testPayload(t, []payload.File{{Path: "/hello.txt", Data: []byte("Hello")}})
	require.NoError(t, f.Flash(Request{Target: r.target, Image: r.image,
		Payload: pay, ArchName: "x86_64", Confirm: confirmYes}))

	sector0 := r.image[0:512]
	assert.Equal(t, byte(0x55), sector0[510])
	assert.Equal(t, byte(0xAA), sector0[511])
	assert.Equal(t, byte(0xEE), sector0[450])

	sector1 := r.image[512:1024]
	assert.Equal(t, "EFI PART", string(sector1[0:8]))
	assert.Equal(t, uint32(0x00010000), binary.LittleEndian.Uint32(sector1[8:12]))

	entry := r.image[1024 : 1024+128]
	espTypeGUID := []byte{0x28, 0x73, 0x2A, 0xC1, 0x1F, 0xF8, 0xD2, 0x11,
		0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B}
	assert.Equal(t, espTypeGUID, entry[0:16])
	assert.Equal(t, uint64(2048), binary.LittleEndian.Uint64(entry[32:40]))

	// Header CRC32 invariance (Testable Property 3): recomputing with
	// the CRC field zeroed must reproduce the stored value.
	stored := binary.LittleEndian.Uint32(sector1[16:20])
	assert.Equal(t, stored, partition.HeaderCRC32(sector1, 92))

	// The backup header mirrors the primary at the last LBA.
	lastLBA := uint64(len(r.image)/512 - 1)
	backup := r.image[lastLBA*512 : lastLBA*512+512]
	assert.Equal(t, "EFI PART", string(backup[0:8]))
}

func TestFlashWritesAndVerifiesFiles(t *testing.T) {
	big := bytes.Repeat([]byte("survival kit "), 4096)
	files := []payload.File{
		{Path: "/EFI/BOOT/BOOTX64.EFI", Data: big},
		{Path: "/startup.nsh", Data: []byte("BOOTX64.EFI\r\n")},
		{Path: "/src/main.c", Data: []byte("int main(void){return 0;}\n")},
	}
	r := newRig(t, 128<<20)
	var stages []string
	f := New(r.layer, r.fw, func(stage string, done, total int) {
		stages = append(stages, stage)
	}, nil)
	pay := testPayload(t, files)
	require.NoError(t, f.Flash(Request{Target: r.target, Image: r.image,
		Payload: pay, ArchName: "x86_64", Confirm: confirmYes}))

	// Testable Property 9: the freshly formatted ESP probes as FAT32.
	esp := r.image[2048*512:]
	assert.True(t, fat32.HasValidFAT32(esp))

	vol, err := fat32.Mount(esp)
	require.NoError(t, err)
	for _, want := range files {
		got, err := vol.ReadFile(want.Path)
		require.NoError(t, err, want.Path)
		assert.True(t, bytes.Equal(want.Data, got), "%s content mismatch", want.Path)
	}

	assert.Contains(t, stages, "partition")
	assert.Contains(t, stages, "format")
	assert.Contains(t, stages, "verify")
	assert.Contains(t, stages, "done")
}

func TestFlashUnknownArchitecture(t *testing.T) {
	r := newRig(t, 64<<20)
	f := New(r.layer, r.fw, nil, nil)
	err := f.Flash(Request{Target: r.target, Image: r.image,
		Payload: testPayload(t, nil), ArchName: "riscv64", Confirm: confirmYes})
	require.Error(t, err)
	var fe *firmware.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, firmware.NotFound, fe.Code)
}

func TestCandidatesExcludeBootDevice(t *testing.T) {
	r := newRig(t, 64<<20)
	f := New(r.layer, r.fw, nil, nil)
	devs, err := f.Candidates()
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.False(t, devs[0].Boot)
	assert.True(t, devs[0].Removable)
}
