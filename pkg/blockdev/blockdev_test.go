package blockdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/firmware/simfw"
)

func TestEnumerateMasksBootDevice(t *testing.T) {
	fw := simfw.New(nil)
	bootH := fw.AddDisk("Disk 0", false, true, 512, make([]byte, 1<<20))
	usbH := fw.AddDisk("USB 0", true, false, 512, make([]byte, 1<<20))

	l := New(fw, bootH)
	devs, err := l.Enumerate(0)
	require.NoError(t, err)
	require.Len(t, devs, 2)

	for _, d := range devs {
		if d.Handle == bootH {
			assert.True(t, d.Boot)
		}
		if d.Handle == usbH {
			assert.False(t, d.Boot)
		}
	}
	assert.True(t, l.IsBootDevice(bootH))
	assert.False(t, l.IsBootDevice(usbH))
}

func TestWriteBlocksRefusesBootDevice(t *testing.T) {
	fw := simfw.New(nil)
	bootH := fw.AddDisk("Disk 0", false, true, 512, make([]byte, 4096))
	l := New(fw, bootH)

	devs, err := l.Enumerate(0)
	require.NoError(t, err)
	require.Len(t, devs, 1)

	err = l.WriteBlocks(fw, devs[0], 0, 1, make([]byte, 512))
	require.Error(t, err)
}

func TestReadWriteBlocksRoundTrip(t *testing.T) {
	fw := simfw.New(nil)
	usbH := fw.AddDisk("USB 0", true, false, 512, make([]byte, 4096))
	l := New(fw, firmware.NoHandle)

	devs, err := l.Enumerate(0)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	require.Equal(t, usbH, devs[0].Handle)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, l.WriteBlocks(fw, devs[0], 1, 1, payload))
	require.NoError(t, l.Flush(fw, devs[0]))

	got := make([]byte, 512)
	require.NoError(t, l.ReadBlocks(fw, devs[0], 1, 1, got))
	assert.Equal(t, payload, got)
}
