package partition

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/levkropp/survival/pkg/guid"
)

// Entry array geometry (§3): 128 entries x 128 bytes = 16 KiB, occupying
// LBA 2..33 (primary) and the 32 LBAs immediately before the backup
// header (backup).
const (
	GPTEntryCount     = 128
	GPTEntrySize      = 128
	GPTEntryArrayLBAs = (GPTEntryCount * GPTEntrySize) / sectorSize // 32
	GPTHeaderSize     = 92
	espFirstLBA       = 2048
)

// GPTLayout is the full on-disk scheme (protective MBR, primary header,
// primary entry array, single ESP entry, backup entry array, backup
// header) for one device, per §3's "GPT layout" and §4.M step 4.
type GPTLayout struct {
	ProtectiveMBR [sectorSize]byte
	PrimaryHeader [sectorSize]byte
	BackupHeader  [sectorSize]byte
	EntryArray    []byte // GPTEntryArrayLBAs*sectorSize bytes, identical for both copies
	LastUsableLBA uint64
	ESPFirstLBA   uint64
	BackupHdrLBA  uint64
	BackupEntLBA  uint64
}

// BuildGPT constructs the layout for a device of totalLBAs sectors.
// diskGUID identifies the disk; espPartGUID is the ESP entry's unique
// partition GUID (its *type* GUID is always guid.ESP, per §3).
func BuildGPT(totalLBAs uint64, diskGUID, espPartGUID guid.GUID) GPTLayout {
	lastLBA := totalLBAs - 1
	backupHeaderLBA := lastLBA
	backupEntriesStart := backupHeaderLBA - GPTEntryArrayLBAs
	lastUsable := backupEntriesStart - 1

	l := GPTLayout{
		LastUsableLBA: lastUsable,
		ESPFirstLBA:   espFirstLBA,
		BackupHdrLBA:  backupHeaderLBA,
		BackupEntLBA:  backupEntriesStart,
	}

	// Protective MBR: single partition entry, type 0xEE, spanning the
	// disk (clamped to the classic MBR's 32-bit sector-count limit).
	pmbr := l.ProtectiveMBR[:]
	pmbr[mbrSignatureOff] = 0x55
	pmbr[mbrSignatureOff+1] = 0xAA
	entry := pmbr[mbrFirstEntryOff : mbrFirstEntryOff+16]
	entry[mbrEntryTypeOff] = gptProtectiveType
	binary.LittleEndian.PutUint32(entry[mbrEntryLBAOff:], 1)
	size := lastLBA
	if size > 0xFFFFFFFF {
		size = 0xFFFFFFFF
	}
	binary.LittleEndian.PutUint32(entry[mbrEntryLBAOff+4:], uint32(size))

	// Single ESP entry, spanning [espFirstLBA, lastUsable].
	entries := make([]byte, GPTEntryArrayLBAs*sectorSize)
	e := entries[0:GPTEntrySize]
	typeGUID := guid.ESP
	copy(e[0:16], typeGUID[:])
	copy(e[16:32], espPartGUID[:])
	binary.LittleEndian.PutUint64(e[32:40], espFirstLBA)
	binary.LittleEndian.PutUint64(e[40:48], lastUsable)
	l.EntryArray = entries

	entCRC := crc32.ChecksumIEEE(entries)

	writeHeader := func(buf []byte, currentLBA, backupLBA, entriesStartLBA uint64) {
		copy(buf[0:8], gptSignature)
		binary.LittleEndian.PutUint32(buf[8:12], 0x00010000) // revision 1.0
		binary.LittleEndian.PutUint32(buf[12:16], GPTHeaderSize)
		binary.LittleEndian.PutUint64(buf[24:32], currentLBA)
		binary.LittleEndian.PutUint64(buf[32:40], backupLBA)
		binary.LittleEndian.PutUint64(buf[40:48], espFirstLBA)
		binary.LittleEndian.PutUint64(buf[48:56], lastUsable)
		copy(buf[56:72], diskGUID[:])
		binary.LittleEndian.PutUint64(buf[72:80], entriesStartLBA)
		binary.LittleEndian.PutUint32(buf[80:84], GPTEntryCount)
		binary.LittleEndian.PutUint32(buf[84:88], GPTEntrySize)
		binary.LittleEndian.PutUint32(buf[88:92], entCRC)
		// HeaderCRC32 is computed last, over the header with its own
		// field zeroed (§3, Testable Property 3), then stamped in.
		hc := HeaderCRC32(buf, GPTHeaderSize)
		binary.LittleEndian.PutUint32(buf[16:20], hc)
	}

	writeHeader(l.PrimaryHeader[:], gptHeaderLBA, backupHeaderLBA, 2)
	writeHeader(l.BackupHeader[:], backupHeaderLBA, gptHeaderLBA, backupEntriesStart)

	return l
}
