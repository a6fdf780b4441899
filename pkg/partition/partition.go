// Package partition implements the partition-table parser (§4.C):
// detecting and parsing protective-MBR+GPT and classic MBR, and
// building/reading the GPT layout described in §3.
package partition

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/levkropp/survival/pkg/bytes"
	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/guid"
)

// Kind identifies which partitioning scheme a device carries.
type Kind int

const (
	// Superfloppy means no partition table is present; the first
	// filesystem starts at LBA 0.
	Superfloppy Kind = iota
	MBR
	GPT
)

// Partition describes one partition table entry.
type Partition struct {
	StartLBA uint64
	SizeLBA  uint64
	TypeGUID guid.GUID // zero for classic MBR entries
	TypeByte byte      // MBR partition type byte; 0 for GPT entries
}

// Table is the full parsed result. spec.md's §4.C algorithm only needs
// partition 0's starting LBA for the boot path; the flasher (M) and
// tooling need the full list, so Table carries both.
type Table struct {
	Kind       Kind
	Partitions []Partition
}

// FirstDataLBA returns partition 0's starting LBA, or 0 for a
// superfloppy, per spec.md's §4.C algorithm.
func (t Table) FirstDataLBA() uint64 {
	if len(t.Partitions) == 0 {
		return 0
	}
	return t.Partitions[0].StartLBA
}

const (
	sectorSize        = 512
	mbrSignatureOff   = 510
	mbrFirstEntryOff  = 446
	mbrEntryTypeOff   = 4
	mbrEntryLBAOff    = 8
	gptProtectiveType = 0xEE
	gptHeaderLBA      = 1
)

// Classic MBR partition type bytes recognized by this module (§4.C step
// 3): FAT32 LBA, FAT32 CHS, and NTFS/exFAT.
const (
	TypeFAT32LBA = 0x0C
	TypeFAT32CHS = 0x0B
	TypeNTFS     = 0x07
)

// ReadSector0 classifies and parses sector 0 alone, sufficient for
// spec.md's §4.C algorithm (it only needs partition 0's starting LBA).
// For the full GPT entry array, use Parse with sectors 1 and 2 as well.
func ReadSector0(sector0 []byte) (Table, error) {
	if len(sector0) < sectorSize {
		return Table{}, firmware.NewError(firmware.BadParameter, "read_sector0")
	}
	if sector0[mbrSignatureOff] != 0x55 || sector0[mbrSignatureOff+1] != 0xAA {
		// Step 1: no 0x55AA signature -> superfloppy.
		return Table{Kind: Superfloppy}, nil
	}
	entryType := sector0[mbrFirstEntryOff+mbrEntryTypeOff]
	startLBA := binary.LittleEndian.Uint32(sector0[mbrFirstEntryOff+mbrEntryLBAOff:])
	switch {
	case entryType == gptProtectiveType:
		// Step 2: protective MBR; caller must supply LBA 1/2 via Parse
		// to get the real GPT partition list. Without them, report the
		// kind only, with an empty partition list.
		return Table{Kind: GPT}, nil
	case entryType == TypeFAT32CHS || entryType == TypeFAT32LBA || entryType == TypeNTFS:
		// Step 3.
		return Table{
			Kind: MBR,
			Partitions: []Partition{{
				StartLBA: uint64(startLBA),
				TypeByte: entryType,
			}},
		}, nil
	default:
		// Step 4: superfloppy fallback.
		return Table{Kind: Superfloppy}, nil
	}
}

// Parse classifies sector 0 and, if it carries a protective MBR, decodes
// the GPT primary header (sector1, at LBA 1) and primary entry array
// (entryArray, the LBA-indicated array of 128-byte entries) into a full
// Table. This is the §4.C algorithm generalized to expose every
// partition, as the flasher's self-verify step (Scenario 4) and a
// future inspection tool both need.
func Parse(sector0, sector1, entryArray []byte) (Table, error) {
	t, err := ReadSector0(sector0)
	if err != nil {
		return Table{}, err
	}
	if t.Kind != GPT {
		return t, nil
	}
	hdr, err := ParseGPTHeader(sector1)
	if err != nil {
		return Table{}, err
	}
	entries, err := ParseGPTEntries(entryArray, hdr)
	if err != nil {
		return Table{}, err
	}
	return Table{Kind: GPT, Partitions: entries}, nil
}

// GPTHeader is the decoded subset of the GPT primary/backup header (§3)
// needed to locate and validate the entry array.
type GPTHeader struct {
	Signature        [8]byte
	Revision         uint32
	HeaderSize       uint32
	HeaderCRC32      uint32
	CurrentLBA       uint64
	BackupLBA        uint64
	FirstUsableLBA   uint64
	LastUsableLBA    uint64
	DiskGUID         guid.GUID
	EntriesStartLBA  uint64
	NumEntries       uint32
	EntrySize        uint32
	EntryArrayCRC32  uint32
}

const gptSignature = "EFI PART"

// ParseGPTHeader decodes and validates a 512-byte GPT header sector
// (§4.C step 2: "confirm signature EFI PART").
func ParseGPTHeader(sector []byte) (GPTHeader, error) {
	if len(sector) < 92 {
		return GPTHeader{}, firmware.NewError(firmware.BadParameter, "parse_gpt_header")
	}
	var h GPTHeader
	copy(h.Signature[:], sector[0:8])
	if string(h.Signature[:]) != gptSignature {
		return GPTHeader{}, firmware.NewError(firmware.DeviceError, "parse_gpt_header")
	}
	h.Revision = binary.LittleEndian.Uint32(sector[8:12])
	h.HeaderSize = binary.LittleEndian.Uint32(sector[12:16])
	h.HeaderCRC32 = binary.LittleEndian.Uint32(sector[16:20])
	h.CurrentLBA = binary.LittleEndian.Uint64(sector[24:32])
	h.BackupLBA = binary.LittleEndian.Uint64(sector[32:40])
	h.FirstUsableLBA = binary.LittleEndian.Uint64(sector[40:48])
	h.LastUsableLBA = binary.LittleEndian.Uint64(sector[48:56])
	copy(h.DiskGUID[:], sector[56:72])
	h.EntriesStartLBA = binary.LittleEndian.Uint64(sector[72:80])
	h.NumEntries = binary.LittleEndian.Uint32(sector[80:84])
	h.EntrySize = binary.LittleEndian.Uint32(sector[84:88])
	h.EntryArrayCRC32 = binary.LittleEndian.Uint32(sector[88:92])
	return h, nil
}

// ParseGPTEntries decodes hdr.NumEntries entries of hdr.EntrySize bytes
// each from entryArray, skipping unused (all-zero type GUID) slots.
func ParseGPTEntries(entryArray []byte, hdr GPTHeader) ([]Partition, error) {
	if hdr.EntrySize == 0 {
		return nil, firmware.NewError(firmware.BadParameter, "parse_gpt_entries")
	}
	need := int(hdr.NumEntries) * int(hdr.EntrySize)
	if len(entryArray) < need {
		return nil, firmware.NewError(firmware.BadParameter, "parse_gpt_entries")
	}
	var out []Partition
	for i := uint32(0); i < hdr.NumEntries; i++ {
		e := entryArray[int(i)*int(hdr.EntrySize) : int(i+1)*int(hdr.EntrySize)]
		var typeGUID guid.GUID
		copy(typeGUID[:], e[0:16])
		if typeGUID.IsZero() {
			continue
		}
		first := binary.LittleEndian.Uint64(e[32:40])
		last := binary.LittleEndian.Uint64(e[40:48])
		out = append(out, Partition{
			StartLBA: first,
			SizeLBA:  last - first + 1,
			TypeGUID: typeGUID,
		})
	}
	return out, nil
}

// Validate checks a parsed GPT table against a disk of totalLBAs
// sectors: every partition must lie inside the disk, and no partition
// may overlap another or the GPT metadata regions (protective MBR +
// primary header/entries at the front, backup entries/header at the
// back). The flasher's self-verify step runs this on what it just
// wrote.
func (t Table) Validate(totalLBAs uint64) error {
	regions := bytes.Ranges{}
	if t.Kind == GPT {
		regions = append(regions,
			bytes.Range{Offset: 0, Length: 2 + GPTEntryArrayLBAs},
			bytes.Range{Offset: totalLBAs - 1 - GPTEntryArrayLBAs, Length: 1 + GPTEntryArrayLBAs},
		)
	}
	for _, p := range t.Partitions {
		r := bytes.Range{Offset: p.StartLBA, Length: p.SizeLBA}
		if r.End() > totalLBAs {
			return firmware.NewError(firmware.BadParameter,
				fmt.Sprintf("validate: partition [%d, %d) extends past the disk", p.StartLBA, r.End()))
		}
		regions = append(regions, r)
	}
	if a, b, overlap := regions.Overlapping(); overlap {
		return firmware.NewError(firmware.BadParameter,
			fmt.Sprintf("validate: regions [%d, %d) and [%d, %d) overlap", a.Offset, a.End(), b.Offset, b.End()))
	}
	return nil
}

// HeaderCRC32 computes the GPT header's CRC32 over the first headerSize
// bytes of sector with the CRC field (bytes 16..20) zeroed, exactly as
// §3 and Testable Property 3 require: "computed with its own CRC32 field
// zeroed".
func HeaderCRC32(sector []byte, headerSize int) uint32 {
	buf := make([]byte, headerSize)
	copy(buf, sector[:headerSize])
	binary.LittleEndian.PutUint32(buf[16:20], 0)
	return crc32.ChecksumIEEE(buf)
}

// EntryArrayCRC32 computes the CRC32 over the full entry array, "over
// all 128 entries" per §3 regardless of how many are actually in use.
func EntryArrayCRC32(entryArray []byte) uint32 {
	return crc32.ChecksumIEEE(entryArray)
}
