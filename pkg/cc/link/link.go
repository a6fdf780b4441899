// Package link writes the firmware binary format (§6): a
// Portable-Executable-compatible PE32+ image with the firmware
// application subsystem tag (10), image base 0, preserved relocations,
// and entry point symbol efi_main. It resolves the backend's
// relocations; on ARM64 every GOT-indirect pair is relaxed into a
// direct address computation via pkg/cc/relax, since the format
// materializes no indirect-address table.
package link

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/levkropp/survival/pkg/cc/ir"
	"github.com/levkropp/survival/pkg/cc/relax"
)

// Machine types.
const (
	machineAMD64 = 0x8664
	machineARM64 = 0xAA64
)

// SubsystemEFIApplication is the firmware-application subsystem tag.
const SubsystemEFIApplication = 10

// DefaultEntry is the firmware entry point symbol name.
const DefaultEntry = "efi_main"

const (
	sectionAlign = 0x1000
	fileAlign    = 0x200
	peOffset     = 0x80
	optHdrSize   = 240
	numSections  = 3
)

// Options selects the target architecture and entry symbol.
type Options struct {
	Arch  string // "amd64" or "arm64"
	Entry string // defaults to DefaultEntry
}

// Write lays out and returns the complete image for obj.
func Write(obj *ir.Object, opts Options) ([]byte, error) {
	var machine uint16
	switch opts.Arch {
	case "amd64":
		machine = machineAMD64
	case "arm64":
		machine = machineARM64
	default:
		return nil, fmt.Errorf("link: unsupported architecture %q", opts.Arch)
	}
	entry := opts.Entry
	if entry == "" {
		entry = DefaultEntry
	}

	code := make([]byte, len(obj.Code))
	copy(code, obj.Code)
	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)

	headersSize := alignUp(peOffset+4+20+optHdrSize+numSections*40, fileAlign)
	textRVA := uint32(sectionAlign)
	dataRVA := alignUp32(textRVA+uint32(len(code)), sectionAlign)
	if len(code) == 0 {
		dataRVA = textRVA + sectionAlign
	}

	// Symbol resolution: code symbols live in .text, data symbols in
	// .data. Image base is 0, so RVA == VA.
	resolve := func(sym string) (uint32, bool) {
		if off, ok := obj.CodeSyms[sym]; ok {
			return textRVA + off, true
		}
		if off, ok := obj.DataSyms[sym]; ok {
			return dataRVA + off, true
		}
		return 0, false
	}

	entryRVA, ok := resolve(entry)
	if !ok {
		return nil, fmt.Errorf("link: entry symbol %q not defined", entry)
	}

	var absFixups []uint32 // RVAs needing DIR64 base relocations
	ldrBySymOffset := make(map[uint32]ir.Reloc)
	for _, r := range obj.Relocs {
		if r.Kind == ir.RelocLdrLo12GOT {
			ldrBySymOffset[r.Offset] = r
		}
	}

	for _, r := range obj.Relocs {
		target, ok := resolve(r.Sym)
		if !ok {
			return nil, fmt.Errorf("link: relocation against undefined symbol %q", r.Sym)
		}
		v := uint64(target) + uint64(r.Addend)
		p := textRVA + r.Offset
		switch r.Kind {
		case ir.RelocPCRel32:
			rel := int64(v) - int64(p) - 4
			if rel < -(1<<31) || rel >= 1<<31 {
				return nil, fmt.Errorf("link: %s: PC-relative offset overflows 32 bits", r.Sym)
			}
			binary.LittleEndian.PutUint32(code[r.Offset:], uint32(int32(rel)))

		case ir.RelocAbs64:
			binary.LittleEndian.PutUint64(code[r.Offset:], v)
			absFixups = append(absFixups, p)

		case ir.RelocCall26:
			delta := int64(v) - int64(p)
			if delta < -(1<<27) || delta >= 1<<27 {
				return nil, fmt.Errorf("link: %s: branch offset overflows 26 bits", r.Sym)
			}
			w := binary.LittleEndian.Uint32(code[r.Offset:])
			w |= uint32(delta/4) & 0x03FFFFFF
			binary.LittleEndian.PutUint32(code[r.Offset:], w)

		case ir.RelocAdrPageGOT:
			// No GOT is materialized: relax the (adrp, ldr) pair into a
			// direct page computation (§4.I). The matching LDR relocation
			// is always emitted for the word immediately following.
			ldr, ok := ldrBySymOffset[r.Offset+4]
			if !ok || ldr.Sym != r.Sym {
				return nil, fmt.Errorf("link: %s: ADR_PAGE_GOT at %#x without matching LDR_LO12_GOT", r.Sym, r.Offset)
			}
			if err := relax.Pair(code, int(r.Offset), int(r.Offset+4), uint64(p), v); err != nil {
				return nil, fmt.Errorf("link: %s: %w", r.Sym, err)
			}

		case ir.RelocLdrLo12GOT:
			// Handled together with its ADR_PAGE_GOT partner.

		default:
			return nil, fmt.Errorf("link: unknown relocation kind %d", r.Kind)
		}
	}

	relocSec := buildRelocSection(absFixups, textRVA)
	relocRVA := alignUp32(dataRVA+uint32(len(data)), sectionAlign)
	if len(data) == 0 {
		relocRVA = dataRVA + sectionAlign
	}
	sizeOfImage := alignUp32(relocRVA+uint32(len(relocSec)), sectionAlign)

	textFileOff := uint32(headersSize)
	textFileSize := alignUp32(uint32(len(code)), fileAlign)
	dataFileOff := textFileOff + textFileSize
	dataFileSize := alignUp32(uint32(len(data)), fileAlign)
	relocFileOff := dataFileOff + dataFileSize
	relocFileSize := alignUp32(uint32(len(relocSec)), fileAlign)

	img := make([]byte, relocFileOff+relocFileSize)

	// DOS header: e_magic plus the file offset of the PE signature.
	copy(img[0:2], "MZ")
	binary.LittleEndian.PutUint32(img[0x3C:], peOffset)

	// PE signature and COFF header.
	o := peOffset
	copy(img[o:], "PE\x00\x00")
	o += 4
	binary.LittleEndian.PutUint16(img[o:], machine)
	binary.LittleEndian.PutUint16(img[o+2:], numSections)
	binary.LittleEndian.PutUint16(img[o+16:], optHdrSize)
	// Characteristics: executable image, large-address aware. The
	// relocations-stripped bit stays clear: relocations are preserved.
	binary.LittleEndian.PutUint16(img[o+18:], 0x0022)
	o += 20

	// Optional header, PE32+.
	binary.LittleEndian.PutUint16(img[o:], 0x20B)
	binary.LittleEndian.PutUint32(img[o+4:], alignUp32(uint32(len(code)), fileAlign))    // SizeOfCode
	binary.LittleEndian.PutUint32(img[o+8:], alignUp32(uint32(len(data)), fileAlign))    // SizeOfInitializedData
	binary.LittleEndian.PutUint32(img[o+16:], entryRVA)                                  // AddressOfEntryPoint
	binary.LittleEndian.PutUint32(img[o+20:], textRVA)                                   // BaseOfCode
	binary.LittleEndian.PutUint64(img[o+24:], 0)                                         // ImageBase = 0
	binary.LittleEndian.PutUint32(img[o+32:], sectionAlign)
	binary.LittleEndian.PutUint32(img[o+36:], fileAlign)
	binary.LittleEndian.PutUint16(img[o+48:], 1) // MajorSubsystemVersion
	binary.LittleEndian.PutUint32(img[o+56:], sizeOfImage)
	binary.LittleEndian.PutUint32(img[o+60:], uint32(headersSize))
	binary.LittleEndian.PutUint16(img[o+68:], SubsystemEFIApplication)
	binary.LittleEndian.PutUint64(img[o+72:], 0x100000) // SizeOfStackReserve
	binary.LittleEndian.PutUint64(img[o+80:], 0x1000)   // SizeOfStackCommit
	binary.LittleEndian.PutUint64(img[o+88:], 0x100000) // SizeOfHeapReserve
	binary.LittleEndian.PutUint64(img[o+96:], 0x1000)   // SizeOfHeapCommit
	binary.LittleEndian.PutUint32(img[o+108:], 16)      // NumberOfRvaAndSizes
	// Data directory 5: base relocation table.
	binary.LittleEndian.PutUint32(img[o+112+5*8:], relocRVA)
	binary.LittleEndian.PutUint32(img[o+112+5*8+4:], uint32(len(relocSec)))
	o += optHdrSize

	writeSection := func(name string, rva, vsize, fileOff, fileSize, flags uint32) {
		copy(img[o:o+8], name)
		binary.LittleEndian.PutUint32(img[o+8:], vsize)
		binary.LittleEndian.PutUint32(img[o+12:], rva)
		binary.LittleEndian.PutUint32(img[o+16:], fileSize)
		binary.LittleEndian.PutUint32(img[o+20:], fileOff)
		binary.LittleEndian.PutUint32(img[o+36:], flags)
		o += 40
	}
	// .text must be executable (§6): code | execute | read.
	writeSection(".text", textRVA, uint32(len(code)), textFileOff, textFileSize, 0x60000020)
	// .data: initialized data | read | write.
	writeSection(".data", dataRVA, uint32(len(data)), dataFileOff, dataFileSize, 0xC0000040)
	// .reloc: initialized data | read | discardable.
	writeSection(".reloc", relocRVA, uint32(len(relocSec)), relocFileOff, relocFileSize, 0x42000040)

	copy(img[textFileOff:], code)
	copy(img[dataFileOff:], data)
	copy(img[relocFileOff:], relocSec)
	return img, nil
}

// buildRelocSection emits the base-relocation table: one block per 4 KiB
// page, each entry a 16-bit (type<<12 | pageOffset) with type DIR64.
// With no absolute fixups it still emits one empty block so the table is
// present (relocations preserved, not stripped).
func buildRelocSection(fixups []uint32, textRVA uint32) []byte {
	const dir64 = 10
	byPage := make(map[uint32][]uint16)
	for _, rva := range fixups {
		page := rva &^ 0xFFF
		byPage[page] = append(byPage[page], uint16(dir64<<12|rva&0xFFF))
	}
	if len(byPage) == 0 {
		byPage[textRVA] = nil
	}
	pages := make([]uint32, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	var out []byte
	for _, page := range pages {
		entries := byPage[page]
		if len(entries)%2 != 0 {
			entries = append(entries, 0) // pad to 4-byte block size
		}
		block := make([]byte, 8+2*len(entries))
		binary.LittleEndian.PutUint32(block[0:], page)
		binary.LittleEndian.PutUint32(block[4:], uint32(len(block)))
		for i, e := range entries {
			binary.LittleEndian.PutUint16(block[8+2*i:], e)
		}
		out = append(out, block...)
	}
	return out
}

func alignUp(v, a int) int        { return (v + a - 1) / a * a }
func alignUp32(v, a uint32) uint32 { return (v + a - 1) / a * a }
