// Package relax implements the ARM64 relocation-relaxation pass (§4.I):
// when the linker encounters the code generator's unconditional
// two-instruction indirect pattern
//
//	adrp Xn, :got:sym
//	ldr  Xn, [Xn, :got_lo12:sym]
//
// and no indirect-address table has been materialized (the firmware
// binary format has no analog of one), the pair is rewritten into a
// direct PC-relative address computation:
//
//	adrp Xn, sym
//	add  Xn, Xn, #:lo12:sym
//
// The pass operates on raw 32-bit instruction words so it is testable in
// isolation against synthetic encodings (Testable Property 8), without a
// full link.
package relax

import "fmt"

// OverflowError is returned when a symbol lies outside the
// signed-21-bit page range an ADRP immediate can express from the
// relocation site.
type OverflowError struct {
	PC     uint64
	Target uint64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("relax: page offset from %#x to %#x overflows the signed 21-bit ADRP range", e.PC, e.Target)
}

const (
	adrpOpMask  = 0x9F000000
	adrpOpBits  = 0x90000000
	ldr64OpMask = 0xFFC00000
	ldr64OpBits = 0xF9400000
	add64OpBits = 0x91000000
)

// AdrPage rewrites the ADRP instruction word at address pc so that its
// destination register receives the page containing target, instead of
// the page of the (absent) table entry the original immediate encoded.
// Register identity is preserved. Returns an *OverflowError when the
// page offset does not fit the instruction's signed 21-bit immediate.
func AdrPage(inst uint32, pc, target uint64) (uint32, error) {
	if inst&adrpOpMask != adrpOpBits {
		return 0, fmt.Errorf("relax: %#08x is not an ADRP instruction", inst)
	}
	pages := int64(target>>12) - int64(pc>>12)
	if pages < -(1<<20) || pages >= 1<<20 {
		return 0, &OverflowError{PC: pc, Target: target}
	}
	imm := uint32(pages) & 0x1FFFFF
	immlo := imm & 0x3
	immhi := (imm >> 2) & 0x7FFFF
	rd := inst & 0x1F
	return adrpOpBits | immlo<<29 | immhi<<5 | rd, nil
}

// LdrToAdd rewrites the LDR-from-table instruction into an ADD-immediate
// producing the low 12 bits of target: the destination register (bits
// 0..4) and source register (bits 5..9) are extracted, the LDR opcode is
// cleared, the ADD-immediate opcode is stamped, and target's low 12 bits
// are shifted into the immediate field at bits 10..21.
func LdrToAdd(inst uint32, target uint64) (uint32, error) {
	if inst&ldr64OpMask != ldr64OpBits {
		return 0, fmt.Errorf("relax: %#08x is not a 64-bit LDR (unsigned immediate) instruction", inst)
	}
	rd := inst & 0x1F
	rn := (inst >> 5) & 0x1F
	imm12 := uint32(target & 0xFFF)
	return add64OpBits | imm12<<10 | rn<<5 | rd, nil
}

// Pair relaxes one (adrp, ldr) pair in place inside code. adrpOff and
// ldrOff are byte offsets of the two instruction words; pc is the
// runtime address of the ADRP; target is the symbol's resolved value.
func Pair(code []byte, adrpOff, ldrOff int, pc, target uint64) error {
	adrp := leWord(code[adrpOff:])
	ldr := leWord(code[ldrOff:])
	newAdrp, err := AdrPage(adrp, pc, target)
	if err != nil {
		return err
	}
	newAdd, err := LdrToAdd(ldr, target)
	if err != nil {
		return err
	}
	putLEWord(code[adrpOff:], newAdrp)
	putLEWord(code[ldrOff:], newAdd)
	return nil
}

func leWord(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLEWord(b []byte, w uint32) {
	b[0] = byte(w)
	b[1] = byte(w >> 8)
	b[2] = byte(w >> 16)
	b[3] = byte(w >> 24)
}
