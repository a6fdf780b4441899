// Package arm64 is the ARM64 backend for the FIRMWARE_BINARY output
// path. It emits pre-assembled 32-bit opcode words directly — there is
// no textual assembler on this architecture, only this word emitter —
// and it unconditionally uses the two-instruction indirect pattern
//
//	adrp Xn, :got:sym ; ldr Xn, [Xn, :got_lo12:sym]
//
// for every external address load. The firmware binary format has no
// indirect-address table, so the linker relaxes each pair into a direct
// page computation via pkg/cc/relax (§4.I).
package arm64

import (
	"encoding/binary"
	"fmt"

	"github.com/levkropp/survival/pkg/cc/ir"
)

// maxRegParams: arguments beyond the first four would need outgoing
// stack slots, which this backend does not lay out.
const maxRegParams = 4

// Backend implements ir.Backend.
type Backend struct{}

// Name implements ir.Backend.
func (Backend) Name() string { return "arm64" }

// Emit implements ir.Backend.
func (Backend) Emit(m *ir.Module) (*ir.Object, error) {
	e := &emitter{
		obj: &ir.Object{
			CodeSyms: make(map[string]uint32),
			DataSyms: make(map[string]uint32),
		},
	}
	e.layoutData(m)
	for _, name := range m.Order {
		fn := m.Funcs[name]
		if fn.Insts == nil {
			continue
		}
		if err := e.emitFunc(fn); err != nil {
			return nil, fmt.Errorf("arm64: %s: %w", name, err)
		}
	}
	return e.obj, nil
}

type emitter struct {
	obj *ir.Object
}

func (e *emitter) layoutData(m *ir.Module) {
	for i, s := range m.Strings {
		e.alignData(8)
		e.obj.DataSyms[stringSym(i)] = uint32(len(e.obj.Data))
		e.obj.Data = append(e.obj.Data, s...)
	}
	for _, g := range m.Globals {
		e.alignData(8)
		e.obj.DataSyms[g.Name] = uint32(len(e.obj.Data))
		buf := make([]byte, g.Size)
		copy(buf, g.Init)
		e.obj.Data = append(e.obj.Data, buf...)
	}
}

func (e *emitter) alignData(n int) {
	for len(e.obj.Data)%n != 0 {
		e.obj.Data = append(e.obj.Data, 0)
	}
}

func stringSym(i int) string { return fmt.Sprintf("$str%d", i) }

func (e *emitter) word(w uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], w)
	e.obj.Code = append(e.obj.Code, b[:]...)
}

func (e *emitter) here() uint32 { return uint32(len(e.obj.Code)) }

// Value-stack helpers: 16-byte slots keep SP aligned per the AAPCS64
// requirement that SP is 16-byte aligned at all times.

// pushX0: str x0, [sp, #-16]!
func (e *emitter) pushX0() { e.word(0xF81F0FE0) }

// popX: ldr xN, [sp], #16
func (e *emitter) popX(n uint32) { e.word(0xF84107E0 | n) }

// movImm materializes a 64-bit immediate into x0 via movz/movk.
func (e *emitter) movImm(v int64) {
	u := uint64(v)
	e.word(0xD2800000 | uint32(u&0xFFFF)<<5) // movz x0, #lo16
	for hw := uint32(1); hw < 4; hw++ {
		chunk := uint32((u >> (16 * hw)) & 0xFFFF)
		if chunk != 0 {
			e.word(0xF2800000 | hw<<21 | chunk<<5) // movk x0, #chunk, lsl #16*hw
		}
	}
}

// gotLoad emits the indirect address-load pair for sym into x0, with the
// two GOT relocations the relaxation pass rewrites.
func (e *emitter) gotLoad(sym string) {
	e.obj.Relocs = append(e.obj.Relocs, ir.Reloc{
		Offset: e.here(), Kind: ir.RelocAdrPageGOT, Sym: sym,
	})
	e.word(0x90000000) // adrp x0, :got:sym
	e.obj.Relocs = append(e.obj.Relocs, ir.Reloc{
		Offset: e.here(), Kind: ir.RelocLdrLo12GOT, Sym: sym,
	})
	e.word(0xF9400000) // ldr x0, [x0, :got_lo12:sym]
}

func (e *emitter) emitFunc(fn *ir.Func) error {
	if fn.NumParams > maxRegParams {
		return fmt.Errorf("more than %d parameters not supported", maxRegParams)
	}
	e.obj.CodeSyms[fn.Name] = e.here()

	frame := 16 * ((fn.NumLocals*8 + 15) / 16)
	if frame > 4095 {
		return fmt.Errorf("frame too large")
	}

	e.word(0xA9BF7BFD) // stp x29, x30, [sp, #-16]!
	e.word(0x910003FD) // mov x29, sp
	if frame > 0 {
		e.word(0xD10003FF | uint32(frame)<<10) // sub sp, sp, #frame
	}
	// Home incoming parameters: stur xI, [x29, #-(8*(i+1))]
	for i := 0; i < fn.NumParams; i++ {
		off := uint32(-(8 * (i + 1))) & 0x1FF
		e.word(0xF8000000 | off<<12 | 29<<5 | uint32(i))
	}

	offsets := make([]uint32, len(fn.Insts)+1)
	type fixup struct {
		at     uint32
		target int
		cbz    bool // 19-bit conditional form vs 26-bit b
	}
	var fixups []fixup

	for idx, in := range fn.Insts {
		offsets[idx] = e.here()
		switch in.Op {
		case ir.OpConst:
			e.movImm(in.A)
			e.pushX0()

		case ir.OpString:
			e.gotLoad(stringSym(int(in.A)))
			e.pushX0()

		case ir.OpGlobalAddr:
			e.gotLoad(in.Sym)
			e.pushX0()

		case ir.OpLocalAddr:
			off := uint32(8 * (in.A + 1))
			e.word(0xD1000000 | off<<10 | 29<<5 | 0) // sub x0, x29, #off
			e.pushX0()

		case ir.OpLoad:
			e.popX(0)
			if in.Size == 1 {
				e.word(0x39400000) // ldrb w0, [x0]
			} else {
				e.word(0xF9400000) // ldr x0, [x0]
			}
			e.pushX0()

		case ir.OpStore:
			e.popX(1) // address
			e.popX(0) // value
			if in.Size == 1 {
				e.word(0x39000020) // strb w0, [x1]
			} else {
				e.word(0xF9000020) // str x0, [x1]
			}

		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
			ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
			e.popX(1)
			e.popX(0)
			switch in.Op {
			case ir.OpAdd:
				e.word(0x8B010000) // add x0, x0, x1
			case ir.OpSub:
				e.word(0xCB010000) // sub x0, x0, x1
			case ir.OpMul:
				e.word(0x9B017C00) // mul x0, x0, x1
			case ir.OpDiv:
				e.word(0x9AC10C00) // sdiv x0, x0, x1
			case ir.OpMod:
				e.word(0x9AC10C02) // sdiv x2, x0, x1
				e.word(0x9B018040) // msub x0, x2, x1, x0
			case ir.OpAnd:
				e.word(0x8A010000) // and x0, x0, x1
			case ir.OpOr:
				e.word(0xAA010000) // orr x0, x0, x1
			case ir.OpXor:
				e.word(0xCA010000) // eor x0, x0, x1
			case ir.OpShl:
				e.word(0x9AC12000) // lsl x0, x0, x1
			case ir.OpShr:
				e.word(0x9AC12800) // asr x0, x0, x1
			}
			e.pushX0()

		case ir.OpNeg:
			e.popX(0)
			e.word(0xCB0003E0) // neg x0, x0
			e.pushX0()

		case ir.OpBitNot:
			e.popX(0)
			e.word(0xAA2003E0) // mvn x0, x0
			e.pushX0()

		case ir.OpLogNot:
			e.popX(0)
			e.word(0xF100001F) // cmp x0, #0
			e.cset(condEQ)
			e.pushX0()

		case ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
			e.popX(1)
			e.popX(0)
			e.word(0xEB01001F) // cmp x0, x1
			e.cset(map[ir.Op]uint32{
				ir.OpEq: condEQ, ir.OpNe: condNE,
				ir.OpLt: condLT, ir.OpLe: condLE,
				ir.OpGt: condGT, ir.OpGe: condGE,
			}[in.Op])
			e.pushX0()

		case ir.OpJmp:
			fixups = append(fixups, fixup{at: e.here(), target: int(in.A)})
			e.word(0x14000000) // b

		case ir.OpJz:
			e.popX(0)
			fixups = append(fixups, fixup{at: e.here(), target: int(in.A), cbz: true})
			e.word(0xB4000000) // cbz x0
		case ir.OpJnz:
			e.popX(0)
			fixups = append(fixups, fixup{at: e.here(), target: int(in.A), cbz: true})
			e.word(0xB5000000) // cbnz x0

		case ir.OpCall:
			n := int(in.A)
			if n > maxRegParams {
				return fmt.Errorf("call to %s: more than %d arguments not supported", in.Sym, maxRegParams)
			}
			for i := n - 1; i >= 0; i-- {
				e.popX(uint32(i))
			}
			e.obj.Relocs = append(e.obj.Relocs, ir.Reloc{
				Offset: e.here(), Kind: ir.RelocCall26, Sym: in.Sym,
			})
			e.word(0x94000000) // bl
			e.pushX0()

		case ir.OpRet:
			e.popX(0)
			e.word(0x910003BF) // mov sp, x29
			e.word(0xA8C17BFD) // ldp x29, x30, [sp], #16
			e.word(0xD65F03C0) // ret

		case ir.OpDrop:
			e.popX(0)

		case ir.OpDup:
			e.popX(0)
			e.pushX0()
			e.pushX0()

		default:
			return fmt.Errorf("unhandled op %d", in.Op)
		}
	}
	offsets[len(fn.Insts)] = e.here()

	// Implicit `return 0` for functions that fall off the end.
	e.word(0xD2800000) // movz x0, #0
	e.word(0x910003BF) // mov sp, x29
	e.word(0xA8C17BFD) // ldp x29, x30, [sp], #16
	e.word(0xD65F03C0) // ret

	for _, f := range fixups {
		delta := int32(offsets[f.target]) - int32(f.at)
		w := binary.LittleEndian.Uint32(e.obj.Code[f.at : f.at+4])
		if f.cbz {
			w |= (uint32(delta/4) & 0x7FFFF) << 5
		} else {
			w |= uint32(delta/4) & 0x03FFFFFF
		}
		binary.LittleEndian.PutUint32(e.obj.Code[f.at:f.at+4], w)
	}
	return nil
}

// Condition codes for cset.
const (
	condEQ uint32 = 0x0
	condNE uint32 = 0x1
	condGE uint32 = 0xA
	condLT uint32 = 0xB
	condGT uint32 = 0xC
	condLE uint32 = 0xD
)

// cset x0, cond — encoded as csinc x0, xzr, xzr, invert(cond).
func (e *emitter) cset(cond uint32) {
	e.word(0x9A9F07E0 | (cond^1)<<12)
}

var _ ir.Backend = Backend{}
