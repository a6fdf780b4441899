// Package amd64 is the x86_64 backend for the FIRMWARE_BINARY output
// path: it lowers pkg/cc/ir modules into x86-64 machine code using the
// Microsoft x64 calling convention firmware applications run under
// (args in RCX/RDX/R8/R9, 32-byte shadow space, return in RAX).
//
// The code generator maps the IR's virtual value stack directly onto the
// hardware stack. External address loads use RIP-relative LEA, which is
// directly addressable — no indirect-table pattern is ever emitted, so
// no relocation relaxation is required on this architecture (§4.I).
package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/levkropp/survival/pkg/cc/ir"
)

// maxRegParams is the number of register-passed parameters the
// convention defines; this backend additionally spills call arguments
// beyond it to the outgoing stack area.
const maxRegParams = 4

// Backend implements ir.Backend.
type Backend struct{}

// Name implements ir.Backend.
func (Backend) Name() string { return "amd64" }

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
			continue // prototype only; the linker resolves it or reports it missing
		}
		if err := e.emitFunc(fn); err != nil {
			return nil, fmt.Errorf("amd64: %s: %w", name, err)
		}
	}
	return e.obj, nil
}

type emitter struct {
	obj *ir.Object
}

// layoutData places string-pool entries and globals into the data
// section, 8-byte aligned, recording their symbols.
func (e *emitter) layoutData(m *ir.Module) {
	for i, s := range m.Strings {
		e.align(8)
		e.obj.DataSyms[stringSym(i)] = uint32(len(e.obj.Data))
		e.obj.Data = append(e.obj.Data, s...)
	}
	for _, g := range m.Globals {
		e.align(8)
		e.obj.DataSyms[g.Name] = uint32(len(e.obj.Data))
		buf := make([]byte, g.Size)
		copy(buf, g.Init)
		e.obj.Data = append(e.obj.Data, buf...)
	}
}

func (e *emitter) align(n int) {
	for len(e.obj.Data)%n != 0 {
		e.obj.Data = append(e.obj.Data, 0)
	}
}

func stringSym(i int) string { return fmt.Sprintf("$str%d", i) }

func (e *emitter) code(b ...byte) { e.obj.Code = append(e.obj.Code, b...) }

func (e *emitter) imm32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.code(b[:]...)
}

func (e *emitter) imm64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.code(b[:]...)
}

func (e *emitter) here() uint32 { return uint32(len(e.obj.Code)) }

func (e *emitter) emitFunc(fn *ir.Func) error {
	if fn.NumParams > maxRegParams {
		return fmt.Errorf("more than %d parameters not supported", maxRegParams)
	}
	e.obj.CodeSyms[fn.Name] = e.here()

	// Frame: local slot i lives at [rbp - 8*(i+1)], plus an argument
	// spill area above the locals used when materializing call
	// arguments (see opCall).
	maxArgs := 0
	for _, in := range fn.Insts {
		if in.Op == ir.OpCall && int(in.A) > maxArgs {
			maxArgs = int(in.A)
		}
	}
	frame := 8 * (fn.NumLocals + maxArgs)
	if frame%16 != 0 {
		frame += 8
	}

	e.code(0x55)             // push rbp
	e.code(0x48, 0x89, 0xE5) // mov rbp, rsp
	if frame > 0 {
		e.code(0x48, 0x81, 0xEC) // sub rsp, imm32
		e.imm32(int32(frame))
	}
	// Home incoming register parameters into their local slots.
	paramStores := [][]byte{
		{0x48, 0x89, 0x8D}, // mov [rbp+d32], rcx
		{0x48, 0x89, 0x95}, // mov [rbp+d32], rdx
		{0x4C, 0x89, 0x85}, // mov [rbp+d32], r8
		{0x4C, 0x89, 0x8D}, // mov [rbp+d32], r9
	}
	for i := 0; i < fn.NumParams; i++ {
		e.code(paramStores[i]...)
		e.imm32(localDisp(i))
	}

	// Two-pass emission: record each IR instruction's code offset, then
	// patch branch displacements.
	offsets := make([]uint32, len(fn.Insts)+1)
	type fixup struct {
		at     uint32 // offset of the rel32 field
		target int    // IR instruction index
	}
	var fixups []fixup

	spillBase := fn.NumLocals // first spill slot index

	for idx, in := range fn.Insts {
		offsets[idx] = e.here()
		switch in.Op {
		case ir.OpConst:
			e.code(0x48, 0xB8) // mov rax, imm64
			e.imm64(in.A)
			e.push(rax)

		case ir.OpString:
			e.leaRIP(stringSym(int(in.A)))
			e.push(rax)

		case ir.OpGlobalAddr:
			e.leaRIP(in.Sym)
			e.push(rax)

		case ir.OpLocalAddr:
			e.code(0x48, 0x8D, 0x85) // lea rax, [rbp+d32]
			e.imm32(localDisp(int(in.A)))
			e.push(rax)

		case ir.OpLoad:
			e.pop(rax)
			if in.Size == 1 {
				e.code(0x48, 0x0F, 0xB6, 0x00) // movzx rax, byte [rax]
			} else {
				e.code(0x48, 0x8B, 0x00) // mov rax, [rax]
			}
			e.push(rax)

		case ir.OpStore:
			e.pop(rcx) // address
			e.pop(rax) // value
			if in.Size == 1 {
				e.code(0x88, 0x01) // mov [rcx], al
			} else {
				e.code(0x48, 0x89, 0x01) // mov [rcx], rax
			}

		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor:
			e.pop(rcx)
			e.pop(rax)
			switch in.Op {
			case ir.OpAdd:
				e.code(0x48, 0x01, 0xC8) // add rax, rcx
			case ir.OpSub:
				e.code(0x48, 0x29, 0xC8) // sub rax, rcx
			case ir.OpMul:
				e.code(0x48, 0x0F, 0xAF, 0xC1) // imul rax, rcx
			case ir.OpAnd:
				e.code(0x48, 0x21, 0xC8) // and rax, rcx
			case ir.OpOr:
				e.code(0x48, 0x09, 0xC8) // or rax, rcx
			case ir.OpXor:
				e.code(0x48, 0x31, 0xC8) // xor rax, rcx
			}
			e.push(rax)

		case ir.OpDiv, ir.OpMod:
			e.pop(rcx)
			e.pop(rax)
			e.code(0x48, 0x99)       // cqo
			e.code(0x48, 0xF7, 0xF9) // idiv rcx
			if in.Op == ir.OpMod {
				e.code(0x48, 0x89, 0xD0) // mov rax, rdx
			}
			e.push(rax)

		case ir.OpShl, ir.OpShr:
			e.pop(rcx)
			e.pop(rax)
			if in.Op == ir.OpShl {
				e.code(0x48, 0xD3, 0xE0) // shl rax, cl
			} else {
				e.code(0x48, 0xD3, 0xF8) // sar rax, cl
			}
			e.push(rax)

		case ir.OpNeg:
			e.pop(rax)
			e.code(0x48, 0xF7, 0xD8) // neg rax
			e.push(rax)

		case ir.OpBitNot:
			e.pop(rax)
			e.code(0x48, 0xF7, 0xD0) // not rax
			e.push(rax)

		case ir.OpLogNot:
			e.pop(rax)
			e.code(0x48, 0x85, 0xC0)       // test rax, rax
			e.code(0x0F, 0x94, 0xC0)       // sete al
			e.code(0x48, 0x0F, 0xB6, 0xC0) // movzx rax, al
			e.push(rax)

		case ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
			e.pop(rcx)
			e.pop(rax)
			e.code(0x48, 0x39, 0xC8) // cmp rax, rcx
			setcc := map[ir.Op]byte{
				ir.OpEq: 0x94, ir.OpNe: 0x95,
				ir.OpLt: 0x9C, ir.OpLe: 0x9E,
				ir.OpGt: 0x9F, ir.OpGe: 0x9D,
			}[in.Op]
			e.code(0x0F, setcc, 0xC0)      // setcc al
			e.code(0x48, 0x0F, 0xB6, 0xC0) // movzx rax, al
			e.push(rax)

		case ir.OpJmp:
			e.code(0xE9)
			fixups = append(fixups, fixup{at: e.here(), target: int(in.A)})
			e.imm32(0)

		case ir.OpJz, ir.OpJnz:
			e.pop(rax)
			e.code(0x48, 0x85, 0xC0) // test rax, rax
			if in.Op == ir.OpJz {
				e.code(0x0F, 0x84) // jz rel32
			} else {
				e.code(0x0F, 0x85) // jnz rel32
			}
			fixups = append(fixups, fixup{at: e.here(), target: int(in.A)})
			e.imm32(0)

		case ir.OpCall:
			e.opCall(in, spillBase)

		case ir.OpRet:
			e.pop(rax)
			e.code(0xC9) // leave
			e.code(0xC3) // ret

		case ir.OpDrop:
			e.pop(rax)

		case ir.OpDup:
			e.pop(rax)
			e.push(rax)
			e.push(rax)

		default:
			return fmt.Errorf("unhandled op %d", in.Op)
		}
	}
	offsets[len(fn.Insts)] = e.here()

	// Functions whose last statement is not a return still need to leave
	// the frame; return 0 in that case, matching C's implicit main exit.
	e.code(0x48, 0x31, 0xC0) // xor rax, rax
	e.code(0xC9, 0xC3)       // leave; ret

	for _, f := range fixups {
		rel := int32(offsets[f.target]) - int32(f.at+4)
		binary.LittleEndian.PutUint32(e.obj.Code[f.at:f.at+4], uint32(rel))
	}
	return nil
}

// localDisp is the rbp-relative displacement of local slot i.
func localDisp(i int) int32 { return int32(-8 * (i + 1)) }

type reg byte

const (
	rax reg = iota
	rcx
)

func (e *emitter) push(r reg) {
	e.code(0x50 + byte(r)) // push rax/rcx
}

func (e *emitter) pop(r reg) {
	e.code(0x58 + byte(r)) // pop rax/rcx
}

// leaRIP emits `lea rax, [rip+disp32]` with a PC-relative relocation
// against sym; the displacement field's addend is measured from the end
// of the instruction.
func (e *emitter) leaRIP(sym string) {
	e.code(0x48, 0x8D, 0x05)
	e.obj.Relocs = append(e.obj.Relocs, ir.Reloc{
		Offset: e.here(),
		Kind:   ir.RelocPCRel32,
		Sym:    sym,
	})
	e.imm32(0)
}

// opCall emits a call honoring the Microsoft x64 convention: arguments
// are first parked in the function's spill slots, the stack is aligned
// to 16 with the old rsp saved above the callee's shadow space, the
// first four arguments go to RCX/RDX/R8/R9 and the rest to the outgoing
// stack area, then the saved rsp is restored after the call returns.
func (e *emitter) opCall(in ir.Inst, spillBase int) {
	n := int(in.A)
	// Pop arguments (last argument on top) into spill slots n-1..0.
	for i := n - 1; i >= 0; i-- {
		e.pop(rax)
		e.code(0x48, 0x89, 0x85) // mov [rbp+d32], rax
		e.imm32(localDisp(spillBase + i))
	}

	nstack := n - maxRegParams
	if nstack < 0 {
		nstack = 0
	}
	saveOff := int32(0x20 + 8*nstack)

	e.code(0x49, 0x89, 0xE2) // mov r10, rsp
	e.code(0x48, 0x81, 0xEC) // sub rsp, imm32
	e.imm32(saveOff + 16)
	e.code(0x48, 0x83, 0xE4, 0xF0) // and rsp, -16
	e.code(0x4C, 0x89, 0x94, 0x24) // mov [rsp+d32], r10
	e.imm32(saveOff)

	argLoads := [][]byte{
		{0x48, 0x8B, 0x8D}, // mov rcx, [rbp+d32]
		{0x48, 0x8B, 0x95}, // mov rdx, [rbp+d32]
		{0x4C, 0x8B, 0x85}, // mov r8, [rbp+d32]
		{0x4C, 0x8B, 0x8D}, // mov r9, [rbp+d32]
	}
	for i := 0; i < n && i < maxRegParams; i++ {
		e.code(argLoads[i]...)
		e.imm32(localDisp(spillBase + i))
	}
	for i := maxRegParams; i < n; i++ {
		e.code(0x48, 0x8B, 0x85) // mov rax, [rbp+d32]
		e.imm32(localDisp(spillBase + i))
		e.code(0x48, 0x89, 0x84, 0x24) // mov [rsp+d32], rax
		e.imm32(int32(0x20 + 8*(i-maxRegParams)))
	}

	e.code(0xE8) // call rel32
	e.obj.Relocs = append(e.obj.Relocs, ir.Reloc{
		Offset: e.here(),
		Kind:   ir.RelocPCRel32,
		Sym:    in.Sym,
	})
	e.imm32(0)

	e.code(0x48, 0x8B, 0xA4, 0x24) // mov rsp, [rsp+d32]
	e.imm32(saveOff)
	e.push(rax)
}

var _ ir.Backend = Backend{}
