// Package ir defines the linear intermediate representation the
// FIRMWARE_BINARY code path lowers the parsed AST into, and the
// relocatable object form the per-architecture backends (pkg/cc/amd64,
// pkg/cc/arm64) emit from it. The MEMORY output path never touches this
// package; it interprets the AST directly (see pkg/cc's package doc).
package ir

// Op enumerates the stack-machine operations. Every instruction either
// pushes, pops, or transfers control; the backends map the virtual value
// stack onto the real one.
type Op uint8

const (
	// OpConst pushes the immediate A.
	OpConst Op = iota
	// OpString pushes the address of string-pool entry A.
	OpString
	// OpLocalAddr pushes the address of local slot A (8-byte slots;
	// parameters occupy the first NumParams slots).
	OpLocalAddr
	// OpGlobalAddr pushes the address of global Sym. Backends emit an
	// architecture-appropriate address-load with a relocation; on ARM64
	// this is always the two-instruction indirect GOT pattern (§4.I).
	OpGlobalAddr
	// OpLoad pops an address and pushes the Size-byte value at it
	// (zero-extended for Size 1).
	OpLoad
	// OpStore pops an address, then a value, and stores Size bytes of
	// the value at the address. Address-on-top lets assignment
	// expressions keep a copy of the stored value below it.
	OpStore

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr

	// OpNeg, OpBitNot, OpLogNot pop one value and push the result.
	OpNeg
	OpBitNot
	OpLogNot

	// Comparisons pop two values (right first) and push 0 or 1.
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// OpJmp transfers to instruction index A.
	OpJmp
	// OpJz pops a value and jumps to A when it is zero.
	OpJz
	// OpJnz pops a value and jumps to A when it is nonzero.
	OpJnz

	// OpCall pops A arguments (last argument on top) and calls Sym,
	// pushing the return value. Sym may resolve to another function in
	// the same module or to an external the linker must satisfy.
	OpCall
	// OpRet pops the return value and returns it.
	OpRet
	// OpDrop pops and discards one value.
	OpDrop
	// OpDup duplicates the top of stack.
	OpDup
)

// Inst is one instruction. Fields beyond Op are valid per the Op's
// documentation above; Size is 1 or 8 and only meaningful for
// OpLoad/OpStore.
type Inst struct {
	Op   Op
	A    int64
	Sym  string
	Size uint8
}

// Func is one lowered function.
type Func struct {
	Name      string
	NumParams int
	NumLocals int // total slots including parameters
	Insts     []Inst
	File      string
	Line      int
}

// Global is one module-level variable, Size bytes in the data section,
// optionally initialized.
type Global struct {
	Name string
	Size int
	Init []byte // len <= Size; remainder zero
}

// Module is a lowered translation unit.
type Module struct {
	Funcs   map[string]*Func
	Order   []string // function names in declaration order, for layout
	Globals []Global
	Strings [][]byte // NUL-terminated (or UTF-16 NUL-terminated) pools
	Entry   string   // entry symbol name, e.g. "efi_main"
}

// RelocKind enumerates the relocation types the backends emit.
type RelocKind uint8

const (
	// RelocPCRel32 is a 32-bit PC-relative displacement whose addend is
	// measured from the end of the 4-byte field (x86-64 call/lea forms).
	RelocPCRel32 RelocKind = iota
	// RelocAbs64 is a 64-bit absolute address; the linker records a
	// base-relocation entry for it so the image stays position
	// independent.
	RelocAbs64
	// RelocCall26 is an AArch64 BL with a 26-bit word-offset immediate.
	RelocCall26
	// RelocAdrPageGOT is the first instruction of the AArch64 indirect
	// pair: ADRP of the GOT entry's page (§4.I).
	RelocAdrPageGOT
	// RelocLdrLo12GOT is the second instruction: LDR of the GOT entry's
	// low 12 bits (§4.I). When no GOT is materialized the linker relaxes
	// this pair via pkg/cc/relax.
	RelocLdrLo12GOT
)

// Reloc is one relocation against the code section.
type Reloc struct {
	Offset uint32 // byte offset of the field/instruction in Code
	Kind   RelocKind
	Sym    string
	Addend int64
}

// Object is a backend's relocatable output for one module: machine code,
// initialized data, the relocations the linker must resolve, and the
// defined symbols of each section.
type Object struct {
	Code     []byte
	Data     []byte
	Relocs   []Reloc
	CodeSyms map[string]uint32 // function name -> offset in Code
	DataSyms map[string]uint32 // global/string name -> offset in Data
}

// Backend turns a Module into an Object. pkg/cc selects one by
// architecture name at compile time.
type Backend interface {
	Name() string
	Emit(m *Module) (*Object, error)
}
