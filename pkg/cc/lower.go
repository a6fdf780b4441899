package cc

// This file lowers the parsed AST into pkg/cc/ir's stack-machine form
// for the FIRMWARE_BINARY output path. The MEMORY path never lowers;
// it interprets the AST directly (eval.go).

import (
	"fmt"

	"github.com/levkropp/survival/pkg/cc/ir"
)

// lower converts the accumulated unit into an ir.Module with the given
// entry symbol.
func (c *Compiler) lower(entry string) (*ir.Module, error) {
	mod := &ir.Module{
		Funcs: make(map[string]*ir.Func),
		Entry: entry,
	}
	lw := &lowerer{c: c, mod: mod}

	for name, g := range c.unit.globals {
		init, err := constInit(g)
		if err != nil {
			return nil, err
		}
		mod.Globals = append(mod.Globals, ir.Global{Name: name, Size: 8, Init: init})
	}
	for _, name := range c.unit.order {
		fn := c.unit.funcs[name]
		if fn.body == nil {
			mod.Funcs[name] = &ir.Func{Name: name} // prototype
			mod.Order = append(mod.Order, name)
			continue
		}
		lf, err := lw.lowerFunc(fn)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %s: %w", fn.file, fn.line, name, err)
		}
		mod.Funcs[name] = lf
		mod.Order = append(mod.Order, name)
	}
	return mod, nil
}

// constInit evaluates a global initializer, which must be an integer
// constant expression in this subset.
func constInit(g *globalDecl) ([]byte, error) {
	if g.init == nil {
		return nil, nil
	}
	v, ok := constFold(g.init)
	if !ok {
		return nil, fmt.Errorf("global %s: initializer is not an integer constant", g.name)
	}
	out := make([]byte, 8)
	u := uint64(v)
	for i := 0; i < 8; i++ {
		out[i] = byte(u >> (8 * i))
	}
	return out, nil
}

func constFold(e expr) (int64, bool) {
	switch x := e.(type) {
	case *intLit:
		return x.v, true
	case *unaryExpr:
		v, ok := constFold(x.x)
		if !ok {
			return 0, false
		}
		switch x.op {
		case "-":
			return -v, true
		case "~":
			return ^v, true
		case "!":
			if v == 0 {
				return 1, true
			}
			return 0, true
		}
	case *binExpr:
		l, ok1 := constFold(x.l)
		r, ok2 := constFold(x.r)
		if ok1 && ok2 {
			if v, err := applyBinOp(x.op, ivalue{i: l}, ivalue{i: r}); err == nil {
				return v.i, true
			}
		}
	}
	return 0, false
}

type lowerer struct {
	c   *Compiler
	mod *ir.Module
}

// fnLowerer carries the per-function state: slot assignment, type
// tracking for element sizes, pending branch fixups.
type fnLowerer struct {
	lw      *lowerer
	f       *ir.Func
	slots   map[string]int      // variable name -> slot (arrays: base slot)
	types   map[string]typeSpec // variable name -> declared type
	breaks  [][]int             // stack of OpJmp indices to patch per loop
	conts   [][]int
}

func (lw *lowerer) lowerFunc(fn *funcDecl) (*ir.Func, error) {
	fl := &fnLowerer{
		lw:    lw,
		f:     &ir.Func{Name: fn.name, NumParams: len(fn.params), File: fn.file, Line: fn.line},
		slots: make(map[string]int),
		types: make(map[string]typeSpec),
	}
	for i, p := range fn.params {
		if p.name != "" {
			fl.slots[p.name] = i
			fl.types[p.name] = p.typ
		}
	}
	fl.f.NumLocals = len(fn.params)
	if err := fl.stmt(fn.body); err != nil {
		return nil, err
	}
	return fl.f, nil
}

func (fl *fnLowerer) emit(in ir.Inst) int {
	fl.f.Insts = append(fl.f.Insts, in)
	return len(fl.f.Insts) - 1
}

func (fl *fnLowerer) patch(idx int) {
	fl.f.Insts[idx].A = int64(len(fl.f.Insts))
}

func (fl *fnLowerer) stringIdx(s string, wide bool) int {
	fl.lw.mod.Strings = append(fl.lw.mod.Strings, fl.lw.c.encodeString(s, wide))
	return len(fl.lw.mod.Strings) - 1
}

// loadSize is the width of a memory access through a pointer to t's
// pointee, or through t itself when it is an array.
func loadSize(t typeSpec, ok bool) uint8 {
	if !ok {
		return 8
	}
	if t.base == "char" && (t.ptr == 1 || (t.isArray && t.ptr == 0)) {
		return 1
	}
	return 8
}

func (fl *fnLowerer) stmt(s stmt) error {
	switch st := s.(type) {
	case *blockStmt:
		for _, sub := range st.stmts {
			if err := fl.stmt(sub); err != nil {
				return err
			}
		}
		return nil

	case *declStmt:
		if st.typ.isArray {
			n := st.typ.arraySize
			if n <= 0 {
				n = 256
			}
			width := int64(1)
			if st.typ.base != "char" {
				width = 8
			}
			slots := int((n*width + 7) / 8)
			fl.f.NumLocals += slots
			fl.slots[st.name] = fl.f.NumLocals - 1 // lowest-addressed slot
			fl.types[st.name] = st.typ
			return nil // array initializers are not supported in this path
		}
		fl.slots[st.name] = fl.f.NumLocals
		fl.types[st.name] = st.typ
		fl.f.NumLocals++
		if st.init != nil {
			if err := fl.expr(st.init); err != nil {
				return err
			}
			fl.emit(ir.Inst{Op: ir.OpLocalAddr, A: int64(fl.slots[st.name])})
			fl.emit(ir.Inst{Op: ir.OpStore, Size: 8})
		}
		return nil

	case *exprStmt:
		if err := fl.expr(st.x); err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpDrop})
		return nil

	case *returnStmt:
		if st.x != nil {
			if err := fl.expr(st.x); err != nil {
				return err
			}
		} else {
			fl.emit(ir.Inst{Op: ir.OpConst, A: 0})
		}
		fl.emit(ir.Inst{Op: ir.OpRet})
		return nil

	case *ifStmt:
		if err := fl.expr(st.cond); err != nil {
			return err
		}
		jz := fl.emit(ir.Inst{Op: ir.OpJz})
		if err := fl.stmt(st.then); err != nil {
			return err
		}
		if st.els_ != nil {
			jend := fl.emit(ir.Inst{Op: ir.OpJmp})
			fl.patch(jz)
			if err := fl.stmt(st.els_); err != nil {
				return err
			}
			fl.patch(jend)
		} else {
			fl.patch(jz)
		}
		return nil

	case *whileStmt:
		top := len(fl.f.Insts)
		if err := fl.expr(st.cond); err != nil {
			return err
		}
		jz := fl.emit(ir.Inst{Op: ir.OpJz})
		fl.breaks = append(fl.breaks, nil)
		fl.conts = append(fl.conts, nil)
		if err := fl.stmt(st.body); err != nil {
			return err
		}
		fl.patchLoop(top)
		fl.emit(ir.Inst{Op: ir.OpJmp, A: int64(top)})
		fl.patch(jz)
		fl.patchBreaks()
		return nil

	case *forStmt:
		if st.ini != nil {
			if err := fl.stmt(st.ini); err != nil {
				return err
			}
		} else if st.init != nil {
			if err := fl.expr(st.init); err != nil {
				return err
			}
			fl.emit(ir.Inst{Op: ir.OpDrop})
		}
		top := len(fl.f.Insts)
		var jz int = -1
		if st.cond != nil {
			if err := fl.expr(st.cond); err != nil {
				return err
			}
			jz = fl.emit(ir.Inst{Op: ir.OpJz})
		}
		fl.breaks = append(fl.breaks, nil)
		fl.conts = append(fl.conts, nil)
		if err := fl.stmt(st.body); err != nil {
			return err
		}
		postAt := len(fl.f.Insts)
		if st.post != nil {
			if err := fl.expr(st.post); err != nil {
				return err
			}
			fl.emit(ir.Inst{Op: ir.OpDrop})
		}
		fl.patchLoop(postAt)
		fl.emit(ir.Inst{Op: ir.OpJmp, A: int64(top)})
		if jz >= 0 {
			fl.patch(jz)
		}
		fl.patchBreaks()
		return nil

	case *breakStmt:
		if len(fl.breaks) == 0 {
			return fmt.Errorf("break outside a loop")
		}
		idx := fl.emit(ir.Inst{Op: ir.OpJmp})
		fl.breaks[len(fl.breaks)-1] = append(fl.breaks[len(fl.breaks)-1], idx)
		return nil

	case *continueStmt:
		if len(fl.conts) == 0 {
			return fmt.Errorf("continue outside a loop")
		}
		idx := fl.emit(ir.Inst{Op: ir.OpJmp})
		fl.conts[len(fl.conts)-1] = append(fl.conts[len(fl.conts)-1], idx)
		return nil

	default:
		return fmt.Errorf("unhandled statement %T", s)
	}
}

// patchLoop resolves the current loop's continue jumps to target.
func (fl *fnLowerer) patchLoop(target int) {
	conts := fl.conts[len(fl.conts)-1]
	fl.conts = fl.conts[:len(fl.conts)-1]
	for _, idx := range conts {
		fl.f.Insts[idx].A = int64(target)
	}
}

// patchBreaks resolves the current loop's break jumps to the current
// position and pops the loop.
func (fl *fnLowerer) patchBreaks() {
	breaks := fl.breaks[len(fl.breaks)-1]
	fl.breaks = fl.breaks[:len(fl.breaks)-1]
	for _, idx := range breaks {
		fl.f.Insts[idx].A = int64(len(fl.f.Insts))
	}
}

// addr lowers e as an lvalue, leaving its address on the stack, and
// returns the access width for loads/stores through that address.
func (fl *fnLowerer) addr(e expr) (uint8, error) {
	switch x := e.(type) {
	case *identExpr:
		if slot, ok := fl.slots[x.name]; ok {
			fl.emit(ir.Inst{Op: ir.OpLocalAddr, A: int64(slot)})
			return 8, nil
		}
		if _, ok := fl.lw.c.unit.globals[x.name]; ok {
			fl.emit(ir.Inst{Op: ir.OpGlobalAddr, Sym: x.name})
			return 8, nil
		}
		// Unknown here; let the linker resolve or reject it.
		fl.emit(ir.Inst{Op: ir.OpGlobalAddr, Sym: x.name})
		return 8, nil

	case *unaryExpr:
		if x.op == "*" {
			if err := fl.expr(x.x); err != nil {
				return 0, err
			}
			return fl.pointeeSize(x.x), nil
		}

	case *indexExpr:
		if err := fl.expr(x.x); err != nil {
			return 0, err
		}
		if err := fl.expr(x.idx); err != nil {
			return 0, err
		}
		size := fl.pointeeSize(x.x)
		if size != 1 {
			fl.emit(ir.Inst{Op: ir.OpConst, A: int64(size)})
			fl.emit(ir.Inst{Op: ir.OpMul})
		}
		fl.emit(ir.Inst{Op: ir.OpAdd})
		return size, nil
	}
	return 0, fmt.Errorf("expression is not assignable")
}

// pointeeSize guesses the dereference width of a pointer-valued
// expression from declared types, defaulting to byte access for
// anything rooted at a char pointer/array.
func (fl *fnLowerer) pointeeSize(e expr) uint8 {
	if id, ok := e.(*identExpr); ok {
		t, found := fl.types[id.name]
		return loadSize(t, found)
	}
	if _, ok := e.(*strLit); ok {
		return 1
	}
	return 8
}

func (fl *fnLowerer) expr(e expr) error {
	switch x := e.(type) {
	case *intLit:
		fl.emit(ir.Inst{Op: ir.OpConst, A: x.v})
		return nil

	case *strLit:
		fl.emit(ir.Inst{Op: ir.OpString, A: int64(fl.stringIdx(x.v, x.wide))})
		return nil

	case *identExpr:
		if slot, ok := fl.slots[x.name]; ok {
			t := fl.types[x.name]
			if t.isArray {
				fl.emit(ir.Inst{Op: ir.OpLocalAddr, A: int64(slot)})
				return nil
			}
			fl.emit(ir.Inst{Op: ir.OpLocalAddr, A: int64(slot)})
			fl.emit(ir.Inst{Op: ir.OpLoad, Size: 8})
			return nil
		}
		fl.emit(ir.Inst{Op: ir.OpGlobalAddr, Sym: x.name})
		fl.emit(ir.Inst{Op: ir.OpLoad, Size: 8})
		return nil

	case *unaryExpr:
		return fl.unary(x)

	case *postfixExpr:
		// i++ leaves the old value: load, dup, adjust, store.
		if err := fl.expr(x.x); err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpDup})
		fl.emit(ir.Inst{Op: ir.OpConst, A: 1})
		if x.op == "++" {
			fl.emit(ir.Inst{Op: ir.OpAdd})
		} else {
			fl.emit(ir.Inst{Op: ir.OpSub})
		}
		size, err := fl.addr(x.x)
		if err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpStore, Size: size})
		return nil

	case *binExpr:
		return fl.binary(x)

	case *assignExpr:
		if x.op == "=" {
			if err := fl.expr(x.r); err != nil {
				return err
			}
		} else {
			if err := fl.expr(x.l); err != nil {
				return err
			}
			if err := fl.expr(x.r); err != nil {
				return err
			}
			fl.emitBinOp(x.op[:len(x.op)-1])
		}
		fl.emit(ir.Inst{Op: ir.OpDup})
		size, err := fl.addr(x.l)
		if err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpStore, Size: size})
		return nil

	case *callExpr:
		for _, a := range x.args {
			if err := fl.expr(a); err != nil {
				return err
			}
		}
		fl.emit(ir.Inst{Op: ir.OpCall, Sym: x.callee, A: int64(len(x.args))})
		return nil

	case *condExpr:
		if err := fl.expr(x.cond); err != nil {
			return err
		}
		jz := fl.emit(ir.Inst{Op: ir.OpJz})
		if err := fl.expr(x.then); err != nil {
			return err
		}
		jend := fl.emit(ir.Inst{Op: ir.OpJmp})
		fl.patch(jz)
		if err := fl.expr(x.els_); err != nil {
			return err
		}
		fl.patch(jend)
		return nil

	case *indexExpr:
		size, err := fl.addr(x)
		if err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpLoad, Size: size})
		return nil

	default:
		return fmt.Errorf("unhandled expression %T", e)
	}
}

func (fl *fnLowerer) unary(x *unaryExpr) error {
	switch x.op {
	case "&":
		_, err := fl.addr(x.x)
		return err
	case "*":
		size, err := fl.addr(x)
		if err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpLoad, Size: size})
		return nil
	case "-":
		if err := fl.expr(x.x); err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpNeg})
		return nil
	case "~":
		if err := fl.expr(x.x); err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpBitNot})
		return nil
	case "!":
		if err := fl.expr(x.x); err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpLogNot})
		return nil
	case "++pre", "--pre":
		if err := fl.expr(x.x); err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpConst, A: 1})
		if x.op == "++pre" {
			fl.emit(ir.Inst{Op: ir.OpAdd})
		} else {
			fl.emit(ir.Inst{Op: ir.OpSub})
		}
		fl.emit(ir.Inst{Op: ir.OpDup})
		size, err := fl.addr(x.x)
		if err != nil {
			return err
		}
		fl.emit(ir.Inst{Op: ir.OpStore, Size: size})
		return nil
	case "sizeof":
		fl.emit(ir.Inst{Op: ir.OpConst, A: 8})
		return nil
	}
	return fmt.Errorf("unhandled unary operator %q", x.op)
}

func (fl *fnLowerer) binary(x *binExpr) error {
	if x.op == "&&" || x.op == "||" {
		if err := fl.expr(x.l); err != nil {
			return err
		}
		var jshort int
		if x.op == "&&" {
			jshort = fl.emit(ir.Inst{Op: ir.OpJz})
		} else {
			jshort = fl.emit(ir.Inst{Op: ir.OpJnz})
		}
		if err := fl.expr(x.r); err != nil {
			return err
		}
		// Normalize the right operand to 0/1 and skip the short-circuit
		// constant.
		fl.emit(ir.Inst{Op: ir.OpConst, A: 0})
		fl.emit(ir.Inst{Op: ir.OpNe})
		jend := fl.emit(ir.Inst{Op: ir.OpJmp})
		fl.patch(jshort)
		if x.op == "&&" {
			fl.emit(ir.Inst{Op: ir.OpConst, A: 0})
		} else {
			fl.emit(ir.Inst{Op: ir.OpConst, A: 1})
		}
		fl.patch(jend)
		return nil
	}

	if err := fl.expr(x.l); err != nil {
		return err
	}
	// Scale integer addends against char-pointer bases is skipped: byte
	// pointers scale by 1 anyway, and wider pointer arithmetic in this
	// subset goes through indexing, which does scale.
	if err := fl.expr(x.r); err != nil {
		return err
	}
	fl.emitBinOp(x.op)
	return nil
}

func (fl *fnLowerer) emitBinOp(op string) {
	ops := map[string]ir.Op{
		"+": ir.OpAdd, "-": ir.OpSub, "*": ir.OpMul, "/": ir.OpDiv, "%": ir.OpMod,
		"&": ir.OpAnd, "|": ir.OpOr, "^": ir.OpXor, "<<": ir.OpShl, ">>": ir.OpShr,
		"==": ir.OpEq, "!=": ir.OpNe, "<": ir.OpLt, "<=": ir.OpLe, ">": ir.OpGt, ">=": ir.OpGe,
	}
	fl.emit(ir.Inst{Op: ops[op]})
}
