package cc

import "fmt"

// parser is a recursive-descent parser over the token stream a lexer
// produces. It builds the AST in ast.go directly (no separate IR for
// the interpreter path; lower.go lowers this same AST to pkg/cc/ir,
// which the amd64 and arm64 backends consume for the FIRMWARE_BINARY
// path).
type parser struct {
	lex   *lexer
	tok   token
	prev  token
	curFn *funcDecl // function whose body is being parsed, for return checks
}

func newParser(src, filename string) (*parser, error) {
	p := &parser{lex: newLexer(src, filename)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.prev = p.tok
	p.tok = t
	return nil
}

func (p *parser) errf(format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d: %s", p.tok.file, p.tok.line, fmt.Sprintf(format, args...))
}

func (p *parser) isPunct(s string) bool { return p.tok.kind == tokPunct && p.tok.text == s }
func (p *parser) isKw(s string) bool    { return p.tok.kind == tokKeyword && p.tok.text == s }

func (p *parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return p.errf("expected %q, found %q", s, p.tok.text)
	}
	return p.advance()
}

var typeKeywords = map[string]bool{
	"int": true, "char": true, "void": true, "unsigned": true,
	"long": true, "short": true, "const": true, "static": true, "extern": true,
}

func (p *parser) atTypeStart() bool {
	return p.tok.kind == tokKeyword && typeKeywords[p.tok.text]
}

// parseTypeSpec consumes a base type plus any leading qualifiers/storage
// keywords (accepted and discarded — this compiler does not enforce
// const/static/extern semantics, only parses past them) and leading
// pointer stars belonging to the base type; a declarator's own stars are
// parsed separately by the caller since `int *a, b;` gives a and b
// different pointer depths.
func (p *parser) parseTypeSpec() (typeSpec, error) {
	var ts typeSpec
	sawBase := false
	for p.tok.kind == tokKeyword && typeKeywords[p.tok.text] {
		switch p.tok.text {
		case "const", "static", "extern":
			// qualifiers/storage class: accepted, not modeled
		default:
			ts.base = p.tok.text
			sawBase = true
		}
		if err := p.advance(); err != nil {
			return ts, err
		}
	}
	if !sawBase {
		return ts, p.errf("expected a type, found %q", p.tok.text)
	}
	return ts, nil
}

// parseProgram parses a full translation unit: a sequence of function
// definitions and global declarations.
func parseProgram(src, filename string) (*program, error) {
	p, err := newParser(src, filename)
	if err != nil {
		return nil, err
	}
	prog := &program{funcs: map[string]*funcDecl{}, globals: map[string]*globalDecl{}}

	for p.tok.kind != tokEOF {
		if !p.atTypeStart() {
			return nil, p.errf("expected a declaration, found %q", p.tok.text)
		}
		base, err := p.parseTypeSpec()
		if err != nil {
			return nil, err
		}
		ptr := 0
		for p.isPunct("*") {
			ptr++
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if p.tok.kind != tokIdent {
			return nil, p.errf("expected an identifier, found %q", p.tok.text)
		}
		name := p.tok.text
		file, line := p.tok.file, p.tok.line
		if err := p.advance(); err != nil {
			return nil, err
		}

		if p.isPunct("(") {
			fn, err := p.parseFuncRest(name, typeSpec{base: base.base, ptr: ptr}, file, line)
			if err != nil {
				return nil, err
			}
			prog.funcs[name] = fn
			prog.order = append(prog.order, name)
			continue
		}

		// Global variable declaration.
		gd := &globalDecl{name: name, typ: typeSpec{base: base.base, ptr: ptr}}
		if p.isPunct("=") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			init, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			gd.init = init
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		prog.globals[name] = gd
	}
	return prog, nil
}

func (p *parser) parseFuncRest(name string, ret typeSpec, file string, line int) (*funcDecl, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	fn := &funcDecl{name: name, retType: ret, file: file, line: line}
	for !p.isPunct(")") {
		if p.isPunct("...") {
			fn.variadic = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			break
		}
		if p.isKw("void") && p.peekIsCloseParen() {
			if err := p.advance(); err != nil {
				return nil, err
			}
			break
		}
		pt, err := p.parseTypeSpec()
		if err != nil {
			return nil, err
		}
		ptr := 0
		for p.isPunct("*") {
			ptr++
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		pname := ""
		if p.tok.kind == tokIdent {
			pname = p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		fn.params = append(fn.params, param{name: pname, typ: typeSpec{base: pt.base, ptr: ptr}})
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if p.isPunct(";") {
		return fn, p.advance() // prototype only
	}
	p.curFn = fn
	body, err := p.parseBlock()
	p.curFn = nil
	if err != nil {
		return nil, err
	}
	fn.body = body
	return fn, nil
}

func (p *parser) peekIsCloseParen() bool {
	// Lookahead without consuming: used only for `(void)` parameter
	// lists. A cheap approach given this grammar: snapshot position.
	save := *p.lex
	saveTok := p.tok
	_ = p.advance()
	isClose := p.isPunct(")")
	*p.lex = save
	p.tok = saveTok
	return isClose
}

func (p *parser) parseBlock() (*blockStmt, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	b := &blockStmt{}
	for !p.isPunct("}") {
		if p.tok.kind == tokEOF {
			return nil, p.errf("unexpected end of file inside block")
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		b.stmts = append(b.stmts, s)
	}
	return b, p.advance()
}

func (p *parser) parseStmt() (stmt, error) {
	switch {
	case p.isPunct("{"):
		return p.parseBlock()

	case p.isKw("return"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isPunct(";") {
			if p.curFn != nil && !(p.curFn.retType.base == "void" && p.curFn.retType.ptr == 0) {
				return nil, p.errf("expected an expression, found %q", ";")
			}
			return &returnStmt{}, p.advance()
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &returnStmt{x: x}, nil

	case p.isKw("if"):
		return p.parseIf()

	case p.isKw("while"):
		return p.parseWhile()

	case p.isKw("for"):
		return p.parseFor()

	case p.isKw("break"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &breakStmt{}, p.expectPunct(";")

	case p.isKw("continue"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &continueStmt{}, p.expectPunct(";")

	case p.atTypeStart():
		return p.parseDecl()

	case p.isPunct(";"):
		return &blockStmt{}, p.advance()

	default:
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &exprStmt{x: x}, nil
	}
}

func (p *parser) parseDecl() (stmt, error) {
	base, err := p.parseTypeSpec()
	if err != nil {
		return nil, err
	}
	ptr := 0
	for p.isPunct("*") {
		ptr++
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.tok.kind != tokIdent {
		return nil, p.errf("expected a declarator name, found %q", p.tok.text)
	}
	name := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	ts := typeSpec{base: base.base, ptr: ptr}
	if p.isPunct("[") {
		ts.isArray = true
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokIntLit {
			ts.arraySize = p.tok.ival
		}
		for !p.isPunct("]") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	var init expr
	if p.isPunct("=") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		init, err = p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &declStmt{name: name, typ: ts, init: init}, nil
}

func (p *parser) parseIf() (stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	then, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	var els stmt
	if p.isKw("else") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		els, err = p.parseStmt()
		if err != nil {
			return nil, err
		}
	}
	return &ifStmt{cond: cond, then: then, els_: els}, nil
}

func (p *parser) parseWhile() (stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return &whileStmt{cond: cond, body: body}, nil
}

func (p *parser) parseFor() (stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	fs := &forStmt{}
	if !p.isPunct(";") {
		if p.atTypeStart() {
			ini, err := p.parseDecl() // consumes trailing ';'
			if err != nil {
				return nil, err
			}
			fs.ini = ini
		} else {
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			fs.init = x
			if err := p.expectPunct(";"); err != nil {
				return nil, err
			}
		}
	} else {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if !p.isPunct(";") {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fs.cond = cond
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	if !p.isPunct(")") {
		post, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fs.post = post
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	fs.body = body
	return fs, nil
}

// ---- expressions, by precedence (lowest to highest) ----

func (p *parser) parseExpr() (expr, error) { return p.parseComma() }

func (p *parser) parseComma() (expr, error) {
	x, err := p.parseAssignExpr()
	if err != nil {
		return nil, err
	}
	for p.isPunct(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		// Comma operator: the left operand is evaluated for its side
		// effects and the value is the right operand's. Expressed as
		// x ? r : r so both the interpreter and the lowerer evaluate x
		// first and then r exactly once.
		x = &condExpr{cond: x, then: r, els_: r}
	}
	return x, nil
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true,
}

func (p *parser) parseAssignExpr() (expr, error) {
	lhs, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokPunct && assignOps[p.tok.text] {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		return &assignExpr{op: op, l: lhs, r: rhs}, nil
	}
	return lhs, nil
}

func (p *parser) parseCond() (expr, error) {
	x, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.isPunct("?") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		els, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		return &condExpr{cond: x, then: then, els_: els}, nil
	}
	return x, nil
}

func (p *parser) binLevel(next func() (expr, error), ops ...string) (expr, error) {
	x, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		if p.tok.kind == tokPunct {
			for _, op := range ops {
				if p.tok.text == op {
					matched = op
					break
				}
			}
		}
		if matched == "" {
			return x, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := next()
		if err != nil {
			return nil, err
		}
		x = &binExpr{op: matched, l: x, r: r}
	}
}

func (p *parser) parseLogicalOr() (expr, error) {
	return p.binLevel(p.parseLogicalAnd, "||")
}
func (p *parser) parseLogicalAnd() (expr, error) {
	return p.binLevel(p.parseBitOr, "&&")
}
func (p *parser) parseBitOr() (expr, error) { return p.binLevel(p.parseBitXor, "|") }
func (p *parser) parseBitXor() (expr, error) { return p.binLevel(p.parseBitAnd, "^") }
func (p *parser) parseBitAnd() (expr, error) { return p.binLevel(p.parseEquality, "&") }
func (p *parser) parseEquality() (expr, error) {
	return p.binLevel(p.parseRelational, "==", "!=")
}
func (p *parser) parseRelational() (expr, error) {
	return p.binLevel(p.parseShift, "<", ">", "<=", ">=")
}
func (p *parser) parseShift() (expr, error) { return p.binLevel(p.parseAdditive, "<<", ">>") }
func (p *parser) parseAdditive() (expr, error) {
	return p.binLevel(p.parseMultiplicative, "+", "-")
}
func (p *parser) parseMultiplicative() (expr, error) {
	return p.binLevel(p.parseUnary, "*", "/", "%")
}

func (p *parser) parseUnary() (expr, error) {
	if p.tok.kind == tokPunct {
		switch p.tok.text {
		case "-", "!", "~", "&", "*":
			op := p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &unaryExpr{op: op, x: x}, nil
		case "++", "--":
			op := p.tok.text + "pre"
			if err := p.advance(); err != nil {
				return nil, err
			}
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &unaryExpr{op: op, x: x}, nil
		}
	}
	if p.isKw("sizeof") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isPunct("(") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.atTypeStart() {
				if _, err := p.parseTypeSpec(); err != nil {
					return nil, err
				}
				for p.isPunct("*") {
					if err := p.advance(); err != nil {
						return nil, err
					}
				}
				if err := p.expectPunct(")"); err != nil {
					return nil, err
				}
				return &intLit{v: 8}, nil // pointer-sized default
			}
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &unaryExpr{op: "sizeof", x: x}, nil
		}
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isPunct("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			x = &indexExpr{x: x, idx: idx}
		case p.isPunct("++"), p.isPunct("--"):
			op := p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			x = &postfixExpr{op: op, x: x}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (expr, error) {
	switch {
	case p.tok.kind == tokIntLit:
		v := p.tok.ival
		return &intLit{v: v}, p.advance()

	case p.tok.kind == tokCharLit:
		v := p.tok.ival
		return &intLit{v: v}, p.advance()

	case p.tok.kind == tokStringLit:
		v, wide := p.tok.text, p.tok.wide
		return &strLit{v: v, wide: wide}, p.advance()

	case p.tok.kind == tokIdent:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isPunct("(") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			var args []expr
			for !p.isPunct(")") {
				a, err := p.parseAssignExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.isPunct(",") {
					if err := p.advance(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &callExpr{callee: name, args: args}, nil
		}
		return &identExpr{name: name}, nil

	case p.isPunct("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return x, nil

	default:
		return nil, p.errf("expected an expression, found %q", p.tok.text)
	}
}
