package cc

// tokenKind enumerates the lexical categories the lexer produces.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokIntLit
	tokCharLit
	tokStringLit
	tokPunct
	tokKeyword
)

// token is one lexical unit, carrying the source position the
// preprocessor's synthetic #line directive assigned it (§3 "source text
// with synthetic #line 1 "<filename>" preamble").
type token struct {
	kind tokenKind
	text string // identifier/keyword spelling, punctuator spelling, or decoded string/char value
	ival int64  // decoded value for tokIntLit/tokCharLit
	wide bool   // tokStringLit only: L"..." form (16-bit code units)
	file string
	line int
}

var keywords = map[string]bool{
	"int": true, "char": true, "void": true, "unsigned": true, "long": true,
	"short": true, "const": true, "if": true, "else": true, "while": true,
	"for": true, "return": true, "break": true, "continue": true,
	"struct": true, "sizeof": true, "static": true, "extern": true,
}
