package cc

import (
	"fmt"
	"strings"
)

// lexer tokenizes preprocessed source text, tracking the current
// synthetic file/line so diagnostics reference the filename §4.J's
// "#line 1 "<filename>"" preamble names (Testable Property / Scenario 3).
type lexer struct {
	src  string
	pos  int
	file string
	line int
}

func newLexer(src, file string) *lexer {
	return &lexer{src: src, file: file, line: 1}
}

func (l *lexer) errf(format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d: %s", l.file, l.line, fmt.Sprintf(format, args...))
}

func (l *lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) at(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

// skipSpaceAndComments consumes whitespace and C/C++-style comments,
// honoring the synthetic "#line N "file"" directives the preprocessor
// stamps into the source so later diagnostics report the caller's
// filename instead of the concatenated buffer's own line count.
func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '/' && l.at(1) == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '/' && l.at(1) == '*':
			l.pos += 2
			for l.pos < len(l.src) && !(l.src[l.pos] == '*' && l.at(1) == '/') {
				if l.src[l.pos] == '\n' {
					l.line++
				}
				l.pos++
			}
			l.pos += 2
		case c == '#' && l.atLineStart():
			if err := l.consumeLineDirective(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

// atLineStart reports whether l.pos is the first non-space character of
// its line, so a bare '#' inside an expression is never mistaken for a
// directive.
func (l *lexer) atLineStart() bool {
	i := l.pos - 1
	for i >= 0 && (l.src[i] == ' ' || l.src[i] == '\t') {
		i--
	}
	return i < 0 || l.src[i] == '\n'
}

// consumeLineDirective parses a synthetic `#line N "file"` directive
// emitted by preprocess() and updates l.file/l.line to match, so
// diagnostics always name the caller's filename (§4.J step 4) rather
// than an internal offset into the concatenated translation unit.
func (l *lexer) consumeLineDirective() error {
	start := l.pos
	end := strings.IndexByte(l.src[start:], '\n')
	if end < 0 {
		end = len(l.src) - start
	}
	directive := l.src[start : start+end]
	l.pos = start + end

	var n int
	var file string
	rest := strings.TrimSpace(strings.TrimPrefix(directive, "#"))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "line"))
	if _, err := fmt.Sscanf(rest, "%d", &n); err == nil {
		if q := strings.IndexByte(rest, '"'); q >= 0 {
			rest2 := rest[q+1:]
			if q2 := strings.IndexByte(rest2, '"'); q2 >= 0 {
				file = rest2[:q2]
			}
		}
		// The directive names the number of the NEXT line; its own
		// trailing newline performs the increment.
		l.line = n - 1
		if file != "" {
			l.file = file
		}
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// next returns the next token, or an error for malformed literals.
func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, file: l.file, line: l.line}, nil
	}
	file, line := l.file, l.line
	c := l.src[l.pos]

	switch {
	case c == 'L' && l.at(1) == '"':
		// Wide string literal. §4.H's wide character contract: L"..."
		// yields 16-bit code units regardless of target platform
		// convention; the lexer only marks the token, encoding happens
		// where the literal is materialized.
		l.pos++
		t, err := l.lexString(file, line)
		t.wide = true
		return t, err

	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.src) && isIdentCont(l.src[l.pos]) {
			l.pos++
		}
		text := l.src[start:l.pos]
		kind := tokIdent
		if keywords[text] {
			kind = tokKeyword
		}
		return token{kind: kind, text: text, file: file, line: line}, nil

	case isDigit(c):
		return l.lexNumber(file, line)

	case c == '"':
		return l.lexString(file, line)

	case c == '\'':
		return l.lexChar(file, line)

	default:
		return l.lexPunct(file, line)
	}
}

func (l *lexer) lexNumber(file string, line int) (token, error) {
	start := l.pos
	base := 10
	if l.peekByte() == '0' && (l.at(1) == 'x' || l.at(1) == 'X') {
		base = 16
		l.pos += 2
		for l.pos < len(l.src) && isHexDigit(l.src[l.pos]) {
			l.pos++
		}
	} else if l.peekByte() == '0' && isDigit(l.at(1)) {
		base = 8
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7' {
			l.pos++
		}
	} else {
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	text := l.src[start:l.pos]
	// Integer-suffix characters (u/U/l/L) are accepted and discarded;
	// this compiler does not distinguish integer ranks beyond int64.
	for l.pos < len(l.src) && strings.ContainsRune("uUlL", rune(l.src[l.pos])) {
		l.pos++
	}
	var v int64
	digits := text
	switch base {
	case 16:
		digits = text[2:]
	case 8:
		digits = text[1:]
	}
	if digits == "" {
		v = 0
	} else {
		var parsed uint64
		for _, ch := range []byte(digits) {
			d, ok := hexVal(ch)
			if !ok || d >= base {
				return token{}, l.errf("invalid digit %q in numeric literal %q", ch, text)
			}
			parsed = parsed*uint64(base) + uint64(d)
		}
		v = int64(parsed)
	}
	return token{kind: tokIntLit, text: text, ival: v, file: file, line: line}, nil
}

func isHexDigit(c byte) bool {
	_, ok := hexVal(c)
	return ok
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

func (l *lexer) lexString(file string, line int) (token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, l.errf("unterminated string literal")
		}
		c := l.src[l.pos]
		if c == '"' {
			l.pos++
			break
		}
		if c == '\\' {
			esc, n := decodeEscape(l.src[l.pos:])
			sb.WriteByte(esc)
			l.pos += n
			continue
		}
		if c == '\n' {
			return token{}, l.errf("unterminated string literal")
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{kind: tokStringLit, text: sb.String(), file: file, line: line}, nil
}

func (l *lexer) lexChar(file string, line int) (token, error) {
	l.pos++ // opening quote
	if l.pos >= len(l.src) {
		return token{}, l.errf("unterminated character literal")
	}
	var v byte
	if l.src[l.pos] == '\\' {
		esc, n := decodeEscape(l.src[l.pos:])
		v = esc
		l.pos += n
	} else {
		v = l.src[l.pos]
		l.pos++
	}
	if l.pos >= len(l.src) || l.src[l.pos] != '\'' {
		return token{}, l.errf("unterminated character literal")
	}
	l.pos++
	return token{kind: tokCharLit, ival: int64(v), file: file, line: line}, nil
}

// decodeEscape decodes one backslash escape starting at s[0]=='\\' and
// reports how many bytes of s it consumed.
func decodeEscape(s string) (byte, int) {
	if len(s) < 2 {
		return '\\', 1
	}
	switch s[1] {
	case 'n':
		return '\n', 2
	case 't':
		return '\t', 2
	case 'r':
		return '\r', 2
	case '0':
		return 0, 2
	case '\\':
		return '\\', 2
	case '\'':
		return '\'', 2
	case '"':
		return '"', 2
	default:
		return s[1], 2
	}
}

var punctuators = []string{
	"<<=", ">>=", "...",
	"<<", ">>", "<=", ">=", "==", "!=", "&&", "||", "->", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=",
	"+", "-", "*", "/", "%", "=", "<", ">", "!", "&", "|", "^", "~",
	"(", ")", "{", "}", "[", "]", ";", ",", ".", "?", ":",
}

func (l *lexer) lexPunct(file string, line int) (token, error) {
	rest := l.src[l.pos:]
	for _, p := range punctuators {
		if strings.HasPrefix(rest, p) {
			l.pos += len(p)
			return token{kind: tokPunct, text: p, file: file, line: line}, nil
		}
	}
	return token{}, l.errf("unexpected character %q", rest[0])
}
