package libc

import (
	"strconv"
	"strings"
)

// Vsnprintf is the core formatted-output routine (§4.F): every public
// entry point (Printf, Sprintf, Snprintf, Fprintf) is a thin wrapper
// around it. It supports conversions d i u x X o p s c n % and flags
// 0 - + space, fixed or '*' width/precision, and accepts (but does not
// act on, since Go's args are already correctly typed) the length
// modifiers l ll h hh z j t for source compatibility with C format
// strings the compiler's own code uses. Floating-point conversions
// (f e g a) are deliberately unimplemented: the bundled compiler uses
// none of them internally.
//
// args are consumed left to right exactly like a C va_list; '*' width/
// precision consume one arg each before the conversion's own argument.
func Vsnprintf(format string, args ...interface{}) string {
	var out strings.Builder
	ai := 0
	next := func() interface{} {
		if ai < len(args) {
			v := args[ai]
			ai++
			return v
		}
		return nil
	}

	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			i++
			continue
		}
		i++
		if i >= len(format) {
			break
		}

		// Flags.
		var zeroPad, leftAlign, plusSign, spaceSign bool
		for i < len(format) {
			switch format[i] {
			case '0':
				zeroPad = true
			case '-':
				leftAlign = true
			case '+':
				plusSign = true
			case ' ':
				spaceSign = true
			default:
				goto flagsDone
			}
			i++
		}
	flagsDone:

		// Width.
		width := 0
		if i < len(format) && format[i] == '*' {
			width = toInt(next())
			i++
		} else {
			for i < len(format) && format[i] >= '0' && format[i] <= '9' {
				width = width*10 + int(format[i]-'0')
				i++
			}
		}

		// Precision.
		precision := -1
		if i < len(format) && format[i] == '.' {
			i++
			precision = 0
			if i < len(format) && format[i] == '*' {
				precision = toInt(next())
				i++
			} else {
				for i < len(format) && format[i] >= '0' && format[i] <= '9' {
					precision = precision*10 + int(format[i]-'0')
					i++
				}
			}
		}

		// Length modifiers: consumed for compatibility, otherwise inert.
		for i < len(format) {
			switch format[i] {
			case 'l', 'h', 'z', 'j', 't':
				i++
				continue
			}
			break
		}

		if i >= len(format) {
			break
		}
		verb := format[i]
		i++

		var s string
		switch verb {
		case '%':
			s = "%"
		case 'd', 'i':
			n := toInt64(next())
			s = formatSignedInt(n, 10, false, plusSign, spaceSign)
		case 'u':
			s = strconv.FormatUint(toUint64(next()), 10)
		case 'x':
			s = strconv.FormatUint(toUint64(next()), 16)
		case 'X':
			s = strings.ToUpper(strconv.FormatUint(toUint64(next()), 16))
		case 'o':
			s = strconv.FormatUint(toUint64(next()), 8)
		case 'p':
			s = "0x" + strconv.FormatUint(toUint64(next()), 16)
		case 'c':
			s = string(rune(toInt(next())))
		case 's':
			s = toStr(next())
			if precision >= 0 && precision < len(s) {
				s = s[:precision]
			}
		case 'n':
			// Store-chars-written-so-far: unsupported without a real
			// pointer target in this shim; its pointer argument is
			// consumed and nothing is stored.
			next()
			continue
		default:
			out.WriteByte('%')
			out.WriteByte(verb)
			continue
		}

		if width > len(s) {
			pad := width - len(s)
			padChar := byte(' ')
			if zeroPad && !leftAlign && verb != 's' && verb != 'c' {
				padChar = '0'
			}
			padding := strings.Repeat(string(padChar), pad)
			if leftAlign {
				s = s + strings.Repeat(" ", pad)
			} else if padChar == '0' && len(s) > 0 && (s[0] == '-' || s[0] == '+') {
				s = s[:1] + padding + s[1:]
			} else {
				s = padding + s
			}
		}
		out.WriteString(s)
	}
	return out.String()
}

func formatSignedInt(n int64, base int, _, plusSign, spaceSign bool) string {
	s := strconv.FormatInt(n, base)
	if n >= 0 {
		if plusSign {
			s = "+" + s
		} else if spaceSign {
			s = " " + s
		}
	}
	return s
}

func toInt(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	default:
		return 0
	}
}

func toUint64(v interface{}) uint64 {
	switch x := v.(type) {
	case int:
		return uint64(x)
	case int32:
		return uint64(x)
	case int64:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	default:
		return 0
	}
}

func toStr(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return cstr(x)
	default:
		return ""
	}
}

// Snprintf writes the formatted result into dst, bounded to len(dst)-1
// bytes plus a NUL terminator (the real function's contract), and
// returns the number of bytes that would have been written had dst been
// unbounded.
func Snprintf(dst []byte, format string, args ...interface{}) int {
	s := Vsnprintf(format, args...)
	if len(dst) == 0 {
		return len(s)
	}
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
	return len(s)
}

// Printf and Puts route through the Shim's sink to stdout (fd 1), per
// §4.F "all formatted-output functions route to vsnprintf plus an
// output sink".

// Printf formats and writes to stdout.
func (s *Shim) Printf(format string, args ...interface{}) int {
	out := Vsnprintf(format, args...)
	s.Sink.WriteStream(FDStdout, []byte(out))
	return len(out)
}

// Fprintf formats and writes to the given stream fd (1 or 2).
func (s *Shim) Fprintf(fd int32, format string, args ...interface{}) int {
	out := Vsnprintf(format, args...)
	s.Sink.WriteStream(fd, []byte(out))
	return len(out)
}

// Puts writes s plus a trailing newline to stdout.
func (s *Shim) Puts(str []byte) int {
	line := cstr(str) + "\n"
	s.Sink.WriteStream(FDStdout, []byte(line))
	return len(line)
}
