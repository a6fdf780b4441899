package cc

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCall(t *testing.T, p *Program, name string, args ...Value) Value {
	t.Helper()
	fn, ok := p.Lookup(name)
	require.True(t, ok, "function %q not found", name)
	v, err := fn.Call(args...)
	require.NoError(t, err)
	return v
}

func TestCompileReturn42(t *testing.T) {
	c := New()
	p, err := c.Compile("int main(void) { return 42; }", "test.c")
	require.NoError(t, err)
	assert.Equal(t, int64(42), mustCall(t, p, "main").Int)
	assert.Empty(t, c.Errors())
}

func TestArithmeticAndControlFlow(t *testing.T) {
	src := `
int fib(int n) {
	if (n < 2) return n;
	return fib(n - 1) + fib(n - 2);
}
int sum(void) {
	int total = 0;
	int i;
	for (i = 1; i <= 10; i++) {
		if (i == 5) continue;
		total += i;
	}
	while (total > 100) { total -= 7; break; }
	return total;
}
`
	c := New()
	p, err := c.Compile(src, "math.c")
	require.NoError(t, err)
	assert.Equal(t, int64(55), mustCall(t, p, "fib", IntValue(10)).Int)
	assert.Equal(t, int64(50), mustCall(t, p, "sum").Int)
}

func TestPointersAndArrays(t *testing.T) {
	src := `
int count(char *s) {
	int n = 0;
	while (s[n]) n++;
	return n;
}
int scratch(void) {
	char buf[8];
	buf[0] = 'h';
	buf[1] = 'i';
	buf[2] = 0;
	return count(buf);
}
`
	c := New()
	p, err := c.Compile(src, "ptr.c")
	require.NoError(t, err)
	assert.Equal(t, int64(5), mustCall(t, p, "count", PtrValue([]byte("hello\x00"))).Int)
	assert.Equal(t, int64(2), mustCall(t, p, "scratch").Int)
}

func TestGlobalsPersistAcrossCalls(t *testing.T) {
	src := `
int counter = 5;
int bump(void) { counter = counter + 3; return counter; }
`
	c := New()
	p, err := c.Compile(src, "g.c")
	require.NoError(t, err)
	assert.Equal(t, int64(8), mustCall(t, p, "bump").Int)
	assert.Equal(t, int64(11), mustCall(t, p, "bump").Int)
}

func TestExternSymbolCall(t *testing.T) {
	var got []Value
	c := New()
	c.RegisterSymbol("observe", func(args []Value) Value {
		got = args
		return IntValue(7)
	})
	p, err := c.Compile(`int main(void) { return observe(1, "two"); }`, "ext.c")
	require.NoError(t, err)
	assert.Equal(t, int64(7), mustCall(t, p, "main").Int)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Int)
	assert.Equal(t, "two", got[1].Str())
}

func TestSyntaxErrorNamesFileAndLine(t *testing.T) {
	c := New()
	_, err := c.Compile("int main(void) { return ; }", "prog.c")
	require.Error(t, err)
	// Scenario 3: a line-1 diagnostic referencing the supplied filename.
	assert.Contains(t, c.Errors(), "prog.c:1:")
	require.NotEmpty(t, c.Diagnostics())
	d := c.Diagnostics()[0]
	assert.Equal(t, "prog.c", d.File)
	assert.Equal(t, 1, d.Line)
}

func TestDefineAndInclude(t *testing.T) {
	c := New()
	c.Define("ANSWER", "40")
	c.SetIncludeResolver(MapResolver(map[string]string{
		"two.h": "#define TWO 2\n",
	}))
	src := "#include \"two.h\"\nint main(void) { return ANSWER + TWO; }"
	p, err := c.Compile(src, "inc.c")
	require.NoError(t, err)
	assert.Equal(t, int64(42), mustCall(t, p, "main").Int)
}

func TestWideStringLiteralIsUTF16(t *testing.T) {
	var captured []byte
	c := New()
	c.RegisterSymbol("take", func(args []Value) Value {
		captured = args[0].Ptr
		return Value{}
	})
	_, err := c.Compile(`int main(void) { take(L"AB"); return 0; }`, "w.c")
	require.NoError(t, err)
	p, err := c.Program()
	require.NoError(t, err)
	mustCall(t, p, "main")
	// Two 16-bit code units plus a 16-bit terminator.
	assert.Equal(t, []byte{'A', 0, 'B', 0, 0, 0}, captured)
}

func TestErrorRingIsBounded(t *testing.T) {
	c := New()
	for i := 0; i < 200; i++ {
		_, _ = c.Compile("int bad(void) { return ; }", "spam.c")
	}
	assert.LessOrEqual(t, len(c.Errors()), errRingCap)
}

const firmwareTestSrc = `
int answer = 42;
int triple(int n) { return n * 3; }
int efi_main(int image, int systab) {
	int x = triple(answer);
	if (x > 100) return x - 100;
	return x;
}
`

func TestEmitFirmwareBinaryAMD64(t *testing.T) {
	c := New()
	c.SetOutputKind(OutputFirmwareBinary)
	c.SetArch("amd64")
	require.NoError(t, c.CompileSource(firmwareTestSrc, "ws.c"))
	img, err := c.EmitFirmwareBinary()
	require.NoError(t, err)

	assert.Equal(t, "MZ", string(img[0:2]))
	peOff := binary.LittleEndian.Uint32(img[0x3C:])
	assert.Equal(t, "PE\x00\x00", string(img[peOff:peOff+4]))
	machine := binary.LittleEndian.Uint16(img[peOff+4:])
	assert.Equal(t, uint16(0x8664), machine)
	// Subsystem tag = firmware application (10), at offset 68 of the
	// PE32+ optional header.
	opt := peOff + 4 + 20
	assert.Equal(t, uint16(0x20B), binary.LittleEndian.Uint16(img[opt:]))
	assert.Equal(t, uint16(10), binary.LittleEndian.Uint16(img[opt+68:]))
	// Image base 0; relocations preserved (characteristics bit 0 clear).
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(img[opt+24:]))
	chars := binary.LittleEndian.Uint16(img[peOff+22:])
	assert.Zero(t, chars&0x0001)
	// Entry point RVA must be inside .text.
	entry := binary.LittleEndian.Uint32(img[opt+16:])
	assert.GreaterOrEqual(t, entry, uint32(0x1000))
}

func TestEmitFirmwareBinaryARM64RelaxesGOTPairs(t *testing.T) {
	c := New()
	c.SetOutputKind(OutputFirmwareBinary)
	c.SetArch("arm64")
	require.NoError(t, c.CompileSource(firmwareTestSrc, "ws.c"))
	img, err := c.EmitFirmwareBinary()
	require.NoError(t, err)

	peOff := binary.LittleEndian.Uint32(img[0x3C:])
	assert.Equal(t, uint16(0xAA64), binary.LittleEndian.Uint16(img[peOff+4:]))

	// The global load in efi_main was emitted as an adrp/ldr GOT pair;
	// after linking no GOT exists, so no 64-bit LDR with the GOT
	// pattern may survive unrelaxed against .data. Every former LDR
	// must now be an ADD-immediate. We detect leftovers by scanning
	// .text for words that still match the placeholder encoding the
	// backend emits (LDR x0, [x0, #0]) immediately after an ADRP.
	textOff := binary.LittleEndian.Uint32(img[peOff+4+20+240+20:])
	textSize := binary.LittleEndian.Uint32(img[peOff+4+20+240+8:])
	for off := uint32(0); off+8 <= textSize; off += 4 {
		w := binary.LittleEndian.Uint32(img[textOff+off:])
		next := binary.LittleEndian.Uint32(img[textOff+off+4:])
		if w&0x9F000000 == 0x90000000 && next == 0xF9400000 {
			t.Fatalf("unrelaxed GOT pair at .text+%#x", off)
		}
	}
}

func TestMultiFileUnit(t *testing.T) {
	c := New()
	require.NoError(t, c.CompileSource("int helper(void);\nint main(void) { return helper(); }", "a.c"))
	require.NoError(t, c.CompileSource("int helper(void) { return 9; }", "b.c"))
	p, err := c.Program()
	require.NoError(t, err)
	assert.Equal(t, int64(9), mustCall(t, p, "main").Int)
}

func TestRedefinitionRejected(t *testing.T) {
	c := New()
	require.NoError(t, c.CompileSource("int f(void) { return 1; }", "a.c"))
	err := c.CompileSource("int f(void) { return 2; }", "b.c")
	require.Error(t, err)
	assert.True(t, strings.Contains(c.Errors(), "redefinition"))
}
