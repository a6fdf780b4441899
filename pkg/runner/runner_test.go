package runner

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survival/pkg/firmware/simfw"
	"github.com/levkropp/survival/pkg/fs/fat32"
	"github.com/levkropp/survival/pkg/memalloc"
)

func newTestRunner(t *testing.T) (*Runner, *bytes.Buffer) {
	t.Helper()
	fw := simfw.New(nil)
	alloc := memalloc.New(fw)
	var console bytes.Buffer
	return New(fw, alloc, nil, &console), &console
}

func TestRunSourceReturn42(t *testing.T) {
	// Scenario 1.
	r, _ := newTestRunner(t)
	res, err := r.RunSource("int main(void) { return 42; }", "test.c")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 42, res.ExitCode)
	assert.Empty(t, res.ErrorMsg)
}

func TestRunSourceExit(t *testing.T) {
	// Scenario 2: exit() takes the nonlocal path but still counts as a
	// successful run with the requested code.
	r, _ := newTestRunner(t)
	res, err := r.RunSource("int main(void) { exit(7); return 0; }", "test.c")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 7, res.ExitCode)
}

func TestRunSourceExitZero(t *testing.T) {
	// The zero code crosses the transfer as a sentinel and must be
	// mapped back (§4.J step 8).
	r, _ := newTestRunner(t)
	res, err := r.RunSource("int main(void) { exit(0); return 9; }", "test.c")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunSourceCompileError(t *testing.T) {
	// Scenario 3: a line-1 diagnostic referencing the supplied filename.
	r, _ := newTestRunner(t)
	res, err := r.RunSource("int main(void) { return ; }", "broken.c")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMsg, "broken.c:1:")
}

func TestRunSourceNoMain(t *testing.T) {
	r, _ := newTestRunner(t)
	res, err := r.RunSource("int helper(void) { return 1; }", "x.c")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "No main() function found", res.ErrorMsg)
}

func TestRunSourcePrintfToConsole(t *testing.T) {
	r, console := newTestRunner(t)
	res, err := r.RunSource(`int main(void) { printf("n=%d s=%s", 5, "ok"); return 0; }`, "p.c")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "n=5 s=ok", console.String())
}

func TestRunSourceMallocAndStrings(t *testing.T) {
	src := `
int main(void) {
	char *p = malloc(16);
	memset(p, 'a', 4);
	p[4] = 0;
	int n = strlen(p);
	free(p);
	return n;
}
`
	r, _ := newTestRunner(t)
	res, err := r.RunSource(src, "m.c")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.ExitCode)
}

func TestRunSourceReadsFilesFromVolume(t *testing.T) {
	fw := simfw.New(nil)
	alloc := memalloc.New(fw)
	dev := make([]byte, 64<<20)
	require.NoError(t, fat32.Format(dev, "TEST"))
	vol, err := fat32.Mount(dev)
	require.NoError(t, err)
	require.NoError(t, vol.WriteFile("/data.txt", []byte("hello")))

	r := New(fw, alloc, vol, nil)
	src := `
int main(void) {
	char buf[16];
	int fd = open("/data.txt");
	if (fd < 0) return -1;
	int n = read(fd, buf, 16);
	close(fd);
	return n;
}
`
	res, err := r.RunSource(src, "f.c")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 5, res.ExitCode)
}

func TestRunSourceIncludeResolution(t *testing.T) {
	fw := simfw.New(nil)
	alloc := memalloc.New(fw)
	dev := make([]byte, 64<<20)
	require.NoError(t, fat32.Format(dev, "TEST"))
	vol, err := fat32.Mount(dev)
	require.NoError(t, err)
	require.NoError(t, vol.MkdirAll("/include"))
	require.NoError(t, vol.WriteFile("/include/answer.h", []byte("#define ANSWER 42\n")))

	r := New(fw, alloc, vol, nil)
	res, err := r.RunSource("#include \"answer.h\"\nint main(void) { return ANSWER; }", "i.c")
	require.NoError(t, err)
	assert.True(t, res.Success, "errors: %s", res.ErrorMsg)
	assert.Equal(t, 42, res.ExitCode)
}

func TestRunSourceErrorRingIsBounded(t *testing.T) {
	r, _ := newTestRunner(t)
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteString("int main(void) { return ; }\n")
	}
	res, err := r.RunSource(sb.String(), "spam.c")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.LessOrEqual(t, len(res.ErrorMsg), 4096)
}
