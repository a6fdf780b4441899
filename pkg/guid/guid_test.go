package guid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMixedEndianLayout(t *testing.T) {
	g, err := Parse("01234567-89AB-CDEF-0123-456789ABCDEF")
	require.NoError(t, err)
	// First three fields little-endian, tail verbatim.
	want := GUID{0x67, 0x45, 0x23, 0x01, 0xAB, 0x89, 0xEF, 0xCD,
		0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	assert.Equal(t, want, *g)
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{
		"01234567-89AB-CDEF-0123-456789ABCDEF",
		"C12A7328-F81F-11D2-BA4B-00A0C93EC93B",
		"00000000-0000-0000-0000-000000000000",
	} {
		g, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, g.String())
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	for _, s := range []string{
		"",
		"01234567",
		"0123456789ABCDEF0123456789ABCDEF",     // missing hyphens
		"01234567-89AB-CDEF-0123-456789ABCDEG", // non-hex digit
		"01234567_89AB_CDEF_0123_456789ABCDEF", // wrong separators
		"01234567-89AB-CDEF-0123-456789ABCDEF0",
	} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestWellKnownESPBytes(t *testing.T) {
	// The on-disk form GPT entries store, byte for byte.
	assert.Equal(t, GUID{0x28, 0x73, 0x2A, 0xC1, 0x1F, 0xF8, 0xD2, 0x11,
		0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B}, ESP)
}

func TestIsZero(t *testing.T) {
	assert.True(t, GUID{}.IsZero())
	assert.False(t, ESP.IsZero())
}

func TestMustParsePanicsOnBadLiteral(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
}
