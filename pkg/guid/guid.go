// Package guid implements the mixed-endian GUID encoding that GPT
// entries and firmware interfaces store on disk: the first three
// fields little-endian, the final two big-endian, 16 bytes total.
package guid

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the encoded length in bytes.
const Size = 16

// canonical is the accepted textual form: 8-4-4-4-12 hex digits.
const canonical = "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx"

// GUID is one identifier in on-disk (mixed-endian) byte order.
type GUID [Size]byte

// fieldLens drives the per-field byte swap between text order and
// on-disk order: the first three fields are stored little-endian, the
// remaining eight bytes verbatim.
var fieldLens = [...]int{4, 2, 2}

// Parse decodes the canonical "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx"
// form into on-disk byte order.
func Parse(s string) (*GUID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 5 || len(s) != len(canonical) {
		return nil, fmt.Errorf("guid: %q is not of the form %s", s, canonical)
	}
	raw, err := hex.DecodeString(strings.Join(parts, ""))
	if err != nil || len(raw) != Size {
		return nil, fmt.Errorf("guid: %q is not of the form %s", s, canonical)
	}
	var g GUID
	copy(g[:], raw)
	off := 0
	for _, n := range fieldLens {
		swap(g[off : off+n])
		off += n
	}
	return &g, nil
}

// MustParse is Parse for compile-time constants; it panics on a
// malformed literal.
func MustParse(s string) *GUID {
	g, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return g
}

// String renders the canonical textual form.
func (g GUID) String() string {
	// Value receiver: the per-field swap below works on a copy.
	off := 0
	for _, n := range fieldLens {
		swap(g[off : off+n])
		off += n
	}
	h := hex.EncodeToString(g[:])
	return strings.ToUpper(
		h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32])
}

func swap(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
