package bytes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeIntersects(t *testing.T) {
	cases := []struct {
		name string
		a, b Range
		want bool
	}{
		{"disjoint", Range{0, 10}, Range{10, 10}, false},
		{"adjacent reversed", Range{10, 10}, Range{0, 10}, false},
		{"one byte shared", Range{0, 11}, Range{10, 10}, true},
		{"nested", Range{0, 100}, Range{20, 5}, true},
		{"identical", Range{5, 5}, Range{5, 5}, true},
		{"empty never intersects", Range{5, 0}, Range{0, 100}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Intersects(tc.b))
			assert.Equal(t, tc.want, tc.b.Intersects(tc.a))
		})
	}
}

func TestRangeContains(t *testing.T) {
	r := Range{Offset: 10, Length: 5}
	assert.False(t, r.Contains(9))
	assert.True(t, r.Contains(10))
	assert.True(t, r.Contains(14))
	assert.False(t, r.Contains(15))
}

func TestRangesOverlapping(t *testing.T) {
	disjoint := Ranges{{100, 10}, {0, 34}, {50, 10}}
	_, _, overlap := disjoint.Overlapping()
	assert.False(t, overlap)

	clashing := Ranges{{0, 34}, {100, 10}, {30, 10}}
	a, b, overlap := clashing.Overlapping()
	assert.True(t, overlap)
	assert.True(t, a.Intersects(b))
}

func TestIsZeroFilled(t *testing.T) {
	assert.True(t, IsZeroFilled(nil))
	assert.True(t, IsZeroFilled(make([]byte, 3)))
	assert.True(t, IsZeroFilled(make([]byte, 4096)))

	for _, idx := range []int{0, 7, 8, 4095} {
		b := make([]byte, 4096)
		b[idx] = 1
		assert.False(t, IsZeroFilled(b), "nonzero at %d", idx)
	}

	short := []byte{0, 0, 0, 0, 0, 1}
	assert.False(t, IsZeroFilled(short))
}
