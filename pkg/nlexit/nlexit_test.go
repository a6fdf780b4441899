package nlexit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/levkropp/survival/pkg/nlexit"
)

// TestSaveDirectReturn covers Testable Property 7's direct-return case:
// body returns normally with value V.
func TestSaveDirectReturn(t *testing.T) {
	ctx := nlexit.New()
	direct, value := ctx.Save(func() int { return 42 })
	assert.True(t, direct)
	assert.Equal(t, 42, value)
	assert.False(t, ctx.Active())
}

// TestSaveNonlocalReturn covers the nonlocal-return case with a nonzero
// code.
func TestSaveNonlocalReturn(t *testing.T) {
	ctx := nlexit.New()
	direct, value := ctx.Save(func() int {
		ctx.Restore(7)
		return 0 // unreachable
	})
	assert.False(t, direct)
	assert.Equal(t, 7, value)
}

// TestSaveNonlocalReturnZeroSubstituted covers §4.G: a caller-supplied
// code of zero is substituted with 1 so the two paths are always
// distinguishable.
func TestSaveNonlocalReturnZeroSubstituted(t *testing.T) {
	ctx := nlexit.New()
	direct, value := ctx.Save(func() int {
		ctx.Restore(0)
		return 0
	})
	assert.False(t, direct)
	assert.Equal(t, 1, value)
}

// TestRestoreOnDisarmedContextIsNoop covers the "no landing site armed"
// degenerate case: Restore must not panic out to an unrelated caller.
func TestRestoreOnDisarmedContextIsNoop(t *testing.T) {
	ctx := nlexit.New()
	assert.NotPanics(t, func() { ctx.Restore(5) })
}

// TestNestedCallRestores exercises a nonlocal jump raised several
// levels deep in body's call graph, matching "unwinds zero intermediate
// frames" from the caller's point of view (§5).
func TestNestedCallRestores(t *testing.T) {
	ctx := nlexit.New()
	var level3 func() int
	level3 = func() int {
		ctx.Restore(9)
		return -1
	}
	level2 := func() int { return level3() }
	level1 := func() int { return level2() }

	direct, value := ctx.Save(level1)
	assert.False(t, direct)
	assert.Equal(t, 9, value)
}
