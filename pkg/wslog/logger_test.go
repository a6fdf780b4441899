package wslog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLoggerSeverityRouting(t *testing.T) {
	var console bytes.Buffer
	ring := NewRing(4096)
	l := NewConsoleLogger(&console, ring)

	l.Warnf("cluster %d looks odd", 7)
	l.Errorf("mount failed: %s", "bad BPB")

	out := console.String()
	assert.Contains(t, out, "warning: cluster 7 looks odd\n")
	assert.Contains(t, out, "error: mount failed: bad BPB\n")

	// Only errors reach the capture ring.
	assert.NotContains(t, ring.String(), "cluster 7")
	assert.Contains(t, ring.String(), "error: mount failed: bad BPB\n")
}

func TestConsoleLoggerFatalfUsesTerminate(t *testing.T) {
	var console bytes.Buffer
	terminated := false
	l := NewConsoleLogger(&console, nil)
	l.Terminate = func() { terminated = true }

	l.Fatalf("no usable framebuffer")
	assert.True(t, terminated)
	assert.Contains(t, console.String(), "fatal: no usable framebuffer\n")
}

func TestConsoleLoggerNilSinks(t *testing.T) {
	l := &ConsoleLogger{} // no console, no capture
	l.Warnf("goes nowhere")
	l.Errorf("also nowhere")
}

func TestRingCaptureAndBound(t *testing.T) {
	r := NewRing(64)
	r.Errorf("first failure")
	r.Warnf("then a warning")
	assert.Contains(t, r.String(), "first failure\n")
	assert.Contains(t, r.String(), "warning: then a warning\n")

	r.Reset()
	require.Zero(t, r.Len())
	r.Errorf(strings.Repeat("x", 500))
	assert.LessOrEqual(t, r.Len(), 64)
}
