package firmware

import "testing"

// TestNormalizeCtrlLetters is Testable Property 6: for every letter
// L in {'a'...'z','A'...'Z'}, an event reported as (code=L, mods=Ctrl) is
// normalized to (code=L&0x1F, mods={}), and the two encodings are never
// both observable.
func TestNormalizeCtrlLetters(t *testing.T) {
	for c := byte('a'); c <= 'z'; c++ {
		got := Normalize(uint16(c), ModCtrl)
		want := KeyEvent{Code: uint16(c) & 0x1F, Mods: 0}
		if got != want {
			t.Errorf("Normalize(%q, Ctrl) = %+v, want %+v", c, got, want)
		}
	}
	for c := byte('A'); c <= 'Z'; c++ {
		got := Normalize(uint16(c), ModCtrl)
		want := KeyEvent{Code: uint16(c) & 0x1F, Mods: 0}
		if got != want {
			t.Errorf("Normalize(%q, Ctrl) = %+v, want %+v", c, got, want)
		}
	}
}

// TestNormalizeCtrlC is Scenario 6.
func TestNormalizeCtrlC(t *testing.T) {
	got := Normalize('c', ModCtrl)
	want := KeyEvent{Code: 0x03, Mods: 0}
	if got != want {
		t.Fatalf("Normalize('c', Ctrl) = %+v, want %+v", got, want)
	}
}

func TestNormalizePassThrough(t *testing.T) {
	// Printable ASCII with no Ctrl modifier passes through unchanged.
	got := Normalize('x', ModShift)
	want := KeyEvent{Code: 'x', Mods: ModShift}
	if got != want {
		t.Fatalf("Normalize('x', Shift) = %+v, want %+v", got, want)
	}
	// Already-raw control characters (e.g. from a keyboard protocol that
	// reports them directly) pass through with no modifier added.
	got = Normalize(0x03, 0)
	want = KeyEvent{Code: 0x03, Mods: 0}
	if got != want {
		t.Fatalf("Normalize(0x03, {}) = %+v, want %+v", got, want)
	}
}

func TestErrorCodeTaxonomy(t *testing.T) {
	err := Wrap(NotFound, "readfile", nil)
	if err.Code != NotFound {
		t.Fatalf("Code = %v, want NotFound", err.Code)
	}
	if err.Error() == "" {
		t.Fatal("Error() returned empty string")
	}
	var target error = NewError(NotFound, "other_op")
	if !err.Is(target) {
		t.Fatalf("Is() should match on Code regardless of Op")
	}
}
