package errgroup

import (
	"strings"
	"testing"
)

func TestFingerprintIgnoresLineColumnsAndQueryStrings(t *testing.T) {
	stackA := "TypeError: x is undefined\n    at render (https://cdn.plugboard.dev/widget.js:12:34)\n    at mount (https://cdn.plugboard.dev/widget.js:56:7)"
	stackB := "TypeError: x is undefined\n    at render (https://cdn.plugboard.dev/widget.js?v=2024-06:99:1)\n    at mount (https://cdn.plugboard.dev/widget.js?v=2024-06:3:21)"

	a := Fingerprint("TypeError", "undefined_read", stackA)
	b := Fingerprint("TypeError", "undefined_read", stackB)
	if a != b {
		t.Fatalf("expected identical fingerprints, got %s and %s", a, b)
	}
}

func TestFingerprintDiffersByErrorName(t *testing.T) {
	stack := "at render (widget.js:1:1)"
	a := Fingerprint("TypeError", "undefined_read", stack)
	b := Fingerprint("TypeError", "null_read", stack)
	if a == b {
		t.Fatalf("expected different fingerprints for different names, both %s", a)
	}
}

func TestFingerprintLength(t *testing.T) {
	fp := Fingerprint("Error", "boom", "")
	if len(fp) != 32 {
		t.Fatalf("expected 32 hex characters, got %d (%s)", len(fp), fp)
	}
	for _, r := range fp {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("unexpected character %q in fingerprint %s", r, fp)
		}
	}
}

func TestFingerprintMissingStack(t *testing.T) {
	a := Fingerprint("Error", "boom", "")
	b := Fingerprint("Error", "boom", "")
	if a != b {
		t.Fatalf("expected stable fingerprint without stack, got %s and %s", a, b)
	}
}

func TestFingerprintTruncatesLongInput(t *testing.T) {
	common := strings.Repeat("at frame (widget.js:X:X) ", 40)
	a := Fingerprint("Error", "boom", common+"tail-one")
	b := Fingerprint("Error", "boom", common+"tail-two")
	if a != b {
		t.Fatalf("expected truncation to mask differences past the limit, got %s and %s", a, b)
	}
}

func TestNormalizeStack(t *testing.T) {
	in := "at render (https://cdn.plugboard.dev/widget.js?v=3:15:20)"
	want := "at render (https://cdn.plugboard.dev/widget.js:X:X)"
	if got := NormalizeStack(in); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
