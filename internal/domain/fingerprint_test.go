package domain

import "testing"

func TestFingerprint_NormalizesContent(t *testing.T) {
	// "é" precomposed vs. "e" + combining acute accent.
	a := NewFingerprint("u1", "1700000000000", "café")
	b := NewFingerprint(" u1 ", "1700000000000", "  café ")
	if a != b {
		t.Fatalf("expected equal fingerprints, got %+v vs %+v", a, b)
	}
	if a.Key() != b.Key() {
		t.Fatalf("expected equal keys")
	}
}

func TestFingerprint_Distinguishes(t *testing.T) {
	base := NewFingerprint("u1", "1", "hi")
	for name, other := range map[string]Fingerprint{
		"author":    NewFingerprint("u2", "1", "hi"),
		"timestamp": NewFingerprint("u1", "2", "hi"),
		"content":   NewFingerprint("u1", "1", "hi!"),
	} {
		if other.Key() == base.Key() {
			t.Fatalf("%s change should alter the key", name)
		}
	}
}

func TestFingerprint_KeySeparatorInFields(t *testing.T) {
	a := NewFingerprint("1|2", "3", "hi")
	b := NewFingerprint("1", "2|3", "hi")
	if a.Key() == b.Key() {
		t.Fatalf("fields containing the separator must not collide: %q", a.Key())
	}
}

func TestFingerprint_Empty(t *testing.T) {
	if !NewFingerprint("", "1", "x").Empty() {
		t.Fatalf("missing author should be empty")
	}
	if !NewFingerprint("u1", "", "x").Empty() {
		t.Fatalf("missing timestamp should be empty")
	}
	if NewFingerprint("u1", "1", "").Empty() {
		t.Fatalf("empty content still fingerprints")
	}
}

func TestHashContent_Stable(t *testing.T) {
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" // sha256("hello")
	if got := HashContent(" hello\n"); got != want {
		t.Fatalf("HashContent = %s; want %s", got, want)
	}
}
