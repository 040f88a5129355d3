package hashutil

import (
	"strings"
	"testing"
)

func TestWordSig_Deterministic(t *testing.T) {
	a := WordSig("hello")
	b := WordSig("hello")
	if a != b {
		t.Fatalf("WordSig not deterministic: %q != %q", a, b)
	}
	if len(a) != 2*SigLen {
		t.Fatalf("WordSig length = %d, want %d", len(a), 2*SigLen)
	}
	if strings.ContainsAny(a, "+=/\n") {
		t.Fatalf("WordSig contains unclean characters: %q", a)
	}
}

func TestWordSig_DifferentWords(t *testing.T) {
	if WordSig("foo") == WordSig("bar") {
		t.Fatalf("expected different signatures for different words")
	}
}

func TestMsgIDHash_TrimsWhitespace(t *testing.T) {
	a := MsgIDHash("<abc@example.com>")
	b := MsgIDHash("  <abc@example.com>  ")
	if a != b {
		t.Fatalf("MsgIDHash should ignore surrounding whitespace: %q != %q", a, b)
	}
}

func TestBase36_RoundTrip(t *testing.T) {
	cases := []int64{0, 1, 35, 36, 37, 1000000, 999999999}
	for _, n := range cases {
		s := Base36(n)
		got, ok := ParseBase36(s)
		if !ok {
			t.Fatalf("ParseBase36(%q) failed", s)
		}
		if got != n {
			t.Fatalf("round trip mismatch: %d -> %q -> %d", n, s, got)
		}
	}
}

func TestBase36_ZeroIsZero(t *testing.T) {
	if Base36(0) != "0" {
		t.Fatalf(`Base36(0) = %q, want "0"`, Base36(0))
	}
}

func TestBase36_Uppercase(t *testing.T) {
	s := Base36(1295) // 35*36 + 35 -> "ZZ"
	if s != strings.ToUpper(s) {
		t.Fatalf("Base36 output not uppercase: %q", s)
	}
}

func TestShortHash_LengthAndAlphanumeric(t *testing.T) {
	out := ShortHash("/path/to/some file!!.mbox", 12)
	if len(out) != 12 {
		t.Fatalf("ShortHash length = %d, want 12", len(out))
	}
	for _, r := range out {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			t.Fatalf("ShortHash contains non-alphanumeric rune %q in %q", r, out)
		}
	}
}

func TestShortHash_PadsShortInput(t *testing.T) {
	out := ShortHash("ab", 20)
	if len(out) != 20 {
		t.Fatalf("ShortHash length = %d, want 20", len(out))
	}
	if !strings.HasPrefix(out, "ab") {
		t.Fatalf("ShortHash should preserve the cleaned input as a prefix: %q", out)
	}
}
