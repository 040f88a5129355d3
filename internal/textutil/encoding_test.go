package textutil

import (
	"testing"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"

	"github.com/wesm/maildex/internal/testutil"
)

func TestEnsureUTF8_ValidInputPassesThrough(t *testing.T) {
	cases := []string{
		"",
		"plain ascii",
		"héllo wörld",
		"こんにちは",
		"mixed ascii and 中文",
	}
	for _, in := range cases {
		if got := EnsureUTF8(in); got != in {
			t.Errorf("EnsureUTF8(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestEnsureUTF8_Latin1Fallback(t *testing.T) {
	// "caf\xe9" is Latin-1 for "café". The 0xE9 with an ASCII or missing
	// trail byte is malformed for every multi-byte candidate, so whether or
	// not detection fires, the result comes out through a Latin-1-family
	// decode with the é intact.
	got := EnsureUTF8("caf\xe9 au lait")
	if got != "café au lait" {
		t.Errorf("EnsureUTF8(latin-1 bytes) = %q, want %q", got, "café au lait")
	}
}

func TestEnsureUTF8_AlwaysValid(t *testing.T) {
	// Whatever path an input takes, the output must be valid UTF-8 with its
	// ASCII runs preserved. Samples cover single-byte and multi-byte legacy
	// encodings plus outright garbage.
	cases := []struct {
		name     string
		input    string
		contains []string
	}{
		{"windows-1252 quotes", "\x93quoted\x94 text", []string{"text"}},
		{"latin-1 accents", "na\xefve r\xe9sum\xe9 ok", []string{"ok"}},
		{"truncated multibyte", "abc\x82", []string{"abc"}},
		{"lone high bytes", "\x80\x81 tail", []string{"tail"}},
		{"bom-like garbage", "\xfe\xff\xfd", nil},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			result := EnsureUTF8(tt.input)
			testutil.AssertValidUTF8(t, result)
			testutil.AssertContainsAll(t, result, tt.contains)
		})
	}
}

func TestEnsureUTF8_ShiftJIS(t *testing.T) {
	encoded, err := japanese.ShiftJIS.NewEncoder().String("こんにちは世界")
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	result := EnsureUTF8(encoded)
	testutil.AssertValidUTF8(t, result)
	if result == encoded {
		t.Errorf("EnsureUTF8 left invalid Shift_JIS bytes untouched")
	}
}

func TestEncodingByName(t *testing.T) {
	cases := []struct {
		names []string
		want  encoding.Encoding
	}{
		{[]string{"windows-1252", "CP1252", "cp1252"}, charmap.Windows1252},
		{[]string{"ISO-8859-1", "iso-8859-1", "latin1", "Latin-1"}, charmap.ISO8859_1},
		{[]string{"ISO-8859-15", "latin9"}, charmap.ISO8859_15},
		{[]string{"Shift_JIS", "shift-jis", "SJIS"}, japanese.ShiftJIS},
		{[]string{"EUC-JP", "eucjp"}, japanese.EUCJP},
		{[]string{"KOI8-R"}, charmap.KOI8R},
	}
	for _, tt := range cases {
		for _, name := range tt.names {
			if got := EncodingByName(name); got != tt.want {
				t.Errorf("EncodingByName(%q) = %v, want %v", name, got, tt.want)
			}
		}
	}
}

func TestEncodingByName_UnknownReturnsNil(t *testing.T) {
	for _, name := range []string{"", "utf-8", "x-mac-sanskrit", "invalid-charset-xyz"} {
		if got := EncodingByName(name); got != nil {
			t.Errorf("EncodingByName(%q) = %v, want nil", name, got)
		}
	}
}

func TestEncodingByName_DecodesCorrectly(t *testing.T) {
	// Windows-1252 smart quotes and em-dash.
	enc := EncodingByName("windows-1252")
	if enc == nil {
		t.Fatal("EncodingByName(windows-1252) = nil")
	}
	decoded, err := enc.NewDecoder().Bytes([]byte("\x93hi\x94 \x97 ok"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := string(decoded); got != "“hi” — ok" {
		t.Errorf("windows-1252 decode = %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 8, "hello..."},
		{"héllo wörld", 8, "héllo..."},
		{"日本語のテキストです", 5, "日本..."},
		{"abc", 2, "ab"},
		{"abc", 0, ""},
	}
	for _, tt := range cases {
		if got := TruncateRunes(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"single line", "single line"},
		{"first\nsecond\nthird", "first"},
		{"\n\nleading newlines\nmore", "leading newlines"},
		{"crlf line\r\nnext", "crlf line\r"},
		{"", ""},
	}
	for _, tt := range cases {
		if got := FirstLine(tt.in); got != tt.want {
			t.Errorf("FirstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
