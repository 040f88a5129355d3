package mbox

import (
	"io"
	"strings"
	"testing"
)

func mboxData(lines ...string) string {
	return strings.Join(lines, "\n")
}

func readAll(t *testing.T, r *Reader) []*Message {
	t.Helper()
	var msgs []*Message
	for {
		msg, err := r.Next()
		if err == io.EOF {
			return msgs
		}
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		msgs = append(msgs, msg)
	}
}

func TestReader_Next_SplitsAndUnescapes(t *testing.T) {
	data := mboxData(
		"From sender@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"",
		">From should-unescape",
		">>From keep-one",
		"Normal",
		"",
		"From sender@example.com Mon Jan 1 00:00:01 2024",
		"Subject: Two",
		"",
		"Body2",
		"",
	)

	msgs := readAll(t, NewReader(strings.NewReader(data)))
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	raw1 := string(msgs[0].Raw)
	if !strings.HasPrefix(msgs[0].FromLine, "From sender@example.com") {
		t.Fatalf("FromLine mismatch: %q", msgs[0].FromLine)
	}
	if !strings.Contains(raw1, "From should-unescape\n") {
		t.Fatalf("expected unescaped From line, got raw:\n%s", raw1)
	}
	if !strings.Contains(raw1, ">From keep-one\n") || strings.Contains(raw1, ">>From keep-one\n") {
		t.Fatalf("expected >>From to lose exactly one '>', got raw:\n%s", raw1)
	}
	if !strings.Contains(string(msgs[1].Raw), "Subject: Two\n") {
		t.Fatalf("unexpected msg2 raw:\n%s", msgs[1].Raw)
	}
}

// TestReader_OffsetsDelimitSpans checks the offset bookkeeping the
// descriptor's TOC is built from: each message's Offset is the byte
// position of its separator line, NextFromOffset after reading it is the
// start of the following message, and the final Offset is the file length.
func TestReader_OffsetsDelimitSpans(t *testing.T) {
	data := mboxData(
		"From a@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"",
		"Body1",
		"",
		"From b@example.com Mon Jan 1 00:00:01 2024",
		"Subject: Two",
		"",
		"Body2",
		"",
	)
	secondStart := int64(strings.Index(data, "From b@example.com"))

	r := NewReader(strings.NewReader(data))

	msg1, err := r.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if msg1.Offset != 0 {
		t.Fatalf("msg1.Offset = %d, want 0", msg1.Offset)
	}
	if got := r.NextFromOffset(); got != secondStart {
		t.Fatalf("NextFromOffset() = %d, want %d", got, secondStart)
	}

	msg2, err := r.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if msg2.Offset != secondStart {
		t.Fatalf("msg2.Offset = %d, want %d", msg2.Offset, secondStart)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if got := r.Offset(); got != int64(len(data)) {
		t.Fatalf("Offset() at EOF = %d, want %d", got, len(data))
	}
	if got := r.NextFromOffset(); got != int64(len(data)) {
		t.Fatalf("NextFromOffset() at EOF = %d, want file length %d", got, len(data))
	}
}

func TestReader_Next_AllowsLongLines(t *testing.T) {
	longValue := strings.Repeat("a", 10_000)
	data := mboxData(
		"From sender@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"X-Long: "+longValue,
		"",
		"Body1",
		"",
	)

	msgs := readAll(t, NewReader(strings.NewReader(data)))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !strings.Contains(string(msgs[0].Raw), "X-Long: "+longValue+"\n") {
		t.Fatalf("expected full long header line in raw message")
	}
}

func TestReader_Next_DoesNotSplitOnUnescapedFromInBody(t *testing.T) {
	data := mboxData(
		"From sender@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"",
		"Body1",
		"From this is not a separator",
		"Body3",
		"",
		"From sender@example.com Mon Jan 1 00:00:01 2024",
		"Subject: Two",
		"",
		"Body2",
		"",
	)

	msgs := readAll(t, NewReader(strings.NewReader(data)))
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if !strings.Contains(string(msgs[0].Raw), "From this is not a separator\n") {
		t.Fatalf("body From line without a date should stay in the message, raw:\n%s", msgs[0].Raw)
	}
}

// TestIsFromSeparatorLine covers the date-shape heuristic directly: the
// separator grammar accepts weekday-less and seconds-less ctime variants, a
// zone token before or after the year, and trailing uucp annotations, while
// rejecting body lines that merely start with "From ".
func TestIsFromSeparatorLine(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"From sender@example.com Mon Jan 1 00:00:00 2024", true},
		{"From sender@example.com Mon Jan 1 00:00 2024", true},
		{"From sender@example.com Jan 1 00:00:00 2024", true},
		{"From sender@example.com Mon Jan 1 00:00:00 MST 2024", true},
		{"From sender@example.com Mon Jan 1 00:00:00 -0700 2024", true},
		{"From sender@example.com Mon Jan 1 00:00:00 2024 -07:00", true},
		{"From sender@example.com Mon Jan 1 00:00:00 2024 remote from mail.example.com", true},
		{"From sender@example.com Mon Jan 1 00:00:00 2024\r\n", true},
		{"From this is not a separator", false},
		{"From here on, everything changed for us", false},
		{">From sender@example.com Mon Jan 1 00:00:00 2024", false},
		{"Subject: From Mon Jan 1 00:00:00 2024", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isFromSeparatorLine([]byte(c.line)); got != c.want {
			t.Errorf("isFromSeparatorLine(%q) = %v, want %v", c.line, got, c.want)
		}
	}
}

func TestReader_Offset_RespectsSeekPosition(t *testing.T) {
	data := mboxData(
		"From a@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"",
		"Body1",
		"",
		"From b@example.com Mon Jan 1 00:00:01 2024",
		"Subject: Two",
		"",
		"Body2",
		"",
	)

	start := strings.Index(data, "From b@example.com")
	sr := strings.NewReader(data)
	if _, err := sr.Seek(int64(start), io.SeekStart); err != nil {
		t.Fatalf("Seek(): %v", err)
	}

	r := NewReader(sr)
	if got := r.Offset(); got != int64(start) {
		t.Fatalf("Offset() = %d, want %d", got, start)
	}

	msg, err := r.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if !strings.HasPrefix(msg.FromLine, "From b@example.com") {
		t.Fatalf("unexpected FromLine: %q", msg.FromLine)
	}
	if msg.Offset != int64(start) {
		t.Fatalf("msg.Offset = %d, want %d", msg.Offset, start)
	}
}

func TestValidate_FindsSeparator(t *testing.T) {
	data := "not mbox\nFrom a@b Sat Jan 1 00:00:00 2024\nSubject: x\n\nBody\n"
	if err := Validate(strings.NewReader(data), 1024); err != nil {
		t.Fatalf("Validate(): %v", err)
	}
}

func TestValidate_RejectsNonMbox(t *testing.T) {
	data := "just some\nplain text\nwith no separators\n"
	if err := Validate(strings.NewReader(data), 1024); err == nil {
		t.Fatalf("Validate() accepted non-mbox data")
	}
}
