package tokenizer

import (
	"testing"
	"time"

	"github.com/wesm/maildex/internal/mime"
)

func containsToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

func TestTokenize_LowercasesAndDropsShort(t *testing.T) {
	got := Tokenize("Hello, World! A I am OK-ish")
	if !containsToken(got, "hello") || !containsToken(got, "world") {
		t.Fatalf("expected hello/world tokens, got %v", got)
	}
	if containsToken(got, "a") || containsToken(got, "i") {
		t.Fatalf("single-character tokens should be dropped, got %v", got)
	}
}

func TestTokenize_DropsStopwords(t *testing.T) {
	got := Tokenize("this was sent from the team")
	for _, sw := range []string{"was", "from", "the"} {
		if containsToken(got, sw) {
			t.Fatalf("expected stopword %q to be dropped, got %v", sw, got)
		}
	}
	if !containsToken(got, "this") || !containsToken(got, "sent") || !containsToken(got, "team") {
		t.Fatalf("expected non-stopwords preserved, got %v", got)
	}
}

func TestExtract_SubjectFromToDateKeywords(t *testing.T) {
	msg := &mime.Message{
		Subject: "Project Update",
		From:    []mime.Address{{Name: "Alice", Email: "alice@example.com"}},
		To:      []mime.Address{{Name: "Bob", Email: "bob@example.com"}},
		Date:    time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		BodyText: "quick status note",
	}

	kw := Extract(msg)

	want := []string{
		"project:subject", "update:subject",
		"alice:from", "example:from",
		"bob:to",
		"2024:year", "03:month", "15:day", "2024-03-15:date",
		"quick", "status", "note",
	}
	for _, w := range want {
		if !containsToken(kw, w) {
			t.Fatalf("Extract() missing expected keyword %q, got %v", w, kw)
		}
	}
}

func TestExtract_HTMLBodyExtractsText(t *testing.T) {
	msg := &mime.Message{
		BodyHTML: "<html><body><p>Hello there</p><script>evil()</script></body></html>",
	}
	kw := Extract(msg)
	if !containsToken(kw, "hello") || !containsToken(kw, "there") {
		t.Fatalf("expected text extracted from HTML, got %v", kw)
	}
	if containsToken(kw, "evil") {
		t.Fatalf("script contents should not be tokenized, got %v", kw)
	}
}

func TestExtract_AttachmentKeywords(t *testing.T) {
	msg := &mime.Message{
		Attachments: []mime.Attachment{
			{Filename: "quarterly-report.pdf"},
		},
	}
	kw := Extract(msg)
	if !containsToken(kw, "attachment:has") {
		t.Fatalf("expected attachment:has, got %v", kw)
	}
	if !containsToken(kw, "quarterly:att") || !containsToken(kw, "report:att") || !containsToken(kw, "pdf:att") {
		t.Fatalf("expected filename tokens suffixed :att, got %v", kw)
	}
}

func TestExtract_ListIDKeyword(t *testing.T) {
	msg := &mime.Message{ListID: "devel.example.com"}
	kw := Extract(msg)
	if !containsToken(kw, "devel:list") || !containsToken(kw, "example:list") {
		t.Fatalf("expected list-id tokens suffixed :list, got %v", kw)
	}
}

func TestExtract_NoDateWhenZero(t *testing.T) {
	msg := &mime.Message{BodyText: "hi"}
	kw := Extract(msg)
	for _, k := range kw {
		if len(k) > 5 && (k[len(k)-5:] == ":year" || k[len(k)-4:] == ":day") {
			t.Fatalf("unexpected date keyword for zero-value date: %v", kw)
		}
	}
}
