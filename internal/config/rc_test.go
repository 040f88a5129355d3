package config

import (
	"strings"
	"testing"
)

func TestParseRC(t *testing.T) {
	raw := `# legacy mailpile config
sort_max = 2000
mailbox:0 = /home/user/mail/INBOX
tag:0 = inbox
tag:1 = spam
filter:0 = spam rule
filter_terms:0 = from:spammer
filter_tags:0 = +1
`
	rc, err := ParseRC(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseRC: %v", err)
	}
	if rc.Scalars["sort_max"] != "2000" {
		t.Errorf("sort_max = %q", rc.Scalars["sort_max"])
	}
	if rc.Dicts["mailbox"]["0"] != "/home/user/mail/INBOX" {
		t.Errorf("mailbox:0 = %q", rc.Dicts["mailbox"]["0"])
	}
	if rc.Dicts["tag"]["1"] != "spam" {
		t.Errorf("tag:1 = %q", rc.Dicts["tag"]["1"])
	}
	if rc.Dicts["filter_terms"]["0"] != "from:spammer" {
		t.Errorf("filter_terms:0 = %q", rc.Dicts["filter_terms"]["0"])
	}
}

func TestParseRCBadLine(t *testing.T) {
	if _, err := ParseRC(strings.NewReader("not a valid line\n")); err == nil {
		t.Fatal("want error for malformed line")
	}
}

func TestImportRC(t *testing.T) {
	raw := `mailbox:000 = /mail/a.mbox
tag:0 = inbox
filter:0 = auto-inbox
filter_terms:0 = *
filter_tags:0 = +0
`
	rc, err := ParseRC(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseRC: %v", err)
	}
	cfg := NewDefault()
	cfg.ImportRC(rc)

	mailboxes := cfg.GetMailboxes()
	if len(mailboxes) != 1 || mailboxes[0].Path != "/mail/a.mbox" {
		t.Fatalf("mailboxes = %+v", mailboxes)
	}
	if name, ok := cfg.TagName("0"); !ok || name != "inbox" {
		t.Fatalf("tag name = %q, %v", name, ok)
	}
	filters := cfg.GetFilters()
	if len(filters) != 1 || filters[0].Terms != "*" || filters[0].TagRefs[0] != "+0" {
		t.Fatalf("filters = %+v", filters)
	}
}
