package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesm/maildex/internal/config"
	"github.com/wesm/maildex/internal/fdcache"
	"github.com/wesm/maildex/internal/filter"
	"github.com/wesm/maildex/internal/hashutil"
	"github.com/wesm/maildex/internal/mailindex"
	"github.com/wesm/maildex/internal/mbox"
	"github.com/wesm/maildex/internal/search"
	"github.com/wesm/maildex/internal/shardstore"
	"github.com/wesm/maildex/internal/testutil/email"
)

type recordingUI struct {
	warnings []string
	marks    []string
}

func (u *recordingUI) Mark(s string)    { u.marks = append(u.marks, s) }
func (u *recordingUI) Warning(s string) { u.warnings = append(u.warnings, s) }
func (u *recordingUI) Error(s string)   {}
func (u *recordingUI) Notify(s string)  {}
func (u *recordingUI) Say(s string)     {}

func writeMboxFile(t *testing.T, path string, raws [][]byte) {
	t.Helper()
	var sb strings.Builder
	for _, raw := range raws {
		sb.WriteString("From sender@example.com Mon Jan  1 00:00:00 2024\n")
		sb.Write(raw)
		if !strings.HasSuffix(string(raw), "\n") {
			sb.WriteString("\n")
		}
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func newHarness(t *testing.T) (*config.Config, *mailindex.Index, *shardstore.Store, *recordingUI) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{HomeDir: dir}
	if err := cfg.EnsureHomeDir(); err != nil {
		t.Fatalf("EnsureHomeDir: %v", err)
	}
	store, err := shardstore.Open(filepath.Join(dir, "search"), 0, fdcache.New(fdcache.DefaultCapacity))
	if err != nil {
		t.Fatalf("shardstore.Open: %v", err)
	}
	t.Cleanup(store.Close)
	return cfg, mailindex.New(), store, &recordingUI{}
}

func TestScan_NewMessagesThreadConversation(t *testing.T) {
	cfg, idx, store, ui := newHarness(t)

	mboxPath := filepath.Join(cfg.Workdir(), "inbox.mbox")
	first := email.MakeRaw(email.Options{
		From:    "alice@example.com",
		Subject: "Lunch?",
		Body:    "how about noon",
		Headers: map[string]string{"Message-ID": "<root@example.com>"},
	})
	second := email.MakeRaw(email.Options{
		From:    "bob@example.com",
		Subject: "Re: Lunch?",
		Body:    "sure, noon works",
		Headers: map[string]string{
			"Message-ID": "<reply@example.com>",
			"In-Reply-To": "<root@example.com>",
		},
	})
	writeMboxFile(t, mboxPath, [][]byte{first, second})

	id := cfg.AddMailbox(mboxPath)
	s := New(cfg, cfg, ui, idx, store, nil)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Added != 2 {
		t.Fatalf("Added = %d, want 2", result.Added)
	}
	if result.Mailboxes != 1 {
		t.Fatalf("Mailboxes = %d, want 1", result.Mailboxes)
	}

	root, ok := idx.Get(0)
	if !ok {
		t.Fatalf("expected row 0")
	}
	if root.Conv != 0 {
		t.Fatalf("root.Conv = %d, want 0", root.Conv)
	}
	if len(root.Replies) != 1 || root.Replies[0] != 1 {
		t.Fatalf("root.Replies = %v, want [1]", root.Replies)
	}

	reply, ok := idx.Get(1)
	if !ok {
		t.Fatalf("expected row 1")
	}
	if reply.Conv != 0 {
		t.Fatalf("reply.Conv = %d, want 0 (shares root's conversation)", reply.Conv)
	}

	members := idx.GetConversation(1)
	if len(members) != 2 {
		t.Fatalf("GetConversation(1) = %v, want 2 members", members)
	}

	mboxID := id
	if mboxID == "" {
		t.Fatalf("AddMailbox returned empty id")
	}
}

func TestScan_RescanIsIdempotent(t *testing.T) {
	cfg, idx, store, ui := newHarness(t)

	mboxPath := filepath.Join(cfg.Workdir(), "inbox.mbox")
	writeMboxFile(t, mboxPath, [][]byte{
		email.MakeRaw(email.Options{Subject: "one", Body: "body one"}),
	})
	cfg.AddMailbox(mboxPath)
	s := New(cfg, cfg, ui, idx, store, nil)

	first, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if first.Added != 1 {
		t.Fatalf("first Added = %d, want 1", first.Added)
	}

	second, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if second.Added != 0 {
		t.Fatalf("second Added = %d, want 0", second.Added)
	}
	if idx.Len() != 1 {
		t.Fatalf("index grew on rescan: Len() = %d", idx.Len())
	}
}

func TestScan_AppliesFilterTags(t *testing.T) {
	cfg, idx, store, ui := newHarness(t)

	mboxPath := filepath.Join(cfg.Workdir(), "inbox.mbox")
	writeMboxFile(t, mboxPath, [][]byte{
		email.MakeRaw(email.Options{Subject: "newsletter digest", Body: "unsubscribe here"}),
	})
	cfg.AddMailbox(mboxPath)

	rules := []filter.Rule{{ID: 0, Terms: "subject:newsletter", TagRefs: []string{"+5"}}}
	s := New(cfg, cfg, ui, idx, store, rules)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Added != 1 {
		t.Fatalf("Added = %d, want 1", result.Added)
	}

	row, ok := idx.Get(0)
	if !ok {
		t.Fatalf("expected row 0")
	}
	found := false
	for _, tag := range row.Tags {
		if tag == "5" {
			found = true
		}
	}
	if !found {
		t.Fatalf("row.Tags = %v, want to contain %q", row.Tags, "5")
	}
}

func TestScan_MovedMessageUpdatesPointerInPlace(t *testing.T) {
	cfg, idx, store, ui := newHarness(t)

	mboxPath := filepath.Join(cfg.Workdir(), "inbox.mbox")
	raw := email.MakeRaw(email.Options{
		Subject: "steady",
		Body:    "unchanged body",
		Headers: map[string]string{"Message-ID": "<steady@example.com>"},
	})
	writeMboxFile(t, mboxPath, [][]byte{raw})
	mailboxID := cfg.AddMailbox(mboxPath)

	mid := hashutil.MsgIDHash("steady@example.com")
	stalePTR := mbox.FormatPointer(mailboxID, 999999)
	existingIID := idx.AddMessage(stalePTR, 1, mid, time.Now(), "someone", "steady", nil, 0)

	s := New(cfg, cfg, ui, idx, store, nil)
	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Added != 0 {
		t.Fatalf("Added = %d, want 0 (moved message is not a new row)", result.Added)
	}
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (no duplicate row created)", idx.Len())
	}

	updated, ok := idx.Get(existingIID)
	if !ok {
		t.Fatalf("expected row %d to still exist", existingIID)
	}
	if updated.PTR == stalePTR {
		t.Fatalf("PTR was not updated, still %q", stalePTR)
	}
	if _, known := idx.LookupPTR(stalePTR); known {
		t.Fatalf("stale PTR %q should no longer resolve", stalePTR)
	}
	if got, known := idx.LookupPTR(updated.PTR); !known || got != existingIID {
		t.Fatalf("new PTR does not resolve to original IID: got %d, known %v", got, known)
	}
}

func TestScan_MailboxMutationIsSkippedWithWarning(t *testing.T) {
	cfg, idx, store, ui := newHarness(t)

	mboxPath := filepath.Join(cfg.Workdir(), "inbox.mbox")
	writeMboxFile(t, mboxPath, [][]byte{
		email.MakeRaw(email.Options{Subject: "one", Body: "body"}),
	})
	cfg.AddMailbox(mboxPath)
	s := New(cfg, cfg, ui, idx, store, nil)

	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	if err := os.WriteFile(mboxPath, []byte("not a mailbox anymore\n"), 0o644); err != nil {
		t.Fatalf("rewrite mailbox: %v", err)
	}

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if result.Added != 0 {
		t.Fatalf("Added = %d, want 0 after mutation", result.Added)
	}
	if len(ui.warnings) == 0 {
		t.Fatalf("expected a warning about the mutated mailbox")
	}
}

// TestScan_ThenSearch exercises the full pipeline the way a user sees it:
// ingest a two-message thread plus an unrelated message, then run boolean
// and field-scoped queries against the resulting posting store and collapse
// the hits to conversations.
func TestScan_ThenSearch(t *testing.T) {
	cfg, idx, store, ui := newHarness(t)

	mboxPath := filepath.Join(cfg.Workdir(), "inbox.mbox")
	writeMboxFile(t, mboxPath, [][]byte{
		email.MakeRaw(email.Options{
			From:    "carol@example.com",
			Subject: "Hello",
			Body:    "ping pong",
			Headers: map[string]string{
				"Message-ID": "<a@x>",
				"Date":       "Mon, 01 Jan 2024 10:00:00 +0000",
			},
		}),
		email.MakeRaw(email.Options{
			From:    "dave@example.com",
			Subject: "Re: Hello",
			Body:    "reply",
			Headers: map[string]string{
				"Message-ID":  "<b@x>",
				"In-Reply-To": "<a@x>",
				"Date":        "Mon, 01 Jan 2024 11:00:00 +0000",
			},
		}),
		email.MakeRaw(email.Options{
			From:    "alice@ex",
			Subject: "Numbers",
			Body:    "report",
			Headers: map[string]string{
				"Message-ID": "<c@x>",
				"Date":       "Mon, 01 Jan 2024 12:00:00 +0000",
			},
		}),
	})
	cfg.AddMailbox(mboxPath)
	s := New(cfg, cfg, ui, idx, store, nil)
	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if idx.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", idx.Len())
	}

	ev := &search.Evaluator{Store: store, IndexLen: idx.Len()}
	query := func(q string) []int64 {
		t.Helper()
		terms, _ := search.ParseQuery(q)
		hits, err := ev.Evaluate(terms)
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", q, err)
		}
		return hits
	}

	if hits := query("ping"); len(hits) != 1 || hits[0] != 0 {
		t.Fatalf("search ping = %v, want [0]", hits)
	}
	if hits := query("reply"); len(hits) != 1 || hits[0] != 1 {
		t.Fatalf("search reply = %v, want [1]", hits)
	}
	if hits := query("from:alice"); len(hits) != 1 || hits[0] != 2 {
		t.Fatalf("search from:alice = %v, want [2]", hits)
	}
	if hits := query("report from:alice"); len(hits) != 1 || hits[0] != 2 {
		t.Fatalf("search report from:alice = %v, want [2]", hits)
	}
	if hits := query("report -from:bob"); len(hits) != 1 || hits[0] != 2 {
		t.Fatalf("search report -from:bob = %v, want [2]", hits)
	}

	// Stopword elision: "the" alone parses to nothing; "the report" equals
	// "report" alone.
	terms, warnings := search.ParseQuery("the")
	if len(terms) != 0 || len(warnings) != 1 {
		t.Fatalf("ParseQuery(the) = %v terms, %v warnings", terms, warnings)
	}
	if hits := query("the report"); len(hits) != 1 || hits[0] != 2 {
		t.Fatalf("search 'the report' = %v, want [2]", hits)
	}

	// Conversation collapse under the default non-flat order: the thread's
	// reply folds into its root.
	spec := search.ParseSortSpec("reverse_date")
	collapsed, _ := search.SortAndCollapse(query("+ping +reply"), idx, spec, 0, 1)
	if len(collapsed) != 1 {
		t.Fatalf("collapsed thread = %v, want a single conversation entry", collapsed)
	}
}

// TestScan_MissingDateFallsBackToPrevPlusOneSecond covers the malformed-date
// recovery rule: a message with no Date header is stamped one second after
// the previously ingested message.
func TestScan_MissingDateFallsBackToPrevPlusOneSecond(t *testing.T) {
	cfg, idx, store, ui := newHarness(t)

	mboxPath := filepath.Join(cfg.Workdir(), "inbox.mbox")
	writeMboxFile(t, mboxPath, [][]byte{
		email.MakeRaw(email.Options{
			Subject: "dated",
			Body:    "alpha",
			Headers: map[string]string{
				"Message-ID": "<dated@example.com>",
				"Date":       "Mon, 01 Jan 2024 10:00:00 +0000",
			},
		}),
		email.MakeRaw(email.Options{
			Subject: "undated",
			Body:    "beta",
			Headers: map[string]string{"Message-ID": "<undated@example.com>"},
		}),
	})
	cfg.AddMailbox(mboxPath)
	s := New(cfg, cfg, ui, idx, store, nil)
	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	first, _ := idx.Get(0)
	second, _ := idx.Get(1)
	if !second.Date.Equal(first.Date.Add(time.Second)) {
		t.Fatalf("undated message DATE = %v, want %v (+1s)", second.Date, first.Date.Add(time.Second))
	}
}

func TestScan_CancelledContextStopsCleanly(t *testing.T) {
	cfg, idx, store, ui := newHarness(t)

	mboxPath := filepath.Join(cfg.Workdir(), "inbox.mbox")
	writeMboxFile(t, mboxPath, [][]byte{
		email.MakeRaw(email.Options{Subject: "one", Body: "body"}),
	})
	cfg.AddMailbox(mboxPath)
	s := New(cfg, cfg, ui, idx, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan with cancelled context returned error: %v", err)
	}
	if !result.Interrupted {
		t.Fatalf("expected Interrupted to be true")
	}
}
