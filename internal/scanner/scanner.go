// Package scanner drives the ingest pipeline: mbox to parser to tokenizer
// to filter engine, with surviving keywords posted to the shard store and a
// metadata record appended per new message. It walks each mailbox
// sequentially, deduplicates by message-id hash, and checkpoints progress
// so an interrupted scan resumes where it left off.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/maildex/internal/collab"
	"github.com/wesm/maildex/internal/filter"
	"github.com/wesm/maildex/internal/hashutil"
	"github.com/wesm/maildex/internal/mailindex"
	"github.com/wesm/maildex/internal/mbox"
	"github.com/wesm/maildex/internal/mime"
	"github.com/wesm/maildex/internal/shardstore"
	"github.com/wesm/maildex/internal/textutil"
	"github.com/wesm/maildex/internal/tokenizer"
)

// progressEvery is how often the scanner reports progress to the UI
// collaborator during a full rescan.
const progressEvery = 317

// DescriptorSaver persists a mailbox descriptor snapshot; satisfied by
// *config.Config's SaveMailboxDescriptor.
type DescriptorSaver interface {
	SaveMailboxDescriptor(d *mbox.Descriptor) error
}

// Scanner owns one ingest pass over every mailbox the Config collaborator
// knows about. It mutates Index and Store in place; callers decide when to
// persist the index (Scan does not call mailindex.Save, so the CLI can save
// only when Scan's result shows messages were actually added).
type Scanner struct {
	Config  collab.Config
	Saver   DescriptorSaver
	UI      collab.UI
	Index   *mailindex.Index
	Store   *shardstore.Store
	Filters []filter.Rule

	lastDate time.Time
}

// New builds a Scanner wired to the given collaborators and state. cfg must
// also implement DescriptorSaver (true of *config.Config); a nil Saver is
// allowed for tests that don't care about descriptor persistence.
func New(cfg collab.Config, saver DescriptorSaver, ui collab.UI, idx *mailindex.Index, store *shardstore.Store, filters []filter.Rule) *Scanner {
	return &Scanner{Config: cfg, Saver: saver, UI: ui, Index: idx, Store: store, Filters: filters}
}

// Result summarizes one Scan call.
type Result struct {
	Added       int
	Mailboxes   int
	Interrupted bool
}

// Scan walks every configured mailbox, in configuration order, ingesting
// any messages appended since the last scan. A context cancellation is
// observed at per-mailbox and per-message granularity; on cancellation,
// Scan stops cleanly and returns what it has added so far with Interrupted
// set.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	if last, ok := s.Index.Get(s.Index.Len() - 1); ok {
		s.lastDate = last.Date
	}

	var result Result
	for _, mailbox := range s.Config.GetMailboxes() {
		result.Mailboxes++
		added, err := s.scanMailbox(ctx, mailbox)
		result.Added += added
		if err != nil {
			if err == context.Canceled {
				result.Interrupted = true
				return result, nil
			}
			return result, err
		}
	}
	return result, nil
}

// scanMailbox ingests new messages from one mailbox: refresh the TOC, skip
// if nothing is new, then walk the unparsed keys in order.
func (s *Scanner) scanMailbox(ctx context.Context, mailbox collab.Mailbox) (int, error) {
	desc, err := s.Config.OpenMailbox(mailbox.ID, mailbox.Path)
	if err != nil {
		return 0, fmt.Errorf("scanner: open mailbox %s: %w", mailbox.ID, err)
	}

	if err := desc.Update(); err != nil {
		if err == mbox.ErrMailboxMutated {
			s.UI.Warning(fmt.Sprintf("mailbox %s (%s) was rewritten or truncated; skipping this scan", mailbox.ID, mailbox.Path))
			return 0, nil
		}
		return 0, fmt.Errorf("scanner: update TOC for %s: %w", mailbox.ID, err)
	}

	if desc.LastParsed+1 == desc.Len() {
		return 0, nil // nothing new since the last scan
	}

	added := 0
	for key := desc.LastParsed + 1; key < desc.Len(); key++ {
		if err := ctx.Err(); err != nil {
			desc.LastParsed = key - 1
			s.persistDescriptor(desc)
			return added, err
		}

		n, err := s.ingestOne(desc, key)
		if err != nil {
			return added, fmt.Errorf("scanner: mailbox %s key %d: %w", mailbox.ID, key, err)
		}
		added += n

		if (key+1)%progressEvery == 0 {
			s.UI.Mark(fmt.Sprintf("scanning %s: %d/%d", mailbox.Path, key+1, desc.Len()))
		}
	}

	desc.LastParsed = desc.Len() - 1
	s.persistDescriptor(desc)
	return added, nil
}

func (s *Scanner) persistDescriptor(desc *mbox.Descriptor) {
	if s.Saver == nil {
		return
	}
	if err := s.Saver.SaveMailboxDescriptor(desc); err != nil {
		s.UI.Error(fmt.Sprintf("failed to persist mailbox descriptor %s: %v", desc.MailboxID, err))
	}
}

// ingestOne processes a single TOC entry, returning 1 if a new MR was
// appended and 0 if the message was a dedup (moved pointer, or seen under a
// different mailbox, or already indexed).
func (s *Scanner) ingestOne(desc *mbox.Descriptor, key int64) (int, error) {
	ptr, err := desc.Pointer(key)
	if err != nil {
		return 0, err
	}
	if _, known := s.Index.LookupPTR(ptr); known {
		return 0, nil
	}

	m, err := desc.ReadMessage(key)
	if err != nil {
		return 0, err
	}
	size := desc.SpanSize(key)

	msg, err := mime.Parse(m.Raw)
	if err != nil {
		s.UI.Warning(fmt.Sprintf("malformed message at %s: %s", ptr, textutil.FirstLine(err.Error())))
		msg = &mime.Message{}
	}

	mid := midFor(msg, ptr)

	if existingIID, known := s.Index.LookupMID(mid); known {
		return s.handleMoved(existingIID, ptr, size)
	}

	return s.handleNew(ptr, size, mid, msg)
}

// handleMoved updates PTR/SIZE in place when a known message's pointer
// shifted within the same mailbox, and ignores it when the same message
// reappears under a different mailbox id.
func (s *Scanner) handleMoved(existingIID int64, ptr string, size int64) (int, error) {
	existing, ok := s.Index.Get(existingIID)
	if !ok {
		return 0, nil
	}
	oldMailboxID, _, ok := mbox.ParsePointer(existing.PTR)
	if !ok {
		return 0, nil
	}
	newMailboxID, _, ok := mbox.ParsePointer(ptr)
	if !ok {
		return 0, nil
	}
	if oldMailboxID != newMailboxID {
		return 0, nil
	}
	if err := s.Index.UpdatePointer(existingIID, ptr, size); err != nil {
		return 0, err
	}
	return 0, nil
}

// handleNew ingests a genuinely new message: date fallback, conversation
// threading, tokenization, filtering, posting, and the final MR append.
func (s *Scanner) handleNew(ptr string, size int64, mid string, msg *mime.Message) (int, error) {
	date := msg.Date
	if date.IsZero() {
		date = s.lastDate.Add(time.Second)
	}
	s.lastDate = date

	newIID := s.Index.Len()
	conv := newIID
	if parentIID, ok := s.findConversationParent(msg); ok {
		if parent, ok := s.Index.Get(parentIID); ok {
			conv = parent.Conv
		}
		s.Index.AddReply(parentIID, newIID)
	}

	keywords := tokenizer.Extract(msg)
	keywords = filter.Apply(s.Filters, keywords)
	tags := tagsFromKeywords(keywords)

	for _, word := range keywords {
		if err := s.Store.Append(word, newIID); err != nil {
			return 0, fmt.Errorf("scanner: post keyword %q for %s: %w", word, ptr, err)
		}
	}

	from := ""
	if len(msg.From) > 0 {
		from = msg.From[0].Name
		if from == "" {
			from = msg.From[0].Email
		}
	}

	got := s.Index.AddMessage(ptr, size, mid, date, from, msg.Subject, tags, conv)
	if got != newIID {
		return 0, fmt.Errorf("scanner: internal error: predicted IID %d, got %d", newIID, got)
	}
	return 1, nil
}

// findConversationParent scans References + In-Reply-To for the first
// message-id hash whose MR already exists. It does not re-parent earlier
// orphans when messages arrive out of order; a late-arriving ancestor roots
// its own conversation.
func (s *Scanner) findConversationParent(msg *mime.Message) (int64, bool) {
	for _, ref := range candidateReferences(msg) {
		hash := hashutil.MsgIDHash(ref)
		if iid, ok := s.Index.LookupMID(hash); ok {
			return iid, true
		}
	}
	return 0, false
}

// candidateReferences returns every message-id-like token from References
// and In-Reply-To, trimmed of angle brackets, in the order they should be
// tried (References first, since it's normally ordered oldest-first and
// In-Reply-To duplicates its last entry).
func candidateReferences(msg *mime.Message) []string {
	var out []string
	for _, ref := range msg.References {
		if ref = strings.TrimSpace(ref); ref != "" {
			out = append(out, ref)
		}
	}
	for _, tok := range strings.FieldsFunc(msg.InReplyTo, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' }) {
		tok = strings.Trim(tok, "<>")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// midFor computes the dedup hash for a message: the trimmed, bracket-stripped
// Message-ID header if present, else the pointer. Stripping angle brackets
// here matters: candidateReferences strips them from References/In-Reply-To
// tokens before hashing, and the two hashes must agree for conversation
// threading to find its parent.
func midFor(msg *mime.Message, ptr string) string {
	if id := strings.Trim(strings.TrimSpace(msg.MessageID), "<>"); id != "" {
		return hashutil.MsgIDHash(id)
	}
	return hashutil.MsgIDHash(ptr)
}

// tagsFromKeywords extracts tag ids from "<id>:tag" keywords left in the
// set after filtering.
func tagsFromKeywords(keywords []string) []string {
	var tags []string
	for _, k := range keywords {
		if id, ok := strings.CutSuffix(k, ":tag"); ok {
			tags = append(tags, id)
		}
	}
	return tags
}
