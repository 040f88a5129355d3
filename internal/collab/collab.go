// Package collab defines the collaborator contracts the scanning and
// search core depends on, so that core logic never touches stdio or
// persistence directly. Concrete implementations live in internal/ui and
// internal/config.
package collab

import (
	"github.com/wesm/maildex/internal/filter"
	"github.com/wesm/maildex/internal/mbox"
)

// UI is how the core reports progress and talks to the operator.
type UI interface {
	Mark(progress string)
	Warning(msg string)
	Error(msg string)
	Notify(msg string)
	Say(text string)
}

// Mailbox is one configured mail source: a stable 3-char base36 id and its
// mbox file path.
type Mailbox struct {
	ID   string
	Path string
}

// Config is the process-wide collaborator for persisted settings, mailbox
// and tag dictionaries, and filter rules.
type Config interface {
	// Get returns a tuning-knob value by key, or def if unset.
	Get(key string, def string) string

	Workdir() string
	MailIndexFile() string
	PostingListDir() string

	GetFilters() []filter.Rule
	GetMailboxes() []Mailbox

	// OpenMailbox returns the mailbox descriptor for id, creating a fresh
	// one rooted at path if none exists yet. It does not persist the
	// descriptor; callers save it back after scanning.
	OpenMailbox(id, path string) (*mbox.Descriptor, error)

	// TagName resolves a tag id to its display name, and vice versa.
	TagName(tagID string) (string, bool)
	TagID(name string) (string, bool)
}
