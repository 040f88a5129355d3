package mbox

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wesm/maildex/internal/fileutil"
	"github.com/wesm/maildex/internal/hashutil"
)

// ErrMailboxMutated is returned by Update when the mailbox file no longer
// matches the descriptor's prior table of contents, e.g. it was truncated
// or rewritten out from under the index.
var ErrMailboxMutated = errors.New("mbox: mailbox file was rewritten or truncated")

// Span is a byte range delimiting one message, including its leading
// "From " separator line.
type Span struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Descriptor is the persisted per-mailbox bookkeeping: path, table of
// contents, last parsed key, and a snapshot of the file length as of the
// last Update.
type Descriptor struct {
	MailboxID  string `json:"mailbox_id"`
	Path       string `json:"path"`
	TOC        []Span `json:"toc"`
	LastParsed int64  `json:"last_parsed"` // -1 sentinel: nothing parsed yet
	FileLength int64  `json:"file_length"`
}

// NewDescriptor builds a fresh descriptor by scanning path from byte 0.
// Empty mailboxes are valid: TOC is empty, LastParsed stays -1.
func NewDescriptor(mailboxID, path string) (*Descriptor, error) {
	d := &Descriptor{MailboxID: mailboxID, Path: path, LastParsed: -1}
	if err := d.rescanFrom(0); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadDescriptor reads a persisted descriptor snapshot from tocPath.
func LoadDescriptor(tocPath string) (*Descriptor, error) {
	data, err := os.ReadFile(tocPath)
	if err != nil {
		return nil, fmt.Errorf("mbox: read descriptor %s: %w", tocPath, err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("mbox: decode descriptor %s: %w", tocPath, err)
	}
	return &d, nil
}

// Save persists the descriptor to tocPath deterministically (load(save(x))
// == x), writing to a temp file and renaming into place.
func (d *Descriptor) Save(tocPath string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("mbox: encode descriptor: %w", err)
	}
	tmp := tocPath + ".tmp"
	if err := fileutil.SecureWriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("mbox: write descriptor temp file: %w", err)
	}
	if err := os.Rename(tmp, tocPath); err != nil {
		return fmt.Errorf("mbox: rename descriptor into place: %w", err)
	}
	return nil
}

// Len returns the number of messages currently known to the descriptor.
func (d *Descriptor) Len() int64 { return int64(len(d.TOC)) }

// Update validates the existing TOC against the live file and scans any
// bytes appended since FileLength, appending new spans. It returns
// ErrMailboxMutated if the file no longer looks like a continuation of the
// previously recorded TOC (truncated or rewritten).
func (d *Descriptor) Update() error {
	if len(d.TOC) > 0 {
		last := d.TOC[len(d.TOC)-1]
		ok, err := d.startsWithFromLine(last.Start)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMailboxMutated
		}
	}
	return d.rescanFrom(d.FileLength)
}

// startsWithFromLine reports whether the line beginning at byte offset in
// the mailbox file is an mbox "From " separator.
func (d *Descriptor) startsWithFromLine(offset int64) (bool, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return false, fmt.Errorf("mbox: open %s: %w", d.Path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return false, fmt.Errorf("mbox: seek %s: %w", d.Path, err)
	}
	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return false, nil
	}
	return isFromSeparatorLine(line), nil
}

// rescanFrom drives a Reader over the mailbox file from startOffset to EOF,
// recording one span per message (the Reader's separator offsets give the
// span boundaries directly), and appends the results to d.TOC. It updates
// d.FileLength to the resulting EOF position.
func (d *Descriptor) rescanFrom(startOffset int64) error {
	f, err := os.Open(d.Path)
	if err != nil {
		return fmt.Errorf("mbox: open %s: %w", d.Path, err)
	}
	defer f.Close()

	if startOffset > 0 {
		if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
			return fmt.Errorf("mbox: seek %s: %w", d.Path, err)
		}
	}

	r := NewReader(f)
	for {
		msg, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("mbox: scan %s: %w", d.Path, err)
		}
		d.TOC = append(d.TOC, Span{Start: msg.Offset, End: r.NextFromOffset()})
	}
	d.FileLength = r.Offset()
	return nil
}

// Pointer computes the stable pointer for the message at TOC index key:
// the 3-char zero-padded base36 mailbox id followed by the base36 byte
// offset of its span.
func (d *Descriptor) Pointer(key int64) (string, error) {
	if key < 0 || key >= int64(len(d.TOC)) {
		return "", fmt.Errorf("mbox: key %d out of range (len %d)", key, len(d.TOC))
	}
	return FormatPointer(d.MailboxID, d.TOC[key].Start), nil
}

// FormatPointer renders a stable pointer from a mailbox id and byte offset.
func FormatPointer(mailboxID string, offset int64) string {
	return mailboxID + hashutil.Base36(offset)
}

// ParsePointer splits a stable pointer into its mailbox id (first 3 chars)
// and byte offset.
func ParsePointer(ptr string) (mailboxID string, offset int64, ok bool) {
	if len(ptr) < 4 {
		return "", 0, false
	}
	mailboxID = ptr[:3]
	offset, ok = hashutil.ParseBase36(ptr[3:])
	return mailboxID, offset, ok
}

// FormatMailboxID zero-pads n as a 3-character uppercase base36 string.
func FormatMailboxID(n int64) string {
	s := hashutil.Base36(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

// ReadMessage reads the message at TOC index key through a Reader bounded
// to its span, so the returned Raw bytes are separator-stripped and
// mboxrd-unescaped, ready for the MIME parser.
func (d *Descriptor) ReadMessage(key int64) (*Message, error) {
	if key < 0 || key >= int64(len(d.TOC)) {
		return nil, fmt.Errorf("mbox: key %d out of range (len %d)", key, len(d.TOC))
	}
	span := d.TOC[key]
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("mbox: open %s: %w", d.Path, err)
	}
	defer f.Close()

	if _, err := f.Seek(span.Start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("mbox: seek %s: %w", d.Path, err)
	}
	msg, err := NewReader(io.LimitReader(f, span.End-span.Start)).Next()
	if err != nil {
		return nil, fmt.Errorf("mbox: read span [%d,%d) of %s: %w", span.Start, span.End, d.Path, err)
	}
	msg.Offset = span.Start
	return msg, nil
}

// SpanSize returns the byte length of the message span at key, separator
// line included, or 0 for an out-of-range key.
func (d *Descriptor) SpanSize(key int64) int64 {
	if key < 0 || key >= int64(len(d.TOC)) {
		return 0
	}
	return d.TOC[key].End - d.TOC[key].Start
}
