// Package mbox implements incremental scanning of mbox mail archives: a
// streaming Reader that splits a mailbox into messages on "From " separator
// lines (undoing mboxrd ">From" quoting as it goes), and a persisted
// Descriptor that maintains a byte-offset table of contents so rescans only
// touch data appended since the last pass.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const maxLineBytes = 32 << 20 // 32 MiB

// Message is a single message read from an mbox stream.
type Message struct {
	// FromLine is the separator line, without its trailing newline.
	FromLine string

	// Offset is the byte offset of the separator line in the stream. The
	// descriptor records it as the start of the message's span, and the
	// stable pointer encodes it.
	Offset int64

	// Raw is the RFC 5322 message bytes (headers + body). The separator
	// line is excluded, and mboxrd ^>+From  quoting has been undone.
	Raw []byte
}

type offsetReader struct {
	r io.Reader
	n int64
}

func (o *offsetReader) Read(p []byte) (int, error) {
	n, err := o.r.Read(p)
	o.n += int64(n)
	return n, err
}

// Reader splits an mbox stream into messages, one Next call at a time, and
// tracks absolute byte offsets so callers can record where each message
// starts.
type Reader struct {
	or *offsetReader
	br *bufio.Reader

	// nextFromLine/nextFromOffset stash an already-read separator for the
	// following message.
	nextFromLine   string
	nextFromOffset int64
	hasNextFrom    bool
	eof            bool
}

// NewReader creates an mbox reader. If r is seekable, offsets are absolute:
// the counter starts from r's current position, so a caller that seeks to a
// known span start gets file offsets back, not stream-relative ones.
func NewReader(r io.Reader) *Reader {
	or := &offsetReader{r: r}
	if s, ok := r.(io.Seeker); ok {
		if off, err := s.Seek(0, io.SeekCurrent); err == nil {
			or.n = off
		}
	}
	return &Reader{or: or, br: bufio.NewReader(or)}
}

// Offset reports the current logical read offset (bytes consumed) within
// the underlying stream, accounting for buffered data.
func (r *Reader) Offset() int64 {
	return r.or.n - int64(r.br.Buffered())
}

// NextFromOffset reports the stream offset where the next message's "From "
// line begins, which is also where the current message's span ends. At
// end-of-file it equals Offset().
func (r *Reader) NextFromOffset() int64 {
	if r.hasNextFrom {
		return r.nextFromOffset
	}
	return r.Offset()
}

// Next returns the next message in the stream, or io.EOF when none remain.
// Body lines matching ^>+From  are unquoted by one '>' (mboxrd); the
// separator line itself never appears in Raw.
func (r *Reader) Next() (*Message, error) {
	if r.eof {
		return nil, io.EOF
	}

	if !r.hasNextFrom {
		for {
			lineStart := r.Offset()
			line, err := r.readLineBytes()
			if err != nil && err != io.EOF {
				return nil, err
			}
			if isFromSeparatorLine(line) {
				r.stashFrom(line, lineStart)
				break
			}
			if err == io.EOF {
				r.eof = true
				return nil, io.EOF
			}
		}
	}

	msg := &Message{FromLine: r.nextFromLine, Offset: r.nextFromOffset}
	r.hasNextFrom = false

	var raw bytes.Buffer
	for {
		lineStart := r.Offset()
		line, err := r.readLineBytes()
		if len(line) > 0 {
			if isFromSeparatorLine(line) {
				r.stashFrom(line, lineStart)
				break
			}
			raw.Write(unescapeFrom(line))
		}
		if err != nil {
			if err == io.EOF {
				r.eof = true
				break
			}
			return nil, err
		}
	}

	msg.Raw = raw.Bytes()
	return msg, nil
}

func (r *Reader) stashFrom(line []byte, offset int64) {
	r.nextFromLine = string(bytes.TrimRight(line, "\r\n"))
	r.nextFromOffset = offset
	r.hasNextFrom = true
}

func (r *Reader) readLineBytes() ([]byte, error) {
	// ReadBytes returns bufio.ErrBufferFull when the buffer fills before
	// finding the delimiter. Treat that as a partial line and keep going.
	var out []byte
	for {
		b, err := r.br.ReadBytes('\n')
		out = append(out, b...)
		if len(out) > maxLineBytes {
			return nil, fmt.Errorf("mbox line exceeds max length (%d bytes)", maxLineBytes)
		}
		if err == nil {
			return out, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == io.EOF {
			return out, io.EOF
		}
		if len(out) > 0 {
			return out, err
		}
		return nil, err
	}
}

var fromPrefix = []byte("From ")

// isFromSeparatorLine reports whether line (trailing newline optional) is
// an mbox "From " separator: the literal prefix at column 0 followed by an
// envelope sender and a ctime-like date. Requiring the date is what keeps
// ordinary body lines that happen to start with "From " from splitting a
// message in unescaped mboxo data.
func isFromSeparatorLine(line []byte) bool {
	if !bytes.HasPrefix(line, fromPrefix) {
		return false
	}
	fields := strings.Fields(string(bytes.TrimRight(line, "\r\n")))
	return len(fields) >= 6 && looksLikeSeparatorDate(fields)
}

// fromDateLayouts holds every accepted shape of a separator date: with or
// without a weekday, with or without seconds, and with an optional zone
// token before or after the year.
var fromDateLayouts = buildFromDateLayouts()

func buildFromDateLayouts() []string {
	bases := []string{
		"Mon Jan 2 15:04:05 2006",
		"Mon Jan 2 15:04 2006",
		"Jan 2 15:04:05 2006",
		"Jan 2 15:04 2006",
	}
	zones := []string{"MST", "-0700", "-07:00"}
	var layouts []string
	for _, base := range bases {
		layouts = append(layouts, base)
		body := strings.TrimSuffix(base, " 2006")
		for _, zone := range zones {
			layouts = append(layouts, body+" "+zone+" 2006")
			layouts = append(layouts, base+" "+zone)
		}
	}
	return layouts
}

// looksLikeSeparatorDate reports whether fields (a whitespace-split
// separator line) carries a parseable ctime-like date after the "From" and
// envelope-sender tokens. Trailing tokens, such as uucp "remote from host"
// annotations, are ignored.
func looksLikeSeparatorDate(fields []string) bool {
	for _, layout := range fromDateLayouts {
		n := strings.Count(layout, " ") + 1
		if len(fields) < 2+n {
			continue
		}
		if _, err := time.Parse(layout, strings.Join(fields[2:2+n], " ")); err == nil {
			return true
		}
	}
	return false
}

// unescapeFrom removes a single leading '>' from any line matching ^>+From
// (mboxrd unquoting). This also covers mboxo data, where only ">From "
// appears for lines that were originally "From ".
func unescapeFrom(line []byte) []byte {
	if len(line) == 0 || line[0] != '>' {
		return line
	}
	i := 0
	for i < len(line) && line[i] == '>' {
		i++
	}
	if i < len(line) && bytes.HasPrefix(line[i:], fromPrefix) {
		return line[1:]
	}
	return line
}

// Validate scans up to maxBytes of the stream and returns an error if no
// "From " separator is found. It is a cheap heuristic used before
// registering a mailbox, so a typo'd path fails fast.
func Validate(r io.Reader, maxBytes int64) error {
	if maxBytes <= 0 {
		return fmt.Errorf("maxBytes must be > 0")
	}
	br := bufio.NewReader(io.LimitReader(r, maxBytes))
	for {
		line, err := br.ReadString('\n')
		if isFromSeparatorLine([]byte(line)) {
			return nil
		}
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("no \"From \" separators found (not an mbox file?)")
			}
			return err
		}
	}
}
