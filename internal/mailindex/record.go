// Package mailindex owns the mail metadata index: the append-only array of
// message records (MR) and the secondary in-memory maps derived from it.
package mailindex

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesm/maildex/internal/hashutil"
)

// fieldSeparator delimits the fields of an encoded MR row; rows are
// newline-terminated. Decoded header text is sanitized so neither a tab nor
// a newline ever appears inside a field value.
const fieldSeparator = "\t"

// headerComment is written as the first line of a saved index file.
const headerComment = "# maildex metadata index: IID\tPTR\tSIZE\tMID\tDATE\tFROM\tSUBJECT\tTAGS\tREPLIES\tCONV"

const mrFieldCount = 10

// MR is one message record: the unit of the mail metadata index.
type MR struct {
	IID     int64
	PTR     string
	Size    int64
	MID     string
	Date    time.Time
	From    string
	Subject string
	Tags    []string
	Replies []int64
	Conv    int64
}

// sanitizeHeader replaces tabs, newlines and carriage returns in decoded
// header text with spaces so it can never corrupt the tab-delimited on-disk
// format.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func encodeInt64List(xs []int64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = hashutil.Base36(x)
	}
	return strings.Join(parts, ",")
}

func decodeInt64List(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, p := range parts {
		n, ok := hashutil.ParseBase36(p)
		if !ok {
			return nil, fmt.Errorf("mailindex: invalid base36 list entry %q", p)
		}
		out[i] = n
	}
	return out, nil
}

func encodeTags(tags []string) string {
	return strings.Join(tags, ",")
}

func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Encode renders an MR as one tab-delimited line, without a trailing
// newline. Header text is sanitized at the point of encoding, not at
// ingest, so the invariant holds regardless of caller discipline.
func (m MR) Encode() string {
	fields := []string{
		hashutil.Base36(m.IID),
		m.PTR,
		hashutil.Base36(m.Size),
		m.MID,
		hashutil.Base36(m.Date.UTC().Unix()),
		sanitizeHeader(m.From),
		sanitizeHeader(m.Subject),
		encodeTags(m.Tags),
		encodeInt64List(m.Replies),
		hashutil.Base36(m.Conv),
	}
	return strings.Join(fields, fieldSeparator)
}

// DecodeMR parses one tab-delimited MR line.
func DecodeMR(line string) (MR, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) != mrFieldCount {
		return MR{}, fmt.Errorf("mailindex: expected %d fields, got %d", mrFieldCount, len(fields))
	}

	iid, ok := hashutil.ParseBase36(fields[0])
	if !ok {
		return MR{}, fmt.Errorf("mailindex: invalid IID %q", fields[0])
	}
	size, ok := hashutil.ParseBase36(fields[2])
	if !ok {
		return MR{}, fmt.Errorf("mailindex: invalid SIZE %q", fields[2])
	}
	dateSecs, ok := hashutil.ParseBase36(fields[4])
	if !ok {
		return MR{}, fmt.Errorf("mailindex: invalid DATE %q", fields[4])
	}
	replies, err := decodeInt64List(fields[8])
	if err != nil {
		return MR{}, err
	}
	conv, ok := hashutil.ParseBase36(fields[9])
	if !ok {
		return MR{}, fmt.Errorf("mailindex: invalid CONV %q", fields[9])
	}

	return MR{
		IID:     iid,
		PTR:     fields[1],
		Size:    size,
		MID:     fields[3],
		Date:    time.Unix(dateSecs, 0).UTC(),
		From:    fields[5],
		Subject: fields[6],
		Tags:    decodeTags(fields[7]),
		Replies: replies,
		Conv:    conv,
	}, nil
}

// isCommentOrBlank reports whether a raw index line should be skipped on
// load: blank lines and lines starting with '#'.
func isCommentOrBlank(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}
