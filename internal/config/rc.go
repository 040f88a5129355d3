package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/wesm/maildex/internal/hashutil"
)

// RCFile is a parsed legacy config.rc: the line-oriented "key = value" and
// "key:subkey = value" grammar older mail-archive working directories use,
// read only for importing such a directory into this module's own
// TOML-backed config.
type RCFile struct {
	Scalars map[string]string
	Dicts   map[string]map[string]string
}

// rcDictKeys are the dict-valued top-level keys the original grammar
// recognizes (mailbox/tag ids as subkeys); everything else is a scalar.
var rcDictKeys = map[string]bool{
	"mailbox":      true,
	"tag":          true,
	"filter":       true,
	"filter_terms": true,
	"filter_tags":  true,
}

// ParseRC parses the "key = value" / "key:subkey = value" grammar, skipping
// blank lines and '#'-prefixed comments. A malformed line (no '=' and not a
// comment/blank) is an error.
func ParseRC(r io.Reader) (*RCFile, error) {
	rc := &RCFile{
		Scalars: make(map[string]string),
		Dicts:   make(map[string]map[string]string),
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, fmt.Errorf("config: bad line in config.rc: %q", line)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		key = strings.ToLower(key)

		if colon := strings.Index(key, ":"); colon >= 0 {
			top, sub := key[:colon], key[colon+1:]
			if rcDictKeys[top] {
				if rc.Dicts[top] == nil {
					rc.Dicts[top] = make(map[string]string)
				}
				rc.Dicts[top][sub] = val
				continue
			}
		}
		rc.Scalars[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: read config.rc: %w", err)
	}
	return rc, nil
}

// ParseRCFile reads and parses a config.rc file at path.
func ParseRCFile(path string) (*RCFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return ParseRC(f)
}

// ImportRC folds a legacy config.rc into c: scalars become tuning knobs
// (where recognized), and the mailbox/tag/filter dicts populate the
// corresponding dictionaries. It does not touch the metadata index or
// posting store; those are migrated separately by pointing a fresh Scan at
// the same mbox paths, since PTR/IID assignment is this module's own, not
// the legacy format's.
func (c *Config) ImportRC(rc *RCFile) {
	for key, val := range rc.Scalars {
		_ = c.Set(key, val) // unrecognized scalars (mailindex_file, etc.) are ignored
	}

	for id, path := range rc.Dicts["mailbox"] {
		c.mailboxes = append(c.mailboxes, MailboxEntry{ID: id, Path: path})
	}
	sort.Slice(c.mailboxes, func(i, j int) bool { return c.mailboxes[i].ID < c.mailboxes[j].ID })

	for id, name := range rc.Dicts["tag"] {
		c.tags = append(c.tags, TagEntry{ID: id, Name: name})
	}
	sort.Slice(c.tags, func(i, j int) bool { return c.tags[i].ID < c.tags[j].ID })

	comments := rc.Dicts["filter"]
	terms := rc.Dicts["filter_terms"]
	tags := rc.Dicts["filter_tags"]
	fids := make(map[string]bool, len(comments)+len(terms)+len(tags))
	for fid := range comments {
		fids[fid] = true
	}
	for fid := range terms {
		fids[fid] = true
	}
	for fid := range tags {
		fids[fid] = true
	}
	ordered := make([]string, 0, len(fids))
	for fid := range fids {
		ordered = append(ordered, fid)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, _ := hashutil.ParseBase36(ordered[i])
		b, _ := hashutil.ParseBase36(ordered[j])
		return a < b
	})
	for _, fid := range ordered {
		n, ok := hashutil.ParseBase36(fid)
		if !ok {
			continue
		}
		c.filters = append(c.filters, FilterEntry{
			ID:      n,
			Terms:   terms[fid],
			Tags:    tags[fid],
			Comment: comments[fid],
		})
	}
	sortFilters(c.filters)
}
