// Package config implements the concrete Config collaborator: the
// process-wide holder of tuning knobs, mailbox and tag dictionaries, and
// filter rules, persisted as TOML under the working directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/wesm/maildex/internal/collab"
	"github.com/wesm/maildex/internal/fileutil"
	"github.com/wesm/maildex/internal/filter"
	"github.com/wesm/maildex/internal/mbox"
)

// DefaultDirName is the default working directory name under the user's
// home.
const DefaultDirName = ".maildex"

// Knobs holds the tuning knobs exposed through `config get/set`.
type Knobs struct {
	PostingListKB int    `toml:"postinglist_kb"`
	SortMax       int    `toml:"sort_max"`
	NumResults    int    `toml:"num_results"`
	FDCacheSize   int    `toml:"fd_cache_size"`
	DefaultOrder  string `toml:"default_order"`
}

func defaultKnobs() Knobs {
	return Knobs{
		PostingListKB: 60,
		SortMax:       5000,
		NumResults:    20,
		FDCacheSize:   500,
		DefaultOrder:  "reverse_date",
	}
}

// MailboxEntry is one configured mailbox: its stable 3-char base36 id and
// its mbox file path.
type MailboxEntry struct {
	ID   string `toml:"id"`
	Path string `toml:"path"`
}

// TagEntry maps a tag id to its display name.
type TagEntry struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// FilterEntry is one persisted filter rule: Tags is a space-separated
// signed tag-ref list ("+inbox -spam").
type FilterEntry struct {
	ID      int64  `toml:"id"`
	Terms   string `toml:"terms"`
	Tags    string `toml:"tags"`
	Comment string `toml:"comment"`
}

// fileLayout holds everything persisted to config.toml.
type fileLayout struct {
	Knobs     Knobs          `toml:"knobs"`
	Mailboxes []MailboxEntry `toml:"mailbox"`
	Tags      []TagEntry     `toml:"tag"`
	Filters   []FilterEntry  `toml:"filter"`
}

// Config is the concrete collab.Config collaborator.
type Config struct {
	HomeDir    string
	configPath string

	knobs     Knobs
	mailboxes []MailboxEntry
	tags      []TagEntry
	filters   []FilterEntry
}

var _ collab.Config = (*Config)(nil)

// DefaultHome returns the default working directory. Respects MAILDEX_HOME,
// expanding a leading ~.
func DefaultHome() string {
	if h := os.Getenv("MAILDEX_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}

// NewDefault returns a Config with default knobs and no mailboxes, tags, or
// filters, rooted at DefaultHome().
func NewDefault() *Config {
	return &Config{HomeDir: DefaultHome(), knobs: defaultKnobs()}
}

// Load reads config.toml from the given path, or from the default location
// under homeDir (or DefaultHome() if homeDir is empty) when path is empty.
// An explicit path that doesn't exist is an error; a missing default path
// just returns defaults.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	cfg := &Config{knobs: defaultKnobs()}

	if homeDir != "" {
		cfg.HomeDir = expandPath(homeDir)
	} else {
		cfg.HomeDir = DefaultHome()
	}

	if !explicit {
		path = filepath.Join(cfg.HomeDir, "config.toml")
	} else {
		path = expandPath(path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}

	cfg.configPath = path
	if explicit && homeDir == "" {
		cfg.HomeDir = filepath.Dir(path)
	}

	var layout fileLayout
	if _, err := toml.DecodeFile(path, &layout); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyLayout(layout)
	return cfg, nil
}

func (c *Config) applyLayout(layout fileLayout) {
	c.knobs = layout.Knobs
	if c.knobs.PostingListKB == 0 {
		c.knobs.PostingListKB = defaultKnobs().PostingListKB
	}
	if c.knobs.SortMax == 0 {
		c.knobs.SortMax = defaultKnobs().SortMax
	}
	if c.knobs.NumResults == 0 {
		c.knobs.NumResults = defaultKnobs().NumResults
	}
	if c.knobs.FDCacheSize == 0 {
		c.knobs.FDCacheSize = defaultKnobs().FDCacheSize
	}
	if c.knobs.DefaultOrder == "" {
		c.knobs.DefaultOrder = defaultKnobs().DefaultOrder
	}
	c.mailboxes = layout.Mailboxes
	c.tags = layout.Tags
	c.filters = layout.Filters
	sortFilters(c.filters)
}

func sortFilters(fs []FilterEntry) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].ID < fs[j].ID })
}

// ConfigFilePath returns the path config.toml was (or would be) loaded from.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// EnsureHomeDir creates the working directory if it doesn't exist.
func (c *Config) EnsureHomeDir() error {
	return fileutil.SecureMkdirAll(c.HomeDir, 0700)
}

// Save persists the config to its config file path, via a temp file and
// rename so a failed write never corrupts the previous config.
func (c *Config) Save() error {
	layout := fileLayout{
		Knobs:     c.knobs,
		Mailboxes: c.mailboxes,
		Tags:      c.tags,
		Filters:   c.filters,
	}
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(layout); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	path := c.ConfigFilePath()
	tmp := path + ".tmp"
	if err := fileutil.SecureWriteFile(tmp, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	c.configPath = path
	return nil
}

// --- collab.Config ---

// Get returns a tuning-knob value by key, or def if key is unknown.
func (c *Config) Get(key string, def string) string {
	switch key {
	case "postinglist_kb":
		return strconv.Itoa(c.knobs.PostingListKB)
	case "sort_max":
		return strconv.Itoa(c.knobs.SortMax)
	case "num_results":
		return strconv.Itoa(c.knobs.NumResults)
	case "fd_cache_size":
		return strconv.Itoa(c.knobs.FDCacheSize)
	case "default_order":
		return c.knobs.DefaultOrder
	default:
		return def
	}
}

// Set assigns a tuning-knob value by key. Unknown keys are rejected so typos
// in `config set` don't silently do nothing.
func (c *Config) Set(key, value string) error {
	switch key {
	case "postinglist_kb", "sort_max", "num_results", "fd_cache_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: %s must be an integer: %w", key, err)
		}
		switch key {
		case "postinglist_kb":
			c.knobs.PostingListKB = n
		case "sort_max":
			c.knobs.SortMax = n
		case "num_results":
			c.knobs.NumResults = n
		case "fd_cache_size":
			c.knobs.FDCacheSize = n
		}
	case "default_order":
		c.knobs.DefaultOrder = value
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	return nil
}

// Unset resets a tuning-knob key back to its default.
func (c *Config) Unset(key string) error {
	d := defaultKnobs()
	switch key {
	case "postinglist_kb":
		c.knobs.PostingListKB = d.PostingListKB
	case "sort_max":
		c.knobs.SortMax = d.SortMax
	case "num_results":
		c.knobs.NumResults = d.NumResults
	case "fd_cache_size":
		c.knobs.FDCacheSize = d.FDCacheSize
	case "default_order":
		c.knobs.DefaultOrder = d.DefaultOrder
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	return nil
}

// Knobs returns a copy of the current tuning knobs, for `config print`.
func (c *Config) Knobs() Knobs { return c.knobs }

func (c *Config) Workdir() string { return c.HomeDir }

func (c *Config) MailIndexFile() string {
	return filepath.Join(c.HomeDir, "mailpile.idx")
}

func (c *Config) PostingListDir() string {
	return filepath.Join(c.HomeDir, "search")
}

func (c *Config) descriptorPath(mailboxID string) string {
	return filepath.Join(c.HomeDir, "pickled-mailbox."+mailboxID)
}

func (c *Config) GetFilters() []filter.Rule {
	rules := make([]filter.Rule, 0, len(c.filters))
	for _, f := range c.filters {
		rules = append(rules, filter.Rule{
			ID:      f.ID,
			Terms:   f.Terms,
			TagRefs: strings.Fields(f.Tags),
		})
	}
	return rules
}

func (c *Config) GetMailboxes() []collab.Mailbox {
	out := make([]collab.Mailbox, 0, len(c.mailboxes))
	for _, m := range c.mailboxes {
		out = append(out, collab.Mailbox{ID: m.ID, Path: m.Path})
	}
	return out
}

// OpenMailbox returns the mailbox descriptor for id, loading a persisted
// snapshot if present or scanning path fresh otherwise. It does not persist
// the result; callers save it back via SaveMailboxDescriptor once scanning
// has made progress worth checkpointing.
func (c *Config) OpenMailbox(id, path string) (*mbox.Descriptor, error) {
	tocPath := c.descriptorPath(id)
	if _, err := os.Stat(tocPath); err == nil {
		return mbox.LoadDescriptor(tocPath)
	}
	return mbox.NewDescriptor(id, path)
}

// SaveMailboxDescriptor persists d's snapshot to its pickled-mailbox file.
func (c *Config) SaveMailboxDescriptor(d *mbox.Descriptor) error {
	return d.Save(c.descriptorPath(d.MailboxID))
}

func (c *Config) TagName(tagID string) (string, bool) {
	for _, t := range c.tags {
		if t.ID == tagID {
			return t.Name, true
		}
	}
	return "", false
}

func (c *Config) TagID(name string) (string, bool) {
	for _, t := range c.tags {
		if t.Name == name {
			return t.ID, true
		}
	}
	return "", false
}

// --- mutation helpers used by the CLI surface ---

// AddMailbox registers path under a freshly assigned 3-char base36 id and
// returns it. The caller is responsible for persisting the initial
// descriptor (e.g. via OpenMailbox + SaveMailboxDescriptor) and calling Save.
func (c *Config) AddMailbox(path string) string {
	id := mbox.FormatMailboxID(int64(len(c.mailboxes)))
	c.mailboxes = append(c.mailboxes, MailboxEntry{ID: id, Path: path})
	return id
}

// RemoveMailbox drops the mailbox entry with the given id. It does not
// delete its pickled descriptor or touch the metadata index; replies
// already indexed from that mailbox remain searchable under their existing
// PTRs.
func (c *Config) RemoveMailbox(id string) bool {
	for i, m := range c.mailboxes {
		if m.ID == id {
			c.mailboxes = append(c.mailboxes[:i], c.mailboxes[i+1:]...)
			return true
		}
	}
	return false
}

// AddTag registers name under a freshly assigned numeric tag id (as a
// base10 string, since tag ids appear inside free-form query text like
// "tag:5" and base36 would be ambiguous there) and returns it.
func (c *Config) AddTag(name string) string {
	id := strconv.Itoa(len(c.tags))
	c.tags = append(c.tags, TagEntry{ID: id, Name: name})
	return id
}

// ListTags returns every known tag entry.
func (c *Config) ListTags() []TagEntry {
	out := make([]TagEntry, len(c.tags))
	copy(out, c.tags)
	return out
}

// AddFilter appends a new filter rule with an auto-assigned id (one past
// the current maximum) and returns it.
func (c *Config) AddFilter(terms, tags, comment string) int64 {
	var maxID int64 = -1
	for _, f := range c.filters {
		if f.ID > maxID {
			maxID = f.ID
		}
	}
	id := maxID + 1
	c.filters = append(c.filters, FilterEntry{ID: id, Terms: terms, Tags: tags, Comment: comment})
	sortFilters(c.filters)
	return id
}

// RemoveFilter deletes the filter rule with the given id.
func (c *Config) RemoveFilter(id int64) bool {
	for i, f := range c.filters {
		if f.ID == id {
			c.filters = append(c.filters[:i], c.filters[i+1:]...)
			return true
		}
	}
	return false
}

// ListFilterEntries returns every persisted filter entry, in filter-id order.
func (c *Config) ListFilterEntries() []FilterEntry {
	out := make([]FilterEntry, len(c.filters))
	copy(out, c.filters)
	return out
}

// expandPath expands a leading ~ to the user's home directory, stripping
// Windows-CMD-passthrough quotes first.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if runtime.GOOS == "windows" && len(path) >= 2 &&
		((path[0] == '\'' && path[len(path)-1] == '\'') ||
			(path[0] == '"' && path[len(path)-1] == '"')) {
		path = path[1 : len(path)-1]
	}
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		suffix := path[2:]
		for len(suffix) > 0 && (suffix[0] == '/' || suffix[0] == os.PathSeparator) {
			suffix = suffix[1:]
		}
		return filepath.Join(home, suffix)
	}
	return path
}
