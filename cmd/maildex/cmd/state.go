package cmd

import (
	"fmt"
	"strconv"

	"github.com/wesm/maildex/internal/fdcache"
	"github.com/wesm/maildex/internal/mailindex"
	"github.com/wesm/maildex/internal/shardstore"
)

// archive bundles the metadata index and posting store every mutating or
// querying command needs, opened against the current cfg.
type archive struct {
	Index *mailindex.Index
	Store *shardstore.Store
	fdc   *fdcache.Cache
}

// openArchive loads the metadata index and opens the posting-list store
// using the configured fd_cache_size and postinglist_kb knobs. Callers must
// Close the result.
func openArchive() (*archive, error) {
	idx, err := mailindex.Load(cfg.MailIndexFile())
	if err != nil {
		return nil, fmt.Errorf("load metadata index: %w", err)
	}

	capacity := knobInt("fd_cache_size", fdcache.DefaultCapacity)
	fdc := fdcache.New(capacity)

	targetKB := knobInt("postinglist_kb", shardstore.DefaultTargetKB)
	store, err := shardstore.Open(cfg.PostingListDir(), targetKB, fdc)
	if err != nil {
		fdc.Close()
		return nil, fmt.Errorf("open posting store: %w", err)
	}

	return &archive{Index: idx, Store: store, fdc: fdc}, nil
}

// Close releases the posting store's file handles. Store.Close only closes
// an fdcache it created itself, so the cache this package configured with
// the fd_cache_size knob is closed explicitly here.
func (a *archive) Close() {
	a.Store.Close()
	a.fdc.Close()
}

// SaveIndex persists the metadata index back to its file.
func (a *archive) SaveIndex() error {
	return mailindex.Save(a.Index, cfg.MailIndexFile())
}

func knobInt(key string, def int) int {
	s := cfg.Get(key, strconv.Itoa(def))
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
