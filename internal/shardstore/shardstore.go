// Package shardstore implements the sharded, hash-prefix-addressed posting
// list store: a directory of files, each named by a 1..H character prefix
// of a word signature, holding newline-delimited `sig\tiid...` records. It
// load-balances across directories without a global index: a word's
// authoritative shard is always the longest existing prefix of its
// signature, and new prefixes are created only when a shard splits
// (see Rewrite).
package shardstore

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wesm/maildex/internal/fdcache"
	"github.com/wesm/maildex/internal/hashutil"
)

// H is the maximum shard-filename (prefix) length.
const H = hashutil.SigLen

// DefaultTargetKB is the default shard target size, also the default of the
// postinglist_kb config knob.
const DefaultTargetKB = 60

// splitProbability is the fast-path probability of promoting an oversize
// shard to a full rewrite/split cycle on append (1 in 50).
const splitProbability = 1.0 / 50.0

// ErrShardIO wraps unexpected I/O failures while reading or rewriting a
// shard; such failures abort the shard/operation but leave the previous
// on-disk file intact.
var ErrShardIO = errors.New("shardstore: I/O error")

// Store is a sharded posting-list directory.
type Store struct {
	dir     string
	fdc     *fdcache.Cache
	targetB int64
	Rand    *rand.Rand // overridable for deterministic tests
	ownsFDC bool
}

// Open opens (creating if necessary) a posting-list shard directory.
// targetKB <= 0 uses DefaultTargetKB. If fdc is nil, the Store creates and
// owns its own append-handle cache.
func Open(dir string, targetKB int, fdc *fdcache.Cache) (*Store, error) {
	if targetKB <= 0 {
		targetKB = DefaultTargetKB
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shardstore: create dir %s: %w", dir, err)
	}
	owns := false
	if fdc == nil {
		fdc = fdcache.New(fdcache.DefaultCapacity)
		owns = true
	}
	return &Store{
		dir:     dir,
		fdc:     fdc,
		targetB: int64(targetKB) * 1024,
		Rand:    rand.New(rand.NewSource(1)),
		ownsFDC: owns,
	}, nil
}

// Close releases resources the store owns (its append-handle cache, if it
// created one itself).
func (s *Store) Close() {
	if s.ownsFDC {
		s.fdc.Close()
	}
}

// Flush closes all cached append handles, forcing buffered shard writes to
// reach the OS. Callers (e.g. the metadata index's Save) call this after a
// batch of posting writes.
func (s *Store) Flush() {
	s.fdc.Close()
}

func (s *Store) path(prefix string) string {
	return filepath.Join(s.dir, prefix)
}

func (s *Store) exists(prefix string) bool {
	_, err := os.Stat(s.path(prefix))
	return err == nil
}

// lookupPath finds the authoritative shard for routeKey (the first H
// characters of a word signature): the longest existing prefix of the
// key. In read mode, a miss returns ok=false. In write mode, a miss creates
// (and returns) the single-character shard named by routeKey's first byte.
func (s *Store) lookupPath(routeKey string, forWrite bool) (prefix string, ok bool, err error) {
	p := routeKey
	for len(p) > 0 {
		if s.exists(p) {
			return p, true, nil
		}
		p = p[:len(p)-1]
	}
	if !forWrite {
		return "", false, nil
	}
	p = routeKey[:1]
	f, ferr := os.OpenFile(s.path(p), os.O_CREATE|os.O_WRONLY, 0o644)
	if ferr != nil {
		return "", false, fmt.Errorf("%w: create shard %s: %v", ErrShardIO, p, ferr)
	}
	f.Close()
	return p, true, nil
}

func routeKey(sig string) string {
	if len(sig) <= H {
		return sig
	}
	return sig[:H]
}

// Append records that word was seen in message iid. It is the fast path
// used during scanning: one line appended to the authoritative shard, with
// a 1-in-50 chance of triggering a full rewrite/split if the shard has
// grown past its target size minus 6*H bytes of slack.
func (s *Store) Append(word string, iid int64) error {
	sig := hashutil.WordSig(word)
	prefix, _, err := s.lookupPath(routeKey(sig), true)
	if err != nil {
		return err
	}

	path := s.path(prefix)
	f, err := s.fdc.OpenAppend(path)
	if err != nil {
		return fmt.Errorf("%w: append to shard %s: %v", ErrShardIO, prefix, err)
	}
	if _, err := fmt.Fprintf(f, "%s\t%s\n", sig, hashutil.Base36(iid)); err != nil {
		return fmt.Errorf("%w: write shard %s: %v", ErrShardIO, prefix, err)
	}

	if info, statErr := os.Stat(path); statErr == nil {
		if info.Size() > s.targetB-6*H && s.Rand.Float64() < splitProbability {
			return s.Rewrite(prefix, 0)
		}
	}
	return nil
}

// postings is an in-memory signature -> set(iid) accumulator.
type postings map[string]map[int64]struct{}

func (p postings) add(sig string, iid int64) {
	set, ok := p[sig]
	if !ok {
		set = make(map[int64]struct{})
		p[sig] = set
	}
	set[iid] = struct{}{}
}

// byteLen computes the serialized size of p without materializing the blob,
// for the rewrite loop's size checks.
func (p postings) byteLen() int64 {
	var n int64
	for sig, ids := range p {
		n += int64(len(sig))
		for iid := range ids {
			n += int64(len(hashutil.Base36(iid))) + 1 // tab
		}
		n++ // newline
	}
	return n
}

// serialize renders p as the shard file blob, one line per signature, ids
// sorted ascending for determinism.
func (p postings) serialize() []byte {
	sigs := make([]string, 0, len(p))
	for sig := range p {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)

	var buf strings.Builder
	for _, sig := range sigs {
		ids := sortedIDs(p[sig])
		buf.WriteString(sig)
		for _, id := range ids {
			buf.WriteByte('\t')
			buf.WriteString(hashutil.Base36(id))
		}
		buf.WriteByte('\n')
	}
	return []byte(buf.String())
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// loadFile parses one shard file's raw bytes into a postings map.
func loadFile(path string) (postings, error) {
	p := make(postings)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrShardIO, path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		sig := fields[0]
		for _, idStr := range fields[1:] {
			iid, ok := hashutil.ParseBase36(idStr)
			if !ok {
				continue
			}
			p.add(sig, iid)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrShardIO, path, err)
	}
	return p, nil
}

// Load returns the union of all postings recorded in the shard file named
// exactly prefix (not the lookup path; callers that want "the shard
// responsible for a word" should use lookupPath/HitsForWord). A missing
// file behaves as an empty store.
func (s *Store) Load(prefix string) (map[string][]int64, error) {
	p, err := loadFile(s.path(prefix))
	if err != nil {
		return nil, err
	}
	out := make(map[string][]int64, len(p))
	for sig, set := range p {
		out[sig] = sortedIDs(set)
	}
	return out, nil
}

// HitsForWord returns the message ids recorded against word's exact
// signature, following the longest-existing-prefix lookup path. A word
// with no shard (never indexed) returns (nil, nil).
func (s *Store) HitsForWord(word string) ([]int64, error) {
	return s.HitsForSig(hashutil.WordSig(word))
}

// HitsForSig is like HitsForWord but takes an already-computed signature.
func (s *Store) HitsForSig(sig string) ([]int64, error) {
	prefix, ok, err := s.lookupPath(routeKey(sig), false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	p, err := loadFile(s.path(prefix))
	if err != nil {
		return nil, err
	}
	set, ok := p[sig]
	if !ok {
		return nil, nil
	}
	return sortedIDs(set), nil
}

// ReplaceSig overwrites the exact posting set for sig with ids, leaving
// every other signature in the same shard untouched. An empty ids drops the
// signature entirely. Used by tag removal, which must replace one bucket's
// membership rather than drop trailing ids by threshold (see Rewrite's
// tombstoneMax, which does the latter for compaction).
func (s *Store) ReplaceSig(sig string, ids []int64) error {
	prefix, ok, err := s.lookupPath(routeKey(sig), false)
	if err != nil {
		return err
	}
	if !ok {
		if len(ids) == 0 {
			return nil
		}
		prefix, _, err = s.lookupPath(routeKey(sig), true)
		if err != nil {
			return err
		}
	}

	path := s.path(prefix)
	p, err := loadFile(path)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		delete(p, sig)
	} else {
		set := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		p[sig] = set
	}
	return s.writeShardFile(path, p)
}

// Rewrite performs the load/split/save cycle for the shard named prefix:
// it loads every record, and while the serialized size exceeds the shard
// target and the prefix hasn't reached H characters, it picks the largest
// signature bucket (the hotspot) and moves every signature that shares the
// hotspot's prefix one character longer than prefix into that longer
// shard, appending in case that shard already holds data from an earlier
// split. The remainder is written back to prefix in truncate mode,
// or the file is deleted if nothing remains.
//
// If tombstoneMax > 0, ids >= tombstoneMax are dropped from every bucket
// during the rewrite (used by compaction to purge ids that belong to an
// aborted mid-scan state).
//
// Rewrite is idempotent: a second call against the resulting state moves no
// further data.
func (s *Store) Rewrite(prefix string, tombstoneMax int64) error {
	path := s.path(prefix)
	p, err := loadFile(path)
	if err != nil {
		return err
	}
	if tombstoneMax > 0 {
		for sig, set := range p {
			for id := range set {
				if id >= tombstoneMax {
					delete(set, id)
				}
			}
			if len(set) == 0 {
				delete(p, sig)
			}
		}
	}

	for p.byteLen() > s.targetB && len(prefix) < H {
		hotSig, ok := hottestSignature(p)
		if !ok {
			break
		}
		newPrefix := hotSig[:len(prefix)+1]
		moved := make(postings)
		for sig, set := range p {
			if strings.HasPrefix(sig, newPrefix) {
				moved[sig] = set
				delete(p, sig)
			}
		}
		if len(moved) == 0 {
			// Nothing actually extends past prefix+1 (shouldn't happen given
			// hotSig was drawn from p), avoid an infinite loop.
			break
		}
		if err := s.appendPostingsToFile(s.path(newPrefix), moved); err != nil {
			return err
		}
	}

	return s.writeShardFile(path, p)
}

// appendPostingsToFile appends moved's records to the shard at path,
// creating it if it doesn't exist yet. Appending (rather than truncating)
// preserves any records an earlier split already placed there.
func (s *Store) appendPostingsToFile(path string, moved postings) error {
	f, err := s.fdc.OpenFresh(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: append split shard %s: %v", ErrShardIO, path, err)
	}
	defer f.Close()
	if _, err := f.Write(moved.serialize()); err != nil {
		return fmt.Errorf("%w: write split shard %s: %v", ErrShardIO, path, err)
	}
	return nil
}

// writeShardFile writes p to path in truncate mode, or deletes path if p is
// empty. It writes to a temp file and renames into place so a failure
// leaves the previous file untouched.
func (s *Store) writeShardFile(path string, p postings) error {
	s.fdc.Evict(path)

	if len(p) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove empty shard %s: %v", ErrShardIO, path, err)
		}
		return nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, p.serialize(), 0o644); err != nil {
		return fmt.Errorf("%w: write temp shard %s: %v", ErrShardIO, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename temp shard %s: %v", ErrShardIO, tmp, err)
	}
	return nil
}

// hottestSignature returns the signature with the largest id set, breaking
// ties lexicographically (smallest string wins) so hotspot selection is
// deterministic.
func hottestSignature(p postings) (string, bool) {
	best := ""
	bestSize := -1
	for sig, set := range p {
		n := len(set)
		if n > bestSize || (n == bestSize && sig < best) {
			best = sig
			bestSize = n
		}
	}
	return best, bestSize >= 0
}

// shardNames lists all current shard filenames in the store directory.
func (s *Store) shardNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrShardIO, s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// CompactOptions tunes an Optimize pass.
type CompactOptions struct {
	// TombstoneMax, if > 0, drops posting ids >= this value during pass 1
	// (ids that refer to rows beyond the current metadata index, i.e. an
	// aborted mid-scan state).
	TombstoneMax int64
	// Progress, if non-nil, is called once per shard visited across both
	// passes (used to surface per-shard UI progress notifications).
	Progress func(shard string)
}

// Compact runs the two-pass maintenance sweep behind the optimize command:
// pass 1 splits any shard over 90% of target (and drops tombstoned ids);
// pass 2 merges shards back into their longest existing strict prefix when
// the combined size would stay comfortably under target. Running Compact
// twice in a row with no intervening writes must be a no-op (idempotence),
// which holds because Rewrite and the merge condition are both
// size-threshold driven, not probabilistic.
func (s *Store) Compact(opts CompactOptions) error {
	names, err := s.shardNames()
	if err != nil {
		return err
	}

	// Pass 1: split any oversize shard.
	for _, name := range names {
		if opts.Progress != nil {
			opts.Progress(name)
		}
		info, err := os.Stat(s.path(name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("%w: stat %s: %v", ErrShardIO, name, err)
		}
		if info.Size() > (s.targetB*9)/10 {
			if err := s.Rewrite(name, opts.TombstoneMax); err != nil {
				return err
			}
		}
	}

	// Pass 2: merge small shards upward, longest prefix first so merges
	// cascade correctly when a whole subtree collapses.
	names, err = s.shardNames()
	if err != nil {
		return err
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	for _, name := range names {
		if opts.Progress != nil {
			opts.Progress(name)
		}
		if len(name) <= 1 {
			continue // no strict prefix possible
		}
		parentPrefix, ok, err := s.lookupPath(name[:len(name)-1], false)
		if err != nil {
			return err
		}
		if !ok || parentPrefix == name {
			continue
		}
		fi, errF := os.Stat(s.path(name))
		pi, errP := os.Stat(s.path(parentPrefix))
		if errF != nil || errP != nil {
			continue
		}
		if fi.Size()+pi.Size() >= s.targetB-6*H {
			continue
		}
		moved, err := loadFile(s.path(name))
		if err != nil {
			return err
		}
		if err := s.appendPostingsToFile(s.path(parentPrefix), moved); err != nil {
			return err
		}
		s.fdc.Evict(s.path(name))
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove merged shard %s: %v", ErrShardIO, name, err)
		}
	}
	return nil
}

// shardFileSize is a small helper exposed for tests/diagnostics.
func (s *Store) shardFileSize(prefix string) (int64, error) {
	info, err := os.Stat(s.path(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}
