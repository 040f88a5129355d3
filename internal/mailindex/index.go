package mailindex

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wesm/maildex/internal/fileutil"
	"github.com/wesm/maildex/internal/hashutil"
	"github.com/wesm/maildex/internal/shardstore"
)

// Index owns the MR array and the secondary maps rebuilt from it: PTR→IID
// and MID→IID. It is a process-wide resource; callers must serialize tag
// mutation against scanning, per the single-writer model.
type Index struct {
	rows []MR

	ptrIndex  map[string]int64
	midIndex  map[string]int64
	convIndex map[int64][]int64
}

// New returns an empty index.
func New() *Index {
	idx := &Index{}
	idx.updateSecondary()
	return idx
}

// Load reads an index file line by line, skipping blank and '#'-prefixed
// lines, and rebuilds the secondary indexes.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("mailindex: open %s: %w", path, err)
	}
	defer f.Close()

	idx := &Index{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if isCommentOrBlank(line) {
			continue
		}
		mr, err := DecodeMR(line)
		if err != nil {
			return nil, fmt.Errorf("mailindex: decode %s: %w", path, err)
		}
		idx.rows = append(idx.rows, mr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mailindex: read %s: %w", path, err)
	}
	idx.updateSecondary()
	return idx, nil
}

// Save writes a header comment followed by every MR, one per line, to path
// via a temp-file-and-rename so a failed write never corrupts the prior
// index. It does not flush any posting store; AddTag/RemoveTag flush the
// store themselves once their posting writes are done.
func Save(idx *Index, path string) error {
	var sb strings.Builder
	sb.WriteString(headerComment)
	sb.WriteByte('\n')
	for _, mr := range idx.rows {
		sb.WriteString(mr.Encode())
		sb.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := fileutil.SecureWriteFile(tmp, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("mailindex: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("mailindex: rename into place: %w", err)
	}
	return nil
}

// updateSecondary rebuilds PTR→IID, MID→IID, and CONV→members from rows.
func (idx *Index) updateSecondary() {
	idx.ptrIndex = make(map[string]int64, len(idx.rows))
	idx.midIndex = make(map[string]int64, len(idx.rows))
	idx.convIndex = make(map[int64][]int64, len(idx.rows))
	for _, mr := range idx.rows {
		idx.ptrIndex[mr.PTR] = mr.IID
		idx.midIndex[mr.MID] = mr.IID
		idx.convIndex[mr.Conv] = append(idx.convIndex[mr.Conv], mr.IID)
	}
}

// Len returns the number of rows (also the sentinel IID value guarding
// aborted mid-scan state).
func (idx *Index) Len() int64 { return int64(len(idx.rows)) }

// LookupPTR returns the IID for a known pointer.
func (idx *Index) LookupPTR(ptr string) (int64, bool) {
	iid, ok := idx.ptrIndex[ptr]
	return iid, ok
}

// LookupMID returns the IID for a known message id hash.
func (idx *Index) LookupMID(mid string) (int64, bool) {
	iid, ok := idx.midIndex[mid]
	return iid, ok
}

// AddMessage appends a new MR and updates the secondary indexes. The new
// row's IID is its position, satisfying base36(i) == MR[i].IID.
func (idx *Index) AddMessage(ptr string, size int64, mid string, date time.Time, from, subject string, tags []string, conv int64) int64 {
	iid := int64(len(idx.rows))
	mr := MR{
		IID:     iid,
		PTR:     ptr,
		Size:    size,
		MID:     mid,
		Date:    date,
		From:    from,
		Subject: subject,
		Tags:    tags,
		Conv:    conv,
	}
	idx.rows = append(idx.rows, mr)
	idx.ptrIndex[ptr] = iid
	idx.midIndex[mid] = iid
	idx.convIndex[conv] = append(idx.convIndex[conv], iid)
	return iid
}

// AddReply records childIID as a direct reply of rootIID, appending to
// rootIID's own REPLIES list. An out-of-range rootIID is ignored.
func (idx *Index) AddReply(rootIID, childIID int64) {
	if rootIID < 0 || int(rootIID) >= len(idx.rows) {
		return
	}
	idx.rows[rootIID].Replies = append(idx.rows[rootIID].Replies, childIID)
}

// UpdatePointer rewrites an MR's PTR and SIZE in place, used when the
// scanner detects a message moved within the same mailbox. It never changes
// IID, MID, or any other field.
func (idx *Index) UpdatePointer(iid int64, ptr string, size int64) error {
	if iid < 0 || int(iid) >= len(idx.rows) {
		return fmt.Errorf("mailindex: IID %d out of range", iid)
	}
	old := idx.rows[iid].PTR
	delete(idx.ptrIndex, old)
	idx.rows[iid].PTR = ptr
	idx.rows[iid].Size = size
	idx.ptrIndex[ptr] = iid
	return nil
}

// Get returns the MR at iid.
func (idx *Index) Get(iid int64) (MR, bool) {
	if iid < 0 || int(iid) >= len(idx.rows) {
		return MR{}, false
	}
	return idx.rows[iid], true
}

// GetReplies returns the direct REPLIES of iid.
func (idx *Index) GetReplies(iid int64) []int64 {
	mr, ok := idx.Get(iid)
	if !ok {
		return nil
	}
	return mr.Replies
}

// GetTags returns the TAGS of iid.
func (idx *Index) GetTags(iid int64) []string {
	mr, ok := idx.Get(iid)
	if !ok {
		return nil
	}
	return mr.Tags
}

// GetConversation returns every IID sharing iid's CONV, in ascending IID
// order (the conversation root included).
func (idx *Index) GetConversation(iid int64) []int64 {
	mr, ok := idx.Get(iid)
	if !ok {
		return nil
	}
	members := idx.convIndex[mr.Conv]
	out := make([]int64, len(members))
	copy(out, members)
	return out
}

// transitiveReplies walks REPLIES recursively from each seed IID, returning
// the union of seeds and everything transitively reachable.
func (idx *Index) transitiveReplies(seeds []int64) []int64 {
	seen := make(map[int64]bool, len(seeds))
	var out []int64
	var walk func(int64)
	walk = func(iid int64) {
		if seen[iid] {
			return
		}
		seen[iid] = true
		out = append(out, iid)
		for _, child := range idx.GetReplies(iid) {
			walk(child)
		}
	}
	for _, s := range seeds {
		walk(s)
	}
	return out
}

// tagPostingWord is the posting-list keyword an id is stored under when
// tagged: "<tag_id>:tag".
func tagPostingWord(tagID string) string {
	return tagID + ":tag"
}

// AddTag transitively includes every reply reachable from iids, adds tagID
// to each row's TAGS, and appends each IID to the "<tag_id>:tag" posting
// list, flushing the store once at the end. Idempotent: re-adding a tag a
// row already carries is a no-op for that row.
func (idx *Index) AddTag(store *shardstore.Store, tagID string, iids []int64) error {
	all := idx.transitiveReplies(iids)
	word := tagPostingWord(tagID)
	for _, iid := range all {
		if int(iid) >= len(idx.rows) || iid < 0 {
			continue
		}
		mr := &idx.rows[iid]
		if containsString(mr.Tags, tagID) {
			continue
		}
		mr.Tags = append(mr.Tags, tagID)
		if err := store.Append(word, iid); err != nil {
			return fmt.Errorf("mailindex: add tag %s to %d: %w", tagID, iid, err)
		}
	}
	store.Flush()
	return nil
}

// RemoveTag transitively includes every reply reachable from iids, removes
// tagID from each row's TAGS, and rewrites the "<tag_id>:tag" posting list
// to drop those IIDs, flushing once at the end. Idempotent.
func (idx *Index) RemoveTag(store *shardstore.Store, tagID string, iids []int64) error {
	all := idx.transitiveReplies(iids)
	removeSet := make(map[int64]bool, len(all))
	for _, iid := range all {
		if int(iid) >= len(idx.rows) || iid < 0 {
			continue
		}
		mr := &idx.rows[iid]
		if !containsString(mr.Tags, tagID) {
			continue
		}
		mr.Tags = removeString(mr.Tags, tagID)
		removeSet[iid] = true
	}
	if len(removeSet) == 0 {
		return nil
	}

	word := tagPostingWord(tagID)
	hits, err := store.HitsForWord(word)
	if err != nil {
		return fmt.Errorf("mailindex: remove tag %s: %w", tagID, err)
	}
	var kept []int64
	for _, iid := range hits {
		if !removeSet[iid] {
			kept = append(kept, iid)
		}
	}
	sig := hashutil.WordSig(word)
	if err := store.ReplaceSig(sig, kept); err != nil {
		return fmt.Errorf("mailindex: remove tag %s: %w", tagID, err)
	}
	store.Flush()
	return nil
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func removeString(xs []string, s string) []string {
	out := xs[:0]
	for _, x := range xs {
		if x != s {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
