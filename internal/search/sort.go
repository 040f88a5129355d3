package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wesm/maildex/internal/mailindex"
)

// SortSpec is a parsed sort-key string: a base key, an optional reverse
// modifier ("rev-" prefix), and whether conversation collapsing is
// suppressed ("flat" anywhere in the name).
type SortSpec struct {
	Key     string
	Reverse bool
	Flat    bool
}

// ParseSortSpec parses a sort-key string like "date", "rev-date",
// "subject-flat", "rev-from-flat", or the config knob's bare default value
// "reverse_date" (no hyphen). Reverse and key detection are prefix/suffix
// based, not exact-match, matching the source's own `how.startswith('rev')`
// / `how.endswith('date')` convention: this is what lets the literal
// default_order default "reverse_date" invert date order without needing
// the "rev-" spelling.
func ParseSortSpec(name string) SortSpec {
	flat := strings.Contains(name, "flat")
	cleaned := strings.ReplaceAll(name, "-flat", "")
	cleaned = strings.ReplaceAll(cleaned, "flat", "")

	reverse := strings.HasPrefix(cleaned, "rev")
	return SortSpec{Key: resolveKey(cleaned), Reverse: reverse, Flat: flat}
}

// resolveKey maps a cleaned (flat-stripped) sort-key string to one of the
// fixed base keys by suffix, so both "rev-date" and "reverse_date" resolve
// to "date". An unrecognized or empty string resolves to "unsorted".
func resolveKey(cleaned string) string {
	switch {
	case cleaned == "" || cleaned == "unsorted":
		return "unsorted"
	case strings.HasSuffix(cleaned, "index"):
		return "index"
	case strings.HasSuffix(cleaned, "random"):
		return "random"
	case strings.HasSuffix(cleaned, "date"):
		return "date"
	case strings.HasSuffix(cleaned, "from"):
		return "from"
	case strings.HasSuffix(cleaned, "subject"):
		return "subject"
	default:
		return "unsorted"
	}
}

// Sort orders ids by the given key and applies the sort_max bounded-work fallback:
// when the result exceeds sortMax, only the first sortMax ids (in their
// pre-sort order) are sorted, by IID ascending, and the remainder is
// concatenated unsorted. A non-empty warning is returned when the fallback
// triggers.
func Sort(ids []int64, idx *mailindex.Index, spec SortSpec, sortMax int, randSeed int64) (sorted []int64, warning string) {
	if sortMax > 0 && len(ids) > sortMax {
		head := append([]int64(nil), ids[:sortMax]...)
		tail := ids[sortMax:]
		sort.Slice(head, func(i, j int) bool { return head[i] < head[j] })
		result := append(head, tail...)
		if spec.Reverse {
			reverseInPlace(result)
		}
		return result, fmt.Sprintf("result set of %d exceeds sort_max %d; only the first %d were sorted by index", len(ids), sortMax, sortMax)
	}

	result := append([]int64(nil), ids...)
	sortKey(result, idx, spec.Key, randSeed)
	if spec.Reverse {
		reverseInPlace(result)
	}
	return result, ""
}

// CollapseConversations folds ids to one entry per CONV, keeping the first
// occurrence and preserving order. An id with no known MR collapses to
// itself.
func CollapseConversations(ids []int64, idx *mailindex.Index) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		conv := id
		if mr, ok := idx.Get(id); ok {
			conv = mr.Conv
		}
		if seen[conv] {
			continue
		}
		seen[conv] = true
		out = append(out, id)
	}
	return out
}

// SortAndCollapse runs Sort followed by CollapseConversations, unless
// spec.Flat suppresses the collapse.
func SortAndCollapse(ids []int64, idx *mailindex.Index, spec SortSpec, sortMax int, randSeed int64) (result []int64, warning string) {
	result, warning = Sort(ids, idx, spec, sortMax, randSeed)
	if !spec.Flat {
		result = CollapseConversations(result, idx)
	}
	return result, warning
}

func sortKey(ids []int64, idx *mailindex.Index, key string, randSeed int64) {
	switch key {
	case "unsorted":
		// preserve reduction order
	case "index":
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	case "random":
		sort.Slice(ids, func(i, j int) bool {
			return randomKey(ids[i], randSeed) < randomKey(ids[j], randSeed)
		})
	case "date":
		sort.Slice(ids, func(i, j int) bool {
			return fieldOf(idx, ids[i]).Date.Before(fieldOf(idx, ids[j]).Date)
		})
	case "from":
		sort.Slice(ids, func(i, j int) bool {
			return fieldOf(idx, ids[i]).From < fieldOf(idx, ids[j]).From
		})
	case "subject":
		sort.Slice(ids, func(i, j int) bool {
			return fieldOf(idx, ids[i]).Subject < fieldOf(idx, ids[j]).Subject
		})
	default:
		// Unknown key: leave order untouched rather than erroring, matching
		// the permissive stance elsewhere in query rewriting.
	}
}

func fieldOf(idx *mailindex.Index, iid int64) mailindex.MR {
	mr, _ := idx.Get(iid)
	return mr
}

// randomKey derives a stable but opaque sort key from an id and a caller-
// supplied seed (typically derived from the current time), using the
// 64-bit murmur3 finalizer as a cheap, well-distributed mixing function.
func randomKey(iid, seed int64) uint64 {
	h := uint64(iid) ^ uint64(seed)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

func reverseInPlace(ids []int64) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}
