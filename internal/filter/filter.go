// Package filter applies user-defined auto-tagging rules to a message's
// derived keyword set as it is ingested, before the keywords are written to
// the posting store.
package filter

import (
	"sort"
	"strings"

	"github.com/wesm/maildex/internal/search"
)

// Rule is one auto-tagging filter: Terms is "*" (match everything) or a
// boolean query string evaluated against the message's own keyword set;
// TagRefs holds signed tag ids ("+inbox", "-spam") applied when Terms
// matches.
type Rule struct {
	ID      int64
	Terms   string
	TagRefs []string
}

// virtualStore implements search.PostingStore over a single message's
// keyword set, so the query evaluator can run unmodified against an
// in-memory table instead of the real on-disk posting store.
type virtualStore struct {
	words map[string]bool
}

func newVirtualStore(keywords []string) *virtualStore {
	words := make(map[string]bool, len(keywords))
	for _, w := range keywords {
		words[w] = true
	}
	return &virtualStore{words: words}
}

// HitsForWord returns []int64{0} if word is present in this message's
// keyword set, else nil. The evaluator expects a sorted id slice; a single
// sentinel id (0) standing for "this message" satisfies that trivially.
func (v *virtualStore) HitsForWord(word string) ([]int64, error) {
	if v.words[word] {
		return []int64{0}, nil
	}
	return nil, nil
}

// Apply folds every matching rule's tag refs into keywords, in rule-id
// order, and returns the resulting keyword set. Rules are expected sorted
// by ID by the caller (config persists them in filter-id order already).
func Apply(rules []Rule, keywords []string) []string {
	set := newKeywordSet(keywords)
	for _, rule := range rules {
		if !matches(rule.Terms, set) {
			continue
		}
		for _, ref := range rule.TagRefs {
			applyTagRef(set, ref)
		}
	}
	return set.slice()
}

func matches(terms string, set *keywordSet) bool {
	if strings.TrimSpace(terms) == "*" {
		return true
	}
	parsed, _ := search.ParseQuery(terms)
	if len(parsed) == 0 {
		return false
	}
	ev := &search.Evaluator{Store: newVirtualStore(set.slice())}
	hits, err := ev.Evaluate(parsed)
	if err != nil {
		return false
	}
	return len(hits) > 0
}

type keywordSet struct {
	words map[string]bool
}

func newKeywordSet(words []string) *keywordSet {
	s := &keywordSet{words: make(map[string]bool, len(words))}
	for _, w := range words {
		s.words[w] = true
	}
	return s
}

func (s *keywordSet) slice() []string {
	out := make([]string, 0, len(s.words))
	for w := range s.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func applyTagRef(set *keywordSet, ref string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return
	}
	sign := ref[0]
	var tagID string
	switch sign {
	case '+':
		tagID = ref[1:]
		set.words[tagPostingWord(tagID)] = true
	case '-':
		tagID = ref[1:]
		delete(set.words, tagPostingWord(tagID))
	default:
		// Unsigned ref defaults to add, matching the "+t" common case.
		set.words[tagPostingWord(ref)] = true
	}
}

func tagPostingWord(tagID string) string {
	return tagID + ":tag"
}
