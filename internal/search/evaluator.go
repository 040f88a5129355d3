package search

// PostingStore is the subset of shardstore.Store the evaluator needs.
// Satisfied directly by *shardstore.Store; the filter engine satisfies it
// with an in-memory virtual table scoped to a single message, so rule
// matching reuses this same evaluator against its own derived keywords.
type PostingStore interface {
	HitsForWord(word string) ([]int64, error)
}

// Evaluator reduces a parsed term list to a hit set against a posting
// store, stripping the sentinel IID reserved for aborted mid-scan state.
type Evaluator struct {
	Store PostingStore
	// IndexLen is len(INDEX) at evaluation time; any posting id equal to
	// this value is a scan-in-progress sentinel and is stripped from
	// every hit set before reduction.
	IndexLen int64
}

// Hits returns the sorted IIDs recorded for lookupWord's exact signature,
// with the sentinel stripped.
func (e *Evaluator) Hits(lookupWord string) ([]int64, error) {
	ids, err := e.Store.HitsForWord(lookupWord)
	if err != nil {
		return nil, err
	}
	return e.stripSentinel(ids), nil
}

func (e *Evaluator) stripSentinel(ids []int64) []int64 {
	if e.IndexLen <= 0 {
		return ids
	}
	out := ids[:0:0]
	for _, id := range ids {
		if id != e.IndexLen {
			out = append(out, id)
		}
	}
	return out
}

// Evaluate reduces terms to a single hit set: the first term's hits seed
// the result, then each subsequent term's op (union/difference/default
// intersection) folds its hits in. An empty term list returns nil.
func (e *Evaluator) Evaluate(terms []Term) ([]int64, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	result, err := e.Hits(terms[0].LookupWord)
	if err != nil {
		return nil, err
	}

	for _, t := range terms[1:] {
		hits, err := e.Hits(t.LookupWord)
		if err != nil {
			return nil, err
		}
		switch t.Op {
		case OpUnion:
			result = unionSorted(result, hits)
		case OpDifference:
			result = differenceSorted(result, hits)
		default:
			result = intersectSorted(result, hits)
		}
	}
	return result, nil
}

// unionSorted merges two ascending, duplicate-free id slices.
func unionSorted(a, b []int64) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// intersectSorted returns the elements present in both ascending,
// duplicate-free id slices.
func intersectSorted(a, b []int64) []int64 {
	var out []int64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// differenceSorted returns a with every element of b removed.
func differenceSorted(a, b []int64) []int64 {
	out := make([]int64, 0, len(a))
	i, j := 0, 0
	for i < len(a) {
		if j >= len(b) || a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else if a[i] > b[j] {
			j++
		} else {
			i++
			j++
		}
	}
	return out
}
