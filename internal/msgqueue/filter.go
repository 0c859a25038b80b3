package msgqueue

import "github.com/dexter0/prs-sub000/internal/prserr"

// MaxFilterIDs is the filter-array length limit from spec.md §6
// ("the filter array is [count, id1, id2, …] with count ≤ 16").
const MaxFilterIDs = 16

// Filter is a selective-receive predicate: a message matches if its ID is
// one of the filter's ids. A nil *Filter matches unconditionally.
type Filter struct {
	ids [MaxFilterIDs]MessageID
	n   int
}

// NewFilter builds a Filter over up to MaxFilterIDs message ids.
func NewFilter(ids ...MessageID) (*Filter, error) {
	if len(ids) > MaxFilterIDs {
		return nil, prserr.Errf(prserr.InvalidState, "filter has %d ids, max %d", len(ids), MaxFilterIDs)
	}
	f := &Filter{n: len(ids)}
	copy(f.ids[:], ids)
	return f, nil
}

// Match reports whether id satisfies the filter.
func (f *Filter) Match(id MessageID) bool {
	if f == nil {
		return true
	}
	for i := 0; i < f.n; i++ {
		if f.ids[i] == id {
			return true
		}
	}
	return false
}
