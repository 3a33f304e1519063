package pma

import (
	"fmt"
	"sort"
)

const (
	PageBits = 12
	PageSize = 1 << PageBits
)

// MaxRanges is the up-to-32-ranges ceiling spec.md §3 places on a
// PMA table.
const MaxRanges = 32

// Table is the ordered, disjoint set of physical ranges a machine is
// built from. Lookups are O(log N) binary search over sorted starts,
// exactly spec.md §4.A's stated complexity.
type Table struct {
	ranges []*PMA // sorted by Start
}

// NewTable builds a table from a set of ranges, validating spec.md
// §3's invariants: page alignment, pairwise disjointness, no
// start+length wraparound, and the 32-range ceiling. Returns a
// *ConfigError-shaped error through fmt.Errorf on violation — the
// concrete error type lives in package machine, which is the only
// caller that needs to distinguish configuration errors from others.
func NewTable(ranges []*PMA) (*Table, error) {
	if len(ranges) > MaxRanges {
		return nil, fmt.Errorf("pma: %d ranges exceeds the %d-range limit", len(ranges), MaxRanges)
	}
	sorted := make([]*PMA, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i, r := range sorted {
		if r.Start%PageSize != 0 || r.Length%PageSize != 0 {
			return nil, fmt.Errorf("pma: range %s is not page-aligned", r)
		}
		if r.Length == 0 {
			return nil, fmt.Errorf("pma: range %s has zero length", r)
		}
		end := r.Start + r.Length
		if end < r.Start {
			return nil, fmt.Errorf("pma: range %s wraps the address space", r)
		}
		if i > 0 {
			prev := sorted[i-1]
			if r.Start < prev.Start+prev.Length {
				return nil, fmt.Errorf("pma: range %s overlaps %s", r, prev)
			}
		}
	}
	return &Table{ranges: sorted}, nil
}

// Find returns the unique PMA fully containing [addr, addr+length),
// or the sentinel Empty PMA if no range does (spec.md §4.A invariant 1).
func (t *Table) Find(addr, length uint64) *PMA {
	// binary search for the last range whose Start <= addr
	i := sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].Start > addr })
	if i == 0 {
		return &Empty
	}
	r := t.ranges[i-1]
	if r.Contains(addr, length) {
		return r
	}
	return &Empty
}

// Ranges returns the table's ranges in ascending start order. Callers
// must not mutate the returned slice.
func (t *Table) Ranges() []*PMA { return t.ranges }

// Reset restores every range's backing store to its power-on state.
func (t *Table) Reset() {
	for _, r := range t.ranges {
		r.Reset()
	}
}

// PageOwner returns the PMA owning the page at the given global page
// index (globalAddr = pageIndex << PageBits), along with that page's
// offset within the PMA's own range, or ok=false if the page belongs
// to no configured range.
func (t *Table) PageOwner(pageIndex uint64) (pma *PMA, pageOffsetInRange uint64, ok bool) {
	addr := pageIndex << PageBits
	r := t.Find(addr, PageSize)
	if r.IsEmpty() {
		return nil, 0, false
	}
	return r, (addr - r.Start) >> PageBits, true
}
