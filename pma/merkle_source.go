package pma

import "github.com/cartesi/machine/merkle"

// Table implements merkle.PageSource directly over the full physical
// address space: each memory PMA contributes its sparsely-allocated
// pages (globalized by adding the range's own page offset), and each
// IO PMA contributes every page in its (always small) range, since an
// MMIO device's state is hashed on demand from Peek rather than from
// a sparse allocation map (spec.md §4.F).
var _ merkle.PageSource = (*Table)(nil)

func (t *Table) Pages() []uint64 {
	var out []uint64
	for _, r := range t.ranges {
		base := r.Start >> PageBits
		if r.Flags.Memory {
			for _, local := range r.Memory.AllocatedPages() {
				out = append(out, base+local)
			}
			continue
		}
		if r.Flags.IO {
			pageCount := r.Length >> PageBits
			for i := uint64(0); i < pageCount; i++ {
				out = append(out, base+i)
			}
		}
	}
	return out
}

func (t *Table) PageBytes(pageIndex uint64) ([]byte, bool) {
	r, localPage, ok := t.PageOwner(pageIndex)
	if !ok {
		return nil, false
	}
	return r.PeekPage(localPage)
}
