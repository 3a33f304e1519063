package machine

import (
	"github.com/cartesi/machine/pma"
	"github.com/cartesi/machine/riscv"
)

// AccessKind selects which permission bit (and which of the three
// TLBs) a translation request checks, per spec.md §4.B.
type AccessKind int

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessFetch
)

// tlbEntry caches one page's translation: a complete walk result, not
// just the PPN, so a TLB hit skips straight to the owning PMA (spec.md
// §4.B's "{vaddr_page, paddr_page, pma_ref}").
type tlbEntry struct {
	valid     bool
	vaddrPage uint64
	paddrPage uint64
	owner     *pma.PMA
}

// tlbSize is the 256-entry cache spec.md §4.B specifies for each of
// the read/write/fetch TLBs.
const tlbSize = 256

// tlb is a direct-mapped cache from virtual page number to a resolved
// physical page, indexed by the low bits of the page number.
type tlb struct {
	entries [tlbSize]tlbEntry
}

func tlbIndex(vaddrPage uint64) uint64 { return vaddrPage % tlbSize }

func (t *tlb) lookup(vaddrPage uint64) (tlbEntry, bool) {
	e := t.entries[tlbIndex(vaddrPage)]
	if e.valid && e.vaddrPage == vaddrPage {
		return e, true
	}
	return tlbEntry{}, false
}

func (t *tlb) insert(vaddrPage, paddrPage uint64, owner *pma.PMA) {
	t.entries[tlbIndex(vaddrPage)] = tlbEntry{valid: true, vaddrPage: vaddrPage, paddrPage: paddrPage, owner: owner}
}

// flushAll invalidates every entry, the response to a satp write or a
// global SFENCE.VMA (spec.md §4.B).
func (t *tlb) flushAll() { *t = tlb{} }

// flushVAddr invalidates the single entry for vaddr's page, the
// response to a targeted SFENCE.VMA.
func (t *tlb) flushVAddr(vaddr uint64) {
	page := vaddr >> riscv.PageBits
	idx := tlbIndex(page)
	if t.entries[idx].vaddrPage == page {
		t.entries[idx] = tlbEntry{}
	}
}

// flushPAddrPage drops any entry mapping to a given physical page,
// used when a store lands on a page that some TLB entry still points
// at (spec.md §4.B: "any write to a memory page -> invalidate
// matching TLB entries by paddr_page").
func (t *tlb) flushPAddrPage(paddrPage uint64) {
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].paddrPage == paddrPage {
			t.entries[i] = tlbEntry{}
		}
	}
}

// TLBSet bundles the three independent TLBs a hart keeps, one per
// access kind, so a write permission change can never be observed
// through a stale read-cached entry and vice versa.
type TLBSet struct {
	read, write, fetch tlb
}

func (s *TLBSet) of(kind AccessKind) *tlb {
	switch kind {
	case AccessWrite:
		return &s.write
	case AccessFetch:
		return &s.fetch
	default:
		return &s.read
	}
}

// FlushAll invalidates all three TLBs, the satp-write/global-SFENCE.VMA
// response.
func (s *TLBSet) FlushAll() {
	s.read.flushAll()
	s.write.flushAll()
	s.fetch.flushAll()
}

// FlushMPRVScope invalidates the read and write TLBs, the response to
// a write of mstatus's MPRV, MXR, or SUM bits (spec.md §4.B): those
// bits only ever change load/store permission checking, never fetch.
func (s *TLBSet) FlushMPRVScope() {
	s.read.flushAll()
	s.write.flushAll()
}

// FlushVAddr invalidates the single page vaddr falls in, across all
// three TLBs — a targeted SFENCE.VMA with an rs1 operand.
func (s *TLBSet) FlushVAddr(vaddr uint64) {
	s.read.flushVAddr(vaddr)
	s.write.flushVAddr(vaddr)
	s.fetch.flushVAddr(vaddr)
}

// NotifyWrite invalidates any TLB entry backed by the physical page a
// store just touched, across all three TLBs.
func (s *TLBSet) NotifyWrite(paddr uint64) {
	page := paddr >> riscv.PageBits
	s.read.flushPAddrPage(page)
	s.write.flushPAddrPage(page)
	s.fetch.flushPAddrPage(page)
}

// translate resolves a virtual address to a physical one and the PMA
// that owns it, walking the Sv48 page table on a TLB miss and caching
// the result so a later hit skips the walk. satp selects bare (no translation, paddr==vaddr)
// or Sv48 mode; mstatus's MPRV/MXR/SUM bits and the current privilege
// level gate which permission bits a leaf PTE must grant (spec.md
// §4.B). Returns a *trapError with the page-fault or access-fault
// cause spec.md §4.B and §7 require on any failure.
func (m *CPU) translate(vaddr uint64, kind AccessKind) (uint64, *pma.PMA, error) {
	bare := riscv.SatpMode(m.csrs.Peek(riscv.CSRSatp)) != riscv.SatpModeSv48
	if !bare {
		bare = m.effectivePriv(kind) == riscv.PrivM
	}
	if bare {
		owner := m.table.Find(vaddr&^uint64(riscv.PageOffsetMask), riscv.PageSize)
		if owner.IsEmpty() {
			return 0, nil, m.accessFault(kind, vaddr)
		}
		return vaddr, owner, nil
	}

	page := vaddr >> riscv.PageBits
	t := m.tlbs.of(kind)
	if e, ok := t.lookup(page); ok {
		paddr := e.paddrPage<<riscv.PageBits | vaddr&riscv.PageOffsetMask
		return paddr, e.owner, nil
	}

	paddr, err := m.walkSv48(vaddr, kind)
	if err != nil {
		return 0, nil, err
	}
	paddrPage := paddr >> riscv.PageBits
	owner := m.table.Find(paddrPage<<riscv.PageBits, riscv.PageSize)
	if owner.IsEmpty() {
		return 0, nil, m.accessFault(kind, vaddr)
	}
	t.insert(page, paddrPage, owner)
	return paddr, owner, nil
}

// walkSv48 performs the four-level page walk spec.md §4.B describes,
// returning the resolved physical address of a valid, permission-
// granting leaf, or a page/access fault otherwise.
func (m *CPU) walkSv48(vaddr uint64, kind AccessKind) (uint64, error) {
	satp := m.csrs.Peek(riscv.CSRSatp)
	tablePPN := riscv.SatpPPN(satp)

	for level := riscv.Sv48Levels - 1; level >= 0; level-- {
		vpn := riscv.VPN(vaddr, level)
		entryAddr := tablePPN<<riscv.PageBits + vpn*riscv.PTESize

		owner := m.table.Find(entryAddr, riscv.PTESize)
		if owner.IsEmpty() {
			return 0, m.accessFault(kind, vaddr)
		}
		raw, ok := owner.ReadOffset(entryAddr, 3)
		if !ok {
			return 0, m.accessFault(kind, vaddr)
		}
		pte := riscv.DecodePTE(raw)
		if !pte.Valid || (!pte.Readable && pte.Writable) {
			return 0, m.pageFault(kind, vaddr)
		}
		if !pte.IsLeaf() {
			tablePPN = pte.PPN
			continue
		}

		if level > 0 {
			misaligned := pte.PPN & ((uint64(1) << (uint(level) * riscv.VPNBitsPerLevel)) - 1)
			if misaligned != 0 {
				return 0, m.pageFault(kind, vaddr)
			}
		}
		if !m.permits(pte, kind) {
			return 0, m.pageFault(kind, vaddr)
		}

		offsetBits := riscv.PageBits + level*riscv.VPNBitsPerLevel
		offsetMask := (uint64(1) << offsetBits) - 1
		return pte.PPN<<riscv.PageBits&^offsetMask | vaddr&offsetMask, nil
	}
	return 0, m.pageFault(kind, vaddr)
}

// effectivePriv is the privilege level that gates bare-vs-paged
// translation and leaf permission checks: mstatus.MPRV substitutes
// MPP for the actual privilege on a load or store issued while in
// M-mode, but never on instruction fetch (spec.md §4.B: "If paging is
// off (satp.MODE=0 or effective privilege = M)...").
func (m *CPU) effectivePriv(kind AccessKind) riscv.PrivilegeLevel {
	if kind == AccessFetch {
		return m.priv
	}
	mstatus := m.csrs.Peek(riscv.CSRMstatus)
	if mstatus&(1<<17) != 0 && m.priv == riscv.PrivM { // MPRV
		return riscv.PrivilegeLevel((mstatus >> 11) & 0x3)
	}
	return m.priv
}

// permits applies spec.md §4.B's leaf permission check: the bit for
// the requested access kind, plus the U-mode accessibility rule
// gated by the current privilege level and mstatus.MPRV/MXR/SUM.
func (m *CPU) permits(pte riscv.PTE, kind AccessKind) bool {
	effectivePriv := m.effectivePriv(kind)
	mstatus := m.csrs.Peek(riscv.CSRMstatus)
	if pte.User && effectivePriv == riscv.PrivM {
		return false
	}
	if !pte.User && effectivePriv == riscv.PrivU {
		return false
	}

	switch kind {
	case AccessFetch:
		return pte.Executable
	case AccessWrite:
		return pte.Writable
	default:
		mxr := mstatus&(1<<19) != 0
		sum := mstatus&(1<<18) != 0
		if pte.User && effectivePriv != riscv.PrivU && !sum {
			return false
		}
		return pte.Readable || (mxr && pte.Executable)
	}
}

func (m *CPU) pageFault(kind AccessKind, vaddr uint64) error {
	switch kind {
	case AccessFetch:
		return &trapError{cause: riscv.ExcInstructionPageFault, tval: vaddr}
	case AccessWrite:
		return &trapError{cause: riscv.ExcStorePageFault, tval: vaddr}
	default:
		return &trapError{cause: riscv.ExcLoadPageFault, tval: vaddr}
	}
}

func (m *CPU) accessFault(kind AccessKind, vaddr uint64) error {
	switch kind {
	case AccessFetch:
		return &trapError{cause: riscv.ExcInstructionAccessFault, tval: vaddr}
	case AccessWrite:
		return &trapError{cause: riscv.ExcStoreAccessFault, tval: vaddr}
	default:
		return &trapError{cause: riscv.ExcLoadAccessFault, tval: vaddr}
	}
}
