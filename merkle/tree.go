package merkle

// PageSource supplies the raw bytes backing the tree's address space,
// at 4 KiB page granularity. A page absent from Pages() is treated as
// entirely zero without ever being materialized — pristine regions
// never allocate. pma.Table implements this by dispatching each page
// to the owning PMA (memory PMAs return their cached bytes; IO PMAs
// return their Peek result). The uarch sub-interpreter's own pma.Table
// is its PageSource too, so the same proof/verification code serves
// both the main machine and the microarchitecture access logger
// (spec.md §4.G).
type PageSource interface {
	// Pages lists every currently materialized page index
	// (address >> PageBits), in no particular order.
	Pages() []uint64
	// PageBytes returns the full PageSize content for a materialized
	// page index, or ok=false if the page was never materialized
	// (equivalent to all-zero).
	PageBytes(pageIndex uint64) (data []byte, ok bool)
}

const (
	pageBits  = 12
	PageSize  = 1 << pageBits
	pageLevel = pageBits - LeafSizeLog2 // internal levels from leaf to page hash (9)
)

// Tree computes and caches the Keccak-256 Merkle root of a PageSource
// at page granularity, and extracts/verifies sibling-hash proofs at
// any aligned power-of-two node size from a single word (log2Size=3)
// up to the whole address space (log2Size=64).
type Tree struct {
	source PageSource

	pageHash map[uint64][32]byte
	dirty    map[uint64]struct{}
}

func NewTree(source PageSource) *Tree {
	return &Tree{
		source:   source,
		pageHash: make(map[uint64][32]byte),
		dirty:    make(map[uint64]struct{}),
	}
}

// MarkDirty flags a page for rehashing on the next access. Callers
// invoke this on every write to a memory PMA, and on host-driven
// write_memory/replace_memory_range calls (spec.md §3 invariant 5);
// the mark is unconditional regardless of iunrep (DESIGN.md Open
// Question #2).
func (t *Tree) MarkDirty(pageIndex uint64) {
	t.dirty[pageIndex] = struct{}{}
}

// Update forces every currently-dirty page to be rehashed, without
// requiring a Root()/Proof() call. This is the update_merkle_tree()
// entry point of spec.md §6.
func (t *Tree) Update() {
	for idx := range t.dirty {
		t.pageRoot(idx)
	}
}

// pageRoot returns the cached 9-level subtree hash for a page,
// rehashing it first if marked dirty (or if never computed).
func (t *Tree) pageRoot(pageIndex uint64) [32]byte {
	if h, ok := t.pageHash[pageIndex]; ok {
		if _, stale := t.dirty[pageIndex]; !stale {
			return h
		}
	}
	data, ok := t.source.PageBytes(pageIndex)
	var h [32]byte
	if !ok {
		h = ZeroHash(pageLevel)
	} else {
		h = hashWithinPage(data, 0, pageBits)
	}
	t.pageHash[pageIndex] = h
	delete(t.dirty, pageIndex)
	return h
}

// WordHash zero-extends an 8-byte leaf word into the 32-byte value
// used as the lowest tree level, with the raw bytes placed at the
// start of the buffer — the same left-aligned convention the
// teacher's fast.Memory.MerkleProof uses for its (larger) 32-byte
// leaves (rvgo/fast/memory_test.go asserts proof[:4] equals the raw
// written bytes directly, not a hash of them).
func WordHash(value uint64) [32]byte {
	var out [32]byte
	for i := 0; i < 8; i++ {
		out[i] = byte(value >> (8 * i))
	}
	return out
}

func wordHash(word []byte) [32]byte {
	var out [32]byte
	copy(out[:8], word)
	return out
}

// hashWithinPage computes the hash of the 2^sz-byte node at the given
// byte offset inside a single page's raw bytes, sz in [3, pageBits].
func hashWithinPage(page []byte, offset uint64, sz int) [32]byte {
	if sz == LeafSizeLog2 {
		return wordHash(page[offset : offset+8])
	}
	half := sz - 1
	left := hashWithinPage(page, offset, half)
	right := hashWithinPage(page, offset|(uint64(1)<<half), half)
	return HashPair(left, right)
}

// NodeHash returns the hash of the aligned 2^sz-byte node containing
// addr, for any sz in [LeafSizeLog2, AddressBits]. Pristine subtrees
// short-circuit to the precomputed zero-hash without touching the
// PageSource.
func (t *Tree) NodeHash(addr uint64, sz int) [32]byte {
	low := alignDown(addr, sz)
	if sz <= pageBits {
		pageIndex := low >> pageBits
		data, ok := t.source.PageBytes(pageIndex)
		if !ok {
			return ZeroHash(sz - LeafSizeLog2)
		}
		if sz == pageBits {
			return t.pageRoot(pageIndex)
		}
		return hashWithinPage(data, low&(PageSize-1), sz)
	}

	if !t.hasPageInRange(low, sz) {
		return ZeroHash(sz - LeafSizeLog2)
	}
	half := sz - 1
	left := t.NodeHash(low, half)
	right := t.NodeHash(low|(uint64(1)<<half), half)
	return HashPair(left, right)
}

// hasPageInRange reports whether any materialized page falls within
// the 2^sz-byte range starting at low (sz > pageBits). Computed in
// the page-index domain to avoid the byte-address overflow that
// would otherwise occur for sz close to 64.
func (t *Tree) hasPageInRange(low uint64, sz int) bool {
	startPage := low >> pageBits
	span := uint64(1) << (sz - pageBits)
	endPage := startPage + span
	for _, idx := range t.source.Pages() {
		if idx >= startPage && idx < endPage {
			return true
		}
	}
	return false
}

func alignDown(addr uint64, sz int) uint64 {
	if sz >= 64 {
		return 0
	}
	mask := (uint64(1) << sz) - 1
	return addr &^ mask
}

// Root returns the Keccak-256 root of the entire 2^64-byte address
// space (spec.md §6 get_root_hash).
func (t *Tree) Root() [32]byte {
	return t.NodeHash(0, AddressBits)
}

// Proof is the sibling-hash witness spec.md §6's get_proof returns:
// the hash of the target node plus one sibling per level on the path
// to the root.
type Proof struct {
	Target   [32]byte
	Siblings [][32]byte
}

// Proof extracts a proof for the aligned node of size 2^log2Size
// bytes containing addr. log2Size must be in [3, 64]; addr must be a
// multiple of 2^log2Size (spec.md §4.F).
func (t *Tree) Proof(addr uint64, log2Size int) Proof {
	target := t.NodeHash(addr, log2Size)
	siblings := make([][32]byte, 0, AddressBits-log2Size)
	a := alignDown(addr, log2Size)
	for sz := log2Size; sz < AddressBits; sz++ {
		siblingAddr := a ^ (uint64(1) << sz)
		siblings = append(siblings, t.NodeHash(siblingAddr, sz))
		a = alignDown(a, sz+1)
	}
	return Proof{Target: target, Siblings: siblings}
}

// Fold combines target with proof.Siblings up to the root, the same
// way Proof's sibling list is ordered to allow (addr, log2Size must
// match the values the proof was extracted with). It does not compare
// against any expected root; Verify does that in one step.
func Fold(addr uint64, log2Size int, target [32]byte, siblings [][32]byte) [32]byte {
	cur := target
	sz := log2Size
	for _, sib := range siblings {
		if (addr>>sz)&1 == 0 {
			cur = HashPair(cur, sib)
		} else {
			cur = HashPair(sib, cur)
		}
		sz++
	}
	return cur
}

// Verify recomputes the root implied by a proof and compares it
// against root. addr/log2Size must match the values the proof was
// extracted with.
func Verify(addr uint64, log2Size int, proof Proof, root [32]byte) bool {
	return Fold(addr, log2Size, proof.Target, proof.Siblings) == root
}
