package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSource is a minimal PageSource backed by a plain map, used to
// exercise Tree without pulling in the pma package.
type fakeSource struct {
	pages map[uint64][]byte
}

func newFakeSource() *fakeSource {
	return &fakeSource{pages: make(map[uint64][]byte)}
}

func (f *fakeSource) Pages() []uint64 {
	out := make([]uint64, 0, len(f.pages))
	for idx := range f.pages {
		out = append(out, idx)
	}
	return out
}

func (f *fakeSource) PageBytes(pageIndex uint64) ([]byte, bool) {
	data, ok := f.pages[pageIndex]
	return data, ok
}

func (f *fakeSource) writeWord(addr uint64, value uint64) {
	pageIndex := addr >> pageBits
	page, ok := f.pages[pageIndex]
	if !ok {
		page = make([]byte, PageSize)
		f.pages[pageIndex] = page
	}
	offset := addr & (PageSize - 1)
	for i := 0; i < 8; i++ {
		page[offset+uint64(i)] = byte(value >> (8 * i))
	}
}

func TestEmptyTreeRootIsZeroHash(t *testing.T) {
	tree := NewTree(newFakeSource())
	require.Equal(t, ZeroHash(TreeLevels), tree.Root())
}

func TestSingleWordChangesRoot(t *testing.T) {
	src := newFakeSource()
	empty := NewTree(src).Root()

	src.writeWord(0x8000_0000, 0xdead_beef_0000_0000)
	tree := NewTree(src)
	require.NotEqual(t, empty, tree.Root())
}

func TestProofVerifiesAgainstRoot(t *testing.T) {
	src := newFakeSource()
	const addr = uint64(0x8000_0000)
	src.writeWord(addr, 0xdead_beef_0000_0000)
	tree := NewTree(src)

	root := tree.Root()
	proof := tree.Proof(addr, LeafSizeLog2)

	require.Len(t, proof.Siblings, AddressBits-LeafSizeLog2)
	require.True(t, Verify(addr, LeafSizeLog2, proof, root))
}

func TestProofRejectsWrongRoot(t *testing.T) {
	src := newFakeSource()
	const addr = uint64(0x8000_0000)
	src.writeWord(addr, 0xdead_beef_0000_0000)
	tree := NewTree(src)

	proof := tree.Proof(addr, LeafSizeLog2)
	var wrongRoot [32]byte
	require.False(t, Verify(addr, LeafSizeLog2, proof, wrongRoot))
}

func TestProofAtPageGranularity(t *testing.T) {
	src := newFakeSource()
	const addr = uint64(0x1000) // page-aligned
	src.writeWord(addr, 1)
	tree := NewTree(src)

	root := tree.Root()
	proof := tree.Proof(addr, pageBits)
	require.Len(t, proof.Siblings, AddressBits-pageBits)
	require.True(t, Verify(addr, pageBits, proof, root))
}

func TestDirtyPageIsRehashedOnNextRoot(t *testing.T) {
	src := newFakeSource()
	const addr = uint64(0x2000)
	tree := NewTree(src)
	zeroRoot := tree.Root()

	src.writeWord(addr, 0x42)
	pageIndex := addr >> pageBits
	tree.MarkDirty(pageIndex)

	require.NotEqual(t, zeroRoot, tree.Root())
}

func TestUpdateRehashesWithoutRootCall(t *testing.T) {
	src := newFakeSource()
	const addr = uint64(0x3000)
	tree := NewTree(src)

	src.writeWord(addr, 7)
	tree.MarkDirty(addr >> pageBits)
	tree.Update()

	// cached page hash must already reflect the new content.
	require.Equal(t, hashWithinPage(src.pages[addr>>pageBits], 0, pageBits), tree.pageHash[addr>>pageBits])
}

func TestTwoAdjacentPagesFoldCorrectly(t *testing.T) {
	src := newFakeSource()
	src.writeWord(0, 1)
	src.writeWord(PageSize, 2)
	tree := NewTree(src)

	root := tree.Root()
	left := tree.NodeHash(0, pageBits)
	right := tree.NodeHash(PageSize, pageBits)
	combined := tree.NodeHash(0, pageBits+1)
	require.Equal(t, HashPair(left, right), combined)

	proof := tree.Proof(0, LeafSizeLog2)
	require.True(t, Verify(0, LeafSizeLog2, proof, root))
}
