// Package merkle implements the state-commitment primitives spec.md
// §4.F requires: a Merkle tree over the full 64-bit physical address
// space with an 8-byte leaf, precomputed zero-subtree hashes, lazy
// dirty-page rehashing, and sibling-hash proof extraction/verification.
//
// Leaf/level accounting (resolved Open Question, see DESIGN.md):
// the leaf is an 8-byte word, so the tree has 61 levels above the
// leaf (2^64 bytes / 2^3 bytes-per-leaf = 2^61 leaves). A 4 KiB PMA
// page holds 512 words, i.e. 9 internal levels from leaf to
// page-hash; the page then sits a further 52 levels below the root
// (64 - PageBits = 52).
package merkle

import "github.com/ethereum/go-ethereum/crypto"

const (
	// LeafSizeLog2 is log2 of the leaf size in bytes (an 8-byte word).
	LeafSizeLog2 = 3
	// AddressBits is log2 of the address space size (2^64 bytes).
	AddressBits = 64
	// TreeLevels is the number of internal levels above the leaf.
	TreeLevels = AddressBits - LeafSizeLog2
)

// HashPair combines a left and right child hash into their parent,
// using Keccak-256 as spec.md §4.F mandates. Grounded on the
// teacher's rvgo/fast/memory.go HashPair — the function its hot path
// (radix.go, instrumented.go) actually calls, as opposed to the
// unused go:linkname fast-keccak variant in keccakfast.go.
func HashPair(left, right [32]byte) [32]byte {
	return crypto.Keccak256Hash(left[:], right[:])
}

// zeroHashes[k] is the Keccak root of an all-zero subtree spanning
// 2^k leaves (2^(k+LeafSizeLog2) bytes). zeroHashes[0] is not a hash:
// it is the value a single all-zero 8-byte leaf takes in the tree (32
// zero bytes, see WordHash), and zeroHashes[1] is the hash of two such
// leaves combined, i.e. of a 16-byte zero span. Precomputing this
// table once avoids ever walking a pristine subtree.
var zeroHashes = func() [TreeLevels + 1][32]byte {
	var out [TreeLevels + 1][32]byte
	for i := 1; i <= TreeLevels; i++ {
		out[i] = HashPair(out[i-1], out[i-1])
	}
	return out
}()

// ZeroHash returns the cached zero-subtree hash at level (0 <= level
// <= TreeLevels), where level 0 is a single zero leaf.
func ZeroHash(level int) [32]byte {
	return zeroHashes[level]
}
