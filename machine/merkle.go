package machine

import "github.com/cartesi/machine/merkle"

// GetRootHash returns the Keccak-256 root of the whole 2^64-byte
// address space (spec.md §6 get_root_hash). Any page marked dirty
// since the last call is rehashed first.
func (m *CPU) GetRootHash() [32]byte {
	return m.tree.Root()
}

// GetProof returns the sibling-hash witness for the aligned
// 2^log2Size-byte node containing addr (spec.md §6 get_proof,
// §4.F). log2Size must be in [3, 64] and addr a multiple of
// 2^log2Size; violations are an *AccessError rather than a panic,
// since this call is reachable directly from the host API.
func (m *CPU) GetProof(addr uint64, log2Size int) (merkle.Proof, error) {
	if log2Size < merkle.LeafSizeLog2 || log2Size > merkle.AddressBits {
		return merkle.Proof{}, accessErrorf("get_proof: log2_size %d out of range", log2Size)
	}
	if addr&((uint64(1)<<log2Size)-1) != 0 {
		return merkle.Proof{}, accessErrorf("get_proof: address %#x is not %d-byte aligned", addr, uint64(1)<<log2Size)
	}
	return m.tree.Proof(addr, log2Size), nil
}

// VerifyMerkleTree recomputes the root from scratch (bypassing the
// dirty-page cache entirely) and compares it against the cached root,
// the self-check spec.md §6's verify_merkle_tree performs.
func (m *CPU) VerifyMerkleTree() bool {
	fresh := merkle.NewTree(m.table)
	return fresh.Root() == m.tree.Root()
}

// UpdateMerkleTree forces every dirty page to be rehashed without
// requiring a GetRootHash/GetProof call (spec.md §6
// update_merkle_tree).
func (m *CPU) UpdateMerkleTree() {
	m.tree.Update()
}

// UarchRootHash returns the Keccak-256 root of the microarchitecture
// sub-interpreter's own address space, a separate tree sharing no
// state with the main machine's (spec.md §4.G).
func (m *CPU) UarchRootHash() [32]byte {
	return m.uarchTree.Root()
}
