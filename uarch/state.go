// Package uarch implements the microarchitecture sub-interpreter
// spec.md §4.G describes: a minimal RV64I engine whose registers, PC,
// cycle counter, and halt flag live at fixed addresses inside its own
// RAM PMA, so every access it makes — register or memory — is a
// regular access against the Merkle tree it is given, and can
// therefore be recorded into an independently verifiable access log
// without any special-casing. The machine gives it a PMA table and
// Merkle tree of its own, so the main machine's root hash does not
// cover the uarch state.
package uarch

import (
	"github.com/cartesi/machine/merkle"
	"github.com/cartesi/machine/pma"
)

// Shadow-state layout inside the uarch RAM PMA: 32 general registers,
// then pc, cycle, and the halt flag, each 8-byte aligned so every
// register access is exactly one Merkle leaf (spec.md §4.F's leaf is
// itself 8 bytes — registers and leaves coincide 1:1).
const (
	ShadowX0    = 0x0000
	ShadowPC    = ShadowX0 + 32*8
	ShadowCycle = ShadowPC + 8
	ShadowHalt  = ShadowCycle + 8

	// ROMBase is the first program-image byte, one page in so the
	// shadow state and the program never share a Merkle page.
	ROMBase = 0x1000
)

// State is the microarchitecture's view of its physical address
// space: a fixed base address for its own RAM PMA, plus the
// table/tree every access routes through.
type State struct {
	table *pma.Table
	tree  *merkle.Tree
	base  uint64

	// log, when non-nil, receives one Access per read or write this
	// State performs. Set for the duration of LogStep/LogReset only.
	log *Log
}

// NewState wires a microarchitecture engine to the given PMA table
// and Merkle tree, with its own RAM PMA's physical range
// starting at base.
func NewState(table *pma.Table, tree *merkle.Tree, base uint64) *State {
	return &State{table: table, tree: tree, base: base}
}

func (s *State) readWord(addr uint64) uint64 {
	r := s.table.Find(addr, 8)
	v, ok := r.ReadOffset(addr, 3)
	if !ok {
		v = 0
	}
	if s.log != nil {
		siblings := s.tree.Proof(addr, merkle.LeafSizeLog2).Siblings
		s.log.Accesses = append(s.log.Accesses, Access{
			Kind: Read, Address: addr, ValueBefore: v, Siblings: siblings,
		})
	}
	return v
}

func (s *State) writeWord(addr uint64, value uint64) {
	var before uint64
	var siblings [][32]byte
	if s.log != nil {
		r := s.table.Find(addr, 8)
		before, _ = r.ReadOffset(addr, 3)
		siblings = s.tree.Proof(addr, merkle.LeafSizeLog2).Siblings
	}
	r := s.table.Find(addr, 8)
	r.WriteOffset(addr, value, 3)
	s.tree.MarkDirty(addr >> pma.PageBits)
	if s.log != nil {
		s.log.Accesses = append(s.log.Accesses, Access{
			Kind: Write, Address: addr, ValueBefore: before, ValueAfter: value, Siblings: siblings,
		})
	}
}

func (s *State) X(i int) uint64 {
	if i == 0 {
		return 0
	}
	return s.readWord(s.base + ShadowX0 + uint64(i)*8)
}

func (s *State) SetX(i int, v uint64) {
	if i == 0 {
		return
	}
	s.writeWord(s.base+ShadowX0+uint64(i)*8, v)
}

func (s *State) PC() uint64          { return s.readWord(s.base + ShadowPC) }
func (s *State) SetPC(v uint64)      { s.writeWord(s.base+ShadowPC, v) }
func (s *State) Cycle() uint64       { return s.readWord(s.base + ShadowCycle) }
func (s *State) setCycle(v uint64)   { s.writeWord(s.base+ShadowCycle, v) }
func (s *State) Halted() bool        { return s.readWord(s.base+ShadowHalt) != 0 }
func (s *State) setHalted(h bool) {
	var v uint64
	if h {
		v = 1
	}
	s.writeWord(s.base+ShadowHalt, v)
}

// ReadMem/WriteMem expose plain data accesses (loads/stores executed
// by the uarch program) through the same logged path as register
// accesses. addr must be 8-byte aligned; narrower loads/stores are
// handled by step.go, which reads/writes the containing word.
func (s *State) ReadMem(addr uint64) uint64     { return s.readWord(addr) }
func (s *State) WriteMem(addr uint64, v uint64) { s.writeWord(addr, v) }

// Root returns the current Merkle root of the State's tree.
func (s *State) Root() [32]byte { return s.tree.Root() }

// beginLog attaches l as the destination for every access this State
// performs until endLog is called, returning the pre-step root.
func (s *State) beginLog(l *Log) [32]byte {
	s.log = l
	return s.tree.Root()
}

func (s *State) endLog() [32]byte {
	root := s.tree.Root()
	s.log = nil
	return root
}
