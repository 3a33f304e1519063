// Package machine implements the RV64IMASU interpreter spec.md
// describes: a physical-memory-attribute table, an Sv48 translator
// with its TLBs, a CSR bank, the MMIO device set, the microarchitecture
// sub-interpreter's host-visible hooks, and the Keccak-256 Merkle tree
// that commits to the whole 2^64-byte address space.
package machine

import (
	"github.com/cartesi/machine/csr"
	"github.com/cartesi/machine/devices"
	"github.com/cartesi/machine/merkle"
	"github.com/cartesi/machine/pma"
	"github.com/cartesi/machine/riscv"
	"github.com/cartesi/machine/uarch"
)

// Outcome classifies why Run stopped, per spec.md §6's run() return
// values.
type Outcome int

const (
	OutcomeReachedTarget Outcome = iota
	OutcomeHalted
	OutcomeYieldedManual
	OutcomeYieldedAutomatic
)

// CPU is a complete machine: architectural register file, CSR bank,
// physical memory, the Sv48 translator's TLBs, the MMIO device set,
// the uarch sub-interpreter (with a PMA table and Merkle tree of its
// own), and the Merkle tree committing to the main address space.
type CPU struct {
	x    [32]uint64
	f    [32]uint64
	pc   uint64
	priv riscv.PrivilegeLevel

	csrs *csr.Bank
	tlbs TLBSet

	table *pma.Table
	tree  *merkle.Tree

	clint  *devices.CLINT
	htif   *devices.HTIF
	plic   *devices.PLIC
	virtio *devices.VirtIO

	uarchTable *pma.Table
	uarchTree  *merkle.Tree
	uarchState *uarch.State

	config        *Config
	runtimeConfig RuntimeConfig

	halted        bool
	yieldedManual bool
	yieldedAuto   bool

	reservationValid bool
	reservationAddr  uint64

	wfiParked bool
}

// X returns general-purpose register i (x0 always reads zero).
func (m *CPU) X(i int) uint64 {
	if i == 0 {
		return 0
	}
	return m.x[i]
}

// SetX writes general-purpose register i (writes to x0 are no-ops).
func (m *CPU) SetX(i int, v uint64) {
	if i == 0 {
		return
	}
	m.x[i] = v
}

// F returns floating-point register i's raw bit pattern.
func (m *CPU) F(i int) uint64 { return m.f[i] }

// SetF writes floating-point register i's raw bit pattern.
func (m *CPU) SetF(i int, v uint64) { m.f[i] = v }

// PC returns the program counter.
func (m *CPU) PC() uint64 { return m.pc }

// SetPC sets the program counter.
func (m *CPU) SetPC(v uint64) { m.pc = v }

// Priv returns the current privilege level.
func (m *CPU) Priv() riscv.PrivilegeLevel { return m.priv }

// MCycle returns the retired-cycle counter (mcycle).
func (m *CPU) MCycle() uint64 { return m.csrs.Peek(riscv.CSRMcycle) }

// MInstret returns the retired-instruction counter (minstret, which
// doubles as icycleinstret per spec.md §3 invariant 2).
func (m *CPU) MInstret() uint64 { return m.csrs.Peek(riscv.CSRMinstret) }

// Halted reports whether the machine reached the HTIF halt device.
func (m *CPU) Halted() bool { return m.halted }

// ReadMemory reads length bytes starting at a physical address fully
// contained in one memory PMA, without side effects. An address
// spanning multiple PMAs, landing in an IO PMA, or falling outside
// every configured range is an *AccessError (spec.md §7).
func (m *CPU) ReadMemory(paddr uint64, length uint64) ([]byte, error) {
	r := m.table.Find(paddr, length)
	if r.IsEmpty() || !r.Flags.Memory {
		return nil, accessErrorf("no memory range contains [%#x, %#x)", paddr, paddr+length)
	}
	out := make([]byte, length)
	for i := uint64(0); i < length; i++ {
		v, ok := r.ReadOffset(paddr+i, 0)
		if !ok {
			return nil, accessErrorf("read failed at %#x", paddr+i)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// WriteMemory writes data to a physical address fully contained in
// one memory PMA, marking the covered pages dirty in the Merkle tree.
func (m *CPU) WriteMemory(paddr uint64, data []byte) error {
	r := m.table.Find(paddr, uint64(len(data)))
	if r.IsEmpty() || !r.Flags.Memory {
		return accessErrorf("no memory range contains [%#x, %#x)", paddr, paddr+uint64(len(data)))
	}
	for i, b := range data {
		if !r.WriteOffset(paddr+uint64(i), uint64(b), 0) {
			return accessErrorf("write failed at %#x", paddr+uint64(i))
		}
	}
	m.dirtyPages(paddr, uint64(len(data)))
	return nil
}

// ReadVirtualMemory is ReadMemory through the Sv48 translator, the
// host-API analog of a load (spec.md §6's read_virtual_memory).
func (m *CPU) ReadVirtualMemory(vaddr uint64, length uint64) ([]byte, error) {
	out := make([]byte, length)
	for i := uint64(0); i < length; i++ {
		paddr, owner, err := m.translate(vaddr+i, AccessRead)
		if err != nil {
			return nil, err
		}
		v, ok := owner.ReadOffset(paddr, 0)
		if !ok {
			return nil, accessErrorf("read failed at va %#x", vaddr+i)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// WriteVirtualMemory is WriteMemory through the Sv48 translator.
func (m *CPU) WriteVirtualMemory(vaddr uint64, data []byte) error {
	for i, b := range data {
		paddr, owner, err := m.translate(vaddr+uint64(i), AccessWrite)
		if err != nil {
			return err
		}
		if !owner.WriteOffset(paddr, uint64(b), 0) {
			return accessErrorf("write failed at va %#x", vaddr+uint64(i))
		}
		m.tlbs.NotifyWrite(paddr)
		m.tree.MarkDirty(paddr >> pma.PageBits)
	}
	return nil
}

func (m *CPU) dirtyPages(paddr, length uint64) {
	first := paddr >> pma.PageBits
	last := (paddr + length - 1) >> pma.PageBits
	for p := first; p <= last; p++ {
		m.tree.MarkDirty(p)
		m.tlbs.NotifyWrite(p << pma.PageBits)
	}
}

// ReplaceMemoryRange atomically swaps a flash-drive-sized PMA's
// backing image, per spec.md §6's replace_memory_range: used to mount
// a different flash drive image without reconstructing the whole
// table. The replacement must match the existing range's start and
// length exactly.
func (m *CPU) ReplaceMemoryRange(start, length uint64, image []byte) error {
	r := m.table.Find(start, length)
	if r.IsEmpty() || !r.Flags.Memory || r.Start != start || r.Length != length {
		return configErrorf("replace_memory_range: no exact range at [%#x, %#x)", start, start+length)
	}
	r.Memory = pma.NewMemory(length, image)
	m.tlbs.FlushAll()
	m.dirtyPages(start, length)
	return nil
}

// Reset restores every PMA's backing store, the CSR bank, and the
// register file to their power-on state, then rebuilds the Merkle
// tree and flushes the TLBs.
func (m *CPU) Reset() {
	m.table.Reset()
	m.csrs.Reset()
	m.x = [32]uint64{}
	m.f = [32]uint64{}
	m.pc = 0
	m.priv = riscv.PrivM
	m.halted = false
	m.yieldedManual = false
	m.yieldedAuto = false
	m.tlbs.FlushAll()
	m.tree = merkle.NewTree(m.table)
}
