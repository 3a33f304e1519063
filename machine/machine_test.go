package machine

import (
	"encoding/binary"
	"testing"

	"github.com/cartesi/machine/merkle"
	"github.com/cartesi/machine/riscv"
	"github.com/stretchr/testify/require"
)

func newTestCPU(t *testing.T, ramLength uint64) *CPU {
	cfg := &Config{RAM: RAMConfig{Length: ramLength}}
	m, err := Create(cfg, RuntimeConfig{})
	require.NoError(t, err)
	return m
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// encodeADDI matches the I-type encoding riscv.ImmI decodes.
func encodeADDI(rd, rs1 uint32, imm int64) uint32 {
	return uint32(imm&0xFFF)<<20 | rs1<<15 | 0<<12 | rd<<7 | uint32(riscv.OpOpImm)
}

func TestStepExecutesADDI(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	require.NoError(t, m.WriteMemory(m.pc, le64(uint64(encodeADDI(1, 0, 7)))[:4]))

	outcome := m.Step()

	require.Equal(t, OutcomeReachedTarget, outcome)
	require.Equal(t, uint64(7), m.X(1))
	require.Equal(t, uint64(ROMStart+4), m.pc)
}

// S1: a store to HTIF's tohost register requesting a halt (device=0,
// cmd=0) must set the machine's halted flag. Host write_memory cannot
// reach an IO PMA (spec.md §7's access-error rule), so this goes
// through the same store path an SD instruction takes.
func TestHTIFHaltRequestHaltsMachine(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	tohostValue := uint64(1) // device=0, cmd=0, payload=1

	require.NoError(t, m.execStore(3, HTIFStart, tohostValue))

	require.True(t, m.Halted())
}

// S2: a putchar request acks through fromhost.
func TestHTIFPutCharAcksThroughFromhost(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	tohostValue := uint64(1)<<56 | uint64(1)<<48 | uint64('A')

	require.NoError(t, m.execStore(3, HTIFStart, tohostValue))

	fromhost, err := m.execLoad(3, HTIFStart+8)
	require.NoError(t, err)
	require.Equal(t, uint64(1)<<56|uint64(1)<<48, fromhost)
}

// S3-ish: arming mtimecmp at or below the current mtime raises the
// machine timer interrupt line immediately.
func TestCLINTTimerArmRaisesMachineTimerInterrupt(t *testing.T) {
	m := newTestCPU(t, 0x10000)

	require.NoError(t, m.execStore(3, CLINTStart+0x4000, 0))

	mip, err := m.ReadCSR(riscv.CSRMip)
	require.NoError(t, err)
	require.NotZero(t, mip&(1<<riscv.IntMachineTimer.Code()))
}

// S4: a supervisor page mapping va->pa with R=1,W=0 must fault a store
// with a store-page-fault cause and stval equal to the faulting
// virtual address.
func TestSv48StoreToReadOnlyPageFaults(t *testing.T) {
	m := newTestCPU(t, 0x10000)

	const (
		l3Table = RAMStart + 0x2000
		l2Table = RAMStart + 0x3000
		l1Table = RAMStart + 0x4000
		l0Table = RAMStart + 0x5000
		leaf    = RAMStart + 0x1000
		vaddr   = uint64(0x4000_0000)
	)
	pointerPTE := func(childPA uint64) uint64 {
		return riscv.PTEFlagV | (childPA>>riscv.PageBits)<<riscv.PTEPPNShift
	}
	leafPTE := func(pa uint64, r, w bool) uint64 {
		v := uint64(riscv.PTEFlagV)
		if r {
			v |= riscv.PTEFlagR
		}
		if w {
			v |= riscv.PTEFlagW
		}
		return v | (pa>>riscv.PageBits)<<riscv.PTEPPNShift
	}

	require.NoError(t, m.WriteMemory(l3Table+0*8, le64(pointerPTE(l2Table))))
	require.NoError(t, m.WriteMemory(l2Table+1*8, le64(pointerPTE(l1Table))))
	require.NoError(t, m.WriteMemory(l1Table+0*8, le64(pointerPTE(l0Table))))
	require.NoError(t, m.WriteMemory(l0Table+0*8, le64(leafPTE(leaf, true, false))))

	satp := riscv.SatpModeSv48<<60 | (uint64(l3Table)>>riscv.PageBits)
	require.NoError(t, m.WriteCSR(riscv.CSRSatp, satp))
	m.priv = riscv.PrivS // M-mode accesses bypass paging

	_, _, err := m.translate(vaddr, AccessWrite)
	require.Error(t, err)
	te, ok := err.(*trapError)
	require.True(t, ok)
	require.Equal(t, riscv.ExcStorePageFault, te.cause)
	require.Equal(t, vaddr, te.tval)
}

// S6: a proof for an 8-byte word combined by Keccak folding must
// reproduce the tree's own root.
func TestProofForWordFoldsToRoot(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	const addr = RAMStart
	require.NoError(t, m.WriteMemory(addr, le64(0xdead_beef_0000_0000)))

	proof, err := m.GetProof(addr, merkle.LeafSizeLog2)
	require.NoError(t, err)

	root := m.GetRootHash()
	require.True(t, merkle.Verify(addr, merkle.LeafSizeLog2, proof, root))
	require.Equal(t, merkle.WordHash(0xdead_beef_0000_0000), proof.Target)
}

func TestReplaceMemoryRangeChangesRoot(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	before := m.GetRootHash()

	image := make([]byte, 0x10000)
	image[0] = 0x42
	require.NoError(t, m.ReplaceMemoryRange(RAMStart, 0x10000, image))

	require.NotEqual(t, before, m.GetRootHash())
}

func TestVerifyMerkleTreeAgreesWithFreshRecompute(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	require.NoError(t, m.WriteMemory(RAMStart, le64(123)))
	require.True(t, m.VerifyMerkleTree())
}

// buildSv48Identity writes a complete four-level page table mapping
// vaddr to leaf paddr with the given leaf permissions, points satp at
// it, and drops the hart to S-mode so the mapping applies, mirroring
// TestSv48StoreToReadOnlyPageFaults's construction.
func buildSv48Identity(t *testing.T, m *CPU, vaddr, leaf uint64, r, w bool) {
	const (
		l3Table = RAMStart + 0x2000
		l2Table = RAMStart + 0x3000
		l1Table = RAMStart + 0x4000
		l0Table = RAMStart + 0x5000
	)
	pointerPTE := func(childPA uint64) uint64 {
		return riscv.PTEFlagV | (childPA>>riscv.PageBits)<<riscv.PTEPPNShift
	}
	leafPTE := func(pa uint64, r, w bool) uint64 {
		v := uint64(riscv.PTEFlagV)
		if r {
			v |= riscv.PTEFlagR
		}
		if w {
			v |= riscv.PTEFlagW
		}
		return v | (pa>>riscv.PageBits)<<riscv.PTEPPNShift
	}
	require.NoError(t, m.WriteMemory(l3Table+riscv.VPN(vaddr, 3)*8, le64(pointerPTE(l2Table))))
	require.NoError(t, m.WriteMemory(l2Table+riscv.VPN(vaddr, 2)*8, le64(pointerPTE(l1Table))))
	require.NoError(t, m.WriteMemory(l1Table+riscv.VPN(vaddr, 1)*8, le64(pointerPTE(l0Table))))
	require.NoError(t, m.WriteMemory(l0Table+riscv.VPN(vaddr, 0)*8, le64(leafPTE(leaf, r, w))))
	satp := riscv.SatpModeSv48<<60 | (uint64(l3Table) >> riscv.PageBits)
	require.NoError(t, m.WriteCSR(riscv.CSRSatp, satp))
	m.priv = riscv.PrivS
}

// Translating a mapped page fills the matching TLB, and a second
// translation of the same page is served from the cached entry.
func TestTranslateCachesSv48LookupInTLB(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	const vaddr = uint64(0x4000_0000)
	buildSv48Identity(t, m, vaddr, RAMStart+0x1000, true, true)

	_, _, err := m.translate(vaddr, AccessRead)
	require.NoError(t, err)
	_, hit := m.tlbs.read.lookup(vaddr >> riscv.PageBits)
	require.True(t, hit)

	paddr, _, err := m.translate(vaddr+8, AccessRead)
	require.NoError(t, err)
	require.Equal(t, uint64(RAMStart+0x1000+8), paddr)
}

// SFENCE.VMA with rs1==x0 (hasVAddr=false) must drop every TLB entry,
// including ones cached under a different access kind.
func TestSFenceVMAFlushesAllThreeTLBs(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	const vaddr = uint64(0x4000_0000)
	buildSv48Identity(t, m, vaddr, RAMStart+0x1000, true, true)

	_, _, err := m.translate(vaddr, AccessRead)
	require.NoError(t, err)
	require.NoError(t, m.execStore(3, vaddr, 0))

	m.SFenceVMA(0, false)

	_, hit := m.tlbs.read.lookup(vaddr >> riscv.PageBits)
	require.False(t, hit)
	_, hit = m.tlbs.write.lookup(vaddr >> riscv.PageBits)
	require.False(t, hit)
	_, hit = m.tlbs.fetch.lookup(vaddr >> riscv.PageBits)
	require.False(t, hit)
}

// AMOADD.D returns the prior value and leaves the sum in memory.
func TestExecAMOAddCombinesAndReturnsPriorValue(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	require.NoError(t, m.WriteMemory(RAMStart, le64(10)))
	m.SetX(2, RAMStart) // rs1 = address
	m.SetX(3, 5)        // rs2 = operand

	prior, err := m.execAMO(3, 0x00<<2, 2, 3) // funct3=3 (64-bit), op=AMOADD
	require.NoError(t, err)
	require.Equal(t, uint64(10), prior)

	after, err := m.ReadMemory(RAMStart, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(15), binary.LittleEndian.Uint64(after))
}

// LR/SC: a store-conditional to the reserved address succeeds (returns
// 0) and clears the reservation, so a second SC to the same address
// fails (returns 1).
func TestExecAMOLoadReservedStoreConditional(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	require.NoError(t, m.WriteMemory(RAMStart, le64(0)))
	m.SetX(2, RAMStart)

	_, err := m.execAMO(3, 0x02<<2, 2, 0) // LR
	require.NoError(t, err)
	require.True(t, m.reservationValid)

	m.SetX(3, 42)
	result, err := m.execAMO(3, 0x03<<2, 2, 3) // SC
	require.NoError(t, err)
	require.Equal(t, uint64(0), result)

	result, err = m.execAMO(3, 0x03<<2, 2, 3) // SC again, reservation gone
	require.NoError(t, err)
	require.Equal(t, uint64(1), result)
}

// MRET restores pc from mepc and priv from mstatus.MPP.
func TestExecSystemMRETRestoresPCAndPrivilege(t *testing.T) {
	m := newTestCPU(t, 0x10000)
	require.NoError(t, m.WriteCSR(riscv.CSRMepc, 0x8000_0100))
	mstatus := uint64(riscv.PrivS) << 11 // MPP = S
	require.NoError(t, m.WriteCSR(riscv.CSRMstatus, mstatus))
	m.priv = riscv.PrivM

	require.NoError(t, m.execSystem(0x30200073, 0, 0, 0)) // MRET encoding, funct3=0

	require.Equal(t, uint64(0x8000_0100), m.pc)
	require.Equal(t, riscv.PrivS, m.priv)
}

// WFI parks the hart when no interrupt is pending, and pollDevices
// wakes it once one becomes pending.
func TestWFIParksAndWakesOnPendingInterrupt(t *testing.T) {
	m := newTestCPU(t, 0x10000)

	require.NoError(t, m.execSystem(0x10500073, 0, 0, 0)) // WFI encoding
	require.True(t, m.wfiParked)

	require.NoError(t, m.execStore(3, CLINTStart+0x4000, 0)) // arm mtimecmp at mtime=0
	require.NoError(t, m.WriteCSR(riscv.CSRMie, 1<<riscv.IntMachineTimer.Code()))
	require.NoError(t, m.WriteCSR(riscv.CSRMstatus, 1<<3)) // MIE
	m.pollDevices()

	require.False(t, m.wfiParked)
}

// S3: arming mtimecmp ahead of the current mtime must not raise
// mip.MTIP immediately; it must assert only once mcycle (and so mtime,
// derived as mcycle/100) catches up to the comparator, re-checked by
// pollDevices on every step rather than just at the write.
func TestCLINTTimerFiresAsMCycleAdvances(t *testing.T) {
	m := newTestCPU(t, 0x10000)

	require.NoError(t, m.execStore(3, CLINTStart+0x4000, 1000)) // mtimecmp = 1000 -> fires at mcycle 100_000

	mip, err := m.ReadCSR(riscv.CSRMip)
	require.NoError(t, err)
	require.Zero(t, mip&(1<<riscv.IntMachineTimer.Code()))

	m.Run(100_001)

	mip, err = m.ReadCSR(riscv.CSRMip)
	require.NoError(t, err)
	require.NotZero(t, mip&(1<<riscv.IntMachineTimer.Code()))
}
