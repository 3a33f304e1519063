package uarch

import (
	"testing"

	"github.com/cartesi/machine/merkle"
	"github.com/cartesi/machine/pma"
	"github.com/stretchr/testify/require"
)

const testBase = uint64(0x6000_0000_0000_0000)

func newTestMachine(t *testing.T) (*pma.Table, *merkle.Tree, *State) {
	ram := &pma.PMA{
		Start:  testBase,
		Length: 4 * pma.PageSize,
		Flags:  pma.Flags{Memory: true, Readable: true, Writable: true},
		Memory: pma.NewMemory(4*pma.PageSize, nil),
	}
	table, err := pma.NewTable([]*pma.PMA{ram})
	require.NoError(t, err)
	tree := merkle.NewTree(table)
	return table, tree, NewState(table, tree, testBase)
}

// addi x1, x0, 42
func encodeADDI(rd, rs1 int, imm int64) uint32 {
	return uint32(imm&0xFFF)<<20 | uint32(rs1)<<15 | 0<<12 | uint32(rd)<<7 | 0x13
}

func TestStepSetsRegisterFromADDI(t *testing.T) {
	_, _, s := newTestMachine(t)
	s.WriteMem(testBase+ROMBase, uint64(encodeADDI(1, 0, 42)))
	s.SetPC(testBase + ROMBase)

	step(s)

	require.Equal(t, uint64(42), s.X(1))
	require.Equal(t, testBase+ROMBase+4, s.PC())
	require.Equal(t, uint64(1), s.Cycle())
}

func TestLogStepVerifiesAgainstRoots(t *testing.T) {
	_, _, s := newTestMachine(t)
	s.WriteMem(testBase+ROMBase, uint64(encodeADDI(1, 0, 42)))
	s.SetPC(testBase + ROMBase)

	log := LogStep(s)
	require.Equal(t, uint64(42), s.X(1))

	require.True(t, VerifyStepStateTransition(log.RootBefore, log, log.RootAfter, testBase))
}

func TestLogStepFailsIfSiblingTampered(t *testing.T) {
	_, _, s := newTestMachine(t)
	s.WriteMem(testBase+ROMBase, uint64(encodeADDI(1, 0, 42)))
	s.SetPC(testBase + ROMBase)

	log := LogStep(s)
	require.NotEmpty(t, log.Accesses)
	require.NotEmpty(t, log.Accesses[0].Siblings)
	log.Accesses[0].Siblings[0][0] ^= 0xFF

	require.False(t, VerifyStepStateTransition(log.RootBefore, log, log.RootAfter, testBase))
}

func TestLogStepFailsIfValueAfterForged(t *testing.T) {
	_, _, s := newTestMachine(t)
	s.WriteMem(testBase+ROMBase, uint64(encodeADDI(1, 0, 42)))
	s.SetPC(testBase + ROMBase)

	log := LogStep(s)
	for i := range log.Accesses {
		if log.Accesses[i].Kind == Write && log.Accesses[i].Address == testBase+ShadowX0+8 {
			log.Accesses[i].ValueAfter = 999
		}
	}

	require.False(t, VerifyStepStateTransition(log.RootBefore, log, log.RootAfter, testBase))
}

func TestRunStopsOnHalt(t *testing.T) {
	_, _, s := newTestMachine(t)
	// ecall (SYSTEM, funct3=0) halts the uarch.
	s.WriteMem(testBase+ROMBase, 0x00000073)
	s.SetPC(testBase + ROMBase)

	Run(s, 1000)

	require.True(t, s.Halted())
	require.Equal(t, uint64(1), s.Cycle())
}

func TestLogResetClearsRegisters(t *testing.T) {
	_, _, s := newTestMachine(t)
	s.SetX(1, 123)
	s.SetPC(testBase + ROMBase)

	log := LogReset(s)

	require.Equal(t, uint64(0), s.X(1))
	require.Equal(t, uint64(0), s.PC())
	require.True(t, VerifyResetStateTransition(log.RootBefore, log, log.RootAfter, testBase))
}
