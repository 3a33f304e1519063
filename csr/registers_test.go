package csr

import (
	"testing"

	"github.com/cartesi/machine/riscv"
	"github.com/stretchr/testify/require"
)

func TestReadRejectsInsufficientPrivilege(t *testing.T) {
	bank := NewBank()
	_, ok := bank.Read(riscv.CSRMstatus, riscv.PrivU)
	require.False(t, ok)

	_, ok = bank.Read(riscv.CSRMstatus, riscv.PrivM)
	require.True(t, ok)
}

func TestWriteRejectsReadOnlyRegister(t *testing.T) {
	bank := NewBank()
	_, ok := bank.Write(riscv.CSRMhartid, 1, riscv.PrivM)
	require.False(t, ok)
}

func TestSatpWriteFlushesTLB(t *testing.T) {
	bank := NewBank()
	effect, ok := bank.Write(riscv.CSRSatp, 0x8, riscv.PrivS)
	require.True(t, ok)
	require.Equal(t, EffectFlushTLB, effect)

	v, _ := bank.Read(riscv.CSRSatp, riscv.PrivS)
	require.Equal(t, uint64(0x8), v)
}

func TestMisaWriteIsMaskedToSupportedExtensions(t *testing.T) {
	bank := NewBank()
	_, ok := bank.Write(riscv.CSRMisa, ^uint64(0), riscv.PrivM)
	require.True(t, ok)

	v, _ := bank.Read(riscv.CSRMisa, riscv.PrivM)
	require.Equal(t, SupportedMISA, v)
}

func TestResetRestoresMisa(t *testing.T) {
	bank := NewBank()
	bank.Write(riscv.CSRMisa, 0, riscv.PrivM)
	bank.Reset()

	v, _ := bank.Read(riscv.CSRMisa, riscv.PrivM)
	require.Equal(t, SupportedMISA, v)
}
