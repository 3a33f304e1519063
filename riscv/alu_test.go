package riscv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDivSEdgeCases(t *testing.T) {
	require.Equal(t, int64(-1), DivS(7, 0), "divide by zero -> -1")
	require.Equal(t, int64(-1<<63), DivS(-1<<63, -1), "INT64_MIN / -1 does not overflow-trap")
	require.Equal(t, int64(3), DivS(7, 2))
}

func TestDivUEdgeCases(t *testing.T) {
	require.Equal(t, ^uint64(0), DivU(7, 0), "divide by zero -> all-ones")
}

func TestRemSEdgeCases(t *testing.T) {
	require.Equal(t, int64(7), RemS(7, 0), "remainder by zero -> dividend")
	require.Equal(t, int64(0), RemS(-1<<63, -1))
}

func TestRemUEdgeCases(t *testing.T) {
	require.Equal(t, uint64(7), RemU(7, 0), "remainder by zero -> dividend")
}

func TestMulHUnsigned(t *testing.T) {
	// (2^32) * (2^32) = 2^64, so MULHU should give 1, low word 0.
	a := uint64(1) << 32
	require.Equal(t, uint64(1), MulHUU(a, a))
}

func TestMulHSigned(t *testing.T) {
	// (-1) * (-1) = 1, upper 64 bits of the signed 128-bit product are 0.
	require.Equal(t, uint64(0), MulHSS(-1, -1))
}

func TestSignExtend32(t *testing.T) {
	require.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), SignExtend32(0xFFFFFFFF))
	require.Equal(t, uint64(0x7FFFFFFF), SignExtend32(0x7FFFFFFF))
}
