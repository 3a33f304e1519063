package riscv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImmTypeI(t *testing.T) {
	// ADDI x1, x0, -1  -> imm = 0xFFF (all ones, sign extends to -1)
	instr := uint32(0xFFF00013)
	require.Equal(t, int64(-1), ImmI(instr))
}

func TestImmTypeS(t *testing.T) {
	// SD x2, -8(x1): imm = -8 split across bits [11:5] and [4:0]
	// imm11_5 = 0x7F, imm4_0 = 0x18 encodes -8
	instr := uint32(0)
	instr |= 0x7F << 25 // imm[11:5] = all ones
	instr |= 0x18 << 7  // imm[4:0] = 11000
	require.Equal(t, int64(-8), ImmS(instr))
}

func TestImmTypeB(t *testing.T) {
	// BEQ with a +16 byte offset: imm = 0b10000, bit4=1 rest 0
	instr := uint32(0)
	instr |= 1 << (8 + 3) // imm[4] -> bits[11:8], our bit index 4 sits at instr bit 8+3
	require.Equal(t, int64(16), ImmB(instr))
}

func TestImmTypeU(t *testing.T) {
	// LUI with imm20=1 -> value 0x1000
	instr := uint32(1) << 12
	require.Equal(t, int64(0x1000), ImmU(instr))
}

func TestImmTypeJ(t *testing.T) {
	// JAL with +4 offset: imm[10]=0, bit index 1 holds value 2 (2 in units of 2 bytes = 4)
	instr := uint32(0)
	instr |= (2 & 0x3FF) << 21 // imm[10:1] field, value 2 -> offset 4
	require.Equal(t, int64(4), ImmJ(instr))
}

func TestFieldSplits(t *testing.T) {
	// ADD x3, x1, x2: opcode=0x33 funct3=0 funct7=0 rd=3 rs1=1 rs2=2
	var instr uint32
	instr |= uint32(OpOp)
	instr |= 3 << 7
	instr |= 0 << 12
	instr |= 1 << 15
	instr |= 2 << 20
	instr |= 0 << 25

	require.Equal(t, OpOp, Opcode7(instr))
	require.Equal(t, uint32(3), Rd(instr))
	require.Equal(t, uint32(0), Funct3(instr))
	require.Equal(t, uint32(1), Rs1(instr))
	require.Equal(t, uint32(2), Rs2(instr))
	require.Equal(t, uint32(0), Funct7(instr))
}

func TestIsCompressed(t *testing.T) {
	require.True(t, IsCompressed(0x4505))  // low 2 bits = 01
	require.False(t, IsCompressed(0x0013)) // low 2 bits = 11 -> 32-bit instruction
}
