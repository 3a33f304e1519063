package uarch

import "github.com/cartesi/machine/riscv"

// fetch reads the 4-byte instruction at pc by reading the containing
// 8-byte word and selecting the correct half — the uarch has no
// separate fetch TLB or compressed-instruction support (spec.md §4.G:
// "a minimal RISC-V engine").
func fetch(s *State, pc uint64) uint32 {
	word := s.readWord(pc &^ 7)
	if pc&4 != 0 {
		return uint32(word >> 32)
	}
	return uint32(word)
}

// step executes exactly one uarch instruction: fetch, decode, apply,
// advance pc and cycle. Grounded on the teacher's fetch→decode→switch
// shape (rvgo/fast/vm.go), restricted to the RV64I base set the uarch
// needs (no M/A/F/D, no CSRs, no traps — spec.md §4.G's "minimal").
func step(s *State) {
	pc := s.PC()
	instr := fetch(s, pc)
	nextPC := pc + 4

	op := riscv.Opcode7(instr)
	rd := int(riscv.Rd(instr))
	rs1 := int(riscv.Rs1(instr))
	rs2 := int(riscv.Rs2(instr))
	funct3 := riscv.Funct3(instr)
	funct7 := riscv.Funct7(instr)

	switch op {
	case riscv.OpLui:
		s.SetX(rd, uint64(riscv.ImmU(instr)))

	case riscv.OpAuipc:
		s.SetX(rd, pc+uint64(riscv.ImmU(instr)))

	case riscv.OpJal:
		s.SetX(rd, nextPC)
		nextPC = pc + uint64(riscv.ImmJ(instr))

	case riscv.OpJalr:
		target := (s.X(rs1) + uint64(riscv.ImmI(instr))) &^ 1
		s.SetX(rd, nextPC)
		nextPC = target

	case riscv.OpBranch:
		if branchTaken(funct3, s.X(rs1), s.X(rs2)) {
			nextPC = pc + uint64(riscv.ImmB(instr))
		}

	case riscv.OpOpImm:
		s.SetX(rd, execOpImm(funct3, funct7, s.X(rs1), riscv.ImmI(instr)))

	case riscv.OpOp:
		s.SetX(rd, execOp(funct3, funct7, s.X(rs1), s.X(rs2)))

	case riscv.OpLoad:
		s.SetX(rd, execLoad(s, funct3, s.X(rs1)+uint64(riscv.ImmI(instr))))

	case riscv.OpStore:
		execStore(s, funct3, s.X(rs1)+uint64(riscv.ImmS(instr)), s.X(rs2))

	case riscv.OpSystem:
		// the uarch has no privileged state; its single SYSTEM
		// instruction is ECALL (funct3=0, imm=0), used as the halt
		// request the ROM issues when it has finished.
		if funct3 == 0 {
			s.setHalted(true)
		}

	default:
		// an unrecognized opcode halts the uarch rather than faulting
		// it — the uarch has no trap handler of its own.
		s.setHalted(true)
	}

	s.SetPC(nextPC)
	s.setCycle(s.Cycle() + 1)
}

func branchTaken(funct3 uint32, a, b uint64) bool {
	switch funct3 {
	case 0b000: // BEQ
		return a == b
	case 0b001: // BNE
		return a != b
	case 0b100: // BLT
		return int64(a) < int64(b)
	case 0b101: // BGE
		return int64(a) >= int64(b)
	case 0b110: // BLTU
		return a < b
	case 0b111: // BGEU
		return a >= b
	default:
		return false
	}
}

func execOpImm(funct3, funct7 uint32, a uint64, imm int64) uint64 {
	switch funct3 {
	case 0b000: // ADDI
		return a + uint64(imm)
	case 0b010: // SLTI
		return boolToU64(int64(a) < imm)
	case 0b011: // SLTIU
		return boolToU64(a < uint64(imm))
	case 0b100: // XORI
		return a ^ uint64(imm)
	case 0b110: // ORI
		return a | uint64(imm)
	case 0b111: // ANDI
		return a & uint64(imm)
	case 0b001: // SLLI
		return a << uint(imm&0x3F)
	case 0b101:
		if funct7>>1 == 0x10 { // SRAI
			return uint64(int64(a) >> uint(imm&0x3F))
		}
		return a >> uint(imm&0x3F) // SRLI
	default:
		return a
	}
}

func execOp(funct3, funct7 uint32, a, b uint64) uint64 {
	switch {
	case funct3 == 0b000 && funct7 == 0x00: // ADD
		return a + b
	case funct3 == 0b000 && funct7 == 0x20: // SUB
		return a - b
	case funct3 == 0b001: // SLL
		return a << uint(b&0x3F)
	case funct3 == 0b010: // SLT
		return boolToU64(int64(a) < int64(b))
	case funct3 == 0b011: // SLTU
		return boolToU64(a < b)
	case funct3 == 0b100: // XOR
		return a ^ b
	case funct3 == 0b101 && funct7 == 0x00: // SRL
		return a >> uint(b&0x3F)
	case funct3 == 0b101 && funct7 == 0x20: // SRA
		return uint64(int64(a) >> uint(b&0x3F))
	case funct3 == 0b110: // OR
		return a | b
	case funct3 == 0b111: // AND
		return a & b
	default:
		return a
	}
}

func execLoad(s *State, funct3 uint32, addr uint64) uint64 {
	word := s.readWord(addr &^ 7)
	shift := uint((addr & 7) * 8)
	switch funct3 {
	case 0b000: // LB
		return uint64(int64(int8(byte(word >> shift))))
	case 0b001: // LH
		return uint64(int64(int16(uint16(word >> shift))))
	case 0b010: // LW
		return uint64(int64(int32(uint32(word >> shift))))
	case 0b011: // LD
		return word
	case 0b100: // LBU
		return uint64(byte(word >> shift))
	case 0b101: // LHU
		return uint64(uint16(word >> shift))
	case 0b110: // LWU
		return uint64(uint32(word >> shift))
	default:
		return word
	}
}

func execStore(s *State, funct3 uint32, addr uint64, value uint64) {
	base := addr &^ 7
	shift := uint((addr & 7) * 8)
	word := s.readWord(base)
	switch funct3 {
	case 0b000: // SB
		word = (word &^ (0xFF << shift)) | ((value & 0xFF) << shift)
	case 0b001: // SH
		word = (word &^ (0xFFFF << shift)) | ((value & 0xFFFF) << shift)
	case 0b010: // SW
		word = (word &^ (0xFFFFFFFF << shift)) | ((value & 0xFFFFFFFF) << shift)
	case 0b011: // SD
		word = value
	default:
		return
	}
	s.writeWord(base, word)
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
