package machine

import (
	"github.com/cartesi/machine/pma"
	"github.com/cartesi/machine/riscv"
)

// fetch reads the 4-byte instruction at pc through the fetch TLB,
// raising an instruction-address-misaligned trap on an unaligned pc
// and whatever translate/memory fault the fetch TLB surfaces
// otherwise (spec.md §4.C).
func (m *CPU) fetch(pc uint64) (uint32, error) {
	if pc&0x3 != 0 {
		return 0, &trapError{cause: riscv.ExcInstructionAddressMisaligned, tval: pc}
	}
	paddr, owner, err := m.translate(pc, AccessFetch)
	if err != nil {
		return 0, err
	}
	v, ok := owner.ReadOffset(paddr, 2)
	if !ok {
		return 0, &trapError{cause: riscv.ExcInstructionAccessFault, tval: pc}
	}
	return uint32(v), nil
}

// Step executes exactly one instruction: check pending interrupts,
// fetch, decode, execute, advance pc, and bump the retired-instruction
// and cycle counters (spec.md §4.C, §3 invariant 2). Faults and taken
// interrupts are both delivered by entering the trap vector rather
// than escaping to the caller — Step never returns a *trapError.
func (m *CPU) Step() Outcome {
	if m.halted {
		return OutcomeHalted
	}
	if m.yieldedManual {
		m.yieldedManual = false
	}
	m.pollDevices()

	if cause, ok := m.pendingInterrupt(); ok {
		m.enterTrap(cause, 0)
		m.bumpCounters()
		return m.outcomeAfterStep()
	}

	// WFI is still parked and no interrupt has arrived: let mcycle (and
	// so mtime, spec.md invariant 3) advance without fetching or
	// retiring anything, so a comparator armed against a future mtime
	// is eventually reached (spec.md §4.C, §8 S3).
	if m.wfiParked {
		m.bumpCycle()
		return m.outcomeAfterStep()
	}

	instr, err := m.fetch(m.pc)
	if err != nil {
		m.enterTrap(err.(*trapError).cause, err.(*trapError).tval)
		m.bumpCounters()
		return m.outcomeAfterStep()
	}

	if err := m.execute(instr); err != nil {
		if te, ok := err.(*trapError); ok {
			m.enterTrap(te.cause, te.tval)
		}
	}
	m.bumpCounters()
	return m.outcomeAfterStep()
}

func (m *CPU) bumpCounters() {
	m.bumpCycle()
	m.csrs.Poke(riscv.CSRMinstret, m.csrs.Peek(riscv.CSRMinstret)+1)
}

// bumpCycle advances mcycle alone, for the idle cycles a parked WFI
// spends waiting — no instruction retires, so minstret must not move.
func (m *CPU) bumpCycle() {
	m.csrs.Poke(riscv.CSRMcycle, m.csrs.Peek(riscv.CSRMcycle)+1)
}

func (m *CPU) outcomeAfterStep() Outcome {
	switch {
	case m.halted:
		return OutcomeHalted
	case m.yieldedAuto:
		m.yieldedAuto = false
		return OutcomeYieldedAutomatic
	case m.yieldedManual:
		return OutcomeYieldedManual
	default:
		return OutcomeReachedTarget
	}
}

// Run steps the machine until it halts, yields, or mcycle reaches
// cycleEnd (spec.md §6's run(mcycle_end)).
func (m *CPU) Run(cycleEnd uint64) Outcome {
	for m.csrs.Peek(riscv.CSRMcycle) < cycleEnd {
		switch m.Step() {
		case OutcomeHalted:
			return OutcomeHalted
		case OutcomeYieldedManual:
			return OutcomeYieldedManual
		case OutcomeYieldedAutomatic:
			return OutcomeYieldedAutomatic
		}
	}
	return OutcomeReachedTarget
}

// execute decodes and runs the instruction at m.pc, leaving m.pc
// pointing at the next instruction (or the target of a taken branch
// or jump) on success. Every fault path returns a *trapError instead
// of mutating machine state further.
func (m *CPU) execute(instr uint32) error {
	op := riscv.Opcode7(instr)
	rd := riscv.Rd(instr)
	rs1 := riscv.Rs1(instr)
	rs2 := riscv.Rs2(instr)
	funct3 := riscv.Funct3(instr)
	funct7 := riscv.Funct7(instr)
	pc := m.pc
	next := pc + 4

	switch op {
	case riscv.OpLoad:
		imm := riscv.ImmI(instr)
		addr := m.X(int(rs1)) + uint64(imm)
		v, err := m.execLoad(funct3, addr)
		if err != nil {
			return err
		}
		m.SetX(int(rd), v)
		m.pc = next

	case riscv.OpStore:
		imm := riscv.ImmS(instr)
		addr := m.X(int(rs1)) + uint64(imm)
		if err := m.execStore(funct3, addr, m.X(int(rs2))); err != nil {
			return err
		}
		m.pc = next

	case riscv.OpBranch:
		if branchTaken(funct3, m.X(int(rs1)), m.X(int(rs2))) {
			m.pc = pc + uint64(riscv.ImmB(instr))
		} else {
			m.pc = next
		}

	case riscv.OpOpImm:
		v, err := execOpImm(funct3, funct7, m.X(int(rs1)), riscv.ImmI(instr))
		if err != nil {
			return err
		}
		m.SetX(int(rd), v)
		m.pc = next

	case riscv.OpOpImm32:
		m.SetX(int(rd), riscv.SignExtend32(execOpImm32(funct3, funct7, m.X(int(rs1)), riscv.ImmI(instr))))
		m.pc = next

	case riscv.OpOp:
		v, err := m.execOp(funct3, funct7, m.X(int(rs1)), m.X(int(rs2)))
		if err != nil {
			return err
		}
		m.SetX(int(rd), v)
		m.pc = next

	case riscv.OpOp32:
		m.SetX(int(rd), riscv.SignExtend32(execOp32(funct3, funct7, m.X(int(rs1)), m.X(int(rs2)))))
		m.pc = next

	case riscv.OpLui:
		m.SetX(int(rd), uint64(riscv.ImmU(instr)))
		m.pc = next

	case riscv.OpAuipc:
		m.SetX(int(rd), pc+uint64(riscv.ImmU(instr)))
		m.pc = next

	case riscv.OpJal:
		m.SetX(int(rd), next)
		m.pc = pc + uint64(riscv.ImmJ(instr))

	case riscv.OpJalr:
		target := (m.X(int(rs1)) + uint64(riscv.ImmI(instr))) &^ 1
		m.SetX(int(rd), next)
		m.pc = target

	case riscv.OpAmo:
		v, err := m.execAMO(funct3, funct7, rs1, rs2)
		if err != nil {
			return err
		}
		m.SetX(int(rd), v)
		m.pc = next

	case riscv.OpMiscMem:
		m.pc = next // FENCE/FENCE.I/FENCE.TSO: no pipeline to order.

	case riscv.OpSystem:
		return m.execSystem(instr, rd, rs1, funct3)

	default:
		return &trapError{cause: riscv.ExcIllegalInstruction, tval: uint64(instr)}
	}
	return nil
}

func branchTaken(funct3 uint32, a, b uint64) bool {
	switch funct3 {
	case 0:
		return a == b
	case 1:
		return a != b
	case 4:
		return int64(a) < int64(b)
	case 5:
		return int64(a) >= int64(b)
	case 6:
		return a < b
	case 7:
		return a >= b
	default:
		return false
	}
}

func execOpImm(funct3, funct7 uint32, a uint64, imm int64) (uint64, error) {
	switch funct3 {
	case 0:
		return a + uint64(imm), nil
	case 1:
		return a << (uint(imm) & 0x3F), nil
	case 2:
		if int64(a) < imm {
			return 1, nil
		}
		return 0, nil
	case 3:
		if a < uint64(imm) {
			return 1, nil
		}
		return 0, nil
	case 4:
		return a ^ uint64(imm), nil
	case 5:
		shamt := uint(imm) & 0x3F
		if imm&0x400 != 0 {
			return uint64(int64(a) >> shamt), nil
		}
		return a >> shamt, nil
	case 6:
		return a | uint64(imm), nil
	case 7:
		return a & uint64(imm), nil
	default:
		return 0, &trapError{cause: riscv.ExcIllegalInstruction}
	}
}

func execOpImm32(funct3, funct7 uint32, a uint64, imm int64) uint64 {
	a32 := uint32(a)
	switch funct3 {
	case 0:
		return uint64(a32 + uint32(imm))
	case 1:
		return uint64(a32 << (uint(imm) & 0x1F))
	case 5:
		shamt := uint(imm) & 0x1F
		if imm&0x400 != 0 {
			return uint64(int32(a32) >> shamt)
		}
		return uint64(a32 >> shamt)
	default:
		return 0
	}
}

func (m *CPU) execOp(funct3, funct7 uint32, a, b uint64) (uint64, error) {
	if funct7 == 1 {
		switch funct3 {
		case 0:
			return a * b, nil
		case 1:
			return riscv.MulHSS(int64(a), int64(b)), nil
		case 2:
			return riscv.MulHSU(int64(a), b), nil
		case 3:
			return riscv.MulHUU(a, b), nil
		case 4:
			return uint64(riscv.DivS(int64(a), int64(b))), nil
		case 5:
			return riscv.DivU(a, b), nil
		case 6:
			return uint64(riscv.RemS(int64(a), int64(b))), nil
		case 7:
			return riscv.RemU(a, b), nil
		}
	}
	switch funct3 {
	case 0:
		if funct7 == 0x20 {
			return a - b, nil
		}
		return a + b, nil
	case 1:
		return a << (b & 0x3F), nil
	case 2:
		if int64(a) < int64(b) {
			return 1, nil
		}
		return 0, nil
	case 3:
		if a < b {
			return 1, nil
		}
		return 0, nil
	case 4:
		return a ^ b, nil
	case 5:
		if funct7 == 0x20 {
			return uint64(int64(a) >> (b & 0x3F)), nil
		}
		return a >> (b & 0x3F), nil
	case 6:
		return a | b, nil
	case 7:
		return a & b, nil
	}
	return 0, &trapError{cause: riscv.ExcIllegalInstruction}
}

func execOp32(funct3, funct7 uint32, a, b uint64) uint64 {
	a32, b32 := uint32(a), uint32(b)
	if funct7 == 1 {
		switch funct3 {
		case 0:
			return uint64(a32 * b32)
		case 4:
			if b32 == 0 {
				return ^uint64(0)
			}
			return uint64(uint32(riscv.DivS(int64(int32(a32)), int64(int32(b32)))))
		case 5:
			if b32 == 0 {
				return ^uint64(0)
			}
			return uint64(a32 / b32)
		case 6:
			if b32 == 0 {
				return uint64(int32(a32))
			}
			return uint64(uint32(riscv.RemS(int64(int32(a32)), int64(int32(b32)))))
		case 7:
			if b32 == 0 {
				return uint64(a32)
			}
			return uint64(a32 % b32)
		}
	}
	switch funct3 {
	case 0:
		if funct7 == 0x20 {
			return uint64(a32 - b32)
		}
		return uint64(a32 + b32)
	case 1:
		return uint64(a32 << (b32 & 0x1F))
	case 5:
		shamt := b32 & 0x1F
		if funct7 == 0x20 {
			return uint64(int32(a32) >> shamt)
		}
		return uint64(a32 >> shamt)
	}
	return 0
}

func (m *CPU) execLoad(funct3 uint32, addr uint64) (uint64, error) {
	sizeLog2 := funct3 & 0x3
	signed := funct3&0x4 == 0
	paddr, owner, err := m.translate(addr, AccessRead)
	if err != nil {
		return 0, err
	}
	v, ok := owner.ReadOffset(paddr, uint(sizeLog2))
	if !ok {
		return 0, &trapError{cause: riscv.ExcLoadAccessFault, tval: addr}
	}
	if !signed {
		return v, nil
	}
	switch sizeLog2 {
	case 0:
		return uint64(int64(int8(v))), nil
	case 1:
		return uint64(int64(int16(v))), nil
	case 2:
		return uint64(int64(int32(v))), nil
	default:
		return v, nil
	}
}

func (m *CPU) execStore(funct3 uint32, addr, value uint64) error {
	sizeLog2 := funct3 & 0x3
	paddr, owner, err := m.translate(addr, AccessWrite)
	if err != nil {
		return err
	}
	if !owner.WriteOffset(paddr, value, uint(sizeLog2)) {
		return &trapError{cause: riscv.ExcStoreAccessFault, tval: addr}
	}
	m.tlbs.NotifyWrite(paddr)
	m.tree.MarkDirty(paddr >> pma.PageBits)
	return nil
}
