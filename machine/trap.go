package machine

import (
	"github.com/cartesi/machine/riscv"
)

// execAMO executes the RV32A/RV64A extension's LR/SC and atomic
// memory operations (spec.md §4.C's A-extension subset), addressed
// through the write TLB since every variant but LR mutates memory.
func (m *CPU) execAMO(funct3, funct7, rs1, rs2 uint32) (uint64, error) {
	sizeLog2 := uint(funct3) & 0x3
	if sizeLog2 != 2 && sizeLog2 != 3 {
		return 0, &trapError{cause: riscv.ExcIllegalInstruction}
	}
	addr := m.X(int(rs1))
	op := funct7 >> 2

	switch op {
	case 0x2: // LR
		v, err := m.execLoad(uint32(sizeLog2), addr)
		if err != nil {
			return 0, err
		}
		m.reservationValid = true
		m.reservationAddr = addr
		return v, nil

	case 0x3: // SC
		if !m.reservationValid || m.reservationAddr != addr {
			m.reservationValid = false
			return 1, nil
		}
		m.reservationValid = false
		if err := m.execStore(uint32(sizeLog2), addr, m.X(int(rs2))); err != nil {
			return 0, err
		}
		return 0, nil

	default:
		paddr, owner, err := m.translate(addr, AccessWrite)
		if err != nil {
			return 0, err
		}
		before, ok := owner.ReadOffset(paddr, sizeLog2)
		if !ok {
			return 0, &trapError{cause: riscv.ExcLoadAccessFault, tval: addr}
		}
		operand := m.X(int(rs2))
		if sizeLog2 == 2 {
			before = uint64(int64(int32(before)))
			operand = uint64(int64(int32(operand)))
		}
		result := amoCombine(op, before, operand)
		if !owner.WriteOffset(paddr, result, sizeLog2) {
			return 0, &trapError{cause: riscv.ExcStoreAccessFault, tval: addr}
		}
		m.tlbs.NotifyWrite(paddr)
		m.tree.MarkDirty(paddr >> 12)
		return before, nil
	}
}

func amoCombine(op uint32, before, operand uint64) uint64 {
	switch op {
	case 0x0: // AMOADD
		return before + operand
	case 0x1: // AMOSWAP
		return operand
	case 0x4: // AMOXOR
		return before ^ operand
	case 0x8: // AMOOR
		return before | operand
	case 0xc: // AMOAND
		return before & operand
	case 0x10: // AMOMIN
		if int64(operand) < int64(before) {
			return operand
		}
		return before
	case 0x14: // AMOMAX
		if int64(operand) > int64(before) {
			return operand
		}
		return before
	case 0x18: // AMOMINU
		if operand < before {
			return operand
		}
		return before
	case 0x1c: // AMOMAXU
		if operand > before {
			return operand
		}
		return before
	default:
		return before
	}
}

// execSystem handles the SYSTEM major opcode: ECALL, EBREAK, MRET,
// SRET, WFI, SFENCE.VMA, and the CSR instruction family (spec.md
// §4.C/§4.D).
func (m *CPU) execSystem(instr uint32, rd, rs1, funct3 uint32) error {
	if funct3 == 0 {
		imm := riscv.CSRImm(instr)
		switch imm {
		case 0x000: // ECALL
			return &trapError{cause: ecallCause(m.priv)}
		case 0x001: // EBREAK
			return &trapError{cause: riscv.ExcBreakpoint, tval: m.pc}
		case 0x102: // SRET
			return m.execReturn(riscv.PrivS)
		case 0x302: // MRET
			return m.execReturn(riscv.PrivM)
		case 0x105: // WFI
			m.pc += 4
			if !m.interruptPending() {
				m.wfiParked = true
			}
			return nil
		default:
			if imm>>5 == 0x09 { // SFENCE.VMA funct7=0001001
				m.SFenceVMA(m.X(int(rs1)), rs1 != 0)
				m.pc += 4
				return nil
			}
			return &trapError{cause: riscv.ExcIllegalInstruction, tval: uint64(instr)}
		}
	}

	num := riscv.CSR(riscv.CSRImm(instr))
	mode := funct3 & 0x3
	useImm := funct3&0x4 != 0
	var writeVal uint64
	if useImm {
		writeVal = uint64(rs1)
	} else {
		writeVal = m.X(int(rs1))
	}

	old, err := m.ReadCSR(num)
	if err != nil {
		return err
	}
	var toWrite uint64
	switch mode {
	case 1: // CSRRW(I)
		toWrite = writeVal
	case 2: // CSRRS(I)
		toWrite = old | writeVal
	case 3: // CSRRC(I)
		toWrite = old &^ writeVal
	}
	// CSRRS/CSRRC with rs1==x0 (for the immediate forms, uimm==0) are
	// read-only probes and must not raise a write-side-effect or
	// read-only-violation fault.
	skipWrite := (mode == 2 || mode == 3) && rs1 == 0
	if !skipWrite {
		if err := m.WriteCSR(num, toWrite); err != nil {
			return err
		}
	}
	m.SetX(int(rd), old)
	m.pc += 4
	return nil
}

func ecallCause(priv riscv.PrivilegeLevel) riscv.TrapCause {
	switch priv {
	case riscv.PrivM:
		return riscv.ExcEcallFromM
	case riscv.PrivS:
		return riscv.ExcEcallFromS
	default:
		return riscv.ExcEcallFromU
	}
}

// execReturn implements MRET/SRET: restore pc/priv from
// mepc/sepc and the previous-privilege/interrupt-enable fields
// mstatus packs, per the RISC-V privileged spec's trap-return rules
// spec.md §4.C references.
func (m *CPU) execReturn(from riscv.PrivilegeLevel) error {
	if m.priv < from {
		return &trapError{cause: riscv.ExcIllegalInstruction}
	}
	mstatus := m.csrs.Peek(riscv.CSRMstatus)
	if from == riscv.PrivM {
		mpp := riscv.PrivilegeLevel((mstatus >> 11) & 0x3)
		mpie := (mstatus >> 7) & 1
		mstatus = mstatus&^(1<<3) | mpie<<3 // MIE = MPIE
		mstatus = mstatus&^(1<<7) | 1<<7    // MPIE = 1
		mstatus &^= 0x3 << 11               // MPP = U
		m.csrs.Poke(riscv.CSRMstatus, mstatus)
		m.priv = mpp
		m.pc = m.csrs.Peek(riscv.CSRMepc)
	} else {
		spp := riscv.PrivilegeLevel((mstatus >> 8) & 1)
		spie := (mstatus >> 5) & 1
		mstatus = mstatus&^(1<<1) | spie<<1 // SIE = SPIE
		mstatus = mstatus&^(1<<5) | 1<<5    // SPIE = 1
		mstatus &^= 1 << 8                  // SPP = U
		m.csrs.Poke(riscv.CSRMstatus, mstatus)
		m.priv = spp
		m.pc = m.csrs.Peek(riscv.CSRSepc)
	}
	if from == riscv.PrivM || m.csrs.Peek(riscv.CSRMideleg) != ^uint64(0) {
		m.tlbs.FlushMPRVScope()
	}
	return nil
}

// pendingInterrupt reports the highest-priority enabled, unmasked
// pending interrupt, per the RISC-V privileged spec's fixed
// M>S, external>software>timer ordering (spec.md §4.C).
func (m *CPU) pendingInterrupt() (riscv.TrapCause, bool) {
	if !m.interruptPending() {
		return 0, false
	}
	pending := m.csrs.Peek(riscv.CSRMip) & m.csrs.Peek(riscv.CSRMie)
	order := []riscv.TrapCause{
		riscv.IntMachineExternal, riscv.IntMachineSoftware, riscv.IntMachineTimer,
		riscv.IntSupervisorExternal, riscv.IntSupervisorSoftware, riscv.IntSupervisorTimer,
	}
	for _, c := range order {
		if pending&(1<<c.Code()) != 0 {
			return riscv.AsInterrupt(c), true
		}
	}
	return 0, false
}

// interruptPending reports whether any interrupt is both pending and
// globally enabled for the current privilege level, without selecting
// which one — used by WFI to decide whether to keep parking.
func (m *CPU) interruptPending() bool {
	pending := m.csrs.Peek(riscv.CSRMip) & m.csrs.Peek(riscv.CSRMie)
	if pending == 0 {
		return false
	}
	mstatus := m.csrs.Peek(riscv.CSRMstatus)
	switch m.priv {
	case riscv.PrivM:
		return mstatus&(1<<3) != 0 // MIE
	case riscv.PrivS:
		if pending&^m.csrs.Peek(riscv.CSRMideleg) != 0 {
			return true // an M-mode-owned pending interrupt always preempts S/U
		}
		return mstatus&(1<<1) != 0 // SIE, for interrupts delegated to S
	default:
		return true
	}
}

// enterTrap vectors into mtvec/stvec, delegating to S-mode when
// medeleg/mideleg says to and the current privilege allows it
// (spec.md §4.C's trap-delegation rule).
func (m *CPU) enterTrap(cause riscv.TrapCause, tval uint64) {
	m.wfiParked = false
	delegated := m.delegates(cause)

	mstatus := m.csrs.Peek(riscv.CSRMstatus)
	if delegated {
		m.csrs.Poke(riscv.CSRSepc, m.pc)
		m.csrs.Poke(riscv.CSRScause, cause.MCauseValue())
		m.csrs.Poke(riscv.CSRStval, tval)
		spie := (mstatus >> 1) & 1
		mstatus = mstatus&^(1<<5) | spie<<5 // SPIE = SIE
		mstatus = mstatus &^ (1 << 1)       // SIE = 0
		mstatus = mstatus&^(1<<8) | boolBit(m.priv != riscv.PrivU)<<8 // SPP = previous priv
		m.csrs.Poke(riscv.CSRMstatus, mstatus)
		m.priv = riscv.PrivS
		m.pc = trapVector(m.csrs.Peek(riscv.CSRStvec), cause)
		return
	}

	m.csrs.Poke(riscv.CSRMepc, m.pc)
	m.csrs.Poke(riscv.CSRMcause, cause.MCauseValue())
	m.csrs.Poke(riscv.CSRMtval, tval)
	mpie := (mstatus >> 3) & 1
	mstatus = mstatus&^(1<<7) | mpie<<7 // MPIE = MIE
	mstatus = mstatus &^ (1 << 3)       // MIE = 0
	mstatus &^= 0x3 << 11
	mstatus |= uint64(m.priv) << 11 // MPP = current priv
	m.csrs.Poke(riscv.CSRMstatus, mstatus)
	m.priv = riscv.PrivM
	m.pc = trapVector(m.csrs.Peek(riscv.CSRMtvec), cause)
}

// trapVector resolves a tvec CSR's two low MODE bits: MODE=0 (Direct)
// jumps straight to BASE; MODE=1 (Vectored) adds 4*cause for
// asynchronous (interrupt) causes only — synchronous exceptions
// always land at BASE regardless of MODE (spec.md §4.C).
func trapVector(tvec uint64, cause riscv.TrapCause) uint64 {
	const modeMask = 0x3
	base := tvec &^ modeMask
	mode := tvec & modeMask
	if mode == 1 && cause.IsInterrupt() {
		return base + 4*cause.Code()
	}
	return base
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// delegates reports whether cause is routed to S-mode by
// medeleg/mideleg and the hart is not in M-mode (M-mode traps are
// never delegated away from M).
func (m *CPU) delegates(cause riscv.TrapCause) bool {
	if m.priv == riscv.PrivM {
		return false
	}
	if cause.IsInterrupt() {
		return m.csrs.Peek(riscv.CSRMideleg)&(1<<cause.Code()) != 0
	}
	return m.csrs.Peek(riscv.CSRMedeleg)&(1<<cause.Code()) != 0
}

// pollDevices re-evaluates the CLINT's mtime>=mtimecmp comparator
// before every step, since mtime derives from mcycle and keeps
// advancing on its own between mtimecmp writes (spec.md §4.E, §8 S3);
// the PLIC's pending sources already assert mip.MEIP from their own
// RaiseSource push, so they need no per-step poll. wakes a parked WFI
// once anything becomes pending.
func (m *CPU) pollDevices() {
	m.clint.CheckTimer()
	if m.wfiParked && !m.interruptPending() {
		return
	}
	m.wfiParked = false
}
