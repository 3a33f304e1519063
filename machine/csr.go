package machine

import (
	"github.com/cartesi/machine/csr"
	"github.com/cartesi/machine/riscv"
)

// ReadCSR performs a privilege-checked CSR read, synthesizing the
// registers the bank does not store directly: sstatus, sip and sie as
// restricted views of mstatus, mip and mie.
func (m *CPU) ReadCSR(num riscv.CSR) (uint64, error) {
	switch num {
	case riscv.CSRSstatus:
		return m.csrs.Peek(riscv.CSRMstatus) & sstatusMask, nil
	case riscv.CSRSip:
		return m.csrs.Peek(riscv.CSRMip) & m.csrs.Peek(riscv.CSRMideleg), nil
	case riscv.CSRSie:
		return m.csrs.Peek(riscv.CSRMie) & m.csrs.Peek(riscv.CSRMideleg), nil
	}
	v, ok := m.csrs.Read(num, m.priv)
	if !ok {
		return 0, &trapError{cause: riscv.ExcIllegalInstruction, tval: uint64(num)}
	}
	return v, nil
}

// sstatusMask restricts mstatus to the subset sstatus exposes: SIE,
// SPIE, SPP, FS, XS, SUM, MXR, UXL, SD (spec.md §4.D).
const sstatusMask = 1<<1 | 1<<5 | 1<<8 | 1<<13 | 1<<14 | 1<<15 | 1<<16 | 1<<18 | 1<<19 | 1<<32 | 1<<33 | 1<<63

// WriteCSR performs a privilege- and read-only-checked CSR write,
// applying the side effect (spec.md §4.D) the write triggers: a TLB
// flush for satp and mstatus. MISA masking happens inside the bank;
// fcsr, frm and fflags are stored as three independent registers, with
// no rounding-mode or flag effect.
func (m *CPU) WriteCSR(num riscv.CSR, value uint64) error {
	switch num {
	case riscv.CSRSstatus:
		masked := m.csrs.Peek(riscv.CSRMstatus)&^sstatusMask | value&sstatusMask
		return m.WriteCSR(riscv.CSRMstatus, masked)
	case riscv.CSRSip:
		mideleg := m.csrs.Peek(riscv.CSRMideleg)
		masked := m.csrs.Peek(riscv.CSRMip)&^mideleg | value&mideleg
		return m.WriteCSR(riscv.CSRMip, masked)
	case riscv.CSRSie:
		mideleg := m.csrs.Peek(riscv.CSRMideleg)
		masked := m.csrs.Peek(riscv.CSRMie)&^mideleg | value&mideleg
		return m.WriteCSR(riscv.CSRMie, masked)
	}

	effect, ok := m.csrs.Write(num, value, m.priv)
	if !ok {
		return &trapError{cause: riscv.ExcIllegalInstruction, tval: uint64(num)}
	}
	switch effect {
	case csr.EffectFlushTLB:
		if num == riscv.CSRMstatus {
			m.tlbs.FlushMPRVScope()
		} else {
			m.tlbs.FlushAll()
		}
	case csr.EffectRecomputeInterruptMask:
		// Pending interrupts are recomputed on demand from mip/mie/mstatus
		// at the top of every step (pendingInterrupt); nothing to cache here.
	}
	return nil
}

// PeekCSR reads num with no privilege check, for trap entry/return and
// host inspection.
func (m *CPU) PeekCSR(num riscv.CSR) uint64 { return m.csrs.Peek(num) }

// PokeCSR writes num with no privilege or read-only check, for trap
// entry/return and host-driven state loading.
func (m *CPU) PokeCSR(num riscv.CSR, value uint64) { m.csrs.Poke(num, value) }

// SFenceVMA implements the SFENCE.VMA instruction: a zero rs1 (and
// rs1==x0 by convention encodes "all addresses") flushes every TLB
// entry; a specific vaddr flushes only its page (spec.md §4.B).
func (m *CPU) SFenceVMA(vaddr uint64, hasVAddr bool) {
	if !hasVAddr {
		m.tlbs.FlushAll()
		return
	}
	m.tlbs.FlushVAddr(vaddr)
}
