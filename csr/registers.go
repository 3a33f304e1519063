// Package csr holds the control/status register bank: storage for
// every register spec.md §6 lists, privilege/read-only enforcement
// keyed off the CSR address convention in riscv.CSR, and the
// side-effect dispatch spec.md §4.D requires on certain writes.
package csr

import "github.com/cartesi/machine/riscv"

// Effect identifies a side effect a CSR write triggers, consumed by
// machine.CPU's csr.go to actually flush the TLB, recompute the
// interrupt mask, etc. — the bank itself has no TLB or interrupt
// state to mutate.
type Effect int

const (
	NoEffect Effect = iota
	EffectFlushTLB
	EffectRecomputeInterruptMask
	EffectMaskMISA
	EffectSetFPRounding
)

// effects maps a CSR number to the side effect its write triggers,
// per spec.md §4.D.
var effects = map[riscv.CSR]Effect{
	riscv.CSRSatp:    EffectFlushTLB,
	riscv.CSRMstatus: EffectFlushTLB,
	riscv.CSRSstatus: EffectFlushTLB,
	riscv.CSRMie:     EffectRecomputeInterruptMask,
	riscv.CSRMip:     EffectRecomputeInterruptMask,
	riscv.CSRSie:     EffectRecomputeInterruptMask,
	riscv.CSRSip:     EffectRecomputeInterruptMask,
	riscv.CSRMisa:    EffectMaskMISA,
	riscv.CSRFcsr:    EffectSetFPRounding,
	riscv.CSRFrm:     EffectSetFPRounding,
	riscv.CSRFflags:  EffectSetFPRounding,
}

// EffectOf reports the side effect writing num triggers, or NoEffect.
func EffectOf(num riscv.CSR) Effect {
	return effects[num]
}

// SupportedMISA is the RV64IMASU extension set this implementation
// reports and masks writes to, per spec.md §4.D: MXL=2 (64-bit) plus
// extension bits A, I, M, S, U.
const SupportedMISA = uint64(2)<<62 |
	1<<('A'-'A') |
	1<<('I'-'A') |
	1<<('M'-'A') |
	1<<('S'-'A') |
	1<<('U'-'A')

// Bank stores every CSR value as a flat map keyed by address and
// enforces privilege/read-only policy on access. It has no knowledge
// of what a side effect *does* — Write only reports which Effect
// fired so the caller can react.
type Bank struct {
	values map[riscv.CSR]uint64
}

func NewBank() *Bank {
	b := &Bank{values: make(map[riscv.CSR]uint64)}
	b.values[riscv.CSRMisa] = SupportedMISA
	return b
}

// Read returns the raw value of num if priv is sufficient, per the
// CSR address's own privilege bits (riscv.CSR.Privilege).
func (b *Bank) Read(num riscv.CSR, priv riscv.PrivilegeLevel) (uint64, bool) {
	if priv < num.Privilege() {
		return 0, false
	}
	return b.values[num], true
}

// Write stores value into num if priv is sufficient and num is not
// read-only, applying the fixed masking a few registers need, and
// reports the Effect the write triggers (NoEffect if none).
func (b *Bank) Write(num riscv.CSR, value uint64, priv riscv.PrivilegeLevel) (Effect, bool) {
	if priv < num.Privilege() {
		return NoEffect, false
	}
	if num.ReadOnly() {
		return NoEffect, false
	}
	effect := EffectOf(num)
	if effect == EffectMaskMISA {
		value &= SupportedMISA
	}
	b.values[num] = value
	return effect, true
}

// Peek returns the raw value of num with no privilege check, for
// trap entry/return paths that read mstatus/mepc/mcause internally.
func (b *Bank) Peek(num riscv.CSR) uint64 { return b.values[num] }

// Poke stores value into num with no privilege or read-only check,
// for trap entry/return paths and Reset.
func (b *Bank) Poke(num riscv.CSR, value uint64) { b.values[num] = value }

// Reset restores every register to its power-on value (zero, except
// misa which reports the supported extension set).
func (b *Bank) Reset() {
	b.values = make(map[riscv.CSR]uint64)
	b.values[riscv.CSRMisa] = SupportedMISA
}
