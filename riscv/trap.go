package riscv

// TrapCause values are written to mcause/scause. Bit 63 set marks an
// interrupt; otherwise the low bits are the synchronous exception
// code. Grounded directly on spec.md §4.C/§7's trap taxonomy — the
// teacher's subset has no trap mechanism to port from.
type TrapCause uint64

const interruptBit = uint64(1) << 63

const (
	ExcInstructionAddressMisaligned TrapCause = 0
	ExcInstructionAccessFault       TrapCause = 1
	ExcIllegalInstruction           TrapCause = 2
	ExcBreakpoint                   TrapCause = 3
	ExcLoadAddressMisaligned        TrapCause = 4
	ExcLoadAccessFault              TrapCause = 5
	ExcStoreAddressMisaligned       TrapCause = 6
	ExcStoreAccessFault             TrapCause = 7
	ExcEcallFromU                   TrapCause = 8
	ExcEcallFromS                   TrapCause = 9
	ExcEcallFromM                   TrapCause = 11
	ExcInstructionPageFault TrapCause = 12
	ExcLoadPageFault        TrapCause = 13
	ExcStorePageFault       TrapCause = 15
)

const (
	IntSupervisorSoftware TrapCause = 1
	IntMachineSoftware    TrapCause = 3
	IntSupervisorTimer    TrapCause = 5
	IntMachineTimer       TrapCause = 7
	IntSupervisorExternal TrapCause = 9
	IntMachineExternal    TrapCause = 11
)

// Code returns the interrupt/exception code with the interrupt marker
// bit stripped.
func (c TrapCause) Code() uint64 { return uint64(c) &^ interruptBit }

// IsInterrupt reports whether c represents an asynchronous interrupt
// rather than a synchronous exception.
func (c TrapCause) IsInterrupt() bool { return uint64(c)&interruptBit != 0 }

// AsInterrupt sets the interrupt marker bit on a bare interrupt code.
func AsInterrupt(code TrapCause) TrapCause { return TrapCause(uint64(code) | interruptBit) }

// MCauseValue formats a TrapCause the way it is stored in mcause/scause:
// the interrupt bit plus the code in the low bits.
func (c TrapCause) MCauseValue() uint64 { return uint64(c) }
