package riscv

// CSR addresses are a flat 12-bit space. Bits 8-9 encode the minimum
// privilege required to access the register, bits 10-11 mark it
// read-only; spec.md §4.D requires both to be enforced on every
// access. This file lists the registers spec.md §6 names.
type CSR uint32

const (
	CSRFflags  CSR = 0x001
	CSRFrm     CSR = 0x002
	CSRFcsr    CSR = 0x003

	CSRSstatus    CSR = 0x100
	CSRSie        CSR = 0x104
	CSRStvec      CSR = 0x105
	CSRScounteren CSR = 0x106
	CSRSenvcfg    CSR = 0x10A
	CSRSscratch   CSR = 0x140
	CSRSepc       CSR = 0x141
	CSRScause     CSR = 0x142
	CSRStval      CSR = 0x143
	CSRSip        CSR = 0x144
	CSRSatp       CSR = 0x180

	CSRMstatus    CSR = 0x300
	CSRMisa       CSR = 0x301
	CSRMedeleg    CSR = 0x302
	CSRMideleg    CSR = 0x303
	CSRMie        CSR = 0x304
	CSRMtvec      CSR = 0x305
	CSRMcounteren CSR = 0x306
	CSRMenvcfg    CSR = 0x30A
	CSRMscratch   CSR = 0x340
	CSRMepc       CSR = 0x341
	CSRMcause     CSR = 0x342
	CSRMtval      CSR = 0x343
	CSRMip        CSR = 0x344

	CSRMcycle        CSR = 0xB00
	CSRMinstret      CSR = 0xB02
	CSRIcycleinstret CSR = 0xB02 // alias: minstret doubles as icycleinstret (invariant 2, spec.md §3)

	CSRMvendorid CSR = 0xF11
	CSRMarchid   CSR = 0xF12
	CSRMimpid    CSR = 0xF13
	CSRMhartid   CSR = 0xF14
)

// Privilege returns the minimum privilege level required to access
// csr, decoded from address bits 8-9 (0=U, 1=S, 2=reserved, 3=M).
func (c CSR) Privilege() PrivilegeLevel {
	return PrivilegeLevel((c >> 8) & 0x3)
}

// ReadOnly reports whether address bits 10-11 mark csr as read-only.
func (c CSR) ReadOnly() bool {
	return (c>>10)&0x3 == 0x3
}

// PrivilegeLevel is the processor mode: M (machine), S (supervisor),
// or U (user). Hypervisor (H) is out of scope (spec.md §1 Non-goals).
type PrivilegeLevel uint8

const (
	PrivU PrivilegeLevel = 0
	PrivS PrivilegeLevel = 1
	PrivM PrivilegeLevel = 3
)

func (p PrivilegeLevel) String() string {
	switch p {
	case PrivU:
		return "U"
	case PrivS:
		return "S"
	case PrivM:
		return "M"
	default:
		return "?"
	}
}
