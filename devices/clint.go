// Package devices implements the MMIO-dispatched peripherals spec.md
// §4.E lists — CLINT, HTIF, PLIC, and a VirtIO shim — each a
// pma.Driver, so the translator dispatches loads/stores to them the
// same way it dispatches to flat memory.
package devices

import "github.com/cartesi/machine/pma"

// register offsets within the CLINT range, per spec.md §4.E.
const (
	clintMSIP0     = 0x0000
	clintMTimecmp  = 0x4000
	clintMTime     = 0xbff8
)

// CLINT is the core-local interruptor: a software-interrupt bit and
// the timer-compare register whose crossing against mtime (derived
// from mcycle, never stored independently) raises mip.MTIP.
type CLINT struct {
	msip0     uint64
	mtimecmp  uint64

	// getMCycle reads the machine's current mcycle so mtime = mcycle/100
	// (spec.md invariant 3) without CLINT owning a cycle counter of its
	// own.
	getMCycle func() uint64
	// setTimerInterrupt is invoked on every mtimecmp write and every
	// CheckTimer call with whether mip.MTIP should be pending.
	setTimerInterrupt func(pending bool)
}

func NewCLINT(getMCycle func() uint64, setTimerInterrupt func(pending bool)) *CLINT {
	return &CLINT{getMCycle: getMCycle, setTimerInterrupt: setTimerInterrupt, mtimecmp: ^uint64(0)}
}

var _ pma.Driver = (*CLINT)(nil)

func (c *CLINT) mtime() uint64 { return c.getMCycle() / 100 }

// CheckTimer re-evaluates mtime >= mtimecmp and reports the comparator
// through setTimerInterrupt. mtimecmp is written once and mtime keeps
// advancing with mcycle, so the comparator must be polled every step
// rather than only at the write that last changed mtimecmp.
func (c *CLINT) CheckTimer() {
	if c.setTimerInterrupt != nil {
		c.setTimerInterrupt(c.mtime() >= c.mtimecmp)
	}
}

func (c *CLINT) Read(offset uint64, sizeLog2 uint) (uint64, bool) {
	if sizeLog2 != 3 {
		return 0, false
	}
	switch offset {
	case clintMSIP0:
		return c.msip0, true
	case clintMTimecmp:
		return c.mtimecmp, true
	case clintMTime:
		return c.mtime(), true
	default:
		return 0, false
	}
}

func (c *CLINT) Write(offset uint64, value uint64, sizeLog2 uint) bool {
	if sizeLog2 != 3 {
		return false
	}
	switch offset {
	case clintMSIP0:
		c.msip0 = value & 1
		return true
	case clintMTimecmp:
		c.mtimecmp = value
		if c.setTimerInterrupt != nil {
			c.setTimerInterrupt(c.mtime() >= c.mtimecmp)
		}
		return true
	case clintMTime:
		return false // mtime is read-only, derived from mcycle
	default:
		return false
	}
}

func (c *CLINT) Peek(pageOffset uint64) ([]byte, bool) {
	page := make([]byte, pma.PageSize)
	switch pageOffset {
	case clintMSIP0 >> pma.PageBits:
		putLE64(page[clintMSIP0&(pma.PageSize-1):], c.msip0)
	case clintMTimecmp >> pma.PageBits:
		putLE64(page[clintMTimecmp&(pma.PageSize-1):], c.mtimecmp)
	case clintMTime >> pma.PageBits:
		putLE64(page[clintMTime&(pma.PageSize-1):], c.mtime())
	default:
		return nil, false
	}
	return page, true
}

func (c *CLINT) Reset() {
	c.msip0 = 0
	c.mtimecmp = ^uint64(0) // max value: no timer interrupt until armed
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getLE64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
