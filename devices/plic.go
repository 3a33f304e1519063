package devices

import "github.com/cartesi/machine/pma"

const (
	plicGirqpend = 0x00
	plicGirqsrvd = 0x08
)

// PLIC gates external interrupt lines into mip.MEIP/SEIP through a
// pending/served bitmap pair, per spec.md §4.E.
type PLIC struct {
	girqpend uint64 // bit set: source has an unserved pending interrupt
	girqsrvd uint64 // bit set: source has been claimed/served

	// setExternalInterrupt is invoked after every RaiseSource and
	// register write with whether the pending-minus-served set is
	// non-empty, to raise/clear mip.MEIP (machine external).
	setExternalInterrupt func(pending bool)
}

func NewPLIC(setExternalInterrupt func(bool)) *PLIC {
	return &PLIC{setExternalInterrupt: setExternalInterrupt}
}

var _ pma.Driver = (*PLIC)(nil)

func (p *PLIC) active() uint64 { return p.girqpend &^ p.girqsrvd }

func (p *PLIC) notify() {
	if p.setExternalInterrupt != nil {
		p.setExternalInterrupt(p.active() != 0)
	}
}

// RaiseSource marks an interrupt source as pending, e.g. from a
// VirtIO device's queue-notify callback.
func (p *PLIC) RaiseSource(bit uint) {
	p.girqpend |= uint64(1) << bit
	p.girqsrvd &^= uint64(1) << bit
	p.notify()
}

func (p *PLIC) Read(offset uint64, sizeLog2 uint) (uint64, bool) {
	if sizeLog2 != 3 {
		return 0, false
	}
	switch offset {
	case plicGirqpend:
		return p.girqpend, true
	case plicGirqsrvd:
		return p.girqsrvd, true
	default:
		return 0, false
	}
}

func (p *PLIC) Write(offset uint64, value uint64, sizeLog2 uint) bool {
	if sizeLog2 != 3 {
		return false
	}
	switch offset {
	case plicGirqpend:
		p.girqpend = value
	case plicGirqsrvd:
		p.girqsrvd = value
	default:
		return false
	}
	p.notify()
	return true
}

func (p *PLIC) Peek(pageOffset uint64) ([]byte, bool) {
	if pageOffset != 0 {
		return nil, false
	}
	page := make([]byte, pma.PageSize)
	putLE64(page[plicGirqpend:], p.girqpend)
	putLE64(page[plicGirqsrvd:], p.girqsrvd)
	return page, true
}

func (p *PLIC) Reset() {
	p.girqpend = 0
	p.girqsrvd = 0
}
