// Package pma implements the physical-memory-attribute table spec.md
// §4.A describes: an ordered set of disjoint physical ranges, each
// either a flat memory-backed region or an MMIO region dispatched
// through a Driver, looked up by binary search and exposed uniformly
// to the translator and the Merkle tree.
package pma

import "fmt"

// Flags carries the permission and behavior bits spec.md §4.A assigns
// to a PMA range.
type Flags struct {
	Memory         bool // M: flat host-backed memory, no Driver needed
	IO             bool // IO: dispatched through a Driver
	Executable     bool
	Readable       bool
	Writable       bool
	IdempotentRead bool // IR: repeated reads with no side effect are safe to elide
	IdempotentWrite bool // IW: repeated writes with no side effect are safe to coalesce
	DriverID       string
}

// Driver is the tagged-interface dispatch spec.md §9's redesign flags
// call for in place of a class hierarchy: one small interface that
// CLINT, HTIF, PLIC, and each VirtIO device all satisfy directly.
type Driver interface {
	// Read services a load of size 2^sizeLog2 bytes at offset from the
	// start of the PMA's range.
	Read(offset uint64, sizeLog2 uint) (value uint64, ok bool)
	// Write services a store of size 2^sizeLog2 bytes.
	Write(offset uint64, value uint64, sizeLog2 uint) (ok bool)
	// Peek returns the PageSize bytes a Merkle hash of this page would
	// see, without any read side effect (spec.md §4.F).
	Peek(pageOffset uint64) (data []byte, ok bool)
	// Reset restores the driver to its power-on state.
	Reset()
}

// PMA describes one physical range and how accesses to it are served.
type PMA struct {
	Start  uint64
	Length uint64
	Flags  Flags

	// Memory is populated when Flags.Memory is set; Driver when
	// Flags.IO is set. Exactly one of the two is non-nil for a
	// non-empty PMA.
	Memory *Memory
	Driver Driver
}

// Empty is the sentinel PMA spec.md §4.A requires lookups to return
// for addresses contained in no configured range: every access to it
// faults.
var Empty = PMA{Start: 0, Length: 0, Flags: Flags{}}

// IsEmpty reports whether p is the sentinel empty PMA.
func (p *PMA) IsEmpty() bool { return p.Length == 0 }

// Contains reports whether the half-open byte range [addr, addr+length)
// is fully inside p.
func (p *PMA) Contains(addr, length uint64) bool {
	if p.IsEmpty() {
		return false
	}
	end := addr + length
	if end < addr {
		return false // overflow
	}
	return addr >= p.Start && end <= p.Start+p.Length
}

// ReadOffset returns the 2^sizeLog2-byte value at addr, which must lie
// entirely within p.
func (p *PMA) ReadOffset(addr uint64, sizeLog2 uint) (uint64, bool) {
	offset := addr - p.Start
	if p.Flags.Memory {
		return p.Memory.Read(offset, sizeLog2)
	}
	if p.Driver != nil {
		return p.Driver.Read(offset, sizeLog2)
	}
	return 0, false
}

// WriteOffset stores a 2^sizeLog2-byte value at addr, which must lie
// entirely within p.
func (p *PMA) WriteOffset(addr uint64, value uint64, sizeLog2 uint) bool {
	offset := addr - p.Start
	if p.Flags.Memory {
		return p.Memory.Write(offset, value, sizeLog2)
	}
	if p.Driver != nil {
		return p.Driver.Write(offset, value, sizeLog2)
	}
	return false
}

// PeekPage returns the raw bytes of the page at pageIndex (a page
// index into p's own range, i.e. (addr-p.Start)>>PageBits), for
// Merkle hashing. Used by merkle.PageSource implementations.
func (p *PMA) PeekPage(pageOffset uint64) ([]byte, bool) {
	if p.Flags.Memory {
		return p.Memory.PeekPage(pageOffset)
	}
	if p.Driver != nil {
		return p.Driver.Peek(pageOffset)
	}
	return nil, false
}

// Reset restores the PMA's backing store to its power-on state.
func (p *PMA) Reset() {
	if p.Flags.Memory {
		p.Memory.Reset()
	}
	if p.Driver != nil {
		p.Driver.Reset()
	}
}

func (p *PMA) String() string {
	return fmt.Sprintf("pma{start=%#x length=%#x mem=%v io=%v}", p.Start, p.Length, p.Flags.Memory, p.Flags.IO)
}
