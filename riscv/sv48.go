package riscv

// Sv48 page-table entry bit layout, per spec.md §4.B: four levels of
// 512-entry (9-bit VPN slice) tables, 8 bytes per entry, VPN slices
// starting at bit 39 of the virtual address.
const (
	PageBits     = 12
	PageSize     = 1 << PageBits
	PageOffsetMask = PageSize - 1

	Sv48Levels   = 4
	VPNBitsPerLevel = 9
	PTESize      = 8

	PTEFlagV = 1 << 0 // valid
	PTEFlagR = 1 << 1 // readable
	PTEFlagW = 1 << 2 // writable
	PTEFlagX = 1 << 3 // executable
	PTEFlagU = 1 << 4 // accessible to U-mode
	PTEFlagG = 1 << 5 // global
	PTEFlagA = 1 << 6 // accessed
	PTEFlagD = 1 << 7 // dirty

	PTEPPNShift = 10
)

// PTE is a decoded Sv48 page-table entry.
type PTE struct {
	Valid, Readable, Writable, Executable bool
	User, Global, Accessed, Dirty         bool
	PPN                                   uint64 // physical page number, shifted right by PageBits already
}

// DecodePTE unpacks the raw 8-byte little-endian page-table entry.
func DecodePTE(raw uint64) PTE {
	return PTE{
		Valid:      raw&PTEFlagV != 0,
		Readable:   raw&PTEFlagR != 0,
		Writable:   raw&PTEFlagW != 0,
		Executable: raw&PTEFlagX != 0,
		User:       raw&PTEFlagU != 0,
		Global:     raw&PTEFlagG != 0,
		Accessed:   raw&PTEFlagA != 0,
		Dirty:      raw&PTEFlagD != 0,
		PPN:        raw >> PTEPPNShift,
	}
}

// IsLeaf reports whether a valid PTE is a leaf (grants R/W/X) rather
// than a pointer to the next page-table level.
func (p PTE) IsLeaf() bool { return p.Readable || p.Writable || p.Executable }

// VPN extracts the 9-bit virtual page number slice for Sv48 table
// level (0 = innermost / page-aligned, 3 = outermost, selecting the
// root table entry from satp.PPN).
func VPN(vaddr uint64, level int) uint64 {
	shift := PageBits + level*VPNBitsPerLevel
	return (vaddr >> shift) & ((1 << VPNBitsPerLevel) - 1)
}

// SatpMode is the value of the satp.MODE field that selects Sv48.
const SatpModeSv48 = 9

// SatpPPN extracts the root page-table's physical page number from
// satp (bits 0-43).
func SatpPPN(satp uint64) uint64 { return satp & ((uint64(1) << 44) - 1) }

// SatpMode extracts satp's MODE field (bits 60-63).
func SatpMode(satp uint64) uint64 { return satp >> 60 }
