package pma

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ramPMA(start, length uint64) *PMA {
	return &PMA{
		Start:  start,
		Length: length,
		Flags:  Flags{Memory: true, Readable: true, Writable: true},
		Memory: NewMemory(length, nil),
	}
}

func TestTableFindLocatesContainingRange(t *testing.T) {
	a := ramPMA(0x8000_0000, 0x1000)
	b := ramPMA(0x9000_0000, 0x2000)
	table, err := NewTable([]*PMA{a, b})
	require.NoError(t, err)

	require.Same(t, a, table.Find(0x8000_0000, 8))
	require.Same(t, a, table.Find(0x8000_0ff8, 8))
	require.Same(t, b, table.Find(0x9000_1000, 8))
}

func TestTableFindReturnsEmptyForUnmappedAddress(t *testing.T) {
	table, err := NewTable([]*PMA{ramPMA(0x8000_0000, 0x1000)})
	require.NoError(t, err)

	require.True(t, table.Find(0x7000_0000, 8).IsEmpty())
}

func TestTableFindRejectsAccessSpanningRangeBoundary(t *testing.T) {
	table, err := NewTable([]*PMA{ramPMA(0x8000_0000, 0x1000)})
	require.NoError(t, err)

	// an 8-byte access starting 4 bytes before the end of the range
	// is not fully contained, so it must fault rather than silently
	// reading past the range.
	require.True(t, table.Find(0x8000_0ffc, 8).IsEmpty())
}

func TestNewTableRejectsOverlap(t *testing.T) {
	a := ramPMA(0x8000_0000, 0x2000)
	b := ramPMA(0x8000_1000, 0x1000)
	_, err := NewTable([]*PMA{a, b})
	require.Error(t, err)
}

func TestNewTableRejectsMisalignment(t *testing.T) {
	a := ramPMA(0x8000_0001, 0x1000)
	_, err := NewTable([]*PMA{a})
	require.Error(t, err)
}

func TestNewTableRejectsTooManyRanges(t *testing.T) {
	ranges := make([]*PMA, MaxRanges+1)
	for i := range ranges {
		ranges[i] = ramPMA(uint64(i)*PageSize, PageSize)
	}
	_, err := NewTable(ranges)
	require.Error(t, err)
}

func TestTablePagesAggregatesAcrossRanges(t *testing.T) {
	a := ramPMA(0x8000_0000, 0x2000) // 2 pages
	table, err := NewTable([]*PMA{a})
	require.NoError(t, err)

	a.Memory.Write(0, 1, 3)            // page 0 of a
	a.Memory.Write(PageSize, 2, 3)     // page 1 of a

	pages := table.Pages()
	require.ElementsMatch(t, []uint64{0x8000_0000 >> PageBits, (0x8000_0000 + PageSize) >> PageBits}, pages)
}
