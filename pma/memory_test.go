package pma

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryReadUntouchedPageIsZero(t *testing.T) {
	m := NewMemory(PageSize, nil)
	v, ok := m.Read(0x100, 3)
	require.True(t, ok)
	require.Equal(t, uint64(0), v)
}

func TestMemoryWriteThenRead(t *testing.T) {
	m := NewMemory(PageSize, nil)
	require.True(t, m.Write(0x100, 0x1122334455667788, 3))
	v, ok := m.Read(0x100, 3)
	require.True(t, ok)
	require.Equal(t, uint64(0x1122334455667788), v)
}

func TestMemoryRejectsOutOfRangeAccess(t *testing.T) {
	m := NewMemory(PageSize, nil)
	_, ok := m.Read(PageSize, 3)
	require.False(t, ok)
	require.False(t, m.Write(PageSize, 1, 3))
}

func TestMemoryDirtyHookFiresOnWrite(t *testing.T) {
	m := NewMemory(2*PageSize, nil)
	var touched []uint64
	m.SetDirtyHook(func(idx uint64) { touched = append(touched, idx) })

	m.Write(0, 1, 0)
	m.Write(PageSize, 2, 0)

	require.Equal(t, []uint64{0, 1}, touched)
}

func TestMemoryImageLoadsAndResets(t *testing.T) {
	image := make([]byte, 16)
	image[0] = 0xAA
	m := NewMemory(PageSize, image)

	v, ok := m.Read(0, 0)
	require.True(t, ok)
	require.Equal(t, uint64(0xAA), v)

	m.Write(0, 0xFF, 0)
	v, _ = m.Read(0, 0)
	require.Equal(t, uint64(0xFF), v)

	m.Reset()
	v, _ = m.Read(0, 0)
	require.Equal(t, uint64(0xAA), v)
}

func TestMemoryPeekPageDoesNotAllocate(t *testing.T) {
	m := NewMemory(PageSize, nil)
	_, ok := m.PeekPage(0)
	require.False(t, ok)
	require.Empty(t, m.AllocatedPages())
}

func TestMemoryWriteBytesSpansPages(t *testing.T) {
	m := NewMemory(2*PageSize, nil)
	data := make([]byte, 8)
	for i := range data {
		data[i] = byte(i + 1)
	}
	offset := uint64(PageSize - 4)
	require.True(t, m.WriteBytes(offset, data))

	out, ok := m.ReadBytes(offset, 8)
	require.True(t, ok)
	require.Equal(t, data, out)
}
