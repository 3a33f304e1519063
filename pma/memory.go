package pma

import "encoding/binary"

// Memory is a page-on-demand, memory-backed PMA: pages are allocated
// lazily on first write and read as all-zero until then, mirroring
// the teacher's sparse page map (rvgo/fast/memory.go's AllocPage /
// pageLookup) generalized from a single global 64-bit space to one
// store per PMA range.
type Memory struct {
	length uint64
	pages  map[uint64][]byte // local page index -> PageSize bytes

	// image, if non-nil, is the power-on content (a ROM or flash
	// image) copied in on construction and restored on Reset.
	image []byte

	// lastPageKey/lastPage cache the most recently touched page, the
	// same two-instruction-stream trick rvgo/fast/memory.go uses to
	// avoid a map lookup per access.
	lastPageKey uint64
	lastPage    []byte
	hasLast     bool

	// onDirty, when set, is invoked with the local page index after
	// every write so the owning machine can mark the Merkle tree dirty.
	onDirty func(localPageIndex uint64)
}

// NewMemory allocates a RAM-like PMA backing store of the given
// length (must be a multiple of PageSize), optionally pre-populated
// with image (a ROM/flash dump no longer than length).
func NewMemory(length uint64, image []byte) *Memory {
	m := &Memory{
		length: length,
		pages:  make(map[uint64][]byte),
	}
	if len(image) > 0 {
		m.image = make([]byte, len(image))
		copy(m.image, image)
		m.loadImage()
	}
	return m
}

func (m *Memory) loadImage() {
	for off := 0; off < len(m.image); off += PageSize {
		end := off + PageSize
		if end > len(m.image) {
			end = len(m.image)
		}
		page := m.allocPage(uint64(off) >> PageBits)
		copy(page, m.image[off:end])
	}
}

// SetDirtyHook installs the callback invoked on every write.
func (m *Memory) SetDirtyHook(fn func(localPageIndex uint64)) { m.onDirty = fn }

func (m *Memory) allocPage(pageIndex uint64) []byte {
	page := make([]byte, PageSize)
	m.pages[pageIndex] = page
	return page
}

func (m *Memory) pageLookup(pageIndex uint64) ([]byte, bool) {
	if m.hasLast && pageIndex == m.lastPageKey {
		return m.lastPage, true
	}
	p, ok := m.pages[pageIndex]
	if ok {
		m.lastPageKey = pageIndex
		m.lastPage = p
		m.hasLast = true
	}
	return p, ok
}

// Read loads a little-endian 2^sizeLog2-byte value at offset.
func (m *Memory) Read(offset uint64, sizeLog2 uint) (uint64, bool) {
	size := uint64(1) << sizeLog2
	if offset+size > m.length {
		return 0, false
	}
	pageIndex := offset >> PageBits
	pageOff := offset & (PageSize - 1)
	page, ok := m.pageLookup(pageIndex)
	if !ok {
		return 0, true // untouched page reads as all-zero
	}
	return readLE(page[pageOff:pageOff+size], sizeLog2), true
}

// Write stores a little-endian 2^sizeLog2-byte value at offset,
// allocating the backing page on first touch.
func (m *Memory) Write(offset uint64, value uint64, sizeLog2 uint) bool {
	size := uint64(1) << sizeLog2
	if offset+size > m.length {
		return false
	}
	pageIndex := offset >> PageBits
	pageOff := offset & (PageSize - 1)
	page, ok := m.pageLookup(pageIndex)
	if !ok {
		page = m.allocPage(pageIndex)
		m.lastPageKey = pageIndex
		m.lastPage = page
		m.hasLast = true
	}
	writeLE(page[pageOff:pageOff+size], value, sizeLog2)
	if m.onDirty != nil {
		m.onDirty(pageIndex)
	}
	return true
}

// WriteBytes copies dat into the backing store starting at offset,
// for host-driven write_memory/replace_memory_range calls (spec.md
// §6) that are not naturally aligned power-of-two accesses.
func (m *Memory) WriteBytes(offset uint64, dat []byte) bool {
	if offset+uint64(len(dat)) > m.length {
		return false
	}
	for len(dat) > 0 {
		pageIndex := offset >> PageBits
		pageOff := offset & (PageSize - 1)
		page, ok := m.pageLookup(pageIndex)
		if !ok {
			page = m.allocPage(pageIndex)
		}
		n := copy(page[pageOff:], dat)
		if m.onDirty != nil {
			m.onDirty(pageIndex)
		}
		dat = dat[n:]
		offset += uint64(n)
	}
	return true
}

// ReadBytes copies length bytes starting at offset into a fresh
// slice, for host-driven read_memory.
func (m *Memory) ReadBytes(offset, length uint64) ([]byte, bool) {
	if offset+length > m.length {
		return nil, false
	}
	out := make([]byte, length)
	remaining := length
	pos := uint64(0)
	for remaining > 0 {
		pageIndex := (offset + pos) >> PageBits
		pageOff := (offset + pos) & (PageSize - 1)
		n := PageSize - pageOff
		if n > remaining {
			n = remaining
		}
		if page, ok := m.pageLookup(pageIndex); ok {
			copy(out[pos:pos+n], page[pageOff:pageOff+n])
		}
		pos += n
		remaining -= n
	}
	return out, true
}

// PeekPage returns the raw PageSize bytes at the given local page
// index without allocating it, for Merkle hashing.
func (m *Memory) PeekPage(pageIndex uint64) ([]byte, bool) {
	return m.pageLookup(pageIndex)
}

// AllocatedPages lists the local page indices currently materialized.
func (m *Memory) AllocatedPages() []uint64 {
	out := make([]uint64, 0, len(m.pages))
	for idx := range m.pages {
		out = append(out, idx)
	}
	return out
}

// Reset discards all allocated pages and, if an initial image was
// supplied, reloads it.
func (m *Memory) Reset() {
	m.pages = make(map[uint64][]byte)
	m.hasLast = false
	if len(m.image) > 0 {
		m.loadImage()
	}
}

func readLE(b []byte, sizeLog2 uint) uint64 {
	switch sizeLog2 {
	case 0:
		return uint64(b[0])
	case 1:
		return uint64(binary.LittleEndian.Uint16(b))
	case 2:
		return uint64(binary.LittleEndian.Uint32(b))
	case 3:
		return binary.LittleEndian.Uint64(b)
	default:
		panic("pma: unsupported access size")
	}
}

func writeLE(b []byte, value uint64, sizeLog2 uint) {
	switch sizeLog2 {
	case 0:
		b[0] = byte(value)
	case 1:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 2:
		binary.LittleEndian.PutUint32(b, uint32(value))
	case 3:
		binary.LittleEndian.PutUint64(b, value)
	default:
		panic("pma: unsupported access size")
	}
}
