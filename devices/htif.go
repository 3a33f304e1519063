package devices

import "github.com/cartesi/machine/pma"

const (
	htifToHost   = 0x00
	htifFromHost = 0x08
)

// HTIF is the host-target interface: a doorbell register pair the
// guest writes to request host services (halt, console I/O, yield),
// per spec.md §4.E.
type HTIF struct {
	tohost, fromhost uint64

	// ihalt/iconsole/iyield are the permission bitmasks spec.md's
	// device sub-state lists, gating which requests are honored.
	ihalt, iconsole, iyield uint64

	interactive bool
	putChar     func(b byte)

	setHalt  func(payload uint64)
	setYield func()
}

func NewHTIF(interactive bool, putChar func(byte), setHalt func(uint64), setYield func()) *HTIF {
	return &HTIF{
		interactive: interactive,
		putChar:     putChar,
		setHalt:     setHalt,
		setYield:    setYield,
		ihalt:       1,
		iconsole:    1,
		iyield:      1,
	}
}

var _ pma.Driver = (*HTIF)(nil)

func (h *HTIF) Read(offset uint64, sizeLog2 uint) (uint64, bool) {
	if sizeLog2 != 3 {
		return 0, false
	}
	switch offset {
	case htifToHost:
		return h.tohost, true
	case htifFromHost:
		return h.fromhost, true
	default:
		return 0, false
	}
}

func (h *HTIF) Write(offset uint64, value uint64, sizeLog2 uint) bool {
	if sizeLog2 != 3 {
		return false
	}
	switch offset {
	case htifToHost:
		h.writeToHost(value)
		return true
	case htifFromHost:
		h.fromhost = value
		return true
	default:
		return false
	}
}

// writeToHost decodes device:8 | cmd:8 | payload:48 and dispatches
// the request, per spec.md §4.E's literal protocol.
func (h *HTIF) writeToHost(value uint64) {
	device := byte(value >> 56)
	cmd := byte(value >> 48)
	payload := value & ((uint64(1) << 48) - 1)

	switch {
	case device == 0 && cmd == 0:
		if h.ihalt != 0 && payload&1 != 0 && h.setHalt != nil {
			h.setHalt(payload)
		}
		h.tohost = value
	case device == 1 && cmd == 1:
		if h.iconsole != 0 {
			if h.interactive && h.putChar != nil {
				h.putChar(byte(payload))
			}
			h.tohost = 0
			h.fromhost = (uint64(1) << 56) | (uint64(1) << 48)
		}
	case device == 1 && cmd == 0:
		h.tohost = 0
		// fromhost is filled by a later console poll, not here.
	case device == 2:
		if h.iyield != 0 {
			h.tohost = value
			if h.setYield != nil {
				h.setYield()
			}
		}
	default:
		h.tohost = value
	}
}

// PollConsole fills fromhost with a pending getchar byte, completing
// a (1,0) request. Called by the machine's idle/poll loop, never from
// Write itself (spec.md §4.E: "console poll fills fromhost").
func (h *HTIF) PollConsole(b byte, available bool) {
	if !available {
		return
	}
	h.fromhost = (uint64(1) << 56) | uint64(b)
}

func (h *HTIF) Peek(pageOffset uint64) ([]byte, bool) {
	if pageOffset != 0 {
		return nil, false
	}
	page := make([]byte, pma.PageSize)
	putLE64(page[htifToHost:], h.tohost)
	putLE64(page[htifFromHost:], h.fromhost)
	return page, true
}

func (h *HTIF) Reset() {
	h.tohost = 0
	h.fromhost = 0
}
