package devices

import "github.com/cartesi/machine/pma"

// virtio-mmio (version 2) register offsets this shim answers. Actual
// backend I/O (disk images, network taps) is out of scope (spec.md
// §1 Non-goals) — only the MMIO control-plane surface and a
// queue-notify callback are implemented; there is no readiness poll
// hook feeding the interpreter's idle wait.
const (
	virtioMagicValue        = 0x000
	virtioVersion           = 0x004
	virtioDeviceID          = 0x008
	virtioVendorID          = 0x00c
	virtioDeviceFeatures    = 0x010
	virtioDeviceFeaturesSel = 0x014
	virtioDriverFeatures    = 0x020
	virtioDriverFeaturesSel = 0x024
	virtioQueueSel          = 0x030
	virtioQueueNumMax       = 0x034
	virtioQueueNum          = 0x038
	virtioQueueReady        = 0x044
	virtioQueueNotify       = 0x050
	virtioInterruptStatus   = 0x060
	virtioInterruptACK      = 0x064
	virtioStatus            = 0x070
	virtioQueueDescLow      = 0x080
	virtioQueueDescHigh     = 0x084
	virtioQueueAvailLow     = 0x090
	virtioQueueAvailHigh    = 0x094
	virtioQueueUsedLow      = 0x0a0
	virtioQueueUsedHigh     = 0x0a4
	virtioConfigGeneration  = 0x0fc

	virtioMagic        = 0x74726976 // "virt"
	virtioTransportV2  = 2
	maxQueuesPerDevice = 8
)

// queueState is the per-queue control-plane state a driver negotiates
// through QueueSel before touching the other Queue* registers.
type queueState struct {
	numMax              uint32
	num                 uint32
	ready               uint32
	descLow, descHigh   uint32
	availLow, availHigh uint32
	usedLow, usedHigh   uint32
}

// VirtIO is a minimal virtio-mmio transport shim: it answers the
// config-space registers any driver probes during device discovery
// and queue setup, and calls a notify hook when the driver kicks a
// queue. No backend is implemented here, and nothing feeds device
// readiness into the interpreter's idle wait.
type VirtIO struct {
	deviceID uint32

	deviceFeatures    [2]uint32
	driverFeatures    [2]uint32
	featuresSel       uint32
	driverFeaturesSel uint32

	queueSel uint32
	queues   [maxQueuesPerDevice]queueState

	interruptStatus uint32
	status          uint32

	// notify is called when the driver kicks a queue (QueueNotify).
	notify func(queueIndex uint32)
}

func NewVirtIO(deviceID uint32, deviceFeatures uint64, notify func(uint32)) *VirtIO {
	v := &VirtIO{deviceID: deviceID, notify: notify}
	v.deviceFeatures[0] = uint32(deviceFeatures)
	v.deviceFeatures[1] = uint32(deviceFeatures >> 32)
	for i := range v.queues {
		v.queues[i].numMax = 256
	}
	return v
}

var _ pma.Driver = (*VirtIO)(nil)

// RaiseInterrupt marks a queue interrupt pending; the owning PLIC
// source bit is raised separately by the machine's device wiring.
func (v *VirtIO) RaiseInterrupt() { v.interruptStatus |= 1 }

func (v *VirtIO) currentQueue() *queueState {
	if v.queueSel >= maxQueuesPerDevice {
		return &v.queues[0]
	}
	return &v.queues[v.queueSel]
}

func (v *VirtIO) Read(offset uint64, sizeLog2 uint) (uint64, bool) {
	if sizeLog2 != 2 {
		return 0, false
	}
	q := v.currentQueue()
	switch offset {
	case virtioMagicValue:
		return virtioMagic, true
	case virtioVersion:
		return virtioTransportV2, true
	case virtioDeviceID:
		return uint64(v.deviceID), true
	case virtioVendorID:
		return 0, true
	case virtioDeviceFeatures:
		return uint64(v.deviceFeatures[v.featuresSel&1]), true
	case virtioQueueNumMax:
		return uint64(q.numMax), true
	case virtioQueueReady:
		return uint64(q.ready), true
	case virtioInterruptStatus:
		return uint64(v.interruptStatus), true
	case virtioStatus:
		return uint64(v.status), true
	case virtioConfigGeneration:
		return 0, true
	default:
		return 0, true // unrecognized but in-range registers read as zero
	}
}

func (v *VirtIO) Write(offset uint64, value uint64, sizeLog2 uint) bool {
	if sizeLog2 != 2 {
		return false
	}
	val := uint32(value)
	q := v.currentQueue()
	switch offset {
	case virtioDeviceFeaturesSel:
		v.featuresSel = val
	case virtioDriverFeatures:
		v.driverFeatures[v.driverFeaturesSel&1] = val
	case virtioDriverFeaturesSel:
		v.driverFeaturesSel = val
	case virtioQueueSel:
		v.queueSel = val
	case virtioQueueNum:
		q.num = val
	case virtioQueueReady:
		q.ready = val
	case virtioQueueNotify:
		if v.notify != nil {
			v.notify(val)
		}
	case virtioInterruptACK:
		v.interruptStatus &^= val
	case virtioStatus:
		v.status = val
	case virtioQueueDescLow:
		q.descLow = val
	case virtioQueueDescHigh:
		q.descHigh = val
	case virtioQueueAvailLow:
		q.availLow = val
	case virtioQueueAvailHigh:
		q.availHigh = val
	case virtioQueueUsedLow:
		q.usedLow = val
	case virtioQueueUsedHigh:
		q.usedHigh = val
	default:
		return true // unrecognized but in-range registers ignore writes
	}
	return true
}

func (v *VirtIO) Peek(pageOffset uint64) ([]byte, bool) {
	if pageOffset != 0 {
		return nil, false
	}
	page := make([]byte, pma.PageSize)
	putLE32(page[virtioMagicValue:], virtioMagic)
	putLE32(page[virtioVersion:], virtioTransportV2)
	putLE32(page[virtioDeviceID:], v.deviceID)
	putLE32(page[virtioStatus:], v.status)
	putLE32(page[virtioInterruptStatus:], v.interruptStatus)
	return page, true
}

func (v *VirtIO) Reset() {
	v.status = 0
	v.interruptStatus = 0
	v.queueSel = 0
	for i := range v.queues {
		v.queues[i] = queueState{numMax: 256}
	}
}

func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getLE32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}
