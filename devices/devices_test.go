package devices

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCLINTMTimeDerivesFromMCycle(t *testing.T) {
	cycle := uint64(1000)
	c := NewCLINT(func() uint64 { return cycle }, nil)

	v, ok := c.Read(clintMTime, 3)
	require.True(t, ok)
	require.Equal(t, cycle/100, v)
}

func TestCLINTMTimeIsReadOnly(t *testing.T) {
	c := NewCLINT(func() uint64 { return 0 }, nil)
	require.False(t, c.Write(clintMTime, 5, 3))
}

func TestCLINTMTimecmpArmsTimerInterrupt(t *testing.T) {
	cycle := uint64(500)
	var pending bool
	c := NewCLINT(func() uint64 { return cycle }, func(p bool) { pending = p })

	require.True(t, c.Write(clintMTimecmp, 3, 3)) // mtime=5 >= 3
	require.True(t, pending)
}

func TestHTIFHaltRequest(t *testing.T) {
	var halted bool
	var payload uint64
	h := NewHTIF(false, nil, func(p uint64) { halted = true; payload = p }, nil)

	// device=0 cmd=0 payload=1
	require.True(t, h.Write(htifToHost, 1, 3))
	require.True(t, halted)
	require.Equal(t, uint64(1), payload)
}

func TestHTIFPutChar(t *testing.T) {
	var out []byte
	h := NewHTIF(true, func(b byte) { out = append(out, b) }, nil, nil)

	value := uint64(1)<<56 | uint64(1)<<48 | uint64('A')
	require.True(t, h.Write(htifToHost, value, 3))
	require.Equal(t, []byte{'A'}, out)

	v, _ := h.Read(htifToHost, 3)
	require.Equal(t, uint64(0), v)
	fromhost, _ := h.Read(htifFromHost, 3)
	require.Equal(t, uint64(1)<<56|uint64(1)<<48, fromhost)
}

func TestHTIFYieldInvokesCallback(t *testing.T) {
	var yielded bool
	h := NewHTIF(false, nil, nil, func() { yielded = true })

	value := uint64(2) << 56
	require.True(t, h.Write(htifToHost, value, 3))
	require.True(t, yielded)
}

func TestPLICRaiseSourceSetsExternalInterrupt(t *testing.T) {
	var pending bool
	p := NewPLIC(func(v bool) { pending = v })

	p.RaiseSource(3)
	require.True(t, pending)

	require.True(t, p.Write(plicGirqsrvd, 1<<3, 3))
	require.False(t, pending)
}

func TestVirtIOIdentifiesItself(t *testing.T) {
	v := NewVirtIO(3, 0, nil)

	magic, ok := v.Read(virtioMagicValue, 2)
	require.True(t, ok)
	require.Equal(t, uint64(virtioMagic), magic)

	deviceID, _ := v.Read(virtioDeviceID, 2)
	require.Equal(t, uint64(3), deviceID)
}

func TestVirtIOQueueNotifyInvokesHook(t *testing.T) {
	var notified uint32
	v := NewVirtIO(3, 0, func(q uint32) { notified = q })

	require.True(t, v.Write(virtioQueueNotify, 2, 2))
	require.Equal(t, uint32(2), notified)
}
