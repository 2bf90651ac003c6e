package medium

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawsim/internal/clock"
	"rawsim/internal/dot11"
)

type recordingNode struct {
	addr net.HardwareAddr
	got  []time.Duration
	sch  *clock.Scheduler
	err  error
}

func (n *recordingNode) Address() net.HardwareAddr { return n.addr }
func (n *recordingNode) Deliver(data []byte) error {
	n.got = append(n.got, n.sch.Now())
	return n.err
}

type countingTap struct{ n int }

func (t *countingTap) Capture(time.Duration, []byte) error {
	t.n++
	return nil
}

var (
	addrA = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0a}
	addrB = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0b}
)

func dataFrame() *dot11.Frame {
	return &dot11.Frame{
		Type:  layers.Dot11TypeData,
		Addr1: addrB, Addr2: addrA, Addr3: addrB,
		ToDS:    true,
		Payload: make([]byte, 72),
	}
}

func TestMedium_DeliversToOthersOnly(t *testing.T) {
	sch := clock.NewScheduler()
	m := New(sch, time.Microsecond, sch.Fail)
	a := &recordingNode{addr: addrA, sch: sch}
	b := &recordingNode{addr: addrB, sch: sch}
	m.Attach(a)
	m.Attach(b)
	tap := &countingTap{}
	m.AddTap(tap)

	m.Transmit(addrA, []byte{0x80, 0}, 10*time.Microsecond)
	require.NoError(t, sch.RunUntil(time.Millisecond))

	assert.Empty(t, a.got)
	assert.Equal(t, []time.Duration{11 * time.Microsecond}, b.got)
	assert.Equal(t, 1, tap.n)
}

func TestMedium_DeliveryErrorAbortsRun(t *testing.T) {
	sch := clock.NewScheduler()
	m := New(sch, 0, sch.Fail)
	boom := errors.New("bad frame")
	m.Attach(&recordingNode{addr: addrB, sch: sch, err: boom})

	m.Transmit(addrA, []byte{0x80, 0}, 0)
	assert.ErrorIs(t, sch.RunUntil(time.Second), boom)
}

func TestAccessQueue_HoldsFramesWhileClosed(t *testing.T) {
	sch := clock.NewScheduler()
	m := New(sch, 0, sch.Fail)
	b := &recordingNode{addr: addrB, sch: sch}
	m.Attach(b)
	q := NewAccessQueue(sch, m, QueueConfig{Name: "AC_BE", Owner: addrA, Rate: 8000000})

	var sentAt []time.Duration
	q.OnTransmit = func(_ *dot11.Frame, _, at time.Duration) { sentAt = append(sentAt, at) }

	q.Enqueue(dataFrame())
	q.Enqueue(dataFrame())
	require.NoError(t, sch.RunUntil(10*time.Millisecond))
	assert.Equal(t, 2, q.Len())
	assert.Empty(t, b.got)

	q.SetContentionAllowed(true)
	require.NoError(t, sch.RunUntil(20*time.Millisecond))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 2, q.Sent())
	require.Len(t, sentAt, 2)
	assert.Equal(t, 10*time.Millisecond, sentAt[0])
	// 100 bytes at 8 Mbit/s
	assert.Equal(t, 10*time.Millisecond+100*time.Microsecond, sentAt[1])
	assert.Len(t, b.got, 2)
}

func TestAccessQueue_ClosingStopsNextFrame(t *testing.T) {
	sch := clock.NewScheduler()
	m := New(sch, 0, sch.Fail)
	q := NewAccessQueue(sch, m, QueueConfig{Owner: addrA, Rate: 8000000})
	q.SetContentionAllowed(true)

	q.Enqueue(dataFrame())
	q.Enqueue(dataFrame())
	q.SetContentionAllowed(false)
	require.NoError(t, sch.RunUntil(time.Second))
	assert.Equal(t, 1, q.Sent())
	assert.Equal(t, 1, q.Len())
}

func TestAccessQueue_EncodeFailureDoesNotStall(t *testing.T) {
	sch := clock.NewScheduler()
	m := New(sch, 0, sch.Fail)
	b := &recordingNode{addr: addrB, sch: sch}
	m.Attach(b)
	var errs []error
	q := NewAccessQueue(sch, m, QueueConfig{
		Owner:   addrA,
		OnError: func(err error) { errs = append(errs, err) },
	})

	q.Enqueue(&dot11.Frame{Type: layers.Dot11TypeMgmtBeacon, Addr1: addrB, Addr2: addrA, Addr3: addrA})
	q.Enqueue(dataFrame())
	q.SetContentionAllowed(true)
	require.NoError(t, sch.RunUntil(time.Second))

	require.Len(t, errs, 1)
	assert.Equal(t, 1, q.Sent())
	assert.Equal(t, 0, q.Len())
	assert.Len(t, b.got, 1)
}

func TestAccessQueue_CapacityDrops(t *testing.T) {
	sch := clock.NewScheduler()
	m := New(sch, 0, sch.Fail)
	q := NewAccessQueue(sch, m, QueueConfig{Owner: addrA, Capacity: 1})
	q.Enqueue(dataFrame())
	q.Enqueue(dataFrame())
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, q.Dropped())
}

func TestAccessQueue_SetAllowedIdempotent(t *testing.T) {
	sch := clock.NewScheduler()
	q := NewAccessQueue(sch, New(sch, 0, sch.Fail), QueueConfig{Owner: addrA})
	q.SetContentionAllowed(true)
	q.SetContentionAllowed(true)
	assert.True(t, q.Allowed())
	assert.Equal(t, 0, sch.Pending())

	q.OnRawWindowStart()
	assert.Equal(t, 1, q.RawStarts())
}
