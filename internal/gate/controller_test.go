package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawsim/internal/clock"
	"rawsim/internal/dot11"
	"rawsim/internal/raw"
	"rawsim/pkg/types"
)

type fakeQueue struct {
	allowed   bool
	toggles   int
	rawStarts int
	frames    []*dot11.Frame
}

func (q *fakeQueue) Enqueue(f *dot11.Frame) { q.frames = append(q.frames, f) }
func (q *fakeQueue) SetContentionAllowed(allowed bool) {
	if q.allowed != allowed {
		q.toggles++
	}
	q.allowed = allowed
}
func (q *fakeQueue) OnRawWindowStart() { q.rawStarts++ }
func (q *fakeQueue) Len() int          { return len(q.frames) }

type fakeQueues struct {
	dcf, be, bk, vi, vo, ps *fakeQueue
}

func newFakeQueues() (*fakeQueues, Queues) {
	f := &fakeQueues{&fakeQueue{}, &fakeQueue{}, &fakeQueue{}, &fakeQueue{}, &fakeQueue{}, &fakeQueue{}}
	return f, Queues{DCF: f.dcf, BE: f.be, BK: f.bk, VI: f.vi, VO: f.vo, PSPoll: f.ps}
}

func (f *fakeQueues) normalAllowed() []bool {
	return []bool{f.dcf.allowed, f.be.allowed, f.bk.allowed, f.vi.allowed, f.vo.allowed}
}

func allEqual(v bool) []bool { return []bool{v, v, v, v, v} }

func newTestController(t *testing.T) (*clock.Scheduler, *fakeQueues, *Controller, *[]Phase) {
	t.Helper()
	sched := clock.NewScheduler()
	fq, queues := newFakeQueues()
	var phases []Phase
	c, err := NewController(sched, queues, Config{
		OnPhase: func(_ types.AID, _, to Phase) { phases = append(phases, to) },
	})
	require.NoError(t, err)
	return sched, fq, c, &phases
}

func computeFor(t *testing.T, a *dot11.RAWAssignment, aid types.AID, gen uint64) raw.Schedule {
	t.Helper()
	s, err := raw.Compute(raw.Input{Assignment: a, Generation: gen}, aid, raw.SendHistoryAssigner{History: raw.NewSendHistory()})
	require.NoError(t, err)
	return s
}

func scenarioAssignment() *dot11.RAWAssignment {
	return &dot11.RAWAssignment{
		RawType:        1,
		Slot:           dot11.SlotDefinition{Count: 2},
		Page:           0,
		StartAID:       10,
		EndAID:         20,
		SlotDurationMs: 50,
	}
}

func TestController_StartsUnassociated(t *testing.T) {
	_, fq, c, _ := newTestController(t)
	assert.Equal(t, Unassociated, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())
	assert.False(t, fq.ps.allowed)
}

func TestController_SlotTimeline(t *testing.T) {
	sched, fq, c, phases := newTestController(t)
	s := computeFor(t, scenarioAssignment(), 15, 1)
	require.Equal(t, 50*time.Millisecond, s.SlotOffset)

	c.OnBeacon(s, 15, false)
	assert.Equal(t, InGroupActive, c.Phase())
	assert.Equal(t, allEqual(false), fq.normalAllowed())
	assert.True(t, c.UnwindPending())
	assert.True(t, c.SlotPending())

	require.NoError(t, sched.RunUntil(49*time.Millisecond))
	assert.Equal(t, allEqual(false), fq.normalAllowed())

	require.NoError(t, sched.RunUntil(50*time.Millisecond))
	assert.Equal(t, SlotActive, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())
	assert.True(t, fq.ps.allowed)
	assert.Equal(t, 1, fq.be.rawStarts)

	require.NoError(t, sched.RunUntil(99*time.Millisecond))
	assert.Equal(t, allEqual(true), fq.normalAllowed())

	require.NoError(t, sched.RunUntil(100*time.Millisecond))
	assert.Equal(t, OutsideRaw, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())
	assert.False(t, c.UnwindPending())
	assert.False(t, c.SlotPending())

	assert.Equal(t, []Phase{InGroupActive, SlotActive, OutsideRaw}, *phases)
}

func TestController_SlotBackoffBeforeUnwind(t *testing.T) {
	sched, fq, c, phases := newTestController(t)
	a := scenarioAssignment()
	a.Slot.Count = 4
	a.SlotDurationMs = 20
	s := computeFor(t, a, 15, 1)
	require.Equal(t, 20*time.Millisecond, s.SlotOffset)
	require.Equal(t, 80*time.Millisecond, s.RawDuration)

	c.OnBeacon(s, 15, false)
	require.NoError(t, sched.RunUntil(20*time.Millisecond))
	assert.Equal(t, SlotActive, c.Phase())

	require.NoError(t, sched.RunUntil(40*time.Millisecond))
	assert.Equal(t, SlotBackoff, c.Phase())
	assert.Equal(t, allEqual(false), fq.normalAllowed())

	require.NoError(t, sched.RunUntil(80*time.Millisecond))
	assert.Equal(t, OutsideRaw, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())
	assert.Equal(t, []Phase{InGroupActive, SlotActive, SlotBackoff, OutsideRaw}, *phases)
}

func TestController_SlotZeroStartsImmediately(t *testing.T) {
	sched, fq, c, _ := newTestController(t)
	h := raw.NewSendHistory()
	h.RecordSent(15)
	s, err := raw.Compute(raw.Input{Assignment: scenarioAssignment()}, 15, raw.SendHistoryAssigner{History: h})
	require.NoError(t, err)

	c.OnBeacon(s, 15, false)
	assert.Equal(t, SlotActive, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())

	require.NoError(t, sched.RunUntil(50*time.Millisecond))
	assert.Equal(t, SlotBackoff, c.Phase())
	require.NoError(t, sched.RunUntil(100*time.Millisecond))
	assert.Equal(t, OutsideRaw, c.Phase())
}

func TestController_OutOfGroup(t *testing.T) {
	sched, fq, c, _ := newTestController(t)
	a := scenarioAssignment()
	a.Page = 1
	s := computeFor(t, a, 30, 1)
	require.False(t, s.InGroup)

	c.OnBeacon(s, 30, false)
	assert.Equal(t, OutGroup, c.Phase())
	assert.Equal(t, allEqual(false), fq.normalAllowed())
	assert.False(t, fq.ps.allowed)
	assert.False(t, c.SlotPending())

	require.NoError(t, sched.RunUntil(99*time.Millisecond))
	assert.Equal(t, allEqual(false), fq.normalAllowed())

	require.NoError(t, sched.RunUntil(100*time.Millisecond))
	assert.Equal(t, OutsideRaw, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())
}

func TestController_UnassociatedBypassesRAW(t *testing.T) {
	sched, fq, c, _ := newTestController(t)
	s := computeFor(t, scenarioAssignment(), types.AIDUnassociated, 1)

	c.OnBeacon(s, types.AIDUnassociated, false)
	assert.Equal(t, Unassociated, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())
	assert.False(t, c.UnwindPending())
	assert.False(t, c.SlotPending())
	assert.Equal(t, 0, sched.Pending())
}

func TestController_PagedWaiting(t *testing.T) {
	sched, fq, c, _ := newTestController(t)
	a := scenarioAssignment()
	a.RawType = dot11.RawTypeGeneric
	s := computeFor(t, a, 15, 1)

	c.OnBeacon(s, 15, false)
	assert.Equal(t, PagedWaiting, c.Phase())
	assert.True(t, fq.ps.allowed)
	assert.Equal(t, allEqual(false), fq.normalAllowed())
	assert.Equal(t, 1, fq.ps.rawStarts)
	assert.False(t, c.SlotPending())

	require.NoError(t, sched.RunUntil(100*time.Millisecond))
	assert.Equal(t, OutsideRaw, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())
}

func TestController_PagedWithDataContendsInSlot(t *testing.T) {
	_, _, c, _ := newTestController(t)
	a := scenarioAssignment()
	a.RawType = dot11.RawTypeGeneric
	s := computeFor(t, a, 15, 1)

	c.OnBeacon(s, 15, true)
	assert.Equal(t, InGroupActive, c.Phase())
	assert.True(t, c.SlotPending())
}

func TestController_StandardSlotSuppressesTimers(t *testing.T) {
	sched, fq, c, _ := newTestController(t)
	a := scenarioAssignment()
	a.Slot.Count = 1
	a.SlotDurationMs = 100
	h := raw.NewSendHistory()
	h.RecordSent(15)
	s, err := raw.Compute(raw.Input{Assignment: a}, 15, raw.SendHistoryAssigner{History: h})
	require.NoError(t, err)

	c.OnBeacon(s, 15, false)
	assert.Equal(t, SlotActive, c.Phase())
	assert.False(t, c.UnwindPending())
	assert.False(t, c.SlotPending())

	require.NoError(t, sched.RunUntil(time.Second))
	assert.Equal(t, SlotActive, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())
}

func TestController_NewBeaconSupersedesOldWindow(t *testing.T) {
	sched, fq, c, _ := newTestController(t)
	s := computeFor(t, scenarioAssignment(), 15, 1)
	c.OnBeacon(s, 15, false)

	require.NoError(t, sched.RunUntil(30*time.Millisecond))
	out := scenarioAssignment()
	out.StartAID, out.EndAID = 100, 200
	s2 := computeFor(t, out, 15, 2)
	c.OnBeacon(s2, 15, false)
	assert.Equal(t, OutGroup, c.Phase())

	// the old slot start at 50ms and unwind at 100ms must not fire
	require.NoError(t, sched.RunUntil(129*time.Millisecond))
	assert.Equal(t, OutGroup, c.Phase())
	assert.Equal(t, allEqual(false), fq.normalAllowed())

	require.NoError(t, sched.RunUntil(130*time.Millisecond))
	assert.Equal(t, OutsideRaw, c.Phase())
	assert.Equal(t, uint64(2), c.Generation())
}

func TestController_SetAllowedIsIdempotent(t *testing.T) {
	sched, fq, c, _ := newTestController(t)
	a := scenarioAssignment()
	a.Page = 1
	s := computeFor(t, a, 30, 1)

	c.OnBeacon(s, 30, false)
	require.NoError(t, sched.RunUntil(100*time.Millisecond))
	toggles := fq.be.toggles
	c.setAll(true)
	c.setAll(true)
	assert.Equal(t, toggles, fq.be.toggles)
	assert.True(t, fq.be.allowed)
}

func TestController_NoRAWOpensQueues(t *testing.T) {
	_, fq, c, _ := newTestController(t)
	c.OnBeacon(raw.Schedule{}, 15, false)
	assert.Equal(t, OutsideRaw, c.Phase())
	assert.Equal(t, allEqual(true), fq.normalAllowed())
	assert.True(t, fq.ps.allowed)
}

func TestController_RecordsInsideBackoff(t *testing.T) {
	sched := clock.NewScheduler()
	_, queues := newFakeQueues()
	h := raw.NewSendHistory()
	c, err := NewController(sched, queues, Config{History: h})
	require.NoError(t, err)

	a := scenarioAssignment()
	a.Slot.Count = 4
	a.SlotDurationMs = 20
	s := computeFor(t, a, 15, 1)
	c.OnBeacon(s, 15, false)

	require.NoError(t, sched.RunUntil(20*time.Millisecond))
	assert.False(t, h.InsideBackoff(15))
	require.NoError(t, sched.RunUntil(40*time.Millisecond))
	assert.True(t, h.InsideBackoff(15))
}

func TestNewController_RejectsMissingQueue(t *testing.T) {
	_, queues := newFakeQueues()
	queues.VO = nil
	_, err := NewController(clock.NewScheduler(), queues, Config{})
	assert.Error(t, err)
}

func TestController_StandardSlotMatchedOnSlotDuration(t *testing.T) {
	_, _, c, _ := newTestController(t)
	a := scenarioAssignment()
	a.SlotDurationMs = 100
	s := computeFor(t, a, 15, 1)
	require.Equal(t, 200*time.Millisecond, s.RawDuration)

	c.OnBeacon(s, 15, false)
	assert.False(t, c.UnwindPending(), "standard-length slots never unwind")

	// Two 50ms slots add up to the standard length but are still shortened slots.
	s = computeFor(t, scenarioAssignment(), 15, 2)
	require.Equal(t, DefaultStandardSlot, s.RawDuration)
	c.OnBeacon(s, 15, false)
	assert.True(t, c.UnwindPending())
}
