package clock

import (
	"container/heap"
	"errors"
	"time"
)

// ErrStopped is returned by Run when Stop was called before the horizon.
var ErrStopped = errors.New("scheduler stopped")

// Clock is the simulated time source and callback scheduler the MAC runs on.
type Clock interface {
	Now() time.Duration
	Schedule(delay time.Duration, fn func()) *Timer
	ScheduleAt(at time.Duration, fn func()) *Timer
}

// Timer is a handle to one scheduled callback.
type Timer struct {
	at       time.Duration
	seq      uint64
	fn       func()
	index    int
	canceled bool
	fired    bool
}

// Cancel removes the callback if it has not run yet. Canceling a fired or
// already-canceled timer is a no-op.
func (t *Timer) Cancel() {
	if t == nil || t.fired || t.canceled {
		return
	}
	t.canceled = true
	t.fn = nil
}

// Pending reports whether the callback is still due to run.
func (t *Timer) Pending() bool {
	return t != nil && !t.fired && !t.canceled
}

// When returns the simulated instant the timer was armed for.
func (t *Timer) When() time.Duration {
	return t.at
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].at == h[j].at {
		return h[i].seq < h[j].seq
	}
	return h[i].at < h[j].at
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is a single-threaded discrete-event scheduler. Callbacks due at
// the same instant run in the order they were scheduled.
type Scheduler struct {
	now     time.Duration
	seq     uint64
	queue   timerHeap
	err     error
	stopped bool
}

// NewScheduler creates a scheduler positioned at simulated time zero.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Now returns the current simulated time.
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// Schedule arms fn to run after delay. Negative delays run at the current instant.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Timer {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(s.now+delay, fn)
}

// ScheduleAt arms fn to run at the given instant. Instants in the past are
// clamped to now.
func (s *Scheduler) ScheduleAt(at time.Duration, fn func()) *Timer {
	if at < s.now {
		at = s.now
	}
	s.seq++
	t := &Timer{at: at, seq: s.seq, fn: fn}
	heap.Push(&s.queue, t)
	return t
}

// Cancel is the free-function form of Timer.Cancel.
func (s *Scheduler) Cancel(t *Timer) {
	t.Cancel()
}

// Fail aborts the run with err. The first failure wins.
func (s *Scheduler) Fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Stop ends the run after the current callback returns.
func (s *Scheduler) Stop() {
	s.stopped = true
}

// Pending returns the number of live timers.
func (s *Scheduler) Pending() int {
	n := 0
	for _, t := range s.queue {
		if t.Pending() {
			n++
		}
	}
	return n
}

// Step runs the next live callback. It returns false when nothing is left.
func (s *Scheduler) Step() bool {
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*Timer)
		if t.canceled {
			continue
		}
		s.now = t.at
		t.fired = true
		fn := t.fn
		t.fn = nil
		fn()
		return true
	}
	return false
}

// RunUntil executes callbacks due at or before horizon and leaves the clock
// at horizon. It returns the first error reported through Fail.
func (s *Scheduler) RunUntil(horizon time.Duration) error {
	for s.err == nil && !s.stopped {
		next, ok := s.peek()
		if !ok || next.at > horizon {
			break
		}
		s.Step()
	}
	if s.err != nil {
		return s.err
	}
	if s.stopped {
		return ErrStopped
	}
	if s.now < horizon {
		s.now = horizon
	}
	return nil
}

// Advance runs the clock forward by d.
func (s *Scheduler) Advance(d time.Duration) error {
	return s.RunUntil(s.now + d)
}

func (s *Scheduler) peek() (*Timer, bool) {
	for s.queue.Len() > 0 {
		t := s.queue[0]
		if !t.canceled {
			return t, true
		}
		heap.Pop(&s.queue)
	}
	return nil, false
}
