package medium

import (
	"fmt"
	"net"
	"time"

	"rawsim/internal/clock"
	"rawsim/internal/dot11"
)

// DefaultQueueCapacity bounds an access queue when no capacity is given.
const DefaultQueueCapacity = 400

// QueueConfig configures an AccessQueue.
type QueueConfig struct {
	Name     string
	Owner    net.HardwareAddr
	Rate     uint64 // bit/s used to derive airtime
	Capacity int
	OnError  func(error)
}

type queued struct {
	frame      *dot11.Frame
	enqueuedAt time.Duration
}

// AccessQueue is a FIFO that sends frames onto the medium one at a time,
// and only while contention is allowed.
type AccessQueue struct {
	name     string
	owner    net.HardwareAddr
	rate     uint64
	capacity int
	clock    clock.Clock
	medium   *Medium
	onError  func(error)

	allowed   bool
	busy      bool
	items     []queued
	rawStarts int
	dropped   int
	sent      int

	// OnTransmit is called when a frame leaves the queue, optional.
	OnTransmit func(f *dot11.Frame, enqueuedAt, sentAt time.Duration)
}

// NewAccessQueue creates a queue attached to m. Queues start closed.
func NewAccessQueue(clk clock.Clock, m *Medium, cfg QueueConfig) *AccessQueue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultQueueCapacity
	}
	if cfg.Rate == 0 {
		cfg.Rate = 6000000
	}
	onError := cfg.OnError
	if onError == nil {
		onError = m.onError
	}
	return &AccessQueue{
		name:     cfg.Name,
		owner:    cfg.Owner,
		rate:     cfg.Rate,
		capacity: cfg.Capacity,
		clock:    clk,
		medium:   m,
		onError:  onError,
	}
}

// Name returns the queue label.
func (q *AccessQueue) Name() string { return q.name }

// Enqueue appends f, dropping it when the queue is full.
func (q *AccessQueue) Enqueue(f *dot11.Frame) {
	if len(q.items) >= q.capacity {
		q.dropped++
		return
	}
	q.items = append(q.items, queued{frame: f, enqueuedAt: q.clock.Now()})
	q.kick()
}

// SetContentionAllowed opens or closes the queue.
func (q *AccessQueue) SetContentionAllowed(allowed bool) {
	if q.allowed == allowed {
		return
	}
	q.allowed = allowed
	q.kick()
}

// OnRawWindowStart marks the start of a RAW window.
func (q *AccessQueue) OnRawWindowStart() {
	q.rawStarts++
}

// Len returns the number of waiting frames.
func (q *AccessQueue) Len() int { return len(q.items) }

// Allowed reports whether the queue may transmit.
func (q *AccessQueue) Allowed() bool { return q.allowed }

// RawStarts returns how many RAW windows the queue was told about.
func (q *AccessQueue) RawStarts() int { return q.rawStarts }

// Dropped returns the number of frames refused for lack of room.
func (q *AccessQueue) Dropped() int { return q.dropped }

// Sent returns the number of frames put on the air.
func (q *AccessQueue) Sent() int { return q.sent }

// Airtime returns how long size bytes occupy the medium.
func (q *AccessQueue) Airtime(size int) time.Duration {
	return time.Duration(uint64(size) * 8 * uint64(time.Second) / q.rate)
}

func (q *AccessQueue) kick() {
	var (
		it   queued
		data []byte
	)
	for {
		if !q.allowed || q.busy || len(q.items) == 0 {
			return
		}
		it = q.items[0]
		q.items[0] = queued{}
		q.items = q.items[1:]

		var err error
		if data, err = dot11.EncodeFrame(it.frame); err == nil {
			break
		}
		// The frame is lost; the rest of the queue keeps moving.
		q.onError(fmt.Errorf("queue %s: %w", q.name, err))
	}
	airtime := q.Airtime(len(data))
	q.busy = true
	q.sent++
	q.medium.Transmit(q.owner, data, airtime)
	if q.OnTransmit != nil {
		q.OnTransmit(it.frame, it.enqueuedAt, q.clock.Now())
	}
	q.clock.Schedule(airtime, func() {
		q.busy = false
		q.kick()
	})
}
