package stats

import (
	"sort"
	"sync"
	"time"

	"rawsim/pkg/types"
)

// FrameTypeStats holds per-frame-type counters.
type FrameTypeStats struct {
	Transmitted uint64
	Bytes       uint64
}

// Collector aggregates simulation statistics. A reporter goroutine may read
// snapshots while the simulation runs, hence the lock.
type Collector struct {
	StartTime   time.Time
	EndTime     time.Time
	SimDuration time.Duration

	FrameStats map[string]*FrameTypeStats

	Associations    uint64
	Deassociations  uint64
	Refusals        uint64
	AssocLatencies  []time.Duration
	AssociatedNow   uint64
	GatePhaseCounts map[string]uint64

	Generated      uint64
	TxDropped      uint64
	QueueDropped   uint64
	Delivered      uint64
	DeliveredBytes uint64
	DeliveryDelays []time.Duration
	AccessDelays   []time.Duration
	RxDrops        map[string]uint64

	metrics *Metrics
	mu      sync.Mutex
}

// NewCollector creates a new statistics collector.
func NewCollector() *Collector {
	return &Collector{
		StartTime:       time.Now(),
		FrameStats:      make(map[string]*FrameTypeStats),
		GatePhaseCounts: make(map[string]uint64),
		RxDrops:         make(map[string]uint64),
	}
}

// WithMetrics mirrors every recorded event into m.
func (c *Collector) WithMetrics(m *Metrics) *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
	return c
}

func (c *Collector) getOrCreate(frameType string) *FrameTypeStats {
	if _, ok := c.FrameStats[frameType]; !ok {
		c.FrameStats[frameType] = &FrameTypeStats{}
	}
	return c.FrameStats[frameType]
}

// RecordFrame records a frame put on the air.
func (c *Collector) RecordFrame(frameType string, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.getOrCreate(frameType)
	s.Transmitted++
	s.Bytes += uint64(size)
	if c.metrics != nil {
		c.metrics.FramesTotal.WithLabelValues(frameType).Inc()
	}
}

// RecordAssociated records a link-up edge and the time it took to get there.
func (c *Collector) RecordAssociated(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Associations++
	c.AssociatedNow++
	c.AssocLatencies = append(c.AssocLatencies, latency)
	if c.metrics != nil {
		c.metrics.LinkEventsTotal.WithLabelValues("up").Inc()
		c.metrics.AssociationLatency.Observe(latency.Seconds())
	}
}

// RecordDeassociated records a link-down edge.
func (c *Collector) RecordDeassociated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deassociations++
	if c.AssociatedNow > 0 {
		c.AssociatedNow--
	}
	if c.metrics != nil {
		c.metrics.LinkEventsTotal.WithLabelValues("down").Inc()
	}
}

// RecordRefused records a refused association.
func (c *Collector) RecordRefused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Refusals++
	if c.metrics != nil {
		c.metrics.LinkEventsTotal.WithLabelValues("refused").Inc()
	}
}

// RecordGatePhase counts an entry into a gate phase.
func (c *Collector) RecordGatePhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GatePhaseCounts[phase]++
	if c.metrics != nil {
		c.metrics.GatePhaseTotal.WithLabelValues(phase).Inc()
	}
}

// RecordGenerated counts a payload produced by a traffic source.
func (c *Collector) RecordGenerated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Generated++
	if c.metrics != nil {
		c.metrics.DataTotal.WithLabelValues("generated").Inc()
	}
}

// RecordTxDrop counts a payload refused by an unassociated station.
func (c *Collector) RecordTxDrop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TxDropped++
	if c.metrics != nil {
		c.metrics.DataTotal.WithLabelValues("dropped_unassociated").Inc()
	}
}

// RecordQueueDrops adds frames dropped by full access queues.
func (c *Collector) RecordQueueDrops(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.QueueDropped += uint64(n)
	if c.metrics != nil && n > 0 {
		c.metrics.DataTotal.WithLabelValues("dropped_queue_full").Add(float64(n))
	}
}

// RecordAccessDelay records how long a frame waited in its access queue.
func (c *Collector) RecordAccessDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccessDelays = append(c.AccessDelays, d)
	if c.metrics != nil {
		c.metrics.AccessDelay.Observe(d.Seconds())
	}
}

// RecordDelivery records an uplink frame accepted by the access point.
func (c *Collector) RecordDelivery(rec types.DeliveryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Delivered++
	c.DeliveredBytes += uint64(rec.Size)
	c.DeliveryDelays = append(c.DeliveryDelays, rec.ReceivedAt-rec.GeneratedAt)
	if c.metrics != nil {
		c.metrics.DataTotal.WithLabelValues("delivered").Inc()
	}
}

// RecordRxDrop counts a frame discarded by a receiver.
func (c *Collector) RecordRxDrop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RxDrops[reason]++
}

// Finish marks the end of the collection period.
func (c *Collector) Finish(simDuration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
	c.SimDuration = simDuration
}

// Duration returns the elapsed wall time.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// TotalFrames returns the number of frames put on the air.
func (c *Collector) TotalFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, s := range c.FrameStats {
		total += s.Transmitted
	}
	return total
}

// LossRatio is the share of generated payloads that never reached the
// access point.
func (c *Collector) LossRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Generated == 0 {
		return 0
	}
	lost := float64(c.Generated) - float64(c.Delivered)
	if lost < 0 {
		lost = 0
	}
	return lost / float64(c.Generated)
}

// DurationStats returns min, avg, max and p99 of ds.
func DurationStats(ds []time.Duration) (min, avg, max, p99 time.Duration) {
	if len(ds) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]time.Duration, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	avg = total / time.Duration(len(sorted))

	p99Idx := int(float64(len(sorted)) * 0.99)
	if p99Idx >= len(sorted) {
		p99Idx = len(sorted) - 1
	}
	p99 = sorted[p99Idx]
	return
}

// Snapshot returns a copy of the current statistics.
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Collector{
		StartTime:       c.StartTime,
		EndTime:         c.EndTime,
		SimDuration:     c.SimDuration,
		FrameStats:      make(map[string]*FrameTypeStats, len(c.FrameStats)),
		Associations:    c.Associations,
		Deassociations:  c.Deassociations,
		Refusals:        c.Refusals,
		AssocLatencies:  append([]time.Duration(nil), c.AssocLatencies...),
		AssociatedNow:   c.AssociatedNow,
		GatePhaseCounts: make(map[string]uint64, len(c.GatePhaseCounts)),
		Generated:       c.Generated,
		TxDropped:       c.TxDropped,
		QueueDropped:    c.QueueDropped,
		Delivered:       c.Delivered,
		DeliveredBytes:  c.DeliveredBytes,
		DeliveryDelays:  append([]time.Duration(nil), c.DeliveryDelays...),
		AccessDelays:    append([]time.Duration(nil), c.AccessDelays...),
		RxDrops:         make(map[string]uint64, len(c.RxDrops)),
	}
	for k, v := range c.FrameStats {
		snap.FrameStats[k] = &FrameTypeStats{Transmitted: v.Transmitted, Bytes: v.Bytes}
	}
	for k, v := range c.GatePhaseCounts {
		snap.GatePhaseCounts[k] = v
	}
	for k, v := range c.RxDrops {
		snap.RxDrops[k] = v
	}
	return snap
}
