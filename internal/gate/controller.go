package gate

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"rawsim/internal/clock"
	"rawsim/internal/raw"
	"rawsim/pkg/types"
)

// DefaultStandardSlot is the slot duration that stands for an un-shortened
// beacon interval. Windows announced with it arm no unwind or slot-end timer.
const DefaultStandardSlot = 100 * time.Millisecond

// Phase is where the station stands within the current RAW window.
type Phase int

const (
	Unassociated Phase = iota
	PagedWaiting
	InGroupActive
	SlotActive
	SlotBackoff
	OutGroup
	OutsideRaw
)

func (p Phase) String() string {
	switch p {
	case Unassociated:
		return "Unassociated"
	case PagedWaiting:
		return "PagedWaiting"
	case InGroupActive:
		return "InGroupActive"
	case SlotActive:
		return "SlotActive"
	case SlotBackoff:
		return "SlotBackoff"
	case OutGroup:
		return "OutGroup"
	case OutsideRaw:
		return "OutsideRaw"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Config tunes a Controller.
type Config struct {
	// StandardSlot is the sentinel slot duration, DefaultStandardSlot when zero.
	StandardSlot time.Duration
	// History receives the inside-backoff flag of the station, optional.
	History *raw.SendHistory
	// OnPhase is called after every phase change, optional.
	OnPhase func(aid types.AID, from, to Phase)
	// Logger carries station fields, optional.
	Logger *log.Entry
}

// Controller sequences one station's access queues through a RAW window.
// Each beacon starts a new generation; timers armed by an older generation
// do nothing when they fire.
type Controller struct {
	clock    clock.Clock
	queues   Queues
	standard time.Duration
	history  *raw.SendHistory
	onPhase  func(types.AID, Phase, Phase)
	logger   *log.Entry

	aid        types.AID
	phase      Phase
	generation uint64
	schedule   raw.Schedule
	unwind     *clock.Timer
	slot       *clock.Timer
}

// NewController creates a controller in the Unassociated phase with the
// normal queues open.
func NewController(clk clock.Clock, queues Queues, cfg Config) (*Controller, error) {
	if err := queues.validate(); err != nil {
		return nil, err
	}
	standard := cfg.StandardSlot
	if standard == 0 {
		standard = DefaultStandardSlot
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	c := &Controller{
		clock:    clk,
		queues:   queues,
		standard: standard,
		history:  cfg.History,
		onPhase:  cfg.OnPhase,
		logger:   logger,
		aid:      types.AIDUnassociated,
		phase:    Unassociated,
	}
	c.setNormal(true)
	c.queues.PSPoll.SetContentionAllowed(false)
	return c, nil
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase { return c.phase }

// Generation returns the number of beacons processed.
func (c *Controller) Generation() uint64 { return c.generation }

// Schedule returns the schedule of the current window.
func (c *Controller) Schedule() raw.Schedule { return c.schedule }

// UnwindPending reports whether the outside-RAW unwind timer is armed.
func (c *Controller) UnwindPending() bool { return c.unwind.Pending() }

// SlotPending reports whether a slot start or slot end timer is armed.
func (c *Controller) SlotPending() bool { return c.slot.Pending() }

// OnBeacon replaces the current window with the one described by s.
// dataQueued tells a paged station whether it has uplink traffic waiting.
func (c *Controller) OnBeacon(s raw.Schedule, aid types.AID, dataQueued bool) {
	c.generation++
	c.unwind.Cancel()
	c.slot.Cancel()
	c.unwind, c.slot = nil, nil
	c.aid = aid
	c.schedule = s
	gen := c.generation

	switch {
	case aid == types.AIDUnassociated:
		c.enter(Unassociated)
		c.setNormal(true)
		c.queues.PSPoll.SetContentionAllowed(false)
	case !s.RawActive:
		c.enter(OutsideRaw)
		c.setAll(true)
	case s.InGroup && s.PagedMode && !dataQueued:
		c.enter(PagedWaiting)
		c.setNormal(false)
		c.queues.PSPoll.SetContentionAllowed(true)
		c.rawWindowStart()
		c.armUnwind(gen)
	case s.InGroup:
		c.enter(InGroupActive)
		c.setAll(false)
		c.armUnwind(gen)
		if s.SlotOffset > 0 && s.RawDuration > 0 {
			c.slot = c.clock.Schedule(s.SlotOffset, func() { c.startSlot(gen) })
		} else {
			c.startSlot(gen)
		}
	default:
		c.enter(OutGroup)
		c.setAll(false)
		c.armUnwind(gen)
	}
}

func (c *Controller) armUnwind(gen uint64) {
	// The sentinel is matched against the per-slot duration, not RawDuration.
	if c.schedule.SlotDuration == c.standard {
		return
	}
	c.unwind = c.clock.Schedule(c.schedule.RawDuration, func() { c.outsideRaw(gen) })
}

func (c *Controller) startSlot(gen uint64) {
	if gen != c.generation {
		return
	}
	c.slot = nil
	c.enter(SlotActive)
	c.setAll(true)
	c.rawWindowStart()
	if c.history != nil {
		c.history.SetInsideBackoff(c.aid, false)
	}
	d := c.schedule.SlotDuration
	if d > 0 && d != c.standard {
		c.slot = c.clock.Schedule(d, func() { c.endSlot(gen) })
	}
}

func (c *Controller) endSlot(gen uint64) {
	if gen != c.generation {
		return
	}
	c.slot = nil
	c.enter(SlotBackoff)
	c.setAll(false)
	if c.history != nil {
		c.history.SetInsideBackoff(c.aid, true)
	}
}

func (c *Controller) outsideRaw(gen uint64) {
	if gen != c.generation {
		return
	}
	c.unwind = nil
	c.slot.Cancel()
	c.slot = nil
	c.enter(OutsideRaw)
	c.setAll(true)
}

func (c *Controller) enter(p Phase) {
	from := c.phase
	c.phase = p
	c.logger.WithFields(log.Fields{
		"aid":        c.aid.String(),
		"generation": c.generation,
		"from":       from.String(),
		"to":         p.String(),
		"sim_time":   c.clock.Now(),
	}).Debug("Gate phase change")
	if c.onPhase != nil {
		c.onPhase(c.aid, from, p)
	}
}

func (c *Controller) setNormal(allowed bool) {
	for _, q := range c.queues.Normal() {
		q.SetContentionAllowed(allowed)
	}
}

func (c *Controller) setAll(allowed bool) {
	for _, q := range c.queues.All() {
		q.SetContentionAllowed(allowed)
	}
}

func (c *Controller) rawWindowStart() {
	for _, q := range c.queues.All() {
		q.OnRawWindowStart()
	}
}
