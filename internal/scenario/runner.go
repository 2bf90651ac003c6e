// Package scenario assembles one access point and a population of stations
// on a shared medium and runs them on the simulated clock.
package scenario

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"

	"rawsim/internal/ap"
	"rawsim/internal/clock"
	"rawsim/internal/config"
	"rawsim/internal/dot11"
	"rawsim/internal/gate"
	"rawsim/internal/medium"
	"rawsim/internal/phy"
	"rawsim/internal/raw"
	"rawsim/internal/station"
	"rawsim/internal/stats"
	"rawsim/internal/traffic"
	"rawsim/pkg/types"
)

// apQueueCapacity is large enough that beacons are never dropped.
const apQueueCapacity = 4096

// node bundles one station with its queues and traffic sources.
type node struct {
	sta     *station.Station
	queues  []*medium.AccessQueue
	gen     *traffic.Generator
	startAt time.Duration
}

// Result summarizes a finished run.
type Result struct {
	SimDuration time.Duration
	Stations    int
	Associated  int
	Beacons     int
	Delivered   uint64
}

// Runner orchestrates one simulation.
type Runner struct {
	cfg     *config.Config
	sched   *clock.Scheduler
	medium  *medium.Medium
	ap      *ap.AccessPoint
	apQueue *medium.AccessQueue
	history *raw.SendHistory
	stats   *stats.Collector
	nodes   []*node
	horizon time.Duration
}

// NewRunner builds the whole BSS described by cfg.
func NewRunner(cfg *config.Config, collector *stats.Collector) (*Runner, error) {
	if collector == nil {
		collector = stats.NewCollector()
	}
	sched := clock.NewScheduler()
	m := medium.New(sched, time.Duration(cfg.Simulation.PropagationDelayUs)*time.Microsecond, sched.Fail)
	m.OnTransmit = func(_ time.Duration, t layers.Dot11Type, size int) {
		collector.RecordFrame(dot11.TypeName(t), size)
	}

	r := &Runner{
		cfg:     cfg,
		sched:   sched,
		medium:  m,
		history: raw.NewSendHistory(),
		stats:   collector,
		horizon: config.Ms(cfg.Simulation.DurationMs),
	}
	if err := r.buildAP(); err != nil {
		return nil, err
	}
	if err := r.buildStations(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) buildAP() error {
	addr, err := net.ParseMAC(r.cfg.AP.Address)
	if err != nil {
		return fmt.Errorf("failed to parse AP address: %w", err)
	}

	static := make(map[string]types.AID, len(r.cfg.AP.StaticAIDs))
	for s, aid := range r.cfg.AP.StaticAIDs {
		hw, err := net.ParseMAC(s)
		if err != nil {
			return fmt.Errorf("failed to parse static AID key %q: %w", s, err)
		}
		static[hw.String()] = types.AID(aid)
	}

	rps, err := r.rawAssignments()
	if err != nil {
		return err
	}
	var auth *dot11.AuthControl
	if ac := r.cfg.RAW.AuthControl; ac.Enabled {
		auth = &dot11.AuthControl{Distributed: ac.Distributed, Threshold: uint16(ac.Threshold)}
	}

	model := phy.DefaultModel()
	if r.cfg.AP.HT {
		model = phy.HTModel()
	}

	r.apQueue = medium.NewAccessQueue(r.sched, r.medium, medium.QueueConfig{
		Name:     "AP",
		Owner:    addr,
		Rate:     r.cfg.Station.DataRateBps,
		Capacity: apQueueCapacity,
	})
	r.apQueue.SetContentionAllowed(true)

	a, err := ap.New(r.sched, ap.Config{
		Address:        addr,
		SSID:           r.cfg.AP.SSID,
		BeaconInterval: config.Ms(r.cfg.AP.BeaconIntervalMs),
		MaxStations:    r.cfg.AP.MaxStations,
		AIDStrategy:    r.cfg.AP.AIDStrategy,
		AIDStart:       types.AID(r.cfg.AP.AIDStart),
		Seed:           r.cfg.Simulation.Seed,
		StaticAIDs:     static,
		RPS:            rps,
		AuthControl:    auth,
		PHY:            model,
	}, r.apQueue, r.history)
	if err != nil {
		return fmt.Errorf("failed to create access point: %w", err)
	}
	a.OnDelivery = r.stats.RecordDelivery
	r.ap = a
	r.medium.Attach(a)
	return nil
}

func (r *Runner) rawAssignments() ([]dot11.RAWAssignment, error) {
	rc := r.cfg.RAW
	if !rc.Enabled {
		return nil, nil
	}
	a := dot11.RAWAssignment{
		RawType: uint8(rc.RawType),
		Slot: dot11.SlotDefinition{
			Format:        uint8(rc.SlotFormat),
			CrossBoundary: rc.CrossBoundary,
			DurationCount: uint16(rc.SlotDurationCount),
			Count:         uint8(rc.SlotCount),
		},
		Page:           uint8(rc.Page),
		StartAID:       uint16(rc.StartAID),
		EndAID:         uint16(rc.EndAID),
		SlotDurationMs: uint8(rc.SlotDurationMs),
	}
	// Encoding validates every field against the wire layout.
	if _, err := a.Encode(); err != nil {
		return nil, fmt.Errorf("invalid RAW configuration: %w", err)
	}
	return []dot11.RAWAssignment{a}, nil
}

func (r *Runner) buildStations() error {
	base, err := net.ParseMAC(r.cfg.Station.AddressBase)
	if err != nil {
		return fmt.Errorf("failed to parse station address base: %w", err)
	}
	assigner, err := raw.NewAssigner(r.cfg.RAW.Assigner, r.history, uint16(r.cfg.RAW.ModuloOffset))
	if err != nil {
		return err
	}

	sc := r.cfg.Station
	model := phy.DefaultModel()
	if sc.HT {
		model = phy.HTModel()
	}
	model.S1GSupported = sc.S1G

	for i := 0; i < sc.Count; i++ {
		n := &node{}
		addr := addressAt(base, i+1)
		if sc.ActiveProbing {
			n.startAt = time.Duration(i) * config.Ms(sc.StartStaggerMs)
		}

		queues := make([]*medium.AccessQueue, 0, 6)
		newQueue := func(name string) *medium.AccessQueue {
			q := medium.NewAccessQueue(r.sched, r.medium, medium.QueueConfig{
				Name:     name,
				Owner:    addr,
				Rate:     sc.DataRateBps,
				Capacity: sc.QueueCapacity,
			})
			q.OnTransmit = func(f *dot11.Frame, enqueuedAt, sentAt time.Duration) {
				if f.IsData() {
					r.stats.RecordAccessDelay(sentAt - enqueuedAt)
				}
			}
			queues = append(queues, q)
			return q
		}
		gq := gate.Queues{
			DCF:    newQueue("DCF"),
			BE:     newQueue("AC_BE"),
			BK:     newQueue("AC_BK"),
			VI:     newQueue("AC_VI"),
			VO:     newQueue("AC_VO"),
			PSPoll: newQueue("PS-Poll"),
		}
		n.queues = queues

		stCfg := station.Config{
			Address:             addr,
			SSID:                sc.SSID,
			ProbeRequestTimeout: config.Ms(sc.ProbeTimeoutMs),
			AssocRequestTimeout: config.Ms(sc.AssocTimeoutMs),
			MaxMissedBeacons:    sc.MaxMissedBeacons,
			QoSSupported:        sc.QoS,
			ListenInterval:      uint16(sc.ListenInterval),
			PHY:                 model,
			StandardSlot:        config.Ms(r.cfg.Gate.StandardSlotMs),
			Seed:                r.cfg.Simulation.Seed + int64(i),
		}
		sta, err := station.New(r.sched, stCfg, gq, station.Deps{
			Assigner: assigner,
			History:  r.history,
		}, r.hooksFor(n))
		if err != nil {
			return fmt.Errorf("failed to create station %d: %w", i, err)
		}
		n.sta = sta
		r.medium.Attach(sta)

		if r.cfg.Traffic.Enabled {
			n.gen = traffic.NewGenerator(r.sched, traffic.Config{
				Interval:    config.Ms(r.cfg.Traffic.IntervalMs),
				PayloadSize: r.cfg.Traffic.PayloadSize,
				TID:         uint8(r.cfg.Traffic.TID),
				Destination: r.ap.Address(),
				Start:       config.Ms(r.cfg.Traffic.StartMs) + n.startAt,
			}, sta.Enqueue)
			n.gen.OnGenerate = func(traffic.Stamp, error) { r.stats.RecordGenerated() }
		}
		r.nodes = append(r.nodes, n)
	}
	return nil
}

func (r *Runner) hooksFor(n *node) station.Hooks {
	return station.Hooks{
		LinkUp: func(ev types.LinkEvent) {
			r.stats.RecordAssociated(ev.At - n.startAt)
		},
		LinkDown: func(types.LinkEvent) {
			r.stats.RecordDeassociated()
		},
		StateChange: func(_, to types.AssocState, _ time.Duration) {
			if to == types.Refused {
				r.stats.RecordRefused()
			}
		},
		TxDrop: func([]byte, error) {
			r.stats.RecordTxDrop()
		},
		RxDrop: func(_ *dot11.Frame, reason string) {
			r.stats.RecordRxDrop(reason)
		},
		Deliver: func(*dot11.Frame) {
			if r.ap.Buffered(n.sta.AID()) == 0 {
				n.sta.SetDataBuffered(false)
			}
		},
		GatePhase: func(_ types.AID, _, to gate.Phase) {
			r.stats.RecordGatePhase(to.String())
		},
	}
}

// addressAt returns base plus n, treating the address as a 48-bit integer.
func addressAt(base net.HardwareAddr, n int) net.HardwareAddr {
	var v uint64
	for _, b := range base {
		v = v<<8 | uint64(b)
	}
	v += uint64(n)
	out := make(net.HardwareAddr, 6)
	for i := 5; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// AddTap registers an observer of every transmitted frame.
func (r *Runner) AddTap(t medium.Tap) {
	r.medium.AddTap(t)
}

// AP returns the access point.
func (r *Runner) AP() *ap.AccessPoint { return r.ap }

// Scheduler returns the simulation clock.
func (r *Runner) Scheduler() *clock.Scheduler { return r.sched }

// Stations returns every station in creation order.
func (r *Runner) Stations() []*station.Station {
	out := make([]*station.Station, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.sta
	}
	return out
}

func (r *Runner) start() {
	r.ap.Start()
	for _, n := range r.nodes {
		n := n
		if r.cfg.Station.ActiveProbing {
			r.sched.ScheduleAt(n.startAt, func() { n.sta.SetActiveProbing(true) })
		}
		if n.gen != nil {
			n.gen.Start()
		}
	}
	if iv := config.Ms(r.cfg.Traffic.DownlinkIntervalMs); iv > 0 {
		r.sched.Schedule(iv, func() { r.bufferDownlink(iv) })
	}
}

// bufferDownlink queues one downlink payload per associated station at the
// access point and tells the station to poll for it.
func (r *Runner) bufferDownlink(iv time.Duration) {
	for _, n := range r.nodes {
		if !n.sta.IsAssociated() {
			continue
		}
		r.ap.BufferDownlink(n.sta.AID(), make([]byte, traffic.StampLen))
		n.sta.SetDataBuffered(true)
	}
	r.sched.Schedule(iv, func() { r.bufferDownlink(iv) })
}

// Run drives the simulation to its horizon. ctx is checked once per beacon
// interval of simulated time.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.start()
	log.WithFields(log.Fields{
		"stations": len(r.nodes),
		"horizon":  r.horizon,
	}).Info("Starting simulation")

	step := config.Ms(r.cfg.AP.BeaconIntervalMs)
	for r.sched.Now() < r.horizon {
		select {
		case <-ctx.Done():
			log.Info("Simulation cancelled")
			return nil, ctx.Err()
		default:
		}
		next := r.sched.Now() + step
		if next > r.horizon {
			next = r.horizon
		}
		if err := r.sched.RunUntil(next); err != nil {
			return nil, fmt.Errorf("simulation aborted at %s: %w", r.sched.Now(), err)
		}
	}

	dropped := 0
	for _, n := range r.nodes {
		for _, q := range n.queues {
			dropped += q.Dropped()
		}
	}
	r.stats.RecordQueueDrops(dropped)
	r.stats.Finish(r.horizon)

	res := &Result{
		SimDuration: r.horizon,
		Stations:    len(r.nodes),
		Beacons:     r.ap.Beacons(),
		Delivered:   r.stats.Snapshot().Delivered,
	}
	for _, n := range r.nodes {
		if n.sta.IsAssociated() {
			res.Associated++
		}
	}
	log.WithFields(log.Fields{
		"associated": res.Associated,
		"beacons":    res.Beacons,
		"delivered":  res.Delivered,
	}).Info("Simulation complete")
	return res, nil
}
