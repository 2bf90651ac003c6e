package station

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"

	"rawsim/internal/clock"
	"rawsim/internal/dot11"
	"rawsim/internal/gate"
	"rawsim/internal/phy"
	"rawsim/internal/raw"
	"rawsim/pkg/types"
)

// ErrNotAssociated is returned by Enqueue while the station holds no
// association. The frame is dropped.
var ErrNotAssociated = errors.New("station not associated")

// admissionDrawRange bounds the per-station admission draw, [0, 999].
const admissionDrawRange = 1000

// Config holds the station parameters.
type Config struct {
	Address             net.HardwareAddr
	SSID                string
	ActiveProbing       bool
	ProbeRequestTimeout time.Duration
	AssocRequestTimeout time.Duration
	MaxMissedBeacons    int
	QoSSupported        bool
	ListenInterval      uint16
	PHY                 phy.Model
	// StandardSlot is passed to the gate controller.
	StandardSlot time.Duration
	// Seed drives the admission draw.
	Seed int64
}

// DefaultConfig returns the stock timeouts for addr.
func DefaultConfig(addr net.HardwareAddr) Config {
	return Config{
		Address:             addr,
		ProbeRequestTimeout: 50 * time.Millisecond,
		AssocRequestTimeout: 500 * time.Millisecond,
		MaxMissedBeacons:    10,
		QoSSupported:        true,
		ListenInterval:      10,
		PHY:                 phy.DefaultModel(),
		StandardSlot:        gate.DefaultStandardSlot,
	}
}

// Hooks are optional observers of station events.
type Hooks struct {
	LinkUp      func(types.LinkEvent)
	LinkDown    func(types.LinkEvent)
	StateChange func(from, to types.AssocState, at time.Duration)
	TxDrop      func(payload []byte, reason error)
	RxDrop      func(f *dot11.Frame, reason string)
	Deliver     func(f *dot11.Frame)
	GatePhase   func(aid types.AID, from, to gate.Phase)
}

// Deps are the collaborators shared with the rest of the BSS.
type Deps struct {
	Assigner raw.SlotAssigner
	History  *raw.SendHistory
	Stations *phy.RemoteStationManager
}

// Station is the station-side MAC: association state machine plus RAW
// gating of its access queues.
type Station struct {
	cfg      Config
	clock    clock.Clock
	queues   gate.Queues
	gate     *gate.Controller
	assigner raw.SlotAssigner
	stations *phy.RemoteStationManager
	hooks    Hooks
	logger   *log.Entry

	state        types.AssocState
	aid          types.AID
	bssid        net.HardwareAddr
	draw         uint16
	threshold    uint16
	seq          uint16
	dataBuffered bool

	probeTimer  *clock.Timer
	assocTimer  *clock.Timer
	watchdog    *clock.Timer
	watchdogEnd time.Duration

	beaconGen uint64
	schedule  raw.Schedule
}

// New creates a station in the BeaconMissed state with no AID.
func New(clk clock.Clock, cfg Config, queues gate.Queues, deps Deps, hooks Hooks) (*Station, error) {
	if len(cfg.Address) != 6 {
		return nil, fmt.Errorf("invalid station address %q", cfg.Address)
	}
	if cfg.MaxMissedBeacons <= 0 {
		return nil, fmt.Errorf("max missed beacons must be positive, got %d", cfg.MaxMissedBeacons)
	}
	if cfg.ProbeRequestTimeout <= 0 || cfg.AssocRequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeouts must be positive")
	}
	if deps.Assigner == nil {
		deps.Assigner = raw.SendHistoryAssigner{History: deps.History}
	}
	if deps.Stations == nil {
		deps.Stations = phy.NewRemoteStationManager()
	}

	s := &Station{
		cfg:       cfg,
		clock:     clk,
		queues:    queues,
		assigner:  deps.Assigner,
		stations:  deps.Stations,
		hooks:     hooks,
		logger:    log.WithField("station", cfg.Address.String()),
		state:     types.BeaconMissed,
		aid:       types.AIDUnassociated,
		draw:      uint16(rand.New(rand.NewSource(cfg.Seed)).Intn(admissionDrawRange)),
		threshold: raw.AlwaysPermit,
	}
	g, err := gate.NewController(clk, queues, gate.Config{
		StandardSlot: cfg.StandardSlot,
		History:      deps.History,
		OnPhase:      hooks.GatePhase,
		Logger:       s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gate controller: %w", err)
	}
	s.gate = g
	return s, nil
}

// Address returns the station's MAC address.
func (s *Station) Address() net.HardwareAddr { return s.cfg.Address }

// AID returns the current association identifier.
func (s *Station) AID() types.AID { return s.aid }

// State returns the association state.
func (s *Station) State() types.AssocState { return s.state }

// IsAssociated reports whether the station is in the Associated state.
func (s *Station) IsAssociated() bool { return s.state == types.Associated }

// BSSID returns the bound access point address, nil before any good beacon.
func (s *Station) BSSID() net.HardwareAddr { return s.bssid }

// Draw returns the admission draw fixed at construction.
func (s *Station) Draw() uint16 { return s.draw }

// Gate exposes the gate controller.
func (s *Station) Gate() *gate.Controller { return s.gate }

// Schedule returns the RAW schedule computed from the last accepted beacon.
func (s *Station) Schedule() raw.Schedule { return s.schedule }

// Deliver decodes a frame from the medium and feeds it to Receive.
func (s *Station) Deliver(data []byte) error {
	f, err := dot11.DecodeFrame(data)
	if err != nil {
		return fmt.Errorf("station %s: %w", s.cfg.Address, err)
	}
	return s.Receive(f)
}

// Receive dispatches a decoded frame to the state machine. Errors are
// contract violations by the sender and abort the simulation.
func (s *Station) Receive(f *dot11.Frame) error {
	if f.Type.MainType() == layers.Dot11TypeCtrl {
		return nil
	}
	if bytes.Equal(f.Addr3, s.cfg.Address) {
		return nil
	}
	if !f.IsGroup() && !bytes.Equal(f.Addr1, s.cfg.Address) {
		s.rxDrop(f, "not addressed to station")
		return nil
	}

	switch f.Type {
	case layers.Dot11TypeMgmtBeacon:
		return s.handleBeacon(f)
	case layers.Dot11TypeMgmtProbeResp:
		s.handleProbeResponse(f)
	case layers.Dot11TypeMgmtAssociationResp:
		return s.handleAssocResponse(f)
	case layers.Dot11TypeMgmtProbeReq, layers.Dot11TypeMgmtAssociationReq:
		s.rxDrop(f, "request addressed to access point")
	default:
		if f.IsData() {
			s.handleData(f)
		}
	}
	return nil
}

func (s *Station) handleData(f *dot11.Frame) {
	switch {
	case !s.IsAssociated():
		s.rxDrop(f, "data while not associated")
	case !f.FromDS || f.ToDS:
		s.rxDrop(f, "data not from the distribution system")
	case !bytes.Equal(f.Addr2, s.bssid):
		s.rxDrop(f, "data from foreign BSS")
	default:
		if s.hooks.Deliver != nil {
			s.hooks.Deliver(f)
		}
	}
}

// Enqueue hands an uplink payload for dst to the access queue matching tid.
// While not associated the payload is dropped and association is retried.
func (s *Station) Enqueue(payload []byte, dst net.HardwareAddr, tid uint8) error {
	if !s.IsAssociated() {
		if s.hooks.TxDrop != nil {
			s.hooks.TxDrop(payload, ErrNotAssociated)
		}
		s.tryToEnsureAssociated()
		return ErrNotAssociated
	}
	f := &dot11.Frame{
		Type:     layers.Dot11TypeData,
		Addr1:    s.bssid,
		Addr2:    s.cfg.Address,
		Addr3:    dst,
		Sequence: s.nextSeq(),
		ToDS:     true,
		Payload:  payload,
	}
	if !s.cfg.QoSSupported {
		s.queues.DCF.Enqueue(f)
		return nil
	}
	if tid > 7 {
		tid = 0
	}
	f.Type = layers.Dot11TypeDataQOSData
	f.TID = tid
	s.queues.ForCategory(types.AccessCategoryForTID(tid)).Enqueue(f)
	return nil
}

// SetDataBuffered records that the access point holds downlink data for us.
func (s *Station) SetDataBuffered(buffered bool) {
	s.dataBuffered = buffered
}

// SendPSPoll queues a PS-Poll on the polling queue.
func (s *Station) SendPSPoll() {
	if !s.IsAssociated() {
		return
	}
	s.queues.PSPoll.Enqueue(&dot11.Frame{
		Type:  layers.Dot11TypeCtrlPowersavePoll,
		Addr1: s.bssid,
		Addr2: s.cfg.Address,
		AID:   s.aid,
	})
	s.logger.WithField("aid", s.aid.String()).Debug("Queued PS-Poll")
}

func (s *Station) nextSeq() uint16 {
	s.seq = (s.seq + 1) & 0x0fff
	return s.seq
}

func (s *Station) rxDrop(f *dot11.Frame, reason string) {
	if s.hooks.RxDrop != nil {
		s.hooks.RxDrop(f, reason)
	}
}
