// Package ap models the S1G access point the stations associate with. It
// sends periodic beacons carrying the RAW parameter set, answers probe and
// association requests and accounts for received uplink data.
package ap

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"

	"rawsim/internal/clock"
	"rawsim/internal/dot11"
	"rawsim/internal/phy"
	"rawsim/internal/raw"
	"rawsim/internal/traffic"
	"rawsim/pkg/types"
)

// Transmitter is the access point's outbound queue.
type Transmitter interface {
	Enqueue(f *dot11.Frame)
}

// Config holds the access point parameters.
type Config struct {
	Address        net.HardwareAddr
	SSID           string
	BeaconInterval time.Duration
	// MaxStations caps the association table; 0 means the whole AID space.
	MaxStations int
	AIDStrategy string
	AIDStart    types.AID
	Seed        int64
	// StaticAIDs pins the AID handed to specific stations, keyed by MAC.
	StaticAIDs  map[string]types.AID
	RPS         []dot11.RAWAssignment
	AuthControl *dot11.AuthControl
	PHY         phy.Model
}

// AccessPoint is the BSS side of the simulation.
type AccessPoint struct {
	cfg      Config
	clock    clock.Clock
	tx       Transmitter
	aids     *AIDAllocator
	history  *raw.SendHistory
	stations *phy.RemoteStationManager
	logger   *log.Entry

	assoc       map[string]types.AID
	downlink    map[types.AID][][]byte
	beaconTimer *clock.Timer
	seq         uint16
	beacons     int
	refused     int

	// OnDelivery is called for every accepted uplink data frame, optional.
	OnDelivery func(types.DeliveryRecord)
}

// New creates an access point. Beacons start with Start.
func New(clk clock.Clock, cfg Config, tx Transmitter, history *raw.SendHistory) (*AccessPoint, error) {
	if len(cfg.Address) != 6 {
		return nil, fmt.Errorf("invalid access point address %q", cfg.Address)
	}
	if cfg.BeaconInterval <= 0 {
		return nil, fmt.Errorf("beacon interval must be positive, got %s", cfg.BeaconInterval)
	}
	aids, err := NewAIDAllocator(cfg.AIDStrategy, cfg.AIDStart, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create AID allocator: %w", err)
	}
	for addr, aid := range cfg.StaticAIDs {
		if err := aids.Reserve(aid); err != nil {
			return nil, fmt.Errorf("failed to pin AID for %s: %w", addr, err)
		}
	}
	if history == nil {
		history = raw.NewSendHistory()
	}
	return &AccessPoint{
		cfg:      cfg,
		clock:    clk,
		tx:       tx,
		aids:     aids,
		history:  history,
		stations: phy.NewRemoteStationManager(),
		logger:   log.WithField("ap", cfg.Address.String()),
		assoc:    make(map[string]types.AID),
		downlink: make(map[types.AID][][]byte),
	}, nil
}

// Address returns the BSSID.
func (a *AccessPoint) Address() net.HardwareAddr { return a.cfg.Address }

// History returns the shared send history.
func (a *AccessPoint) History() *raw.SendHistory { return a.history }

// Stations returns the capability table of associated stations.
func (a *AccessPoint) Stations() *phy.RemoteStationManager { return a.stations }

// AssociatedCount returns the number of associated stations.
func (a *AccessPoint) AssociatedCount() int { return len(a.assoc) }

// AIDOf returns the AID held by addr.
func (a *AccessPoint) AIDOf(addr net.HardwareAddr) (types.AID, bool) {
	aid, ok := a.assoc[addr.String()]
	return aid, ok
}

// Beacons returns how many beacons were queued.
func (a *AccessPoint) Beacons() int { return a.beacons }

// Refused returns how many association requests were turned down.
func (a *AccessPoint) Refused() int { return a.refused }

// Start sends the first beacon now and then one every beacon interval.
func (a *AccessPoint) Start() {
	a.beaconTimer.Cancel()
	a.beaconTimer = a.clock.Schedule(0, a.sendBeacon)
}

// Stop halts beaconing.
func (a *AccessPoint) Stop() {
	a.beaconTimer.Cancel()
}

// BufferDownlink holds payload for the station holding aid until it polls.
func (a *AccessPoint) BufferDownlink(aid types.AID, payload []byte) {
	a.downlink[aid] = append(a.downlink[aid], payload)
}

// Buffered reports how many downlink payloads wait for aid.
func (a *AccessPoint) Buffered(aid types.AID) int { return len(a.downlink[aid]) }

func (a *AccessPoint) beaconBody() *dot11.Beacon {
	return &dot11.Beacon{
		Timestamp:   uint64(a.clock.Now() / time.Microsecond),
		Interval:    a.cfg.BeaconInterval,
		SSID:        a.cfg.SSID,
		Rates:       a.cfg.PHY.SupportedRates(),
		HT:          a.cfg.PHY.HTCapabilities(),
		RPS:         a.cfg.RPS,
		AuthControl: a.cfg.AuthControl,
	}
}

func (a *AccessPoint) sendBeacon() {
	a.tx.Enqueue(&dot11.Frame{
		Type:     layers.Dot11TypeMgmtBeacon,
		Addr1:    dot11.Broadcast,
		Addr2:    a.cfg.Address,
		Addr3:    a.cfg.Address,
		Sequence: a.nextSeq(),
		Beacon:   a.beaconBody(),
	})
	a.beacons++
	a.beaconTimer = a.clock.Schedule(a.cfg.BeaconInterval, a.sendBeacon)
}

// Deliver decodes a frame from the medium and feeds it to Receive.
func (a *AccessPoint) Deliver(data []byte) error {
	f, err := dot11.DecodeFrame(data)
	if err != nil {
		return fmt.Errorf("access point %s: %w", a.cfg.Address, err)
	}
	return a.Receive(f)
}

// Receive handles one decoded frame.
func (a *AccessPoint) Receive(f *dot11.Frame) error {
	if !f.IsGroup() && !bytes.Equal(f.Addr1, a.cfg.Address) {
		return nil
	}
	switch {
	case f.Type == layers.Dot11TypeMgmtProbeReq:
		a.handleProbeRequest(f)
	case f.Type == layers.Dot11TypeMgmtAssociationReq:
		return a.handleAssocRequest(f)
	case f.Type == layers.Dot11TypeCtrlPowersavePoll:
		a.handlePSPoll(f)
	case f.IsData():
		a.handleData(f)
	}
	return nil
}

func (a *AccessPoint) handleProbeRequest(f *dot11.Frame) {
	req := f.ProbeRequest
	if req.SSID != "" && req.SSID != a.cfg.SSID {
		return
	}
	a.tx.Enqueue(&dot11.Frame{
		Type:     layers.Dot11TypeMgmtProbeResp,
		Addr1:    f.Addr2,
		Addr2:    a.cfg.Address,
		Addr3:    a.cfg.Address,
		Sequence: a.nextSeq(),
		Beacon:   a.beaconBody(),
	})
}

func (a *AccessPoint) handleAssocRequest(f *dot11.Frame) error {
	req := f.AssocRequest
	if req.SSID != "" && req.SSID != a.cfg.SSID {
		return nil
	}
	key := f.Addr2.String()

	status := layers.Dot11StatusSuccess
	aid, ok := a.assoc[key]
	if !ok {
		var err error
		aid, err = a.allocate(key)
		switch {
		case errors.Is(err, ErrAIDSpaceExhausted):
			status = layers.Dot11StatusAPUnableToHandle
		case err != nil:
			return err
		}
	}
	if status == layers.Dot11StatusSuccess && !a.cfg.PHY.Compatible(req.Rates) {
		status = layers.Dot11StatusRateUnsupported
		a.release(key, aid)
	}

	resp := &dot11.AssocResponse{
		Status: status,
		Rates:  a.cfg.PHY.SupportedRates(),
		HT:     a.cfg.PHY.HTCapabilities(),
	}
	fields := log.Fields{"station": key, "status": status.String()}
	if status == layers.Dot11StatusSuccess {
		resp.AID = aid
		a.stations.Import(a.cfg.PHY, f.Addr2, req.Rates, req.HT)
		fields["aid"] = aid.String()
		a.logger.WithFields(fields).Info("Station associated")
	} else {
		a.refused++
		a.logger.WithFields(fields).Warn("Association refused")
	}
	a.tx.Enqueue(&dot11.Frame{
		Type:          layers.Dot11TypeMgmtAssociationResp,
		Addr1:         f.Addr2,
		Addr2:         a.cfg.Address,
		Addr3:         a.cfg.Address,
		Sequence:      a.nextSeq(),
		AssocResponse: resp,
	})
	return nil
}

// allocate assigns an AID to a newly associating station.
func (a *AccessPoint) allocate(key string) (types.AID, error) {
	if a.cfg.MaxStations > 0 && len(a.assoc) >= a.cfg.MaxStations {
		return types.AIDUnassociated, ErrAIDSpaceExhausted
	}
	aid, pinned := a.cfg.StaticAIDs[key]
	if !pinned {
		var err error
		if aid, err = a.aids.Allocate(); err != nil {
			return types.AIDUnassociated, err
		}
	}
	a.assoc[key] = aid
	a.history.Forget(aid)
	return aid, nil
}

func (a *AccessPoint) release(key string, aid types.AID) {
	delete(a.assoc, key)
	if _, pinned := a.cfg.StaticAIDs[key]; !pinned {
		a.aids.Release(aid)
	}
}

func (a *AccessPoint) handlePSPoll(f *dot11.Frame) {
	aid, ok := a.assoc[f.Addr2.String()]
	if !ok || aid != f.AID {
		return
	}
	queue := a.downlink[aid]
	if len(queue) == 0 {
		return
	}
	payload := queue[0]
	a.downlink[aid] = queue[1:]
	a.tx.Enqueue(&dot11.Frame{
		Type:     layers.Dot11TypeData,
		Addr1:    f.Addr2,
		Addr2:    a.cfg.Address,
		Addr3:    a.cfg.Address,
		Sequence: a.nextSeq(),
		FromDS:   true,
		Payload:  payload,
	})
}

func (a *AccessPoint) handleData(f *dot11.Frame) {
	if !f.ToDS || f.FromDS {
		return
	}
	aid, ok := a.assoc[f.Addr2.String()]
	if !ok {
		a.logger.WithField("station", f.Addr2.String()).Debug("Data from unassociated station dropped")
		return
	}
	a.history.RecordSent(aid)

	rec := types.DeliveryRecord{
		Source:     f.Addr2,
		AID:        aid,
		ReceivedAt: a.clock.Now(),
		Size:       len(f.Payload),
	}
	if st, err := traffic.ReadStamp(f.Payload); err == nil {
		rec.Seq = st.Seq
		rec.GeneratedAt = st.GeneratedAt
	}
	if a.OnDelivery != nil {
		a.OnDelivery(rec)
	}
}

func (a *AccessPoint) nextSeq() uint16 {
	a.seq = (a.seq + 1) & 0x0fff
	return a.seq
}
