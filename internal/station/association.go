package station

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"

	"rawsim/internal/dot11"
	"rawsim/internal/gate"
	"rawsim/internal/raw"
	"rawsim/pkg/types"
)

// SetActiveProbing turns probing on or off. Enabling it starts an
// association attempt at the current instant.
func (s *Station) SetActiveProbing(enable bool) {
	s.cfg.ActiveProbing = enable
	if enable {
		s.clock.Schedule(0, s.tryToEnsureAssociated)
	}
}

// Restart leaves the Refused state and starts over as if every beacon had
// been missed.
func (s *Station) Restart() {
	if s.state != types.Refused {
		return
	}
	s.setState(types.BeaconMissed)
	s.tryToEnsureAssociated()
}

func (s *Station) tryToEnsureAssociated() {
	if s.state != types.BeaconMissed {
		return
	}
	if s.cfg.ActiveProbing {
		s.setState(types.WaitProbeResponse)
		s.sendProbeRequest()
	}
}

func (s *Station) admitted() bool {
	return raw.Admitted(s.draw, s.threshold)
}

func (s *Station) sendProbeRequest() {
	if s.admitted() {
		s.queues.DCF.Enqueue(&dot11.Frame{
			Type:     layers.Dot11TypeMgmtProbeReq,
			Addr1:    dot11.Broadcast,
			Addr2:    s.cfg.Address,
			Addr3:    dot11.Broadcast,
			Sequence: s.nextSeq(),
			ProbeRequest: &dot11.ProbeRequest{
				SSID:  s.cfg.SSID,
				Rates: s.cfg.PHY.SupportedRates(),
				HT:    s.cfg.PHY.HTCapabilities(),
			},
		})
		s.logger.Debug("Queued probe request")
	} else {
		s.logger.WithFields(log.Fields{
			"draw":      s.draw,
			"threshold": s.threshold,
		}).Debug("Probe request held back by admission control")
	}
	s.probeTimer.Cancel()
	s.probeTimer = s.clock.Schedule(s.cfg.ProbeRequestTimeout, s.probeRequestTimeout)
}

func (s *Station) sendAssocRequest() {
	if s.admitted() {
		s.queues.DCF.Enqueue(&dot11.Frame{
			Type:     layers.Dot11TypeMgmtAssociationReq,
			Addr1:    s.bssid,
			Addr2:    s.cfg.Address,
			Addr3:    s.bssid,
			Sequence: s.nextSeq(),
			AssocRequest: &dot11.AssocRequest{
				ListenInterval: s.cfg.ListenInterval,
				SSID:           s.cfg.SSID,
				Rates:          s.cfg.PHY.SupportedRates(),
				HT:             s.cfg.PHY.HTCapabilities(),
			},
		})
		s.logger.WithField("bssid", s.bssid.String()).Debug("Queued association request")
	} else {
		s.logger.WithFields(log.Fields{
			"draw":      s.draw,
			"threshold": s.threshold,
		}).Debug("Association request held back by admission control")
	}
	s.assocTimer.Cancel()
	s.assocTimer = s.clock.Schedule(s.cfg.AssocRequestTimeout, s.assocRequestTimeout)
}

func (s *Station) probeRequestTimeout() {
	if s.state != types.WaitProbeResponse {
		return
	}
	s.sendProbeRequest()
}

func (s *Station) assocRequestTimeout() {
	if s.state != types.WaitAssocResponse {
		return
	}
	s.sendAssocRequest()
}

// restartWatchdog pushes the beacon watchdog out to now+delay. A pending
// watchdog is never rescheduled; it re-arms itself on expiry instead.
func (s *Station) restartWatchdog(delay time.Duration) {
	end := s.clock.Now() + delay
	if end > s.watchdogEnd {
		s.watchdogEnd = end
	}
	if !s.watchdog.Pending() {
		s.watchdog = s.clock.Schedule(delay, s.missedBeacons)
	}
}

func (s *Station) missedBeacons() {
	if s.state == types.Refused {
		return
	}
	now := s.clock.Now()
	if s.watchdogEnd > now {
		s.watchdog = s.clock.Schedule(s.watchdogEnd-now, s.missedBeacons)
		return
	}
	s.logger.WithField("state", s.state.String()).Info("Beacon watchdog expired")
	s.setState(types.BeaconMissed)
	s.tryToEnsureAssociated()
}

// goodCapabilities checks SSID and rate compatibility of an advertisement.
func (s *Station) goodCapabilities(ssid string, rates dot11.SupportedRates) bool {
	if s.cfg.SSID != "" && ssid != s.cfg.SSID {
		return false
	}
	return s.cfg.PHY.Compatible(rates)
}

func (s *Station) handleBeacon(f *dot11.Frame) error {
	b := f.Beacon
	if !s.goodCapabilities(b.SSID, b.Rates) {
		return nil
	}
	if (s.state == types.WaitAssocResponse || s.state == types.Associated) && !bytes.Equal(f.Addr3, s.bssid) {
		return nil
	}

	s.restartWatchdog(b.Interval * time.Duration(s.cfg.MaxMissedBeacons))
	s.bssid = f.Addr3
	s.beaconGen++

	sched := raw.Schedule{AdmissionThreshold: raw.AlwaysPermit, Generation: s.beaconGen}
	if s.cfg.PHY.S1GSupported {
		var err error
		sched, err = raw.Compute(raw.InputFromBeacon(b, s.beaconGen), s.aid, s.assigner)
		if err != nil {
			return fmt.Errorf("station %s: %w", s.cfg.Address, err)
		}
	}
	s.schedule = sched
	s.threshold = sched.AdmissionThreshold

	if s.state == types.BeaconMissed {
		s.setState(types.WaitAssocResponse)
		s.sendAssocRequest()
	}

	s.gate.OnBeacon(sched, s.aid, s.queues.Pending() > 0)
	if s.gate.Phase() == gate.PagedWaiting && s.dataBuffered {
		s.SendPSPoll()
	}
	return nil
}

func (s *Station) handleProbeResponse(f *dot11.Frame) {
	if s.state != types.WaitProbeResponse {
		return
	}
	b := f.Beacon
	if !s.goodCapabilities(b.SSID, b.Rates) {
		return
	}
	s.bssid = f.Addr3
	s.restartWatchdog(b.Interval * time.Duration(s.cfg.MaxMissedBeacons))
	s.probeTimer.Cancel()
	s.setState(types.WaitAssocResponse)
	s.sendAssocRequest()
}

func (s *Station) handleAssocResponse(f *dot11.Frame) error {
	if s.state != types.WaitAssocResponse {
		return nil
	}
	s.assocTimer.Cancel()
	resp := f.AssocResponse

	if resp.Status != layers.Dot11StatusSuccess {
		s.logger.WithField("status", resp.Status.String()).Warn("Association refused")
		s.setState(types.Refused)
		return nil
	}
	if err := s.setAID(resp.AID); err != nil {
		return err
	}
	s.stations.Import(s.cfg.PHY, f.Addr2, resp.Rates, resp.HT)
	s.setState(types.Associated)
	return nil
}

func (s *Station) setAID(aid types.AID) error {
	if !aid.Valid() {
		return fmt.Errorf("station %s: association response carries AID %d outside [%d, %d]",
			s.cfg.Address, uint16(aid), types.AIDMin, types.AIDMax)
	}
	s.aid = aid
	return nil
}

// setState moves the state machine and emits link and association edges.
func (s *Station) setState(to types.AssocState) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	// Request timers only live in the state that armed them.
	switch from {
	case types.WaitProbeResponse:
		s.probeTimer.Cancel()
	case types.WaitAssocResponse:
		s.assocTimer.Cancel()
	}
	now := s.clock.Now()
	if s.hooks.StateChange != nil {
		s.hooks.StateChange(from, to, now)
	}

	switch {
	case to == types.Associated:
		s.logger.WithFields(log.Fields{
			"aid":   s.aid.String(),
			"bssid": s.bssid.String(),
		}).Info("Associated")
		if s.hooks.LinkUp != nil {
			s.hooks.LinkUp(s.linkEvent(true, now))
		}
	case from == types.Associated:
		ev := s.linkEvent(false, now)
		s.aid = types.AIDUnassociated
		s.gate.OnBeacon(raw.Schedule{Generation: s.beaconGen}, s.aid, false)
		s.logger.WithField("state", to.String()).Info("Deassociated")
		if s.hooks.LinkDown != nil {
			s.hooks.LinkDown(ev)
		}
	}
}

func (s *Station) linkEvent(up bool, at time.Duration) types.LinkEvent {
	return types.LinkEvent{
		Station: s.cfg.Address,
		BSSID:   s.bssid,
		AID:     s.aid,
		Up:      up,
		At:      at,
	}
}
