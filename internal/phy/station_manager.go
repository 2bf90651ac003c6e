package phy

import (
	"net"

	log "github.com/sirupsen/logrus"

	"rawsim/internal/dot11"
)

// RemoteStation is what is known about one peer.
type RemoteStation struct {
	Address        net.HardwareAddr
	SupportedModes []Mode
	SupportedMCS   []uint8
	HT             *dot11.HTCapabilities
}

// RemoteStationManager is the per-peer capability table.
type RemoteStationManager struct {
	peers map[string]*RemoteStation
	basic []Mode
}

// NewRemoteStationManager creates an empty table.
func NewRemoteStationManager() *RemoteStationManager {
	return &RemoteStationManager{peers: make(map[string]*RemoteStation)}
}

func (m *RemoteStationManager) lookupOrCreate(addr net.HardwareAddr) *RemoteStation {
	key := addr.String()
	st, ok := m.peers[key]
	if !ok {
		st = &RemoteStation{Address: append(net.HardwareAddr(nil), addr...)}
		m.peers[key] = st
	}
	return st
}

// AddSupportedMode records that addr can receive mode.
func (m *RemoteStationManager) AddSupportedMode(addr net.HardwareAddr, mode Mode) {
	st := m.lookupOrCreate(addr)
	for _, cur := range st.SupportedModes {
		if cur == mode {
			return
		}
	}
	st.SupportedModes = append(st.SupportedModes, mode)
}

// AddBasicMode adds mode to the BSS basic mode set.
func (m *RemoteStationManager) AddBasicMode(mode Mode) {
	for _, cur := range m.basic {
		if cur == mode {
			return
		}
	}
	m.basic = append(m.basic, mode)
}

// AddSupportedMCS records that addr can receive mcs.
func (m *RemoteStationManager) AddSupportedMCS(addr net.HardwareAddr, mcs uint8) {
	st := m.lookupOrCreate(addr)
	for _, cur := range st.SupportedMCS {
		if cur == mcs {
			return
		}
	}
	st.SupportedMCS = append(st.SupportedMCS, mcs)
}

// AddHTCapabilities stores the HT capabilities advertised by addr.
func (m *RemoteStationManager) AddHTCapabilities(addr net.HardwareAddr, caps *dot11.HTCapabilities) {
	m.lookupOrCreate(addr).HT = caps
}

// Lookup returns the record for addr.
func (m *RemoteStationManager) Lookup(addr net.HardwareAddr) (*RemoteStation, bool) {
	st, ok := m.peers[addr.String()]
	return st, ok
}

// BasicModes returns the BSS basic mode set.
func (m *RemoteStationManager) BasicModes() []Mode {
	return m.basic
}

// Import copies the rate, MCS and HT sets a peer advertised into the table,
// keeping only what the local model supports.
func (m *RemoteStationManager) Import(local Model, peer net.HardwareAddr, rates dot11.SupportedRates, ht *dot11.HTCapabilities) {
	if local.HTSupported && ht != nil {
		m.AddHTCapabilities(peer, ht)
	}
	for _, mode := range local.Modes {
		if !rates.IsSupportedRate(mode.DataRate) {
			continue
		}
		m.AddSupportedMode(peer, mode)
		if rates.IsBasicRate(mode.DataRate) {
			m.AddBasicMode(mode)
		}
	}
	if local.HTSupported && ht != nil {
		for _, mcs := range local.MCS {
			if ht.IsSupportedMCS(mcs) {
				m.AddSupportedMCS(peer, mcs)
			}
		}
	}
	if st, ok := m.Lookup(peer); ok {
		log.WithFields(log.Fields{
			"peer":  peer.String(),
			"modes": len(st.SupportedModes),
			"mcs":   len(st.SupportedMCS),
			"ht":    st.HT != nil,
		}).Debug("Imported peer capabilities")
	}
}
