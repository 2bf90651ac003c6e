package phy

import (
	"fmt"

	"rawsim/internal/dot11"
)

// SelectorHTPhy is the BSS membership selector advertised by HT stations.
const SelectorHTPhy uint8 = 127

// Mode is one PHY transmission mode.
type Mode struct {
	Name     string
	DataRate uint64
}

func (m Mode) String() string {
	return fmt.Sprintf("%s(%d bps)", m.Name, m.DataRate)
}

// Model describes what the local PHY can do.
type Model struct {
	Modes               []Mode
	MembershipSelectors []uint8
	MCS                 []uint8
	HTSupported         bool
	S1GSupported        bool
	LDPC                bool
	ShortGuardInterval  bool
	Greenfield          bool
}

// DefaultModes is the OFDM mode set used by the simulated PHY.
var DefaultModes = []Mode{
	{Name: "OfdmRate6Mbps", DataRate: 6000000},
	{Name: "OfdmRate9Mbps", DataRate: 9000000},
	{Name: "OfdmRate12Mbps", DataRate: 12000000},
	{Name: "OfdmRate18Mbps", DataRate: 18000000},
	{Name: "OfdmRate24Mbps", DataRate: 24000000},
	{Name: "OfdmRate36Mbps", DataRate: 36000000},
	{Name: "OfdmRate48Mbps", DataRate: 48000000},
	{Name: "OfdmRate54Mbps", DataRate: 54000000},
}

// DefaultModel returns an S1G-capable PHY without HT.
func DefaultModel() Model {
	return Model{
		Modes:        append([]Mode(nil), DefaultModes...),
		S1GSupported: true,
	}
}

// HTModel returns an HT PHY advertising MCS 0-7 and the HT selector.
func HTModel() Model {
	m := DefaultModel()
	m.HTSupported = true
	m.MembershipSelectors = []uint8{SelectorHTPhy}
	m.MCS = []uint8{0, 1, 2, 3, 4, 5, 6, 7}
	m.ShortGuardInterval = true
	return m
}

// SupportedRates builds the rate set the station advertises. HT stations
// also list their membership selectors as basic entries.
func (m Model) SupportedRates() dot11.SupportedRates {
	var rates dot11.SupportedRates
	if m.HTSupported {
		for _, sel := range m.MembershipSelectors {
			rates.AddMembershipSelector(sel)
		}
	}
	for _, mode := range m.Modes {
		rates.AddSupportedRate(mode.DataRate)
	}
	return rates
}

// HTCapabilities builds the HT capabilities element, nil without HT.
func (m Model) HTCapabilities() *dot11.HTCapabilities {
	if !m.HTSupported {
		return nil
	}
	caps := &dot11.HTCapabilities{
		LDPC:       m.LDPC,
		ShortGI20:  m.ShortGuardInterval,
		Greenfield: m.Greenfield,
	}
	for _, mcs := range m.MCS {
		caps.SetRxMCS(mcs)
	}
	return caps
}

// Compatible reports whether a peer's rate set carries every local
// membership selector.
func (m Model) Compatible(rates dot11.SupportedRates) bool {
	for _, sel := range m.MembershipSelectors {
		if !rates.HasMembershipSelector(sel) {
			return false
		}
	}
	return true
}
