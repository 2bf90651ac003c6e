package types

import (
	"fmt"
	"net"
	"time"
)

// AID is the association identifier an access point assigns to a station.
type AID uint16

const (
	// AIDMin and AIDMax bound the assignable identifiers.
	AIDMin AID = 1
	AIDMax AID = 8191
	// AIDUnassociated marks a station that holds no association.
	AIDUnassociated AID = 8192
)

// Valid reports whether the AID is an assignable identifier.
func (a AID) Valid() bool {
	return a >= AIDMin && a <= AIDMax
}

// Page returns the two page bits (bits 11-12) of the AID.
func (a AID) Page() uint8 {
	return uint8((a >> 11) & 0x03)
}

// Index returns the 10-bit position of the AID within its page block.
func (a AID) Index() uint16 {
	return uint16(a) & 0x03ff
}

func (a AID) String() string {
	if a == AIDUnassociated {
		return "unassociated"
	}
	return fmt.Sprintf("%d", uint16(a))
}

// AssocState is the station's association state.
type AssocState int

const (
	Associated AssocState = iota
	BeaconMissed
	WaitProbeResponse
	WaitAssocResponse
	Refused
)

func (s AssocState) String() string {
	switch s {
	case Associated:
		return "Associated"
	case BeaconMissed:
		return "BeaconMissed"
	case WaitProbeResponse:
		return "WaitProbeResponse"
	case WaitAssocResponse:
		return "WaitAssocResponse"
	case Refused:
		return "Refused"
	default:
		return fmt.Sprintf("AssocState(%d)", int(s))
	}
}

// AccessCategory identifies an EDCA traffic class.
type AccessCategory uint8

const (
	ACBestEffort AccessCategory = iota
	ACBackground
	ACVideo
	ACVoice
)

func (ac AccessCategory) String() string {
	switch ac {
	case ACBestEffort:
		return "AC_BE"
	case ACBackground:
		return "AC_BK"
	case ACVideo:
		return "AC_VI"
	case ACVoice:
		return "AC_VO"
	default:
		return fmt.Sprintf("AC(%d)", uint8(ac))
	}
}

// AccessCategoryForTID maps a QoS traffic identifier to its access category.
// Identifiers above 7 carry no valid tag and fall back to best effort.
func AccessCategoryForTID(tid uint8) AccessCategory {
	switch tid {
	case 1, 2:
		return ACBackground
	case 4, 5:
		return ACVideo
	case 6, 7:
		return ACVoice
	default:
		return ACBestEffort
	}
}

// LinkEvent is emitted on the edges into and out of the Associated state.
type LinkEvent struct {
	Station net.HardwareAddr
	BSSID   net.HardwareAddr
	AID     AID
	Up      bool
	At      time.Duration
}

// DeliveryRecord describes one uplink data frame as seen by the access point.
type DeliveryRecord struct {
	Source      net.HardwareAddr
	AID         AID
	Seq         uint32
	GeneratedAt time.Duration
	ReceivedAt  time.Duration
	Size        int
}
