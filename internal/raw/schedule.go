package raw

import (
	"errors"
	"fmt"
	"time"

	"rawsim/internal/dot11"
	"rawsim/pkg/types"
)

// AlwaysPermit is the admission threshold that lets every draw through.
const AlwaysPermit uint16 = 1023

// ErrInvalidSlotCount is returned for a RAW announcing zero slots.
var ErrInvalidSlotCount = errors.New("RAW slot count must be at least 1")

// Input is the RAW-related content of one accepted beacon.
type Input struct {
	Assignment  *dot11.RAWAssignment
	AuthControl *dot11.AuthControl
	// Generation identifies the beacon cycle the input came from.
	Generation uint64
}

// InputFromBeacon extracts the scheduler input from a decoded beacon.
func InputFromBeacon(b *dot11.Beacon, generation uint64) Input {
	return Input{
		Assignment:  b.RAW(),
		AuthControl: b.AuthControl,
		Generation:  generation,
	}
}

// Schedule is one station's view of the RAW announced by a beacon.
// It is rebuilt from scratch for every beacon.
type Schedule struct {
	RawActive          bool
	InGroup            bool
	PagedMode          bool
	SlotFormat         uint8
	SlotDurationCount  uint16
	SlotCount          uint8
	SlotDuration       time.Duration
	RawDuration        time.Duration
	SlotIndex          uint16
	SlotOffset         time.Duration
	SlotsPerGroup      uint16
	AdmissionThreshold uint16
	Generation         uint64
}

// Compute derives the schedule of the station holding aid. Membership is a
// pure function of page, range and aid; only the slot index depends on the
// assigner.
func Compute(in Input, aid types.AID, assigner SlotAssigner) (Schedule, error) {
	s := Schedule{
		AdmissionThreshold: AlwaysPermit,
		Generation:         in.Generation,
	}
	if in.AuthControl != nil && !in.AuthControl.Distributed {
		s.AdmissionThreshold = in.AuthControl.Threshold
	}

	a := in.Assignment
	if a == nil {
		return s, nil
	}
	if a.Slot.Count == 0 {
		return s, ErrInvalidSlotCount
	}

	s.RawActive = true
	s.PagedMode = a.Paged()
	s.SlotFormat = a.Slot.Format
	s.SlotDurationCount = a.Slot.DurationCount
	s.SlotCount = a.Slot.Count
	s.SlotDuration = a.SlotDuration()
	s.RawDuration = s.SlotDuration * time.Duration(a.Slot.Count)

	if !Member(a, aid) {
		return s, nil
	}
	s.InGroup = true
	s.SlotsPerGroup = (a.EndAID - a.StartAID + 1) / uint16(a.Slot.Count)
	if assigner == nil {
		return s, fmt.Errorf("no slot assigner for in-group AID %s", aid)
	}
	s.SlotIndex = assigner.AssignSlot(aid, a)
	s.SlotOffset = s.SlotDuration * time.Duration(s.SlotIndex)
	return s, nil
}

// Member reports whether aid is on the assignment's page and inside its
// inclusive AID range.
func Member(a *dot11.RAWAssignment, aid types.AID) bool {
	if aid.Page() != a.Page {
		return false
	}
	idx := aid.Index()
	return a.StartAID <= idx && idx <= a.EndAID
}

// Admitted reports whether a station holding draw may send an association
// or probe request under threshold.
func Admitted(draw, threshold uint16) bool {
	return draw < threshold
}
