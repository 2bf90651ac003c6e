package raw

import (
	"rawsim/pkg/types"
)

// SendHistory is the per-AID bookkeeping shared by every station of one BSS.
// The access point owns it and hands the same instance to each station.
// It is only touched from scheduler callbacks.
type SendHistory struct {
	sent          map[types.AID]uint64
	slot          map[types.AID]uint16
	insideBackoff map[types.AID]bool
}

// NewSendHistory creates an empty history.
func NewSendHistory() *SendHistory {
	return &SendHistory{
		sent:          make(map[types.AID]uint64),
		slot:          make(map[types.AID]uint16),
		insideBackoff: make(map[types.AID]bool),
	}
}

// RecordSent counts one uplink transmission by aid.
func (h *SendHistory) RecordSent(aid types.AID) {
	h.sent[aid]++
}

// Sent returns the number of transmissions recorded for aid.
func (h *SendHistory) Sent(aid types.AID) uint64 {
	return h.sent[aid]
}

// RecordSlot stores the slot most recently assigned to aid.
func (h *SendHistory) RecordSlot(aid types.AID, slot uint16) {
	h.slot[aid] = slot
}

// Slot returns the slot most recently assigned to aid.
func (h *SendHistory) Slot(aid types.AID) (uint16, bool) {
	s, ok := h.slot[aid]
	return s, ok
}

// SetInsideBackoff flags whether aid's slot has elapsed in the current RAW.
func (h *SendHistory) SetInsideBackoff(aid types.AID, v bool) {
	h.insideBackoff[aid] = v
}

// InsideBackoff reports the flag set by SetInsideBackoff.
func (h *SendHistory) InsideBackoff(aid types.AID) bool {
	return h.insideBackoff[aid]
}

// Forget drops every record for aid, used when the AID is released.
func (h *SendHistory) Forget(aid types.AID) {
	delete(h.sent, aid)
	delete(h.slot, aid)
	delete(h.insideBackoff, aid)
}
