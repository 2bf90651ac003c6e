package raw

import (
	"fmt"

	"rawsim/internal/dot11"
	"rawsim/pkg/types"
)

// SlotAssigner picks the slot index an in-group station contends in.
type SlotAssigner interface {
	AssignSlot(aid types.AID, a *dot11.RAWAssignment) uint16
}

// SendHistoryAssigner puts stations that already transmitted into slot 0
// and everyone else into slot 1.
type SendHistoryAssigner struct {
	History *SendHistory
}

// AssignSlot implements SlotAssigner.
func (s SendHistoryAssigner) AssignSlot(aid types.AID, _ *dot11.RAWAssignment) uint16 {
	if s.History != nil && s.History.Sent(aid) >= 1 {
		return 0
	}
	return 1
}

// ModuloAssigner spreads the group round robin over the slots.
type ModuloAssigner struct {
	Offset uint16
}

// AssignSlot implements SlotAssigner.
func (m ModuloAssigner) AssignSlot(aid types.AID, a *dot11.RAWAssignment) uint16 {
	return (aid.Index() + m.Offset) % uint16(a.Slot.Count)
}

// BlockAssigner gives each slot a contiguous block of the group range.
type BlockAssigner struct{}

// AssignSlot implements SlotAssigner.
func (BlockAssigner) AssignSlot(aid types.AID, a *dot11.RAWAssignment) uint16 {
	count := uint16(a.Slot.Count)
	perSlot := (a.EndAID - a.StartAID + 1) / count
	if perSlot == 0 {
		perSlot = 1
	}
	slot := (aid.Index() - a.StartAID) / perSlot
	if slot >= count {
		slot = count - 1
	}
	return slot
}

// NewAssigner builds a strategy by name.
func NewAssigner(name string, history *SendHistory, offset uint16) (SlotAssigner, error) {
	switch name {
	case "", "send-history":
		return SendHistoryAssigner{History: history}, nil
	case "modulo":
		return ModuloAssigner{Offset: offset}, nil
	case "block":
		return BlockAssigner{}, nil
	default:
		return nil, fmt.Errorf("unknown slot assignment strategy: %s", name)
	}
}
