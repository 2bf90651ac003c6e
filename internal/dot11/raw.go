package dot11

import (
	"encoding/binary"
	"fmt"
	"time"
)

// RawTypeGeneric is the raw type index of a generic RAW. A generic RAW
// restricts contention to paged stations.
const RawTypeGeneric = 4

// RAWAssignmentLen is the size of one RAW assignment inside an RPS element.
const RAWAssignmentLen = 13

// SlotDefinition is the decoded 16-bit RAW slot definition word.
type SlotDefinition struct {
	Format        uint8
	CrossBoundary bool
	DurationCount uint16
	Count         uint8
}

// DecodeSlotDefinition unpacks a slot definition word. Format 0 carries an
// 8-bit duration count and a 6-bit slot count, format 1 an 11-bit duration
// count and a 3-bit slot count.
func DecodeSlotDefinition(word uint16) (SlotDefinition, error) {
	sd := SlotDefinition{
		Format:        uint8(word >> 15 & 0x1),
		CrossBoundary: word>>14&0x1 == 1,
	}
	if sd.Format == 0 {
		sd.DurationCount = word >> 6 & 0xff
		sd.Count = uint8(word & 0x3f)
	} else {
		sd.DurationCount = word >> 3 & 0x7ff
		sd.Count = uint8(word & 0x07)
	}
	if sd.Count == 0 {
		return sd, fmt.Errorf("%w: RAW slot count is zero (slot word 0x%04x)", ErrMalformed, word)
	}
	return sd, nil
}

// EncodeSlotDefinition packs sd into its 16-bit word.
func EncodeSlotDefinition(sd SlotDefinition) (uint16, error) {
	var word uint16
	switch sd.Format {
	case 0:
		if sd.DurationCount > 0xff || sd.Count > 0x3f {
			return 0, fmt.Errorf("slot definition out of range for format 0: duration count %d, slot count %d",
				sd.DurationCount, sd.Count)
		}
		word = sd.DurationCount<<6 | uint16(sd.Count)
	case 1:
		if sd.DurationCount > 0x7ff || sd.Count > 0x07 {
			return 0, fmt.Errorf("slot definition out of range for format 1: duration count %d, slot count %d",
				sd.DurationCount, sd.Count)
		}
		word = 1<<15 | sd.DurationCount<<3 | uint16(sd.Count)
	default:
		return 0, fmt.Errorf("unknown slot format %d", sd.Format)
	}
	if sd.Count == 0 {
		return 0, fmt.Errorf("slot count must be at least 1")
	}
	if sd.CrossBoundary {
		word |= 1 << 14
	}
	return word, nil
}

// RAWAssignment is one restricted access window announced in an RPS element.
type RAWAssignment struct {
	RawType        uint8
	Slot           SlotDefinition
	StartTime      uint8
	Page           uint8
	StartAID       uint16
	EndAID         uint16
	Channel        [5]byte
	SlotDurationMs uint8
}

// Paged reports whether this is a generic RAW.
func (a *RAWAssignment) Paged() bool {
	return a.RawType == RawTypeGeneric
}

// SlotDuration is the per-slot length carried in the trailing duration byte.
func (a *RAWAssignment) SlotDuration() time.Duration {
	return time.Duration(a.SlotDurationMs) * time.Millisecond
}

// groupWord packs page, start and end into the 24-bit RAW group field.
func (a *RAWAssignment) groupWord() uint32 {
	return uint32(a.Page&0x3) | uint32(a.StartAID&0x3ff)<<2 | uint32(a.EndAID&0x3ff)<<13
}

// DecodeRAWAssignment parses one 13-byte RAW assignment.
func DecodeRAWAssignment(b []byte) (*RAWAssignment, error) {
	if len(b) < RAWAssignmentLen {
		return nil, fmt.Errorf("%w: RAW assignment length %d, need %d", ErrMalformed, len(b), RAWAssignmentLen)
	}
	slot, err := DecodeSlotDefinition(binary.LittleEndian.Uint16(b[1:3]))
	if err != nil {
		return nil, err
	}
	group := uint32(b[6])<<16 | uint32(b[5])<<8 | uint32(b[4])
	a := &RAWAssignment{
		RawType:        b[0] & 0x07,
		Slot:           slot,
		StartTime:      b[3],
		Page:           uint8(group & 0x3),
		StartAID:       uint16(group >> 2 & 0x3ff),
		EndAID:         uint16(group >> 13 & 0x3ff),
		SlotDurationMs: b[12],
	}
	copy(a.Channel[:], b[7:12])
	if a.StartAID > a.EndAID {
		return nil, fmt.Errorf("%w: RAW group start %d after end %d", ErrMalformed, a.StartAID, a.EndAID)
	}
	return a, nil
}

// Encode packs the assignment into its 13-byte wire form.
func (a *RAWAssignment) Encode() ([]byte, error) {
	if a.StartAID > 0x3ff || a.EndAID > 0x3ff || a.StartAID > a.EndAID {
		return nil, fmt.Errorf("invalid RAW group range [%d, %d]", a.StartAID, a.EndAID)
	}
	word, err := EncodeSlotDefinition(a.Slot)
	if err != nil {
		return nil, err
	}
	b := make([]byte, RAWAssignmentLen)
	b[0] = a.RawType & 0x07
	binary.LittleEndian.PutUint16(b[1:3], word)
	b[3] = a.StartTime
	g := a.groupWord()
	b[4], b[5], b[6] = byte(g), byte(g>>8), byte(g>>16)
	copy(b[7:12], a.Channel[:])
	b[12] = a.SlotDurationMs
	return b, nil
}

// decodeRPS splits an RPS element into its RAW assignments.
func decodeRPS(info []byte) ([]RAWAssignment, error) {
	if len(info) == 0 || len(info)%RAWAssignmentLen != 0 {
		return nil, fmt.Errorf("%w: RPS element length %d is not a multiple of %d",
			ErrMalformed, len(info), RAWAssignmentLen)
	}
	out := make([]RAWAssignment, 0, len(info)/RAWAssignmentLen)
	for off := 0; off < len(info); off += RAWAssignmentLen {
		a, err := DecodeRAWAssignment(info[off : off+RAWAssignmentLen])
		if err != nil {
			return nil, fmt.Errorf("RAW assignment %d: %w", off/RAWAssignmentLen, err)
		}
		out = append(out, *a)
	}
	return out, nil
}

// AuthControl is the S1G authentication control element.
type AuthControl struct {
	// Distributed is false for centralized admission control.
	Distributed bool
	Threshold   uint16
}

// DecodeAuthControl parses the 2-byte authentication control field.
func DecodeAuthControl(b []byte) (*AuthControl, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: authentication control length %d, need 2", ErrMalformed, len(b))
	}
	v := binary.LittleEndian.Uint16(b[0:2])
	return &AuthControl{
		Distributed: v&0x1 != 0,
		Threshold:   v >> 1 & 0x3ff,
	}, nil
}

// Encode packs the field into 2 bytes.
func (c *AuthControl) Encode() []byte {
	v := (c.Threshold & 0x3ff) << 1
	if c.Distributed {
		v |= 1
	}
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}
