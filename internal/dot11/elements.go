package dot11

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
)

// ErrMalformed marks a frame or element that cannot be decoded.
var ErrMalformed = errors.New("malformed 802.11 frame")

// Element identifiers understood by the codec.
const (
	ElementSSID                = uint8(layers.Dot11InformationElementIDSSID)
	ElementRates               = uint8(layers.Dot11InformationElementIDRates)
	ElementHTCapabilities      = uint8(layers.Dot11InformationElementIDHTCapabilities)
	ElementExtendedRates       = uint8(50)
	ElementRPS                 = uint8(208)
	ElementBeaconCompatibility = uint8(213)
	ElementAuthControl         = uint8(222)
)

// Element is one raw information element.
type Element struct {
	ID   uint8
	Info []byte
}

// IterateElements walks a tagged-parameter block and calls fn for every
// element. A truncated trailing element is reported as ErrMalformed.
func IterateElements(data []byte, fn func(id uint8, info []byte) error) error {
	for off := 0; off < len(data); {
		if off+2 > len(data) {
			return fmt.Errorf("%w: truncated element header at offset %d", ErrMalformed, off)
		}
		id := data[off]
		length := int(data[off+1])
		if off+2+length > len(data) {
			return fmt.Errorf("%w: element %d length %d exceeds remaining %d bytes",
				ErrMalformed, id, length, len(data)-off-2)
		}
		if err := fn(id, data[off+2:off+2+length]); err != nil {
			return err
		}
		off += 2 + length
	}
	return nil
}

// encodeElements produces the tagged-parameter block for elems in order.
func encodeElements(elems []Element) ([]byte, error) {
	var out []byte
	for _, e := range elems {
		if len(e.Info) > 255 {
			return nil, fmt.Errorf("element %d too long: %d bytes", e.ID, len(e.Info))
		}
		out = append(out, e.ID, uint8(len(e.Info)))
		out = append(out, e.Info...)
	}
	return out, nil
}

// Rates are carried in units of 500 kbit/s, the high bit flags a basic rate.
const (
	rateUnit     = 500000
	rateBasicBit = 0x80
	maxRatesIE   = 8
)

// SupportedRates is the rate set advertised in a Supported Rates element.
type SupportedRates struct {
	values []uint8
}

// AddSupportedRate adds a rate in bit/s.
func (r *SupportedRates) AddSupportedRate(bps uint64) {
	if r.IsSupportedRate(bps) {
		return
	}
	r.values = append(r.values, uint8(bps/rateUnit)&0x7f)
}

// SetBasicRate adds a rate in bit/s and marks it basic.
func (r *SupportedRates) SetBasicRate(bps uint64) {
	v := uint8(bps/rateUnit) & 0x7f
	for i, cur := range r.values {
		if cur&0x7f == v {
			r.values[i] |= rateBasicBit
			return
		}
	}
	r.values = append(r.values, v|rateBasicBit)
}

// AddMembershipSelector advertises a BSS membership selector.
func (r *SupportedRates) AddMembershipSelector(sel uint8) {
	if r.HasMembershipSelector(sel) {
		return
	}
	r.values = append(r.values, sel|rateBasicBit)
}

// IsSupportedRate reports whether bps is in the set.
func (r SupportedRates) IsSupportedRate(bps uint64) bool {
	v := uint8(bps/rateUnit) & 0x7f
	for _, cur := range r.values {
		if cur&0x7f == v {
			return true
		}
	}
	return false
}

// IsBasicRate reports whether bps is in the set and flagged basic.
func (r SupportedRates) IsBasicRate(bps uint64) bool {
	v := uint8(bps/rateUnit) & 0x7f
	for _, cur := range r.values {
		if cur&0x7f == v {
			return cur&rateBasicBit != 0
		}
	}
	return false
}

// HasMembershipSelector reports whether sel is advertised.
func (r SupportedRates) HasMembershipSelector(sel uint8) bool {
	for _, cur := range r.values {
		if cur == sel|rateBasicBit {
			return true
		}
	}
	return false
}

// Len returns the number of entries, selectors included.
func (r SupportedRates) Len() int { return len(r.values) }

func (r SupportedRates) elements() []Element {
	if len(r.values) == 0 {
		return []Element{{ID: ElementRates}}
	}
	first := r.values
	var rest []uint8
	if len(first) > maxRatesIE {
		first, rest = r.values[:maxRatesIE], r.values[maxRatesIE:]
	}
	elems := []Element{{ID: ElementRates, Info: append([]byte(nil), first...)}}
	if len(rest) > 0 {
		elems = append(elems, Element{ID: ElementExtendedRates, Info: append([]byte(nil), rest...)})
	}
	return elems
}

func (r *SupportedRates) decode(info []byte) {
	r.values = append(r.values, info...)
}

const htCapabilitiesLen = 26

// HTCapabilities is the subset of the HT Capabilities element the MAC uses.
type HTCapabilities struct {
	LDPC       bool
	Greenfield bool
	ShortGI20  bool
	rxMCS      [10]byte
}

// SetRxMCS marks an MCS index as supported for reception.
func (h *HTCapabilities) SetRxMCS(mcs uint8) {
	if mcs >= 77 {
		return
	}
	h.rxMCS[mcs/8] |= 1 << (mcs % 8)
}

// IsSupportedMCS reports whether the peer receives the given MCS index.
func (h *HTCapabilities) IsSupportedMCS(mcs uint8) bool {
	if mcs >= 77 {
		return false
	}
	return h.rxMCS[mcs/8]&(1<<(mcs%8)) != 0
}

func (h *HTCapabilities) encode() []byte {
	info := make([]byte, htCapabilitiesLen)
	var capInfo uint16
	if h.LDPC {
		capInfo |= 1 << 0
	}
	if h.Greenfield {
		capInfo |= 1 << 4
	}
	if h.ShortGI20 {
		capInfo |= 1 << 5
	}
	binary.LittleEndian.PutUint16(info[0:2], capInfo)
	copy(info[3:13], h.rxMCS[:])
	return info
}

func decodeHTCapabilities(info []byte) (*HTCapabilities, error) {
	if len(info) < htCapabilitiesLen {
		return nil, fmt.Errorf("%w: HT capabilities length %d, need %d", ErrMalformed, len(info), htCapabilitiesLen)
	}
	capInfo := binary.LittleEndian.Uint16(info[0:2])
	h := &HTCapabilities{
		LDPC:       capInfo&(1<<0) != 0,
		Greenfield: capInfo&(1<<4) != 0,
		ShortGI20:  capInfo&(1<<5) != 0,
	}
	copy(h.rxMCS[:], info[3:13])
	h.rxMCS[9] &= 0x1f
	return h, nil
}

// The S1G beacon compatibility element carries the beacon interval in
// microseconds, which is finer than the TU-based fixed field.
const beaconCompatibilityLen = 6

func encodeBeaconCompatibility(capability uint16, interval time.Duration) []byte {
	info := make([]byte, beaconCompatibilityLen)
	binary.LittleEndian.PutUint16(info[0:2], capability)
	binary.LittleEndian.PutUint32(info[2:6], uint32(interval/time.Microsecond))
	return info
}

func decodeBeaconCompatibility(info []byte) (time.Duration, error) {
	if len(info) < beaconCompatibilityLen {
		return 0, fmt.Errorf("%w: beacon compatibility length %d, need %d", ErrMalformed, len(info), beaconCompatibilityLen)
	}
	return time.Duration(binary.LittleEndian.Uint32(info[2:6])) * time.Microsecond, nil
}
