package dot11

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"rawsim/pkg/types"
)

// TU is the 802.11 time unit used by the fixed beacon interval field.
const TU = 1024 * time.Microsecond

const (
	fcsLen       = 4
	psPollLen    = 16
	mgmtHdrLen   = 24
	qosCtrlLen   = 2
	htControlLen = 4
	aidFlagBits  = 0xc000
)

// Broadcast is the group address used by beacons and probe requests.
var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Frame is a decoded MAC frame. Exactly one body field is set for the
// management and control types the MAC handles.
type Frame struct {
	Type     layers.Dot11Type
	Addr1    net.HardwareAddr
	Addr2    net.HardwareAddr
	Addr3    net.HardwareAddr
	Sequence uint16
	ToDS     bool
	FromDS   bool

	Beacon        *Beacon
	ProbeRequest  *ProbeRequest
	AssocRequest  *AssocRequest
	AssocResponse *AssocResponse

	// PS-Poll
	AID types.AID

	// Data
	TID     uint8
	Payload []byte
}

// Beacon is the body of a beacon or probe response.
type Beacon struct {
	Timestamp   uint64
	Interval    time.Duration
	Capability  uint16
	SSID        string
	Rates       SupportedRates
	HT          *HTCapabilities
	RPS         []RAWAssignment
	AuthControl *AuthControl
}

// RAW returns the first RAW assignment, or nil when the beacon has none.
func (b *Beacon) RAW() *RAWAssignment {
	if len(b.RPS) == 0 {
		return nil
	}
	return &b.RPS[0]
}

// ProbeRequest is the body of a probe request.
type ProbeRequest struct {
	SSID  string
	Rates SupportedRates
	HT    *HTCapabilities
}

// AssocRequest is the body of an association request.
type AssocRequest struct {
	Capability     uint16
	ListenInterval uint16
	SSID           string
	Rates          SupportedRates
	HT             *HTCapabilities
}

// AssocResponse is the body of an association response.
type AssocResponse struct {
	Capability uint16
	Status     layers.Dot11Status
	AID        types.AID
	Rates      SupportedRates
	HT         *HTCapabilities
}

// IsGroup reports whether the first address is a group address.
func (f *Frame) IsGroup() bool {
	return len(f.Addr1) > 0 && f.Addr1[0]&0x01 != 0
}

// IsData reports whether the frame is any data subtype.
func (f *Frame) IsData() bool {
	return f.Type.MainType() == layers.Dot11TypeData
}

// EncodeFrame serializes f with gopacket and appends the FCS.
func EncodeFrame(f *Frame) ([]byte, error) {
	hdr := &layers.Dot11{
		Type:           f.Type,
		Address1:       f.Addr1,
		Address2:       f.Addr2,
		Address3:       f.Addr3,
		SequenceNumber: f.Sequence & 0x0fff,
	}
	if f.ToDS {
		hdr.Flags |= layers.Dot11FlagsToDS
	}
	if f.FromDS {
		hdr.Flags |= layers.Dot11FlagsFromDS
	}

	stack := []gopacket.SerializableLayer{hdr}
	switch f.Type {
	case layers.Dot11TypeMgmtBeacon, layers.Dot11TypeMgmtProbeResp:
		if f.Beacon == nil {
			return nil, fmt.Errorf("%s frame without beacon body", TypeName(f.Type))
		}
		ies, err := f.Beacon.elements()
		if err != nil {
			return nil, err
		}
		fixedInterval := uint16(f.Beacon.Interval / TU)
		if f.Type == layers.Dot11TypeMgmtBeacon {
			stack = append(stack, &layers.Dot11MgmtBeacon{
				Timestamp: f.Beacon.Timestamp,
				Interval:  fixedInterval,
				Flags:     f.Beacon.Capability,
			})
		} else {
			stack = append(stack, &layers.Dot11MgmtProbeResp{
				Timestamp: f.Beacon.Timestamp,
				Interval:  fixedInterval,
				Flags:     f.Beacon.Capability,
			})
		}
		stack = append(stack, gopacket.Payload(ies))
	case layers.Dot11TypeMgmtProbeReq:
		if f.ProbeRequest == nil {
			return nil, fmt.Errorf("%s frame without body", TypeName(f.Type))
		}
		ies, err := encodeElements(capabilityElements(f.ProbeRequest.SSID, f.ProbeRequest.Rates, f.ProbeRequest.HT))
		if err != nil {
			return nil, err
		}
		stack = append(stack, gopacket.Payload(ies))
	case layers.Dot11TypeMgmtAssociationReq:
		req := f.AssocRequest
		if req == nil {
			return nil, fmt.Errorf("%s frame without body", TypeName(f.Type))
		}
		ies, err := encodeElements(capabilityElements(req.SSID, req.Rates, req.HT))
		if err != nil {
			return nil, err
		}
		stack = append(stack,
			&layers.Dot11MgmtAssociationReq{CapabilityInfo: req.Capability, ListenInterval: req.ListenInterval},
			gopacket.Payload(ies))
	case layers.Dot11TypeMgmtAssociationResp:
		resp := f.AssocResponse
		if resp == nil {
			return nil, fmt.Errorf("%s frame without body", TypeName(f.Type))
		}
		elems := resp.Rates.elements()
		if resp.HT != nil {
			elems = append(elems, Element{ID: ElementHTCapabilities, Info: resp.HT.encode()})
		}
		ies, err := encodeElements(elems)
		if err != nil {
			return nil, err
		}
		stack = append(stack,
			&layers.Dot11MgmtAssociationResp{
				CapabilityInfo: resp.Capability,
				Status:         resp.Status,
				AID:            uint16(resp.AID) | aidFlagBits,
			},
			gopacket.Payload(ies))
	case layers.Dot11TypeCtrlPowersavePoll:
		hdr.DurationID = uint16(f.AID) | aidFlagBits
	case layers.Dot11TypeDataQOSData:
		body := make([]byte, 0, qosCtrlLen+len(f.Payload))
		body = append(body, f.TID&0x0f, 0)
		body = append(body, f.Payload...)
		stack = append(stack, gopacket.Payload(body))
	case layers.Dot11TypeData:
		stack = append(stack, gopacket.Payload(f.Payload))
	default:
		return nil, fmt.Errorf("unsupported frame type %s", TypeName(f.Type))
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, stack...); err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", TypeName(f.Type), err)
	}
	raw := buf.Bytes()
	if f.Type == layers.Dot11TypeCtrlPowersavePoll {
		// the header layer always reserves a full management-sized header
		raw = raw[:psPollLen]
	}
	out := make([]byte, len(raw), len(raw)+fcsLen)
	copy(out, raw)
	return binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(out)), nil
}

// DecodeFrame parses a frame including its trailing FCS.
func DecodeFrame(data []byte) (*Frame, error) {
	if err := checkHeaderLength(data); err != nil {
		return nil, err
	}
	var hdr layers.Dot11
	if err := hdr.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !hdr.ChecksumValid() {
		return nil, fmt.Errorf("%w: FCS mismatch on %s", ErrMalformed, TypeName(hdr.Type))
	}

	f := &Frame{
		Type:     hdr.Type,
		Addr1:    cloneAddr(hdr.Address1),
		Addr2:    cloneAddr(hdr.Address2),
		Addr3:    cloneAddr(hdr.Address3),
		Sequence: hdr.SequenceNumber,
		ToDS:     hdr.Flags.ToDS(),
		FromDS:   hdr.Flags.FromDS(),
	}

	var err error
	switch hdr.Type {
	case layers.Dot11TypeMgmtBeacon:
		var body layers.Dot11MgmtBeacon
		if err = body.DecodeFromBytes(hdr.Payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		f.Beacon, err = decodeBeacon(body.Timestamp, body.Interval, body.Flags, body.Payload)
	case layers.Dot11TypeMgmtProbeResp:
		var body layers.Dot11MgmtProbeResp
		if err = body.DecodeFromBytes(hdr.Payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		f.Beacon, err = decodeBeacon(body.Timestamp, body.Interval, body.Flags, body.Payload)
	case layers.Dot11TypeMgmtProbeReq:
		f.ProbeRequest = &ProbeRequest{}
		err = decodeCapabilities(hdr.Payload, &f.ProbeRequest.SSID, &f.ProbeRequest.Rates, &f.ProbeRequest.HT)
	case layers.Dot11TypeMgmtAssociationReq:
		var body layers.Dot11MgmtAssociationReq
		if err = body.DecodeFromBytes(hdr.Payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		req := &AssocRequest{Capability: body.CapabilityInfo, ListenInterval: body.ListenInterval}
		err = decodeCapabilities(body.Payload, &req.SSID, &req.Rates, &req.HT)
		f.AssocRequest = req
	case layers.Dot11TypeMgmtAssociationResp:
		f.AssocResponse, err = decodeAssocResponse(hdr.Payload)
	case layers.Dot11TypeCtrlPowersavePoll:
		f.AID = types.AID(hdr.DurationID &^ aidFlagBits)
	case layers.Dot11TypeDataQOSData:
		if hdr.QOS != nil {
			f.TID = hdr.QOS.TID
		}
		f.Payload = append([]byte(nil), hdr.Payload...)
	case layers.Dot11TypeData:
		f.Payload = append([]byte(nil), hdr.Payload...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", TypeName(hdr.Type), err)
	}
	return f, nil
}

// checkHeaderLength guards the header decoder, which slices the FCS off
// without checking that the header fits.
func checkHeaderLength(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: frame of %d bytes", ErrMalformed, len(data))
	}
	t := layers.Dot11Type(data[0]>>2) & 0x3f
	flags := layers.Dot11Flags(data[1])
	need := 10
	switch t.MainType() {
	case layers.Dot11TypeCtrl:
		if t == layers.Dot11TypeCtrlPowersavePoll {
			need = psPollLen
		}
	case layers.Dot11TypeMgmt, layers.Dot11TypeData:
		need = mgmtHdrLen
		if t.MainType() == layers.Dot11TypeData && flags.ToDS() && flags.FromDS() {
			need += 6
		}
	}
	if t.QOS() {
		need += qosCtrlLen
	}
	if flags.Order() && (t.QOS() || t.MainType() == layers.Dot11TypeMgmt) {
		need += htControlLen
	}
	need += fcsLen
	if len(data) < need {
		return fmt.Errorf("%w: %s frame of %d bytes, need at least %d", ErrMalformed, TypeName(t), len(data), need)
	}
	return nil
}

func (b *Beacon) elements() ([]byte, error) {
	elems := capabilityElements(b.SSID, b.Rates, b.HT)
	elems = append(elems, Element{ID: ElementBeaconCompatibility, Info: encodeBeaconCompatibility(b.Capability, b.Interval)})
	if len(b.RPS) > 0 {
		var info []byte
		for i := range b.RPS {
			enc, err := b.RPS[i].Encode()
			if err != nil {
				return nil, fmt.Errorf("failed to encode RAW assignment %d: %w", i, err)
			}
			info = append(info, enc...)
		}
		elems = append(elems, Element{ID: ElementRPS, Info: info})
	}
	if b.AuthControl != nil {
		elems = append(elems, Element{ID: ElementAuthControl, Info: b.AuthControl.Encode()})
	}
	return encodeElements(elems)
}

func capabilityElements(ssid string, rates SupportedRates, ht *HTCapabilities) []Element {
	elems := []Element{{ID: ElementSSID, Info: []byte(ssid)}}
	elems = append(elems, rates.elements()...)
	if ht != nil {
		elems = append(elems, Element{ID: ElementHTCapabilities, Info: ht.encode()})
	}
	return elems
}

func decodeCapabilities(ies []byte, ssid *string, rates *SupportedRates, ht **HTCapabilities) error {
	return IterateElements(ies, func(id uint8, info []byte) error {
		switch id {
		case ElementSSID:
			*ssid = string(info)
		case ElementRates, ElementExtendedRates:
			rates.decode(info)
		case ElementHTCapabilities:
			h, err := decodeHTCapabilities(info)
			if err != nil {
				return err
			}
			*ht = h
		}
		return nil
	})
}

func decodeBeacon(ts uint64, interval, capability uint16, ies []byte) (*Beacon, error) {
	b := &Beacon{
		Timestamp:  ts,
		Interval:   time.Duration(interval) * TU,
		Capability: capability,
	}
	err := IterateElements(ies, func(id uint8, info []byte) error {
		switch id {
		case ElementSSID:
			b.SSID = string(info)
		case ElementRates, ElementExtendedRates:
			b.Rates.decode(info)
		case ElementHTCapabilities:
			h, err := decodeHTCapabilities(info)
			if err != nil {
				return err
			}
			b.HT = h
		case ElementBeaconCompatibility:
			d, err := decodeBeaconCompatibility(info)
			if err != nil {
				return err
			}
			b.Interval = d
		case ElementRPS:
			rps, err := decodeRPS(info)
			if err != nil {
				return err
			}
			b.RPS = rps
		case ElementAuthControl:
			ac, err := DecodeAuthControl(info)
			if err != nil {
				return err
			}
			b.AuthControl = ac
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func decodeAssocResponse(payload []byte) (*AssocResponse, error) {
	var body layers.Dot11MgmtAssociationResp
	if err := body.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	resp := &AssocResponse{
		Capability: body.CapabilityInfo,
		Status:     body.Status,
		AID:        types.AID(body.AID &^ aidFlagBits),
	}
	if resp.Status == layers.Dot11StatusSuccess && !resp.AID.Valid() {
		return nil, fmt.Errorf("%w: association response carries AID %d outside [%d, %d]",
			ErrMalformed, uint16(resp.AID), types.AIDMin, types.AIDMax)
	}
	var ssid string
	if err := decodeCapabilities(body.Payload, &ssid, &resp.Rates, &resp.HT); err != nil {
		return nil, err
	}
	return resp, nil
}

func cloneAddr(a net.HardwareAddr) net.HardwareAddr {
	if a == nil {
		return nil
	}
	return append(net.HardwareAddr(nil), a...)
}

// TypeName returns a short human-readable name for a frame type.
func TypeName(t layers.Dot11Type) string {
	switch t {
	case layers.Dot11TypeMgmtBeacon:
		return "Beacon"
	case layers.Dot11TypeMgmtProbeReq:
		return "ProbeRequest"
	case layers.Dot11TypeMgmtProbeResp:
		return "ProbeResponse"
	case layers.Dot11TypeMgmtAssociationReq:
		return "AssociationRequest"
	case layers.Dot11TypeMgmtAssociationResp:
		return "AssociationResponse"
	case layers.Dot11TypeCtrlPowersavePoll:
		return "PSPoll"
	case layers.Dot11TypeData:
		return "Data"
	case layers.Dot11TypeDataQOSData:
		return "QoSData"
	default:
		return fmt.Sprintf("Type(0x%02x)", uint8(t))
	}
}
