package mac

import (
	"encoding/binary"
	"fmt"

	"github.com/doismellburning/lpwan"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Bit-exact IEEE 802.15.4-style MAC frame codec (spec.md
 *		section 6.3): frame control field, addressing, beacon/
 *		command/data/ack content, and the Packet constructors the
 *		MAC engine drives.
 *
 * Description:	original_source/src/mac_802154/packet.rs builds its
 *		Packet on top of the external `ieee802154` Rust crate's
 *		Header/FrameContent codec, which has no Go counterpart
 *		anywhere in the retrieved pack - the frame control field
 *		and superframe specification bit layouts below are this
 *		module's own from-scratch, bit-exact implementation of the
 *		802.15.4 wire format spec.md section 6.3 describes.
 *
 *------------------------------------------------------------------*/

// MaxPayloadLen matches the RawPacket capacity the radio base hands up.
const MaxPayloadLen = lpwan.RawPacketSize

// FrameType is the 3-bit frame type field of the frame control field.
type FrameType uint8

const (
	FrameTypeBeacon  FrameType = 0
	FrameTypeData    FrameType = 1
	FrameTypeAck     FrameType = 2
	FrameTypeCommand FrameType = 3
)

// FrameVersion is the 2-bit frame version field.
type FrameVersion uint8

const (
	FrameVersion2003 FrameVersion = 0
	FrameVersion2006 FrameVersion = 1
)

// Header is the MAC header fields common to every frame (spec.md section 3,
// "MAC Frame").
type Header struct {
	FrameType     FrameType
	Security      bool
	FramePending  bool
	AckRequest    bool
	PANIDCompress bool
	Version       FrameVersion
	Destination   Address
	Source        Address
	Seq           uint8
}

// addrModeBits maps an AddressMode to its 2-bit wire encoding (802.15.4:
// 0b00 = none, 0b10 = short, 0b11 = extended; 0b01 is reserved).
func addrModeBits(m AddressMode) uint16 {
	switch m {
	case AddressShort:
		return 0x2
	case AddressExtended:
		return 0x3
	default:
		return 0x0
	}
}

func addrModeFromBits(b uint16) AddressMode {
	switch b {
	case 0x2:
		return AddressShort
	case 0x3:
		return AddressExtended
	default:
		return AddressNone
	}
}

// fcf packs the frame control field (spec.md section 6.3).
//
//	bits 0-2   frame type
//	bit  3     security
//	bit  4     frame pending
//	bit  5     ack request
//	bit  6     pan id compress
//	bits 7-9   reserved
//	bits 10-11 destination addressing mode
//	bits 12-13 frame version
//	bits 14-15 source addressing mode
func (h Header) fcf() uint16 {
	var v uint16
	v |= uint16(h.FrameType) & 0x7
	if h.Security {
		v |= 1 << 3
	}
	if h.FramePending {
		v |= 1 << 4
	}
	if h.AckRequest {
		v |= 1 << 5
	}
	if h.PANIDCompress {
		v |= 1 << 6
	}
	v |= addrModeBits(h.Destination.Mode) << 10
	v |= uint16(h.Version&0x3) << 12
	v |= addrModeBits(h.Source.Mode) << 14
	return v
}

// Encode writes the header into buf, returning the number of bytes used.
func (h Header) Encode(buf []byte) int {
	binary.LittleEndian.PutUint16(buf[0:2], h.fcf())
	buf[2] = h.Seq
	n := 3

	if h.Destination.Mode != AddressNone {
		binary.LittleEndian.PutUint16(buf[n:n+2], h.Destination.PANID)
		n += 2
		switch h.Destination.Mode {
		case AddressShort:
			binary.LittleEndian.PutUint16(buf[n:n+2], h.Destination.Short)
			n += 2
		case AddressExtended:
			binary.LittleEndian.PutUint64(buf[n:n+8], h.Destination.Extended)
			n += 8
		}
	}

	if h.Source.Mode != AddressNone {
		if !h.PANIDCompress {
			binary.LittleEndian.PutUint16(buf[n:n+2], h.Source.PANID)
			n += 2
		}
		switch h.Source.Mode {
		case AddressShort:
			binary.LittleEndian.PutUint16(buf[n:n+2], h.Source.Short)
			n += 2
		case AddressExtended:
			binary.LittleEndian.PutUint64(buf[n:n+8], h.Source.Extended)
			n += 8
		}
	}

	return n
}

// DecodeHeader parses a header from buf, returning the header and the
// number of bytes consumed.
func DecodeHeader(buf []byte) (Header, int, error) {
	if len(buf) < 3 {
		return Header{}, 0, fmt.Errorf("mac: short header (%d bytes)", len(buf))
	}

	fcfv := binary.LittleEndian.Uint16(buf[0:2])
	h := Header{
		FrameType:     FrameType(fcfv & 0x7),
		Security:      fcfv&(1<<3) != 0,
		FramePending:  fcfv&(1<<4) != 0,
		AckRequest:    fcfv&(1<<5) != 0,
		PANIDCompress: fcfv&(1<<6) != 0,
		Version:       FrameVersion((fcfv >> 12) & 0x3),
		Seq:           buf[2],
	}
	destMode := addrModeFromBits((fcfv >> 10) & 0x3)
	srcMode := addrModeFromBits((fcfv >> 14) & 0x3)

	n := 3
	var destPAN uint16
	if destMode != AddressNone {
		if len(buf) < n+2 {
			return Header{}, 0, fmt.Errorf("mac: short dest PAN")
		}
		destPAN = binary.LittleEndian.Uint16(buf[n : n+2])
		n += 2
		switch destMode {
		case AddressShort:
			if len(buf) < n+2 {
				return Header{}, 0, fmt.Errorf("mac: short dest short-addr")
			}
			h.Destination = ShortAddress(destPAN, binary.LittleEndian.Uint16(buf[n:n+2]))
			n += 2
		case AddressExtended:
			if len(buf) < n+8 {
				return Header{}, 0, fmt.Errorf("mac: short dest ext-addr")
			}
			h.Destination = ExtendedAddress(destPAN, binary.LittleEndian.Uint64(buf[n:n+8]))
			n += 8
		}
	}

	if srcMode != AddressNone {
		srcPAN := destPAN
		if !h.PANIDCompress {
			if len(buf) < n+2 {
				return Header{}, 0, fmt.Errorf("mac: short src PAN")
			}
			srcPAN = binary.LittleEndian.Uint16(buf[n : n+2])
			n += 2
		}
		switch srcMode {
		case AddressShort:
			if len(buf) < n+2 {
				return Header{}, 0, fmt.Errorf("mac: short src short-addr")
			}
			h.Source = ShortAddress(srcPAN, binary.LittleEndian.Uint16(buf[n:n+2]))
			n += 2
		case AddressExtended:
			if len(buf) < n+8 {
				return Header{}, 0, fmt.Errorf("mac: short src ext-addr")
			}
			h.Source = ExtendedAddress(srcPAN, binary.LittleEndian.Uint64(buf[n:n+8]))
			n += 8
		}
	}

	return h, n, nil
}

// SuperframeSpecification encodes a beacon's superframe description
// (spec.md section 6.3): beacon/superframe order, pan-coordinator,
// battery-life-extension and association-permit flags, final CAP slot.
type SuperframeSpecification struct {
	BeaconOrder           uint8
	SuperframeOrder       uint8
	FinalCAPSlot          uint8
	BatteryLifeExtension  bool
	PANCoordinator        bool
	AssociationPermit     bool
}

// Encode packs the superframe specification into 2 little-endian bytes:
//
//	bits 0-3   beacon order
//	bits 4-7   superframe order
//	bits 8-11  final CAP slot
//	bit  12    battery life extension
//	bit  13    reserved
//	bit  14    pan coordinator
//	bit  15    association permit
func (s SuperframeSpecification) Encode() uint16 {
	var v uint16
	v |= uint16(s.BeaconOrder&0xF)
	v |= uint16(s.SuperframeOrder&0xF) << 4
	v |= uint16(s.FinalCAPSlot&0xF) << 8
	if s.BatteryLifeExtension {
		v |= 1 << 12
	}
	if s.PANCoordinator {
		v |= 1 << 14
	}
	if s.AssociationPermit {
		v |= 1 << 15
	}
	return v
}

func DecodeSuperframeSpecification(v uint16) SuperframeSpecification {
	return SuperframeSpecification{
		BeaconOrder:          uint8(v & 0xF),
		SuperframeOrder:      uint8((v >> 4) & 0xF),
		FinalCAPSlot:         uint8((v >> 8) & 0xF),
		BatteryLifeExtension: v&(1<<12) != 0,
		PANCoordinator:       v&(1<<14) != 0,
		AssociationPermit:    v&(1<<15) != 0,
	}
}

// CommandID identifies a MAC command frame's command content.
type CommandID uint8

const (
	CommandAssociationRequest  CommandID = 0x01
	CommandAssociationResponse CommandID = 0x02
)

// AssocStatus is the result code on an AssociationResponse command.
type AssocStatus uint8

const (
	AssocSuccessful      AssocStatus = 0x00
	AssocPANAtCapacity   AssocStatus = 0x01
	AssocPANAccessDenied AssocStatus = 0x02
)

// AssocRequest is the AssociationRequest command payload. CapabilityInfo
// carries the device-capability flags; this module treats it as an
// opaque placeholder byte, matching the original source's own
// placeholder values (spec.md section 4, "Supplemented Features").
type AssocRequest struct {
	CapabilityInfo byte
}

// AssocResponse is the AssociationResponse command payload.
type AssocResponse struct {
	ShortAddr uint16
	Status    AssocStatus
}

// Command is the tagged union of MAC command frame contents.
type Command struct {
	ID     CommandID
	Assoc  AssocRequest
	Resp   AssocResponse
}

func (c Command) encode(buf []byte) int {
	buf[0] = byte(c.ID)
	switch c.ID {
	case CommandAssociationRequest:
		buf[1] = c.Assoc.CapabilityInfo
		return 2
	case CommandAssociationResponse:
		binary.LittleEndian.PutUint16(buf[1:3], c.Resp.ShortAddr)
		buf[3] = byte(c.Resp.Status)
		return 4
	default:
		return 1
	}
}

func decodeCommand(buf []byte) (Command, int, error) {
	if len(buf) < 1 {
		return Command{}, 0, fmt.Errorf("mac: empty command")
	}
	id := CommandID(buf[0])
	switch id {
	case CommandAssociationRequest:
		if len(buf) < 2 {
			return Command{}, 0, fmt.Errorf("mac: short assoc request")
		}
		return Command{ID: id, Assoc: AssocRequest{CapabilityInfo: buf[1]}}, 2, nil
	case CommandAssociationResponse:
		if len(buf) < 4 {
			return Command{}, 0, fmt.Errorf("mac: short assoc response")
		}
		return Command{
			ID: id,
			Resp: AssocResponse{
				ShortAddr: binary.LittleEndian.Uint16(buf[1:3]),
				Status:    AssocStatus(buf[3]),
			},
		}, 4, nil
	default:
		return Command{ID: id}, 1, nil
	}
}

// ContentKind distinguishes the tagged union of frame content.
type ContentKind int

const (
	ContentBeacon ContentKind = iota
	ContentCommand
	ContentData
	ContentAck
)

// FrameContent is the tagged-union body following the header (spec.md
// section 3: Beacon/Command/Data/Ack).
type FrameContent struct {
	Kind        ContentKind
	Superframe  SuperframeSpecification
	Command     Command
}

// gtsAndPendingAddrBytes are the always-empty GTS and pending-address
// specification bytes a beacon carries (spec.md section 4.2.2: "empty
// GTS and pending-address lists").
const gtsAndPendingAddrBytes = 2

func (c FrameContent) encode(buf []byte) int {
	switch c.Kind {
	case ContentBeacon:
		binary.LittleEndian.PutUint16(buf[0:2], c.Superframe.Encode())
		buf[2] = 0 // GTS specification: descriptor count 0
		buf[3] = 0 // pending address specification: counts 0
		return 2 + gtsAndPendingAddrBytes
	case ContentCommand:
		return c.Command.encode(buf)
	default: // Data, Ack: no content bytes
		return 0
	}
}

func decodeFrameContent(buf []byte, h Header) (FrameContent, int, error) {
	switch h.FrameType {
	case FrameTypeBeacon:
		if len(buf) < 2+gtsAndPendingAddrBytes {
			return FrameContent{}, 0, fmt.Errorf("mac: short beacon content")
		}
		spec := DecodeSuperframeSpecification(binary.LittleEndian.Uint16(buf[0:2]))
		return FrameContent{Kind: ContentBeacon, Superframe: spec}, 2 + gtsAndPendingAddrBytes, nil
	case FrameTypeCommand:
		cmd, n, err := decodeCommand(buf)
		if err != nil {
			return FrameContent{}, 0, err
		}
		return FrameContent{Kind: ContentCommand, Command: cmd}, n, nil
	case FrameTypeData:
		return FrameContent{Kind: ContentData}, 0, nil
	case FrameTypeAck:
		return FrameContent{Kind: ContentAck}, 0, nil
	default:
		return FrameContent{}, 0, fmt.Errorf("mac: unknown frame type %d", h.FrameType)
	}
}

// Packet is a fully owned MAC frame: header, tagged content, payload and
// a 2-byte footer placeholder (spec.md section 3, "MAC Frame").
//
// Ported from original_source/src/mac_802154/packet.rs::Packet, minus
// its heapless fixed-capacity Vec (a plain Go slice bounded by
// MaxPayloadLen serves the same purpose without the generic machinery).
type Packet struct {
	Header  Header
	Content FrameContent
	payload []byte
	Footer  [2]byte
}

// NewBeacon builds a Beacon frame (spec.md section 4.2.2, "Beacon slot action").
func NewBeacon(source Address, seq uint8, spec SuperframeSpecification) Packet {
	return Packet{
		Header: Header{
			FrameType:   FrameTypeBeacon,
			Version:     FrameVersion2006,
			Destination: BroadcastAddress(AddressShort),
			Source:      source,
			Seq:         seq,
		},
		Content: FrameContent{Kind: ContentBeacon, Superframe: spec},
	}
}

// NewCommand builds a MAC command frame (e.g. association request/response).
func NewCommand(dest, source Address, seq uint8, cmd Command) Packet {
	return Packet{
		Header: Header{
			FrameType:   FrameTypeCommand,
			AckRequest:  true,
			Version:     FrameVersion2006,
			Destination: dest,
			Source:      source,
			Seq:         seq,
		},
		Content: FrameContent{Kind: ContentCommand, Command: cmd},
	}
}

// NewData builds a Data frame carrying an upper-layer payload.
func NewData(dest, source Address, seq uint8, data []byte, ack bool) Packet {
	payload := make([]byte, len(data))
	copy(payload, data)
	return Packet{
		Header: Header{
			FrameType:   FrameTypeData,
			AckRequest:  ack,
			Version:     FrameVersion2006,
			Destination: dest,
			Source:      source,
			Seq:         seq,
		},
		Content: FrameContent{Kind: ContentData},
		payload: payload,
	}
}

// NewAck builds the Acknowledgement for a received frame (spec.md section
// 4.2.5).
func NewAck(request Packet) Packet {
	return Packet{
		Header: Header{
			FrameType:   FrameTypeAck,
			Version:     FrameVersion2006,
			Destination: request.Header.Source,
			Source:      request.Header.Destination,
			Seq:         request.Header.Seq,
		},
		Content: FrameContent{Kind: ContentAck},
	}
}

// PanID returns the frame's effective PAN ID: destination's if addressed,
// else source's, else the reserved 0xFFFE fallback (a detail the
// distilled spec leaves implicit; original_source/src/mac_802154/packet.rs::pan_id
// is the concrete reference - see SPEC_FULL.md "Supplemented Features").
func (p Packet) PanID() uint16 {
	if p.Header.Destination.Mode != AddressNone {
		return p.Header.Destination.PANID
	}
	if p.Header.Source.Mode != AddressNone {
		return p.Header.Source.PANID
	}
	return 0xFFFE
}

// IsAckFor reports whether p acknowledges original.
func (p Packet) IsAckFor(original Packet) bool {
	return p.Header.FrameType == FrameTypeAck &&
		p.Header.Source.Equal(original.Header.Destination) &&
		p.Header.Destination.Equal(original.Header.Source) &&
		p.Header.Seq == original.Header.Seq &&
		p.Content.Kind == ContentAck
}

// Payload returns the frame's upper-layer payload bytes.
func (p Packet) Payload() []byte {
	return p.payload
}

// SetPayload replaces the frame's payload, failing if it would not fit.
func (p *Packet) SetPayload(body []byte) error {
	if len(body) > MaxPayloadLen {
		return fmt.Errorf("mac: payload of %d bytes exceeds %d", len(body), MaxPayloadLen)
	}
	p.payload = append(p.payload[:0], body...)
	return nil
}

// Encode serialises the packet into buf (which must be at least
// MaxPayloadLen bytes), optionally appending the 2-byte footer, and
// returns the number of bytes written.
func (p Packet) Encode(buf []byte, writeFooter bool) int {
	n := p.Header.Encode(buf)
	n += p.Content.encode(buf[n:])
	n += copy(buf[n:], p.payload)
	if writeFooter {
		copy(buf[n:n+2], p.Footer[:])
		n += 2
	}
	return n
}

// Decode parses a Packet from buf. containsFooter indicates whether the
// trailing 2 bytes of buf are a footer rather than payload.
func Decode(buf []byte, containsFooter bool) (Packet, error) {
	header, headerLen, err := DecodeHeader(buf)
	if err != nil {
		return Packet{}, err
	}

	body := buf[headerLen:]
	var footer [2]byte
	if containsFooter {
		if len(body) < 2 {
			return Packet{}, fmt.Errorf("mac: not enough bytes for footer")
		}
		copy(footer[:], body[len(body)-2:])
		body = body[:len(body)-2]
	}

	content, used, err := decodeFrameContent(body, header)
	if err != nil {
		return Packet{}, err
	}

	payload := make([]byte, len(body)-used)
	copy(payload, body[used:])

	return Packet{
		Header:  header,
		Content: content,
		payload: payload,
		Footer:  footer,
	}, nil
}
