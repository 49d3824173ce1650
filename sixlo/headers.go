// Package sixlo implements an RFC 4944 6LoWPAN adaptation layer over a
// mac.Mac: dispatch-typed headers, mesh forwarding, fragmentation and
// reassembly, and EUI-64/link-local address derivation.
package sixlo

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/doismellburning/lpwan/mac"
)

/*------------------------------------------------------------------
 *
 * Purpose:	6LoWPAN dispatch byte, mesh header and fragmentation header
 *		codecs, plus EUI-64/link-local address derivation (spec.md
 *		section 6.3).
 *
 * Description:	Ported from original_source/src/sixlo/headers.rs, with
 *		two deliberate corrections over it (see DESIGN.md): the
 *		dispatch type bits are read from the top two bits of byte 0
 *		(matching spec.md section 6.3's concrete bit patterns and
 *		real RFC 4944, not the original's low-two-bits mask, which
 *		its own author flagged as suspect); and the mesh header's
 *		final address uses its own F bit rather than reusing V,
 *		which the original's encode() does by a copy-paste mistake.
 *
 *------------------------------------------------------------------*/

// dispatchTypeMask isolates the 2-bit header type from the top of byte 0.
const dispatchTypeMask = 0b1100_0000

// HeaderType identifies which 6LoWPAN header a dispatch byte introduces.
type HeaderType byte

const (
	// HeaderNalp: not a 6LoWPAN frame, discard.
	HeaderNalp HeaderType = 0b0000_0000
	// HeaderLowpan: uncompressed IPv6/HC1/BC0/ESC payload header.
	HeaderLowpan HeaderType = 0b0100_0000
	// HeaderMesh: mesh forwarding header.
	HeaderMesh HeaderType = 0b1000_0000
	// HeaderFrag: fragmentation header.
	HeaderFrag HeaderType = 0b1100_0000
)

func headerTypeOf(b byte) HeaderType {
	return HeaderType(b & dispatchTypeMask)
}

const (
	meshFlagV = 0b0000_0010 // origin address is a short address
	meshFlagF = 0b0000_0001 // final address is a short address
)

// MeshHeader is the RFC 4944 section 5.2 mesh forwarding header.
type MeshHeader struct {
	HopsLeft   uint8
	OriginAddr mac.Address
	FinalAddr  mac.Address
}

func encodeMeshAddr(buf []byte, a mac.Address) int {
	switch a.Mode {
	case mac.AddressShort:
		binary.BigEndian.PutUint16(buf[0:2], a.Short)
		return 2
	default:
		binary.BigEndian.PutUint64(buf[0:8], a.Extended)
		return 8
	}
}

// Encode writes the mesh header into buf, returning the bytes used.
func (h MeshHeader) Encode(buf []byte) int {
	buf[0] = byte(HeaderMesh) | (h.HopsLeft&0x0F)<<2
	if h.OriginAddr.Mode == mac.AddressShort {
		buf[0] |= meshFlagV
	}
	if h.FinalAddr.Mode == mac.AddressShort {
		buf[0] |= meshFlagF
	}
	n := 1
	n += encodeMeshAddr(buf[n:], h.OriginAddr)
	n += encodeMeshAddr(buf[n:], h.FinalAddr)
	return n
}

// DecodeMeshHeader parses a mesh header from buf, returning it and the
// number of bytes consumed.
func DecodeMeshHeader(buf []byte) (MeshHeader, int, error) {
	if len(buf) < 1 {
		return MeshHeader{}, 0, fmt.Errorf("sixlo: empty mesh header")
	}
	d := buf[0]
	if headerTypeOf(d) != HeaderMesh {
		return MeshHeader{}, 0, fmt.Errorf("sixlo: not a mesh header (dispatch %#02x)", d)
	}

	h := MeshHeader{HopsLeft: (d >> 2) & 0x0F}
	n := 1

	if d&meshFlagV != 0 {
		if len(buf) < n+2 {
			return MeshHeader{}, 0, fmt.Errorf("sixlo: short mesh origin address")
		}
		h.OriginAddr = mac.ShortAddress(0, binary.BigEndian.Uint16(buf[n:n+2]))
		n += 2
	} else {
		if len(buf) < n+8 {
			return MeshHeader{}, 0, fmt.Errorf("sixlo: short mesh origin address")
		}
		h.OriginAddr = mac.ExtendedAddress(0, binary.BigEndian.Uint64(buf[n:n+8]))
		n += 8
	}

	if d&meshFlagF != 0 {
		if len(buf) < n+2 {
			return MeshHeader{}, 0, fmt.Errorf("sixlo: short mesh final address")
		}
		h.FinalAddr = mac.ShortAddress(0, binary.BigEndian.Uint16(buf[n:n+2]))
		n += 2
	} else {
		if len(buf) < n+8 {
			return MeshHeader{}, 0, fmt.Errorf("sixlo: short mesh final address")
		}
		h.FinalAddr = mac.ExtendedAddress(0, binary.BigEndian.Uint64(buf[n:n+8]))
		n += 8
	}

	return h, n, nil
}

const fragKindN = 0b100 // bit 2 of the low nibble: present on FragN, absent on Frag1

// FragHeader is the RFC 4944 section 5.3 fragmentation header.
type FragHeader struct {
	DatagramSize   uint16
	DatagramTag    uint16
	DatagramOffset *uint8 // nil on the first fragment
}

// Encode writes the fragmentation header into buf, returning bytes used.
func (h FragHeader) Encode(buf []byte) int {
	buf[0] = byte(HeaderFrag) | byte((h.DatagramSize>>8)&0x07)
	buf[1] = byte(h.DatagramSize)
	binary.BigEndian.PutUint16(buf[2:4], h.DatagramTag)
	n := 4
	if h.DatagramOffset != nil {
		buf[0] |= fragKindN << 3
		buf[n] = *h.DatagramOffset
		n++
	}
	return n
}

// DecodeFragHeader parses a fragmentation header from buf.
func DecodeFragHeader(buf []byte) (FragHeader, int, error) {
	if len(buf) < 4 {
		return FragHeader{}, 0, fmt.Errorf("sixlo: short fragmentation header")
	}
	d := buf[0]
	if headerTypeOf(d) != HeaderFrag {
		return FragHeader{}, 0, fmt.Errorf("sixlo: not a fragmentation header (dispatch %#02x)", d)
	}

	h := FragHeader{
		DatagramSize: uint16(d&0x07)<<8 | uint16(buf[1]),
		DatagramTag:  binary.BigEndian.Uint16(buf[2:4]),
	}
	n := 4

	if d&(fragKindN<<3) != 0 {
		if len(buf) < n+1 {
			return FragHeader{}, 0, fmt.Errorf("sixlo: short fragmentation offset")
		}
		off := buf[n]
		h.DatagramOffset = &off
		n++
	}

	return h, n, nil
}

// Header is the tagged set of 6LoWPAN headers that may prefix a datagram
// (spec.md section 6.3). HC1 and uncompressed-IPv6/BC0 payload headers are
// out of scope (see DESIGN.md); a Lowpan-typed dispatch byte is recognised
// but treated as opaque, matching the original's own unfinished state.
type Header struct {
	Mesh *MeshHeader
	Frag *FragHeader
}

// Merge fills any of h's unset fields from other, used when reassembling
// fragments that only carry the fragmentation sub-header after the first.
func (h *Header) Merge(other Header) {
	if h.Mesh == nil && other.Mesh != nil {
		h.Mesh = other.Mesh
	}
	if h.Frag == nil && other.Frag != nil {
		h.Frag = other.Frag
	}
}

// Encode writes whichever headers are present into buf, mesh first, then
// fragmentation, returning the total bytes used.
func (h Header) Encode(buf []byte) int {
	n := 0
	if h.Mesh != nil {
		n += h.Mesh.Encode(buf[n:])
	}
	if h.Frag != nil {
		n += h.Frag.Encode(buf[n:])
	}
	return n
}

// Decode parses as many 6LoWPAN headers as are present at the front of
// buf. A Nalp or Lowpan dispatch byte consumes nothing: the caller treats
// the remainder as opaque data, matching the original's own passthrough
// behaviour for those two cases.
func Decode(buf []byte) (Header, int, error) {
	var h Header
	n := 0

	if len(buf) == 0 {
		return h, 0, nil
	}

	switch headerTypeOf(buf[0]) {
	case HeaderMesh:
		m, used, err := DecodeMeshHeader(buf)
		if err != nil {
			return Header{}, 0, err
		}
		h.Mesh = &m
		n += used
	case HeaderNalp, HeaderLowpan:
		return Header{}, 0, nil
	}

	if n < len(buf) && headerTypeOf(buf[n]) == HeaderFrag {
		f, used, err := DecodeFragHeader(buf[n:])
		if err != nil {
			return Header{}, 0, err
		}
		h.Frag = &f
		n += used
	}

	return h, n, nil
}

// Eui64 is a 64-bit interface identifier derived from a MAC-layer address
// (spec.md section 6.3, "RFC 4944 section 6").
type Eui64 uint64

// Eui64FromShort derives an interface identifier from a PAN ID and short
// address: the PAN ID fills the top 16 bits, 0xFFFE the next 16, the short
// address the 16 after that, and the low 16 bits are zero.
func Eui64FromShort(pan uint16, short uint16) Eui64 {
	return Eui64(uint64(pan)<<48 | 0xFFFE<<32 | uint64(short)<<16)
}

// Eui64FromExtended derives an interface identifier from an 802.15.4
// extended address by complementing the universal/local bit, per the
// standard EUI-64 treatment of an already-64-bit identifier.
func Eui64FromExtended(extended uint64) Eui64 {
	return Eui64(extended ^ (uint64(0x02) << 56))
}

// Eui64FromMAC48 derives an interface identifier from a 6-byte MAC-48
// address per RFC 2464 section 4: the U/L bit is complemented and 0xFFFE
// is spliced into the middle.
func Eui64FromMAC48(mac48 [6]byte) Eui64 {
	var b [8]byte
	b[0] = mac48[0] ^ 0b0000_0010
	b[1] = mac48[1]
	b[2] = mac48[2]
	b[3] = 0xFF
	b[4] = 0xFE
	b[5] = mac48[3]
	b[6] = mac48[4]
	b[7] = mac48[5]
	return Eui64(binary.BigEndian.Uint64(b[:]))
}

// LinkLocal derives the IPv6 link-local address for an interface
// identifier by prefixing FE80::/10 (spec.md section 6.3), correcting the
// original's prefix constant.
func LinkLocal(id Eui64) net.IP {
	var addr [16]byte
	addr[0] = 0xFE
	addr[1] = 0x80
	binary.BigEndian.PutUint64(addr[8:16], uint64(id))
	return net.IP(addr[:])
}
