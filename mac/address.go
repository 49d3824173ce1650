// Package mac implements an IEEE 802.15.4-style MAC: beacon-synchronised
// superframes, CSMA-CA channel access, software acknowledgements with
// retries, and an association protocol, layered over a radio.Base.
package mac

import "fmt"

/*------------------------------------------------------------------
 *
 * Purpose:	Addressing: the tagged-union MAC address and the reserved
 *		broadcast values (spec.md section 3, "Addressing").
 *
 *------------------------------------------------------------------*/

// BroadcastPAN is the reserved PAN ID meaning "every PAN".
const BroadcastPAN = uint16(0xFFFF)

// BroadcastShort is the reserved short address meaning "every node".
const BroadcastShort = uint16(0xFFFF)

// BroadcastExtended is the reserved extended address meaning "every node".
const BroadcastExtended = uint64(0xFFFFFFFFFFFFFFFF)

// AddressMode distinguishes the three address shapes a frame may carry.
type AddressMode int

const (
	AddressNone AddressMode = iota
	AddressShort
	AddressExtended
)

// Address is a tagged union over None, Short(pan, short) and
// Extended(pan, extended) (spec.md section 3).
type Address struct {
	Mode     AddressMode
	PANID    uint16
	Short    uint16
	Extended uint64
}

// NoAddress builds the None address.
func NoAddress() Address {
	return Address{Mode: AddressNone}
}

// ShortAddress builds a Short(pan, short) address.
func ShortAddress(pan, short uint16) Address {
	return Address{Mode: AddressShort, PANID: pan, Short: short}
}

// ExtendedAddress builds an Extended(pan, extended) address.
func ExtendedAddress(pan uint16, ext uint64) Address {
	return Address{Mode: AddressExtended, PANID: pan, Extended: ext}
}

// BroadcastAddress returns the reserved broadcast address in the given mode.
func BroadcastAddress(mode AddressMode) Address {
	switch mode {
	case AddressShort:
		return ShortAddress(BroadcastPAN, BroadcastShort)
	case AddressExtended:
		return ExtendedAddress(BroadcastPAN, BroadcastExtended)
	default:
		return NoAddress()
	}
}

// IsBroadcast reports whether this address is the reserved broadcast value
// for its mode (spec.md section 4.4, "ACK determination").
func (a Address) IsBroadcast() bool {
	switch a.Mode {
	case AddressShort:
		return a.Short == BroadcastShort
	case AddressExtended:
		return a.Extended == BroadcastExtended
	default:
		return false
	}
}

// Equal reports whether two addresses denote the same node.
func (a Address) Equal(o Address) bool {
	if a.Mode != o.Mode {
		return false
	}
	switch a.Mode {
	case AddressShort:
		return a.PANID == o.PANID && a.Short == o.Short
	case AddressExtended:
		return a.PANID == o.PANID && a.Extended == o.Extended
	default:
		return true
	}
}

func (a Address) String() string {
	switch a.Mode {
	case AddressShort:
		return fmt.Sprintf("Short(pan=%#04x, addr=%#04x)", a.PANID, a.Short)
	case AddressExtended:
		return fmt.Sprintf("Extended(pan=%#04x, addr=%#016x)", a.PANID, a.Extended)
	default:
		return "None"
	}
}
