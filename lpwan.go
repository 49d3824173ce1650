package lpwan

/*------------------------------------------------------------------
 *
 * Purpose:	Shared, collaborator-facing contracts for the LPWAN stack:
 *		the raw packet buffer handed between the radio and the MAC,
 *		and the narrow radio/timer capabilities the stack consumes.
 *
 * Description:	Neither the radio transceiver driver nor the monotonic
 *		clock source is part of this module (spec.md section 1) -
 *		they're collaborators, injected through the Radio and Timer
 *		interfaces below. A mock of each lives in package radio for
 *		tests; package radio/serialkiss is one concrete Radio.
 *
 *------------------------------------------------------------------*/

// Ts is a monotonic timestamp in milliseconds, arbitrary epoch.
type Ts = uint64

// RawPacketSize is the fixed capacity of a RawPacket, chosen to exceed the
// largest possible IEEE 802.15.4 PHY payload with headroom for the MHR/MFR.
const RawPacketSize = 256

// RawPacket is a fixed-size received-frame buffer carrying the receive RSSI
// alongside the bytes, so no allocation is needed on the receive path.
type RawPacket struct {
	Data [RawPacketSize]byte
	Len  int
	RSSI int
}

// Bytes returns the length-bounded view of the packet payload.
func (p *RawPacket) Bytes() []byte {
	return p.Data[:p.Len]
}

// SetBytes copies data into the packet, failing if it doesn't fit.
func (p *RawPacket) SetBytes(data []byte) bool {
	if len(data) > len(p.Data) {
		return false
	}
	p.Len = copy(p.Data[:], data)
	return true
}

// RadioState is the transceiver mode, used both by the Radio capability's
// SetState/GetState and for the mode the radio base tracks (spec.md section
// 4.1): Idle, Sleep, Receive and Transmit. Listening and receiving are not
// told apart; both are RadioReceive.
type RadioState int

const (
	RadioIdle RadioState = iota
	RadioSleep
	RadioReceive
	RadioTransmit
)

func (s RadioState) String() string {
	switch s {
	case RadioIdle:
		return "idle"
	case RadioSleep:
		return "sleep"
	case RadioReceive:
		return "receive"
	case RadioTransmit:
		return "transmit"
	default:
		return "unknown"
	}
}

// Radio is the narrow capability set a transceiver driver must expose
// (spec.md section 6.1). Every method fails fast with a driver-specific
// error; the stack never blocks inside these calls.
type Radio interface {
	// SetState requests a transceiver mode change (e.g. to sleep).
	SetState(state RadioState) error
	// GetState reports the driver's last known mode.
	GetState() RadioState
	// IsBusy reports whether a transmit or receive is in flight.
	IsBusy() bool

	// StartTransmit begins sending bytes; non-blocking.
	StartTransmit(data []byte) error
	// CheckTransmit reports whether the in-flight transmit has completed.
	CheckTransmit() (bool, error)

	// StartReceive arms the receiver; non-blocking.
	StartReceive() error
	// CheckReceive reports whether a frame is ready; if restart is true
	// and none is ready, the receiver is left armed rather than idled.
	CheckReceive(restart bool) (bool, error)
	// GetReceived copies the most recently completed receive into buf,
	// returning the number of bytes written and the RSSI in dBm.
	GetReceived(buf []byte) (n int, rssi int, err error)

	// PollRSSI samples the channel RSSI in dBm; only valid while listening.
	PollRSSI() (int, error)
}

// Timer is the monotonic clock capability the stack consumes (spec.md
// section 6.2). Epoch is arbitrary; only elapsed time matters.
type Timer interface {
	TicksMs() uint64
	TicksUs() uint64
}
