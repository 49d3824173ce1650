// Package radio wraps an injected lpwan.Radio capability with the state
// machine that tracks transceiver mode and turns its non-blocking
// start/poll calls into a single tick (spec.md section 4.1).
package radio

import (
	"github.com/charmbracelet/log"

	"github.com/doismellburning/lpwan"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Base radio state machine: Idle/Receive/Transmit/Sleep
 *		(listening and receiving share the Receive state), driven
 *		entirely by Tick.
 *
 * Description:	Ported from original_source/src/base.rs's Base<R>. Owns
 *		no bytes of its own beyond the RawPacket it hands back from
 *		Tick; the MAC engine layers sync/assoc/CSMA on top of this.
 *
 *------------------------------------------------------------------*/

// Base wraps a Radio capability and tracks its operating mode.
type Base struct {
	radio lpwan.Radio
	state lpwan.RadioState
	log   *log.Logger
}

// New constructs a Base in Idle state without touching the radio.
func New(r lpwan.Radio) *Base {
	return &Base{
		radio: r,
		state: lpwan.RadioIdle,
		log:   log.NewWithOptions(nil, log.Options{Prefix: "radio"}),
	}
}

// State reports the current transceiver mode.
func (b *Base) State() lpwan.RadioState {
	return b.state
}

// IsBusy reports whether the radio is mid transmit. Idle, Sleeping and
// Receive (armed/listening) are all non-busy, matching the original's
// Idle|Sleeping|Listening set.
func (b *Base) IsBusy() bool {
	switch b.state {
	case lpwan.RadioIdle, lpwan.RadioSleep, lpwan.RadioReceive:
		return false
	default:
		return true
	}
}

// Sleep requests the radio enter low-power mode.
func (b *Base) Sleep() error {
	if b.IsBusy() {
		return lpwan.ErrBusy
	}
	if err := b.radio.SetState(lpwan.RadioSleep); err != nil {
		return lpwan.RadioErr(err)
	}
	b.state = lpwan.RadioSleep
	return nil
}

// Transmit starts sending data; fails with Busy if not idle-ish.
func (b *Base) Transmit(now lpwan.Ts, data []byte) error {
	if b.IsBusy() {
		return lpwan.ErrBusy
	}

	b.log.Debug("transmit", "bytes", len(data), "now_ms", now)
	b.log.Debug("payload", "data", data)

	if err := b.radio.StartTransmit(data); err != nil {
		return lpwan.RadioErr(err)
	}
	b.state = lpwan.RadioTransmit
	return nil
}

// Receive arms the receiver; fails with Busy if not idle-ish.
func (b *Base) Receive(now lpwan.Ts) error {
	if b.IsBusy() {
		return lpwan.ErrBusy
	}

	b.log.Debug("start receive", "now_ms", now)
	if err := b.radio.StartReceive(); err != nil {
		return lpwan.RadioErr(err)
	}
	b.state = lpwan.RadioReceive
	return nil
}

// RSSI samples the channel; only valid while listening.
func (b *Base) RSSI(now lpwan.Ts) (int, error) {
	if b.state != lpwan.RadioReceive {
		return 0, lpwan.ErrBusy
	}
	rssi, err := b.radio.PollRSSI()
	if err != nil {
		return 0, lpwan.RadioErr(err)
	}
	return rssi, nil
}

// Tick advances the state machine by one step, returning a received
// packet when one completed this tick.
func (b *Base) Tick(now lpwan.Ts) (*lpwan.RawPacket, error) {
	switch b.state {
	case lpwan.RadioIdle:
		// No auto-start: the host decides when to arm receive.
	case lpwan.RadioReceive:
		return b.checkReceive(now)
	case lpwan.RadioTransmit:
		return nil, b.checkTransmit(now)
	case lpwan.RadioSleep:
		// No pre-emptive wake; the host controls sleep duration.
	}
	return nil, nil
}

func (b *Base) checkReceive(now lpwan.Ts) (*lpwan.RawPacket, error) {
	ready, err := b.radio.CheckReceive(true)
	if err != nil {
		return nil, lpwan.RadioErr(err)
	}
	if !ready {
		return nil, nil
	}

	var pkt lpwan.RawPacket
	n, rssi, err := b.radio.GetReceived(pkt.Data[:])
	if err != nil {
		return nil, lpwan.RadioErr(err)
	}
	pkt.Len = n
	pkt.RSSI = rssi

	b.log.Debug("received", "bytes", pkt.Len, "rssi", rssi, "now_ms", now)
	b.log.Debug("payload", "data", pkt.Bytes())

	if err := b.radio.StartReceive(); err != nil {
		return nil, lpwan.RadioErr(err)
	}
	b.state = lpwan.RadioReceive

	return &pkt, nil
}

func (b *Base) checkTransmit(now lpwan.Ts) error {
	done, err := b.radio.CheckTransmit()
	if err != nil {
		return lpwan.RadioErr(err)
	}
	if !done {
		return nil
	}

	b.log.Debug("transmit complete", "now_ms", now)

	if err := b.radio.StartReceive(); err != nil {
		return lpwan.RadioErr(err)
	}
	b.state = lpwan.RadioReceive

	return nil
}
