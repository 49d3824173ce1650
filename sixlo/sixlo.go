package sixlo

import (
	"github.com/doismellburning/lpwan/mac"
)

/*------------------------------------------------------------------
 *
 * Purpose:	6LoWPAN stack orchestrator: composes a mac.Mac with a Frag
 *		manager (spec.md section 4.4).
 *
 * Description:	Ported from original_source/src/sixlo/mod.rs. transmit()
 *		decides passthrough (no 6LoWPAN header at all) versus
 *		fragmented submission by comparing against the underlying
 *		MAC's payload size, not the fixed 64-byte fragment chunk
 *		size - a datagram that fits in one MAC frame is sent as-is.
 *		tick() drains at most one inbound MAC frame per call, handing
 *		it to the fragmentation manager regardless of whether it
 *		needs reassembly; receive() drains Done slots back out via
 *		Frag.Pop, so passthrough and reassembled datagrams share the
 *		same four-slot pool and its back-pressure.
 *
 *------------------------------------------------------------------*/

// Config bundles the fragmentation manager's tunables.
type Config struct {
	Frag FragConfig
}

// DefaultConfig returns the original's default timeouts.
func DefaultConfig() Config {
	return Config{Frag: DefaultFragConfig()}
}

// SixLo is the 6LoWPAN adaptation layer over a MAC engine.
type SixLo struct {
	config  Config
	mac     *mac.Mac
	ownAddr mac.Address
	frag    *Frag
}

// New builds a 6LoWPAN stack over an already-constructed MAC engine.
func New(m *mac.Mac, ownAddr mac.Address, config Config) *SixLo {
	return &SixLo{
		config:  config,
		mac:     m,
		ownAddr: ownAddr,
		frag:    NewFrag(config.Frag),
	}
}

// ackFor reports whether a transmission to dest should request a MAC
// acknowledgement: unicast only, never for broadcast addresses.
func ackFor(dest mac.Address) bool {
	return dest.Mode != mac.AddressNone && !dest.IsBroadcast()
}

// Transmit sends an IPv6 datagram to dest. If header plus data fit in a
// single MAC frame it is sent directly with no fragmentation header at
// all; otherwise it is staged in the fragmentation manager and drained
// fragment-by-fragment by Tick.
func (s *SixLo) Transmit(now uint64, dest mac.Address, header Header, data []byte) error {
	var buf [mac.MaxPayloadLen]byte
	n := header.Encode(buf[:])

	if n+len(data) <= mac.MaxPayloadLen {
		copy(buf[n:], data)
		return s.mac.Transmit(dest, buf[:n+len(data)], ackFor(dest))
	}

	return s.frag.Transmit(now, dest, header, data)
}

// Tick drives the MAC, drains at most one inbound frame into the
// reassembly queue, and emits the next outbound fragment if the MAC is
// free to accept one.
func (s *SixLo) Tick(now uint64) error {
	if err := s.mac.Tick(); err != nil {
		return err
	}

	s.handleRx(now)

	if !s.mac.Busy() {
		if pr, ready := s.frag.Poll(now, PollOptions{CanTx: true}); ready {
			var buf [mac.MaxPayloadLen]byte
			n := pr.Header.Encode(buf[:])
			copy(buf[n:], pr.Data)
			if err := s.mac.Transmit(pr.Addr, buf[:n+len(pr.Data)], ackFor(pr.Addr)); err != nil {
				return err
			}
		}
	}

	return nil
}

// handleRx pops at most one frame off the MAC's RX queue, decodes its
// 6LoWPAN header, and hands it to the fragmentation manager: a frame with
// no fragmentation header lands in a Done slot immediately, one with a
// fragmentation header is merged into its reassembly. Either way Receive
// retrieves it via Frag.Pop.
func (s *SixLo) handleRx(now uint64) {
	var buf [mac.MaxPayloadLen]byte
	n, info, ok := s.mac.Receive(buf[:])
	if !ok {
		return
	}

	header, used, err := Decode(buf[:n])
	if err != nil {
		return
	}
	payload := append([]byte(nil), buf[used:n]...)

	s.frag.Receive(now, info.Source, header, payload)
}

// Receive pops one fully reassembled (or passthrough) datagram, if any is
// waiting.
func (s *SixLo) Receive() (ReceiveResult, bool) {
	return s.frag.Pop()
}
