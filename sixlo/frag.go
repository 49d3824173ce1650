package sixlo

import (
	"github.com/charmbracelet/log"

	"github.com/doismellburning/lpwan"
	"github.com/doismellburning/lpwan/mac"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Fragmentation manager: reassembles and emits fragment chains
 *		over four fixed slots (spec.md section 4.3).
 *
 * Description:	Ported from original_source/src/sixlo/frag.rs. A datagram
 *		that arrives with no fragmentation header at all still
 *		occupies a slot, landing straight in Done: passthrough and
 *		reassembled datagrams share the same four-slot pool and are
 *		both retrieved through Pop.
 *
 *------------------------------------------------------------------*/

// MaxFragSize is the largest chunk of datagram payload carried per
// fragment, independent of the underlying MAC's payload size.
const MaxFragSize = 64

// NumSlots is the number of concurrent fragmentation buffers, shared by
// both directions.
const NumSlots = 4

// FragState is the lifecycle of a FragBuffer slot.
type FragState int

const (
	FragFree FragState = iota
	FragTx
	FragRx
	FragDone
)

// FragConfig holds reassembly/emission timeouts.
type FragConfig struct {
	RxTimeoutMs uint64
	TxTimeoutMs uint64
}

// DefaultFragConfig returns the original's 10-second timeouts on both
// sides.
func DefaultFragConfig() FragConfig {
	return FragConfig{RxTimeoutMs: 10_000, TxTimeoutMs: 10_000}
}

// FragBuffer is a single in-flight datagram, either being reassembled
// (Rx) or drained out fragment-by-fragment (Tx).
type FragBuffer struct {
	State   FragState
	Header  Header
	Addr    mac.Address
	Tag     uint16
	Len     uint16
	Mask    uint32 // bit i set => fragment i has been received (Rx only; Tx progress is Offset)
	Timeout uint64
	Offset  uint8 // Tx cursor: next fragment index to emit
	Buff    [IPv6MTU]byte
}

// IPv6MTU is the largest datagram this layer will reassemble.
const IPv6MTU = 1280

func (b *FragBuffer) numFrags() int {
	n := int(b.Len) / MaxFragSize
	if int(b.Len)%MaxFragSize != 0 {
		n++
	}
	return n
}

func (b *FragBuffer) fragBounds(index int) (int, int) {
	start := index * MaxFragSize
	end := start + MaxFragSize
	if end > int(b.Len) {
		end = int(b.Len)
	}
	return start, end
}

func (b *FragBuffer) initTx(header Header, addr mac.Address, tag uint16, data []byte, now uint64, timeoutMs uint64) {
	b.State = FragTx
	b.Header = header
	b.Addr = addr
	b.Tag = tag
	b.Len = uint16(copy(b.Buff[:], data))
	b.Mask = 0
	b.Offset = 0
	b.Timeout = now + timeoutMs
}

func (b *FragBuffer) initRx(header Header, addr mac.Address, tag uint16, size uint16, now uint64, timeoutMs uint64) {
	b.State = FragRx
	b.Header = header
	b.Addr = addr
	b.Tag = tag
	b.Len = size
	b.Mask = 0
	b.Timeout = now + timeoutMs
}

func (b *FragBuffer) initDone() {
	b.State = FragDone
}

// initDonePassthrough fills a slot straight to Done for a datagram that
// arrived with no fragmentation header at all: it still occupies the slot
// pool like any other reassembly, so a burst of passthrough traffic
// contends for the same four slots as fragmented datagrams.
func (b *FragBuffer) initDonePassthrough(header Header, addr mac.Address, data []byte) {
	b.State = FragDone
	b.Header = header
	b.Addr = addr
	b.Tag = 0
	b.Len = uint16(copy(b.Buff[:], data))
	b.Mask = 0
	b.Offset = 0
}

// updateRx writes one received fragment's payload into the reassembly
// buffer and marks it complete, returning true once every fragment the
// datagram needs has arrived.
func (b *FragBuffer) updateRx(index int, payload []byte, now uint64, timeoutMs uint64) bool {
	start, end := b.fragBounds(index)
	copy(b.Buff[start:end], payload)
	b.Mask |= 1 << uint(index)
	b.Timeout = now + timeoutMs

	want := uint32(1)<<uint(b.numFrags()) - 1
	return b.Mask&want == want
}

// Frag is the fixed-slot fragmentation manager.
type Frag struct {
	config FragConfig
	tag    uint16
	slots  [NumSlots]FragBuffer
	log    *log.Logger
}

// NewFrag builds a fragmentation manager with the given config.
func NewFrag(config FragConfig) *Frag {
	return &Frag{config: config, log: log.Default().With("component", "sixlo.frag")}
}

func (f *Frag) nextTag() uint16 {
	f.tag++
	return f.tag
}

func (f *Frag) freeSlot() (*FragBuffer, bool) {
	for i := range f.slots {
		if f.slots[i].State == FragFree {
			return &f.slots[i], true
		}
	}
	return nil, false
}

// Transmit splits data into fragments and stages them in a free Tx slot,
// prefixed by header (typically a mesh header, nil Frag field: the
// manager fills that in per-fragment). Returns an error if every slot is
// occupied.
func (f *Frag) Transmit(now uint64, dest mac.Address, header Header, data []byte) error {
	if len(data) > IPv6MTU {
		return lpwan.ErrBufferFull
	}
	slot, ok := f.freeSlot()
	if !ok {
		return lpwan.ErrBufferFull
	}
	slot.initTx(header, dest, f.nextTag(), data, now, f.config.TxTimeoutMs)
	return nil
}

// PollOptions gates whether Poll may emit a fragment this tick, and
// toward which address (an association/CCA backlog may block sending).
type PollOptions struct {
	CanTx  bool
	TxAddr mac.Address
}

// PollResult is one fragment ready to hand to the MAC.
type PollResult struct {
	Addr   mac.Address
	Header Header
	Data   []byte
}

// Poll advances timeouts and returns the next fragment ready to transmit,
// if any slot has one and PollOptions allows it.
func (f *Frag) Poll(now uint64, opts PollOptions) (PollResult, bool) {
	for i := range f.slots {
		s := &f.slots[i]
		if s.State == FragFree {
			continue
		}
		if now > s.Timeout {
			f.log.Warn("fragment timed out", "slot", i, "state", s.State, "tag", s.Tag)
			s.State = FragFree
			continue
		}
		if s.State != FragTx || !opts.CanTx {
			continue
		}
		if opts.TxAddr.Mode != mac.AddressNone && !opts.TxAddr.Equal(s.Addr) {
			continue
		}

		start, end := s.fragBounds(int(s.Offset))
		hdr := s.Header
		fh := FragHeader{DatagramSize: s.Len, DatagramTag: s.Tag}
		if s.Offset > 0 {
			off := s.Offset
			fh.DatagramOffset = &off
		}
		hdr.Frag = &fh

		res := PollResult{Addr: s.Addr, Header: hdr, Data: s.Buff[start:end]}
		s.Offset++
		s.Timeout = now + f.config.TxTimeoutMs

		if int(s.Offset) >= s.numFrags() {
			s.State = FragFree
		}
		return res, true
	}
	return PollResult{}, false
}

// ReceiveResult is a datagram that has just completed reassembly, or a
// passthrough datagram that never needed it.
type ReceiveResult struct {
	Addr   mac.Address
	Header Header
	Data   []byte
}

// Receive feeds one incoming fragment into the reassembly table, returning
// the full datagram once the last missing fragment arrives. A frame with no
// fragmentation header at all is a passthrough datagram: it still goes
// through a slot, landing straight in Done, so it is retrieved the same way
// as a reassembled one, via Pop.
func (f *Frag) Receive(now uint64, source mac.Address, header Header, payload []byte) (ReceiveResult, bool) {
	fh := header.Frag
	if fh == nil {
		slot, ok := f.freeSlot()
		if !ok {
			f.log.Warn("no free slot for passthrough datagram")
			return ReceiveResult{}, false
		}
		slot.initDonePassthrough(header, source, payload)
		slot.Timeout = now + f.config.RxTimeoutMs
		return ReceiveResult{Addr: source, Header: header, Data: append([]byte(nil), payload...)}, true
	}

	index := 0
	if fh.DatagramOffset != nil {
		index = int(*fh.DatagramOffset)
	}

	slot := f.findRxSlot(source, fh.DatagramTag)
	if slot == nil {
		var ok bool
		slot, ok = f.freeSlot()
		if !ok {
			f.log.Warn("no free reassembly slot", "tag", fh.DatagramTag)
			return ReceiveResult{}, false
		}
		slot.initRx(header, source, fh.DatagramTag, fh.DatagramSize, now, f.config.RxTimeoutMs)
	} else {
		slot.Header.Merge(header)
	}

	if slot.updateRx(index, payload, now, f.config.RxTimeoutMs) {
		out := append([]byte(nil), slot.Buff[:slot.Len]...)
		header := slot.Header
		slot.initDone()
		return ReceiveResult{Addr: source, Header: header, Data: out}, true
	}
	return ReceiveResult{}, false
}

func (f *Frag) findRxSlot(source mac.Address, tag uint16) *FragBuffer {
	for i := range f.slots {
		s := &f.slots[i]
		if s.State == FragRx && s.Tag == tag && s.Addr.Equal(source) {
			return s
		}
	}
	return nil
}

// Pop returns and frees the next Done slot, whether it completed by
// reassembly or arrived as a passthrough datagram.
func (f *Frag) Pop() (ReceiveResult, bool) {
	for i := range f.slots {
		s := &f.slots[i]
		if s.State != FragDone {
			continue
		}
		out := append([]byte(nil), s.Buff[:s.Len]...)
		result := ReceiveResult{Addr: s.Addr, Header: s.Header, Data: out}
		s.State = FragFree
		return result, true
	}
	return ReceiveResult{}, false
}
