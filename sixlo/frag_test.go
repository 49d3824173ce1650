package sixlo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/lpwan/mac"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Fragmentation manager round-trip tests (spec.md section
 *		4.3 / 8.1), mirroring the original's embedded frag_buffer
 *		and frag_buffer_passthrough tests: two independent managers,
 *		one transmitting, one receiving, with no MAC involved.
 *
 *------------------------------------------------------------------*/

func drainFragments(t *testing.T, tx *Frag, now uint64) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		res, ok := tx.Poll(now, PollOptions{CanTx: true})
		if !ok {
			break
		}
		frame := append([]byte(nil), make([]byte, 0, 16)...)
		var buf [32]byte
		n := res.Header.Encode(buf[:])
		frame = append(frame, buf[:n]...)
		frame = append(frame, res.Data...)
		out = append(out, frame)
	}
	return out
}

func Test_fragRoundTripMultiFragment(t *testing.T) {
	tx := NewFrag(DefaultFragConfig())
	rx := NewFrag(DefaultFragConfig())

	source := mac.ExtendedAddress(1, 0xAAAA)
	dest := mac.ExtendedAddress(1, 0xBBBB)

	data := make([]byte, MaxFragSize*3+10)
	for i := range data {
		data[i] = byte(i)
	}

	require.NoError(t, tx.Transmit(0, dest, Header{}, data))

	frames := drainFragments(t, tx, 1000)
	assert.Equal(t, 4, len(frames), "3 full fragments plus one partial")

	var result ReceiveResult
	var done bool
	for _, frame := range frames {
		h, used, err := Decode(frame)
		require.NoError(t, err)
		result, done = rx.Receive(1000, source, h, frame[used:])
	}

	require.True(t, done, "last fragment must complete reassembly")
	assert.Equal(t, data, result.Data)
	assert.True(t, result.Addr.Equal(source))
}

func Test_fragPassthroughSingleFragment(t *testing.T) {
	tx := NewFrag(DefaultFragConfig())
	rx := NewFrag(DefaultFragConfig())

	source := mac.ShortAddress(1, 0x10)
	dest := mac.ShortAddress(1, 0x20)
	data := []byte("short datagram")

	require.NoError(t, tx.Transmit(0, dest, Header{}, data))

	frames := drainFragments(t, tx, 500)
	require.Equal(t, 1, len(frames), "a datagram that fits one fragment still carries a fragmentation header here")

	h, used, err := Decode(frames[0])
	require.NoError(t, err)
	require.NotNil(t, h.Frag)
	assert.Nil(t, h.Frag.DatagramOffset, "first fragment carries no offset byte")

	result, done := rx.Receive(500, source, h, frames[0][used:])
	require.True(t, done)
	assert.Equal(t, data, result.Data)
}

func Test_fragReceivePassthroughWithNoFragHeader(t *testing.T) {
	rx := NewFrag(DefaultFragConfig())
	source := mac.ShortAddress(1, 0x10)
	data := []byte("no fragmentation header on this frame at all")

	result, done := rx.Receive(0, source, Header{}, data)
	require.True(t, done, "a frame with no Frag header completes immediately")
	assert.Equal(t, data, result.Data)
	assert.True(t, result.Addr.Equal(source))

	popped, ok := rx.Pop()
	require.True(t, ok, "the passthrough datagram occupied a slot and must be poppable")
	assert.Equal(t, data, popped.Data)

	_, ok = rx.Pop()
	assert.False(t, ok, "the slot was freed by the first Pop")
}

func Test_fragPopFreesReassembledSlot(t *testing.T) {
	tx := NewFrag(DefaultFragConfig())
	rx := NewFrag(DefaultFragConfig())

	source := mac.ExtendedAddress(3, 0xAAAA)
	dest := mac.ExtendedAddress(3, 0xBBBB)
	data := make([]byte, MaxFragSize+5)

	require.NoError(t, tx.Transmit(0, dest, Header{}, data))
	frames := drainFragments(t, tx, 0)
	require.Equal(t, 2, len(frames))

	for _, frame := range frames {
		h, used, err := Decode(frame)
		require.NoError(t, err)
		rx.Receive(0, source, h, frame[used:])
	}

	assert.Equal(t, FragDone, rx.slots[0].State)

	popped, ok := rx.Pop()
	require.True(t, ok)
	assert.Equal(t, data, popped.Data)
	assert.Equal(t, FragFree, rx.slots[0].State, "Pop must free the slot it drains")
}

func Test_fragOutOfOrderReassembly(t *testing.T) {
	tx := NewFrag(DefaultFragConfig())
	rx := NewFrag(DefaultFragConfig())

	source := mac.ExtendedAddress(2, 1)
	dest := mac.ExtendedAddress(2, 2)
	data := make([]byte, MaxFragSize*2+1)
	for i := range data {
		data[i] = byte(i * 3)
	}

	require.NoError(t, tx.Transmit(0, dest, Header{}, data))
	frames := drainFragments(t, tx, 10)
	require.Equal(t, 3, len(frames))

	// Feed the last fragment first.
	order := []int{2, 0, 1}
	var result ReceiveResult
	var done bool
	for _, i := range order {
		h, used, err := Decode(frames[i])
		require.NoError(t, err)
		result, done = rx.Receive(10, source, h, frames[i][used:])
	}

	require.True(t, done)
	assert.Equal(t, data, result.Data)
}

func Test_fragPollHonoursTxAddrFilter(t *testing.T) {
	tx := NewFrag(DefaultFragConfig())
	destA := mac.ShortAddress(1, 1)
	destB := mac.ShortAddress(1, 2)

	require.NoError(t, tx.Transmit(0, destA, Header{}, []byte("for a")))

	_, ready := tx.Poll(0, PollOptions{CanTx: true, TxAddr: destB})
	assert.False(t, ready, "a fragment queued for destA must not be emitted while only destB can be sent to")

	res, ready := tx.Poll(0, PollOptions{CanTx: true, TxAddr: destA})
	require.True(t, ready)
	assert.True(t, res.Addr.Equal(destA))
}

func Test_fragSlotsExhausted(t *testing.T) {
	tx := NewFrag(DefaultFragConfig())
	dest := mac.ShortAddress(1, 1)
	big := make([]byte, MaxFragSize*2)

	for i := 0; i < NumSlots; i++ {
		require.NoError(t, tx.Transmit(0, dest, Header{}, big))
	}

	err := tx.Transmit(0, dest, Header{}, big)
	require.Error(t, err)
}

func Test_fragRxTimeoutFreesSlot(t *testing.T) {
	rx := NewFrag(DefaultFragConfig())
	source := mac.ShortAddress(1, 1)

	offset := uint8(0)
	_ = offset
	h := Header{Frag: &FragHeader{DatagramSize: 200, DatagramTag: 7}}
	_, done := rx.Receive(0, source, h, make([]byte, MaxFragSize))
	assert.False(t, done)
	assert.Equal(t, FragRx, rx.slots[0].State)

	// Advance well past the RX timeout with nothing arriving; Poll must
	// reclaim the slot so a future datagram isn't starved of a buffer.
	_, ready := rx.Poll(rx.config.RxTimeoutMs+1, PollOptions{CanTx: true})
	assert.False(t, ready)
	assert.Equal(t, FragFree, rx.slots[0].State)
}
