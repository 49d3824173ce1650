package mac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/lpwan"
	"github.com/doismellburning/lpwan/radio"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Engine scenario and unit tests (spec.md section 8.2:
 *		beacon tx cadence, beacon rx + sync, CSMA-CA backoff,
 *		unicast ACK round trip, association).
 *
 *------------------------------------------------------------------*/

// fixedEntropy always returns the same backoff draw, for deterministic
// CSMA scheduling in tests.
type fixedEntropy struct {
	n int
}

func (f fixedEntropy) Backoff(int) int { return f.n }

func newTestMac(t *testing.T, cfg Config, r *radio.MockRadio, tm *radio.MockTimer, e Entropy) *Mac {
	t.Helper()
	r.On("StartReceive").Return(nil).Once()
	m, err := New(0x0102030405060708, cfg, r, tm, e)
	require.NoError(t, err)
	return m
}

func Test_coordinatorSendsBeaconOnSchedule(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	cfg := DefaultConfig()
	cfg.PANCoordinator = true

	m := newTestMac(t, cfg, r, tm, fixedEntropy{1})
	assert.Equal(t, uint64(cfg.SuperframeDurationMs()), m.nextBeaconMs)

	tm.Set(uint64(cfg.SuperframeDurationMs()))
	r.On("CheckReceive", true).Return(false, nil).Once()
	r.On("StartTransmit", mock.MatchedBy(func(data []byte) bool {
		pkt, err := Decode(data, false)
		return err == nil && pkt.Header.FrameType == FrameTypeBeacon
	})).Return(nil).Once()

	require.NoError(t, m.Tick())

	assert.Equal(t, uint64(2*cfg.SuperframeDurationMs()), m.nextBeaconMs)
	r.AssertExpectations(t)
}

func Test_nonCoordinatorDoesNotReArmOnMissedDeadline(t *testing.T) {
	// Regression test for the documented deviation from the original
	// source: a non-coordinator must not re-arm next_beacon_ms in the
	// beacon-slot-action step. Only receiving an actual beacon (or the
	// miss counter resetting sync) may change it.
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	cfg := DefaultConfig()
	cfg.PANCoordinator = false

	m := newTestMac(t, cfg, r, tm, fixedEntropy{1})
	m.nextBeaconMs = 1000
	m.syncState = Sync{Kind: SyncSynced, Parent: ExtendedAddress(cfg.PANID, 1)}
	m.lastASN = 0

	tm.Set(5000)
	r.On("CheckReceive", true).Return(false, nil).Once()

	require.NoError(t, m.Tick())

	assert.Equal(t, uint64(1000), m.nextBeaconMs, "non-coordinator must not re-arm next_beacon_ms here")
	assert.Equal(t, uint32(1), m.beaconMissCount)
}

func Test_beaconReceiveSyncsAndRequestsAssociation(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	cfg := DefaultConfig()
	cfg.PANCoordinator = false

	m := newTestMac(t, cfg, r, tm, fixedEntropy{1})

	coordinator := ExtendedAddress(cfg.PANID, 0xC0FFEE)
	beacon := NewBeacon(coordinator, 3, cfg.SuperframeSpec())
	var buf [MaxPayloadLen]byte
	n := beacon.Encode(buf[:], false)

	r.On("CheckReceive", true).Return(true, nil).Once()
	r.On("GetReceived", mock.Anything).Return(append([]byte(nil), buf[:n]...), -40, nil).Once()
	r.On("StartReceive").Return(nil).Once()

	require.NoError(t, m.Tick())

	state, parent := m.State()
	assert.Equal(t, StateSynced, state)
	assert.True(t, parent.Equal(coordinator))
	assert.Equal(t, AssocPending, m.assocState.Kind)
	assert.Equal(t, 1, m.txQueue.Len(), "sync should have queued an association request")

	r.AssertExpectations(t)
}

func Test_csmaBackoffOnBusyChannel(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	cfg := DefaultConfig()
	m := newTestMac(t, cfg, r, tm, fixedEntropy{3})

	pkt := NewData(ExtendedAddress(cfg.PANID, 2), m.Addr(), 0, []byte("hi"), false)
	m.txQueue.Push(TxEntry{Packet: pkt})
	m.csmaState = Csma{Kind: CsmaPending, Packet: pkt, TargetASN: 10}
	m.lastASN = 5 // forces the asn==lastASN branch below, independent of rsn

	r.On("PollRSSI").Return(-10, nil).Once() // -10 dBm > -50 dBm threshold: channel busy

	require.NoError(t, m.tickCAP(500, 5))

	assert.Equal(t, CsmaPending, m.csmaState.Kind)
	assert.Equal(t, uint64(0), m.csmaState.TargetASN)
	assert.Equal(t, uint64(1), m.csmaState.Retries)
	r.AssertExpectations(t)
}

func Test_csmaTransmitsOnClearChannel(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	cfg := DefaultConfig()
	m := newTestMac(t, cfg, r, tm, fixedEntropy{3})

	pkt := NewData(ExtendedAddress(cfg.PANID, 2), m.Addr(), 0, []byte("hi"), false)
	m.txQueue.Push(TxEntry{Packet: pkt})
	m.csmaState = Csma{Kind: CsmaPending, Packet: pkt, TargetASN: 10}
	m.lastASN = 10 // forces the asn==lastASN branch, landing on the asn==TargetASN case

	r.On("StartTransmit", mock.Anything).Return(nil).Once()

	require.NoError(t, m.tickCAP(1000, 10))

	assert.Equal(t, CsmaNone, m.csmaState.Kind)
	assert.Equal(t, 0, m.txQueue.Len(), "non-ACK-requested packet dequeues immediately on successful CCA")
	r.AssertExpectations(t)
}

func Test_csmaGivesUpAfterMaxBackoffs(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	cfg := DefaultConfig()
	cfg.CSMAMaxBackoffs = 2
	m := newTestMac(t, cfg, r, tm, fixedEntropy{1})

	pkt := NewData(ExtendedAddress(cfg.PANID, 2), m.Addr(), 0, []byte("hi"), false)
	m.txQueue.Push(TxEntry{Packet: pkt})
	m.csmaState = Csma{Kind: CsmaPending, Retries: 2}
	m.lastASN = 39

	require.NoError(t, m.tickCAP(4000, 40)) // asn=40, rsn=40%10=0, lastASN=39 != asn

	assert.Equal(t, CsmaNone, m.csmaState.Kind)
	assert.Equal(t, uint32(1), m.Stats().CSMAFailures)
	assert.Equal(t, 0, m.txQueue.Len())
}

func Test_ackMatchDequeuesTxQueue(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	m := newTestMac(t, DefaultConfig(), r, tm, fixedEntropy{1})

	dest := ExtendedAddress(m.config.PANID, 2)
	original := NewData(dest, m.Addr(), 5, []byte("hi"), true)
	m.txQueue.Push(TxEntry{Packet: original})

	m.handleAck(NewAck(original))

	assert.Equal(t, 0, m.txQueue.Len())
}

func Test_ackSequenceMismatchKeepsQueue(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	m := newTestMac(t, DefaultConfig(), r, tm, fixedEntropy{1})

	dest := ExtendedAddress(m.config.PANID, 2)
	original := NewData(dest, m.Addr(), 5, []byte("hi"), true)
	m.txQueue.Push(TxEntry{Packet: original})

	mismatched := original
	mismatched.Header.Seq = 6
	m.handleAck(NewAck(mismatched))

	assert.Equal(t, 1, m.txQueue.Len())
}

func Test_associationResponseCompletesAssociation(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	m := newTestMac(t, DefaultConfig(), r, tm, fixedEntropy{1})

	parent := ExtendedAddress(m.config.PANID, 0xC0FFEE)
	m.assocState = Assoc{Kind: AssocPending, Parent: parent, Expiry: 999999}

	respCmd := Command{ID: CommandAssociationResponse, Resp: AssocResponse{ShortAddr: 0x10, Status: AssocSuccessful}}
	resp := NewCommand(m.Addr(), parent, 1, respCmd)

	m.handleCommand(resp)

	assert.Equal(t, AssocAssociated, m.assocState.Kind)
	assert.Equal(t, parent.PANID, m.assocState.PAN)
}

func Test_associationRequestExpires(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	m := newTestMac(t, DefaultConfig(), r, tm, fixedEntropy{1})

	parent := ExtendedAddress(m.config.PANID, 0xC0FFEE)
	m.syncState = Sync{Kind: SyncSynced, Parent: parent}
	m.assocState = Assoc{Kind: AssocPending, Parent: parent, Expiry: 100}

	m.reconcileState(200, SyncSynced)

	assert.Equal(t, AssocUnassociated, m.assocState.Kind)
}

func Test_dataFrameDeliversToRxQueue(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	m := newTestMac(t, DefaultConfig(), r, tm, fixedEntropy{1})
	m.SetShortAddr(0x1234)

	sender := ExtendedAddress(m.config.PANID, 0xAA)
	p := NewData(ShortAddress(m.config.PANID, 0x1234), sender, 9, []byte("payload"), false)

	var raw lpwan.RawPacket
	raw.Len = p.Encode(raw.Data[:], false)
	raw.RSSI = -55

	m.handleReceived(0, &raw)

	out := make([]byte, 32)
	n, info, ok := m.Receive(out)
	require.True(t, ok)
	assert.Equal(t, "payload", string(out[:n]))
	assert.True(t, info.Source.Equal(sender))
	assert.Equal(t, -55, info.RSSI)
}

func Test_decodeErrorIncrementsStats(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	m := newTestMac(t, DefaultConfig(), r, tm, fixedEntropy{1})

	var raw lpwan.RawPacket
	raw.Len = 1 // too short to contain even a header

	m.handleReceived(0, &raw)

	assert.Equal(t, uint32(1), m.Stats().DecodeErrors)
}

func Test_transmitRejectsWhenQueueFull(t *testing.T) {
	r := radio.NewMockRadio()
	tm := radio.NewMockTimer()
	m := newTestMac(t, DefaultConfig(), r, tm, fixedEntropy{1})

	dest := ExtendedAddress(m.config.PANID, 2)
	for i := 0; i < QueueCapacity; i++ {
		require.NoError(t, m.Transmit(dest, []byte{byte(i)}, false))
	}

	assert.False(t, m.CanTransmit())
	err := m.Transmit(dest, []byte{0xFF}, false)
	require.Error(t, err)
	assert.True(t, err.(*lpwan.Error).QueueFull())
}
