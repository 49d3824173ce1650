package radio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/lpwan"
)

func Test_init(t *testing.T) {
	r := NewMockRadio()
	b := New(r)
	assert.Equal(t, lpwan.RadioIdle, b.State())
	r.AssertExpectations(t)
}

func Test_receive(t *testing.T) {
	r := NewMockRadio()
	b := New(r)
	assert.Equal(t, lpwan.RadioIdle, b.State())

	r.On("StartReceive").Return(nil).Once()
	require.NoError(t, b.Receive(0))
	assert.Equal(t, lpwan.RadioReceive, b.State())

	r.On("CheckReceive", true).Return(false, nil).Once()
	pkt, err := b.Tick(1)
	require.NoError(t, err)
	assert.Nil(t, pkt)
	assert.Equal(t, lpwan.RadioReceive, b.State())

	data := []byte{0x00, 0x11, 0x22, 0x33}
	r.On("CheckReceive", true).Return(true, nil).Once()
	r.On("GetReceived", mock.Anything).Return(data, -42, nil).Once()
	r.On("StartReceive").Return(nil).Once()
	pkt, err = b.Tick(2)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, data, pkt.Bytes())
	assert.Equal(t, -42, pkt.RSSI)
	assert.Equal(t, lpwan.RadioReceive, b.State())

	r.AssertExpectations(t)
}

func Test_transmit(t *testing.T) {
	r := NewMockRadio()
	b := New(r)
	assert.Equal(t, lpwan.RadioIdle, b.State())

	r.On("StartTransmit", []byte{0x00, 0x11, 0x22}).Return(nil).Once()
	require.NoError(t, b.Transmit(0, []byte{0x00, 0x11, 0x22}))
	assert.Equal(t, lpwan.RadioTransmit, b.State())

	r.On("CheckTransmit").Return(false, nil).Once()
	pkt, err := b.Tick(1)
	require.NoError(t, err)
	assert.Nil(t, pkt)
	assert.Equal(t, lpwan.RadioTransmit, b.State())

	r.On("CheckTransmit").Return(true, nil).Once()
	r.On("StartReceive").Return(nil).Once()
	pkt, err = b.Tick(2)
	require.NoError(t, err)
	assert.Nil(t, pkt)
	assert.Equal(t, lpwan.RadioReceive, b.State())

	r.AssertExpectations(t)
}

func Test_busyRejectsTransmit(t *testing.T) {
	r := NewMockRadio()
	b := New(r)

	r.On("StartReceive").Return(nil).Once()
	require.NoError(t, b.Receive(0))

	err := b.Transmit(1, []byte{0x01})
	require.Error(t, err)

	var lerr *lpwan.Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, lpwan.KindBusy, lerr.Kind)
}

func Test_radioErrorPropagates(t *testing.T) {
	r := NewMockRadio()
	b := New(r)

	cause := errors.New("spi timeout")
	r.On("StartReceive").Return(cause).Once()

	err := b.Receive(0)
	require.Error(t, err)

	var lerr *lpwan.Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, lpwan.KindRadio, lerr.Kind)
	assert.ErrorIs(t, err, cause)
}
