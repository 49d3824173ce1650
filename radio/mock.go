package radio

import (
	"github.com/stretchr/testify/mock"

	"github.com/doismellburning/lpwan"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Mock Radio and Timer collaborators for the test suite.
 *
 * Description:	The entire stack is designed so a mock radio can drive
 *		it end to end, per spec.md section 9 ("a mock implementing
 *		it drives the entire test suite"). Built on testify/mock,
 *		mirroring the teacher's use of testify across its test files.
 *
 *------------------------------------------------------------------*/

// MockRadio is a scriptable lpwan.Radio for unit tests.
type MockRadio struct {
	mock.Mock
}

func NewMockRadio() *MockRadio {
	return &MockRadio{}
}

func (m *MockRadio) SetState(state lpwan.RadioState) error {
	args := m.Called(state)
	return args.Error(0)
}

func (m *MockRadio) GetState() lpwan.RadioState {
	args := m.Called()
	return args.Get(0).(lpwan.RadioState)
}

func (m *MockRadio) IsBusy() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockRadio) StartTransmit(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockRadio) CheckTransmit() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

func (m *MockRadio) StartReceive() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRadio) CheckReceive(restart bool) (bool, error) {
	args := m.Called(restart)
	return args.Bool(0), args.Error(1)
}

func (m *MockRadio) GetReceived(buf []byte) (int, int, error) {
	args := m.Called(buf)
	if data, ok := args.Get(0).([]byte); ok {
		copy(buf, data)
		return len(data), args.Int(1), args.Error(2)
	}
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockRadio) PollRSSI() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

// MockTimer is a manually-advanced lpwan.Timer for deterministic tests.
type MockTimer struct {
	ms uint64
}

func NewMockTimer() *MockTimer {
	return &MockTimer{}
}

func (t *MockTimer) Set(ms uint64) {
	t.ms = ms
}

func (t *MockTimer) Advance(ms uint64) {
	t.ms += ms
}

func (t *MockTimer) TicksMs() uint64 {
	return t.ms
}

func (t *MockTimer) TicksUs() uint64 {
	return t.ms * 1000
}
