// Package serialkiss implements the lpwan.Radio capability over a serial
// link, framing each transmitted/received buffer with a length prefix so
// the two ends can recover frame boundaries over a byte stream.
package serialkiss

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/term"

	"github.com/doismellburning/lpwan"
)

/*-------------------------------------------------------------------
 *
 * Purpose:	Serial-port Radio adapter: one concrete implementation of
 *		the capability spec.md places out of scope. Not a real
 *		over-the-air transceiver - a length-prefixed framing over
 *		whatever is on the other end of the serial port (a real
 *		modem, or a loopback pty in tests).
 *
 *-------------------------------------------------------------------*/

const headerLen = 4 // big-endian uint32 length prefix

// Radio adapts a serial port opened via github.com/pkg/term into the
// lpwan.Radio capability. Transmit/Receive are non-blocking: bytes are
// queued to a background reader/writer pair and polled via
// CheckTransmit/CheckReceive, matching the capability's "no hidden I/O"
// contract (spec.md section 5).
type Radio struct {
	mu    sync.Mutex
	fd    io.ReadWriteCloser
	state lpwan.RadioState

	reader *bufio.Reader

	txDone bool
	txErr  error

	rxReady  bool
	rxBuf    []byte
	rxRSSI   int
	rxErr    error
	rxWanted bool
}

// Open opens devicename at baud (0 leaves the current speed alone,
// mirroring serial_port_open's behaviour) and returns a Radio adapter.
func Open(devicename string, baud int) (*Radio, error) {
	fd, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("serialkiss: open %s: %w", devicename, err)
	}

	switch baud {
	case 0:
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		if err := fd.SetSpeed(baud); err != nil {
			return nil, fmt.Errorf("serialkiss: set speed: %w", err)
		}
	default:
		return nil, fmt.Errorf("serialkiss: unsupported speed %d", baud)
	}

	return newRadio(fd), nil
}

// newRadio wraps any ReadWriteCloser as a Radio - a real *term.Term in
// production, an *os.File pty end in tests (see serialkiss_test.go).
func newRadio(fd io.ReadWriteCloser) *Radio {
	return &Radio{
		fd:     fd,
		state:  lpwan.RadioIdle,
		reader: bufio.NewReader(fd),
	}
}

// Close releases the underlying serial port.
func (r *Radio) Close() error {
	return r.fd.Close()
}

func (r *Radio) SetState(state lpwan.RadioState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	return nil
}

func (r *Radio) GetState() lpwan.RadioState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Radio) IsBusy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == lpwan.RadioTransmit
}

// StartTransmit writes a length-prefixed frame and returns immediately;
// the write itself is synchronous (pkg/term has no async write), but the
// protocol layer only ever checks completion via CheckTransmit.
func (r *Radio) StartTransmit(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hdr [headerLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))

	_, err := r.fd.Write(hdr[:])
	if err == nil {
		_, err = r.fd.Write(data)
	}

	r.txDone = true
	r.txErr = err
	r.state = lpwan.RadioTransmit
	return nil
}

func (r *Radio) CheckTransmit() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.txDone {
		return false, nil
	}
	r.txDone = false
	err := r.txErr
	r.txErr = nil
	return true, err
}

// StartReceive arms a background read of the next length-prefixed frame.
func (r *Radio) StartReceive() error {
	r.mu.Lock()
	r.rxWanted = true
	r.rxReady = false
	r.state = lpwan.RadioReceive
	r.mu.Unlock()
	return nil
}

// CheckReceive performs one non-blocking attempt to read a pending
// frame header + body. Because github.com/pkg/term exposes a blocking
// Read, this polls Available bytes first so Tick never stalls the host
// loop (spec.md section 5, "no hidden I/O").
func (r *Radio) CheckReceive(restart bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.rxWanted {
		return false, nil
	}

	peeked, err := r.reader.Peek(headerLen)
	if err != nil {
		// Fewer than headerLen bytes buffered yet; not an error, just
		// nothing ready this tick.
		return false, nil
	}
	n := int(binary.BigEndian.Uint32(peeked))

	if r.reader.Buffered() < headerLen+n {
		return false, nil
	}

	if _, err := io.ReadFull(r.reader, make([]byte, headerLen)); err != nil {
		return false, fmt.Errorf("serialkiss: read header: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return false, fmt.Errorf("serialkiss: read body: %w", err)
	}

	r.rxBuf = buf
	r.rxRSSI = 0 // serial link carries no RSSI of its own
	r.rxReady = true
	r.rxWanted = restart

	return true, nil
}

func (r *Radio) GetReceived(buf []byte) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.rxReady {
		return 0, 0, fmt.Errorf("serialkiss: no frame ready")
	}
	n := copy(buf, r.rxBuf)
	r.rxReady = false
	return n, r.rxRSSI, nil
}

// PollRSSI always reports 0: a plain serial link has no channel RSSI.
func (r *Radio) PollRSSI() (int, error) {
	return 0, nil
}

var _ lpwan.Radio = (*Radio)(nil)
