// Package serialrtk drives a multi-constellation RTK receiver board
// over a serial port, recovering GPGGA lines from its NMEA output and
// accepting RTCM correction bytes through a non-owning back-reference.
package serialrtk

import (
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/goblimey/rtk-bridge/driver"
	"github.com/goblimey/rtk-bridge/nmea"
)

// OpenTimeout bounds how long the supervisor waits between attempts to
// open different candidate ports.
const OpenTimeout = 1 * time.Second

// LineReceiveTimeout is the read timeout set on the port and the
// longest time since the last successful read that Join tolerates when
// no line can be parsed, before the board is considered gone.
const LineReceiveTimeout = 5 * time.Second

const frameBufferCapacity = 256

// bufferSize is the chunk size used for each port.Read call.
const bufferSize = 512

// GPGGAEvent is the payload an open Board's Join emits: a recovered
// GPGGA line's tail and recomputed checksum byte, ready for the
// correction driver's uplink sender.
type GPGGAEvent struct {
	Tail string
	CS   byte
}

// defaultBaudRate is used when a Factory's BaudRate is left at zero.
const defaultBaudRate = 115200

// Factory enumerates serial ports against a configured candidate list
// and opens the first one that matches, mirroring the port/candidate
// intersection the teacher's own serial port grabber tool performs.
type Factory struct {
	// Candidates lists the device names this board might appear as,
	// e.g. "/dev/ttyACM0", "COM4". Keys() returns only the subset of
	// this list that GetPortsList currently reports.
	Candidates []string

	// BaudRate is the serial connection's baud rate. Zero defaults to
	// 115200, the rate the teacher's own serial port grabber uses.
	BaudRate uint
}

var _ driver.Factory[string, GPGGAEvent] = (*Factory)(nil)

// Keys intersects the OS's live serial port list with the configured
// candidate names, preserving the candidate list's order.
func (f *Factory) Keys() []string {
	live, err := serial.GetPortsList()
	if err != nil {
		return nil
	}
	liveSet := make(map[string]struct{}, len(live))
	for _, p := range live {
		liveSet[p] = struct{}{}
	}

	var keys []string
	for _, c := range f.Candidates {
		if _, ok := liveSet[c]; ok {
			keys = append(keys, c)
		}
	}
	return keys
}

func (f *Factory) OpenTimeout() time.Duration { return OpenTimeout }

// New opens portName 8N1 at f.BaudRate (115200 if unset) with a read
// timeout of LineReceiveTimeout.
func (f *Factory) New(portName string) (driver.Connection[GPGGAEvent], driver.Pacemaker, bool) {
	baudRate := f.BaudRate
	if baudRate == 0 {
		baudRate = defaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: int(baudRate),
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, driver.Pacemaker{}, false
	}
	if err := port.SetReadTimeout(LineReceiveTimeout); err != nil {
		port.Close()
		return nil, driver.Pacemaker{}, false
	}

	return NewBoard(port), driver.Pacemaker{}, true
}

// NewBoard wraps an already-open port as a Board, ready for Join. port
// need only satisfy Read/Write/Close, so tests can pass a net.Pipe
// conn or other fake in place of a real serial.Port.
func NewBoard(port io.ReadWriteCloser) *Board {
	return &Board{
		shared:   &sharedPort{port: port},
		buf:      nmea.NewBuffer(frameBufferCapacity),
		lastTime: time.Now(),
	}
}

// rwPort is the slice of serial.Port that Board and sharedPort need.
// Narrowing it to exactly Read/Write/Close (rather than depending on
// serial.Port's full method set) keeps the board's own logic testable
// against a small fake without a real serial device.
type rwPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// sharedPort is the small struct a Receiver's weak-style back-reference
// points at. Close clears port under lock so any Receiver still holding
// a pointer to this struct silently no-ops from that point on, the same
// contract Arc::downgrade/Weak::upgrade gives the original driver.
type sharedPort struct {
	mu   sync.Mutex
	port rwPort
}

func (s *sharedPort) write(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return
	}
	s.port.Write(buf)
}

// readPort is called only from the Board's own Join loop, the
// exclusive reader of the port, so it need not serialise with write:
// a concurrent Close is still safe because it only ever nils out
// s.port under the same mutex write guards, and Board.Join's loop
// exits on the resulting read error.
func (s *sharedPort) readPort(dst []byte) (int, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return 0, io.ErrClosedPipe
	}
	return port.Read(dst)
}

func (s *sharedPort) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
}

// Board is an open connection to the RTK board: an owned serial port, a
// frame buffer recovering sentences from its byte stream, and the
// timestamp of the last successful read.
type Board struct {
	shared   *sharedPort
	buf      *nmea.Buffer
	lastTime time.Time
}

var _ driver.Connection[GPGGAEvent] = (*Board)(nil)

// Receiver returns a non-owning handle that accepts RTCM correction
// bytes for this board. Writes through it after the board has been
// torn down are silent no-ops.
func (b *Board) Receiver() *Receiver {
	return &Receiver{shared: b.shared}
}

// Join alternates parse and read phases: a parsed, checksum-valid line
// emits with the timestamp of the last successful read, not of the
// emit. A parse miss combined with a stale last-read timestamp, or a
// zero-byte/error read, ends the loop with result false (endpoint
// failure - the supervisor reconnects). A non-GPGGA classified line is
// dropped and the loop continues; see the design notes on this
// deliberate departure from the board's literal reference behaviour.
func (b *Board) Join(callback func(driver.Event[GPGGAEvent]) bool) bool {
	readBuf := make([]byte, bufferSize)

	for {
		sentence, ok := b.buf.Parse()
		if ok {
			line, cs, err := nmea.Classify(sentence)
			if err != nil {
				continue
			}
			if line.Kind != nmea.KindGPGGA {
				continue
			}
			ev := driver.Event[GPGGAEvent]{
				Kind:       driver.KindEvent,
				Time:       b.lastTime,
				Payload:    GPGGAEvent{Tail: line.Tail, CS: cs},
				HasPayload: true,
			}
			if !callback(ev) {
				return true
			}
			continue
		}

		if time.Since(b.lastTime) > LineReceiveTimeout {
			return false
		}

		dst := b.buf.ToWrite()
		if len(dst) > len(readBuf) {
			dst = dst[:len(readBuf)]
		}
		n, err := b.shared.readPort(dst)
		if err != nil || n == 0 {
			return false
		}
		b.buf.Extend(n)
		b.lastTime = time.Now()
	}
}

// Close tears down the board's serial port and severs any outstanding
// Receiver's back-reference.
func (b *Board) Close() {
	b.shared.close()
}

// Receiver is a non-owning back-reference to a Board's serial port. It
// accepts RTCM correction bytes on behalf of the correction-service
// driver and silently drops writes once the owning Board is closed.
type Receiver struct {
	shared *sharedPort
}

// Write forwards buf to the serial port if the owning Board is still
// alive; otherwise it silently no-ops.
func (r *Receiver) Write(buf []byte) {
	r.shared.write(buf)
}
