// Package bridge cross-plumbs a serial RTK driver's supervisor and a
// correction-service driver's supervisor: serial GPGGA events become
// uplink sends, correction-service byte chunks become serial writes.
// Neither side's absence ever blocks or panics the other.
package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goblimey/go-tools/statusreporter"

	"github.com/goblimey/rtk-bridge/correction"
	"github.com/goblimey/rtk-bridge/driver"
	"github.com/goblimey/rtk-bridge/serialrtk"
)

// This is a compile-time check that Bridge implements the
// statusreporter.ReportFeedT interface, so it can be handed directly
// to statusreporter.MakeReporter by the CLI binary.
var _ statusreporter.ReportFeedT = (*Bridge)(nil)

// recentActivityDepth is how many recent forwarded items StatusReport
// keeps around for display.
const recentActivityDepth = 10

// uplinkSlot and downlinkSlot are the two independently lockable
// optional-value containers of spec.md's §4.G/§9: never a cyclic
// strong graph, each side free to be absent while the other runs.
type uplinkSlot struct {
	mu     sync.Mutex
	sender *correction.Sender
}

func (s *uplinkSlot) set(sender *correction.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

func (s *uplinkSlot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = nil
}

func (s *uplinkSlot) send(tail string, cs byte) (sent bool) {
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return false
	}
	sender.Send(tail, cs)
	return true
}

type downlinkSlot struct {
	mu       sync.Mutex
	receiver *serialrtk.Receiver
}

func (s *downlinkSlot) set(receiver *serialrtk.Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = receiver
}

func (s *downlinkSlot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = nil
}

func (s *downlinkSlot) write(buf []byte) (wrote bool) {
	s.mu.Lock()
	receiver := s.receiver
	s.mu.Unlock()
	if receiver == nil {
		return false
	}
	receiver.Write(buf)
	return true
}

// activityEntry records one forwarded item for StatusReport.
type activityEntry struct {
	when      time.Time
	direction string
	detail    string
}

// Bridge holds the two optional handles and forwards events between the
// serial and correction supervisors per spec.md's four rules.
type Bridge struct {
	uplink   uplinkSlot
	downlink downlinkSlot

	activityMu sync.Mutex
	activity   []activityEntry

	logLevel int32
}

// New creates an empty Bridge with neither side connected. Recent
// activity is recorded by default; call SetLogLevel(0) to quiet it.
func New() *Bridge {
	return &Bridge{logLevel: 1}
}

// HandleCorrectionEvent is the correction supervisor's callback:
// Connected stores the new uplink sender, Disconnected/ConnectFailed
// clears it, and a data Event writes to the downlink receiver if one is
// present (dropping it silently otherwise). It always asks the
// supervisor to keep running, so it can be passed directly as
// Supervisor.Run's callback.
func (b *Bridge) HandleCorrectionEvent(ev driver.Event[correction.RTCMEvent]) bool {
	switch ev.Kind {
	case driver.KindConnected:
		if stream, ok := ev.Conn.(*correction.Stream); ok {
			b.uplink.set(stream.Sender())
		}
	case driver.KindDisconnected, driver.KindConnectFailed:
		b.uplink.clear()
	case driver.KindEvent:
		if !ev.HasPayload {
			break
		}
		wrote := b.downlink.write(ev.Payload.Data)
		b.record("downlink", fmt.Sprintf("%d bytes (delivered=%v)", len(ev.Payload.Data), wrote))
	}
	return true
}

// HandleSerialEvent is the serial supervisor's callback: Connected
// stores the new downlink receiver, Disconnected/ConnectFailed clears
// it, and a GPGGA Event forwards (tail, cs) through the uplink sender
// if one is present. Non-GPGGA lines never reach this callback - the
// serial driver's own Join already drops them. It always asks the
// supervisor to keep running.
func (b *Bridge) HandleSerialEvent(ev driver.Event[serialrtk.GPGGAEvent]) bool {
	switch ev.Kind {
	case driver.KindConnected:
		if board, ok := ev.Conn.(*serialrtk.Board); ok {
			b.downlink.set(board.Receiver())
		}
	case driver.KindDisconnected, driver.KindConnectFailed:
		b.downlink.clear()
	case driver.KindEvent:
		if !ev.HasPayload {
			break
		}
		sent := b.uplink.send(ev.Payload.Tail, ev.Payload.CS)
		b.record("uplink", fmt.Sprintf("GPGGA (sent=%v)", sent))
	}
	return true
}

func (b *Bridge) record(direction, detail string) {
	if atomic.LoadInt32(&b.logLevel) == 0 {
		return
	}
	b.activityMu.Lock()
	defer b.activityMu.Unlock()
	b.activity = append(b.activity, activityEntry{when: time.Now(), direction: direction, detail: detail})
	if len(b.activity) > recentActivityDepth {
		b.activity = b.activity[len(b.activity)-recentActivityDepth:]
	}
}

// StatusReport renders a human-readable snapshot of the bridge's
// current state: whether each slot is present, and its recent forwarded
// activity. Wired to github.com/goblimey/go-tools/statusreporter by the
// CLI binary as the content of its status page.
func (b *Bridge) StatusReport() []byte {
	b.uplink.mu.Lock()
	uplinkPresent := b.uplink.sender != nil
	b.uplink.mu.Unlock()

	b.downlink.mu.Lock()
	downlinkPresent := b.downlink.receiver != nil
	b.downlink.mu.Unlock()

	b.activityMu.Lock()
	entries := append([]activityEntry(nil), b.activity...)
	b.activityMu.Unlock()

	out := fmt.Sprintf("uplink: %s\ndownlink: %s\n", presence(uplinkPresent), presence(downlinkPresent))
	for _, e := range entries {
		out += fmt.Sprintf("%s %s: %s\n", e.when.Format(time.RFC3339), e.direction, e.detail)
	}
	return []byte(out)
}

// Status satisfies statusreporter.ReportFeedT: it's StatusReport under
// the name the status-request route expects.
func (b *Bridge) Status() []byte {
	return b.StatusReport()
}

// SetLogLevel satisfies statusreporter.ReportFeedT, letting an operator
// toggle activity recording at runtime via a status request. 0 means
// quiet (StatusReport still shows current presence, but stops
// accumulating recent-activity entries); anything else is verbose.
func (b *Bridge) SetLogLevel(level uint8) {
	atomic.StoreInt32(&b.logLevel, int32(level))
}

func presence(ok bool) string {
	if ok {
		return "connected"
	}
	return "absent"
}
