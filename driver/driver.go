// Package driver defines the contract a single external endpoint (a
// serial port, a TCP stream) must satisfy to be run by a Supervisor,
// and the event stream the supervisor delivers back to calling code.
package driver

import "time"

// Pacemaker is reserved for future liveness injection into a driver's
// event loop. No concrete driver currently produces anything but the
// zero value.
type Pacemaker struct{}

// Connection is the per-connection object a successful Factory.New
// returns. Join runs its blocking read loop, calling callback once per
// payload produced. callback's return value controls whether Join
// calls it again: false means do not re-enter this round. Join's own
// return value tells the supervisor whether the loop ended because the
// callback asked to stop (true, clean shutdown requested) or because
// the endpoint itself failed (false: EOF, timeout, read error - the
// supervisor should reconnect).
//
// A concrete connection type (*serialrtk.Board, *correction.Stream) is
// also where a caller finds side-channel accessors; the Connected event
// hands back the Connection so the caller can type-assert it to the
// concrete type.
type Connection[E any] interface {
	Join(callback func(Event[E]) bool) bool
}

// Factory is the capability set a supervisor needs to own one external
// endpoint: enumerate candidate keys, bound the wait between open
// attempts, and open one key into a running Connection.
//
// K is the driver's key type (a serial port name, an auth token
// string). E is the payload type of events the connection's Join
// produces.
type Factory[K comparable, E any] interface {
	// Keys returns the ordered candidate keys to try this reconnect
	// cycle. Earlier keys are tried first; it may query the OS or an
	// external credential source and is called once per cycle.
	Keys() []K

	// OpenTimeout bounds how long the supervisor waits between open
	// attempts of different keys. Zero means try immediately in
	// sequence.
	OpenTimeout() time.Duration

	// New opens the endpoint identified by key. ok is false if the
	// open failed; the supervisor then tries the next key.
	New(key K) (conn Connection[E], pm Pacemaker, ok bool)
}

// Kind identifies which variant of Event is populated.
type Kind int

const (
	// KindConnected: a key opened successfully. Conn is populated.
	KindConnected Kind = iota
	// KindEvent: the connection's Join produced a payload (or a bare
	// tick, if HasPayload is false - reserved for future use).
	KindEvent
	// KindDisconnected: the connection's Join returned.
	KindDisconnected
	// KindConnectFailed: every candidate key failed to open this
	// cycle.
	KindConnectFailed
)

// Event is the four-variant union a Supervisor delivers to its caller.
type Event[E any] struct {
	Kind Kind
	Time time.Time

	// Payload and HasPayload are populated for KindEvent.
	Payload    E
	HasPayload bool

	// Conn is populated for KindConnected.
	Conn Connection[E]

	// Key is the candidate key that produced this event - the key
	// passed to Factory.New for KindConnected, carried through to the
	// matching KindDisconnected. Held as any (rather than the
	// supervisor's K) since Event isn't itself parametrised by K.
	Key any
}
