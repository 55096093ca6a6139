package driver

import (
	"time"

	"github.com/goblimey/go-tools/clock"
)

// DefaultRetryInterval is the pause between an exhausted key
// enumeration and the next one, within the 1-3s window production
// deployments have found workable for both serial re-plugging and
// transient TCP outages.
const DefaultRetryInterval = 2 * time.Second

// Supervisor runs the Enumerating -> Opening(k) -> Connected -> Running
// -> Disconnected state machine of one driver, retrying indefinitely
// until its caller's callback returns false.
type Supervisor[K comparable, E any] struct {
	factory Factory[K, E]

	// RetryInterval is the pause after an exhausted key enumeration
	// before the next one starts. Defaults to DefaultRetryInterval.
	RetryInterval time.Duration

	// Clock supplies the timestamps stamped onto emitted events so
	// tests can assert on them deterministically. Defaults to the
	// system clock.
	Clock clock.Clock
}

// NewSupervisor builds a Supervisor around factory with production
// defaults (2s retry interval, system clock).
func NewSupervisor[K comparable, E any](factory Factory[K, E]) *Supervisor[K, E] {
	return &Supervisor[K, E]{
		factory:       factory,
		RetryInterval: DefaultRetryInterval,
		Clock:         clock.NewSystemClock(),
	}
}

// Run drives the state machine, invoking callback for every event. It
// returns once callback returns false for any event: for a Connected,
// Disconnected or ConnectFailed event straight away, and for a data
// event once Join has ended and the Disconnected event has been
// delivered. It never returns on its own otherwise.
func (s *Supervisor[K, E]) Run(callback func(Event[E]) bool) {
	retry := s.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}

	for {
		keys := s.factory.Keys()

		conn, key, connected := s.openAny(keys)
		if !connected {
			if !callback(Event[E]{Kind: KindConnectFailed, Time: clk.Now()}) {
				return
			}
			sleep(clk, retry)
			continue
		}

		if !callback(Event[E]{Kind: KindConnected, Time: clk.Now(), Conn: conn, Key: key}) {
			return
		}

		cont := conn.Join(func(ev Event[E]) bool {
			return callback(ev)
		})

		if !callback(Event[E]{Kind: KindDisconnected, Time: clk.Now(), Key: key}) {
			return
		}
		if cont {
			// The callback itself requested the stop that ended
			// Join; honour it by not looping again.
			return
		}
	}
}

// openAny tries each key in order, returning the first successful
// connection and the key that produced it. After each failed attempt
// that has another key after it, it sleeps for the factory's
// OpenTimeout (no sleep when that is zero).
func (s *Supervisor[K, E]) openAny(keys []K) (Connection[E], K, bool) {
	timeout := s.factory.OpenTimeout()
	for i, k := range keys {
		conn, _, ok := s.factory.New(k)
		if ok {
			return conn, k, true
		}
		if timeout > 0 && i < len(keys)-1 {
			time.Sleep(timeout)
		}
	}
	var zero K
	return nil, zero, false
}

// sleep pauses for d. clock.Clock only supplies Now, so the retry delay
// itself always goes through the real timer; tests drive Supervisor's
// progress invariant by setting RetryInterval small rather than by
// faking the sleep.
func sleep(clk clock.Clock, d time.Duration) {
	_ = clk
	time.Sleep(d)
}
