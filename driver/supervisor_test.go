package driver

import (
	"sync"
	"testing"
	"time"
)

// fakeConnection is a Connection[E] whose Join plays back a scripted
// sequence of events. If the callback asks to stop mid-sequence, Join
// reports a clean shutdown (true); if the sequence runs out on its own,
// Join reports an endpoint failure (false), same as a real driver
// hitting EOF or a read timeout.
type fakeConnection struct {
	events []int
}

func (c *fakeConnection) Join(callback func(Event[int]) bool) bool {
	for _, v := range c.events {
		if !callback(Event[int]{Kind: KindEvent, Payload: v, HasPayload: true}) {
			return true
		}
	}
	return false
}

// fakeFactory opens any key that has an entry in conns (returning
// conns[key]) and fails every other key.
type fakeFactory struct {
	mu      sync.Mutex
	keys    []int
	openAt  int
	conns   map[int]*fakeConnection
	opened  []int
}

func (f *fakeFactory) Keys() []int { return f.keys }

func (f *fakeFactory) OpenTimeout() time.Duration { return 0 }

func (f *fakeFactory) New(key int) (Connection[int], Pacemaker, bool) {
	f.mu.Lock()
	f.opened = append(f.opened, key)
	f.mu.Unlock()
	conn, ok := f.conns[key]
	if !ok {
		return nil, Pacemaker{}, false
	}
	return conn, Pacemaker{}, true
}

func TestSupervisor_ConnectsToFirstSucceedingKey(t *testing.T) {
	conn := &fakeConnection{events: []int{1, 2, 3}}
	f := &fakeFactory{keys: []int{10, 20, 30}, conns: map[int]*fakeConnection{30: conn}}
	s := NewSupervisor[int, int](f)
	s.RetryInterval = time.Millisecond

	var kinds []Kind
	var payloads []int
	calls := 0
	s.Run(func(ev Event[int]) bool {
		kinds = append(kinds, ev.Kind)
		if ev.HasPayload {
			payloads = append(payloads, ev.Payload)
		}
		calls++
		return calls < 5 // Connected, 3 events, Disconnected - stop there
	})

	if len(f.opened) != 3 {
		t.Fatalf("opened keys = %v, want 3 attempts (10,20,30)", f.opened)
	}
	want := []Kind{KindConnected, KindEvent, KindEvent, KindEvent, KindDisconnected}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
	if len(payloads) != 3 || payloads[0] != 1 || payloads[1] != 2 || payloads[2] != 3 {
		t.Errorf("payloads = %v, want [1 2 3]", payloads)
	}
}

func TestSupervisor_ConnectedAndDisconnectedEventsCarryKey(t *testing.T) {
	conn := &fakeConnection{events: nil}
	f := &fakeFactory{keys: []int{10, 20, 30}, conns: map[int]*fakeConnection{30: conn}}
	s := NewSupervisor[int, int](f)
	s.RetryInterval = time.Millisecond

	var keys []any
	calls := 0
	s.Run(func(ev Event[int]) bool {
		if ev.Kind == KindConnected || ev.Kind == KindDisconnected {
			keys = append(keys, ev.Key)
		}
		calls++
		return calls < 2 // Connected, Disconnected - stop there
	})

	if len(keys) != 2 || keys[0] != 30 || keys[1] != 30 {
		t.Errorf("keys = %v, want [30 30]", keys)
	}
}

func TestSupervisor_NoKeySucceedsEmitsConnectFailed(t *testing.T) {
	f := &fakeFactory{keys: []int{1, 2}, conns: map[int]*fakeConnection{}}
	s := NewSupervisor[int, int](f)
	s.RetryInterval = time.Millisecond

	seen := make(chan Kind, 1)
	s.Run(func(ev Event[int]) bool {
		if ev.Kind == KindConnectFailed {
			seen <- ev.Kind
			return false
		}
		return true
	})

	select {
	case k := <-seen:
		if k != KindConnectFailed {
			t.Errorf("got %v, want KindConnectFailed", k)
		}
	default:
		t.Fatal("expected a ConnectFailed event")
	}
}

func TestSupervisor_CleanShutdownStopsReconnecting(t *testing.T) {
	// Join returns true ("clean shutdown requested") because the
	// callback itself returns false on the first scripted event.
	conn := &fakeConnection{events: []int{1}}
	f := &fakeFactory{keys: []int{1}, conns: map[int]*fakeConnection{1: conn}}
	s := NewSupervisor[int, int](f)
	s.RetryInterval = time.Millisecond

	var kinds []Kind
	s.Run(func(ev Event[int]) bool {
		kinds = append(kinds, ev.Kind)
		return ev.Kind != KindEvent
	})

	// Expect exactly Connected, Event, Disconnected - no second
	// Connected, because the callback asked to stop and Join honoured
	// it with joinResult=true.
	want := []Kind{KindConnected, KindEvent, KindDisconnected}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestSupervisor_ReconnectsAfterDriverFailure(t *testing.T) {
	// Join returns false ("endpoint failed") so the supervisor loops
	// back to Enumerating and reconnects.
	conn := &fakeConnection{events: nil}
	f := &fakeFactory{keys: []int{1}, conns: map[int]*fakeConnection{1: conn}}
	s := NewSupervisor[int, int](f)
	s.RetryInterval = time.Millisecond

	connectedCount := 0
	s.Run(func(ev Event[int]) bool {
		if ev.Kind == KindConnected {
			connectedCount++
		}
		return connectedCount < 3
	})

	if connectedCount != 3 {
		t.Fatalf("connectedCount = %d, want 3", connectedCount)
	}
}
