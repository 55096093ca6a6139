package bridge

import (
	"net"
	"strings"
	"testing"

	"github.com/goblimey/rtk-bridge/correction"
	"github.com/goblimey/rtk-bridge/driver"
	"github.com/goblimey/rtk-bridge/serialrtk"
)

func TestBridge_CorrectionEventDroppedWithNoDownlink(t *testing.T) {
	b := New()
	// No serial side ever connected: a correction data event must be
	// dropped silently, not panic or block.
	b.HandleCorrectionEvent(driver.Event[correction.RTCMEvent]{
		Kind:       driver.KindEvent,
		HasPayload: true,
		Payload:    correction.RTCMEvent{Data: []byte("RTCM")},
	})

	report := string(b.StatusReport())
	if !strings.Contains(report, "downlink: absent") {
		t.Errorf("report = %q, want it to show downlink absent", report)
	}
	if !strings.Contains(report, "delivered=false") {
		t.Errorf("report = %q, want a dropped-delivery entry", report)
	}
}

func TestBridge_SerialEventDroppedWithNoUplink(t *testing.T) {
	b := New()
	b.HandleSerialEvent(driver.Event[serialrtk.GPGGAEvent]{
		Kind:       driver.KindEvent,
		HasPayload: true,
		Payload:    serialrtk.GPGGAEvent{Tail: "1,2,N*00", CS: 0x00},
	})

	report := string(b.StatusReport())
	if !strings.Contains(report, "uplink: absent") {
		t.Errorf("report = %q, want it to show uplink absent", report)
	}
	if !strings.Contains(report, "sent=false") {
		t.Errorf("report = %q, want a dropped-send entry", report)
	}
}

func TestBridge_ForwardsDownlinkWhenSerialConnected(t *testing.T) {
	b := New()

	serialSide, feederSide := net.Pipe()
	defer serialSide.Close()
	defer feederSide.Close()

	board := serialrtk.NewBoard(serialSide)
	b.HandleSerialEvent(driver.Event[serialrtk.GPGGAEvent]{Kind: driver.KindConnected, Conn: board})

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := feederSide.Read(buf)
		done <- string(buf[:n])
	}()

	b.HandleCorrectionEvent(driver.Event[correction.RTCMEvent]{
		Kind:       driver.KindEvent,
		HasPayload: true,
		Payload:    correction.RTCMEvent{Data: []byte("RTCMBYTES")},
	})

	if got := <-done; got != "RTCMBYTES" {
		t.Errorf("downlink write = %q, want %q", got, "RTCMBYTES")
	}

	report := string(b.StatusReport())
	if !strings.Contains(report, "downlink: connected") {
		t.Errorf("report = %q, want downlink connected", report)
	}
}

func TestBridge_ClearsDownlinkSlotOnDisconnected(t *testing.T) {
	b := New()
	serialSide, _ := net.Pipe()
	defer serialSide.Close()

	board := serialrtk.NewBoard(serialSide)
	b.HandleSerialEvent(driver.Event[serialrtk.GPGGAEvent]{Kind: driver.KindConnected, Conn: board})
	b.HandleSerialEvent(driver.Event[serialrtk.GPGGAEvent]{Kind: driver.KindDisconnected})

	report := string(b.StatusReport())
	if !strings.Contains(report, "downlink: absent") {
		t.Errorf("report = %q, want downlink absent after Disconnected", report)
	}
}

func TestBridge_ForwardsUplinkWhenCorrectionConnected(t *testing.T) {
	b := New()

	client, server := net.Pipe()
	defer server.Close()

	serverDone := make(chan string, 1)
	go func() {
		handshake := make([]byte, 4096)
		server.Read(handshake) // drain the handshake request
		server.Write([]byte("ICY 200 OK\r\n"))

		buf := make([]byte, 256)
		n, _ := server.Read(buf)
		serverDone <- string(buf[:n])
	}()

	f := &correction.Factory{
		HostPort:    "ignored",
		Credentials: correction.HardCoded("dXNlcjpwYXNz"),
		Dial:        func(string) (net.Conn, error) { return client, nil },
	}
	conn, _, ok := f.New("dXNlcjpwYXNz")
	if !ok {
		t.Fatalf("expected handshake success")
	}

	b.HandleCorrectionEvent(driver.Event[correction.RTCMEvent]{Kind: driver.KindConnected, Conn: conn})

	b.HandleSerialEvent(driver.Event[serialrtk.GPGGAEvent]{
		Kind:       driver.KindEvent,
		HasPayload: true,
		Payload:    serialrtk.GPGGAEvent{Tail: "1,2,N,3,E,1,4,5,6,M,7,M,,*42", CS: 0x42},
	})

	want := "$GPGGA,1,2,N,3,E,1,4,5,6,M,7,M,,*42\r\n"
	if got := <-serverDone; got != want {
		t.Errorf("uplink send = %q, want %q", got, want)
	}

	report := string(b.StatusReport())
	if !strings.Contains(report, "uplink: connected") {
		t.Errorf("report = %q, want uplink connected", report)
	}
}

func TestBridge_ClearsUplinkSlotOnConnectFailed(t *testing.T) {
	b := New()

	client, server := net.Pipe()
	defer server.Close()

	go func() {
		handshake := make([]byte, 4096)
		server.Read(handshake)
		server.Write([]byte("ICY 200 OK\r\n"))
	}()

	f := &correction.Factory{
		HostPort:    "ignored",
		Credentials: correction.HardCoded("dXNlcjpwYXNz"),
		Dial:        func(string) (net.Conn, error) { return client, nil },
	}
	conn, _, ok := f.New("dXNlcjpwYXNz")
	if !ok {
		t.Fatalf("expected handshake success")
	}

	b.HandleCorrectionEvent(driver.Event[correction.RTCMEvent]{Kind: driver.KindConnected, Conn: conn})
	b.HandleCorrectionEvent(driver.Event[correction.RTCMEvent]{Kind: driver.KindConnectFailed})

	report := string(b.StatusReport())
	if !strings.Contains(report, "uplink: absent") {
		t.Errorf("report = %q, want uplink absent after ConnectFailed", report)
	}
}

func TestBridge_StatusReportCapsRecentActivity(t *testing.T) {
	b := New()
	for i := 0; i < recentActivityDepth+5; i++ {
		b.HandleCorrectionEvent(driver.Event[correction.RTCMEvent]{
			Kind:       driver.KindEvent,
			HasPayload: true,
			Payload:    correction.RTCMEvent{Data: []byte("x")},
		})
	}

	report := string(b.StatusReport())
	if got := strings.Count(report, "downlink:"); got != recentActivityDepth+1 {
		t.Errorf("got %d activity/status lines mentioning downlink, want %d (1 status + %d capped entries)",
			got, recentActivityDepth+1, recentActivityDepth)
	}
}
