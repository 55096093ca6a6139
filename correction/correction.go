// Package correction drives the TCP connection to a fixed differential
// correction service: a minimal HTTP-Basic handshake followed by a raw
// RTCM byte stream downlink and GPGGA sentences uplink.
package correction

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dolmen-go/contextio"

	"github.com/goblimey/rtk-bridge/driver"
	"github.com/goblimey/rtk-bridge/nmea"
)

// OpenTimeout bounds how long the supervisor waits between attempts to
// try different candidate credentials.
const OpenTimeout = 2 * time.Second

// HandshakeLineTimeout bounds how long the single handshake response
// line may take to arrive.
const HandshakeLineTimeout = 5 * time.Second

const successLine = "ICY 200 OK"

const readChunkSize = 1024

// RTCMEvent is the payload an open Stream's Join emits: one chunk of
// raw RTCM bytes read from the correction service.
type RTCMEvent struct {
	Data []byte
}

// CredentialSource supplies the ordered candidate base64 credentials a
// Factory tries each reconnect cycle. HardCoded and FileCredentials are
// the two variants spec.md allows.
type CredentialSource interface {
	Credentials() []string
}

// HardCoded is a CredentialSource wrapping a single compiled-in
// base64-encoded "user:password" credential.
type HardCoded string

// Credentials returns the single compiled-in credential.
func (h HardCoded) Credentials() []string { return []string{string(h)} }

// FileCredentials reads one "user:password" line per credential from a
// file named Path, base64-encoding each line independently. The file is
// read fresh on every call, so credentials can be rotated without
// restarting the process.
type FileCredentials struct {
	Path string
}

// Credentials reads and re-encodes the credential file. A missing or
// unreadable file yields no candidates, not an error: the factory's
// Keys() simply returns nothing and the supervisor emits
// ConnectFailed.
func (f FileCredentials) Credentials() []string {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		out = append(out, base64.StdEncoding.EncodeToString([]byte(line)))
	}
	return out
}

// Factory dials a fixed correction-service host:port and performs the
// HTTP-Basic-style handshake with each candidate credential in turn.
type Factory struct {
	// HostPort is the fixed remote endpoint, e.g.
	// "203.107.45.154:8002".
	HostPort string
	// Credentials supplies the candidate keys tried each reconnect
	// cycle.
	Credentials CredentialSource
	// Dial defaults to net.Dial("tcp", HostPort) but can be
	// substituted in tests.
	Dial func(hostPort string) (net.Conn, error)
}

var _ driver.Factory[string, RTCMEvent] = (*Factory)(nil)

// Keys returns the ordered candidate base64 credentials for this
// reconnect cycle.
func (f *Factory) Keys() []string {
	if f.Credentials == nil {
		return nil
	}
	return f.Credentials.Credentials()
}

func (f *Factory) OpenTimeout() time.Duration { return OpenTimeout }

// New dials the service and performs the handshake with key as the
// base64 credential. ok is false if the dial fails, the handshake
// response line can't be read within HandshakeLineTimeout, or the
// response line isn't exactly "ICY 200 OK".
func (f *Factory) New(key string) (driver.Connection[RTCMEvent], driver.Pacemaker, bool) {
	dial := f.Dial
	if dial == nil {
		dial = func(hostPort string) (net.Conn, error) {
			return net.Dial("tcp", hostPort)
		}
	}

	conn, err := dial(f.HostPort)
	if err != nil {
		return nil, driver.Pacemaker{}, false
	}

	request := fmt.Sprintf("GET /AUTO HTTP/1.1\r\nAuthorization: Basic %s\r\n\r\n", key)
	if _, err := conn.Write([]byte(request)); err != nil {
		conn.Close()
		return nil, driver.Pacemaker{}, false
	}

	// The handshake's single response line is bounded by
	// HandshakeLineTimeout: a read deadline on conn ends a read that is
	// already blocked, and the cancellable context refuses any further
	// read once it expires. Once the line arrives the deadline is
	// cleared and that context is done with, so the chunk-reading loop
	// below reads straight off conn instead of through it.
	handshakeCtx, cancel := context.WithTimeout(context.Background(), HandshakeLineTimeout)
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(HandshakeLineTimeout))
	handshakeReader := bufio.NewReader(contextio.NewReader(handshakeCtx, conn))
	line, err := handshakeReader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, driver.Pacemaker{}, false
	}
	if strings.TrimRight(line, "\r\n") != successLine {
		conn.Close()
		return nil, driver.Pacemaker{}, false
	}
	conn.SetReadDeadline(time.Time{})

	// Anything handshakeReader already buffered past the response line
	// is live stream data (RTCM bytes arrived in the same TCP segment)
	// and must be preserved, not discarded along with the handshake's
	// context-bound reader.
	var leftover []byte
	if n := handshakeReader.Buffered(); n > 0 {
		leftover = make([]byte, n)
		handshakeReader.Read(leftover)
	}

	stream := &Stream{conn: conn, reader: bufio.NewReader(io.MultiReader(bytes.NewReader(leftover), conn))}
	return stream, driver.Pacemaker{}, true
}

// Stream is an open, handshaken connection to the correction service.
type Stream struct {
	conn   net.Conn
	reader *bufio.Reader
}

var _ driver.Connection[RTCMEvent] = (*Stream)(nil)

// Join reads chunks of up to 1KiB and emits each as an event with the
// current timestamp. Any read error or EOF ends the loop with result
// false (endpoint failure - the supervisor reconnects).
func (s *Stream) Join(callback func(driver.Event[RTCMEvent]) bool) bool {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.reader.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			ev := driver.Event[RTCMEvent]{
				Kind:       driver.KindEvent,
				Time:       time.Now(),
				Payload:    RTCMEvent{Data: chunk},
				HasPayload: true,
			}
			if !callback(ev) {
				return true
			}
		}
		if err != nil {
			return false
		}
	}
}

// Close tears down the underlying TCP connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// Sender returns an uplink sender cloning the writable side of this
// stream's TCP connection.
func (s *Stream) Sender() *Sender {
	return &Sender{conn: s.conn}
}

// Sender is the uplink side of a Stream: it re-emits GPGGA lines
// originally recovered by the serial driver under the service-required
// "GPGGA" talker id, reusing the framer's already-computed checksum
// rather than recomputing it.
type Sender struct {
	conn net.Conn
}

// Send composes the canonical "$GPGGA,<tail>*HH\r\n" line and writes
// it to the correction service.
func (s *Sender) Send(tail string, cs byte) error {
	line := nmea.RebuildNMEA("GPGGA", tail, cs) + "\r\n"
	_, err := s.conn.Write([]byte(line))
	return err
}
