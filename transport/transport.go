// Package transport frames XCP CTO/DTO packets onto UDP datagrams or TCP
// byte streams and hands reassembled payloads to the protocol engine.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// headerSize is the 4-byte LEN|CTR header prefixing every packet.
	headerSize = 4
	// DefaultMTU is the default maximum packet size (LEN+CTR+payload),
	// chosen to fit a standard Ethernet MTU without IP fragmentation.
	DefaultMTU = 1472
)

// ErrClosed is returned by Recv/Send once the transport has been shut down.
var ErrClosed = errors.New("transport: closed")

// ErrBadFrame is returned when a received frame fails validation (LEN=0 or
// an incomplete payload).
var ErrBadFrame = errors.New("transport: malformed frame")

// Proto selects the Ethernet transport layer variant.
type Proto string

const (
	ProtoUDP Proto = "udp"
	ProtoTCP Proto = "tcp"
)

// Transport is the Ethernet transport layer abstraction used by the
// protocol engine. A send error must mark the session dead; the protocol
// engine observes this via Recv/Send return values and tears the session
// down — the transport itself never retries.
type Transport interface {
	// Start binds bindAddr and returns once the transport can Recv: the
	// UDP transport returns right after binding, the TCP transport after
	// accepting a single master connection. Canceling ctx later shuts the
	// transport down.
	Start(ctx context.Context, bindAddr string) error
	// Shutdown tears the transport down and unblocks any pending Recv.
	Shutdown() error
	// Send frames and transmits one packet (PID + payload, no LEN/CTR).
	Send(packet []byte) error
	// Recv blocks until the next complete packet arrives, returning its
	// payload with the LEN/CTR header stripped.
	Recv() ([]byte, error)
	// MTU returns the maximum total packet size (LEN+CTR+payload).
	MTU() uint16
}

// encodeFrame prepends the 4-byte LEN|CTR header to payload.
func encodeFrame(payload []byte, ctr uint16) []byte {
	out := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(out[2:4], ctr)
	copy(out[headerSize:], payload)
	return out
}

// decodeHeader parses the 4-byte LEN|CTR header. Counter gaps are never an
// error; CTR is advisory only.
func decodeHeader(hdr []byte) (length uint16, ctr uint16, err error) {
	if len(hdr) < headerSize {
		return 0, 0, fmt.Errorf("%w: short header", ErrBadFrame)
	}
	length = binary.LittleEndian.Uint16(hdr[0:2])
	ctr = binary.LittleEndian.Uint16(hdr[2:4])
	if length == 0 {
		return 0, 0, fmt.Errorf("%w: zero-length packet", ErrBadFrame)
	}
	return length, ctr, nil
}

// New constructs the concrete Transport for proto, with the given maximum
// packet size.
func New(proto Proto, mtu uint16) (Transport, error) {
	if mtu == 0 {
		mtu = DefaultMTU
	}
	switch proto {
	case ProtoUDP:
		return newUDPTransport(mtu), nil
	case ProtoTCP:
		return newTCPTransport(mtu), nil
	default:
		return nil, fmt.Errorf("transport: unknown protocol %q", proto)
	}
}
