// Package wireframe provides the length-prefixed framing shared by the
// raw-socket transport adapters (mqttconn's PubSub variant, queueconn).
// WebSocket-carried variants don't need it -- gorilla/websocket already
// frames messages -- but a bare TLS/TCP socket has no message boundaries
// of its own.
package wireframe

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLen guards against a corrupt length prefix ever triggering an
// unbounded allocation.
const MaxFrameLen = 1 << 20

// WriteLengthPrefixed writes a 4-byte big-endian length prefix followed by
// data.
func WriteLengthPrefixed(w io.Writer, data []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadLengthPrefixed reads one length-prefixed frame from r.
func ReadLengthPrefixed(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return nil, fmt.Errorf("wireframe: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
