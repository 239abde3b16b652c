// Package wire implements the signed-message framing layer (C7):
// length-prefixed frames, a tagged message taxonomy carrying its own
// verification/reply metadata, and EdDSA sign/verify.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameLength guards against a malformed or hostile length prefix
// forcing an unbounded allocation.
const maxFrameLength = 64 << 20 // 64 MiB

// WriteFrame writes payload prefixed with its 8-byte little-endian
// length, per spec.md §6. A zero-length payload is a valid frame: the
// empty acknowledgement.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: writing frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. A zero-length
// frame returns a nil, non-error payload (the empty acknowledgement).
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("wire: reading frame length: %w", err)
	}
	length := binary.LittleEndian.Uint64(header[:])
	if length == 0 {
		return nil, nil
	}
	if length > maxFrameLength {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum %d", length, maxFrameLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading frame payload: %w", err)
	}
	return payload, nil
}
