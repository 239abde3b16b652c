package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is the generic message wrapper every payload travels
// inside, mirroring the teacher's p2p.Message{Type, Payload,
// SenderID} envelope but adding the reply address spec.md §6 requires
// for request/reply round-trips.
type Envelope struct {
	Type         MessageType     `json:"type"`
	ReplyAddress Address         `json:"reply_address"`
	Payload      json.RawMessage `json:"payload"`
}

// EncodeEnvelope packs typ, addr and a JSON-marshalable payload into
// envelope bytes ready for WriteFrame.
func EncodeEnvelope(typ MessageType, addr Address, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshaling payload for %q: %w", typ, err)
	}
	env := Envelope{Type: typ, ReplyAddress: addr, Payload: raw}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshaling envelope for %q: %w", typ, err)
	}
	return out, nil
}

// DecodeEnvelope unpacks envelope bytes into an Envelope, validating
// that its type is a known taxonomy entry.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: unmarshaling envelope: %w", err)
	}
	if err := env.Type.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodePayload unmarshals the envelope's payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("wire: unmarshaling %q payload: %w", e.Type, err)
	}
	return nil
}
