package wire

import (
	"encoding/base64"
	"fmt"

	"github.com/tuneinsight/lattigo/v4/rlwe"
)

// CiphertextJSON base64-wraps a lattigo ciphertext's binary
// serialization so it can travel inside an Envelope's JSON payload,
// the same pattern the teacher's p2p.G1AffineJSON uses for a
// bls12377.G1Affine: a binary-marshalable crypto type wrapped as a
// base64 JSON string rather than re-derived as a JSON object.
type CiphertextJSON struct {
	*rlwe.Ciphertext
}

// MarshalJSON implements json.Marshaler.
func (c CiphertextJSON) MarshalJSON() ([]byte, error) {
	raw, err := c.Ciphertext.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("wire: marshaling ciphertext: %w", err)
	}
	return []byte(`"` + base64.StdEncoding.EncodeToString(raw) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CiphertextJSON) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("wire: invalid JSON string for CiphertextJSON")
	}
	raw, err := base64.StdEncoding.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("wire: decoding ciphertext base64: %w", err)
	}
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("wire: unmarshaling ciphertext: %w", err)
	}
	c.Ciphertext = ct
	return nil
}
