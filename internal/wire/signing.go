package wire

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards/eddsa"
	"github.com/consensys/gnark-crypto/hash"
)

// signatureHash is the hash function EdDSA signs over. gnark-crypto's
// twisted-Edwards EdDSA requires an explicit hash.Hash; MIMC is the
// curve family's native choice and is what the teacher's existing
// bls12-377 dependency already links in.
func signatureHash() hash.Hash { return hash.MIMC_BLS12_377 }

// Signer owns a process's EdDSA keypair and signs/verifies protocol
// messages, grounded on private_billing/server/signing.py's
// Signer/Signature pair and continuing the teacher's bls12-377
// dependency (see SPEC_FULL.md §4) rather than a second curve family.
type Signer struct {
	privateKey *eddsa.PrivateKey
}

// NewSigner generates a fresh EdDSA keypair from a cryptographic RNG.
func NewSigner() (*Signer, error) {
	sk, err := eddsa.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wire: generating signing key: %w", err)
	}
	return &Signer{privateKey: sk}, nil
}

// PublicKeyBytes returns the serialized public key, used both on the
// wire (NodeInfo.PublicKey) and to derive a node's self-certifying ID.
func (s *Signer) PublicKeyBytes() []byte {
	return s.privateKey.PublicKey.Bytes()
}

// Sign signs payload, returning a Signature ready to attach to a
// SignedMessage.
func (s *Signer) Sign(payload []byte) (Signature, error) {
	sig, err := s.privateKey.Sign(payload, signatureHash().New())
	if err != nil {
		return Signature{}, fmt.Errorf("wire: signing payload: %w", err)
	}
	return Signature{Bytes: sig}, nil
}

// Signature is an EdDSA signature over a SignedMessage's payload.
type Signature struct {
	Bytes []byte `json:"bytes"`
}

// Verify checks sig against payload under the public key serialized
// in pubKeyBytes.
func Verify(pubKeyBytes, payload []byte, sig Signature) (bool, error) {
	var pub eddsa.PublicKey
	if _, err := pub.SetBytes(pubKeyBytes); err != nil {
		return false, fmt.Errorf("wire: decoding public key: %w", err)
	}
	ok, err := pub.Verify(sig.Bytes, payload, signatureHash().New())
	if err != nil {
		return false, fmt.Errorf("wire: verifying signature: %w", err)
	}
	return ok, nil
}

// SignedMessage wraps an envelope's raw bytes with a signature, per
// spec.md §4.7: verification fails closed if the origin's public key
// is unknown or the signature does not match.
type SignedMessage struct {
	Bytes     []byte    `json:"bytes"`
	Signature Signature `json:"signature"`
}

// SignMessage produces a SignedMessage over payload.
func (s *Signer) SignMessage(payload []byte) (SignedMessage, error) {
	sig, err := s.Sign(payload)
	if err != nil {
		return SignedMessage{}, err
	}
	return SignedMessage{Bytes: payload, Signature: sig}, nil
}

// InvalidSignatureError is returned when a SignedMessage fails
// verification: unknown origin key, or signature mismatch.
type InvalidSignatureError struct {
	Reason string
}

func (e InvalidSignatureError) Error() string {
	return fmt.Sprintf("wire: invalid signature: %s", e.Reason)
}

// VerifyMessage checks sm against the public key bytes of its
// claimed origin. Fails closed: any error decoding the key or
// verifying the signature is reported as InvalidSignatureError.
func VerifyMessage(sm SignedMessage, originPubKey []byte) error {
	if len(originPubKey) == 0 {
		return InvalidSignatureError{Reason: "origin public key unknown"}
	}
	ok, err := Verify(originPubKey, sm.Bytes, sm.Signature)
	if err != nil {
		return InvalidSignatureError{Reason: err.Error()}
	}
	if !ok {
		return InvalidSignatureError{Reason: "signature does not match"}
	}
	return nil
}

// DeriveNodeID computes a node's self-certifying identifier: the low
// 64 bits of a SHA-256 digest of its serialized public key (spec.md §3).
func DeriveNodeID(pubKeyBytes []byte) uint64 {
	digest := sha256.Sum256(pubKeyBytes)
	var id uint64
	for i := 0; i < 8; i++ {
		id = (id << 8) | uint64(digest[len(digest)-8+i])
	}
	return id
}
