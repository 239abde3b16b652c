// Package hiding implements the data-hiding layer's CKKS half (C4):
// leveled homomorphic encryption for vectors later combined
// multiplicatively, complementing the additive masks in internal/masking.
package hiding

import (
	"encoding/json"
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"
	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/meterfold/privatebilling/internal/masking"
	"github.com/meterfold/privatebilling/internal/vector"
)

// parametersForCycleLength builds the CKKS parameter literal spec.md
// §4.4 names: scaling modulus 55 bits, first modulus 59 bits, flexible
// auto scaling, uniform-ternary secret, ring dimension 2^14, batch
// size the smallest power of two >= cycleLength, multiplicative depth
// 3, four large digits, hybrid key switching.
func parametersForCycleLength(cycleLength int) (ckks.Parameters, int, error) {
	batchSize := nextPowerOfTwo(cycleLength)

	const depth = 3
	logQ := make([]int, depth+1)
	logQ[0] = 59
	for i := 1; i <= depth; i++ {
		logQ[i] = 55
	}
	// Four large digits for hybrid key switching (RNS decomposition).
	logP := []int{61, 61, 61, 61}

	literal := ckks.ParametersLiteral{
		LogN:            14,
		LogQ:            logQ,
		LogP:            logP,
		LogDefaultScale: 55,
	}
	params, err := ckks.NewParametersFromLiteral(literal)
	if err != nil {
		return ckks.Parameters{}, 0, fmt.Errorf("hiding: building CKKS parameters: %w", err)
	}
	return params, batchSize, nil
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// HidingOps is the trait shared by a full HidingContext and the
// PublicHidingContext handed to peers: everything that does not
// require the secret key.
type HidingOps interface {
	Encrypt(v vector.Vector) (*rlwe.Ciphertext, error)
	Multiply(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error)
	MultiplyByPlaintext(ct *rlwe.Ciphertext, v vector.Vector) (*rlwe.Ciphertext, error)
	Add(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error)
	InvertFlag(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error)
	CycleLength() int
	BatchSize() int
}

// PublicHidingContext carries the crypto context and public key only:
// no secret key, no Decrypt. This is what a core publishes to the
// edge and sibling cores so they can encrypt against it.
type PublicHidingContext struct {
	cycleLength int
	batchSize   int
	params      ckks.Parameters
	pk          *rlwe.PublicKey
	rlk         *rlwe.RelinearizationKey

	encoder   *ckks.Encoder
	encryptor *rlwe.Encryptor
	evaluator *ckks.Evaluator
}

// ActivateKeys reinstalls the relinearization key into this context's
// evaluator. lattigo, like the OpenFHE binding this is ported from,
// requires the key be explicitly (re-)registered with a fresh
// EvaluationKeySet after crossing a serialization boundary, rather
// than merging into whatever set the evaluator already holds. Call
// this once after constructing a PublicHidingContext from wire bytes.
func (p *PublicHidingContext) ActivateKeys() {
	evk := rlwe.NewMemEvaluationKeySet(p.rlk)
	p.evaluator = ckks.NewEvaluator(p.params, evk)
}

func (p *PublicHidingContext) CycleLength() int { return p.cycleLength }
func (p *PublicHidingContext) BatchSize() int   { return p.batchSize }

// PublicKey exposes the public key for wire serialization.
func (p *PublicHidingContext) PublicKey() *rlwe.PublicKey { return p.pk }

// RelinearizationKey exposes the relinearization key for wire
// serialization; the receiver must call ActivateKeys after restoring it.
func (p *PublicHidingContext) RelinearizationKey() *rlwe.RelinearizationKey { return p.rlk }

// Parameters exposes the CKKS parameter set for wire serialization.
func (p *PublicHidingContext) Parameters() ckks.Parameters { return p.params }

// Encrypt zero-pads v to the batch size, packs it as a CKKS
// plaintext, and encrypts under the public key.
func (p *PublicHidingContext) Encrypt(v vector.Vector) (*rlwe.Ciphertext, error) {
	padded := v.PadTo(p.batchSize)
	pt := ckks.NewPlaintext(p.params, p.params.MaxLevel())
	if err := p.encoder.Encode(padded, pt); err != nil {
		return nil, fmt.Errorf("hiding: encoding plaintext: %w", err)
	}
	ct, err := p.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("hiding: encrypting: %w", err)
	}
	return ct, nil
}

// Multiply multiplies two ciphertexts and relinearizes the result,
// the ct*ct step of the bill-computation kernel (spec.md §4.5).
func (p *PublicHidingContext) Multiply(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	out, err := p.evaluator.MulRelinNew(a, b)
	if err != nil {
		return nil, fmt.Errorf("hiding: multiplying ciphertexts: %w", err)
	}
	return out, nil
}

// MultiplyByPlaintext packs v and multiplies ct by it (the ct*pt step).
func (p *PublicHidingContext) MultiplyByPlaintext(ct *rlwe.Ciphertext, v vector.Vector) (*rlwe.Ciphertext, error) {
	padded := v.PadTo(p.batchSize)
	pt := ckks.NewPlaintext(p.params, ct.Level())
	if err := p.encoder.Encode(padded, pt); err != nil {
		return nil, fmt.Errorf("hiding: encoding plaintext scalar: %w", err)
	}
	out, err := p.evaluator.MulNew(ct, pt)
	if err != nil {
		return nil, fmt.Errorf("hiding: multiplying by plaintext: %w", err)
	}
	return out, nil
}

// Add adds two ciphertexts.
func (p *PublicHidingContext) Add(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	out, err := p.evaluator.AddNew(a, b)
	if err != nil {
		return nil, fmt.Errorf("hiding: adding ciphertexts: %w", err)
	}
	return out, nil
}

// InvertFlag returns 1-ct element-wise, by subtracting ct from a
// constant-one plaintext (spec.md §4.4's invert_flag).
func (p *PublicHidingContext) InvertFlag(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	ones := vector.New(p.cycleLength, 1)
	pt := ckks.NewPlaintext(p.params, ct.Level())
	if err := p.encoder.Encode(ones.PadTo(p.batchSize), pt); err != nil {
		return nil, fmt.Errorf("hiding: encoding ones plaintext: %w", err)
	}
	out, err := p.evaluator.SubNew(pt, ct)
	if err != nil {
		return nil, fmt.Errorf("hiding: inverting flag: %w", err)
	}
	return out, nil
}

// HidingContext is the full context: crypto context, key pair, and
// the mask generator used for the additive-sharing half of the hiding
// layer (spec.md §4.4 combined with C3).
type HidingContext struct {
	*PublicHidingContext
	sk            *rlwe.SecretKey
	decryptor     *rlwe.Decryptor
	maskGenerator *masking.Generator
}

// New builds a fresh HidingContext: generates CKKS parameters sized
// for cycleLength, a key pair, and the relinearization key.
func New(cycleLength int, maskGenerator *masking.Generator) (*HidingContext, error) {
	params, batchSize, err := parametersForCycleLength(cycleLength)
	if err != nil {
		return nil, err
	}

	kgen := ckks.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk)

	encoder := ckks.NewEncoder(params)
	encryptor := ckks.NewEncryptor(params, pk)
	evaluator := ckks.NewEvaluator(params, rlwe.NewMemEvaluationKeySet(rlk))
	decryptor := ckks.NewDecryptor(params, sk)

	public := &PublicHidingContext{
		cycleLength: cycleLength,
		batchSize:   batchSize,
		params:      params,
		pk:          pk,
		rlk:         rlk,
		encoder:     encoder,
		encryptor:   encryptor,
		evaluator:   evaluator,
	}
	return &HidingContext{
		PublicHidingContext: public,
		sk:                  sk,
		decryptor:           decryptor,
		maskGenerator:       maskGenerator,
	}, nil
}

// IsReady reports whether this context's mask generator has a stable
// seed exchange; parties must not hide/submit data otherwise.
func (h *HidingContext) IsReady() bool { return h.maskGenerator.IsStable() }

// PublicView produces a PublicHidingContext containing the crypto
// context and public key only: no secret key, no Decrypt.
func (h *HidingContext) PublicView() *PublicHidingContext {
	return &PublicHidingContext{
		cycleLength: h.cycleLength,
		batchSize:   h.batchSize,
		params:      h.params,
		pk:          h.pk,
		rlk:         h.rlk,
		encoder:     ckks.NewEncoder(h.params),
		encryptor:   ckks.NewEncryptor(h.params, h.pk),
		evaluator:   ckks.NewEvaluator(h.params, rlwe.NewMemEvaluationKeySet(h.rlk)),
	}
}

// Decrypt decrypts ct, truncates to cycleLength, and returns the
// resulting real values.
func (h *HidingContext) Decrypt(ct *rlwe.Ciphertext) vector.Vector {
	pt := h.decryptor.DecryptNew(ct)
	values := make([]float64, h.batchSize)
	h.encoder.Decode(pt, values)
	return vector.Vector(values[:h.cycleLength])
}

// MaskingIV computes the masking initialization vector for a given
// cycle and field name: the low 128 bits of SHA256("round=<id>, <field>"),
// per spec.md §4.3.
func MaskingIV(cycleID uint64, field string) *uint256.Int {
	return masking.MaskingIV(cycleID, field)
}

// Mask delegates to the additive-share mask generator and adds the
// result element-wise to v (spec.md §4.4's "mask(v, iv)").
func (h *HidingContext) Mask(v vector.Vector, iv *uint256.Int) vector.Vector {
	masks := h.maskGenerator.GenerateMasks(iv, len(v))
	return v.Add(masks)
}

// publicHidingContextWire is PublicHidingContext's wire shape: the
// crypto material a core must publish so an edge (or sibling core)
// can encrypt and evaluate against it, base64-wrapped inside JSON the
// same way wire.CiphertextJSON wraps a single ciphertext.
type publicHidingContextWire struct {
	CycleLength int    `json:"cycle_length"`
	BatchSize   int    `json:"batch_size"`
	Params      []byte `json:"params"`
	PublicKey   []byte `json:"public_key"`
	RelinKey    []byte `json:"relinearization_key"`
}

// MarshalJSON implements json.Marshaler, serializing the parameters,
// public key and relinearization key via their native binary codecs.
func (p *PublicHidingContext) MarshalJSON() ([]byte, error) {
	paramsBytes, err := p.params.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("hiding: marshaling parameters: %w", err)
	}
	pkBytes, err := p.pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("hiding: marshaling public key: %w", err)
	}
	rlkBytes, err := p.rlk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("hiding: marshaling relinearization key: %w", err)
	}
	return json.Marshal(publicHidingContextWire{
		CycleLength: p.cycleLength,
		BatchSize:   p.batchSize,
		Params:      paramsBytes,
		PublicKey:   pkBytes,
		RelinKey:    rlkBytes,
	})
}

// UnmarshalJSON implements json.Unmarshaler, rebuilding a fully
// functional context: encoder, encryptor and an evaluator with the
// relinearization key reinstalled via ActivateKeys.
func (p *PublicHidingContext) UnmarshalJSON(data []byte) error {
	var w publicHidingContextWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("hiding: unmarshaling public hiding context: %w", err)
	}

	var params ckks.Parameters
	if err := params.UnmarshalBinary(w.Params); err != nil {
		return fmt.Errorf("hiding: unmarshaling parameters: %w", err)
	}
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(w.PublicKey); err != nil {
		return fmt.Errorf("hiding: unmarshaling public key: %w", err)
	}
	rlk := new(rlwe.RelinearizationKey)
	if err := rlk.UnmarshalBinary(w.RelinKey); err != nil {
		return fmt.Errorf("hiding: unmarshaling relinearization key: %w", err)
	}

	p.cycleLength = w.CycleLength
	p.batchSize = w.BatchSize
	p.params = params
	p.pk = pk
	p.rlk = rlk
	p.encoder = ckks.NewEncoder(params)
	p.encryptor = ckks.NewEncryptor(params, pk)
	p.ActivateKeys()
	return nil
}

var _ HidingOps = (*PublicHidingContext)(nil)
var _ HidingOps = (*HidingContext)(nil)
