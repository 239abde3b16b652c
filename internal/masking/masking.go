// Package masking implements the shared-mask generator (spec.md §4.3):
// pairwise PRG seeds that, once exchanged, yield additive shares which
// cancel across a closed group when summed.
package masking

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"go.dedis.ch/kyber/v3/util/random"

	"github.com/meterfold/privatebilling/internal/fixedpoint"
	"github.com/meterfold/privatebilling/internal/prng"
	"github.com/meterfold/privatebilling/internal/vector"
)

// PeerID identifies a participant for masking purposes; in practice
// this is a core's self-certifying NodeInfo.ID.
type PeerID uint64

// Seed is a 128-bit value shared pairwise between two peers.
type Seed = uint256.Int

// Generator accumulates owned and foreign seeds and derives additive
// mask vectors from them. It is safe for concurrent use: its seed maps
// are guarded by mu, so seed handlers can update it while the hiding
// context reads it to mask data.
type Generator struct {
	convertor fixedpoint.Convertor

	mu      sync.Mutex
	owned   map[PeerID]*Seed
	foreign map[PeerID]*Seed
}

// NewGenerator builds an empty mask generator using convertor to map
// raw PCG64 output into the fixed-point domain.
func NewGenerator(convertor fixedpoint.Convertor) *Generator {
	return &Generator{
		convertor: convertor,
		owned:     make(map[PeerID]*Seed),
		foreign:   make(map[PeerID]*Seed),
	}
}

// IsStable reports whether the set of peers this generator has minted
// an owned seed for exactly matches the set it has accepted a foreign
// seed from. Parties must not encrypt/submit data while unstable.
func (g *Generator) IsStable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.owned) != len(g.foreign) {
		return false
	}
	for p := range g.owned {
		if _, ok := g.foreign[p]; !ok {
			return false
		}
	}
	return true
}

// HasSeedForPeer reports whether an owned seed was already minted for
// peer p. Used by core-server handlers to avoid re-rolling a seed that
// is merely being re-requested. See SPEC_FULL.md §5.
func (g *Generator) HasSeedForPeer(p PeerID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.owned[p]
	return ok
}

// SeedForPeer returns the owned seed for peer p, generating and
// storing a fresh one from a cryptographic RNG on first call. Repeated
// calls for the same peer return the stored seed (idempotent).
func (g *Generator) SeedForPeer(p PeerID) *Seed {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.owned[p]; ok {
		return s
	}
	raw := random.Bits(128, true, random.Stream)
	s := new(uint256.Int).SetBytes(raw)
	g.owned[p] = s
	return s
}

// AcceptForeignSeed stores seed as the seed owned by peer p, for use
// in our own mask generation (subtracted, mirroring p's addition).
func (g *Generator) AcceptForeignSeed(seed *Seed, p PeerID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.foreign[p] = new(uint256.Int).Set(seed)
}

// MaskingIV derives the per-(cycle,field) initialization vector spec.md
// §4.3 describes: the low 128 bits of SHA256("round=<id>, <field>").
func MaskingIV(cycleID uint64, field string) *uint256.Int {
	h := sha256.Sum256([]byte(fmt.Sprintf("round=%d, %s", cycleID, field)))
	// Low 128 bits, little-endian, matching Python's
	// int.from_bytes(digest, "little") truncated to the seed width.
	lo := binary.LittleEndian.Uint64(h[0:8])
	hi := binary.LittleEndian.Uint64(h[8:16])
	iv := new(uint256.Int).Lsh(uint256.NewInt(hi), 64)
	return iv.Or(iv, uint256.NewInt(lo))
}

// GenerateMasks produces a length-n additive mask vector: for each
// owned seed, PCG64(seed+iv) contributes positively; for each foreign
// seed, negatively. Across a closed group where every pair has
// exchanged seeds, the group sum is the zero vector modulo 10^i.
func (g *Generator) GenerateMasks(iv *uint256.Int, n int) vector.Vector {
	g.mu.Lock()
	owned := make([]*Seed, 0, len(g.owned))
	for _, s := range g.owned {
		owned = append(owned, s)
	}
	foreign := make([]*Seed, 0, len(g.foreign))
	for _, s := range g.foreign {
		foreign = append(foreign, s)
	}
	g.mu.Unlock()

	masks := vector.Zeros(n)
	for _, s := range owned {
		masks = masks.Add(g.convertSeries(s, iv, n))
	}
	for _, s := range foreign {
		masks = masks.Sub(g.convertSeries(s, iv, n))
	}
	return masks
}

// convertSeries draws n raw PCG64 outputs from stream seed+iv and maps
// each into the fixed-point domain.
func (g *Generator) convertSeries(seed, iv *uint256.Int, n int) vector.Vector {
	combined := new(uint256.Int).Add(seed, iv)
	gen := prng.New(combined)
	out := make(vector.Vector, n)
	for i := 0; i < n; i++ {
		out[i] = g.convertor.FromUint64(gen.Next())
	}
	return out
}
