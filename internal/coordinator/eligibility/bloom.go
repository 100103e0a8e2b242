// Package eligibility pre-builds a membership sketch over the set of
// users a chunk's assignment filter allows, so the coordinator can test
// "is this worker's owning user eligible" without a per-assignment RPC.
// A false positive lets an ineligible worker claim and run a chunk; the
// worker itself performs no eligibility check.
package eligibility

import (
	"github.com/bits-and-blooms/bitset"
)

// Sketch is a fixed-size Bloom filter over user identifiers, built once
// per eligibility filter and reused for every assignment decision it
// gates.
type Sketch struct {
	bits   *bitset.BitSet
	m      uint
	hashes int
}

// NewSketch builds a membership sketch sized for the given members with
// a fixed bits-per-member and hash-count choice; there is no
// false-positive-rate parameter (a coarse m/k choice is fine — a false
// positive costs one chunk run by an ineligible worker, not a
// correctness violation).
func NewSketch(members []string) *Sketch {
	n := uint(len(members))
	if n == 0 {
		n = 1
	}
	m := n * 10 // ~10 bits per element, k=7 gives < 1% FP rate
	s := &Sketch{bits: bitset.New(m), m: m, hashes: 7}
	for _, member := range members {
		s.add(member)
	}
	return s
}

func (s *Sketch) positions(member string) []uint {
	h1, h2 := fnv1aPair(member)
	pos := make([]uint, s.hashes)
	for i := 0; i < s.hashes; i++ {
		pos[i] = uint((h1 + uint64(i)*h2) % uint64(s.m))
	}
	return pos
}

func (s *Sketch) add(member string) {
	for _, p := range s.positions(member) {
		s.bits.Set(p)
	}
}

// MayContain reports whether member might be in the eligible set. A
// false return is a hard guarantee of absence; a true return may be a
// false positive.
func (s *Sketch) MayContain(member string) bool {
	for _, p := range s.positions(member) {
		if !s.bits.Test(p) {
			return false
		}
	}
	return true
}

// fnv1aPair derives the two 64-bit hashes double hashing
// (Kirsch-Mitzenmacher) needs from two FNV-1a passes, one forward and
// one over the reversed bytes from a perturbed offset, avoiding a dependency on a
// second hash family for what is already a best-effort sketch.
func fnv1aPair(s string) (h1, h2 uint64) {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h1 = offset64
	for i := 0; i < len(s); i++ {
		h1 ^= uint64(s[i])
		h1 *= prime64
	}
	h2 = offset64 ^ 0x9e3779b97f4a7c15
	for i := len(s) - 1; i >= 0; i-- {
		h2 ^= uint64(s[i])
		h2 *= prime64
	}
	return h1, h2
}
