// Package bloom implements the Bloom filter described in spec §4.4: sized
// from an expected cardinality and target false-positive rate, backed by
// holiman/bloomfilter/v2 (as required, for its bloom filter, by the
// AKJUS-bsc-erigon example repo's go.mod) for bit-array sizing, k-hashing,
// and probing. A memory-weight counter is layered on top for LIP ordering
// (spec §4.4, §4.7).
package bloom

import (
	"fmt"
	"hash"
	"sync/atomic"

	"github.com/holiman/bloomfilter/v2"
)

// fixedHash64 adapts a precomputed 64-bit hash to the hash.Hash64 interface
// bloomfilter/v2 expects, so Hustle's own key-hashing (HashInt64/HashString)
// feeds the library directly instead of re-hashing through a generic writer.
type fixedHash64 uint64

func (h fixedHash64) Write(p []byte) (int, error) { return len(p), nil }
func (h fixedHash64) Sum(b []byte) []byte         { return b }
func (h fixedHash64) Reset()                      {}
func (h fixedHash64) Size() int                   { return 8 }
func (h fixedHash64) BlockSize() int              { return 8 }
func (h fixedHash64) Sum64() uint64               { return uint64(h) }

var _ hash.Hash64 = fixedHash64(0)

// DefaultFalsePositiveRate is spec §4.4's default target (1%).
const DefaultFalsePositiveRate = 0.01

// Filter wraps a bloomfilter/v2.Filter with the memory-weight heuristic
// used by FilterJoin/LIP to order dimension filters from most- to
// least-selective (spec §4.4, §4.7).
type Filter struct {
	inner   *bloomfilter.Filter
	rejects atomic.Uint64
	probes  atomic.Uint64
}

// New builds a Filter sized for n expected keys at false-positive rate p
// (spec §4.4's m/k derivation, delegated to bloomfilter/v2).
func New(n uint64, p float64) (*Filter, error) {
	if n == 0 {
		n = 1
	}
	if p <= 0 {
		p = DefaultFalsePositiveRate
	}
	inner, err := bloomfilter.NewOptimal(n, p)
	if err != nil {
		return nil, fmt.Errorf("bloom: %w", err)
	}
	return &Filter{inner: inner}, nil
}

// Insert adds a 64-bit hashed key to the filter (spec §4.4).
func (f *Filter) Insert(h uint64) {
	f.inner.Add(fixedHash64(h))
}

// Probe reports whether h is possibly present. false guarantees absence;
// true means possibly present (spec §4.4). Every probe updates the
// memory-weight reject counter used for LIP filter ordering.
func (f *Filter) Probe(h uint64) bool {
	f.probes.Add(1)
	present := f.inner.Contains(fixedHash64(h))
	if !present {
		f.rejects.Add(1)
	}
	return present
}

// MemoryWeight returns the filter's current reject rate in parts-per-
// million, used to order LIP filters from most- to least-selective (a
// higher reject rate means the filter is short-circuiting more probes and
// should run earlier, spec §4.7 step 5).
func (f *Filter) MemoryWeight() uint64 {
	probes := f.probes.Load()
	if probes == 0 {
		return 0
	}
	return f.rejects.Load() * 1_000_000 / probes
}

// HashInt64 produces a stable 64-bit mix of a signed integer join key, used
// as the input to Insert/Probe (spec §4.4's "one 64-bit hash of the key").
// It is a multiplicative-and-rotate mix (splitmix64-style), matching the
// "stable, deterministic integer hash" the spec calls for.
func HashInt64(v int64) uint64 {
	x := uint64(v)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// HashString hashes a string join key with FNV-1a, then runs it through the
// same avalanche mix as HashInt64 for double-hashing quality.
func HashString(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return HashInt64(int64(h))
}
