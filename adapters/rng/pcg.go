// Package rng provides deterministic per-group and per-particle random streams.
package rng

import (
	"hash/fnv"
	"math/rand/v2"
)

// streamIncrement separates particle streams that share a group seed
const streamIncrement = 0x9e3779b97f4a7c15

// PCG derives PCG streams from a run seed. The result depends only on the
// group key, the seed and the particle index, never on scheduling order.
type PCG struct{}

// NewPCG returns the stream source
func NewPCG() *PCG {
	return &PCG{}
}

// GroupSeed hashes the group key together with the run seed
func (p *PCG) GroupSeed(groupKey string, baseSeed int64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(groupKey))
	var buf [8]byte
	u := uint64(baseSeed)
	for i := range buf {
		buf[i] = byte(u >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// ParticleStream returns an independent stream for one particle of a group
func (p *PCG) ParticleStream(groupSeed uint64, index int) *rand.Rand {
	return rand.New(rand.NewPCG(groupSeed, uint64(index)*streamIncrement+1))
}
