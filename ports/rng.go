package ports

import (
	"math/rand/v2"
)

// RNGPort provides deterministic random streams for decay sampling
type RNGPort interface {
	// GroupSeed derives the seed of one (species, mass) group from the run seed
	GroupSeed(groupKey string, baseSeed int64) uint64

	// ParticleStream returns the stream for one particle index within a group
	ParticleStream(groupSeed uint64, index int) *rand.Rand
}
