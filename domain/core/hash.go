package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Short returns the first n hex characters of the hash
func (h Hash) Short(n int) string {
	if n >= len(h) {
		return string(h)
	}
	return string(h[:n])
}

// Domain-specific hash types
type (
	GeometryTag Hash
	CacheKey    Hash
)

// String conversions
func (t GeometryTag) String() string { return Hash(t).String() }
func (k CacheKey) String() string    { return Hash(k).String() }

// IsEmpty checks if the tag is empty
func (t GeometryTag) IsEmpty() bool { return t == "" }

// ComputeFieldsHash hashes a flat field map in sorted-key order
func ComputeFieldsHash(fields map[string]interface{}) Hash {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString("=")
		data.WriteString(fmt.Sprintf("%v", fields[key]))
		data.WriteString(";")
	}
	return NewHash([]byte(data.String()))
}

// ComputeCacheKey derives the on-disk cache key for an input file and geometry.
// The source identity is the cleaned path plus its size.
func ComputeCacheKey(sourcePath string, sourceSize int64, tag GeometryTag) CacheKey {
	return CacheKey(ComputeFieldsHash(map[string]interface{}{
		"source": sourcePath,
		"size":   sourceSize,
		"tag":    tag.String(),
	}))
}
