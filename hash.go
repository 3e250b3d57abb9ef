package blobcache

import "github.com/cespare/xxhash/v2"

// Hasher reduces a raw key to the 32-bit identifier used as the cache's
// internal primary key.
//
// The hash is the sole notion of identity: once an identifier is computed
// the cache never stores or compares raw keys, so two distinct keys that
// hash to the same value alias the same entry. This is an accepted
// tradeoff, not a bug to compensate for. Callers that cannot tolerate
// aliasing should not use a 32-bit keyed cache.
type Hasher func(key []byte) uint32

// defaultHasher truncates xxhash64 to 32 bits.
func defaultHasher(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}
