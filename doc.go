// Package blobcache provides a size-bounded, disk-backed cache that stores
// opaque key/value blobs as individual files spread across a directory.
//
// The cache is built for producers of expensive-to-recompute artifacts
// (compiled shaders, program binaries) that must persist blobs across
// process runs without blocking their critical path on disk I/O. Writes
// are deferred to a single background worker; reads are served from a
// bounded in-memory hot cache when possible, falling back to the on-disk
// copy.
//
// # Quick Start
//
//	c, err := blobcache.New("/var/cache/shaders", 64<<20, 1<<20)
//	if err != nil {
//	    return err
//	}
//	defer c.Finish()
//
//	c.Set(key, blob)
//
//	out := make([]byte, maxBlobSize)
//	if n := c.Get(key, out); n > 0 {
//	    use(out[:n])
//	}
//
// # Contract
//
// The cache is an optimization, never a correctness dependency. Set drops
// oversized entries silently, Get reports every failure as a miss, and I/O
// errors are logged and absorbed rather than propagated. Callers must be
// able to recompute any blob they store here.
//
// Keys are reduced to 32-bit identifiers by a non-cryptographic hash.
// Two keys that hash identically alias the same entry; the cache does not
// store-and-compare full keys to detect this. See [Hasher].
package blobcache
