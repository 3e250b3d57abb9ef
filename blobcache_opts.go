package blobcache

import "log/slog"

// Option configures a Cache.
type Option func(*Cache)

// WithMaxKeySize sets the maximum accepted key length in bytes.
// Set stores nothing for larger keys. Defaults to 16KiB.
func WithMaxKeySize(n int) Option {
	return func(c *Cache) {
		c.maxKeySize = n
	}
}

// WithMaxValueSize sets the maximum accepted value length in bytes.
// Set stores nothing for larger values. Defaults to 16MiB.
func WithMaxValueSize(n int) Option {
	return func(c *Cache) {
		c.maxValueSize = n
	}
}

// WithMaxHotCacheEntries caps the number of records resident in the hot
// cache, independent of its byte budget. Use 0 to disable the count
// limit. Defaults to 64.
func WithMaxHotCacheEntries(n int) Option {
	return func(c *Cache) {
		c.hotEntryLimit = n
	}
}

// WithHasher replaces the key hash. The hash must be stable across
// process runs: identifiers derived from it name the on-disk files.
func WithHasher(h Hasher) Option {
	return func(c *Cache) {
		if h != nil {
			c.hash = h
		}
	}
}

// WithLogger sets a custom logger. By default the cache is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithShardPrefixLen sets the number of hex characters of the entry name
// used as a subdirectory. Use 0 to store all entries flat. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}
