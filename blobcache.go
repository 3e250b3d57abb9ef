package blobcache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxKeySize         = 16 << 10
	defaultMaxValueSize       = 16 << 20
	defaultMaxHotCacheEntries = 64
	defaultShardPrefixLen     = 2
	defaultDirPerm            = 0o700
)

// Cache is a multifile blob cache: each entry lives in its own file under
// a base directory, an in-memory hot cache serves warm reads, and a
// single background worker performs all disk writes.
//
// All methods are safe for concurrent use. Set and Get never block on the
// worker; TrimCache and Finish drain it first.
//
// Lock ordering: the cache mutex may be taken before the worker mutex,
// never the other way around.
type Cache struct {
	log  *slog.Logger
	dir  string
	hash Hasher
	now  func() time.Time

	maxTotalSize   int64
	maxKeySize     int
	maxValueSize   int
	hotEntryLimit  int
	shardPrefixLen int

	mu        sync.Mutex
	entries   *entryRegistry
	hot       *hotCache
	totalSize int64
	closed    bool

	writer *writeWorker
	reads  singleflight.Group
}

// New creates a cache rooted at dir with the given on-disk and hot-cache
// byte budgets. Existing entries under dir are scanned and re-tracked, so
// blobs survive process restarts.
//
// A zero maxTotalSize disables the disk budget; a zero maxHotCacheSize
// disables the in-memory hot cache byte budget.
func New(dir string, maxTotalSize, maxHotCacheSize int64, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	if maxTotalSize < 0 || maxHotCacheSize < 0 {
		return nil, errors.New("cache size budgets must be >= 0")
	}

	c := &Cache{
		log:            slog.New(slog.DiscardHandler),
		dir:            dir,
		hash:           defaultHasher,
		now:            time.Now,
		maxTotalSize:   maxTotalSize,
		maxKeySize:     defaultMaxKeySize,
		maxValueSize:   defaultMaxValueSize,
		hotEntryLimit:  defaultMaxHotCacheEntries,
		shardPrefixLen: defaultShardPrefixLen,
		entries:        newEntryRegistry(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	c.hot = newHotCache(maxHotCacheSize, c.hotEntryLimit)

	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if err := c.scan(); err != nil {
		return nil, fmt.Errorf("scan cache dir: %w", err)
	}

	c.writer = newWriteWorker(c.log, c.handleWriteDone)

	c.log.Debug("initialized multifile blob cache",
		"dir", dir,
		"entries", c.entries.len(),
		"total_size", c.totalSize,
		"max_total_size", maxTotalSize)
	return c, nil
}

// Set stores value under key. The entry is tracked and hot-cached
// immediately; the file write happens asynchronously on the worker.
//
// Set never reports failure. Empty or oversized keys and values are
// dropped silently: the cache is an optimization, not a store of record.
// If the tracked total exceeds the disk budget, eviction is deferred to
// the next TrimCache call; Set itself never blocks on disk.
func (c *Cache) Set(key, value []byte) {
	if len(key) == 0 || len(value) == 0 || len(key) > c.maxKeySize || len(value) > c.maxValueSize {
		c.log.Debug("entry dropped: outside size limits",
			"key_size", len(key), "value_size", len(value))
		return
	}

	buf := encodeEntry(key, value)
	fileSize := int64(len(buf))
	if c.maxTotalSize > 0 && fileSize > c.maxTotalSize {
		c.log.Debug("entry dropped: larger than cache budget",
			"file_size", fileSize, "max_total_size", c.maxTotalSize)
		return
	}

	id := c.hash(key)
	now := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if st, ok := c.entries.lookup(id); ok {
		c.decreaseTotalSize(st.fileSize)
	}
	c.entries.track(id, len(value), fileSize, now)
	c.hot.add(id, buf)
	c.increaseTotalSize(fileSize)
	over := c.maxTotalSize > 0 && c.totalSize > c.maxTotalSize
	total := c.totalSize
	// Queued under the cache mutex so the write queue and the registry
	// always agree on the order of same-key updates.
	c.writer.queueWrite(id, c.pathFor(id), buf)
	c.mu.Unlock()

	if over {
		c.log.Debug("cache over disk budget, eviction deferred to next trim",
			"total_size", total, "max_total_size", c.maxTotalSize)
	}
}

// Get copies the value stored under key into out and returns the number
// of bytes written, or 0 on a miss. An out buffer smaller than the stored
// value is a miss, never a partial read.
//
// Hits are served from the hot cache when possible; otherwise the entry
// file is read from disk, validated against its header, and promoted back
// into the hot cache. Concurrent disk reads for the same entry are
// deduplicated.
func (c *Cache) Get(key, out []byte) int {
	if len(key) == 0 || len(key) > c.maxKeySize {
		return 0
	}

	id := c.hash(key)
	now := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	st, ok := c.entries.lookup(id)
	if !ok {
		c.mu.Unlock()
		return 0
	}
	if len(out) < st.valueSize {
		c.mu.Unlock()
		return 0
	}

	if buf, ok := c.hot.get(id); ok {
		keySize, valueSize, err := decodeEntry(buf)
		if err == nil && valueSize == st.valueSize {
			n := copy(out, entryValue(buf, keySize, valueSize))
			c.entries.touch(id, now)
			c.mu.Unlock()
			return n
		}
		// Should not happen: hot buffers are built by encodeEntry or
		// validated on read. Drop the record and fall back to disk.
		c.hot.remove(id)
		c.log.Warn("invalid hot cache buffer", "entry", entryName(id), "error", err)
	}
	path := c.pathFor(id)
	c.mu.Unlock()

	buf, err := c.readEntry(id, path)
	if err != nil {
		c.handleReadError(id, path, err)
		return 0
	}

	keySize, valueSize, err := decodeEntry(buf)
	if err != nil {
		c.handleReadError(id, path, err)
		return 0
	}
	if keySize != len(key) {
		// A different key hashed to this identifier. The stored entry is
		// valid, it just isn't the caller's: plain miss, keep the entry.
		c.log.Debug("key size mismatch on read, hash collision",
			"entry", entryName(id), "stored_key_size", keySize, "requested_key_size", len(key))
		return 0
	}
	if valueSize != st.valueSize {
		c.handleReadError(id, path, fmt.Errorf("%w: stored value=%d, registry records %d",
			ErrHeaderMismatch, valueSize, st.valueSize))
		return 0
	}
	n := copy(out, entryValue(buf, keySize, valueSize))

	c.mu.Lock()
	if c.entries.contains(id) {
		c.entries.touch(id, now)
		c.hot.add(id, buf)
	}
	c.mu.Unlock()
	return n
}

// readEntry reads an entry file, deduplicating concurrent reads for the
// same identifier, and refreshes the file times so LRU ordering survives
// a restart.
func (c *Cache) readEntry(id uint32, path string) ([]byte, error) {
	v, err, _ := c.reads.Do(entryName(id), func() (any, error) {
		buf, _, _, err := readEntryFile(path)
		if err != nil {
			return nil, err
		}
		now := c.now()
		if err := os.Chtimes(path, now, now); err != nil {
			c.log.Debug("touch entry file failed", "path", path, "error", err)
		}
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// handleReadError treats an unreadable or mismatched entry as absent,
// dropping its bookkeeping unless a deferred write for it is still in
// flight (in which case the file simply does not exist yet).
func (c *Cache) handleReadError(id uint32, path string, err error) {
	if c.writer.hasPending(id) {
		c.log.Debug("entry not readable yet, write pending", "entry", entryName(id))
		return
	}
	c.log.Warn("entry read failed, treating as absent",
		"entry", entryName(id), "path", path, "error", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entries.lookup(id)
	if !ok {
		return
	}
	c.entries.remove(id)
	c.hot.remove(id)
	c.decreaseTotalSize(st.fileSize)
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		c.log.Warn("remove bad entry file failed", "path", path, "error", rmErr)
	}
}

// handleWriteDone is invoked by the worker after each attempted write.
// On failure the entry's bookkeeping is dropped: its file never
// materialized. On success the file is reaped if the entry was evicted
// while the write was still queued, so a trim racing a Set cannot leave
// an untracked file behind.
func (c *Cache) handleWriteDone(id uint32, path string, err error) {
	// A newer Set re-queued the entry; the newest write settles its fate.
	if c.writer.hasPending(id) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entries.lookup(id)
	if err == nil {
		if !ok {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				c.log.Warn("remove orphaned entry file failed", "path", path, "error", rmErr)
			} else {
				c.log.Debug("reaped file for entry evicted mid-write", "entry", entryName(id))
			}
		}
		return
	}
	if !ok {
		return
	}
	c.entries.remove(id)
	c.hot.remove(id)
	c.decreaseTotalSize(st.fileSize)
	c.log.Warn("entry dropped after failed write", "entry", entryName(id))
}

// TrimCache drains the write worker, then evicts least-recently-used
// entries until the tracked total size is at most limit. If a single
// remaining entry exceeds limit alone it is kept and the stalemate is
// logged; retrying cannot change that outcome.
func (c *Cache) TrimCache(limit int64) {
	c.writer.waitForWorkComplete()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if !c.applyLRULocked(limit) {
		c.log.Warn("trim stalemate: remaining entry exceeds limit alone",
			"limit", limit, "total_size", c.totalSize)
	}
}

// applyLRULocked evicts oldest-access entries until totalSize <= limit.
// Reports false when it must stop early because a single remaining entry
// is larger than the limit.
func (c *Cache) applyLRULocked(limit int64) bool {
	if limit < 0 {
		limit = 0
	}
	for c.totalSize > limit {
		if c.entries.len() <= 1 {
			return false
		}
		id, st, ok := c.entries.oldest()
		if !ok {
			return false
		}
		path := c.pathFor(id)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.log.Warn("evict entry file failed", "path", path, "error", err)
		}
		c.entries.remove(id)
		c.hot.remove(id)
		c.decreaseTotalSize(st.fileSize)
		c.log.Debug("evicted entry", "entry", entryName(id), "file_size", st.fileSize)
	}
	return true
}

// Finish drains all deferred writes, stops the worker, and closes the
// cache. Every Set issued before Finish returns is durable on disk by the
// time it returns. Finish is idempotent; all other operations on a
// finished cache are no-ops.
func (c *Cache) Finish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.writer.waitForWorkComplete()
	c.writer.queueExit()
	c.writer.join()
}

// TotalSize returns the tracked total on-disk size of the cache. The
// value may be transiently ahead of disk truth while writes are in
// flight; TrimCache reconciles it.
func (c *Cache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

func (c *Cache) pathFor(id uint32) string {
	return entryPath(c.dir, id, c.shardPrefixLen)
}

// increaseTotalSize and decreaseTotalSize are the only mutation points
// for the size counter, keeping the accounting invariant in one place.
func (c *Cache) increaseTotalSize(n int64) {
	c.totalSize += n
}

func (c *Cache) decreaseTotalSize(n int64) {
	if n > c.totalSize {
		panic(fmt.Sprintf("blobcache: total size underflow (%d - %d)", c.totalSize, n))
	}
	c.totalSize -= n
}
