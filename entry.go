package blobcache

import (
	"fmt"
	"time"
)

// entryStats is the per-identifier bookkeeping record: the logical value
// length the caller expects back, the physical bytes the entry file
// consumes on disk, and the access time that orders eviction.
type entryStats struct {
	valueSize  int
	fileSize   int64
	accessTime time.Time
}

// entryRegistry tracks which identifiers exist and their stats. It is a
// pure data structure; the façade serializes access to it.
//
// The membership set is the source of truth for existence and is kept
// separate from the stats map. The two diverging is a programming error
// and panics rather than degrading.
type entryRegistry struct {
	members map[uint32]struct{}
	stats   map[uint32]entryStats
}

func newEntryRegistry() *entryRegistry {
	return &entryRegistry{
		members: make(map[uint32]struct{}),
		stats:   make(map[uint32]entryStats),
	}
}

// track creates or replaces the record for id.
func (r *entryRegistry) track(id uint32, valueSize int, fileSize int64, accessTime time.Time) {
	r.members[id] = struct{}{}
	r.stats[id] = entryStats{
		valueSize:  valueSize,
		fileSize:   fileSize,
		accessTime: accessTime,
	}
}

func (r *entryRegistry) contains(id uint32) bool {
	_, ok := r.members[id]
	return ok
}

// lookup returns the stats for id. Membership without stats (or the
// reverse) means the registry was corrupted by a bookkeeping bug.
func (r *entryRegistry) lookup(id uint32) (entryStats, bool) {
	_, member := r.members[id]
	st, tracked := r.stats[id]
	if member != tracked {
		panic(fmt.Sprintf("blobcache: registry divergence for entry %08x (member=%v tracked=%v)", id, member, tracked))
	}
	return st, member
}

// touch refreshes the access time of an existing entry.
func (r *entryRegistry) touch(id uint32, accessTime time.Time) {
	st, ok := r.lookup(id)
	if !ok {
		return
	}
	st.accessTime = accessTime
	r.stats[id] = st
}

// remove forgets id. Reports whether it was tracked.
func (r *entryRegistry) remove(id uint32) bool {
	if !r.contains(id) {
		return false
	}
	delete(r.members, id)
	delete(r.stats, id)
	return true
}

func (r *entryRegistry) len() int {
	return len(r.members)
}

// oldest returns the entry with the earliest access time. Ties are broken
// by ascending identifier so repeated trims are deterministic.
func (r *entryRegistry) oldest() (uint32, entryStats, bool) {
	var (
		oldestID uint32
		oldest   entryStats
		found    bool
	)
	for id, st := range r.stats {
		if !found ||
			st.accessTime.Before(oldest.accessTime) ||
			(st.accessTime.Equal(oldest.accessTime) && id < oldestID) {
			oldestID, oldest, found = id, st, true
		}
	}
	return oldestID, oldest, found
}
