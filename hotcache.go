package blobcache

import "container/list"

// hotRecord is one resident entry buffer: the full header+key+value bytes
// exactly as they are (or will be) persisted on disk.
type hotRecord struct {
	id  uint32
	buf []byte
}

// hotCache is a bounded in-memory table of recently written or read entry
// buffers, keyed by identifier. It serves reads for entries whose disk
// write may still be pending, and keeps warm entries off the disk path.
//
// Records are evicted in least-recently-used order whenever an insert
// would exceed the byte budget or the record-count budget. Eviction only
// releases memory; the authoritative copy lives on disk.
type hotCache struct {
	maxBytes   int64
	maxEntries int

	bytes     int64
	order     *list.List // front = most recently used
	byID      map[uint32]*list.Element
	evictions int
}

func newHotCache(maxBytes int64, maxEntries int) *hotCache {
	return &hotCache{
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		order:      list.New(),
		byID:       make(map[uint32]*list.Element),
	}
}

// add inserts or replaces the record for id, evicting LRU records until
// both budgets hold. Buffers larger than the byte budget are not cached
// at all; any resident record for id is released so a stale buffer can
// never outlive its replacement. Reports whether the record was inserted.
func (h *hotCache) add(id uint32, buf []byte) bool {
	if h.maxBytes > 0 && int64(len(buf)) > h.maxBytes {
		h.remove(id)
		return false
	}

	if elem, ok := h.byID[id]; ok {
		rec := elem.Value.(*hotRecord)
		h.bytes += int64(len(buf)) - int64(len(rec.buf))
		rec.buf = buf
		h.order.MoveToFront(elem)
	} else {
		h.byID[id] = h.order.PushFront(&hotRecord{id: id, buf: buf})
		h.bytes += int64(len(buf))
	}

	for h.overBudget() {
		elem := h.order.Back()
		if elem == nil {
			break
		}
		h.evict(elem)
	}
	return true
}

// get returns the buffer for id and marks it most recently used.
func (h *hotCache) get(id uint32) ([]byte, bool) {
	elem, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	h.order.MoveToFront(elem)
	return elem.Value.(*hotRecord).buf, true
}

// remove releases the record for id. Reports whether it existed.
func (h *hotCache) remove(id uint32) bool {
	elem, ok := h.byID[id]
	if !ok {
		return false
	}
	h.evict(elem)
	return true
}

func (h *hotCache) overBudget() bool {
	if h.maxBytes > 0 && h.bytes > h.maxBytes {
		return true
	}
	if h.maxEntries > 0 && h.order.Len() > h.maxEntries {
		return true
	}
	return false
}

func (h *hotCache) evict(elem *list.Element) {
	rec := elem.Value.(*hotRecord)
	h.order.Remove(elem)
	delete(h.byID, rec.id)
	h.bytes -= int64(len(rec.buf))
	h.evictions++
}

func (h *hotCache) size() int64 { return h.bytes }
func (h *hotCache) len() int    { return h.order.Len() }
