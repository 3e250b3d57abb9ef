package blobcache

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Per-entry file layout:
//
//	[keySize u64 LE][valueSize u64 LE][key bytes][value bytes]
const entryHeaderSize = 16

const tmpFilePattern = "cache-*"

// encodeEntry builds the contiguous header+key+value buffer that is both
// handed to the hot cache and persisted verbatim by the write worker.
// The buffer must not be mutated after it is returned.
func encodeEntry(key, value []byte) []byte {
	buf := make([]byte, entryHeaderSize+len(key)+len(value))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(key)))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(value)))
	copy(buf[entryHeaderSize:], key)
	copy(buf[entryHeaderSize+len(key):], value)
	return buf
}

// decodeEntry validates a header+key+value buffer and returns the key and
// value sizes it declares.
func decodeEntry(buf []byte) (keySize, valueSize int, err error) {
	if len(buf) < entryHeaderSize {
		return 0, 0, fmt.Errorf("%w: %d bytes, need at least %d", ErrCorruptEntry, len(buf), entryHeaderSize)
	}
	ks := binary.LittleEndian.Uint64(buf[0:8])
	vs := binary.LittleEndian.Uint64(buf[8:16])
	total := uint64(len(buf))
	if ks > total || vs > total || entryHeaderSize+ks+vs != total {
		return 0, 0, fmt.Errorf("%w: header declares key=%d value=%d, file holds %d payload bytes",
			ErrCorruptEntry, ks, vs, total-entryHeaderSize)
	}
	return int(ks), int(vs), nil
}

// entryValue returns the value payload of a validated entry buffer.
func entryValue(buf []byte, keySize, valueSize int) []byte {
	start := entryHeaderSize + keySize
	return buf[start : start+valueSize]
}

// readEntryFile reads and validates a complete entry file.
func readEntryFile(path string) (buf []byte, keySize, valueSize int, err error) {
	buf, err = os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}
	keySize, valueSize, err = decodeEntry(buf)
	if err != nil {
		return nil, 0, 0, err
	}
	return buf, keySize, valueSize, nil
}

// entryName is the file name for an identifier: eight lowercase hex digits.
func entryName(id uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return hex.EncodeToString(b[:])
}

// parseEntryName reverses entryName.
func parseEntryName(name string) (uint32, bool) {
	if len(name) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// entryPath maps an identifier to its file path under dir, sharding into a
// subdirectory by the first shardPrefixLen hex digits when enabled.
func entryPath(dir string, id uint32, shardPrefixLen int) string {
	name := entryName(id)
	if shardPrefixLen <= 0 {
		return filepath.Join(dir, name)
	}
	prefixLen := shardPrefixLen
	if prefixLen > len(name) {
		prefixLen = len(name)
	}
	return filepath.Join(dir, name[:prefixLen], name)
}
