package blobcache

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// scan rebuilds the entry registry from the files already under the base
// directory, so the cache picks up where a previous process left off.
// Entry headers are read in parallel; files that fail validation are
// removed. Last access is seeded from the file's modification time, which
// Get keeps fresh on disk reads.
func (c *Cache) scan() error {
	type candidate struct {
		id   uint32
		path string
	}
	var candidates []candidate

	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := filepath.Base(path)
		if matched, _ := filepath.Match(tmpFilePattern, name); matched {
			// Leftover temp file from an interrupted write.
			if err := os.Remove(path); err != nil {
				c.log.Warn("remove stale temp file failed", "path", path, "error", err)
			}
			return nil
		}
		id, ok := parseEntryName(name)
		if !ok {
			c.log.Warn("ignoring unrecognized file in cache dir", "path", path)
			return nil
		}
		candidates = append(candidates, candidate{id: id, path: path})
		return nil
	})
	if err != nil {
		return err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, cand := range candidates {
		g.Go(func() error {
			path := cand.path
			want := c.pathFor(cand.id)
			if path != want {
				// Shard layout changed since the file was written.
				if err := relocateEntryFile(path, want); err != nil {
					c.log.Warn("relocate entry file failed", "path", path, "error", err)
					return nil
				}
				path = want
			}

			valueSize, fileSize, err := readEntryStats(path)
			if err != nil {
				c.log.Warn("dropping invalid entry file", "path", path, "error", err)
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					c.log.Warn("remove invalid entry file failed", "path", path, "error", err)
				}
				return nil
			}

			info, err := os.Stat(path)
			if err != nil {
				return nil
			}

			mu.Lock()
			c.entries.track(cand.id, valueSize, fileSize, info.ModTime())
			c.increaseTotalSize(fileSize)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// readEntryStats reads and validates just the header of an entry file,
// returning the declared value size and the physical file size.
func readEntryStats(path string) (valueSize int, fileSize int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	fileSize = info.Size()

	var header [entryHeaderSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	ks := binary.LittleEndian.Uint64(header[0:8])
	vs := binary.LittleEndian.Uint64(header[8:16])
	if entryHeaderSize+ks+vs != uint64(fileSize) {
		return 0, 0, fmt.Errorf("%w: header declares key=%d value=%d, file is %d bytes",
			ErrCorruptEntry, ks, vs, fileSize)
	}
	return int(vs), fileSize, nil
}

// relocateEntryFile moves an entry file found under an old shard layout
// to the path the current configuration derives for it.
func relocateEntryFile(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), defaultDirPerm); err != nil {
		return err
	}
	return os.Rename(from, to)
}
