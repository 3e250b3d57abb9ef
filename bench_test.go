package blobcache

import (
	"encoding/binary"
	"testing"
)

func benchKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = binary.LittleEndian.AppendUint64(nil, uint64(i))
	}
	return keys
}

func BenchmarkSet(b *testing.B) {
	c, err := New(b.TempDir(), 0, 1<<20)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Finish()

	keys := benchKeys(1024)
	value := make([]byte, 4096)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		c.Set(keys[i%len(keys)], value)
	}
	b.StopTimer()
	c.writer.waitForWorkComplete()
}

func BenchmarkGetHot(b *testing.B) {
	c, err := New(b.TempDir(), 0, 1<<20)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Finish()

	keys := benchKeys(64)
	value := make([]byte, 4096)
	for _, k := range keys {
		c.Set(k, value)
	}
	c.writer.waitForWorkComplete()

	out := make([]byte, 8192)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		if n := c.Get(keys[i%len(keys)], out); n == 0 {
			b.Fatal("unexpected miss")
		}
	}
}

func BenchmarkGetDisk(b *testing.B) {
	// A one-byte hot budget forces every read through the disk path.
	c, err := New(b.TempDir(), 0, 1)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Finish()

	keys := benchKeys(64)
	value := make([]byte, 4096)
	for _, k := range keys {
		c.Set(k, value)
	}
	c.writer.waitForWorkComplete()

	out := make([]byte, 8192)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		if n := c.Get(keys[i%len(keys)], out); n == 0 {
			b.Fatal("unexpected miss")
		}
	}
}
