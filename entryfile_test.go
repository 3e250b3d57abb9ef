package blobcache

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeDecodeEntry(t *testing.T) {
	t.Parallel()

	key := []byte("the key")
	value := []byte("the value, somewhat longer")
	buf := encodeEntry(key, value)

	if len(buf) != entryHeaderSize+len(key)+len(value) {
		t.Fatalf("len = %d, want %d", len(buf), entryHeaderSize+len(key)+len(value))
	}

	ks, vs, err := decodeEntry(buf)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if ks != len(key) || vs != len(value) {
		t.Fatalf("decoded sizes = %d/%d, want %d/%d", ks, vs, len(key), len(value))
	}
	if !bytes.Equal(entryValue(buf, ks, vs), value) {
		t.Fatal("decoded value differs")
	}
}

func TestDecodeEntryRejectsShortBuffer(t *testing.T) {
	t.Parallel()

	if _, _, err := decodeEntry(make([]byte, entryHeaderSize-1)); err == nil {
		t.Fatal("decodeEntry accepted a buffer shorter than the header")
	}
}

func TestDecodeEntryRejectsSizeMismatch(t *testing.T) {
	t.Parallel()

	buf := encodeEntry([]byte("k"), []byte("v"))
	binary.LittleEndian.PutUint64(buf[8:16], 1000) // lie about the value size
	if _, _, err := decodeEntry(buf); err == nil {
		t.Fatal("decodeEntry accepted a header that disagrees with the buffer length")
	}
}

func TestReadEntryFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "00000001")
	want := encodeEntry([]byte("k"), []byte("payload"))
	if err := os.WriteFile(path, want, 0o600); err != nil {
		t.Fatal(err)
	}

	buf, ks, vs, err := readEntryFile(path)
	if err != nil {
		t.Fatalf("readEntryFile() error = %v", err)
	}
	if !bytes.Equal(buf, want) || ks != 1 || vs != len("payload") {
		t.Fatalf("readEntryFile() = %d/%d bytes", ks, vs)
	}

	if _, _, _, err := readEntryFile(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("readEntryFile on a missing file did not error")
	}

	bad := filepath.Join(dir, "00000002")
	if err := os.WriteFile(bad, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := readEntryFile(bad); err == nil {
		t.Fatal("readEntryFile on a truncated file did not error")
	}
}

func TestEntryNameRoundTrip(t *testing.T) {
	t.Parallel()

	for _, id := range []uint32{0, 1, 0xdeadbeef, 1<<32 - 1} {
		name := entryName(id)
		if len(name) != 8 {
			t.Fatalf("entryName(%d) = %q, want 8 hex chars", id, name)
		}
		back, ok := parseEntryName(name)
		if !ok || back != id {
			t.Fatalf("parseEntryName(%q) = %d %v, want %d", name, back, ok, id)
		}
	}

	for _, name := range []string{"", "zzzzzzzz", "123", "0123456789"} {
		if _, ok := parseEntryName(name); ok {
			t.Fatalf("parseEntryName(%q) = ok, want rejection", name)
		}
	}
}

func TestEntryPathSharding(t *testing.T) {
	t.Parallel()

	got := entryPath("/base", 0xdeadbeef, 2)
	want := filepath.Join("/base", "de", "deadbeef")
	if got != want {
		t.Fatalf("entryPath = %q, want %q", got, want)
	}

	got = entryPath("/base", 0xdeadbeef, 0)
	want = filepath.Join("/base", "deadbeef")
	if got != want {
		t.Fatalf("entryPath flat = %q, want %q", got, want)
	}

	// Prefix longer than the name degrades to the full name.
	got = entryPath("/base", 0xdeadbeef, 99)
	want = filepath.Join("/base", "deadbeef", "deadbeef")
	if got != want {
		t.Fatalf("entryPath long prefix = %q, want %q", got, want)
	}
}
