package grf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io/ioutil"
	"os"
	"testing"
)

// rawFixtureEntry describes one archive member with caller-supplied,
// already-packed payload bytes, for tests that need to control the exact
// on-disk bytes (e.g. to simulate an encrypted or malformed payload).
type rawFixtureEntry struct {
	name          string
	flags         byte
	packSize      uint32
	lengthAligned uint32
	realSize      uint32
	payload       []byte // exactly lengthAligned bytes, written verbatim
}

// buildArchiveRaw assembles an in-memory 0x200 GRF file from pre-built
// entries and returns the path to a temp file the test framework removes
// automatically.
func buildArchiveRaw(t *testing.T, entries []rawFixtureEntry) string {
	t.Helper()

	var table bytes.Buffer
	var body bytes.Buffer
	for _, e := range entries {
		position := uint32(body.Len())
		body.Write(e.payload)

		table.WriteString(e.name)
		table.WriteByte(0)
		writeUint32(&table, e.packSize)
		writeUint32(&table, e.lengthAligned)
		writeUint32(&table, e.realSize)
		table.WriteByte(e.flags)
		writeUint32(&table, position)
	}

	var compressedTable bytes.Buffer
	zw := zlib.NewWriter(&compressedTable)
	if _, err := zw.Write(table.Bytes()); err != nil {
		t.Fatalf("deflating directory table: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing directory table zlib writer: %v", err)
	}

	var f bytes.Buffer
	sig := make([]byte, 16)
	copy(sig, "Master of Magic")
	f.Write(sig)
	f.Write(make([]byte, 14)) // key bytes, unused by readers

	writeUint32(&f, uint32(body.Len())) // table_offset, relative to end of header
	writeUint32(&f, 0)                  // seed
	writeUint32(&f, uint32(len(entries)))
	writeUint32(&f, version0x200)

	f.Write(body.Bytes())
	writeUint32(&f, uint32(compressedTable.Len()))
	writeUint32(&f, uint32(table.Len()))
	f.Write(compressedTable.Bytes())

	tmp, err := ioutil.TempFile("", "grf-fixture")
	if err != nil {
		t.Fatalf("creating temp fixture file: %v", err)
	}
	if _, err := tmp.Write(f.Bytes()); err != nil {
		t.Fatalf("writing temp fixture file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("closing temp fixture file: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmp.Name()) })
	return tmp.Name()
}

// fixtureEntry describes a plain-text archive member; buildArchive deflates
// it and pads it to the DES block size before handing off to
// buildArchiveRaw, covering the common (unencrypted) case.
type fixtureEntry struct {
	name  string
	flags byte
	plain []byte
}

func buildArchive(t *testing.T, entries []fixtureEntry) string {
	t.Helper()
	raw := make([]rawFixtureEntry, len(entries))
	for i, e := range entries {
		packed := deflate(t, e.plain)
		lengthAligned := uint32(len(packed))
		if lengthAligned%8 != 0 {
			lengthAligned += 8 - lengthAligned%8
		}
		padded := append(packed, make([]byte, int(lengthAligned)-len(packed))...)
		raw[i] = rawFixtureEntry{
			name:          e.name,
			flags:         e.flags,
			packSize:      uint32(len(packed)),
			lengthAligned: lengthAligned,
			realSize:      uint32(len(e.plain)),
			payload:       padded,
		}
	}
	return buildArchiveRaw(t, raw)
}

func deflate(t *testing.T, plain []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		t.Fatalf("deflating: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zlib writer: %v", err)
	}
	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
