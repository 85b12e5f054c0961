package grf

import (
	"errors"
	"testing"
)

func TestRoundTripPlainEntries(t *testing.T) {
	path := buildArchive(t, []fixtureEntry{
		{name: "data/a.txt", flags: flagPlain, plain: []byte("hello")},
		{name: "DATA/B.TXT", flags: flagPlain, plain: []byte("world")},
	})
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	got, ok, err := a.ReadEntry([]byte("data/a.txt"))
	if err != nil || !ok {
		t.Fatalf("ReadEntry(data/a.txt) = %q, %v, %v", got, ok, err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadEntry(data/a.txt) = %q, want hello", got)
	}

	// Byte-exact search on the mixed-case stored name.
	got, ok, err = a.ReadEntry([]byte("DATA/B.TXT"))
	if err != nil || !ok || string(got) != "world" {
		t.Fatalf("ReadEntry(DATA/B.TXT) = %q, %v, %v, want world/true/nil", got, ok, err)
	}

	// Case-insensitive fallback: "data/b.txt" isn't stored verbatim.
	got, ok, err = a.ReadEntry([]byte("data/b.txt"))
	if err != nil || !ok || string(got) != "world" {
		t.Fatalf("case-insensitive ReadEntry(data/b.txt) = %q, %v, %v, want world/true/nil", got, ok, err)
	}
}

func TestReadEntryNotFound(t *testing.T) {
	path := buildArchive(t, []fixtureEntry{
		{name: "data/a.txt", flags: flagPlain, plain: []byte("hello")},
	})
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	_, ok, err := a.ReadEntry([]byte("data/missing.txt"))
	if err != nil {
		t.Fatalf("ReadEntry(missing) returned error %v, want nil", err)
	}
	if ok {
		t.Fatalf("ReadEntry(missing) = ok, want a miss")
	}
}

func TestListEntries(t *testing.T) {
	path := buildArchive(t, []fixtureEntry{
		{name: "a", flags: flagPlain, plain: []byte("1")},
		{name: "b", flags: flagPlain, plain: []byte("2")},
	})
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	names := a.ListEntries()
	if len(names) != 2 {
		t.Fatalf("ListEntries returned %d names, want 2", len(names))
	}
	if string(names[0]) != "a" || string(names[1]) != "b" {
		t.Fatalf("ListEntries = %q, %q, want a, b", names[0], names[1])
	}
}

func TestEmptyDirectoryTable(t *testing.T) {
	path := buildArchive(t, nil)
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open on empty-table archive: %v", err)
	}
	defer a.Close()

	if names := a.ListEntries(); len(names) != 0 {
		t.Fatalf("ListEntries on empty archive = %d names, want 0", len(names))
	}
}

func TestParseHeaderRejectsBadSignature(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, "Not A Real Signatur")
	if _, err := parseHeader(buf); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("parseHeader with bad signature: err = %v, want ErrMalformedHeader", err)
	}
}

func TestParseHeaderAcceptsEventHorizonSignature(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, "Event Horizon")
	binary32 := func(off int, v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	binary32(42, version0x200)
	h, err := parseHeader(buf)
	if err != nil {
		t.Fatalf("parseHeader with Event Horizon signature: %v", err)
	}
	if h.version != version0x200 {
		t.Fatalf("parsed version = 0x%x, want 0x%x", h.version, version0x200)
	}
}

func TestParseHeaderRejectsUnsupportedVersion(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, "Master of Magic")
	buf[42], buf[43], buf[44], buf[45] = 0x99, 0x01, 0, 0
	if _, err := parseHeader(buf); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("parseHeader with version 0x199: err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestUnknownFlagIsRejected(t *testing.T) {
	path := buildArchiveRaw(t, []rawFixtureEntry{
		{name: "data/bad.dat", flags: 0x04, packSize: 8, lengthAligned: 8, realSize: 8, payload: make([]byte, 8)},
	})
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	_, _, err = a.ReadEntry([]byte("data/bad.dat"))
	if !errors.Is(err, ErrUnknownFlag) {
		t.Fatalf("ReadEntry on flags=0x04 entry: err = %v, want ErrUnknownFlag", err)
	}
}

func TestHeaderEncryptedGarbageFailsInflate(t *testing.T) {
	// A header-encrypted entry whose payload was never actually produced by
	// the matching encryption step inflates to garbage after decryptHeader
	// scrambles it further; the pipeline must report ErrDecryptOrInflate,
	// not panic or silently return corrupt bytes.
	garbage := make([]byte, 16)
	for i := range garbage {
		garbage[i] = byte(i * 31)
	}
	path := buildArchiveRaw(t, []rawFixtureEntry{
		{name: "data/enc.dat", flags: flagHeaderEncrypted, packSize: 16, lengthAligned: 16, realSize: 100, payload: garbage},
	})
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	_, _, err = a.ReadEntry([]byte("data/enc.dat"))
	if !errors.Is(err, ErrDecryptOrInflate) {
		t.Fatalf("ReadEntry on undecryptable garbage: err = %v, want ErrDecryptOrInflate", err)
	}
}
