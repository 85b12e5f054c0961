// Package grf reads the GRF archive format: a header, a zlib-compressed
// directory table, and a payload region holding the (possibly encrypted,
// possibly deflated) bytes of every entry named in the table.
package grf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io/ioutil"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/xerrors"

	"github.com/robrowserlegacy/remoteclient/internal/des"
)

// Flag values for an entry's metadata. The newer archive-reader revision is
// taken as canonical per the documented ambiguity between it and an older,
// swapped assignment. The older assignment is not detected: such an entry
// is decrypted with the other scheme and its read then fails with
// ErrDecryptOrInflate when the result does not inflate.
const (
	flagPlain           = 0x01
	flagHeaderEncrypted = 0x02
	flagMixedEncrypted  = 0x03
	flagReserved        = 0x04
	flagMixedEncrypted2 = 0x05
)

// dataCryptedExtensions forces cycle=0, dataCrypted=true for these file
// extensions regardless of pack_size, per the archive family's convention
// that certain asset kinds are always encrypted the same way.
var dataCryptedExtensions = map[string]bool{
	".gnd": true,
	".gat": true,
	".act": true,
	".str": true,
}

// entry is the decoded metadata record for one archive member.
type entry struct {
	storedName     []byte // exact on-disk bytes, native encoding
	packSize       uint32
	lengthAligned  uint32
	realSize       uint32
	flags          byte
	position       uint64
}

// Archive is an opened, read-only GRF file. A *Archive is safe for
// concurrent use by multiple goroutines: readEntry uses positional reads
// and touches no mutable state beyond the once-built, thereafter read-only
// name index.
type Archive struct {
	f       *os.File
	header  header
	table   []byte // inflated directory table

	mu      sync.Mutex // guards lazy listEntries/index population
	entries []entry
	index   map[string]int // lowercase storedName -> index into entries
	listed  bool
}

// Open opens the archive at path, validates its header, and loads and
// inflates its directory table into memory. It does not yet parse
// individual entry records; that happens lazily on first ListEntries or
// ReadEntry call, keeping Open cheap and deferring heavier parsing to
// first use.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	a, err := newArchive(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func newArchive(f *os.File) (*Archive, error) {
	h, tableStart, err := readHeaderAndUnknownPrefix(f)
	if err != nil {
		return nil, err
	}

	sizes := make([]byte, 8)
	if _, err := f.ReadAt(sizes, tableStart); err != nil {
		return nil, xerrors.Errorf("grf: reading table size prefix: %w", err)
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[0:4])
	uncompressedSize := binary.LittleEndian.Uint32(sizes[4:8])

	table := make([]byte, 0, uncompressedSize)
	if compressedSize > 0 {
		compressed := make([]byte, compressedSize)
		if _, err := f.ReadAt(compressed, tableStart+8); err != nil {
			return nil, xerrors.Errorf("grf: reading compressed table (%d bytes): %w", compressedSize, err)
		}
		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, xerrors.Errorf("grf: opening zlib table stream (%v): %w", err, ErrTableInflate)
		}
		defer zr.Close()
		inflated, err := ioutil.ReadAll(zr)
		if err != nil {
			return nil, xerrors.Errorf("grf: inflating table (%v): %w", err, ErrTableInflate)
		}
		if uint32(len(inflated)) != uncompressedSize {
			return nil, xerrors.Errorf("grf: inflated table is %d bytes, header says %d: %w", len(inflated), uncompressedSize, ErrTableInflate)
		}
		table = inflated
	}

	return &Archive{f: f, header: h, table: table}, nil
}

// Close releases the underlying file handle.
func (a *Archive) Close() error {
	return a.f.Close()
}

// FileCount is the file_count field recorded in the header. listEntries may
// yield a different count if the table is truncated or malformed; callers
// needing an authoritative count should use len(ListEntries()).
func (a *Archive) FileCount() int {
	return int(a.header.fileCount)
}

// ensureParsed performs the one-time linear scan of the table buffer into
// entry records, building both the ordered slice and the lookup index.
// Callers must hold a.mu.
func (a *Archive) ensureParsed() {
	if a.listed {
		return
	}
	a.listed = true
	recordSize := entryLayoutSize(a.header.version)
	buf := a.table
	for len(buf) > 0 {
		nul := bytes.IndexByte(buf, 0)
		if nul < 0 {
			break
		}
		name := buf[:nul]
		rest := buf[nul+1:]
		if len(rest) < recordSize {
			break
		}
		e := parseEntryMetadata(name, rest[:recordSize], a.header.version)
		buf = rest[recordSize:]
		idx := len(a.entries)
		a.entries = append(a.entries, e)
		if a.index == nil {
			a.index = make(map[string]int)
		}
		a.index[strings.ToLower(string(e.storedName))] = idx
	}
}

// parseEntryMetadata decodes one fixed-size metadata record. Entries are
// kept regardless of their flags byte, including the reserved 0x04 value:
// the name must still be locatable by ReadEntry, which is where an unknown
// flag turns into ErrUnknownFlag rather than a not-found miss.
func parseEntryMetadata(name, rec []byte, version uint32) entry {
	packSize := binary.LittleEndian.Uint32(rec[0:4])
	lengthAligned := binary.LittleEndian.Uint32(rec[4:8])
	realSize := binary.LittleEndian.Uint32(rec[8:12])
	flags := rec[12]

	var position uint64
	if version == version0x300 {
		position = binary.LittleEndian.Uint64(rec[13:21])
	} else {
		position = uint64(binary.LittleEndian.Uint32(rec[13:17]))
	}

	return entry{
		storedName:    append([]byte(nil), name...),
		packSize:      packSize,
		lengthAligned: lengthAligned,
		realSize:      realSize,
		flags:         flags,
		position:      position,
	}
}

// ListEntries returns the stored-name bytes of every entry in the archive,
// in table order. The result is cached after the first call.
func (a *Archive) ListEntries() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureParsed()
	names := make([][]byte, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.storedName
	}
	return names
}

// ReadEntry locates storedName (first an exact byte match, then a
// case-insensitive fallback), decrypts and inflates its payload, and
// returns the result. ok is false, err nil for a plain not-found miss.
func (a *Archive) ReadEntry(storedName []byte) (data []byte, ok bool, err error) {
	a.mu.Lock()
	a.ensureParsed()
	e, found := a.findEntry(storedName)
	a.mu.Unlock()
	if !found {
		return nil, false, nil
	}

	readSize := e.packSize
	if e.flags != flagPlain {
		readSize = e.lengthAligned
	}
	if readSize == 0 {
		return []byte{}, true, nil
	}

	if e.position > uint64(math.MaxInt64) {
		return nil, false, xerrors.Errorf("grf: entry position %d: %w", e.position, ErrOffsetOutOfRange)
	}
	offset := headerSize + int64(e.position)
	raw := make([]byte, readSize)
	if _, err := a.f.ReadAt(raw, offset); err != nil {
		return nil, false, xerrors.Errorf("grf: reading payload at %d (%d bytes, %v): %w", offset, readSize, err, ErrShortRead)
	}

	switch e.flags {
	case flagPlain:
		// already the packed payload
	case flagHeaderEncrypted:
		des.DecryptHeader(raw)
	case flagMixedEncrypted, flagMixedEncrypted2:
		cycle, dataCrypted := mixedParams(string(e.storedName), e.packSize)
		des.DecryptMixed(raw, cycle, dataCrypted)
	default:
		return nil, false, xerrors.Errorf("grf: entry %q flags=0x%x: %w", e.storedName, e.flags, ErrUnknownFlag)
	}
	raw = raw[:e.packSize]

	if e.realSize == 0 {
		return []byte{}, true, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false, xerrors.Errorf("grf: entry %q: opening zlib stream (%v): %w", e.storedName, err, ErrDecryptOrInflate)
	}
	defer zr.Close()
	inflated, err := ioutil.ReadAll(zr)
	if err != nil {
		return nil, false, xerrors.Errorf("grf: entry %q: inflating (%v): %w", e.storedName, err, ErrDecryptOrInflate)
	}
	if uint32(len(inflated)) != e.realSize {
		return nil, false, xerrors.Errorf("grf: entry %q: inflated to %d bytes, want %d: %w", e.storedName, len(inflated), e.realSize, ErrDecryptOrInflate)
	}
	return inflated, true, nil
}

// findEntry performs the byte-exact then case-insensitive lookup. Callers
// must hold a.mu and must have called ensureParsed.
func (a *Archive) findEntry(storedName []byte) (entry, bool) {
	for _, e := range a.entries {
		if bytes.Equal(e.storedName, storedName) {
			return e, true
		}
	}
	if idx, ok := a.index[strings.ToLower(string(storedName))]; ok {
		return a.entries[idx], true
	}
	return entry{}, false
}

// mixedParams derives (cycle, dataCrypted) for the 0x03/0x05 scheme from an
// entry's stored name extension and pack_size.
func mixedParams(storedName string, packSize uint32) (cycle int, dataCrypted bool) {
	ext := strings.ToLower(storedName)
	if i := strings.LastIndexByte(ext, '.'); i >= 0 {
		ext = ext[i:]
	} else {
		ext = ""
	}
	if dataCryptedExtensions[ext] {
		return 0, true
	}
	if packSize == 0 {
		return 1, false
	}
	return len(strconv.FormatUint(uint64(packSize), 10)), false
}
