package grf

import (
	"bytes"
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

const headerSize = 46

const (
	version0x200 = 0x200
	version0x300 = 0x300
)

// header is the fixed 46-byte archive header: a 16-byte NUL-padded
// signature, 14 key bytes nobody has ever found a use for, and four
// little-endian uint32 fields. For version 0x300 tableOffset is widened by
// reinterpreting the following 4 bytes as its high half.
type header struct {
	version     uint32
	tableOffset uint64
	seed        uint32
	fileCount   uint32
}

// parseHeader validates and decodes the 46-byte header at the start of buf.
func parseHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, xerrors.Errorf("grf: header truncated: got %d bytes, want %d: %w", len(buf), headerSize, ErrMalformedHeader)
	}
	sig := bytes.TrimRight(buf[:16], "\x00")
	if !bytes.Equal(sig, []byte("Master of Magic")) && !bytes.Equal(sig, []byte("Event Horizon")) {
		return header{}, xerrors.Errorf("grf: signature %q: %w", sig, ErrMalformedHeader)
	}

	// Bytes 16-29 are the 14 key bytes, unused by readers. Bytes 30-45 hold
	// the four trailing little-endian uint32 fields: table_offset, seed,
	// file_count, version for v0x200. v0x300 widens table_offset to 64 bits
	// by reinterpreting bytes 30-37 (table_offset low + high half), leaving
	// file_count at bytes 38-41 and no seed field; version is bytes 42-45
	// either way.
	version, err := readUint32LE(buf[42:46])
	if err != nil {
		return header{}, xerrors.Errorf("grf: reading version field: %w", err)
	}

	h := header{version: version}
	switch version {
	case version0x200:
		tableOffset, err := readUint32LE(buf[30:34])
		if err != nil {
			return header{}, xerrors.Errorf("grf: reading table_offset: %w", err)
		}
		seed, err := readUint32LE(buf[34:38])
		if err != nil {
			return header{}, xerrors.Errorf("grf: reading seed: %w", err)
		}
		fileCount, err := readUint32LE(buf[38:42])
		if err != nil {
			return header{}, xerrors.Errorf("grf: reading file_count: %w", err)
		}
		h.tableOffset = uint64(tableOffset)
		h.seed = seed
		h.fileCount = fileCount
	case version0x300:
		low, err := readUint32LE(buf[30:34])
		if err != nil {
			return header{}, xerrors.Errorf("grf: reading table_offset low half: %w", err)
		}
		high, err := readUint32LE(buf[34:38])
		if err != nil {
			return header{}, xerrors.Errorf("grf: reading table_offset high half: %w", err)
		}
		fileCount, err := readUint32LE(buf[38:42])
		if err != nil {
			return header{}, xerrors.Errorf("grf: reading file_count: %w", err)
		}
		h.tableOffset = uint64(low) | uint64(high)<<32
		h.fileCount = fileCount
	default:
		return header{}, xerrors.Errorf("grf: version 0x%x: %w", version, ErrUnsupportedVersion)
	}
	return h, nil
}

func readUint32LE(b []byte) (uint32, error) {
	var v uint32
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// entryLayoutSize is the fixed metadata record size following each
// NUL-terminated filename, excluding the filename itself.
func entryLayoutSize(version uint32) int {
	if version == version0x300 {
		return 21
	}
	return 17
}

// readHeaderAndUnknownPrefix reads the archive header plus, for v0x300, the
// unknown 32-bit field directly preceding the directory table's own 8-byte
// size prefix. Its contents are discarded; nothing in this implementation
// depends on them.
func readHeaderAndUnknownPrefix(r io.ReaderAt) (header, int64, error) {
	buf := make([]byte, headerSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return header{}, 0, xerrors.Errorf("grf: reading header: %w", err)
	}
	h, err := parseHeader(buf)
	if err != nil {
		return header{}, 0, err
	}
	tableStart := int64(headerSize) + int64(h.tableOffset)
	if h.version == version0x300 {
		tableStart += 4
	}
	return h, tableStart, nil
}
