package grf

import "golang.org/x/xerrors"

// Sentinel errors for the distinct ways opening an archive or reading an
// entry from it can fail. Check with errors.Is; wrapping with
// xerrors.Errorf preserves these.
var (
	ErrMalformedHeader    = xerrors.New("grf: malformed header")
	ErrUnsupportedVersion = xerrors.New("grf: unsupported archive version")
	ErrTableInflate       = xerrors.New("grf: directory table decompression failed")
	ErrUnknownFlag        = xerrors.New("grf: unknown entry flag")
	ErrShortRead          = xerrors.New("grf: short payload read")
	ErrDecryptOrInflate   = xerrors.New("grf: decryption or inflate failure")
	ErrOffsetOutOfRange   = xerrors.New("grf: v0x300 offset exceeds native address range")
)
