// Package indexcache persists the built overlay index to disk, keyed by a
// digest over the archive set that produced it, so that a restart whose
// archives haven't changed can skip rebuilding the index from scratch.
package indexcache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/google/renameio"

	"github.com/robrowserlegacy/remoteclient/internal/overlay"
)

// ArchiveStat is the (path, mtime, size) triple of one loaded archive,
// used as digest input. mtime is a Unix nanosecond timestamp; callers
// derive it from os.FileInfo.ModTime().UnixNano() so the digest changes
// whenever the underlying file is rewritten.
type ArchiveStat struct {
	Path  string
	MTime int64
	Size  int64
}

// Digest computes the stable hash over (grfEncoding, archive stats) that
// identifies whether a saved blob is still valid for the current archive
// set. The order of stats matters: callers must pass them in the same
// manifest order the index itself was built with.
func Digest(grfEncoding string, stats []ArchiveStat) uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%s\x00", grfEncoding)
	for _, s := range stats {
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00", s.Path, s.MTime, s.Size)
	}
	return h.Sum64()
}

// blob is the on-disk gob-encoded representation. A gob Decode on a
// corrupt or foreign file fails cleanly, which Load turns into a silent
// (nil, false) rather than surfacing a decode error to the caller.
type blob struct {
	Digest  uint64
	Entries map[string]overlay.Location
}

// Load reads the blob at path and returns its index if its stored digest
// equals digestExpected. Any read error, decode error, or digest mismatch
// returns (nil, false): the caller rebuilds from the archives instead.
func Load(path string, digestExpected uint64) (map[string]overlay.Location, bool) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var blb blob
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&blb); err != nil {
		return nil, false
	}
	if blb.Digest != digestExpected {
		return nil, false
	}
	return blb.Entries, true
}

// Save atomically writes entries and digest to path: write-to-temp in the
// same directory, then rename over the destination, so a crash mid-write
// never leaves a half-written blob for the next Load to choke on.
func Save(path string, digest uint64, entries map[string]overlay.Location) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob{Digest: digest, Entries: entries}); err != nil {
		return err
	}

	f, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer f.Cleanup()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}
