// Package overlay merges a local filesystem directory and an ordered list
// of opened archives into one logical name-to-location index, following
// the "later archive wins" rule the data manifest's priority order
// encodes.
package overlay

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/robrowserlegacy/remoteclient/internal/pathmap"
)

// ArchiveReader is the subset of *grf.Archive the index needs to build
// itself. Depending on an interface here (rather than the concrete type)
// keeps this package testable without constructing real GRF fixtures.
type ArchiveReader interface {
	ListEntries() [][]byte
}

// Location identifies where a normalized key resolves to: which archive
// (by its position in the manifest-ordered list passed to Build) and the
// exact stored_name bytes to hand that archive's readEntry.
type Location struct {
	ArchiveID  int
	StoredName []byte
}

// Index is the built lookup table. Its key map is never mutated after
// Build returns, so Lookup needs no lock; the local-overlay file list that
// ScanLocal replaces is guarded by localMu.
type Index struct {
	byKey map[string]Location

	localMu   sync.RWMutex
	localDir  string
	localList []string
}

// Build streams every archive's ListEntries in order, encoding keys with
// grfEncoding when a stored_name's raw bytes are not already valid UTF-8.
// An entry written by a later archive in archives silently overwrites an
// earlier one on key collision, implementing the overlay's override rule.
func Build(archives []ArchiveReader, grfEncoding string) *Index {
	idx := &Index{byKey: make(map[string]Location)}
	for archiveID, a := range archives {
		for _, storedName := range a.ListEntries() {
			key := normalizedKeyFor(storedName, grfEncoding)
			idx.byKey[key] = Location{ArchiveID: archiveID, StoredName: storedName}
		}
	}
	return idx
}

// normalizedKeyFor decodes storedName's native-encoding bytes to UTF-8
// (passing them through unchanged when they already are valid UTF-8) and
// normalizes the result to the canonical lowercase, forward-slashed key.
func normalizedKeyFor(storedName []byte, grfEncoding string) string {
	if pathmap.IsValidUTF8(storedName) {
		return pathmap.NormalizeKey(string(storedName))
	}
	switch strings.ToUpper(grfEncoding) {
	case "", "CP949", "EUC-KR", "EUCKR":
		decoded, err := pathmap.DecodeMojibake(pathmap.BytesToLatin1String(storedName))
		if err == nil {
			return pathmap.NormalizeKey(decoded)
		}
	}
	// Fall through: keep the raw bytes as the key verbatim (as a Latin-1
	// string) rather than drop the entry; step 6 of the orchestrator's
	// lookup chain exists precisely to recover entries like this one via
	// byte-exact archive search.
	return pathmap.NormalizeKey(pathmap.BytesToLatin1String(storedName))
}

// NewFromEntries builds an Index directly from a previously computed
// key-to-location map, bypassing the archive scan in Build. Used to
// reconstitute an index loaded from indexcache.
func NewFromEntries(entries map[string]Location) *Index {
	return &Index{byKey: entries}
}

// Entries returns the index's underlying key-to-location map, for
// persisting via indexcache.Save. The caller must not mutate it.
func (idx *Index) Entries() map[string]Location {
	return idx.byKey
}

// Lookup resolves the normalized form of path against the built index.
func (idx *Index) Lookup(path string) (Location, bool) {
	loc, ok := idx.byKey[pathmap.NormalizeKey(path)]
	return loc, ok
}

// ScanLocal walks dir once, recording every regular file's path relative to
// dir for the search endpoint. Errors walking individual entries are
// skipped rather than aborting the whole scan; a directory that doesn't
// exist yields an empty list, not an error.
func (idx *Index) ScanLocal(dir string) error {
	idx.localMu.Lock()
	defer idx.localMu.Unlock()
	idx.localDir = dir
	idx.localList = nil

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		idx.localList = append(idx.localList, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Search returns every key in the index (archive entries and, if
// ScanLocal was called, local-overlay files) whose normalized form matches
// re.
func (idx *Index) Search(re *regexp.Regexp) []string {
	var matches []string
	for key := range idx.byKey {
		if re.MatchString(key) {
			matches = append(matches, key)
		}
	}

	idx.localMu.RLock()
	defer idx.localMu.RUnlock()
	for _, name := range idx.localList {
		key := pathmap.NormalizeKey(name)
		if re.MatchString(key) {
			matches = append(matches, key)
		}
	}
	return matches
}
