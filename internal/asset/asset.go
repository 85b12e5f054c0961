// Package asset implements the orchestrator: the single value that ties
// the cache, local overlay, archive index, path mapping, and archive
// readers together behind one getAsset(path) call.
package asset

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/robrowserlegacy/remoteclient/internal/convert"
	"github.com/robrowserlegacy/remoteclient/internal/lru"
	"github.com/robrowserlegacy/remoteclient/internal/overlay"
	"github.com/robrowserlegacy/remoteclient/internal/pathmap"
)

// ArchiveReader is the subset of *grf.Archive the orchestrator needs:
// byte-exact/case-insensitive entry reads keyed by stored name.
type ArchiveReader interface {
	ReadEntry(storedName []byte) (data []byte, ok bool, err error)
}

// MissingLog observes a not-found path; implemented by *missinglog.Log.
type MissingLog interface {
	Observe(path string)
}

// Store is the orchestrator value: owns no process-global state and is
// threaded through request handlers by the caller, per the "single
// orchestrator value instead of scattered singletons" design.
type Store struct {
	cache       *lru.Cache
	index       *overlay.Index
	mapping     *pathmap.Mapping
	archives    []ArchiveReader
	missingLog  MissingLog
	convert     convert.Hook
	localDir    string
	autoExtract bool
	group       singleflight.Group
	coalesce    bool
}

// Config bundles the collaborators a Store wires together. Archives must
// be in the same order their archive_id was assigned when index was
// built.
type Config struct {
	Cache       *lru.Cache // nil disables caching
	Index       *overlay.Index
	Mapping     *pathmap.Mapping // nil disables path-mapping fallback
	Archives    []ArchiveReader
	MissingLog  MissingLog   // nil disables not-found observation
	Convert     convert.Hook // nil disables the .png-backed-by-.bmp conversion fallback
	LocalDir    string       // "" disables the local-filesystem overlay step
	AutoExtract bool         // on an archive hit, also write the bytes to LocalDir
	Coalesce    bool         // enable singleflight coalescing of concurrent misses
}

// New builds a Store from cfg.
func New(cfg Config) *Store {
	return &Store{
		cache:       cfg.Cache,
		index:       cfg.Index,
		mapping:     cfg.Mapping,
		archives:    cfg.Archives,
		missingLog:  cfg.MissingLog,
		convert:     cfg.Convert,
		localDir:    cfg.LocalDir,
		autoExtract: cfg.AutoExtract,
		coalesce:    cfg.Coalesce,
	}
}

// ErrNotFound is returned by GetAsset when no step in the lookup chain
// resolves requestedPath. It is a soft miss, not an exceptional archive or
// configuration fault.
var ErrNotFound = xerrors.New("asset: not found")

// GetAsset resolves requestedPath through the documented seven-step chain:
// cache, then local overlay, then the archive index, then path-mapping
// (retrying the index, then a linear byte-exact archive scan), then a
// final linear byte-exact fallback across all archives.
func (s *Store) GetAsset(requestedPath string) ([]byte, error) {
	if s.coalesce {
		v, err, _ := s.group.Do(requestedPath, func() (interface{}, error) {
			return s.getAsset(requestedPath)
		})
		if err != nil {
			return nil, err
		}
		return v.([]byte), nil
	}
	return s.getAsset(requestedPath)
}

func (s *Store) getAsset(requestedPath string) ([]byte, error) {
	normalized := pathmap.NormalizeKey(requestedPath)

	// Step 2: cache.
	if s.cache != nil {
		if v, ok := s.cache.Get(normalized); ok {
			return v, nil
		}
	}

	// Step 3: local filesystem overlay.
	if s.localDir != "" {
		if data, ok := s.readLocal(requestedPath); ok {
			s.cacheSet(normalized, data)
			return data, nil
		}
	}

	// Steps 4-6: archive index, path-mapping fallback, final linear scan.
	if data, ok, err := s.resolveFromArchives(requestedPath, normalized); err != nil {
		return nil, err
	} else if ok {
		s.cacheSet(normalized, data)
		return data, nil
	}

	// .png logical paths backed by a .bmp stored entry: retried only after
	// every direct lookup above has missed, and only when a converter is
	// configured.
	if s.convert != nil {
		if bmpPath, ok := pngToBMP(requestedPath); ok {
			bmpNormalized := pathmap.NormalizeKey(bmpPath)
			if data, ok, err := s.resolveFromArchives(bmpPath, bmpNormalized); err != nil {
				return nil, err
			} else if ok {
				converted, ok, err := s.convert.Convert(requestedPath, data)
				if err != nil {
					return nil, err
				}
				if ok {
					s.cacheSet(normalized, converted)
					return converted, nil
				}
			}
		}
	}

	if s.missingLog != nil {
		s.missingLog.Observe(requestedPath)
	}
	return nil, ErrNotFound
}

// pngToBMP returns the .bmp-suffixed counterpart of a .png logical path, or
// ok=false if requestedPath does not have a .png extension.
func pngToBMP(requestedPath string) (string, bool) {
	const pngExt = ".png"
	if !strings.HasSuffix(strings.ToLower(requestedPath), pngExt) {
		return "", false
	}
	return requestedPath[:len(requestedPath)-len(pngExt)] + ".bmp", true
}

// resolveFromArchives runs steps 4-6 of the lookup chain for a single
// candidate path: the archive index, then the path-mapping fallback, then a
// final linear byte-exact scan across all archives. A successful archive hit
// is written through to the local overlay directory when auto-extract is
// enabled.
func (s *Store) resolveFromArchives(requestedPath, normalized string) ([]byte, bool, error) {
	// Step 4: archive index.
	if s.index != nil {
		if loc, ok := s.index.Lookup(normalized); ok {
			if data, err := s.readArchive(loc); err != nil {
				return nil, false, err
			} else if data != nil {
				s.extractLocal(requestedPath, data)
				return data, true, nil
			}
		}
	}

	// Step 5: path-mapping fallback.
	if s.mapping != nil {
		if mapped, ok := s.mapping.Resolve(normalized); ok {
			mappedNormalized := pathmap.NormalizeKey(mapped)
			if s.index != nil {
				if loc, ok := s.index.Lookup(mappedNormalized); ok {
					if data, err := s.readArchive(loc); err != nil {
						return nil, false, err
					} else if data != nil {
						s.extractLocal(requestedPath, data)
						return data, true, nil
					}
				}
			}
			if data, ok := s.readAnyArchiveByteExact(pathmap.Latin1Bytes(mapped)); ok {
				s.extractLocal(requestedPath, data)
				return data, true, nil
			}
		}
	}

	// Step 6: final linear fallback across all archives, byte-exact on the
	// original (non-normalized) request path, for names the index couldn't
	// cleanly decode to UTF-8.
	if data, ok := s.readAnyArchiveByteExact([]byte(requestedPath)); ok {
		s.extractLocal(requestedPath, data)
		return data, true, nil
	}

	return nil, false, nil
}

// extractLocal writes data to the local overlay directory at requestedPath
// when auto-extract is enabled, so a subsequent request is served straight
// from step 3 without an archive read. Failures are silently ignored: this
// is a write-through cache optimization, not a correctness requirement.
func (s *Store) extractLocal(requestedPath string, data []byte) {
	if !s.autoExtract || s.localDir == "" {
		return
	}
	full := filepath.Join(s.localDir, filepath.FromSlash(requestedPath))
	if !strings.HasPrefix(full, filepath.Clean(s.localDir)+string(filepath.Separator)) {
		return
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return
	}
	_ = ioutil.WriteFile(full, data, 0o644)
}

// readLocal reads requestedPath from the local overlay directory,
// rejecting anything that isn't a regular, readable file (symlinked
// directories, device files, etc. are not servable assets).
func (s *Store) readLocal(requestedPath string) ([]byte, bool) {
	full := filepath.Join(s.localDir, filepath.FromSlash(requestedPath))
	if !strings.HasPrefix(full, filepath.Clean(s.localDir)+string(filepath.Separator)) && full != filepath.Clean(s.localDir) {
		return nil, false
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	data, err := ioutil.ReadFile(full)
	if err != nil {
		return nil, false
	}
	return data, true
}

// readArchive reads loc.StoredName from the archive loc.ArchiveID. A nil,
// nil return means a miss (the index pointed at a name the archive no
// longer has, which should not happen but is not fatal); a non-nil error
// is a genuine archive fault the caller should propagate.
func (s *Store) readArchive(loc overlay.Location) ([]byte, error) {
	if loc.ArchiveID < 0 || loc.ArchiveID >= len(s.archives) {
		return nil, nil
	}
	data, ok, err := s.archives[loc.ArchiveID].ReadEntry(loc.StoredName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return data, nil
}

// readAnyArchiveByteExact tries storedName against every archive in
// order, returning the first hit. Archive-fault errors on one archive do
// not abort the scan of the remaining archives; they are treated as a
// miss for that archive, matching the policy that a bad archive is
// skipped rather than aborting the whole lookup.
func (s *Store) readAnyArchiveByteExact(storedName []byte) ([]byte, bool) {
	for _, a := range s.archives {
		if data, ok, err := a.ReadEntry(storedName); err == nil && ok {
			return data, true
		}
	}
	return nil, false
}

func (s *Store) cacheSet(normalizedKey string, data []byte) {
	if s.cache != nil {
		s.cache.Set(normalizedKey, data)
	}
}

// Search returns every known path (archive entries and, if local
// filesystem scanning was enabled at build time, local overlay files)
// whose normalized form matches re.
func (s *Store) Search(re *regexp.Regexp) []string {
	if s.index == nil {
		return nil
	}
	return s.index.Search(re)
}

// Close releases every archive handle that implements io.Closer. It is
// intended to be registered with remoteclient.RegisterAtExit by the
// binary that constructs the Store.
func (s *Store) Close() error {
	for _, a := range s.archives {
		if c, ok := a.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}
