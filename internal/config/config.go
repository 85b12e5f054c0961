// Package config parses the server's configuration bundle and the
// INI-style data manifest that orders the archives making up the overlay
// stack. Both are hand-parsed line formats; see DESIGN.md for why no
// off-the-shelf INI-parsing library fits an arbitrary-section,
// integer-keyed manifest.
package config

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// ErrMalformedManifest is returned for a manifest missing its [Data]
// section or containing a non-integer key.
var ErrMalformedManifest = xerrors.New("config: malformed data manifest")

// Config is the recognized configuration bundle.
type Config struct {
	ResourcePath string
	DataManifest string

	AutoExtract bool
	LocalScan   bool

	CacheEnabled  bool
	CacheMaxItems int
	CacheMaxBytes int64

	IndexCacheEnabled bool
	IndexCacheDir     string

	PathMappingEnabled bool
	PathMappingFile    string

	GRFEncoding string

	MemoryLimit int64
}

// Default returns a Config with the documented defaults: caching and
// path-mapping on, CP949 archive encoding, no size/item bound (0 means
// unbounded), index cache disabled (it needs both index_cache_enabled and
// index_cache_dir).
func Default() Config {
	return Config{
		DataManifest:       "data.ini",
		CacheEnabled:       true,
		PathMappingEnabled: true,
		GRFEncoding:        "CP949",
	}
}

// Load reads key=value configuration lines from path, one per line,
// blank lines and lines starting with '#' or ';' ignored, and overlays
// them onto Default().
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	cfg := Default()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		key, value, ok := splitKV(line)
		if !ok {
			continue
		}
		if err := cfg.apply(key, value); err != nil {
			return Config{}, xerrors.Errorf("config: line %q: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitKV(line string) (key, value string, ok bool) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

func (cfg *Config) apply(key, value string) error {
	switch strings.ToLower(key) {
	case "resource_path":
		cfg.ResourcePath = value
	case "data_manifest":
		cfg.DataManifest = value
	case "auto_extract":
		cfg.AutoExtract = parseBool(value)
	case "local_scan":
		cfg.LocalScan = parseBool(value)
	case "cache_enabled":
		cfg.CacheEnabled = parseBool(value)
	case "cache_max_items":
		n, err := strconv.Atoi(value)
		if err != nil {
			return xerrors.Errorf("cache_max_items: %w", err)
		}
		cfg.CacheMaxItems = n
	case "cache_max_bytes":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return xerrors.Errorf("cache_max_bytes: %w", err)
		}
		cfg.CacheMaxBytes = n
	case "index_cache_enabled":
		cfg.IndexCacheEnabled = parseBool(value)
	case "index_cache_dir":
		cfg.IndexCacheDir = value
	case "path_mapping_enabled":
		cfg.PathMappingEnabled = parseBool(value)
	case "path_mapping_file":
		cfg.PathMappingFile = value
	case "grf_encoding":
		cfg.GRFEncoding = value
	case "memory_limit":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return xerrors.Errorf("memory_limit: %w", err)
		}
		cfg.MemoryLimit = n
	default:
		// Unrecognized keys are ignored rather than rejected: a newer
		// deployment's config file may carry options this build predates.
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ManifestEntry is one archive filename at its priority; lower Priority
// means earlier in the overlay stack (overridden by later priorities on
// key collision).
type ManifestEntry struct {
	Priority int
	Filename string
}

// LoadManifest parses an INI-style manifest with a case-insensitive [Data]
// section whose keys are integer priorities and whose values are archive
// filenames relative to the resource directory. Entries are returned
// sorted ascending by priority, matching manifest load order.
func LoadManifest(path string) ([]ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []ManifestEntry
	inData := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			inData = section == "data"
			continue
		}
		if !inData {
			continue
		}
		key, value, ok := splitKV(line)
		if !ok {
			return nil, xerrors.Errorf("line %q has no '=': %w", line, ErrMalformedManifest)
		}
		priority, err := strconv.Atoi(key)
		if err != nil {
			return nil, xerrors.Errorf("key %q is not an integer priority: %w", key, ErrMalformedManifest)
		}
		entries = append(entries, ManifestEntry{Priority: priority, Filename: value})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if entries == nil {
		return nil, xerrors.Errorf("no [Data] section found: %w", ErrMalformedManifest)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Priority < entries[j].Priority })
	return entries, nil
}
