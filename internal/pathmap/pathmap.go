// Package pathmap loads the path-mapping document that recovers legacy,
// non-UTF-8 archive filenames from their UTF-8 request paths, and supplies
// the "mojibake" transcoding helpers the offline conversion tool uses to
// build that document in the first place.
package pathmap

import (
	"encoding/json"
	"io/ioutil"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/xerrors"
)

// ErrInvalidDocument is returned when the path-mapping file is neither of
// the two documented JSON shapes.
var ErrInvalidDocument = xerrors.New("pathmap: not a valid path-mapping document")

// document is the `{"paths": {...}}` shape; the flat `{...}` shape is tried
// as a fallback when the document has no "paths" object.
type document struct {
	Paths map[string]string `json:"paths"`
}

// Mapping is a read-only, startup-loaded table from a normalized UTF-8
// request key to the exact stored_name bytes (as a string) an archive
// indexes the asset under. It is safe for concurrent read access; nothing
// mutates it after Load returns.
type Mapping struct {
	mu     sync.RWMutex
	byKey  map[string]string
	lookup int64
	hits   int64
	misses int64
}

// Load reads and parses the path-mapping document at path.
func Load(path string) (*Mapping, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(b)
}

func parse(b []byte) (*Mapping, error) {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, xerrors.Errorf("pathmap: %w: %v", ErrInvalidDocument, err)
	}
	raw := doc.Paths
	if raw == nil {
		var flat map[string]string
		if err := json.Unmarshal(b, &flat); err != nil {
			return nil, xerrors.Errorf("pathmap: %w: %v", ErrInvalidDocument, err)
		}
		raw = flat
	}

	m := &Mapping{byKey: make(map[string]string, len(raw))}
	for k, v := range raw {
		m.byKey[NormalizeKey(k)] = v
	}
	return m, nil
}

// NormalizeKey converts path to the canonical form used as both an index
// and a path-mapping key: forward slashes, no leading slash, lowercase.
func NormalizeKey(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.TrimPrefix(path, "/")
	return strings.ToLower(path)
}

// Resolve looks up path against the mapping, trying (in order) its
// normalized form, its plain lowercased form, a backslash-converted form,
// and a forward-slash-converted form. The second return value is false
// when none of the variants match.
func (m *Mapping) Resolve(path string) (string, bool) {
	atomic.AddInt64(&m.lookup, 1)

	candidates := [4]string{
		NormalizeKey(path),
		strings.ToLower(path),
		strings.ToLower(strings.ReplaceAll(path, "/", `\`)),
		strings.ToLower(strings.ReplaceAll(path, `\`, "/")),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range candidates {
		if v, ok := m.byKey[c]; ok {
			atomic.AddInt64(&m.hits, 1)
			return v, true
		}
	}
	atomic.AddInt64(&m.misses, 1)
	return "", false
}

// Stats reports lookup/hit/miss counters for observability.
func (m *Mapping) Stats() (lookups, hits, misses int64) {
	return atomic.LoadInt64(&m.lookup), atomic.LoadInt64(&m.hits), atomic.LoadInt64(&m.misses)
}

// DecodeMojibake interprets s's Unicode code points as raw 8-bit bytes
// (valid only when every code point is <= 0xFF, i.e. s originated from a
// Latin-1-as-UTF-8 round trip) and decodes the resulting byte sequence as
// CP949/EUC-KR, recovering the original Korean filename.
func DecodeMojibake(s string) (string, error) {
	raw := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return "", xerrors.Errorf("pathmap: code point U+%04X exceeds 8 bits, not mojibake", r)
		}
		raw = append(raw, byte(r))
	}
	decoded, err := korean.EUCKR.NewDecoder().Bytes(raw)
	if err != nil {
		return "", xerrors.Errorf("pathmap: decoding as EUC-KR: %w", err)
	}
	return string(decoded), nil
}

// EncodeToMojibake is the inverse of DecodeMojibake: it encodes s as
// CP949/EUC-KR, then reinterprets the resulting bytes as Latin-1 code
// points, producing the mangled UTF-8 string archives with raw legacy
// filenames appear to contain when misread as UTF-8.
func EncodeToMojibake(s string) (string, error) {
	encoded, err := korean.EUCKR.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return "", xerrors.Errorf("pathmap: encoding as EUC-KR: %w", err)
	}
	runes := make([]rune, len(encoded))
	for i, b := range encoded {
		runes[i] = rune(b)
	}
	return string(runes), nil
}

// IsValidUTF8 reports whether b decodes as valid UTF-8 without replacement
// characters, the test the overlay resolver (component D) uses to decide
// whether a stored_name needs transcoding at all.
func IsValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}

// BytesToLatin1String encodes raw bytes one rune per byte, the reversible
// stand-in the overlay index and path-mapping documents use to carry
// arbitrary, possibly non-UTF-8 stored_name bytes through a string (and a
// JSON document, which must itself be valid UTF-8).
func BytesToLatin1String(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// Latin1Bytes is the inverse of BytesToLatin1String: it recovers the
// original bytes from a string built one rune per byte. Runes above 0xFF,
// which should not occur in a string built by BytesToLatin1String, are
// truncated to their low byte.
func Latin1Bytes(s string) []byte {
	runes := []rune(s)
	b := make([]byte, len(runes))
	for i, r := range runes {
		b[i] = byte(r)
	}
	return b
}
