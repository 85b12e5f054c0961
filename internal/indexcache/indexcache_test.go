package indexcache

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robrowserlegacy/remoteclient/internal/overlay"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.cache")

	entries := map[string]overlay.Location{
		"data/a.txt": {ArchiveID: 0, StoredName: []byte("data/a.txt")},
		"data/b.txt": {ArchiveID: 1, StoredName: []byte("DATA/B.TXT")},
	}
	digest := Digest("CP949", []ArchiveStat{{Path: "a.grf", MTime: 100, Size: 200}})

	if err := Save(path, digest, entries); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := Load(path, digest)
	if !ok {
		t.Fatalf("Load after Save missed, want a hit")
	}
	if diff := cmp.Diff(entries, got); diff != "" {
		t.Fatalf("Load returned different entries (-want +got):\n%s", diff)
	}
}

func TestLoadDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.cache")

	entries := map[string]overlay.Location{"a": {ArchiveID: 0, StoredName: []byte("a")}}
	digest := Digest("CP949", []ArchiveStat{{Path: "a.grf", MTime: 1, Size: 2}})
	if err := Save(path, digest, entries); err != nil {
		t.Fatalf("Save: %v", err)
	}

	otherDigest := Digest("CP949", []ArchiveStat{{Path: "a.grf", MTime: 999, Size: 2}})
	if _, ok := Load(path, otherDigest); ok {
		t.Fatalf("Load with a mismatched digest hit, want a miss")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, ok := Load(filepath.Join(t.TempDir(), "missing"), 42); ok {
		t.Fatalf("Load on a missing file hit, want a miss")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.cache")
	if err := ioutil.WriteFile(path, []byte("this is not a gob blob"), 0o644); err != nil {
		t.Fatalf("writing junk file: %v", err)
	}
	if _, ok := Load(path, 42); ok {
		t.Fatalf("Load on a corrupt file hit, want a miss")
	}
}
