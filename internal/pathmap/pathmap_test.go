package pathmap

import (
	"io/ioutil"
	"os"
	"testing"
)

func writeTempMapping(t *testing.T, content string) string {
	t.Helper()
	f, err := ioutil.TempFile("", "pathmap-*.json")
	if err != nil {
		t.Fatalf("creating temp mapping file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp mapping file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing temp mapping file: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoadNestedPathsDocument(t *testing.T) {
	path := writeTempMapping(t, `{"paths": {"data/Logo.bmp": "data/À¯Logo.bmp"}}`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, ok := m.Resolve("DATA/Logo.bmp")
	if !ok {
		t.Fatalf("Resolve(DATA/Logo.bmp) missed, want a hit")
	}
	if v != "data/À¯Logo.bmp" {
		t.Errorf("Resolve(DATA/Logo.bmp) = %q, want the mapped value", v)
	}
}

func TestLoadFlatDocument(t *testing.T) {
	path := writeTempMapping(t, `{"data/a.bmp": "data/A.BMP"}`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, ok := m.Resolve("data/a.bmp"); !ok || v != "data/A.BMP" {
		t.Fatalf("Resolve(data/a.bmp) = %q, %v, want data/A.BMP, true", v, ok)
	}
}

func TestResolveMiss(t *testing.T) {
	path := writeTempMapping(t, `{"paths": {}}`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := m.Resolve("nope"); ok {
		t.Fatalf("Resolve(nope) hit, want a miss")
	}
	_, hits, misses := m.Stats()
	if hits != 0 || misses != 1 {
		t.Fatalf("Stats() hits=%d misses=%d, want 0, 1", hits, misses)
	}
}

func TestLoadInvalidDocument(t *testing.T) {
	path := writeTempMapping(t, `not json`)
	if _, err := Load(path); err == nil {
		t.Fatalf("Load on invalid JSON succeeded, want an error")
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		`Data\Texture\Foo.BMP`: "data/texture/foo.bmp",
		"/Data/Texture.bmp":    "data/texture.bmp",
		"already/normal.txt":   "already/normal.txt",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMojibakeRoundTrip(t *testing.T) {
	korean := "유저인터페이스"
	mojibake, err := EncodeToMojibake(korean)
	if err != nil {
		t.Fatalf("EncodeToMojibake: %v", err)
	}
	got, err := DecodeMojibake(mojibake)
	if err != nil {
		t.Fatalf("DecodeMojibake: %v", err)
	}
	if got != korean {
		t.Fatalf("DecodeMojibake(EncodeToMojibake(%q)) = %q, want original", korean, got)
	}
}

func TestDecodeMojibakeRejectsWideCodePoints(t *testing.T) {
	if _, err := DecodeMojibake("ሴ"); err == nil {
		t.Fatalf("DecodeMojibake on a non-Latin-1 code point succeeded, want an error")
	}
}

func TestIsValidUTF8(t *testing.T) {
	if !IsValidUTF8([]byte("hello")) {
		t.Errorf("IsValidUTF8(hello) = false, want true")
	}
	if IsValidUTF8([]byte{0xc0, 0xaf}) {
		t.Errorf("IsValidUTF8 on an overlong-encoded sequence = true, want false")
	}
}
