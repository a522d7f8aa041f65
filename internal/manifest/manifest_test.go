package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/pkgdir/internal/pkgmeta"
)

func writeManifest(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "packages.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing manifest fixture: %v", err)
	}
	return path
}

func TestLoadSkipsEntriesMissingNameOrTags(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `[
		{"name":"Foo","tags":["net"],"description":"a demo package","url":"https://example.com/foo"},
		{"tags":["net"]},
		{"name":"NoTags"}
	]`)
	s := New(path, "")
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.ByName) != 1 {
		t.Fatalf("len(ByName) = %d, want 1 (only Foo should survive)", len(snap.ByName))
	}
	if _, ok := snap.ByName["foo"]; !ok {
		t.Errorf("expected normalized key %q in ByName", "foo")
	}
}

func TestLoadNormalizedNameCollisionKeepsFirst(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `[
		{"name":"Foo_Bar","tags":["a"],"description":"first"},
		{"name":"FOOBAR","tags":["b"],"description":"second"}
	]`)
	s := New(path, "")
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.ByName) != 1 {
		t.Fatalf("len(ByName) = %d, want 1", len(snap.ByName))
	}
	got := snap.ByName["foobar"]
	if got.Name != "Foo_Bar" {
		t.Errorf("Name = %q, want the first-seen raw name %q to win", got.Name, "Foo_Bar")
	}
}

func TestLoadBuildsTagIndexConsistentlyWithManifest(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `[
		{"name":"Foo","tags":["net","crypto"],"description":"demo"},
		{"name":"Bar","tags":["net"],"description":"another demo"}
	]`)
	s := New(path, "")
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := s.Snapshot()
	for _, e := range snap.ByName {
		norm := func() string {
			for n, v := range snap.ByName {
				if v == e {
					return n
				}
			}
			return ""
		}()
		for tag := range e.Tags {
			found := false
			for _, n := range snap.PackagesByTag[tag] {
				if n == norm {
					found = true
				}
			}
			if !found {
				t.Errorf("package %q has tag %q but is missing from PackagesByTag[%q]", norm, tag, tag)
			}
		}
	}
}

func TestLoadBuildsDescriptionWordIndex(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `[
		{"name":"Foo","tags":["net"],"description":"a fast, reliable networking library"}
	]`)
	s := New(path, "")
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := s.Snapshot()
	for _, word := range []string{"fast", "reliable", "networking", "library"} {
		if names := snap.PackagesByDescriptionWord[word]; len(names) != 1 || names[0] != "foo" {
			t.Errorf("PackagesByDescriptionWord[%q] = %v, want [\"foo\"]", word, names)
		}
	}
	if _, ok := snap.PackagesByDescriptionWord["a"]; ok {
		t.Errorf("words shorter than 3 characters should be excluded, got an entry for %q", "a")
	}
}

func TestUpdateRejectsUnsignedChange(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `[{"name":"Foo","tags":["net"],"description":"demo"}]`)
	s := New(path, "")
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	err := s.Update(pkgmeta.PkgManifestEntry{Name: "Baz", Tags: map[string]struct{}{"x": {}}}, false)
	if err != ErrSignatureRejected {
		t.Fatalf("Update with signatureOK=false returned %v, want ErrSignatureRejected", err)
	}
	if _, ok := s.Get("baz"); ok {
		t.Errorf("rejected update must not have been applied")
	}
}

func TestUpdateRejectsNormalizedNameCollision(t *testing.T) {
	// "Foo_Bar" and "foobar" both normalize to "foobar" (Normalize only
	// lowercases and strips underscores; it leaves dashes alone, per
	// pkgmeta.TestNormalize's "already-normal" case).
	path := writeManifest(t, t.TempDir(), `[{"name":"Foo_Bar","tags":["net"],"description":"demo"}]`)
	s := New(path, "")
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	err := s.Update(pkgmeta.PkgManifestEntry{Name: "foobar", Tags: map[string]struct{}{"x": {}}}, true)
	if err != ErrNameCollision {
		t.Fatalf("Update(%q) = %v, want ErrNameCollision against existing %q", "foobar", err, "Foo_Bar")
	}
}

func TestUpdateAcceptsNewPackage(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `[{"name":"Foo","tags":["net"],"description":"demo"}]`)
	s := New(path, "")
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	err := s.Update(pkgmeta.PkgManifestEntry{Name: "Bar", Tags: map[string]struct{}{"x": {}}}, true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok := s.Get("bar"); !ok {
		t.Errorf("expected new package %q to be present after a signed update", "bar")
	}
}
