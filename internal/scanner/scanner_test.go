package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/pkgdir/internal/cache"
	"github.com/distr1/pkgdir/internal/pkgmeta"
)

func TestScanRehydratesPersistedMetadata(t *testing.T) {
	workspace := t.TempDir()
	if err := cache.SavePkgMeta(workspace, "foo", pkgmeta.PkgDocMetadata{
		BuildStatus: pkgmeta.StatusOK,
		Version:     "1.2.3",
	}); err != nil {
		t.Fatalf("SavePkgMeta: %v", err)
	}

	got, err := Scan(workspace, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	meta, ok := got["foo"]
	if !ok {
		t.Fatalf("Scan did not rehydrate package %q", "foo")
	}
	if meta.Version != "1.2.3" {
		t.Errorf("Version = %q, want %q", meta.Version, "1.2.3")
	}
}

func TestScanSkipsUnparseableMetadataWithoutFailing(t *testing.T) {
	workspace := t.TempDir()
	path := cache.PkgMetaPath(workspace, "bad")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("preparing fixture dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("writing malformed fixture: %v", err)
	}

	got, err := Scan(workspace, nil)
	if err != nil {
		t.Fatalf("Scan should not fail on one bad package: %v", err)
	}
	if _, ok := got["bad"]; ok {
		t.Errorf("expected the unparseable package to be skipped")
	}
}

func TestScanEmptyWorkspaceReturnsNoError(t *testing.T) {
	if _, err := Scan(t.TempDir(), nil); err != nil {
		t.Fatalf("Scan of an empty workspace: %v", err)
	}
}
