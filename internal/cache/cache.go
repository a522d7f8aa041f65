// Package cache implements the two on-disk artifacts described in
// spec.md §4.2: the process-wide first-seen history (.cache.json) and each
// package's build metadata (<workspace>/<package>/nimpkgdir.json). Both are
// self-describing JSON, both atomically replaced on every save using
// github.com/google/renameio, the same write-to-temp-then-rename idiom the
// teacher uses for its squashfs image outputs in internal/build/build.go.
package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/distr1/pkgdir/internal/pkgmeta"
)

const metaFilename = "nimpkgdir.json"

// History is the first-seen history, backed by a single JSON file at the
// process working directory.
type History struct {
	mu   sync.Mutex
	path string
	// Items is append-only and chronologically ordered; newest last.
	Items []pkgmeta.PkgHistoryItem
}

// LoadHistory reads path, or starts an empty history and saves it
// immediately if the file is absent or unparseable (spec.md §4.2: "on load
// failure, initialize an empty history and save immediately").
func LoadHistory(path string) (*History, error) {
	h := &History{path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("cache: loading %s: %v, starting fresh", path, err)
		}
		return h, h.Save()
	}
	if err := json.Unmarshal(b, &h.Items); err != nil {
		log.Printf("cache: parsing %s: %v, starting fresh", path, err)
		h.Items = nil
		return h, h.Save()
	}
	return h, nil
}

// Save atomically replaces the history file with the current in-memory
// contents.
func (h *History) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return writeJSONAtomic(h.path, h.Items)
}

// Append records name as first seen at seenTime, unless it is already
// present (spec.md's invariant: a name's first_seen_time is recorded
// exactly once).
func (h *History) Append(item pkgmeta.PkgHistoryItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.Items {
		if existing.NormalizedName == item.NormalizedName {
			return
		}
	}
	h.Items = append(h.Items, item)
}

// Snapshot returns a copy of the history slice, safe to range over without
// holding any lock.
func (h *History) Snapshot() []pkgmeta.PkgHistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]pkgmeta.PkgHistoryItem, len(h.Items))
	copy(out, h.Items)
	return out
}

// Contains reports whether name (already normalized) is recorded.
func (h *History) Contains(normalizedName string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, item := range h.Items {
		if item.NormalizedName == normalizedName {
			return true
		}
	}
	return false
}

func writeJSONAtomic(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return xerrors.Errorf("marshaling %s: %w", path, err)
	}
	return WriteFileAtomic(path, b)
}

// WriteFileAtomic replaces path's contents with b using renameio's
// write-to-temp-then-rename idiom, so a crash or concurrent reader never
// observes a torn write. Exported so other packages persisting a local
// mirror of the same file (the manifest store, the poller) share this
// instead of falling back to os.WriteFile.
func WriteFileAtomic(path string, b []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Errorf("creating %s: %w", dir, err)
		}
	}
	f, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("creating temp file for %s: %w", path, err)
	}
	defer f.Cleanup()
	if _, err := f.Write(b); err != nil {
		return xerrors.Errorf("writing %s: %w", path, err)
	}
	return f.CloseAtomicallyReplace()
}

// normalize prepares a PkgDocMetadata for persistence: version falls back
// to "?" and is stripped of null bytes, build_output is escaped so no
// non-printable byte reaches the JSON encoder raw (spec.md §4.2).
func normalize(m pkgmeta.PkgDocMetadata) pkgmeta.PkgDocMetadata {
	v := strings.ReplaceAll(m.Version, "\x00", "")
	if v == "" {
		v = "?"
	}
	m.Version = v
	m.BuildOutput = escapeNonPrintable(m.BuildOutput)
	return m
}

func escapeNonPrintable(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteString(strconv.QuoteRune(r))
	}
	return b.String()
}

// SavePkgMeta persists pkg's metadata under workspaceDir/pkg/nimpkgdir.json.
func SavePkgMeta(workspaceDir, pkg string, meta pkgmeta.PkgDocMetadata) error {
	path := filepath.Join(workspaceDir, pkg, metaFilename)
	return writeJSONAtomic(path, normalize(meta))
}

// LoadPkgMeta reads a persisted PkgDocMetadata. On parse failure it returns
// the error so the caller (DirectoryScanner) can log and skip, per
// spec.md §4.2.
func LoadPkgMeta(workspaceDir, pkg string) (pkgmeta.PkgDocMetadata, error) {
	path := filepath.Join(workspaceDir, pkg, metaFilename)
	b, err := os.ReadFile(path)
	if err != nil {
		return pkgmeta.PkgDocMetadata{}, err
	}
	var m pkgmeta.PkgDocMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return pkgmeta.PkgDocMetadata{}, xerrors.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// PkgMetaPath returns the path SavePkgMeta/LoadPkgMeta use for pkg, for
// callers (the directory scanner) that need to walk the workspace root.
func PkgMetaPath(workspaceDir, pkg string) string {
	return filepath.Join(workspaceDir, pkg, metaFilename)
}
