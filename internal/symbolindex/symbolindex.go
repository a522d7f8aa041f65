// Package symbolindex builds the cross-package and per-package symbol
// indexes described in spec.md §4.4, by parsing the <source>.json sidecar
// files the documentation tool emits in jsondoc mode. Description text is
// run through golang.org/x/net/html's tokenizer to strip markup, the same
// package the teacher uses for HTML parsing in internal/checkupstream
// (there for link extraction, here repurposed as a tag stripper).
package symbolindex

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/xerrors"

	"github.com/distr1/pkgdir/internal/pkgmeta"
)

type pkgPair struct {
	pkg  string
	name string
}

// Index holds the two maps spec.md §3 names: jsondoc_symbols and
// jsondoc_symbols_by_pkg. Inserts publish whole PkgSymbol values under the
// index lock, so concurrent readers never observe a torn entry (spec.md
// §4.4's concurrency note).
type Index struct {
	mu           sync.RWMutex
	bySymbol     map[string]map[pkgmeta.PkgSymbol]struct{}
	bySymbolPkg  map[pkgPair]map[pkgmeta.PkgSymbol]struct{}
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		bySymbol:    make(map[string]map[pkgmeta.PkgSymbol]struct{}),
		bySymbolPkg: make(map[pkgPair]map[pkgmeta.PkgSymbol]struct{}),
	}
}

// docEntry mirrors one record of a <source>.json sidecar file. Name is the
// declared identifier (e.g. "parseJson"); jsondoc_symbols and
// jsondoc_symbols_by_pkg (spec.md §3) are keyed on it, not on Type.
type docEntry struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Code        string `json:"code"`
	Line        int    `json:"line"`
	Col         int    `json:"col"`
}

// docFile is the "object with an entries array" shape spec.md §4.4 allows
// in addition to a bare array.
type docFile struct {
	Entries []docEntry `json:"entries"`
}

// findSidecar locates the JSON sidecar for sourcePath: first next to the
// source file, then under pkgRoot/htmldocs.
func findSidecar(sourcePath, pkgRoot string) (string, error) {
	direct := sourcePath + ".json"
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}
	alt := filepath.Join(pkgRoot, "htmldocs", filepath.Base(sourcePath)+".json")
	if _, err := os.Stat(alt); err == nil {
		return alt, nil
	}
	return "", xerrors.Errorf("no symbol json found for %s next to the source or under htmldocs/", sourcePath)
}

// ParseFile parses the symbol JSON for sourcePath (a file inside pkgRoot)
// and inserts every entry into both indexes under pkg.
func (x *Index) ParseFile(pkg, sourcePath, pkgRoot string) error {
	sidecar, err := findSidecar(sourcePath, pkgRoot)
	if err != nil {
		log.Printf("symbolindex: %v, skipping", err)
		return nil
	}
	b, err := os.ReadFile(sidecar)
	if err != nil {
		return xerrors.Errorf("reading %s: %w", sidecar, err)
	}

	entries, err := parseEntries(b)
	if err != nil {
		log.Printf("symbolindex: parsing %s: %v, skipping", sidecar, err)
		return nil
	}

	rel, err := filepath.Rel(pkgRoot, sourcePath)
	if err != nil {
		rel = sourcePath
	}

	for _, e := range entries {
		sym := pkgmeta.PkgSymbol{
			Name:         e.Name,
			Kind:         e.Type,
			Description:  stripHTML(e.Description),
			Code:         e.Code,
			RelativePath: rel,
			Line:         e.Line,
			Column:       e.Col,
		}
		x.insert(pkg, sym)
	}
	return nil
}

// parseEntries accepts either a bare JSON array of entries or an object
// with an "entries" array, per spec.md §4.4.
func parseEntries(b []byte) ([]docEntry, error) {
	var arr []docEntry
	if err := json.Unmarshal(b, &arr); err == nil {
		return arr, nil
	}
	var obj docFile
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	return obj.Entries, nil
}

func (x *Index) insert(pkg string, sym pkgmeta.PkgSymbol) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.bySymbol[sym.Name] == nil {
		x.bySymbol[sym.Name] = make(map[pkgmeta.PkgSymbol]struct{})
	}
	x.bySymbol[sym.Name][sym] = struct{}{}

	pair := pkgPair{pkg: pkg, name: sym.Name}
	if x.bySymbolPkg[pair] == nil {
		x.bySymbolPkg[pair] = make(map[pkgmeta.PkgSymbol]struct{})
	}
	x.bySymbolPkg[pair][sym] = struct{}{}
}

// Search returns every symbol named name across all packages.
func (x *Index) Search(name string) []pkgmeta.PkgSymbol {
	x.mu.RLock()
	defer x.mu.RUnlock()
	set := x.bySymbol[name]
	out := make([]pkgmeta.PkgSymbol, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	return out
}

// SearchInPkg returns every symbol named name within pkg.
func (x *Index) SearchInPkg(pkg, name string) []pkgmeta.PkgSymbol {
	x.mu.RLock()
	defer x.mu.RUnlock()
	set := x.bySymbolPkg[pkgPair{pkg: pkg, name: name}]
	out := make([]pkgmeta.PkgSymbol, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	return out
}

// stripHTML removes markup from a description, keeping only the text
// content, using an html.Tokenizer rather than a regexp so malformed
// fragments don't produce garbled output.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}
	var b strings.Builder
	z := html.NewTokenizer(bytes.NewReader([]byte(s)))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}
