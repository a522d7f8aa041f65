// Package scanner rehydrates PkgDocMetadata and the symbol index from
// persisted per-package JSON on startup (spec.md §4.7), grounded on the
// pre-warm-on-boot goroutine in cmd/distri-repobrowser/cache.go -- here
// generalized from "warm one cached URL" to "walk every package's
// persisted metadata", and run synchronously because the orchestrator's
// admission rules need a complete picture before requests are accepted.
package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/distr1/pkgdir/internal/cache"
	"github.com/distr1/pkgdir/internal/logging"
	"github.com/distr1/pkgdir/internal/pkgmeta"
	"github.com/distr1/pkgdir/internal/symbolindex"
)

// Scan walks workspaceRoot/*/nimpkgdir.json, loading each into
// PkgDocMetadata. Parse failures are logged and skipped, per spec.md §4.7.
// If symbols is non-nil, it also reparses each package's cached per-source
// JSON sidecars to repopulate the symbol index.
func Scan(workspaceRoot string, symbols *symbolindex.Index) (map[string]*pkgmeta.PkgDocMetadata, error) {
	logger := logging.New("scanner")
	result := make(map[string]*pkgmeta.PkgDocMetadata)

	entries, err := os.ReadDir(workspaceRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pkg := e.Name()
		meta, err := cache.LoadPkgMeta(workspaceRoot, pkg)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Printf("%s: loading persisted metadata: %v, skipping", pkg, err)
			}
			continue
		}
		result[pkg] = &meta

		if symbols != nil {
			rescanSymbols(symbols, logger, workspaceRoot, pkg, meta)
		}
	}
	return result, nil
}

// rescanSymbols reconstructs each source file's real path from
// DocBuildOutput[i].SourcePath, which the orchestrator records relative to
// the installed package root, workspaceRoot/pkg/pkgs/<pkg>-<ver> (spec.md §3
// "fnames") -- exact, unlike guessing the source path back from the
// generated .html name.
func rescanSymbols(symbols *symbolindex.Index, logger interface{ Printf(string, ...interface{}) }, workspaceRoot, pkg string, meta pkgmeta.PkgDocMetadata) {
	pkgsDir := filepath.Join(workspaceRoot, pkg, "pkgs")
	entries, err := os.ReadDir(pkgsDir)
	if err != nil {
		logger.Printf("%s: reading %s: %v, not rescanning symbols", pkg, pkgsDir, err)
		return
	}
	pkgRoot := ""
	for _, e := range entries {
		if e.IsDir() && pkgmeta.Normalize(strings.SplitN(e.Name(), "-", 2)[0]) == pkgmeta.Normalize(pkg) {
			pkgRoot = filepath.Join(pkgsDir, e.Name())
			break
		}
	}
	if pkgRoot == "" {
		return
	}
	for _, item := range meta.DocBuildOutput {
		if !item.Success || item.SourcePath == "" {
			continue
		}
		sourcePath := filepath.Join(pkgRoot, item.SourcePath)
		if err := symbols.ParseFile(pkg, sourcePath, pkgRoot); err != nil {
			logger.Printf("%s: rescanning symbols for %s: %v", pkg, item.SourcePath, err)
		}
	}
}
