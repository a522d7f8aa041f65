// Package orchestrator implements the per-package build pipeline described
// in spec.md §4.5: install -> html-doc -> symbol-doc, a global one-at-a-time
// concurrency cap, and the persisted/ring-buffered history around it.
//
// It is grounded on cmd/autobuilder/autobuilder.go's per-commit build loop:
// that file's runMu single-build lock becomes the "building" set's cap of
// one; its stamp-file skip check becomes the expire_time admission rule;
// its flat step table becomes the three pipeline stages below.
package orchestrator

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/distr1/pkgdir/internal/cache"
	"github.com/distr1/pkgdir/internal/logging"
	"github.com/distr1/pkgdir/internal/manifest"
	"github.com/distr1/pkgdir/internal/metrics"
	"github.com/distr1/pkgdir/internal/pkgmeta"
	"github.com/distr1/pkgdir/internal/procrun"
	"github.com/distr1/pkgdir/internal/symbolindex"
)

// ErrPackageNotFound is returned by Request for a name absent from the
// manifest; no metadata is created (spec.md §7).
var ErrPackageNotFound = xerrors.New("package not found in manifest")

// Config holds the orchestrator's fixed parameters.
type Config struct {
	WorkspaceRoot   string
	InstallerBinary string
	DocToolBinary   string
	// SourceExtension is the ecosystem's source-file suffix (e.g. ".nim");
	// files with this extension are the unit the html-doc/symbol-doc stages
	// iterate over.
	SourceExtension string

	BuildTimeout time.Duration // install subprocess cap, default 240s
	DocTimeout   time.Duration // per-file doc/symbol-doc subprocess cap, default 10s
	BuildExpiry  time.Duration // default 240min
}

func (c Config) withDefaults() Config {
	if c.BuildTimeout == 0 {
		c.BuildTimeout = 240 * time.Second
	}
	if c.DocTimeout == 0 {
		c.DocTimeout = 10 * time.Second
	}
	if c.BuildExpiry == 0 {
		c.BuildExpiry = 240 * time.Minute
	}
	if c.SourceExtension == "" {
		c.SourceExtension = ".nim"
	}
	return c
}

// Orchestrator owns the per-package state machine. All of waiting,
// building, and pkgsDocFiles are guarded by one mutex so admission
// decisions observe them as a single atomic snapshot (spec.md §5).
type Orchestrator struct {
	cfg Config

	manifestStore *manifest.Store
	symbols       *symbolindex.Index
	runner        procrun.Runner
	metricsSink   metrics.Sink
	logger        *log.Logger

	mu           sync.Mutex
	waiting      map[string]struct{}
	building     map[string]struct{}
	pkgsDocFiles map[string]*pkgmeta.PkgDocMetadata
	buildHistory *ring
}

// New constructs an Orchestrator. Callers normally populate pkgsDocFiles
// beforehand via the directory scanner and pass it in so a restart does not
// lose in-flight state.
func New(cfg Config, manifestStore *manifest.Store, symbols *symbolindex.Index, runner procrun.Runner, sink metrics.Sink, scanned map[string]*pkgmeta.PkgDocMetadata) *Orchestrator {
	if sink == nil {
		sink = metrics.Noop{}
	}
	if scanned == nil {
		scanned = make(map[string]*pkgmeta.PkgDocMetadata)
	}
	return &Orchestrator{
		cfg:           cfg.withDefaults(),
		manifestStore: manifestStore,
		symbols:       symbols,
		runner:        runner,
		metricsSink:   sink,
		logger:        logging.New("orchestrator"),
		waiting:       make(map[string]struct{}),
		building:      make(map[string]struct{}),
		pkgsDocFiles:  scanned,
		buildHistory:  newRing(),
	}
}

// Snapshot describes current orchestrator state for QueryService / HTTP
// status handlers.
type Snapshot struct {
	Waiting      map[string]struct{}
	Building     map[string]struct{}
	PkgsDocFiles map[string]pkgmeta.PkgDocMetadata
	History      []pkgmeta.BuildHistoryItem
}

// Snapshot returns a point-in-time copy of all orchestrator-owned state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	waiting := make(map[string]struct{}, len(o.waiting))
	for k := range o.waiting {
		waiting[k] = struct{}{}
	}
	building := make(map[string]struct{}, len(o.building))
	for k := range o.building {
		building[k] = struct{}{}
	}
	files := make(map[string]pkgmeta.PkgDocMetadata, len(o.pkgsDocFiles))
	for k, v := range o.pkgsDocFiles {
		files[k] = *v
	}
	return Snapshot{
		Waiting:      waiting,
		Building:     building,
		PkgsDocFiles: files,
		History:      o.buildHistory.snapshot(),
	}
}

// Request ensures that, eventually, the package's build reflects an attempt
// no older than BuildExpiry. It returns immediately; progress is observable
// through Snapshot or WaitCompletion. See spec.md §4.5 admission rules.
func (o *Orchestrator) Request(ctx context.Context, name string, force bool) error {
	norm := pkgmeta.Normalize(name)
	if _, ok := o.manifestStore.Get(norm); !ok {
		return ErrPackageNotFound
	}

	o.mu.Lock()
	existing, hasMeta := o.pkgsDocFiles[norm]
	_, isWaiting := o.waiting[norm]
	_, isBuilding := o.building[norm]
	if hasMeta && (isWaiting || isBuilding) {
		// Rule 1: a build is already in flight, no-op.
		o.mu.Unlock()
		return nil
	}
	if hasMeta && !force && existing.ExpireTime.After(time.Now()) {
		// Rule 2: cached build is still fresh.
		o.mu.Unlock()
		return nil
	}

	meta := existing
	if meta == nil {
		meta = &pkgmeta.PkgDocMetadata{}
		o.pkgsDocFiles[norm] = meta
	}
	meta.BuildStatus = pkgmeta.StatusWaiting
	meta.DocBuildStatus = pkgmeta.StatusWaiting
	o.waiting[norm] = struct{}{}
	o.mu.Unlock()

	if force && hasMeta {
		o.invalidateDependents(norm)
	}

	go o.runWhenSlotFree(norm)
	return nil
}

// invalidateDependents marks, for logging/metrics purposes only, which
// other cached packages share norm's installed package root and so may
// also be stale after a forced rebuild. It never forces those packages to
// rebuild itself -- each still goes through its own Request admission
// rules -- it only orders and surfaces the fact for an operator/metrics
// consumer.
func (o *Orchestrator) invalidateDependents(norm string) {
	o.mu.Lock()
	roots := make(map[string]string, len(o.pkgsDocFiles))
	for name := range o.pkgsDocFiles {
		root, err := findPackageRoot(filepath.Join(o.cfg.WorkspaceRoot, name), name)
		if err == nil {
			roots[name] = root
		}
	}
	o.mu.Unlock()

	dependents := invalidateDependents(norm, roots)
	if len(dependents) > 0 {
		o.logger.Printf("%s: forced rebuild shares an install root with %v", norm, dependents)
		o.metricsSink.IncCounter("pkgdir_shared_root_invalidations_total", int64(len(dependents)))
	}
}

// WaitCompletion suspends until name is no longer waiting or building, or
// timeout elapses, polling at 1-second intervals per spec.md §5.
func (o *Orchestrator) WaitCompletion(ctx context.Context, name string, timeout time.Duration) error {
	if timeout == 0 {
		timeout = o.cfg.BuildTimeout
	}
	norm := pkgmeta.Normalize(name)
	deadline := time.Now().Add(timeout)
	for {
		o.mu.Lock()
		_, waiting := o.waiting[norm]
		_, building := o.building[norm]
		o.mu.Unlock()
		if !waiting && !building {
			return nil
		}
		if time.Now().After(deadline) {
			return xerrors.Errorf("wait_completion(%s): timed out after %s", norm, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// runWhenSlotFree blocks (in its own goroutine) until the single global
// build slot is free, then runs the pipeline for name.
func (o *Orchestrator) runWhenSlotFree(name string) {
	ctx := context.Background()
	for {
		o.mu.Lock()
		if len(o.building) == 0 {
			delete(o.waiting, name)
			o.building[name] = struct{}{}
			meta := o.pkgsDocFiles[name]
			now := time.Now()
			meta.BuildStatus = pkgmeta.StatusRunning
			meta.DocBuildStatus = pkgmeta.StatusRunning
			meta.BuildTime = now
			meta.ExpireTime = now.Add(o.cfg.BuildExpiry)
			o.mu.Unlock()
			break
		}
		o.metricsSink.SetGauge("pkgdir_waiting_count", float64(len(o.waiting)))
		o.mu.Unlock()
		time.Sleep(time.Second)
	}

	o.runPipeline(ctx, name)

	o.mu.Lock()
	delete(o.building, name)
	o.mu.Unlock()
}

func (o *Orchestrator) runPipeline(ctx context.Context, name string) {
	workspaceDir := o.cfg.WorkspaceRoot
	pkgWorkdir := filepath.Join(workspaceDir, name)
	if err := os.MkdirAll(pkgWorkdir, 0o755); err != nil {
		o.finishFailed(name, xerrors.Errorf("creating workspace: %w", err).Error())
		return
	}

	meta := o.getMeta(name)

	// Stage 1: install.
	installRes, err := o.runner.Run(ctx, o.cfg.InstallerBinary,
		[]string{"install", name, "--verbose", "--nimbleDir=" + pkgWorkdir, "-y", "--debug"},
		pkgWorkdir, o.cfg.BuildTimeout)
	if err != nil {
		o.finishFailed(name, xerrors.Errorf("install: %w", err).Error())
		return
	}
	meta.BuildOutput = string(installRes.Output)
	switch installRes.ExitCode {
	case 0:
		meta.BuildStatus = pkgmeta.StatusOK
	case procrun.TimeoutExitCode:
		meta.BuildStatus = pkgmeta.StatusTimeout
		meta.BuildOutput = "** Install test timed out after " + o.cfg.BuildTimeout.String() + " **\n" + meta.BuildOutput
	default:
		meta.BuildStatus = pkgmeta.StatusFailed
	}
	if meta.BuildStatus != pkgmeta.StatusOK {
		o.metricsSink.IncCounter("pkgdir_install_failures_total", 1)
		o.persistAndRecord(name, meta)
		return
	}

	// Stage 2: html doc.
	pkgRoot, err := findPackageRoot(pkgWorkdir, name)
	if err != nil {
		o.logger.Printf("%s: %v", name, err)
		meta.DocBuildStatus = pkgmeta.StatusFailed
		o.persistAndRecord(name, meta)
		return
	}

	sources, err := findSourceFiles(pkgRoot, o.cfg.SourceExtension)
	if err != nil {
		o.logger.Printf("%s: enumerating sources: %v", name, err)
		meta.DocBuildStatus = pkgmeta.StatusFailed
		o.persistAndRecord(name, meta)
		return
	}

	docItems, allOK := o.runHTMLDoc(ctx, pkgRoot, sources)
	meta.DocBuildOutput = docItems
	if allOK {
		meta.DocBuildStatus = pkgmeta.StatusOK
	} else {
		meta.DocBuildStatus = pkgmeta.StatusFailed
	}
	var fnames []string
	for _, item := range docItems {
		if item.Success {
			fnames = append(fnames, item.Filename)
		}
	}
	meta.Fnames = fnames
	meta.SourceExtension = o.cfg.SourceExtension
	// Open Question #3 resolved per spec.md §9: collect .idx files once,
	// after the per-file loop, instead of re-walking the root per file.
	meta.IdxFnames = collectIdxFiles(pkgRoot)

	// Stage 3: version capture.
	if entry, ok := o.manifestStore.Get(name); ok {
		meta.Version = manifest.ResolveVersion(entry)
	} else {
		meta.Version = "?"
	}

	// Stage 4: symbol doc. Failures are logged but never affect
	// doc_build_status (spec.md §4.5 stage 4).
	o.runSymbolDoc(ctx, name, pkgRoot, sources)

	o.persistAndRecord(name, meta)
}

func (o *Orchestrator) getMeta(name string) *pkgmeta.PkgDocMetadata {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pkgsDocFiles[name]
}

func (o *Orchestrator) finishFailed(name, output string) {
	meta := o.getMeta(name)
	meta.BuildStatus = pkgmeta.StatusFailed
	meta.DocBuildStatus = pkgmeta.StatusFailed
	meta.BuildOutput = output
	o.persistAndRecord(name, meta)
}

// persistAndRecord performs the terminal actions common to every pipeline
// exit: append to ring history, persist metadata to disk. Slot release
// happens in runWhenSlotFree, after this returns, so the history append
// happens-before the slot release (spec.md §5 ordering guarantee).
func (o *Orchestrator) persistAndRecord(name string, meta *pkgmeta.PkgDocMetadata) {
	o.mu.Lock()
	o.buildHistory.push(pkgmeta.BuildHistoryItem{
		NormalizedName: name,
		BuildTime:      meta.BuildTime,
		BuildStatus:    meta.BuildStatus,
		DocBuildStatus: meta.DocBuildStatus,
	})
	o.mu.Unlock()

	if err := cache.SavePkgMeta(o.cfg.WorkspaceRoot, name, *meta); err != nil {
		o.logger.Printf("%s: persisting metadata: %v", name, err)
	}
}

// runHTMLDoc runs the documentation tool (doc --index:on <file>) over every
// source file, fanned out with errgroup within this one package's pipeline
// (never across packages -- the cross-package cap of one remains the
// building set). Filename/SourcePath are computed relative to pkgRoot, not
// basenames, so a restart can reconstruct the original source path for a
// package whose doc root has subdirectories (spec.md §3 "fnames").
func (o *Orchestrator) runHTMLDoc(ctx context.Context, pkgRoot string, sources []string) ([]pkgmeta.DocBuildOutItem, bool) {
	items := make([]pkgmeta.DocBuildOutItem, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			res, err := o.runner.Run(ctx, o.cfg.DocToolBinary, []string{"doc", "--index:on", src}, filepath.Dir(src), o.cfg.DocTimeout)
			success := err == nil && res.ExitCode == 0
			rel, relErr := filepath.Rel(pkgRoot, src)
			if relErr != nil {
				rel = filepath.Base(src)
			}
			items[i] = pkgmeta.DocBuildOutItem{
				Success:     success,
				Filename:    strings.TrimSuffix(rel, o.cfg.SourceExtension) + ".html",
				SourcePath:  rel,
				Description: "",
				Output:      string(res.Output),
			}
			return nil
		})
	}
	g.Wait()

	allOK := true
	for _, item := range items {
		if !item.Success {
			allOK = false
			break
		}
	}
	return items, allOK
}

// runSymbolDoc runs the documentation tool in jsondoc mode over every
// source file and feeds successes into the symbol index. Failures are
// logged only.
func (o *Orchestrator) runSymbolDoc(ctx context.Context, pkg, pkgRoot string, sources []string) {
	var g errgroup.Group
	for _, src := range sources {
		src := src
		g.Go(func() error {
			res, err := o.runner.Run(ctx, o.cfg.DocToolBinary, []string{"jsondoc", src}, filepath.Dir(src), o.cfg.DocTimeout)
			if err != nil || res.ExitCode != 0 {
				o.logger.Printf("%s: jsondoc %s failed: %v", pkg, src, err)
				return nil
			}
			if err := o.symbols.ParseFile(pkg, src, pkgRoot); err != nil {
				o.logger.Printf("%s: parsing symbols for %s: %v", pkg, src, err)
			}
			return nil
		})
	}
	g.Wait()
}

// findPackageRoot scans workspaceDir/pkgs/ for the first directory whose
// leading '-'-delimited token, normalized, equals name (spec.md §4.5 stage
// 2 / §6 filesystem layout).
func findPackageRoot(pkgWorkdir, name string) (string, error) {
	pkgsDir := filepath.Join(pkgWorkdir, "pkgs")
	entries, err := os.ReadDir(pkgsDir)
	if err != nil {
		return "", xerrors.Errorf("reading %s: %w", pkgsDir, err)
	}
	norm := pkgmeta.Normalize(name)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		leading := strings.SplitN(e.Name(), "-", 2)[0]
		if pkgmeta.Normalize(leading) == norm {
			return filepath.Join(pkgsDir, e.Name()), nil
		}
	}
	return "", xerrors.Errorf("no installed package root found under %s matching %q", pkgsDir, name)
}

// findSourceFiles walks pkgRoot for files with the given extension.
func findSourceFiles(pkgRoot, ext string) ([]string, error) {
	var out []string
	err := filepath.Walk(pkgRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ext) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// collectIdxFiles walks pkgRoot once for ".idx" files, per the Open
// Question #3 fix noted in DESIGN.md (the naive implementation re-walks
// per source file, producing duplicates).
func collectIdxFiles(pkgRoot string) []string {
	var out []string
	filepath.Walk(pkgRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && strings.HasSuffix(path, ".idx") {
			out = append(out, path)
		}
		return nil
	})
	return out
}
