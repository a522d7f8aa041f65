// Package poller implements the upstream-manifest poller of spec.md §4.6:
// periodically re-fetch the upstream manifest, diff it against the local
// mirror, append newly discovered packages to the first-seen history, and
// reload ManifestStore. Grounded on cmd/autobuilder/autobuilder.go's main
// loop (its interval/webhook select) narrowed to interval-only, since
// spec.md names no webhook or SIGHUP trigger for this poller.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/distr1/pkgdir/internal/cache"
	"github.com/distr1/pkgdir/internal/logging"
	"github.com/distr1/pkgdir/internal/manifest"
	"github.com/distr1/pkgdir/internal/metrics"
	"github.com/distr1/pkgdir/internal/pkgmeta"
)

type rawEntry struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Poller periodically reconciles the local manifest mirror with upstream.
type Poller struct {
	Store             *manifest.Store
	History           *cache.History
	LocalManifestPath string
	FetchURL          string
	Interval          time.Duration
	Metrics           metrics.Sink
}

// New returns a Poller ready to Run. Interval defaults to 600s per
// spec.md §4.6.
func New(store *manifest.Store, history *cache.History, localManifestPath, fetchURL string, interval time.Duration, sink metrics.Sink) *Poller {
	if interval == 0 {
		interval = 600 * time.Second
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Poller{
		Store:             store,
		History:           history,
		LocalManifestPath: localManifestPath,
		FetchURL:          fetchURL,
		Interval:          interval,
		Metrics:           sink,
	}
}

// Run ticks forever at p.Interval until ctx is canceled. Each tick's
// failure is logged and the loop continues (spec.md §4.6/§7 "failure is
// per-tick").
func (p *Poller) Run(ctx context.Context) {
	log := logging.New("poller")
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		if err := p.Tick(ctx); err != nil {
			log.Printf("tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one fetch-diff-reload cycle.
func (p *Poller) Tick(ctx context.Context) error {
	remote, err := manifest.FetchRaw(p.FetchURL)
	if err != nil {
		return err
	}

	local, err := os.ReadFile(p.LocalManifestPath)
	identical := err == nil && bytes.Equal(local, remote)
	p.Metrics.SetGauge("pkgdir_manifest_identical", boolToFloat(identical))
	if identical {
		return nil
	}

	var entries []rawEntry
	if err := json.Unmarshal(remote, &entries); err != nil {
		return err
	}

	now := time.Now()
	seenNow := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		norm := pkgmeta.Normalize(e.Name)
		seenNow[norm] = struct{}{}
		if _, ok := p.Store.Get(norm); !ok && !p.History.Contains(norm) {
			p.History.Append(pkgmeta.PkgHistoryItem{NormalizedName: norm, FirstSeenTime: now})
		}
	}

	if err := p.History.Save(); err != nil {
		return err
	}

	if err := cache.WriteFileAtomic(p.LocalManifestPath, remote); err != nil {
		return err
	}

	if err := p.Store.Load(); err != nil {
		return err
	}

	p.logDisappeared(seenNow)
	return nil
}

// logDisappeared logs, without mutating any state, packages that remain in
// the first-seen history but are absent from the freshly-loaded manifest
// (spec.md §4.6 step 7).
func (p *Poller) logDisappeared(seenNow map[string]struct{}) {
	log := logging.New("poller")
	for _, item := range p.History.Snapshot() {
		if _, ok := seenNow[item.NormalizedName]; ok {
			continue
		}
		if _, ok := p.Store.Get(item.NormalizedName); !ok {
			log.Printf("package %q is in history but missing from the manifest", item.NormalizedName)
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
