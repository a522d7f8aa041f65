// Command pkgdir-server is the single entrypoint of the package-directory
// service: it loads the manifest, rehydrates persisted build metadata,
// starts the upstream poller and the HTTP API, and runs until interrupted.
// It replaces the teacher's two separate binaries, cmd/autobuilder (the
// build loop) and cmd/distri-repobrowser (the HTTP frontend), grounded on
// autobuilder.go's main()/InterruptibleContext wiring style.
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/distr1/pkgdir/internal/cache"
	"github.com/distr1/pkgdir/internal/config"
	"github.com/distr1/pkgdir/internal/ghenrich"
	"github.com/distr1/pkgdir/internal/httpapi"
	"github.com/distr1/pkgdir/internal/manifest"
	"github.com/distr1/pkgdir/internal/orchestrator"
	"github.com/distr1/pkgdir/internal/pkgmeta"
	"github.com/distr1/pkgdir/internal/poller"
	"github.com/distr1/pkgdir/internal/procrun"
	"github.com/distr1/pkgdir/internal/query"
	"github.com/distr1/pkgdir/internal/scanner"
	"github.com/distr1/pkgdir/internal/symbolindex"
	"github.com/distr1/pkgdir/internal/watchdog"
)

func main() {
	cfg := config.Parse()
	ctx, cancel := watchdog.InterruptibleContext()
	defer cancel()

	notifier, err := watchdog.NewNotifier()
	if err != nil {
		log.Printf("connecting to NOTIFY_SOCKET: %v", err)
	}

	manifestStore := manifest.New(cfg.LocalManifestPath, cfg.ManifestFetchURL)
	if err := manifestStore.Load(); err != nil {
		log.Fatalf("loading manifest: %v", err)
	}

	symbols := symbolindex.New()
	scanned, err := scanner.Scan(cfg.WorkspaceRoot, symbols)
	if err != nil {
		log.Fatalf("scanning workspace: %v", err)
	}

	history, err := cache.LoadHistory(".cache.json")
	if err != nil {
		log.Fatalf("loading first-seen history: %v", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		WorkspaceRoot:   cfg.WorkspaceRoot,
		InstallerBinary: cfg.InstallerBinary,
		DocToolBinary:   cfg.DocToolBinary,
		SourceExtension: cfg.SourceExtension,
		BuildTimeout:    cfg.BuildTimeout,
		DocTimeout:      cfg.DocTimeout,
		BuildExpiry:     cfg.BuildExpiry,
	}, manifestStore, symbols, procrun.Exec{}, nil, scanned)

	p := poller.New(manifestStore, history, cfg.LocalManifestPath, cfg.ManifestFetchURL, cfg.PollInterval, nil)
	go p.Run(ctx)

	var enricher *ghenrich.Enricher
	if cfg.GithubAccessToken != "" {
		enricher = ghenrich.New(ctx, cfg.GithubAccessToken, cfg.EnrichmentTTL)
	}

	srv := &httpapi.Server{
		WorkspaceRoot:     cfg.WorkspaceRoot,
		LocalManifestPath: cfg.LocalManifestPath,
		PublicBaseURL:     cfg.PublicBaseURL,
		Manifest:          manifestStore,
		Orchestrator:      orch,
		Symbols:           symbols,
		Views:             query.NewViewCounter(),
		History:           history,
		Enricher:          enricher,
		VerifySignature:   func(r *http.Request, entry pkgmeta.PkgManifestEntry) bool { return false },
	}

	httpServer := &http.Server{Addr: cfg.Listen, Handler: srv.Mux()}
	watchdog.RegisterAtExit(func() error {
		if notifier != nil {
			notifier.Stopping()
		}
		return httpServer.Shutdown(context.Background())
	})
	watchdog.RegisterAtExit(history.Save)

	go func() {
		log.Printf("listening on %s", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server: %v", err)
		}
	}()

	if notifier != nil {
		notifier.Ready()
		go notifier.RunWatchdog(ctx, cfg.WatchdogPing)
	}

	<-ctx.Done()
	log.Printf("shutting down")
	if err := watchdog.RunAtExit(); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
