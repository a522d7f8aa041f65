// Package config parses the server binary's flags. Kept on the bare flag
// package deliberately: the teacher never reaches for a config/flag
// library anywhere in the corpus (autobuilder.go, distri-repobrowser's
// main) -- every binary declares its flags at package scope with
// flag.String/flag.Duration and calls flag.Parse() once in main. See
// DESIGN.md for why this ambient concern stays on the standard library.
package config

import (
	"flag"
	"time"
)

// Config holds every knob the server binary needs, gathered from flags so
// main can wire them into the component constructors.
type Config struct {
	Listen            string
	WorkspaceRoot     string
	LocalManifestPath string
	ManifestFetchURL  string
	PublicBaseURL     string
	AssetsDir         string

	InstallerBinary string
	DocToolBinary   string
	SourceExtension string

	GithubAccessToken string

	PollInterval    time.Duration
	BuildTimeout    time.Duration
	DocTimeout      time.Duration
	BuildExpiry     time.Duration
	WatchdogPing    time.Duration
	EnrichmentTTL   time.Duration
}

// Parse declares and parses every flag, returning the populated Config.
// Call once from main, after flag.CommandLine has no other registrants.
func Parse() *Config {
	cfg := &Config{}
	flag.StringVar(&cfg.Listen, "listen", "localhost:8048", "[host]:port to listen on")
	flag.StringVar(&cfg.WorkspaceRoot, "workspace", "/var/lib/pkgdir/workspace", "directory under which packages are installed and built")
	flag.StringVar(&cfg.LocalManifestPath, "manifest", "/var/lib/pkgdir/packages.json", "path to the local mirror of the upstream manifest")
	flag.StringVar(&cfg.ManifestFetchURL, "manifest_url", "", "URL to fetch the upstream manifest from when the local mirror is absent")
	flag.StringVar(&cfg.PublicBaseURL, "public_base_url", "https://pkgdir.example.org", "externally reachable base URL, used in the RSS feed")
	flag.StringVar(&cfg.AssetsDir, "assets", "assets", "directory in which to find static assets")

	flag.StringVar(&cfg.InstallerBinary, "installer", "nimble", "package installer binary invoked by the build orchestrator")
	flag.StringVar(&cfg.DocToolBinary, "doctool", "nim", "documentation tool binary invoked by the build orchestrator")
	flag.StringVar(&cfg.SourceExtension, "source_extension", ".nim", "source file suffix the doc/symbol stages iterate over")

	flag.StringVar(&cfg.GithubAccessToken, "github_access_token", "", "oauth2 GitHub access token used for enrichment")

	flag.DurationVar(&cfg.PollInterval, "poll_interval", 600*time.Second, "interval between upstream manifest polls")
	flag.DurationVar(&cfg.BuildTimeout, "build_timeout", 240*time.Second, "install subprocess timeout")
	flag.DurationVar(&cfg.DocTimeout, "doc_timeout", 10*time.Second, "per-file doc/symbol-doc subprocess timeout")
	flag.DurationVar(&cfg.BuildExpiry, "build_expiry", 240*time.Minute, "how long a completed build is considered fresh")
	flag.DurationVar(&cfg.WatchdogPing, "watchdog_interval", 0, "NOTIFY_SOCKET watchdog ping interval; 0 disables pinging")
	flag.DurationVar(&cfg.EnrichmentTTL, "enrichment_ttl", 6*time.Hour, "how long cached GitHub enrichment data is reused")

	flag.Parse()
	return cfg
}
