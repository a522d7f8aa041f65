// Package ghenrich fetches per-package GitHub metadata (readme, latest tags,
// last-update time) used to fill out PkgManifestEntry's enrichment fields
// (spec.md §4.9). Grounded on cmd/autobuilder/autobuilder.go's run(), which
// builds the same oauth2.StaticTokenSource/github.NewClient pair but calls
// Repositories.ListCommits; here the client instead calls GetReadme/
// ListTags/Get, since enrichment needs release and documentation state, not
// a commit queue.
package ghenrich

import (
	"context"
	"strings"
	"time"

	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/distr1/pkgdir/internal/manifest"
	"github.com/distr1/pkgdir/internal/pkgmeta"
)

// Result holds everything enrichment can add to a manifest entry.
type Result struct {
	Readme         string
	LatestVersion  string
	LatestVersions []string
	LastUpdateTime int64
}

// Enricher fetches Result values for GitHub-hosted packages, caching them
// for TTL so a busy search page does not hammer the GitHub API.
type Enricher struct {
	client *github.Client
	ttl    time.Duration

	cache map[string]cacheEntry
}

type cacheEntry struct {
	result  Result
	fetched time.Time
}

// New builds an Enricher from a personal access token. An empty token still
// works, subject to GitHub's much lower unauthenticated rate limit.
func New(ctx context.Context, accessToken string, ttl time.Duration) *Enricher {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if ttl == 0 {
		ttl = 6 * time.Hour
	}
	return &Enricher{
		client: github.NewClient(httpClient),
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// ownerRepo splits a "https://github.com/owner/repo" web URL, per
// autobuilder.go's identical TrimPrefix/Split idiom.
func ownerRepo(webURL string) (owner, repo string, ok bool) {
	if !strings.HasPrefix(webURL, "https://github.com/") {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(webURL, "https://github.com/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Enrich returns cached enrichment data for entry.Web if younger than ttl,
// otherwise fetches fresh data from GitHub. Entries whose Web field is not a
// github.com URL are skipped (ok is false, err is nil).
func (e *Enricher) Enrich(ctx context.Context, entry *pkgmeta.PkgManifestEntry) (Result, bool, error) {
	owner, repo, ok := ownerRepo(entry.Web)
	if !ok {
		return Result{}, false, nil
	}

	key := owner + "/" + repo
	if cached, ok := e.cache[key]; ok && time.Since(cached.fetched) < e.ttl {
		return cached.result, true, nil
	}

	var result Result

	readme, _, err := e.client.Repositories.GetReadme(ctx, owner, repo, nil)
	if err != nil {
		return Result{}, true, xerrors.Errorf("fetching readme for %s/%s: %w", owner, repo, err)
	}
	content, err := readme.GetContent()
	if err != nil {
		return Result{}, true, xerrors.Errorf("decoding readme for %s/%s: %w", owner, repo, err)
	}
	result.Readme = content

	tags, _, err := e.client.Repositories.ListTags(ctx, owner, repo, &github.ListOptions{PerPage: 10})
	if err != nil {
		return Result{}, true, xerrors.Errorf("listing tags for %s/%s: %w", owner, repo, err)
	}
	for _, t := range tags {
		result.LatestVersions = append(result.LatestVersions, t.GetName())
	}
	if len(result.LatestVersions) > 0 {
		result.LatestVersion = result.LatestVersions[0]
	}

	repoInfo, _, err := e.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return Result{}, true, xerrors.Errorf("fetching repo metadata for %s/%s: %w", owner, repo, err)
	}
	if pushedAt := repoInfo.GetPushedAt(); !pushedAt.IsZero() {
		result.LastUpdateTime = pushedAt.Unix()
	}

	e.cache[key] = cacheEntry{result: result, fetched: time.Now()}
	return result, true, nil
}

// ApplyTo copies a Result into the mutable fields of entry that downstream
// manifest.Store.Update round-trips back to disk.
func ApplyTo(entry *pkgmeta.PkgManifestEntry, r Result) {
	entry.GithubReadme = r.Readme
	entry.GithubLatestVersion = r.LatestVersion
	entry.GithubLatestVersionsStr = r.LatestVersions
	entry.GithubLastUpdateTime = r.LastUpdateTime
}

// RefreshAll walks every manifest entry with a github.com Web URL, enriches
// it, and persists changes through store.Update. Per-entry failures are
// collected but do not stop the sweep (spec.md §4.9 "best effort").
func RefreshAll(ctx context.Context, e *Enricher, store *manifest.Store) []error {
	snap := store.Snapshot()
	var errs []error
	for _, entry := range snap.ByName {
		result, ok, err := e.Enrich(ctx, entry)
		if err != nil {
			errs = append(errs, xerrors.Errorf("%s: %w", entry.Name, err))
			continue
		}
		if !ok {
			continue
		}
		updated := *entry
		ApplyTo(&updated, result)
		if err := store.Update(updated, true); err != nil {
			errs = append(errs, xerrors.Errorf("%s: persisting enrichment: %w", entry.Name, err))
		}
	}
	return errs
}
