// Package manifest loads the upstream package manifest, normalizes names,
// and maintains the tag and description-word indexes derived from it
// (spec.md §4.3). Fetching is grounded on the HTTP-fetch-with-timeout idiom
// in internal/checkupstream/check.go; compareVersions reuses
// golang.org/x/mod/semver the same way.
package manifest

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/xerrors"

	"github.com/distr1/pkgdir/internal/cache"
	"github.com/distr1/pkgdir/internal/pkgmeta"
)

// rawEntry is the schemaless shape of one upstream manifest record, parsed
// before normalization. Unknown fields are preserved in Extra so the update
// endpoint can round-trip them (SPEC_FULL.md §9 "dynamically typed manifest
// entries" design note).
type rawEntry struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	License     string   `json:"license"`
	Web         string   `json:"web"`
	Doc         string   `json:"doc,omitempty"`

	GithubOwner             string   `json:"github_owner,omitempty"`
	GithubReadme            string   `json:"github_readme,omitempty"`
	GithubLatestVersion     string   `json:"github_latest_version,omitempty"`
	GithubLatestVersionsStr []string `json:"github_latest_versions_str,omitempty"`
	GithubLastUpdateTime    int64    `json:"github_last_update_time,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// knownRawEntryFields lists every JSON key rawEntry names explicitly; any
// other top-level key in an upstream entry is preserved in Extra.
var knownRawEntryFields = map[string]bool{
	"name": true, "url": true, "tags": true, "description": true,
	"license": true, "web": true, "doc": true,
	"github_owner": true, "github_readme": true, "github_latest_version": true,
	"github_latest_versions_str": true, "github_last_update_time": true,
}

// UnmarshalJSON decodes the named fields as usual, then stashes any
// remaining top-level keys in Extra so Update can write them back unchanged.
func (r *rawEntry) UnmarshalJSON(b []byte) error {
	type alias rawEntry
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*r = rawEntry(a)

	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k := range knownRawEntryFields {
		delete(m, k)
	}
	if len(m) > 0 {
		r.Extra = m
	}
	return nil
}

// MarshalJSON encodes the named fields as usual, then merges Extra's keys
// back into the object so they survive a load/write round trip.
func (r rawEntry) MarshalJSON() ([]byte, error) {
	type alias rawEntry
	b, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return b, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		m[k] = v
	}
	return json.Marshal(m)
}

// Snapshot is an atomically-published, read-only view of the manifest and
// its derived indexes (spec.md §4.3 invariant: a successful load publishes
// all three together).
type Snapshot struct {
	ByName                    map[string]*pkgmeta.PkgManifestEntry
	PackagesByTag             map[string][]string
	PackagesByDescriptionWord map[string][]string
}

// Store owns the current manifest snapshot and the file it was loaded from.
type Store struct {
	mu       sync.Mutex
	path     string
	fetchURL string
	snapshot Snapshot
}

// New returns a Store that persists its local mirror at path and, when the
// mirror is absent, fetches it from fetchURL first (spec.md §4.3 load()).
func New(path, fetchURL string) *Store {
	return &Store{
		path:     path,
		fetchURL: fetchURL,
		snapshot: emptySnapshot(),
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{
		ByName:                    make(map[string]*pkgmeta.PkgManifestEntry),
		PackagesByTag:             make(map[string][]string),
		PackagesByDescriptionWord: make(map[string][]string),
	}
}

// Load reads the local manifest file (fetching it first if absent), parses
// it as a JSON array, skips entries missing name or tags, resolves
// normalized-name collisions by keeping the first entry seen, and rebuilds
// both derived indexes from scratch.
func (s *Store) Load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return xerrors.Errorf("reading %s: %w", s.path, err)
		}
		fetched, ferr := FetchRaw(s.fetchURL)
		if ferr != nil {
			return xerrors.Errorf("manifest %s absent, fetching: %w", s.path, ferr)
		}
		if err := cache.WriteFileAtomic(s.path, fetched); err != nil {
			return xerrors.Errorf("writing %s: %w", s.path, err)
		}
		b = fetched
	}
	return s.loadBytes(b)
}

func (s *Store) loadBytes(b []byte) error {
	var raws []rawEntry
	if err := json.Unmarshal(b, &raws); err != nil {
		return xerrors.Errorf("parsing manifest: %w", err)
	}

	byName := make(map[string]*pkgmeta.PkgManifestEntry, len(raws))
	byTag := make(map[string][]string)
	byWord := make(map[string][]string)

	for _, raw := range raws {
		if raw.Name == "" || len(raw.Tags) == 0 {
			log.Printf("manifest: skipping entry without name or tags: %+v", raw)
			continue
		}
		norm := pkgmeta.Normalize(raw.Name)
		if _, exists := byName[norm]; exists {
			log.Printf("manifest: normalized name collision on %q, keeping first entry", norm)
			continue
		}

		tags := make(map[string]struct{}, len(raw.Tags))
		for _, t := range raw.Tags {
			tags[t] = struct{}{}
			byTag[t] = append(byTag[t], norm)
		}
		for _, word := range descriptionWords(raw.Description) {
			byWord[word] = append(byWord[word], norm)
		}

		byName[norm] = &pkgmeta.PkgManifestEntry{
			Name:                    raw.Name,
			URL:                     raw.URL,
			Tags:                    tags,
			Description:             raw.Description,
			License:                 raw.License,
			Web:                     raw.Web,
			Doc:                     raw.Doc,
			GithubOwner:             raw.GithubOwner,
			GithubReadme:            raw.GithubReadme,
			GithubLatestVersion:     raw.GithubLatestVersion,
			GithubLatestVersionsStr: raw.GithubLatestVersionsStr,
			GithubLastUpdateTime:    raw.GithubLastUpdateTime,
			Extra:                   raw.Extra,
		}
	}

	s.mu.Lock()
	s.snapshot = Snapshot{ByName: byName, PackagesByTag: byTag, PackagesByDescriptionWord: byWord}
	s.mu.Unlock()
	return nil
}

// descriptionWords splits a description on spaces and commas, lowercases
// each term, and keeps only words of length >= 3 (spec.md §3).
func descriptionWords(description string) []string {
	fields := strings.FieldsFunc(description, func(r rune) bool {
		return r == ' ' || r == ','
	})
	var words []string
	for _, f := range fields {
		f = strings.ToLower(f)
		if len(f) >= 3 {
			words = append(words, f)
		}
	}
	return words
}

// Snapshot returns the current manifest+indexes as a single consistent
// value; callers never observe a tag index from one load alongside a
// manifest from another.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Get looks up a package by its already-normalized name.
func (s *Store) Get(normalizedName string) (*pkgmeta.PkgManifestEntry, bool) {
	snap := s.Snapshot()
	e, ok := snap.ByName[normalizedName]
	return e, ok
}

// ErrSignatureRejected is returned by Update when signatureOK is false.
var ErrSignatureRejected = xerrors.New("signature verification failed")

// ErrNameCollision is returned by Update when adding a new package whose
// normalized name collides with an existing one.
var ErrNameCollision = xerrors.New("normalized package name collides with an existing package")

// Update applies an externally signature-verified manifest change: it
// reloads from disk, enforces the normalized-name collision rule for new
// packages, applies the change, and writes the full sorted manifest back.
// signatureOK must already reflect the result of the (out-of-scope)
// cryptographic verifier; Update itself never verifies signatures.
func (s *Store) Update(entry pkgmeta.PkgManifestEntry, signatureOK bool) error {
	if !signatureOK {
		return ErrSignatureRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadBytesLocked(); err != nil {
		return err
	}

	norm := pkgmeta.Normalize(entry.Name)
	if existing, exists := s.snapshot.ByName[norm]; exists && existing.Name != entry.Name {
		return ErrNameCollision
	}
	s.snapshot.ByName[norm] = &entry

	return s.writeSortedLocked()
}

// loadBytesLocked re-reads the manifest file without releasing s.mu,
// rebuilding the snapshot in place; used by Update, which must hold the
// lock across reload-then-write.
func (s *Store) loadBytesLocked() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return xerrors.Errorf("reading %s: %w", s.path, err)
	}
	var raws []rawEntry
	if err := json.Unmarshal(b, &raws); err != nil {
		return xerrors.Errorf("parsing manifest: %w", err)
	}
	byName := make(map[string]*pkgmeta.PkgManifestEntry, len(raws))
	byTag := make(map[string][]string)
	byWord := make(map[string][]string)
	for _, raw := range raws {
		if raw.Name == "" || len(raw.Tags) == 0 {
			continue
		}
		norm := pkgmeta.Normalize(raw.Name)
		if _, exists := byName[norm]; exists {
			continue
		}
		tags := make(map[string]struct{}, len(raw.Tags))
		for _, t := range raw.Tags {
			tags[t] = struct{}{}
			byTag[t] = append(byTag[t], norm)
		}
		for _, word := range descriptionWords(raw.Description) {
			byWord[word] = append(byWord[word], norm)
		}
		byName[norm] = &pkgmeta.PkgManifestEntry{
			Name: raw.Name, URL: raw.URL, Tags: tags, Description: raw.Description,
			License: raw.License, Web: raw.Web, Doc: raw.Doc,
			GithubOwner: raw.GithubOwner, GithubReadme: raw.GithubReadme,
			GithubLatestVersion: raw.GithubLatestVersion, GithubLatestVersionsStr: raw.GithubLatestVersionsStr,
			GithubLastUpdateTime: raw.GithubLastUpdateTime,
			Extra:                raw.Extra,
		}
	}
	s.snapshot = Snapshot{ByName: byName, PackagesByTag: byTag, PackagesByDescriptionWord: byWord}
	return nil
}

func (s *Store) writeSortedLocked() error {
	names := make([]string, 0, len(s.snapshot.ByName))
	for n := range s.snapshot.ByName {
		names = append(names, n)
	}
	sort.Strings(names)

	raws := make([]rawEntry, 0, len(names))
	for _, n := range names {
		e := s.snapshot.ByName[n]
		tags := make([]string, 0, len(e.Tags))
		for t := range e.Tags {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		raws = append(raws, rawEntry{
			Name: e.Name, URL: e.URL, Tags: tags, Description: e.Description,
			License: e.License, Web: e.Web, Doc: e.Doc,
			GithubOwner: e.GithubOwner, GithubReadme: e.GithubReadme,
			GithubLatestVersion: e.GithubLatestVersion, GithubLatestVersionsStr: e.GithubLatestVersionsStr,
			GithubLastUpdateTime: e.GithubLastUpdateTime,
			Extra:                e.Extra,
		})
	}
	b, err := json.MarshalIndent(raws, "", "  ")
	if err != nil {
		return xerrors.Errorf("marshaling manifest: %w", err)
	}
	return cache.WriteFileAtomic(s.path, b)
}

// FetchRaw retrieves the upstream manifest's raw bytes.
func FetchRaw(url string) ([]byte, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, xerrors.Errorf("building request for %s: %w", url, err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("%s: unexpected HTTP status %s", url, resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Errorf("reading body of %s: %w", url, err)
	}
	return b, nil
}

// ResolveVersion returns the manifest's github_latest_version enrichment
// field for a package, or "?" when entry is nil or the field is empty, per
// spec.md §4.5 stage 3 ("version capture").
func ResolveVersion(entry *pkgmeta.PkgManifestEntry) string {
	if entry == nil || entry.GithubLatestVersion == "" {
		return "?"
	}
	return entry.GithubLatestVersion
}

// compareVersions returns -1, 0 or +1 as a is older than, equal to or newer
// than b, using semver when both look like semantic versions (a missing "v"
// prefix is added) and plain string comparison otherwise. Nothing in the
// repository calls it.
func compareVersions(a, b string) int {
	av, bv := maybeV(a), maybeV(b)
	if semver.IsValid(av) && semver.IsValid(bv) {
		return semver.Compare(av, bv)
	}
	return strings.Compare(a, b)
}

func maybeV(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// formatEpoch renders a unix timestamp as a decimal string of seconds.
// Nothing in the repository calls it; the RSS feed formats its dates itself.
func formatEpoch(epoch int64) string {
	return strconv.FormatInt(epoch, 10)
}
