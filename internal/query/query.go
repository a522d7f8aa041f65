// Package query implements the pure read operations of spec.md §4.8: text
// search over the manifest, top-N hot packages, build-history snapshots,
// and symbol lookups. Grounded on the pure-helper style of
// internal/batch/batch.go's byFullname/byPkg lookups, generalized into
// standalone functions over an explicit snapshot argument instead of
// closing over mutable build-graph state.
package query

import (
	"sort"
	"strings"
	"sync"

	"github.com/distr1/pkgdir/internal/manifest"
	"github.com/distr1/pkgdir/internal/orchestrator"
	"github.com/distr1/pkgdir/internal/pkgmeta"
	"github.com/distr1/pkgdir/internal/symbolindex"
)

// Hit is one scored result of SearchPackages.
type Hit struct {
	Name  string
	Score int
}

// SearchPackages splits query on space and comma, lowercases each term, and
// scores every package by spec.md §4.8's weights: exact name match +5,
// substring name match +3, tag match +3, description-word match +1. Results
// are sorted by descending score.
func SearchPackages(snap manifest.Snapshot, query string) []Hit {
	terms := strings.FieldsFunc(query, func(r rune) bool { return r == ' ' || r == ',' })
	scores := make(map[string]int)

	for _, term := range terms {
		term = strings.ToLower(term)
		if term == "" {
			continue
		}
		for norm, entry := range snap.ByName {
			lowerName := strings.ToLower(entry.Name)
			if norm == term || lowerName == term {
				scores[norm] += 5
			} else if strings.Contains(lowerName, term) {
				scores[norm] += 3
			}
		}
		for _, norm := range snap.PackagesByTag[term] {
			scores[norm] += 3
		}
		for tag, names := range snap.PackagesByTag {
			if tag != term && strings.ToLower(tag) == term {
				for _, norm := range names {
					scores[norm] += 3
				}
			}
		}
		for _, norm := range snap.PackagesByDescriptionWord[term] {
			scores[norm] += 1
		}
	}

	hits := make([]Hit, 0, len(scores))
	for name, score := range scores {
		hits = append(hits, Hit{Name: name, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Name < hits[j].Name
	})
	return hits
}

// ViewCounter tracks most_queried_packages (spec.md §3): a monotonically
// increasing per-package view counter.
type ViewCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewViewCounter returns an empty counter.
func NewViewCounter() *ViewCounter {
	return &ViewCounter{counts: make(map[string]int64)}
}

// Increment records one more view of the given normalized package name.
func (v *ViewCounter) Increment(normalizedName string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[normalizedName]++
}

// TopN returns the n names with the highest view count, descending.
func (v *ViewCounter) TopN(n int) []string {
	v.mu.Lock()
	type pair struct {
		name  string
		count int64
	}
	pairs := make([]pair, 0, len(v.counts))
	for name, count := range v.counts {
		pairs = append(pairs, pair{name, count})
	}
	v.mu.Unlock()

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].name < pairs[j].name
	})
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].name
	}
	return out
}

// BuildHistorySnapshot is a copy of the orchestrator's ring buffer plus the
// current waiting/building sets (spec.md §4.8).
type BuildHistorySnapshot struct {
	History  []pkgmeta.BuildHistoryItem
	Waiting  []string
	Building []string
}

// BuildHistory reads a frozen snapshot out of the orchestrator.
func BuildHistory(o *orchestrator.Orchestrator) BuildHistorySnapshot {
	snap := o.Snapshot()
	out := BuildHistorySnapshot{History: snap.History}
	for name := range snap.Waiting {
		out.Waiting = append(out.Waiting, name)
	}
	for name := range snap.Building {
		out.Building = append(out.Building, name)
	}
	sort.Strings(out.Waiting)
	sort.Strings(out.Building)
	return out
}

// SearchSymbol is a direct index lookup, empty if absent.
func SearchSymbol(idx *symbolindex.Index, name string) []pkgmeta.PkgSymbol {
	return idx.Search(name)
}

// SearchSymbolInPkg is a direct per-package index lookup, empty if absent.
func SearchSymbolInPkg(idx *symbolindex.Index, pkg, name string) []pkgmeta.PkgSymbol {
	return idx.SearchInPkg(pkg, name)
}
