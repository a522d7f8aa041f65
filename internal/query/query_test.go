package query

import (
	"testing"

	"github.com/distr1/pkgdir/internal/manifest"
	"github.com/distr1/pkgdir/internal/pkgmeta"
)

func snapWith(entries map[string]*pkgmeta.PkgManifestEntry, byTag, byWord map[string][]string) manifest.Snapshot {
	return manifest.Snapshot{
		ByName:                    entries,
		PackagesByTag:             byTag,
		PackagesByDescriptionWord: byWord,
	}
}

func TestSearchPackagesExactNameOutranksSubstring(t *testing.T) {
	snap := snapWith(map[string]*pkgmeta.PkgManifestEntry{
		"foo":      {Name: "foo"},
		"foobar":   {Name: "foobar"},
		"unrelated": {Name: "unrelated"},
	}, nil, nil)

	hits := SearchPackages(snap, "foo")
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2: %+v", len(hits), hits)
	}
	if hits[0].Name != "foo" || hits[0].Score != 5 {
		t.Errorf("top hit = %+v, want exact match foo scoring 5", hits[0])
	}
	if hits[1].Name != "foobar" || hits[1].Score != 3 {
		t.Errorf("second hit = %+v, want substring match foobar scoring 3", hits[1])
	}
}

func TestSearchPackagesTagAndDescriptionWordWeights(t *testing.T) {
	snap := snapWith(
		map[string]*pkgmeta.PkgManifestEntry{"foo": {Name: "foo"}, "bar": {Name: "bar"}},
		map[string][]string{"net": {"foo"}},
		map[string][]string{"networking": {"bar"}},
	)

	hits := SearchPackages(snap, "net")
	got := map[string]int{}
	for _, h := range hits {
		got[h.Name] = h.Score
	}
	if got["foo"] != 3 {
		t.Errorf("tag match score for foo = %d, want 3", got["foo"])
	}

	hits = SearchPackages(snap, "networking")
	if len(hits) != 1 || hits[0].Name != "bar" || hits[0].Score != 1 {
		t.Errorf("SearchPackages(networking) = %+v, want bar scoring 1 (description word)", hits)
	}
}

func TestSearchPackagesMultipleTermsAccumulate(t *testing.T) {
	snap := snapWith(
		map[string]*pkgmeta.PkgManifestEntry{"foo": {Name: "foo"}},
		map[string][]string{"net": {"foo"}},
		nil,
	)
	hits := SearchPackages(snap, "foo,net")
	if len(hits) != 1 || hits[0].Score != 8 {
		t.Fatalf("got %+v, want one hit scoring 5(name)+3(tag)=8", hits)
	}
}

func TestViewCounterTopN(t *testing.T) {
	v := NewViewCounter()
	v.Increment("a")
	v.Increment("b")
	v.Increment("b")
	v.Increment("c")
	v.Increment("c")
	v.Increment("c")

	top := v.TopN(2)
	if len(top) != 2 || top[0] != "c" || top[1] != "b" {
		t.Errorf("TopN(2) = %v, want [c b]", top)
	}
}

func TestViewCounterTopNClampsToAvailableCount(t *testing.T) {
	v := NewViewCounter()
	v.Increment("solo")
	top := v.TopN(5)
	if len(top) != 1 || top[0] != "solo" {
		t.Errorf("TopN(5) with one entry = %v, want [solo]", top)
	}
}
