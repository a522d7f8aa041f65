package ghenrich

import (
	"testing"

	"github.com/distr1/pkgdir/internal/pkgmeta"
)

func TestOwnerRepo(t *testing.T) {
	cases := []struct {
		url       string
		wantOwner string
		wantRepo  string
		wantOK    bool
	}{
		{"https://github.com/distr1/distri", "distr1", "distri", true},
		{"https://github.com/distr1/distri/", "distr1", "distri", true},
		{"https://github.com/distr1/distri.git", "distr1", "distri", true},
		{"https://example.com/not/github", "", "", false},
		{"https://github.com/onlyowner", "", "", false},
	}
	for _, c := range cases {
		owner, repo, ok := ownerRepo(c.url)
		if ok != c.wantOK || owner != c.wantOwner || repo != c.wantRepo {
			t.Errorf("ownerRepo(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.url, owner, repo, ok, c.wantOwner, c.wantRepo, c.wantOK)
		}
	}
}

func TestApplyTo(t *testing.T) {
	entry := &pkgmeta.PkgManifestEntry{Name: "foo"}
	ApplyTo(entry, Result{
		Readme:         "# foo",
		LatestVersion:  "v1.2.3",
		LatestVersions: []string{"v1.2.3", "v1.2.2"},
		LastUpdateTime: 1700000000,
	})
	if entry.GithubReadme != "# foo" {
		t.Errorf("GithubReadme = %q", entry.GithubReadme)
	}
	if entry.GithubLatestVersion != "v1.2.3" {
		t.Errorf("GithubLatestVersion = %q", entry.GithubLatestVersion)
	}
	if len(entry.GithubLatestVersionsStr) != 2 {
		t.Errorf("GithubLatestVersionsStr = %v", entry.GithubLatestVersionsStr)
	}
	if entry.GithubLastUpdateTime != 1700000000 {
		t.Errorf("GithubLastUpdateTime = %d", entry.GithubLastUpdateTime)
	}
}
