// Package httpapi implements the HTTP surface of spec.md §6, grounded on
// cmd/distri-repobrowser/repobrowser.go's errHandlerFunc/http.NewServeMux
// wiring.
package httpapi

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"html/template"
	"log"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/distr1/pkgdir/internal/cache"
	"github.com/distr1/pkgdir/internal/ghenrich"
	"github.com/distr1/pkgdir/internal/manifest"
	"github.com/distr1/pkgdir/internal/orchestrator"
	"github.com/distr1/pkgdir/internal/pkgmeta"
	"github.com/distr1/pkgdir/internal/query"
	"github.com/distr1/pkgdir/internal/symbolindex"
)

// errHandlerFunc adapts a handler that can fail into an http.Handler,
// exactly as cmd/distri-repobrowser/repobrowser.go does.
func errHandlerFunc(h func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			log.Printf("HTTP serving error: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// Server wires every dependency an HTTP handler needs: the manifest, the
// build orchestrator, the symbol index, view counters, first-seen history
// for the RSS feed, and the GitHub enrichment adapter.
type Server struct {
	WorkspaceRoot     string
	LocalManifestPath string
	PublicBaseURL     string

	Manifest     *manifest.Store
	Orchestrator *orchestrator.Orchestrator
	Symbols      *symbolindex.Index
	Views        *query.ViewCounter
	History      *cache.History
	Enricher     *ghenrich.Enricher

	// VerifySignature validates an /update_package submission out of band;
	// spec.md §1 treats the cryptographic verifier as an external
	// collaborator, so it is injected rather than implemented here.
	VerifySignature func(r *http.Request, entry pkgmeta.PkgManifestEntry) bool
}

// Mux builds the full route table of spec.md §6.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", errHandlerFunc(s.handleIndex))
	mux.Handle("/search", errHandlerFunc(s.handleSearch))
	mux.Handle("/pkg/", errHandlerFunc(s.handlePkg))
	mux.Handle("/docs/", errHandlerFunc(s.handleDocs))
	mux.Handle("/ci/badges/", errHandlerFunc(s.handleBadges))
	mux.Handle("/ci/rebuild/", errHandlerFunc(s.handleRebuild))
	mux.Handle("/api/v1/package_count", errHandlerFunc(s.handlePackageCount))
	mux.Handle("/api/v1/status/", errHandlerFunc(s.handleStatus))
	mux.Handle("/api/v1/search_symbol", errHandlerFunc(s.handleSearchSymbol))
	mux.Handle("/api/v1/diskspace", errHandlerFunc(s.handleDiskSpace))
	mux.Handle("/update_package", errHandlerFunc(s.handleUpdatePackage))
	mux.Handle("/packages.json", errHandlerFunc(s.handlePackagesJSON))
	mux.Handle("/packages.xml", errHandlerFunc(s.handlePackagesXML))
	mux.Handle("/robots.txt", errHandlerFunc(s.handleRobots))
	return mux
}

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>pkgdir</title>
</head>
<body>
<h1>pkgdir</h1>
<h2>Most queried packages</h2>
<ul>
{{ range .Top }}<li><a href="/pkg/{{ . }}">{{ . }}</a></li>
{{ end }}
</ul>
<h2>Recent builds</h2>
<ul>
{{ range .History }}<li>{{ .NormalizedName }} - {{ .BuildStatus }} ({{ .BuildTime }})</li>
{{ end }}
</ul>
</body>
</html>
`))

// handleIndex serves top_queried(5) and the last 10 build history items
// (spec.md §6 route table).
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) error {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return nil
	}
	snap := s.Orchestrator.Snapshot()
	hist := snap.History
	if len(hist) > 10 {
		hist = hist[:10]
	}
	data := struct {
		Top     []string
		History []pkgmeta.BuildHistoryItem
	}{
		Top:     s.Views.TopN(5),
		History: hist,
	}
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	return indexTmpl.Execute(w, data)
}

// handleSearch runs search_packages and renders scored hits as JSON.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) error {
	hits := query.SearchPackages(s.Manifest.Snapshot(), r.URL.Query().Get("query"))
	return writeJSON(w, hits)
}

// handlePkg implements request(name); read manifest; enrichment fetch.
func (s *Server) handlePkg(w http.ResponseWriter, r *http.Request) error {
	name := strings.TrimPrefix(r.URL.Path, "/pkg/")
	if name == "" {
		http.NotFound(w, r)
		return nil
	}
	norm := pkgmeta.Normalize(name)
	s.Views.Increment(norm)

	if err := s.Orchestrator.Request(r.Context(), norm, false); err != nil && err != orchestrator.ErrPackageNotFound {
		return err
	}
	entry, ok := s.Manifest.Get(norm)
	if !ok {
		http.NotFound(w, r)
		return nil
	}

	if s.Enricher != nil {
		if result, enriched, err := s.Enricher.Enrich(r.Context(), entry); err == nil && enriched {
			updated := *entry
			ghenrich.ApplyTo(&updated, result)
			if err := s.Manifest.Update(updated, true); err != nil {
				log.Printf("pkg %s: persisting enrichment: %v", norm, err)
			} else {
				entry = &updated
			}
		}
	}
	return writeJSON(w, entry)
}

// handleDocs implements /docs/<name> (request+wait) and /docs/<name>/<path>
// (serve a built file, rejecting anything but .html/.idx and any ".." path
// component).
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) error {
	rest := strings.TrimPrefix(r.URL.Path, "/docs/")
	parts := strings.SplitN(rest, "/", 2)
	name := parts[0]
	if name == "" {
		http.NotFound(w, r)
		return nil
	}
	norm := pkgmeta.Normalize(name)

	if len(parts) == 1 {
		if err := s.Orchestrator.Request(r.Context(), norm, false); err != nil {
			if err == orchestrator.ErrPackageNotFound {
				http.NotFound(w, r)
				return nil
			}
			return err
		}
		if err := s.Orchestrator.WaitCompletion(r.Context(), norm, 0); err != nil {
			return err
		}
		http.Redirect(w, r, "/docs/"+name+"/"+name+".html", http.StatusFound)
		return nil
	}

	relPath := parts[1]
	if strings.Contains(relPath, "..") {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return nil
	}
	if !strings.HasSuffix(relPath, ".html") && !strings.HasSuffix(relPath, ".idx") {
		http.Error(w, "only .html and .idx files are served", http.StatusBadRequest)
		return nil
	}
	full := path.Join(s.WorkspaceRoot, norm, relPath)
	http.ServeFile(w, r, full)
	return nil
}

// handleRebuild implements POST /ci/rebuild/<name>: request(name, force=true).
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil
	}
	name := strings.TrimPrefix(r.URL.Path, "/ci/rebuild/")
	if err := s.Orchestrator.Request(r.Context(), name, true); err != nil {
		if err == orchestrator.ErrPackageNotFound {
			http.NotFound(w, r)
			return nil
		}
		return err
	}
	w.WriteHeader(http.StatusAccepted)
	return nil
}

// handlePackageCount returns an integer count of the manifest's packages.
func (s *Server) handlePackageCount(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, len(s.Manifest.Snapshot().ByName))
}

type statusResponse struct {
	Status    string    `json:"status"`
	BuildTime time.Time `json:"build_time"`
}

// handleStatus implements /api/v1/status/<name>: waiting/building/done/unknown.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) error {
	name := pkgmeta.Normalize(strings.TrimPrefix(r.URL.Path, "/api/v1/status/"))
	snap := s.Orchestrator.Snapshot()
	resp := statusResponse{Status: "unknown"}
	if _, ok := snap.Waiting[name]; ok {
		resp.Status = "waiting"
	} else if _, ok := snap.Building[name]; ok {
		resp.Status = "building"
	} else if meta, ok := snap.PkgsDocFiles[name]; ok {
		resp.Status = "done"
		resp.BuildTime = meta.BuildTime
	}
	return writeJSON(w, resp)
}

// handleSearchSymbol implements /api/v1/search_symbol?symbol=….
func (s *Server) handleSearchSymbol(w http.ResponseWriter, r *http.Request) error {
	hits := query.SearchSymbol(s.Symbols, r.URL.Query().Get("symbol"))
	return writeJSON(w, hits)
}

// handleDiskSpace reports free bytes on the workspace filesystem, the same
// unix.Statfs call repobrowser.go's serveStatusPage makes, surfaced here as
// an admin signal instead of a status-page field.
func (s *Server) handleDiskSpace(w http.ResponseWriter, r *http.Request) error {
	var fs unix.Statfs_t
	if err := unix.Statfs(s.WorkspaceRoot, &fs); err != nil {
		return err
	}
	return writeJSON(w, struct {
		FreeBytes uint64 `json:"free_bytes"`
	}{
		FreeBytes: fs.Bavail * uint64(fs.Bsize),
	})
}

// handleUpdatePackage implements POST /update_package: a signature-verified
// manifest change.
func (s *Server) handleUpdatePackage(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil
	}
	var entry pkgmeta.PkgManifestEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return nil
	}
	signatureOK := s.VerifySignature != nil && s.VerifySignature(r, entry)
	if err := s.Manifest.Update(entry, signatureOK); err != nil {
		switch err {
		case manifest.ErrSignatureRejected:
			http.Error(w, err.Error(), http.StatusForbidden)
		case manifest.ErrNameCollision:
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			return err
		}
		return nil
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handlePackagesJSON serves the raw local manifest mirror verbatim,
// gzip-compressed for clients that advertise support.
func (s *Server) handlePackagesJSON(w http.ResponseWriter, r *http.Request) error {
	body, err := os.ReadFile(s.LocalManifestPath)
	if err != nil {
		return err
	}
	return writeCompressible(w, r, "application/json", body)
}

type rssItem struct {
	Title string `xml:"title"`
	Link  string `xml:"link"`
	GUID  string `xml:"guid"`
	PubDate string `xml:"pubDate"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Link  string    `xml:"link"`
	Items []rssItem `xml:"item"`
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

// handlePackagesXML renders an RSS feed over the first-seen history.
func (s *Server) handlePackagesXML(w http.ResponseWriter, r *http.Request) error {
	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title: "pkgdir new packages",
			Link:  s.PublicBaseURL,
		},
	}
	for _, item := range s.History.Snapshot() {
		feed.Channel.Items = append(feed.Channel.Items, rssItem{
			Title:   item.NormalizedName,
			Link:    s.PublicBaseURL + "/pkg/" + item.NormalizedName,
			GUID:    item.NormalizedName,
			PubDate: item.FirstSeenTime.Format(time.RFC1123Z),
		})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		return err
	}
	return writeCompressible(w, r, "application/rss+xml; charset=UTF-8", buf.Bytes())
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	_, err := w.Write([]byte("User-agent: *\nDisallow:\n"))
	return err
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// setNoCache marks a response as never cacheable (spec.md §6): badges and
// build-status transcripts must reflect the latest build on every request,
// so CI/README status images never go stale behind a shared cache.
func setNoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	w.Header().Set("Expires", "0")
	w.Header().Set("Pragma", "no-cache")
}
