package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/distr1/pkgdir/internal/pkgmeta"
)

var badgeColor = map[string]string{
	"done":     "#4c1",
	"building": "#dfb317",
	"waiting":  "#dfb317",
	"failed":   "#e05d44",
	"timeout":  "#e05d44",
	"unknown":  "#9f9f9f",
}

// renderBadge draws a shields.io-style flat SVG badge with label:value.
func renderBadge(label, value string) string {
	color := badgeColor[value]
	if color == "" {
		color = badgeColor["unknown"]
	}
	labelWidth := 6*len(label) + 20
	valueWidth := 6*len(value) + 20
	total := labelWidth + valueWidth
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20">
<rect width="%d" height="20" fill="#555"/>
<rect x="%d" width="%d" height="20" fill="%s"/>
<text x="%d" y="14" fill="#fff" font-family="sans-serif" font-size="11">%s</text>
<text x="%d" y="14" fill="#fff" font-family="sans-serif" font-size="11">%s</text>
</svg>`, total, labelWidth, labelWidth, valueWidth, color, labelWidth/2, label, labelWidth+valueWidth/2, value)
}

// handleBadges implements the two /ci/badges/<name>/... routes of spec.md
// §6: SVG status badges (never cached) and HTML-wrapped build transcripts.
func (s *Server) handleBadges(w http.ResponseWriter, r *http.Request) error {
	rest := strings.TrimPrefix(r.URL.Path, "/ci/badges/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return nil
	}
	name, sub := parts[0], parts[1]
	norm := pkgmeta.Normalize(name)

	snap := s.Orchestrator.Snapshot()
	meta, hasMeta := snap.PkgsDocFiles[norm]

	switch sub {
	case "version.svg":
		version := "?"
		if hasMeta {
			version = meta.Version
		}
		setNoCache(w)
		w.Header().Set("Content-Type", "image/svg+xml")
		_, err := w.Write([]byte(renderBadge("version", version)))
		return err

	case "nimdevel/status.svg":
		status := "unknown"
		if hasMeta {
			status = meta.BuildStatus.String()
		}
		setNoCache(w)
		w.Header().Set("Content-Type", "image/svg+xml")
		_, err := w.Write([]byte(renderBadge("build", status)))
		return err

	case "nimdevel/docstatus.svg":
		status := "unknown"
		if hasMeta {
			status = meta.DocBuildStatus.String()
		}
		setNoCache(w)
		w.Header().Set("Content-Type", "image/svg+xml")
		_, err := w.Write([]byte(renderBadge("docs", status)))
		return err

	case "nimdevel/output.html":
		output := ""
		if hasMeta {
			output = meta.BuildOutput
		}
		return writeTranscript(w, name+" build output", output)

	case "nimdevel/doc_build_output.html":
		var buf strings.Builder
		if hasMeta {
			for _, item := range meta.DocBuildOutput {
				fmt.Fprintf(&buf, "=== %s ===\n%s\n", item.Filename, item.Output)
			}
		}
		return writeTranscript(w, name+" doc build output", buf.String())

	default:
		http.NotFound(w, r)
		return nil
	}
}

var transcriptTmpl = `<!doctype html>
<html><head><meta charset="utf-8"><title>%s</title>
<style>body{background:#000;color:#ccc;font-family:monospace;white-space:pre-wrap}</style>
</head><body>%s</body></html>`

func writeTranscript(w http.ResponseWriter, title, rawOutput string) error {
	setNoCache(w)
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	_, err := fmt.Fprintf(w, transcriptTmpl, title, ansiToHTML(rawOutput))
	return err
}
