package httpapi

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// gzipThreshold is the minimum response size worth paying gzip's CPU cost
// for; small manifests/feeds are served uncompressed.
const gzipThreshold = 1024

// writeCompressible writes body as the response, gzip-encoding it with
// klauspost/compress when the client advertises support and body is large
// enough to benefit (spec.md §9 domain-stack note: /packages.json and
// /packages.xml are the two endpoints whose payload grows with the
// manifest, so they are the ones worth compressing).
func writeCompressible(w http.ResponseWriter, r *http.Request, contentType string, body []byte) error {
	w.Header().Set("Content-Type", contentType)
	if len(body) < gzipThreshold || !acceptsGzip(r) {
		_, err := w.Write(body)
		return err
	}

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		_, werr := w.Write(body)
		return werr
	}
	if _, err := gw.Write(body); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}

	w.Header().Set("Content-Encoding", "gzip")
	_, err = w.Write(buf.Bytes())
	return err
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(enc) == "gzip" {
			return true
		}
	}
	return false
}
