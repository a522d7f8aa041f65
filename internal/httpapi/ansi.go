package httpapi

import (
	"html"
	"strconv"
	"strings"
)

// ansiColors maps the 8 standard SGR foreground/background codes to CSS
// colors; codes 30-37 are foreground, 40-47 background, offset by -30/-40
// respectively into this table.
var ansiColors = [8]string{
	"#000", "#c00", "#0c0", "#cc0", "#00c", "#c0c", "#0cc", "#ccc",
}

// ansiToHTML translates a raw build transcript containing ANSI SGR escape
// sequences into an HTML fragment with inline <span style="..."> runs,
// escaping everything else. This is a small SGR-code tokenizer rather than
// the original's fixed find/replace table (spec.md §9 design note): it
// walks the byte stream once, maintains the current style as a set of CSS
// declarations, and opens/closes a <span> whenever the active style set
// changes, so arbitrary code combinations (bold+color, reset mid-line,
// 256-color codes it doesn't recognize) degrade gracefully instead of
// silently passing through as literal escape bytes.
func ansiToHTML(s string) string {
	var out strings.Builder
	style := newSGRState()
	spanOpen := false

	i := 0
	for i < len(s) {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			end := strings.IndexByte(s[i+2:], 'm')
			if end < 0 {
				// Unterminated escape: drop the rest, nothing useful to render.
				break
			}
			codes := s[i+2 : i+2+end]
			changed := style.apply(codes)
			i += 2 + end + 1
			if changed {
				if spanOpen {
					out.WriteString("</span>")
					spanOpen = false
				}
				if css := style.css(); css != "" {
					out.WriteString(`<span style="`)
					out.WriteString(css)
					out.WriteString(`">`)
					spanOpen = true
				}
			}
			continue
		}
		// Accumulate a run of plain bytes up to the next escape, to avoid
		// per-rune WriteString overhead on long uncolored output.
		j := i
		for j < len(s) && !(s[j] == 0x1b && j+1 < len(s) && s[j+1] == '[') {
			j++
		}
		out.WriteString(html.EscapeString(s[i:j]))
		i = j
	}
	if spanOpen {
		out.WriteString("</span>")
	}
	return out.String()
}

// sgrState holds the currently active SGR attributes.
type sgrState struct {
	bold bool
	fg   string
	bg   string
}

func newSGRState() *sgrState {
	return &sgrState{}
}

// apply parses a semicolon-separated list of SGR codes and updates the
// state in place, reporting whether anything changed.
func (st *sgrState) apply(codes string) bool {
	before := *st
	if codes == "" {
		codes = "0"
	}
	for _, part := range strings.Split(codes, ";") {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		switch {
		case n == 0:
			*st = sgrState{}
		case n == 1:
			st.bold = true
		case n == 22:
			st.bold = false
		case n == 39:
			st.fg = ""
		case n == 49:
			st.bg = ""
		case n >= 30 && n <= 37:
			st.fg = ansiColors[n-30]
		case n >= 40 && n <= 47:
			st.bg = ansiColors[n-40]
		}
	}
	return *st != before
}

// css renders the current state as inline CSS declarations.
func (st *sgrState) css() string {
	var parts []string
	if st.bold {
		parts = append(parts, "font-weight:bold")
	}
	if st.fg != "" {
		parts = append(parts, "color:"+st.fg)
	}
	if st.bg != "" {
		parts = append(parts, "background-color:"+st.bg)
	}
	return strings.Join(parts, ";")
}
