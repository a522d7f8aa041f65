package httpapi

import "testing"

func TestAnsiToHTMLPlainTextEscaped(t *testing.T) {
	got := ansiToHTML("a < b & c")
	want := "a &lt; b &amp; c"
	if got != want {
		t.Errorf("ansiToHTML(plain) = %q, want %q", got, want)
	}
}

func TestAnsiToHTMLColorRun(t *testing.T) {
	got := ansiToHTML("\x1b[31mred\x1b[0m plain")
	want := `<span style="color:#c00">red</span> plain`
	if got != want {
		t.Errorf("ansiToHTML(color) = %q, want %q", got, want)
	}
}

func TestAnsiToHTMLBoldAndColorCombine(t *testing.T) {
	got := ansiToHTML("\x1b[1;32mok\x1b[0m")
	want := `<span style="font-weight:bold;color:#0c0">ok</span>`
	if got != want {
		t.Errorf("ansiToHTML(bold+color) = %q, want %q", got, want)
	}
}

func TestAnsiToHTMLUnterminatedEscapeDropsRest(t *testing.T) {
	got := ansiToHTML("before\x1b[31")
	if got != "before" {
		t.Errorf("ansiToHTML(unterminated) = %q, want %q", got, "before")
	}
}

func TestAnsiToHTMLResetMidLine(t *testing.T) {
	got := ansiToHTML("\x1b[31mred\x1b[0mplain\x1b[34mblue\x1b[0m")
	want := `<span style="color:#c00">red</span>plain<span style="color:#00c">blue</span>`
	if got != want {
		t.Errorf("ansiToHTML(reset mid-line) = %q, want %q", got, want)
	}
}
