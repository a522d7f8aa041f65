package symbolindex

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFileArrayShape(t *testing.T) {
	pkgRoot := t.TempDir()
	source := filepath.Join(pkgRoot, "foo.nim")
	os.WriteFile(source, []byte(""), 0o644)
	os.WriteFile(source+".json", []byte(`[
		{"name":"foo","type":"proc","description":"<p>does a thing</p>","code":"proc foo()","line":1,"col":1}
	]`), 0o644)

	x := New()
	if err := x.ParseFile("foo", source, pkgRoot); err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	syms := x.Search("foo")
	if len(syms) != 1 {
		t.Fatalf("Search(foo) returned %d symbols, want 1", len(syms))
	}
	if syms[0].Description != "does a thing" {
		t.Errorf("Description = %q, want HTML tags stripped", syms[0].Description)
	}
	if syms[0].RelativePath != "foo.nim" {
		t.Errorf("RelativePath = %q, want %q", syms[0].RelativePath, "foo.nim")
	}
	if syms[0].Kind != "proc" {
		t.Errorf("Kind = %q, want %q (kind is metadata, not the index key)", syms[0].Kind, "proc")
	}
	if len(x.Search("proc")) != 0 {
		t.Errorf("Search(proc) should find nothing: the index is keyed by symbol name, not kind")
	}
}

func TestParseFileObjectShape(t *testing.T) {
	pkgRoot := t.TempDir()
	source := filepath.Join(pkgRoot, "bar.nim")
	os.WriteFile(source, []byte(""), 0o644)
	os.WriteFile(source+".json", []byte(`{"entries":[
		{"name":"bar","type":"func","description":"plain","code":"func bar()","line":2,"col":3}
	]}`), 0o644)

	x := New()
	if err := x.ParseFile("bar", source, pkgRoot); err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := x.SearchInPkg("bar", "bar"); len(got) != 1 {
		t.Fatalf("SearchInPkg(bar, bar) = %v, want one symbol", got)
	}
}

func TestParseFileFindsSidecarUnderHtmldocs(t *testing.T) {
	pkgRoot := t.TempDir()
	os.MkdirAll(filepath.Join(pkgRoot, "htmldocs"), 0o755)
	source := filepath.Join(pkgRoot, "baz.nim")
	os.WriteFile(source, []byte(""), 0o644)
	os.WriteFile(filepath.Join(pkgRoot, "htmldocs", "baz.nim.json"), []byte(`[
		{"name":"Baz","type":"type","description":"a type","code":"type Baz","line":1,"col":1}
	]`), 0o644)

	x := New()
	if err := x.ParseFile("baz", source, pkgRoot); err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := x.Search("Baz"); len(got) != 1 {
		t.Fatalf("Search(Baz) = %v, want one symbol found under htmldocs/", got)
	}
}

func TestParseFileMissingSidecarSkipsWithoutError(t *testing.T) {
	pkgRoot := t.TempDir()
	source := filepath.Join(pkgRoot, "missing.nim")
	os.WriteFile(source, []byte(""), 0o644)

	x := New()
	if err := x.ParseFile("missing", source, pkgRoot); err != nil {
		t.Fatalf("ParseFile with no sidecar should log and skip, not error: %v", err)
	}
}

func TestInsertDeduplicatesStructurallyEqualSymbols(t *testing.T) {
	pkgRoot := t.TempDir()
	source := filepath.Join(pkgRoot, "dup.nim")
	os.WriteFile(source, []byte(""), 0o644)
	os.WriteFile(source+".json", []byte(`[
		{"name":"x","type":"proc","description":"d","code":"proc x()","line":1,"col":1},
		{"name":"x","type":"proc","description":"d","code":"proc x()","line":1,"col":1}
	]`), 0o644)

	x := New()
	if err := x.ParseFile("dup", source, pkgRoot); err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := x.Search("x"); len(got) != 1 {
		t.Fatalf("Search(x) = %v, want duplicate symbols deduplicated to 1", got)
	}
}
