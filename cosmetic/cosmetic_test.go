package cosmetic

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pasteinliner/dom"
)

func mustFragment(t *testing.T, src string) *dom.Fragment {
	t.Helper()
	f, err := dom.ParseFragment(src, "https://example.com/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return f
}

func mustHTML(t *testing.T, f *dom.Fragment) string {
	t.Helper()
	out, err := f.HTML()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return out
}

func enabledConfig() Config {
	cfg := Default()
	cfg.Heading.Enabled = true
	cfg.Heading.Mapping = map[string]string{"h1": "h3", "h2": "h3"}
	cfg.Links.Enabled = true
	cfg.Footer.Enabled = true
	cfg.Footer.Keywords = []string{"Example Corp"}
	return cfg
}

func TestRemapHeadings(t *testing.T) {
	t.Parallel()
	f := mustFragment(t, `<h1 id="t" class="x">Title <b>bold</b></h1><h2>Sub</h2><h3>Keep</h3>`)
	cfg := enabledConfig()
	if n := RemapHeadings(f, cfg); n != 2 {
		t.Fatalf("expected 2 replacements, got %d", n)
	}
	want := `<h3 id="t" class="x">Title <b>bold</b></h3><h3>Sub</h3><h3>Keep</h3>`
	if got := mustHTML(t, f); got != want {
		t.Fatalf("got %q, expected %q", got, want)
	}
	if n := RemapHeadings(f, cfg); n != 0 {
		t.Fatalf("second run changed %d nodes", n)
	}
}

func TestRemapHeadingsChainAppliedOnce(t *testing.T) {
	t.Parallel()
	f := mustFragment(t, `<h1>a</h1><h2>b</h2>`)
	cfg := enabledConfig()
	cfg.Heading.Mapping = map[string]string{"h1": "h2", "h2": "h3"}
	if n := RemapHeadings(f, cfg); n != 2 {
		t.Fatalf("expected 2 replacements, got %d", n)
	}
	if got := mustHTML(t, f); got != `<h2>a</h2><h3>b</h3>` {
		t.Fatalf("new elements were reprocessed: %q", got)
	}
}

func TestRemapHeadingsSkipsInvalid(t *testing.T) {
	t.Parallel()
	f := mustFragment(t, `<h1>a</h1><h4>b</h4>`)
	cfg := enabledConfig()
	cfg.Heading.Mapping = map[string]string{"h1": "h1", "h4": "not a tag"}
	if n := RemapHeadings(f, cfg); n != 0 {
		t.Fatalf("expected no replacements, got %d", n)
	}
}

func TestRemapHeadingsRejectsVoidTargets(t *testing.T) {
	t.Parallel()
	for _, tag := range []string{"br", "img", "hr", "input", "meta", "link", "area", "base", "col", "embed", "source", "track", "wbr"} {
		f := mustFragment(t, `<h1>Title</h1>`)
		cfg := enabledConfig()
		cfg.Heading.Mapping = map[string]string{"h1": tag}
		if n := RemapHeadings(f, cfg); n != 0 {
			t.Fatalf("%s: expected no replacements, got %d", tag, n)
		}
		if got := mustHTML(t, f); got != `<h1>Title</h1>` {
			t.Fatalf("%s: got %q", tag, got)
		}
	}
}

func TestProcessLinks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		red      bool
		src      string
		expected string
	}{
		{"red_text", true, `<p>See <a href="x">Label</a>.</p>`, `<p>See <span style="color: #00ff00;">Label</span>.</p>`},
		{"plain_text", false, `<p>See <a href="x">Label</a>.</p>`, `<p>See Label.</p>`},
		{"keeps_font", true, `<a href="x" style="font-size: 20px; font-family: Arial">L</a>`, `<span style="color: #00ff00; font-size: 20px; font-family: Arial;">L</span>`},
		{"default_font_dropped", true, `<a href="x" style="font-size: 16px">L</a>`, `<span style="color: #00ff00;">L</span>`},
		{"image_link_unwrapped", false, `<a href="x"><img src="a.png"/></a>`, `<img src="a.png"/>`},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := mustFragment(t, tc.src)
			cfg := enabledConfig()
			cfg.Links.ConvertToRedText = tc.red
			cfg.Links.Color = "#00ff00"
			if n := ProcessLinks(f, cfg); n != 1 {
				t.Fatalf("expected 1 change, got %d", n)
			}
			got := mustHTML(t, f)
			if got != tc.expected {
				t.Fatalf("got %q, expected %q", got, tc.expected)
			}
			if strings.Contains(got, "href") {
				t.Fatalf("href survived: %q", got)
			}
			if n := ProcessLinks(f, cfg); n != 0 {
				t.Fatalf("second run changed %d anchors", n)
			}
		})
	}
}

func TestProcessLinksDisabled(t *testing.T) {
	t.Parallel()
	f := mustFragment(t, `<a href="x">Label</a>`)
	cfg := enabledConfig()
	cfg.Links.RemoveLinks = false
	if n := ProcessLinks(f, cfg); n != 0 {
		t.Fatalf("links disabled but %d changed", n)
	}
	cfg.Links.RemoveLinks = true
	cfg.Links.Enabled = false
	if n := ProcessLinks(f, cfg); n != 0 {
		t.Fatalf("pass disabled but %d changed", n)
	}
}

func TestIsCopyright(t *testing.T) {
	t.Parallel()
	long := "© random unrelated copyright mention " + strings.Repeat("padding text ", 10)
	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{"keyword", "© 2024 Example Corp, All rights reserved", true},
		{"short_marker", "Copyright 2020", true},
		{"long_no_keyword", long, false},
		{"long_with_keyword", long + " Example Corp", true},
		{"no_marker", "Example Corp makes things", false},
		{"localized", "版权所有 2024", true},
		{"empty", "   ", false},
	}
	for _, tc := range tests {
		if got := IsCopyright(tc.text, []string{"example corp"}); got != tc.expected {
			t.Fatalf("%s: IsCopyright = %v, expected %v", tc.name, got, tc.expected)
		}
	}
}

func TestFilterFooters(t *testing.T) {
	t.Parallel()
	long := "© random unrelated copyright mention " + strings.Repeat("padding text ", 10)
	src := `<article><p>Body text</p>` +
		`<div class="SiteFooter">© 2024 Example Corp, All rights reserved</div>` +
		`<section><span>© 2024 Example Corp</span></section>` +
		`<div><p>© 2024 Example Corp</p><p>Keep me</p></div>` +
		`<p id="long">` + long + `</p>` +
		`<footer>Contact us</footer></article>`
	f := mustFragment(t, src)
	cfg := enabledConfig()
	if n := FilterFooters(f, cfg); n != 3 {
		t.Fatalf("expected 3 removals, got %d: %s", n, mustHTML(t, f))
	}
	got := mustHTML(t, f)
	want := `<article><p>Body text</p><div><p>Keep me</p></div><p id="long">` + long + `</p><footer>Contact us</footer></article>`
	if got != want {
		t.Fatalf("got %q\nexpected %q", got, want)
	}
	if n := FilterFooters(f, cfg); n != 0 {
		t.Fatalf("second run removed %d", n)
	}
}

func TestCleanEmptyLines(t *testing.T) {
	t.Parallel()
	src := `<div><p>  </p><div>&nbsp;</div></div>` +
		`<p><img src="a.png"/></p>` +
		`<div><hr/></div>` +
		`<p>a<br/><br/> <br/><br/>b<br/>c</p>` +
		`<p style="margin: 40px 0 8px">m</p>` +
		`<p style="margin-bottom: 3em">n</p>` +
		`<p style="margin-top: 20px">o</p>`
	f := mustFragment(t, src)
	cfg := enabledConfig()
	n := CleanEmptyLines(f, cfg)
	want := `<p><img src="a.png"/></p>` +
		`<div><hr/></div>` +
		`<p>a<br/><br/> b<br/>c</p>` +
		`<p style="margin: 40px 0 8px; margin-top: 1em;">m</p>` +
		`<p style="margin-bottom: 1em;">n</p>` +
		`<p style="margin-top: 20px">o</p>`
	if got := mustHTML(t, f); got != want {
		t.Fatalf("got %q\nexpected %q", got, want)
	}
	// 3 empty blocks, 2 breaks, 2 margins.
	if n != 7 {
		t.Fatalf("expected 7 changes, got %d", n)
	}
	if again := CleanEmptyLines(f, cfg); again != 0 {
		t.Fatalf("second run changed %d", again)
	}
}

func TestCleanEmptyLinesComputedMargins(t *testing.T) {
	t.Parallel()
	doc, err := dom.ParseDocumentString(`<html><head><style>.big{margin-top:64px}</style></head><body><p class="big">x</p></body></html>`, "")
	if err != nil {
		t.Fatal(err)
	}
	doc.SelectAll()
	f := doc.Selection.RangeAt(0).CloneContents()
	cfg := enabledConfig()
	cfg.EmptyLine.RemoveEmptyBlocks = false
	cfg.EmptyLine.CollapseBreaks = false
	if n := CleanEmptyLines(f, cfg); n != 1 {
		t.Fatalf("expected 1 clamp from computed style, got %d", n)
	}
	if got := mustHTML(t, f); got != `<p class="big" style="margin-top: 1em;">x</p>` {
		t.Fatalf("got %q", got)
	}
}

func TestPipelineOrderAndDisabled(t *testing.T) {
	t.Parallel()
	src := `<h1><a href="/x">Head</a></h1><p></p><div class="footer">© Example Corp</div>`
	f := mustFragment(t, src)
	rep := Run(f, enabledConfig())
	if rep.Headings != 1 || rep.Links != 1 || rep.Footers != 1 || rep.EmptyLines != 1 {
		t.Fatalf("unexpected report %s", rep)
	}
	if got := mustHTML(t, f); got != `<h3><span style="color: #ff0000;">Head</span></h3>` {
		t.Fatalf("got %q", got)
	}

	off := Config{}
	g := mustFragment(t, src)
	if rep := Run(g, off); rep.Total() != 0 {
		t.Fatalf("disabled config changed %s", rep)
	}
	if got := mustHTML(t, g); got != src {
		t.Fatalf("disabled config mutated fragment: %q", got)
	}
}

func TestStoreLoadSaveReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cosmetic.yaml")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if got := s.Current(); !got.EmptyLine.Enabled || got.Links.Color != DefaultLinkColor {
		t.Fatalf("missing file should yield defaults: %+v", got)
	}

	if err := s.Update(func(c *Config) {
		c.Footer.Enabled = true
		c.Footer.Keywords = []string{" ACME ", ""}
		c.Heading.Mapping = map[string]string{"H1": "H4"}
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	cur := s.Current()
	if len(cur.Footer.Keywords) != 1 || cur.Footer.Keywords[0] != "ACME" || cur.Heading.Mapping["h1"] != "h4" {
		t.Fatalf("normalize failed: %+v", cur)
	}

	cur.Footer.Keywords[0] = "mutated"
	if s.Current().Footer.Keywords[0] != "ACME" {
		t.Fatalf("Current must return a copy")
	}

	other, err := Load(path)
	if err != nil {
		t.Fatalf("reload from disk: %v", err)
	}
	if !other.Current().Footer.Enabled {
		t.Fatalf("saved config not persisted")
	}

	if err := os.WriteFile(path, []byte("links:\n  enabled: true\n  color: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	cur = s.Current()
	if !cur.Links.Enabled || cur.Links.Color != DefaultLinkColor || cur.Heading.Mapping["h1"] != "h2" {
		t.Fatalf("reload should merge onto defaults: %+v", cur)
	}

	if err := os.WriteFile(path, []byte("links: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Fatalf("expected parse error")
	}
	if !s.Current().Links.Enabled {
		t.Fatalf("failed reload must keep the previous config")
	}
}
