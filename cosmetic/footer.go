package cosmetic

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// ShortFooterLimit is the length under which any text carrying a copyright
// marker counts as boilerplate.
const ShortFooterLimit = 100

var copyrightMarkers = []string{
	"©", "(c)", "&copy;", "copyright", "all rights reserved",
	"版权", "版權", "著作権", "저작권", "droits réservés", "urheberrecht", "derechos reservados",
}

// IsCopyright reports whether text looks like copyright boilerplate: it has
// a copyright marker and either names one of keywords or is short.
func IsCopyright(text string, keywords []string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	lower := strings.ToLower(t)
	marked := false
	for _, m := range copyrightMarkers {
		if strings.Contains(lower, m) {
			marked = true
			break
		}
	}
	if !marked {
		return false
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return utf8.RuneCountInString(t) < ShortFooterLimit
}

// FilterFooters removes footer-like elements and leaves that carry copyright
// boilerplate. A leaf that is its parent's only content takes the parent
// with it.
func FilterFooters(f *dom.Fragment, cfg Config) int {
	if !cfg.Footer.Enabled {
		return 0
	}
	kws := cfg.Footer.Keywords
	removed := 0

	query(f).Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return footerLike(s.Get(0))
	}).Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if !f.Contains(n) {
			return
		}
		if IsCopyright(dom.TextContent(n), kws) {
			dom.Detach(n)
			removed++
		}
	})

	var leaves []*html.Node
	for _, n := range f.Elements() {
		if len(dom.ElementChildren(n)) == 0 {
			leaves = append(leaves, n)
		}
	}
	for _, leaf := range leaves {
		if !f.Contains(leaf) || !IsCopyright(dom.TextContent(leaf), kws) {
			continue
		}
		victim := leaf
		if p := leaf.Parent; p != nil && p.Type == html.ElementNode && soleContent(p, leaf) {
			victim = p
		}
		dom.Detach(victim)
		removed++
	}
	return removed
}

// footerLike matches footer elements and anything whose class or id
// mentions footer or copyright.
func footerLike(n *html.Node) bool {
	if dom.IsElement(n, "footer") {
		return true
	}
	for _, attr := range []string{"class", "id"} {
		v := strings.ToLower(dom.GetAttr(n, attr))
		if strings.Contains(v, "footer") || strings.Contains(v, "copyright") {
			return true
		}
	}
	return false
}

// soleContent reports whether leaf is p's only element child and p has no
// text of its own.
func soleContent(p, leaf *html.Node) bool {
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			if c != leaf {
				return false
			}
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return false
			}
		}
	}
	return true
}
