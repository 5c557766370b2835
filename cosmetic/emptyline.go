package cosmetic

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// MaxMarginPx is the largest vertical margin left untouched; larger ones
// are clamped to ClampedMargin.
const (
	MaxMarginPx   = 32
	ClampedMargin = "1em"
)

const significantSelector = "img, picture, svg, video, iframe, canvas, table, ul, ol, dl, blockquote, hr"

// CleanEmptyLines removes empty paragraphs and divs, collapses long runs of
// <br> and clamps oversized vertical margins.
func CleanEmptyLines(f *dom.Fragment, cfg Config) int {
	ec := cfg.EmptyLine
	if !ec.Enabled {
		return 0
	}
	n := 0
	if ec.RemoveEmptyBlocks {
		n += removeEmptyBlocks(f)
	}
	if ec.CollapseBreaks {
		n += collapseBreaks(f)
	}
	if ec.ClampMargins {
		n += clampMargins(f)
	}
	return n
}

func removeEmptyBlocks(f *dom.Fragment) int {
	var blocks []*html.Node
	query(f).Find("p, div").Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, s.Get(0))
	})
	removed := 0
	// Deepest first, so a wrapper emptied by its children goes too.
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		if b.Parent == nil {
			continue
		}
		if strings.TrimSpace(dom.TextContent(b)) != "" {
			continue
		}
		if goquery.NewDocumentFromNode(b).Find(significantSelector).Length() > 0 {
			continue
		}
		dom.Detach(b)
		removed++
	}
	return removed
}

func collapseBreaks(f *dom.Fragment) int {
	removed := 0
	var parents []*html.Node
	seen := map[*html.Node]bool{}
	for _, br := range f.Elements("br") {
		if p := br.Parent; p != nil && !seen[p] {
			seen[p] = true
			parents = append(parents, p)
		}
	}
	for _, p := range parents {
		run := 0
		for c := p.FirstChild; c != nil; {
			next := c.NextSibling
			switch {
			case dom.IsElement(c, "br"):
				run++
				if run > 2 {
					p.RemoveChild(c)
					removed++
				}
			case c.Type == html.TextNode && strings.TrimSpace(c.Data) == "":
			case c.Type == html.CommentNode:
			default:
				run = 0
			}
			c = next
		}
	}
	return removed
}

func clampMargins(f *dom.Fragment) int {
	changed := 0
	for _, n := range f.Elements() {
		decls := dom.ParseInlineStyle(dom.GetAttr(n, "style"))
		var computed dom.Style
		for _, side := range []string{"top", "bottom"} {
			prop := "margin-" + side
			v, inline := effectiveMargin(decls, side)
			if !inline {
				if computed == nil {
					computed = computedStyle(f, n)
				}
				v = computed.Get(prop)
			}
			if v == "" {
				continue
			}
			if px, ok := dom.CSSLengthToPxFloat(v, 0); ok && px > MaxMarginPx {
				dom.SetInlineStyle(n, prop, ClampedMargin)
				changed++
			}
		}
	}
	return changed
}

// effectiveMargin resolves margin-<side> from inline declarations, honoring
// the margin shorthand and declaration order.
func effectiveMargin(decls []dom.Declaration, side string) (string, bool) {
	val, found := "", false
	for _, d := range decls {
		switch d.Property {
		case "margin-" + side:
			val, found = d.Value, true
		case "margin":
			parts := strings.Fields(d.Value)
			if len(parts) == 0 || len(parts) > 4 {
				continue
			}
			if side == "top" {
				val = parts[0]
			} else {
				switch len(parts) {
				case 1, 2:
					val = parts[0]
				default:
					val = parts[2]
				}
			}
			found = true
		}
	}
	return val, found
}
