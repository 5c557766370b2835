package cosmetic

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// ProcessLinks defangs anchors. With ConvertToRedText each anchor becomes a
// span in the highlight color, otherwise it is replaced by its bare text.
// Anchors wrapping media keep their children instead of collapsing to text.
func ProcessLinks(f *dom.Fragment, cfg Config) int {
	lc := cfg.Links
	if !lc.Enabled || !lc.RemoveLinks {
		return 0
	}
	color := lc.Color
	if color == "" {
		color = DefaultLinkColor
	}
	var anchors []*html.Node
	query(f).Find("a").Each(func(_ int, s *goquery.Selection) {
		anchors = append(anchors, s.Get(0))
	})
	count := 0
	// Innermost first so nested anchors are handled before their parents.
	for i := len(anchors) - 1; i >= 0; i-- {
		a := anchors[i]
		if a.Parent == nil {
			continue
		}
		rich := hasMedia(a)
		if lc.ConvertToRedText {
			span := dom.CreateElement("span")
			if rich {
				dom.MoveChildren(span, a)
			} else {
				span.AppendChild(dom.CreateText(dom.TextContent(a)))
			}
			dom.SetInlineStyle(span, "color", color)
			if fs := anchorStyle(f, a, "font-size"); fs != "" && !isDefaultFontSize(fs) {
				dom.SetInlineStyle(span, "font-size", fs)
			}
			if ff := anchorStyle(f, a, "font-family"); !isDefaultFontFamily(ff) {
				dom.SetInlineStyle(span, "font-family", ff)
			}
			dom.ReplaceNode(a, span)
		} else if rich {
			for c := a.FirstChild; c != nil; {
				next := c.NextSibling
				a.RemoveChild(c)
				a.Parent.InsertBefore(c, a)
				c = next
			}
			dom.Detach(a)
		} else {
			dom.ReplaceNode(a, dom.CreateText(dom.TextContent(a)))
		}
		count++
	}
	return count
}

func hasMedia(n *html.Node) bool {
	return len(dom.Descendants(n, "img", "picture", "svg", "video")) > 0
}

func anchorStyle(f *dom.Fragment, a *html.Node, prop string) string {
	if v, ok := dom.InlineStyle(a, prop); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(computedStyle(f, a).Get(prop))
}

func isDefaultFontSize(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "16px", "medium", "1em", "100%", "inherit", "initial":
		return true
	}
	return false
}

func isDefaultFontFamily(v string) bool {
	switch strings.Trim(strings.ToLower(strings.TrimSpace(v)), `"'`) {
	case "", "serif", "times new roman", "inherit", "initial":
		return true
	}
	return false
}
