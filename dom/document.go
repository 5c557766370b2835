// Package dom models a live HTML document the way a page script sees it:
// a parsed tree with computed styles, layout boxes, tree-order ranges and a
// selection, plus detached fragments cloned out of it.
package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ErrInvalidBoundary is returned when a range boundary does not address a
// position inside its container.
var ErrInvalidBoundary = errors.New("dom: invalid range boundary")

// Rect is a bounding client rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Document is the live document an interceptor operates on.
type Document struct {
	Root      *html.Node
	Base      *url.URL
	Selection *Selection

	styles   *Stylesheet
	computed map[*html.Node]Style
	boxes    map[*html.Node]Rect
	order    map[*html.Node]int
	cascade  map[*html.Node]Style
}

// NewDocument wraps an already parsed tree.
func NewDocument(root *html.Node, base string) (*Document, error) {
	if root == nil {
		return nil, errors.New("dom: nil root")
	}
	d := &Document{Root: root, Selection: &Selection{}}
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("dom: base url: %w", err)
		}
		d.Base = u
	}
	if b := findBaseHref(root); b != "" && d.Base != nil {
		if u, err := d.Base.Parse(b); err == nil {
			d.Base = u
		}
	}
	return d, nil
}

// ParseDocument parses r and collects its stylesheets.
func ParseDocument(ctx context.Context, r io.Reader, base string, opts *StyleOptions) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	d, err := NewDocument(root, base)
	if err != nil {
		return nil, err
	}
	baseStr := ""
	if d.Base != nil {
		baseStr = d.Base.String()
	}
	d.styles = BuildStylesheet(ctx, root, baseStr, opts)
	return d, nil
}

// ParseDocumentString is ParseDocument over a string without external
// stylesheets.
func ParseDocumentString(src, base string) (*Document, error) {
	return ParseDocument(context.Background(), strings.NewReader(src), base, nil)
}

func findBaseHref(root *html.Node) string {
	for _, n := range Descendants(root, "base") {
		if href := strings.TrimSpace(getAttr(n, "href")); href != "" {
			return href
		}
	}
	return ""
}

// SetStylesheet replaces the stylesheet used for cascade computation.
func (d *Document) SetStylesheet(ss *Stylesheet) {
	d.styles = ss
	d.cascade = nil
}

// SetComputedStyle records a browser-computed style for n. Recorded styles
// take precedence over the built-in cascade.
func (d *Document) SetComputedStyle(n *html.Node, st Style) {
	if d.computed == nil {
		d.computed = make(map[*html.Node]Style)
	}
	d.computed[n] = st
}

// SetBox records the bounding rectangle of n.
func (d *Document) SetBox(n *html.Node, r Rect) {
	if d.boxes == nil {
		d.boxes = make(map[*html.Node]Rect)
	}
	d.boxes[n] = r
}

// Box returns the recorded bounding rectangle of n.
func (d *Document) Box(n *html.Node) (Rect, bool) {
	r, ok := d.boxes[n]
	return r, ok
}

// HasLayout reports whether boxes were recorded, i.e. the document came from
// a rendering engine.
func (d *Document) HasLayout() bool { return len(d.boxes) > 0 }

// Invalidate drops cached tree order and cascade results; call after
// mutating the live tree.
func (d *Document) Invalidate() {
	d.order = nil
	d.cascade = nil
}

// DocumentElement returns <html>.
func (d *Document) DocumentElement() *html.Node {
	for c := d.Root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Body returns <body>, or the document element when there is none.
func (d *Document) Body() *html.Node {
	de := d.DocumentElement()
	if de == nil {
		return nil
	}
	for c := de.FirstChild; c != nil; c = c.NextSibling {
		if IsElement(c, "body") {
			return c
		}
	}
	return de
}

// ResolveURL resolves href against the document base like HTMLImageElement.src.
func (d *Document) ResolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if d == nil || d.Base == nil || u.IsAbs() {
		return u.String()
	}
	return d.Base.ResolveReference(u).String()
}

// QuerySelectorAll returns the elements under root matching sel.
func QuerySelectorAll(root *html.Node, sel string) ([]*html.Node, error) {
	s, err := cascadia.ParseGroup(sel)
	if err != nil {
		return nil, fmt.Errorf("dom: selector %q: %w", sel, err)
	}
	return cascadia.QueryAll(root, s), nil
}

// QuerySelector returns the first element under the document matching sel.
func (d *Document) QuerySelector(sel string) (*html.Node, error) {
	nodes, err := QuerySelectorAll(d.Root, sel)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

func (d *Document) buildOrder(root *html.Node) {
	d.order = make(map[*html.Node]int)
	i := 0
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		d.order[c] = i
		i++
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(root)
}

// treeOrder returns the preorder index of n within its own tree. Detached
// subtrees get their own numbering.
func (d *Document) treeOrder(n *html.Node) int {
	if idx, ok := d.order[n]; ok {
		return idx
	}
	// Stale index or a node from another tree.
	d.buildOrder(rootOf(n))
	return d.order[n]
}

// ComputedStyle returns the style of n as getComputedStyle would report the
// properties this package tracks.
func (d *Document) ComputedStyle(n *html.Node) Style {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	if st, ok := d.computed[n]; ok {
		return st
	}
	if d.cascade == nil {
		d.cascade = make(map[*html.Node]Style)
	}
	if st, ok := d.cascade[n]; ok {
		return st
	}
	parent := rootStyle()
	if p := n.Parent; p != nil && p.Type == html.ElementNode {
		parent = d.ComputedStyle(p)
	}
	st := Style{}
	for k, v := range parent {
		if inheritedProps[k] {
			st[k] = v
		}
	}
	for k, v := range userAgentStyle(n) {
		st[k] = v
	}
	for k, v := range cascadeFor(n, d.styles) {
		if strings.EqualFold(v, "inherit") {
			if pv, ok := parent[k]; ok {
				st[k] = pv
			}
			continue
		}
		st[k] = v
	}
	if fs, ok := st["font-size"]; ok {
		st["font-size"] = resolveFontSize(fs, pxValue(parent.Get("font-size")))
	}
	if c := st["color"]; c != "" {
		if hex := cssToHex(c); hex != "" {
			st["color"] = hex
		}
	}
	d.cascade[n] = st
	return st
}

// Visible reports whether n is rendered: not display:none, not
// visibility:hidden and a non-empty bounding box.
func (d *Document) Visible(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	st := d.ComputedStyle(n)
	if st.Get("display") == "none" || st.Get("visibility") == "hidden" {
		return false
	}
	if r, ok := d.Box(n); ok {
		return r.Width > 0 && r.Height > 0
	}
	if d.HasLayout() {
		return false
	}
	for p := n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if d.ComputedStyle(p).Get("display") == "none" {
			return false
		}
	}
	for _, prop := range []string{"width", "height"} {
		if v := st.Get(prop); v != "" {
			if px, ok := CSSLengthToPxFloat(v, 0); ok && px <= 0 {
				return false
			}
		}
	}
	return true
}
