package dom

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Fragment is a detached subtree. When it was cloned out of a Document it
// keeps, for every cloned node, the live node it was copied from.
type Fragment struct {
	Root *html.Node
	Base *url.URL

	doc    *Document
	origin map[*html.Node]*html.Node
}

func newFragment(doc *Document) *Fragment {
	f := &Fragment{
		Root:   &html.Node{Type: html.DocumentNode},
		doc:    doc,
		origin: make(map[*html.Node]*html.Node),
	}
	if doc != nil {
		f.Base = doc.Base
	}
	return f
}

// CloneRange clones r into a new fragment.
func CloneRange(r *Range) *Fragment { return r.CloneContents() }

// ParseFragment parses an HTML payload as body content. The result has no
// live counterparts.
func ParseFragment(src, base string) (*Fragment, error) {
	f := newFragment(nil)
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("dom: fragment base: %w", err)
		}
		f.Base = u
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	for _, n := range nodes {
		f.Root.AppendChild(n)
	}
	return f, nil
}

// Document returns the document the fragment was cloned from, or nil.
func (f *Fragment) Document() *Document { return f.doc }

func (f *Fragment) clone(n *html.Node) *html.Node {
	c := CloneNode(n)
	f.origin[c] = n
	return c
}

func (f *Fragment) deepClone(n *html.Node) *html.Node {
	c := f.clone(n)
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(f.deepClone(ch))
	}
	return c
}

// Counterpart returns the live node n was cloned from.
func (f *Fragment) Counterpart(n *html.Node) (*html.Node, bool) {
	live, ok := f.origin[n]
	if !ok || live == nil {
		return nil, false
	}
	// Removed from the document since the clone.
	if f.doc != nil && rootOf(live) != f.doc.Root {
		return nil, false
	}
	return live, true
}

// Adopt records live as the counterpart of a node created after cloning.
func (f *Fragment) Adopt(n, live *html.Node) { f.origin[n] = live }

// Contains reports whether n is still part of the fragment.
func (f *Fragment) Contains(n *html.Node) bool {
	return n != nil && n != f.Root && rootOf(n) == f.Root
}

// Elements returns every element in the fragment in tree order.
func (f *Fragment) Elements(names ...string) []*html.Node {
	return Descendants(f.Root, names...)
}

// Images returns every <img> in the fragment.
func (f *Fragment) Images() []*html.Node { return f.Elements("img") }

// ResolveURL resolves href against the fragment's base.
func (f *Fragment) ResolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if f.Base == nil || u.IsAbs() {
		return u.String()
	}
	return f.Base.ResolveReference(u).String()
}

// Nodes detaches and returns the top-level nodes, emptying the fragment.
func (f *Fragment) Nodes() []*html.Node {
	var out []*html.Node
	for c := f.Root.FirstChild; c != nil; {
		next := c.NextSibling
		f.Root.RemoveChild(c)
		out = append(out, c)
		c = next
	}
	return out
}

// HTML serializes the fragment's children like a container's innerHTML.
func (f *Fragment) HTML() (string, error) {
	var buf bytes.Buffer
	for c := f.Root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("dom: render: %w", err)
		}
	}
	return buf.String(), nil
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\r\n\f]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

var textSkip = map[string]bool{
	"head": true, "script": true, "style": true, "template": true, "noscript": true, "title": true,
}

// Text renders the fragment as plain text approximating innerText: blocks
// start on new lines, <br> breaks, cells are tab separated.
func (f *Fragment) Text() string {
	return InnerText(f.Root)
}

// InnerText renders n's subtree as plain text.
func InnerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, pre bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				if pre {
					b.WriteString(c.Data)
				} else {
					b.WriteString(spaceRun.ReplaceAllString(c.Data, " "))
				}
			case html.ElementNode:
				tag := strings.ToLower(c.Data)
				if textSkip[tag] {
					continue
				}
				if v, ok := InlineStyle(c, "display"); ok && strings.EqualFold(v, "none") {
					continue
				}
				switch {
				case tag == "br":
					b.WriteString("\n")
					continue
				case tag == "td" || tag == "th":
					if prevElement(c) != nil {
						b.WriteString("\t")
					}
				case blockTags[tag]:
					b.WriteString("\n")
				}
				walk(c, pre || tag == "pre")
				if blockTags[tag] && tag != "td" && tag != "th" {
					b.WriteString("\n")
				}
			}
		}
	}
	walk(n, false)

	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.Trim(l, " ")
	}
	out := strings.Join(lines, "\n")
	out = newlineRun.ReplaceAllString(out, "\n\n")
	return strings.Trim(out, "\n")
}

func prevElement(n *html.Node) *html.Node {
	for p := n.PrevSibling; p != nil; p = p.PrevSibling {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}
