package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func getAttr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// GetAttr returns the value of the named attribute or "".
func GetAttr(n *html.Node, name string) string { return getAttr(n, name) }

// HasAttr reports whether the attribute is present, even if empty.
func HasAttr(n *html.Node, name string) bool {
	if n == nil {
		return false
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, name, val string) {
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

// RemoveAttr deletes every attribute with the given name. It reports whether
// anything was removed.
func RemoveAttr(n *html.Node, name string) bool {
	out := n.Attr[:0]
	removed := false
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			removed = true
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
	return removed
}

// IsElement reports whether n is an element with one of the given tag names
// (any element when no names are given).
func IsElement(n *html.Node, names ...string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if strings.EqualFold(n.Data, name) {
			return true
		}
	}
	return false
}

// TextContent concatenates all descendant text like Node.textContent.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			switch ch.Type {
			case html.TextNode:
				b.WriteString(ch.Data)
			case html.ElementNode, html.DocumentNode:
				walk(ch)
			}
		}
	}
	walk(n)
	return b.String()
}

// ElementChildren returns the element children of n in order.
func ElementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// Descendants returns every element below n in tree order matching the
// optional tag names.
func Descendants(n *html.Node, names ...string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			if IsElement(ch, names...) {
				out = append(out, ch)
			}
			walk(ch)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// ChildIndex returns the position of n among its parent's children.
func ChildIndex(n *html.Node) int {
	if n == nil || n.Parent == nil {
		return 0
	}
	i := 0
	for c := n.Parent.FirstChild; c != nil && c != n; c = c.NextSibling {
		i++
	}
	return i
}

func childAt(n *html.Node, idx int) *html.Node {
	i := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if i == idx {
			return c
		}
		i++
	}
	return nil
}

// NodeLength is the DOM "length" of a node: byte length of character data,
// child count otherwise.
func NodeLength(n *html.Node) int {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		return len(n.Data)
	}
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count++
	}
	return count
}

func isCharacterData(n *html.Node) bool {
	return n != nil && (n.Type == html.TextNode || n.Type == html.CommentNode)
}

// IsInclusiveAncestor reports whether a is n or one of its ancestors.
func IsInclusiveAncestor(a, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == a {
			return true
		}
	}
	return false
}

func rootOf(n *html.Node) *html.Node {
	for n != nil && n.Parent != nil {
		n = n.Parent
	}
	return n
}

// CloneNode copies n without its children and without a parent.
func CloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = append([]html.Attribute(nil), n.Attr...)
	}
	return c
}

// CreateElement returns a detached element with the given tag.
func CreateElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// CreateText returns a detached text node.
func CreateText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// ReplaceNode puts repl where old was; old is detached.
func ReplaceNode(old, repl *html.Node) {
	if old.Parent == nil {
		return
	}
	old.Parent.InsertBefore(repl, old)
	old.Parent.RemoveChild(old)
}

// Detach removes n from its parent if it has one.
func Detach(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// MoveChildren appends every child of src to dst.
func MoveChildren(dst, src *html.Node) {
	for c := src.FirstChild; c != nil; {
		next := c.NextSibling
		src.RemoveChild(c)
		dst.AppendChild(c)
		c = next
	}
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "body": true,
	"caption": true, "dd": true, "details": true, "div": true, "dl": true, "dt": true,
	"fieldset": true, "figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "html": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true, "tbody": true,
	"td": true, "tfoot": true, "th": true, "thead": true, "tr": true, "ul": true,
}

// IsBlock reports whether the tag renders as a block by default.
func IsBlock(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && blockTags[strings.ToLower(n.Data)]
}
