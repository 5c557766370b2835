package intercept

import (
	"strings"

	"golang.org/x/net/html"

	"pasteinliner/dom"
)

const editableSelector = `[contenteditable="true"], textarea, input`

// FindEditableHost returns the element a paste lands in. It prefers the
// event path, then the ancestors of the selection anchor, then the first
// visible editable element in the document. Only visible elements qualify.
func FindEditableHost(doc *dom.Document, path []*html.Node) *html.Node {
	if doc == nil {
		return nil
	}
	for _, n := range path {
		if isEditable(n) && doc.Visible(n) {
			return n
		}
	}
	for n := doc.Selection.AnchorNode(); n != nil; n = n.Parent {
		if isEditable(n) && doc.Visible(n) {
			return n
		}
	}
	candidates, err := dom.QuerySelectorAll(doc.Root, editableSelector)
	if err != nil {
		return nil
	}
	for _, n := range candidates {
		if doc.Visible(n) {
			return n
		}
	}
	return nil
}

func isEditable(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if dom.IsElement(n, "textarea", "input") {
		return true
	}
	return isContentEditable(n)
}

// isContentEditable follows the contenteditable attribute up the tree; the
// nearest explicit value wins.
func isContentEditable(n *html.Node) bool {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if !dom.HasAttr(p, "contenteditable") {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(dom.GetAttr(p, "contenteditable"))) {
		case "", "true", "plaintext-only":
			return true
		case "false":
			return false
		}
	}
	return false
}
