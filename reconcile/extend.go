// Package reconcile restores what cloning a selection loses: computed
// styles become inline styles and table captions become standalone blocks.
// It also adjusts the captured range before cloning.
package reconcile

import (
	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// ExtendForCaptions widens r to cover any table it touches whose caption
// lies outside the range. It reports whether r changed.
func ExtendForCaptions(doc *dom.Document, r *dom.Range) bool {
	ca := r.CommonAncestor()
	if ca == nil {
		return false
	}
	var tables []*html.Node
	for n := ca; n != nil; n = n.Parent {
		if dom.IsElement(n, "table") {
			tables = append(tables, n)
		}
	}
	for _, t := range dom.Descendants(ca, "table") {
		if r.Intersects(t) {
			tables = append(tables, t)
		}
	}

	changed := false
	for _, t := range tables {
		capt := Caption(t)
		if capt == nil || r.Intersects(capt) || t.Parent == nil {
			continue
		}
		idx := dom.ChildIndex(t)
		if doc.ComparePoints(r.StartContainer, r.StartOffset, t.Parent, idx) > 0 {
			r.StartContainer, r.StartOffset = t.Parent, idx
			changed = true
		}
		if doc.ComparePoints(r.EndContainer, r.EndOffset, t.Parent, idx+1) < 0 {
			r.EndContainer, r.EndOffset = t.Parent, idx+1
			changed = true
		}
	}
	return changed
}

// Caption returns the table's <caption> child, if any.
func Caption(table *html.Node) *html.Node {
	for c := table.FirstChild; c != nil; c = c.NextSibling {
		if dom.IsElement(c, "caption") {
			return c
		}
	}
	return nil
}

// IsSelectAll reports whether r spans the whole body, as after Ctrl+A.
func IsSelectAll(doc *dom.Document, r *dom.Range) bool {
	body := doc.Body()
	if body == nil {
		return false
	}
	return doc.ComparePoints(r.StartContainer, r.StartOffset, body, 0) <= 0 &&
		doc.ComparePoints(r.EndContainer, r.EndOffset, body, dom.NodeLength(body)) >= 0
}

// InjectedSelectors match the inliner's own page UI: the settings panel,
// its toggle button and test fixtures.
var InjectedSelectors = []string{
	"#paste-inliner-panel",
	"#paste-inliner-button",
	"[data-paste-inliner]",
	".paste-inliner-fixture",
}

// StripInjected removes elements matching selectors from the fragment and
// returns how many were removed.
func StripInjected(f *dom.Fragment, selectors []string) int {
	removed := 0
	for _, sel := range selectors {
		nodes, err := dom.QuerySelectorAll(f.Root, sel)
		if err != nil {
			continue
		}
		for _, n := range nodes {
			if f.Contains(n) {
				dom.Detach(n)
				removed++
			}
		}
	}
	return removed
}
