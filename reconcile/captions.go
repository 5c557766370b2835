package reconcile

import (
	"strings"

	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// Captions turns the caption of every table in the fragment into a <div>
// placed immediately before the table, styled like the live caption and
// forced to display as a block. No <caption> is left inside those tables.
// It returns the number of captions converted.
func (rc *Reconciler) Captions(f *dom.Fragment, r *dom.Range) int {
	doc := f.Document()
	tables := f.Elements("table")
	var liveTables []*html.Node
	if doc != nil {
		liveTables = dom.Descendants(doc.Root, "table")
	}
	used := map[*html.Node]bool{}
	converted := 0
	for i, t := range tables {
		if !f.Contains(t) {
			continue
		}
		live := rc.liveTable(f, r, t, i, liveTables, used)
		if live != nil {
			used[live] = true
		}
		if rc.convertCaption(f, t, live) {
			converted++
		}
	}
	return converted
}

// liveTable locates t's counterpart: clone mapping, identical first cell,
// same position among the tables the range touches, then any unused table
// the range intersects.
func (rc *Reconciler) liveTable(f *dom.Fragment, r *dom.Range, t *html.Node, idx int, liveTables []*html.Node, used map[*html.Node]bool) *html.Node {
	if live, ok := f.Counterpart(t); ok && dom.IsElement(live, "table") {
		return live
	}
	if len(liveTables) == 0 {
		return nil
	}
	if cell := firstCellText(t); cell != "" {
		for _, lt := range liveTables {
			if !used[lt] && firstCellText(lt) == cell {
				return lt
			}
		}
	}
	var touched []*html.Node
	if r != nil {
		for _, lt := range liveTables {
			if r.Intersects(lt) {
				touched = append(touched, lt)
			}
		}
	}
	if idx < len(touched) && !used[touched[idx]] {
		return touched[idx]
	}
	for _, lt := range touched {
		if !used[lt] {
			return lt
		}
	}
	return nil
}

func firstCellText(table *html.Node) string {
	for _, c := range dom.Descendants(table, "td", "th") {
		return strings.TrimSpace(dom.TextContent(c))
	}
	return ""
}

func (rc *Reconciler) convertCaption(f *dom.Fragment, t, live *html.Node) bool {
	var liveCaption *html.Node
	if live != nil {
		liveCaption = Caption(live)
	}
	var clones []*html.Node
	for c := t.FirstChild; c != nil; c = c.NextSibling {
		if dom.IsElement(c, "caption") {
			clones = append(clones, c)
		}
	}
	if liveCaption == nil && len(clones) == 0 {
		return false
	}

	div := dom.CreateElement("div")
	switch {
	case len(clones) > 0:
		src := clones[0]
		for _, a := range src.Attr {
			if a.Key != "align" {
				div.Attr = append(div.Attr, a)
			}
		}
		dom.MoveChildren(div, src)
	default:
		for _, a := range liveCaption.Attr {
			if a.Key != "align" {
				div.Attr = append(div.Attr, a)
			}
		}
		for c := liveCaption.FirstChild; c != nil; c = c.NextSibling {
			div.AppendChild(deepCopy(c))
		}
	}
	if strings.TrimSpace(dom.TextContent(div)) == "" && len(dom.Descendants(div, "img")) == 0 {
		for _, c := range clones {
			dom.Detach(c)
		}
		return false
	}

	if liveCaption != nil {
		if doc := f.Document(); doc != nil {
			if _, err := rc.applyStyle(div, doc.ComputedStyle(liveCaption), dom.DefaultStyle(div)); err != nil {
				rc.logger().Printf("RECONCILE caption err=%v", err)
			}
		}
		f.Adopt(div, liveCaption)
	}
	dom.SetInlineStyle(div, "display", "block")

	t.Parent.InsertBefore(div, t)
	for _, c := range clones {
		dom.Detach(c)
	}
	return true
}

func deepCopy(n *html.Node) *html.Node {
	c := dom.CloneNode(n)
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(deepCopy(ch))
	}
	return c
}

// Captions converts captions with a default Reconciler.
func Captions(f *dom.Fragment, r *dom.Range) int {
	return (&Reconciler{}).Captions(f, r)
}
