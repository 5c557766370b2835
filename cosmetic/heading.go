package cosmetic

import (
	"strings"

	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// RemapHeadings replaces every element whose tag is a key of the mapping
// with a new element of the mapped tag, keeping attributes and children.
// Targets are collected before any replacement.
func RemapHeadings(f *dom.Fragment, cfg Config) int {
	if !cfg.Heading.Enabled || len(cfg.Heading.Mapping) == 0 {
		return 0
	}
	type target struct {
		n  *html.Node
		to string
	}
	var targets []target
	for _, n := range f.Elements() {
		from := strings.ToLower(n.Data)
		to, ok := cfg.Heading.Mapping[from]
		if !ok || to == from || !validTag(to) {
			continue
		}
		targets = append(targets, target{n, to})
	}
	for _, t := range targets {
		repl := dom.CreateElement(t.to)
		repl.Attr = append([]html.Attribute(nil), t.n.Attr...)
		dom.MoveChildren(repl, t.n)
		dom.ReplaceNode(t.n, repl)
		if live, ok := f.Counterpart(t.n); ok {
			f.Adopt(repl, live)
		}
	}
	return len(targets)
}

// voidTags cannot hold the heading's content.
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
	"input": true, "link": true, "meta": true, "source": true, "track": true, "wbr": true,
}

func validTag(tag string) bool {
	if tag == "" || voidTags[tag] {
		return false
	}
	for i, r := range tag {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}
