package reconcile

import (
	"strings"

	"golang.org/x/net/html"

	"pasteinliner/dom"
)

type matchKind int

const (
	noMatch matchKind = iota
	byMapping
	byOrdinal
	byText
)

// matcher finds the live counterpart of a cloned element: first through the
// fragment's clone mapping, then by tag and ordinal among live elements the
// range touches, then by tag and identical text.
type matcher struct {
	f    *dom.Fragment
	doc  *dom.Document
	r    *dom.Range
	live map[string][]*html.Node
	frag map[string][]*html.Node
	pos  map[*html.Node]int
	all  map[string][]*html.Node
}

func newMatcher(f *dom.Fragment, r *dom.Range) *matcher {
	m := &matcher{
		f:    f,
		doc:  f.Document(),
		r:    r,
		frag: map[string][]*html.Node{},
		pos:  map[*html.Node]int{},
	}
	for _, n := range f.Elements() {
		tag := strings.ToLower(n.Data)
		m.pos[n] = len(m.frag[tag])
		m.frag[tag] = append(m.frag[tag], n)
	}
	return m
}

func (m *matcher) find(n *html.Node) (*html.Node, matchKind) {
	if live, ok := m.f.Counterpart(n); ok && live.Type == html.ElementNode &&
		strings.EqualFold(live.Data, n.Data) {
		return live, byMapping
	}
	if m.doc == nil {
		return nil, noMatch
	}
	tag := strings.ToLower(n.Data)
	if idx, ok := m.pos[n]; ok {
		cands := m.liveInRange(tag)
		if idx < len(cands) && len(cands) == len(m.frag[tag]) {
			return cands[idx], byOrdinal
		}
	}
	text := strings.TrimSpace(dom.TextContent(n))
	if text == "" {
		return nil, noMatch
	}
	for _, c := range m.liveAll(tag) {
		if strings.TrimSpace(dom.TextContent(c)) == text {
			return c, byText
		}
	}
	return nil, noMatch
}

func (m *matcher) liveInRange(tag string) []*html.Node {
	if m.live == nil {
		m.live = map[string][]*html.Node{}
	}
	if l, ok := m.live[tag]; ok {
		return l
	}
	var out []*html.Node
	if m.r != nil {
		scope := m.r.CommonAncestor()
		if scope != nil {
			for _, c := range dom.Descendants(scope, tag) {
				if m.r.Intersects(c) {
					out = append(out, c)
				}
			}
		}
	}
	m.live[tag] = out
	return out
}

func (m *matcher) liveAll(tag string) []*html.Node {
	if m.all == nil {
		m.all = map[string][]*html.Node{}
	}
	if l, ok := m.all[tag]; ok {
		return l
	}
	l := dom.Descendants(m.doc.Root, tag)
	m.all[tag] = l
	return l
}
