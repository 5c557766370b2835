package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// Range is a DOM range over a Document. Offsets into text nodes are byte
// offsets; offsets into any other node are child indexes.
type Range struct {
	StartContainer *html.Node
	StartOffset    int
	EndContainer   *html.Node
	EndOffset      int

	doc *Document
}

// NewRange returns a range collapsed at the start of the document body.
func (d *Document) NewRange() *Range {
	b := d.Body()
	return &Range{StartContainer: b, EndContainer: b, doc: d}
}

// RangeOf builds a range from explicit boundary points.
func (d *Document) RangeOf(startNode *html.Node, startOffset int, endNode *html.Node, endOffset int) (*Range, error) {
	r := &Range{doc: d}
	if err := r.SetStart(startNode, startOffset); err != nil {
		return nil, err
	}
	if err := r.SetEnd(endNode, endOffset); err != nil {
		return nil, err
	}
	return r, nil
}

// Document returns the owner document of the range.
func (r *Range) Document() *Document { return r.doc }

// Clone copies the boundary points.
func (r *Range) Clone() *Range {
	c := *r
	return &c
}

func (r *Range) validBoundary(n *html.Node, off int) error {
	if n == nil || n.Type == html.DoctypeNode {
		return fmt.Errorf("%w: bad container", ErrInvalidBoundary)
	}
	if off < 0 || off > NodeLength(n) {
		return fmt.Errorf("%w: offset %d outside 0..%d", ErrInvalidBoundary, off, NodeLength(n))
	}
	return nil
}

// SetStart moves the start boundary; the end follows if it would precede it.
func (r *Range) SetStart(n *html.Node, off int) error {
	if err := r.validBoundary(n, off); err != nil {
		return err
	}
	r.StartContainer, r.StartOffset = n, off
	if r.EndContainer == nil || rootOf(r.EndContainer) != rootOf(n) || r.doc.ComparePoints(n, off, r.EndContainer, r.EndOffset) > 0 {
		r.EndContainer, r.EndOffset = n, off
	}
	return nil
}

// SetEnd moves the end boundary; the start follows if it would follow it.
func (r *Range) SetEnd(n *html.Node, off int) error {
	if err := r.validBoundary(n, off); err != nil {
		return err
	}
	r.EndContainer, r.EndOffset = n, off
	if r.StartContainer == nil || rootOf(r.StartContainer) != rootOf(n) || r.doc.ComparePoints(r.StartContainer, r.StartOffset, n, off) > 0 {
		r.StartContainer, r.StartOffset = n, off
	}
	return nil
}

// SetStartBefore places the start immediately before n.
func (r *Range) SetStartBefore(n *html.Node) error {
	if n.Parent == nil {
		return fmt.Errorf("%w: node has no parent", ErrInvalidBoundary)
	}
	return r.SetStart(n.Parent, ChildIndex(n))
}

// SetEndAfter places the end immediately after n.
func (r *Range) SetEndAfter(n *html.Node) error {
	if n.Parent == nil {
		return fmt.Errorf("%w: node has no parent", ErrInvalidBoundary)
	}
	return r.SetEnd(n.Parent, ChildIndex(n)+1)
}

// SelectNodeContents spans every child of n.
func (r *Range) SelectNodeContents(n *html.Node) {
	r.StartContainer, r.StartOffset = n, 0
	r.EndContainer, r.EndOffset = n, NodeLength(n)
}

// SelectNode spans n itself.
func (r *Range) SelectNode(n *html.Node) error {
	if n.Parent == nil {
		return fmt.Errorf("%w: node has no parent", ErrInvalidBoundary)
	}
	idx := ChildIndex(n)
	r.StartContainer, r.StartOffset = n.Parent, idx
	r.EndContainer, r.EndOffset = n.Parent, idx+1
	return nil
}

// Collapse collapses the range onto one of its boundaries.
func (r *Range) Collapse(toStart bool) {
	if toStart {
		r.EndContainer, r.EndOffset = r.StartContainer, r.StartOffset
		return
	}
	r.StartContainer, r.StartOffset = r.EndContainer, r.EndOffset
}

// Collapsed reports whether start equals end.
func (r *Range) Collapsed() bool {
	return r.StartContainer == r.EndContainer && r.StartOffset == r.EndOffset
}

// CommonAncestor returns the deepest node containing both boundaries.
func (r *Range) CommonAncestor() *html.Node {
	ca := r.StartContainer
	for ca != nil && !IsInclusiveAncestor(ca, r.EndContainer) {
		ca = ca.Parent
	}
	return ca
}

// ComparePoints orders two boundary points: -1 before, 0 equal, 1 after.
func (d *Document) ComparePoints(nodeA *html.Node, offA int, nodeB *html.Node, offB int) int {
	if nodeA == nodeB {
		switch {
		case offA < offB:
			return -1
		case offA > offB:
			return 1
		}
		return 0
	}
	if d.treeOrder(nodeA) > d.treeOrder(nodeB) {
		return -d.ComparePoints(nodeB, offB, nodeA, offA)
	}
	if IsInclusiveAncestor(nodeA, nodeB) {
		child := nodeB
		for child.Parent != nodeA {
			child = child.Parent
		}
		if ChildIndex(child) < offA {
			return 1
		}
	}
	return -1
}

// Contains reports whether n is fully contained in the range.
func (r *Range) Contains(n *html.Node) bool {
	if n.Parent == nil || rootOf(n) != rootOf(r.StartContainer) {
		return false
	}
	return r.doc.ComparePoints(n, 0, r.StartContainer, r.StartOffset) > 0 &&
		r.doc.ComparePoints(n, NodeLength(n), r.EndContainer, r.EndOffset) < 0
}

// PartiallyContains reports whether n is an inclusive ancestor of exactly
// one boundary container.
func (r *Range) PartiallyContains(n *html.Node) bool {
	a := IsInclusiveAncestor(n, r.StartContainer)
	b := IsInclusiveAncestor(n, r.EndContainer)
	return a != b
}

// Intersects reports whether any part of n lies inside the range.
func (r *Range) Intersects(n *html.Node) bool {
	if rootOf(n) != rootOf(r.StartContainer) {
		return false
	}
	p := n.Parent
	if p == nil {
		return true
	}
	off := ChildIndex(n)
	return r.doc.ComparePoints(p, off, r.EndContainer, r.EndOffset) < 0 &&
		r.doc.ComparePoints(p, off+1, r.StartContainer, r.StartOffset) > 0
}

// CloneContents copies the range into a detached fragment. Every cloned
// element remembers the live node it came from.
func (r *Range) CloneContents() *Fragment {
	f := newFragment(r.doc)
	r.cloneInto(f, f.Root)
	return f
}

func (r *Range) cloneInto(f *Fragment, dst *html.Node) {
	if r.Collapsed() {
		return
	}
	sc, so, ec, eo := r.StartContainer, r.StartOffset, r.EndContainer, r.EndOffset

	if sc == ec && isCharacterData(sc) {
		c := f.clone(sc)
		c.Data = sc.Data[so:eo]
		dst.AppendChild(c)
		return
	}

	ca := r.CommonAncestor()
	var firstPartial, lastPartial *html.Node
	if !IsInclusiveAncestor(sc, ec) {
		for c := ca.FirstChild; c != nil; c = c.NextSibling {
			if r.PartiallyContains(c) {
				firstPartial = c
				break
			}
		}
	}
	if !IsInclusiveAncestor(ec, sc) {
		for c := ca.LastChild; c != nil; c = c.PrevSibling {
			if r.PartiallyContains(c) {
				lastPartial = c
				break
			}
		}
	}

	if firstPartial != nil {
		if isCharacterData(firstPartial) {
			c := f.clone(firstPartial)
			c.Data = sc.Data[so:]
			dst.AppendChild(c)
		} else {
			c := f.clone(firstPartial)
			dst.AppendChild(c)
			sub := &Range{doc: r.doc, StartContainer: sc, StartOffset: so, EndContainer: firstPartial, EndOffset: NodeLength(firstPartial)}
			sub.cloneInto(f, c)
		}
	}

	for c := ca.FirstChild; c != nil; c = c.NextSibling {
		if c == firstPartial || c == lastPartial {
			continue
		}
		if r.Contains(c) {
			dst.AppendChild(f.deepClone(c))
		}
	}

	if lastPartial != nil {
		if isCharacterData(lastPartial) {
			c := f.clone(lastPartial)
			c.Data = ec.Data[:eo]
			dst.AppendChild(c)
		} else {
			c := f.clone(lastPartial)
			dst.AppendChild(c)
			sub := &Range{doc: r.doc, StartContainer: lastPartial, StartOffset: 0, EndContainer: ec, EndOffset: eo}
			sub.cloneInto(f, c)
		}
	}
}

// DeleteContents removes the range's content from the live tree and
// collapses the range where the content was.
func (r *Range) DeleteContents() {
	if r.Collapsed() {
		return
	}
	sc, so, ec, eo := r.StartContainer, r.StartOffset, r.EndContainer, r.EndOffset
	if sc == ec && isCharacterData(sc) {
		sc.Data = sc.Data[:so] + sc.Data[eo:]
		r.Collapse(true)
		return
	}

	var toRemove []*html.Node
	ca := r.CommonAncestor()
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if r.Contains(c) {
				toRemove = append(toRemove, c)
				continue
			}
			walk(c)
		}
	}
	walk(ca)

	var newNode *html.Node
	var newOffset int
	if IsInclusiveAncestor(sc, ec) {
		newNode, newOffset = sc, so
	} else {
		ref := sc
		for ref.Parent != nil && !IsInclusiveAncestor(ref.Parent, ec) {
			ref = ref.Parent
		}
		newNode, newOffset = ref.Parent, ChildIndex(ref)+1
	}

	if isCharacterData(sc) {
		sc.Data = sc.Data[:so]
	}
	for _, n := range toRemove {
		Detach(n)
	}
	if isCharacterData(ec) {
		ec.Data = ec.Data[eo:]
	}
	r.doc.Invalidate()
	r.StartContainer, r.StartOffset = newNode, newOffset
	r.EndContainer, r.EndOffset = newNode, newOffset
}

// InsertNodes inserts nodes at the range start, splitting a text container
// when needed. The range ends up spanning the inserted nodes.
func (r *Range) InsertNodes(nodes []*html.Node) {
	if len(nodes) == 0 {
		return
	}
	sc, so := r.StartContainer, r.StartOffset
	var parent, ref *html.Node
	if isCharacterData(sc) {
		parent = sc.Parent
		if so < len(sc.Data) {
			tail := CreateText(sc.Data[so:])
			sc.Data = sc.Data[:so]
			parent.InsertBefore(tail, sc.NextSibling)
			ref = tail
		} else {
			ref = sc.NextSibling
		}
	} else {
		parent = sc
		ref = childAt(sc, so)
	}
	for _, n := range nodes {
		Detach(n)
		parent.InsertBefore(n, ref)
	}
	r.doc.Invalidate()
	first := nodes[0]
	last := nodes[len(nodes)-1]
	r.StartContainer, r.StartOffset = parent, ChildIndex(first)
	r.EndContainer, r.EndOffset = parent, ChildIndex(last)+1
}
