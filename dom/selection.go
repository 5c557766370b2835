package dom

import "golang.org/x/net/html"

// Selection is the document's current selection: zero or more ranges.
type Selection struct {
	ranges []*Range
}

// RangeCount returns the number of ranges.
func (s *Selection) RangeCount() int {
	if s == nil {
		return 0
	}
	return len(s.ranges)
}

// RangeAt returns the i-th range or nil.
func (s *Selection) RangeAt(i int) *Range {
	if s == nil || i < 0 || i >= len(s.ranges) {
		return nil
	}
	return s.ranges[i]
}

// AddRange appends r to the selection.
func (s *Selection) AddRange(r *Range) {
	if r != nil {
		s.ranges = append(s.ranges, r)
	}
}

// RemoveAllRanges clears the selection.
func (s *Selection) RemoveAllRanges() { s.ranges = nil }

// AnchorNode returns the start container of the first range.
func (s *Selection) AnchorNode() *html.Node {
	if r := s.RangeAt(0); r != nil {
		return r.StartContainer
	}
	return nil
}

// IsCollapsed reports whether the selection is empty or a caret.
func (s *Selection) IsCollapsed() bool {
	r := s.RangeAt(0)
	return r == nil || r.Collapsed()
}

// String returns the selected text.
func (s *Selection) String() string {
	r := s.RangeAt(0)
	if r == nil || r.Collapsed() {
		return ""
	}
	return r.CloneContents().Text()
}

// Select replaces the selection with a single range.
func (d *Document) Select(r *Range) {
	d.Selection.RemoveAllRanges()
	d.Selection.AddRange(r)
}

// SelectAll selects the whole body the way Ctrl+A does.
func (d *Document) SelectAll() {
	r := d.NewRange()
	r.SelectNodeContents(d.Body())
	d.Select(r)
}
