package browser

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// idAttr tags every element while the page is snapshotted.
const idAttr = "data-pi-id"

// Snapshot is what the page script reports back.
type Snapshot struct {
	URL       string                  `json:"url"`
	HTML      string                  `json:"html"`
	Nodes     map[string]NodeSnapshot `json:"nodes"`
	Selection *SelectionSnapshot      `json:"selection,omitempty"`
}

// NodeSnapshot holds one element's computed style and bounding box.
type NodeSnapshot struct {
	Style map[string]string `json:"style"`
	Rect  dom.Rect          `json:"rect"`
}

// Boundary addresses a range boundary. Elements are named by their tag id;
// text containers by their parent's id and child index. Offsets of text
// containers are in UTF-16 code units as the page reports them.
type Boundary struct {
	Element string `json:"el"`
	Child   int    `json:"child"`
	Text    bool   `json:"text"`
	Offset  int    `json:"offset"`
}

// SelectionSnapshot is the page's first selection range.
type SelectionSnapshot struct {
	Start Boundary `json:"start"`
	End   Boundary `json:"end"`
}

// snapshotScript tags elements, optionally selects the contents of the
// first element matching the query, then returns a Snapshot.
const snapshotScript = `(() => {
  const props = %s;
  const query = %s;
  const all = document.querySelectorAll('*');
  all.forEach((el, i) => el.setAttribute('%[3]s', String(i)));
  if (query) {
    const target = document.querySelector(query);
    if (target) {
      const sel = window.getSelection();
      sel.removeAllRanges();
      const r = document.createRange();
      r.selectNodeContents(target);
      sel.addRange(r);
    }
  }
  const nodes = {};
  all.forEach((el) => {
    const cs = getComputedStyle(el);
    const style = {};
    props.forEach((p) => { const v = cs.getPropertyValue(p); if (v) style[p] = v; });
    const b = el.getBoundingClientRect();
    nodes[el.getAttribute('%[3]s')] = {style, rect: {x: b.x, y: b.y, width: b.width, height: b.height}};
  });
  const boundary = (node, offset) => {
    if (node.nodeType === Node.ELEMENT_NODE) {
      return {el: node.getAttribute('%[3]s') || '', child: 0, text: false, offset};
    }
    const parent = node.parentNode;
    const child = Array.prototype.indexOf.call(parent.childNodes, node);
    return {el: parent.getAttribute ? (parent.getAttribute('%[3]s') || '') : '', child, text: true, offset};
  };
  let selection = null;
  const sel = window.getSelection();
  if (sel && sel.rangeCount > 0) {
    const r = sel.getRangeAt(0);
    selection = {start: boundary(r.startContainer, r.startOffset), end: boundary(r.endContainer, r.endOffset)};
  }
  return {url: location.href, html: document.documentElement.outerHTML, nodes, selection};
})()`

func buildScript(props []string, query string) (string, error) {
	p, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	q, err := json.Marshal(strings.TrimSpace(query))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(snapshotScript, p, q, idAttr), nil
}

// Document turns a snapshot into a live document carrying the page's
// computed styles, layout boxes and selection.
func (s *Snapshot) Document() (*dom.Document, error) {
	root, err := html.Parse(strings.NewReader(s.HTML))
	if err != nil {
		return nil, fmt.Errorf("browser: parse snapshot: %w", err)
	}
	doc, err := dom.NewDocument(root, s.URL)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*html.Node)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if id := dom.GetAttr(n, idAttr); id != "" {
				byID[id] = n
				dom.RemoveAttr(n, idAttr)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	for id, ns := range s.Nodes {
		n := byID[id]
		if n == nil {
			continue
		}
		if len(ns.Style) > 0 {
			doc.SetComputedStyle(n, dom.Style(ns.Style))
		}
		doc.SetBox(n, ns.Rect)
	}

	if s.Selection != nil {
		sn, so, ok := locate(byID, s.Selection.Start)
		en, eo, ok2 := locate(byID, s.Selection.End)
		if ok && ok2 {
			r, err := doc.RangeOf(sn, so, en, eo)
			if err != nil {
				return nil, fmt.Errorf("browser: selection: %w", err)
			}
			doc.Select(r)
		}
	}
	return doc, nil
}

func locate(byID map[string]*html.Node, b Boundary) (*html.Node, int, bool) {
	n := byID[b.Element]
	if n == nil {
		return nil, 0, false
	}
	if !b.Text {
		return n, clamp(b.Offset, dom.NodeLength(n)), true
	}
	i := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if i == b.Child {
			if c.Type != html.TextNode {
				return n, clamp(b.Child, dom.NodeLength(n)), true
			}
			return c, utf16ToByteOffset(c.Data, b.Offset), true
		}
		i++
	}
	return n, dom.NodeLength(n), true
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// utf16ToByteOffset converts an offset in UTF-16 code units into a byte
// offset into s.
func utf16ToByteOffset(s string, units int) int {
	if units <= 0 {
		return 0
	}
	seen := 0
	for i, r := range s {
		if seen >= units {
			return i
		}
		if n := utf16.RuneLen(r); n > 0 {
			seen += n
		} else {
			seen++
		}
	}
	return len(s)
}
