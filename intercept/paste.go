package intercept

import (
	"context"
	"fmt"

	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// pasteSources are the attributes a pasted image may load from.
var pasteSources = []string{"src", "data-src"}

// PasteKind says how a paste ended.
type PasteKind int

const (
	// PasteDefault means the browser pasted on its own.
	PasteDefault PasteKind = iota
	// PasteFailed means the default was prevented but nothing was inserted.
	PasteFailed
	// PasteInserted means the rewritten HTML is in the document.
	PasteInserted
)

func (k PasteKind) String() string {
	switch k {
	case PasteDefault:
		return "default"
	case PasteFailed:
		return "failed"
	case PasteInserted:
		return "inserted"
	}
	return "unknown"
}

// PasteOutcome describes a finished paste.
type PasteOutcome struct {
	Kind      PasteKind
	Err       error
	Host      *html.Node
	URLs      int
	Rewritten int
	Inserted  []*html.Node
}

// HandlePaste is the paste event handler. It blocks until the images are
// resolved and the HTML is inserted at the caret.
func (in *Interceptor) HandlePaste(ctx context.Context, ev *PasteEvent) (out PasteOutcome) {
	id := newID()
	defer func() {
		if r := recover(); r != nil {
			in.logger().Printf("PASTE op=%s panic=%v", id, r)
			out.Err = fmt.Errorf("intercept: paste handler: %v", r)
			if out.Kind == PasteInserted {
				out.Kind = PasteFailed
			}
			if !ev.DefaultPrevented() {
				out.Kind = PasteDefault
			}
		}
	}()

	if !in.Validity.Valid() {
		return PasteOutcome{Kind: PasteDefault, Err: ErrInvalidated}
	}
	doc := ev.Doc
	host := FindEditableHost(doc, ev.Path)
	if host == nil {
		return PasteOutcome{Kind: PasteDefault}
	}
	out.Host = host
	markup := ev.ClipboardData.GetData(MimeHTML)
	if markup == "" {
		return out
	}
	base := ""
	if doc.Base != nil {
		base = doc.Base.String()
	}
	f, err := dom.ParseFragment(markup, base)
	if err != nil {
		out.Err = err
		return out
	}
	byImg, urls := collectImages(f.Images(), f.ResolveURL, pasteSources...)
	if len(urls) == 0 {
		out.Err = ErrNothingToInline
		return out
	}
	out.URLs = len(urls)

	ev.PreventDefault()
	out.Kind = PasteFailed
	resp, err := in.resolveBatch(ctx, urls)
	if err != nil {
		in.logger().Printf("PASTE op=%s resolve failed urls=%d err=%v", id, len(urls), err)
		out.Err = err
		return out
	}
	out.Rewritten = rewriteImages(byImg, resp)

	if in.Sanitize {
		clean, err := f.HTML()
		if err == nil {
			f, err = dom.ParseFragment(sanitizePolicy().Sanitize(clean), base)
		}
		if err != nil {
			out.Err = fmt.Errorf("intercept: sanitize: %w", err)
			return out
		}
	}

	nodes, err := insertAtCaret(doc, f)
	if err != nil {
		out.Err = err
		return out
	}
	out.Kind = PasteInserted
	out.Inserted = nodes
	in.logger().Printf("PASTE op=%s host=%s inlined=%d/%d", id, host.Data, out.Rewritten, len(urls))
	return out
}

// insertAtCaret replaces the selection with the fragment's nodes and leaves
// a caret after them.
func insertAtCaret(doc *dom.Document, f *dom.Fragment) ([]*html.Node, error) {
	r := doc.Selection.RangeAt(0)
	if r == nil {
		return nil, ErrNoSelection
	}
	r.DeleteContents()
	nodes := f.Nodes()
	r.InsertNodes(nodes)
	r.Collapse(false)
	doc.Select(r)
	return nodes, nil
}
