package intercept

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pasteinliner/cosmetic"
	"pasteinliner/dom"
	"pasteinliner/reconcile"
	"pasteinliner/resolve"
)

// copySources are the attributes a copied image may load from.
var copySources = []string{"src", "data-src", "data-original"}

type copyJob struct {
	ev       *CopyEvent
	frag     *dom.Fragment
	urls     []string
	fallback ClipboardItem
}

// HandleCopy is the copy event handler. The reconstructed fragment is in
// ev.ClipboardData when it returns; image resolution continues on the
// returned operation.
func (in *Interceptor) HandleCopy(ev *CopyEvent) *CopyOperation {
	op := newCopyOperation(in.now())
	in.mu.Lock()
	in.lastPrimary = op
	in.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			in.logger().Printf("COPY op=%s panic=%v", op.ID, r)
			kind := DefaultCopy
			if ev.DefaultPrevented() {
				kind = Fallback
			}
			op.finish(CopyOutcome{Kind: kind, Err: fmt.Errorf("intercept: copy handler: %v", r)})
		}
	}()

	out, job := in.copySync(op, ev)
	if job == nil {
		if out.Err != nil && !errors.Is(out.Err, ErrNoSelection) {
			in.logger().Printf("COPY op=%s outcome=%s reason=%v", op.ID, out.Kind, out.Err)
		}
		op.finish(out)
		return op
	}
	go in.copyAsync(op, job)
	return op
}

// copySync runs everything that has to happen during the event dispatch.
// A nil job means the operation is already over.
func (in *Interceptor) copySync(op *CopyOperation, ev *CopyEvent) (CopyOutcome, *copyJob) {
	if !in.Validity.Valid() {
		return CopyOutcome{Kind: DefaultCopy, Err: ErrInvalidated}, nil
	}
	doc := ev.Doc
	if doc == nil || doc.Selection.RangeCount() == 0 || doc.Selection.IsCollapsed() {
		return CopyOutcome{Kind: DefaultCopy, Err: ErrNoSelection}, nil
	}

	op.setState(CapturingSelection)
	r := doc.Selection.RangeAt(0).Clone()
	extended := reconcile.ExtendForCaptions(doc, r)
	selectAll := reconcile.IsSelectAll(doc, r)

	op.setState(BuildingFragment)
	f := r.CloneContents()
	if selectAll {
		reconcile.StripInjected(f, in.Injected)
	}
	absolutize(f)
	if _, urls := collectImages(f.Images(), f.ResolveURL, copySources...); len(urls) == 0 {
		return CopyOutcome{Kind: DefaultCopy, Err: ErrNothingToInline}, nil
	}

	rc := &reconcile.Reconciler{Logger: in.Logger}
	styles := rc.Styles(f, r)
	captions := rc.Captions(f, r)
	cp := &cosmetic.Pipeline{Logger: in.Logger}
	cos := cp.Run(f, in.cosmeticConfig())

	markup, err := f.HTML()
	if err != nil {
		return CopyOutcome{Kind: DefaultCopy, Err: fmt.Errorf("intercept: serialize fragment: %w", err)}, nil
	}
	text := in.plainText(f, markup)
	ev.ClipboardData.SetData(MimeHTML, markup)
	ev.ClipboardData.SetData(MimePlain, text)
	ev.PreventDefault()

	_, urls := collectImages(f.Images(), f.ResolveURL, copySources...)
	in.logger().Printf("COPY op=%s extended=%v select_all=%v styles=%s captions=%d cosmetic=%s urls=%d",
		op.ID, extended, selectAll, styles, captions, cos, len(urls))

	fallback := ClipboardItem{HTML: markup, Text: text}
	if len(urls) == 0 {
		return CopyOutcome{Kind: Fallback, Err: ErrNothingToInline, HTML: markup, Text: text}, nil
	}
	return CopyOutcome{}, &copyJob{ev: ev, frag: f, urls: urls, fallback: fallback}
}

// copyAsync resolves the images and overwrites the clipboard when at least
// one of them was inlined.
func (in *Interceptor) copyAsync(op *CopyOperation, job *copyJob) {
	out := CopyOutcome{Kind: Fallback, URLs: len(job.urls), HTML: job.fallback.HTML, Text: job.fallback.Text}
	defer func() {
		if r := recover(); r != nil {
			in.logger().Printf("COPY op=%s async panic=%v", op.ID, r)
			out.Kind = Fallback
			out.Err = fmt.Errorf("intercept: copy continuation: %v", r)
			out.HTML, out.Text = job.fallback.HTML, job.fallback.Text
		}
		op.finish(out)
	}()

	owned := in.setProcessing()
	if owned {
		defer in.clearProcessing()
	}

	op.setState(AwaitingResolution)
	resp, err := in.raceResolve(job.urls)
	if err != nil {
		in.logger().Printf("COPY op=%s resolve failed urls=%d err=%v", op.ID, len(job.urls), err)
		out.Err = err
		return
	}

	op.setState(Finalizing)
	byImg, _ := collectImages(job.frag.Images(), job.frag.ResolveURL, copySources...)
	n := rewriteImages(byImg, resp)
	out.Rewritten = n
	if n == 0 {
		in.logger().Printf("COPY op=%s no image inlined ok=0/%d", op.ID, len(job.urls))
		return
	}
	markup, err := job.frag.HTML()
	if err != nil {
		out.Err = fmt.Errorf("intercept: serialize fragment: %w", err)
		return
	}
	item := ClipboardItem{HTML: markup, Text: in.plainText(job.frag, markup)}
	if in.Clipboard == nil {
		out.Err = errors.New("intercept: no clipboard")
		return
	}

	select {
	case <-job.ev.committed():
	case <-in.after(in.timeout()):
	}
	ctx, cancel := context.WithTimeout(context.Background(), in.timeout())
	defer cancel()
	if err := in.Clipboard.Write(ctx, item); err != nil {
		in.logger().Printf("COPY op=%s clipboard write failed err=%v", op.ID, err)
		out.Err = err
		return
	}
	out.Kind = Inlined
	out.HTML, out.Text = item.HTML, item.Text
	in.logger().Printf("COPY op=%s inlined=%d/%d", op.ID, n, len(job.urls))
}

// absolutize rewrites relative image sources and link targets against the
// document base, as the browser does when it serializes a selection.
func absolutize(f *dom.Fragment) {
	for _, n := range f.Elements("img", "a") {
		attrs := []string{"src", "data-src", "data-original"}
		if n.Data == "a" {
			attrs = []string{"href"}
		}
		for _, a := range attrs {
			v := strings.TrimSpace(dom.GetAttr(n, a))
			if v == "" || resolve.IsEphemeral(v) || strings.HasPrefix(v, "#") {
				continue
			}
			dom.SetAttr(n, a, f.ResolveURL(v))
		}
	}
}

type batch struct {
	resp resolve.Response
	err  error
}

// raceResolve resolves urls against the timeout. A late answer is dropped.
func (in *Interceptor) raceResolve(urls []string) (resolve.Response, error) {
	ch := make(chan batch, 1)
	go func() {
		resp, err := in.resolveBatch(context.Background(), urls)
		ch <- batch{resp: resp, err: err}
	}()
	select {
	case b := <-ch:
		return b.resp, b.err
	case <-in.after(in.timeout()):
		return nil, ErrTimeout
	}
}

// Copy dispatches a copy event on doc the way a browser does: the handler
// runs, then either its payload or the plain selection is committed to the
// clipboard.
func (in *Interceptor) Copy(ctx context.Context, doc *dom.Document) (*CopyOperation, error) {
	ev := NewCopyEvent(doc)
	op := in.HandleCopy(ev)
	defer ev.Dispatched()

	item := ClipboardItem{HTML: ev.ClipboardData.GetData(MimeHTML), Text: ev.ClipboardData.GetData(MimePlain)}
	if !ev.DefaultPrevented() {
		var err error
		item, err = NativeCopy(doc)
		if err != nil {
			return op, err
		}
	}
	if in.Clipboard == nil {
		return op, errors.New("intercept: no clipboard")
	}
	if err := in.Clipboard.Write(ctx, item); err != nil {
		return op, fmt.Errorf("intercept: commit copy: %w", err)
	}
	return op, nil
}

// NativeCopy is what the browser copies when nobody intercepts: the
// selection's markup and text, without reconciliation.
func NativeCopy(doc *dom.Document) (ClipboardItem, error) {
	if doc == nil || doc.Selection.IsCollapsed() {
		return ClipboardItem{}, ErrNoSelection
	}
	f := doc.Selection.RangeAt(0).CloneContents()
	markup, err := f.HTML()
	if err != nil {
		return ClipboardItem{}, err
	}
	return ClipboardItem{HTML: markup, Text: f.Text()}, nil
}
