package intercept

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/net/html"

	"pasteinliner/dom"
	"pasteinliner/resolve"
)

// HandleKeyDown is the keyboard backstop. On Ctrl/Cmd+C it schedules a pass
// that, once the copy has settled, patches the images of the clipboard HTML
// in place. The pass only runs when the copy handler did not take the
// gesture. It returns nil when nothing was scheduled.
func (in *Interceptor) HandleKeyDown(ev KeyEvent) *BackstopRun {
	if !in.Backstop || !ev.IsCopyShortcut() || ev.Doc == nil {
		return nil
	}
	now := in.now()
	debounce := in.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	in.mu.Lock()
	if now.Sub(in.lastBackstop) < debounce || in.processingCopy {
		in.mu.Unlock()
		return nil
	}
	in.lastBackstop = now
	in.mu.Unlock()

	if !in.Validity.Valid() {
		return nil
	}
	sel := ev.Doc.Selection
	if sel.RangeCount() == 0 {
		return nil
	}
	f := sel.RangeAt(0).CloneContents()
	_, urls := collectImages(f.Images(), f.ResolveURL, copySources...)
	if len(urls) == 0 {
		return nil
	}
	base := ""
	if ev.Doc.Base != nil {
		base = ev.Doc.Base.String()
	}
	run := newBackstopRun(now)
	go in.backstop(run, urls, base)
	return run
}

func (in *Interceptor) backstop(run *BackstopRun, urls []string, base string) {
	out := BackstopOutcome{Kind: BackstopSkipped, URLs: len(urls)}
	defer func() {
		if r := recover(); r != nil {
			in.logger().Printf("BACKSTOP run=%s panic=%v", run.ID, r)
			out = BackstopOutcome{Kind: BackstopUnchanged, URLs: len(urls), Err: fmt.Errorf("intercept: backstop: %v", r)}
		}
		run.finish(out)
	}()

	settle := in.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	<-in.after(settle)

	if in.primaryHandled(run.Pressed) {
		in.logger().Printf("BACKSTOP run=%s skipped reason=primary", run.ID)
		return
	}
	if !in.setProcessing() {
		in.logger().Printf("BACKSTOP run=%s skipped reason=processing", run.ID)
		return
	}
	defer in.clearProcessing()

	out.Kind = BackstopUnchanged
	resp, err := in.raceResolve(urls)
	if err != nil {
		in.logger().Printf("BACKSTOP run=%s resolve failed err=%v", run.ID, err)
		out.Err = err
		return
	}
	if in.Clipboard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), in.timeout())
	defer cancel()
	cur, err := in.Clipboard.Read(ctx)
	if err != nil {
		in.logger().Printf("BACKSTOP run=%s clipboard read failed err=%v", run.ID, err)
		out.Err = err
		return
	}
	if cur.HTML == "" {
		return
	}
	patched, n, err := PatchHTML(cur.HTML, base, resp)
	if err != nil {
		out.Err = err
		return
	}
	out.Rewritten = n
	if n == 0 {
		return
	}
	if err := in.Clipboard.Write(ctx, ClipboardItem{HTML: patched, Text: cur.Text}); err != nil {
		in.logger().Printf("BACKSTOP run=%s clipboard write failed err=%v", run.ID, err)
		out.Err = err
		return
	}
	out.Kind = BackstopPatched
	in.logger().Printf("BACKSTOP run=%s patched=%d/%d", run.ID, n, len(urls))
}

// primaryHandled waits for the copy operation of the same gesture, if any,
// and reports whether it took over the clipboard.
func (in *Interceptor) primaryHandled(pressed time.Time) bool {
	window := in.GestureWindow
	if window <= 0 {
		window = DefaultGestureWindow
	}
	in.mu.Lock()
	op := in.lastPrimary
	in.mu.Unlock()
	if op == nil || op.Started.Before(pressed.Add(-window)) {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*in.timeout())
	defer cancel()
	out, err := op.Wait(ctx)
	if err != nil {
		return true
	}
	return out.Kind != DefaultCopy
}

// PatchHTML rewrites the images of a serialized fragment whose source has
// a successful result in resp. Sources are compared both verbatim and
// resolved against base.
func PatchHTML(markup, base string, resp resolve.Response) (string, int, error) {
	f, err := dom.ParseFragment(markup, base)
	if err != nil {
		return markup, 0, err
	}
	n := 0
	for _, img := range f.Images() {
		if patchImage(f, img, resp) {
			n++
		}
	}
	if n == 0 {
		return markup, 0, nil
	}
	out, err := f.HTML()
	if err != nil {
		return markup, 0, err
	}
	return out, n, nil
}

func patchImage(f *dom.Fragment, img *html.Node, resp resolve.Response) bool {
	for _, attr := range copySources {
		raw := dom.GetAttr(img, attr)
		if raw == "" || resolve.IsEphemeral(raw) {
			continue
		}
		res, ok := resp[raw]
		if !ok {
			res, ok = resp[f.ResolveURL(raw)]
		}
		if !ok || !res.OK || res.DataURL == "" {
			continue
		}
		dom.SetAttr(img, "src", res.DataURL)
		for _, a := range lazyAttrs {
			dom.RemoveAttr(img, a)
		}
		return true
	}
	return false
}
