package intercept

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"pasteinliner/cosmetic"
	"pasteinliner/dom"
	"pasteinliner/resolve"
)

type memClipboard struct {
	mu     sync.Mutex
	item   ClipboardItem
	writes int
}

func (m *memClipboard) Read(ctx context.Context) (ClipboardItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.item, nil
}

func (m *memClipboard) Write(ctx context.Context, item ClipboardItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.item = item
	m.writes++
	return nil
}

func (m *memClipboard) current() (ClipboardItem, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.item, m.writes
}

// fakeService answers from a fixed table and counts calls.
type fakeService struct {
	results resolve.Response
	err     error
	block   chan struct{}
	calls   atomic.Int32
}

func (s *fakeService) Resolve(ctx context.Context, urls []string) (resolve.Response, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make(resolve.Response)
	for _, u := range urls {
		if r, ok := s.results[u]; ok {
			out[u] = r
		}
	}
	return out, nil
}

func okResult(payload string) resolve.Result {
	return resolve.Result{OK: true, DataURL: payload, MimeType: "image/png", OriginalSize: 1}
}

func newTestInterceptor(svc resolve.Service) (*Interceptor, *memClipboard) {
	cb := &memClipboard{}
	in := New(svc, cb)
	in.Logger = log.New(io.Discard, "", 0)
	return in, cb
}

func mustDoc(t *testing.T, src string) *dom.Document {
	t.Helper()
	d, err := dom.ParseDocumentString(src, "https://site.example/page/")
	require.NoError(t, err)
	return d
}

func mustQuery(t *testing.T, d *dom.Document, sel string) *html.Node {
	t.Helper()
	n, err := d.QuerySelector(sel)
	require.NoError(t, err)
	require.NotNil(t, n, sel)
	return n
}

func selectContents(d *dom.Document, n *html.Node) {
	r := d.NewRange()
	r.SelectNodeContents(n)
	d.Select(r)
}

func images(t *testing.T, markup string) []*html.Node {
	t.Helper()
	f, err := dom.ParseFragment(markup, "")
	require.NoError(t, err)
	return f.Images()
}

func waitCopy(t *testing.T, op *CopyOperation) CopyOutcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := op.Wait(ctx)
	require.NoError(t, err)
	return out
}

const payloadA = "data:image/png;base64,QQ=="

func TestCopyInlinesImages(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">Look <img src="https://host/a.png" data-src="https://host/a.png" loading="lazy"> here</p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	svc := &fakeService{results: resolve.Response{"https://host/a.png": okResult(payloadA)}}
	in, cb := newTestInterceptor(svc)

	op, err := in.Copy(context.Background(), d)
	require.NoError(t, err)
	out := waitCopy(t, op)

	assert.Equal(t, Inlined, out.Kind)
	assert.NoError(t, out.Err)
	assert.Equal(t, 1, out.Rewritten)
	assert.Equal(t, Idle, op.State())

	item, writes := cb.current()
	assert.Equal(t, 2, writes, "fallback commit plus async overwrite")
	imgs := images(t, item.HTML)
	require.Len(t, imgs, 1)
	assert.Equal(t, payloadA, dom.GetAttr(imgs[0], "src"))
	assert.False(t, dom.HasAttr(imgs[0], "data-src"))
	assert.False(t, dom.HasAttr(imgs[0], "loading"))
	assert.Contains(t, item.Text, "Look")
}

func TestCopyWritesFallbackDuringEvent(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">Look <img src="/a.png"> here</p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	svc := &fakeService{block: make(chan struct{})}
	in, _ := newTestInterceptor(svc)

	ev := NewCopyEvent(d)
	op := in.HandleCopy(ev)
	require.True(t, ev.DefaultPrevented())
	markup := ev.ClipboardData.GetData(MimeHTML)
	assert.Contains(t, markup, `src="https://site.example/a.png"`)
	assert.NotEmpty(t, ev.ClipboardData.GetData(MimePlain))
	assert.Equal(t, []string{MimeHTML, MimePlain}, ev.ClipboardData.Types())

	assert.Eventually(t, func() bool { return op.State() == AwaitingResolution }, time.Second, time.Millisecond)
	close(svc.block)
	ev.Dispatched()
	out := waitCopy(t, op)
	assert.Equal(t, Fallback, out.Kind)
	assert.Equal(t, 0, out.Rewritten)
}

func TestCopyTimeoutKeepsFallback(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">Caption text <img src="https://host/a.png"></p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	svc := &fakeService{block: make(chan struct{}), results: resolve.Response{"https://host/a.png": okResult(payloadA)}}
	in, cb := newTestInterceptor(svc)
	in.After = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	op, err := in.Copy(context.Background(), d)
	require.NoError(t, err)
	out := waitCopy(t, op)
	assert.Equal(t, Fallback, out.Kind)
	assert.ErrorIs(t, out.Err, ErrTimeout)

	item, writes := cb.current()
	assert.Equal(t, 1, writes)
	assert.NotEmpty(t, item.HTML)
	assert.NotEmpty(t, item.Text)
	assert.Equal(t, out.HTML, item.HTML)
	assert.Equal(t, out.Text, item.Text)

	// The late answer is dropped.
	close(svc.block)
	assert.Never(t, func() bool {
		_, n := cb.current()
		return n > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, in.Processing())
}

func TestCopyWithoutImagesIsNative(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">only <img src="data:image/gif;base64,R0lGOD"> text</p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	svc := &fakeService{}
	in, cb := newTestInterceptor(svc)

	ev := NewCopyEvent(d)
	out := waitCopy(t, in.HandleCopy(ev))
	assert.Equal(t, DefaultCopy, out.Kind)
	assert.ErrorIs(t, out.Err, ErrNothingToInline)
	assert.False(t, ev.DefaultPrevented())
	assert.Empty(t, ev.ClipboardData.Types())

	op, err := in.Copy(context.Background(), d)
	require.NoError(t, err)
	waitCopy(t, op)
	item, _ := cb.current()
	assert.Contains(t, item.HTML, "only")
	assert.Equal(t, int32(0), svc.calls.Load())
}

func TestCopyEmptySelection(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">text <img src="https://host/a.png"></p>`)
	in, _ := newTestInterceptor(&fakeService{})
	ev := NewCopyEvent(d)
	out := waitCopy(t, in.HandleCopy(ev))
	assert.Equal(t, DefaultCopy, out.Kind)
	assert.ErrorIs(t, out.Err, ErrNoSelection)
	assert.False(t, ev.DefaultPrevented())
}

func TestCopySerializeFailureLeavesEventAlone(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<div id="d"><br><h1>Title</h1><img src="https://host/a.png"></div>`)
	br := mustQuery(t, d, "br")
	br.AppendChild(&html.Node{Type: html.TextNode, Data: "x"})
	selectContents(d, mustQuery(t, d, "#d"))
	svc := &fakeService{results: resolve.Response{"https://host/a.png": okResult(payloadA)}}
	in, cb := newTestInterceptor(svc)

	ev := NewCopyEvent(d)
	out := waitCopy(t, in.HandleCopy(ev))
	ev.Dispatched()

	assert.Equal(t, DefaultCopy, out.Kind)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "serialize")
	assert.False(t, ev.DefaultPrevented())
	assert.Empty(t, ev.ClipboardData.Types())
	assert.Empty(t, ev.ClipboardData.GetData(MimeHTML))
	assert.Equal(t, int32(0), svc.calls.Load())
	_, writes := cb.current()
	assert.Equal(t, 0, writes)
}

func TestCopyIgnoresVoidHeadingMapping(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<div id="d"><h1>Title</h1><img src="https://host/a.png"></div>`)
	selectContents(d, mustQuery(t, d, "#d"))
	svc := &fakeService{results: resolve.Response{"https://host/a.png": okResult(payloadA)}}
	in, _ := newTestInterceptor(svc)
	cfg := cosmetic.Default()
	cfg.Heading.Enabled = true
	cfg.Heading.Mapping = map[string]string{"h1": "br"}
	in.Cosmetic = cosmetic.NewStore(cfg)

	ev := NewCopyEvent(d)
	op := in.HandleCopy(ev)
	require.True(t, ev.DefaultPrevented())
	assert.Contains(t, ev.ClipboardData.GetData(MimeHTML), "<h1")
	ev.Dispatched()
	out := waitCopy(t, op)
	assert.Equal(t, Inlined, out.Kind)
}

func TestCopyPartialFailure(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<div id="d"><img src="https://host/a.png"><img src="https://host/b.png"><img src="https://host/a.png"></div>`)
	selectContents(d, mustQuery(t, d, "#d"))
	svc := &fakeService{results: resolve.Response{
		"https://host/a.png": okResult(payloadA),
		"https://host/b.png": {OK: false, Error: "HTTP 404", URL: "https://host/b.png"},
	}}
	in, cb := newTestInterceptor(svc)
	op, err := in.Copy(context.Background(), d)
	require.NoError(t, err)
	out := waitCopy(t, op)
	assert.Equal(t, Inlined, out.Kind)
	assert.Equal(t, 2, out.URLs)
	assert.Equal(t, 2, out.Rewritten)

	item, _ := cb.current()
	imgs := images(t, item.HTML)
	require.Len(t, imgs, 3)
	assert.Equal(t, payloadA, dom.GetAttr(imgs[0], "src"))
	assert.Equal(t, "https://host/b.png", dom.GetAttr(imgs[1], "src"))
	assert.Equal(t, payloadA, dom.GetAttr(imgs[2], "src"))
}

func TestCopyNothingRewritten(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">x <img src="https://host/a.png"></p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	in, cb := newTestInterceptor(&fakeService{})
	op, err := in.Copy(context.Background(), d)
	require.NoError(t, err)
	out := waitCopy(t, op)
	assert.Equal(t, Fallback, out.Kind)
	assert.NoError(t, out.Err)
	_, writes := cb.current()
	assert.Equal(t, 1, writes)
}

func TestCopyContextInvalidated(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">x <img src="https://host/a.png"></p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	svc := &fakeService{err: resolve.ErrContextInvalidated}
	in, _ := newTestInterceptor(svc)

	out := waitCopy(t, in.HandleCopy(NewCopyEvent(d)))
	assert.Equal(t, Fallback, out.Kind)
	assert.ErrorIs(t, out.Err, ErrInvalidated)
	assert.False(t, in.Validity.Valid())

	ev := NewCopyEvent(d)
	out = waitCopy(t, in.HandleCopy(ev))
	assert.Equal(t, DefaultCopy, out.Kind)
	assert.False(t, ev.DefaultPrevented())
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestCopyServiceUnavailable(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">x <img src="https://host/a.png"></p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	in, _ := newTestInterceptor(&fakeService{err: resolve.ErrUnavailable})
	out := waitCopy(t, in.HandleCopy(NewCopyEvent(d)))
	assert.Equal(t, Fallback, out.Kind)
	assert.ErrorIs(t, out.Err, resolve.ErrUnavailable)
	assert.True(t, in.Validity.Valid())
}

func TestCopyExtendsCaptionedTable(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<table id="t"><caption>Cap</caption><tr><td id="c"><img src="https://host/a.png"> one</td></tr></table>`)
	selectContents(d, mustQuery(t, d, "#c"))
	in, _ := newTestInterceptor(&fakeService{block: make(chan struct{})})
	ev := NewCopyEvent(d)
	in.HandleCopy(ev)
	markup := ev.ClipboardData.GetData(MimeHTML)
	assert.Contains(t, markup, `Cap</div><table`)
	assert.Contains(t, markup, `id="t"`)
	assert.NotContains(t, markup, "<caption")
}

func TestCopySelectAllDropsInjectedUI(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<body><p>text <img src="https://host/a.png"></p><div id="paste-inliner-panel">settings <img src="https://host/ui.png"></div></body>`)
	d.SelectAll()
	in, _ := newTestInterceptor(&fakeService{block: make(chan struct{})})
	ev := NewCopyEvent(d)
	in.HandleCopy(ev)
	markup := ev.ClipboardData.GetData(MimeHTML)
	assert.NotContains(t, markup, "paste-inliner-panel")
	assert.NotContains(t, markup, "ui.png")
	assert.Contains(t, markup, "a.png")
}

func TestCopyMarkdownPlainText(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<div id="d"><p>Hello <b>bold</b> <img src="https://host/a.png"></p></div>`)
	selectContents(d, mustQuery(t, d, "#d"))
	in, _ := newTestInterceptor(&fakeService{block: make(chan struct{})})
	in.PlainText = PlainTextMarkdown
	ev := NewCopyEvent(d)
	in.HandleCopy(ev)
	assert.Contains(t, ev.ClipboardData.GetData(MimePlain), "**bold**")
}

func TestBackstopPatchesClipboard(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">x <img src="https://host/a.png?v=(1)+"></p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	svc := &fakeService{results: resolve.Response{"https://host/a.png?v=(1)+": okResult(payloadA)}}
	in, cb := newTestInterceptor(svc)
	in.SettleDelay = time.Millisecond
	require.NoError(t, cb.Write(context.Background(), ClipboardItem{
		HTML: `<p>x <img src="https://host/a.png?v=(1)+" loading="lazy"></p>`,
		Text: "x",
	}))

	run := in.HandleKeyDown(KeyEvent{Key: "c", Ctrl: true, Doc: d})
	require.NotNil(t, run)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := run.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, BackstopPatched, out.Kind)
	assert.Equal(t, 1, out.Rewritten)

	item, _ := cb.current()
	assert.Equal(t, "x", item.Text)
	imgs := images(t, item.HTML)
	require.Len(t, imgs, 1)
	assert.Equal(t, payloadA, dom.GetAttr(imgs[0], "src"))
	assert.False(t, dom.HasAttr(imgs[0], "loading"))
}

func TestBackstopSkipsWhenPrimaryHandled(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">x <img src="https://host/a.png"></p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	svc := &fakeService{results: resolve.Response{"https://host/a.png": okResult(payloadA)}}
	in, _ := newTestInterceptor(svc)
	settle := make(chan time.Time)
	in.After = func(d time.Duration) <-chan time.Time {
		if d == DefaultSettleDelay {
			return settle
		}
		return time.After(d)
	}

	run := in.HandleKeyDown(KeyEvent{Key: "C", Meta: true, Doc: d})
	require.NotNil(t, run)
	op, err := in.Copy(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Inlined, waitCopy(t, op).Kind)
	close(settle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := run.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, BackstopSkipped, out.Kind)
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestBackstopGating(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<p id="p">x <img src="https://host/a.png"></p>`)
	selectContents(d, mustQuery(t, d, "#p"))
	in, _ := newTestInterceptor(&fakeService{})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in.Clock = func() time.Time { return now }
	in.After = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	assert.Nil(t, in.HandleKeyDown(KeyEvent{Key: "v", Ctrl: true, Doc: d}))
	assert.Nil(t, in.HandleKeyDown(KeyEvent{Key: "c", Doc: d}))
	assert.NotNil(t, in.HandleKeyDown(KeyEvent{Key: "c", Ctrl: true, Doc: d}))

	now = now.Add(100 * time.Millisecond)
	assert.Nil(t, in.HandleKeyDown(KeyEvent{Key: "c", Ctrl: true, Doc: d}), "inside debounce window")

	now = now.Add(time.Second)
	require.True(t, in.setProcessing())
	assert.Nil(t, in.HandleKeyDown(KeyEvent{Key: "c", Ctrl: true, Doc: d}), "copy in flight")
	in.clearProcessing()

	now = now.Add(time.Second)
	in.Backstop = false
	assert.Nil(t, in.HandleKeyDown(KeyEvent{Key: "c", Ctrl: true, Doc: d}))
}

func TestPatchHTML(t *testing.T) {
	t.Parallel()
	resp := resolve.Response{
		"https://site.example/img/a.png": okResult(payloadA),
		"https://host/b.png":             {OK: false, Error: "boom"},
	}
	tests := []struct {
		name      string
		markup    string
		rewritten int
		src       string
	}{
		{"relative src", `<img src="/img/a.png">`, 1, payloadA},
		{"lazy placeholder", `<img src="data:image/gif;base64,R0lGOD" data-src="https://site.example/img/a.png">`, 1, payloadA},
		{"failed result", `<img src="https://host/b.png">`, 0, "https://host/b.png"},
		{"attribute lookalike", `<p title='src="/img/a.png"'>t</p>`, 0, ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, n, err := PatchHTML(tc.markup, "https://site.example/page/", resp)
			require.NoError(t, err)
			assert.Equal(t, tc.rewritten, n)
			if tc.rewritten == 0 {
				assert.Equal(t, tc.markup, out)
			}
			if tc.src != "" {
				imgs := images(t, out)
				require.Len(t, imgs, 1)
				assert.Equal(t, tc.src, dom.GetAttr(imgs[0], "src"))
			}
		})
	}
}

func render(t *testing.T, n *html.Node) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, html.Render(&b, n))
	return b.String()
}

func pasteDoc(t *testing.T) (*dom.Document, *html.Node) {
	t.Helper()
	d := mustDoc(t, `<div id="ed" contenteditable="true"><p id="t">ab</p></div>`)
	p := mustQuery(t, d, "#t")
	r, err := d.RangeOf(p.FirstChild, 1, p.FirstChild, 1)
	require.NoError(t, err)
	d.Select(r)
	return d, p
}

func pastePayload(markup string) *DataTransfer {
	dt := NewDataTransfer()
	if markup != "" {
		dt.SetData(MimeHTML, markup)
	}
	dt.SetData(MimePlain, "plain")
	return dt
}

func TestPasteInlinesAtCaret(t *testing.T) {
	t.Parallel()
	d, p := pasteDoc(t)
	svc := &fakeService{results: resolve.Response{"https://site.example/img/a.png": okResult(payloadA)}}
	in, _ := newTestInterceptor(svc)

	ev := NewPasteEvent(d, pastePayload(`<img src="/img/a.png" data-src="/img/a.png" loading="lazy"><b>x</b>`), p)
	out := in.HandlePaste(context.Background(), ev)
	require.NoError(t, out.Err)
	assert.Equal(t, PasteInserted, out.Kind)
	assert.True(t, ev.DefaultPrevented())
	assert.Same(t, p, out.Host)
	assert.Equal(t, 1, out.Rewritten)
	assert.Equal(t, `<p id="t">a<img src="`+payloadA+`"/><b>x</b>b</p>`, render(t, p))

	sel := d.Selection
	require.Equal(t, 1, sel.RangeCount())
	assert.True(t, sel.IsCollapsed())
	assert.Same(t, p, sel.RangeAt(0).StartContainer)
	assert.Equal(t, 3, sel.RangeAt(0).StartOffset)
}

func TestPasteReplacesSelection(t *testing.T) {
	t.Parallel()
	d := mustDoc(t, `<div contenteditable="true" id="ed">one two three</div>`)
	ed := mustQuery(t, d, "#ed")
	r, err := d.RangeOf(ed.FirstChild, 4, ed.FirstChild, 8)
	require.NoError(t, err)
	d.Select(r)
	svc := &fakeService{results: resolve.Response{"https://host/a.png": okResult(payloadA)}}
	in, _ := newTestInterceptor(svc)

	out := in.HandlePaste(context.Background(), NewPasteEvent(d, pastePayload(`<img src="https://host/a.png">`), ed))
	assert.Equal(t, PasteInserted, out.Kind)
	assert.Equal(t, `<div contenteditable="true" id="ed">one <img src="`+payloadA+`"/>three</div>`, render(t, ed))
}

func TestPasteNoOps(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		doc    string
		markup string
		err    error
	}{
		{"no editable host", `<p id="t">ab</p>`, `<img src="https://host/a.png">`, nil},
		{"no html payload", `<div contenteditable="true"><p id="t">ab</p></div>`, ``, nil},
		{"only embedded images", `<div contenteditable="true"><p id="t">ab</p></div>`, `<img src="data:image/png;base64,QQ==">`, ErrNothingToInline},
		{"hidden host", `<div contenteditable="true" style="display:none"><p id="t">ab</p></div>`, `<img src="https://host/a.png">`, nil},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := mustDoc(t, tc.doc)
			p := mustQuery(t, d, "#t")
			svc := &fakeService{}
			in, _ := newTestInterceptor(svc)
			ev := NewPasteEvent(d, pastePayload(tc.markup), p)
			out := in.HandlePaste(context.Background(), ev)
			assert.Equal(t, PasteDefault, out.Kind)
			assert.False(t, ev.DefaultPrevented())
			assert.Equal(t, int32(0), svc.calls.Load())
			if tc.err != nil {
				assert.ErrorIs(t, out.Err, tc.err)
			}
			assert.Equal(t, "ab", dom.TextContent(p))
		})
	}
}

func TestPasteResolveFailure(t *testing.T) {
	t.Parallel()
	d, p := pasteDoc(t)
	in, _ := newTestInterceptor(&fakeService{err: errors.New("side-channel down")})
	ev := NewPasteEvent(d, pastePayload(`<img src="https://host/a.png">`), p)
	out := in.HandlePaste(context.Background(), ev)
	assert.Equal(t, PasteFailed, out.Kind)
	assert.Error(t, out.Err)
	assert.True(t, ev.DefaultPrevented())
	assert.Equal(t, `<p id="t">ab</p>`, render(t, p))
}

func TestPasteAfterInvalidation(t *testing.T) {
	t.Parallel()
	d, p := pasteDoc(t)
	svc := &fakeService{}
	in, _ := newTestInterceptor(svc)
	in.Unload()
	ev := NewPasteEvent(d, pastePayload(`<img src="https://host/a.png">`), p)
	out := in.HandlePaste(context.Background(), ev)
	assert.Equal(t, PasteDefault, out.Kind)
	assert.ErrorIs(t, out.Err, ErrInvalidated)
	assert.False(t, ev.DefaultPrevented())
	assert.Equal(t, int32(0), svc.calls.Load())
}

func TestPasteSanitize(t *testing.T) {
	t.Parallel()
	d, p := pasteDoc(t)
	svc := &fakeService{results: resolve.Response{"https://host/a.png": okResult(payloadA)}}
	in, _ := newTestInterceptor(svc)
	in.Sanitize = true
	ev := NewPasteEvent(d, pastePayload(`<script>alert(1)</script><img src="https://host/a.png" onerror="steal()">`), p)
	out := in.HandlePaste(context.Background(), ev)
	require.Equal(t, PasteInserted, out.Kind)
	got := render(t, p)
	assert.NotContains(t, got, "script")
	assert.NotContains(t, got, "onerror")
	assert.Contains(t, got, payloadA)
}

func TestFindEditableHost(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		doc    string
		target string
		anchor string
		want   string
	}{
		{"path inherits contenteditable", `<div id="e" contenteditable="true"><p id="p">x</p></div>`, "#p", "", "#p"},
		{"contenteditable false stops", `<div id="e" contenteditable><span id="s" contenteditable="false">x</span></div>`, "#s", "", "#e"},
		{"textarea on path", `<form id="f"><textarea id="ta"></textarea></form>`, "#ta", "", "#ta"},
		{"selection anchor", `<div id="e" contenteditable="true"><b id="b">x</b></div><p id="o">out</p>`, "#o", "#b", "#b"},
		{"first visible fallback", `<textarea id="h" style="visibility:hidden"></textarea><input id="i">`, "", "", "#i"},
		{"nothing editable", `<p id="p">x</p>`, "#p", "", ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := mustDoc(t, tc.doc)
			var path []*html.Node
			if tc.target != "" {
				path = NewPasteEvent(d, nil, mustQuery(t, d, tc.target)).Path
			}
			if tc.anchor != "" {
				r := d.NewRange()
				r.SelectNodeContents(mustQuery(t, d, tc.anchor).FirstChild)
				d.Select(r)
			}
			got := FindEditableHost(d, path)
			if tc.want == "" {
				assert.Nil(t, got)
				return
			}
			assert.Same(t, mustQuery(t, d, tc.want), got)
		})
	}
}

func TestContextValidity(t *testing.T) {
	t.Parallel()
	var v ContextValidity
	assert.True(t, v.Valid())
	assert.True(t, v.Invalidate())
	assert.False(t, v.Invalidate())
	assert.False(t, v.Valid())
	var none *ContextValidity
	assert.True(t, none.Valid())
}
