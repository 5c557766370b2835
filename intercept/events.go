package intercept

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// Clipboard flavors.
const (
	MimeHTML  = "text/html"
	MimePlain = "text/plain"
)

// DataTransfer is the synchronous payload attached to a clipboard event.
type DataTransfer struct {
	types []string
	data  map[string]string
}

// NewDataTransfer returns an empty payload.
func NewDataTransfer() *DataTransfer {
	return &DataTransfer{data: make(map[string]string)}
}

// SetData stores data under format, replacing an earlier value.
func (dt *DataTransfer) SetData(format, data string) {
	format = strings.ToLower(strings.TrimSpace(format))
	if _, ok := dt.data[format]; !ok {
		dt.types = append(dt.types, format)
	}
	dt.data[format] = data
}

// GetData returns the data for format or "".
func (dt *DataTransfer) GetData(format string) string {
	if dt == nil {
		return ""
	}
	return dt.data[strings.ToLower(strings.TrimSpace(format))]
}

// Types lists the stored formats in insertion order.
func (dt *DataTransfer) Types() []string {
	if dt == nil {
		return nil
	}
	return append([]string(nil), dt.types...)
}

// ClearData drops every format.
func (dt *DataTransfer) ClearData() {
	dt.types = nil
	dt.data = make(map[string]string)
}

type event struct {
	prevented atomic.Bool
}

// PreventDefault stops the browser's own handling.
func (e *event) PreventDefault() { e.prevented.Store(true) }

// DefaultPrevented reports whether PreventDefault was called.
func (e *event) DefaultPrevented() bool { return e.prevented.Load() }

// CopyEvent is a native copy event dispatched on Doc. The dispatcher calls
// Dispatched once it has committed the payload to the clipboard; the
// asynchronous overwrite waits for it.
type CopyEvent struct {
	event
	Doc           *dom.Document
	ClipboardData *DataTransfer

	dispatched chan struct{}
	once       sync.Once
}

// NewCopyEvent returns a copy event with an empty payload.
func NewCopyEvent(doc *dom.Document) *CopyEvent {
	return &CopyEvent{Doc: doc, ClipboardData: NewDataTransfer(), dispatched: make(chan struct{})}
}

// Dispatched marks the event's payload as committed.
func (e *CopyEvent) Dispatched() {
	if e.dispatched != nil {
		e.once.Do(func() { close(e.dispatched) })
	}
}

func (e *CopyEvent) committed() <-chan struct{} {
	if e.dispatched == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return e.dispatched
}

// PasteEvent is a native paste event. Path is the composed dispatch path,
// innermost node first.
type PasteEvent struct {
	event
	Doc           *dom.Document
	ClipboardData *DataTransfer
	Path          []*html.Node
}

// NewPasteEvent returns a paste event targeted at target.
func NewPasteEvent(doc *dom.Document, payload *DataTransfer, target *html.Node) *PasteEvent {
	ev := &PasteEvent{Doc: doc, ClipboardData: payload}
	for n := target; n != nil; n = n.Parent {
		ev.Path = append(ev.Path, n)
	}
	return ev
}

// KeyEvent is a keydown event.
type KeyEvent struct {
	Key  string
	Ctrl bool
	Meta bool
	Doc  *dom.Document
}

// IsCopyShortcut reports Ctrl+C or Cmd+C.
func (k KeyEvent) IsCopyShortcut() bool {
	return (k.Ctrl || k.Meta) && strings.EqualFold(k.Key, "c")
}

// ClipboardItem is one clipboard entry with its two flavors.
type ClipboardItem struct {
	HTML string
	Text string
}

// Clipboard is the asynchronous clipboard API.
type Clipboard interface {
	Read(ctx context.Context) (ClipboardItem, error)
	Write(ctx context.Context, item ClipboardItem) error
}
