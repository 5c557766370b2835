// Package clipboard provides the asynchronous clipboards the interceptors
// write to: an in-memory one and the operating system's.
package clipboard

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/atotto/clipboard"

	"pasteinliner/dom"
	"pasteinliner/intercept"
)

// ErrUnsupported is returned when no OS clipboard utility is available.
var ErrUnsupported = errors.New("clipboard: unsupported on this system")

// Memory is a process-local clipboard.
type Memory struct {
	mu     sync.Mutex
	item   intercept.ClipboardItem
	writes int
	notify chan struct{}
}

// NewMemory returns an empty clipboard.
func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

// Read returns the current entry.
func (m *Memory) Read(ctx context.Context) (intercept.ClipboardItem, error) {
	if err := ctx.Err(); err != nil {
		return intercept.ClipboardItem{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.item, nil
}

// Write replaces the current entry.
func (m *Memory) Write(ctx context.Context, item intercept.ClipboardItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.item = item
	m.writes++
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Writes counts successful writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Changed receives after each write, coalescing bursts.
func (m *Memory) Changed() <-chan struct{} { return m.notify }

var (
	readAll     = clipboard.ReadAll
	writeAll    = clipboard.WriteAll
	unsupported = func() bool { return clipboard.Unsupported }
)

// System is the OS clipboard. It carries a single text flavor: HTML when
// there is any, plain text otherwise.
type System struct{}

var markupRe = regexp.MustCompile(`(?is)^\s*(<!doctype|<html|<meta|<body|<[a-z][a-z0-9]*[\s>/])`)

// Read returns the clipboard, treating markup as HTML.
func (System) Read(ctx context.Context) (intercept.ClipboardItem, error) {
	if err := ctx.Err(); err != nil {
		return intercept.ClipboardItem{}, err
	}
	if unsupported() {
		return intercept.ClipboardItem{}, ErrUnsupported
	}
	s, err := readAll()
	if err != nil {
		return intercept.ClipboardItem{}, err
	}
	if !markupRe.MatchString(s) {
		return intercept.ClipboardItem{Text: s}, nil
	}
	item := intercept.ClipboardItem{HTML: s}
	if f, err := dom.ParseFragment(s, ""); err == nil {
		item.Text = f.Text()
	}
	return item, nil
}

// Write stores the HTML flavor, or the text when there is no HTML.
func (System) Write(ctx context.Context, item intercept.ClipboardItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if unsupported() {
		return ErrUnsupported
	}
	s := item.HTML
	if strings.TrimSpace(s) == "" {
		s = item.Text
	}
	return writeAll(s)
}
