// Package resolve turns image URLs into self-contained data URLs. It holds
// the service contract used by the interceptors, the fetcher that runs in
// the privileged side-channel process and the client that talks to it.
package resolve

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrContextInvalidated means the side-channel is gone for the rest of
	// the page's lifetime.
	ErrContextInvalidated = errors.New("resolve: extension context invalidated")
	// ErrUnavailable is a batch-level failure: nothing was resolved.
	ErrUnavailable = errors.New("resolve: service unavailable")
	// ErrBusy is returned by an exclusive side-channel already handling a batch.
	ErrBusy = fmt.Errorf("%w: already processing images", ErrUnavailable)
)

// Message types understood by the side-channel.
const (
	TypeFetch = "FETCH_IMAGE_TO_DATAURL"
	TypePing  = "PING"
)

// Result is the outcome for one URL.
type Result struct {
	OK           bool   `json:"ok"`
	DataURL      string `json:"dataUrl,omitempty"`
	OriginalSize int    `json:"originalSize,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Error        string `json:"error,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Failure builds a failed result for url.
func Failure(url string, err error) Result {
	return Result{OK: false, Error: err.Error(), URL: url}
}

// Response maps every requested URL to its result.
type Response map[string]Result

// Succeeded counts successful results.
func (r Response) Succeeded() int {
	n := 0
	for _, res := range r {
		if res.OK {
			n++
		}
	}
	return n
}

// Message is a request to the side-channel.
type Message struct {
	Type   string   `json:"type"`
	URLs   []string `json:"urls,omitempty"`
	Origin string   `json:"origin,omitempty"`
}

// Reply is the side-channel's answer to a fetch message.
type Reply struct {
	Results Response `json:"results"`
	Error   string   `json:"error,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	Pong      bool  `json:"pong"`
	Timestamp int64 `json:"timestamp"`
}

// Service resolves a batch of URLs. A batch-level failure returns a nil
// Response and an error; per-URL failures are Results with OK=false.
type Service interface {
	Resolve(ctx context.Context, urls []string) (Response, error)
}

// Func adapts a function to Service.
type Func func(ctx context.Context, urls []string) (Response, error)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, urls []string) (Response, error) { return f(ctx, urls) }

var errNoResult = errors.New("no result returned")

// Complete makes sure every url has exactly one entry, filling gaps with
// failures and dropping keys nobody asked for.
func Complete(resp Response, urls []string) Response {
	out := make(Response, len(urls))
	for _, u := range urls {
		if res, ok := resp[u]; ok {
			out[u] = res
			continue
		}
		out[u] = Failure(u, errNoResult)
	}
	return out
}

// Dedupe drops empty and repeated URLs, keeping first-seen order.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// IsEphemeral reports whether src is already embedded or session-local.
func IsEphemeral(src string) bool {
	s := strings.ToLower(strings.TrimSpace(src))
	return strings.HasPrefix(s, "data:") || strings.HasPrefix(s, "blob:")
}

// DataURL encodes data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a data URL into its media type and payload.
func DecodeDataURL(uri string) (string, []byte, error) {
	// data:[<mediatype>][;base64],<data>
	comma := strings.IndexByte(uri, ',')
	if !strings.HasPrefix(uri, "data:") || comma == -1 {
		return "", nil, errors.New("resolve: not a data url")
	}
	meta := uri[len("data:"):comma]
	data := uri[comma+1:]
	mime := meta
	if i := strings.IndexByte(meta, ';'); i >= 0 {
		mime = meta[:i]
	}
	if mime == "" {
		mime = "text/plain"
	}
	if strings.Contains(meta, ";base64") {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return "", nil, fmt.Errorf("resolve: data url payload: %w", err)
		}
		return mime, raw, nil
	}
	return mime, []byte(data), nil
}
