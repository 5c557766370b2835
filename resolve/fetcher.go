package resolve

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/h2non/filetype"
)

// Default fetch parameters.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultAccept         = "image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
	DefaultMaxBytes       = 15 << 20
	DefaultParallel       = 4
	DefaultTimeout        = 15 * time.Second

	// MinOpaqueBytes is the smallest untyped body still treated as an image.
	MinOpaqueBytes = 100
	// FallbackMimeType labels untyped bodies.
	FallbackMimeType = "image/png"
)

var (
	errEmptyBody = errors.New("empty response")
	errTooSmall  = errors.New("response too small to be an image")
	errSkipped   = errors.New("blocked by host rule")
)

// Fetcher resolves images itself. It is the side-channel's implementation
// of Service: each URL is tried with an image request that must answer with
// an image content type, then with a minimal request whose body is sniffed.
type Fetcher struct {
	Client         *http.Client
	UserAgent      string
	AcceptLanguage string
	MaxBytes       int64
	// MaxWidth downscales wider images when > 0.
	MaxWidth    int
	JPEGQuality int
	// Transcode lists media types always re-encoded to PNG/JPEG.
	Transcode []string
	Parallel  int
	Rules     *HostRules
	// Cache, when set, serves repeated URLs from disk.
	Cache *DiskCache
	// Origin resolves relative URLs, as the sender tab would.
	Origin string
	Logger *log.Logger
}

// NewFetcher returns a Fetcher with defaults.
func NewFetcher() *Fetcher {
	return &Fetcher{}
}

func (f *Fetcher) logger() *log.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return log.Default()
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// Resolve fetches every URL. It never fails at batch level unless ctx is
// done before any work starts.
func (f *Fetcher) Resolve(ctx context.Context, urls []string) (Response, error) {
	return f.ResolveFrom(ctx, f.Origin, urls)
}

// ResolveFrom is Resolve with relative URLs resolved against origin.
func (f *Fetcher) ResolveFrom(ctx context.Context, origin string, urls []string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	urls = Dedupe(urls)
	parallel := f.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(Response, len(urls))
		sem = make(chan struct{}, parallel)
	)
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				out[u] = Failure(u, ctx.Err())
				mu.Unlock()
				return
			}
			res := f.fetchOne(ctx, origin, u)
			<-sem
			mu.Lock()
			out[u] = res
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	f.logger().Printf("RESOLVE batch ok=%d/%d", out.Succeeded(), len(urls))
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, origin, raw string) Result {
	if IsEphemeral(raw) && strings.HasPrefix(strings.ToLower(raw), "data:") {
		mt, data, err := DecodeDataURL(raw)
		if err != nil {
			return Failure(raw, err)
		}
		return Result{OK: true, DataURL: raw, OriginalSize: len(data), MimeType: mt}
	}
	target, err := absoluteURL(origin, raw)
	if err != nil {
		return Failure(raw, err)
	}
	rule := f.Rules.Find(target)
	mode := ModeAuto
	if rule != nil {
		mode = rule.Mode
	}
	if mode == ModeSkip {
		return Failure(raw, errSkipped)
	}
	variant := f.variant()
	if res, ok := f.Cache.Get(variant, target); ok {
		return res
	}

	var body []byte
	var mt string
	var corsErr error
	if mode != ModeOpaque {
		body, mt, corsErr = f.corsFetch(ctx, target, rule)
	}
	if body == nil && mode != ModeCORS {
		var opaqueErr error
		body, mt, opaqueErr = f.opaqueFetch(ctx, target, rule)
		if opaqueErr != nil {
			if corsErr != nil {
				err = fmt.Errorf("all fetch strategies failed: %v, %v", corsErr, opaqueErr)
			} else {
				err = opaqueErr
			}
			f.logger().Printf("RESOLVE fail url=%s err=%v", target, err)
			return Failure(raw, err)
		}
	}
	if body == nil {
		f.logger().Printf("RESOLVE fail url=%s err=%v", target, corsErr)
		return Failure(raw, corsErr)
	}

	size := len(body)
	force := false
	for _, t := range f.Transcode {
		if strings.EqualFold(t, mt) {
			force = true
		}
	}
	if mt != "image/gif" && mt != "image/svg+xml" && (force || f.MaxWidth > 0) {
		out, outMime, changed, err := transcode(body, mt, f.MaxWidth, f.JPEGQuality, force)
		if err != nil {
			f.logger().Printf("RESOLVE transcode url=%s err=%v", target, err)
		} else if changed {
			body, mt = out, outMime
		}
	}
	f.Cache.Put(variant, target, mt, size, body)
	return Result{OK: true, DataURL: DataURL(mt, body), OriginalSize: size, MimeType: mt}
}

// variant identifies the output encoding settings in cache keys.
func (f *Fetcher) variant() string {
	return fmt.Sprintf("w=%d|q=%d|t=%s", f.MaxWidth, f.JPEGQuality, strings.ToLower(strings.Join(f.Transcode, ",")))
}

func absoluteURL(origin, raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("bad url: %w", err)
	}
	if !u.IsAbs() {
		if origin == "" {
			return "", fmt.Errorf("relative url %q without origin", raw)
		}
		base, err := url.Parse(origin)
		if err != nil {
			return "", fmt.Errorf("bad origin: %w", err)
		}
		u = base.ResolveReference(u)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// corsFetch asks for an image and only accepts an image content type.
func (f *Fetcher) corsFetch(ctx context.Context, target string, rule *HostRule) ([]byte, string, error) {
	hdr := http.Header{}
	hdr.Set("User-Agent", f.userAgent())
	hdr.Set("Accept", DefaultAccept)
	lang := f.AcceptLanguage
	if lang == "" {
		lang = DefaultAcceptLanguage
	}
	hdr.Set("Accept-Language", lang)
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Pragma", "no-cache")
	resp, body, err := f.get(ctx, target, hdr, rule)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	mt := mediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mt, "image/") {
		return nil, "", fmt.Errorf("HTTP %d: content-type %q is not an image", resp.StatusCode, mt)
	}
	if len(body) == 0 {
		return nil, "", errEmptyBody
	}
	return body, mt, nil
}

// opaqueFetch sends a minimal request and sniffs what comes back.
func (f *Fetcher) opaqueFetch(ctx context.Context, target string, rule *HostRule) ([]byte, string, error) {
	hdr := http.Header{}
	hdr.Set("User-Agent", f.userAgent())
	resp, body, err := f.get(ctx, target, hdr, rule)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if len(body) == 0 {
		return nil, "", errEmptyBody
	}
	if kind, err := filetype.Match(body); err == nil && filetype.IsImage(body) {
		return body, kind.MIME.Value, nil
	}
	if mt := mediaType(resp.Header.Get("Content-Type")); strings.HasPrefix(mt, "image/") {
		return body, mt, nil
	}
	if len(body) > MinOpaqueBytes {
		return body, FallbackMimeType, nil
	}
	return nil, "", errTooSmall
}

func (f *Fetcher) userAgent() string {
	if f.UserAgent != "" {
		return f.UserAgent
	}
	return DefaultUserAgent
}

func (f *Fetcher) get(ctx context.Context, target string, hdr http.Header, rule *HostRule) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header = hdr
	if rule != nil {
		for k, v := range rule.Headers {
			req.Header.Set(k, v)
		}
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	rc, err := decodeBody(resp)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, nil, fmt.Errorf("image exceeds %d bytes", limit)
	}
	return resp, body, nil
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return gr, nil
	case "deflate":
		// Servers send either zlib-wrapped or raw deflate under this name.
		br := bufio.NewReader(resp.Body)
		if hdr, err := br.Peek(2); err == nil && isZlibHeader(hdr[0], hdr[1]) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("deflate: %w", err)
			}
			return zr, nil
		}
		return flate.NewReader(br), nil
	}
	return io.NopCloser(resp.Body), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0F == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return strings.ToLower(mt)
}
