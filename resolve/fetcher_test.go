package resolve

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h, 0xFF)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func imageServer(t *testing.T, img []byte) (*httptest.Server, *atomic.Value) {
	t.Helper()
	lastAccept := &atomic.Value{}
	lastAccept.Store("")
	mux := http.NewServeMux()
	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		lastAccept.Store(r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})
	mux.HandleFunc("/opaque", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(img)
	})
	mux.HandleFunc("/tiny", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hello")
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, strings.Repeat("x", 200))
	})
	mux.HandleFunc("/referer", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://gallery.example/" {
			http.Error(w, "hotlink", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, lastAccept
}

func quietFetcher(srv *httptest.Server) *Fetcher {
	return &Fetcher{
		Client: srv.Client(),
		Logger: log.New(io.Discard, "", 0),
	}
}

func TestFetcherStrategies(t *testing.T) {
	img := pngBytes(t, 8, 8)
	srv, lastAccept := imageServer(t, img)
	f := quietFetcher(srv)

	urls := []string{
		srv.URL + "/img.png",
		srv.URL + "/opaque",
		srv.URL + "/tiny",
		srv.URL + "/blob",
		srv.URL + "/missing",
		srv.URL + "/img.png",
	}
	resp, err := f.ResolveFrom(context.Background(), "", urls)
	if err != nil {
		t.Fatalf("ResolveFrom: %v", err)
	}
	if len(resp) != 5 {
		t.Fatalf("expected 5 distinct results, got %d", len(resp))
	}
	if got := lastAccept.Load().(string); got != DefaultAccept {
		t.Fatalf("image request sent Accept %q", got)
	}

	tests := []struct {
		url  string
		ok   bool
		mime string
	}{
		{srv.URL + "/img.png", true, "image/png"},
		{srv.URL + "/opaque", true, "image/png"},
		{srv.URL + "/tiny", false, ""},
		{srv.URL + "/blob", true, FallbackMimeType},
		{srv.URL + "/missing", false, ""},
	}
	for _, tc := range tests {
		res := resp[tc.url]
		if res.OK != tc.ok {
			t.Fatalf("%s: ok=%v error=%q", tc.url, res.OK, res.Error)
		}
		if !tc.ok {
			if res.Error == "" || res.URL != tc.url {
				t.Fatalf("%s: failure must carry error and url: %+v", tc.url, res)
			}
			continue
		}
		if res.MimeType != tc.mime {
			t.Fatalf("%s: mime %q, expected %q", tc.url, res.MimeType, tc.mime)
		}
		if !strings.HasPrefix(res.DataURL, "data:"+tc.mime+";base64,") {
			t.Fatalf("%s: bad data url prefix", tc.url)
		}
	}

	mt, data, err := DecodeDataURL(resp[srv.URL+"/img.png"].DataURL)
	if err != nil || mt != "image/png" || !bytes.Equal(data, img) {
		t.Fatalf("data url does not round-trip the payload")
	}
	if resp[srv.URL+"/img.png"].OriginalSize != len(img) {
		t.Fatalf("original size mismatch")
	}
	if !strings.Contains(resp[srv.URL+"/tiny"].Error, "too small") {
		t.Fatalf("tiny body error: %q", resp[srv.URL+"/tiny"].Error)
	}
}

func TestFetcherRelativeAndEmbedded(t *testing.T) {
	img := pngBytes(t, 4, 4)
	srv, _ := imageServer(t, img)
	f := quietFetcher(srv)
	embedded := DataURL("image/gif", []byte("GIF89a"))

	resp, err := f.ResolveFrom(context.Background(), srv.URL+"/page/index.html", []string{"/img.png", "../img.png", embedded})
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"/img.png", "../img.png", embedded} {
		if !resp[u].OK {
			t.Fatalf("%s failed: %s", u, resp[u].Error)
		}
	}
	if resp[embedded].DataURL != embedded || resp[embedded].MimeType != "image/gif" {
		t.Fatalf("embedded url should pass through: %+v", resp[embedded])
	}

	resp, err = f.ResolveFrom(context.Background(), "", []string{"/img.png", "ftp://host/a.png"})
	if err != nil {
		t.Fatal(err)
	}
	if resp["/img.png"].OK || resp["ftp://host/a.png"].OK {
		t.Fatalf("relative url without origin and non-http scheme must fail")
	}
}

func TestFetcherHostRules(t *testing.T) {
	img := pngBytes(t, 4, 4)
	srv, _ := imageServer(t, img)
	dir := t.TempDir()
	f := quietFetcher(srv)

	// Without a Referer the host rejects the request.
	resp, _ := f.Resolve(context.Background(), []string{srv.URL + "/referer"})
	if resp[srv.URL+"/referer"].OK {
		t.Fatalf("expected hotlink rejection")
	}

	rule := `{"mode":"cors","headers":{"Referer":"https://gallery.example/"}}`
	if err := os.WriteFile(filepath.Join(dir, "127.0.0.1.json"), []byte(rule), 0o644); err != nil {
		t.Fatal(err)
	}
	f.Rules = NewHostRules(dir)
	resp, _ = f.Resolve(context.Background(), []string{srv.URL + "/referer", srv.URL + "/opaque"})
	if !resp[srv.URL+"/referer"].OK {
		t.Fatalf("rule headers not applied: %s", resp[srv.URL+"/referer"].Error)
	}
	if resp[srv.URL+"/opaque"].OK {
		t.Fatalf("cors-only rule must not fall back to sniffing")
	}

	skipDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(skipDir, "127.0.0.1.json"), []byte(`{"mode":"SKIP"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	f.Rules = NewHostRules(skipDir)
	resp, _ = f.Resolve(context.Background(), []string{srv.URL + "/img.png"})
	if resp[srv.URL+"/img.png"].OK {
		t.Fatalf("skip rule ignored")
	}
}

func TestHostRulesParentDomain(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "example.com.json"), []byte(`{"mode":"opaque"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	rules := NewHostRules(dir)
	if r := rules.Find("https://cdn.img.example.com/a.png"); r == nil || r.Mode != ModeOpaque {
		t.Fatalf("parent domain rule not found: %+v", r)
	}
	if r := rules.Find("https://other.test/a.png"); r != nil {
		t.Fatalf("unexpected rule %+v", r)
	}
	var none *HostRules
	if none.Find("https://example.com/") != nil {
		t.Fatalf("nil rules should find nothing")
	}
}

func TestFetcherSizeCapAndDownscale(t *testing.T) {
	img := pngBytes(t, 300, 100)
	srv, _ := imageServer(t, img)

	f := quietFetcher(srv)
	f.MaxBytes = 64
	resp, _ := f.Resolve(context.Background(), []string{srv.URL + "/img.png"})
	if resp[srv.URL+"/img.png"].OK {
		t.Fatalf("oversized image accepted")
	}

	f = quietFetcher(srv)
	f.MaxWidth = 150
	resp, _ = f.Resolve(context.Background(), []string{srv.URL + "/img.png"})
	res := resp[srv.URL+"/img.png"]
	if !res.OK || res.MimeType != "image/png" {
		t.Fatalf("downscale failed: %+v", res)
	}
	_, data, err := DecodeDataURL(res.DataURL)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Bounds().Dx() != 150 || decoded.Bounds().Dy() != 50 {
		t.Fatalf("unexpected size %v", decoded.Bounds())
	}
	if res.OriginalSize != len(img) {
		t.Fatalf("original size should describe the fetched payload")
	}
}

func TestFetcherCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFetcher().Resolve(ctx, []string{"https://example.com/a.png"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFetcherContentEncodings(t *testing.T) {
	img := pngBytes(t, 8, 8)
	encode := map[string]func(w io.Writer) io.WriteCloser{
		"raw-deflate": func(w io.Writer) io.WriteCloser {
			fw, _ := flate.NewWriter(w, flate.DefaultCompression)
			return fw
		},
		"zlib-deflate": func(w io.Writer) io.WriteCloser { return zlib.NewWriter(w) },
		"gzip":         func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
	}
	header := map[string]string{"raw-deflate": "deflate", "zlib-deflate": "deflate", "gzip": "gzip"}

	mux := http.NewServeMux()
	for name, enc := range encode {
		name, enc := name, enc
		mux.HandleFunc("/"+name, func(w http.ResponseWriter, r *http.Request) {
			var buf bytes.Buffer
			zw := enc(&buf)
			_, _ = zw.Write(img)
			_ = zw.Close()
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("Content-Encoding", header[name])
			_, _ = w.Write(buf.Bytes())
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()
	f := quietFetcher(srv)

	for name := range encode {
		target := srv.URL + "/" + name
		resp, err := f.Resolve(context.Background(), []string{target})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		res := resp[target]
		if !res.OK {
			t.Fatalf("%s: %s", name, res.Error)
		}
		_, data, err := DecodeDataURL(res.DataURL)
		if err != nil || !bytes.Equal(data, img) {
			t.Fatalf("%s: decoded payload differs (%d bytes)", name, len(data))
		}
	}
}

func TestIsZlibHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cmf, flg byte
		want     bool
	}{
		{0x78, 0x9C, true},
		{0x78, 0x01, true},
		{0x78, 0xDA, true},
		{0x78, 0x00, false},
		{0xED, 0xBD, false},
	}
	for _, tc := range tests {
		if got := isZlibHeader(tc.cmf, tc.flg); got != tc.want {
			t.Fatalf("isZlibHeader(%#x, %#x) = %v, expected %v", tc.cmf, tc.flg, got, tc.want)
		}
	}
}
