package resolve

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"
)

func gradient(w, h int, alpha uint8) *image.RGBA {
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, color.RGBA{uint8((x + y) % 256), uint8((2 * x) % 256), uint8((3 * y) % 256), alpha})
		}
	}
	return src
}

func TestClampImageToWidthDownscale(t *testing.T) {
	src := gradient(400, 200, 0xFF)
	dst, w, h := clampImageToWidth(src, 160)
	if w != 160 {
		t.Fatalf("width mismatch: got %d", w)
	}
	expectedH := int(math.Round(float64(200) * float64(160) / float64(400)))
	if h != expectedH {
		t.Fatalf("height mismatch: got %d want %d", h, expectedH)
	}
	if dst.Bounds().Dx() != 160 || dst.Bounds().Dy() != expectedH {
		t.Fatalf("scaled bounds mismatch: got %dx%d", dst.Bounds().Dx(), dst.Bounds().Dy())
	}
	if dst == image.Image(src) {
		t.Fatal("expected a new image instance after downscale")
	}
}

func TestClampImageToWidthNoChange(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 300, 120))
	dst, w, h := clampImageToWidth(src, 400)
	if w != 300 || h != 120 {
		t.Fatalf("unexpected dimensions: got %dx%d", w, h)
	}
	if dst != image.Image(src) {
		t.Fatal("expected original image to be reused when within limits")
	}
}

func TestEncodeImageAlphaForcesPNG(t *testing.T) {
	data, mime, err := encodeImage(gradient(32, 32, 0x80), "image/jpeg", 0)
	if err != nil {
		t.Fatalf("encodeImage returned error: %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("translucent image should be PNG, got %s", mime)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("payload is not PNG: %v", err)
	}
}

func TestTranscode(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(360, 180, 0xFF), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	tests := []struct {
		name     string
		raw      []byte
		mime     string
		maxWidth int
		force    bool
		changed  bool
		width    int
		wantErr  bool
	}{
		{"within limits", raw, "image/jpeg", 400, false, false, 360, false},
		{"no limit", raw, "image/jpeg", 0, false, false, 360, false},
		{"downscaled", raw, "image/jpeg", 120, false, true, 120, false},
		{"forced", raw, "image/jpeg", 0, true, true, 360, false},
		{"undecodable kept", []byte("<svg/>"), "image/svg+xml", 10, false, false, 0, false},
		{"undecodable forced", []byte("<svg/>"), "image/svg+xml", 10, true, false, 0, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, mime, changed, err := transcode(tc.raw, tc.mime, tc.maxWidth, 0, tc.force)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("transcode: %v", err)
			}
			if changed != tc.changed {
				t.Fatalf("changed = %v, expected %v", changed, tc.changed)
			}
			if !changed {
				if !bytes.Equal(out, tc.raw) {
					t.Fatalf("unchanged payload should be returned as is")
				}
				return
			}
			if mime != "image/jpeg" {
				t.Fatalf("unexpected mime %s", mime)
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Width != tc.width {
				t.Fatalf("width %d, expected %d", cfg.Width, tc.width)
			}
		})
	}
}
