package resolve

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is used when re-encoding opaque images.
const DefaultJPEGQuality = 85

func clampImageToWidth(img image.Image, maxWidth int) (image.Image, int, int) {
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()
	if maxWidth <= 0 || w <= 0 || h <= 0 || w <= maxWidth {
		return img, w, h
	}

	scaledH := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
	if scaledH < 1 {
		scaledH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, scaledH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst, maxWidth, scaledH
}

// encodeImage writes img as PNG when it has transparency or when want asks
// for it, JPEG otherwise.
func encodeImage(img image.Image, want string, quality int) ([]byte, string, error) {
	want = strings.ToLower(strings.TrimSpace(want))
	if want != "image/png" {
		want = "image/jpeg"
	}
	if want == "image/jpeg" && imageHasAlpha(img) {
		want = "image/png"
	}

	var out bytes.Buffer
	switch want {
	case "image/png":
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := enc.Encode(&out, img); err != nil {
			return nil, want, err
		}
	default:
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, want, err
		}
	}
	return out.Bytes(), want, nil
}

// imageHasAlpha returns true if any sampled pixel has alpha != 0xff.
func imageHasAlpha(img image.Image) bool {
	b := img.Bounds()
	dx, dy := b.Dx(), b.Dy()
	if dx <= 0 || dy <= 0 {
		return false
	}
	// Sample grid up to ~64x64 points to avoid heavy scans on big images
	stepX := dx / 64
	if stepX < 1 {
		stepX = 1
	}
	stepY := dy / 64
	if stepY < 1 {
		stepY = 1
	}
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xFFFF {
				return true
			}
		}
	}
	return false
}

// transcode decodes raw and re-encodes it, downscaled to maxWidth when
// wider. Formats the destination may not render are converted even when no
// scaling is needed.
func transcode(raw []byte, mime string, maxWidth, quality int, force bool) ([]byte, string, bool, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		if force {
			return nil, mime, false, fmt.Errorf("decode %s: %w", mime, err)
		}
		return raw, mime, false, nil
	}
	if !force && (maxWidth <= 0 || cfg.Width <= maxWidth) {
		return raw, mime, false, nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, mime, false, fmt.Errorf("decode %s: %w", mime, err)
	}
	img, _, _ = clampImageToWidth(img, maxWidth)
	want := mime
	if want != "image/jpeg" {
		want = "image/png"
	}
	out, outMime, err := encodeImage(img, want, quality)
	if err != nil {
		return nil, mime, false, fmt.Errorf("encode %s: %w", outMime, err)
	}
	return out, outMime, true, nil
}
