package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

const jpegQuality = 85

// LoadJPEG decodes a PNG or JPEG file, shrinks it so neither side exceeds
// maxPx (0 keeps the original size) and re-encodes it as JPEG.
func LoadJPEG(path string, maxPx int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	img := Downscale(src, maxPx)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// Downscale returns src unchanged when it already fits in maxPx.
func Downscale(src image.Image, maxPx int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxPx <= 0 || (w <= maxPx && h <= maxPx) {
		return src
	}
	nw, nh := maxPx, maxPx
	if w >= h {
		nh = max(1, h*maxPx/w)
	} else {
		nw = max(1, w*maxPx/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
