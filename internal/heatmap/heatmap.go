// Package heatmap writes per-pixel render statistics as grayscale images.
package heatmap

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// Image maps values, row by row, to a width×height 16-bit grayscale image.
// The largest value is white; zero and non-finite values are black.
func Image(values []float64, width, height int) (*image.Gray16, error) {
	if width <= 0 || height <= 0 || len(values) != width*height {
		return nil, fmt.Errorf("heatmap: %d values for %dx%d", len(values), width, height)
	}
	var peak float64
	for _, v := range values {
		if !math.IsInf(v, 0) && !math.IsNaN(v) {
			peak = max(peak, v)
		}
	}

	img := image.NewGray16(image.Rect(0, 0, width, height))
	if peak == 0 {
		return img, nil
	}
	for y := range height {
		for x := range width {
			v := values[y*width+x]
			if math.IsInf(v, 0) || math.IsNaN(v) || v <= 0 {
				continue
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v / peak * 0xffff))})
		}
	}
	return img, nil
}

// Scale enlarges img by an integer factor with nearest-neighbor sampling,
// so that small films stay readable.
func Scale(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewGray16(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// Format is an output encoding.
type Format int

const (
	TIFF Format = iota
	PNG
)

// FormatFor picks the encoding from a file extension. TIFF is the default.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return PNG
	}
	return TIFF
}

// Encode writes img to w.
func Encode(w io.Writer, img image.Image, f Format) error {
	if f == PNG {
		return png.Encode(w, img)
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Save writes img to path in the format chosen by its extension.
func Save(path string, img image.Image) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	if err := Encode(f, img, FormatFor(path)); err != nil {
		_ = f.Close()
		return fmt.Errorf("heatmap: encode %s: %w", path, err)
	}
	return f.Close()
}
