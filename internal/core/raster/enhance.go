package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Outcome is the result of a best-effort cleanup step. On failure Image is the
// untouched input and Err says why; callers may ignore Err.
type Outcome struct {
	Image   image.Image
	Applied bool
	Err     error
}

var errEmptyImage = errors.New("empty image")

// Enhance boosts contrast, smooths locally and applies an unsharp mask.
func Enhance(img image.Image) (out Outcome) {
	out = Outcome{Image: img}
	defer recoverInto(&out, img)
	if isEmpty(img) {
		out.Err = errEmptyImage
		return out
	}
	enhanced := imaging.AdjustContrast(img, 30)
	enhanced = imaging.Blur(enhanced, 0.6)
	enhanced = imaging.Sharpen(enhanced, 1.5)
	return Outcome{Image: enhanced, Applied: true}
}

// CropToContent trims near-white borders around the foreground bounding box.
// Pixels with luminance at or above whiteLevel count as background.
func CropToContent(img image.Image, whiteLevel uint8) (out Outcome) {
	out = Outcome{Image: img}
	defer recoverInto(&out, img)
	if isEmpty(img) {
		out.Err = errEmptyImage
		return out
	}

	b := img.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y >= whiteLevel {
				continue
			}
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}
	if maxX < minX || maxY < minY {
		// blank page, nothing to crop to
		return out
	}
	rect := image.Rect(minX, minY, maxX+1, maxY+1)
	if rect.Eq(b) {
		return out
	}
	return Outcome{Image: imaging.Crop(img, rect), Applied: true}
}

func isEmpty(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}

func recoverInto(out *Outcome, input image.Image) {
	if rec := recover(); rec != nil {
		*out = Outcome{Image: input, Err: fmt.Errorf("recovered: %v", rec)}
	}
}
