package preprocess

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// adaptiveThreshold binarizes against a Gaussian-weighted neighbourhood mean:
// a pixel is white when it exceeds mean-c. Borders replicate edge pixels.
func adaptiveThreshold(img image.Image, block int, c float64) *image.Gray {
	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*src.Stride + x*4
			gray[y*w+x] = math.Round(luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2]))
		}
	}

	kernel := gaussianKernel(block)
	r := block / 2
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for k := -r; k <= r; k++ {
				xx := min(max(x+k, 0), w-1)
				s += kernel[k+r] * gray[y*w+xx]
			}
			tmp[y*w+x] = s
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for k := -r; k <= r; k++ {
				yy := min(max(y+k, 0), h-1)
				s += kernel[k+r] * tmp[yy*w+x]
			}
			v := uint8(0)
			if gray[y*w+x] > math.Round(s)-c {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return out
}

// gaussianKernel returns a normalized 1-D kernel; sigma follows the usual
// 0.3*((ksize-1)*0.5-1)+0.8 rule for the block size.
func gaussianKernel(size int) []float64 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	r := size / 2
	k := make([]float64, size)
	var sum float64
	for i := -r; i <= r; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+r] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}
