package preprocess

import (
	"image"
	"image/color"
)

// luma returns the BT.601 luminance of an 8-bit RGB triple.
func luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

func meanLuminance(img image.Image) float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	var sum float64
	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+b.Dx()*4]
			for x := 0; x < len(row); x += 4 {
				sum += luma(row[x], row[x+1], row[x+2])
			}
		}
		return sum / float64(n)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			sum += luma(c.R, c.G, c.B)
		}
	}
	return sum / float64(n)
}

// claheLuma equalizes the Y channel tile by tile with a clip limit and
// bilinear blending between tile mappings. Cb and Cr are carried through
// unchanged. src is modified in place and returned.
func claheLuma(src *image.NRGBA, tilesX, tilesY int, clipLimit float64) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return src
	}
	tilesX, tilesY = min(tilesX, w), min(tilesY, h)

	ys := make([]uint8, w*h)
	cbs := make([]uint8, w*h)
	crs := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*src.Stride + x*4
			yy, cb, cr := color.RGBToYCbCr(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
			ys[y*w+x], cbs[y*w+x], crs[y*w+x] = yy, cb, cr
		}
	}

	xb := bounds(w, tilesX)
	yb := bounds(h, tilesY)
	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			luts[ty*tilesX+tx] = tileLUT(ys, w, xb[tx], xb[tx+1], yb[ty], yb[ty+1], clipLimit)
		}
	}

	xc := centers(xb)
	yc := centers(yb)
	for y := 0; y < h; y++ {
		ty0, ty1, fy := neighbours(yc, float64(y))
		for x := 0; x < w; x++ {
			tx0, tx1, fx := neighbours(xc, float64(x))
			v := ys[y*w+x]
			top := (1-fx)*float64(luts[ty0*tilesX+tx0][v]) + fx*float64(luts[ty0*tilesX+tx1][v])
			bot := (1-fx)*float64(luts[ty1*tilesX+tx0][v]) + fx*float64(luts[ty1*tilesX+tx1][v])
			ny := clamp8((1-fy)*top + fy*bot)

			r, g, b := color.YCbCrToRGB(ny, cbs[y*w+x], crs[y*w+x])
			i := y*src.Stride + x*4
			src.Pix[i], src.Pix[i+1], src.Pix[i+2] = r, g, b
		}
	}
	return src
}

func tileLUT(ys []uint8, stride, x0, x1, y0, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[ys[y*stride+x]]++
		}
	}
	area := (x1 - x0) * (y1 - y0)
	var lut [256]uint8
	if area == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	limit := int(clipLimit * float64(area) / 256)
	if limit < 1 {
		limit = 1
	}
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	bonus, rest := excess/256, excess%256
	for i := range hist {
		hist[i] += bonus
	}
	if rest > 0 {
		step := max(256/rest, 1)
		for i := 0; i < 256 && rest > 0; i += step {
			hist[i]++
			rest--
		}
	}

	scale := 255.0 / float64(area)
	cdf := 0
	for i := range hist {
		cdf += hist[i]
		lut[i] = clamp8(float64(cdf) * scale)
	}
	return lut
}

func bounds(n, tiles int) []int {
	out := make([]int, tiles+1)
	for i := 0; i <= tiles; i++ {
		out[i] = i * n / tiles
	}
	return out
}

func centers(b []int) []float64 {
	out := make([]float64, len(b)-1)
	for i := range out {
		out[i] = float64(b[i]+b[i+1]-1) / 2
	}
	return out
}

// neighbours finds the two tile centres around p and the blend weight of the second.
func neighbours(c []float64, p float64) (int, int, float64) {
	last := len(c) - 1
	if p <= c[0] {
		return 0, 0, 0
	}
	if p >= c[last] {
		return last, last, 0
	}
	for i := 0; i < last; i++ {
		if p < c[i+1] {
			return i, i + 1, (p - c[i]) / (c[i+1] - c[i])
		}
	}
	return last, last, 0
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
