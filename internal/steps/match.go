package steps

import (
	"image"
	"image/color"
)

// grayImage is a dense 8-bit luminance copy of an image.
type grayImage struct {
	w, h int
	pix  []uint8
}

func toGray(img image.Image) grayImage {
	b := img.Bounds()
	g := grayImage{w: b.Dx(), h: b.Dy(), pix: make([]uint8, b.Dx()*b.Dy())}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			g.pix[y*g.w+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return g
}

// matchTemplate slides tpl over frame and returns the best position, in
// frame-relative coordinates, with a similarity in [0, 1] derived from the sum
// of absolute differences.
func matchTemplate(frame, tpl grayImage) (image.Point, float64, bool) {
	if tpl.w == 0 || tpl.h == 0 || tpl.w > frame.w || tpl.h > frame.h {
		return image.Point{}, 0, false
	}

	maxSAD := 255 * tpl.w * tpl.h
	best := maxSAD + 1
	var bestAt image.Point

	for oy := 0; oy+tpl.h <= frame.h; oy++ {
		for ox := 0; ox+tpl.w <= frame.w; ox++ {
			sad := 0
			for y := 0; y < tpl.h && sad < best; y++ {
				row := (oy+y)*frame.w + ox
				trow := y * tpl.w
				for x := 0; x < tpl.w; x++ {
					d := int(frame.pix[row+x]) - int(tpl.pix[trow+x])
					if d < 0 {
						d = -d
					}
					sad += d
				}
			}
			if sad < best {
				best = sad
				bestAt = image.Pt(ox, oy)
				if sad == 0 {
					return bestAt, 1, true
				}
			}
		}
	}
	return bestAt, 1 - float64(best)/float64(maxSAD), true
}
