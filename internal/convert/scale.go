package convert

import (
	"encoding/binary"
	"image"
)

// upscale magnifies img by an integer factor with the EPX/Scale
// family: Scale3x for factors of three, Scale2x for factors of two,
// nearest-neighbour for any remaining prime factor. The algorithms
// preserve sharp edges on pixel-art style content and never blur or
// downscale. factor must be > 1.
func upscale(img *image.NRGBA, factor int) *image.NRGBA {
	out := img
	for factor%3 == 0 {
		out = scale3x(out)
		factor /= 3
	}
	for factor%2 == 0 {
		out = scale2x(out)
		factor /= 2
	}
	if factor > 1 {
		out = nearest(out, factor)
	}
	return out
}

// px reads the packed RGBA value at (x, y), clamping coordinates to
// the image edge so border pixels see themselves as their missing
// neighbours.
func px(img *image.NRGBA, x, y int) uint32 {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	x = min(max(x, 0), w-1)
	y = min(max(y, 0), h-1)
	off := y*img.Stride + x*4
	return binary.BigEndian.Uint32(img.Pix[off : off+4])
}

func setPx(img *image.NRGBA, x, y int, v uint32) {
	off := y*img.Stride + x*4
	binary.BigEndian.PutUint32(img.Pix[off:off+4], v)
}

// scale2x is the EPX/Scale2x kernel: each pixel expands to a 2x2
// block whose corners copy a neighbour when the two adjacent
// neighbours agree, keeping diagonal edges connected.
func scale2x(img *image.NRGBA) *image.NRGBA {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w*2, h*2))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := px(img, x, y)
			a := px(img, x, y-1)
			b := px(img, x+1, y)
			c := px(img, x-1, y)
			d := px(img, x, y+1)

			e00, e01, e10, e11 := p, p, p, p
			if c == a && c != d && a != b {
				e00 = a
			}
			if a == b && a != c && b != d {
				e01 = b
			}
			if d == c && d != b && c != a {
				e10 = c
			}
			if b == d && b != a && d != c {
				e11 = d
			}

			setPx(dst, x*2, y*2, e00)
			setPx(dst, x*2+1, y*2, e01)
			setPx(dst, x*2, y*2+1, e10)
			setPx(dst, x*2+1, y*2+1, e11)
		}
	}
	return dst
}

// scale3x expands each pixel to a 3x3 block using the Scale3x kernel.
func scale3x(img *image.NRGBA) *image.NRGBA {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w*3, h*3))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := px(img, x-1, y-1)
			b := px(img, x, y-1)
			c := px(img, x+1, y-1)
			d := px(img, x-1, y)
			e := px(img, x, y)
			f := px(img, x+1, y)
			g := px(img, x-1, y+1)
			hh := px(img, x, y+1)
			i := px(img, x+1, y+1)

			e00, e01, e02 := e, e, e
			e10, e11, e12 := e, e, e
			e20, e21, e22 := e, e, e

			if b != hh && d != f {
				if d == b {
					e00 = d
				}
				if (d == b && e != c) || (b == f && e != a) {
					e01 = b
				}
				if b == f {
					e02 = f
				}
				if (d == b && e != g) || (d == hh && e != a) {
					e10 = d
				}
				if (b == f && e != i) || (hh == f && e != c) {
					e12 = f
				}
				if d == hh {
					e20 = d
				}
				if (d == hh && e != i) || (hh == f && e != g) {
					e21 = hh
				}
				if hh == f {
					e22 = f
				}
			}

			setPx(dst, x*3, y*3, e00)
			setPx(dst, x*3+1, y*3, e01)
			setPx(dst, x*3+2, y*3, e02)
			setPx(dst, x*3, y*3+1, e10)
			setPx(dst, x*3+1, y*3+1, e11)
			setPx(dst, x*3+2, y*3+1, e12)
			setPx(dst, x*3, y*3+2, e20)
			setPx(dst, x*3+1, y*3+2, e21)
			setPx(dst, x*3+2, y*3+2, e22)
		}
	}
	return dst
}

func nearest(img *image.NRGBA, factor int) *image.NRGBA {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w*factor, h*factor))
	for y := 0; y < h*factor; y++ {
		for x := 0; x < w*factor; x++ {
			setPx(dst, x, y, px(img, x/factor, y/factor))
		}
	}
	return dst
}
