package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/starford/raido/internal/apperr"
)

// Stage names the pipeline stage that produced an error.
type Stage string

const (
	StageDecode Stage = "decode"
	StageScale  Stage = "scale"
	StagePad    Stage = "pad"
	StageEncode Stage = "encode"
)

// StageError attributes a pipeline failure to the stage that raised it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("convert: %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Run executes the pipeline on src. Each stage checks ctx at its
// boundary, so cancellation never leaves a stage half-applied; an
// aborted run simply returns without output.
func Run(ctx context.Context, src []byte, p Params) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: fmt.Errorf("%w: %v", apperr.ErrDecode, err)}
	}
	buf := toNRGBA(img)

	if p.ScaleFactor > 1 {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: StageScale, Err: err}
		}
		buf = upscale(buf, p.ScaleFactor)
	}

	if p.AspectW > 0 && p.AspectH > 0 {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: StagePad, Err: err}
		}
		buf = padToAspect(buf, p.AspectW, p.AspectH, p.Fill)
	}

	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: StageEncode, Err: err}
	}
	var out bytes.Buffer
	switch p.Format {
	case FormatJPEG:
		err = jpeg.Encode(&out, buf, &jpeg.Options{Quality: p.effectiveQuality()})
	case FormatPNG, "":
		err = png.Encode(&out, buf)
	default:
		err = fmt.Errorf("unsupported output format %q", p.Format)
	}
	if err != nil {
		return nil, &StageError{Stage: StageEncode, Err: err}
	}
	return out.Bytes(), nil
}

// padToAspect grows the canvas to the smallest rectangle with the
// target ratio that contains the image, centring the original and
// filling the border. Content is never cropped; a matching ratio is a
// no-op.
func padToAspect(img *image.NRGBA, aw, ah int, fill Fill) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	if w*ah == h*aw {
		return img
	}

	tw, th := w, h
	if w*ah < h*aw {
		// Too narrow: widen to ratio.
		tw = ceilDiv(h*aw, ah)
	} else {
		th = ceilDiv(w*ah, aw)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
	if !fill.Transparent {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(fill.Color), image.Point{}, draw.Src)
	}
	offset := image.Pt((tw-w)/2, (th-h)/2)
	draw.Draw(dst, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(w, h))}, img, img.Bounds().Min, draw.Src)
	return dst
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
