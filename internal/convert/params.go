// Package convert implements the stateless image conversion pipeline:
// decode, optional edge-preserving integer upscale, optional
// aspect-ratio padding with background fill, re-encode. The pipeline
// is deterministic — identical input bytes and params always produce
// byte-identical output — which is what makes (digest, Params.Key())
// a valid cache address.
package convert

import (
	"fmt"
	"image/color"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Format is the output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// Fill is the background used when padding the canvas: transparent or
// a solid color.
type Fill struct {
	Transparent bool
	Color       color.NRGBA
}

// Transparent is the zero-alpha fill.
var Transparent = Fill{Transparent: true}

// Solid returns an opaque solid-color fill.
func Solid(c color.NRGBA) Fill {
	c.A = 0xff
	return Fill{Color: c}
}

// ParseFill accepts "transparent" or "#rrggbb".
func ParseFill(s string) (Fill, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "transparent" {
		return Transparent, nil
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return Fill{}, fmt.Errorf("convert: bad fill %q: %w", s, err)
	}
	return Solid(color.NRGBA{R: r, G: g, B: b}), nil
}

// String returns the canonical form accepted by ParseFill.
func (f Fill) String() string {
	if f.Transparent {
		return "transparent"
	}
	return fmt.Sprintf("#%02x%02x%02x", f.Color.R, f.Color.G, f.Color.B)
}

// Params configures one pipeline run. Zero values skip the optional
// stages: ScaleFactor 0 or 1 skips upscaling, AspectW/AspectH 0 skips
// padding.
type Params struct {
	ScaleFactor int    `yaml:"scale_factor"`
	AspectW     int    `yaml:"aspect_w"`
	AspectH     int    `yaml:"aspect_h"`
	Fill        Fill   `yaml:"-"`
	Format      Format `yaml:"format"`
	Quality     int    `yaml:"quality"`
}

// Validate checks params before a run is scheduled.
func (p Params) Validate() error {
	return validation.Errors{
		"scale_factor": validation.Validate(p.ScaleFactor, validation.Min(0)),
		"aspect_w":     validation.Validate(p.AspectW, validation.Min(0)),
		"aspect_h":     validation.Validate(p.AspectH, validation.Min(0)),
		"aspect_pair": func() error {
			if (p.AspectW == 0) != (p.AspectH == 0) {
				return fmt.Errorf("aspect_w and aspect_h must be set together")
			}
			return nil
		}(),
		"format":  validation.Validate(string(p.Format), validation.Required, validation.In(string(FormatPNG), string(FormatJPEG))),
		"quality": validation.Validate(p.Quality, validation.Min(0), validation.Max(100)),
	}.Filter()
}

// Key returns the canonical operation key for cache addressing.
// Identical params always yield identical keys.
func (p Params) Key() string {
	return fmt.Sprintf("scale=%d;aspect=%d:%d;fill=%s;format=%s;q=%d",
		p.ScaleFactor, p.AspectW, p.AspectH, p.Fill, p.Format, p.effectiveQuality())
}

func (p Params) effectiveQuality() int {
	if p.Quality == 0 {
		return 90
	}
	return p.Quality
}
