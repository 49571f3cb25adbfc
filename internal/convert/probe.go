package convert

import (
	"bytes"
	"image"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/starford/raido/internal/itemstore"
)

// Probe extracts structured metadata from raw image bytes without a
// full decode: dimensions and format from the header, capture time
// from EXIF when present. Returns nil when the header is unreadable;
// callers treat metadata as optional.
func Probe(src []byte) *itemstore.Meta {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil
	}
	meta := &itemstore.Meta{Width: cfg.Width, Height: cfg.Height, Format: format}

	// EXIF is best effort: most PNGs and many JPEGs carry none.
	if x, err := exif.Decode(bytes.NewReader(src)); err == nil {
		if taken, err := x.DateTime(); err == nil {
			utc := taken.UTC()
			meta.TakenAt = &utc
		}
	}
	return meta
}
