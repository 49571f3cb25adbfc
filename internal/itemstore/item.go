// Package itemstore is the authoritative, concurrently-accessible map
// from content digest to image item records. TagIndex and ArtifactCache
// are derived views fed by this package's change events; they never
// own item state.
package itemstore

import (
	"slices"
	"time"

	"github.com/starford/raido/internal/digest"
)

// Source records one provenance entry: where an item's bytes were
// imported from and when.
type Source struct {
	Path       string    `cbor:"path" json:"path" yaml:"path"`
	ImportedAt time.Time `cbor:"imported_at" json:"imported_at" yaml:"imported_at"`
}

// Meta holds structured image metadata captured at import time.
type Meta struct {
	Width   int        `cbor:"width" json:"width" yaml:"width"`
	Height  int        `cbor:"height" json:"height" yaml:"height"`
	Format  string     `cbor:"format" json:"format" yaml:"format"`
	TakenAt *time.Time `cbor:"taken_at,omitempty" json:"taken_at,omitempty" yaml:"taken_at,omitempty"`
}

// Item represents one distinct image by content. The digest is the
// immutable identity: importing duplicate bytes merges tags and
// provenance into the existing item instead of creating a new one.
type Item struct {
	Digest    digest.Digest `cbor:"digest" json:"digest" yaml:"digest"`
	Tags      []string      `cbor:"tags" json:"tags" yaml:"tags"`
	Sources   []Source      `cbor:"sources" json:"sources" yaml:"sources"`
	CreatedAt time.Time     `cbor:"created_at" json:"created_at" yaml:"created_at"`
	Meta      *Meta         `cbor:"meta,omitempty" json:"meta,omitempty" yaml:"meta,omitempty"`
}

// HasTag reports whether the item carries the (already normalized) tag.
func (it Item) HasTag(t string) bool {
	_, found := slices.BinarySearch(it.Tags, t)
	return found
}

// clone returns a deep copy so callers can never mutate store state
// through a returned Item.
func (it Item) clone() Item {
	out := it
	out.Tags = slices.Clone(it.Tags)
	out.Sources = slices.Clone(it.Sources)
	if it.Meta != nil {
		m := *it.Meta
		out.Meta = &m
	}
	return out
}
