// Package storage defines the library file-system abstraction.
package storage

import (
	"time"

	"github.com/starford/raido/internal/digest"
)

// FileInfo describes one image file found under the library root.
type FileInfo struct {
	Path    string // relative to the library root
	Size    int64
	ModTime time.Time
}

// Provider is the interface for library file operations. Paths are
// relative to the library root.
type Provider interface {
	// ListImages returns every image file under dir.
	ListImages(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error

	// WriteOriginal stores the original bytes of an imported item in
	// the content-addressed area.
	WriteOriginal(d digest.Digest, data []byte) error
	// ReadOriginal returns an item's original bytes.
	ReadOriginal(d digest.Digest) ([]byte, error)
	// RemoveOriginal drops an item's original bytes.
	RemoveOriginal(d digest.Digest) error
}
