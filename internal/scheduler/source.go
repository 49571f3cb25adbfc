package scheduler

import (
	"fmt"
	"os"
)

// Source supplies the raw bytes of one import candidate along with the
// path recorded as its provenance.
type Source interface {
	Path() string
	Read() ([]byte, error)
}

// FileSource imports a file from disk.
type FileSource string

func (s FileSource) Path() string { return string(s) }

func (s FileSource) Read() ([]byte, error) {
	data, err := os.ReadFile(string(s))
	if err != nil {
		return nil, fmt.Errorf("scheduler: read source: %w", err)
	}
	return data, nil
}

// BytesSource imports in-memory bytes, e.g. an upload body.
type BytesSource struct {
	Name string
	Data []byte
}

func (s BytesSource) Path() string          { return s.Name }
func (s BytesSource) Read() ([]byte, error) { return s.Data, nil }
