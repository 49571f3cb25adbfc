// Package export writes zstd-compressed tar archives of library items:
// one artifact file plus one YAML metadata sidecar per item.
package export

import (
	"archive/tar"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/starford/raido/internal/itemstore"
)

// SidecarSuffix names the metadata file written next to each artifact.
const SidecarSuffix = ".meta.yaml"

// Writer streams items into an archive. Entries appear in the order
// they are added; Close must be called to flush the compressor.
type Writer struct {
	zw *zstd.Encoder
	tw *tar.Writer
}

// NewWriter wraps w in zstd and tar layers.
func NewWriter(w io.Writer) (*Writer, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("export: init compressor: %w", err)
	}
	return &Writer{zw: zw, tw: tar.NewWriter(zw)}, nil
}

// Add writes one item: <digest>.<ext> with the artifact bytes, then
// <digest>.meta.yaml with the item's metadata. Entry timestamps come
// from the item so identical libraries export identical archives.
func (w *Writer) Add(it itemstore.Item, artifact []byte, ext string) error {
	name := it.Digest.Format() + "." + ext
	if err := w.writeEntry(name, artifact, it); err != nil {
		return err
	}

	sidecar, err := yaml.Marshal(it)
	if err != nil {
		return fmt.Errorf("export: marshal sidecar for %s: %w", it.Digest.Short(), err)
	}
	return w.writeEntry(it.Digest.Format()+SidecarSuffix, sidecar, it)
}

func (w *Writer) writeEntry(name string, data []byte, it itemstore.Item) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: it.CreatedAt,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("export: write header %s: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("export: write entry %s: %w", name, err)
	}
	return nil
}

// Close flushes the tar and zstd layers. The underlying writer is left
// open.
func (w *Writer) Close() error {
	if err := w.tw.Close(); err != nil {
		return fmt.Errorf("export: close tar: %w", err)
	}
	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("export: close compressor: %w", err)
	}
	return nil
}

// Entry is one decoded archive member.
type Entry struct {
	Name string
	Data []byte
}

// Read decodes an archive produced by Writer, in entry order.
func Read(r io.Reader) ([]Entry, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("export: init decompressor: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var out []Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("export: read archive: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("export: read entry %s: %w", hdr.Name, err)
		}
		out = append(out, Entry{Name: hdr.Name, Data: data})
	}
}
