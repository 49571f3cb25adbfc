// Package library is the coordination layer: it ties the item store,
// tag index, artifact cache, scheduler and file system together behind
// one service API.
package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/artcache"
	"github.com/starford/raido/internal/convert"
	"github.com/starford/raido/internal/digest"
	"github.com/starford/raido/internal/export"
	"github.com/starford/raido/internal/itemstore"
	"github.com/starford/raido/internal/query"
	"github.com/starford/raido/internal/scheduler"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/tagindex"
)

// snapshotRel is the snapshot location inside the library root.
const snapshotRel = ".raido/library.cbor"

// Status summarizes the library for monitoring endpoints.
type Status struct {
	Items      int            `json:"items"`
	Tags       int            `json:"tags"`
	QueueDepth int            `json:"queue_depth"`
	Cache      artcache.Stats `json:"cache"`
}

// Service coordinates all library operations.
type Service struct {
	store  *itemstore.Store
	index  *tagindex.Index
	cache  *artcache.Cache
	engine *query.Engine
	fs     storage.Provider
	sched  *scheduler.Scheduler
	params convert.Params
	logger *slog.Logger
}

// NewService wires the components. The scheduler must be constructed
// with the same store and cache.
func NewService(store *itemstore.Store, index *tagindex.Index, cache *artcache.Cache, fs storage.Provider, sched *scheduler.Scheduler, params convert.Params, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		index:  index,
		cache:  cache,
		engine: query.New(store, index),
		fs:     fs,
		sched:  sched,
		params: params,
		logger: logger,
	}
}

// Import queues the sources as one batch.
func (s *Service) Import(ctx context.Context, sources []scheduler.Source, tags []string) (*scheduler.Batch, error) {
	return s.sched.EnqueueBatch(ctx, sources, tags)
}

// ImportPath queues a single library-relative path.
func (s *Service) ImportPath(ctx context.Context, rel string, tags []string) (*scheduler.Batch, error) {
	if !storage.IsImage(rel) {
		return nil, fmt.Errorf("library: %s is not an image: %w", rel, apperr.ErrConflict)
	}
	return s.sched.EnqueueBatch(ctx, []scheduler.Source{libSource{fs: s.fs, rel: rel}}, tags)
}

// ImportPaths queues several library-relative paths as one batch.
func (s *Service) ImportPaths(ctx context.Context, rels []string, tags []string) (*scheduler.Batch, error) {
	sources := make([]scheduler.Source, 0, len(rels))
	for _, rel := range rels {
		if !storage.IsImage(rel) {
			return nil, fmt.Errorf("library: %s is not an image: %w", rel, apperr.ErrConflict)
		}
		sources = append(sources, libSource{fs: s.fs, rel: rel})
	}
	return s.sched.EnqueueBatch(ctx, sources, tags)
}

// ScanAll queues every image under the library root. Content already in
// the store is merged, not duplicated.
func (s *Service) ScanAll(ctx context.Context, tags []string) (*scheduler.Batch, error) {
	files, err := s.fs.ListImages("")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("library: no images under root: %w", apperr.ErrNotFound)
	}
	sources := make([]scheduler.Source, len(files))
	for i, f := range files {
		sources[i] = libSource{fs: s.fs, rel: f.Path}
	}
	return s.sched.EnqueueBatch(ctx, sources, tags)
}

// Get returns one item by digest.
func (s *Service) Get(_ context.Context, d digest.Digest) (itemstore.Item, error) {
	return s.store.Get(d)
}

// Search returns a lazy, restartable result sequence.
func (s *Service) Search(q query.Query) iter.Seq[itemstore.Item] {
	return s.engine.Search(q)
}

// Count reports how many items match q, ignoring its limit.
func (s *Service) Count(q query.Query) int {
	return s.engine.Count(q)
}

// AddTags attaches tags to an item.
func (s *Service) AddTags(_ context.Context, d digest.Digest, tags []string) (itemstore.Item, error) {
	return s.store.AddTags(d, tags)
}

// RemoveTags detaches tags from an item.
func (s *Service) RemoveTags(_ context.Context, d digest.Digest, tags []string) (itemstore.Item, error) {
	return s.store.RemoveTags(d, tags)
}

// Remove deletes an item, its cached artifacts and its stored original.
// The files it was imported from are left untouched.
func (s *Service) Remove(_ context.Context, d digest.Digest) error {
	if err := s.store.Remove(d); err != nil {
		return err
	}
	if err := s.fs.RemoveOriginal(d); err != nil {
		s.logger.Warn("remove original failed", slog.String("digest", d.Short()), slog.String("error", err.Error()))
	}
	return nil
}

// Tags returns every known tag with its item count.
func (s *Service) Tags() []tagindex.TagCount {
	return s.index.Tags()
}

// Artifact returns the converted rendition of an item under p,
// computing and caching it on demand from the stored original.
func (s *Service) Artifact(ctx context.Context, d digest.Digest, p convert.Params) ([]byte, error) {
	if !s.store.Has(d) {
		return nil, fmt.Errorf("library: item %s: %w", d.Short(), apperr.ErrNotFound)
	}
	return s.cache.GetOrCompute(ctx, d, p.Key(), func(cctx context.Context) ([]byte, error) {
		raw, err := s.fs.ReadOriginal(d)
		if err != nil {
			return nil, err
		}
		return convert.Run(cctx, raw, p)
	})
}

// SaveArtifact materializes the converted rendition of an item as a
// file inside the library root.
func (s *Service) SaveArtifact(ctx context.Context, d digest.Digest, p convert.Params, rel string) error {
	payload, err := s.Artifact(ctx, d, p)
	if err != nil {
		return err
	}
	return s.fs.Write(rel, payload)
}

// DefaultParams is the conversion applied at import time.
func (s *Service) DefaultParams() convert.Params { return s.params }

// Export writes an archive of every item matching q to w and returns
// the number of items written.
func (s *Service) Export(ctx context.Context, w io.Writer, q query.Query) (int, error) {
	aw, err := export.NewWriter(w)
	if err != nil {
		return 0, err
	}
	n := 0
	for it := range s.engine.Search(q) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		artifact, err := s.Artifact(ctx, it.Digest, s.params)
		if err != nil {
			// Skip items whose original is gone rather than
			// aborting the whole archive.
			if errors.Is(err, apperr.ErrNotFound) {
				s.logger.Warn("export skip", slog.String("digest", it.Digest.Short()), slog.String("error", err.Error()))
				continue
			}
			return n, err
		}
		if err := aw.Add(it, artifact, string(s.params.Format)); err != nil {
			return n, err
		}
		n++
	}
	return n, aw.Close()
}

// Status reports current library counters.
func (s *Service) Status() Status {
	return Status{
		Items:      s.store.Len(),
		Tags:       len(s.index.Tags()),
		QueueDepth: s.sched.QueueDepth(),
		Cache:      s.cache.Stats(),
	}
}

// SaveSnapshot persists the item store atomically inside the library
// root.
func (s *Service) SaveSnapshot() error {
	var buf bytes.Buffer
	if err := s.store.WriteSnapshot(&buf); err != nil {
		return err
	}
	if err := s.fs.Write(snapshotRel, buf.Bytes()); err != nil {
		return fmt.Errorf("library: save snapshot: %w", err)
	}
	s.logger.Info("snapshot saved", slog.Int("items", s.store.Len()), slog.Int("bytes", buf.Len()))
	return nil
}

// LoadSnapshot restores the item store and rebuilds the tag index. A
// missing snapshot leaves the library empty and is not an error.
func (s *Service) LoadSnapshot() error {
	data, err := s.fs.Read(snapshotRel)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Info("no snapshot, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("library: load snapshot: %w", err)
	}
	if err := s.store.ReadSnapshot(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("library: load snapshot: %w", err)
	}
	s.index.Rebuild(s.store)
	s.logger.Info("snapshot loaded", slog.Int("items", s.store.Len()))
	return nil
}

// libSource adapts a library-relative file to a scheduler source.
type libSource struct {
	fs  storage.Provider
	rel string
}

func (s libSource) Path() string          { return s.rel }
func (s libSource) Read() ([]byte, error) { return s.fs.Read(s.rel) }
