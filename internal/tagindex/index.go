// Package tagindex maintains the derived reverse mapping from tag
// names to item digests. It is fed exclusively by itemstore change
// events and can always be rebuilt from the store; it is never the
// source of truth for an item's tags.
package tagindex

import (
	"hash/fnv"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/starford/raido/internal/digest"
	"github.com/starford/raido/internal/itemstore"
	"github.com/starford/raido/internal/tag"
)

const bucketCount = 64

type bucket struct {
	mu   sync.RWMutex
	tags map[string]map[digest.Digest]struct{}
}

// Index is the queryable tag → items structure. Updates are
// serialized per tag bucket; independent tags update concurrently.
type Index struct {
	buckets [bucketCount]bucket

	// created tracks each indexed item's creation timestamp for
	// ranking tie-breaks. Derived from events like everything else.
	createdMu sync.RWMutex
	created   map[digest.Digest]time.Time
}

// TagCount pairs a distinct tag name with the number of items
// carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// New creates an empty index.
func New() *Index {
	ix := &Index{created: make(map[digest.Digest]time.Time)}
	for i := range ix.buckets {
		ix.buckets[i].tags = make(map[string]map[digest.Digest]struct{})
	}
	return ix
}

func (ix *Index) bucketFor(t string) *bucket {
	h := fnv.New32a()
	h.Write([]byte(t))
	return &ix.buckets[h.Sum32()&(bucketCount-1)]
}

// Apply incorporates one store change event. Apply is idempotent:
// replaying an event leaves the index unchanged.
func (ix *Index) Apply(ev itemstore.Event) {
	switch ev.Kind {
	case itemstore.KindCreated, itemstore.KindTagsAdded:
		ix.createdMu.Lock()
		ix.created[ev.Digest] = ev.CreatedAt
		ix.createdMu.Unlock()
		for _, t := range ev.Tags {
			ix.link(t, ev.Digest)
		}
	case itemstore.KindTagsRemoved:
		for _, t := range ev.Tags {
			ix.unlink(t, ev.Digest)
		}
	case itemstore.KindRemoved:
		for _, t := range ev.Tags {
			ix.unlink(t, ev.Digest)
		}
		ix.createdMu.Lock()
		delete(ix.created, ev.Digest)
		ix.createdMu.Unlock()
	}
}

// Rebuild replaces the index contents from the store's current state.
// An index rebuilt this way is indistinguishable from one maintained
// incrementally through the same history.
func (ix *Index) Rebuild(store *itemstore.Store) {
	for i := range ix.buckets {
		b := &ix.buckets[i]
		b.mu.Lock()
		b.tags = make(map[string]map[digest.Digest]struct{})
		b.mu.Unlock()
	}
	ix.createdMu.Lock()
	ix.created = make(map[digest.Digest]time.Time)
	ix.createdMu.Unlock()

	for it := range store.All() {
		ix.createdMu.Lock()
		ix.created[it.Digest] = it.CreatedAt
		ix.createdMu.Unlock()
		for _, t := range it.Tags {
			ix.link(t, it.Digest)
		}
	}
}

func (ix *Index) link(t string, d digest.Digest) {
	b := ix.bucketFor(t)
	b.mu.Lock()
	set, ok := b.tags[t]
	if !ok {
		set = make(map[digest.Digest]struct{})
		b.tags[t] = set
	}
	set[d] = struct{}{}
	b.mu.Unlock()
}

func (ix *Index) unlink(t string, d digest.Digest) {
	b := ix.bucketFor(t)
	b.mu.Lock()
	if set, ok := b.tags[t]; ok {
		delete(set, d)
		if len(set) == 0 {
			delete(b.tags, t)
		}
	}
	b.mu.Unlock()
}

// SearchExact returns the digests of every item carrying the tag.
// The query goes through the same normalization as store writes.
func (ix *Index) SearchExact(raw string) []digest.Digest {
	t, err := tag.Normalize(raw)
	if err != nil {
		return nil
	}
	b := ix.bucketFor(t)
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.tags[t]
	if !ok {
		return nil
	}
	out := make([]digest.Digest, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// Tags returns every distinct tag with its item count, sorted by name.
func (ix *Index) Tags() []TagCount {
	var out []TagCount
	for i := range ix.buckets {
		b := &ix.buckets[i]
		b.mu.RLock()
		for t, set := range b.tags {
			out = append(out, TagCount{Tag: t, Count: len(set)})
		}
		b.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b TagCount) int { return strings.Compare(a.Tag, b.Tag) })
	return out
}

// createdAt returns the recorded creation time for a digest; the zero
// time when unknown.
func (ix *Index) createdAt(d digest.Digest) time.Time {
	ix.createdMu.RLock()
	defer ix.createdMu.RUnlock()
	return ix.created[d]
}

// tagNames snapshots the distinct tag names with their digest sets,
// used by fuzzy search so scoring runs without holding bucket locks.
func (ix *Index) tagSets() map[string][]digest.Digest {
	out := make(map[string][]digest.Digest)
	for i := range ix.buckets {
		b := &ix.buckets[i]
		b.mu.RLock()
		for t, set := range b.tags {
			ds := make([]digest.Digest, 0, len(set))
			for d := range set {
				ds = append(ds, d)
			}
			out[t] = ds
		}
		b.mu.RUnlock()
	}
	return out
}
