package itemstore

import (
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/digest"
	"github.com/starford/raido/internal/tag"
)

// shardCount is a power of two so the shard pick is a mask. 64 shards
// keep contention negligible for a single-user library while staying
// cheap to iterate for snapshots.
const shardCount = 64

type shard struct {
	mu    sync.RWMutex
	items map[digest.Digest]*Item
}

// Store is the source of truth for items. Operations are atomic per
// digest; operations on different digests proceed without blocking
// each other. Every mutation dispatches a change Event to subscribers
// while the affected shard is still locked, so per-digest event order
// matches commit order.
type Store struct {
	shards [shardCount]shard

	subMu sync.RWMutex
	subs  []func(Event)

	// now is replaceable in tests.
	now func() time.Time
}

// SetNow replaces the store's clock. Intended for tests that need
// deterministic creation times.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// New creates an empty store.
func New() *Store {
	s := &Store{now: func() time.Time { return time.Now().UTC() }}
	for i := range s.shards {
		s.shards[i].items = make(map[digest.Digest]*Item)
	}
	return s
}

// Subscribe registers fn for change events. Subscribers run
// synchronously inside the mutating call and must not call back into
// the store for the same digest.
func (s *Store) Subscribe(fn func(Event)) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

func (s *Store) dispatch(ev Event) {
	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (s *Store) shardFor(d digest.Digest) *shard {
	return &s.shards[d[0]&(shardCount-1)]
}

// Get returns a copy of the item for d, or apperr.ErrNotFound.
func (s *Store) Get(d digest.Digest) (Item, error) {
	sh := s.shardFor(d)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	it, ok := sh.items[d]
	if !ok {
		return Item{}, apperr.ErrNotFound
	}
	return it.clone(), nil
}

// Has reports whether d is present.
func (s *Store) Has(d digest.Digest) bool {
	sh := s.shardFor(d)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.items[d]
	return ok
}

// Upsert creates the item for d or merges into the existing one:
// tag sets are unioned, the provenance entry is appended unless an
// entry with the same path exists, and meta fills in only if absent.
// Raw tags are normalized here so the store never holds a
// non-canonical tag.
func (s *Store) Upsert(d digest.Digest, rawTags []string, src Source, meta *Meta) (Item, error) {
	tags, err := tag.NormalizeAll(rawTags)
	if err != nil {
		return Item{}, err
	}

	sh := s.shardFor(d)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[d]
	if !ok {
		created := &Item{
			Digest:    d,
			Tags:      sortedUnique(tags),
			Sources:   []Source{src},
			CreatedAt: s.now(),
			Meta:      meta,
		}
		sh.items[d] = created
		s.dispatch(Event{Digest: d, Kind: KindCreated, Tags: slices.Clone(created.Tags), CreatedAt: created.CreatedAt})
		return created.clone(), nil
	}

	added := mergeTags(it, tags)
	if !slices.ContainsFunc(it.Sources, func(existing Source) bool { return existing.Path == src.Path }) {
		it.Sources = append(it.Sources, src)
	}
	if it.Meta == nil && meta != nil {
		it.Meta = meta
	}
	if len(added) > 0 {
		s.dispatch(Event{Digest: d, Kind: KindTagsAdded, Tags: added, CreatedAt: it.CreatedAt})
	}
	return it.clone(), nil
}

// AddTags adds normalized tags to an existing item.
func (s *Store) AddTags(d digest.Digest, rawTags []string) (Item, error) {
	tags, err := tag.NormalizeAll(rawTags)
	if err != nil {
		return Item{}, err
	}

	sh := s.shardFor(d)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[d]
	if !ok {
		return Item{}, apperr.ErrNotFound
	}
	added := mergeTags(it, tags)
	if len(added) > 0 {
		s.dispatch(Event{Digest: d, Kind: KindTagsAdded, Tags: added, CreatedAt: it.CreatedAt})
	}
	return it.clone(), nil
}

// RemoveTags removes tags from an existing item. Tags the item does
// not carry are ignored.
func (s *Store) RemoveTags(d digest.Digest, rawTags []string) (Item, error) {
	tags, err := tag.NormalizeAll(rawTags)
	if err != nil {
		return Item{}, err
	}

	sh := s.shardFor(d)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[d]
	if !ok {
		return Item{}, apperr.ErrNotFound
	}

	var removed []string
	for _, t := range tags {
		if i, found := slices.BinarySearch(it.Tags, t); found {
			it.Tags = slices.Delete(it.Tags, i, i+1)
			removed = append(removed, t)
		}
	}
	if len(removed) > 0 {
		s.dispatch(Event{Digest: d, Kind: KindTagsRemoved, Tags: removed, CreatedAt: it.CreatedAt})
	}
	return it.clone(), nil
}

// Remove deletes the item for d and emits the invalidation event
// consumed by TagIndex and ArtifactCache. Items are never removed
// implicitly; this is the explicit user action.
func (s *Store) Remove(d digest.Digest) error {
	sh := s.shardFor(d)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[d]
	if !ok {
		return apperr.ErrNotFound
	}
	delete(sh.items, d)
	s.dispatch(Event{Digest: d, Kind: KindRemoved, Tags: slices.Clone(it.Tags), CreatedAt: it.CreatedAt})
	return nil
}

// Len returns the number of items.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Items returns copies of all items in unspecified order. Each shard
// is read under its own lock; the result is consistent per item, not
// globally.
func (s *Store) Items() []Item {
	out := make([]Item, 0, s.Len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, it := range sh.items {
			out = append(out, it.clone())
		}
		sh.mu.RUnlock()
	}
	return out
}

// All returns an iterator over copies of all items, one shard at a
// time. Shard locks are not held while the caller's body runs.
func (s *Store) All() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		for i := range s.shards {
			sh := &s.shards[i]
			sh.mu.RLock()
			batch := make([]Item, 0, len(sh.items))
			for _, it := range sh.items {
				batch = append(batch, it.clone())
			}
			sh.mu.RUnlock()
			for _, it := range batch {
				if !yield(it) {
					return
				}
			}
		}
	}
}

// mergeTags unions tags into it.Tags (kept sorted) and returns the
// tags that were actually new.
func mergeTags(it *Item, tags []string) []string {
	var added []string
	for _, t := range tags {
		if i, found := slices.BinarySearch(it.Tags, t); !found {
			it.Tags = slices.Insert(it.Tags, i, t)
			added = append(added, t)
		}
	}
	return added
}

func sortedUnique(tags []string) []string {
	out := slices.Clone(tags)
	slices.Sort(out)
	return slices.Compact(out)
}
