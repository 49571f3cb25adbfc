// Package query resolves tag and fuzzy searches into lazy item
// sequences backed by the store and tag index.
package query

import (
	"iter"
	"sort"
	"strings"

	"github.com/starford/raido/internal/digest"
	"github.com/starford/raido/internal/itemstore"
	"github.com/starford/raido/internal/tagindex"
)

// Query describes one search. All fields compose: Tags narrows to items
// carrying every listed tag, Fuzzy ranks by approximate tag match,
// Offset skips leading results, and Limit caps the result count (zero
// means unlimited).
type Query struct {
	Tags   []string `json:"tags,omitempty"`
	Fuzzy  string   `json:"fuzzy,omitempty"`
	Offset int      `json:"offset,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// Engine answers queries against live state. Results are computed at
// iteration time, so ranging twice over the same sequence reflects any
// mutations in between.
type Engine struct {
	store *itemstore.Store
	index *tagindex.Index
}

func New(store *itemstore.Store, index *tagindex.Index) *Engine {
	return &Engine{store: store, index: index}
}

// Search returns a restartable sequence of matching items. Without a
// fuzzy term results come newest first; with one they come in score
// order. Items removed between resolution and yield are skipped.
func (e *Engine) Search(q Query) iter.Seq[itemstore.Item] {
	return func(yield func(itemstore.Item) bool) {
		skipped, n := 0, 0
		for _, d := range e.resolve(q) {
			if q.Limit > 0 && n >= q.Limit {
				return
			}
			it, err := e.store.Get(d)
			if err != nil {
				continue
			}
			if skipped < q.Offset {
				skipped++
				continue
			}
			if !yield(it) {
				return
			}
			n++
		}
	}
}

// Count reports how many items match, ignoring Limit.
func (e *Engine) Count(q Query) int {
	n := 0
	unlimited := q
	unlimited.Limit = 0
	for _, d := range e.resolve(unlimited) {
		if e.store.Has(d) {
			n++
		}
	}
	return n
}

// resolve produces the ordered candidate digests for q.
func (e *Engine) resolve(q Query) []digest.Digest {
	var narrowed map[digest.Digest]struct{}
	if len(q.Tags) > 0 {
		narrowed = e.intersect(q.Tags)
		if len(narrowed) == 0 {
			return nil
		}
	}

	if fuzzy := strings.TrimSpace(q.Fuzzy); fuzzy != "" {
		matches := e.index.SearchFuzzy(fuzzy, 0)
		out := make([]digest.Digest, 0, len(matches))
		for _, m := range matches {
			if narrowed != nil {
				if _, ok := narrowed[m.Digest]; !ok {
					continue
				}
			}
			out = append(out, m.Digest)
		}
		return out
	}

	var out []digest.Digest
	if narrowed != nil {
		out = make([]digest.Digest, 0, len(narrowed))
		for d := range narrowed {
			out = append(out, d)
		}
	} else {
		items := e.store.Items()
		out = make([]digest.Digest, 0, len(items))
		for _, it := range items {
			out = append(out, it.Digest)
		}
	}
	e.sortNewestFirst(out)
	return out
}

// intersect returns the digests carrying every tag in raw.
func (e *Engine) intersect(raw []string) map[digest.Digest]struct{} {
	set := make(map[digest.Digest]struct{})
	for i, t := range raw {
		matched := e.index.SearchExact(t)
		if i == 0 {
			for _, d := range matched {
				set[d] = struct{}{}
			}
			continue
		}
		keep := make(map[digest.Digest]struct{}, len(matched))
		for _, d := range matched {
			if _, ok := set[d]; ok {
				keep[d] = struct{}{}
			}
		}
		set = keep
		if len(set) == 0 {
			break
		}
	}
	return set
}

func (e *Engine) sortNewestFirst(ds []digest.Digest) {
	type keyed struct {
		d   digest.Digest
		at  int64
		hex string
	}
	keys := make([]keyed, len(ds))
	for i, d := range ds {
		at := int64(0)
		if it, err := e.store.Get(d); err == nil {
			at = it.CreatedAt.UnixNano()
		}
		keys[i] = keyed{d: d, at: at, hex: d.Format()}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].at != keys[j].at {
			return keys[i].at > keys[j].at
		}
		return keys[i].hex < keys[j].hex
	})
	for i, k := range keys {
		ds[i] = k.d
	}
}
