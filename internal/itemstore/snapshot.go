package itemstore

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/starford/raido/internal/digest"
)

// snapshotVersion is bumped only on incompatible layout changes.
const snapshotVersion = 1

// encMode uses Core Deterministic Encoding so the same store contents
// always serialize to identical bytes. Digests serialize as hex text
// via their TextMarshaler; timestamps as RFC 3339 with nanoseconds so
// a reload reproduces them exactly.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TextMarshaler = cbor.TextMarshalerTextString

	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("itemstore: CBOR encoder init failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("itemstore: CBOR decoder init failed: " + err.Error())
	}
}

type snapshot struct {
	Version int    `cbor:"version"`
	Items   []Item `cbor:"items"`
}

// WriteSnapshot serializes the full store to w. Items are ordered by
// digest so identical contents produce identical bytes regardless of
// insertion history.
func (s *Store) WriteSnapshot(w io.Writer) error {
	items := s.Items()
	slices.SortFunc(items, func(a, b Item) int {
		return strings.Compare(digest.Format(a.Digest), digest.Format(b.Digest))
	})
	// Timestamps round-trip through RFC 3339; normalize to UTC up
	// front so the reload compares equal byte-for-byte on re-save.
	for i := range items {
		items[i].CreatedAt = items[i].CreatedAt.UTC()
		for j := range items[i].Sources {
			items[i].Sources[j].ImportedAt = items[i].Sources[j].ImportedAt.UTC()
		}
		if items[i].Meta != nil && items[i].Meta.TakenAt != nil {
			t := items[i].Meta.TakenAt.UTC()
			items[i].Meta.TakenAt = &t
		}
	}

	data, err := encMode.Marshal(snapshot{Version: snapshotVersion, Items: items})
	if err != nil {
		return fmt.Errorf("itemstore: encode snapshot: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("itemstore: write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot replaces the store's contents with a previously saved
// snapshot. No change events are dispatched; callers rebuild derived
// indexes afterwards (see tagindex.Index.Rebuild).
func (s *Store) ReadSnapshot(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("itemstore: read snapshot: %w", err)
	}

	var snap snapshot
	if err := decMode.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("itemstore: decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("itemstore: snapshot version %d, want %d", snap.Version, snapshotVersion)
	}

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.items = make(map[digest.Digest]*Item)
		sh.mu.Unlock()
	}
	for _, it := range snap.Items {
		if it.Digest.IsZero() {
			return fmt.Errorf("itemstore: snapshot item with zero digest")
		}
		clone := it.clone()
		normalizeLoaded(&clone)
		sh := s.shardFor(clone.Digest)
		sh.mu.Lock()
		sh.items[clone.Digest] = &clone
		sh.mu.Unlock()
	}
	return nil
}

// normalizeLoaded forces loaded timestamps to UTC so equality against
// freshly created items is structural.
func normalizeLoaded(it *Item) {
	it.CreatedAt = it.CreatedAt.UTC()
	for i := range it.Sources {
		it.Sources[i].ImportedAt = it.Sources[i].ImportedAt.UTC()
	}
	if it.Meta != nil && it.Meta.TakenAt != nil {
		t := it.Meta.TakenAt.UTC()
		it.Meta.TakenAt = &t
	}
}
