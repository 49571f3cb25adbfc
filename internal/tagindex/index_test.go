package tagindex

import (
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/starford/raido/internal/digest"
	"github.com/starford/raido/internal/itemstore"
)

func wiredStore(t *testing.T) (*itemstore.Store, *Index) {
	t.Helper()
	s := itemstore.New()
	ix := New()
	s.Subscribe(ix.Apply)
	return s, ix
}

func digests(ds []digest.Digest) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = digest.Format(d)
	}
	slices.Sort(out)
	return out
}

func TestSearchExact(t *testing.T) {
	s, ix := wiredStore(t)
	d1 := digest.Sum([]byte("one"))
	d2 := digest.Sum([]byte("two"))
	src := itemstore.Source{Path: "p.png", ImportedAt: time.Now().UTC()}

	_, _ = s.Upsert(d1, []string{"animal", "pet"}, src, nil)
	_, _ = s.Upsert(d2, []string{"animal"}, src, nil)

	got := digests(ix.SearchExact("animal"))
	want := digests([]digest.Digest{d1, d2})
	if !reflect.DeepEqual(got, want) {
		t.Errorf("animal = %v, want %v", got, want)
	}
	if got := ix.SearchExact("pet"); len(got) != 1 || got[0] != d1 {
		t.Errorf("pet = %v, want [%s]", got, d1)
	}
	if got := ix.SearchExact("missing"); got != nil {
		t.Errorf("missing = %v, want nil", got)
	}
}

func TestSearchExactNormalizesQuery(t *testing.T) {
	s, ix := wiredStore(t)
	d := digest.Sum([]byte("n"))
	_, _ = s.Upsert(d, []string{"Meeting Notes"}, itemstore.Source{Path: "m.png"}, nil)

	if got := ix.SearchExact("  MEETING   NOTES "); len(got) != 1 {
		t.Errorf("normalized lookup failed: %v", got)
	}
}

func TestRemoveTagUnlinksAndPrunes(t *testing.T) {
	s, ix := wiredStore(t)
	d := digest.Sum([]byte("x"))
	_, _ = s.Upsert(d, []string{"a", "b"}, itemstore.Source{Path: "x.png"}, nil)
	_, _ = s.RemoveTags(d, []string{"a"})

	if got := ix.SearchExact("a"); got != nil {
		t.Errorf("tag a still indexed: %v", got)
	}
	if got := ix.SearchExact("b"); len(got) != 1 {
		t.Errorf("tag b lost: %v", got)
	}
}

func TestItemRemovalUnlinksAllTags(t *testing.T) {
	s, ix := wiredStore(t)
	d := digest.Sum([]byte("x"))
	_, _ = s.Upsert(d, []string{"a", "b"}, itemstore.Source{Path: "x.png"}, nil)
	_ = s.Remove(d)

	if ix.SearchExact("a") != nil || ix.SearchExact("b") != nil {
		t.Error("removed item still reachable through index")
	}
	if len(ix.Tags()) != 0 {
		t.Errorf("Tags() = %v, want empty", ix.Tags())
	}
}

func TestApplyIdempotent(t *testing.T) {
	ix := New()
	d := digest.Sum([]byte("idem"))
	ev := itemstore.Event{Digest: d, Kind: itemstore.KindCreated, Tags: []string{"t"}, CreatedAt: time.Now().UTC()}

	ix.Apply(ev)
	ix.Apply(ev)

	if got := ix.SearchExact("t"); len(got) != 1 {
		t.Errorf("replayed event duplicated entry: %v", got)
	}

	rm := itemstore.Event{Digest: d, Kind: itemstore.KindRemoved, Tags: []string{"t"}}
	ix.Apply(rm)
	ix.Apply(rm)
	if ix.SearchExact("t") != nil {
		t.Error("replayed removal left residue")
	}
}

// A rebuilt index must be indistinguishable from one maintained
// incrementally through the same mutation history.
func TestRebuildMatchesIncremental(t *testing.T) {
	s, incremental := wiredStore(t)
	src := itemstore.Source{Path: "p.png", ImportedAt: time.Now().UTC()}

	d1 := digest.Sum([]byte("one"))
	d2 := digest.Sum([]byte("two"))
	d3 := digest.Sum([]byte("three"))

	_, _ = s.Upsert(d1, []string{"a", "b"}, src, nil)
	_, _ = s.Upsert(d2, []string{"b", "c"}, src, nil)
	_, _ = s.Upsert(d3, []string{"c"}, src, nil)
	_, _ = s.AddTags(d1, []string{"c"})
	_, _ = s.RemoveTags(d2, []string{"b"})
	_ = s.Remove(d3)

	rebuilt := New()
	rebuilt.Rebuild(s)

	if !reflect.DeepEqual(rebuilt.Tags(), incremental.Tags()) {
		t.Errorf("tag counts differ:\n rebuilt %v\n incremental %v", rebuilt.Tags(), incremental.Tags())
	}
	for _, tc := range incremental.Tags() {
		got := digests(rebuilt.SearchExact(tc.Tag))
		want := digests(incremental.SearchExact(tc.Tag))
		if !reflect.DeepEqual(got, want) {
			t.Errorf("tag %q: rebuilt %v, incremental %v", tc.Tag, got, want)
		}
	}
}

func TestTagsCounts(t *testing.T) {
	s, ix := wiredStore(t)
	src := itemstore.Source{Path: "p.png"}
	_, _ = s.Upsert(digest.Sum([]byte("1")), []string{"a"}, src, nil)
	_, _ = s.Upsert(digest.Sum([]byte("2")), []string{"a", "b"}, src, nil)

	want := []TagCount{{Tag: "a", Count: 2}, {Tag: "b", Count: 1}}
	if got := ix.Tags(); !reflect.DeepEqual(got, want) {
		t.Errorf("Tags() = %v, want %v", got, want)
	}
}
