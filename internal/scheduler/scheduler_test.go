package scheduler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/artcache"
	"github.com/starford/raido/internal/convert"
	"github.com/starford/raido/internal/itemstore"
)

func testPNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: shade, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testSetup(t *testing.T, cfg Config) (*itemstore.Store, *artcache.Cache, *Scheduler) {
	t.Helper()
	store := itemstore.New()
	cache, err := artcache.Open(filepath.Join(t.TempDir(), "artifacts.db"), artcache.Config{})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	if cfg.Params.Format == "" {
		cfg.Params = convert.Params{ScaleFactor: 2, Format: convert.FormatPNG}
	}
	s := New(store, cache, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return store, cache, s
}

// gatedSource blocks Read until released and counts concurrent readers.
type gatedSource struct {
	name    string
	data    []byte
	gate    <-chan struct{}
	active  *atomic.Int32
	maxSeen *atomic.Int32
}

func (s gatedSource) Path() string { return s.name }

func (s gatedSource) Read() ([]byte, error) {
	if s.active != nil {
		n := s.active.Add(1)
		defer s.active.Add(-1)
		for {
			seen := s.maxSeen.Load()
			if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
				break
			}
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	return s.data, nil
}

func TestImportBatch(t *testing.T) {
	store, _, s := testSetup(t, Config{Workers: 2, QueueSize: 16})

	sources := []Source{
		BytesSource{Name: "a.png", Data: testPNG(t, 10)},
		BytesSource{Name: "b.png", Data: testPNG(t, 20)},
		BytesSource{Name: "c.png", Data: testPNG(t, 30)},
	}
	b, err := s.EnqueueBatch(context.Background(), sources, []string{"pixel", "test"})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}

	completed, failed, err := b.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if completed != 3 || failed != 0 {
		t.Fatalf("completed=%d failed=%d, want 3/0", completed, failed)
	}
	if store.Len() != 3 {
		t.Errorf("store has %d items, want 3", store.Len())
	}
	for _, it := range store.Items() {
		if !it.HasTag("pixel") || !it.HasTag("test") {
			t.Errorf("item %s tags = %v", it.Digest.Short(), it.Tags)
		}
	}
}

func TestJobStateSequence(t *testing.T) {
	_, _, s := testSetup(t, Config{Workers: 1, QueueSize: 4})

	b, err := s.EnqueueBatch(context.Background(), []Source{
		BytesSource{Name: "a.png", Data: testPNG(t, 1)},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	var states []State
	for u := range b.Updates() {
		states = append(states, u.State)
	}
	want := []State{StatePending, StateHashing, StateConverting, StateCommitting, StateDone}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	_, _, s := testSetup(t, Config{Workers: 2, QueueSize: 16})

	gate := make(chan struct{})
	var active, maxSeen atomic.Int32
	sources := make([]Source, 5)
	for i := range sources {
		sources[i] = gatedSource{
			name:    string(rune('a'+i)) + ".png",
			data:    testPNG(t, uint8(i)),
			gate:    gate,
			active:  &active,
			maxSeen: &maxSeen,
		}
	}

	b, err := s.EnqueueBatch(context.Background(), sources, nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	if _, _, err := b.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := maxSeen.Load(); got > 2 {
		t.Errorf("observed %d concurrent jobs, pool size is 2", got)
	}
}

func TestBatchContinuesPastFailure(t *testing.T) {
	store, _, s := testSetup(t, Config{Workers: 2, QueueSize: 16})

	b, err := s.EnqueueBatch(context.Background(), []Source{
		BytesSource{Name: "good1.png", Data: testPNG(t, 1)},
		BytesSource{Name: "broken.png", Data: []byte("not an image")},
		BytesSource{Name: "good2.png", Data: testPNG(t, 2)},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	completed, failed, err := b.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if completed != 2 || failed != 1 {
		t.Errorf("completed=%d failed=%d, want 2/1", completed, failed)
	}
	if store.Len() != 2 {
		t.Errorf("store has %d items, want 2", store.Len())
	}

	var failedUpdate *Update
	for u := range b.Updates() {
		if u.State == StateFailed {
			u := u
			failedUpdate = &u
		}
	}
	if failedUpdate == nil {
		t.Fatal("no failed update emitted")
	}
	if failedUpdate.Path != "broken.png" || failedUpdate.Err == "" {
		t.Errorf("failed update = %+v", failedUpdate)
	}
}

func TestBatchCancel(t *testing.T) {
	// One worker, so b and c are still queued while a blocks in Read.
	store, _, s := testSetup(t, Config{Workers: 1, QueueSize: 16})

	gate := make(chan struct{})
	var queuedActive, queuedReads atomic.Int32
	sources := []Source{
		gatedSource{name: "a.png", data: testPNG(t, 0), gate: gate},
		gatedSource{name: "b.png", data: testPNG(t, 1), active: &queuedActive, maxSeen: &queuedReads},
		gatedSource{name: "c.png", data: testPNG(t, 2), active: &queuedActive, maxSeen: &queuedReads},
	}
	b, err := s.EnqueueBatch(context.Background(), sources, nil)
	if err != nil {
		t.Fatal(err)
	}

	b.Cancel()
	close(gate)

	completed, failed, err := b.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if completed != 0 || failed != 3 {
		t.Errorf("completed=%d failed=%d, want 0/3", completed, failed)
	}
	if store.Len() != 0 {
		t.Errorf("cancelled batch committed %d items", store.Len())
	}
	// Cancellation must fail still-queued jobs before touching their
	// sources.
	if queuedReads.Load() != 0 {
		t.Error("queued sources were read after cancellation")
	}
}

func TestJobTimeout(t *testing.T) {
	_, _, s := testSetup(t, Config{Workers: 1, QueueSize: 4, JobTimeout: 20 * time.Millisecond})

	gate := make(chan struct{})
	b, err := s.EnqueueBatch(context.Background(), []Source{
		gatedSource{name: "slow.png", data: testPNG(t, 1), gate: gate},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	time.AfterFunc(100*time.Millisecond, func() { close(gate) })

	completed, failed, err := b.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if completed != 0 || failed != 1 {
		t.Errorf("completed=%d failed=%d, want 0/1", completed, failed)
	}

	var failure Update
	for u := range b.Updates() {
		if u.State == StateFailed {
			failure = u
		}
	}
	if failure.State != StateFailed {
		t.Fatal("no failed update emitted")
	}
	// The report carries the elapsed time alongside the sentinel.
	if !strings.Contains(failure.Err, apperr.ErrTimeout.Error()) {
		t.Errorf("failure = %q, want it to mention %q", failure.Err, apperr.ErrTimeout)
	}
	if !strings.HasPrefix(failure.Err, "after ") {
		t.Errorf("failure = %q, want elapsed-time prefix", failure.Err)
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	store := itemstore.New()
	cache, err := artcache.Open(filepath.Join(t.TempDir(), "artifacts.db"), artcache.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	// No Run loop, so the queue never drains.
	s := New(store, cache, Config{Workers: 1, QueueSize: 2, Params: convert.Params{Format: convert.FormatPNG}})

	sources := []Source{
		BytesSource{Name: "a.png", Data: testPNG(t, 1)},
		BytesSource{Name: "b.png", Data: testPNG(t, 2)},
		BytesSource{Name: "c.png", Data: testPNG(t, 3)},
	}
	if _, err := s.EnqueueBatch(context.Background(), sources, nil); !errors.Is(err, apperr.ErrCapacity) {
		t.Errorf("err = %v, want ErrCapacity", err)
	}
}

func TestReimportSkipsConversion(t *testing.T) {
	store, cache, s := testSetup(t, Config{Workers: 1, QueueSize: 8})
	data := testPNG(t, 42)

	run := func(name, tag string) {
		t.Helper()
		b, err := s.EnqueueBatch(context.Background(), []Source{BytesSource{Name: name, Data: data}}, []string{tag})
		if err != nil {
			t.Fatal(err)
		}
		if completed, failed, _ := b.Wait(context.Background()); completed != 1 || failed != 0 {
			t.Fatalf("completed=%d failed=%d", completed, failed)
		}
	}

	run("cat.png", "animal")
	run("cat_copy.png", "pet")

	if store.Len() != 1 {
		t.Fatalf("store has %d items, want 1 (same content)", store.Len())
	}
	it := store.Items()[0]
	if !it.HasTag("animal") || !it.HasTag("pet") {
		t.Errorf("tags = %v", it.Tags)
	}
	if len(it.Sources) != 2 {
		t.Errorf("provenance = %+v, want both paths", it.Sources)
	}
	if misses := cache.Stats().Misses; misses != 1 {
		t.Errorf("cache misses = %d, want 1 (second import skips conversion)", misses)
	}
}

func TestNotifyReceivesAllUpdates(t *testing.T) {
	_, _, s := testSetup(t, Config{Workers: 1, QueueSize: 4})

	var count atomic.Int32
	s.Notify(func(Update) { count.Add(1) })

	b, err := s.EnqueueBatch(context.Background(), []Source{
		BytesSource{Name: "a.png", Data: testPNG(t, 1)},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if count.Load() != 5 {
		t.Errorf("callback ran %d times, want 5", count.Load())
	}
}
