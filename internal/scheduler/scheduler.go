// Package scheduler runs image imports through a bounded worker pool:
// hash, convert, commit, with per-batch cancellation and per-job
// timeouts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/artcache"
	"github.com/starford/raido/internal/convert"
	"github.com/starford/raido/internal/digest"
	"github.com/starford/raido/internal/itemstore"
)

// State is the lifecycle position of a single import job.
type State int

const (
	StatePending State = iota
	StateHashing
	StateConverting
	StateCommitting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateHashing:
		return "hashing"
	case StateConverting:
		return "converting"
	case StateCommitting:
		return "committing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Update is one job status transition. Digest is set once hashing has
// completed; Err is set only for StateFailed.
type Update struct {
	BatchID int64         `json:"batch_id"`
	JobID   int64         `json:"job_id"`
	Path    string        `json:"path"`
	State   State         `json:"state"`
	Digest  digest.Digest `json:"digest,omitzero"`
	Err     string        `json:"error,omitempty"`
}

// Config controls pool size and job limits.
type Config struct {
	// Workers is the number of jobs processed concurrently.
	Workers int
	// QueueSize bounds the pending-job queue. Enqueueing into a full
	// queue fails with apperr.ErrCapacity rather than blocking.
	QueueSize int
	// JobTimeout bounds a single job end to end. Zero disables the
	// per-job deadline.
	JobTimeout time.Duration
	// Params is the conversion applied to every imported image.
	Params convert.Params
	// Persist, when set, stores the original bytes before the item is
	// committed. A persist failure fails the job.
	Persist func(digest.Digest, []byte) error
}

// Scheduler owns the worker pool. Create with New, drive with Run, and
// submit work with EnqueueBatch.
type Scheduler struct {
	store *itemstore.Store
	cache *artcache.Cache
	cfg   Config

	queue chan *job

	batchSeq atomic.Int64
	jobSeq   atomic.Int64

	notifyMu sync.RWMutex
	notify   []func(Update)
}

type job struct {
	id    int64
	batch *Batch
	src   Source
	tags  []string
}

// Batch groups the jobs of one import request. All jobs share a context
// so the whole batch can be cancelled; individual job failures do not
// stop the rest.
type Batch struct {
	id     int64
	ctx    context.Context
	cancel context.CancelFunc

	updates chan Update
	pending atomic.Int32
	done    chan struct{}

	mu        sync.Mutex
	completed int
	failed    int
}

// ID identifies the batch in status updates.
func (b *Batch) ID() int64 { return b.id }

// Updates streams every job transition of this batch. The channel is
// buffered to hold the full batch and is closed when the last job
// finishes.
func (b *Batch) Updates() <-chan Update { return b.updates }

// Done is closed once every job has reached a terminal state.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Cancel aborts jobs that have not yet committed. Already-committed
// items stay in the store.
func (b *Batch) Cancel() { b.cancel() }

// Wait blocks until the batch finishes or ctx expires, then reports how
// many jobs completed and how many failed.
func (b *Batch) Wait(ctx context.Context) (completed, failed int, err error) {
	select {
	case <-b.done:
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed, b.failed, nil
}

// New creates a scheduler. Run must be called before enqueued jobs make
// progress.
func New(store *itemstore.Store, cache *artcache.Cache, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Scheduler{
		store: store,
		cache: cache,
		cfg:   cfg,
		queue: make(chan *job, cfg.QueueSize),
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

// Notify registers a callback invoked for every update across all
// batches. Callbacks run on worker goroutines and must not block.
func (s *Scheduler) Notify(fn func(Update)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notify = append(s.notify, fn)
}

// Run processes queued jobs until ctx is cancelled, then drains the
// workers and returns.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-s.queue:
					s.process(ctx, j)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// EnqueueBatch queues one job per source. It fails with
// apperr.ErrCapacity when the queue cannot hold the whole batch, in
// which case nothing is queued.
func (s *Scheduler) EnqueueBatch(ctx context.Context, sources []Source, tags []string) (*Batch, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("scheduler: empty batch: %w", apperr.ErrConflict)
	}
	if len(sources) > cap(s.queue)-len(s.queue) {
		return nil, fmt.Errorf("scheduler: queue full (%d pending): %w", len(s.queue), apperr.ErrCapacity)
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Batch{
		id:     s.batchSeq.Add(1),
		ctx:    bctx,
		cancel: cancel,
		// Room for every transition of every job so emit never
		// blocks a worker.
		updates: make(chan Update, len(sources)*5),
		done:    make(chan struct{}),
	}
	b.pending.Store(int32(len(sources)))

	jobs := make([]*job, len(sources))
	for i, src := range sources {
		jobs[i] = &job{id: s.jobSeq.Add(1), batch: b, src: src, tags: tags}
	}
	for i, j := range jobs {
		select {
		case s.queue <- j:
			s.emit(b, Update{BatchID: b.id, JobID: j.id, Path: j.src.Path(), State: StatePending})
		default:
			// Raced with other producers; fail the remainder and
			// let already-queued jobs run.
			for _, rest := range jobs[i:] {
				s.finish(rest, Update{
					BatchID: b.id, JobID: rest.id, Path: rest.src.Path(),
					State: StateFailed, Err: "queue full",
				})
			}
			return b, fmt.Errorf("scheduler: queue full (%d pending): %w", len(s.queue), apperr.ErrCapacity)
		}
	}
	return b, nil
}

func (s *Scheduler) process(ctx context.Context, j *job) {
	b := j.batch
	start := time.Now()
	jctx := b.ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(jctx, s.cfg.JobTimeout)
		defer cancel()
	}

	progress := func(state State, d digest.Digest) {
		s.emit(b, Update{BatchID: b.id, JobID: j.id, Path: j.src.Path(), State: state, Digest: d})
	}
	fail := func(d digest.Digest, err error) {
		// Context errors surface as the domain sentinels so consumers
		// can tell a timeout from a batch cancellation.
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("after %s: %w", time.Since(start), apperr.ErrTimeout)
		} else if errors.Is(err, context.Canceled) {
			err = apperr.ErrCanceled
		}
		s.finish(j, Update{
			BatchID: b.id, JobID: j.id, Path: j.src.Path(),
			State: StateFailed, Digest: d, Err: err.Error(),
		})
	}

	// A job dequeued after cancellation fails without touching the
	// source at all.
	if err := jctx.Err(); err != nil {
		fail(digest.Digest{}, err)
		return
	}

	progress(StateHashing, digest.Digest{})
	raw, err := j.src.Read()
	if err != nil {
		fail(digest.Digest{}, err)
		return
	}
	d := digest.Sum(raw)
	if err := jctx.Err(); err != nil {
		fail(d, err)
		return
	}

	progress(StateConverting, d)
	key := s.cfg.Params.Key()
	// Re-importing known content with a warm cache skips conversion
	// entirely.
	if !s.store.Has(d) || !s.cache.Contains(d, key) {
		if _, err := s.cache.GetOrCompute(jctx, d, key, func(cctx context.Context) ([]byte, error) {
			return convert.Run(cctx, raw, s.cfg.Params)
		}); err != nil {
			fail(d, err)
			return
		}
	}
	if err := jctx.Err(); err != nil {
		fail(d, err)
		return
	}

	progress(StateCommitting, d)
	if s.cfg.Persist != nil {
		if err := s.cfg.Persist(d, raw); err != nil {
			fail(d, err)
			return
		}
	}
	src := itemstore.Source{Path: j.src.Path(), ImportedAt: time.Now().UTC()}
	if _, err := s.store.Upsert(d, j.tags, src, convert.Probe(raw)); err != nil {
		fail(d, err)
		return
	}

	s.finish(j, Update{BatchID: b.id, JobID: j.id, Path: j.src.Path(), State: StateDone, Digest: d})
}

func (s *Scheduler) emit(b *Batch, u Update) {
	select {
	case b.updates <- u:
	default:
	}
	s.notifyMu.RLock()
	fns := s.notify
	s.notifyMu.RUnlock()
	for _, fn := range fns {
		fn(u)
	}
}

// finish emits a terminal update and closes the batch when it was the
// last outstanding job.
func (s *Scheduler) finish(j *job, u Update) {
	b := j.batch
	b.mu.Lock()
	if u.State == StateDone {
		b.completed++
	} else {
		b.failed++
	}
	b.mu.Unlock()

	s.emit(b, u)
	if b.pending.Add(-1) == 0 {
		close(b.updates)
		close(b.done)
	}
}
