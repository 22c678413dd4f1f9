// Package visibility schedules index mutations. It turns the stream of
// publication events into build+commit work while preserving per-note
// FIFO order, fair-sharing across notes, bounding concurrency, and
// aging long waiters so nothing starves.
package visibility

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/event"
)

// Stage of one visibility item. Terminal stages are committed and
// failed.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageBuilding   Stage = "building"
	StageBuilt      Stage = "built"
	StageCommitting Stage = "committing"
	StageCommitted  Stage = "committed"
	StageFailed     Stage = "failed"
)

// Runner executes the two stages of an index mutation. Build prepares
// the staged segment for the event's version; Commit health-gates and
// swaps it in. Both must respect ctx cancellation.
type Runner interface {
	Build(ctx context.Context, ev event.Visibility) error
	Commit(ctx context.Context, ev event.Visibility) error
}

// Status is the externally observable state of one item, looked up by
// version id.
type Status struct {
	VersionID   string
	NoteID      string
	Op          event.VisibilityOp
	Stage       Stage
	Priority    int
	Attempts    int
	SubmittedAt time.Time
	UpdatedAt   time.Time
	Error       string
}

type item struct {
	ev           event.Visibility
	priority     int
	attempts     int
	submittedAt  time.Time
	updatedAt    time.Time
	stage        Stage
	errMsg       string
	nextEligible time.Time
}

// Scheduler owns per-note FIFO queues and a bounded worker pool fed by
// a single selection loop.
type Scheduler struct {
	cfg    config.SchedulerConfig
	runner Runner
	log    *zap.Logger

	mu             sync.Mutex
	queues         map[string][]*item
	status         map[string]*item
	inFlight       int
	inFlightByNote map[string]int
	queued         int
	stopped        bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup
	work   sync.WaitGroup
}

func New(cfg config.SchedulerConfig, runner Runner, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:            cfg,
		runner:         runner,
		log:            log,
		queues:         make(map[string][]*item),
		status:         make(map[string]*item),
		inFlightByNote: make(map[string]int),
		wake:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the selection loop.
func (s *Scheduler) Start() {
	s.loop.Add(1)
	go s.run()
}

// Stop cancels in-flight work cooperatively and waits for the loop and
// workers to finish. Committed work stays committed; everything else is
// marked failed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.loop.Wait()
	s.work.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.status {
		switch it.stage {
		case StageCommitted, StageFailed:
		default:
			s.fail(it, "scheduler stopped")
		}
	}
	s.queues = make(map[string][]*item)
	s.queued = 0
}

// Submit enqueues a visibility event. Fails with QueueFull when a hard
// ingress cap is configured and reached.
func (s *Scheduler) Submit(ev event.Visibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return apperr.New(apperr.KindInternal, "scheduler stopped")
	}
	if s.cfg.MaxQueueDepth > 0 && s.queued >= s.cfg.MaxQueueDepth {
		return apperr.New(apperr.KindQueueFull, "visibility queue full")
	}

	now := time.Now().UTC()
	it := &item{ev: ev, submittedAt: now, updatedAt: now, stage: StageQueued}
	s.queues[ev.NoteID] = append(s.queues[ev.NoteID], it)
	s.status[ev.VersionID] = it
	s.queued++

	s.log.Debug("visibility event queued",
		zap.String("version_id", ev.VersionID),
		zap.String("note_id", ev.NoteID),
		zap.String("op", string(ev.Op)))
	s.kick()
	return nil
}

// Status reports an item's state by version id. Safe to call any number
// of times; never mutates.
func (s *Scheduler) Status(versionID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.status[versionID]
	if !ok {
		return Status{}, apperr.NotFound("visibility item", versionID)
	}
	return Status{
		VersionID:   it.ev.VersionID,
		NoteID:      it.ev.NoteID,
		Op:          it.ev.Op,
		Stage:       it.stage,
		Priority:    it.priority,
		Attempts:    it.attempts,
		SubmittedAt: it.submittedAt,
		UpdatedAt:   it.updatedAt,
		Error:       it.errMsg,
	}, nil
}

// Depths reports queued and in-flight counts.
func (s *Scheduler) Depths() (queued, inFlight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued, s.inFlight
}

// AwaitStage polls until the version's item reaches a terminal stage or
// the wanted one, or ctx expires.
func (s *Scheduler) AwaitStage(ctx context.Context, versionID string, want Stage) (Status, error) {
	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()
	for {
		st, err := s.Status(versionID)
		if err != nil {
			return Status{}, err
		}
		if st.Stage == want || st.Stage == StageCommitted || st.Stage == StageFailed {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-tick.C:
		}
	}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.loop.Done()

	aging := time.NewTicker(time.Duration(s.cfg.AgingIntervalMS) * time.Millisecond)
	defer aging.Stop()

	retry := time.NewTimer(time.Hour)
	defer retry.Stop()

	for {
		wait := s.dispatch()

		if !retry.Stop() {
			select {
			case <-retry.C:
			default:
			}
		}
		if wait > 0 {
			retry.Reset(wait)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-aging.C:
			s.age()
		case <-retry.C:
		}
	}
}

// dispatch fills free worker slots with eligible items and returns how
// long to wait for the next backoff-gated head, or 0 when there is
// nothing to wait for.
func (s *Scheduler) dispatch() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wait time.Duration
	now := time.Now().UTC()

	for s.inFlight < s.cfg.MaxInFlightPerWorkspace {
		note, ok := s.selectNote(now, &wait)
		if !ok {
			break
		}
		q := s.queues[note]
		it := q[0]
		if len(q) == 1 {
			delete(s.queues, note)
		} else {
			s.queues[note] = q[1:]
		}
		s.queued--
		s.inFlight++
		s.inFlightByNote[note]++
		s.setStage(it, StageBuilding)

		s.work.Add(1)
		go s.process(it)
	}
	return wait
}

// selectNote applies the selection rule: among notes with pending work,
// below their per-note cap, and past any retry backoff, pick the one
// whose head item has the highest priority; ties go to the oldest
// submission, then the smaller note id.
func (s *Scheduler) selectNote(now time.Time, wait *time.Duration) (string, bool) {
	var bestNote string
	var best *item

	for note, q := range s.queues {
		if s.inFlightByNote[note] >= s.cfg.MaxInFlightPerNote {
			continue
		}
		head := q[0]
		if head.nextEligible.After(now) {
			if d := head.nextEligible.Sub(now); *wait == 0 || d < *wait {
				*wait = d
			}
			continue
		}
		if best == nil || headLess(head, note, best, bestNote) {
			best, bestNote = head, note
		}
	}
	return bestNote, best != nil
}

// headLess reports whether candidate should be served before the
// current best.
func headLess(candidate *item, candidateNote string, best *item, bestNote string) bool {
	if candidate.priority != best.priority {
		return candidate.priority > best.priority
	}
	if !candidate.submittedAt.Equal(best.submittedAt) {
		return candidate.submittedAt.Before(best.submittedAt)
	}
	return candidateNote < bestNote
}

func (s *Scheduler) process(it *item) {
	defer s.work.Done()

	ctx, cancel := context.WithTimeout(s.ctx,
		time.Duration(s.cfg.ProcessingTimeoutMS)*time.Millisecond)
	defer cancel()

	err := s.runner.Build(ctx, it.ev)
	if err == nil {
		s.mu.Lock()
		s.setStage(it, StageBuilt)
		s.setStage(it, StageCommitting)
		s.mu.Unlock()
		err = s.runner.Commit(ctx, it.ev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight--
	s.inFlightByNote[it.ev.NoteID]--
	if s.inFlightByNote[it.ev.NoteID] == 0 {
		delete(s.inFlightByNote, it.ev.NoteID)
	}
	defer s.kick()

	if err == nil {
		s.setStage(it, StageCommitted)
		s.log.Info("visibility committed",
			zap.String("version_id", it.ev.VersionID),
			zap.Int("attempts", it.attempts))
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = apperr.Wrap(apperr.KindVisibilityTimeout, "processing timeout", err)
	}
	it.attempts++

	if s.stopped || errors.Is(err, context.Canceled) {
		s.fail(it, "scheduler stopped")
		return
	}
	if !apperr.Retryable(err) || it.attempts > s.cfg.MaxRetries {
		s.fail(it, err.Error())
		s.log.Warn("visibility failed",
			zap.String("version_id", it.ev.VersionID),
			zap.Int("attempts", it.attempts),
			zap.Error(err))
		return
	}

	// Requeue at the head of the note's queue so per-note order holds.
	it.nextEligible = time.Now().UTC().Add(s.backoff(it.attempts))
	s.setStage(it, StageQueued)
	s.queues[it.ev.NoteID] = append([]*item{it}, s.queues[it.ev.NoteID]...)
	s.queued++
	s.log.Debug("visibility retry scheduled",
		zap.String("version_id", it.ev.VersionID),
		zap.Int("attempt", it.attempts),
		zap.Time("next_eligible", it.nextEligible))
}

// backoff doubles the base delay per attempt with ±20% jitter.
func (s *Scheduler) backoff(attempt int) time.Duration {
	base := time.Duration(s.cfg.RetryDelayMS) * time.Millisecond
	d := base << (attempt - 1)
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// age boosts items that have waited more than twice the aging interval.
func (s *Scheduler) age() {
	s.mu.Lock()
	defer s.mu.Unlock()
	threshold := 2 * time.Duration(s.cfg.AgingIntervalMS) * time.Millisecond
	now := time.Now().UTC()
	for _, q := range s.queues {
		for _, it := range q {
			if now.Sub(it.submittedAt) > threshold {
				it.priority += s.cfg.AgingBoost
			}
		}
	}
}

func (s *Scheduler) setStage(it *item, stage Stage) {
	it.stage = stage
	it.updatedAt = time.Now().UTC()
}

func (s *Scheduler) fail(it *item, msg string) {
	it.stage = StageFailed
	it.updatedAt = time.Now().UTC()
	if it.errMsg == "" {
		it.errMsg = msg
	}
}
