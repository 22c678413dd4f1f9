package visibility

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/event"
)

type fakeRunner struct {
	mu       sync.Mutex
	builds   []string
	commits  []string
	onBuild  func(ctx context.Context, ev event.Visibility) error
	onCommit func(ctx context.Context, ev event.Visibility) error
}

func (f *fakeRunner) Build(ctx context.Context, ev event.Visibility) error {
	if f.onBuild != nil {
		if err := f.onBuild(ctx, ev); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.builds = append(f.builds, ev.VersionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) Commit(ctx context.Context, ev event.Visibility) error {
	if f.onCommit != nil {
		if err := f.onCommit(ctx, ev); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.commits = append(f.commits, ev.VersionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) committed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commits...)
}

func testCfg() config.SchedulerConfig {
	cfg := config.DefaultConfig().Scheduler
	cfg.AgingIntervalMS = 50
	cfg.RetryDelayMS = 1
	cfg.ProcessingTimeoutMS = 1000
	return cfg
}

func ev(note, version string) event.Visibility {
	return event.Visibility{
		VersionID:   version,
		NoteID:      note,
		Op:          event.OpPublish,
		Collections: []string{"col_1"},
	}
}

func awaitAll(t *testing.T, s *Scheduler, versions ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, v := range versions {
		st, err := s.AwaitStage(ctx, v, StageCommitted)
		if err != nil {
			t.Fatalf("await %s: %v", v, err)
		}
		if st.Stage != StageCommitted {
			t.Fatalf("%s ended in %s: %s", v, st.Stage, st.Error)
		}
	}
}

func TestPerNoteFIFO(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{}
	s := New(testCfg(), runner, zap.NewNop())
	s.Start()
	defer s.Stop()

	var versions []string
	for i := 0; i < 6; i++ {
		v := fmt.Sprintf("ver_%d", i)
		versions = append(versions, v)
		if err := s.Submit(ev("note_a", v)); err != nil {
			t.Fatal(err)
		}
	}
	awaitAll(t, s, versions...)

	got := runner.committed()
	for i, v := range versions {
		if got[i] != v {
			t.Fatalf("commit order %v, want %v", got, versions)
		}
	}
}

func TestCrossNoteInterleavePreservesPerNoteOrder(t *testing.T) {
	runner := &fakeRunner{}
	cfg := testCfg()
	cfg.MaxInFlightPerWorkspace = 1
	s := New(cfg, runner, zap.NewNop())
	s.Start()
	defer s.Stop()

	submits := []struct{ note, version string }{
		{"note_a", "ver_a1"}, {"note_b", "ver_b1"},
		{"note_a", "ver_a2"}, {"note_b", "ver_b2"},
	}
	for _, sub := range submits {
		if err := s.Submit(ev(sub.note, sub.version)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond) // distinct submitted_at
	}
	awaitAll(t, s, "ver_a1", "ver_b1", "ver_a2", "ver_b2")

	pos := map[string]int{}
	for i, v := range runner.committed() {
		pos[v] = i
	}
	if pos["ver_a1"] > pos["ver_a2"] || pos["ver_b1"] > pos["ver_b2"] {
		t.Errorf("per-note order violated: %v", runner.committed())
	}
}

func TestBoundedConcurrency(t *testing.T) {
	var cur, max atomic.Int32
	runner := &fakeRunner{
		onBuild: func(ctx context.Context, _ event.Visibility) error {
			n := cur.Add(1)
			for {
				m := max.Load()
				if n <= m || max.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			cur.Add(-1)
			return nil
		},
	}
	s := New(testCfg(), runner, zap.NewNop())
	s.Start()
	defer s.Stop()

	var versions []string
	for i := 0; i < 12; i++ {
		v := fmt.Sprintf("ver_%d", i)
		versions = append(versions, v)
		if err := s.Submit(ev(fmt.Sprintf("note_%d", i), v)); err != nil {
			t.Fatal(err)
		}
	}
	awaitAll(t, s, versions...)

	if got := max.Load(); got != 4 {
		t.Errorf("max concurrency = %d, want 4", got)
	}
}

func TestPerNoteCapSerializesOneNote(t *testing.T) {
	var cur, max atomic.Int32
	runner := &fakeRunner{
		onBuild: func(ctx context.Context, ev event.Visibility) error {
			n := cur.Add(1)
			for {
				m := max.Load()
				if n <= m || max.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			cur.Add(-1)
			return nil
		},
	}
	s := New(testCfg(), runner, zap.NewNop())
	s.Start()
	defer s.Stop()

	for i := 0; i < 4; i++ {
		if err := s.Submit(ev("note_only", fmt.Sprintf("ver_%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	awaitAll(t, s, "ver_0", "ver_1", "ver_2", "ver_3")

	if got := max.Load(); got != 1 {
		t.Errorf("same-note concurrency = %d, want 1", got)
	}
}

func TestRetryAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	runner := &fakeRunner{
		onBuild: func(ctx context.Context, _ event.Visibility) error {
			if calls.Add(1) == 1 {
				return apperr.StorageIO("flaky disk", nil)
			}
			return nil
		},
	}
	s := New(testCfg(), runner, zap.NewNop())
	s.Start()
	defer s.Stop()

	if err := s.Submit(ev("note_a", "ver_1")); err != nil {
		t.Fatal(err)
	}
	awaitAll(t, s, "ver_1")

	st, _ := s.Status("ver_1")
	if st.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 failure before success", st.Attempts)
	}
}

func TestRetriesExhausted(t *testing.T) {
	runner := &fakeRunner{
		onBuild: func(ctx context.Context, _ event.Visibility) error {
			return apperr.StorageIO("disk still broken", nil)
		},
	}
	cfg := testCfg()
	cfg.MaxRetries = 2
	s := New(cfg, runner, zap.NewNop())
	s.Start()
	defer s.Stop()

	if err := s.Submit(ev("note_a", "ver_1")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.AwaitStage(ctx, "ver_1", StageFailed)
	if err != nil {
		t.Fatal(err)
	}
	if st.Stage != StageFailed || st.Attempts != 3 {
		t.Errorf("status = %+v", st)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	runner := &fakeRunner{
		onBuild: func(ctx context.Context, _ event.Visibility) error {
			return apperr.Validation("content too large")
		},
	}
	s := New(testCfg(), runner, zap.NewNop())
	s.Start()
	defer s.Stop()

	s.Submit(ev("note_a", "ver_1"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.AwaitStage(ctx, "ver_1", StageFailed)
	if err != nil {
		t.Fatal(err)
	}
	if st.Stage != StageFailed || st.Attempts != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestProcessingTimeout(t *testing.T) {
	runner := &fakeRunner{
		onBuild: func(ctx context.Context, _ event.Visibility) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	cfg := testCfg()
	cfg.ProcessingTimeoutMS = 20
	cfg.MaxRetries = 0
	s := New(cfg, runner, zap.NewNop())
	s.Start()
	defer s.Stop()

	s.Submit(ev("note_a", "ver_1"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.AwaitStage(ctx, "ver_1", StageFailed)
	if err != nil {
		t.Fatal(err)
	}
	if st.Stage != StageFailed {
		t.Fatalf("stage = %s", st.Stage)
	}
	if st.Error == "" {
		t.Error("timeout left no error message")
	}
}

func TestQueueFull(t *testing.T) {
	cfg := testCfg()
	cfg.MaxQueueDepth = 1
	s := New(cfg, &fakeRunner{}, zap.NewNop())
	// Not started: items stay queued.
	defer s.Stop()

	if err := s.Submit(ev("note_a", "ver_1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(ev("note_a", "ver_2")); !apperr.Is(err, apperr.KindQueueFull) {
		t.Errorf("want QueueFull, got %v", err)
	}
}

func TestStatusUnknownVersion(t *testing.T) {
	s := New(testCfg(), &fakeRunner{}, zap.NewNop())
	defer s.Stop()
	if _, err := s.Status("ver_ghost"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("want NotFound, got %v", err)
	}
}

func TestStopDrainsAndFailsUncommitted(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	var startedOnce sync.Once
	runner := &fakeRunner{
		onBuild: func(ctx context.Context, _ event.Visibility) error {
			startedOnce.Do(func() { close(started) })
			<-ctx.Done()
			return ctx.Err()
		},
	}
	s := New(testCfg(), runner, zap.NewNop())
	s.Start()

	s.Submit(ev("note_a", "ver_inflight"))
	<-started
	s.Submit(ev("note_b", "ver_waiting"))

	s.Stop()

	for _, v := range []string{"ver_inflight", "ver_waiting"} {
		st, err := s.Status(v)
		if err != nil {
			t.Fatal(err)
		}
		if st.Stage != StageFailed {
			t.Errorf("%s stage = %s, want failed", v, st.Stage)
		}
	}
	if err := s.Submit(ev("note_c", "ver_late")); err == nil {
		t.Error("submit after stop succeeded")
	}
}

func TestAgingBoostsLongWaiters(t *testing.T) {
	cfg := testCfg()
	cfg.AgingIntervalMS = 10

	// The first item holds the per-note slot so the second waits in
	// queue long enough to age.
	blocked := make(chan struct{})
	runner := &fakeRunner{
		onBuild: func(ctx context.Context, _ event.Visibility) error {
			select {
			case <-blocked:
			case <-ctx.Done():
			}
			return nil
		},
	}
	s := New(cfg, runner, zap.NewNop())
	s.Start()
	defer s.Stop()

	s.Submit(ev("note_a", "ver_1"))
	s.Submit(ev("note_a", "ver_2"))

	time.Sleep(60 * time.Millisecond) // several aging sweeps past 2x interval
	st, err := s.Status("ver_2")
	if err != nil {
		t.Fatal(err)
	}
	if st.Priority <= 0 {
		t.Errorf("priority = %d, want aged above 0", st.Priority)
	}
	close(blocked)
	awaitAll(t, s, "ver_1", "ver_2")
}
