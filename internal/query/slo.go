package query

import (
	"sort"
	"sync"
	"time"
)

const sloWindow = 100

// sloTracker keeps a ring of recent search latencies and flips the
// degraded flag when the rolling P95 crosses the thresholds.
type sloTracker struct {
	degrade time.Duration
	restore time.Duration

	mu      sync.Mutex
	samples [sloWindow]time.Duration
	n       int
	next    int
	bad     bool
}

func newSLOTracker(degrade, restore time.Duration) *sloTracker {
	return &sloTracker{degrade: degrade, restore: restore}
}

// record adds a sample and returns the degraded flag plus whether it
// just changed.
func (t *sloTracker) record(d time.Duration) (degraded, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.next] = d
	t.next = (t.next + 1) % sloWindow
	if t.n < sloWindow {
		t.n++
	}

	p95 := t.p95Locked()
	was := t.bad
	switch {
	case !t.bad && p95 > t.degrade:
		t.bad = true
	case t.bad && p95 < t.restore:
		t.bad = false
	}
	return t.bad, t.bad != was
}

func (t *sloTracker) degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bad
}

func (t *sloTracker) p95Locked() time.Duration {
	if t.n == 0 {
		return 0
	}
	buf := make([]time.Duration, t.n)
	copy(buf, t.samples[:t.n])
	sort.Slice(buf, func(i, j int) bool { return buf[i] < buf[j] })
	idx := (t.n*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return buf[idx]
}
