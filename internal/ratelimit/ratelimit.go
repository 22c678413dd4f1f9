// Package ratelimit enforces per-session token buckets. Each operation
// class carries a burst bucket and a sustained bucket; a request must
// clear both, and a sustained rejection refunds the burst token it
// already took.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/config"
)

// Class of rate-limited operation.
type Class string

const (
	ClassQuery    Class = "query"
	ClassMutation Class = "mutation"
	ClassDraft    Class = "draft"
)

type classLimits struct {
	burstLimit rate.Limit
	burst      int
	sustained  rate.Limit
}

// Limiter tracks buckets per (session, class). Sessions are pruned
// after an idle period.
type Limiter struct {
	mu       sync.Mutex
	limits   map[Class]classLimits
	sessions map[string]*session
	lastSeen map[string]time.Time
}

type session struct {
	burst     map[Class]*rate.Limiter
	sustained map[Class]*rate.Limiter
}

func New(cfg config.RateLimitConfig) *Limiter {
	perMin := func(n int) rate.Limit { return rate.Limit(float64(n) / 60) }
	return &Limiter{
		limits: map[Class]classLimits{
			ClassQuery: {
				burstLimit: rate.Limit(cfg.QueryBurstPerSec),
				burst:      cfg.QueryBurstPerSec,
				sustained:  perMin(cfg.QuerySustainedPerMin),
			},
			ClassMutation: {
				burstLimit: rate.Limit(float64(cfg.MutationBurstPer5Sec) / 5),
				burst:      cfg.MutationBurstPer5Sec,
				sustained:  perMin(cfg.MutationSustainedPerMin),
			},
			ClassDraft: {
				burstLimit: rate.Limit(cfg.DraftBurstPerSec),
				burst:      cfg.DraftBurstPerSec,
				sustained:  perMin(cfg.DraftSustainedPerMin),
			},
		},
		sessions: make(map[string]*session),
		lastSeen: make(map[string]time.Time),
	}
}

// Allow consumes one token from both buckets or fails with a RateLimit
// error carrying the retry hint. A sustained rejection cancels the
// burst reservation so the caller is not double-charged.
func (l *Limiter) Allow(sessionID string, class Class) error {
	l.mu.Lock()
	s := l.session(sessionID)
	burst := s.burst[class]
	sustained := s.sustained[class]
	l.mu.Unlock()

	now := time.Now()
	br := burst.ReserveN(now, 1)
	if !br.OK() || br.DelayFrom(now) > 0 {
		retry := br.DelayFrom(now)
		br.CancelAt(now)
		return apperr.RateLimited(retry)
	}
	sr := sustained.ReserveN(now, 1)
	if !sr.OK() || sr.DelayFrom(now) > 0 {
		retry := sr.DelayFrom(now)
		sr.CancelAt(now)
		br.CancelAt(now)
		return apperr.RateLimited(retry)
	}
	return nil
}

func (l *Limiter) session(id string) *session {
	l.lastSeen[id] = time.Now()
	if s, ok := l.sessions[id]; ok {
		return s
	}
	s := &session{
		burst:     make(map[Class]*rate.Limiter),
		sustained: make(map[Class]*rate.Limiter),
	}
	for class, lim := range l.limits {
		s.burst[class] = rate.NewLimiter(lim.burstLimit, lim.burst)
		// The sustained bucket allows its full minute quota up front
		// and refills at the per-minute rate.
		s.sustained[class] = rate.NewLimiter(lim.sustained, int(lim.sustained*60))
	}
	l.sessions[id] = s
	return s
}

// Prune drops sessions idle longer than maxIdle.
func (l *Limiter) Prune(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for id, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.sessions, id)
			delete(l.lastSeen, id)
		}
	}
}
