// Package ratelimit bounds outbound request frequency per domain.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"IdeaRadar/internal/ports"
)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is a fixed-window counter per domain, local to the process.
type MemoryLimiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

var _ ports.DomainLimiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter allows limit requests per period for each host.
// A non-positive limit disables limiting.
func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	if period <= 0 {
		period = time.Second
	}
	return &MemoryLimiter{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: map[string]*window{},
	}
}

// Wait blocks until a request slot for host is free or ctx is done.
func (l *MemoryLimiter) Wait(ctx context.Context, host string) error {
	if l.limit <= 0 {
		return nil
	}
	host = strings.ToLower(host)
	for {
		delay := l.reserve(host)
		if delay <= 0 {
			return nil
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (l *MemoryLimiter) reserve(host string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[host]
	if !ok || now.Sub(w.start) >= l.period {
		l.windows[host] = &window{start: now, count: 1}
		return 0
	}
	if w.count < l.limit {
		w.count++
		return 0
	}
	return w.start.Add(l.period).Sub(now)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
