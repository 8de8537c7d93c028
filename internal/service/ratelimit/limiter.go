package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces calls so that consecutive Wait returns are at least gap apart.
type Pacer struct {
	mu    sync.Mutex
	gap   time.Duration
	last  time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPacer(gap time.Duration) *Pacer {
	return &Pacer{gap: gap, now: time.Now, sleep: sleepCtx}
}

// Wait blocks until gap has elapsed since the previous call returned.
// The first call never blocks.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() && p.gap > 0 {
		if d := p.gap - p.now().Sub(p.last); d > 0 {
			if err := p.sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	p.last = p.now()
	return nil
}

// Reset forgets the previous call, so the next Wait returns immediately.
func (p *Pacer) Reset() {
	p.mu.Lock()
	p.last = time.Time{}
	p.mu.Unlock()
}

// Gap returns the configured minimum spacing.
func (p *Pacer) Gap() time.Duration { return p.gap }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return sleepCtx(ctx, d)
}
