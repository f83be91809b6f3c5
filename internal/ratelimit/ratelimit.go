package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Waiter blocks until the next action may proceed.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Pacer enforces a jittered politeness delay between distinct page fetches.
// The first Wait returns immediately.
type Pacer struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
	rnd        *rand.Rand
}

func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Pacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastAction.IsZero() {
		elapsed := time.Since(p.lastAction)
		delay := p.calculateDelay()

		if elapsed < delay {
			if err := Sleep(ctx, delay-elapsed); err != nil {
				return err
			}
		}
	}

	p.lastAction = time.Now()
	return nil
}

func (p *Pacer) SetDelay(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max < min {
		max = min
	}
	p.minDelay = min
	p.maxDelay = max
}

// Reset forgets the last action so the next Wait does not block.
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAction = time.Time{}
}

func (p *Pacer) calculateDelay() time.Duration {
	if !p.jitter || p.minDelay == p.maxDelay {
		return p.minDelay
	}

	delta := p.maxDelay - p.minDelay
	return p.minDelay + time.Duration(p.rnd.Int63n(int64(delta)))
}

// Backoff maps a 1-based retry attempt to the delay applied before it.
type Backoff func(attempt int) time.Duration

// LinearBackoff grows by step per attempt: step, 2*step, 3*step...
func LinearBackoff(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return time.Duration(attempt) * step
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
