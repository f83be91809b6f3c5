package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_FirstWaitIsImmediate(t *testing.T) {
	p := NewPacer(time.Second, 2*time.Second)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPacer_EnforcesDelay(t *testing.T) {
	p := NewPacer(30*time.Millisecond, 30*time.Millisecond)

	require.NoError(t, p.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestPacer_RespectsContext(t *testing.T) {
	p := NewPacer(time.Minute, time.Minute)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestPacer_Reset(t *testing.T) {
	p := NewPacer(time.Minute, time.Minute)
	require.NoError(t, p.Wait(context.Background()))
	p.Reset()

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPacer_JitterStaysInRange(t *testing.T) {
	p := NewPacer(10*time.Millisecond, 20*time.Millisecond)
	for i := 0; i < 50; i++ {
		d := p.calculateDelay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}

	p.SetDelay(5*time.Millisecond, time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, p.calculateDelay())
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff(2 * time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 6 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b(tt.attempt))
	}
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
