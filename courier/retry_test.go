package courier

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, uint(3), p.MaxPrematureEOF)
	assert.Equal(t, uint(1), p.MaxTimeout)
	assert.Equal(t, time.Duration(0), p.InitialInterval)
}

func TestNoRetryPolicy(t *testing.T) {
	s := newRetryState(NoRetryPolicy())

	_, ok := s.allow(faultPrematureEOF)
	assert.False(t, ok)
	_, ok = s.allow(faultTimeout)
	assert.False(t, ok)
}

func TestRetryState_Allow(t *testing.T) {
	tests := []struct {
		name      string
		class     faultClass
		wantAllow int
	}{
		{name: "given premature EOF, then three retries are allowed", class: faultPrematureEOF, wantAllow: 3},
		{name: "given timeout, then one retry is allowed", class: faultTimeout, wantAllow: 1},
		{name: "given permanent fault, then no retry is allowed", class: faultPermanent, wantAllow: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newRetryState(DefaultRetryPolicy())

			allowed := 0
			for range 10 {
				wait, ok := s.allow(tt.class)
				if !ok {
					break
				}
				assert.Equal(t, time.Duration(0), wait)
				allowed++
			}

			assert.Equal(t, tt.wantAllow, allowed)
			assert.Equal(t, uint(tt.wantAllow), s.retries())
		})
	}
}

func TestRetryState_BudgetsAreIndependent(t *testing.T) {
	s := newRetryState(DefaultRetryPolicy())

	_, ok := s.allow(faultTimeout)
	require.True(t, ok)
	_, ok = s.allow(faultTimeout)
	require.False(t, ok)

	for range 3 {
		_, ok = s.allow(faultPrematureEOF)
		require.True(t, ok)
	}
	_, ok = s.allow(faultPrematureEOF)
	assert.False(t, ok)
	assert.Equal(t, uint(4), s.retries())
}

func TestRetryPolicy_NewBackOff(t *testing.T) {
	t.Run("given no interval, then zero backoff", func(t *testing.T) {
		b := DefaultRetryPolicy().newBackOff()
		_, ok := b.(*backoff.ZeroBackOff)
		assert.True(t, ok)
	})

	t.Run("given interval, then exponential backoff within bounds", func(t *testing.T) {
		p := DefaultRetryPolicy()
		p.InitialInterval = 10 * time.Millisecond
		p.MaxInterval = 40 * time.Millisecond
		p.Multiplier = 2

		b := p.newBackOff()
		exp, ok := b.(*backoff.ExponentialBackOff)
		require.True(t, ok)
		assert.Equal(t, 10*time.Millisecond, exp.InitialInterval)

		assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
		assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
		assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
		assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
	})
}

func TestSleep(t *testing.T) {
	t.Run("given zero duration, then returns immediately", func(t *testing.T) {
		assert.NoError(t, sleep(context.Background(), 0))
	})

	t.Run("given cancelled context, then returns its error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	})

	t.Run("given short duration, then waits", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, sleep(context.Background(), 5*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	})
}
