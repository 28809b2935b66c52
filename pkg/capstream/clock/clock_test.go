package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/capstream/pkg/capstream/clock"
)

func TestClock_NowIsNonDecreasing(t *testing.T) {
	c := clock.New()

	prev := c.Now()
	for i := 0; i < 10000; i++ {
		next := c.Now()
		require.False(t, next.Before(prev), "clock went backward at iteration %d", i)
		prev = next
	}
}

func TestClock_AnchoredToWallTime(t *testing.T) {
	before := time.Now()
	c := clock.New()
	now := c.Now().Time()

	assert.WithinDuration(t, before, now, time.Second)
}

func TestClock_ConcurrentCallersObserveMonotonicSequence(t *testing.T) {
	c := clock.New()

	const goroutines = 16
	const calls = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			prev := c.Now()
			for i := 0; i < calls; i++ {
				next := c.Now()
				if next.Before(prev) {
					t.Errorf("clock went backward: %d after %d", next, prev)
					return
				}
				prev = next
			}
		}()
	}
	wg.Wait()
}

func TestClock_Since(t *testing.T) {
	c := clock.New()
	start := c.Now()
	time.Sleep(5 * time.Millisecond)

	assert.GreaterOrEqual(t, c.Since(start), 5*time.Millisecond)
}

func TestDefault_IsSharedInstance(t *testing.T) {
	assert.Same(t, clock.Default(), clock.Default())
}

func TestTimestamp_Conversions(t *testing.T) {
	wall := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	ts := clock.FromTime(wall)

	assert.True(t, wall.Equal(ts.Time()))
	assert.Equal(t, "2024-03-01T12:30:00.123456789Z", ts.String())

	parsed, err := clock.ParseTimestamp("1709296200123456789")
	require.NoError(t, err)
	assert.Equal(t, ts, parsed)

	_, err = clock.ParseTimestamp("not-a-number")
	assert.Error(t, err)
}
