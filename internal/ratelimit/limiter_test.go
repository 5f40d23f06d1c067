package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstOfTwenty(t *testing.T) {
	l := New(60*time.Second, 20, nil)
	now := time.Now()

	for i := 0; i < 20; i++ {
		d := l.Admit("caller", now.Add(time.Duration(i)*100*time.Millisecond))
		require.True(t, d.Accepted, "request %d should be admitted", i+1)
	}

	d := l.Admit("caller", now.Add(2*time.Second))
	assert.False(t, d.Accepted, "21st request within the window must be rejected")
	assert.Greater(t, d.RetryAfter, time.Duration(0), "retry-after must be positive")
}

func TestLimiter_RejectionDoesNotRecord(t *testing.T) {
	l := New(60*time.Second, 2, nil)
	now := time.Now()

	require.True(t, l.Admit("id", now).Accepted)
	require.True(t, l.Admit("id", now).Accepted)

	// Hammer rejections; none of them may extend the window occupancy.
	for i := 0; i < 10; i++ {
		require.False(t, l.Admit("id", now.Add(time.Second)).Accepted)
	}
	assert.Equal(t, 2, l.InWindow("id", now.Add(time.Second)))
}

func TestLimiter_WindowSlides(t *testing.T) {
	l := New(60*time.Second, 2, nil)
	now := time.Now()

	require.True(t, l.Admit("id", now).Accepted)
	require.True(t, l.Admit("id", now.Add(time.Second)).Accepted)
	require.False(t, l.Admit("id", now.Add(2*time.Second)).Accepted)

	// After the first entry ages out, one slot opens.
	d := l.Admit("id", now.Add(61*time.Second))
	assert.True(t, d.Accepted)
}

func TestLimiter_IdentitiesIndependent(t *testing.T) {
	l := New(60*time.Second, 1, nil)
	now := time.Now()

	require.True(t, l.Admit("a", now).Accepted)
	require.False(t, l.Admit("a", now).Accepted)
	assert.True(t, l.Admit("b", now).Accepted, "identity b must not be affected by a's rejection")
}

func TestLimiter_RetryAfterTracksOldestEntry(t *testing.T) {
	l := New(60*time.Second, 1, nil)
	now := time.Now()

	require.True(t, l.Admit("id", now).Accepted)
	d := l.Admit("id", now.Add(10*time.Second))
	require.False(t, d.Accepted)
	// Oldest entry expires 60s after admission, so 50s remain.
	assert.InDelta(t, 50, d.RetryAfter.Seconds(), 1)
}

func TestLimiter_ConcurrentAdmission(t *testing.T) {
	const cap = 20
	l := New(60*time.Second, cap, nil)
	now := time.Now()

	var wg sync.WaitGroup
	accepted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("shared", now).Accepted {
				accepted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(accepted)

	n := 0
	for range accepted {
		n++
	}
	assert.Equal(t, cap, n, "exactly the cap must be admitted under contention")
}

func TestLimiter_ConcurrentAcrossIdentities(t *testing.T) {
	l := New(60*time.Second, 5, nil)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("caller-%d", n)
			for j := 0; j < 10; j++ {
				l.Admit(id, now.Add(time.Duration(j)*time.Millisecond))
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 32; i++ {
		id := fmt.Sprintf("caller-%d", i)
		assert.Equal(t, 5, l.InWindow(id, now.Add(time.Second)))
	}
}
