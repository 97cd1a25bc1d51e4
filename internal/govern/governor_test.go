package govern

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConcurrencyBoundHolds(t *testing.T) {
	const permits = 4
	g := New(permits, 0)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			defer g.Release()

			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(permits), "more invocations in flight than permits")
	assert.Positive(t, peak.Load())
}

func TestAcquireCancellable(t *testing.T) {
	g := New(1, 0)
	require.NoError(t, g.Acquire(context.Background()))
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- g.Acquire(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.Error(t, err, "cancelled acquire must not succeed")
	case <-time.After(5 * time.Second):
		t.Fatal("acquire did not observe cancellation")
	}
}

func TestPaceDisabledIsNoop(t *testing.T) {
	g := New(2, 0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, g.Pace(context.Background(), "host"))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestPaceLimitsRate(t *testing.T) {
	g := New(2, 10) // 10 rps => ~100ms between calls
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, g.Pace(ctx, "host"))
	}
	// Burst of 1, so 3 waits of ~100ms.
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}
