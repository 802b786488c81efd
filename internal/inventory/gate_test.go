package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateAdmitsOneHolder(t *testing.T) {
	gate := NewGate()
	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, _, err := gate.Enter(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestGateRejectsDoneContext(t *testing.T) {
	gate := NewGate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := gate.Enter(ctx)
	require.ErrorIs(t, err, context.Canceled)

	release, _, err := gate.Enter(context.Background())
	require.NoError(t, err, "a rejected waiter must not hold the permit")
	release()
}
