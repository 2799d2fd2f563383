package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedGate_SerializesSameKey(t *testing.T) {
	g := newKeyedGate()

	release, err := g.Acquire(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, g.Busy("a"))

	other, err := g.Acquire(context.Background(), "b")
	require.NoError(t, err)
	other()

	acquired := make(chan func(), 1)
	go func() {
		r, err := g.Acquire(context.Background(), "a")
		if err == nil {
			acquired <- r
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire on the same key should wait")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release() // second call is a no-op
	second := <-acquired
	second()
	assert.False(t, g.Busy("a"))
	assert.False(t, g.Busy("b"))
}

func TestKeyedGate_EmptyKeyNeverBlocks(t *testing.T) {
	g := newKeyedGate()
	r1, err := g.Acquire(context.Background(), "")
	require.NoError(t, err)
	r2, err := g.Acquire(context.Background(), "")
	require.NoError(t, err)
	r1()
	r2()
}

func TestKeyedGate_CancelledWaitCleansUp(t *testing.T) {
	g := newKeyedGate()
	release, err := g.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Acquire(ctx, "a")
	require.ErrorIs(t, err, context.Canceled)

	release()
	assert.False(t, g.Busy("a"))
}
