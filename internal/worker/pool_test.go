package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsAllJobs(t *testing.T) {
	p := NewPool(2)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	p.Wait()
	assert.Equal(t, int32(10), n.Load())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var cur, peak atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit("bounded", func(context.Context) error {
			c := cur.Add(1)
			for {
				old := peak.Load()
				if c <= old || peak.CompareAndSwap(old, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
			return nil
		}))
	}
	p.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_SurvivesErrorsAndPanics(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Submit("err", func(context.Context) error { return errors.New("smtp down") }))
	require.NoError(t, p.Submit("panic", func(context.Context) error { panic("boom") }))
	ran := false
	require.NoError(t, p.Submit("after", func(context.Context) error { ran = true; return nil }))
	p.Wait()
	assert.True(t, ran)
}

func TestPool_Shutdown(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.ErrorIs(t, p.Submit("late", func(context.Context) error { return nil }), ErrClosed)
}

func TestPool_ShutdownTimeout(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	require.NoError(t, p.Submit("hang", func(context.Context) error { <-release; return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
	close(release)
	p.Wait()
}
