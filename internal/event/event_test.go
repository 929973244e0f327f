package event

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanerRunsInReverseOrderOnce(t *testing.T) {
	c := NewLocalCleaner()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		c.Add(CallableFunc(func(ctx context.Context) error {
			order = append(order, i)
			if i == 2 {
				return errors.New("failed")
			}
			return nil
		}))
	}

	var loggerClosed int32
	c.loggerShutdown = CallableFunc(func(ctx context.Context) error {
		atomic.AddInt32(&loggerClosed, 1)
		return nil
	})

	c.Clean()
	c.Clean()

	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loggerClosed))

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel should be closed")
	}

	c.Add(CallableFunc(func(ctx context.Context) error { return nil }))
	assert.Len(t, c.cleaners, 3)
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler()
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))
	assert.Error(t, s.Add("broken", "not a schedule", func() {}))

	s.Start()
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Invoke(ctx))
}
