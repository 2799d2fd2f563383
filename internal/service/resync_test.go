package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls atomic.Int32
	hold  chan struct{}
	err   error
}

func (f *countingFetcher) FetchAll(context.Context) error {
	f.calls.Add(1)
	if f.hold != nil {
		<-f.hold
	}
	return f.err
}

func TestResyncer_RunOnceCoalesces(t *testing.T) {
	fetcher := &countingFetcher{hold: make(chan struct{})}
	r := NewResyncer(fetcher, cron.New(), "@every 1h")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.RunOnce(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.hold)
	wg.Wait()

	assert.LessOrEqual(t, fetcher.calls.Load(), int32(5))
	assert.GreaterOrEqual(t, fetcher.calls.Load(), int32(1))
	assert.GreaterOrEqual(t, r.Status(time.Now()).Runs, 1)
}

func TestResyncer_RecordsFailure(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("scheduler down")}
	r := NewResyncer(fetcher, cron.New(), "*/5 * * * *")

	err := r.RunOnce(context.Background())
	require.Error(t, err)

	st := r.Status(time.Now())
	assert.Equal(t, "*/5 * * * *", st.Expression)
	assert.Equal(t, "scheduler down", st.LastError)
	assert.Equal(t, 1, st.Runs)
	require.NotNil(t, st.Trigger)
	assert.True(t, st.Trigger.Next.After(st.LastRun))
}

func TestResyncer_ScheduleRunsOnCron(t *testing.T) {
	fetcher := &countingFetcher{}
	c := cron.New()
	r := NewResyncer(fetcher, c, "@every 1s")
	require.NoError(t, r.Schedule(context.Background()))
	require.NoError(t, r.Schedule(context.Background()))
	assert.Len(t, c.Entries(), 1)

	c.Start()
	defer c.Stop()
	require.Eventually(t, func() bool { return fetcher.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestResyncer_Reschedule(t *testing.T) {
	c := cron.New()
	r := NewResyncer(&countingFetcher{}, c, "@every 1h")
	require.NoError(t, r.Schedule(context.Background()))

	require.Error(t, r.Reschedule(context.Background(), "garbage"))
	assert.Equal(t, "@every 1h", r.Status(time.Now()).Expression)

	require.NoError(t, r.Reschedule(context.Background(), "*/10 * * * *"))
	assert.Len(t, c.Entries(), 1)
	assert.Equal(t, "*/10 * * * *", r.Status(time.Now()).Expression)
}
