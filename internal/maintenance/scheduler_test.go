package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestSchedulerFiresEverySecond(t *testing.T) {
	var count int32
	s := New(Config{
		Jobs: []Job{
			{Name: "tick", CronExpr: "* * * * *", Run: func(ctx context.Context) error {
				atomic.AddInt32(&count, 1)
				return nil
			}},
		},
		PollInterval: 50 * time.Millisecond,
	})

	// Force the job's nextRun into the past so the first tick fires it
	// without waiting for the real minute boundary.
	s.jobs[0].nextRun = time.Now().Add(-time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&count) >= 1 })
}

func TestSchedulerDropsInvalidCronExpr(t *testing.T) {
	s := New(Config{
		Jobs: []Job{
			{Name: "bad", CronExpr: "not a cron expr", Run: func(ctx context.Context) error { return nil }},
		},
	})
	if len(s.jobs) != 0 {
		t.Fatalf("expected invalid job to be dropped, got %d jobs", len(s.jobs))
	}
}
