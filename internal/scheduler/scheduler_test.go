package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerFiresJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fires atomic.Int32
	sched := New(ctx)
	err := sched.Add(Job{
		Name:     "every-second",
		Schedule: "* * * * * *",
		Run:      func(context.Context) { fires.Add(1) },
	})
	if err != nil {
		t.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	deadline := time.After(3 * time.Second)
	for fires.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	sched := New(context.Background())
	err := sched.Add(Job{Name: "broken", Schedule: "not a cron", Run: func(context.Context) {}})
	if err == nil {
		t.Fatal("invalid schedule accepted")
	}
}

func TestSchedulerStandardFiveFieldSchedule(t *testing.T) {
	sched := New(context.Background())
	if err := sched.Add(Job{Name: "fivefield", Schedule: "*/5 * * * *", Run: func(context.Context) {}}); err != nil {
		t.Fatalf("five-field schedule rejected: %v", err)
	}
}
