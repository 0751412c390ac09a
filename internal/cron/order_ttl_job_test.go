package cron

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bunshop/bunshop-backend/pkg/logger"
)

type fakeExpirer struct {
	gotNow  time.Time
	expired int64
	err     error
}

func (f *fakeExpirer) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	f.gotNow = now
	return f.expired, f.err
}

type fakeStalledCounter struct {
	gotCutoff time.Time
	count     int64
	err       error
}

func (f *fakeStalledCounter) CountPendingWithoutSession(_ context.Context, createdBefore time.Time) (int64, error) {
	f.gotCutoff = createdBefore
	return f.count, f.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestOrderTTLJobSweepsWithFrozenClock(t *testing.T) {
	t.Parallel()

	expirer := &fakeExpirer{expired: 3}
	counter := &fakeStalledCounter{}
	job, err := NewOrderTTLJob(OrderTTLJobParams{
		Logger:    testLogger(),
		Lifecycle: expirer,
		Orders:    counter,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	job.(*orderTTLJob).now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !expirer.gotNow.Equal(now) {
		t.Fatalf("expirer saw %v, want %v", expirer.gotNow, now)
	}
	if !counter.gotCutoff.Equal(now.Add(-stalledSessionAge)) {
		t.Fatalf("stalled cutoff %v, want %v", counter.gotCutoff, now.Add(-stalledSessionAge))
	}
}

func TestOrderTTLJobCombinesPhaseErrors(t *testing.T) {
	t.Parallel()

	expirer := &fakeExpirer{err: errors.New("db down")}
	counter := &fakeStalledCounter{err: errors.New("also down")}
	job, err := NewOrderTTLJob(OrderTTLJobParams{
		Logger:    testLogger(),
		Lifecycle: expirer,
		Orders:    counter,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	runErr := job.Run(context.Background())
	if runErr == nil {
		t.Fatal("expected combined error")
	}
	// One failing phase must not hide the other.
	msg := runErr.Error()
	if !strings.Contains(msg, "db down") || !strings.Contains(msg, "also down") {
		t.Fatalf("combined error missing a phase: %v", runErr)
	}
}

type fakeLockStore struct {
	values map[string]string
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if f.values == nil {
		f.values = map[string]string{}
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeLockStore) Get(_ context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeLockStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func TestRedisLockExclusivity(t *testing.T) {
	t.Parallel()

	store := &fakeLockStore{}
	first, err := NewRedisLock(store, "bunshop:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, err := NewRedisLock(store, "bunshop:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("second acquire should lose: ok=%v err=%v", ok, err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

type stubLock struct {
	locked bool
}

func (l *stubLock) Acquire(context.Context) (bool, error) { return !l.locked, nil }
func (l *stubLock) Release(context.Context) error         { return nil }

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	t.Parallel()

	job := &countingJob{name: "order-ttl"}
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     &stubLock{locked: true},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job ran despite held lock: %d", job.runs)
	}
}

func TestServiceRunsRegisteredJobs(t *testing.T) {
	t.Parallel()

	healthy := &countingJob{name: "order-ttl"}
	failing := &countingJob{name: "broken", err: errors.New("boom")}
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(healthy, failing),
		Lock:     &stubLock{},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if healthy.runs != 1 || failing.runs != 1 {
		t.Fatalf("jobs not run exactly once: %d/%d", healthy.runs, failing.runs)
	}
}
