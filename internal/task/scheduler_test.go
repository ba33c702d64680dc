package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"guildbot/internal/hook"
	logx "guildbot/pkg/logx"
)

func TestSchedulerRunsInterval(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 2, Grace: time.Second, Logger: logx.Nop()})
	var runs atomic.Int64
	err := s.Add(Task{
		Name:     "ticker",
		Schedule: Every(20 * time.Millisecond),
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop(context.Background())

	if n := runs.Load(); n < 3 {
		t.Fatalf("task ran %d times in 150ms at a 20ms interval, want at least 3", n)
	}
}

func TestSchedulerOnStartRunsOnce(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 1, Grace: time.Second, Logger: logx.Nop()})
	var runs atomic.Int64
	if err := s.Add(Task{
		Name:    "startup",
		OnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop(context.Background())

	if n := runs.Load(); n != 1 {
		t.Fatalf("startup task ran %d times, want exactly 1", n)
	}
}

func TestSchedulerTaskNeverOverlapsItself(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 4, Grace: time.Second, Logger: logx.Nop()})
	var inFlight, maxSeen atomic.Int64
	if err := s.Add(Task{
		Name:     "slow",
		Schedule: Every(5 * time.Millisecond),
		Run: func(context.Context) error {
			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop(context.Background())

	if m := maxSeen.Load(); m > 1 {
		t.Fatalf("task overlapped itself: max concurrency %d", m)
	}
}

func TestSchedulerWorkerPoolBound(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 1, Grace: time.Second, Logger: logx.Nop()})
	var inFlight, maxSeen atomic.Int64
	run := func(context.Context) error {
		n := inFlight.Add(1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	for _, name := range []string{"a", "b", "c"} {
		if err := s.Add(Task{Name: name, Schedule: Every(10 * time.Millisecond), Run: run}); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop(context.Background())

	if m := maxSeen.Load(); m > 1 {
		t.Fatalf("pool of 1 ran %d tasks concurrently", m)
	}
}

func TestSchedulerStopCancelsAfterGrace(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 1, Grace: 30 * time.Millisecond, Logger: logx.Nop()})
	cancelled := make(chan struct{})
	if err := s.Add(Task{
		Name:    "stuck",
		OnStart: true,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond) // let the task start

	done := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(done)
	}()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("task context was not cancelled after the grace period")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestSchedulerStopAbandonsUncancellableTask(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 1, Grace: 30 * time.Millisecond, Logger: logx.Nop()})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	if err := s.Add(Task{
		Name:    "stuck",
		OnStart: true,
		Run: func(context.Context) error {
			close(started)
			<-block // never observes ctx
			return nil
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Stop(stopCtx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after its context expired")
	}

	infos := s.Snapshot()
	if len(infos) != 1 {
		t.Fatalf("Snapshot = %+v, want one task", infos)
	}
	if infos[0].Running {
		t.Fatal("abandoned task still reported as running")
	}
	if infos[0].LastErr != context.Canceled.Error() {
		t.Fatalf("abandoned task LastErr = %q, want %q", infos[0].LastErr, context.Canceled.Error())
	}
}

func TestSchedulerPublishesOutcomes(t *testing.T) {
	t.Parallel()

	bus := hook.NewBus(logx.Nop())
	var mu sync.Mutex
	events := map[hook.Kind]int{}
	for _, kind := range []hook.Kind{hook.TaskCompleted, hook.TaskFailed} {
		kind := kind
		if err := bus.Subscribe(kind, "t-"+string(kind), func(e hook.Event) error {
			mu.Lock()
			events[e.Kind]++
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	s := NewScheduler(Config{Workers: 2, Grace: time.Second, Logger: logx.Nop(), Bus: bus})
	if err := s.Add(Task{
		Name:    "good",
		OnStart: true,
		Run:     func(context.Context) error { return nil },
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(Task{
		Name:    "bad",
		OnStart: true,
		Run:     func(context.Context) error { return errors.New("no database") },
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop(context.Background())
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if events[hook.TaskCompleted] != 1 || events[hook.TaskFailed] != 1 {
		t.Fatalf("events = %v, want one completed and one failed", events)
	}
}

func TestSchedulerRemove(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 1, Grace: time.Second, Logger: logx.Nop()})
	var runs atomic.Int64
	if err := s.Add(Task{
		Name:     "gone",
		Schedule: Every(10 * time.Millisecond),
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	if !s.Remove("gone") {
		t.Fatal("Remove reported the task as unknown")
	}
	time.Sleep(20 * time.Millisecond)
	before := runs.Load()
	time.Sleep(60 * time.Millisecond)
	if after := runs.Load(); after != before {
		t.Fatalf("removed task still ran: %d -> %d", before, after)
	}
	s.Stop(context.Background())

	if s.Remove("never-added") {
		t.Fatal("Remove of an unknown task reported true")
	}
}

func TestSchedulerAddValidation(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 1, Grace: time.Second, Logger: logx.Nop()})
	noop := func(context.Context) error { return nil }

	if err := s.Add(Task{Name: "x", Schedule: Every(time.Minute)}); err == nil {
		t.Fatal("nil Run must be rejected")
	}
	if err := s.Add(Task{Name: "", Schedule: Every(time.Minute), Run: noop}); err == nil {
		t.Fatal("empty name must be rejected")
	}
	if err := s.Add(Task{Name: "x", Run: noop}); err == nil {
		t.Fatal("task without schedule or OnStart must be rejected")
	}
	if err := s.Add(Task{Name: "x", Schedule: Every(time.Minute), Run: noop}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(Task{Name: "x", Schedule: Every(time.Minute), Run: noop}); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("duplicate name: got %v, want ErrDuplicateTask", err)
	}
}

func TestSchedulerAddAfterStart(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 1, Grace: time.Second, Logger: logx.Nop()})
	s.Start(context.Background())

	var runs atomic.Int64
	if err := s.Add(Task{
		Name:     "late",
		Schedule: Every(15 * time.Millisecond),
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Add after Start: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	s.Stop(context.Background())
	if runs.Load() == 0 {
		t.Fatal("task added after Start never ran")
	}
}

func TestSchedulerSnapshot(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Config{Workers: 1, Grace: time.Second, Logger: logx.Nop()})
	noop := func(context.Context) error { return nil }
	for _, name := range []string{"beta", "alpha"} {
		if err := s.Add(Task{Name: name, Schedule: Every(time.Hour), Run: noop}); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	time.Sleep(20 * time.Millisecond)

	infos := s.Snapshot()
	if len(infos) != 2 || infos[0].Name != "alpha" || infos[1].Name != "beta" {
		t.Fatalf("Snapshot = %+v, want alpha then beta", infos)
	}
	for _, in := range infos {
		if in.Next.IsZero() {
			t.Fatalf("task %s has no next occurrence scheduled", in.Name)
		}
	}
}
