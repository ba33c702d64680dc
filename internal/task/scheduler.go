package task

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"guildbot/internal/hook"
	logx "guildbot/pkg/logx"
)

var (
	ErrDuplicateTask = errors.New("duplicate task")
	ErrStopped       = errors.New("scheduler stopped")
)

// Task is one named background job. Schedule may be nil only when OnStart is
// set, which makes the task a run-once startup job.
type Task struct {
	Name     string
	Schedule Schedule
	Timeout  time.Duration
	// OnStart runs the task immediately when the scheduler starts, before
	// the first scheduled occurrence.
	OnStart bool
	Run     func(ctx context.Context) error
}

// Config wires a Scheduler. Bus may be nil to disable outcome events.
type Config struct {
	// Workers bounds how many tasks run concurrently.
	Workers int
	// Grace is how long Stop waits for in-flight tasks before cancelling
	// their contexts.
	Grace  time.Duration
	Logger logx.Logger
	Bus    *hook.Bus
}

// Info is a point-in-time view of one task for inspection output.
type Info struct {
	Name    string
	Next    time.Time
	Running bool
	LastRun time.Time
	LastErr string
}

// Scheduler executes tasks at their scheduled instants.
//
// A single loop goroutine owns the timing heap; workers only run task bodies
// and report back over a channel. A task is taken off the heap while it runs,
// so one task never overlaps itself, and its next occurrence is computed from
// the completion time: after a stall the task fires once and resumes its
// grid, it never bursts to catch up.
type Scheduler struct {
	log     logx.Logger
	bus     *hook.Bus
	workers int
	grace   time.Duration
	now     func() time.Time

	mu      sync.Mutex
	tasks   map[string]*entry
	started bool
	stopped bool

	addCh    chan *entry
	removeCh chan string
	runCh    chan *entry
	doneCh   chan completion
	quit     chan struct{}
	loopDone chan struct{}

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

type entry struct {
	task Task

	// Written by the loop under the scheduler mutex.
	next    time.Time
	running bool
	lastRun time.Time
	lastErr string

	index int // heap index, -1 while running or pending
}

type completion struct {
	e       *entry
	started time.Time
	err     error
}

func NewScheduler(cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Second
	}
	return &Scheduler{
		log:      cfg.Logger,
		bus:      cfg.Bus,
		workers:  cfg.Workers,
		grace:    cfg.Grace,
		now:      time.Now,
		tasks:    map[string]*entry{},
		addCh:    make(chan *entry, 16),
		removeCh: make(chan string, 16),
		doneCh:   make(chan completion),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Add registers a task. Before Start it is queued for the initial schedule
// pass; afterwards it is handed to the running loop. Task names are unique.
func (s *Scheduler) Add(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %q has no Run", t.Name)
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Schedule == nil && !t.OnStart {
		return fmt.Errorf("task %q has neither a schedule nor OnStart", t.Name)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, ok := s.tasks[t.Name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name)
	}
	e := &entry{task: t, index: -1}
	s.tasks[t.Name] = e
	started := s.started
	s.mu.Unlock()

	if started {
		select {
		case s.addCh <- e:
		case <-s.quit:
			return ErrStopped
		}
	}
	return nil
}

// Remove unschedules the named task. A currently running occurrence finishes
// but is not rescheduled. It reports whether the task was known.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	_, ok := s.tasks[name]
	delete(s.tasks, name)
	started := s.started && !s.stopped
	s.mu.Unlock()

	if ok && started {
		select {
		case s.removeCh <- name:
		case <-s.quit:
		}
	}
	return ok
}

// Start launches the workers and the scheduling loop. It is not restartable
// after Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.runCtx, s.cancelRun = context.WithCancel(ctx)
	// Buffered to the pool size so the loop can hand work to a free worker
	// without blocking.
	s.runCh = make(chan *entry, s.workers)
	var initial []*entry
	for _, e := range s.tasks {
		initial = append(initial, e)
	}
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	go s.loop(initial)

	s.log.Info("scheduler started", logx.Int("workers", s.workers), logx.Int("tasks", len(initial)))
}

// Stop shuts the scheduler down: no new occurrences start, in-flight tasks
// get the grace period to finish, then their contexts are cancelled. Tasks
// that still have not returned when ctx is done are abandoned: Stop marks
// them cancelled in the snapshot and returns without waiting further.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.quit)
	<-s.loopDone
	close(s.runCh)

	allDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(allDone)
	}()

	graceTimer := time.NewTimer(s.grace)
	defer graceTimer.Stop()
	for {
		select {
		case <-s.doneCh:
			// Late completions after the loop exited; discard.
		case <-graceTimer.C:
			s.log.Warn("grace period elapsed, cancelling running tasks")
			s.cancelRun()
		case <-ctx.Done():
			s.cancelRun()
			if s.markCancelled() > 0 {
				s.log.Warn("stop deadline exceeded, abandoning running tasks")
			}
			return
		case <-allDone:
			s.cancelRun()
			s.log.Info("scheduler stopped")
			return
		}
	}
}

// markCancelled flags every still-running task as cancelled and reports how
// many there were. Their goroutines are abandoned; a late return is discarded
// by the worker's non-blocking completion send.
func (s *Scheduler) markCancelled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.tasks {
		if e.running {
			e.running = false
			e.lastErr = context.Canceled.Error()
			n++
		}
	}
	return n
}

// Snapshot returns the known tasks sorted by name.
func (s *Scheduler) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.tasks))
	for name, e := range s.tasks {
		out = append(out, Info{
			Name:    name,
			Next:    e.next,
			Running: e.running,
			LastRun: e.lastRun,
			LastErr: e.lastErr,
		})
	}
	sortInfos(out)
	return out
}

func sortInfos(infos []Info) {
	for i := 1; i < len(infos); i++ {
		for j := i; j > 0 && infos[j].Name < infos[j-1].Name; j-- {
			infos[j], infos[j-1] = infos[j-1], infos[j]
		}
	}
}

func (s *Scheduler) loop(initial []*entry) {
	defer close(s.loopDone)

	var (
		h       entryHeap
		pending []*entry // due but waiting for a free worker
		busy    int
	)
	now := s.now()
	for _, e := range initial {
		s.scheduleNext(&h, e, now, e.task.OnStart)
	}

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		// Launch everything due while workers are free.
		now = s.now()
		for busy < s.workers {
			var e *entry
			switch {
			case len(pending) > 0:
				e = pending[0]
				pending = pending[1:]
			case h.Len() > 0 && !h[0].next.After(now):
				e = heap.Pop(&h).(*entry)
			}
			if e == nil {
				break
			}
			s.dispatch(e, now)
			busy++
		}
		// Move remaining due entries aside so the timer tracks the next
		// future occurrence.
		for h.Len() > 0 && !h[0].next.After(now) {
			pending = append(pending, heap.Pop(&h).(*entry))
		}

		if h.Len() > 0 {
			timer.Reset(h[0].next.Sub(now))
		}

		select {
		case <-s.quit:
			return
		case <-timer.C:
		case e := <-s.addCh:
			stopTimer(timer)
			if s.isKnown(e) {
				s.scheduleNext(&h, e, s.now(), e.task.OnStart)
			}
		case name := <-s.removeCh:
			stopTimer(timer)
			s.unschedule(&h, &pending, name)
		case c := <-s.doneCh:
			stopTimer(timer)
			busy--
			s.complete(&h, c)
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func (s *Scheduler) isKnown(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[e.task.Name] == e
}

// scheduleNext computes the entry's next occurrence and pushes it onto the
// heap. immediate schedules it for right now (startup runs).
func (s *Scheduler) scheduleNext(h *entryHeap, e *entry, now time.Time, immediate bool) {
	var next time.Time
	if immediate {
		next = now
	} else if e.task.Schedule != nil {
		next = e.task.Schedule.Next(now)
	}
	s.mu.Lock()
	e.next = next
	s.mu.Unlock()
	if next.IsZero() {
		return
	}
	heap.Push(h, e)
}

func (s *Scheduler) dispatch(e *entry, now time.Time) {
	s.mu.Lock()
	e.running = true
	e.next = time.Time{}
	s.mu.Unlock()
	s.runCh <- e
}

func (s *Scheduler) complete(h *entryHeap, c completion) {
	s.mu.Lock()
	c.e.running = false
	c.e.lastRun = c.started
	c.e.lastErr = ""
	if c.err != nil {
		c.e.lastErr = c.err.Error()
	}
	known := s.tasks[c.e.task.Name] == c.e
	s.mu.Unlock()

	if known && c.e.task.Schedule != nil {
		s.scheduleNext(h, c.e, s.now(), false)
	}
}

func (s *Scheduler) unschedule(h *entryHeap, pending *[]*entry, name string) {
	for i := 0; i < h.Len(); i++ {
		if (*h)[i].task.Name == name {
			heap.Remove(h, i)
			return
		}
	}
	for i, e := range *pending {
		if e.task.Name == name {
			*pending = append((*pending)[:i], (*pending)[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for e := range s.runCh {
		started := s.now()
		err := s.runOne(e)
		s.report(e, started, err)

		select {
		case s.doneCh <- completion{e: e, started: started, err: err}:
		case <-s.loopDone:
			// Shutdown drain path.
			select {
			case s.doneCh <- completion{e: e, started: started, err: err}:
			default:
			}
		}
	}
}

func (s *Scheduler) runOne(e *entry) (err error) {
	ctx := s.runCtx
	var cancel context.CancelFunc
	if e.task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.task.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked",
				logx.String("task", e.task.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	return e.task.Run(ctx)
}

func (s *Scheduler) report(e *entry, started time.Time, err error) {
	dur := s.now().Sub(started)
	ev := hook.TaskEvent{Task: e.task.Name, Started: started, Duration: dur, Err: err}
	if err != nil {
		s.log.Warn("task failed", logx.String("task", e.task.Name), logx.Duration("dur", dur), logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(hook.Event{Kind: hook.TaskFailed, Data: ev})
		}
		return
	}
	s.log.Debug("task completed", logx.String("task", e.task.Name), logx.Duration("dur", dur))
	if s.bus != nil {
		s.bus.Publish(hook.Event{Kind: hook.TaskCompleted, Data: ev})
	}
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].next.Before(h[j].next) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
