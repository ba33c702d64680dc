package hook

import (
	"fmt"
	"sync"
	"time"

	logx "guildbot/pkg/logx"
)

// HandlerFunc consumes one event. A returned error is logged and counted
// against the subscriber; it never affects other subscribers or the
// publisher.
type HandlerFunc func(e Event) error

// Bus fans events out to named subscribers.
//
// Contract:
//   - Publish never blocks on subscriber work; it only appends to queues.
//   - Every subscriber of a kind sees every event of that kind, in publish
//     order. Events are not dropped.
//   - A slow, failing or panicking subscriber delays and affects only
//     itself.
type Bus struct {
	log logx.Logger

	mu     sync.Mutex
	closed bool
	subs   map[Kind][]*subscriber
}

type subscriber struct {
	name string
	kind Kind
	fn   HandlerFunc
	log  logx.Logger

	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	done    chan struct{}
	closing bool
}

func NewBus(log logx.Logger) *Bus {
	return &Bus{
		log:  log,
		subs: map[Kind][]*subscriber{},
	}
}

// Subscribe registers fn for events of the given kind. The name identifies
// the subscriber in logs. Each subscriber runs on its own goroutine until
// the bus is closed.
func (b *Bus) Subscribe(kind Kind, name string, fn HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("hook bus closed")
	}
	for _, s := range b.subs[kind] {
		if s.name == name {
			return fmt.Errorf("duplicate hook subscriber %q for %s", name, kind)
		}
	}

	s := &subscriber{
		name: name,
		kind: kind,
		fn:   fn,
		log:  b.log.With(logx.String("hook", name), logx.String("kind", string(kind))),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.subs[kind] = append(b.subs[kind], s)
	go s.run()
	return nil
}

// Publish enqueues the event for every subscriber of its kind and returns
// immediately. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := b.subs[e.Kind]
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(e)
	}
}

// Close stops accepting events and waits for every subscriber to drain its
// queue.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	for _, s := range all {
		<-s.done
	}
}

func (s *subscriber) enqueue(e Event) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closing := s.closing
		s.mu.Unlock()

		for _, e := range batch {
			s.deliver(e)
		}
		if len(batch) > 0 {
			continue
		}
		if closing {
			return
		}
		<-s.wake
	}
}

func (s *subscriber) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("hook panicked", logx.Any("panic", r))
		}
	}()
	if err := s.fn(e); err != nil {
		s.log.Warn("hook failed", logx.Err(err))
	}
}
