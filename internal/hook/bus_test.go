package hook

import (
	"errors"
	"sync"
	"testing"
	"time"

	logx "guildbot/pkg/logx"
)

func TestPublishOrderPerSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBus(logx.Nop())
	var mu sync.Mutex
	var got []int
	err := b.Subscribe(CommandExecuted, "recorder", func(e Event) error {
		mu.Lock()
		got = append(got, e.Data.(int))
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		b.Publish(Event{Kind: CommandExecuted, Data: i})
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Fatalf("delivered %d events, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d delivered out of order: got %d", i, v)
		}
	}
}

func TestFailingSubscriberIsolated(t *testing.T) {
	t.Parallel()

	b := NewBus(logx.Nop())
	if err := b.Subscribe(TaskFailed, "broken", func(Event) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Subscribe(TaskFailed, "flaky", func(Event) error {
		return errors.New("handler error")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var mu sync.Mutex
	count := 0
	if err := b.Subscribe(TaskFailed, "healthy", func(Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: TaskFailed, Data: TaskEvent{Task: "t"}})
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Fatalf("healthy subscriber saw %d events, want 5", count)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	b := NewBus(logx.Nop())
	release := make(chan struct{})
	if err := b.Subscribe(MessageReceived, "slow", func(Event) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Publish(Event{Kind: MessageReceived, Data: MessageEvent{Text: "hi"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}
	close(release)
	b.Close()
}

func TestSubscribeDuplicateName(t *testing.T) {
	t.Parallel()

	b := NewBus(logx.Nop())
	defer b.Close()
	if err := b.Subscribe(CommandDenied, "audit", func(Event) error { return nil }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Subscribe(CommandDenied, "audit", func(Event) error { return nil }); err == nil {
		t.Fatal("duplicate subscriber name must be rejected")
	}
	// Same name under a different kind is fine.
	if err := b.Subscribe(CommandFailed, "audit", func(Event) error { return nil }); err != nil {
		t.Fatalf("Subscribe other kind: %v", err)
	}
}
