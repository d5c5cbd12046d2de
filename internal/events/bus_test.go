package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBus()
	a, unsubA := b.Subscribe(EventSignal, 4)
	defer unsubA()
	c, unsubC := b.Subscribe(EventSignal, 4)
	defer unsubC()

	b.Publish(EventSignal, "payload")

	for _, ch := range []<-chan any{a, c} {
		select {
		case got := <-ch:
			if got != "payload" {
				t.Fatalf("got %v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed publish")
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBus()
	_, unsub := b.Subscribe(EventQuote, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(EventQuote, i)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if b.Dropped() != 9 {
		t.Fatalf("dropped = %d, want 9", b.Dropped())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventOutcome, 4)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed on unsubscribe")
	}
	b.Publish(EventOutcome, "late") // must not panic on the closed channel
}

func TestSubscribeFuncStopsWithContext(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan any, 4)
	b.SubscribeFunc(ctx, EventConfirmation, 4, func(msg any) { got <- msg })

	b.Publish(EventConfirmation, 1)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	cancel()
	// Give the goroutine a beat to unsubscribe, then confirm silence.
	time.Sleep(20 * time.Millisecond)
	b.Publish(EventConfirmation, 2)
	select {
	case msg := <-got:
		t.Fatalf("handler ran after cancel: %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
