package eventbus

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New(4, nil)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{Kind: "action", Payload: "hello"})

	select {
	case ev := <-ch:
		if ev.Kind != "action" || ev.Payload != "hello" {
			t.Errorf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_DropsOnFullBuffer(t *testing.T) {
	b := New(1, nil)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"}) // buffer full, should drop silently

	ev := <-ch
	if ev.Kind != "first" {
		t.Errorf("expected first event to survive, got %s", ev.Kind)
	}
	select {
	case ev := <-ch:
		t.Errorf("expected no second event, got %+v", ev)
	default:
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(4, nil)
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	b.Publish(Event{Kind: "after-unsubscribe"})

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestBus_SubscriberCount(t *testing.T) {
	b := New(4, nil)
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers initially")
	}
	_, unsubscribe1 := b.Subscribe()
	_, unsubscribe2 := b.Subscribe()
	if b.SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", b.SubscriberCount())
	}
	unsubscribe1()
	unsubscribe2()
	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after unsubscribing all, got %d", b.SubscriberCount())
	}
}
