package bus

import (
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Ch():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func drain(sub *Subscription) int {
	n := 0
	for {
		select {
		case <-sub.Ch():
			n++
		default:
			return n
		}
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("record.")
	defer b.Unsubscribe(sub)

	if n := b.Publish(TopicRecordDeleted, RecordEvent{Partition: "tasks", ID: "t1"}); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	ev := recv(t, sub)
	if ev.Topic != TopicRecordDeleted {
		t.Fatalf("topic = %q, want %q", ev.Topic, TopicRecordDeleted)
	}
	if p, ok := ev.Payload.(RecordEvent); !ok || p.ID != "t1" {
		t.Fatalf("payload = %#v", ev.Payload)
	}
}

func TestBus_PrefixMatching(t *testing.T) {
	b := New()
	records := b.Subscribe("record.")
	defer b.Unsubscribe(records)
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	b.Publish(TopicRecordPut, "t1")
	b.Publish(TopicSyncCompleted, "ok")

	if ev := recv(t, records); ev.Topic != TopicRecordPut {
		t.Fatalf("topic = %q, want record.put", ev.Topic)
	}
	if n := drain(records); n != 0 {
		t.Fatalf("record subscriber got %d extra events", n)
	}
	if n := drain(all); n != 2 {
		t.Fatalf("catch-all subscriber got %d events, want 2", n)
	}
}

func TestBus_FullBufferDropsAndCounts(t *testing.T) {
	b := New()
	sub := b.SubscribeBuffered("record.", 4)
	defer b.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		b.Publish(TopicRecordPut, i)
	}
	if n := drain(sub); n != 4 {
		t.Fatalf("received %d events, want 4 (buffer size)", n)
	}
	if sub.Dropped() != 6 {
		t.Fatalf("dropped = %d, want 6", sub.Dropped())
	}
	// Once drained, delivery resumes.
	if n := b.Publish(TopicRecordPut, "again"); n != 1 {
		t.Fatalf("delivered after drain = %d, want 1", n)
	}
}

func TestBus_DefaultBuffer(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)
	for i := 0; i < DefaultBuffer+10; i++ {
		b.Publish(TopicRecordDeleted, i)
	}
	if n := drain(sub); n != DefaultBuffer {
		t.Fatalf("received %d, want %d", n, DefaultBuffer)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("record.")
	if b.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", b.SubscriberCount())
	}

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	if b.SubscriberCount() != 0 {
		t.Fatalf("count = %d, want 0", b.SubscriberCount())
	}
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel")
	}
	if n := b.Publish(TopicRecordPut, "late"); n != 0 {
		t.Fatalf("delivered to removed subscriber: %d", n)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	const goroutines, perGoroutine = 10, 5
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				b.Publish(TopicRecordPut, id*100+i)
			}
		}(g)
	}
	wg.Wait()

	if n := drain(sub); n != goroutines*perGoroutine {
		t.Fatalf("received %d events, want %d", n, goroutines*perGoroutine)
	}
}
