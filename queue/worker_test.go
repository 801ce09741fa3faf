package queue

import (
	"context"
	"testing"
	"time"

	"github.com/qws941/safewallet/webpush"
	"github.com/qws941/safewallet/webpush/storage"
)

func TestWorker_Run(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := newRecordingStore()
	records := seed(t, store, "a", "b", "c")
	q := NewMemory()
	for _, r := range records {
		msg := NewMessage("review", []*storage.Record{r}, webpush.Message{Title: r.ID})
		if err := Enqueue(ctx, q, msg); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	w := &Worker{
		Source:       q,
		Processor:    NewProcessor(&fakeDeliverer{configured: true}, store, nil),
		BatchSize:    2,
		PollInterval: 10 * time.Millisecond,
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for {
		if _, acked, _ := q.Stats(); acked == 3 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for jobs to be acked")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	for _, r := range records {
		got, err := store.Get(context.Background(), r.ID)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", r.ID, err)
		}
		if got.LastUsedAt.IsZero() {
			t.Errorf("%s not marked delivered", r.ID)
		}
	}
}

func TestWorker_NotConfiguredKeepsJobsQueued(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := newRecordingStore()
	records := seed(t, store, "a")
	q := NewMemory()
	if err := Enqueue(ctx, q, NewMessage("review", records, webpush.Message{})); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	deliverer := &fakeDeliverer{configured: false}
	w := &Worker{
		Source:       q,
		Processor:    NewProcessor(deliverer, store, nil),
		PollInterval: 10 * time.Millisecond,
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for {
		if _, _, retried := q.Stats(); retried >= 2 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for retries")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	deliverer.mu.Lock()
	calls := deliverer.calls
	deliverer.mu.Unlock()
	if calls != 0 {
		t.Errorf("DeliverAll calls = %d, want 0", calls)
	}
	if len(store.writes) != 0 {
		t.Errorf("store writes = %v, want none", store.writes)
	}
}
