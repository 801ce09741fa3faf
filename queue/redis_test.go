package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	name := "webpush-test-" + uuid.NewString()
	q := NewRedis(client, name).WithBlockTimeout(100 * time.Millisecond)
	t.Cleanup(func() {
		client.Del(context.Background(), q.pending, q.processing)
	})
	return q
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	q := newTestRedis(t)

	for _, body := range []string{"one", "two", "three"} {
		if err := q.Send(ctx, []byte(body)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	batch, err := q.Receive(ctx, 2)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	jobs := batch.Jobs()
	if len(jobs) != 2 || string(jobs[0].Body()) != "one" || string(jobs[1].Body()) != "two" {
		t.Fatalf("Receive() = %d jobs", len(jobs))
	}

	if err := jobs[0].Ack(ctx); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if err := jobs[1].Retry(ctx); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if n, err := q.client.LLen(ctx, q.processing).Result(); err != nil || n != 0 {
		t.Errorf("processing list length = %d, %v, want 0", n, err)
	}

	batch, err = q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	jobs = batch.Jobs()
	if len(jobs) != 2 || string(jobs[0].Body()) != "three" || string(jobs[1].Body()) != "two" {
		t.Errorf("Receive() after retry returned %d jobs", len(jobs))
	}
}

func TestRedis_EmptyReceive(t *testing.T) {
	q := newTestRedis(t)
	batch, err := q.Receive(context.Background(), 5)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(batch.Jobs()) != 0 {
		t.Errorf("Receive() = %d jobs, want 0", len(batch.Jobs()))
	}
}

func TestRedis_Requeue(t *testing.T) {
	ctx := context.Background()
	q := newTestRedis(t)
	for _, body := range []string{"one", "two"} {
		q.Send(ctx, []byte(body))
	}

	// Received but never settled, as if the worker crashed.
	if _, err := q.Receive(ctx, 2); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	n, err := q.Requeue(ctx)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Requeue() = %d, want 2", n)
	}

	batch, err := q.Receive(ctx, 2)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	jobs := batch.Jobs()
	if len(jobs) != 2 || string(jobs[0].Body()) != "one" || string(jobs[1].Body()) != "two" {
		t.Errorf("Receive() after requeue returned %d jobs", len(jobs))
	}
}
