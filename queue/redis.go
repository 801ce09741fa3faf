package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultBlockTimeout is how long Receive waits for a first job.
const DefaultBlockTimeout = 5 * time.Second

// Redis is a reliable queue on two Redis lists. Received jobs are moved
// atomically from the pending list to a processing list and stay there until
// acked or retried, so a crashed worker loses nothing; Requeue returns
// orphaned jobs to the pending list.
type Redis struct {
	client     redis.Cmdable
	pending    string
	processing string
	block      time.Duration
}

var (
	_ Source = (*Redis)(nil)
	_ Sender = (*Redis)(nil)
)

// NewRedis creates a queue named name. Its lists are "<name>:pending" and
// "<name>:processing".
func NewRedis(client redis.Cmdable, name string) *Redis {
	return &Redis{
		client:     client,
		pending:    name + ":pending",
		processing: name + ":processing",
		block:      DefaultBlockTimeout,
	}
}

// WithBlockTimeout sets how long Receive waits for a first job.
func (q *Redis) WithBlockTimeout(d time.Duration) *Redis {
	q.block = d
	return q
}

// Send pushes body onto the pending list.
func (q *Redis) Send(ctx context.Context, body []byte) error {
	if err := q.client.LPush(ctx, q.pending, body).Err(); err != nil {
		return fmt.Errorf("pushing to %s: %w", q.pending, err)
	}
	return nil
}

// Receive blocks until a job is available or the block timeout passes, then
// takes up to limit-1 more without blocking.
func (q *Redis) Receive(ctx context.Context, limit int) (Batch, error) {
	if limit <= 0 {
		return jobs(nil), nil
	}

	body, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.block).Bytes()
	if errors.Is(err, redis.Nil) {
		return jobs(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("receiving from %s: %w", q.pending, err)
	}

	batch := jobs{q.job(body)}
	for len(batch) < limit {
		body, err := q.client.LMove(ctx, q.pending, q.processing, "RIGHT", "LEFT").Bytes()
		if err != nil {
			// redis.Nil: drained. Anything else surfaces on the next Receive.
			break
		}
		batch = append(batch, q.job(body))
	}
	return batch, nil
}

// Requeue moves every job left in the processing list back to the pending
// list, oldest first. Call it at startup before any worker receives.
func (q *Redis) Requeue(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("requeueing from %s: %w", q.processing, err)
		}
		n++
	}
}

// Len reports the number of pending jobs.
func (q *Redis) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pending).Result()
}

func (q *Redis) job(body []byte) *redisJob {
	return &redisJob{q: q, body: body}
}

type redisJob struct {
	q    *Redis
	body []byte

	mu      sync.Mutex
	settled bool
}

func (j *redisJob) Body() []byte { return j.body }

func (j *redisJob) Ack(ctx context.Context) error {
	return j.settle(func() error {
		return j.q.client.LRem(ctx, j.q.processing, 1, j.body).Err()
	})
}

func (j *redisJob) Retry(ctx context.Context) error {
	return j.settle(func() error {
		_, err := j.q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, j.q.processing, 1, j.body)
			pipe.LPush(ctx, j.q.pending, j.body)
			return nil
		})
		return err
	})
}

// settle runs fn once; later calls are no-ops.
func (j *redisJob) settle(fn func() error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.settled {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	j.settled = true
	return nil
}
