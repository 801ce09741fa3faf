package queue

import (
	"context"
	"errors"
)

// Job is one queued message as handed out by a Source. Exactly one of Ack or
// Retry should be called per delivery of the job.
type Job interface {
	Body() []byte
	// Ack removes the job from the queue.
	Ack(ctx context.Context) error
	// Retry hands the job back for redelivery.
	Retry(ctx context.Context) error
}

// Batch is a group of jobs received together.
type Batch interface {
	Jobs() []Job
	// RetryAll hands every unsettled job in the batch back for redelivery.
	RetryAll(ctx context.Context) error
}

// Source hands out batches of at most limit jobs. An empty batch means the
// queue had nothing to offer.
type Source interface {
	Receive(ctx context.Context, limit int) (Batch, error)
}

// jobs is a Batch over a fixed slice of jobs.
type jobs []Job

func (b jobs) Jobs() []Job { return b }

func (b jobs) RetryAll(ctx context.Context) error {
	var errs []error
	for _, j := range b {
		if err := j.Retry(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
