package queue

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"
)

// Worker defaults.
const (
	DefaultBatchSize    = 10
	DefaultPollInterval = time.Second
)

// Worker polls a Source and hands every batch to a Processor.
type Worker struct {
	Source       Source
	Processor    *Processor
	BatchSize    int
	PollInterval time.Duration
}

// Run processes batches until ctx is done. It sleeps for PollInterval after
// an empty batch, a receive error, or a batch returned unprocessed.
func (w *Worker) Run(ctx context.Context) error {
	log := clog.FromContext(ctx)
	size := w.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := w.Source.Receive(ctx, size)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("receiving batch: %v", err)
			sleep(ctx, interval)
			continue
		}
		if batch == nil || len(batch.Jobs()) == 0 {
			sleep(ctx, interval)
			continue
		}

		if err := w.Processor.ProcessBatch(ctx, batch); err != nil {
			log.Errorf("processing batch: %v", err)
		}
		if !w.Processor.Ready() {
			// The batch went straight back; give configuration time to appear.
			sleep(ctx, interval)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
