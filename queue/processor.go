package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/qws941/safewallet/webpush"
	"github.com/qws941/safewallet/webpush/metrics"
	"github.com/qws941/safewallet/webpush/storage"
)

// Store is the subset of subscription storage the processor writes to.
type Store interface {
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	IncrementFailCount(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Deliverer fans a message out to subscriptions. *webpush.Client implements it.
type Deliverer interface {
	Configured() bool
	DeliverAll(ctx context.Context, subs []*webpush.Subscription, msg *webpush.Message) []*webpush.Result
}

// settleTimeout bounds store writes and queue settlement that happen after
// the processing context is cancelled.
const settleTimeout = 10 * time.Second

// Processor turns batches of queued messages into push deliveries.
type Processor struct {
	deliverer Deliverer
	store     Store
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewProcessor creates a processor. m may be nil.
func NewProcessor(d Deliverer, s Store, m *metrics.Metrics) *Processor {
	return &Processor{
		deliverer: d,
		store:     s,
		metrics:   m,
		now:       time.Now,
	}
}

// Ready reports whether batches will be delivered rather than handed back.
func (p *Processor) Ready() bool {
	return p.deliverer.Configured()
}

// ProcessBatch delivers every job in batch, one job at a time, and settles
// each job once all of its subscription writes have been attempted.
//
// When the deliverer has no VAPID keys the whole batch is handed back
// untouched. The returned error reports only queue settlement failures.
func (p *Processor) ProcessBatch(ctx context.Context, batch Batch) error {
	log := clog.FromContext(ctx)

	if !p.deliverer.Configured() {
		log.Warnf("VAPID keys not configured, retrying batch of %d jobs", len(batch.Jobs()))
		p.metrics.BatchRetried()
		if err := batch.RetryAll(ctx); err != nil {
			return fmt.Errorf("retrying batch: %w", err)
		}
		return nil
	}

	var errs []error
	for _, job := range batch.Jobs() {
		if err := p.processJob(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) processJob(ctx context.Context, job Job) error {
	start := time.Now()
	log := clog.FromContext(ctx)

	msg, err := Decode(job.Body())
	if err != nil {
		// Redelivery cannot fix a malformed body.
		log.Errorf("discarding job: %v", err)
		p.metrics.ObserveJob(metrics.JobDiscarded, time.Since(start))
		return job.Ack(ctx)
	}

	ctx = clog.WithLogger(ctx, log.With("message_id", msg.ID, "type", msg.Type))
	log = clog.FromContext(ctx)

	err = p.deliver(ctx, msg)

	// Settle even if ctx was cancelled mid-delivery.
	settleCtx, cancel := settling(ctx)
	defer cancel()

	if err != nil {
		log.Warnf("retrying job: %v", err)
		p.metrics.ObserveJob(metrics.JobRetried, time.Since(start))
		if err := job.Retry(settleCtx); err != nil {
			return fmt.Errorf("retrying message %s: %w", msg.ID, err)
		}
		return nil
	}

	log.Debugf("delivered to %d subscriptions", len(msg.Subscriptions))
	p.metrics.ObserveJob(metrics.JobAcked, time.Since(start))
	if err := job.Ack(settleCtx); err != nil {
		return fmt.Errorf("acking message %s: %w", msg.ID, err)
	}
	return nil
}

// deliver fans msg out and reconciles every result. Any error means the job
// must be retried.
func (p *Processor) deliver(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing panicked: %v", r)
		}
	}()

	subs := make([]*webpush.Subscription, len(msg.Subscriptions))
	for i, s := range msg.Subscriptions {
		subs[i] = s.Subscription()
	}

	results := p.deliverer.DeliverAll(ctx, subs, &msg.Payload)
	if len(results) != len(subs) {
		return fmt.Errorf("got %d results for %d subscriptions", len(results), len(subs))
	}

	// Transport failures after cancellation are not counted against the
	// subscription; the job is retried instead.
	interrupted := ctx.Err() != nil
	writeCtx, cancel := settling(ctx)
	defer cancel()

	// Every write is attempted; one failure does not undo or skip another.
	var (
		errs    []error
		skipped int
	)
	for i, res := range results {
		if interrupted && (res == nil || (!res.Success && res.StatusCode == 0)) {
			skipped++
			continue
		}
		if err := p.reconcile(writeCtx, msg.Subscriptions[i], res); err != nil {
			errs = append(errs, err)
		}
	}
	if skipped > 0 {
		errs = append(errs, fmt.Errorf("%d deliveries interrupted: %w", skipped, context.Cause(ctx)))
	}
	return errors.Join(errs...)
}

// settling returns ctx unchanged while it is live. Once ctx is done it
// returns a context that ignores the cancellation for up to settleTimeout.
func settling(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func (p *Processor) reconcile(ctx context.Context, snap Snapshot, res *webpush.Result) error {
	if res == nil {
		res = &webpush.Result{Endpoint: snap.Endpoint, Error: "no result"}
	}
	p.metrics.ObserveDelivery(res)
	log := clog.FromContext(ctx).With("subscription", snap.ID)

	var (
		op  string
		err error
	)
	switch {
	case res.Success:
		op = "mark_delivered"
		err = p.store.MarkDelivered(ctx, snap.ID, p.now())
	case res.ShouldRemove():
		op = "delete"
		log.Infof("removing expired subscription: %s", res.Error)
		err = p.store.Delete(ctx, snap.ID)
	default:
		op = "increment_fail_count"
		log.Infof("delivery failed (previous failures %d): %s", snap.FailCount, res.Error)
		err = p.store.IncrementFailCount(ctx, snap.ID)
	}

	if errors.Is(err, storage.ErrNotFound) {
		log.Debugf("%s: subscription already gone", op)
		return nil
	}
	if err != nil {
		p.metrics.StoreWriteFailed(op)
		return fmt.Errorf("%s %s: %w", op, snap.ID, err)
	}
	return nil
}
