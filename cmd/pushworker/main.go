// Command pushworker drains the notification queue and delivers each message
// to its subscriptions with Web Push.
//
// Messages arrive on the Redis queue named by REDIS_ADDR and QUEUE_NAME, or
// through POST /notifications, which enqueues onto the same queue. Without
// Redis that endpoint is the only producer.
//
// Configuration is read from the environment (and an optional .env file);
// see the config package for the variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/qws941/safewallet/webpush"
	"github.com/qws941/safewallet/webpush/config"
	"github.com/qws941/safewallet/webpush/keys"
	"github.com/qws941/safewallet/webpush/metrics"
	"github.com/qws941/safewallet/webpush/queue"
	"github.com/qws941/safewallet/webpush/storage"
	"github.com/qws941/safewallet/webpush/vapid"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fatal(ctx, "loading .env: %v", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		fatal(ctx, "loading config: %v", err)
	}
	level, _ := cfg.Level()
	ctx = clog.WithLogger(ctx, clog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(ctx, cfg); err != nil {
		fatal(ctx, "pushworker: %v", err)
	}
}

func fatal(ctx context.Context, format string, args ...any) {
	clog.FromContext(ctx).Errorf(format, args...)
	os.Exit(1)
}

func run(ctx context.Context, cfg *config.Config) error {
	log := clog.FromContext(ctx)

	signer, closeSigner, err := newSigner(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSigner()
	if signer == nil {
		log.Warn("no VAPID keys configured; batches will be returned to the queue")
	} else {
		log.Infof("VAPID public key: %s", vapid.ApplicationServerKey(signer.PublicKey()))
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	client := webpush.NewClient(signer, cfg.Subject).
		WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}).
		WithTokenExpiry(cfg.TokenExpiry).
		WithConcurrency(cfg.Concurrency)
	if cfg.RateLimit > 0 {
		client = client.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1)))
	}

	source, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}

	worker := &queue.Worker{
		Source:       source,
		Processor:    queue.NewProcessor(client, store, m),
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(reg, signer, store, source),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return clog.WithLogger(context.Background(), log)
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return worker.Run(ctx)
	})
	if cfg.MaxFailCount > 0 {
		g.Go(func() error {
			prune(ctx, store, cfg.MaxFailCount, cfg.PruneInterval, m)
			return nil
		})
	}

	err = g.Wait()
	log.Info("shut down")
	return err
}

// newSigner picks the signer for whichever key source is configured. It
// returns a nil signer when none is.
func newSigner(ctx context.Context, cfg *config.Config) (vapid.Signer, func(), error) {
	noop := func() {}
	switch {
	case cfg.KMSKey != "":
		s, err := keys.NewKMSSigner(ctx, cfg.KMSKey)
		if err != nil {
			return nil, noop, fmt.Errorf("creating KMS signer: %w", err)
		}
		return s, func() { s.Close() }, nil
	case cfg.KeyFile != "":
		s, err := keys.NewFileSigner(cfg.KeyFile)
		if err != nil {
			return nil, noop, fmt.Errorf("loading VAPID key file: %w", err)
		}
		return s, noop, nil
	case cfg.Keys().Configured():
		s, err := keys.NewRawSignerFromKeys(cfg.Keys())
		if err != nil {
			return nil, noop, fmt.Errorf("loading VAPID keys: %w", err)
		}
		return s, noop, nil
	default:
		return nil, noop, nil
	}
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return storage.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return storage.NewSQLite(cfg.DatabaseURL)
	}
}

// jobQueue is a queue the worker both drains and, through POST
// /notifications, feeds.
type jobQueue interface {
	queue.Source
	queue.Sender
}

func newSource(ctx context.Context, cfg *config.Config) (jobQueue, error) {
	log := clog.FromContext(ctx)
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set; using an in-process queue fed by POST /notifications")
		return queue.NewMemory(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	q := queue.NewRedis(rdb, cfg.QueueName)
	n, err := q.Requeue(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		log.Infof("requeued %d jobs left in processing", n)
	}
	return q, nil
}

// prune deletes subscriptions that reached threshold consecutive failures,
// once per interval until ctx is done.
func prune(ctx context.Context, store storage.Storage, threshold int, interval time.Duration, m *metrics.Metrics) {
	log := clog.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteFailing(ctx, threshold)
			if err != nil {
				log.Errorf("pruning failing subscriptions: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("pruned %d subscriptions with %d+ failures", n, threshold)
			}
			m.Pruned(n)
		}
	}
}
