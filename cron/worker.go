package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutrify/services/mpesa"
	"nutrify/services/payment"
	"nutrify/services/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// PaymentWorker runs deferred callback reconciliation and the periodic stale-payment sweep.
type PaymentWorker struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	redis     *redis.Client
	logger    *zap.Logger
	interval  time.Duration
	olderThan time.Duration
	stop      context.CancelFunc
}

func NewPaymentWorker(redisOpts asynq.RedisClientOpt, svc payment.PaymentService, olderThan, interval time.Duration, logger *zap.Logger) *PaymentWorker {
	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			Logger: logger.Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeReconcileCallback, handleReconcileCallback(svc, logger))
	mux.HandleFunc(tasks.TypeExpireStale, handleExpireStale(svc, olderThan, logger))

	return &PaymentWorker{
		srv:       srv,
		scheduler: asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{Logger: logger.Sugar()}),
		mux:       mux,
		redis: redis.NewClient(&redis.Options{
			Addr:     redisOpts.Addr,
			Password: redisOpts.Password,
			DB:       redisOpts.DB,
		}),
		logger:    logger,
		interval:  interval,
		olderThan: olderThan,
	}
}

// Start launches the worker and scheduler in the background.
func (w *PaymentWorker) Start() error {
	task, err := tasks.NewExpireStaleTask(w.olderThan)
	if err != nil {
		return err
	}
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := w.scheduler.Register(spec, task); err != nil {
		return fmt.Errorf("failed to register stale sweep: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.stop = cancel
	go w.monitorRedisConnection(ctx)

	go func() {
		w.logger.Info("starting payment worker")
		const maxAttempts = 5
		for attempts := 1; attempts <= maxAttempts; attempts++ {
			err := w.srv.Start(w.mux)
			if err == nil {
				break
			}
			w.logger.Error("failed to start payment worker", zap.Int("attempt", attempts), zap.Error(err))
			if attempts == maxAttempts {
				w.logger.Error("payment worker gave up starting")
				return
			}
			time.Sleep(time.Duration(attempts*2) * time.Second)
		}
	}()

	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

func (w *PaymentWorker) Shutdown() {
	if w.stop != nil {
		w.stop()
	}
	w.scheduler.Shutdown()
	w.srv.Shutdown()
	_ = w.redis.Close()
}

// Ping checks the queue's Redis connection.
func (w *PaymentWorker) Ping(ctx context.Context) error {
	return w.redis.Ping(ctx).Err()
}

func handleReconcileCallback(svc payment.PaymentService, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		cb, err := mpesa.ParseCallback(task.Payload())
		if err != nil {
			logger.Warn("dropping malformed deferred callback", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		out, err := svc.Reconcile(ctx, cb)
		switch {
		case err == nil:
			logger.Info("deferred callback reconciled",
				zap.String("checkoutRequestId", cb.CheckoutRequestID),
				zap.String("status", string(out.Status)),
				zap.Bool("applied", out.Applied))
			return nil
		case payment.IsTransient(err):
			// asynq retries with its own backoff until MaxRetry
			return err
		default:
			logger.Warn("dropping deferred callback",
				zap.String("checkoutRequestId", cb.CheckoutRequestID),
				zap.String("code", string(payment.CodeOf(err))),
				zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
	}
}

func handleExpireStale(svc payment.PaymentService, fallback time.Duration, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		olderThan, err := tasks.ParseExpireStale(task.Payload(), fallback)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		n, err := svc.ExpireStale(ctx, olderThan)
		if err != nil {
			var pe *payment.PaymentError
			if errors.As(err, &pe) {
				logger.Error("stale sweep failed", zap.String("code", string(pe.Code)), zap.Error(err))
			}
			return err
		}
		logger.Debug("stale sweep finished", zap.Int("expired", n))
		return nil
	}
}

// monitorRedisConnection pings Redis periodically to detect failures at runtime.
func (w *PaymentWorker) monitorRedisConnection(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.redis.Ping(ctx).Err(); err != nil && ctx.Err() == nil {
				w.logger.Warn("payment worker lost redis connection", zap.Error(err))
			}
		}
	}
}
