package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeReconcileCallback = "payment:reconcile_callback"
	TypeExpireStale       = "payment:expire_stale"
)

const (
	callbackRetryDelay = 10 * time.Second
	callbackMaxRetry   = 5
)

type ExpireStalePayload struct {
	OlderThanSeconds int64 `json:"olderThanSeconds"`
}

// NewReconcileCallbackTask wraps a raw callback body for a delayed reconciliation attempt.
func NewReconcileCallbackTask(raw []byte) (*asynq.Task, []asynq.Option, error) {
	if !json.Valid(raw) {
		return nil, nil, fmt.Errorf("callback body is not JSON")
	}
	task := asynq.NewTask(TypeReconcileCallback, raw)
	opts := []asynq.Option{
		asynq.ProcessIn(callbackRetryDelay),
		asynq.MaxRetry(callbackMaxRetry),
	}
	return task, opts, nil
}

func NewExpireStaleTask(olderThan time.Duration) (*asynq.Task, error) {
	b, err := json.Marshal(ExpireStalePayload{OlderThanSeconds: int64(olderThan / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeExpireStale, b, asynq.MaxRetry(0)), nil
}

// ParseExpireStale decodes an expire-stale payload, falling back when the payload is empty.
func ParseExpireStale(payload []byte, fallback time.Duration) (time.Duration, error) {
	if len(payload) == 0 {
		return fallback, nil
	}
	var p ExpireStalePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, err
	}
	if p.OlderThanSeconds <= 0 {
		return fallback, nil
	}
	return time.Duration(p.OlderThanSeconds) * time.Second, nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CallbackQueue defers callbacks that arrived before their booking was marked initiated.
type CallbackQueue struct {
	client enqueuer
	logger *zap.Logger
}

func NewCallbackQueue(client *asynq.Client, logger *zap.Logger) *CallbackQueue {
	return newCallbackQueue(client, logger)
}

func newCallbackQueue(client enqueuer, logger *zap.Logger) *CallbackQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackQueue{client: client, logger: logger}
}

func (q *CallbackQueue) DeferCallback(ctx context.Context, raw []byte) error {
	task, opts, err := NewReconcileCallbackTask(raw)
	if err != nil {
		return fmt.Errorf("failed to build reconcile task: %w", err)
	}
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue reconcile task: %w", err)
	}
	q.logger.Info("callback deferred", zap.String("taskId", info.ID), zap.String("queue", info.Queue))
	return nil
}
