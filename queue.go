/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/config"
	"github.com/soonaverse/settle/internal/apierror"
	redis_db "github.com/soonaverse/settle/internal/redis-db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Task types handled by the workers.
const (
	TypeSpend       = "spend:execute"
	TypeStakeExpiry = "stake:expire"
	TypeWebhook     = "webhook:deliver"
)

// Enqueuer schedules the engine's background work.
type Enqueuer interface {
	EnqueueWebhook(ctx context.Context, webhook NewWebhook) error
	EnqueueSpend(ctx context.Context, orderID string) error
	EnqueueStakeExpiry(ctx context.Context, stakeID string, at time.Time) error
}

// Queue is the asynq backed Enqueuer.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	config    *config.Configuration
}

type spendPayload struct {
	OrderID string `json:"order_id"`
}

type stakeExpiryPayload struct {
	StakeID string `json:"stake_id"`
}

// RedisClientOpt turns the configured Redis URL into asynq connection options.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	opts, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		config:    conf,
	}, nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		logrus.Warnf("closing queue inspector: %v", err)
	}
	return q.Client.Close()
}

// newSpendTask builds the task executing a spend. At most one task per order
// is queued at a time, and asynq never retries it: failed attempts are retried
// by reconciliation under the backoff table.
func newSpendTask(conf *config.Configuration, orderID string) (*asynq.Task, error) {
	payload, err := json.Marshal(spendPayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSpend, payload,
		asynq.TaskID("spend:"+orderID),
		asynq.Queue(conf.Queue.SpendQueue),
		asynq.MaxRetry(0),
	), nil
}

func newStakeExpiryTask(conf *config.Configuration, stakeID string, at time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(stakeExpiryPayload{StakeID: stakeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeStakeExpiry, payload,
		asynq.TaskID("stake-expiry:"+stakeID),
		asynq.Queue(conf.Queue.StakeExpiryQueue),
		asynq.ProcessAt(at),
	), nil
}

func newWebhookTask(conf *config.Configuration, webhook NewWebhook) (*asynq.Task, error) {
	payload, err := json.Marshal(webhook)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeWebhook, payload,
		asynq.Queue(conf.Queue.WebhookQueue),
		asynq.MaxRetry(5),
	), nil
}

func (q *Queue) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return err
	}
	logrus.Debugf("enqueued %s as %s on %s", task.Type(), info.ID, info.Queue)
	return nil
}

func (q *Queue) EnqueueSpend(ctx context.Context, orderID string) error {
	task, err := newSpendTask(q.config, orderID)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task)
}

func (q *Queue) EnqueueStakeExpiry(ctx context.Context, stakeID string, at time.Time) error {
	task, err := newStakeExpiryTask(q.config, stakeID, at)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task)
}

// EnqueueWebhook queues an event for delivery. Nothing is queued when no
// webhook URL is configured.
func (q *Queue) EnqueueWebhook(ctx context.Context, webhook NewWebhook) error {
	if q.config.Notification.Webhook.Url == "" {
		return nil
	}
	task, err := newWebhookTask(q.config, webhook)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task)
}

// ProcessSpendTask runs one attempt of a queued spend. Attempt failures are
// left to reconciliation, so only malformed tasks fail.
func (e *Engine) ProcessSpendTask(ctx context.Context, task *asynq.Task) error {
	var payload spendPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode spend task: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := tracer.Start(ctx, "ProcessSpendTask",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("order.id", payload.OrderID)))
	defer span.End()

	chainRef, err := e.ExecuteSpend(ctx, payload.OrderID)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("order.chain_reference", chainRef))
		logrus.Infof("spend %s submitted as %s", payload.OrderID, chainRef)
	case apierror.IsTransient(err):
		span.AddEvent("deferred to reconciliation")
		logrus.Infof("spend %s deferred to reconciliation: %v", payload.OrderID, err)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logrus.Errorf("spend %s failed: %v", payload.OrderID, err)
	}
	return nil
}

// ProcessStakeExpiryTask expires the stake named by the task. A stake whose
// expiry has not been reached yet fails the task so that asynq retries it.
func (e *Engine) ProcessStakeExpiryTask(ctx context.Context, task *asynq.Task) error {
	var payload stakeExpiryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode stake expiry task: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := tracer.Start(ctx, "ProcessStakeExpiryTask",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("stake.id", payload.StakeID)))
	defer span.End()

	stake, err := e.ExpireStake(ctx, payload.StakeID)
	if apierror.Is(err, apierror.ErrNotFound) {
		logrus.Warnf("stake %s vanished before expiry", payload.StakeID)
		return nil
	}
	if err != nil {
		return err
	}
	logrus.Infof("stake %s expired, %d released", stake.StakeID, stake.Amount)
	return nil
}
