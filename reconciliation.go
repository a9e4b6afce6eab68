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
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/internal/lock"
	"github.com/soonaverse/settle/internal/notification"
	"github.com/soonaverse/settle/model"
)

// RunReconciliation makes one pass over unsettled orders:
//
//  1. in-progress spends whose backoff elapsed are retried, or abandoned once
//     the backoff table is exhausted;
//  2. spends that were never attempted are executed;
//  3. expired receive orders are voided and their reservations released.
//
// Every action is idempotent per order, so overlapping passes are safe. It
// returns the ids of the orders acted upon.
func (e *Engine) RunReconciliation(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "RunReconciliation")
	defer span.End()

	r := &reconciliationRun{engine: e, now: e.now()}

	if err := r.retryStuckSpends(ctx); err != nil {
		return r.acted, err
	}
	if err := r.executePendingSpends(ctx); err != nil {
		return r.acted, err
	}
	if err := r.expireReceiveOrders(ctx); err != nil {
		return r.acted, err
	}
	return r.acted, nil
}

type reconciliationRun struct {
	engine *Engine
	now    time.Time

	mu    sync.Mutex
	acted []string
}

func (r *reconciliationRun) record(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acted = append(r.acted, id)
}

// each runs fn over orders with at most MaxWorkers in flight.
func (r *reconciliationRun) each(ctx context.Context, orders []model.Order, fn func(ctx context.Context, order *model.Order)) {
	workers := r.engine.config.Reconciliation.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range orders {
		sem <- struct{}{}
		wg.Add(1)
		go func(order *model.Order) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, order)
		}(&orders[i])
	}
	wg.Wait()
}

func (r *reconciliationRun) query(ctx context.Context, filter database.Filter) ([]model.Order, error) {
	var orders []model.Order
	err := r.engine.datasource.Query(ctx, model.CollectionOrders, filter, r.engine.config.Reconciliation.BatchSize, &orders)
	return orders, err
}

func (r *reconciliationRun) retryStuckSpends(ctx context.Context) error {
	orders, err := r.query(ctx, database.Filter{
		"wallet_reference.confirmed":   false,
		"wallet_reference.in_progress": true,
		"should_retry":                 true,
	})
	if err != nil {
		return err
	}

	backoff := r.engine.config.RetryBackoff()
	maxRetries := len(backoff)

	r.each(ctx, orders, func(ctx context.Context, order *model.Order) {
		if !order.Kind.IsSpend() {
			return
		}
		if order.WalletReference.Count <= maxRetries {
			next, ok := order.NextRetryAt(backoff)
			if ok && r.now.Before(next) {
				return
			}
		}
		if order.WalletReference.Count >= maxRetries {
			if err := r.engine.abandonOrder(ctx, order.OrderID); err != nil {
				logrus.Errorf("failed to abandon order %s: %v", order.OrderID, err)
				return
			}
			r.record(order.OrderID)
			return
		}
		r.execute(ctx, order)
	})
	return nil
}

func (r *reconciliationRun) executePendingSpends(ctx context.Context) error {
	orders, err := r.query(ctx, database.Filter{
		"wallet_reference.confirmed":   false,
		"wallet_reference.in_progress": false,
		"wallet_reference.count":       0,
		"should_retry":                 true,
		"payload.void":                 false,
	})
	if err != nil {
		return err
	}
	r.each(ctx, orders, func(ctx context.Context, order *model.Order) {
		if order.Kind.IsSpend() {
			r.execute(ctx, order)
		}
	})
	return nil
}

func (r *reconciliationRun) execute(ctx context.Context, order *model.Order) {
	_, err := r.engine.ExecuteSpend(ctx, order.OrderID)
	switch {
	case err == nil:
		r.record(order.OrderID)
	case apierror.Is(err, apierror.ErrAlreadyLocked), apierror.Is(err, apierror.ErrConflict):
		logrus.Debugf("order %s skipped this tick: %v", order.OrderID, err)
	case apierror.Is(err, apierror.ErrInsufficientFunds):
		logrus.Warnf("order %s attempt %d: %v", order.OrderID, order.WalletReference.Count+1, err)
		r.record(order.OrderID)
	default:
		logrus.Errorf("order %s attempt failed: %v", order.OrderID, err)
		r.record(order.OrderID)
	}
}

func (r *reconciliationRun) expireReceiveOrders(ctx context.Context) error {
	orders, err := r.query(ctx, database.Filter{
		"payload.void":       false,
		"payload.reconciled": false,
	})
	if err != nil {
		return err
	}
	r.each(ctx, orders, func(ctx context.Context, order *model.Order) {
		if order.Kind.IsSpend() || !order.IsExpired(r.now) {
			return
		}
		expired, err := r.engine.expireOrder(ctx, order.OrderID)
		if err != nil {
			logrus.Errorf("failed to expire order %s: %v", order.OrderID, err)
			return
		}
		if expired {
			r.record(order.OrderID)
		}
	})
	return nil
}

// expireOrder voids an expired receive order. It reports false when the order
// settled or was voided in the meantime.
func (e *Engine) expireOrder(ctx context.Context, id string) (bool, error) {
	var result *model.Order
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		result = nil
		order, err := getOrderTx(tx, id)
		if err != nil {
			return err
		}
		now := e.now()
		if order.Payload.Void || order.Payload.Reconciled || !order.IsExpired(now) {
			return nil
		}
		result = order
		return voidOrderTx(tx, order, now)
	})
	if err != nil || result == nil {
		return false, err
	}
	e.sendWebhook(ctx, EventOrderExpired, result)
	return true, nil
}

// abandonOrder stops retrying a spend, releases its source address and alerts
// operations. Nothing resolves the order automatically afterwards.
func (e *Engine) abandonOrder(ctx context.Context, id string) error {
	var result *model.Order
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		result = nil
		order, err := getOrderTx(tx, id)
		if err != nil {
			return err
		}
		if order.WalletReference.Confirmed || !order.ShouldRetry {
			return nil
		}
		now := e.now()
		order.Abandon(string(apierror.ErrMaxRetriesExceeded), now)
		if err := releaseLockTx(tx, order.Payload.SourceAddress, order.OrderID, now); err != nil {
			return err
		}
		result = order
		return tx.Set(model.CollectionOrders, id, order)
	})
	if err != nil || result == nil {
		return err
	}

	notification.NotifyError(apierror.NewAPIError(apierror.ErrMaxRetriesExceeded,
		"order "+id+" abandoned after "+strconv.Itoa(result.WalletReference.Count)+" attempts", nil))
	e.sendWebhook(ctx, EventOrderAbandoned, result)
	return nil
}

// ReconciliationProcessor runs RunReconciliation on a fixed interval. With a
// lease, a tick is skipped when another replica holds it.
type ReconciliationProcessor struct {
	engine   *Engine
	lease    *lock.Lease
	interval time.Duration
	leaseTTL time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewReconciliationProcessor(engine *Engine, lease *lock.Lease) *ReconciliationProcessor {
	cfg := engine.config.Reconciliation
	return &ReconciliationProcessor{
		engine:   engine,
		lease:    lease,
		interval: time.Duration(cfg.IntervalSec) * time.Second,
		leaseTTL: time.Duration(cfg.LeaseSec) * time.Second,
		stopCh:   make(chan struct{}),
	}
}

func (p *ReconciliationProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Reconciliation processor started")
}

func (p *ReconciliationProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Reconciliation processor stopped")
}

func (p *ReconciliationProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ReconciliationProcessor) run(ctx context.Context) {
	interval := p.interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Reconciliation processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Reconciliation processor stop signal received")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one reconciliation pass under the lease, if any.
func (p *ReconciliationProcessor) tick(ctx context.Context) int {
	if p.lease != nil {
		ok, err := p.lease.TryAcquire(ctx, p.leaseTTL)
		if err != nil {
			logrus.Errorf("reconciliation lease unavailable: %v", err)
			return 0
		}
		if !ok {
			logrus.Debug("reconciliation lease held by another replica")
			return 0
		}
		defer func() {
			if err := p.lease.Release(ctx); err != nil {
				logrus.Warnf("reconciliation lease release: %v", err)
			}
		}()
	}

	acted, err := p.engine.RunReconciliation(ctx)
	if err != nil {
		logrus.Errorf("reconciliation pass failed: %v", err)
	}
	if len(acted) > 0 {
		logrus.Infof("reconciliation acted on %d orders", len(acted))
	}
	return len(acted)
}

// RunOnce runs a single pass under the lease and returns how many orders it acted on.
func (p *ReconciliationProcessor) RunOnce(ctx context.Context) int {
	return p.tick(ctx)
}
