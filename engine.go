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
	"embed"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/config"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/cache"
	"github.com/soonaverse/settle/internal/tokenization"
	"github.com/soonaverse/settle/ledger"
	"github.com/soonaverse/settle/model"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("settle.engine")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Settlement is what a SettlementHandler sees when an incoming transfer settles
// an order: the transaction, the order (already confirmed) and the transfer.
type Settlement struct {
	Tx       database.Tx
	Order    *model.Order
	Transfer model.IncomingTransfer
	Now      time.Time

	afterCommit []func(ctx context.Context)
}

// AfterCommit registers fn to run once the settlement transaction committed.
// Handlers use it for side effects such as enqueueing follow-up tasks.
func (s *Settlement) AfterCommit(fn func(ctx context.Context)) {
	s.afterCommit = append(s.afterCommit, fn)
}

// SettlementHandler applies the downstream effect of a settled order inside the
// settlement transaction. It may run more than once if the transaction retries.
type SettlementHandler func(ctx context.Context, s *Settlement) error

// Engine owns orders, locks and tallies on top of a document store.
type Engine struct {
	datasource database.IDataSource
	ledger     ledger.Client
	queue      Enqueuer
	cache      cache.Cache
	tokenizer  *tokenization.Service
	config     *config.Configuration
	now        func() time.Time

	mu       sync.RWMutex
	handlers map[model.OrderKind]SettlementHandler
}

type Option func(*Engine)

// WithQueue replaces the asynq queue, mostly for tests.
func WithQueue(q Enqueuer) Option {
	return func(e *Engine) { e.queue = q }
}

// WithCache enables caching of reconciled orders.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an engine to its store and ledger client. The configuration
// must have been loaded with config.InitConfig or config.MockConfig.
func NewEngine(db database.IDataSource, client ledger.Client, opts ...Option) (*Engine, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		datasource: db,
		ledger:     client,
		config:     configuration,
		now:        func() time.Time { return time.Now().UTC() },
		handlers:   map[model.OrderKind]SettlementHandler{},
	}
	if configuration.TokenizationSecret != "" {
		e.tokenizer, err = tokenization.NewService(configuration.TokenizationSecret)
		if err != nil {
			return nil, err
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.queue == nil {
		q, err := NewQueue(configuration)
		if err != nil {
			return nil, err
		}
		e.queue = q
	}

	e.RegisterHandler(model.KindOrder, e.settleNftPurchase)
	e.RegisterHandler(model.KindStake, e.settleStake)
	e.RegisterHandler(model.KindVote, e.settleTokenVote)
	return e, nil
}

// RegisterHandler sets the handler run when an order of kind settles,
// replacing any previous one.
func (e *Engine) RegisterHandler(kind model.OrderKind, handler SettlementHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = handler
}

func (e *Engine) handler(kind model.OrderKind) SettlementHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[kind]
}

func (e *Engine) Config() *config.Configuration {
	return e.config
}

func (e *Engine) DataSource() database.IDataSource {
	return e.datasource
}

func (e *Engine) network(n model.Network) config.NetworkConfig {
	return e.config.Network(string(n))
}

func (e *Engine) sendWebhook(ctx context.Context, event string, payload interface{}) {
	if err := e.queue.EnqueueWebhook(ctx, NewWebhook{Event: event, Payload: payload}); err != nil {
		logrus.Errorf("failed to enqueue webhook %s: %v", event, err)
	}
}
