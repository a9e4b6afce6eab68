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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/soonaverse/settle/config"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/ledger"
	"github.com/soonaverse/settle/model"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testNetwork = model.NetworkSmr

type fakeQueue struct {
	mu       sync.Mutex
	spends   []string
	expiries map[string]time.Time
	webhooks []NewWebhook
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{expiries: map[string]time.Time{}}
}

func (q *fakeQueue) EnqueueWebhook(_ context.Context, webhook NewWebhook) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.webhooks = append(q.webhooks, webhook)
	return nil
}

func (q *fakeQueue) EnqueueSpend(_ context.Context, orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.spends = append(q.spends, orderID)
	return nil
}

func (q *fakeQueue) EnqueueStakeExpiry(_ context.Context, stakeID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expiries[stakeID] = at
	return nil
}

func (q *fakeQueue) events() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var events []string
	for _, w := range q.webhooks {
		events = append(events, w.Event)
	}
	return events
}

func (q *fakeQueue) spent() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.spends...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *Engine
	ledger *ledger.MockClient
	queue  *fakeQueue
	clock  *testClock
	redis  *miniredis.Miniredis
	client *redis.Client
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		ProjectName: "settle-test",
		Redis:       config.RedisConfig{Dns: "localhost:6379"},
		Store:       config.StoreConfig{Driver: "redis", MaxTxRetries: 500},
		Queue: config.QueueConfig{
			WebhookQueue:     "settle:webhook",
			SpendQueue:       "settle:spend",
			StakeExpiryQueue: "settle:stake_expiry",
			Concurrency:      1,
		},
		Reconciliation: config.ReconciliationConfig{
			IntervalSec:     60,
			RetryBackoffSec: []int{60, 120, 240},
			MaxWorkers:      4,
			BatchSize:       100,
			LeaseSec:        120,
		},
		Orders: config.OrderConfig{ExpiresInSec: 3600},
		Networks: map[string]config.NetworkConfig{
			string(testNetwork): {MinAmount: 100, Denomination: 10},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	config.MockConfig(testConfig())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		ledger: &ledger.MockClient{},
		queue:  newFakeQueue(),
		clock:  &testClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)},
		redis:  mr,
		client: client,
	}
	engine, err := NewEngine(database.NewRedisStore(client, 500), h.ledger, WithQueue(h.queue), WithClock(h.clock.Now))
	require.NoError(t, err)
	h.engine = engine
	return h
}

// expectAddress makes the next address request return address.
func (h *harness) expectAddress(address string) {
	h.ledger.On("NewSpendableAddress", mock.Anything, testNetwork).
		Return(ledger.SpendableAddress{Address: address, Secret: gofakeit.Password(true, true, true, false, false, 24)}, nil).
		Once()
}

// registerAddress stores an unlocked mnemonic for address.
func (h *harness) registerAddress(t *testing.T, address string) {
	t.Helper()
	h.expectAddress(address)
	_, err := h.engine.RegisterAddress(context.Background(), testNetwork)
	require.NoError(t, err)
}

func (h *harness) put(t *testing.T, collection, id string, doc interface{}) {
	t.Helper()
	err := h.engine.datasource.RunTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		return tx.Set(collection, id, doc)
	})
	require.NoError(t, err)
}

func (h *harness) get(t *testing.T, collection, id string, dest interface{}) {
	t.Helper()
	found, err := h.engine.datasource.Get(context.Background(), collection, id, dest)
	require.NoError(t, err)
	require.True(t, found, "%s/%s not found", collection, id)
}

func (h *harness) order(t *testing.T, id string) *model.Order {
	t.Helper()
	var o model.Order
	h.get(t, model.CollectionOrders, id, &o)
	return &o
}

func (h *harness) mnemonic(t *testing.T, address string) *model.Mnemonic {
	t.Helper()
	var m model.Mnemonic
	h.get(t, model.CollectionMnemonics, address, &m)
	return &m
}

func fakeAddress() string {
	return "smr1" + gofakeit.LetterN(20)
}
