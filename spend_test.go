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
	"errors"
	"testing"

	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/ledger"
	"github.com/soonaverse/settle/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func createSpend(t *testing.T, h *harness, source string, amount int64) *model.Order {
	t.Helper()
	payload := model.OrderPayload{Amount: amount, SourceAddress: source, TargetAddress: fakeAddress()}
	o, err := h.engine.CreateOrder(context.Background(), model.KindWithdraw, "member-1", "space-1", testNetwork, payload)
	require.NoError(t, err)
	return o
}

func TestExecuteSpend_Submits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	source := fakeAddress()
	h.registerAddress(t, source)
	o := createSpend(t, h, source, 500)
	units := model.SpendUnits{Outputs: []string{"out-1"}}

	h.ledger.On("GetSpendUnits", mock.Anything, source).Return(units, nil).Once()
	h.ledger.On("GetBalance", mock.Anything, source).Return(int64(2000), nil).Once()
	h.ledger.On("Send", mock.Anything, source, o.Payload.TargetAddress, int64(500), mock.MatchedBy(func(opts ledger.SendOptions) bool {
		return len(opts.Units.Outputs) == 1 && opts.Units.Outputs[0] == "out-1" && opts.Metadata["order"] == o.OrderID
	})).Return("blk-1", nil).Once()

	chainRef, err := h.engine.ExecuteSpend(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "blk-1", chainRef)

	stored := h.order(t, o.OrderID)
	assert.Equal(t, 1, stored.WalletReference.Count)
	assert.True(t, stored.WalletReference.InProgress)
	assert.False(t, stored.WalletReference.Confirmed)
	assert.Equal(t, "blk-1", stored.WalletReference.ChainReference)

	m := h.mnemonic(t, source)
	assert.Equal(t, o.OrderID, m.LockedBy)
	assert.Equal(t, []string{"out-1"}, m.ConsumedOutputIds)

	_, err = h.engine.MarkConfirmed(ctx, o.OrderID, "blk-1")
	require.NoError(t, err)
	m = h.mnemonic(t, source)
	assert.Empty(t, m.LockedBy)
	assert.True(t, m.ConsumedUnits().IsEmpty())

	_, err = h.engine.ExecuteSpend(ctx, o.OrderID)
	assert.True(t, apierror.Is(err, apierror.ErrAlreadyReconciled))
	h.ledger.AssertExpectations(t)
}

func TestExecuteSpend_InsufficientFundsCountsAsAttempt(t *testing.T) {
	h := newHarness(t)
	source := fakeAddress()
	h.registerAddress(t, source)
	o := createSpend(t, h, source, 500)

	h.ledger.On("GetSpendUnits", mock.Anything, source).Return(model.SpendUnits{Outputs: []string{"out-1"}}, nil).Once()
	h.ledger.On("GetBalance", mock.Anything, source).Return(int64(100), nil).Once()

	_, err := h.engine.ExecuteSpend(context.Background(), o.OrderID)
	assert.True(t, apierror.Is(err, apierror.ErrInsufficientFunds), "got %v", err)

	stored := h.order(t, o.OrderID)
	assert.Equal(t, 1, stored.WalletReference.Count)
	assert.True(t, stored.WalletReference.InProgress)
	assert.Contains(t, stored.WalletReference.Error, string(apierror.ErrInsufficientFunds))
	h.ledger.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteSpend_LockedSourceLeavesOrderUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	source := fakeAddress()
	h.registerAddress(t, source)
	require.NoError(t, h.engine.AcquireLock(ctx, source, "ord_other"))
	o := createSpend(t, h, source, 500)

	_, err := h.engine.ExecuteSpend(ctx, o.OrderID)
	assert.True(t, apierror.Is(err, apierror.ErrAlreadyLocked), "got %v", err)
	assert.Equal(t, 0, h.order(t, o.OrderID).WalletReference.Count)
}

func TestExecuteSpend_RetryReusesStagedUnits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	source := fakeAddress()
	h.registerAddress(t, source)
	o := createSpend(t, h, source, 500)

	h.ledger.On("GetSpendUnits", mock.Anything, source).Return(model.SpendUnits{Outputs: []string{"out-1"}}, nil).Once()
	h.ledger.On("GetBalance", mock.Anything, source).Return(int64(2000), nil)
	h.ledger.On("Send", mock.Anything, source, mock.Anything, int64(500), mock.Anything).Return("", errors.New("node unavailable")).Once()
	h.ledger.On("Send", mock.Anything, source, mock.Anything, int64(500), mock.Anything).Return("blk-2", nil).Once()

	_, err := h.engine.ExecuteSpend(ctx, o.OrderID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger: send")
	assert.Contains(t, h.order(t, o.OrderID).WalletReference.Error, "node unavailable")

	chainRef, err := h.engine.ExecuteSpend(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "blk-2", chainRef)

	stored := h.order(t, o.OrderID)
	assert.Equal(t, 2, stored.WalletReference.Count)
	assert.Empty(t, stored.WalletReference.Error)
	h.ledger.AssertNumberOfCalls(t, "GetSpendUnits", 1)
}

func TestExecuteSpend_RejectsReceiveOrders(t *testing.T) {
	h := newHarness(t)
	o := createReceiveOrder(t, h, 1000, model.ValidationAddress)

	_, err := h.engine.ExecuteSpend(context.Background(), o.OrderID)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

// beforeTxStore runs hook once, ahead of the first transaction it is asked to run.
type beforeTxStore struct {
	database.IDataSource
	hook  func()
	fired bool
}

func (s *beforeTxStore) RunTransaction(ctx context.Context, fn database.TxFunc) error {
	if !s.fired {
		s.fired = true
		s.hook()
	}
	return s.IDataSource.RunTransaction(ctx, fn)
}

func TestExecuteSpend_StopsWhenOrderClosesBeforeClaim(t *testing.T) {
	tests := []struct {
		name  string
		close func(t *testing.T, h *harness, orderID string)
	}{
		{"voided", func(t *testing.T, h *harness, orderID string) {
			_, err := h.engine.VoidOrder(context.Background(), orderID)
			require.NoError(t, err)
		}},
		{"abandoned", func(t *testing.T, h *harness, orderID string) {
			require.NoError(t, h.engine.abandonOrder(context.Background(), orderID))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			source := fakeAddress()
			h.registerAddress(t, source)
			o := createSpend(t, h, source, 500)

			h.engine.datasource = &beforeTxStore{
				IDataSource: h.engine.datasource,
				hook:        func() { tt.close(t, h, o.OrderID) },
			}

			_, err := h.engine.ExecuteSpend(context.Background(), o.OrderID)
			assert.True(t, apierror.Is(err, apierror.ErrMaxRetriesExceeded), "got %v", err)

			stored := h.order(t, o.OrderID)
			assert.False(t, stored.ShouldRetry)
			assert.False(t, stored.WalletReference.InProgress)
			assert.Equal(t, 0, stored.WalletReference.Count)
			assert.Empty(t, h.mnemonic(t, source).LockedBy)
			h.ledger.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}
