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

	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receivePayload(amount int64, validation model.ValidationType) model.OrderPayload {
	return model.OrderPayload{Amount: amount, ValidationType: validation}
}

func TestCreateOrder_DerivedKindIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	address := fakeAddress()
	h.expectAddress(address)

	first, err := h.engine.CreateOrder(ctx, model.KindOrder, "member-1", "nft-1", testNetwork, receivePayload(1000, ""))
	require.NoError(t, err)
	assert.Equal(t, model.DeriveOrderID(model.KindOrder, "member-1", "nft-1", 0), first.OrderID)
	assert.Equal(t, address, first.Payload.TargetAddress)
	assert.Equal(t, model.ValidationAddressAndAmount, first.Payload.ValidationType)
	assert.False(t, first.Payload.ExpiresAt.IsZero())

	second, err := h.engine.CreateOrder(ctx, model.KindOrder, "member-1", "nft-1", testNetwork, receivePayload(1000, ""))
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, address, second.Payload.TargetAddress)

	h.ledger.AssertNumberOfCalls(t, "NewSpendableAddress", 1)
	assert.Equal(t, []string{EventOrderCreated}, h.queue.events())
	assert.Equal(t, "", h.mnemonic(t, address).LockedBy)
}

func TestCreateOrder_ConcurrentCallsShareOneOrder(t *testing.T) {
	h := newHarness(t)
	address := fakeAddress()
	const callers = 8
	for i := 0; i < callers; i++ {
		h.expectAddress(address)
	}

	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := h.engine.CreateOrder(context.Background(), model.KindStake, "member-1", "space_token", testNetwork, receivePayload(500, model.ValidationAddress))
			if assert.NoError(t, err) {
				ids[i] = o.OrderID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var created int
	for _, event := range h.queue.events() {
		if event == EventOrderCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestCreateOrder_NewGenerationAfterClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectAddress(fakeAddress())
	h.expectAddress(fakeAddress())

	first, err := h.engine.CreateOrder(ctx, model.KindVote, "member-1", "prop-1", testNetwork, receivePayload(500, model.ValidationAddress))
	require.NoError(t, err)
	_, err = h.engine.VoidOrder(ctx, first.OrderID)
	require.NoError(t, err)

	second, err := h.engine.CreateOrder(ctx, model.KindVote, "member-1", "prop-1", testNetwork, receivePayload(500, model.ValidationAddress))
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Equal(t, model.DeriveOrderID(model.KindVote, "member-1", "prop-1", 1), second.OrderID)

	var head model.OrderHead
	h.get(t, model.CollectionOrderHeads, model.OrderHeadID(model.KindVote, "member-1", "prop-1"), &head)
	assert.Equal(t, 1, head.Generation)
}

func TestCreateOrder_NonDerivedKindsGetFreshIds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectAddress(fakeAddress())
	h.expectAddress(fakeAddress())

	a, err := h.engine.CreateOrder(ctx, model.KindPayment, "member-1", "invoice-1", testNetwork, receivePayload(500, ""))
	require.NoError(t, err)
	b, err := h.engine.CreateOrder(ctx, model.KindPayment, "member-1", "invoice-1", testNetwork, receivePayload(500, ""))
	require.NoError(t, err)
	assert.NotEqual(t, a.OrderID, b.OrderID)
}

func TestCreateOrder_SpendIsQueued(t *testing.T) {
	h := newHarness(t)
	payload := model.OrderPayload{Amount: 500, SourceAddress: fakeAddress(), TargetAddress: fakeAddress()}

	o, err := h.engine.CreateOrder(context.Background(), model.KindWithdraw, "member-1", "space-1", testNetwork, payload)
	require.NoError(t, err)
	assert.True(t, o.ShouldRetry)
	assert.True(t, o.Payload.ExpiresAt.IsZero())
	assert.Equal(t, []string{o.OrderID}, h.queue.spent())
}

func TestCreateOrder_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		kind    model.OrderKind
		actor   string
		network model.Network
		payload model.OrderPayload
	}{
		{"unknown kind", model.OrderKind("GIFT"), "m", testNetwork, receivePayload(10, "")},
		{"missing actor", model.KindOrder, "", testNetwork, receivePayload(10, "")},
		{"zero amount", model.KindOrder, "m", testNetwork, receivePayload(0, "")},
		{"unknown network", model.KindOrder, "m", model.Network("btc"), receivePayload(10, "")},
		{"bad validation type", model.KindOrder, "m", testNetwork, receivePayload(10, "EXACT")},
		{"spend without source", model.KindCredit, "m", testNetwork, model.OrderPayload{Amount: 10, TargetAddress: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.CreateOrder(ctx, tt.kind, tt.actor, "r", tt.network, tt.payload)
			assert.True(t, apierror.Is(err, apierror.ErrInvalidInput), "got %v", err)
		})
	}
	h.ledger.AssertNotCalled(t, "NewSpendableAddress")
}

func createReceiveOrder(t *testing.T, h *harness, amount int64, validation model.ValidationType) *model.Order {
	t.Helper()
	h.expectAddress(fakeAddress())
	o, err := h.engine.CreateOrder(context.Background(), model.KindPayment, "member-1", "invoice-1", testNetwork, receivePayload(amount, validation))
	require.NoError(t, err)
	return o
}

func transferTo(o *model.Order, amount int64, chainRef string) model.IncomingTransfer {
	return model.IncomingTransfer{
		TargetAddress:  o.Payload.TargetAddress,
		Amount:         amount,
		SenderAddress:  "smr1sender",
		ChainReference: chainRef,
	}
}

func TestMatchIncoming_AddressAndAmountRejectsWrongAmount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := createReceiveOrder(t, h, 1000, model.ValidationAddressAndAmount)

	_, err := h.engine.MatchIncoming(ctx, transferTo(o, 900, "blk-1"))
	assert.True(t, apierror.Is(err, apierror.ErrNoMatch), "got %v", err)

	stored := h.order(t, o.OrderID)
	assert.False(t, stored.Payload.Reconciled)
	assert.False(t, stored.Payload.Void)
	assert.False(t, stored.WalletReference.Confirmed)

	matched, err := h.engine.MatchIncoming(ctx, transferTo(o, 1000, "blk-2"))
	require.NoError(t, err)
	assert.True(t, matched.Payload.Reconciled)
	assert.Equal(t, "blk-2", matched.WalletReference.ChainReference)
	assert.Equal(t, int64(1000), matched.Payload.ReceivedAmount)
	assert.Contains(t, h.queue.events(), EventOrderConfirmed)
}

func TestMatchIncoming_AddressOnlyAcceptsAnyAmount(t *testing.T) {
	h := newHarness(t)
	o := createReceiveOrder(t, h, 1000, model.ValidationAddress)

	matched, err := h.engine.MatchIncoming(context.Background(), transferTo(o, 900, "blk-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(900), matched.Payload.ReceivedAmount)
	assert.True(t, matched.WalletReference.Confirmed)
}

func TestMatchIncoming_NoDoubleConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := createReceiveOrder(t, h, 1000, model.ValidationAddressAndAmount)

	first, err := h.engine.MatchIncoming(ctx, transferTo(o, 1000, "blk-1"))
	require.NoError(t, err)

	replay, err := h.engine.MatchIncoming(ctx, transferTo(o, 1000, "blk-1"))
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, replay.OrderID)

	_, err = h.engine.MatchIncoming(ctx, transferTo(o, 1000, "blk-2"))
	assert.True(t, apierror.Is(err, apierror.ErrAlreadyReconciled), "got %v", err)

	stored := h.order(t, o.OrderID)
	assert.Equal(t, "blk-1", stored.WalletReference.ChainReference)
	assert.Equal(t, []string{"blk-1"}, stored.WalletReference.ChainReferences)
}

func TestMatchIncoming_ConcurrentTransfersConfirmOnce(t *testing.T) {
	h := newHarness(t)
	o := createReceiveOrder(t, h, 1000, model.ValidationAddressAndAmount)

	const transfers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	var confirmed int
	for i := 0; i < transfers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.MatchIncoming(context.Background(), transferTo(o, 1000, "blk-"+string(rune('a'+i))))
			if err == nil {
				mu.Lock()
				confirmed++
				mu.Unlock()
				return
			}
			assert.True(t, apierror.Is(err, apierror.ErrAlreadyReconciled), "got %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, confirmed)
	assert.Len(t, h.order(t, o.OrderID).WalletReference.ChainReferences, 1)
}

func TestMatchIncoming_ExpiredOrderRefundsSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := createReceiveOrder(t, h, 1000, model.ValidationAddressAndAmount)
	h.clock.Advance(2 * time.Hour)

	transfer := transferTo(o, 1000, "blk-late")
	result, err := h.engine.MatchIncoming(ctx, transfer)
	assert.True(t, apierror.Is(err, apierror.ErrExpired), "got %v", err)
	require.NotNil(t, result)

	stored := h.order(t, o.OrderID)
	assert.True(t, stored.Payload.Void)
	assert.False(t, stored.Payload.Reconciled)

	refund := h.order(t, refundOrderID(transfer))
	assert.Equal(t, model.KindCredit, refund.Kind)
	assert.Equal(t, o.Payload.TargetAddress, refund.Payload.SourceAddress)
	assert.Equal(t, "smr1sender", refund.Payload.TargetAddress)
	assert.Equal(t, int64(1000), refund.Payload.Amount)
	assert.Equal(t, model.CreditReasonExpired, refund.Payload.Reason)
	assert.Equal(t, o.OrderID, refund.Payload.SourceOrder)
	assert.Contains(t, stored.LinkedOrders, refund.OrderID)
	assert.Contains(t, h.queue.spent(), refund.OrderID)

	_, err = h.engine.MatchIncoming(ctx, transfer)
	assert.True(t, apierror.Is(err, apierror.ErrNoMatch), "got %v", err)
}

func TestMatchIncoming_UnknownAddress(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.MatchIncoming(context.Background(), model.IncomingTransfer{
		TargetAddress: "smr1nobody", Amount: 10, ChainReference: "blk-1",
	})
	assert.True(t, apierror.Is(err, apierror.ErrNoMatch), "got %v", err)

	_, err = h.engine.MatchIncoming(context.Background(), model.IncomingTransfer{TargetAddress: "smr1nobody", Amount: 10})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput), "got %v", err)
}

func TestMatchIncoming_HandlerFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	o := createReceiveOrder(t, h, 1000, model.ValidationAddress)
	h.engine.RegisterHandler(model.KindPayment, func(ctx context.Context, s *Settlement) error {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "refused", nil)
	})

	_, err := h.engine.MatchIncoming(context.Background(), transferTo(o, 1000, "blk-1"))
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	assert.False(t, h.order(t, o.OrderID).WalletReference.Confirmed)
}

func TestMarkConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := createReceiveOrder(t, h, 1000, model.ValidationAddress)

	confirmed, err := h.engine.MarkConfirmed(ctx, o.OrderID, "blk-1")
	require.NoError(t, err)
	assert.True(t, confirmed.Payload.Reconciled)

	again, err := h.engine.MarkConfirmed(ctx, o.OrderID, "blk-1")
	require.NoError(t, err)
	assert.Equal(t, confirmed.WalletReference.ChainReferences, again.WalletReference.ChainReferences)

	_, err = h.engine.MarkConfirmed(ctx, o.OrderID, "blk-2")
	assert.True(t, apierror.Is(err, apierror.ErrAlreadyReconciled))

	_, err = h.engine.MarkConfirmed(ctx, "ord_missing", "blk-1")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestVoidOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := createReceiveOrder(t, h, 1000, model.ValidationAddress)

	voided, err := h.engine.VoidOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.True(t, voided.Payload.Void)

	_, err = h.engine.VoidOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 1, countEvents(h.queue.events(), EventOrderVoid))

	_, err = h.engine.MarkConfirmed(ctx, o.OrderID, "blk-1")
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestRefundTransfer_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := createReceiveOrder(t, h, 1000, model.ValidationAddressAndAmount)
	transfer := transferTo(o, 900, "blk-1")

	refund, err := h.engine.RefundTransfer(ctx, transfer, "")
	require.NoError(t, err)
	assert.Equal(t, model.CreditReasonAmountMismatch, refund.Payload.Reason)
	assert.Equal(t, o.OrderID, refund.Payload.SourceOrder)

	again, err := h.engine.RefundTransfer(ctx, transfer, "")
	require.NoError(t, err)
	assert.Equal(t, refund.OrderID, again.OrderID)
	assert.Equal(t, []string{refund.OrderID}, h.queue.spent())
}

func TestGetOrder_ServesReconciledOrdersFromCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := createReceiveOrder(t, h, 1000, model.ValidationAddress)

	_, err := h.engine.GetOrder(ctx, "ord_missing")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))

	fetched, err := h.engine.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, fetched.OrderID)
}

func countEvents(events []string, event string) int {
	n := 0
	for _, e := range events {
		if e == event {
			n++
		}
	}
	return n
}
