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
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nftFixture struct {
	collection model.Collection
	nft        model.Nft
}

func seedNft(t *testing.T, h *harness, price int64) nftFixture {
	t.Helper()
	f := nftFixture{
		collection: model.Collection{
			CollectionID: "col-1",
			Space:        "space-1",
			Name:         "Genesis",
			Discounts: []model.DiscountTier{
				{Threshold: 500, Amount: decimal.RequireFromString("0.25")},
				{Threshold: 100, Amount: decimal.RequireFromString("0.1")},
			},
			SellerAddress:  fakeAddress(),
			RoyaltyAddress: fakeAddress(),
			RoyaltyFee:     decimal.RequireFromString("0.1"),
			Total:          10,
		},
		nft: model.Nft{NftID: "nft-1", Collection: "col-1", Price: price, Network: testNetwork},
	}
	h.put(t, model.CollectionCollections, f.collection.CollectionID, &f.collection)
	h.put(t, model.CollectionNfts, f.nft.NftID, &f.nft)
	return f
}

func (h *harness) reputation(t *testing.T, member string, xp int64) {
	t.Helper()
	h.put(t, model.CollectionReputation, model.CompositeID("space-1", member), &model.Reputation{Space: "space-1", Member: member, TotalXp: xp})
}

func TestNftPrice_DiscountTiers(t *testing.T) {
	h := newHarness(t)
	f := seedNft(t, h, 1005)

	tests := []struct {
		xp    int64
		price int64
	}{
		{0, 1000},
		{99, 1000},
		{100, 900},
		{499, 900},
		{500, 750},
	}
	for _, tt := range tests {
		buyer := fmt.Sprintf("buyer-%d", tt.xp)
		h.reputation(t, buyer, tt.xp)
		price, err := h.engine.NftPrice(context.Background(), buyer, &f.nft, &f.collection)
		require.NoError(t, err)
		assert.Equal(t, tt.price, price, "xp %d", tt.xp)
	}

	cheap := f.nft
	cheap.Price = 50
	price, err := h.engine.NftPrice(context.Background(), "buyer-0", &cheap, &f.collection)
	require.NoError(t, err)
	assert.Equal(t, int64(100), price)
}

func TestOrderNft_ReservesNft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedNft(t, h, 1000)

	h.expectAddress(fakeAddress())
	first, err := h.engine.OrderNft(ctx, "buyer-1", "nft-1")
	require.NoError(t, err)
	assert.Equal(t, model.KindOrder, first.Kind)
	assert.Equal(t, int64(1000), first.Payload.Amount)
	assert.Equal(t, model.ValidationAddressAndAmount, first.Payload.ValidationType)

	var nft model.Nft
	h.get(t, model.CollectionNfts, "nft-1", &nft)
	assert.Equal(t, first.OrderID, nft.LockedBy)

	again, err := h.engine.OrderNft(ctx, "buyer-1", "nft-1")
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, again.OrderID)

	h.expectAddress(fakeAddress())
	_, err = h.engine.OrderNft(ctx, "buyer-2", "nft-1")
	assert.True(t, apierror.Is(err, apierror.ErrAlreadyLocked), "got %v", err)

	h.clock.Advance(2 * time.Hour)
	h.expectAddress(fakeAddress())
	second, err := h.engine.OrderNft(ctx, "buyer-2", "nft-1")
	require.NoError(t, err)
	h.get(t, model.CollectionNfts, "nft-1", &nft)
	assert.Equal(t, second.OrderID, nft.LockedBy)

	_, err = h.engine.OrderNft(ctx, "buyer-1", "nft-missing")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestOrderNft_ExpiryReleasesNft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedNft(t, h, 1000)

	h.expectAddress(fakeAddress())
	o, err := h.engine.OrderNft(ctx, "buyer-1", "nft-1")
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	acted, err := h.engine.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{o.OrderID}, acted)

	var nft model.Nft
	h.get(t, model.CollectionNfts, "nft-1", &nft)
	assert.Empty(t, nft.LockedBy)
}

func TestSettleNftPurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := seedNft(t, h, 1000)

	h.expectAddress(fakeAddress())
	o, err := h.engine.OrderNft(ctx, "buyer-1", "nft-1")
	require.NoError(t, err)

	settled, err := h.engine.MatchIncoming(ctx, transferTo(o, 1000, "blk-1"))
	require.NoError(t, err)

	var nft model.Nft
	h.get(t, model.CollectionNfts, "nft-1", &nft)
	assert.Equal(t, "buyer-1", nft.Owner)
	assert.True(t, nft.Sold)
	assert.Empty(t, nft.LockedBy)

	var collection model.Collection
	h.get(t, model.CollectionCollections, "col-1", &collection)
	assert.Equal(t, int64(1), collection.Sold)

	royaltyID := model.DeriveOrderID(model.KindBillPayment, o.OrderID, f.collection.RoyaltyAddress, 0)
	sellerID := model.DeriveOrderID(model.KindBillPayment, o.OrderID, f.collection.SellerAddress, 0)
	assert.Equal(t, []string{royaltyID, sellerID}, settled.LinkedOrders)

	royalty := h.order(t, royaltyID)
	assert.Equal(t, int64(100), royalty.Payload.Amount)
	assert.Equal(t, o.Payload.TargetAddress, royalty.Payload.SourceAddress)
	assert.True(t, royalty.ShouldRetry)
	seller := h.order(t, sellerID)
	assert.Equal(t, int64(900), seller.Payload.Amount)
	assert.Equal(t, f.collection.SellerAddress, seller.Payload.TargetAddress)

	spent := h.queue.spent()
	assert.Contains(t, spent, royaltyID)
	assert.Contains(t, spent, sellerID)

	_, err = h.engine.OrderNft(ctx, "buyer-2", "nft-1")
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput), "got %v", err)
}
