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

	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/model"
)

// NftPrice returns what buyer pays for nft: the base price less the discount
// the buyer's reputation in the collection's space unlocks, floored to the
// network denomination and never below the network minimum.
func (e *Engine) NftPrice(ctx context.Context, buyer string, nft *model.Nft, collection *model.Collection) (int64, error) {
	var rep model.Reputation
	if _, err := e.datasource.Get(ctx, model.CollectionReputation, model.CompositeID(collection.Space, buyer), &rep); err != nil {
		return 0, err
	}
	network := e.network(nft.Network)
	return model.PriceNft(nft.Price, collection.DiscountFor(rep.TotalXp), network.Denomination, network.MinAmount), nil
}

// OrderNft opens a purchase order for an NFT and reserves the NFT for it. An
// open order of the same buyer is returned as is; another buyer's open order
// yields ALREADY_LOCKED.
func (e *Engine) OrderNft(ctx context.Context, buyer, nftID string) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderNft")
	defer span.End()

	if buyer == "" {
		return nil, invalidInput("buyer is required")
	}
	var nft model.Nft
	found, err := e.datasource.Get(ctx, model.CollectionNfts, nftID, &nft)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "nft not found: "+nftID, nil)
	}
	if nft.Sold {
		return nil, invalidInput("nft is already sold")
	}
	var collection model.Collection
	found, err = e.datasource.Get(ctx, model.CollectionCollections, nft.Collection, &collection)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "collection not found: "+nft.Collection, nil)
	}

	price, err := e.NftPrice(ctx, buyer, &nft, &collection)
	if err != nil {
		return nil, err
	}

	payload := model.OrderPayload{
		Amount:         price,
		ValidationType: model.ValidationAddressAndAmount,
		Nft:            nftID,
		Collection:     collection.CollectionID,
		Space:          collection.Space,
	}
	return e.CreateOrder(ctx, model.KindOrder, buyer, nftID, nft.Network, payload, func(tx database.Tx, order *model.Order) error {
		_, err := lockNftTx(tx, nftID, order.OrderID, e.now())
		return err
	})
}

// settleNftPurchase hands the NFT to the buyer, counts the sale on the
// collection and creates the payouts to the royalty and seller addresses.
func (e *Engine) settleNftPurchase(ctx context.Context, s *Settlement) error {
	order := s.Order
	if order.Payload.Nft == "" {
		return nil
	}

	var nft model.Nft
	found, err := s.Tx.Get(model.CollectionNfts, order.Payload.Nft, &nft)
	if err != nil {
		return err
	}
	if !found {
		return apierror.NewAPIError(apierror.ErrNotFound, "nft not found: "+order.Payload.Nft, nil)
	}
	if nft.Sold {
		return apierror.NewAPIError(apierror.ErrConflict, "nft "+nft.NftID+" was sold by another order", nil)
	}
	nft.Owner = order.Actor
	nft.Sold = true
	nft.SoldOn = s.Now
	nft.LockedBy = ""
	nft.UpdatedAt = s.Now
	if err := s.Tx.Set(model.CollectionNfts, nft.NftID, &nft); err != nil {
		return err
	}

	collection, err := updateTallyTx(s.Tx, model.CollectionCollections, nft.Collection, func(c *model.Collection, exists bool) error {
		if !exists {
			return apierror.NewAPIError(apierror.ErrNotFound, "collection not found: "+nft.Collection, nil)
		}
		c.Sold++
		c.UpdatedAt = s.Now
		return nil
	})
	if err != nil {
		return err
	}

	network := e.network(order.Network)
	royalty, seller := collection.RoyaltySplit(order.Payload.ReceivedAmount, network.MinAmount)
	var payouts []*model.Order
	if royalty > 0 {
		payouts = append(payouts, e.newPayout(order, collection.RoyaltyAddress, royalty, s))
	}
	if seller > 0 && collection.SellerAddress != "" {
		payouts = append(payouts, e.newPayout(order, collection.SellerAddress, seller, s))
	}
	for _, payout := range payouts {
		if _, err := createOrderOnceTx(s.Tx, payout); err != nil {
			return err
		}
		order.LinkedOrders = append(order.LinkedOrders, payout.OrderID)
	}

	s.AfterCommit(func(ctx context.Context) {
		for _, payout := range payouts {
			if err := e.queue.EnqueueSpend(ctx, payout.OrderID); err != nil {
				logrus.Warnf("payout %s not queued, reconciliation will pick it up: %v", payout.OrderID, err)
			}
		}
	})
	return nil
}

// newPayout builds a BILL_PAYMENT from the purchase's receiving address. The
// id is derived from the purchase so a retried settlement writes the same one.
func (e *Engine) newPayout(order *model.Order, target string, amount int64, s *Settlement) *model.Order {
	payload := model.OrderPayload{
		Amount:         amount,
		SourceAddress:  order.Payload.TargetAddress,
		TargetAddress:  target,
		ValidationType: model.ValidationAddress,
		Collection:     order.Payload.Collection,
		SourceOrder:    order.OrderID,
	}
	payout := e.newOrder(model.KindBillPayment, order.Actor, order.Payload.Nft, order.Network, payload, s.Now)
	payout.OrderID = model.DeriveOrderID(model.KindBillPayment, order.OrderID, target, 0)
	return payout
}
