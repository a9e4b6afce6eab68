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

package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Nft struct {
	NftID      string    `json:"id"`
	Collection string    `json:"collection"`
	Owner      string    `json:"owner,omitempty"`
	Price      int64     `json:"price"`
	Network    Network   `json:"network"`
	Sold       bool      `json:"sold"`
	LockedBy   string    `json:"locked_by,omitempty"`
	SoldOn     time.Time `json:"sold_on,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DiscountTier grants Amount (a fraction, 0.25 = 25%) to buyers whose reputation
// reaches Threshold.
type DiscountTier struct {
	Threshold int64           `json:"threshold"`
	Amount    decimal.Decimal `json:"amount"`
}

type Collection struct {
	CollectionID   string          `json:"id"`
	Space          string          `json:"space"`
	Name           string          `json:"name"`
	Discounts      []DiscountTier  `json:"discounts"`
	SellerAddress  string          `json:"seller_address"`
	RoyaltyAddress string          `json:"royalty_address,omitempty"`
	RoyaltyFee     decimal.Decimal `json:"royalty_fee"`
	Total          int64           `json:"total"`
	Sold           int64           `json:"sold"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DiscountFor returns the discount of the highest tier whose threshold is at or
// below reputation. Thresholds are inclusive lower bounds.
func (c *Collection) DiscountFor(reputation int64) decimal.Decimal {
	tiers := make([]DiscountTier, len(c.Discounts))
	copy(tiers, c.Discounts)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold < tiers[j].Threshold })

	discount := decimal.Zero
	for _, tier := range tiers {
		if reputation < tier.Threshold {
			break
		}
		discount = tier.Amount
	}
	return discount
}

// PriceNft applies a discount to a base price, floors the result to the
// network denomination and clamps it to the network minimum.
func PriceNft(base int64, discount decimal.Decimal, denomination, minAmount int64) int64 {
	if denomination <= 0 {
		denomination = 1
	}
	discounted := decimal.NewFromInt(base).Mul(decimal.NewFromInt(1).Sub(discount))
	floored := discounted.Div(decimal.NewFromInt(denomination)).Floor().Mul(decimal.NewFromInt(denomination)).IntPart()
	if floored < minAmount {
		return minAmount
	}
	return floored
}

// RoyaltySplit divides a sale amount into the royalty share and the seller share.
// The royalty is dropped when it falls under the network minimum.
func (c *Collection) RoyaltySplit(amount, minAmount int64) (royalty, seller int64) {
	if c.RoyaltyAddress == "" || c.RoyaltyFee.IsZero() {
		return 0, amount
	}
	royalty = decimal.NewFromInt(amount).Mul(c.RoyaltyFee).Floor().IntPart()
	if royalty < minAmount || amount-royalty < minAmount {
		return 0, amount
	}
	return royalty, amount - royalty
}
