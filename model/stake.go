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
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinStakeWeeks = 1
	MaxStakeWeeks = 52
)

type Stake struct {
	StakeID   string          `json:"id"`
	Space     string          `json:"space"`
	Token     string          `json:"token"`
	Member    string          `json:"member"`
	Order     string          `json:"order"`
	Amount    int64           `json:"amount"`
	Weeks     int             `json:"weeks"`
	Value     decimal.Decimal `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
	Expired   bool            `json:"expired"`
	// Votes lists the proposal member records this stake currently weighs into.
	Votes     []string        `json:"votes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StakeMultiplier returns 1 + (weeks-1)/51. A one week stake counts at face
// value and a 52 week stake counts double.
func StakeMultiplier(weeks int) decimal.Decimal {
	return decimal.NewFromInt(1).Add(
		decimal.NewFromInt(int64(weeks - 1)).Div(decimal.NewFromInt(MaxStakeWeeks - 1)),
	)
}

func ValidStakeWeeks(weeks int) bool {
	return weeks >= MinStakeWeeks && weeks <= MaxStakeWeeks
}

// StakeExpiry is the moment a stake of the given length created at t ends.
func StakeExpiry(t time.Time, weeks int) time.Time {
	return t.Add(time.Duration(weeks) * 7 * 24 * time.Hour)
}

// NewStake builds the stake funded by a settled STAKE order.
func NewStake(order *Order, now time.Time) *Stake {
	weeks := order.Payload.StakeWeeks
	amount := order.Payload.ReceivedAmount
	if amount == 0 {
		amount = order.Payload.Amount
	}
	return &Stake{
		StakeID:   GenerateUUIDWithSuffix("stake"),
		Space:     order.Payload.Space,
		Token:     order.Payload.Token,
		Member:    order.Actor,
		Order:     order.OrderID,
		Amount:    amount,
		Weeks:     weeks,
		Value:     decimal.NewFromInt(amount).Mul(StakeMultiplier(weeks)),
		ExpiresAt: StakeExpiry(now, weeks),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
