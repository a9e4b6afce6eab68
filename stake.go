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
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/model"
)

// CreateStakeOrder opens a STAKE order. Any amount at or above the network
// minimum settles it; the stake is created when the deposit arrives.
func (e *Engine) CreateStakeOrder(ctx context.Context, member, space, token string, amount int64, weeks int, network model.Network) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "CreateStakeOrder")
	defer span.End()

	if space == "" || token == "" {
		return nil, invalidInput("space and token are required")
	}
	if !model.ValidStakeWeeks(weeks) {
		return nil, invalidInput("stake must last between 1 and 52 weeks")
	}
	if amount < e.network(network).MinAmount {
		return nil, invalidInput("stake amount is below the network minimum")
	}

	payload := model.OrderPayload{
		Amount:         amount,
		ValidationType: model.ValidationAddress,
		StakeWeeks:     weeks,
		Space:          space,
		Token:          token,
	}
	return e.CreateOrder(ctx, model.KindStake, member, model.CompositeID(space, token), network, payload)
}

// settleStake creates the stake funded by a settled STAKE order and schedules
// its expiry.
func (e *Engine) settleStake(ctx context.Context, s *Settlement) error {
	if !model.ValidStakeWeeks(s.Order.Payload.StakeWeeks) {
		return invalidInput("order " + s.Order.OrderID + " has no valid stake length")
	}
	stake := model.NewStake(s.Order, s.Now)
	if err := applyStakeTx(s.Tx, stake, stake.Amount, stake.Value, s.Now); err != nil {
		return err
	}
	if err := s.Tx.Create(model.CollectionStakes, stake.StakeID, stake); err != nil {
		return err
	}
	s.Order.LinkedOrders = append(s.Order.LinkedOrders, stake.StakeID)

	s.AfterCommit(func(ctx context.Context) {
		if err := e.queue.EnqueueStakeExpiry(ctx, stake.StakeID, stake.ExpiresAt); err != nil {
			logrus.Warnf("stake %s expiry not scheduled: %v", stake.StakeID, err)
		}
	})
	return nil
}

// applyStakeTx moves the member's stake record and the space/token aggregate
// by amount and value.
func applyStakeTx(tx database.Tx, stake *model.Stake, amount int64, value decimal.Decimal, now time.Time) error {
	memberID := model.CompositeID(stake.Space, stake.Token, stake.Member)
	var member model.StakeMember
	if _, err := tx.Get(model.CollectionStakeMembers, memberID, &member); err != nil {
		return err
	}
	member.Space, member.Token, member.Member = stake.Space, stake.Token, stake.Member
	member.UpdatedAt = now

	_, err := updateTallyTx(tx, model.CollectionStakeStats, model.CompositeID(stake.Space, stake.Token), func(stats *model.StakeStats, exists bool) error {
		stats.Space, stats.Token = stake.Space, stake.Token
		stats.UpdatedAt = now
		return stats.ApplyStake(&member, amount, value)
	})
	if err != nil {
		return err
	}
	return tx.Set(model.CollectionStakeMembers, memberID, &member)
}

func (e *Engine) GetStake(ctx context.Context, id string) (*model.Stake, error) {
	var stake model.Stake
	found, err := e.datasource.Get(ctx, model.CollectionStakes, id, &stake)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "stake not found: "+id, nil)
	}
	return &stake, nil
}

// ExpireStake removes an ended stake from the aggregates and decays the votes
// it backs. Expiring a stake twice is a no-op.
func (e *Engine) ExpireStake(ctx context.Context, id string) (*model.Stake, error) {
	ctx, span := tracer.Start(ctx, "ExpireStake")
	defer span.End()

	var result model.Stake
	var changed bool
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		changed = false
		found, err := tx.Get(model.CollectionStakes, id, &result)
		if err != nil {
			return err
		}
		if !found {
			return apierror.NewAPIError(apierror.ErrNotFound, "stake not found: "+id, nil)
		}
		if result.Expired {
			return nil
		}
		now := e.now()
		if now.Before(result.ExpiresAt) {
			return invalidInput("stake " + id + " has not expired yet")
		}
		if err := applyStakeTx(tx, &result, -result.Amount, result.Value.Neg(), now); err != nil {
			return err
		}
		result.Expired = true
		result.UpdatedAt = now
		changed = true
		return tx.Set(model.CollectionStakes, id, &result)
	})
	if err != nil {
		return nil, err
	}

	if changed && len(result.Votes) > 0 {
		if err := e.RecomputeStakeVotes(ctx, id, result.ExpiresAt); err != nil {
			return &result, err
		}
	}
	return &result, nil
}
