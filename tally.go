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

	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/model"
)

const (
	minRank = -100
	maxRank = 100
)

// UpdateTally applies fn to the aggregate stored at collection/id in one
// transaction. fn receives the zero value and exists=false when the aggregate
// does not exist yet. Concurrent updates are serialized by the store, so every
// delta lands exactly once.
func UpdateTally[T any](ctx context.Context, e *Engine, collection, id string, fn func(current *T, exists bool) error) (*T, error) {
	ctx, span := tracer.Start(ctx, "UpdateTally")
	defer span.End()

	var result *T
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		current, err := updateTallyTx(tx, collection, id, fn)
		result = current
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func updateTallyTx[T any](tx database.Tx, collection, id string, fn func(current *T, exists bool) error) (*T, error) {
	var current T
	exists, err := tx.Get(collection, id, &current)
	if err != nil {
		return nil, err
	}
	if err := fn(&current, exists); err != nil {
		return nil, tallyError(err)
	}
	if err := tx.Set(collection, id, &current); err != nil {
		return nil, err
	}
	return &current, nil
}

func tallyError(err error) error {
	if errors.Is(err, model.ErrNegativeCount) || errors.Is(err, model.ErrNegativeWeight) || errors.Is(err, model.ErrAwardCompleted) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	return err
}

// Rank records actor's rank of resource, replacing a previous rank by the same
// actor, and returns the resource's updated aggregate.
func (e *Engine) Rank(ctx context.Context, actor, resource string, value int64) (*model.RankStats, error) {
	ctx, span := tracer.Start(ctx, "Rank")
	defer span.End()

	if actor == "" || resource == "" {
		return nil, invalidInput("actor and resource are required")
	}
	if value < minRank || value > maxRank {
		return nil, invalidInput("rank must be between -100 and 100")
	}

	var stats *model.RankStats
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		now := e.now()
		rankID := model.CompositeID(resource, actor)

		var rank model.Rank
		found, err := tx.Get(model.CollectionRanks, rankID, &rank)
		if err != nil {
			return err
		}
		var prior *int64
		if found {
			v := rank.Value
			prior = &v
		} else {
			rank = model.Rank{Resource: resource, Actor: actor, CreatedAt: now}
		}

		stats, err = updateTallyTx(tx, model.CollectionRankStats, resource, func(s *model.RankStats, exists bool) error {
			s.Resource = resource
			s.UpdatedAt = now
			return s.ApplyRank(prior, value)
		})
		if err != nil {
			return err
		}

		rank.Value = value
		rank.UpdatedAt = now
		return tx.Set(model.CollectionRanks, rankID, &rank)
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
