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

	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/model"
)

// CreateAward stores an award. Its XP budget must split evenly over the
// badges it can issue.
func (e *Engine) CreateAward(ctx context.Context, award model.Award) (*model.Award, error) {
	ctx, span := tracer.Start(ctx, "CreateAward")
	defer span.End()

	if award.Space == "" {
		return nil, invalidInput("award space is required")
	}
	if award.Capacity <= 0 {
		return nil, invalidInput("award capacity must be positive")
	}
	if award.Badge.TotalXp < 0 || award.Badge.TotalXp%award.Capacity != 0 {
		return nil, invalidInput("award xp must divide evenly across its badges")
	}
	if award.AwardID == "" {
		award.AwardID = model.GenerateUUIDWithSuffix("award")
	}
	now := e.now()
	award.Badge.XpPerBadge = award.Badge.TotalXp / award.Capacity
	award.Issued = 0
	award.CreatedAt, award.UpdatedAt = now, now

	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		return tx.Create(model.CollectionAwards, award.AwardID, &award)
	})
	if err != nil {
		return nil, err
	}
	return &award, nil
}

// IssueBadge hands the next badge of an award to member and credits its XP to
// the member's reputation in the award's space. A member holds at most one
// badge per award.
func (e *Engine) IssueBadge(ctx context.Context, awardID, member string) (*model.Badge, error) {
	ctx, span := tracer.Start(ctx, "IssueBadge")
	defer span.End()

	if member == "" {
		return nil, invalidInput("member is required")
	}

	var badge *model.Badge
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		now := e.now()
		badgeID := model.CompositeID(awardID, member)
		var existing model.Badge
		found, err := tx.Get(model.CollectionBadges, badgeID, &existing)
		if err != nil {
			return err
		}
		if found {
			return invalidInput("member " + member + " already holds a badge of award " + awardID)
		}

		award, err := updateTallyTx(tx, model.CollectionAwards, awardID, func(a *model.Award, exists bool) error {
			if !exists {
				return apierror.NewAPIError(apierror.ErrNotFound, "award not found: "+awardID, nil)
			}
			return a.Issue(now)
		})
		if err != nil {
			return err
		}

		_, err = updateTallyTx(tx, model.CollectionReputation, model.CompositeID(award.Space, member), func(r *model.Reputation, exists bool) error {
			r.Space, r.Member = award.Space, member
			r.TotalXp += award.Badge.XpPerBadge
			r.Badges++
			r.UpdatedAt = now
			return nil
		})
		if err != nil {
			return err
		}

		badge = &model.Badge{
			BadgeID:   badgeID,
			Award:     awardID,
			Space:     award.Space,
			Member:    member,
			Xp:        award.Badge.XpPerBadge,
			Index:     award.Issued,
			CreatedAt: now,
		}
		return tx.Create(model.CollectionBadges, badgeID, badge)
	})
	if err != nil {
		return nil, err
	}
	return badge, nil
}

func (e *Engine) GetReputation(ctx context.Context, space, member string) (*model.Reputation, error) {
	rep := model.Reputation{Space: space, Member: member}
	if _, err := e.datasource.Get(ctx, model.CollectionReputation, model.CompositeID(space, member), &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}
