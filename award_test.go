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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAward(xp, capacity int64) model.Award {
	return model.Award{
		Space:    "space-1",
		Name:     "Contributor",
		Badge:    model.AwardBadge{Name: "contributor", TotalXp: xp},
		Capacity: capacity,
	}
}

func TestCreateAward_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		award model.Award
	}{
		{"zero capacity", newAward(100, 0)},
		{"uneven xp", newAward(100, 3)},
		{"negative xp", newAward(-4, 2)},
		{"missing space", model.Award{Badge: model.AwardBadge{TotalXp: 10}, Capacity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.CreateAward(ctx, tt.award)
			assert.True(t, apierror.Is(err, apierror.ErrInvalidInput), "got %v", err)
		})
	}

	award, err := h.engine.CreateAward(ctx, newAward(100, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(25), award.Badge.XpPerBadge)
	assert.Equal(t, int64(0), award.Issued)
	assert.NotEmpty(t, award.AwardID)
}

func TestIssueBadge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	award, err := h.engine.CreateAward(ctx, newAward(100, 2))
	require.NoError(t, err)

	badge, err := h.engine.IssueBadge(ctx, award.AwardID, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), badge.Index)
	assert.Equal(t, int64(50), badge.Xp)

	_, err = h.engine.IssueBadge(ctx, award.AwardID, "a")
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput), "duplicate: %v", err)

	badge, err = h.engine.IssueBadge(ctx, award.AwardID, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), badge.Index)

	_, err = h.engine.IssueBadge(ctx, award.AwardID, "c")
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput), "completed: %v", err)

	_, err = h.engine.IssueBadge(ctx, "award_missing", "a")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))

	rep, err := h.engine.GetReputation(ctx, "space-1", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(50), rep.TotalXp)
	assert.Equal(t, int64(1), rep.Badges)

	rep, err = h.engine.GetReputation(ctx, "space-1", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rep.TotalXp)
}

func TestIssueBadge_ConcurrentNeverExceedsCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	award, err := h.engine.CreateAward(ctx, newAward(50, 5))
	require.NoError(t, err)

	var issued int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(member string) {
			defer wg.Done()
			_, err := h.engine.IssueBadge(context.Background(), award.AwardID, member)
			if err == nil {
				atomic.AddInt64(&issued, 1)
				return
			}
			assert.True(t, apierror.Is(err, apierror.ErrInvalidInput), "got %v", err)
		}(fmt.Sprintf("member-%d", i))
	}
	wg.Wait()

	assert.Equal(t, int64(5), issued)
	var stored model.Award
	h.get(t, model.CollectionAwards, award.AwardID, &stored)
	assert.Equal(t, int64(5), stored.Issued)
}
