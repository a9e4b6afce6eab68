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

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedOrder struct {
	ID         string `json:"id"`
	Reconciled bool   `json:"reconciled"`
}

func newTestCache(t *testing.T) *RedisCache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client)
}

func TestRedisCache_SetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "order:ord_1", cachedOrder{ID: "ord_1", Reconciled: true}, time.Hour))

	var got cachedOrder
	found, err := c.Get(ctx, "order:ord_1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, cachedOrder{ID: "ord_1", Reconciled: true}, got)
}

func TestRedisCache_Miss(t *testing.T) {
	c := newTestCache(t)

	var got cachedOrder
	found, err := c.Get(context.Background(), "order:missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, got.ID)
}

func TestRedisCache_Delete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "order:ord_1", cachedOrder{ID: "ord_1"}, time.Hour))
	require.NoError(t, c.Delete(ctx, "order:ord_1"))
	require.NoError(t, c.Delete(ctx, "order:never-set"))

	var got cachedOrder
	found, err := c.Get(ctx, "order:ord_1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
