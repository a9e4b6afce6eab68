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

package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "settle"
	redisMGetBatch = 200
)

// RedisStore keeps one key per document plus a set of ids per collection.
// Transactions WATCH every key they read and commit with MULTI/EXEC.
type RedisStore struct {
	client     redis.UniversalClient
	maxRetries int
}

func NewRedisStore(client redis.UniversalClient, maxRetries int) *RedisStore {
	return &RedisStore{client: client, maxRetries: maxRetries}
}

func documentKey(collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, collection, id)
}

func collectionKey(collection string) string {
	return fmt.Sprintf("%s:%s:_ids", redisKeyPrefix, collection)
}

func isRedisRetryable(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}

func (s *RedisStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return runWithRetry(ctx, s.maxRetries, isRedisRetryable, func() error {
		return s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{ctx: ctx, rtx: rtx, writes: map[string]*pendingWrite{}, watched: map[string]bool{}}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return tx.commit()
		})
	})
}

func (s *RedisStore) Get(ctx context.Context, collection, id string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, documentKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// Query scans the collection's id set and filters documents client side.
func (s *RedisStore) Query(ctx context.Context, collection string, filter Filter, limit int, dest interface{}) error {
	ids, err := s.client.SMembers(ctx, collectionKey(collection)).Result()
	if err != nil {
		return err
	}
	sort.Strings(ids)

	var docs [][]byte
	for start := 0; start < len(ids); start += redisMGetBatch {
		end := start + redisMGetBatch
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, documentKey(collection, id))
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for _, value := range values {
			raw, ok := value.(string)
			if !ok {
				continue
			}
			ok, err := matches([]byte(raw), filter)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			docs = append(docs, []byte(raw))
			if limit > 0 && len(docs) == limit {
				return decodeAll(docs, dest)
			}
		}
	}
	return decodeAll(docs, dest)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type pendingWrite struct {
	collection string
	id         string
	data       []byte
	deleted    bool
}

type redisTx struct {
	ctx     context.Context
	rtx     *redis.Tx
	writes  map[string]*pendingWrite
	watched map[string]bool
	order   []string
}

// watch WATCHes key once per attempt. Watching it again could move the
// version the commit is checked against past a concurrent write.
func (t *redisTx) watch(key string) error {
	if t.watched[key] {
		return nil
	}
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		return err
	}
	t.watched[key] = true
	return nil
}

// read returns the document as this transaction sees it, own writes included.
func (t *redisTx) read(collection, id string) ([]byte, bool, error) {
	key := documentKey(collection, id)
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return w.data, true, nil
	}
	if err := t.watch(key); err != nil {
		return nil, false, err
	}
	data, err := t.rtx.Get(t.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (t *redisTx) stage(w *pendingWrite) {
	key := documentKey(w.collection, w.id)
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = w
}

func (t *redisTx) Get(collection, id string, dest interface{}) (bool, error) {
	data, found, err := t.read(collection, id)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return true, nil
}

func (t *redisTx) Set(collection, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	// watched so that two blind writers of the same key still conflict
	if err := t.watch(documentKey(collection, id)); err != nil {
		return err
	}
	t.stage(&pendingWrite{collection: collection, id: id, data: data})
	return nil
}

func (t *redisTx) Create(collection, id string, doc interface{}) error {
	_, found, err := t.read(collection, id)
	if err != nil {
		return err
	}
	if found {
		return conflictError(collection, id)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	t.stage(&pendingWrite{collection: collection, id: id, data: data})
	return nil
}

func (t *redisTx) Delete(collection, id string) error {
	if err := t.watch(documentKey(collection, id)); err != nil {
		return err
	}
	t.stage(&pendingWrite{collection: collection, id: id, deleted: true})
	return nil
}

func (t *redisTx) commit() error {
	if len(t.order) == 0 {
		return nil
	}
	_, err := t.rtx.TxPipelined(t.ctx, func(pipe redis.Pipeliner) error {
		for _, key := range t.order {
			w := t.writes[key]
			if w.deleted {
				pipe.Del(t.ctx, key)
				pipe.SRem(t.ctx, collectionKey(w.collection), w.id)
				continue
			}
			pipe.Set(t.ctx, key, w.data, 0)
			pipe.SAdd(t.ctx, collectionKey(w.collection), w.id)
		}
		return nil
	})
	return err
}
