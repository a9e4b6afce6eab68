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

// Package lock provides a Redis lease that lets one replica at a time own a
// periodic job. Holding the lease is an optimization: the job itself must stay
// safe when two holders overlap after an expiry.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotHeld = errors.New("lease is not held by this owner")

const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

type Lease struct {
	client redis.UniversalClient
	key    string
	owner  string
}

func NewLease(client redis.UniversalClient, key, owner string) *Lease {
	return &Lease{client: client, key: key, owner: owner}
}

// TryAcquire takes the lease for ttl. It reports false when another owner holds it.
func (l *Lease) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
}

// Extend pushes the expiry of a lease this owner still holds.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.owner, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return ErrNotHeld
	}
	return nil
}

func (l *Lease) Release(ctx context.Context) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return ErrNotHeld
	}
	return nil
}
