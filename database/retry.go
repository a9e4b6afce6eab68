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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/internal/apierror"
)

const (
	txRetryInitialInterval = 10 * time.Millisecond
	txRetryMaxInterval     = 500 * time.Millisecond
)

func newTxBackOff(ctx context.Context, maxRetries int) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = txRetryInitialInterval
	policy.MaxInterval = txRetryMaxInterval
	policy.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx)
}

// runWithRetry re-runs op while it fails with an error retryable classifies as
// a lost optimistic race. Exhausting the budget surfaces as CONFLICT.
func runWithRetry(ctx context.Context, maxRetries int, retryable func(error) bool, op func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if retryable(err) {
			logrus.Debugf("transaction attempt %d lost a write race: %v", attempt, err)
			return err
		}
		return backoff.Permanent(err)
	}, newTxBackOff(ctx, maxRetries))

	if err != nil && retryable(err) {
		return apierror.NewAPIError(apierror.ErrConflict, "transaction aborted after repeated write conflicts", err)
	}
	return err
}

func conflictError(collection, id string) error {
	return apierror.NewAPIError(apierror.ErrConflict, "document already exists: "+collection+"/"+id, nil)
}
