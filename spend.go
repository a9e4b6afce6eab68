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

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/ledger"
	"github.com/soonaverse/settle/model"
)

// ExecuteSpend runs one attempt of an outgoing transfer.
//
// The attempt is claimed together with the source address lock in one
// transaction, and only if the attempt count is still the one observed when
// the order was loaded, so overlapping runs cannot both send. Spend units
// staged by an earlier attempt are reused; otherwise fresh ones are read from
// the ledger and staged. The chain reference of a successful send is recorded
// on the order, which stays in progress until the watcher confirms it.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - orderID string: The spend order to execute.
//
// Returns:
// - string: The chain reference of the submitted transfer.
// - error: ALREADY_LOCKED when another order holds the address, CONFLICT when
// another run claimed this attempt, INSUFFICIENT_FUNDS when the address cannot
// cover the amount, or the ledger failure.
func (e *Engine) ExecuteSpend(ctx context.Context, orderID string) (string, error) {
	ctx, span := tracer.Start(ctx, "ExecuteSpend")
	defer span.End()

	order, err := e.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !order.Kind.IsSpend() {
		return "", invalidInput("order " + orderID + " is not a spend")
	}
	if order.Payload.Reconciled {
		return "", alreadyReconciled(orderID)
	}
	if order.Payload.Void || !order.ShouldRetry {
		return "", notRetried(orderID)
	}
	observed := order.WalletReference.Count
	source := order.Payload.SourceAddress

	var mnemonic *model.Mnemonic
	err = e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		current, err := getOrderTx(tx, orderID)
		if err != nil {
			return err
		}
		if current.Payload.Reconciled {
			return alreadyReconciled(orderID)
		}
		// voided or abandoned since it was loaded
		if current.Payload.Void || !current.ShouldRetry {
			return notRetried(orderID)
		}
		if current.WalletReference.Count != observed {
			return apierror.NewAPIError(apierror.ErrConflict, "attempt of order "+orderID+" was already claimed", nil)
		}
		now := e.now()
		mnemonic, err = acquireLockTx(tx, source, orderID, now)
		if err != nil {
			return err
		}
		current.RecordAttempt(now)
		order = current
		return tx.Set(model.CollectionOrders, orderID, current)
	})
	if err != nil {
		return "", err
	}

	units := mnemonic.ConsumedUnits()
	if units.IsEmpty() {
		units, err = e.ledger.GetSpendUnits(ctx, source)
		if err != nil {
			return "", e.failAttempt(ctx, orderID, errors.Wrap(err, "ledger: spend units"))
		}
		if err := e.RecordConsumedUnits(ctx, source, orderID, units); err != nil {
			return "", err
		}
	}

	balance, err := e.ledger.GetBalance(ctx, source)
	if err != nil {
		return "", e.failAttempt(ctx, orderID, errors.Wrap(err, "ledger: balance"))
	}
	if balance < order.Payload.Amount {
		return "", e.failAttempt(ctx, orderID, apierror.NewAPIError(apierror.ErrInsufficientFunds, "address "+source+" cannot cover order "+orderID, nil))
	}

	chainRef, err := e.ledger.Send(ctx, source, order.Payload.TargetAddress, order.Payload.Amount, ledger.SendOptions{
		Units:    units,
		Nft:      order.Payload.Nft,
		Metadata: map[string]interface{}{"order": orderID, "kind": string(order.Kind)},
	})
	if err != nil {
		return "", e.failAttempt(ctx, orderID, errors.Wrap(err, "ledger: send"))
	}

	err = e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		current, err := getOrderTx(tx, orderID)
		if err != nil {
			return err
		}
		if current.Payload.Reconciled {
			return nil
		}
		current.RecordChainReference(chainRef, e.now())
		return tx.Set(model.CollectionOrders, orderID, current)
	})
	if err != nil {
		return chainRef, err
	}
	logrus.Infof("order %s attempt %d submitted as %s", orderID, observed+1, chainRef)
	return chainRef, nil
}

// failAttempt stores the reason of a failed attempt on the order and returns
// cause. The order stays in progress so the scheduler retries it after backoff.
func (e *Engine) failAttempt(ctx context.Context, orderID string, cause error) error {
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		current, err := getOrderTx(tx, orderID)
		if err != nil {
			return err
		}
		if current.Payload.Reconciled {
			return nil
		}
		current.WalletReference.Error = cause.Error()
		current.UpdatedAt = e.now()
		return tx.Set(model.CollectionOrders, orderID, current)
	})
	if err != nil {
		logrus.Errorf("failed to record error on order %s: %v", orderID, err)
	}
	return cause
}

func notRetried(orderID string) error {
	return apierror.NewAPIError(apierror.ErrMaxRetriesExceeded, "order "+orderID+" is no longer retried", nil)
}
