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

	"github.com/pkg/errors"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/internal/tokenization"
	"github.com/soonaverse/settle/model"
)

// RegisterAddress asks the ledger for a new spendable address and stores its
// mnemonic record, unlocked.
func (e *Engine) RegisterAddress(ctx context.Context, network model.Network) (*model.Mnemonic, error) {
	ctx, span := tracer.Start(ctx, "RegisterAddress")
	defer span.End()

	spendable, err := e.ledger.NewSpendableAddress(ctx, network)
	if err != nil {
		return nil, errors.Wrap(err, "ledger: new spendable address")
	}

	mnemonic, err := e.newMnemonic(spendable, network, e.now())
	if err != nil {
		return nil, err
	}
	err = e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		return tx.Create(model.CollectionMnemonics, mnemonic.Address, mnemonic)
	})
	if err != nil {
		return nil, err
	}
	return mnemonic, nil
}

// AcquireLock reserves address for orderID. Re-acquiring by the holder is a
// no-op; any other order gets ALREADY_LOCKED.
func (e *Engine) AcquireLock(ctx context.Context, address, orderID string) error {
	ctx, span := tracer.Start(ctx, "AcquireLock")
	defer span.End()

	return e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		_, err := acquireLockTx(tx, address, orderID, e.now())
		return err
	})
}

// ReleaseLock unconditionally releases address and clears its staged units.
func (e *Engine) ReleaseLock(ctx context.Context, address string) error {
	ctx, span := tracer.Start(ctx, "ReleaseLock")
	defer span.End()

	return e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		return releaseLockTx(tx, address, "", e.now())
	})
}

// RecordConsumedUnits stages the units the holding order is about to spend.
func (e *Engine) RecordConsumedUnits(ctx context.Context, address, orderID string, units model.SpendUnits) error {
	return e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		m, err := getMnemonicTx(tx, address)
		if err != nil {
			return err
		}
		if m.LockedBy != orderID {
			return apierror.NewAPIError(apierror.ErrAlreadyLocked, "address is not locked by order "+orderID, nil)
		}
		m.ConsumedOutputIds = nonNil(units.Outputs)
		m.ConsumedNftOutputIds = nonNil(units.NftOutputs)
		m.ConsumedAliasOutputIds = nonNil(units.AliasOutputs)
		m.UpdatedAt = e.now()
		return tx.Set(model.CollectionMnemonics, address, m)
	})
}

// ClearConsumedUnits drops the staged units without touching the lock.
func (e *Engine) ClearConsumedUnits(ctx context.Context, address string) error {
	return e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		m, err := getMnemonicTx(tx, address)
		if err != nil {
			return err
		}
		m.ConsumedOutputIds = []string{}
		m.ConsumedNftOutputIds = []string{}
		m.ConsumedAliasOutputIds = []string{}
		m.UpdatedAt = e.now()
		return tx.Set(model.CollectionMnemonics, address, m)
	})
}

func (e *Engine) GetMnemonic(ctx context.Context, address string) (*model.Mnemonic, error) {
	var m model.Mnemonic
	found, err := e.datasource.Get(ctx, model.CollectionMnemonics, address, &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "no mnemonic for address "+address, nil)
	}
	return &m, nil
}

// RevealSecret returns the plain secret of address, detokenizing it when the
// record was sealed.
func (e *Engine) RevealSecret(ctx context.Context, address string) (string, error) {
	m, err := e.GetMnemonic(ctx, address)
	if err != nil {
		return "", err
	}
	if !tokenization.IsToken(m.Secret) {
		return m.Secret, nil
	}
	if e.tokenizer == nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "secret of "+address+" is tokenized but no tokenization secret is configured", nil)
	}
	secret, err := e.tokenizer.Detokenize(m.Secret)
	if err != nil {
		return "", errors.Wrap(err, "detokenize address secret")
	}
	return secret, nil
}

func getMnemonicTx(tx database.Tx, address string) (*model.Mnemonic, error) {
	var m model.Mnemonic
	found, err := tx.Get(model.CollectionMnemonics, address, &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "no mnemonic for address "+address, nil)
	}
	return &m, nil
}

func acquireLockTx(tx database.Tx, address, orderID string, now time.Time) (*model.Mnemonic, error) {
	m, err := getMnemonicTx(tx, address)
	if err != nil {
		return nil, err
	}
	if !m.CanLock(orderID) {
		return nil, apierror.NewAPIError(apierror.ErrAlreadyLocked, "address "+address+" is locked by another order", nil)
	}
	if m.LockedBy == orderID {
		return m, nil
	}
	m.LockedBy = orderID
	m.UpdatedAt = now
	return m, tx.Set(model.CollectionMnemonics, address, m)
}

// releaseLockTx releases address when orderID holds it. An empty orderID
// releases whoever holds it.
func releaseLockTx(tx database.Tx, address, orderID string, now time.Time) error {
	var m model.Mnemonic
	found, err := tx.Get(model.CollectionMnemonics, address, &m)
	if err != nil || !found {
		return err
	}
	if orderID != "" && m.LockedBy != orderID {
		return nil
	}
	m.Unlock(now)
	return tx.Set(model.CollectionMnemonics, address, &m)
}

// lockNftTx reserves an NFT for orderID. A lock left behind by an order that
// is no longer open is taken over.
func lockNftTx(tx database.Tx, nftID, orderID string, now time.Time) (*model.Nft, error) {
	var nft model.Nft
	found, err := tx.Get(model.CollectionNfts, nftID, &nft)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "nft not found: "+nftID, nil)
	}
	if nft.Sold {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "nft is already sold", nil)
	}
	if nft.LockedBy == orderID {
		return &nft, nil
	}
	if nft.LockedBy != "" {
		var holder model.Order
		found, err := tx.Get(model.CollectionOrders, nft.LockedBy, &holder)
		if err != nil {
			return nil, err
		}
		if found && holder.IsOpen(now) {
			return nil, apierror.NewAPIError(apierror.ErrAlreadyLocked, "nft is reserved by another order", nil)
		}
	}
	nft.LockedBy = orderID
	nft.UpdatedAt = now
	return &nft, tx.Set(model.CollectionNfts, nftID, &nft)
}

func releaseNftTx(tx database.Tx, nftID, orderID string, now time.Time) error {
	var nft model.Nft
	found, err := tx.Get(model.CollectionNfts, nftID, &nft)
	if err != nil || !found {
		return err
	}
	if nft.LockedBy != orderID {
		return nil
	}
	nft.LockedBy = ""
	nft.UpdatedAt = now
	return tx.Set(model.CollectionNfts, nftID, &nft)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
