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
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/ledger"
	"github.com/soonaverse/settle/model"
)

const (
	// maxOrderGenerations bounds how many closed orders one probe walks past.
	maxOrderGenerations = 100
	reconciledOrderTTL  = 24 * time.Hour
)

// Webhook events.
const (
	EventOrderCreated   = "order.created"
	EventOrderConfirmed = "order.confirmed"
	EventOrderVoid      = "order.void"
	EventOrderExpired   = "order.expired"
	EventOrderAbandoned = "order.abandoned"
	EventOrderRefunded  = "order.refunded"
)

// OrderGuard runs inside the transaction that creates an order and can veto
// the creation, for example when the resource is reserved by another order.
type OrderGuard func(tx database.Tx, order *model.Order) error

// derivedKinds get deterministic ids so that an actor holds at most one open
// order per resource.
func isDerived(kind model.OrderKind) bool {
	switch kind {
	case model.KindOrder, model.KindStake, model.KindVote:
		return true
	}
	return false
}

func invalidInput(message string) error {
	return apierror.NewAPIError(apierror.ErrInvalidInput, message, nil)
}

func orderKey(id string) string {
	return "order:" + id
}

func (e *Engine) validateOrder(kind model.OrderKind, actor string, network model.Network, payload *model.OrderPayload) error {
	if !kind.Valid() {
		return invalidInput("unknown order kind " + string(kind))
	}
	if actor == "" {
		return invalidInput("actor is required")
	}
	if e.network(network).Denomination <= 0 {
		return invalidInput("unknown network " + string(network))
	}
	if payload.Amount <= 0 {
		return invalidInput("amount must be positive")
	}
	if kind.IsSpend() {
		if payload.SourceAddress == "" || payload.TargetAddress == "" {
			return invalidInput("spend orders need a source and a target address")
		}
		return nil
	}
	switch payload.ValidationType {
	case "":
		payload.ValidationType = model.ValidationAddressAndAmount
	case model.ValidationAddress, model.ValidationAddressAndAmount:
	default:
		return invalidInput("unknown validation type " + string(payload.ValidationType))
	}
	return nil
}

func (e *Engine) newOrder(kind model.OrderKind, actor, resource string, network model.Network, payload model.OrderPayload, now time.Time) *model.Order {
	if !kind.IsSpend() && payload.ExpiresAt.IsZero() {
		payload.ExpiresAt = now.Add(time.Duration(e.config.Orders.ExpiresInSec) * time.Second)
	}
	return &model.Order{
		Kind:         kind,
		Actor:        actor,
		Resource:     resource,
		Network:      network,
		Payload:      payload,
		LinkedOrders: []string{},
		ShouldRetry:  kind.IsSpend(),
		WalletReference: model.WalletReference{
			ChainReferences: []string{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// newMnemonic builds the record of a fresh address, tokenizing its secret when
// a tokenization secret is configured.
func (e *Engine) newMnemonic(spendable ledger.SpendableAddress, network model.Network, now time.Time) (*model.Mnemonic, error) {
	secret := spendable.Secret
	if e.tokenizer != nil {
		var err error
		if secret, err = e.tokenizer.Tokenize(secret); err != nil {
			return nil, errors.Wrap(err, "tokenize address secret")
		}
	}
	return &model.Mnemonic{
		Address:                spendable.Address,
		Network:                network,
		Secret:                 secret,
		ConsumedOutputIds:      []string{},
		ConsumedNftOutputIds:   []string{},
		ConsumedAliasOutputIds: []string{},
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

// CreateOrder records a payment intent.
//
// Receive kinds that are derived per actor and resource (ORDER, STAKE, VOTE)
// are idempotent: while an open order exists for the pair it is returned
// unchanged. Receive orders without a target address get a fresh address from
// the ledger. Spend orders are queued for execution once stored.
//
// Parameters:
// - kind: the order kind.
// - actor, resource: who pays and what for.
// - network: the value-transfer network the order settles on.
// - payload: amounts, addresses and kind specific fields.
// - guards: checks run in the creation transaction.
//
// Returns:
// - *model.Order: the created or already open order.
// - error: INVALID_INPUT for malformed requests, or whatever a guard returned.
func (e *Engine) CreateOrder(ctx context.Context, kind model.OrderKind, actor, resource string, network model.Network, payload model.OrderPayload, guards ...OrderGuard) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()

	if err := e.validateOrder(kind, actor, network, &payload); err != nil {
		return nil, err
	}

	now := e.now()
	if isDerived(kind) {
		existing, err := e.openOrder(ctx, kind, actor, resource, now)
		if err != nil || existing != nil {
			return existing, err
		}
	}
	order := e.newOrder(kind, actor, resource, network, payload, now)

	var mnemonic *model.Mnemonic
	if !kind.IsSpend() && order.Payload.TargetAddress == "" {
		spendable, err := e.ledger.NewSpendableAddress(ctx, network)
		if err != nil {
			return nil, errors.Wrap(err, "ledger: new spendable address")
		}
		order.Payload.TargetAddress = spendable.Address
		if mnemonic, err = e.newMnemonic(spendable, network, now); err != nil {
			return nil, err
		}
	}
	if !isDerived(kind) {
		order.OrderID = model.GenerateUUIDWithSuffix("ord")
	}

	var result *model.Order
	var created bool
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		result, created = nil, false
		candidate := *order

		if isDerived(kind) {
			existing, id, err := probeOrderTx(tx, kind, actor, resource, now)
			if err != nil {
				return err
			}
			if existing != nil {
				result = existing
				return nil
			}
			candidate.OrderID = id
		}

		for _, guard := range guards {
			if err := guard(tx, &candidate); err != nil {
				return err
			}
		}
		if mnemonic != nil {
			if err := tx.Create(model.CollectionMnemonics, mnemonic.Address, mnemonic); err != nil {
				return err
			}
		}
		if err := tx.Create(model.CollectionOrders, candidate.OrderID, &candidate); err != nil {
			return err
		}
		result, created = &candidate, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		e.afterOrderCreated(ctx, result)
	}
	return result, nil
}

func (e *Engine) afterOrderCreated(ctx context.Context, order *model.Order) {
	if order.Kind.IsSpend() {
		if err := e.queue.EnqueueSpend(ctx, order.OrderID); err != nil {
			logrus.Warnf("spend %s not queued, reconciliation will pick it up: %v", order.OrderID, err)
		}
	}
	e.sendWebhook(ctx, EventOrderCreated, order)
}

// openOrder returns the open derived order of actor on resource, if any.
func (e *Engine) openOrder(ctx context.Context, kind model.OrderKind, actor, resource string, now time.Time) (*model.Order, error) {
	var existing *model.Order
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		var err error
		existing, _, err = probeOrderTx(tx, kind, actor, resource, now)
		return err
	})
	return existing, err
}

// probeOrderTx walks the generations of a derived order id. It returns the
// open order if there is one, otherwise the id the next order should take.
func probeOrderTx(tx database.Tx, kind model.OrderKind, actor, resource string, now time.Time) (*model.Order, string, error) {
	headID := model.OrderHeadID(kind, actor, resource)
	var head model.OrderHead
	if _, err := tx.Get(model.CollectionOrderHeads, headID, &head); err != nil {
		return nil, "", err
	}

	for gen := head.Generation; gen < head.Generation+maxOrderGenerations; gen++ {
		id := model.DeriveOrderID(kind, actor, resource, gen)
		var existing model.Order
		found, err := tx.Get(model.CollectionOrders, id, &existing)
		if err != nil {
			return nil, "", err
		}
		if found && !existing.IsOpen(now) {
			continue
		}
		if gen != head.Generation {
			head = model.OrderHead{ID: headID, Generation: gen, UpdatedAt: now}
			if err := tx.Set(model.CollectionOrderHeads, headID, &head); err != nil {
				return nil, "", err
			}
		}
		if found {
			return &existing, id, nil
		}
		return nil, id, nil
	}
	return nil, "", invalidInput("too many closed orders for this actor and resource")
}

// GetOrder loads an order. Reconciled orders never change and are served from
// the cache when one is configured.
func (e *Engine) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "GetOrder")
	defer span.End()

	if e.cache != nil {
		var cached model.Order
		found, err := e.cache.Get(ctx, orderKey(id), &cached)
		if err != nil {
			logrus.Warnf("order cache read failed for %s: %v", id, err)
		} else if found {
			return &cached, nil
		}
	}

	var order model.Order
	found, err := e.datasource.Get(ctx, model.CollectionOrders, id, &order)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "order not found: "+id, nil)
	}
	if order.Payload.Reconciled {
		e.cacheOrder(ctx, &order)
	}
	return &order, nil
}

func (e *Engine) cacheOrder(ctx context.Context, order *model.Order) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, orderKey(order.OrderID), order, reconciledOrderTTL); err != nil {
		logrus.Warnf("order cache write failed for %s: %v", order.OrderID, err)
	}
}

func getOrderTx(tx database.Tx, id string) (*model.Order, error) {
	var order model.Order
	found, err := tx.Get(model.CollectionOrders, id, &order)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "order not found: "+id, nil)
	}
	return &order, nil
}

func alreadyReconciled(id string) error {
	return apierror.NewAPIError(apierror.ErrAlreadyReconciled, "order "+id+" is already reconciled", nil)
}

// MarkAttempt records an outgoing attempt reported by the ledger watcher.
func (e *Engine) MarkAttempt(ctx context.Context, id, chainRef string) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "MarkAttempt")
	defer span.End()

	var result *model.Order
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		order, err := getOrderTx(tx, id)
		if err != nil {
			return err
		}
		if order.Payload.Reconciled {
			return alreadyReconciled(id)
		}
		if order.Payload.Void {
			return invalidInput("order " + id + " is void")
		}
		now := e.now()
		order.RecordAttempt(now)
		if chainRef != "" {
			order.RecordChainReference(chainRef, now)
		}
		result = order
		return tx.Set(model.CollectionOrders, id, order)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkConfirmed settles an order by chainRef. Confirming again with the same
// reference returns the order unchanged; a different reference is refused with
// ALREADY_RECONCILED. The source address lock of a spend is released in the
// same transaction.
func (e *Engine) MarkConfirmed(ctx context.Context, id, chainRef string) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "MarkConfirmed")
	defer span.End()

	var result *model.Order
	var replay bool
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		replay = false
		order, err := getOrderTx(tx, id)
		if err != nil {
			return err
		}
		if order.WalletReference.Confirmed {
			if chainRef == "" || order.WalletReference.ChainReference == chainRef {
				result, replay = order, true
				return nil
			}
			return alreadyReconciled(id)
		}
		if order.Payload.Void {
			return invalidInput("order " + id + " is void")
		}

		now := e.now()
		order.Confirm(chainRef, now)
		if order.Kind.IsSpend() && order.Payload.SourceAddress != "" {
			if err := releaseLockTx(tx, order.Payload.SourceAddress, order.OrderID, now); err != nil {
				return err
			}
		}
		result = order
		return tx.Set(model.CollectionOrders, id, order)
	})
	if err != nil {
		return nil, err
	}

	if !replay {
		e.cacheOrder(ctx, result)
		e.sendWebhook(ctx, EventOrderConfirmed, result)
	}
	return result, nil
}

// VoidOrder cancels an order that has not settled and frees what it reserved.
func (e *Engine) VoidOrder(ctx context.Context, id string) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "VoidOrder")
	defer span.End()

	var result *model.Order
	var changed bool
	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		changed = false
		order, err := getOrderTx(tx, id)
		if err != nil {
			return err
		}
		if order.Payload.Reconciled || order.WalletReference.Confirmed {
			return alreadyReconciled(id)
		}
		if order.Payload.Void {
			result = order
			return nil
		}
		if order.WalletReference.InProgress {
			return invalidInput("order " + id + " has a transfer in flight")
		}
		if err := voidOrderTx(tx, order, e.now()); err != nil {
			return err
		}
		result, changed = order, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.sendWebhook(ctx, EventOrderVoid, result)
	}
	return result, nil
}

func voidOrderTx(tx database.Tx, order *model.Order, now time.Time) error {
	order.Payload.Void = true
	order.ShouldRetry = false
	order.UpdatedAt = now
	if order.Payload.Nft != "" {
		if err := releaseNftTx(tx, order.Payload.Nft, order.OrderID, now); err != nil {
			return err
		}
	}
	if order.Kind.IsSpend() && order.Payload.SourceAddress != "" {
		if err := releaseLockTx(tx, order.Payload.SourceAddress, order.OrderID, now); err != nil {
			return err
		}
	}
	return tx.Set(model.CollectionOrders, order.OrderID, order)
}

func validateTransfer(transfer model.IncomingTransfer) error {
	if transfer.TargetAddress == "" {
		return invalidInput("transfer target address is required")
	}
	if transfer.ChainReference == "" {
		return invalidInput("transfer chain reference is required")
	}
	if transfer.Amount <= 0 {
		return invalidInput("transfer amount must be positive")
	}
	return nil
}

// pickCandidate prefers an order this transfer already settled, then an open
// one, then anything else at the address.
func pickCandidate(orders []model.Order, transfer model.IncomingTransfer) *model.Order {
	for i := range orders {
		o := &orders[i]
		if !o.Kind.IsSpend() && o.WalletReference.Confirmed && o.WalletReference.ChainReference == transfer.ChainReference {
			return o
		}
	}
	var fallback *model.Order
	for i := range orders {
		o := &orders[i]
		if o.Kind.IsSpend() {
			continue
		}
		if !o.Payload.Reconciled && !o.Payload.Void {
			return o
		}
		if fallback == nil {
			fallback = o
		}
	}
	return fallback
}

func refundOrderID(transfer model.IncomingTransfer) string {
	return model.DeriveOrderID(model.KindCredit, transfer.ChainReference, transfer.TargetAddress, 0)
}

func newRefundOrder(transfer model.IncomingTransfer, network model.Network, sourceOrder, reason string, now time.Time) *model.Order {
	return &model.Order{
		OrderID:  refundOrderID(transfer),
		Kind:     model.KindCredit,
		Actor:    transfer.SenderAddress,
		Resource: transfer.ChainReference,
		Network:  network,
		Payload: model.OrderPayload{
			Amount:         transfer.Amount,
			SourceAddress:  transfer.TargetAddress,
			TargetAddress:  transfer.SenderAddress,
			ValidationType: model.ValidationAddress,
			SourceOrder:    sourceOrder,
			Reason:         reason,
		},
		LinkedOrders:    []string{},
		ShouldRetry:     true,
		WalletReference: model.WalletReference{ChainReferences: []string{}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// createOrderOnceTx creates order unless one with its id already exists.
func createOrderOnceTx(tx database.Tx, order *model.Order) (bool, error) {
	var existing model.Order
	found, err := tx.Get(model.CollectionOrders, order.OrderID, &existing)
	if err != nil || found {
		return false, err
	}
	return true, tx.Create(model.CollectionOrders, order.OrderID, order)
}

// MatchIncoming settles the open receive order waiting at the transfer's
// target address.
//
// A void order, or an ADDRESS_AND_AMOUNT order receiving a different amount,
// yields NO_MATCH and nothing is written. An expired order is voided and a
// CREDIT refund to the sender is created in the same transaction; the caller
// gets EXPIRED. Otherwise the order is confirmed and the handler registered
// for its kind runs in the same transaction.
func (e *Engine) MatchIncoming(ctx context.Context, transfer model.IncomingTransfer) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "MatchIncoming")
	defer span.End()

	if err := validateTransfer(transfer); err != nil {
		return nil, err
	}

	var candidates []model.Order
	err := e.datasource.Query(ctx, model.CollectionOrders, database.Filter{"payload.target_address": transfer.TargetAddress}, 0, &candidates)
	if err != nil {
		return nil, err
	}
	candidate := pickCandidate(candidates, transfer)
	if candidate == nil {
		return nil, apierror.NewAPIError(apierror.ErrNoMatch, "no order waits at "+transfer.TargetAddress, nil)
	}

	var (
		result     *model.Order
		refund     *model.Order
		settlement *Settlement
		replay     bool
		expired    bool
	)
	err = e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		result, refund, settlement, replay, expired = nil, nil, nil, false, false
		now := e.now()

		order, err := getOrderTx(tx, candidate.OrderID)
		if err != nil {
			return err
		}
		if order.WalletReference.Confirmed {
			if order.WalletReference.ChainReference == transfer.ChainReference {
				result, replay = order, true
				return nil
			}
			return alreadyReconciled(order.OrderID)
		}
		if order.Payload.Void {
			return apierror.NewAPIError(apierror.ErrNoMatch, "order "+order.OrderID+" is void", nil)
		}

		if order.IsExpired(now) {
			expired = true
			candidateRefund := newRefundOrder(transfer, order.Network, order.OrderID, model.CreditReasonExpired, now)
			created, err := createOrderOnceTx(tx, candidateRefund)
			if err != nil {
				return err
			}
			if created {
				refund = candidateRefund
			}
			order.LinkedOrders = append(order.LinkedOrders, candidateRefund.OrderID)
			result = order
			return voidOrderTx(tx, order, now)
		}

		if !order.AcceptsAmount(transfer.Amount) {
			return apierror.NewAPIError(apierror.ErrNoMatch, "transfer amount does not match order "+order.OrderID, nil)
		}

		order.Payload.SenderAddress = transfer.SenderAddress
		order.Payload.ReceivedAmount = transfer.Amount
		order.Confirm(transfer.ChainReference, now)

		settlement = &Settlement{Tx: tx, Order: order, Transfer: transfer, Now: now}
		if handler := e.handler(order.Kind); handler != nil {
			if err := handler(ctx, settlement); err != nil {
				return err
			}
		}
		result = order
		return tx.Set(model.CollectionOrders, order.OrderID, order)
	})
	if err != nil {
		return nil, err
	}

	if replay {
		return result, nil
	}
	if expired {
		if refund != nil {
			e.afterOrderCreated(ctx, refund)
			e.sendWebhook(ctx, EventOrderRefunded, refund)
		}
		e.sendWebhook(ctx, EventOrderExpired, result)
		return result, apierror.NewAPIError(apierror.ErrExpired, "order "+result.OrderID+" expired, transfer refunded", nil)
	}

	for _, fn := range settlement.afterCommit {
		fn(ctx)
	}
	e.cacheOrder(ctx, result)
	e.sendWebhook(ctx, EventOrderConfirmed, result)
	return result, nil
}

// RefundTransfer sends an unmatched incoming transfer back to its sender with
// a CREDIT order. Refunding the same transfer twice returns the first refund.
func (e *Engine) RefundTransfer(ctx context.Context, transfer model.IncomingTransfer, reason string) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "RefundTransfer")
	defer span.End()

	if err := validateTransfer(transfer); err != nil {
		return nil, err
	}
	if transfer.SenderAddress == "" {
		return nil, invalidInput("transfer sender address is required for a refund")
	}
	if reason == "" {
		reason = model.CreditReasonAmountMismatch
	}

	mnemonic, err := e.GetMnemonic(ctx, transfer.TargetAddress)
	if err != nil {
		return nil, err
	}

	var candidates []model.Order
	err = e.datasource.Query(ctx, model.CollectionOrders, database.Filter{"payload.target_address": transfer.TargetAddress}, 0, &candidates)
	if err != nil {
		return nil, err
	}
	sourceOrder := ""
	for _, o := range candidates {
		if o.WalletReference.Confirmed && o.WalletReference.ChainReference == transfer.ChainReference {
			return nil, invalidInput("transfer already settled order " + o.OrderID)
		}
		if !o.Kind.IsSpend() && sourceOrder == "" {
			sourceOrder = o.OrderID
		}
	}

	refund := newRefundOrder(transfer, mnemonic.Network, sourceOrder, reason, e.now())
	var created bool
	err = e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		var err error
		created, err = createOrderOnceTx(tx, refund)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return e.GetOrder(ctx, refund.OrderID)
	}
	e.afterOrderCreated(ctx, refund)
	e.sendWebhook(ctx, EventOrderRefunded, refund)
	return refund, nil
}
