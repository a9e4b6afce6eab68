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

package model

import (
	"time"
)

type OrderKind string

const (
	KindOrder       OrderKind = "ORDER"
	KindPayment     OrderKind = "PAYMENT"
	KindBillPayment OrderKind = "BILL_PAYMENT"
	KindCredit      OrderKind = "CREDIT"
	KindVote        OrderKind = "VOTE"
	KindMint        OrderKind = "MINT"
	KindWithdraw    OrderKind = "WITHDRAW"
	KindStake       OrderKind = "STAKE"
	KindAirdrop     OrderKind = "AIRDROP"
	KindSwap        OrderKind = "SWAP"
)

// IsSpend reports whether the kind moves funds out of a source address
// held by the engine, as opposed to waiting for an incoming transfer.
func (k OrderKind) IsSpend() bool {
	switch k {
	case KindBillPayment, KindCredit, KindWithdraw, KindMint, KindAirdrop, KindSwap:
		return true
	}
	return false
}

func (k OrderKind) Valid() bool {
	switch k {
	case KindOrder, KindPayment, KindBillPayment, KindCredit, KindVote, KindMint,
		KindWithdraw, KindStake, KindAirdrop, KindSwap:
		return true
	}
	return false
}

type Network string

const (
	NetworkIota Network = "iota"
	NetworkSmr  Network = "smr"
	NetworkRms  Network = "rms"
	NetworkAtoi Network = "atoi"
)

type ValidationType string

const (
	ValidationAddress          ValidationType = "ADDRESS"
	ValidationAddressAndAmount ValidationType = "ADDRESS_AND_AMOUNT"
)

// Credit reasons recorded on refund orders.
const (
	CreditReasonExpired        = "ORDER_EXPIRED"
	CreditReasonAmountMismatch = "AMOUNT_MISMATCH"
)

type OrderPayload struct {
	Amount         int64          `json:"amount"`
	TargetAddress  string         `json:"target_address"`
	SourceAddress  string         `json:"source_address,omitempty"`
	ValidationType ValidationType `json:"validation_type"`
	ExpiresAt      time.Time      `json:"expires_at"`
	Void           bool           `json:"void"`
	Reconciled     bool           `json:"reconciled"`

	Nft         string `json:"nft,omitempty"`
	Collection  string `json:"collection,omitempty"`
	Proposal    string `json:"proposal,omitempty"`
	VoteValue   string `json:"vote_value,omitempty"`
	StakeWeeks  int    `json:"stake_weeks,omitempty"`
	Space       string `json:"space,omitempty"`
	Token       string `json:"token,omitempty"`
	SourceOrder string `json:"source_order,omitempty"`
	Reason      string `json:"reason,omitempty"`

	// Filled when an incoming transfer settles the order.
	SenderAddress  string `json:"sender_address,omitempty"`
	ReceivedAmount int64  `json:"received_amount,omitempty"`
}

// WalletReference is the confirmation sub-record of an order.
type WalletReference struct {
	Confirmed       bool       `json:"confirmed"`
	InProgress      bool       `json:"in_progress"`
	Count           int        `json:"count"`
	ChainReference  string     `json:"chain_reference,omitempty"`
	ChainReferences []string   `json:"chain_references"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

type Order struct {
	OrderID         string                 `json:"id"`
	Kind            OrderKind              `json:"kind"`
	Actor           string                 `json:"actor"`
	Resource        string                 `json:"resource"`
	Network         Network                `json:"network"`
	Payload         OrderPayload           `json:"payload"`
	WalletReference WalletReference        `json:"wallet_reference"`
	LinkedOrders    []string               `json:"linked_orders"`
	ShouldRetry     bool                   `json:"should_retry"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

// OrderHead points at the lowest generation of a derived order id that may
// still be open, so that probing skips settled generations.
type OrderHead struct {
	ID         string    `json:"id"`
	Generation int       `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IncomingTransfer is what the ledger watcher observed on chain.
type IncomingTransfer struct {
	TargetAddress  string `json:"target_address"`
	Amount         int64  `json:"amount"`
	SenderAddress  string `json:"sender_address"`
	ChainReference string `json:"chain_reference"`
}

// IsExpired reports whether the order can no longer be matched at now.
// A zero ExpiresAt never expires.
func (o *Order) IsExpired(now time.Time) bool {
	return !o.Payload.ExpiresAt.IsZero() && !now.Before(o.Payload.ExpiresAt)
}

// IsOpen reports whether the order may still settle.
func (o *Order) IsOpen(now time.Time) bool {
	return !o.Payload.Void && !o.Payload.Reconciled && !o.IsExpired(now)
}

// AcceptsAmount applies the order's validation type to an incoming amount.
func (o *Order) AcceptsAmount(amount int64) bool {
	if amount <= 0 {
		return false
	}
	if o.Payload.ValidationType == ValidationAddressAndAmount {
		return amount == o.Payload.Amount
	}
	return true
}

// NextRetryAt returns when the current attempt may be retried under the backoff
// table. It returns false once the table is exhausted.
func (o *Order) NextRetryAt(backoff []time.Duration) (time.Time, bool) {
	count := o.WalletReference.Count
	if count <= 0 || count > len(backoff) || o.WalletReference.ProcessedAt == nil {
		return time.Time{}, false
	}
	return o.WalletReference.ProcessedAt.Add(backoff[count-1]), true
}

// RecordAttempt moves the wallet reference into a new in-flight attempt.
func (o *Order) RecordAttempt(now time.Time) {
	o.WalletReference.Count++
	o.WalletReference.InProgress = true
	o.WalletReference.ProcessedAt = &now
	o.WalletReference.Error = ""
	o.UpdatedAt = now
}

// RecordChainReference stores the reference returned for the current attempt.
func (o *Order) RecordChainReference(chainRef string, now time.Time) {
	o.WalletReference.ChainReference = chainRef
	o.WalletReference.ChainReferences = append(o.WalletReference.ChainReferences, chainRef)
	o.UpdatedAt = now
}

// Confirm marks the order settled by chainRef.
func (o *Order) Confirm(chainRef string, now time.Time) {
	o.WalletReference.Confirmed = true
	o.WalletReference.InProgress = false
	o.WalletReference.Error = ""
	o.WalletReference.ProcessedAt = &now
	if chainRef != "" && o.WalletReference.ChainReference != chainRef {
		o.RecordChainReference(chainRef, now)
	}
	o.Payload.Reconciled = true
	o.ShouldRetry = false
	o.UpdatedAt = now
}

// Abandon stops all further retries of the order.
func (o *Order) Abandon(reason string, now time.Time) {
	o.WalletReference.InProgress = false
	o.WalletReference.Error = reason
	o.ShouldRetry = false
	o.UpdatedAt = now
}
