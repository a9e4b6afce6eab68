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

import "time"

type CreateOrder struct {
	Kind           string     `json:"kind"`
	Actor          string     `json:"actor"`
	Resource       string     `json:"resource"`
	Network        string     `json:"network"`
	Amount         int64      `json:"amount"`
	TargetAddress  string     `json:"target_address"`
	SourceAddress  string     `json:"source_address"`
	ValidationType string     `json:"validation_type"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

type ChainReference struct {
	ChainReference string `json:"chain_reference"`
}

type IncomingTransfer struct {
	TargetAddress  string `json:"target_address"`
	Amount         int64  `json:"amount"`
	SenderAddress  string `json:"sender_address"`
	ChainReference string `json:"chain_reference"`
}

type RefundTransfer struct {
	IncomingTransfer
	Reason string `json:"reason"`
}

type RegisterAddress struct {
	Network string `json:"network"`
}
