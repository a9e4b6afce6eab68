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

// Package ledger describes the external value-transfer network the engine
// settles against and the HTTP gateway client used in production.
package ledger

import (
	"context"

	"github.com/soonaverse/settle/model"
)

// SendOptions carries the spend units staged for a transfer so that a retried
// attempt reuses the same outputs.
type SendOptions struct {
	Units    model.SpendUnits
	Nft      string
	Metadata map[string]interface{}
}

// SpendableAddress is a freshly generated address together with its secret.
type SpendableAddress struct {
	Address string
	Secret  string
}

type Client interface {
	NewSpendableAddress(ctx context.Context, network model.Network) (SpendableAddress, error)
	// Send submits a transfer and returns the chain reference of the submission.
	Send(ctx context.Context, from, to string, amount int64, opts SendOptions) (string, error)
	GetBalance(ctx context.Context, address string) (int64, error)
	// GetSpendUnits lists the unspent units currently held by address.
	GetSpendUnits(ctx context.Context, address string) (model.SpendUnits, error)
}
