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

// Mnemonic is the per-address record guarding spends from that address.
type Mnemonic struct {
	Address                string    `json:"address"`
	Network                Network   `json:"network"`
	Secret                 string    `json:"secret"`
	LockedBy               string    `json:"locked_by,omitempty"`
	ConsumedOutputIds      []string  `json:"consumed_output_ids"`
	ConsumedNftOutputIds   []string  `json:"consumed_nft_output_ids"`
	ConsumedAliasOutputIds []string  `json:"consumed_alias_output_ids"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// SpendUnits groups the spend-unit identifiers staged for one attempt.
type SpendUnits struct {
	Outputs      []string `json:"outputs"`
	NftOutputs   []string `json:"nft_outputs"`
	AliasOutputs []string `json:"alias_outputs"`
}

func (u SpendUnits) IsEmpty() bool {
	return len(u.Outputs) == 0 && len(u.NftOutputs) == 0 && len(u.AliasOutputs) == 0
}

// ConsumedUnits returns the units staged on the record.
func (m *Mnemonic) ConsumedUnits() SpendUnits {
	return SpendUnits{
		Outputs:      m.ConsumedOutputIds,
		NftOutputs:   m.ConsumedNftOutputIds,
		AliasOutputs: m.ConsumedAliasOutputIds,
	}
}

// CanLock reports whether orderID may take or keep the lock.
func (m *Mnemonic) CanLock(orderID string) bool {
	return m.LockedBy == "" || m.LockedBy == orderID
}

// Unlock releases the lock and drops the staged units together.
func (m *Mnemonic) Unlock(now time.Time) {
	m.LockedBy = ""
	m.ConsumedOutputIds = []string{}
	m.ConsumedNftOutputIds = []string{}
	m.ConsumedAliasOutputIds = []string{}
	m.UpdatedAt = now
}
