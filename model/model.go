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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Collection names of the document store.
const (
	CollectionOrders          = "orders"
	CollectionOrderHeads      = "order_heads"
	CollectionMnemonics       = "mnemonics"
	CollectionNfts            = "nfts"
	CollectionCollections     = "collections"
	CollectionProposals       = "proposals"
	CollectionProposalMembers = "proposal_members"
	CollectionStakes          = "stakes"
	CollectionStakeStats      = "stake_stats"
	CollectionStakeMembers    = "stake_members"
	CollectionAwards          = "awards"
	CollectionBadges          = "badges"
	CollectionReputation      = "reputation"
	CollectionRanks           = "ranks"
	CollectionRankStats       = "rank_stats"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// CompositeID joins the parts of a sub-record key, e.g. proposal and member.
func CompositeID(parts ...string) string {
	return strings.Join(parts, "_")
}

// OrderHeadID keys the generation pointer of an (kind, actor, resource) triple.
func OrderHeadID(kind OrderKind, actor, resource string) string {
	return "head_" + strings.TrimPrefix(DeriveOrderID(kind, actor, resource, -1), "ord_")
}

// DeriveOrderID returns the deterministic id of the generation-th order an actor
// opens against a resource. Generation 0 is the first order; later generations
// are only reached once the previous order is closed.
func DeriveOrderID(kind OrderKind, actor, resource string, generation int) string {
	data := fmt.Sprintf("%s|%s|%s|%d", kind, actor, resource, generation)
	hash := sha256.Sum256([]byte(data))
	return "ord_" + hex.EncodeToString(hash[:16])
}

// RoundAvg rounds sum/count to three decimal places. A zero count yields zero.
func RoundAvg(sum decimal.Decimal, count int64) decimal.Decimal {
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(count)).Round(3)
}
