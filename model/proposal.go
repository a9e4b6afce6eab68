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

	"github.com/shopspring/decimal"
)

type WeightType string

const (
	WeightFlat       WeightType = "FLAT"
	WeightReputation WeightType = "REPUTATION"
	WeightStaked     WeightType = "STAKED"
	WeightTokens     WeightType = "TOKENS"
)

type ProposalSettings struct {
	StartDate  time.Time  `json:"start_date"`
	EndDate    time.Time  `json:"end_date"`
	WeightType WeightType `json:"weight_type"`
	Token      string     `json:"token,omitempty"`
}

type Proposal struct {
	ProposalID string           `json:"id"`
	Space      string           `json:"space"`
	Name       string           `json:"name"`
	Settings   ProposalSettings `json:"settings"`
	Answers    []string         `json:"answers"`
	Results    VoteResults      `json:"results"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// IsOpenAt reports whether votes are accepted at t.
func (p *Proposal) IsOpenAt(t time.Time) bool {
	return !t.Before(p.Settings.StartDate) && t.Before(p.Settings.EndDate)
}

func (p *Proposal) HasAnswer(value string) bool {
	for _, a := range p.Answers {
		if a == value {
			return true
		}
	}
	return false
}

// WindowFraction returns the share of the voting window covered by [from, to],
// clipped to the window.
func (p *Proposal) WindowFraction(from, to time.Time) decimal.Decimal {
	start, end := p.Settings.StartDate, p.Settings.EndDate
	window := end.Sub(start)
	if window <= 0 {
		return decimal.Zero
	}
	if from.Before(start) {
		from = start
	}
	if to.After(end) {
		to = end
	}
	if !to.After(from) {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(to.Sub(from))).Div(decimal.NewFromInt(int64(window)))
}

// ProposalMember is a member's eligibility and current vote on a proposal.
type ProposalMember struct {
	Proposal     string                     `json:"proposal"`
	Member       string                     `json:"member"`
	FlatWeight   decimal.Decimal            `json:"flat_weight"`
	Voted        bool                       `json:"voted"`
	Value        string                     `json:"value,omitempty"`
	Weight       decimal.Decimal            `json:"weight"`
	StakeWeights map[string]decimal.Decimal `json:"stake_weights,omitempty"`
	VotedAt      *time.Time                 `json:"voted_at,omitempty"`
	VoteOrders   []string                   `json:"vote_orders,omitempty"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}
