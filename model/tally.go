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
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeCount  = errors.New("tally count would become negative")
	ErrNegativeWeight = errors.New("tally weight would become negative")
	ErrAwardCompleted = errors.New("award has no badges left")
)

// RankStats aggregates the ranks given to one resource.
type RankStats struct {
	Resource  string          `json:"resource"`
	Count     int64           `json:"count"`
	Sum       int64           `json:"sum"`
	Avg       decimal.Decimal `json:"avg"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Rank is one actor's rank of a resource.
type Rank struct {
	Resource  string    `json:"resource"`
	Actor     string    `json:"actor"`
	Value     int64     `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApplyRank folds a rank into the aggregate. prior is the actor's previous
// rank of the same resource, nil when this is the first one.
func (s *RankStats) ApplyRank(prior *int64, value int64) error {
	if prior == nil {
		s.Count++
		s.Sum += value
	} else {
		if s.Count == 0 {
			return ErrNegativeCount
		}
		s.Sum += value - *prior
	}
	s.Avg = RoundAvg(decimal.NewFromInt(s.Sum), s.Count)
	return nil
}

// VoteResults is the tally of a proposal. Total is the eligible weight fixed at
// creation; Voted and Answers move with each vote.
type VoteResults struct {
	Total      decimal.Decimal            `json:"total"`
	Voted      decimal.Decimal            `json:"voted"`
	VotedCount int64                      `json:"voted_count"`
	Answers    map[string]decimal.Decimal `json:"answers"`
}

func (r *VoteResults) answer(value string) decimal.Decimal {
	if r.Answers == nil {
		r.Answers = map[string]decimal.Decimal{}
	}
	return r.Answers[value]
}

// ApplyVote records a member's vote. When the member voted before, the prior
// answer's weight is retracted first so the member is counted once.
func (r *VoteResults) ApplyVote(priorValue string, priorWeight decimal.Decimal, value string, weight decimal.Decimal) error {
	if weight.IsNegative() {
		return ErrNegativeWeight
	}
	if priorValue != "" {
		if err := r.retract(priorValue, priorWeight); err != nil {
			return err
		}
	} else {
		r.VotedCount++
	}
	current := r.answer(value)
	r.Answers[value] = current.Add(weight)
	r.Voted = r.Voted.Add(weight)
	return nil
}

// Correct replaces part of a member's weight on the answer they hold, used when
// a stake backing the vote decays.
func (r *VoteResults) Correct(value string, oldWeight, newWeight decimal.Decimal) error {
	if newWeight.IsNegative() {
		return ErrNegativeWeight
	}
	if err := r.retract(value, oldWeight); err != nil {
		return err
	}
	current := r.answer(value)
	r.Answers[value] = current.Add(newWeight)
	r.Voted = r.Voted.Add(newWeight)
	return nil
}

func (r *VoteResults) retract(value string, weight decimal.Decimal) error {
	current := r.answer(value)
	if current.LessThan(weight) || r.Voted.LessThan(weight) {
		return ErrNegativeWeight
	}
	r.Answers[value] = current.Sub(weight)
	r.Voted = r.Voted.Sub(weight)
	return nil
}

// StakeStats aggregates the stakes of one token in one space.
type StakeStats struct {
	Space               string          `json:"space"`
	Token               string          `json:"token"`
	TotalStaked         int64           `json:"total_staked"`
	TotalValue          decimal.Decimal `json:"total_value"`
	StakingMembersCount int64           `json:"staking_members_count"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// StakeMember is one member's running stake total in a space/token.
type StakeMember struct {
	Space     string          `json:"space"`
	Token     string          `json:"token"`
	Member    string          `json:"member"`
	Staked    int64           `json:"staked"`
	Value     decimal.Decimal `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ApplyStake moves both the member record and the aggregate by amount (negative
// on expiry). The member count only changes when the member crosses zero.
func (s *StakeStats) ApplyStake(member *StakeMember, amount int64, value decimal.Decimal) error {
	before := member.Staked
	after := before + amount
	if after < 0 || s.TotalStaked+amount < 0 {
		return ErrNegativeCount
	}
	member.Staked = after
	member.Value = member.Value.Add(value)
	if member.Value.IsNegative() {
		member.Value = decimal.Zero
	}
	s.TotalStaked += amount
	s.TotalValue = s.TotalValue.Add(value)
	if s.TotalValue.IsNegative() {
		s.TotalValue = decimal.Zero
	}

	switch {
	case before == 0 && after > 0:
		s.StakingMembersCount++
	case before > 0 && after == 0:
		if s.StakingMembersCount == 0 {
			return ErrNegativeCount
		}
		s.StakingMembersCount--
	}
	return nil
}

// Reputation is a member's XP earned through awards in a space.
type Reputation struct {
	Space     string    `json:"space"`
	Member    string    `json:"member"`
	TotalXp   int64     `json:"total_xp"`
	Badges    int64     `json:"badges"`
	UpdatedAt time.Time `json:"updated_at"`
}
