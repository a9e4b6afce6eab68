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

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/soonaverse/settle/model"
	"github.com/wacul/ptr"
)

// CreateProposal stores a proposal and the eligibility records of its members.
// The eligible total is fixed here: one per member for FLAT, the members' XP
// for REPUTATION and the staked value of the token for STAKED. TOKENS
// proposals start at zero and grow with vote orders.
func (e *Engine) CreateProposal(ctx context.Context, proposal model.Proposal, members []string) (*model.Proposal, error) {
	ctx, span := tracer.Start(ctx, "CreateProposal")
	defer span.End()

	if err := validateProposal(&proposal); err != nil {
		return nil, err
	}
	if proposal.Settings.WeightType != model.WeightTokens && len(members) == 0 {
		return nil, invalidInput("a proposal needs at least one member")
	}
	if proposal.ProposalID == "" {
		proposal.ProposalID = model.GenerateUUIDWithSuffix("prop")
	}

	err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		now := e.now()
		p := proposal
		p.Results = model.VoteResults{Answers: map[string]decimal.Decimal{}}
		for _, a := range p.Answers {
			p.Results.Answers[a] = decimal.Zero
		}
		p.CreatedAt, p.UpdatedAt = now, now

		total := decimal.Zero
		switch p.Settings.WeightType {
		case model.WeightFlat:
			total = decimal.NewFromInt(int64(len(members)))
		case model.WeightReputation:
			for _, member := range members {
				var rep model.Reputation
				if _, err := tx.Get(model.CollectionReputation, model.CompositeID(p.Space, member), &rep); err != nil {
					return err
				}
				total = total.Add(decimal.NewFromInt(rep.TotalXp))
			}
		case model.WeightStaked:
			var stats model.StakeStats
			if _, err := tx.Get(model.CollectionStakeStats, model.CompositeID(p.Space, p.Settings.Token), &stats); err != nil {
				return err
			}
			total = stats.TotalValue
		}
		p.Results.Total = total

		for _, member := range members {
			pm := model.ProposalMember{
				Proposal:   p.ProposalID,
				Member:     member,
				FlatWeight: decimal.NewFromInt(1),
				Weight:     decimal.Zero,
				UpdatedAt:  now,
			}
			if err := tx.Set(model.CollectionProposalMembers, model.CompositeID(p.ProposalID, member), &pm); err != nil {
				return err
			}
		}
		proposal = p
		return tx.Create(model.CollectionProposals, p.ProposalID, &p)
	})
	if err != nil {
		return nil, err
	}
	return &proposal, nil
}

func validateProposal(p *model.Proposal) error {
	if p.Space == "" {
		return invalidInput("proposal space is required")
	}
	if len(p.Answers) < 2 {
		return invalidInput("a proposal needs at least two answers")
	}
	seen := map[string]bool{}
	for _, a := range p.Answers {
		if a == "" || seen[a] {
			return invalidInput("proposal answers must be unique and non-empty")
		}
		seen[a] = true
	}
	if !p.Settings.EndDate.After(p.Settings.StartDate) {
		return invalidInput("proposal must end after it starts")
	}
	switch p.Settings.WeightType {
	case model.WeightFlat, model.WeightReputation:
	case model.WeightStaked, model.WeightTokens:
		if p.Settings.Token == "" {
			return invalidInput("token weighted proposals need a token")
		}
	default:
		return invalidInput("unknown weight type " + string(p.Settings.WeightType))
	}
	return nil
}

func (e *Engine) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	var p model.Proposal
	found, err := e.datasource.Get(ctx, model.CollectionProposals, id, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "proposal not found: "+id, nil)
	}
	return &p, nil
}

func getProposalTx(tx database.Tx, id string) (*model.Proposal, error) {
	var p model.Proposal
	found, err := tx.Get(model.CollectionProposals, id, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "proposal not found: "+id, nil)
	}
	return &p, nil
}

func checkVote(p *model.Proposal, value string, now time.Time) error {
	if !now.Before(p.Settings.EndDate) {
		return apierror.NewAPIError(apierror.ErrExpired, "proposal "+p.ProposalID+" is closed", nil)
	}
	if now.Before(p.Settings.StartDate) {
		return invalidInput("proposal " + p.ProposalID + " has not started")
	}
	if !p.HasAnswer(value) {
		return invalidInput("unknown answer " + value)
	}
	return nil
}

// stakeOverlap is the weight a stake keeps on a vote cast at from once it stops
// at until or at its expiry, whichever is earlier.
func stakeOverlap(p *model.Proposal, stake *model.Stake, from, until time.Time) decimal.Decimal {
	if stake.ExpiresAt.Before(until) {
		until = stake.ExpiresAt
	}
	return stake.Value.Mul(p.WindowFraction(from, until))
}

// Vote records member's answer on a proposal. A member votes once: voting again
// moves their weight from the previous answer to the new one in the same
// transaction.
//
// The weight depends on the proposal's weight type. FLAT uses the member's flat
// weight, REPUTATION their XP in the space and STAKED the value of each of
// their live stakes scaled by the share of the voting window left. A stake that
// expires before the window closes is decayed by RecomputeStakeVotes. TOKENS
// proposals are voted with CreateVoteOrder.
func (e *Engine) Vote(ctx context.Context, member, proposalID, value string) (*model.ProposalMember, error) {
	ctx, span := tracer.Start(ctx, "Vote")
	defer span.End()

	proposal, err := e.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Settings.WeightType == model.WeightTokens {
		return nil, invalidInput("token weighted proposals are voted with a vote order")
	}

	var stakes []model.Stake
	if proposal.Settings.WeightType == model.WeightStaked {
		err := e.datasource.Query(ctx, model.CollectionStakes, database.Filter{
			"space":   proposal.Space,
			"token":   proposal.Settings.Token,
			"member":  member,
			"expired": false,
		}, 0, &stakes)
		if err != nil {
			return nil, err
		}
	}

	var result *model.ProposalMember
	err = e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		now := e.now()
		p, err := getProposalTx(tx, proposalID)
		if err != nil {
			return err
		}
		if err := checkVote(p, value, now); err != nil {
			return err
		}

		pmID := model.CompositeID(proposalID, member)
		var pm model.ProposalMember
		found, err := tx.Get(model.CollectionProposalMembers, pmID, &pm)
		if err != nil {
			return err
		}
		if !found {
			return invalidInput("member " + member + " cannot vote on proposal " + proposalID)
		}

		var weight decimal.Decimal
		var stakeWeights map[string]decimal.Decimal
		switch p.Settings.WeightType {
		case model.WeightFlat:
			weight = pm.FlatWeight
		case model.WeightReputation:
			var rep model.Reputation
			if _, err := tx.Get(model.CollectionReputation, model.CompositeID(p.Space, member), &rep); err != nil {
				return err
			}
			weight = decimal.NewFromInt(rep.TotalXp)
		case model.WeightStaked:
			weight, stakeWeights, err = stakedWeightTx(tx, p, pmID, stakes, now)
			if err != nil {
				return err
			}
		}
		if !weight.IsPositive() {
			return invalidInput("member " + member + " has no voting weight on proposal " + proposalID)
		}

		priorValue, priorWeight := "", decimal.Zero
		if pm.Voted {
			priorValue, priorWeight = pm.Value, pm.Weight
		}
		if err := p.Results.ApplyVote(priorValue, priorWeight, value, weight); err != nil {
			return tallyError(err)
		}
		p.UpdatedAt = now

		pm.Voted = true
		pm.Value = value
		pm.Weight = weight
		pm.StakeWeights = stakeWeights
		pm.VotedAt = ptr.Time(now)
		pm.UpdatedAt = now

		if err := tx.Set(model.CollectionProposals, proposalID, p); err != nil {
			return err
		}
		result = &pm
		return tx.Set(model.CollectionProposalMembers, pmID, &pm)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// stakedWeightTx re-reads the member's stakes in the transaction, counts each
// live stake for the whole remaining window and links it to the vote so its
// expiry can correct the weight.
func stakedWeightTx(tx database.Tx, p *model.Proposal, pmID string, candidates []model.Stake, now time.Time) (decimal.Decimal, map[string]decimal.Decimal, error) {
	weight := decimal.Zero
	weights := map[string]decimal.Decimal{}
	for _, c := range candidates {
		var stake model.Stake
		found, err := tx.Get(model.CollectionStakes, c.StakeID, &stake)
		if err != nil {
			return decimal.Zero, nil, err
		}
		if !found || stake.Expired || !stake.ExpiresAt.After(now) {
			continue
		}
		w := stake.Value.Mul(p.WindowFraction(now, p.Settings.EndDate))
		if !w.IsPositive() {
			continue
		}
		weights[stake.StakeID] = w
		weight = weight.Add(w)

		if !containsString(stake.Votes, pmID) {
			stake.Votes = append(stake.Votes, pmID)
			stake.UpdatedAt = now
			if err := tx.Set(model.CollectionStakes, stake.StakeID, &stake); err != nil {
				return decimal.Zero, nil, err
			}
		}
	}
	return weight, weights, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// RecomputeStakeVotes replaces the contribution of a stake to every vote it
// backs with its overlap up to at (or its expiry, if earlier). Running it again
// for the same instant changes nothing.
func (e *Engine) RecomputeStakeVotes(ctx context.Context, stakeID string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "RecomputeStakeVotes")
	defer span.End()

	var stake model.Stake
	found, err := e.datasource.Get(ctx, model.CollectionStakes, stakeID, &stake)
	if err != nil {
		return err
	}
	if !found {
		return apierror.NewAPIError(apierror.ErrNotFound, "stake not found: "+stakeID, nil)
	}

	for _, pmID := range stake.Votes {
		err := e.datasource.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
			var pm model.ProposalMember
			found, err := tx.Get(model.CollectionProposalMembers, pmID, &pm)
			if err != nil || !found {
				return err
			}
			old, ok := pm.StakeWeights[stakeID]
			if !pm.Voted || !ok || pm.VotedAt == nil {
				return nil
			}
			p, err := getProposalTx(tx, pm.Proposal)
			if err != nil {
				return err
			}

			decayed := stakeOverlap(p, &stake, *pm.VotedAt, at)
			if decayed.Equal(old) {
				return nil
			}
			if err := p.Results.Correct(pm.Value, old, decayed); err != nil {
				return tallyError(err)
			}
			now := e.now()
			p.UpdatedAt = now
			pm.StakeWeights[stakeID] = decayed
			pm.Weight = pm.Weight.Sub(old).Add(decayed)
			pm.UpdatedAt = now

			if err := tx.Set(model.CollectionProposals, p.ProposalID, p); err != nil {
				return err
			}
			return tx.Set(model.CollectionProposalMembers, pmID, &pm)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateVoteOrder opens a VOTE order for a TOKENS proposal. The tokens received
// when the order settles become the member's weight, scaled by the share of the
// voting window left at that moment.
func (e *Engine) CreateVoteOrder(ctx context.Context, member, proposalID, value string, amount int64, network model.Network) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "CreateVoteOrder")
	defer span.End()

	proposal, err := e.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Settings.WeightType != model.WeightTokens {
		return nil, invalidInput("proposal " + proposalID + " is not voted with tokens")
	}
	if err := checkVote(proposal, value, e.now()); err != nil {
		return nil, err
	}
	if amount < e.network(network).MinAmount {
		return nil, invalidInput("vote amount is below the network minimum")
	}

	payload := model.OrderPayload{
		Amount:         amount,
		ValidationType: model.ValidationAddress,
		ExpiresAt:      proposal.Settings.EndDate,
		Proposal:       proposalID,
		VoteValue:      value,
		Space:          proposal.Space,
		Token:          proposal.Settings.Token,
	}
	return e.CreateOrder(ctx, model.KindVote, member, proposalID, network, payload)
}

// settleTokenVote adds the tokens of a settled VOTE order to the member's
// weight and moves the whole weight to the order's answer.
func (e *Engine) settleTokenVote(ctx context.Context, s *Settlement) error {
	order := s.Order
	p, err := getProposalTx(s.Tx, order.Payload.Proposal)
	if err != nil {
		return err
	}
	weight := decimal.NewFromInt(order.Payload.ReceivedAmount).Mul(p.WindowFraction(s.Now, p.Settings.EndDate))

	pmID := model.CompositeID(p.ProposalID, order.Actor)
	var pm model.ProposalMember
	found, err := s.Tx.Get(model.CollectionProposalMembers, pmID, &pm)
	if err != nil {
		return err
	}
	if !found {
		pm = model.ProposalMember{Proposal: p.ProposalID, Member: order.Actor, Weight: decimal.Zero}
	}

	priorValue, priorWeight := "", decimal.Zero
	if pm.Voted {
		priorValue, priorWeight = pm.Value, pm.Weight
	}
	total := pm.Weight.Add(weight)
	if err := p.Results.ApplyVote(priorValue, priorWeight, order.Payload.VoteValue, total); err != nil {
		return tallyError(err)
	}
	p.Results.Total = p.Results.Total.Add(weight)
	p.UpdatedAt = s.Now

	pm.Voted = true
	pm.Value = order.Payload.VoteValue
	pm.Weight = total
	pm.VotedAt = ptr.Time(s.Now)
	pm.VoteOrders = append(pm.VoteOrders, order.OrderID)
	pm.UpdatedAt = s.Now

	if err := s.Tx.Set(model.CollectionProposals, p.ProposalID, p); err != nil {
		return err
	}
	logrus.Debugf("vote order %s adds %s to %s on %s", order.OrderID, weight.String(), order.Payload.VoteValue, p.ProposalID)
	return s.Tx.Set(model.CollectionProposalMembers, pmID, &pm)
}
