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

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/soonaverse/settle/model"
)

var (
	orderKinds = []interface{}{
		string(model.KindOrder), string(model.KindPayment), string(model.KindBillPayment),
		string(model.KindCredit), string(model.KindVote), string(model.KindMint),
		string(model.KindWithdraw), string(model.KindStake), string(model.KindAirdrop), string(model.KindSwap),
	}
	networks = []interface{}{
		string(model.NetworkIota), string(model.NetworkSmr), string(model.NetworkRms), string(model.NetworkAtoi),
	}
	validationTypes = []interface{}{
		string(model.ValidationAddress), string(model.ValidationAddressAndAmount),
	}
	weightTypes = []interface{}{
		string(model.WeightFlat), string(model.WeightReputation), string(model.WeightStaked), string(model.WeightTokens),
	}
)

func uniqueAnswers(value interface{}) error {
	answers, _ := value.([]string)
	seen := map[string]bool{}
	for _, a := range answers {
		if a == "" || seen[a] {
			return errors.New("answers must be unique and non-empty")
		}
		seen[a] = true
	}
	return nil
}

func (o *CreateOrder) ValidateCreateOrder() error {
	spend := model.OrderKind(o.Kind).IsSpend()
	return validation.ValidateStruct(o,
		validation.Field(&o.Kind, validation.Required, validation.In(orderKinds...)),
		validation.Field(&o.Actor, validation.Required),
		validation.Field(&o.Network, validation.Required, validation.In(networks...)),
		validation.Field(&o.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&o.SourceAddress, validation.When(spend, validation.Required.Error("source address is required for spend orders"))),
		validation.Field(&o.TargetAddress, validation.When(spend, validation.Required.Error("target address is required for spend orders"))),
		validation.Field(&o.ValidationType, validation.When(o.ValidationType != "", validation.In(validationTypes...))),
	)
}

func (t *IncomingTransfer) ValidateIncomingTransfer() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.TargetAddress, validation.Required),
		validation.Field(&t.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&t.ChainReference, validation.Required),
	)
}

func (r *RefundTransfer) ValidateRefundTransfer() error {
	if err := r.IncomingTransfer.ValidateIncomingTransfer(); err != nil {
		return err
	}
	return validation.Errors{
		"sender_address": validation.Validate(r.SenderAddress, validation.Required),
	}.Filter()
}

func (c *ChainReference) ValidateChainReference() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChainReference, validation.Required),
	)
}

func (a *RegisterAddress) ValidateRegisterAddress() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Network, validation.Required, validation.In(networks...)),
	)
}

func (p *CreateProposal) ValidateCreateProposal() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Space, validation.Required),
		validation.Field(&p.Name, validation.Required),
		validation.Field(&p.Answers, validation.Required, validation.Length(2, 0), validation.By(uniqueAnswers)),
		validation.Field(&p.StartDate, validation.Required),
		validation.Field(&p.EndDate, validation.Required, validation.Min(p.StartDate).Exclusive().Error("end date must be after start date")),
		validation.Field(&p.WeightType, validation.Required, validation.In(weightTypes...)),
		validation.Field(&p.Token, validation.When(p.WeightType == string(model.WeightStaked) || p.WeightType == string(model.WeightTokens), validation.Required)),
		validation.Field(&p.Members, validation.When(p.WeightType != string(model.WeightTokens), validation.Required)),
	)
}

func (v *CastVote) ValidateCastVote() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.Member, validation.Required),
		validation.Field(&v.Value, validation.Required),
	)
}

func (v *CreateVoteOrder) ValidateCreateVoteOrder() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.Member, validation.Required),
		validation.Field(&v.Value, validation.Required),
		validation.Field(&v.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&v.Network, validation.Required, validation.In(networks...)),
	)
}

func (r *RankResource) ValidateRankResource() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Actor, validation.Required),
		validation.Field(&r.Resource, validation.Required),
		validation.Field(&r.Value, validation.NotNil, validation.Min(int64(-100)), validation.Max(int64(100))),
	)
}

func (s *CreateStake) ValidateCreateStake() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Member, validation.Required),
		validation.Field(&s.Space, validation.Required),
		validation.Field(&s.Token, validation.Required),
		validation.Field(&s.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&s.Weeks, validation.Required, validation.Min(model.MinStakeWeeks), validation.Max(model.MaxStakeWeeks)),
		validation.Field(&s.Network, validation.Required, validation.In(networks...)),
	)
}

func (o *OrderNft) ValidateOrderNft() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Buyer, validation.Required),
	)
}

func (a *CreateAward) ValidateCreateAward() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Space, validation.Required),
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.Capacity, validation.Required, validation.Min(int64(1))),
		validation.Field(&a.TotalXp, validation.Min(int64(0)), validation.By(func(value interface{}) error {
			if a.Capacity > 0 && a.TotalXp%a.Capacity != 0 {
				return errors.New("total xp must divide evenly across the award capacity")
			}
			return nil
		})),
	)
}

func (b *IssueBadge) ValidateIssueBadge() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.Member, validation.Required),
	)
}

func (o *CreateOrder) ToPayload() model.OrderPayload {
	payload := model.OrderPayload{
		Amount:         o.Amount,
		TargetAddress:  o.TargetAddress,
		SourceAddress:  o.SourceAddress,
		ValidationType: model.ValidationType(o.ValidationType),
	}
	if o.ExpiresAt != nil {
		payload.ExpiresAt = *o.ExpiresAt
	}
	return payload
}

func (t *IncomingTransfer) ToIncomingTransfer() model.IncomingTransfer {
	return model.IncomingTransfer{
		TargetAddress:  t.TargetAddress,
		Amount:         t.Amount,
		SenderAddress:  t.SenderAddress,
		ChainReference: t.ChainReference,
	}
}

func (p *CreateProposal) ToProposal() model.Proposal {
	return model.Proposal{
		Space:   p.Space,
		Name:    p.Name,
		Answers: p.Answers,
		Settings: model.ProposalSettings{
			StartDate:  p.StartDate,
			EndDate:    p.EndDate,
			WeightType: model.WeightType(p.WeightType),
			Token:      p.Token,
		},
	}
}

func (a *CreateAward) ToAward() model.Award {
	return model.Award{
		Space:    a.Space,
		Name:     a.Name,
		Badge:    model.AwardBadge{Name: a.BadgeName, TotalXp: a.TotalXp},
		Capacity: a.Capacity,
	}
}
