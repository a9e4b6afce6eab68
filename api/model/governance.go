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

type CreateProposal struct {
	Space      string    `json:"space"`
	Name       string    `json:"name"`
	Answers    []string  `json:"answers"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	WeightType string    `json:"weight_type"`
	Token      string    `json:"token"`
	Members    []string  `json:"members"`
}

type CastVote struct {
	Member string `json:"member"`
	Value  string `json:"value"`
}

type CreateVoteOrder struct {
	Member  string `json:"member"`
	Value   string `json:"value"`
	Amount  int64  `json:"amount"`
	Network string `json:"network"`
}

type RankResource struct {
	Actor    string `json:"actor"`
	Resource string `json:"resource"`
	Value    *int64 `json:"value"`
}

type CreateStake struct {
	Member  string `json:"member"`
	Space   string `json:"space"`
	Token   string `json:"token"`
	Amount  int64  `json:"amount"`
	Weeks   int    `json:"weeks"`
	Network string `json:"network"`
}

type OrderNft struct {
	Buyer string `json:"buyer"`
}

type CreateAward struct {
	Space     string `json:"space"`
	Name      string `json:"name"`
	BadgeName string `json:"badge_name"`
	TotalXp   int64  `json:"total_xp"`
	Capacity  int64  `json:"capacity"`
}

type IssueBadge struct {
	Member string `json:"member"`
}
