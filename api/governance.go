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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	model2 "github.com/soonaverse/settle/api/model"
	"github.com/soonaverse/settle/model"
)

func (a Api) Rank(c *gin.Context) {
	var rank model2.RankResource
	if err := c.ShouldBindJSON(&rank); err != nil {
		badRequest(c, err)
		return
	}
	if err := rank.ValidateRankResource(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.Rank(c.Request.Context(), rank.Actor, rank.Resource, *rank.Value)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CreateProposal(c *gin.Context) {
	var proposal model2.CreateProposal
	if err := c.ShouldBindJSON(&proposal); err != nil {
		badRequest(c, err)
		return
	}
	if err := proposal.ValidateCreateProposal(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.CreateProposal(c.Request.Context(), proposal.ToProposal(), proposal.Members)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetProposal(c *gin.Context) {
	resp, err := a.engine.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) Vote(c *gin.Context) {
	var vote model2.CastVote
	if err := c.ShouldBindJSON(&vote); err != nil {
		badRequest(c, err)
		return
	}
	if err := vote.ValidateCastVote(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.Vote(c.Request.Context(), vote.Member, c.Param("id"), vote.Value)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CreateVoteOrder(c *gin.Context) {
	var vote model2.CreateVoteOrder
	if err := c.ShouldBindJSON(&vote); err != nil {
		badRequest(c, err)
		return
	}
	if err := vote.ValidateCreateVoteOrder(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.CreateVoteOrder(c.Request.Context(), vote.Member, c.Param("id"), vote.Value, vote.Amount, model.Network(vote.Network))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
