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

func (a Api) CreateStakeOrder(c *gin.Context) {
	var stake model2.CreateStake
	if err := c.ShouldBindJSON(&stake); err != nil {
		badRequest(c, err)
		return
	}
	if err := stake.ValidateCreateStake(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.CreateStakeOrder(c.Request.Context(), stake.Member, stake.Space, stake.Token, stake.Amount, stake.Weeks, model.Network(stake.Network))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetStake(c *gin.Context) {
	resp, err := a.engine.GetStake(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ExpireStake expires a stake whose end has passed, for operators replaying a
// lost expiry task.
func (a Api) ExpireStake(c *gin.Context) {
	resp, err := a.engine.ExpireStake(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) OrderNft(c *gin.Context) {
	var req model2.OrderNft
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateOrderNft(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.OrderNft(c.Request.Context(), req.Buyer, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) CreateAward(c *gin.Context) {
	var award model2.CreateAward
	if err := c.ShouldBindJSON(&award); err != nil {
		badRequest(c, err)
		return
	}
	if err := award.ValidateCreateAward(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.CreateAward(c.Request.Context(), award.ToAward())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) IssueBadge(c *gin.Context) {
	var req model2.IssueBadge
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateIssueBadge(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.IssueBadge(c.Request.Context(), c.Param("id"), req.Member)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetReputation(c *gin.Context) {
	resp, err := a.engine.GetReputation(c.Request.Context(), c.Param("space"), c.Param("member"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
