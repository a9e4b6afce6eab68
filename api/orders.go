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

func (a Api) CreateOrder(c *gin.Context) {
	var newOrder model2.CreateOrder
	if err := c.ShouldBindJSON(&newOrder); err != nil {
		badRequest(c, err)
		return
	}
	if err := newOrder.ValidateCreateOrder(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.CreateOrder(c.Request.Context(), model.OrderKind(newOrder.Kind), newOrder.Actor, newOrder.Resource, model.Network(newOrder.Network), newOrder.ToPayload())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.engine.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) MarkAttempt(c *gin.Context) {
	var ref model2.ChainReference
	if err := c.ShouldBindJSON(&ref); err != nil {
		badRequest(c, err)
		return
	}
	if err := ref.ValidateChainReference(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.MarkAttempt(c.Request.Context(), c.Param("id"), ref.ChainReference)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ConfirmOrder is called by the ledger watcher once an attempt is final on chain.
func (a Api) ConfirmOrder(c *gin.Context) {
	var ref model2.ChainReference
	if err := c.ShouldBindJSON(&ref); err != nil {
		badRequest(c, err)
		return
	}
	if err := ref.ValidateChainReference(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.MarkConfirmed(c.Request.Context(), c.Param("id"), ref.ChainReference)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) VoidOrder(c *gin.Context) {
	resp, err := a.engine.VoidOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ExecuteSpend runs one attempt of a spend order right away instead of waiting
// for the queue or the next reconciliation tick.
func (a Api) ExecuteSpend(c *gin.Context) {
	id := c.Param("id")
	chainRef, err := a.engine.ExecuteSpend(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"order_id": id, "chain_reference": chainRef})
}

// MatchIncoming is called by the ledger watcher for every transfer observed
// at an address the engine handed out.
func (a Api) MatchIncoming(c *gin.Context) {
	var transfer model2.IncomingTransfer
	if err := c.ShouldBindJSON(&transfer); err != nil {
		badRequest(c, err)
		return
	}
	if err := transfer.ValidateIncomingTransfer(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.MatchIncoming(c.Request.Context(), transfer.ToIncomingTransfer())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) RefundTransfer(c *gin.Context) {
	var refund model2.RefundTransfer
	if err := c.ShouldBindJSON(&refund); err != nil {
		badRequest(c, err)
		return
	}
	if err := refund.ValidateRefundTransfer(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.RefundTransfer(c.Request.Context(), refund.ToIncomingTransfer(), refund.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// addressView is a Mnemonic without its secret.
type addressView struct {
	Address       string           `json:"address"`
	Network       model.Network    `json:"network"`
	LockedBy      string           `json:"locked_by,omitempty"`
	ConsumedUnits model.SpendUnits `json:"consumed_units"`
}

func toAddressView(m *model.Mnemonic) addressView {
	return addressView{Address: m.Address, Network: m.Network, LockedBy: m.LockedBy, ConsumedUnits: m.ConsumedUnits()}
}

func (a Api) RegisterAddress(c *gin.Context) {
	var req model2.RegisterAddress
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateRegisterAddress(); err != nil {
		badRequest(c, err)
		return
	}

	m, err := a.engine.RegisterAddress(c.Request.Context(), model.Network(req.Network))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toAddressView(m))
}

func (a Api) GetAddress(c *gin.Context) {
	m, err := a.engine.GetMnemonic(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAddressView(m))
}

func (a Api) RunReconciliation(c *gin.Context) {
	acted, err := a.engine.RunReconciliation(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if acted == nil {
		acted = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"orders": acted})
}
