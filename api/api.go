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
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle"
	"github.com/soonaverse/settle/api/middleware"
	"github.com/soonaverse/settle/config"
	"github.com/soonaverse/settle/internal/apierror"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	engine *settle.Engine
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/orders", a.CreateOrder)
	router.GET("/orders/:id", a.GetOrder)
	router.POST("/orders/:id/attempts", a.MarkAttempt)
	router.POST("/orders/:id/confirm", a.ConfirmOrder)
	router.POST("/orders/:id/void", a.VoidOrder)
	router.POST("/orders/:id/execute", a.ExecuteSpend)

	router.POST("/transfers/incoming", a.MatchIncoming)
	router.POST("/transfers/refund", a.RefundTransfer)

	router.POST("/addresses", a.RegisterAddress)
	router.GET("/addresses/:address", a.GetAddress)

	router.POST("/reconciliation/run", a.RunReconciliation)

	router.POST("/ranks", a.Rank)

	router.POST("/proposals", a.CreateProposal)
	router.GET("/proposals/:id", a.GetProposal)
	router.POST("/proposals/:id/votes", a.Vote)
	router.POST("/proposals/:id/vote-orders", a.CreateVoteOrder)

	router.POST("/stakes", a.CreateStakeOrder)
	router.GET("/stakes/:id", a.GetStake)
	router.POST("/stakes/:id/expire", a.ExpireStake)

	router.POST("/nfts/:id/orders", a.OrderNft)

	router.POST("/awards", a.CreateAward)
	router.POST("/awards/:id/badges", a.IssueBadge)
	router.GET("/reputation/:space/:member", a.GetReputation)
	return a.router
}

func NewAPI(e *settle.Engine) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{engine: e, router: r}
}

// respondError writes err with the status its code maps to. Errors without a
// code are logged and reported as internal errors.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		logrus.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
}
