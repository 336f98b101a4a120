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
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/oriphiel-hr/leadflow"
	"github.com/oriphiel-hr/leadflow/api/middleware"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/typesense/typesense-go/typesense/api"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	leadflow  *leadflow.Leadflow
	scheduler *leadflow.SLAScheduler
	router    *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/leads", a.CreateLead)
	router.GET("/leads", a.ListLeads)
	router.GET("/leads/:id", a.GetLead)
	router.GET("/leads/:id/queue", a.GetQueueStatus)
	router.POST("/leads/:id/advance", a.AdvanceLead)
	router.POST("/leads/:id/reassign", a.ReassignLead)
	router.POST("/leads/:id/contacts", a.RecordContact)

	router.POST("/assignments/:id/respond", a.RespondToOffer)
	router.POST("/assignments/:id/skip", a.SkipAssignment)
	router.POST("/assignments/:id/refund", a.RefundAssignment)

	router.POST("/accounts", a.CreateAccount)
	router.GET("/accounts/:id", a.GetAccount)
	router.GET("/accounts/:id/transactions", a.GetAccountTransactions)
	router.GET("/accounts/:id/audit", a.VerifyAccount)
	router.POST("/accounts/:id/adjustments", a.CreateAdjustment)
	router.POST("/refunds/:reference", a.RefundReference)
	router.POST("/webhooks/payments", a.PaymentWebhook)

	router.GET("/partners/:id/score", a.GetPartnerScore)
	router.GET("/partners/:id/stats", a.GetPartnerStats)
	router.GET("/partners/:id/account", a.GetPartnerAccount)
	router.POST("/scores/recompute", a.RecomputeScores)

	router.GET("/scheduler/health", a.SchedulerHealth)
	router.POST("/scheduler/sweeps/:kind", a.RunSweep)

	router.POST("/search/:collection", a.Search)
	return a.router
}

func NewAPI(l *leadflow.Leadflow, scheduler *leadflow.SLAScheduler) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("LEADFLOW"))
	r.Use(middleware.RateLimitMiddleware(conf))
	r.Use(middleware.Authenticate())

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{leadflow: l, scheduler: scheduler, router: r}
}

// respondError writes err with the status its code maps to.
func respondError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

func (a Api) Search(c *gin.Context) {
	collection, passed := c.Params.Get("collection")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection is required. pass id in the route /:collection"})
		return
	}

	var query api.SearchCollectionParams
	if err := c.BindJSON(&query); err != nil {
		return
	}

	resp, err := a.leadflow.Search(c.Request.Context(), collection, &query)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
