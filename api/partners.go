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
)

func (a Api) GetPartnerScore(c *gin.Context) {
	score, err := a.leadflow.GetPartnerScore(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (a Api) GetPartnerStats(c *gin.Context) {
	stats, err := a.leadflow.PartnerStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a Api) GetPartnerAccount(c *gin.Context) {
	account, err := a.leadflow.GetAccountByPartner(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a Api) RecomputeScores(c *gin.Context) {
	written, err := a.leadflow.RecomputePartnerScores(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scored": written})
}

func (a Api) SchedulerHealth(c *gin.Context) {
	if a.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler is not running in this process"})
		return
	}
	c.JSON(http.StatusOK, a.scheduler.Health())
}

// RunSweep triggers one sweep out of schedule, e.g. after an outage.
func (a Api) RunSweep(c *gin.Context) {
	if a.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler is not running in this process"})
		return
	}
	processed, err := a.scheduler.RunSweep(c.Request.Context(), c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "processed": processed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": c.Param("kind"), "processed": processed})
}
