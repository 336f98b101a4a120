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
	model2 "github.com/oriphiel-hr/leadflow/api/model"
)

// RespondToOffer applies a partner's decision. A repeated decision answers 200 with the
// assignment as it stands; an answer to an offer that moved on is 409.
func (a Api) RespondToOffer(c *gin.Context) {
	var response model2.RespondToOffer
	if err := c.ShouldBindJSON(&response); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := response.ValidateRespondToOffer(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	assignment, err := a.leadflow.Respond(c.Request.Context(), c.Param("id"), response.PartnerId, response.ToDecision())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}

func (a Api) SkipAssignment(c *gin.Context) {
	var skip model2.SkipAssignment
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&skip); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	assignment, err := a.leadflow.Skip(c.Request.Context(), c.Param("id"), skip.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}

func (a Api) RefundAssignment(c *gin.Context) {
	var refund model2.RefundAssignment
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&refund); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := refund.ValidateRefundAssignment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	txn, err := a.leadflow.RefundAssignment(c.Request.Context(), c.Param("id"), refund.RefundType())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}
