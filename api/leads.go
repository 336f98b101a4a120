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

func (a Api) CreateLead(c *gin.Context) {
	var newLead model2.CreateLead
	if err := c.ShouldBindJSON(&newLead); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newLead.ValidateCreateLead(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	lead := newLead.ToLead()
	offer, err := a.leadflow.Enqueue(c.Request.Context(), lead)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"lead": lead, "active_assignment": offer})
}

func (a Api) GetLead(c *gin.Context) {
	lead, err := a.leadflow.GetLead(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

// ListLeads serves the holding pool and other per-status views, e.g. /leads?status=EXHAUSTED.
func (a Api) ListLeads(c *gin.Context) {
	leads, err := a.leadflow.ListLeads(c.Request.Context(), c.Query("status"), queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, leads)
}

func (a Api) GetQueueStatus(c *gin.Context) {
	status, err := a.leadflow.QueueStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (a Api) AdvanceLead(c *gin.Context) {
	offer, err := a.leadflow.Advance(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_assignment": offer})
}

func (a Api) ReassignLead(c *gin.Context) {
	offer, err := a.leadflow.Reassign(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_assignment": offer})
}

func (a Api) RecordContact(c *gin.Context) {
	var contact model2.RecordContact
	if err := c.ShouldBindJSON(&contact); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := contact.ValidateRecordContact(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	event, err := a.leadflow.RecordContact(c.Request.Context(), c.Param("id"), contact.PartnerId, contact.Channel)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}
