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
	"github.com/sirupsen/logrus"
)

func (a Api) CreateAccount(c *gin.Context) {
	var newAccount model2.CreateAccount
	if err := c.ShouldBindJSON(&newAccount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newAccount.ValidateCreateAccount(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	account, err := a.leadflow.CreateAccount(c.Request.Context(), newAccount.PartnerId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (a Api) GetAccount(c *gin.Context) {
	account, err := a.leadflow.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a Api) GetAccountTransactions(c *gin.Context) {
	var query model2.LedgerHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := query.ValidateLedgerHistoryQuery(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	page, err := a.leadflow.LedgerHistory(c.Request.Context(), c.Param("id"), query.ToFilter())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (a Api) VerifyAccount(c *gin.Context) {
	audit, err := a.leadflow.VerifyAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

func (a Api) CreateAdjustment(c *gin.Context) {
	var adjustment model2.CreateAdjustment
	if err := c.ShouldBindJSON(&adjustment); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := adjustment.ValidateCreateAdjustment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	txn, err := a.leadflow.Adjust(c.Request.Context(), c.Param("id"), adjustment.Amount, adjustment.ToReference())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// RefundReference refunds the purchase recorded under a reference. Repeating it returns
// the refund that was already issued.
func (a Api) RefundReference(c *gin.Context) {
	txn, err := a.leadflow.RefundReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// PaymentWebhook credits a settled top-up. The payment id is the ledger reference, so a
// redelivered event credits once.
func (a Api) PaymentWebhook(c *gin.Context) {
	var event model2.PaymentEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := event.ValidatePaymentEvent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if !event.Settled() {
		logrus.WithFields(logrus.Fields{"payment_id": event.PaymentId, "status": event.Status}).Info("ignoring unsettled payment")
		c.JSON(http.StatusAccepted, gin.H{"message": "payment not settled, nothing credited"})
		return
	}

	ctx := c.Request.Context()
	accountID := event.AccountId
	if accountID == "" {
		account, err := a.leadflow.GetAccountByPartner(ctx, event.PartnerId)
		if err != nil {
			respondError(c, err)
			return
		}
		accountID = account.AccountID
	}

	txn, err := a.leadflow.TopUp(ctx, accountID, event.Amount, event.PaymentId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}
