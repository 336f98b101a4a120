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

import (
	"testing"
	"time"

	"github.com/oriphiel-hr/leadflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCreateLead(t *testing.T) {
	tests := []struct {
		name    string
		lead    CreateLead
		wantErr bool
	}{
		{"valid", CreateLead{Category: "plumbing", Region: "Zagreb", Price: 15, BudgetMin: 100, BudgetMax: 500}, false},
		{"open budget", CreateLead{Category: "plumbing", Region: "Zagreb", Price: 15}, false},
		{"missing category", CreateLead{Region: "Zagreb", Price: 15}, true},
		{"missing region", CreateLead{Category: "plumbing", Price: 15}, true},
		{"no price", CreateLead{Category: "plumbing", Region: "Zagreb"}, true},
		{"negative price", CreateLead{Category: "plumbing", Region: "Zagreb", Price: -1}, true},
		{"inverted budget", CreateLead{Category: "plumbing", Region: "Zagreb", Price: 15, BudgetMin: 500, BudgetMax: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.lead.ValidateCreateLead()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToLeadNormalizes(t *testing.T) {
	req := CreateLead{Category: " Plumbing ", Region: " Zagreb ", Price: 15, CreatorId: "P9", Urgent: true}
	lead := req.ToLead()
	assert.Equal(t, "plumbing", lead.Category)
	assert.Equal(t, "Zagreb", lead.Region)
	assert.Equal(t, "P9", lead.CreatorID)
	assert.True(t, lead.Urgent)
	assert.Empty(t, lead.Status)
}

func TestValidateRespondToOffer(t *testing.T) {
	assert.NoError(t, (&RespondToOffer{PartnerId: "P1", Decision: "INTERESTED"}).ValidateRespondToOffer())
	assert.NoError(t, (&RespondToOffer{PartnerId: "P1", Decision: "NOT_INTERESTED"}).ValidateRespondToOffer())
	assert.Error(t, (&RespondToOffer{PartnerId: "P1", Decision: "interested"}).ValidateRespondToOffer())
	assert.Error(t, (&RespondToOffer{Decision: "INTERESTED"}).ValidateRespondToOffer())
}

func TestRefundAssignmentType(t *testing.T) {
	empty := RefundAssignment{}
	assert.NoError(t, empty.ValidateRefundAssignment())
	assert.Equal(t, model.TxnRefund, empty.RefundType())

	auto := RefundAssignment{Type: model.TxnAutoRefund}
	assert.NoError(t, auto.ValidateRefundAssignment())
	assert.Equal(t, model.TxnAutoRefund, auto.RefundType())

	assert.Error(t, (&RefundAssignment{Type: model.TxnPurchase}).ValidateRefundAssignment())
}

func TestValidateCreateAdjustment(t *testing.T) {
	assert.NoError(t, (&CreateAdjustment{Amount: -5, Reference: "adj_1"}).ValidateCreateAdjustment())
	assert.Error(t, (&CreateAdjustment{Amount: 0, Reference: "adj_1"}).ValidateCreateAdjustment())
	assert.Error(t, (&CreateAdjustment{Amount: 5}).ValidateCreateAdjustment())
}

func TestValidatePaymentEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   PaymentEvent
		wantErr bool
	}{
		{"by account", PaymentEvent{PaymentId: "pay_1", AccountId: "acc_1", Amount: 50, Status: "settled"}, false},
		{"by partner", PaymentEvent{PaymentId: "pay_1", PartnerId: "P1", Amount: 50, Status: "settled"}, false},
		{"no target", PaymentEvent{PaymentId: "pay_1", Amount: 50, Status: "settled"}, true},
		{"no payment id", PaymentEvent{AccountId: "acc_1", Amount: 50, Status: "settled"}, true},
		{"zero amount", PaymentEvent{PaymentId: "pay_1", AccountId: "acc_1", Status: "settled"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.ValidatePaymentEvent()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.True(t, (&PaymentEvent{Status: "SETTLED"}).Settled())
	assert.False(t, (&PaymentEvent{Status: "pending"}).Settled())
}

func TestLedgerHistoryQuery(t *testing.T) {
	q := LedgerHistoryQuery{
		Types: []string{model.TxnPurchase, model.TxnTopUp},
		From:  "2024-04-22T15:28:03+00:00",
		Limit: 10,
	}
	require.NoError(t, q.ValidateLedgerHistoryQuery())
	filter := q.ToFilter()
	require.NotNil(t, filter.From)
	assert.Nil(t, filter.To)
	assert.Equal(t, time.Date(2024, 4, 22, 15, 28, 3, 0, time.UTC), filter.From.UTC())
	assert.Equal(t, 10, filter.Limit)

	assert.Error(t, (&LedgerHistoryQuery{Types: []string{"bonus"}}).ValidateLedgerHistoryQuery())
	assert.Error(t, (&LedgerHistoryQuery{From: "22/04/2024"}).ValidateLedgerHistoryQuery())
	assert.Error(t, (&LedgerHistoryQuery{Offset: -1}).ValidateLedgerHistoryQuery())
}
