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
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/oriphiel-hr/leadflow/model"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

// PaymentSettled is the only payment status that credits an account.
const PaymentSettled = "settled"

func validateDateFormat(value interface{}) error {
	dateStr, ok := value.(string)
	if !ok {
		return errors.New("invalid type for date")
	}
	if _, err := time.Parse(timeFormat, dateStr); err != nil {
		return errors.New("please format the date as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2024-04-22T15:28:03+00:00)")
	}
	return nil
}

func (l *CreateLead) ValidateCreateLead() error {
	return validation.ValidateStruct(l,
		validation.Field(&l.Category, validation.Required),
		validation.Field(&l.Region, validation.Required),
		validation.Field(&l.Price, validation.Required, validation.Min(int64(1))),
		validation.Field(&l.BudgetMin, validation.Min(int64(0))),
		validation.Field(&l.BudgetMax, validation.Min(l.BudgetMin).Error("budget_max must not be below budget_min")),
	)
}

func (r *RespondToOffer) ValidateRespondToOffer() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.PartnerId, validation.Required),
		validation.Field(&r.Decision, validation.Required, validation.In(string(model.DecisionInterested), string(model.DecisionNotInterested))),
	)
}

func (r *RefundAssignment) ValidateRefundAssignment() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Type, validation.In(model.TxnRefund, model.TxnAutoRefund)),
	)
}

func (r *RecordContact) ValidateRecordContact() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.PartnerId, validation.Required),
	)
}

func (a *CreateAccount) ValidateCreateAccount() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.PartnerId, validation.Required),
	)
}

func (a *CreateAdjustment) ValidateCreateAdjustment() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Amount, validation.Required.Error("amount must be a non-zero number of credits")),
		validation.Field(&a.Reference, validation.Required),
	)
}

func (p *PaymentEvent) ValidatePaymentEvent() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.PaymentId, validation.Required),
		validation.Field(&p.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&p.AccountId, validation.When(p.PartnerId == "", validation.Required.Error("account_id or partner_id is required"))),
		validation.Field(&p.Status, validation.Required),
	)
}

func (q *LedgerHistoryQuery) ValidateLedgerHistoryQuery() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Types, validation.Each(validation.In(model.TxnPurchase, model.TxnRefund, model.TxnAutoRefund, model.TxnManualAdjustment, model.TxnTopUp))),
		validation.Field(&q.From, validation.When(q.From != "", validation.By(validateDateFormat))),
		validation.Field(&q.To, validation.When(q.To != "", validation.By(validateDateFormat))),
		validation.Field(&q.Limit, validation.Min(0)),
		validation.Field(&q.Offset, validation.Min(0)),
	)
}

func (l *CreateLead) ToLead() *model.Lead {
	return &model.Lead{
		Category:  strings.ToLower(strings.TrimSpace(l.Category)),
		Region:    strings.TrimSpace(l.Region),
		BudgetMin: l.BudgetMin,
		BudgetMax: l.BudgetMax,
		Urgent:    l.Urgent,
		Premium:   l.Premium,
		Price:     l.Price,
		CreatorID: l.CreatorId,
		MetaData:  l.MetaData,
	}
}

func (r *RespondToOffer) ToDecision() model.Decision {
	return model.Decision(r.Decision)
}

func (r *RefundAssignment) RefundType() string {
	if r.Type == "" {
		return model.TxnRefund
	}
	return r.Type
}

func (a *CreateAdjustment) ToReference() model.LedgerReference {
	return model.LedgerReference{Reference: a.Reference, Description: a.Description}
}

func (p *PaymentEvent) Settled() bool {
	return strings.EqualFold(p.Status, PaymentSettled)
}

// ToFilter converts the query into a ledger filter. Dates were validated beforehand.
func (q *LedgerHistoryQuery) ToFilter() model.LedgerFilter {
	filter := model.LedgerFilter{Types: q.Types, Limit: q.Limit, Offset: q.Offset}
	if q.From != "" {
		from, _ := time.Parse(timeFormat, q.From)
		filter.From = &from
	}
	if q.To != "" {
		to, _ := time.Parse(timeFormat, q.To)
		filter.To = &to
	}
	return filter
}
