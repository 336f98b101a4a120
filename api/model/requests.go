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

type CreateLead struct {
	Category  string                 `json:"category"`
	Region    string                 `json:"region"`
	BudgetMin int64                  `json:"budget_min"`
	BudgetMax int64                  `json:"budget_max"`
	Urgent    bool                   `json:"urgent"`
	Premium   bool                   `json:"premium"`
	Price     int64                  `json:"price"`
	CreatorId string                 `json:"creator_id"`
	MetaData  map[string]interface{} `json:"meta_data"`
}

type RespondToOffer struct {
	PartnerId string `json:"partner_id"`
	Decision  string `json:"decision"`
}

type SkipAssignment struct {
	Note string `json:"note"`
}

type RefundAssignment struct {
	Type string `json:"type"`
}

type RecordContact struct {
	PartnerId string `json:"partner_id"`
	Channel   string `json:"channel"`
}

type CreateAccount struct {
	PartnerId string `json:"partner_id"`
}

type CreateAdjustment struct {
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

// PaymentEvent is what the payment processor posts once a top-up has settled.
type PaymentEvent struct {
	PaymentId string `json:"payment_id"`
	AccountId string `json:"account_id"`
	PartnerId string `json:"partner_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// LedgerHistoryQuery is bound from the query string of the transactions listing.
type LedgerHistoryQuery struct {
	Types  []string `form:"type"`
	From   string   `form:"from"`
	To     string   `form:"to"`
	Limit  int      `form:"limit"`
	Offset int      `form:"offset"`
}
