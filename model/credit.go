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
	"encoding/json"
	"time"
)

const (
	TxnPurchase         = "purchase"
	TxnRefund           = "refund"
	TxnAutoRefund       = "auto_refund"
	TxnManualAdjustment = "manual_adjustment"
	TxnTopUp            = "topup"
)

// RefundTypes are the transaction types that reverse a purchase.
var RefundTypes = []string{TxnRefund, TxnAutoRefund}

// IsCreditType reports whether t may be issued through Credit.
func IsCreditType(t string) bool {
	switch t {
	case TxnRefund, TxnAutoRefund, TxnManualAdjustment, TxnTopUp:
		return true
	}
	return false
}

// CreditAccount holds a partner's credit balance. Balance is a cache of the
// transaction sum; Version guards every write.
type CreditAccount struct {
	ID        int64     `json:"-"`
	AccountID string    `json:"account_id"`
	PartnerID string    `json:"partner_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditTransaction is an append-only ledger row.
type CreditTransaction struct {
	ID            int64                  `json:"-"`
	TransactionID string                 `json:"transaction_id"`
	AccountID     string                 `json:"account_id"`
	Amount        int64                  `json:"amount"`
	BalanceBefore int64                  `json:"balance_before"`
	BalanceAfter  int64                  `json:"balance_after"`
	Type          string                 `json:"type"`
	Reference     string                 `json:"reference"`
	LeadID        string                 `json:"lead_id,omitempty"`
	AssignmentID  string                 `json:"assignment_id,omitempty"`
	Description   string                 `json:"description,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
}

func (txn *CreditTransaction) ToJSON() ([]byte, error) {
	return json.Marshal(txn)
}

// LedgerReference ties a ledger movement back to the queue row that caused it.
type LedgerReference struct {
	Reference    string `json:"reference"`
	LeadID       string `json:"lead_id,omitempty"`
	AssignmentID string `json:"assignment_id,omitempty"`
	Description  string `json:"description,omitempty"`
}

// LedgerFilter narrows a transaction history listing.
type LedgerFilter struct {
	Types  []string   `json:"types,omitempty"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// LedgerPage is one page of an account's history.
type LedgerPage struct {
	AccountID    string              `json:"account_id"`
	Transactions []CreditTransaction `json:"transactions"`
	Total        int64               `json:"total"`
	Limit        int                 `json:"limit"`
	Offset       int                 `json:"offset"`
}

// AccountAudit compares an account's cached balance with the sum of its transactions.
type AccountAudit struct {
	AccountID      string `json:"account_id"`
	CachedBalance  int64  `json:"cached_balance"`
	LedgerSum      int64  `json:"ledger_sum"`
	Consistent     bool   `json:"consistent"`
	TransactionCnt int64  `json:"transaction_count"`
}
