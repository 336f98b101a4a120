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

package database

import (
	"context"
	"time"

	"github.com/oriphiel-hr/leadflow/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	lead         // Interface for lead-related operations
	assignment   // Interface for queue assignment operations
	creditLedger // Interface for credit account and transaction operations
	partnerScore // Interface for score snapshot operations
	partner      // Interface for the partner directory table
	contactEvent // Interface for partner-client contact events
}

// FairnessGuard bounds how many offers a partner may receive inside a sliding window.
// A zero Cap disables the check.
type FairnessGuard struct {
	Cap   int
	Since time.Time
}

// lead defines methods for handling leads.
type lead interface {
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	UpdateLead(ctx context.Context, lead *model.Lead) error
	GetLeadsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.Lead, error)
}

// assignment defines methods for handling queue assignments.
type assignment interface {
	CreateOffer(ctx context.Context, lead *model.Lead, offer *model.QueueAssignment, guard FairnessGuard) error
	GetAssignment(ctx context.Context, id string) (*model.QueueAssignment, error)
	GetAssignmentsByLead(ctx context.Context, leadID string) ([]*model.QueueAssignment, error)
	TransitionAssignment(ctx context.Context, a *model.QueueAssignment, from string, lead *model.Lead) error
	MarkReminded(ctx context.Context, a *model.QueueAssignment, at time.Time) error
	GetExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*model.QueueAssignment, error)
	GetReminderCandidates(ctx context.Context, now time.Time, fraction float64, limit int) ([]*model.QueueAssignment, error)
	GetRefundableAcceptances(ctx context.Context, acceptedBefore time.Time, contactWindow time.Duration, limit int) ([]*model.QueueAssignment, error)
	CountRecentOffers(ctx context.Context, partnerID string, since time.Time) (int, error)
	GetLastOfferTimes(ctx context.Context, partnerIDs []string) (map[string]time.Time, error)
	GetPartnerQueueStats(ctx context.Context, partnerID string) (*model.PartnerQueueStats, error)
}

// creditLedger defines methods for handling credit accounts and their transactions.
type creditLedger interface {
	CreateAccount(ctx context.Context, account *model.CreditAccount) error
	GetAccount(ctx context.Context, id string) (*model.CreditAccount, error)
	GetAccountByPartner(ctx context.Context, partnerID string) (*model.CreditAccount, error)
	ApplyTransaction(ctx context.Context, account *model.CreditAccount, txn *model.CreditTransaction) error
	GetTransactionByRef(ctx context.Context, reference string, types ...string) (*model.CreditTransaction, error)
	GetTransactions(ctx context.Context, accountID string, filter model.LedgerFilter) ([]model.CreditTransaction, int64, error)
	SumTransactions(ctx context.Context, accountID string) (int64, int64, error)
}

// partnerScore defines methods for score snapshots.
type partnerScore interface {
	RecordPartnerScore(ctx context.Context, score *model.PartnerScore) error
	GetLatestPartnerScores(ctx context.Context, partnerIDs []string) (map[string]*model.PartnerScore, error)
}

// partner defines methods for the partner directory table.
type partner interface {
	EligiblePartners(ctx context.Context, category, region string) ([]string, error)
	GetPartnerMetrics(ctx context.Context, partnerIDs []string) ([]model.PartnerMetrics, error)
	ListActivePartnerIDs(ctx context.Context) ([]string, error)
}

// contactEvent defines methods for partner-client contact events.
type contactEvent interface {
	RecordContactEvent(ctx context.Context, event *model.ContactEvent) error
	HasContactSince(ctx context.Context, leadID, partnerID string, since time.Time) (bool, error)
}
