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

package mocks

import (
	"context"
	"time"

	"github.com/oriphiel-hr/leadflow/database"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

var _ database.IDataSource = (*MockDataSource)(nil)

// Lead methods

func (m *MockDataSource) CreateLead(ctx context.Context, lead *model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *MockDataSource) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *MockDataSource) UpdateLead(ctx context.Context, lead *model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *MockDataSource) GetLeadsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.Lead, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]*model.Lead), args.Error(1)
}

// Assignment methods

func (m *MockDataSource) CreateOffer(ctx context.Context, lead *model.Lead, offer *model.QueueAssignment, guard database.FairnessGuard) error {
	args := m.Called(ctx, lead, offer, guard)
	return args.Error(0)
}

func (m *MockDataSource) GetAssignment(ctx context.Context, id string) (*model.QueueAssignment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueAssignment), args.Error(1)
}

func (m *MockDataSource) GetAssignmentsByLead(ctx context.Context, leadID string) ([]*model.QueueAssignment, error) {
	args := m.Called(ctx, leadID)
	return args.Get(0).([]*model.QueueAssignment), args.Error(1)
}

func (m *MockDataSource) TransitionAssignment(ctx context.Context, a *model.QueueAssignment, from string, lead *model.Lead) error {
	args := m.Called(ctx, a, from, lead)
	return args.Error(0)
}

func (m *MockDataSource) MarkReminded(ctx context.Context, a *model.QueueAssignment, at time.Time) error {
	args := m.Called(ctx, a, at)
	return args.Error(0)
}

func (m *MockDataSource) GetExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*model.QueueAssignment, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]*model.QueueAssignment), args.Error(1)
}

func (m *MockDataSource) GetReminderCandidates(ctx context.Context, now time.Time, fraction float64, limit int) ([]*model.QueueAssignment, error) {
	args := m.Called(ctx, now, fraction, limit)
	return args.Get(0).([]*model.QueueAssignment), args.Error(1)
}

func (m *MockDataSource) GetRefundableAcceptances(ctx context.Context, acceptedBefore time.Time, contactWindow time.Duration, limit int) ([]*model.QueueAssignment, error) {
	args := m.Called(ctx, acceptedBefore, contactWindow, limit)
	return args.Get(0).([]*model.QueueAssignment), args.Error(1)
}

func (m *MockDataSource) CountRecentOffers(ctx context.Context, partnerID string, since time.Time) (int, error) {
	args := m.Called(ctx, partnerID, since)
	return args.Int(0), args.Error(1)
}

func (m *MockDataSource) GetLastOfferTimes(ctx context.Context, partnerIDs []string) (map[string]time.Time, error) {
	args := m.Called(ctx, partnerIDs)
	return args.Get(0).(map[string]time.Time), args.Error(1)
}

func (m *MockDataSource) GetPartnerQueueStats(ctx context.Context, partnerID string) (*model.PartnerQueueStats, error) {
	args := m.Called(ctx, partnerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PartnerQueueStats), args.Error(1)
}

// Credit ledger methods

func (m *MockDataSource) CreateAccount(ctx context.Context, account *model.CreditAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockDataSource) GetAccount(ctx context.Context, id string) (*model.CreditAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockDataSource) GetAccountByPartner(ctx context.Context, partnerID string) (*model.CreditAccount, error) {
	args := m.Called(ctx, partnerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockDataSource) ApplyTransaction(ctx context.Context, account *model.CreditAccount, txn *model.CreditTransaction) error {
	args := m.Called(ctx, account, txn)
	return args.Error(0)
}

func (m *MockDataSource) GetTransactionByRef(ctx context.Context, reference string, types ...string) (*model.CreditTransaction, error) {
	args := m.Called(ctx, reference, types)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditTransaction), args.Error(1)
}

func (m *MockDataSource) GetTransactions(ctx context.Context, accountID string, filter model.LedgerFilter) ([]model.CreditTransaction, int64, error) {
	args := m.Called(ctx, accountID, filter)
	return args.Get(0).([]model.CreditTransaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockDataSource) SumTransactions(ctx context.Context, accountID string) (int64, int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

// Score methods

func (m *MockDataSource) RecordPartnerScore(ctx context.Context, score *model.PartnerScore) error {
	args := m.Called(ctx, score)
	return args.Error(0)
}

func (m *MockDataSource) GetLatestPartnerScores(ctx context.Context, partnerIDs []string) (map[string]*model.PartnerScore, error) {
	args := m.Called(ctx, partnerIDs)
	return args.Get(0).(map[string]*model.PartnerScore), args.Error(1)
}

// Partner methods

func (m *MockDataSource) EligiblePartners(ctx context.Context, category, region string) ([]string, error) {
	args := m.Called(ctx, category, region)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDataSource) GetPartnerMetrics(ctx context.Context, partnerIDs []string) ([]model.PartnerMetrics, error) {
	args := m.Called(ctx, partnerIDs)
	return args.Get(0).([]model.PartnerMetrics), args.Error(1)
}

func (m *MockDataSource) ListActivePartnerIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

// Contact event methods

func (m *MockDataSource) RecordContactEvent(ctx context.Context, event *model.ContactEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockDataSource) HasContactSince(ctx context.Context, leadID, partnerID string, since time.Time) (bool, error) {
	args := m.Called(ctx, leadID, partnerID, since)
	return args.Bool(0), args.Error(1)
}
