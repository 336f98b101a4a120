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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oriphiel-hr/leadflow/database"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
)

// Partner is a directory row held by MemoryDataSource.
type Partner struct {
	Metrics    model.PartnerMetrics
	Categories []string
	Regions    []string
}

// MemoryDataSource is an in-process IDataSource with the same version and uniqueness
// rules as the Postgres datasource. It is safe for concurrent use.
type MemoryDataSource struct {
	mu           sync.Mutex
	leads        map[string]*model.Lead
	assignments  map[string]*model.QueueAssignment
	accounts     map[string]*model.CreditAccount
	transactions []*model.CreditTransaction
	scores       []*model.PartnerScore
	partners     map[string]*Partner
	contacts     []*model.ContactEvent

	// FailApply, when set, is returned by ApplyTransaction before anything is written.
	FailApply error
	// ConflictsBeforeApply makes that many ApplyTransaction calls fail with a version conflict.
	ConflictsBeforeApply int
}

var _ database.IDataSource = (*MemoryDataSource)(nil)

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		leads:       make(map[string]*model.Lead),
		assignments: make(map[string]*model.QueueAssignment),
		accounts:    make(map[string]*model.CreditAccount),
		partners:    make(map[string]*Partner),
	}
}

// AddPartner registers a directory entry. Category and region matching is case-insensitive.
func (m *MemoryDataSource) AddPartner(metrics model.PartnerMetrics, categories, regions []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Partner{Metrics: metrics}
	for _, c := range categories {
		p.Categories = append(p.Categories, strings.ToLower(c))
	}
	for _, r := range regions {
		p.Regions = append(p.Regions, strings.ToLower(r))
	}
	m.partners[metrics.PartnerID] = p
}

func conflict(format string, args ...interface{}) error {
	return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf(format, args...), nil)
}

func notFound(format string, args ...interface{}) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf(format, args...), nil)
}

func copyLead(l *model.Lead) *model.Lead {
	c := *l
	if l.MetaData != nil {
		c.MetaData = make(map[string]interface{}, len(l.MetaData))
		for k, v := range l.MetaData {
			c.MetaData[k] = v
		}
	}
	return &c
}

func copyAssignment(a *model.QueueAssignment) *model.QueueAssignment {
	c := *a
	return &c
}

// Leads

func (m *MemoryDataSource) CreateLead(_ context.Context, lead *model.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lead.LeadID == "" {
		lead.LeadID = model.GenerateUUIDWithSuffix("led")
	}
	if _, ok := m.leads[lead.LeadID]; ok {
		return conflict("Lead with this ID already exists")
	}
	now := time.Now().UTC()
	lead.CreatedAt, lead.UpdatedAt = now, now
	if lead.Status == "" {
		lead.Status = model.LeadWaiting
	}
	if lead.Round == 0 {
		lead.Round = 1
	}
	m.leads[lead.LeadID] = copyLead(lead)
	return nil
}

func (m *MemoryDataSource) GetLead(_ context.Context, id string) (*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, notFound("Lead with ID '%s' not found", id)
	}
	return copyLead(l), nil
}

func (m *MemoryDataSource) updateLeadLocked(lead *model.Lead) error {
	stored, ok := m.leads[lead.LeadID]
	if !ok || stored.Version != lead.Version {
		return conflict("Optimistic locking failure: lead with ID '%s' may have been updated by another transaction", lead.LeadID)
	}
	return nil
}

func (m *MemoryDataSource) commitLeadLocked(lead *model.Lead) {
	lead.Version++
	lead.UpdatedAt = time.Now().UTC()
	m.leads[lead.LeadID] = copyLead(lead)
}

func (m *MemoryDataSource) UpdateLead(_ context.Context, lead *model.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateLeadLocked(lead); err != nil {
		return err
	}
	m.commitLeadLocked(lead)
	return nil
}

func (m *MemoryDataSource) GetLeadsByStatus(_ context.Context, status string, limit, offset int) ([]*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	leads := []*model.Lead{}
	for _, l := range m.leads {
		if l.Status == status {
			leads = append(leads, copyLead(l))
		}
	}
	sort.Slice(leads, func(i, j int) bool { return leads[i].CreatedAt.Before(leads[j].CreatedAt) })
	return page(leads, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Assignments

func (m *MemoryDataSource) CreateOffer(_ context.Context, lead *model.Lead, offer *model.QueueAssignment, guard database.FairnessGuard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.updateLeadLocked(lead); err != nil {
		return err
	}
	attempt := 1
	for _, a := range m.assignments {
		if a.LeadID != lead.LeadID {
			continue
		}
		if a.Status == model.AssignmentOffered {
			return database.ErrOfferAlreadyOpen
		}
		if a.Attempt >= attempt {
			attempt = a.Attempt + 1
		}
	}
	if guard.Cap > 0 {
		recent := 0
		for _, a := range m.assignments {
			if a.PartnerID == offer.PartnerID && !a.OfferedAt.Before(guard.Since) {
				recent++
			}
		}
		if recent >= guard.Cap {
			return database.ErrFairnessCapReached
		}
	}

	if offer.AssignmentID == "" {
		offer.AssignmentID = model.GenerateUUIDWithSuffix("asg")
	}
	offer.LeadID = lead.LeadID
	offer.Round = lead.Round
	offer.Status = model.AssignmentOffered
	offer.Attempt = attempt
	offer.Version = 0
	m.assignments[offer.AssignmentID] = copyAssignment(offer)

	lead.Status = model.LeadOffered
	m.commitLeadLocked(lead)
	return nil
}

func (m *MemoryDataSource) GetAssignment(_ context.Context, id string) (*model.QueueAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, notFound("Assignment with ID '%s' not found", id)
	}
	return copyAssignment(a), nil
}

func (m *MemoryDataSource) filterAssignments(keep func(a *model.QueueAssignment) bool) []*model.QueueAssignment {
	out := []*model.QueueAssignment{}
	for _, a := range m.assignments {
		if keep(a) {
			out = append(out, copyAssignment(a))
		}
	}
	return out
}

func (m *MemoryDataSource) GetAssignmentsByLead(_ context.Context, leadID string) ([]*model.QueueAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filterAssignments(func(a *model.QueueAssignment) bool { return a.LeadID == leadID })
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (m *MemoryDataSource) TransitionAssignment(_ context.Context, a *model.QueueAssignment, from string, lead *model.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.assignments[a.AssignmentID]
	if !ok || stored.Status != from || stored.Version != a.Version {
		return conflict("Optimistic locking failure: assignment with ID '%s' is no longer %s", a.AssignmentID, from)
	}
	if lead != nil {
		if err := m.updateLeadLocked(lead); err != nil {
			return err
		}
	}

	a.Version++
	m.assignments[a.AssignmentID] = copyAssignment(a)
	if lead != nil {
		m.commitLeadLocked(lead)
	}
	return nil
}

func (m *MemoryDataSource) MarkReminded(_ context.Context, a *model.QueueAssignment, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.assignments[a.AssignmentID]
	if !ok || stored.Version != a.Version || stored.Status != model.AssignmentOffered || stored.RemindedAt != nil {
		return conflict("assignment with ID '%s' was already reminded or closed", a.AssignmentID)
	}
	stored.RemindedAt = &at
	stored.Version++
	a.RemindedAt = &at
	a.Version = stored.Version
	return nil
}

func sortByDeadline(out []*model.QueueAssignment) {
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
}

func (m *MemoryDataSource) GetExpiredOffers(_ context.Context, now time.Time, limit int) ([]*model.QueueAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filterAssignments(func(a *model.QueueAssignment) bool { return a.IsOverdue(now) })
	sortByDeadline(out)
	return page(out, limit, 0), nil
}

func (m *MemoryDataSource) GetReminderCandidates(_ context.Context, now time.Time, fraction float64, limit int) ([]*model.QueueAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filterAssignments(func(a *model.QueueAssignment) bool { return a.ReminderDue(now, fraction) })
	sortByDeadline(out)
	return page(out, limit, 0), nil
}

func (m *MemoryDataSource) hasContactLocked(leadID, partnerID string, since time.Time) bool {
	for _, c := range m.contacts {
		if c.LeadID == leadID && c.PartnerID == partnerID && !c.CreatedAt.Before(since) {
			return true
		}
	}
	return false
}

// hasContactWithinLocked reports a contact in [from, from+window).
func (m *MemoryDataSource) hasContactWithinLocked(leadID, partnerID string, from time.Time, window time.Duration) bool {
	until := from.Add(window)
	for _, c := range m.contacts {
		if c.LeadID == leadID && c.PartnerID == partnerID && !c.CreatedAt.Before(from) && c.CreatedAt.Before(until) {
			return true
		}
	}
	return false
}

func (m *MemoryDataSource) GetRefundableAcceptances(_ context.Context, acceptedBefore time.Time, contactWindow time.Duration, limit int) ([]*model.QueueAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filterAssignments(func(a *model.QueueAssignment) bool {
		if a.Status != model.AssignmentAccepted || a.RefundedAt != nil || a.RespondedAt == nil {
			return false
		}
		if a.RespondedAt.After(acceptedBefore) {
			return false
		}
		return !m.hasContactWithinLocked(a.LeadID, a.PartnerID, *a.RespondedAt, contactWindow)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RespondedAt.Before(*out[j].RespondedAt) })
	return page(out, limit, 0), nil
}

func (m *MemoryDataSource) CountRecentOffers(_ context.Context, partnerID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.assignments {
		if a.PartnerID == partnerID && !a.OfferedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryDataSource) GetLastOfferTimes(_ context.Context, partnerIDs []string) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(partnerIDs))
	for _, id := range partnerIDs {
		wanted[id] = true
	}
	result := make(map[string]time.Time)
	for _, a := range m.assignments {
		if !wanted[a.PartnerID] {
			continue
		}
		if last, ok := result[a.PartnerID]; !ok || a.OfferedAt.After(last) {
			result[a.PartnerID] = a.OfferedAt
		}
	}
	return result, nil
}

func (m *MemoryDataSource) GetPartnerQueueStats(_ context.Context, partnerID string) (*model.PartnerQueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range m.assignments {
		if a.PartnerID == partnerID {
			counts[a.Status]++
		}
	}
	return model.NewPartnerQueueStats(partnerID, counts), nil
}

// OfferedCount returns how many assignments of the lead are currently OFFERED.
func (m *MemoryDataSource) OfferedCount(leadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.assignments {
		if a.LeadID == leadID && a.Status == model.AssignmentOffered {
			n++
		}
	}
	return n
}

// ShiftAssignmentTimes moves every timestamp of an assignment by d, to simulate elapsed time.
func (m *MemoryDataSource) ShiftAssignmentTimes(id string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return
	}
	a.OfferedAt = a.OfferedAt.Add(d)
	a.ExpiresAt = a.ExpiresAt.Add(d)
	if a.RespondedAt != nil {
		t := a.RespondedAt.Add(d)
		a.RespondedAt = &t
	}
}

// Credit ledger

func (m *MemoryDataSource) CreateAccount(_ context.Context, account *model.CreditAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.PartnerID == account.PartnerID {
			return conflict("Partner '%s' already has a credit account", account.PartnerID)
		}
	}
	if account.AccountID == "" {
		account.AccountID = model.GenerateUUIDWithSuffix("acc")
	}
	now := time.Now().UTC()
	account.CreatedAt, account.UpdatedAt = now, now
	account.Balance, account.Version = 0, 0
	c := *account
	m.accounts[account.AccountID] = &c
	return nil
}

func (m *MemoryDataSource) GetAccount(_ context.Context, id string) (*model.CreditAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, notFound("Credit account with account_id '%s' not found", id)
	}
	c := *a
	return &c, nil
}

func (m *MemoryDataSource) GetAccountByPartner(_ context.Context, partnerID string) (*model.CreditAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.PartnerID == partnerID {
			c := *a
			return &c, nil
		}
	}
	return nil, notFound("Credit account with partner_id '%s' not found", partnerID)
}

func (m *MemoryDataSource) ApplyTransaction(_ context.Context, account *model.CreditAccount, txn *model.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailApply != nil {
		return m.FailApply
	}
	if m.ConflictsBeforeApply > 0 {
		m.ConflictsBeforeApply--
		return conflict("Optimistic locking failure: credit account with ID '%s' may have been updated by another transaction", account.AccountID)
	}

	stored, ok := m.accounts[account.AccountID]
	if !ok || stored.Version != account.Version {
		return conflict("Optimistic locking failure: credit account with ID '%s' may have been updated by another transaction", account.AccountID)
	}
	for _, t := range m.transactions {
		if t.Reference != txn.Reference {
			continue
		}
		if t.Type == txn.Type || (contains(model.RefundTypes, t.Type) && contains(model.RefundTypes, txn.Type)) {
			return database.ErrDuplicateReference
		}
	}

	staged := *txn
	if staged.TransactionID == "" {
		staged.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	staged.AccountID = account.AccountID
	staged.BalanceBefore = stored.Balance
	staged.BalanceAfter = stored.Balance + staged.Amount
	staged.CreatedAt = time.Now().UTC()

	stored.Balance = staged.BalanceAfter
	stored.Version++
	stored.UpdatedAt = staged.CreatedAt
	m.transactions = append(m.transactions, &staged)

	*account = *stored
	*txn = staged
	return nil
}

func (m *MemoryDataSource) GetTransactionByRef(_ context.Context, reference string, types ...string) (*model.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.Reference != reference {
			continue
		}
		if len(types) > 0 && !contains(types, t.Type) {
			continue
		}
		c := *t
		return &c, nil
	}
	return nil, notFound("Transaction with reference '%s' not found", reference)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (m *MemoryDataSource) GetTransactions(_ context.Context, accountID string, filter model.LedgerFilter) ([]model.CreditTransaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := []model.CreditTransaction{}
	for i := len(m.transactions) - 1; i >= 0; i-- {
		t := m.transactions[i]
		if t.AccountID != accountID {
			continue
		}
		if len(filter.Types) > 0 && !contains(filter.Types, t.Type) {
			continue
		}
		if filter.From != nil && t.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !t.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, *t)
	}
	return page(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

func (m *MemoryDataSource) SumTransactions(_ context.Context, accountID string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum, count int64
	for _, t := range m.transactions {
		if t.AccountID == accountID {
			sum += t.Amount
			count++
		}
	}
	return sum, count, nil
}

// TransactionsByReference returns every ledger row recorded for the reference.
func (m *MemoryDataSource) TransactionsByReference(reference string) []model.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CreditTransaction{}
	for _, t := range m.transactions {
		if t.Reference == reference {
			out = append(out, *t)
		}
	}
	return out
}

// Scores

func (m *MemoryDataSource) RecordPartnerScore(_ context.Context, score *model.PartnerScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if score.ScoreID == "" {
		score.ScoreID = model.GenerateUUIDWithSuffix("psc")
	}
	if score.ComputedAt.IsZero() {
		score.ComputedAt = time.Now().UTC()
	}
	c := *score
	m.scores = append(m.scores, &c)
	return nil
}

func (m *MemoryDataSource) GetLatestPartnerScores(_ context.Context, partnerIDs []string) (map[string]*model.PartnerScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]*model.PartnerScore)
	for _, id := range partnerIDs {
		for _, s := range m.scores {
			if s.PartnerID != id {
				continue
			}
			if cur, ok := result[id]; !ok || !s.ComputedAt.Before(cur.ComputedAt) {
				c := *s
				result[id] = &c
			}
		}
	}
	return result, nil
}

// Partners

func (m *MemoryDataSource) EligiblePartners(_ context.Context, category, region string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for id, p := range m.partners {
		if p.Metrics.Active && contains(p.Categories, strings.ToLower(category)) && contains(p.Regions, strings.ToLower(region)) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryDataSource) GetPartnerMetrics(_ context.Context, partnerIDs []string) ([]model.PartnerMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.PartnerMetrics{}
	for _, id := range partnerIDs {
		if p, ok := m.partners[id]; ok {
			out = append(out, p.Metrics)
		}
	}
	return out, nil
}

func (m *MemoryDataSource) ListActivePartnerIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for id, p := range m.partners {
		if p.Metrics.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Contact events

func (m *MemoryDataSource) RecordContactEvent(_ context.Context, event *model.ContactEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[event.LeadID]; !ok {
		return notFound("Lead for contact event not found")
	}
	if event.EventID == "" {
		event.EventID = model.GenerateUUIDWithSuffix("cev")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	c := *event
	m.contacts = append(m.contacts, &c)
	return nil
}

func (m *MemoryDataSource) HasContactSince(_ context.Context, leadID, partnerID string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasContactLocked(leadID, partnerID, since), nil
}
