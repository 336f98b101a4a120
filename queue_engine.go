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

package leadflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/database"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/internal/search"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/sirupsen/logrus"
)

var leadStatuses = []interface{}{model.LeadWaiting, model.LeadOffered, model.LeadAccepted, model.LeadExhausted}

func cloneLead(lead *model.Lead) *model.Lead {
	c := *lead
	if lead.MetaData != nil {
		c.MetaData = make(map[string]interface{}, len(lead.MetaData))
		for k, v := range lead.MetaData {
			c.MetaData[k] = v
		}
	}
	return &c
}

func isConflict(err error) bool {
	return apierror.HasCode(err, apierror.ErrConflict)
}

func validateLead(lead *model.Lead) error {
	err := validation.ValidateStruct(lead,
		validation.Field(&lead.Category, validation.Required),
		validation.Field(&lead.Region, validation.Required),
		validation.Field(&lead.Price, validation.Required, validation.Min(int64(1))),
		validation.Field(&lead.BudgetMin, validation.Min(int64(0))),
		validation.Field(&lead.BudgetMax, validation.Min(lead.BudgetMin).Error("budget_max must not be below budget_min")),
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	return nil
}

// Enqueue admits a new lead. Eligibility is established before anything is stored, so an
// unreachable directory rejects the lead instead of parking it. The returned offer is nil
// when no partner could take the lead and it went straight to EXHAUSTED.
func (l *Leadflow) Enqueue(ctx context.Context, lead *model.Lead) (*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Enqueue")
	defer span.End()

	lead.Category = strings.TrimSpace(lead.Category)
	lead.Region = strings.TrimSpace(lead.Region)
	if err := validateLead(lead); err != nil {
		return nil, err
	}

	eligible, err := l.directory.EligiblePartners(ctx, lead.Category, lead.Region)
	if err != nil {
		logrus.WithError(err).WithField("category", lead.Category).Error("directory lookup failed, rejecting lead")
		return nil, recordError(span, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err))
	}
	if eligible == nil {
		eligible = []string{}
	}

	lead.Status = model.LeadWaiting
	lead.Round = 1
	lead.AcceptedBy, lead.AcceptedAt = "", nil
	if err := l.datasource.CreateLead(ctx, lead); err != nil {
		return nil, err
	}
	l.index(ctx, search.CollectionLeads, lead.LeadID, lead)

	return l.offerNext(ctx, lead, eligible)
}

// Advance offers a waiting lead to its next candidate. It is safe to call from any number
// of goroutines or processes at once: the lead version lets exactly one of them create the
// offer and the rest return that offer. A lead that is not WAITING is left alone.
func (l *Leadflow) Advance(ctx context.Context, leadID string) (*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Advance")
	defer span.End()

	lead, err := l.datasource.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Status != model.LeadWaiting {
		return l.activeOffer(ctx, leadID)
	}
	return l.offerNext(ctx, lead, nil)
}

func (l *Leadflow) offerNext(ctx context.Context, lead *model.Lead, eligible []string) (*model.QueueAssignment, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	history, err := l.datasource.GetAssignmentsByLead(ctx, lead.LeadID)
	if err != nil {
		return nil, err
	}
	for _, a := range history {
		if a.Status == model.AssignmentOffered {
			return a, nil
		}
	}

	pool, err := l.candidatePool(ctx, lead, history, eligible)
	if err != nil {
		return nil, err
	}

	window := cfg.Distribution.SLAWindow(lead.Category, lead.Urgent)
	for _, c := range pool {
		now := l.now()
		guard := database.FairnessGuard{Cap: cfg.Distribution.FairnessCap, Since: now.Add(-cfg.Distribution.FairnessWindow())}
		offer := &model.QueueAssignment{
			PartnerID: c.PartnerID,
			Score:     c.Score,
			Tier:      c.Tier,
			OfferedAt: now,
			ExpiresAt: now.Add(window),
		}
		next := cloneLead(lead)
		err := l.datasource.CreateOffer(ctx, next, offer, guard)
		switch {
		case err == nil:
			*lead = *next
			logrus.WithFields(logrus.Fields{
				"lead_id":    lead.LeadID,
				"partner_id": offer.PartnerID,
				"attempt":    offer.Attempt,
				"expires_at": offer.ExpiresAt,
			}).Info("lead offered")
			l.notifier.Notify(ctx, EventLeadOffered, offer)
			l.index(ctx, search.CollectionAssignments, offer.AssignmentID, offer)
			l.index(ctx, search.CollectionLeads, lead.LeadID, lead)
			return offer, nil
		case errors.Is(err, database.ErrFairnessCapReached):
			// filled up between the pool read and the insert
			continue
		case errors.Is(err, database.ErrOfferAlreadyOpen), isConflict(err):
			return l.activeOffer(ctx, lead.LeadID)
		default:
			return nil, err
		}
	}

	return nil, l.exhaust(ctx, lead, history)
}

// exhaust parks a lead that ran out of candidates in the holding pool.
func (l *Leadflow) exhaust(ctx context.Context, lead *model.Lead, history []*model.QueueAssignment) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	refusals := 0
	for _, a := range history {
		if a.Round != lead.Round {
			continue
		}
		switch a.Status {
		case model.AssignmentDeclined, model.AssignmentExpired, model.AssignmentSkipped:
			refusals++
		}
	}

	next := cloneLead(lead)
	next.Status = model.LeadExhausted
	problematic := refusals >= cfg.Distribution.ProblematicAfter
	if problematic {
		next.MarkProblematic(refusals)
	}
	if err := l.datasource.UpdateLead(ctx, next); err != nil {
		if isConflict(err) {
			// someone else moved the lead on; their outcome stands
			return nil
		}
		return err
	}
	*lead = *next

	logrus.WithFields(logrus.Fields{"lead_id": lead.LeadID, "refusals": refusals}).Warn("lead exhausted")
	l.notifier.Notify(ctx, EventLeadExhausted, lead)
	if problematic {
		l.notifier.Notify(ctx, EventLeadProblematic, lead)
	}
	l.index(ctx, search.CollectionLeads, lead.LeadID, lead)
	return nil
}

// activeOffer returns the lead's OFFERED assignment, or nil when there is none.
func (l *Leadflow) activeOffer(ctx context.Context, leadID string) (*model.QueueAssignment, error) {
	history, err := l.datasource.GetAssignmentsByLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	for _, a := range history {
		if a.Status == model.AssignmentOffered {
			return a, nil
		}
	}
	return nil, nil
}

// Respond applies a partner's decision to an offer. Repeating a decision that was already
// applied returns the assignment unchanged; any other late answer is ErrStaleAssignment.
func (l *Leadflow) Respond(ctx context.Context, assignmentID, partnerID string, decision model.Decision) (*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Respond")
	defer span.End()

	if !decision.Valid() {
		return nil, ErrInvalidDecision
	}
	a, err := l.datasource.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.PartnerID != partnerID {
		return nil, ErrForbidden
	}
	if a.Status != model.AssignmentOffered {
		if a.Status == decision.ResultingStatus() {
			return a, nil
		}
		return nil, ErrStaleAssignment
	}
	now := l.now()
	if !now.Before(a.ExpiresAt) {
		return nil, ErrStaleAssignment
	}

	if decision == model.DecisionNotInterested {
		return l.decline(ctx, a, now)
	}
	return l.accept(ctx, a, now)
}

func (l *Leadflow) decline(ctx context.Context, a *model.QueueAssignment, now time.Time) (*model.QueueAssignment, error) {
	lead, err := l.datasource.GetLead(ctx, a.LeadID)
	if err != nil {
		return nil, err
	}

	next := *a
	next.Status = model.AssignmentDeclined
	next.RespondedAt = &now
	nextLead := cloneLead(lead)
	nextLead.Status = model.LeadWaiting
	if err := l.datasource.TransitionAssignment(ctx, &next, model.AssignmentOffered, nextLead); err != nil {
		if isConflict(err) {
			return l.settled(ctx, a.AssignmentID, model.AssignmentDeclined)
		}
		return nil, err
	}

	l.notifier.Notify(ctx, EventLeadDeclined, &next)
	l.index(ctx, search.CollectionAssignments, next.AssignmentID, &next)
	l.refundOrphanPurchase(ctx, a)
	l.advanceQuietly(ctx, a.LeadID)
	return &next, nil
}

// refundOrphanPurchase credits back a purchase left by an accept that debited and then
// lost its transition. Called once the assignment has left OFFERED without being accepted.
func (l *Leadflow) refundOrphanPurchase(ctx context.Context, a *model.QueueAssignment) {
	orphan, err := l.findByReference(ctx, a.AssignmentID, model.TxnPurchase)
	if err != nil {
		logrus.WithError(err).WithField("assignment_id", a.AssignmentID).Error("orphan purchase lookup failed")
		return
	}
	if orphan == nil {
		return
	}
	if _, err := l.Refund(ctx, a.AssignmentID, model.TxnRefund); err != nil {
		logrus.WithError(err).WithField("assignment_id", a.AssignmentID).Error("failed to refund orphan purchase")
		return
	}
	logrus.WithFields(logrus.Fields{"assignment_id": a.AssignmentID, "partner_id": a.PartnerID}).Warn("refunded orphan purchase")
}

// accept debits the lead price and closes the lead. The purchase is looked up before
// debiting, so a retried accept reuses the debit of the attempt that failed after it.
func (l *Leadflow) accept(ctx context.Context, a *model.QueueAssignment, now time.Time) (*model.QueueAssignment, error) {
	lead, err := l.datasource.GetLead(ctx, a.LeadID)
	if err != nil {
		return nil, err
	}

	txn, err := l.purchase(ctx, a, lead)
	if err != nil {
		return nil, err
	}

	next := *a
	next.Status = model.AssignmentAccepted
	next.RespondedAt = &now
	next.TransactionID = txn.TransactionID
	nextLead := cloneLead(lead)
	nextLead.Status = model.LeadAccepted
	nextLead.AcceptedBy = a.PartnerID
	nextLead.AcceptedAt = &now
	if err := l.datasource.TransitionAssignment(ctx, &next, model.AssignmentOffered, nextLead); err != nil {
		if !isConflict(err) {
			return nil, err
		}
		return l.resolveAcceptConflict(ctx, a, txn)
	}

	logrus.WithFields(logrus.Fields{
		"lead_id":        lead.LeadID,
		"partner_id":     a.PartnerID,
		"transaction_id": txn.TransactionID,
	}).Info("lead accepted")
	l.notifier.Notify(ctx, EventLeadAccepted, &next)
	l.index(ctx, search.CollectionAssignments, next.AssignmentID, &next)
	l.index(ctx, search.CollectionLeads, nextLead.LeadID, nextLead)
	return &next, nil
}

func (l *Leadflow) purchase(ctx context.Context, a *model.QueueAssignment, lead *model.Lead) (*model.CreditTransaction, error) {
	existing, err := l.findByReference(ctx, a.AssignmentID, model.TxnPurchase)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	account, err := l.datasource.GetAccountByPartner(ctx, a.PartnerID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			logrus.WithField("partner_id", a.PartnerID).Error("accepting partner has no credit account")
			return nil, ErrAcceptRetry
		}
		return nil, err
	}

	txn, err := l.Debit(ctx, account.AccountID, lead.Price, model.LedgerReference{
		Reference:    a.AssignmentID,
		LeadID:       a.LeadID,
		AssignmentID: a.AssignmentID,
		Description:  "lead purchase",
	})
	switch {
	case err == nil:
		return txn, nil
	case errors.Is(err, database.ErrDuplicateReference):
		return l.datasource.GetTransactionByRef(ctx, a.AssignmentID, model.TxnPurchase)
	case errors.Is(err, ErrInsufficientFunds):
		// the platform initiated the debit, so the partner only learns to retry
		logrus.WithFields(logrus.Fields{
			"partner_id": a.PartnerID,
			"account_id": account.AccountID,
			"price":      lead.Price,
		}).Warn("accept blocked by insufficient credits")
		return nil, ErrAcceptRetry
	default:
		return nil, err
	}
}

// resolveAcceptConflict runs when the accept transition lost a race after the debit went
// through. If the winner was an identical accept the purchase is already attached; if the
// offer moved on the purchase is refunded.
func (l *Leadflow) resolveAcceptConflict(ctx context.Context, a *model.QueueAssignment, txn *model.CreditTransaction) (*model.QueueAssignment, error) {
	current, err := l.datasource.GetAssignment(ctx, a.AssignmentID)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case model.AssignmentAccepted:
		if current.TransactionID == txn.TransactionID {
			return current, nil
		}
	case model.AssignmentOffered:
		// only the lead row moved; the retry will reuse this purchase
		return nil, ErrConcurrentModification
	}

	if _, err := l.Refund(ctx, a.AssignmentID, model.TxnRefund); err != nil {
		logrus.WithError(err).WithField("assignment_id", a.AssignmentID).Error("failed to refund purchase of a lost accept")
		return nil, err
	}
	return nil, ErrStaleAssignment
}

// settled resolves a lost transition race: if the assignment already holds want the call
// is a repeat, anything else means the offer moved on.
func (l *Leadflow) settled(ctx context.Context, assignmentID, want string) (*model.QueueAssignment, error) {
	current, err := l.datasource.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if current.Status == want {
		return current, nil
	}
	if current.Status == model.AssignmentOffered {
		return nil, ErrConcurrentModification
	}
	return nil, ErrStaleAssignment
}

// advanceQuietly moves a lead on after a transition that already succeeded. Failures are
// only logged: the lead is WAITING and the requeue sweep will pick it up.
func (l *Leadflow) advanceQuietly(ctx context.Context, leadID string) {
	if _, err := l.Advance(ctx, leadID); err != nil {
		logrus.WithError(err).WithField("lead_id", leadID).Warn("advance failed, leaving lead for the requeue sweep")
	}
}

// Skip withdraws an open offer on behalf of an operator and moves the lead on.
func (l *Leadflow) Skip(ctx context.Context, assignmentID, note string) (*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Skip")
	defer span.End()

	a, err := l.datasource.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AssignmentSkipped {
		return a, nil
	}
	if a.Status != model.AssignmentOffered {
		return nil, ErrNotSkippable
	}
	lead, err := l.datasource.GetLead(ctx, a.LeadID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	next := *a
	next.Status = model.AssignmentSkipped
	next.RespondedAt = &now
	next.Note = note
	nextLead := cloneLead(lead)
	nextLead.Status = model.LeadWaiting
	if err := l.datasource.TransitionAssignment(ctx, &next, model.AssignmentOffered, nextLead); err != nil {
		if isConflict(err) {
			return l.settled(ctx, assignmentID, model.AssignmentSkipped)
		}
		return nil, err
	}

	l.notifier.Notify(ctx, EventLeadSkipped, &next)
	l.index(ctx, search.CollectionAssignments, next.AssignmentID, &next)
	l.refundOrphanPurchase(ctx, a)
	l.advanceQuietly(ctx, a.LeadID)
	return &next, nil
}

// RefundAssignment refunds an accepted lead and puts it back in circulation. The round
// is kept, so the refunded partner is not offered the same lead again.
func (l *Leadflow) RefundAssignment(ctx context.Context, assignmentID, txnType string) (*model.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "RefundAssignment")
	defer span.End()

	a, err := l.datasource.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AssignmentAccepted {
		if a.RefundedAt != nil {
			return l.findRefund(ctx, assignmentID)
		}
		return nil, ErrNotRefundable
	}

	txn, err := l.Refund(ctx, assignmentID, txnType)
	if err != nil {
		return nil, err
	}

	lead, err := l.datasource.GetLead(ctx, a.LeadID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	next := *a
	next.Status = model.AssignmentExpired
	next.RefundedAt = &now
	next.Note = fmt.Sprintf("refunded (%s)", txn.Type)
	nextLead := cloneLead(lead)
	nextLead.Status = model.LeadWaiting
	nextLead.AcceptedBy, nextLead.AcceptedAt = "", nil
	if err := l.datasource.TransitionAssignment(ctx, &next, model.AssignmentAccepted, nextLead); err != nil {
		if !isConflict(err) {
			return nil, err
		}
		current, gerr := l.datasource.GetAssignment(ctx, assignmentID)
		if gerr == nil && current.RefundedAt != nil {
			return txn, nil
		}
		return nil, ErrConcurrentModification
	}

	logrus.WithFields(logrus.Fields{
		"assignment_id":  assignmentID,
		"transaction_id": txn.TransactionID,
		"type":           txn.Type,
		"amount":         txn.Amount,
	}).Info("lead refunded")
	l.notifier.Notify(ctx, EventCreditRefunded, map[string]interface{}{
		"assignment":  &next,
		"transaction": txn,
	})
	l.index(ctx, search.CollectionAssignments, next.AssignmentID, &next)
	l.advanceQuietly(ctx, a.LeadID)
	return txn, nil
}

func (l *Leadflow) findRefund(ctx context.Context, reference string) (*model.CreditTransaction, error) {
	txn, err := l.findByReference(ctx, reference, model.TxnRefund)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrNothingToRefund
	}
	return txn, nil
}

// RefundReference refunds whatever purchase was recorded under reference. Purchases of
// leads are keyed by assignment id, and those also release the lead.
func (l *Leadflow) RefundReference(ctx context.Context, reference string) (*model.CreditTransaction, error) {
	_, err := l.datasource.GetAssignment(ctx, reference)
	switch {
	case err == nil:
		return l.RefundAssignment(ctx, reference, model.TxnRefund)
	case apierror.HasCode(err, apierror.ErrNotFound):
		return l.Refund(ctx, reference, model.TxnRefund)
	default:
		return nil, err
	}
}

// Reassign returns an exhausted lead from the holding pool to the queue. It starts a new
// round, so partners who passed on it before become candidates again.
func (l *Leadflow) Reassign(ctx context.Context, leadID string) (*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Reassign")
	defer span.End()

	lead, err := l.datasource.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Status != model.LeadExhausted {
		return nil, ErrLeadNotExhausted
	}

	next := cloneLead(lead)
	next.Status = model.LeadWaiting
	next.Round++
	if err := l.datasource.UpdateLead(ctx, next); err != nil {
		if isConflict(err) {
			return l.activeOffer(ctx, leadID)
		}
		return nil, err
	}

	l.notifier.Notify(ctx, EventLeadReassigned, next)
	return l.offerNext(ctx, next, nil)
}

func (l *Leadflow) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	return l.datasource.GetLead(ctx, leadID)
}

// ListLeads pages through leads in one status, oldest first.
func (l *Leadflow) ListLeads(ctx context.Context, status string, limit, offset int) ([]*model.Lead, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if err := validation.Validate(status, validation.Required, validation.In(leadStatuses...)); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("status: %v", err), nil)
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return l.datasource.GetLeadsByStatus(ctx, status, limit, offset)
}

// QueueStatus describes where a lead stands: its active offer and deadline, and the
// history of every offer made.
func (l *Leadflow) QueueStatus(ctx context.Context, leadID string) (*model.QueueStatus, error) {
	ctx, span := tracer.Start(ctx, "QueueStatus")
	defer span.End()

	lead, err := l.datasource.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	history, err := l.datasource.GetAssignmentsByLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	status := &model.QueueStatus{
		Lead:         lead,
		Attempt:      len(history),
		StatusCounts: make(map[string]int),
		History:      history,
	}
	for _, a := range history {
		status.StatusCounts[a.Status]++
		if a.Status == model.AssignmentOffered {
			status.Active = a
			deadline := a.ExpiresAt
			status.Deadline = &deadline
			status.Attempt = a.Attempt
			if remaining := a.ExpiresAt.Sub(l.now()); remaining > 0 {
				status.RemainingTime = remaining.Round(time.Second).String()
			}
		}
	}
	return status, nil
}

// PartnerStats summarises the outcomes of every offer a partner received.
func (l *Leadflow) PartnerStats(ctx context.Context, partnerID string) (*model.PartnerQueueStats, error) {
	return l.datasource.GetPartnerQueueStats(ctx, partnerID)
}
