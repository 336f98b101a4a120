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
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
)

// ErrFairnessCapReached is returned by CreateOffer when the partner already received
// Cap offers inside the guard window.
var ErrFairnessCapReached = apierror.NewAPIError(apierror.ErrConflict, "partner has reached its offer cap for the fairness window", nil)

// ErrOfferAlreadyOpen is returned by CreateOffer when the lead still has an OFFERED assignment.
var ErrOfferAlreadyOpen = apierror.NewAPIError(apierror.ErrConflict, "lead already has an open offer", nil)

const assignmentColumns = `assignment_id, lead_id, partner_id, round, attempt, score, tier, status, offered_at, expires_at,
	responded_at, reminded_at, refunded_at, COALESCE(transaction_id, ''), COALESCE(note, ''), version`

func scanAssignment(row rowScanner) (*model.QueueAssignment, error) {
	a := &model.QueueAssignment{}
	var respondedAt, remindedAt, refundedAt sql.NullTime
	err := row.Scan(&a.AssignmentID, &a.LeadID, &a.PartnerID, &a.Round, &a.Attempt, &a.Score, &a.Tier, &a.Status,
		&a.OfferedAt, &a.ExpiresAt, &respondedAt, &remindedAt, &refundedAt, &a.TransactionID, &a.Note, &a.Version)
	if err != nil {
		return nil, err
	}
	a.RespondedAt = timePtr(respondedAt)
	a.RemindedAt = timePtr(remindedAt)
	a.RefundedAt = timePtr(refundedAt)
	return a, nil
}

func scanAssignments(rows *sql.Rows) ([]*model.QueueAssignment, error) {
	defer rows.Close()
	assignments := []*model.QueueAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan assignment data", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over assignments", err)
	}
	return assignments, nil
}

// CreateOffer opens a new OFFERED assignment for the lead. Inside one transaction it
// moves the lead to OFFERED under its version, re-verifies that no other offer is open,
// re-counts the partner's offers under a per-partner advisory lock and inserts the row.
// The lead and offer are only updated in memory once the transaction commits.
func (d Datasource) CreateOffer(ctx context.Context, lead *model.Lead, offer *model.QueueAssignment, guard FairnessGuard) error {
	ctx, span := tracer.Start(ctx, "Creating queue offer")
	defer span.End()

	claimed := *lead
	claimed.Status = model.LeadOffered
	pending := *offer
	if pending.AssignmentID == "" {
		pending.AssignmentID = model.GenerateUUIDWithSuffix("asg")
	}
	pending.LeadID = lead.LeadID
	pending.Round = lead.Round
	pending.Status = model.AssignmentOffered

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateLead(ctx, tx, &claimed); err != nil {
			return err
		}

		var open int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM leadflow.queue_assignments WHERE lead_id = $1 AND status = 'OFFERED'
		`, lead.LeadID).Scan(&open)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to verify open offers", err)
		}
		if open > 0 {
			return ErrOfferAlreadyOpen
		}

		if guard.Cap > 0 {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pending.PartnerID); err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock partner for fairness check", err)
			}
			var recent int
			err = tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM leadflow.queue_assignments WHERE partner_id = $1 AND offered_at >= $2
			`, pending.PartnerID, guard.Since).Scan(&recent)
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count recent offers", err)
			}
			if recent >= guard.Cap {
				return ErrFairnessCapReached
			}
		}

		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(attempt), 0) + 1 FROM leadflow.queue_assignments WHERE lead_id = $1
		`, lead.LeadID).Scan(&pending.Attempt)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute attempt number", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO leadflow.queue_assignments (assignment_id, lead_id, partner_id, round, attempt, score, tier, status,
				offered_at, expires_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
		`, pending.AssignmentID, pending.LeadID, pending.PartnerID, pending.Round, pending.Attempt, pending.Score, pending.Tier,
			pending.Status, pending.OfferedAt, pending.ExpiresAt)
		if err != nil {
			if pqErrorName(err) == "unique_violation" {
				return ErrOfferAlreadyOpen
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create assignment", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	*lead = claimed
	*offer = pending
	return nil
}

func (d Datasource) GetAssignment(ctx context.Context, id string) (*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Fetching assignment from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM leadflow.queue_assignments WHERE assignment_id = $1`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Assignment with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve assignment", err)
	}
	return a, nil
}

func (d Datasource) GetAssignmentsByLead(ctx context.Context, leadID string) ([]*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Fetching assignments by lead")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM leadflow.queue_assignments
		WHERE lead_id = $1
		ORDER BY attempt ASC
	`, leadID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve assignments", err)
	}
	return scanAssignments(rows)
}

// TransitionAssignment moves an assignment out of state `from` and, when lead is not nil,
// writes the lead in the same transaction. Both writes are version guarded.
func (d Datasource) TransitionAssignment(ctx context.Context, a *model.QueueAssignment, from string, lead *model.Lead) error {
	ctx, span := tracer.Start(ctx, "Transitioning assignment")
	defer span.End()

	var staged model.Lead
	if lead != nil {
		staged = *lead
	}

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE leadflow.queue_assignments
			SET status = $2, responded_at = $3, refunded_at = $4, transaction_id = NULLIF($5, ''), note = NULLIF($6, ''), version = version + 1
			WHERE assignment_id = $1 AND status = $7 AND version = $8
		`, a.AssignmentID, a.Status, nullTime(a.RespondedAt), nullTime(a.RefundedAt), a.TransactionID, a.Note, from, a.Version)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update assignment", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
		}
		if rowsAffected == 0 {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Optimistic locking failure: assignment with ID '%s' is no longer %s", a.AssignmentID, from), nil)
		}

		if lead != nil {
			return updateLead(ctx, tx, &staged)
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.Version++
	if lead != nil {
		*lead = staged
	}
	return nil
}

func (d Datasource) MarkReminded(ctx context.Context, a *model.QueueAssignment, at time.Time) error {
	ctx, span := tracer.Start(ctx, "Marking assignment reminded")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE leadflow.queue_assignments
		SET reminded_at = $2, version = version + 1
		WHERE assignment_id = $1 AND version = $3 AND status = 'OFFERED' AND reminded_at IS NULL
	`, a.AssignmentID, at, a.Version)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark assignment reminded", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("assignment with ID '%s' was already reminded or closed", a.AssignmentID), nil)
	}
	a.Version++
	a.RemindedAt = &at
	return nil
}

func (d Datasource) GetExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Fetching expired offers")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM leadflow.queue_assignments
		WHERE status = 'OFFERED' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve expired offers", err)
	}
	return scanAssignments(rows)
}

func (d Datasource) GetReminderCandidates(ctx context.Context, now time.Time, fraction float64, limit int) ([]*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Fetching offers due a reminder")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM leadflow.queue_assignments
		WHERE status = 'OFFERED' AND reminded_at IS NULL AND expires_at > $1
		  AND offered_at + (expires_at - offered_at) * $2 <= $1
		ORDER BY expires_at ASC
		LIMIT $3
	`, now, fraction, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve reminder candidates", err)
	}
	return scanAssignments(rows)
}

// GetRefundableAcceptances lists unrefunded acceptances older than acceptedBefore with no
// contact event inside the contact window that followed the accept. A contact made after
// the window closed does not save the purchase.
func (d Datasource) GetRefundableAcceptances(ctx context.Context, acceptedBefore time.Time, contactWindow time.Duration, limit int) ([]*model.QueueAssignment, error) {
	ctx, span := tracer.Start(ctx, "Fetching refundable acceptances")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM leadflow.queue_assignments a
		WHERE a.status = 'ACCEPTED' AND a.refunded_at IS NULL AND a.responded_at <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM leadflow.contact_events c
			WHERE c.lead_id = a.lead_id AND c.partner_id = a.partner_id
			  AND c.created_at >= a.responded_at
			  AND c.created_at < a.responded_at + $2 * INTERVAL '1 second'
		  )
		ORDER BY a.responded_at ASC
		LIMIT $3
	`, acceptedBefore, contactWindow.Seconds(), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve refundable acceptances", err)
	}
	return scanAssignments(rows)
}

func (d Datasource) CountRecentOffers(ctx context.Context, partnerID string, since time.Time) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM leadflow.queue_assignments WHERE partner_id = $1 AND offered_at >= $2
	`, partnerID, since).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count recent offers", err)
	}
	return count, nil
}

func (d Datasource) GetLastOfferTimes(ctx context.Context, partnerIDs []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(partnerIDs))
	if len(partnerIDs) == 0 {
		return result, nil
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT partner_id, MAX(offered_at)
		FROM leadflow.queue_assignments
		WHERE partner_id = ANY($1)
		GROUP BY partner_id
	`, pq.Array(partnerIDs))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve last offer times", err)
	}
	defer rows.Close()

	for rows.Next() {
		var partnerID string
		var last time.Time
		if err := rows.Scan(&partnerID, &last); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan last offer time", err)
		}
		result[partnerID] = last
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over offer times", err)
	}
	return result, nil
}

func (d Datasource) GetPartnerQueueStats(ctx context.Context, partnerID string) (*model.PartnerQueueStats, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM leadflow.queue_assignments WHERE partner_id = $1 GROUP BY status
	`, partnerID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve partner stats", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan partner stats", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over partner stats", err)
	}
	return model.NewPartnerQueueStats(partnerID, counts), nil
}
