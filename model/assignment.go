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
	"time"
)

const (
	AssignmentOffered  = "OFFERED"
	AssignmentAccepted = "ACCEPTED"
	AssignmentDeclined = "DECLINED"
	AssignmentExpired  = "EXPIRED"
	AssignmentSkipped  = "SKIPPED"
)

// QueueAssignment is one offer of a lead to a partner. Rows are never deleted.
type QueueAssignment struct {
	ID            int64      `json:"-"`
	AssignmentID  string     `json:"assignment_id"`
	LeadID        string     `json:"lead_id"`
	PartnerID     string     `json:"partner_id"`
	Round         int        `json:"round"`
	Attempt       int        `json:"attempt"`
	Score         float64    `json:"score"`
	Tier          string     `json:"tier"`
	Status        string     `json:"status"`
	OfferedAt     time.Time  `json:"offered_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	RespondedAt   *time.Time `json:"responded_at,omitempty"`
	RemindedAt    *time.Time `json:"reminded_at,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Note          string     `json:"note,omitempty"`
	Version       int64      `json:"version"`
}

// IsTerminal reports whether the assignment has left OFFERED.
func (a *QueueAssignment) IsTerminal() bool {
	return a.Status != AssignmentOffered
}

// IsOverdue reports whether an open offer has run past its deadline.
func (a *QueueAssignment) IsOverdue(now time.Time) bool {
	return a.Status == AssignmentOffered && !now.Before(a.ExpiresAt)
}

// ReminderDue reports whether the given fraction of the response window has elapsed
// without a reminder having been sent.
func (a *QueueAssignment) ReminderDue(now time.Time, fraction float64) bool {
	if a.Status != AssignmentOffered || a.RemindedAt != nil {
		return false
	}
	window := a.ExpiresAt.Sub(a.OfferedAt)
	threshold := a.OfferedAt.Add(time.Duration(float64(window) * fraction))
	return !now.Before(threshold) && now.Before(a.ExpiresAt)
}

// QueueStatus is the read model returned for a lead's position in the queue.
type QueueStatus struct {
	Lead          *Lead              `json:"lead"`
	Active        *QueueAssignment   `json:"active_assignment,omitempty"`
	Deadline      *time.Time         `json:"deadline,omitempty"`
	Attempt       int                `json:"attempt"`
	StatusCounts  map[string]int     `json:"status_counts"`
	RemainingTime string             `json:"remaining_time,omitempty"`
	History       []*QueueAssignment `json:"history"`
}

// PartnerQueueStats summarises how a partner has handled the offers it received.
type PartnerQueueStats struct {
	PartnerID      string         `json:"partner_id"`
	TotalOffers    int            `json:"total_offers"`
	StatusCounts   map[string]int `json:"status_counts"`
	AcceptanceRate float64        `json:"acceptance_rate"`
}

// NewPartnerQueueStats derives totals and the acceptance rate from per-status counts.
// Open offers are left out of the rate because they have no outcome yet.
func NewPartnerQueueStats(partnerID string, counts map[string]int) *PartnerQueueStats {
	stats := &PartnerQueueStats{PartnerID: partnerID, StatusCounts: counts}
	for _, c := range counts {
		stats.TotalOffers += c
	}
	decided := stats.TotalOffers - counts[AssignmentOffered]
	if decided > 0 {
		stats.AcceptanceRate = float64(counts[AssignmentAccepted]) / float64(decided)
	}
	return stats
}
