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
	LeadWaiting   = "WAITING"
	LeadOffered   = "OFFERED"
	LeadAccepted  = "ACCEPTED"
	LeadExhausted = "EXHAUSTED"
)

// Lead is a unit of demand waiting to be matched to a partner.
// Round increases every time an exhausted or refunded lead is put back into circulation;
// exclusions only consider assignments from the current round.
type Lead struct {
	ID         int64                  `json:"-"`
	LeadID     string                 `json:"lead_id"`
	Category   string                 `json:"category"`
	Region     string                 `json:"region"`
	BudgetMin  int64                  `json:"budget_min"`
	BudgetMax  int64                  `json:"budget_max"`
	Urgent     bool                   `json:"urgent"`
	Premium    bool                   `json:"premium"`
	Price      int64                  `json:"price"`
	CreatorID  string                 `json:"creator_id,omitempty"`
	Status     string                 `json:"status"`
	Round      int                    `json:"round"`
	AcceptedBy string                 `json:"accepted_by,omitempty"`
	AcceptedAt *time.Time             `json:"accepted_at,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Version    int64                  `json:"version"`
	MetaData   map[string]interface{} `json:"meta_data,omitempty"`
}

// IsTerminal reports whether the lead needs no further queue work until someone intervenes.
func (l *Lead) IsTerminal() bool {
	return l.Status == LeadAccepted || l.Status == LeadExhausted
}

// MarkProblematic flags a lead that ran out of partners after repeated refusals.
func (l *Lead) MarkProblematic(refusals int) {
	if l.MetaData == nil {
		l.MetaData = make(map[string]interface{})
	}
	l.MetaData["problematic"] = true
	l.MetaData["refusals"] = refusals
}

// IsProblematic reports whether MarkProblematic was applied in an earlier round.
func (l *Lead) IsProblematic() bool {
	v, ok := l.MetaData["problematic"].(bool)
	return ok && v
}

// LeadContext carries the lead attributes the scoring service is allowed to see.
// Every candidate for a lead is scored with the same context so scores stay comparable.
type LeadContext struct {
	LeadID   string    `json:"lead_id"`
	Category string    `json:"category"`
	Region   string    `json:"region"`
	Urgent   bool      `json:"urgent"`
	Premium  bool      `json:"premium"`
	Now      time.Time `json:"now"`
}

// Context builds the scoring context for the lead at the given instant.
func (l *Lead) Context(now time.Time) LeadContext {
	return LeadContext{
		LeadID:   l.LeadID,
		Category: l.Category,
		Region:   l.Region,
		Urgent:   l.Urgent,
		Premium:  l.Premium,
		Now:      now,
	}
}

// ContactEvent records that an accepted partner reached the client behind a lead.
type ContactEvent struct {
	EventID   string    `json:"event_id"`
	LeadID    string    `json:"lead_id"`
	PartnerID string    `json:"partner_id"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
}
