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
	TierTop  = "TOP"
	TierMid  = "MID"
	TierBase = "BASE"
)

// TierRank orders tiers for tie-breaking; higher wins.
func TierRank(tier string) int {
	switch tier {
	case TierTop:
		return 3
	case TierMid:
		return 2
	case TierBase:
		return 1
	default:
		return 0
	}
}

// PartnerMetrics are the read-only inputs the scoring service works from.
// Rates and compliance are fractions in [0,1]; RatingAvg is on a 0–5 scale.
type PartnerMetrics struct {
	PartnerID      string    `json:"partner_id"`
	ResponseRate   float64   `json:"response_rate"`
	CompletionRate float64   `json:"completion_rate"`
	RatingAvg      float64   `json:"rating_avg"`
	RatingCount    int       `json:"rating_count"`
	Compliance     float64   `json:"compliance"`
	LastActiveAt   time.Time `json:"last_active_at"`
	Active         bool      `json:"active"`
}

// ScoreBreakdown holds each normalized component (0–100) that went into a score.
type ScoreBreakdown struct {
	Responsiveness float64 `json:"responsiveness"`
	Completion     float64 `json:"completion"`
	Rating         float64 `json:"rating"`
	Compliance     float64 `json:"compliance"`
	Freshness      float64 `json:"freshness"`
}

// PartnerScore is an immutable per-partner snapshot written by the scoring batch.
type PartnerScore struct {
	ID            int64          `json:"-"`
	ScoreID       string         `json:"score_id"`
	PartnerID     string         `json:"partner_id"`
	Score         float64        `json:"score"`
	Tier          string         `json:"tier"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
	ConfigVersion string         `json:"config_version"`
	ComputedAt    time.Time      `json:"computed_at"`
}

// RankedCandidate is a partner placed in a lead's candidate ordering.
type RankedCandidate struct {
	PartnerID   string        `json:"partner_id"`
	Score       float64       `json:"score"`
	Tier        string        `json:"tier"`
	Stale       bool          `json:"stale"`
	IdleFor     time.Duration `json:"idle_for"`
	LastOffered *time.Time    `json:"last_offered_at,omitempty"`
}
