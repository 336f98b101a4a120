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
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
)

func (d Datasource) RecordPartnerScore(ctx context.Context, score *model.PartnerScore) error {
	ctx, span := tracer.Start(ctx, "Saving partner score snapshot")
	defer span.End()

	if score.ScoreID == "" {
		score.ScoreID = model.GenerateUUIDWithSuffix("psc")
	}
	if score.ComputedAt.IsZero() {
		score.ComputedAt = time.Now().UTC()
	}
	breakdownJSON, err := json.Marshal(score.Breakdown)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal score breakdown", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO leadflow.partner_scores (score_id, partner_id, score, tier, breakdown, config_version, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, score.ScoreID, score.PartnerID, score.Score, score.Tier, breakdownJSON, score.ConfigVersion, score.ComputedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record partner score", err)
	}
	return nil
}

// GetLatestPartnerScores returns the newest snapshot of every requested partner that has one.
func (d Datasource) GetLatestPartnerScores(ctx context.Context, partnerIDs []string) (map[string]*model.PartnerScore, error) {
	ctx, span := tracer.Start(ctx, "Fetching latest partner scores")
	defer span.End()

	scores := make(map[string]*model.PartnerScore, len(partnerIDs))
	if len(partnerIDs) == 0 {
		return scores, nil
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT DISTINCT ON (partner_id) score_id, partner_id, score, tier, breakdown, config_version, computed_at
		FROM leadflow.partner_scores
		WHERE partner_id = ANY($1)
		ORDER BY partner_id, computed_at DESC
	`, pq.Array(partnerIDs))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve partner scores", err)
	}
	defer rows.Close()

	for rows.Next() {
		score := &model.PartnerScore{}
		var breakdownJSON []byte
		if err := rows.Scan(&score.ScoreID, &score.PartnerID, &score.Score, &score.Tier, &breakdownJSON, &score.ConfigVersion, &score.ComputedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan partner score", err)
		}
		if err := json.Unmarshal(breakdownJSON, &score.Breakdown); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal score breakdown", err)
		}
		scores[score.PartnerID] = score
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over partner scores", err)
	}
	return scores, nil
}
