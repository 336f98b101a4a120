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
	"strings"

	"github.com/lib/pq"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
)

// EligiblePartners lists active partners serving both the category and the region.
// Matching is case-insensitive.
func (d Datasource) EligiblePartners(ctx context.Context, category, region string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Fetching eligible partners")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT partner_id
		FROM leadflow.partners
		WHERE active = TRUE AND $1 = ANY(categories) AND $2 = ANY(regions)
		ORDER BY partner_id
	`, strings.ToLower(category), strings.ToLower(region))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve eligible partners", err)
	}
	return scanPartnerIDs(rows)
}

func (d Datasource) ListActivePartnerIDs(ctx context.Context) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `SELECT partner_id FROM leadflow.partners WHERE active = TRUE ORDER BY partner_id`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve active partners", err)
	}
	return scanPartnerIDs(rows)
}

func scanPartnerIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan partner id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over partners", err)
	}
	return ids, nil
}

func (d Datasource) GetPartnerMetrics(ctx context.Context, partnerIDs []string) ([]model.PartnerMetrics, error) {
	ctx, span := tracer.Start(ctx, "Fetching partner metrics")
	defer span.End()

	metrics := []model.PartnerMetrics{}
	if len(partnerIDs) == 0 {
		return metrics, nil
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT partner_id, response_rate, completion_rate, rating_avg, rating_count, compliance, last_active_at, active
		FROM leadflow.partners
		WHERE partner_id = ANY($1)
	`, pq.Array(partnerIDs))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve partner metrics", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m model.PartnerMetrics
		var lastActive sql.NullTime
		if err := rows.Scan(&m.PartnerID, &m.ResponseRate, &m.CompletionRate, &m.RatingAvg, &m.RatingCount, &m.Compliance, &lastActive, &m.Active); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan partner metrics", err)
		}
		if lastActive.Valid {
			m.LastActiveAt = lastActive.Time
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over partner metrics", err)
	}
	return metrics, nil
}
