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
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
)

const leadColumns = `lead_id, category, region, budget_min, budget_max, urgent, premium, price,
	COALESCE(creator_id, ''), status, round, COALESCE(accepted_by, ''), accepted_at, version, meta_data, created_at, updated_at`

func (d Datasource) CreateLead(ctx context.Context, lead *model.Lead) error {
	ctx, span := tracer.Start(ctx, "Saving lead to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(lead.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	if lead.LeadID == "" {
		lead.LeadID = model.GenerateUUIDWithSuffix("led")
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	if lead.Status == "" {
		lead.Status = model.LeadWaiting
	}
	if lead.Round == 0 {
		lead.Round = 1
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO leadflow.leads (lead_id, category, region, budget_min, budget_max, urgent, premium, price,
			creator_id, status, round, version, meta_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, $14, $15)
	`, lead.LeadID, lead.Category, lead.Region, lead.BudgetMin, lead.BudgetMax, lead.Urgent, lead.Premium, lead.Price,
		lead.CreatorID, lead.Status, lead.Round, lead.Version, metaDataJSON, lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		if pqErrorName(err) == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Lead with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create lead", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row rowScanner) (*model.Lead, error) {
	lead := &model.Lead{}
	var acceptedAt sql.NullTime
	var metaDataJSON []byte
	err := row.Scan(&lead.LeadID, &lead.Category, &lead.Region, &lead.BudgetMin, &lead.BudgetMax, &lead.Urgent, &lead.Premium,
		&lead.Price, &lead.CreatorID, &lead.Status, &lead.Round, &lead.AcceptedBy, &acceptedAt, &lead.Version, &metaDataJSON,
		&lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return nil, err
	}
	lead.AcceptedAt = timePtr(acceptedAt)
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &lead.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return lead, nil
}

func (d Datasource) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	ctx, span := tracer.Start(ctx, "Fetching lead from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leadflow.leads WHERE lead_id = $1`, id)
	lead, err := scanLead(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Lead with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve lead", err)
	}
	return lead, nil
}

// UpdateLead writes the mutable lead fields guarded by the version the caller read.
// On success lead.Version is advanced to the stored value.
func (d Datasource) UpdateLead(ctx context.Context, lead *model.Lead) error {
	ctx, span := tracer.Start(ctx, "Updating lead")
	defer span.End()

	return d.withTx(ctx, func(tx *sql.Tx) error {
		return updateLead(ctx, tx, lead)
	})
}

func updateLead(ctx context.Context, tx *sql.Tx, lead *model.Lead) error {
	metaDataJSON, err := json.Marshal(lead.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	updatedAt := time.Now().UTC()

	result, err := tx.ExecContext(ctx, `
		UPDATE leadflow.leads
		SET status = $2, round = $3, accepted_by = NULLIF($4, ''), accepted_at = $5, meta_data = $6, updated_at = $7, version = version + 1
		WHERE lead_id = $1 AND version = $8
	`, lead.LeadID, lead.Status, lead.Round, lead.AcceptedBy, nullTime(lead.AcceptedAt), metaDataJSON, updatedAt, lead.Version)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update lead", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Optimistic locking failure: lead with ID '%s' may have been updated by another transaction", lead.LeadID), nil)
	}

	lead.Version++
	lead.UpdatedAt = updatedAt
	return nil
}

func (d Datasource) GetLeadsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.Lead, error) {
	ctx, span := tracer.Start(ctx, "Fetching leads by status")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+leadColumns+`
		FROM leadflow.leads
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve leads", err)
	}
	defer rows.Close()

	leads := []*model.Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan lead data", err)
		}
		leads = append(leads, lead)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over leads", err)
	}
	return leads, nil
}
