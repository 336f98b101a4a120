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
	"time"

	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
)

func (d Datasource) RecordContactEvent(ctx context.Context, event *model.ContactEvent) error {
	ctx, span := tracer.Start(ctx, "Saving contact event")
	defer span.End()

	if event.EventID == "" {
		event.EventID = model.GenerateUUIDWithSuffix("cev")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO leadflow.contact_events (event_id, lead_id, partner_id, channel, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.EventID, event.LeadID, event.PartnerID, event.Channel, event.CreatedAt)
	if err != nil {
		if pqErrorName(err) == "foreign_key_violation" {
			return apierror.NewAPIError(apierror.ErrNotFound, "Lead for contact event not found", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record contact event", err)
	}
	return nil
}

func (d Datasource) HasContactSince(ctx context.Context, leadID, partnerID string, since time.Time) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM leadflow.contact_events WHERE lead_id = $1 AND partner_id = $2 AND created_at >= $3
		)
	`, leadID, partnerID, since).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check contact events", err)
	}
	return exists, nil
}
