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
	"fmt"
	"strings"

	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/sirupsen/logrus"
)

const contactEventsTable = "contact_events"

// RecordContact stores that the partner holding a lead reached its client. A contact
// inside the contact window stops the auto-refund of that acceptance.
func (l *Leadflow) RecordContact(ctx context.Context, leadID, partnerID, channel string) (*model.ContactEvent, error) {
	ctx, span := tracer.Start(ctx, "RecordContact")
	defer span.End()

	if strings.TrimSpace(partnerID) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "partner_id is required", nil)
	}
	lead, err := l.datasource.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Status != model.LeadAccepted || lead.AcceptedBy != partnerID {
		return nil, ErrContactNotAllowed
	}

	event := &model.ContactEvent{
		LeadID:    leadID,
		PartnerID: partnerID,
		Channel:   strings.TrimSpace(channel),
		CreatedAt: l.now(),
	}
	if event.Channel == "" {
		event.Channel = "unspecified"
	}
	if err := l.datasource.RecordContactEvent(ctx, event); err != nil {
		return nil, err
	}
	l.notifier.Notify(ctx, EventLeadContacted, event)
	return event, nil
}

// HandleNotification receives contact events inserted by other services through the
// Postgres LISTEN channel. The row is already stored; this only announces it.
func (l *Leadflow) HandleNotification(ctx context.Context, table string, data map[string]interface{}) error {
	if table != contactEventsTable {
		logrus.Debugf("ignoring notification for table %s", table)
		return nil
	}
	leadID, _ := data["lead_id"].(string)
	partnerID, _ := data["partner_id"].(string)
	if leadID == "" || partnerID == "" {
		return fmt.Errorf("contact event notification without lead_id or partner_id")
	}

	lead, err := l.datasource.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	entry := logrus.WithFields(logrus.Fields{"lead_id": leadID, "partner_id": partnerID})
	if lead.AcceptedBy != partnerID {
		entry.Warn("contact event from a partner that does not hold the lead")
		return nil
	}

	event := &model.ContactEvent{LeadID: leadID, PartnerID: partnerID}
	event.EventID, _ = data["event_id"].(string)
	event.Channel, _ = data["channel"].(string)
	entry.Info("contact event received")
	l.notifier.Notify(ctx, EventLeadContacted, event)
	return nil
}
