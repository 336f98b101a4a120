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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/internal/request"
	"github.com/sirupsen/logrus"
)

// Events emitted to the notification channel.
const (
	EventLeadOffered     = "lead.offered"
	EventLeadAccepted    = "lead.accepted"
	EventLeadDeclined    = "lead.declined"
	EventLeadExpired     = "lead.expired"
	EventLeadSkipped     = "lead.skipped"
	EventLeadReminder    = "lead.reminder"
	EventLeadExhausted   = "lead.exhausted"
	EventLeadProblematic = "lead.problematic"
	EventLeadReassigned  = "lead.reassigned"
	EventLeadContacted   = "lead.contacted"
	EventCreditRefunded  = "credit.refunded"
	EventCreditToppedUp  = "credit.topped_up"
)

// Notifier delivers queue events to partners and operators. Delivery is best effort:
// implementations log their own failures and never report them to the caller.
type Notifier interface {
	Notify(ctx context.Context, event string, payload interface{})
}

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event      string      `json:"event"`
	Payload    interface{} `json:"data"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, event string, payload interface{}) {
	logrus.WithField("event", event).Debugf("notification: %+v", payload)
}

type queueNotifier struct {
	queue *Queue
}

// NewQueueNotifier sends every event through the webhook queue.
func NewQueueNotifier(queue *Queue) Notifier {
	return &queueNotifier{queue: queue}
}

func (n *queueNotifier) Notify(ctx context.Context, event string, payload interface{}) {
	hook := NewWebhook{Event: event, Payload: payload, OccurredAt: time.Now().UTC()}
	if err := n.queue.queueWebhook(context.WithoutCancel(ctx), hook); err != nil {
		logrus.Errorf("error queueing %s webhook: %v", event, err)
	}
}

// processHTTP sends a webhook notification via HTTP POST request.
func processHTTP(ctx context.Context, data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	_, err = request.Call(req, nil)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", data.Event, err)
	}
	logrus.Debugf("webhook notification sent: %s", data.Event)
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("error unmarshaling task payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logrus.Infof("Processing webhook: %s", payload.Event)
	return processHTTP(ctx, payload)
}
