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

	"github.com/hibiken/asynq"
	"github.com/oriphiel-hr/leadflow/config"
	redis_db "github.com/oriphiel-hr/leadflow/internal/redis-db"
	"github.com/oriphiel-hr/leadflow/internal/search"
	"github.com/sirupsen/logrus"
)

// Queue represents a queue for handling background tasks: webhook delivery and search indexing.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// IndexPayload is the task body of a search indexing job.
type IndexPayload struct {
	Collection string                 `json:"collection"`
	Payload    map[string]interface{} `json:"payload"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	queueOptions, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %w", err)
	}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
	}, nil
}

// Close releases the asynq client and inspector connections.
func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		logrus.Error(err)
	}
	return q.Client.Close()
}

// queueIndexData enqueues a task to index data in a specified collection.
func (q *Queue) queueIndexData(ctx context.Context, id string, collection string, data map[string]interface{}) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.TypeSense.Dns == "" {
		return nil
	}

	payload, err := json.Marshal(IndexPayload{Collection: collection, Payload: data})
	if err != nil {
		return err
	}

	task := asynq.NewTask(cfg.Queue.IndexQueue, payload, asynq.Queue(cfg.Queue.IndexQueue))
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		logrus.Error(err, info)
		return err
	}
	logrus.Debugf(" [*] Successfully enqueued index data: %s", id)
	return nil
}

// queueWebhook enqueues an outbound event for delivery by the webhook worker.
func (q *Queue) queueWebhook(ctx context.Context, hook NewWebhook) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, asynq.Queue(cfg.Queue.WebhookQueue), asynq.MaxRetry(5))
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		logrus.Error(err, info)
		return err
	}
	return nil
}

// toDocument turns a model into the flat map the search indexer upserts.
func toDocument(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]interface{})
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// index queues a search document for the entity. Failures are logged; search is a read
// model and never blocks the queue.
func (l *Leadflow) index(ctx context.Context, collection, id string, v interface{}) {
	if l.queue == nil {
		return
	}
	doc, err := toDocument(v)
	if err != nil {
		logrus.Errorf("error building %s document %s: %v", collection, id, err)
		return
	}
	if err := l.queue.queueIndexData(ctx, id, collection, doc); err != nil {
		logrus.Errorf("error queueing %s document %s: %v", collection, id, err)
	}
}

// IndexHandler returns the asynq handler that writes queued documents into Typesense.
func IndexHandler(client *search.TypesenseClient) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload IndexPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			logrus.Errorf("error unmarshaling index task: %v", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if client == nil {
			logrus.Debugf("no search host configured, dropping %s document", payload.Collection)
			return nil
		}
		return client.HandleNotification(ctx, payload.Collection, payload.Payload)
	}
}
