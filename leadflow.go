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
	"embed"
	"fmt"
	"time"

	"github.com/oriphiel-hr/leadflow/cache"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/database"
	"github.com/oriphiel-hr/leadflow/internal/directory"
	redis_db "github.com/oriphiel-hr/leadflow/internal/redis-db"
	"github.com/oriphiel-hr/leadflow/internal/search"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("leadflow.engine")

// recordError attaches err to the span and returns it unchanged.
func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	return err
}

// Leadflow ties the queue engine, scoring service and credit ledger to their storage
// and collaborators.
type Leadflow struct {
	datasource database.IDataSource
	directory  directory.Directory
	scores     cache.Cache
	queue      *Queue
	search     *search.TypesenseClient
	redis      redis.UniversalClient
	notifier   Notifier
	now        func() time.Time
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// Option customizes a Leadflow built with New.
type Option func(*Leadflow)

func WithDirectory(d directory.Directory) Option {
	return func(l *Leadflow) { l.directory = d }
}

func WithScoreCache(c cache.Cache) Option {
	return func(l *Leadflow) { l.scores = c }
}

func WithNotifier(n Notifier) Option {
	return func(l *Leadflow) { l.notifier = n }
}

func WithQueue(q *Queue) Option {
	return func(l *Leadflow) { l.queue = q }
}

func WithSearch(s *search.TypesenseClient) Option {
	return func(l *Leadflow) { l.search = s }
}

func WithRedis(r redis.UniversalClient) Option {
	return func(l *Leadflow) { l.redis = r }
}

// WithClock replaces the wall clock, mostly so tests can move time.
func WithClock(now func() time.Time) Option {
	return func(l *Leadflow) { l.now = now }
}

// New builds a Leadflow on db without dialing anything. Unset collaborators fall back to
// the partners table for the directory and to a logging notifier.
func New(db database.IDataSource, opts ...Option) *Leadflow {
	l := &Leadflow{
		datasource: db,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.directory == nil {
		l.directory = directory.NewStoreDirectory(db)
	}
	if l.notifier == nil {
		l.notifier = logNotifier{}
	}
	return l
}

// NewLeadflow wires the production collaborators from configuration: redis, the score
// cache, the asynq queues, Typesense and the partner directory.
func NewLeadflow(db database.IDataSource) (*Leadflow, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	queue, err := NewQueue(cfg)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithRedis(redisClient.Client()),
		WithScoreCache(cache.NewCacheWithClient(redisClient.Client(), time.Minute)),
		WithQueue(queue),
		WithNotifier(NewQueueNotifier(queue)),
	}
	if cfg.Directory.Url != "" {
		timeout := time.Duration(cfg.Directory.TimeoutSec) * time.Second
		opts = append(opts, WithDirectory(directory.NewHTTPDirectory(cfg.Directory.Url, cfg.Directory.ApiKey, timeout)))
	} else {
		logrus.Info("no directory url configured, using the partners table")
	}
	if cfg.TypeSense.Dns != "" {
		opts = append(opts, WithSearch(search.NewTypesenseClient(cfg.TypeSenseKey, []string{cfg.TypeSense.Dns})))
	}

	return New(db, opts...), nil
}

// Redis exposes the shared redis client, used by the scheduler for its leases.
func (l *Leadflow) Redis() redis.UniversalClient {
	return l.redis
}
