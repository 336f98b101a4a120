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
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/database/mocks"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	Event   string
	Payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingNotifier) Notify(_ context.Context, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Event: event, Payload: payload})
}

func (r *recordingNotifier) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	lf       *Leadflow
	ds       *mocks.MemoryDataSource
	notifier *recordingNotifier
	clock    *testClock
}

func newFixture(t *testing.T, mutate func(c *config.Configuration)) *fixture {
	t.Helper()
	config.MockDefaults(func(c *config.Configuration) {
		c.Ledger.RetryIntervalMs = 1
		c.Ledger.MaxRetryElapseMs = 500
		if mutate != nil {
			mutate(c)
		}
	})
	ds := mocks.NewMemoryDataSource()
	notifier := &recordingNotifier{}
	clock := newTestClock()
	lf := New(ds, WithNotifier(notifier), WithClock(clock.Now))
	return &fixture{lf: lf, ds: ds, notifier: notifier, clock: clock}
}

// addPartner registers an active plumbing partner in Zagreb with a fresh score snapshot.
func (f *fixture) addPartner(t *testing.T, id string, score float64) {
	t.Helper()
	cfg, err := config.Fetch()
	require.NoError(t, err)
	f.ds.AddPartner(model.PartnerMetrics{PartnerID: id, Active: true, LastActiveAt: f.clock.Now()},
		[]string{"plumbing"}, []string{"Zagreb"})
	require.NoError(t, f.ds.RecordPartnerScore(context.Background(), &model.PartnerScore{
		PartnerID:  id,
		Score:      score,
		Tier:       Tier(score, cfg.Scoring),
		ComputedAt: f.clock.Now(),
	}))
}

// fund opens an account for the partner and tops it up with amount credits.
func (f *fixture) fund(t *testing.T, partnerID string, amount int64) *model.CreditAccount {
	t.Helper()
	ctx := context.Background()
	account, err := f.lf.CreateAccount(ctx, partnerID)
	require.NoError(t, err)
	if amount > 0 {
		_, err = f.lf.TopUp(ctx, account.AccountID, amount, gofakeit.UUID())
		require.NoError(t, err)
	}
	account, err = f.lf.GetAccount(ctx, account.AccountID)
	require.NoError(t, err)
	return account
}

func (f *fixture) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	account, err := f.lf.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balance
}

func (f *fixture) requireConsistent(t *testing.T, accountID string) {
	t.Helper()
	audit, err := f.lf.VerifyAccount(context.Background(), accountID)
	require.NoError(t, err)
	require.True(t, audit.Consistent, "balance %d, ledger sum %d", audit.CachedBalance, audit.LedgerSum)
}

func newLead(price int64) *model.Lead {
	return &model.Lead{
		Category:  "plumbing",
		Region:    "Zagreb",
		BudgetMin: 100,
		BudgetMax: 500,
		Price:     price,
	}
}
