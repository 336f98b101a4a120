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
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oriphiel-hr/leadflow/cache"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/database"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoringDefaults(t *testing.T) config.ScoringConfig {
	t.Helper()
	cfg := config.MockDefaults(nil)
	return cfg.Scoring
}

func TestScore(t *testing.T) {
	cfg := scoringDefaults(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		metrics   model.PartnerMetrics
		wantScore float64
		wantTier  string
	}{
		{
			name: "perfect partner",
			metrics: model.PartnerMetrics{ResponseRate: 1, CompletionRate: 1, RatingAvg: 5, RatingCount: 12,
				Compliance: 1, LastActiveAt: now},
			wantScore: 100,
			wantTier:  model.TierTop,
		},
		{
			name: "mixed partner",
			metrics: model.PartnerMetrics{ResponseRate: 0.9, CompletionRate: 0.8, RatingAvg: 4, RatingCount: 3,
				Compliance: 1, LastActiveAt: now},
			wantScore: 87,
			wantTier:  model.TierTop,
		},
		{
			name:      "unrated and never active gets a neutral rating only",
			metrics:   model.PartnerMetrics{},
			wantScore: 12.5,
			wantTier:  model.TierBase,
		},
		{
			name: "freshness halves after one half-life",
			metrics: model.PartnerMetrics{ResponseRate: 0.7, CompletionRate: 0.7, RatingAvg: 3.5, RatingCount: 1,
				Compliance: 0.7, LastActiveAt: now.Add(-72 * time.Hour)},
			wantScore: 68,
			wantTier:  model.TierMid,
		},
		{
			name: "out of range rates are clamped",
			metrics: model.PartnerMetrics{ResponseRate: 1.7, CompletionRate: -0.3, RatingAvg: 9, RatingCount: 1,
				Compliance: 1, LastActiveAt: now.Add(time.Hour)},
			wantScore: 75,
			wantTier:  model.TierMid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Score(tt.metrics, model.LeadContext{Now: now}, cfg)
			assert.Equal(t, tt.wantScore, s.Score)
			assert.Equal(t, tt.wantTier, s.Tier)
			assert.Equal(t, cfg.Version, s.ConfigVersion)
			assert.Equal(t, now, s.ComputedAt)
		})
	}
}

func TestScoreBreakdown(t *testing.T) {
	cfg := scoringDefaults(t)
	now := time.Now().UTC()
	s := Score(model.PartnerMetrics{PartnerID: "p1", ResponseRate: 0.5, CompletionRate: 0.25, RatingAvg: 2.5, RatingCount: 4,
		Compliance: 0.1, LastActiveAt: now.Add(-144 * time.Hour)}, model.LeadContext{Now: now}, cfg)

	assert.Equal(t, "p1", s.PartnerID)
	assert.Equal(t, model.ScoreBreakdown{Responsiveness: 50, Completion: 25, Rating: 50, Compliance: 10, Freshness: 25}, s.Breakdown)
}

func TestScoreWeightsAreNormalized(t *testing.T) {
	cfg := scoringDefaults(t)
	doubled := cfg
	doubled.ResponsivenessWeight *= 2
	doubled.CompletionWeight *= 2
	doubled.RatingWeight *= 2
	doubled.ComplianceWeight *= 2
	doubled.FreshnessWeight *= 2

	now := time.Now().UTC()
	metrics := model.PartnerMetrics{ResponseRate: 0.63, CompletionRate: 0.41, RatingAvg: 3.9, RatingCount: 8,
		Compliance: 0.77, LastActiveAt: now.Add(-10 * time.Hour)}
	assert.Equal(t, Score(metrics, model.LeadContext{Now: now}, cfg).Score,
		Score(metrics, model.LeadContext{Now: now}, doubled).Score)

	zero := cfg
	zero.ResponsivenessWeight, zero.CompletionWeight, zero.RatingWeight, zero.ComplianceWeight, zero.FreshnessWeight = 0, 0, 0, 0, 0
	assert.Equal(t, 0.0, Score(metrics, model.LeadContext{Now: now}, zero).Score)
}

func TestTier(t *testing.T) {
	cfg := scoringDefaults(t)
	assert.Equal(t, model.TierTop, Tier(80, cfg))
	assert.Equal(t, model.TierMid, Tier(79.99, cfg))
	assert.Equal(t, model.TierMid, Tier(60, cfg))
	assert.Equal(t, model.TierBase, Tier(59.99, cfg))
}

func TestRankCandidatesOrdering(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()

	f.addPartner(t, "p_top", 90)
	f.addPartner(t, "p_busy", 70)
	f.addPartner(t, "p_idle", 70)
	f.addPartner(t, "p_tierless", 50)

	// same score, but written under an older config with a higher tier
	require.NoError(t, f.ds.RecordPartnerScore(ctx, &model.PartnerScore{PartnerID: "p_tiered", Score: 50, Tier: model.TierMid, ComputedAt: now}))
	// snapshot older than the max age
	require.NoError(t, f.ds.RecordPartnerScore(ctx, &model.PartnerScore{PartnerID: "p_stale", Score: 99, Tier: model.TierTop, ComputedAt: now.Add(-24 * time.Hour)}))

	other := newLead(5)
	require.NoError(t, f.ds.CreateLead(ctx, other))
	require.NoError(t, f.ds.CreateOffer(ctx, other, &model.QueueAssignment{
		PartnerID: "p_busy", OfferedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour),
	}, database.FairnessGuard{}))

	ranked, err := f.lf.RankCandidates(ctx, newLead(5), []string{"p_stale", "p_unknown", "p_tierless", "p_busy", "p_tiered", "p_idle", "p_top"})
	require.NoError(t, err)

	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.PartnerID
	}
	assert.Equal(t, []string{"p_top", "p_idle", "p_busy", "p_tiered", "p_tierless", "p_stale", "p_unknown"}, ids)

	assert.False(t, ranked[0].Stale)
	assert.Equal(t, time.Duration(math.MaxInt64), ranked[1].IdleFor)
	require.NotNil(t, ranked[2].LastOffered)
	assert.Equal(t, time.Hour, ranked[2].IdleFor)

	stale := ranked[5]
	assert.True(t, stale.Stale)
	assert.Equal(t, 0.0, stale.Score)
	assert.Equal(t, model.TierBase, stale.Tier)
}

func TestRankCandidatesEmpty(t *testing.T) {
	f := newFixture(t, nil)
	ranked, err := f.lf.RankCandidates(context.Background(), newLead(5), nil)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestRankCandidatesFillsScoreCache(t *testing.T) {
	f := newFixture(t, nil)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	scores := cache.NewCacheWithClient(client, time.Minute)
	f.lf = New(f.ds, WithNotifier(f.notifier), WithClock(f.clock.Now), WithScoreCache(scores))
	ctx := context.Background()

	f.addPartner(t, "p1", 85)

	_, err := f.lf.RankCandidates(ctx, newLead(5), []string{"p1"})
	require.NoError(t, err)
	assert.True(t, mr.Exists(scoreCacheKey("p1")))

	var cached model.PartnerScore
	require.NoError(t, scores.Get(ctx, scoreCacheKey("p1"), &cached))
	assert.Equal(t, 85.0, cached.Score)
	assert.Equal(t, model.TierTop, cached.Tier)

	// a cached snapshot wins over the store until it is refreshed
	require.NoError(t, scores.Set(ctx, scoreCacheKey("p1"), &model.PartnerScore{PartnerID: "p1", Score: 61, Tier: model.TierMid, ComputedAt: f.clock.Now()}, time.Minute))
	score, err := f.lf.GetPartnerScore(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 61.0, score.Score)
}

func TestRecomputePartnerScores(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()

	f.ds.AddPartner(model.PartnerMetrics{PartnerID: "p1", Active: true, ResponseRate: 1, CompletionRate: 1, RatingAvg: 5, RatingCount: 3,
		Compliance: 1, LastActiveAt: now}, []string{"plumbing"}, []string{"Zagreb"})
	f.ds.AddPartner(model.PartnerMetrics{PartnerID: "p2", Active: true}, []string{"plumbing"}, []string{"Zagreb"})
	f.ds.AddPartner(model.PartnerMetrics{PartnerID: "p3", Active: false, ResponseRate: 1}, []string{"plumbing"}, []string{"Zagreb"})

	written, err := f.lf.RecomputePartnerScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	p1, err := f.lf.GetPartnerScore(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p1.Score)
	assert.Equal(t, model.TierTop, p1.Tier)

	p2, err := f.lf.GetPartnerScore(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, model.TierBase, p2.Tier)

	_, err = f.lf.GetPartnerScore(ctx, "p3")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}
