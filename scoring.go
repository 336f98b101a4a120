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
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/oriphiel-hr/leadflow/cache"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	scoreCachePrefix = "leadflow:score:"
	metricsChunkSize = 100
)

var hundred = decimal.NewFromInt(100)

func scoreCacheKey(partnerID string) string {
	return scoreCachePrefix + partnerID
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func percent(fraction float64) decimal.Decimal {
	return decimal.NewFromFloat(clampUnit(fraction)).Mul(hundred).Round(2)
}

// freshness decays from 100 by half every half-life since the partner was last active.
func freshness(lastActive, now time.Time, halfLifeHours float64) decimal.Decimal {
	if lastActive.IsZero() || halfLifeHours <= 0 {
		return decimal.Zero
	}
	hours := now.Sub(lastActive).Hours()
	if hours < 0 {
		hours = 0
	}
	return decimal.NewFromFloat(100 * math.Pow(0.5, hours/halfLifeHours)).Round(2)
}

// Tier maps a score onto the configured thresholds.
func Tier(score float64, cfg config.ScoringConfig) string {
	switch {
	case score >= cfg.TopTierThreshold:
		return model.TierTop
	case score >= cfg.MidTierThreshold:
		return model.TierMid
	default:
		return model.TierBase
	}
}

// Score computes a partner's composite score as the weighted mean of its normalized
// components. A partner without ratings gets a neutral rating of 50.
func Score(metrics model.PartnerMetrics, leadCtx model.LeadContext, cfg config.ScoringConfig) *model.PartnerScore {
	rating := decimal.NewFromInt(50)
	if metrics.RatingCount > 0 {
		rating = percent(metrics.RatingAvg / 5)
	}

	components := []struct {
		value  decimal.Decimal
		weight float64
	}{
		{percent(metrics.ResponseRate), cfg.ResponsivenessWeight},
		{percent(metrics.CompletionRate), cfg.CompletionWeight},
		{rating, cfg.RatingWeight},
		{percent(metrics.Compliance), cfg.ComplianceWeight},
		{freshness(metrics.LastActiveAt, leadCtx.Now, cfg.FreshnessHalfLifeHours), cfg.FreshnessWeight},
	}

	total, weights := decimal.Zero, decimal.Zero
	for _, c := range components {
		w := decimal.NewFromFloat(c.weight)
		total = total.Add(c.value.Mul(w))
		weights = weights.Add(w)
	}
	value := decimal.Zero
	if weights.IsPositive() {
		value = total.Div(weights).Round(2)
	}

	score, _ := value.Float64()
	f := func(d decimal.Decimal) float64 {
		v, _ := d.Float64()
		return v
	}
	return &model.PartnerScore{
		PartnerID: metrics.PartnerID,
		Score:     score,
		Tier:      Tier(score, cfg),
		Breakdown: model.ScoreBreakdown{
			Responsiveness: f(components[0].value),
			Completion:     f(components[1].value),
			Rating:         f(components[2].value),
			Compliance:     f(components[3].value),
			Freshness:      f(components[4].value),
		},
		ConfigVersion: cfg.Version,
		ComputedAt:    leadCtx.Now,
	}
}

// RankCandidates orders partners for a lead: score desc, tier desc, idle time desc, then
// partner id. Partners without a fresh snapshot rank last with a zero score but stay in
// the list.
func (l *Leadflow) RankCandidates(ctx context.Context, lead *model.Lead, partnerIDs []string) ([]model.RankedCandidate, error) {
	ctx, span := tracer.Start(ctx, "RankCandidates")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if len(partnerIDs) == 0 {
		return []model.RankedCandidate{}, nil
	}

	now := l.now()
	maxAge := time.Duration(cfg.Scoring.SnapshotMaxAgeMinutes) * time.Minute
	snapshots := l.loadSnapshots(ctx, partnerIDs)

	lastOffers, err := l.datasource.GetLastOfferTimes(ctx, partnerIDs)
	if err != nil {
		return nil, err
	}

	ranked := make([]model.RankedCandidate, 0, len(partnerIDs))
	for _, id := range partnerIDs {
		c := model.RankedCandidate{PartnerID: id, Tier: model.TierBase, Stale: true, IdleFor: time.Duration(math.MaxInt64)}
		if s, ok := snapshots[id]; ok && now.Sub(s.ComputedAt) <= maxAge {
			c.Score, c.Tier, c.Stale = s.Score, s.Tier, false
		}
		if last, ok := lastOffers[id]; ok {
			t := last
			c.LastOffered = &t
			c.IdleFor = now.Sub(last)
		}
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := model.TierRank(a.Tier), model.TierRank(b.Tier); ra != rb {
			return ra > rb
		}
		if a.IdleFor != b.IdleFor {
			return a.IdleFor > b.IdleFor
		}
		return a.PartnerID < b.PartnerID
	})

	logrus.WithFields(logrus.Fields{"lead_id": lead.LeadID, "candidates": len(ranked)}).Debug("ranked candidates")
	return ranked, nil
}

// loadSnapshots returns the latest snapshot per partner, reading the cache first. A
// failing score store only costs ranking quality, so errors are logged and the affected
// partners come back missing.
func (l *Leadflow) loadSnapshots(ctx context.Context, partnerIDs []string) map[string]*model.PartnerScore {
	result := make(map[string]*model.PartnerScore, len(partnerIDs))
	missing := make([]string, 0, len(partnerIDs))
	for _, id := range partnerIDs {
		if l.scores == nil {
			missing = append(missing, id)
			continue
		}
		var s model.PartnerScore
		err := l.scores.Get(ctx, scoreCacheKey(id), &s)
		if err == nil {
			result[id] = &s
			continue
		}
		if !errors.Is(err, cache.ErrMiss) {
			logrus.Warnf("score cache read for %s failed: %v", id, err)
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result
	}

	stored, err := l.datasource.GetLatestPartnerScores(ctx, missing)
	if err != nil {
		logrus.Errorf("error loading partner scores, ranking %d partners as stale: %v", len(missing), err)
		return result
	}
	for id, s := range stored {
		result[id] = s
		l.cacheScore(ctx, s)
	}
	return result
}

func (l *Leadflow) cacheScore(ctx context.Context, s *model.PartnerScore) {
	if l.scores == nil {
		return
	}
	cfg, err := config.Fetch()
	if err != nil {
		return
	}
	ttl := time.Duration(cfg.Scoring.SnapshotCacheTTLSeconds) * time.Second
	if err := l.scores.Set(ctx, scoreCacheKey(s.PartnerID), s, ttl); err != nil {
		logrus.Warnf("score cache write for %s failed: %v", s.PartnerID, err)
	}
}

// GetPartnerScore returns the current snapshot of a partner.
func (l *Leadflow) GetPartnerScore(ctx context.Context, partnerID string) (*model.PartnerScore, error) {
	snapshots := l.loadSnapshots(ctx, []string{partnerID})
	s, ok := snapshots[partnerID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("no score recorded for partner '%s'", partnerID), nil)
	}
	return s, nil
}

// RecomputePartnerScores writes a new snapshot for every active partner and refreshes the
// score cache. It returns the number of snapshots written.
func (l *Leadflow) RecomputePartnerScores(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "RecomputePartnerScores")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}
	ids, err := l.datasource.ListActivePartnerIDs(ctx)
	if err != nil {
		return 0, err
	}

	now := l.now()
	written := 0
	for start := 0; start < len(ids); start += metricsChunkSize {
		end := start + metricsChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		metrics, err := l.directory.PartnerMetrics(ctx, ids[start:end])
		if err != nil {
			return written, err
		}
		for _, m := range metrics {
			if !m.Active {
				continue
			}
			snapshot := Score(m, model.LeadContext{Now: now}, cfg.Scoring)
			if err := l.datasource.RecordPartnerScore(ctx, snapshot); err != nil {
				return written, err
			}
			l.cacheScore(ctx, snapshot)
			written++
		}
	}

	logrus.WithFields(logrus.Fields{"partners": written, "config_version": cfg.Scoring.Version}).Info("partner scores recomputed")
	return written, nil
}
