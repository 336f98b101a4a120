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

	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/sirupsen/logrus"
)

// candidatePool returns the partners the lead may be offered to next, best first.
// eligible is the directory answer when the caller already has it; nil fetches it.
//
// Filters run before ranking so that no score can override them: the creator never gets
// its own lead, nobody sees the same lead twice in a round, and partners at the fairness
// cap sit out. Premium leads only go to TOP tier partners.
func (l *Leadflow) candidatePool(ctx context.Context, lead *model.Lead, history []*model.QueueAssignment, eligible []string) ([]model.RankedCandidate, error) {
	ctx, span := tracer.Start(ctx, "candidatePool")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if eligible == nil {
		eligible, err = l.directory.EligiblePartners(ctx, lead.Category, lead.Region)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
		}
	}

	seen := make(map[string]bool, len(history))
	for _, a := range history {
		if a.Round == lead.Round {
			seen[a.PartnerID] = true
		}
	}

	since := l.now().Add(-cfg.Distribution.FairnessWindow())
	open := make([]string, 0, len(eligible))
	for _, id := range eligible {
		if id == lead.CreatorID || seen[id] {
			continue
		}
		recent, err := l.datasource.CountRecentOffers(ctx, id, since)
		if err != nil {
			return nil, err
		}
		if recent >= cfg.Distribution.FairnessCap {
			logrus.WithFields(logrus.Fields{"partner_id": id, "offers": recent}).Debug("partner at fairness cap")
			continue
		}
		open = append(open, id)
	}

	ranked, err := l.RankCandidates(ctx, lead, open)
	if err != nil {
		return nil, err
	}
	if !lead.Premium {
		return ranked, nil
	}
	top := ranked[:0]
	for _, c := range ranked {
		if c.Tier == model.TierTop {
			top = append(top, c)
		}
	}
	return top, nil
}
