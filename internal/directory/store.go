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

package directory

import (
	"context"

	"github.com/oriphiel-hr/leadflow/model"
	"github.com/pkg/errors"
)

// partnerStore is the slice of the datasource that backs a local directory.
type partnerStore interface {
	EligiblePartners(ctx context.Context, category, region string) ([]string, error)
	GetPartnerMetrics(ctx context.Context, partnerIDs []string) ([]model.PartnerMetrics, error)
}

// StoreDirectory serves lookups from the partners table when no registry URL is configured.
type StoreDirectory struct {
	store partnerStore
}

func NewStoreDirectory(store partnerStore) *StoreDirectory {
	return &StoreDirectory{store: store}
}

func (s *StoreDirectory) EligiblePartners(ctx context.Context, category, region string) ([]string, error) {
	ids, err := s.store.EligiblePartners(ctx, category, region)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	return ids, nil
}

func (s *StoreDirectory) PartnerMetrics(ctx context.Context, partnerIDs []string) ([]model.PartnerMetrics, error) {
	metrics, err := s.store.GetPartnerMetrics(ctx, partnerIDs)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	return metrics, nil
}
