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
// Package directory looks up which partners may receive a lead and the metrics
// they are scored on. The partner registry itself lives outside this service.
package directory

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oriphiel-hr/leadflow/internal/request"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable marks every failure to reach the directory.
var ErrUnavailable = errors.New("partner directory unavailable")

// Directory is the read-only partner lookup the queue depends on.
type Directory interface {
	EligiblePartners(ctx context.Context, category, region string) ([]string, error)
	PartnerMetrics(ctx context.Context, partnerIDs []string) ([]model.PartnerMetrics, error)
}

type eligibleResponse struct {
	PartnerIDs []string `json:"partner_ids"`
}

type metricsRequest struct {
	PartnerIDs []string `json:"partner_ids"`
}

type metricsResponse struct {
	Metrics []model.PartnerMetrics `json:"metrics"`
}

// HTTPDirectory talks to the partner registry over JSON/HTTP.
type HTTPDirectory struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxElapsed time.Duration
}

func NewHTTPDirectory(baseURL, apiKey string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: 3 * timeout,
	}
}

func (d *HTTPDirectory) EligiblePartners(ctx context.Context, category, region string) ([]string, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("region", region)

	var out eligibleResponse
	err := d.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/partners/eligible?"+query.Encode(), nil)
	}, &out)
	if err != nil {
		return nil, errors.Wrapf(err, "eligible partners for %s/%s", category, region)
	}
	if out.PartnerIDs == nil {
		out.PartnerIDs = []string{}
	}
	return out.PartnerIDs, nil
}

func (d *HTTPDirectory) PartnerMetrics(ctx context.Context, partnerIDs []string) ([]model.PartnerMetrics, error) {
	if len(partnerIDs) == 0 {
		return []model.PartnerMetrics{}, nil
	}

	var out metricsResponse
	err := d.do(ctx, func() (*http.Request, error) {
		body, err := request.ToJsonReq(metricsRequest{PartnerIDs: partnerIDs})
		if err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/partners/metrics", body)
	}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "partner metrics")
	}
	return out.Metrics, nil
}

// do retries transport failures and 5xx answers with exponential backoff. A 4xx is
// returned immediately.
func (d *HTTPDirectory) do(ctx context.Context, build func() (*http.Request, error), out interface{}) error {
	operation := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		if d.apiKey != "" {
			req.Header.Set("X-Api-Key", d.apiKey)
		}
		_, err = request.CallWith(d.httpClient, req, out)
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = d.maxElapsed

	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logrus.WithError(err).WithField("retry_in", wait).Warn("partner directory call failed")
	})
	if err != nil {
		return errors.Wrap(ErrUnavailable, err.Error())
	}
	return nil
}
