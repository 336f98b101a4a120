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
	"github.com/oriphiel-hr/leadflow/internal/apierror"
)

var (
	// ErrStaleAssignment is what a partner sees when answering an offer that has moved on.
	ErrStaleAssignment = apierror.NewAPIError(apierror.ErrStaleAssignment, "this offer is no longer active", nil)

	// ErrForbidden is returned when a partner answers an offer made to someone else.
	ErrForbidden = apierror.NewAPIError(apierror.ErrForbidden, "this offer was made to another partner", nil)

	ErrInvalidDecision = apierror.NewAPIError(apierror.ErrInvalidInput, "decision must be INTERESTED or NOT_INTERESTED", nil)

	// ErrInsufficientFunds is returned by Debit when the balance does not cover the amount.
	ErrInsufficientFunds = apierror.NewAPIError(apierror.ErrInsufficientFunds, "insufficient credits", nil)

	// ErrConcurrentModification is returned once version-conflict retries are exhausted.
	ErrConcurrentModification = apierror.NewAPIError(apierror.ErrConcurrentModification, "account was modified concurrently, retries exhausted", nil)

	// ErrAcceptRetry replaces funding failures on accept. The platform initiates the debit,
	// so the partner is told to retry rather than shown a funds error.
	ErrAcceptRetry = apierror.NewAPIError(apierror.ErrServiceUnavailable, "the offer could not be accepted right now, please retry", nil)

	// ErrDirectoryUnavailable blocks enqueue while eligibility cannot be established.
	ErrDirectoryUnavailable = apierror.NewAPIError(apierror.ErrServiceUnavailable, "partner directory unavailable", nil)

	ErrNothingToRefund = apierror.NewAPIError(apierror.ErrNotFound, "no purchase found for this reference", nil)

	ErrLeadNotExhausted = apierror.NewAPIError(apierror.ErrConflict, "only exhausted leads can be reassigned", nil)

	ErrNotRefundable = apierror.NewAPIError(apierror.ErrConflict, "only accepted assignments can be refunded", nil)

	ErrNotSkippable = apierror.NewAPIError(apierror.ErrConflict, "only open offers can be skipped", nil)

	ErrContactNotAllowed = apierror.NewAPIError(apierror.ErrConflict, "contact can only be recorded by the partner holding the lead", nil)
)
