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
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/database"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/internal/search"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/sirupsen/logrus"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// CreateAccount opens the credit account of a partner with a zero balance.
func (l *Leadflow) CreateAccount(ctx context.Context, partnerID string) (*model.CreditAccount, error) {
	ctx, span := tracer.Start(ctx, "CreateAccount")
	defer span.End()

	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "partner_id is required", nil)
	}
	account := &model.CreditAccount{PartnerID: partnerID}
	if err := l.datasource.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (l *Leadflow) GetAccount(ctx context.Context, accountID string) (*model.CreditAccount, error) {
	return l.datasource.GetAccount(ctx, accountID)
}

func (l *Leadflow) GetAccountByPartner(ctx context.Context, partnerID string) (*model.CreditAccount, error) {
	return l.datasource.GetAccountByPartner(ctx, partnerID)
}

// Debit removes amount from the account. It fails with ErrInsufficientFunds when the
// balance does not cover the amount and retries version conflicts with backoff.
//
// Debits are not idempotent: callers must look the reference up before retrying one.
func (l *Leadflow) Debit(ctx context.Context, accountID string, amount int64, ref model.LedgerReference) (*model.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "Debit")
	defer span.End()

	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "debit amount must be positive", nil)
	}
	if ref.Reference == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "reference is required", nil)
	}
	return l.applyWithRetry(ctx, accountID, newLedgerTransaction(-amount, model.TxnPurchase, ref))
}

// Credit adds amount to the account. Crediting never fails on funds and is idempotent on
// (reference, type): a repeat returns the transaction recorded the first time.
func (l *Leadflow) Credit(ctx context.Context, accountID string, amount int64, ref model.LedgerReference, txnType string) (*model.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "Credit")
	defer span.End()

	if !model.IsCreditType(txnType) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("'%s' is not a credit type", txnType), nil)
	}
	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "credit amount must be positive", nil)
	}
	if ref.Reference == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "reference is required", nil)
	}

	if existing, err := l.findByReference(ctx, ref.Reference, txnType); err != nil || existing != nil {
		return existing, err
	}

	txn, err := l.applyWithRetry(ctx, accountID, newLedgerTransaction(amount, txnType, ref))
	if errors.Is(err, database.ErrDuplicateReference) {
		// a concurrent caller recorded it between the lookup and the write
		return l.findByReference(ctx, ref.Reference, txnType)
	}
	return txn, err
}

// Adjust applies a signed manual adjustment. Positive amounts go through Credit; negative
// ones are debited and therefore need funds.
func (l *Leadflow) Adjust(ctx context.Context, accountID string, amount int64, ref model.LedgerReference) (*model.CreditTransaction, error) {
	if amount >= 0 {
		return l.Credit(ctx, accountID, amount, ref, model.TxnManualAdjustment)
	}
	if ref.Reference == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "reference is required", nil)
	}
	if existing, err := l.findByReference(ctx, ref.Reference, model.TxnManualAdjustment); err != nil || existing != nil {
		return existing, err
	}
	return l.applyWithRetry(ctx, accountID, newLedgerTransaction(amount, model.TxnManualAdjustment, ref))
}

// TopUp credits settled gateway funds. The payment id is the reference, so a gateway
// delivering the same webhook twice credits once.
func (l *Leadflow) TopUp(ctx context.Context, accountID string, amount int64, paymentID string) (*model.CreditTransaction, error) {
	txn, err := l.Credit(ctx, accountID, amount, model.LedgerReference{
		Reference:   paymentID,
		Description: "payment settled",
	}, model.TxnTopUp)
	if err != nil {
		return nil, err
	}
	l.notifier.Notify(ctx, EventCreditToppedUp, txn)
	return txn, nil
}

// Refund reverses the purchase recorded under reference. A purchase is refunded at most once
// whichever refund type is used; later calls return the existing refund.
func (l *Leadflow) Refund(ctx context.Context, reference string, txnType string) (*model.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "Refund")
	defer span.End()

	if txnType == "" {
		txnType = model.TxnRefund
	}
	if txnType != model.TxnRefund && txnType != model.TxnAutoRefund {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("'%s' is not a refund type", txnType), nil)
	}

	purchase, err := l.datasource.GetTransactionByRef(ctx, reference, model.TxnPurchase)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, ErrNothingToRefund
		}
		return nil, err
	}

	return l.Credit(ctx, purchase.AccountID, -purchase.Amount, model.LedgerReference{
		Reference:    reference,
		LeadID:       purchase.LeadID,
		AssignmentID: purchase.AssignmentID,
		Description:  fmt.Sprintf("refund of %s", purchase.TransactionID),
	}, txnType)
}

// LedgerHistory pages through an account's transactions, newest first.
func (l *Leadflow) LedgerHistory(ctx context.Context, accountID string, filter model.LedgerFilter) (*model.LedgerPage, error) {
	ctx, span := tracer.Start(ctx, "LedgerHistory")
	defer span.End()

	if _, err := l.datasource.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "from must be before to", nil)
	}

	txns, total, err := l.datasource.GetTransactions(ctx, accountID, filter)
	if err != nil {
		return nil, err
	}
	return &model.LedgerPage{
		AccountID:    accountID,
		Transactions: txns,
		Total:        total,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	}, nil
}

// VerifyAccount recomputes the sum of an account's transactions and compares it with the
// cached balance.
func (l *Leadflow) VerifyAccount(ctx context.Context, accountID string) (*model.AccountAudit, error) {
	account, err := l.datasource.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sum, count, err := l.datasource.SumTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	audit := &model.AccountAudit{
		AccountID:      accountID,
		CachedBalance:  account.Balance,
		LedgerSum:      sum,
		Consistent:     sum == account.Balance,
		TransactionCnt: count,
	}
	if !audit.Consistent {
		logrus.WithFields(logrus.Fields{
			"account_id": accountID,
			"balance":    account.Balance,
			"ledger_sum": sum,
		}).Error("credit account balance does not match its transactions")
	}
	return audit, nil
}

func newLedgerTransaction(amount int64, txnType string, ref model.LedgerReference) model.CreditTransaction {
	return model.CreditTransaction{
		Amount:       amount,
		Type:         txnType,
		Reference:    ref.Reference,
		LeadID:       ref.LeadID,
		AssignmentID: ref.AssignmentID,
		Description:  ref.Description,
	}
}

// findByReference returns the transaction already recorded for (reference, type), or nil.
// Refund types share one slot per reference.
func (l *Leadflow) findByReference(ctx context.Context, reference, txnType string) (*model.CreditTransaction, error) {
	types := []string{txnType}
	if txnType == model.TxnRefund || txnType == model.TxnAutoRefund {
		types = model.RefundTypes
	}
	txn, err := l.datasource.GetTransactionByRef(ctx, reference, types...)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

// applyWithRetry reads the account, checks funds for negative amounts and applies the
// transaction under the version it read. Version conflicts are retried; everything else
// is permanent.
func (l *Leadflow) applyWithRetry(ctx context.Context, accountID string, template model.CreditTransaction) (*model.CreditTransaction, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	var applied *model.CreditTransaction
	attempts := 0
	operation := func() error {
		attempts++
		account, err := l.datasource.GetAccount(ctx, accountID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if template.Amount < 0 && account.Balance < -template.Amount {
			return backoff.Permanent(ErrInsufficientFunds)
		}

		txn := template
		if err := l.datasource.ApplyTransaction(ctx, account, &txn); err != nil {
			if errors.Is(err, database.ErrDuplicateReference) || !apierror.HasCode(err, apierror.ErrConflict) {
				return backoff.Permanent(err)
			}
			return err
		}
		applied = &txn
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(cfg.Ledger.RetryIntervalMs) * time.Millisecond
	policy.MaxElapsedTime = time.Duration(cfg.Ledger.MaxRetryElapseMs) * time.Millisecond
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(cfg.Ledger.MaxRetries)), ctx)

	err = backoff.RetryNotify(operation, retry, func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{
			"account_id": accountID,
			"attempt":    attempts,
			"wait":       wait,
		}).Debugf("retrying credit transaction: %v", err)
	})
	if err != nil {
		if apierror.HasCode(err, apierror.ErrConflict) && !errors.Is(err, database.ErrDuplicateReference) {
			return nil, ErrConcurrentModification
		}
		return nil, err
	}

	l.index(ctx, search.CollectionTransactions, applied.TransactionID, applied)
	return applied, nil
}
