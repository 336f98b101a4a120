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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
)

// ErrDuplicateReference is returned by ApplyTransaction when a row with the same
// (reference, type) already exists.
var ErrDuplicateReference = apierror.NewAPIError(apierror.ErrConflict, "a transaction with this reference and type already exists", nil)

const creditTransactionColumns = `transaction_id, account_id, amount, balance_before, balance_after, type, reference,
	COALESCE(lead_id, ''), COALESCE(assignment_id, ''), COALESCE(description, ''), meta_data, created_at`

func (d Datasource) CreateAccount(ctx context.Context, account *model.CreditAccount) error {
	ctx, span := tracer.Start(ctx, "Saving credit account to db")
	defer span.End()

	if account.AccountID == "" {
		account.AccountID = model.GenerateUUIDWithSuffix("acc")
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	account.Balance = 0
	account.Version = 0

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO leadflow.credit_accounts (account_id, partner_id, balance, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $4)
	`, account.AccountID, account.PartnerID, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if pqErrorName(err) == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Partner '%s' already has a credit account", account.PartnerID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create credit account", err)
	}
	return nil
}

func (d Datasource) getAccountBy(ctx context.Context, column, value string) (*model.CreditAccount, error) {
	account := &model.CreditAccount{}
	row := d.Conn.QueryRowContext(ctx, `
		SELECT account_id, partner_id, balance, version, created_at, updated_at
		FROM leadflow.credit_accounts
		WHERE `+column+` = $1
	`, value)
	err := row.Scan(&account.AccountID, &account.PartnerID, &account.Balance, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Credit account with %s '%s' not found", column, value), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credit account", err)
	}
	return account, nil
}

func (d Datasource) GetAccount(ctx context.Context, id string) (*model.CreditAccount, error) {
	ctx, span := tracer.Start(ctx, "Fetching credit account")
	defer span.End()
	return d.getAccountBy(ctx, "account_id", id)
}

func (d Datasource) GetAccountByPartner(ctx context.Context, partnerID string) (*model.CreditAccount, error) {
	ctx, span := tracer.Start(ctx, "Fetching credit account by partner")
	defer span.End()
	return d.getAccountBy(ctx, "partner_id", partnerID)
}

// ApplyTransaction appends txn to the ledger and moves the cached balance in the same
// transaction. The account row is guarded by the version the caller read, and the
// balance returned by the update must equal account.Balance + txn.Amount or nothing
// is persisted.
func (d Datasource) ApplyTransaction(ctx context.Context, account *model.CreditAccount, txn *model.CreditTransaction) error {
	ctx, span := tracer.Start(ctx, "Applying credit transaction")
	defer span.End()

	staged := *txn
	if staged.TransactionID == "" {
		staged.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	staged.AccountID = account.AccountID
	staged.BalanceBefore = account.Balance
	staged.BalanceAfter = account.Balance + staged.Amount
	staged.CreatedAt = time.Now().UTC()

	metaDataJSON, err := json.Marshal(staged.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var newBalance int64
		err := tx.QueryRowContext(ctx, `
			UPDATE leadflow.credit_accounts
			SET balance = balance + $2, version = version + 1, updated_at = $3
			WHERE account_id = $1 AND version = $4
			RETURNING balance
		`, account.AccountID, staged.Amount, staged.CreatedAt, account.Version).Scan(&newBalance)
		if err != nil {
			if err == sql.ErrNoRows {
				return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Optimistic locking failure: credit account with ID '%s' may have been updated by another transaction", account.AccountID), nil)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update credit account", err)
		}
		if newBalance != staged.BalanceAfter {
			return apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("balance mismatch on account '%s': expected %d, stored %d", account.AccountID, staged.BalanceAfter, newBalance), nil)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO leadflow.credit_transactions (transaction_id, account_id, amount, balance_before, balance_after, type,
				reference, lead_id, assignment_id, description, meta_data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)
		`, staged.TransactionID, staged.AccountID, staged.Amount, staged.BalanceBefore, staged.BalanceAfter, staged.Type,
			staged.Reference, staged.LeadID, staged.AssignmentID, staged.Description, metaDataJSON, staged.CreatedAt)
		if err != nil {
			if pqErrorName(err) == "unique_violation" {
				return ErrDuplicateReference
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record credit transaction", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	account.Balance = staged.BalanceAfter
	account.Version++
	account.UpdatedAt = staged.CreatedAt
	*txn = staged
	return nil
}

func scanCreditTransaction(row rowScanner) (*model.CreditTransaction, error) {
	txn := &model.CreditTransaction{}
	var metaDataJSON []byte
	err := row.Scan(&txn.TransactionID, &txn.AccountID, &txn.Amount, &txn.BalanceBefore, &txn.BalanceAfter, &txn.Type,
		&txn.Reference, &txn.LeadID, &txn.AssignmentID, &txn.Description, &metaDataJSON, &txn.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return txn, nil
}

// GetTransactionByRef returns the first transaction recorded for reference, optionally
// limited to the given types.
func (d Datasource) GetTransactionByRef(ctx context.Context, reference string, types ...string) (*model.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "Fetching credit transaction by reference")
	defer span.End()

	query := `SELECT ` + creditTransactionColumns + ` FROM leadflow.credit_transactions WHERE reference = $1`
	args := []interface{}{reference}
	if len(types) > 0 {
		query += ` AND type = ANY($2)`
		args = append(args, pq.Array(types))
	}
	query += ` ORDER BY created_at ASC LIMIT 1`

	txn, err := scanCreditTransaction(d.Conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with reference '%s' not found", reference), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func buildLedgerFilter(accountID string, filter model.LedgerFilter) (string, []interface{}) {
	conditions := []string{"account_id = $1"}
	args := []interface{}{accountID}

	if len(filter.Types) > 0 {
		args = append(args, pq.Array(filter.Types))
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return strings.Join(conditions, " AND "), args
}

// GetTransactions returns one page of an account's history, newest first, and the
// number of rows matching the filter.
func (d Datasource) GetTransactions(ctx context.Context, accountID string, filter model.LedgerFilter) ([]model.CreditTransaction, int64, error) {
	ctx, span := tracer.Start(ctx, "Fetching credit transactions")
	defer span.End()

	where, args := buildLedgerFilter(accountID, filter)

	var total int64
	err := d.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM leadflow.credit_transactions WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count transactions", err)
	}

	pageArgs := append(append([]interface{}{}, args...), filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM leadflow.credit_transactions WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		creditTransactionColumns, where, len(args)+1, len(args)+2)
	rows, err := d.Conn.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	transactions := []model.CreditTransaction{}
	for rows.Next() {
		txn, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction data", err)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transactions", err)
	}
	return transactions, total, nil
}

func (d Datasource) SumTransactions(ctx context.Context, accountID string) (int64, int64, error) {
	var sum, count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM leadflow.credit_transactions WHERE account_id = $1
	`, accountID).Scan(&sum, &count)
	if err != nil {
		return 0, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum transactions", err)
	}
	return sum, count, nil
}
