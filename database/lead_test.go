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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/oriphiel-hr/leadflow/internal/apierror"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var leadRowColumns = []string{"lead_id", "category", "region", "budget_min", "budget_max", "urgent", "premium", "price",
	"creator_id", "status", "round", "accepted_by", "accepted_at", "version", "meta_data", "created_at", "updated_at"}

func TestCreateLead_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	lead := &model.Lead{Category: "plumbing", Region: "Zagreb", Price: 15}

	mock.ExpectExec("INSERT INTO leadflow.leads").
		WithArgs(sqlmock.AnyArg(), "plumbing", "Zagreb", int64(0), int64(0), false, false, int64(15), "", model.LeadWaiting, 1, int64(0),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.CreateLead(context.Background(), lead)
	assert.NoError(t, err)
	assert.Contains(t, lead.LeadID, "led_")
	assert.Equal(t, model.LeadWaiting, lead.Status)
	assert.Equal(t, 1, lead.Round)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateLead_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("INSERT INTO leadflow.leads").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	err = ds.CreateLead(context.Background(), &model.Lead{LeadID: "led_1", Category: "plumbing", Region: "Zagreb", Price: 15})
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
}

func TestGetLead_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now()
	rows := sqlmock.NewRows(leadRowColumns).
		AddRow("led_1", "plumbing", "Zagreb", 100, 500, true, false, 15, "", "OFFERED", 1, "", nil, 3, []byte(`{"source":"web"}`), now, now)
	mock.ExpectQuery("SELECT (.+) FROM leadflow.leads WHERE lead_id = \\$1").WithArgs("led_1").WillReturnRows(rows)

	lead, err := ds.GetLead(context.Background(), "led_1")
	require.NoError(t, err)
	assert.Equal(t, "plumbing", lead.Category)
	assert.Equal(t, model.LeadOffered, lead.Status)
	assert.Equal(t, int64(3), lead.Version)
	assert.True(t, lead.Urgent)
	assert.Nil(t, lead.AcceptedAt)
	assert.Equal(t, "web", lead.MetaData["source"])
}

func TestGetLead_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM leadflow.leads").WithArgs("missing").WillReturnRows(sqlmock.NewRows(leadRowColumns))

	_, err = ds.GetLead(context.Background(), "missing")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestUpdateLead_OptimisticLockFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	lead := &model.Lead{LeadID: "led_1", Status: model.LeadWaiting, Round: 1, Version: 4}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leadflow.leads").
		WithArgs("led_1", model.LeadWaiting, 1, "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = ds.UpdateLead(context.Background(), lead)
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
	assert.Equal(t, int64(4), lead.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLead_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	lead := &model.Lead{LeadID: "led_1", Status: model.LeadExhausted, Round: 2, Version: 4}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leadflow.leads").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ds.UpdateLead(context.Background(), lead)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), lead.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
