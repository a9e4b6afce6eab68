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
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/soonaverse/settle/internal/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

const selectDocument = `SELECT data FROM settle.documents WHERE collection = $1 AND id = $2`

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db, 3), mock
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectDocument)).
		WithArgs("counters", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"c1","value":3}`)))

	var c counter
	found, err := store.Get(context.Background(), "counters", "c1", &c)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, c.Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectDocument)).
		WithArgs("counters", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	var c counter
	found, err := store.Get(context.Background(), "counters", "missing", &c)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPostgresStore_RunTransactionCommits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDocument)).
		WithArgs("counters", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"c1","value":1}`)))
	mock.ExpectExec("INSERT INTO settle.documents").
		WithArgs("counters", "c1", []byte(`{"id":"c1","value":2}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		var c counter
		if _, err := tx.Get("counters", "c1", &c); err != nil {
			return err
		}
		c.Value++
		return tx.Set("counters", "c1", c)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunTransactionRetriesSerializationFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDocument)).
		WithArgs("counters", "c1").
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDocument)).
		WithArgs("counters", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"c1","value":1}`)))
	mock.ExpectExec("INSERT INTO settle.documents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	runs := 0
	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		runs++
		var c counter
		if _, err := tx.Get("counters", "c1", &c); err != nil {
			return err
		}
		c.Value++
		return tx.Set("counters", "c1", c)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunTransactionGivesUpAsConflict(t *testing.T) {
	store, mock := newMockStore(t)

	for i := 0; i < 4; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO settle.documents").
			WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
		mock.ExpectRollback()
	}

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.Set("counters", "c1", counter{ID: "c1"})
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("ON CONFLICT \\(collection, id\\) DO NOTHING").
		WithArgs("counters", "c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.Create("counters", "c1", counter{ID: "c1"})
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunTransactionStopsOnPlainError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	runs := 0
	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		runs++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Query(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM settle.documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY id LIMIT $3`)).
		WithArgs("counters", `{"value":2}`, 10).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"a","value":2}`)).
			AddRow([]byte(`{"id":"b","value":2}`)))

	var out []counter
	err := store.Query(context.Background(), "counters", Filter{"value": 2}, 10, &out)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
