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
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore keeps every collection in one JSONB table and runs
// transactions at SERIALIZABLE isolation.
type PostgresStore struct {
	Conn       *sql.DB
	maxRetries int
}

func NewPostgresStore(conn *sql.DB, maxRetries int) *PostgresStore {
	return &PostgresStore{Conn: conn, maxRetries: maxRetries}
}

// retryable Postgres error classes: serialization failure, deadlock and a
// unique violation from a concurrent insert of the same key.
var retryablePgCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"23505": true,
}

func isPostgresRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryablePgCodes[string(pqErr.Code)]
	}
	return false
}

func (s *PostgresStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return runWithRetry(ctx, s.maxRetries, isPostgresRetryable, func() error {
		sqlTx, err := s.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		if err := fn(ctx, &postgresTx{ctx: ctx, tx: sqlTx}); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		return sqlTx.Commit()
	})
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string, dest interface{}) (bool, error) {
	return getDocument(ctx, s.Conn, collection, id, dest)
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filter Filter, limit int, dest interface{}) error {
	contains, err := json.Marshal(containment(filter))
	if err != nil {
		return err
	}

	query := `SELECT data FROM settle.documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY id`
	args := []interface{}{collection, string(contains)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	var docs [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return err
		}
		docs = append(docs, data)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return decodeAll(docs, dest)
}

func (s *PostgresStore) Close() error {
	return s.Conn.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getDocument(ctx context.Context, q queryer, collection, id string, dest interface{}) (bool, error) {
	var data []byte
	err := q.QueryRowContext(ctx,
		`SELECT data FROM settle.documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return true, nil
}

type postgresTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *postgresTx) Get(collection, id string, dest interface{}) (bool, error) {
	return getDocument(t.ctx, t.tx, collection, id, dest)
}

func (t *postgresTx) Set(collection, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO settle.documents (collection, id, data, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, version = settle.documents.version + 1, updated_at = NOW()
	`, collection, id, data)
	return err
}

func (t *postgresTx) Create(collection, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	result, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO settle.documents (collection, id, data, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (collection, id) DO NOTHING
	`, collection, id, data)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return conflictError(collection, id)
	}
	return nil
}

func (t *postgresTx) Delete(collection, id string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM settle.documents WHERE collection = $1 AND id = $2`, collection, id)
	return err
}
