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
)

// Filter selects documents by equality on dotted JSON paths, for example
// {"wallet_reference.confirmed": false}.
type Filter map[string]interface{}

// Tx is the view of the store inside one optimistic transaction. Reads taken
// through a Tx are validated at commit; writes are applied all together or not
// at all.
type Tx interface {
	// Get loads a document into dest and reports whether it exists.
	Get(collection, id string, dest interface{}) (bool, error)
	// Set creates or replaces a document.
	Set(collection, id string, doc interface{}) error
	// Create stores a new document and fails with CONFLICT when one exists.
	Create(collection, id string, doc interface{}) error
	Delete(collection, id string) error
}

// TxFunc is the body of a transaction. It may run several times and must not
// have side effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

// IDataSource is the document store the engine runs on.
type IDataSource interface {
	// RunTransaction runs fn atomically, re-running it when a concurrent write
	// invalidated what it read.
	RunTransaction(ctx context.Context, fn TxFunc) error
	Get(ctx context.Context, collection, id string, dest interface{}) (bool, error)
	// Query loads the documents matching filter into dest, a pointer to a slice.
	// A limit of zero returns every match.
	Query(ctx context.Context, collection string, filter Filter, limit int, dest interface{}) error
	Close() error
}
