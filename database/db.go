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
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/config"
	redis_db "github.com/soonaverse/settle/internal/redis-db"
)

var instance *PostgresStore
var once sync.Once

// NewDataSource opens the document store selected by store.driver.
func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	switch configuration.Store.Driver {
	case "redis":
		client, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client.Client(), configuration.Store.MaxTxRetries), nil
	case "", "postgres":
		return GetDBConnection(configuration)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", configuration.Store.Driver)
	}
}

// GetDBConnection returns the process wide Postgres store, opening it on first use.
func GetDBConnection(configuration *config.Configuration) (*PostgresStore, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = NewPostgresStore(con, configuration.Store.MaxTxRetries)
	})
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, errors.New("database connection was not established")
	}
	return instance, nil
}

// ConnectDB opens and pings a Postgres connection. The schema is managed by
// the migrate command.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		logrus.Errorf("database connection error: %v", err)
		return nil, err
	}
	return db, nil
}
