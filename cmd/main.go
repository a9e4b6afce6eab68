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

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle"
	"github.com/soonaverse/settle/config"
	"github.com/soonaverse/settle/database"
	"github.com/soonaverse/settle/internal/cache"
	"github.com/soonaverse/settle/internal/notification"
	redis_db "github.com/soonaverse/settle/internal/redis-db"
	"github.com/soonaverse/settle/ledger"
	"github.com/spf13/cobra"
)

// Settle is the command line entry point.
type Settle struct {
	cmd *cobra.Command
}

// settleInstance holds what every command needs once config is loaded.
type settleInstance struct {
	engine *settle.Engine
	redis  *redis_db.Redis
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the engine before any command runs.
func preRun(app *settleInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config: ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		// migrate and config only need the configuration
		if cmd.Name() == "up" || cmd.Name() == "down" || cmd.Name() == "config" {
			app.cnf = cnf
			return nil
		}

		engine, rdb, err := setupEngine(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.engine = engine
		app.redis = rdb
		app.cnf = cnf
		return nil
	}
}

// setupEngine connects the store, the cache and the ledger gateway.
func setupEngine(cfg *config.Configuration) (*settle.Engine, *redis_db.Redis, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting datasource: %v", err)
	}

	rdb, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to redis: %v", err)
	}

	gateway, err := ledger.NewGateway(cfg.Ledger)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating ledger gateway: %v", err)
	}

	engine, err := settle.NewEngine(db, gateway, settle.WithCache(cache.NewCache(rdb.Client())))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating engine: %v", err)
	}
	return engine, rdb, nil
}

func NewCLI() *Settle {
	var configFile string
	app := &settleInstance{}

	rootCmd := &cobra.Command{
		Use:   "settle",
		Short: "Settlement and reconciliation engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./settle.json", "Configuration file for settle")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(reconcileCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Settle{cmd: rootCmd}
}

func (s Settle) executeCLI() {
	if err := s.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
