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
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle"
	"github.com/soonaverse/settle/config"
	"github.com/soonaverse/settle/internal/lock"
	"github.com/spf13/cobra"
)

const reconciliationLeaseKey = "settle:reconciliation:lease"

func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.SpendQueue:       5,
		conf.Queue.StakeExpiryQueue: 2,
		conf.Queue.WebhookQueue:     3,
	}
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	opt, err := settle.RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      initializeQueues(conf),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logrus.WithFields(logrus.Fields{
				"task":    task.Type(),
				"retried": retried,
				"max":     maxRetry,
			}).Errorf("task failed: %v", err)
		}),
	}), nil
}

func initializeTaskHandlers(app *settleInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(settle.TypeSpend, app.engine.ProcessSpendTask)
	mux.HandleFunc(settle.TypeStakeExpiry, app.engine.ProcessStakeExpiryTask)
	mux.HandleFunc(settle.TypeWebhook, settle.ProcessWebhook)
}

func newReconciliationProcessor(app *settleInstance) *settle.ReconciliationProcessor {
	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%s", host, uuid.NewString())
	lease := lock.NewLease(app.redis.Client(), reconciliationLeaseKey, owner)
	return settle.NewReconciliationProcessor(app.engine, lease)
}

// workerCommands starts the queue workers and the periodic reconciliation loop.
func workerCommands(app *settleInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start settle workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeObservability(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			srv, err := initializeWorkerServer(app.cnf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			processor := newReconciliationProcessor(app)
			processor.Start(ctx)
			defer processor.Stop()

			if err := srv.Start(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
			<-ctx.Done()
			srv.Shutdown()
		},
	}

	return cmd
}
