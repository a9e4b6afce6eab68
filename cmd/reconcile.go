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
	"time"

	"github.com/spf13/cobra"
)

// reconcileCommands runs a single reconciliation pass, for cron driven
// deployments that do not run the workers loop.
func reconcileCommands(app *settleInstance) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "run one reconciliation pass",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			processor := newReconciliationProcessor(app)
			acted := processor.RunOnce(ctx)
			fmt.Printf("Reconciled %d orders\n", acted)
			if ctx.Err() != nil {
				log.Fatalf("reconciliation did not finish: %v", ctx.Err())
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the pass after this long")

	return cmd
}
