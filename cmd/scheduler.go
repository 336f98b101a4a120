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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/oriphiel-hr/leadflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// schedulerCommands runs the SLA scheduler on its own, for deployments that start the
// API with --no-scheduler. Replicas should enable scheduler.use_lease.
func schedulerCommands(l *leadflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "run the SLA scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := leadflow.NewSLAScheduler(l.leadflow)
			scheduler.Start(ctx)
			<-ctx.Done()
			scheduler.Stop()
			logrus.Info("scheduler stopped")
		},
	}

	cmd.AddCommand(sweepCommand(l))
	return cmd
}

// sweepCommand runs one sweep and prints the scheduler health, e.g. from a cron job.
func sweepCommand(l *leadflowInstance) *cobra.Command {
	return &cobra.Command{
		Use:       "sweep [expiry|reminder|requeue|auto_refund|scores]",
		Short:     "run a single sweep now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{leadflow.SweepExpiry, leadflow.SweepReminder, leadflow.SweepRequeue, leadflow.SweepRefund, leadflow.SweepScores},
		Run: func(cmd *cobra.Command, args []string) {
			scheduler := leadflow.NewSLAScheduler(l.leadflow)
			processed, err := scheduler.RunSweep(cmd.Context(), args[0])
			if err != nil {
				log.Fatalf("sweep %s failed after %d rows: %v", args[0], processed, err)
			}

			data, err := json.MarshalIndent(scheduler.Health(), "", "    ")
			if err != nil {
				log.Fatalf("Error printing health: %v\n", err)
			}
			fmt.Printf("%s processed %d rows\n%s\n", args[0], processed, string(data))
		},
	}
}
