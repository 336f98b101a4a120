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
	"log"
	"os"
	"os/signal"
	"syscall"

	pg_listener "github.com/oriphiel-hr/leadflow/internal/pg-listener"
	"github.com/spf13/cobra"
)

// listenerCommands consumes the Postgres notifications raised when the CRM writes a
// contact event, so auto-refunds see contacts recorded outside the API.
func listenerCommands(l *leadflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "listen for contact events from postgres",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listener := pg_listener.NewDBListener(pg_listener.ListenerConfig{
				PgConnStr: l.cnf.DataSource.Dns,
				Channel:   l.cnf.ContactEvents.Channel,
			}, l.leadflow)

			if err := listener.Start(ctx); err != nil && ctx.Err() == nil {
				log.Fatalf("contact listener stopped: %v", err)
			}
		},
	}
	return cmd
}
