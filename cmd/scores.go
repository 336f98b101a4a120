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

	"github.com/spf13/cobra"
)

func scoreCommands(l *leadflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "manage partner score snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "recompute",
		Short: "write a fresh score snapshot for every active partner",
		Run: func(cmd *cobra.Command, args []string) {
			written, err := l.leadflow.RecomputePartnerScores(cmd.Context())
			if err != nil {
				log.Fatalf("Error recomputing scores after %d partners: %v", written, err)
			}
			fmt.Printf("Recomputed %d partner scores\n", written)
		},
	})

	return cmd
}
