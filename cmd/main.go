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

	"github.com/oriphiel-hr/leadflow"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/oriphiel-hr/leadflow/database"
	"github.com/oriphiel-hr/leadflow/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Leadflow represents the CLI application, encapsulating the root Cobra command.
type Leadflow struct {
	cmd *cobra.Command
}

// leadflowInstance holds the engine and its configuration for the subcommands.
type leadflowInstance struct {
	leadflow   *leadflow.Leadflow
	cnf        *config.Configuration
	configFile string
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the engine before any command runs.
func preRun(app *leadflowInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(app.configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newLeadflow, err := setupLeadflow(cnf)
		if err != nil {
			notification.NotifyError("startup", err)
			log.Fatal(err)
		}

		app.leadflow = newLeadflow
		app.cnf = cnf
		return nil
	}
}

// setupLeadflow connects the datasource and wires the engine's production collaborators.
func setupLeadflow(cfg *config.Configuration) (*leadflow.Leadflow, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newLeadflow, err := leadflow.NewLeadflow(db)
	if err != nil {
		return nil, fmt.Errorf("error creating leadflow: %v", err)
	}
	return newLeadflow, nil
}

// NewCLI creates the command-line interface with the server, workers, scheduler,
// contact listener, migration and config subcommands.
func NewCLI() *Leadflow {
	l := &leadflowInstance{}

	var rootCmd = &cobra.Command{
		Use:   "leadflow",
		Short: "Lead distribution engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&l.configFile, "config", "./leadflow.json", "Configuration file for leadflow")
	rootCmd.PersistentPreRunE = preRun(l)

	rootCmd.AddCommand(serverCommands(l))
	rootCmd.AddCommand(workerCommands(l))
	rootCmd.AddCommand(schedulerCommands(l))
	rootCmd.AddCommand(listenerCommands(l))
	rootCmd.AddCommand(scoreCommands(l))
	rootCmd.AddCommand(migrateCommands(l))
	rootCmd.AddCommand(configCommands())

	return &Leadflow{cmd: rootCmd}
}

// executeCLI runs the root command and exits non-zero on error.
func (w Leadflow) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
