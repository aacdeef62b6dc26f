// Package main implements the velu CLI: one-shot task runs, full pipelines
// and the HTTP server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

type globalFlags struct {
	configPath string
	workspace  string
	dbPath     string
	stateLog   string
}

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "velu",
		Short: "Velu orchestrator CLI",
		Long: `velu dispatches named tasks to the built-in agent handlers, drives the
plan → codegen → execute → test → report pipeline and serves both over HTTP.

Examples:
  # Run a single task
  velu run --task plan --payload '{"idea":"build api","module":"user_service"}'

  # Run the whole pipeline
  velu pipeline --idea demo --module hello_mod

  # Serve the HTTP API
  velu serve --addr 127.0.0.1:8080`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to velu.toml (default: ./velu.toml if present)")
	root.PersistentFlags().StringVar(&flags.workspace, "workspace", "", "workspace root override")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "sqlite job database override")
	root.PersistentFlags().StringVar(&flags.stateLog, "state-log", "", "orchestrator state log override")

	root.AddCommand(
		newRunCmd(flags),
		newPipelineCmd(flags),
		newServeCmd(flags),
		newOrderCmd(),
	)
	return root
}
