package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"velu/internal/agent"
	"velu/internal/server"
	"velu/internal/task"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var name, payload string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single task and print its result",
		Long: `Run one task through the orchestrator: policy check, handler dispatch and a
state-log event. The result is printed as JSON. The exit status is 0 when the
result is ok, 1 when it is not and 2 when --payload is not valid JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body map[string]any
			if err := json.Unmarshal([]byte(payload), &body); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid JSON for --payload: %v\n", err)
				return &exitError{code: 2, err: err}
			}

			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.orch.Run(cmd.Context(), task.New(name, task.Payload(body)))
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&name, "task", "", "task name, e.g. plan")
	cmd.Flags().StringVar(&payload, "payload", "{}", `JSON payload, e.g. '{"idea":"hello"}'`)
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func newPipelineCmd(flags *globalFlags) *cobra.Command {
	var idea, module string
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run plan, codegen, execute, test and report under one job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.orch.RunPipeline(cmd.Context(), task.Payload{"idea": idea, "module": module})
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&idea, "idea", "demo", "project idea handed to the planner")
	cmd.Flags().StringVar(&module, "module", "hello_mod", "module name to generate")
	return cmd
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the orchestrator HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()
			if addr == "" {
				addr = a.cfg.Orchestrator.Addr
			}

			srv, err := server.New(a.orch, a.bus, a.registry, server.Config{
				Addr:          addr,
				MaxConcurrent: a.cfg.Orchestrator.MaxConcurrent,
			}, a.logger.Named("http"))
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http shutdown", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newOrderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print the pipeline step order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range agent.PipelineOrder() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// printResult writes res as indented JSON and turns ok=false into exit 1.
func printResult(w io.Writer, res task.Result) error {
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(raw)); err != nil {
		return err
	}
	if !res.OK() {
		return &exitError{code: 1}
	}
	return nil
}
